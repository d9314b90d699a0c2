// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"

	"github.com/bureau-foundation/depot/cmd/depot/cli"
	"github.com/spf13/pflag"
)

type statusView struct {
	InstallerVersion   string      `json:"installer_version"`
	InstallerResources int         `json:"installer_resources"`
	ReadWriteResources int         `json:"read_write_resources"`
	RemoteVersion      string      `json:"remote_version,omitempty"`
	Groups             []groupView `json:"groups,omitempty"`
}

func statusCommand(stdout io.Writer) *cli.Command {
	var flags engineFlags

	return &cli.Command{
		Name:    "status",
		Summary: "Show local content state and, with --info, what is out of date",
		Description: `Show the installer and read-write catalogs. With --info, run an
update check (downloading only the remote index) and list every
resource group with the bytes it still needs.`,
		Usage: "depot status [--info <url|file>] [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("status", pflag.ContinueOnError)
			flags.register(flagSet, true)
			return flagSet
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			eng, err := flags.prepareEngine(logger)
			if err != nil {
				return err
			}
			if flags.info != "" {
				info, err := fetchRemoteIndexInfo(ctx, flags.info)
				if err != nil {
					return err
				}
				if err := check(ctx, eng, info, flags.interval, logger); err != nil {
					return err
				}
			}

			store := eng.Store()
			view := statusView{
				InstallerVersion:   store.Installer().Augmented.VersionString(),
				InstallerResources: len(store.Installer().Resources),
				ReadWriteResources: len(store.ReadWrite().Resources),
			}
			if remote := store.Remote(); remote != nil && remote.Augmented != nil {
				view.RemoteVersion = remote.Augmented.VersionString()
			}
			if store.Checked() {
				view.Groups = groupViews(eng)
			}

			if flags.json {
				return cli.WriteJSON(stdout, view)
			}
			fmt.Fprintf(stdout, "installer:  %s (%d resources)\n", view.InstallerVersion, view.InstallerResources)
			fmt.Fprintf(stdout, "read-write: %d resources\n", view.ReadWriteResources)
			if view.RemoteVersion != "" {
				fmt.Fprintf(stdout, "remote:     %s\n", view.RemoteVersion)
			}
			if !store.Checked() {
				return nil
			}
			fmt.Fprintln(stdout)
			writer := tabwriter.NewWriter(stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintln(writer, "GROUP\tSTATUS\tTOTAL\tREMAINING\tPENDING")
			for _, group := range view.Groups {
				fmt.Fprintf(writer, "%d\t%s\t%d\t%d\t%d\n",
					group.ID, group.Status, group.TotalBytes, group.RemainingBytes, group.Pending)
			}
			return writer.Flush()
		},
	}
}
