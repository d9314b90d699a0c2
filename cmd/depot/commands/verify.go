// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/bureau-foundation/depot/cmd/depot/cli"
	"github.com/bureau-foundation/depot/lib/update"
	"github.com/spf13/pflag"
)

func verifyCommand(stdout io.Writer) *cli.Command {
	var flags engineFlags

	return &cli.Command{
		Name:    "verify",
		Summary: "Re-hash every downloaded resource against the read-write index",
		Description: `Check every resource recorded in the read-write index: the file must
exist and match the recorded size, CRC32, and content hash. Exits 1
after listing mismatches.`,
		Usage: "depot verify [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("verify", pflag.ContinueOnError)
			flags.register(flagSet, false)
			return flagSet
		},
		Run: func(_ context.Context, args []string, logger *slog.Logger) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			eng, err := flags.prepareEngine(logger)
			if err != nil {
				return err
			}
			store := eng.Store()
			mismatches, err := update.Verify(store.ReadWriteRoot(), store.ReadWrite())
			if err != nil {
				return err
			}
			logger.Info("verified read-write resources",
				"resources", len(store.ReadWrite().Resources),
				"mismatches", len(mismatches),
			)

			if flags.json {
				if err := cli.WriteJSON(stdout, mismatches); err != nil {
					return err
				}
			} else {
				for _, mismatch := range mismatches {
					fmt.Fprintf(stdout, "%s: %s\n", mismatch.Path, mismatch.Reason)
				}
			}
			if len(mismatches) > 0 {
				return &cli.ExitError{Code: 1}
			}
			return nil
		},
	}
}
