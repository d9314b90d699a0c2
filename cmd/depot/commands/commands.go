// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the complete depot CLI command tree.
package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/bureau-foundation/depot/cmd/depot/cli"
	"github.com/bureau-foundation/depot/lib/version"
)

// Root builds and returns the complete depot CLI command tree, writing
// command output to stdout.
func Root() *cli.Command {
	return newRoot(os.Stdout)
}

func newRoot(stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name: "depot",
		Description: `depot: client-side content delivery engine.

Checks a remote content catalog against the installed one, downloads
the resources that changed group by group, and verifies what is on
disk. The engine configuration comes from --config or DEPOT_CONFIG.`,
		Subcommands: []*cli.Command{
			updateCommand(stdout),
			statusCommand(stdout),
			verifyCommand(stdout),
			indexCommand(stdout),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(context.Context, []string, *slog.Logger) error {
					_, err := fmt.Fprintf(stdout, "depot %s\n", version.Full())
					return err
				},
			},
		},
		Examples: []cli.Example{
			{
				Description: "Download every out-of-date group",
				Command:     "depot update --config depot.yaml --info https://version.example/content.json",
			},
			{
				Description: "Show what an update would download",
				Command:     "depot status --config depot.yaml --info ./content.json",
			},
			{
				Description: "Re-hash every downloaded resource",
				Command:     "depot verify --config depot.yaml",
			},
			{
				Description: "Build a remote catalog from a build output directory",
				Command:     "depot index pack --manifest layout.yaml --root build/ --variant remote --platform linux --bundle-version 1.4 --asset-version 9 --out index.remote",
			},
		},
	}
}
