// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"text/tabwriter"

	"github.com/bureau-foundation/depot/cmd/depot/cli"
	"github.com/bureau-foundation/depot/lib/engine"
	"github.com/bureau-foundation/depot/lib/update"
	"github.com/spf13/pflag"
)

func updateCommand(stdout io.Writer) *cli.Command {
	var flags engineFlags
	var groups []int

	return &cli.Command{
		Name:    "update",
		Summary: "Check for new content and download out-of-date groups",
		Description: `Check the remote catalog and download every out-of-date resource
group, the base group first. With --group, only the listed groups are
updated; the base group must already be up to date or be listed.`,
		Usage: "depot update --info <url|file> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("update", pflag.ContinueOnError)
			flags.register(flagSet, true)
			flagSet.IntSliceVar(&groups, "group", nil, "update only these group ids (repeatable)")
			return flagSet
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			info, err := fetchRemoteIndexInfo(ctx, flags.info)
			if err != nil {
				return err
			}
			eng, err := flags.prepareEngine(logger)
			if err != nil {
				return err
			}
			if err := check(ctx, eng, info, flags.interval, logger); err != nil {
				return err
			}

			session := &updateSession{engine: eng, logger: logger}
			session.queue = slices.Clone(groups)
			if len(session.queue) == 0 {
				session.queue = eng.Store().GroupIDs()
			}
			slices.Sort(session.queue)
			session.queue = slices.Compact(session.queue)

			if err := runUntilFinished(ctx, eng, flags.interval, session.next); err != nil {
				if session.current >= 0 {
					eng.StopGroup(session.current)
				}
				return err
			}

			if flags.json {
				return cli.WriteJSON(stdout, session.results)
			}
			writer := tabwriter.NewWriter(stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintln(writer, "GROUP\tRESULT\tDOWNLOADED")
			for _, result := range session.results {
				fmt.Fprintf(writer, "%d\t%s\t%d\n", result.ID, result.Result, result.DownloadedBytes)
			}
			return writer.Flush()
		},
	}
}

type groupResult struct {
	ID              int    `json:"id"`
	Result          string `json:"result"`
	DownloadedBytes int64  `json:"downloaded_bytes"`
}

// updateSession updates queued groups one at a time.
type updateSession struct {
	engine  *engine.Engine
	logger  *slog.Logger
	queue   []int
	current int
	results []groupResult
}

// next starts the first queued group that is out of date, or finishes
// the run when none is left.
func (s *updateSession) next(finish context.CancelCauseFunc) {
	s.current = -1
	for len(s.queue) > 0 {
		id := s.queue[0]
		s.queue = s.queue[1:]

		status, known := s.engine.Updater().GroupStatus(id)
		if !known {
			finish(fmt.Errorf("group %d: %w", id, update.ErrUnknownGroup))
			return
		}
		if status == update.GroupUpToDate {
			s.results = append(s.results, groupResult{ID: id, Result: "up_to_date"})
			continue
		}

		summary, _ := s.engine.Store().Summary(id)
		remaining := summary.RemainingSize
		err := s.engine.StartGroup(id, update.GroupCallbacks{
			OnResourceRetry: func(groupID int, path string, mirror, attempt int, err *update.TransferError) {
				s.logger.Warn("retrying resource download",
					"group", groupID,
					"path", path,
					"mirror", mirror,
					"attempt", attempt,
					"error", err,
				)
			},
			OnGroupProgress: func(groupID int, downloaded, total int64) {
				s.logger.Debug("group progress", "group", groupID, "downloaded", downloaded, "total", total)
			},
			OnGroupSuccess: func(groupID int) {
				s.logger.Info("group up to date", "group", groupID, "downloaded", remaining)
				s.results = append(s.results, groupResult{ID: groupID, Result: "updated", DownloadedBytes: remaining})
				s.next(finish)
			},
			OnGroupFailure: func(groupID int, err error) {
				s.current = -1
				finish(fmt.Errorf("group %d: %w", groupID, err))
			},
		})
		if err != nil {
			finish(err)
			return
		}
		s.current = id
		return
	}
	finish(errFinished)
}
