// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/bureau-foundation/depot/lib/config"
	"github.com/bureau-foundation/depot/lib/engine"
	"github.com/bureau-foundation/depot/lib/update"
	"github.com/bureau-foundation/depot/lib/version"
	"github.com/spf13/pflag"
)

// defaultTickInterval is how often the CLI ticks the engine.
const defaultTickInterval = 20 * time.Millisecond

// errFinished cancels the run loop once a command has what it needs.
var errFinished = errors.New("finished")

// engineFlags are shared by every command that drives the engine.
type engineFlags struct {
	configPath string
	info       string
	interval   time.Duration
	json       bool
}

func (f *engineFlags) register(flagSet *pflag.FlagSet, withInfo bool) {
	flagSet.StringVar(&f.configPath, "config", "", "path to the engine config (default: $DEPOT_CONFIG)")
	if withInfo {
		flagSet.StringVar(&f.info, "info", "", "URL or file of the remote index description (JSON)")
		flagSet.DurationVar(&f.interval, "tick", defaultTickInterval, "engine tick interval")
	}
	flagSet.BoolVar(&f.json, "json", false, "output as JSON")
}

func (f *engineFlags) loadConfig() (*config.Config, error) {
	if f.configPath == "" {
		return config.Load()
	}
	return config.LoadFile(f.configPath)
}

// prepareEngine loads the configuration, builds an engine, and runs
// the preparation step.
func (f *engineFlags) prepareEngine(logger *slog.Logger) (*engine.Engine, error) {
	cfg, err := f.loadConfig()
	if err != nil {
		return nil, err
	}
	eng, err := engine.New(engine.Options{Config: cfg, Logger: logger})
	if err != nil {
		return nil, err
	}
	if err := eng.Prepare(update.PrepareCallbacks{}); err != nil {
		return nil, err
	}
	return eng, nil
}

// fetchRemoteIndexInfo reads the remote index description from an
// http(s) URL or a local file.
func fetchRemoteIndexInfo(ctx context.Context, source string) (update.RemoteIndexInfo, error) {
	var info update.RemoteIndexInfo
	if source == "" {
		return info, errors.New("--info is required")
	}

	var data []byte
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		request, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
		if err != nil {
			return info, err
		}
		request.Header.Set("User-Agent", version.UserAgent())
		response, err := http.DefaultClient.Do(request)
		if err != nil {
			return info, fmt.Errorf("fetching %s: %w", source, err)
		}
		defer response.Body.Close()
		if response.StatusCode != http.StatusOK {
			return info, fmt.Errorf("fetching %s: HTTP %d", source, response.StatusCode)
		}
		data, err = io.ReadAll(io.LimitReader(response.Body, 1<<20))
		if err != nil {
			return info, fmt.Errorf("reading %s: %w", source, err)
		}
	} else {
		var err error
		data, err = os.ReadFile(source)
		if err != nil {
			return info, err
		}
	}

	if err := json.Unmarshal(data, &info); err != nil {
		return info, fmt.Errorf("parsing remote index description from %s: %w", source, err)
	}
	if info.ZipLength <= 0 || info.Length <= 0 {
		return info, fmt.Errorf("remote index description from %s has no lengths", source)
	}
	return info, nil
}

// runUntilFinished calls start, then ticks eng until start or one of
// the callbacks it registered calls finish. Everything runs on the
// calling goroutine. Returns nil when finish was given errFinished.
func runUntilFinished(ctx context.Context, eng *engine.Engine, interval time.Duration, start func(finish context.CancelCauseFunc)) error {
	runCtx, finish := context.WithCancelCause(ctx)
	defer finish(nil)

	start(finish)
	if err := eng.Run(runCtx, interval); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	cause := context.Cause(runCtx)
	if errors.Is(cause, errFinished) {
		return nil
	}
	return cause
}

// check runs an update check and ticks until it completes.
func check(ctx context.Context, eng *engine.Engine, info update.RemoteIndexInfo, interval time.Duration, logger *slog.Logger) error {
	return runUntilFinished(ctx, eng, interval, func(finish context.CancelCauseFunc) {
		err := eng.Check(info, update.CheckCallbacks{
			OnSuccess: func() { finish(errFinished) },
			OnFailure: func(err error) { finish(fmt.Errorf("update check: %w", err)) },
			OnRetry: func(mirror, attempt int, err *update.TransferError) {
				logger.Warn("retrying remote index download",
					"mirror", mirror,
					"attempt", attempt,
					"error", err,
				)
			},
		})
		if err != nil {
			finish(err)
		}
	})
}

// groupView is one row of group output.
type groupView struct {
	ID             int    `json:"id"`
	Status         string `json:"status"`
	TotalBytes     int64  `json:"total_bytes"`
	RemainingBytes int64  `json:"remaining_bytes"`
	Pending        int    `json:"pending_resources"`
}

func groupViews(eng *engine.Engine) []groupView {
	var views []groupView
	for _, id := range eng.Store().GroupIDs() {
		summary, _ := eng.Store().Summary(id)
		status, _ := eng.Updater().GroupStatus(id)
		views = append(views, groupView{
			ID:             id,
			Status:         status.String(),
			TotalBytes:     summary.TotalSize,
			RemainingBytes: summary.RemainingSize,
			Pending:        len(summary.Pending),
		})
	}
	return views
}
