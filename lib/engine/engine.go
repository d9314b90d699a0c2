// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bureau-foundation/depot/lib/clock"
	"github.com/bureau-foundation/depot/lib/config"
	"github.com/bureau-foundation/depot/lib/contentindex"
	"github.com/bureau-foundation/depot/lib/diskspace"
	"github.com/bureau-foundation/depot/lib/download"
	"github.com/bureau-foundation/depot/lib/loader"
	"github.com/bureau-foundation/depot/lib/update"
	"github.com/bureau-foundation/depot/lib/version"
)

// Options configures an Engine.
type Options struct {
	Config *config.Config

	// Downloader performs transfers. Nil builds an HTTP downloader
	// from the update settings.
	Downloader download.Downloader

	// NewResourceTask defaults to loader.NewFileResourceTask.
	NewResourceTask func() loader.ResourceTask

	// NewAssetTask defaults to loader.NewWholeResourceAssetTask.
	NewAssetTask func() loader.AssetTask

	// ReleaseResource is passed through to the loader.
	ReleaseResource func(path string, resource any)

	// AvailableSpace, if set, replaces the filesystem query used to
	// gate StartGroup on free space.
	AvailableSpace func(path string) (uint64, error)

	// Clock drives Run. Defaults to clock.Real().
	Clock clock.Clock

	Logger *slog.Logger
}

// Engine is the content delivery engine.
type Engine struct {
	store      *update.Store
	downloader download.Downloader
	preparer   *update.Preparer
	checker    *update.Checker
	updater    *update.Updater
	loader     *loader.Loader

	availableSpace func(path string) (uint64, error)
	clock          clock.Clock
	logger         *slog.Logger
}

// New builds an Engine. Nothing touches the disk or network until
// Prepare.
func New(options Options) (*Engine, error) {
	if options.Config == nil {
		return nil, errors.New("engine: config is required")
	}
	if options.Logger == nil {
		return nil, errors.New("engine: logger is required")
	}
	cfg := options.Config
	logger := options.Logger
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine: invalid config: %w", err)
	}

	store, err := update.NewStore(cfg.Paths)
	if err != nil {
		return nil, err
	}

	downloader := options.Downloader
	if downloader == nil {
		downloader, err = download.NewHTTP(download.HTTPOptions{
			Concurrency: max(cfg.Update.ConcurrentDownloads, 1),
			Timeout:     cfg.Update.DownloadTimeout,
			UserAgent:   version.UserAgent(),
			Logger:      logger.With("component", "download"),
		})
		if err != nil {
			return nil, err
		}
	}

	newResourceTask := options.NewResourceTask
	if newResourceTask == nil {
		newResourceTask = loader.NewFileResourceTask
	}
	newAssetTask := options.NewAssetTask
	if newAssetTask == nil {
		newAssetTask = loader.NewWholeResourceAssetTask
	}
	clk := options.Clock
	if clk == nil {
		clk = clock.Real()
	}

	engine := &Engine{
		store:          store,
		downloader:     downloader,
		preparer:       update.NewPreparer(store, logger.With("component", "preparer")),
		checker:        update.NewChecker(store, cfg.Update, downloader, logger.With("component", "checker")),
		updater:        update.NewUpdater(store, cfg.Update, downloader, logger.With("component", "updater")),
		availableSpace: options.AvailableSpace,
		clock:          clk,
		logger:         logger,
	}

	engine.loader, err = loader.New(loader.Options{
		Config:          cfg.Loader,
		Catalog:         &catalog{store: store, updater: engine.updater},
		NewResourceTask: newResourceTask,
		NewAssetTask:    newAssetTask,
		ReleaseResource: options.ReleaseResource,
		Logger:          logger.With("component", "loader"),
	})
	if err != nil {
		return nil, err
	}
	return engine, nil
}

func (e *Engine) Store() *update.Store     { return e.store }
func (e *Engine) Checker() *update.Checker { return e.checker }
func (e *Engine) Updater() *update.Updater { return e.updater }
func (e *Engine) Loader() *loader.Loader   { return e.loader }

// Prepare loads the installer and read-write indexes.
func (e *Engine) Prepare(callbacks update.PrepareCallbacks) error {
	return e.preparer.Run(callbacks)
}

// Check starts an update check.
func (e *Engine) Check(info update.RemoteIndexInfo, callbacks update.CheckCallbacks) error {
	return e.checker.Check(info, callbacks)
}

// StartGroup starts updating a group after confirming the read-write
// root has room for everything the group still needs.
func (e *Engine) StartGroup(groupID int, callbacks update.GroupCallbacks) error {
	if summary, ok := e.store.Summary(groupID); ok && summary.RemainingSize > 0 {
		if err := e.requireSpace(summary.RemainingSize); err != nil {
			return fmt.Errorf("starting group %d: %w", groupID, err)
		}
	}
	return e.updater.StartGroup(groupID, callbacks)
}

func (e *Engine) requireSpace(needed int64) error {
	root := e.store.ReadWriteRoot()
	if e.availableSpace == nil {
		return diskspace.Require(root, needed)
	}
	available, err := e.availableSpace(root)
	if err != nil {
		return err
	}
	if uint64(needed) > available {
		return fmt.Errorf("%w: %s needs %d bytes, %d available", diskspace.ErrInsufficient, root, needed, available)
	}
	return nil
}

// StopGroup stops a group update.
func (e *Engine) StopGroup(groupID int) bool {
	return e.updater.StopGroup(groupID)
}

// Update runs one tick: download callbacks, the update check, group
// progress, then the loader.
func (e *Engine) Update(elapsed time.Duration) {
	e.downloader.Update(elapsed)
	e.checker.Update(elapsed)
	e.updater.Update(elapsed)
	e.loader.Update(elapsed)
}

// Run ticks the engine every interval until ctx is done. Each tick is
// passed the time elapsed since the previous one.
func (e *Engine) Run(ctx context.Context, interval time.Duration) error {
	ticker := e.clock.NewTicker(interval)
	defer ticker.Stop()

	last := e.clock.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			e.Update(now.Sub(last))
			last = now
		}
	}
}

// catalog presents the content layout to the loader. The read-write
// index carries the layout adopted from the last update check; until
// a check has populated it, the installer layout applies.
type catalog struct {
	store   *update.Store
	updater *update.Updater
}

func (c *catalog) layout() *contentindex.Index {
	if readWrite := c.store.ReadWrite(); readWrite != nil && len(readWrite.Assets) > 0 {
		return readWrite
	}
	return c.store.Installer()
}

func (c *catalog) Asset(path string) (contentindex.AssetInfo, bool) {
	layout := c.layout()
	if layout == nil {
		return contentindex.AssetInfo{}, false
	}
	info, ok := layout.Assets[path]
	return info, ok
}

func (c *catalog) ResourceBasic(path string) (contentindex.ResourceBasicInfo, bool) {
	layout := c.layout()
	if layout == nil {
		return contentindex.ResourceBasicInfo{}, false
	}
	info, ok := layout.ResourceBasicInfos[path]
	return info, ok
}

func (c *catalog) ResourceDirectory(path string) string {
	return c.store.ResourceDirectory(path)
}

func (c *catalog) IsGroupUpToDate(groupID int) bool {
	return c.updater.IsUpToDate(groupID)
}
