// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package update

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/bureau-foundation/depot/lib/contentindex"
)

// PrepareState is the lifecycle of a Preparer.
type PrepareState int

const (
	PrepareNone PrepareState = iota
	PrepareRunning
	PrepareSuccess
)

func (s PrepareState) String() string {
	switch s {
	case PrepareNone:
		return "none"
	case PrepareRunning:
		return "running"
	case PrepareSuccess:
		return "success"
	default:
		return fmt.Sprintf("PrepareState(%d)", int(s))
	}
}

// PrepareCallbacks observe the outcome of Preparer.Run. Both are
// optional: the outcome is also returned.
type PrepareCallbacks struct {
	OnSuccess func()
	OnFailure func(err error)
}

// Preparer loads the baseline index state into a Store. It runs once
// per process; a failed run may be retried.
type Preparer struct {
	store  *Store
	logger *slog.Logger
	state  PrepareState
}

// NewPreparer returns a Preparer that fills store.
func NewPreparer(store *Store, logger *slog.Logger) *Preparer {
	return &Preparer{store: store, logger: logger}
}

// State returns the current lifecycle state.
func (p *Preparer) State() PrepareState { return p.state }

// Run loads the installer index and the read-write index, if one has
// been persisted. A missing or unreadable installer index fails the
// preparation. A read-write index that cannot be decoded is discarded
// together with the whole read-write directory and replaced by an
// empty index.
func (p *Preparer) Run(callbacks PrepareCallbacks) error {
	if p.state != PrepareNone {
		return fmt.Errorf("%w (state %s)", ErrAlreadyPrepared, p.state)
	}
	p.state = PrepareRunning

	installer, readWrite, err := p.load()
	if err != nil {
		p.state = PrepareNone
		p.logger.Error("preparation failed", "error", err)
		if callbacks.OnFailure != nil {
			callbacks.OnFailure(err)
		}
		return err
	}

	p.store.installer = installer
	p.store.readWrite = readWrite
	p.state = PrepareSuccess
	p.logger.Info("content indexes prepared",
		"installer_resources", len(installer.Resources),
		"read_write_resources", len(readWrite.Resources),
	)
	if callbacks.OnSuccess != nil {
		callbacks.OnSuccess()
	}
	return nil
}

func (p *Preparer) load() (*contentindex.Index, *contentindex.Index, error) {
	installerPath := p.store.InstallerIndexPath()
	installer, err := contentindex.Load(installerPath, contentindex.VariantInstaller)
	if err != nil {
		return nil, nil, fmt.Errorf("loading installer index: %w", err)
	}
	if installer.Augmented == nil {
		return nil, nil, fmt.Errorf("installer index %s carries no platform or version metadata", installerPath)
	}

	readWritePath := p.store.ReadWriteIndexPath()
	data, err := os.ReadFile(readWritePath)
	if errors.Is(err, os.ErrNotExist) {
		return installer, contentindex.New(contentindex.VariantReadWrite), nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("reading read-write index: %w", err)
	}

	readWrite, err := contentindex.Decode(data, contentindex.VariantReadWrite)
	if err != nil {
		p.logger.Warn("discarding unreadable read-write index",
			"path", readWritePath,
			"error", err,
		)
		if removeErr := os.RemoveAll(p.store.readWriteRoot); removeErr != nil {
			return nil, nil, fmt.Errorf("wiping read-write directory after decode failure (%v): %w", err, removeErr)
		}
		return installer, contentindex.New(contentindex.VariantReadWrite), nil
	}
	return installer, readWrite, nil
}
