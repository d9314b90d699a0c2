// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package update

import (
	"errors"
	"path/filepath"

	"github.com/bureau-foundation/depot/lib/config"
	"github.com/bureau-foundation/depot/lib/contentindex"
)

const (
	// IndexFileName is the file name of the installer and read-write
	// indexes inside their roots.
	IndexFileName = "index.dat"

	// RemoteIndexFileName is the file name of the remote index, both
	// on mirrors and as the cached copy in the read-write root.
	RemoteIndexFileName = "index.remote"
)

// Store holds the index state shared by the Preparer, Checker,
// Updater, and (read-only) the loader. It is owned by the tick and
// is not safe for concurrent use.
type Store struct {
	installerRoot string
	readWriteRoot string

	installer *contentindex.Index
	readWrite *contentindex.Index
	remote    *contentindex.Index

	summaries map[int]*GroupSummary
	mirrors   []string
	checked   bool

	// updating holds the groups the Updater is downloading. A check
	// must not replace the indexes underneath them.
	updating map[int]*groupUpdate
}

// NewStore returns a Store over the configured roots. The installer
// root is required; a Store without one can never be prepared.
func NewStore(paths config.PathsConfig) (*Store, error) {
	if paths.Installer == "" {
		return nil, errors.New("update: installer root is required")
	}
	if paths.ReadWrite == "" {
		return nil, errors.New("update: read-write root is required")
	}
	return &Store{
		installerRoot: paths.Installer,
		readWriteRoot: paths.ReadWrite,
		summaries:     make(map[int]*GroupSummary),
		updating:      make(map[int]*groupUpdate),
	}, nil
}

// InstallerRoot returns the installer directory.
func (s *Store) InstallerRoot() string { return s.installerRoot }

// ReadWriteRoot returns the read-write directory.
func (s *Store) ReadWriteRoot() string { return s.readWriteRoot }

// InstallerIndexPath returns the location of the installer index.
func (s *Store) InstallerIndexPath() string {
	return filepath.Join(s.installerRoot, IndexFileName)
}

// ReadWriteIndexPath returns the location of the read-write index.
func (s *Store) ReadWriteIndexPath() string {
	return filepath.Join(s.readWriteRoot, IndexFileName)
}

// RemoteIndexCachePath returns the location of the cached remote
// index.
func (s *Store) RemoteIndexCachePath() string {
	return filepath.Join(s.readWriteRoot, RemoteIndexFileName)
}

// Prepared reports whether the installer and read-write indexes are
// loaded.
func (s *Store) Prepared() bool { return s.installer != nil && s.readWrite != nil }

// Checked reports whether an update check has produced summaries.
func (s *Store) Checked() bool { return s.checked }

// Installer returns the installer index, or nil before preparation.
func (s *Store) Installer() *contentindex.Index { return s.installer }

// ReadWrite returns the read-write index, or nil before preparation.
// Callers outside this package must treat it as read-only.
func (s *Store) ReadWrite() *contentindex.Index { return s.readWrite }

// Remote returns the remote index adopted by the last check. It is
// nil before a check and after a check with updates disabled.
func (s *Store) Remote() *contentindex.Index { return s.remote }

// Mirrors returns the mirror base URLs resolved by the last check.
func (s *Store) Mirrors() []string { return s.mirrors }

// Summary returns the summary of one group.
func (s *Store) Summary(groupID int) (*GroupSummary, bool) {
	summary, ok := s.summaries[groupID]
	return summary, ok
}

// GroupIDs returns the ids of every summarized group in ascending
// order.
func (s *Store) GroupIDs() []int {
	return sortedGroupIDs(s.summaries)
}

// ResourceFilePath returns where resourcePath lives under root.
func ResourceFilePath(root, resourcePath string) string {
	return filepath.Join(root, filepath.FromSlash(resourcePath))
}

// ResourceDirectory returns the root a resource should be loaded
// from: the read-write root when the read-write index records a
// downloaded copy, otherwise the installer root.
func (s *Store) ResourceDirectory(resourcePath string) string {
	if s.readWrite != nil {
		if _, ok := s.readWrite.Resources[resourcePath]; ok {
			return s.readWriteRoot
		}
	}
	return s.installerRoot
}

// SaveReadWrite persists the read-write index.
func (s *Store) SaveReadWrite() error {
	if s.readWrite == nil {
		return ErrNotPrepared
	}
	return contentindex.Save(s.ReadWriteIndexPath(), s.readWrite)
}
