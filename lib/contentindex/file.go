// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package contentindex

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Load reads and decodes the index file at path. Decoding failures
// are returned as a *FormatError carrying the path.
func Load(path string, variant Variant) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	idx, err := Decode(data, variant)
	if err != nil {
		var formatErr *FormatError
		if errors.As(err, &formatErr) {
			formatErr.Path = path
		}
		return nil, err
	}
	return idx, nil
}

// Save encodes idx and writes it to path atomically: the bytes go to
// a temporary file in the same directory, which is fsynced and then
// renamed into place. Readers never observe a partial index. The
// parent directory is created if needed.
func Save(path string, idx *Index) error {
	data, err := Encode(idx)
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, data)
}

// WriteFileAtomic writes data to path via a temporary file, fsync,
// and rename.
func WriteFileAtomic(path string, data []byte) error {
	directory := filepath.Dir(path)
	if err := os.MkdirAll(directory, 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", path, err)
	}

	temporaryFile, err := os.CreateTemp(directory, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temporary file for %s: %w", path, err)
	}
	temporaryPath := temporaryFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(temporaryPath)
		}
	}()

	if _, err := temporaryFile.Write(data); err != nil {
		temporaryFile.Close()
		return fmt.Errorf("writing %s: %w", temporaryPath, err)
	}
	if err := temporaryFile.Sync(); err != nil {
		temporaryFile.Close()
		return fmt.Errorf("syncing %s: %w", temporaryPath, err)
	}
	if err := temporaryFile.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", temporaryPath, err)
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		return fmt.Errorf("renaming %s into place: %w", path, err)
	}
	success = true

	// Best effort: make the rename itself durable.
	if parent, err := os.Open(directory); err == nil {
		parent.Sync()
		parent.Close()
	}
	return nil
}
