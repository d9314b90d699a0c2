// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package diskspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrInsufficient is returned by Require when the filesystem cannot
// hold the requested bytes.
var ErrInsufficient = errors.New("insufficient free disk space")

// Require fails with ErrInsufficient unless the filesystem holding
// path has at least needed bytes available to unprivileged writers.
// path need not exist yet: the nearest existing ancestor is queried.
func Require(path string, needed int64) error {
	if needed <= 0 {
		return nil
	}
	existing, err := nearestExisting(path)
	if err != nil {
		return err
	}
	available, err := Available(existing)
	if err != nil {
		return err
	}
	if uint64(needed) > available {
		return fmt.Errorf("%w: %s needs %d bytes, %d available", ErrInsufficient, path, needed, available)
	}
	return nil
}

func nearestExisting(path string) (string, error) {
	current, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", path, err)
	}
	for {
		if _, err := os.Stat(current); err == nil {
			return current, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("checking %s: %w", current, err)
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", fmt.Errorf("no existing ancestor of %s", path)
		}
		current = parent
	}
}
