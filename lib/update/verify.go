// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package update

import (
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/bureau-foundation/depot/lib/contentindex"
)

// Mismatch is one resource whose file does not match its index
// record.
type Mismatch struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// Verify re-reads every resource recorded in index from root and
// checks its size, CRC32, and content hash. Resources are checked in
// path order. The returned error is non-nil only if index is nil;
// per-file problems, including unreadable files, are mismatches.
func Verify(root string, index *contentindex.Index) ([]Mismatch, error) {
	if index == nil {
		return nil, errors.New("verify: no index")
	}
	var mismatches []Mismatch
	for _, path := range sortedResourcePaths(index) {
		if reason := verifyResource(ResourceFilePath(root, path), index.Resources[path]); reason != "" {
			mismatches = append(mismatches, Mismatch{Path: path, Reason: reason})
		}
	}
	return mismatches, nil
}

func verifyResource(filePath string, expected contentindex.ResourceInfo) string {
	size, checksum, err := contentindex.CRC32File(filePath)
	if errors.Is(err, os.ErrNotExist) {
		return "missing"
	}
	if err != nil {
		return err.Error()
	}
	if size != expected.Size {
		return fmt.Sprintf("size %d, expected %d", size, expected.Size)
	}
	if checksum != expected.CRC32 {
		return fmt.Sprintf("crc32 %08x, expected %08x", checksum, expected.CRC32)
	}
	if expected.Hash == "" {
		return ""
	}

	file, err := os.Open(filePath)
	if err != nil {
		return err.Error()
	}
	defer file.Close()
	hash, err := contentindex.HashContent(file)
	if err != nil {
		return err.Error()
	}
	if hash != expected.Hash {
		return fmt.Sprintf("blake3 %s, expected %s", hash, expected.Hash)
	}
	return ""
}

func sortedResourcePaths(index *contentindex.Index) []string {
	paths := make([]string, 0, len(index.Resources))
	for path := range index.Resources {
		paths = append(paths, path)
	}
	slices.Sort(paths)
	return paths
}
