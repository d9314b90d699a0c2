// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package update

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bureau-foundation/depot/lib/contentindex"
)

// diffResult is the outcome of comparing the three indexes.
type diffResult struct {
	// merged is the new read-write index: the remote layout plus the
	// resource infos of read-write copies that are still current.
	merged *contentindex.Index

	// stale are read-write resources whose files must be deleted.
	stale []string

	summaries map[int]*GroupSummary
}

// diffIndexes compares the read-write index against the remote and
// installer indexes.
//
// A read-write resource is stale when the remote catalog no longer
// lists it, or when the installer already ships the remote content.
// A read-write copy whose content differs from the remote one is
// dropped from the merged index but its file is left for the next
// download to overwrite.
//
// Every remote resource counts toward its group's total. It is pending
// unless the installer or a retained read-write copy already has the
// remote content.
func diffIndexes(installer, readWrite, remote *contentindex.Index) diffResult {
	merged := contentindex.New(contentindex.VariantReadWrite)
	merged.CopyLayout(remote)

	var stale []string
	for path, local := range readWrite.Resources {
		remoteInfo, listed := remote.Resources[path]
		if !listed {
			stale = append(stale, path)
			continue
		}
		if shipped, ok := installer.Resources[path]; ok && shipped.SameContent(remoteInfo) {
			stale = append(stale, path)
			continue
		}
		if local.SameContent(remoteInfo) {
			merged.Resources[path] = local
		}
	}
	slices.Sort(stale)

	groupOf := make(map[string]int, len(remote.Resources))
	summaries := make(map[int]*GroupSummary, len(remote.Groups))
	for _, group := range remote.Groups {
		summaries[group.ID] = newGroupSummary(group.ID)
		for _, path := range group.Resources {
			groupOf[path] = group.ID
		}
	}

	for path, info := range remote.Resources {
		groupID, ok := groupOf[path]
		if !ok {
			groupID = remote.ResourceBasicInfos[path].GroupID
		}
		summary := summaries[groupID]
		if summary == nil {
			summary = newGroupSummary(groupID)
			summaries[groupID] = summary
		}
		summary.TotalSize += info.Size

		if shipped, ok := installer.Resources[path]; ok && shipped.SameContent(info) {
			continue
		}
		if retained, ok := merged.Resources[path]; ok && retained.SameContent(info) {
			continue
		}
		summary.addPending(path, info.Size)
	}

	return diffResult{merged: merged, stale: stale, summaries: summaries}
}

// removeResourceFiles deletes the files of paths under root, then any
// directories the deletions left empty. Files that are already gone
// are not an error.
func removeResourceFiles(root string, paths []string) error {
	root = filepath.Clean(root)
	for _, path := range paths {
		filePath := ResourceFilePath(root, path)
		if err := os.Remove(filePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("deleting stale resource %s: %w", path, err)
		}
		if err := pruneEmptyDirectories(root, filepath.Dir(filePath)); err != nil {
			return err
		}
	}
	return nil
}

// pruneEmptyDirectories removes directory and its ancestors, stopping
// at root or at the first directory that is not empty.
func pruneEmptyDirectories(root, directory string) error {
	for directory != root && strings.HasPrefix(directory, root+string(filepath.Separator)) {
		entries, err := os.ReadDir(directory)
		if errors.Is(err, os.ErrNotExist) {
			directory = filepath.Dir(directory)
			continue
		}
		if err != nil {
			return fmt.Errorf("reading %s: %w", directory, err)
		}
		if len(entries) > 0 {
			return nil
		}
		if err := os.Remove(directory); err != nil {
			return fmt.Errorf("removing empty directory %s: %w", directory, err)
		}
		directory = filepath.Dir(directory)
	}
	return nil
}
