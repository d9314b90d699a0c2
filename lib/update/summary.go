// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package update

import (
	"slices"

	"github.com/bureau-foundation/depot/lib/contentindex"
)

// GroupSummary is what one resource group still needs. Built by the
// Checker; only the Updater mutates it, as downloads complete.
type GroupSummary struct {
	GroupID int

	// TotalSize is the size of every resource in the group.
	TotalSize int64

	// RemainingSize is the size of the resources in Pending.
	RemainingSize int64

	// Pending maps each resource path still to be downloaded to its
	// size.
	Pending map[string]int64
}

func newGroupSummary(groupID int) *GroupSummary {
	return &GroupSummary{GroupID: groupID, Pending: make(map[string]int64)}
}

// UpToDate reports whether nothing remains to download. Empty
// resources still pending keep the group out of date.
func (g *GroupSummary) UpToDate() bool { return g.RemainingSize == 0 && len(g.Pending) == 0 }

// PendingPaths returns the pending resource paths in sorted order.
func (g *GroupSummary) PendingPaths() []string {
	paths := make([]string, 0, len(g.Pending))
	for path := range g.Pending {
		paths = append(paths, path)
	}
	slices.Sort(paths)
	return paths
}

func (g *GroupSummary) addPending(path string, size int64) {
	g.Pending[path] = size
	g.RemainingSize += size
}

func (g *GroupSummary) complete(path string) int64 {
	size, ok := g.Pending[path]
	if !ok {
		return 0
	}
	delete(g.Pending, path)
	g.RemainingSize -= size
	return size
}

// zeroSummaries returns an up-to-date summary for every group of idx.
func zeroSummaries(idx *contentindex.Index) map[int]*GroupSummary {
	summaries := make(map[int]*GroupSummary, len(idx.Groups))
	for _, group := range idx.Groups {
		summary := newGroupSummary(group.ID)
		for _, path := range group.Resources {
			if info, ok := idx.Resources[path]; ok {
				summary.TotalSize += info.Size
			}
		}
		summaries[group.ID] = summary
	}
	return summaries
}

func sortedGroupIDs(summaries map[int]*GroupSummary) []int {
	ids := make([]int, 0, len(summaries))
	for id := range summaries {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
