// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package contentindex

import (
	"errors"
	"fmt"
	"strings"
)

// CycleError reports a dependency cycle among assets. An asset cycle
// would leave every asset on it waiting for the others forever.
type CycleError struct {
	// Cycle lists the assets on the cycle, with the first repeated at
	// the end.
	Cycle []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("asset dependency cycle: %s", strings.Join(e.Cycle, " -> "))
}

// Validate checks the referential integrity of the catalog: every
// asset lives in a known resource, every dependency names a known
// asset or resource, every group member is known, and the asset
// dependency graph is acyclic. Resource dependency cycles are legal;
// the loader walks that graph with a visited set.
func (idx *Index) Validate() error {
	var problems []error

	for _, path := range sortedKeys(idx.Assets) {
		asset := idx.Assets[path]
		if _, ok := idx.ResourceBasicInfos[asset.ResourcePath]; !ok {
			problems = append(problems, fmt.Errorf("asset %q: unknown resource %q", path, asset.ResourcePath))
		}
		for _, dependency := range asset.Dependencies {
			if _, ok := idx.Assets[dependency]; !ok {
				problems = append(problems, fmt.Errorf("asset %q: unknown dependency %q", path, dependency))
			}
		}
	}
	for _, path := range sortedKeys(idx.ResourceBasicInfos) {
		for _, dependency := range idx.ResourceBasicInfos[path].Dependencies {
			if _, ok := idx.ResourceBasicInfos[dependency]; !ok {
				problems = append(problems, fmt.Errorf("resource %q: unknown dependency %q", path, dependency))
			}
		}
	}
	seenGroups := make(map[int]bool, len(idx.Groups))
	for _, group := range idx.Groups {
		if seenGroups[group.ID] {
			problems = append(problems, fmt.Errorf("group %d listed twice", group.ID))
		}
		seenGroups[group.ID] = true
		for _, member := range group.Resources {
			basic, ok := idx.ResourceBasicInfos[member]
			if !ok {
				problems = append(problems, fmt.Errorf("group %d: unknown resource %q", group.ID, member))
				continue
			}
			if basic.GroupID != group.ID {
				problems = append(problems, fmt.Errorf("group %d: resource %q belongs to group %d",
					group.ID, member, basic.GroupID))
			}
		}
	}

	if len(problems) > 0 {
		return errors.Join(problems...)
	}
	return idx.checkAssetCycles()
}

// checkAssetCycles runs a three-colour depth-first search over the
// asset dependency graph in sorted order, so the reported cycle is
// deterministic.
func (idx *Index) checkAssetCycles() error {
	const (
		white = iota
		grey
		black
	)
	colour := make(map[string]int, len(idx.Assets))
	var stack []string

	var visit func(path string) error
	visit = func(path string) error {
		colour[path] = grey
		stack = append(stack, path)
		for _, dependency := range idx.Assets[path].Dependencies {
			switch colour[dependency] {
			case grey:
				start := 0
				for i, entry := range stack {
					if entry == dependency {
						start = i
						break
					}
				}
				cycle := append(append([]string(nil), stack[start:]...), dependency)
				return &CycleError{Cycle: cycle}
			case white:
				if err := visit(dependency); err != nil {
					return err
				}
			}
		}
		stack = stack[:len(stack)-1]
		colour[path] = black
		return nil
	}

	for _, path := range sortedKeys(idx.Assets) {
		if colour[path] == white {
			if err := visit(path); err != nil {
				return err
			}
		}
	}
	return nil
}
