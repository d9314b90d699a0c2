// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package loader

import (
	"fmt"
	"slices"
	"time"

	"github.com/bureau-foundation/depot/lib/contentindex"
)

// assetEntry is the AssetCache: one logical asset shared by every
// accessor and dependent asset that requested it.
type assetEntry struct {
	key    Key
	path   string
	info   contentindex.AssetInfo
	scene  bool
	status Status
	err    error
	retain int

	// pendingDependencies counts dependency assets not yet ready.
	pendingDependencies int

	// dependencies are retained until this entry resolves.
	dependencies []Key

	// resource is the owning resource. retainedResources holds it and
	// everything reachable from it, for the entry's lifetime.
	resource          Key
	retainedResources []Key

	// observers are assets depending on this one.
	observers []Key
	accessors []*Accessor

	task             AssetTask
	object           any
	reportedProgress float64
}

// acquireAsset returns the entry for path, creating and starting it
// if needed. The caller retains it.
func (l *Loader) acquireAsset(path string, info contentindex.AssetInfo, scene bool) *assetEntry {
	if key, ok := l.assetKeys[path]; ok {
		return l.assets[key]
	}
	var entry *assetEntry
	if n := len(l.assetPool); n > 0 {
		entry = l.assetPool[n-1]
		l.assetPool = l.assetPool[:n-1]
	} else {
		entry = &assetEntry{}
	}
	entry.key = l.allocateKey()
	entry.path = path
	entry.info = info
	entry.scene = scene
	l.assets[entry.key] = entry
	l.assetKeys[path] = entry.key

	l.startAsset(entry)
	return entry
}

func (l *Loader) startAsset(entry *assetEntry) {
	l.retainResourceClosure(entry)

	if len(entry.info.Dependencies) == 0 {
		l.waitForResource(entry)
		return
	}

	entry.status = StatusWaitingForDeps
	entry.pendingDependencies = len(entry.info.Dependencies)
	dependencies := make([]*assetEntry, 0, len(entry.info.Dependencies))
	for _, dependencyPath := range entry.info.Dependencies {
		dependencyInfo, ok := l.catalog.Asset(dependencyPath)
		if !ok {
			l.finishAsset(entry, StatusFailure, fmt.Errorf("asset %s: %w: dependency %s", entry.path, ErrUnknownAsset, dependencyPath))
			return
		}
		dependency := l.acquireAsset(dependencyPath, dependencyInfo, false)
		dependency.retain++
		entry.dependencies = append(entry.dependencies, dependency.key)
		dependencies = append(dependencies, dependency)
	}
	for _, dependency := range dependencies {
		if entry.status != StatusWaitingForDeps {
			return
		}
		if dependency.status.Terminal() {
			l.dependencyResolved(entry.key, dependency)
		} else {
			dependency.observers = append(dependency.observers, entry.key)
		}
	}
}

// retainResourceClosure walks the resource dependency graph
// depth-first from the owning resource, retaining and requesting
// every resource it reaches once.
func (l *Loader) retainResourceClosure(entry *assetEntry) {
	visited := make(map[string]bool)
	var walk func(path string)
	walk = func(path string) {
		if visited[path] {
			return
		}
		visited[path] = true
		resource := l.acquireResource(path)
		resource.retain++
		entry.retainedResources = append(entry.retainedResources, resource.key)
		l.requestResource(resource)
		if basic, ok := l.catalog.ResourceBasic(path); ok {
			for _, dependency := range basic.Dependencies {
				walk(dependency)
			}
		}
	}
	walk(entry.info.ResourcePath)
	entry.resource = l.resourceKeys[entry.info.ResourcePath]
}

// dependencyResolved is delivered to the asset at key when one of its
// dependencies resolves. Only the first failure counts.
func (l *Loader) dependencyResolved(key Key, dependency *assetEntry) {
	entry := l.assets[key]
	if entry == nil || entry.status != StatusWaitingForDeps {
		return
	}
	if dependency.status == StatusFailure {
		l.finishAsset(entry, StatusFailure, fmt.Errorf("asset %s: dependency %s: %w", entry.path, dependency.path, dependency.err))
		return
	}
	entry.pendingDependencies--
	if entry.pendingDependencies == 0 {
		l.waitForResource(entry)
	}
}

func (l *Loader) waitForResource(entry *assetEntry) {
	entry.status = StatusWaitingForResource
	l.observeResource(l.resources[entry.resource], entry.key)
}

// resourceResolved is delivered to the asset at key when its owning
// resource resolves.
func (l *Loader) resourceResolved(key Key, resource *resourceEntry) {
	entry := l.assets[key]
	if entry == nil || entry.status != StatusWaitingForResource {
		return
	}
	if resource.status == StatusFailure {
		l.finishAsset(entry, StatusFailure, fmt.Errorf("asset %s: %w", entry.path, resource.err))
		return
	}
	if entry.scene {
		l.finishAsset(entry, StatusReady, nil)
		return
	}
	entry.status = StatusWaitingForSlot
	l.assetQueue = append(l.assetQueue, entry.key)
}

// updateAssets fills free extraction slots from the queue and
// advances every running extraction.
func (l *Loader) updateAssets(elapsed time.Duration) {
	for len(l.loadingAssets) < l.config.ConcurrentAssetLoaders && len(l.assetQueue) > 0 {
		key := l.assetQueue[0]
		l.assetQueue = l.assetQueue[1:]
		entry := l.assets[key]
		if entry == nil || entry.status != StatusWaitingForSlot {
			continue
		}
		entry.task = l.takeAssetTask()
		entry.status = StatusLoading
		l.loadingAssets = append(l.loadingAssets, key)
		entry.task.Start(l.resources[entry.resource].object, entry.path)
	}

	for _, key := range slices.Clone(l.loadingAssets) {
		entry := l.assets[key]
		if entry == nil || entry.status != StatusLoading {
			continue
		}
		entry.task.Update(elapsed)
		if entry.task.Done() {
			l.completeAsset(entry)
		}
	}
}

func (l *Loader) completeAsset(entry *assetEntry) {
	if index := slices.Index(l.loadingAssets, entry.key); index >= 0 {
		l.loadingAssets = slices.Delete(l.loadingAssets, index, index+1)
	}
	task := entry.task
	entry.task = nil
	var err error
	if taskErr := task.Err(); taskErr != nil {
		err = fmt.Errorf("extracting asset %s: %w", entry.path, taskErr)
	} else {
		entry.object = task.Asset()
	}
	task.Reset()
	l.assetTaskPool = append(l.assetTaskPool, task)

	if err != nil {
		l.finishAsset(entry, StatusFailure, err)
		return
	}
	l.finishAsset(entry, StatusReady, nil)
}

func (l *Loader) takeAssetTask() AssetTask {
	if n := len(l.assetTaskPool); n > 0 {
		task := l.assetTaskPool[n-1]
		l.assetTaskPool = l.assetTaskPool[:n-1]
		return task
	}
	return l.newAssetTask()
}

// finishAsset moves entry to a terminal state, notifies dependent
// assets and then accessors, and releases the dependency assets.
func (l *Loader) finishAsset(entry *assetEntry, status Status, err error) {
	entry.status = status
	entry.err = err
	if err != nil {
		l.logger.Debug("asset failed", "path", entry.path, "error", err)
	}

	observers := entry.observers
	entry.observers = nil
	accessors := entry.accessors
	entry.accessors = nil
	for _, key := range observers {
		l.dependencyResolved(key, entry)
	}
	for _, accessor := range accessors {
		accessor.notify(entry)
	}

	dependencies := entry.dependencies
	entry.dependencies = nil
	for _, key := range dependencies {
		if dependency := l.assets[key]; dependency != nil {
			l.releaseAsset(dependency)
		}
	}
	if entry.retain == 0 {
		l.sweepCandidates = append(l.sweepCandidates, entry.key)
	}
}

func (l *Loader) releaseAsset(entry *assetEntry) {
	entry.retain--
	if entry.retain < 0 {
		panic(fmt.Sprintf("loader: asset %s released more times than retained", entry.path))
	}
	if entry.retain == 0 {
		l.sweepCandidates = append(l.sweepCandidates, entry.key)
	}
}

// reportProgress notifies accessors of extractions whose progress
// changed since the previous tick.
func (l *Loader) reportProgress() {
	for _, key := range slices.Clone(l.loadingAssets) {
		entry := l.assets[key]
		if entry == nil || entry.task == nil {
			continue
		}
		progress := entry.task.Progress()
		if progress == entry.reportedProgress {
			continue
		}
		entry.reportedProgress = progress
		for _, accessor := range slices.Clone(entry.accessors) {
			if !accessor.released && accessor.callbacks.OnProgress != nil {
				accessor.callbacks.OnProgress(accessor, progress)
			}
		}
	}
}

// sweepAssets reclaims candidates that are terminal and unretained.
func (l *Loader) sweepAssets() {
	candidates := l.sweepCandidates
	l.sweepCandidates = nil
	for _, key := range candidates {
		entry := l.assets[key]
		if entry == nil || entry.retain != 0 || !entry.status.Terminal() {
			continue
		}
		l.reclaimAsset(entry)
	}
}

func (l *Loader) reclaimAsset(entry *assetEntry) {
	for _, key := range entry.retainedResources {
		if resource := l.resources[key]; resource != nil {
			l.releaseResourceEntry(resource)
		}
	}
	delete(l.assets, entry.key)
	delete(l.assetKeys, entry.path)
	*entry = assetEntry{}
	if len(l.assetPool) < l.config.AssetPoolCapacity {
		l.assetPool = append(l.assetPool, entry)
	}
}
