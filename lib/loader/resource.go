// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package loader

import (
	"fmt"
	"slices"
	"time"
)

// resourceEntry is the ResourceCache: one loaded resource shared by
// every asset that lives in or depends on it.
type resourceEntry struct {
	key       Key
	path      string
	directory string
	status    Status
	err       error
	retain    int

	// observers are assets waiting for this resource to resolve.
	observers []Key

	task   ResourceTask
	object any
}

// acquireResource returns the entry for path, creating it in
// StatusNone if needed. The caller retains it.
func (l *Loader) acquireResource(path string) *resourceEntry {
	if key, ok := l.resourceKeys[path]; ok {
		return l.resources[key]
	}
	var entry *resourceEntry
	if n := len(l.resourcePool); n > 0 {
		entry = l.resourcePool[n-1]
		l.resourcePool = l.resourcePool[:n-1]
	} else {
		entry = &resourceEntry{}
	}
	entry.key = l.allocateKey()
	entry.path = path
	l.resources[entry.key] = entry
	l.resourceKeys[path] = entry.key
	return entry
}

// requestResource queues a resource for loading if it is not loading
// or loaded already.
func (l *Loader) requestResource(entry *resourceEntry) {
	if entry.status != StatusNone {
		return
	}
	entry.status = StatusWaitingForSlot
	entry.directory = l.catalog.ResourceDirectory(entry.path)
	l.resourceQueue = append(l.resourceQueue, entry.key)
}

func (l *Loader) releaseResourceEntry(entry *resourceEntry) {
	entry.retain--
	if entry.retain < 0 {
		panic(fmt.Sprintf("loader: resource %s released more times than retained", entry.path))
	}
}

// observeResource arranges for assetKey to hear about the resolution
// of entry, immediately if it has already resolved.
func (l *Loader) observeResource(entry *resourceEntry, assetKey Key) {
	if entry.status.Terminal() {
		l.resourceResolved(assetKey, entry)
		return
	}
	entry.observers = append(entry.observers, assetKey)
}

// updateResources fills free loading slots from the queue and
// advances every running load.
func (l *Loader) updateResources(elapsed time.Duration) {
	for len(l.loadingResources) < l.config.ConcurrentResourceLoaders && len(l.resourceQueue) > 0 {
		key := l.resourceQueue[0]
		l.resourceQueue = l.resourceQueue[1:]
		entry := l.resources[key]
		if entry == nil || entry.status != StatusWaitingForSlot {
			continue
		}
		entry.task = l.takeResourceTask()
		entry.status = StatusLoading
		l.loadingResources = append(l.loadingResources, key)
		entry.task.Start(entry.directory, entry.path)
	}

	for _, key := range slices.Clone(l.loadingResources) {
		entry := l.resources[key]
		entry.task.Update(elapsed)
		if entry.task.Done() {
			l.completeResource(entry)
		}
	}
}

func (l *Loader) completeResource(entry *resourceEntry) {
	if index := slices.Index(l.loadingResources, entry.key); index >= 0 {
		l.loadingResources = slices.Delete(l.loadingResources, index, index+1)
	}
	task := entry.task
	entry.task = nil
	if err := task.Err(); err != nil {
		entry.status = StatusFailure
		entry.err = fmt.Errorf("loading resource %s: %w", entry.path, err)
		l.logger.Warn("resource load failed", "path", entry.path, "directory", entry.directory, "error", err)
	} else {
		entry.status = StatusReady
		entry.object = task.Resource()
	}
	task.Reset()
	l.resourceTaskPool = append(l.resourceTaskPool, task)

	observers := entry.observers
	entry.observers = nil
	for _, key := range observers {
		l.resourceResolved(key, entry)
	}
}

func (l *Loader) takeResourceTask() ResourceTask {
	if n := len(l.resourceTaskPool); n > 0 {
		task := l.resourceTaskPool[n-1]
		l.resourceTaskPool = l.resourceTaskPool[:n-1]
		return task
	}
	return l.newResourceTask()
}

// sweepResources reclaims every unretained resource that has nothing
// in flight.
func (l *Loader) sweepResources() {
	reclaimed := 0
	for key, entry := range l.resources {
		if entry.retain > 0 || entry.status == StatusLoading {
			continue
		}
		if entry.status == StatusReady && l.releaseResource != nil {
			l.releaseResource(entry.path, entry.object)
		}
		delete(l.resources, key)
		delete(l.resourceKeys, entry.path)
		*entry = resourceEntry{}
		if len(l.resourcePool) < l.config.ResourcePoolCapacity {
			l.resourcePool = append(l.resourcePool, entry)
		}
		reclaimed++
	}
	if reclaimed > 0 {
		l.logger.Debug("released unused resources", "count", reclaimed)
	}
}
