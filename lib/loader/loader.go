// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package loader

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"time"

	"github.com/bureau-foundation/depot/lib/config"
	"github.com/bureau-foundation/depot/lib/contentindex"
)

var (
	// ErrUnknownAsset is returned for an asset path the catalog does
	// not list.
	ErrUnknownAsset = errors.New("unknown asset")

	// ErrGroupNotReady is returned when the asset's resource group is
	// not up to date.
	ErrGroupNotReady = errors.New("resource group is not up to date")

	// ErrMissingCallback is returned when AccessorCallbacks.OnFailure
	// is nil.
	ErrMissingCallback = errors.New("required failure callback is missing")

	// ErrAccessorReleased is returned by UnloadAsset for an accessor
	// that was already unloaded.
	ErrAccessorReleased = errors.New("accessor already released")
)

// Key identifies a cache entry. Keys are never reused by a Loader.
type Key uint64

// Status is the state of a cache entry.
type Status int

const (
	StatusNone Status = iota
	StatusWaitingForDeps
	StatusWaitingForResource
	StatusWaitingForSlot
	StatusLoading
	StatusReady
	StatusFailure
)

func (s Status) String() string {
	switch s {
	case StatusNone:
		return "none"
	case StatusWaitingForDeps:
		return "waiting_for_deps"
	case StatusWaitingForResource:
		return "waiting_for_resource"
	case StatusWaitingForSlot:
		return "waiting_for_slot"
	case StatusLoading:
		return "loading"
	case StatusReady:
		return "ready"
	case StatusFailure:
		return "failure"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Terminal reports whether s is Ready or Failure.
func (s Status) Terminal() bool { return s == StatusReady || s == StatusFailure }

// Catalog is the index state the Loader reads.
type Catalog interface {
	Asset(path string) (contentindex.AssetInfo, bool)
	ResourceBasic(path string) (contentindex.ResourceBasicInfo, bool)

	// ResourceDirectory returns the root a resource loads from.
	ResourceDirectory(resourcePath string) string

	IsGroupUpToDate(groupID int) bool
}

// Options configures a Loader.
type Options struct {
	Config  config.LoaderConfig
	Catalog Catalog

	NewResourceTask func() ResourceTask
	NewAssetTask    func() AssetTask

	// ReleaseResource, if set, is called with the loaded object of
	// each resource reclaimed from the cache.
	ReleaseResource func(path string, resource any)

	Logger *slog.Logger
}

// Loader is the arena owning every cache entry.
type Loader struct {
	config          config.LoaderConfig
	catalog         Catalog
	newResourceTask func() ResourceTask
	newAssetTask    func() AssetTask
	releaseResource func(path string, resource any)
	logger          *slog.Logger

	nextKey        Key
	nextAccessorID uint64

	assets       map[Key]*assetEntry
	assetKeys    map[string]Key
	resources    map[Key]*resourceEntry
	resourceKeys map[string]Key

	assetPool        []*assetEntry
	resourcePool     []*resourceEntry
	assetTaskPool    []AssetTask
	resourceTaskPool []ResourceTask

	assetQueue       []Key
	resourceQueue    []Key
	loadingAssets    []Key
	loadingResources []Key

	// sweepCandidates are assets that may have become reclaimable.
	sweepCandidates []Key

	pendingUnloads     []*Accessor
	sinceResourceSweep time.Duration
	forceResourceSweep bool
}

// New returns an empty Loader.
func New(options Options) (*Loader, error) {
	var errs []error
	if options.Catalog == nil {
		errs = append(errs, errors.New("loader: catalog is required"))
	}
	if options.NewResourceTask == nil {
		errs = append(errs, errors.New("loader: resource task factory is required"))
	}
	if options.NewAssetTask == nil {
		errs = append(errs, errors.New("loader: asset task factory is required"))
	}
	if options.Logger == nil {
		errs = append(errs, errors.New("loader: logger is required"))
	}
	if options.Config.ConcurrentAssetLoaders < 1 || options.Config.ConcurrentResourceLoaders < 1 {
		errs = append(errs, fmt.Errorf("loader: concurrency must be at least 1 (assets %d, resources %d)",
			options.Config.ConcurrentAssetLoaders, options.Config.ConcurrentResourceLoaders))
	}
	if options.Config.ReleaseUnusedInterval <= 0 {
		errs = append(errs, errors.New("loader: release-unused interval must be positive"))
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return &Loader{
		config:          options.Config,
		catalog:         options.Catalog,
		newResourceTask: options.NewResourceTask,
		newAssetTask:    options.NewAssetTask,
		releaseResource: options.ReleaseResource,
		logger:          options.Logger,
		assets:          make(map[Key]*assetEntry),
		assetKeys:       make(map[string]Key),
		resources:       make(map[Key]*resourceEntry),
		resourceKeys:    make(map[string]Key),
	}, nil
}

// LoadAsset requests an asset. The accessor retains the asset until
// it is passed to UnloadAsset. If the asset has already resolved, the
// callback runs before LoadAsset returns.
func (l *Loader) LoadAsset(path string, callbacks AccessorCallbacks) (*Accessor, error) {
	return l.load(path, false, callbacks)
}

// LoadSceneAsset requests a scene asset. Scenes need no extraction:
// they are ready as soon as their resource is.
func (l *Loader) LoadSceneAsset(path string, callbacks AccessorCallbacks) (*Accessor, error) {
	return l.load(path, true, callbacks)
}

func (l *Loader) load(path string, scene bool, callbacks AccessorCallbacks) (*Accessor, error) {
	if callbacks.OnFailure == nil {
		return nil, fmt.Errorf("%w: AccessorCallbacks.OnFailure", ErrMissingCallback)
	}
	info, ok := l.catalog.Asset(path)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, path)
	}
	basic, ok := l.catalog.ResourceBasic(info.ResourcePath)
	if !ok {
		return nil, fmt.Errorf("%w: %s (resource %s is not in the catalog)", ErrUnknownAsset, path, info.ResourcePath)
	}
	if !l.catalog.IsGroupUpToDate(basic.GroupID) {
		return nil, fmt.Errorf("%w: asset %s is in group %d", ErrGroupNotReady, path, basic.GroupID)
	}

	entry := l.acquireAsset(path, info, scene)
	entry.retain++

	l.nextAccessorID++
	accessor := &Accessor{
		id:        l.nextAccessorID,
		loader:    l,
		key:       entry.key,
		path:      path,
		callbacks: callbacks,
	}
	if entry.status.Terminal() {
		accessor.notify(entry)
	} else {
		entry.accessors = append(entry.accessors, accessor)
	}
	return accessor, nil
}

// UnloadAsset releases an accessor. The release takes effect on the
// next Update, so it is safe to call from an accessor callback.
func (l *Loader) UnloadAsset(accessor *Accessor) error {
	if accessor.released {
		return fmt.Errorf("%w: accessor %d for %s", ErrAccessorReleased, accessor.id, accessor.path)
	}
	accessor.released = true
	l.pendingUnloads = append(l.pendingUnloads, accessor)
	return nil
}

// ReleaseUnusedResources makes the next Update sweep unretained
// resources regardless of the sweep interval.
func (l *Loader) ReleaseUnusedResources() {
	l.forceResourceSweep = true
}

// Update advances the loader by one tick: deferred unloads, resource
// loads, asset extractions, progress reports, then reclamation.
func (l *Loader) Update(elapsed time.Duration) {
	l.releasePendingUnloads()
	l.updateResources(elapsed)
	l.updateAssets(elapsed)
	l.reportProgress()
	l.sweepAssets()

	l.sinceResourceSweep += elapsed
	if l.forceResourceSweep || l.sinceResourceSweep >= l.config.ReleaseUnusedInterval {
		l.forceResourceSweep = false
		l.sinceResourceSweep = 0
		l.sweepResources()
	}
}

func (l *Loader) releasePendingUnloads() {
	pending := l.pendingUnloads
	l.pendingUnloads = nil
	for _, accessor := range pending {
		entry := l.assets[accessor.key]
		if entry == nil {
			continue
		}
		if index := slices.Index(entry.accessors, accessor); index >= 0 {
			entry.accessors = slices.Delete(entry.accessors, index, index+1)
		}
		l.releaseAsset(entry)
	}
}

func (l *Loader) allocateKey() Key {
	l.nextKey++
	return l.nextKey
}

// AssetCacheInfo describes an asset entry.
type AssetCacheInfo struct {
	Key          Key
	Path         string
	Status       Status
	Retain       int
	Err          error
	Scene        bool
	ResourcePath string

	// RetainedResources are the resources held for the entry's
	// lifetime, in retention order.
	RetainedResources []string
}

// AssetCacheInfo returns the entry for an asset path, if one exists.
func (l *Loader) AssetCacheInfo(path string) (AssetCacheInfo, bool) {
	key, ok := l.assetKeys[path]
	if !ok {
		return AssetCacheInfo{}, false
	}
	entry := l.assets[key]
	info := AssetCacheInfo{
		Key:          entry.key,
		Path:         entry.path,
		Status:       entry.status,
		Retain:       entry.retain,
		Err:          entry.err,
		Scene:        entry.scene,
		ResourcePath: entry.info.ResourcePath,
	}
	for _, resourceKey := range entry.retainedResources {
		if resource := l.resources[resourceKey]; resource != nil {
			info.RetainedResources = append(info.RetainedResources, resource.path)
		}
	}
	return info, true
}

// ResourceCacheInfo describes a resource entry.
type ResourceCacheInfo struct {
	Key       Key
	Path      string
	Status    Status
	Retain    int
	Err       error
	Directory string
}

// ResourceCacheInfo returns the entry for a resource path, if one
// exists.
func (l *Loader) ResourceCacheInfo(path string) (ResourceCacheInfo, bool) {
	key, ok := l.resourceKeys[path]
	if !ok {
		return ResourceCacheInfo{}, false
	}
	entry := l.resources[key]
	return ResourceCacheInfo{
		Key:       entry.key,
		Path:      entry.path,
		Status:    entry.status,
		Retain:    entry.retain,
		Err:       entry.err,
		Directory: entry.directory,
	}, true
}

// Stats counts live entries.
type Stats struct {
	Assets           int
	Resources        int
	LoadingAssets    int
	LoadingResources int
	PooledAssets     int
	PooledResources  int
}

// Stats returns the current entry counts.
func (l *Loader) Stats() Stats {
	return Stats{
		Assets:           len(l.assets),
		Resources:        len(l.resources),
		LoadingAssets:    len(l.loadingAssets),
		LoadingResources: len(l.loadingResources),
		PooledAssets:     len(l.assetPool),
		PooledResources:  len(l.resourcePool),
	}
}

func resourceFilePath(directory, path string) string {
	return filepath.Join(directory, filepath.FromSlash(path))
}
