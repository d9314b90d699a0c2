// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package loader

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/bureau-foundation/depot/lib/config"
	"github.com/bureau-foundation/depot/lib/contentindex"
)

// testCatalog serves a fixed index. Every group is up to date unless
// listed in stale.
type testCatalog struct {
	index     *contentindex.Index
	stale     map[int]bool
	directory string
}

func (c *testCatalog) Asset(path string) (contentindex.AssetInfo, bool) {
	info, ok := c.index.Assets[path]
	return info, ok
}

func (c *testCatalog) ResourceBasic(path string) (contentindex.ResourceBasicInfo, bool) {
	info, ok := c.index.ResourceBasicInfos[path]
	return info, ok
}

func (c *testCatalog) ResourceDirectory(string) string { return c.directory }

func (c *testCatalog) IsGroupUpToDate(groupID int) bool { return !c.stale[groupID] }

// harness scripts task outcomes by path. A task finishes on its first
// Update unless its path is held; it fails if its path has an error.
type harness struct {
	t       *testing.T
	catalog *testCatalog
	loader  *Loader

	resourceStarts map[string]int
	assetStarts    map[string]int
	holdResources  map[string]bool
	holdAssets     map[string]bool
	failResources  map[string]error
	failAssets     map[string]error
	assetProgress  map[string]float64
	released       []string
}

func newHarness(t *testing.T, index *contentindex.Index, tune func(*config.LoaderConfig)) *harness {
	t.Helper()
	h := &harness{
		t:              t,
		catalog:        &testCatalog{index: index, stale: make(map[int]bool), directory: "/content"},
		resourceStarts: make(map[string]int),
		assetStarts:    make(map[string]int),
		holdResources:  make(map[string]bool),
		holdAssets:     make(map[string]bool),
		failResources:  make(map[string]error),
		failAssets:     make(map[string]error),
		assetProgress:  make(map[string]float64),
	}
	loaderConfig := config.LoaderConfig{
		ConcurrentAssetLoaders:    4,
		ConcurrentResourceLoaders: 4,
		AssetPoolCapacity:         8,
		ResourcePoolCapacity:      8,
		ReleaseUnusedInterval:     time.Second,
	}
	if tune != nil {
		tune(&loaderConfig)
	}
	loader, err := New(Options{
		Config:          loaderConfig,
		Catalog:         h.catalog,
		NewResourceTask: func() ResourceTask { return &scriptedResourceTask{h: h} },
		NewAssetTask:    func() AssetTask { return &scriptedAssetTask{h: h} },
		ReleaseResource: func(path string, _ any) { h.released = append(h.released, path) },
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.loader = loader
	return h
}

// tick runs n loader updates of 10ms each.
func (h *harness) tick(n int) {
	for i := 0; i < n; i++ {
		h.loader.Update(10 * time.Millisecond)
	}
}

type scriptedResourceTask struct {
	h    *harness
	path string
	done bool
	err  error
}

func (t *scriptedResourceTask) Start(_, path string) {
	t.path = path
	t.h.resourceStarts[path]++
}

func (t *scriptedResourceTask) Update(time.Duration) {
	if t.h.holdResources[t.path] {
		return
	}
	t.done = true
	t.err = t.h.failResources[t.path]
}

func (t *scriptedResourceTask) Done() bool        { return t.done }
func (t *scriptedResourceTask) Progress() float64 { return 0 }
func (t *scriptedResourceTask) Err() error        { return t.err }
func (t *scriptedResourceTask) Resource() any     { return "resource:" + t.path }
func (t *scriptedResourceTask) Reset()            { *t = scriptedResourceTask{h: t.h} }

type scriptedAssetTask struct {
	h        *harness
	path     string
	resource any
	done     bool
	err      error
}

func (t *scriptedAssetTask) Start(resource any, path string) {
	t.path = path
	t.resource = resource
	t.h.assetStarts[path]++
}

func (t *scriptedAssetTask) Update(time.Duration) {
	if t.h.holdAssets[t.path] {
		return
	}
	t.done = true
	t.err = t.h.failAssets[t.path]
}

func (t *scriptedAssetTask) Done() bool        { return t.done }
func (t *scriptedAssetTask) Progress() float64 { return t.h.assetProgress[t.path] }
func (t *scriptedAssetTask) Err() error        { return t.err }
func (t *scriptedAssetTask) Asset() any        { return t.path + "@" + t.resource.(string) }
func (t *scriptedAssetTask) Reset()            { *t = scriptedAssetTask{h: t.h} }

// record counts accessor callbacks.
type record struct {
	ready    int
	failures []error
	progress []float64
}

func (r *record) callbacks() AccessorCallbacks {
	return AccessorCallbacks{
		OnReady:    func(*Accessor) { r.ready++ },
		OnFailure:  func(_ *Accessor, err error) { r.failures = append(r.failures, err) },
		OnProgress: func(_ *Accessor, progress float64) { r.progress = append(r.progress, progress) },
	}
}

func (h *harness) load(path string, r *record) *Accessor {
	h.t.Helper()
	accessor, err := h.loader.LoadAsset(path, r.callbacks())
	if err != nil {
		h.t.Fatalf("LoadAsset(%s): %v", path, err)
	}
	return accessor
}

func (h *harness) assetInfo(path string) AssetCacheInfo {
	h.t.Helper()
	info, ok := h.loader.AssetCacheInfo(path)
	if !ok {
		h.t.Fatalf("no cache entry for asset %s", path)
	}
	return info
}

// catalogBuilder assembles test indexes.
type catalogBuilder struct {
	index *contentindex.Index
}

func newCatalog() *catalogBuilder {
	return &catalogBuilder{index: contentindex.New(contentindex.VariantReadWrite)}
}

func (b *catalogBuilder) resource(path string, group int, dependencies ...string) *catalogBuilder {
	b.index.ResourceBasicInfos[path] = contentindex.ResourceBasicInfo{Path: path, GroupID: group, Dependencies: dependencies}
	return b
}

func (b *catalogBuilder) asset(path, resource string, dependencies ...string) *catalogBuilder {
	b.index.Assets[path] = contentindex.AssetInfo{Path: path, ResourcePath: resource, Dependencies: dependencies}
	return b
}
