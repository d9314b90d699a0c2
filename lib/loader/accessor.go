// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package loader

// AccessorCallbacks observe one asset request. OnFailure is required.
type AccessorCallbacks struct {
	OnReady    func(accessor *Accessor)
	OnFailure  func(accessor *Accessor, err error)
	OnProgress func(accessor *Accessor, progress float64)
}

// Accessor is a caller's handle on a requested asset. It retains the
// asset until passed to Loader.UnloadAsset.
type Accessor struct {
	id        uint64
	loader    *Loader
	key       Key
	path      string
	callbacks AccessorCallbacks
	released  bool
	notified  bool
}

// ID is unique among the accessors of one Loader.
func (a *Accessor) ID() uint64 { return a.id }

// Path is the requested asset path.
func (a *Accessor) Path() string { return a.path }

// CacheKey identifies the shared cache entry backing this accessor.
func (a *Accessor) CacheKey() Key { return a.key }

// Released reports whether the accessor has been unloaded.
func (a *Accessor) Released() bool { return a.released }

// Asset returns the extracted asset object. It is nil until the asset
// is ready, for scene assets, and after the accessor is released.
func (a *Accessor) Asset() any {
	entry := a.entry()
	if entry == nil || entry.status != StatusReady {
		return nil
	}
	return entry.object
}

// Status returns the status of the backing entry.
func (a *Accessor) Status() Status {
	entry := a.entry()
	if entry == nil {
		return StatusNone
	}
	return entry.status
}

func (a *Accessor) entry() *assetEntry {
	if a.released {
		return nil
	}
	return a.loader.assets[a.key]
}

// notify reports the terminal state of entry once.
func (a *Accessor) notify(entry *assetEntry) {
	if a.released || a.notified {
		return
	}
	a.notified = true
	switch entry.status {
	case StatusReady:
		if a.callbacks.OnReady != nil {
			a.callbacks.OnReady(a)
		}
	case StatusFailure:
		a.callbacks.OnFailure(a, entry.err)
	}
}
