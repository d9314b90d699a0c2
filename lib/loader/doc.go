// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package loader is the retain-counted asset and resource cache.
//
// A resource is a file that is loaded as a unit. An asset is a
// logical object extracted from one resource; it may depend on other
// assets. The [Loader] owns every cache entry in an arena keyed by
// [Key] and resolves requests through two state machines:
//
//	resource: None -> WaitingForSlot -> Loading -> Ready | Failure
//	asset:    None -> [WaitingForDeps ->] WaitingForResource ->
//	          WaitingForSlot -> Loading -> Ready | Failure
//
// Resource loading and asset extraction are done by injected tasks
// ([ResourceTask], [AssetTask]) limited to a configured number of
// concurrent slots. Scene assets skip extraction and are ready as soon
// as their resource is.
//
// Callers hold an [Accessor] per request. Requests for the same path
// share one entry. An entry is reclaimed only once it is in a terminal
// state and nothing retains it: accessors retain their asset, an
// asset retains its dependency assets until it resolves, and an asset
// retains every resource reachable from its own resource for as long
// as the asset entry lives.
//
// The Loader is driven by [Loader.Update] and is not safe for
// concurrent use.
package loader
