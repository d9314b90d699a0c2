// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package engine wires the update components and the loader into one
// unit driven by a single tick. An Engine owns the shared index store,
// the download collaborator, the Preparer, Checker, and Updater, and
// a Loader whose catalog is the read-write index gated by the
// Updater's view of which groups are up to date.
package engine
