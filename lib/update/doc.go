// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package update keeps the read-write content index in step with a
// remote catalog.
//
// Three components share one [Store]:
//
//   - [Preparer] loads the installer index and any persisted
//     read-write index at startup. A corrupt read-write index is
//     discarded along with the read-write directory.
//   - [Checker] fetches (or reuses a cached copy of) the remote
//     index, diffs it against the installer and read-write indexes,
//     deletes resources that are no longer needed, persists the merged
//     read-write index, and produces one [GroupSummary] per resource
//     group.
//   - [Updater] downloads the pending resources of one group at a
//     time, retrying across mirrors, and merges each completed
//     resource into the read-write index.
//
// All three are driven from a single cooperative tick: callers invoke
// Update on the download collaborator and then on the Checker and
// Updater. The only work done off the tick is the Checker's checksum
// and decompression of the cached remote index, whose results are
// polled.
package update
