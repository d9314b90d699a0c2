// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports how the depot binary was built.
//
// [Version], [GitCommit], [GitDirty], and [BuildTime] are injected with
// -ldflags -X and keep their development defaults otherwise. When the
// commit was not injected, [Info] falls back to the VCS settings the Go
// toolchain embeds in the binary.
package version
