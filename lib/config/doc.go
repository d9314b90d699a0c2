// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for depot.
//
// Configuration is loaded from a single file specified by:
//   - DEPOT_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks, defaults, or automatic discovery. Every
// setting the engine consumes must be present in the file; Validate
// reports all missing or out-of-range settings at once so that a
// misconfigured client fails at startup rather than midway through an
// update.
//
// Files ending in .json or .jsonc may carry // and /* */ comments and
// trailing commas. Everything else is parsed as YAML.
package config
