// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// [Receive] and [Poll] are the only places tests wait on the wall
// clock: both fail the test after a timeout instead of hanging it.
// Engine components are otherwise driven by explicit ticks or by the
// fake clock in lib/clock.
package testutil
