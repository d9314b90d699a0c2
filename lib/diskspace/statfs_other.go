// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !darwin && !linux

package diskspace

import "math"

// Available cannot query the filesystem on this platform and reports
// unlimited space, which disables the free-space gate.
func Available(string) (uint64, error) {
	return math.MaxUint64, nil
}
