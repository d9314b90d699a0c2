// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package update

import "strings"

// retryState tracks where the next attempt for one file goes. A file
// is tried 1+retryCount times on each mirror, in mirror order.
type retryState struct {
	mirror   int
	attempts int
}

// advance records a failed attempt and reports whether another one
// should be made.
func (r *retryState) advance(retryCount, mirrorCount int) bool {
	if r.attempts < retryCount {
		r.attempts++
		return true
	}
	r.mirror++
	r.attempts = 0
	return r.mirror < mirrorCount
}

// mirrorFileURL joins a mirror base URL and a slash-separated path.
func mirrorFileURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
