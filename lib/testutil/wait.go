// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"testing"
	"time"
)

// Receive returns the next value from ch. The test fails if ch is
// closed or nothing arrives within timeout.
func Receive[T any](t testing.TB, ch <-chan T, timeout time.Duration, what string) T {
	t.Helper()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case value, ok := <-ch:
		if !ok {
			t.Fatalf("%s: channel closed", what)
		}
		return value
	case <-timer.C:
		t.Fatalf("%s: nothing received within %v", what, timeout)
	}
	panic("unreachable")
}

// Poll calls step until it returns true, pausing briefly between
// calls. The test fails if step has not succeeded within timeout.
// Use it to drive a tick loop while work finishes on other goroutines.
func Poll(t testing.TB, timeout time.Duration, what string, step func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !step() {
		if time.Now().After(deadline) {
			t.Fatalf("%s: not done within %v", what, timeout)
		}
		time.Sleep(time.Millisecond)
	}
}
