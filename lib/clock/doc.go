// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides the time source that drives depot's tick loop.
//
// The engine never reads wall-clock time inside a tick: every state
// transition is a function of the elapsed duration passed to Update.
// The only place real time enters is the loop that produces those
// durations (engine.Run), which reads a Clock so that tests can drive
// it deterministically:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go engine.Run(ctx, fake, 100*time.Millisecond)
//	fake.WaitForTickers(1)
//	fake.Advance(100 * time.Millisecond) // exactly one tick
package clock
