// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sync"
	"time"
)

// Fake returns a FakeClock initialized to the given time. Time stands
// still until Advance is called.
//
// FakeClock is safe for concurrent use by multiple goroutines.
func Fake(initial time.Time) *FakeClock {
	clock := &FakeClock{current: initial}
	clock.tickersChanged = sync.NewCond(&clock.mu)
	return clock
}

// FakeClock is a deterministic Clock for tests.
type FakeClock struct {
	mu             sync.Mutex
	current        time.Time
	tickers        []*fakeTicker
	tickersChanged *sync.Cond
}

type fakeTicker struct {
	deadline time.Time
	interval time.Duration
	channel  chan time.Time
	stopped  bool
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// NewTicker registers a ticker that fires each time Advance crosses
// one of its deadlines.
func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	ticker := &fakeTicker{
		deadline: c.current.Add(d),
		interval: d,
		channel:  make(chan time.Time, 1),
	}
	c.tickers = append(c.tickers, ticker)
	c.tickersChanged.Broadcast()

	return &Ticker{
		C: ticker.channel,
		stopFunc: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			ticker.stopped = true
		},
	}
}

// Advance moves the clock forward by d. Every live ticker whose
// deadline falls within the new time receives one non-blocking send
// and is rescheduled past the new time.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.current = c.current.Add(d)
	live := c.tickers[:0]
	for _, ticker := range c.tickers {
		if ticker.stopped {
			continue
		}
		if !ticker.deadline.After(c.current) {
			select {
			case ticker.channel <- c.current:
			default:
			}
			for !ticker.deadline.After(c.current) {
				ticker.deadline = ticker.deadline.Add(ticker.interval)
			}
		}
		live = append(live, ticker)
	}
	c.tickers = live
}

// WaitForTickers blocks until at least n live tickers are registered.
// Use it to avoid racing a goroutine's NewTicker call with Advance.
func (c *FakeClock) WaitForTickers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.liveCountLocked() < n {
		c.tickersChanged.Wait()
	}
}

func (c *FakeClock) liveCountLocked() int {
	count := 0
	for _, ticker := range c.tickers {
		if !ticker.stopped {
			count++
		}
	}
	return count
}
