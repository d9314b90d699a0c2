// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package downloadtest provides a scriptable download.Downloader for
// tests of the update engine. Tests decide when and how each transfer
// finishes; outcomes are delivered on the next Update, matching the
// real downloader's callback timing.
package downloadtest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bureau-foundation/depot/lib/download"
)

// Fake is a download.Downloader driven by the test.
type Fake struct {
	mu      sync.Mutex
	nextID  download.TaskID
	active  map[download.TaskID]*download.Task
	started []Started
	pending []event
}

// Started records one StartDownloading call.
type Started struct {
	ID   download.TaskID
	Task *download.Task
}

type eventKind int

const (
	eventSuccess eventKind = iota
	eventFailure
	eventProgress
)

type event struct {
	id      download.TaskID
	kind    eventKind
	code    download.ErrorCode
	message string
	bytes   int64
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{active: make(map[download.TaskID]*download.Task)}
}

// StartDownloading records task and returns a fresh id.
func (f *Fake) StartDownloading(task *download.Task) download.TaskID {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.active[f.nextID] = task
	f.started = append(f.started, Started{ID: f.nextID, Task: task})
	return f.nextID
}

// StopDownloading removes an active task. Non-quiet stops report
// ErrorStoppedByUser synchronously.
func (f *Fake) StopDownloading(id download.TaskID, quiet bool) bool {
	f.mu.Lock()
	task, ok := f.active[id]
	delete(f.active, id)
	f.mu.Unlock()
	if !ok {
		return false
	}
	if !quiet && task.Callbacks.OnFailure != nil {
		task.Callbacks.OnFailure(id, task, download.ErrorStoppedByUser, "stopped by user")
	}
	return true
}

// Update delivers queued outcomes for tasks that are still active.
func (f *Fake) Update(time.Duration) {
	f.mu.Lock()
	pending := f.pending
	f.pending = nil
	f.mu.Unlock()

	for _, ev := range pending {
		f.mu.Lock()
		task, ok := f.active[ev.id]
		if ok && ev.kind != eventProgress {
			delete(f.active, ev.id)
		}
		f.mu.Unlock()
		if !ok {
			continue
		}

		callbacks := task.Callbacks
		switch ev.kind {
		case eventSuccess:
			if callbacks.OnSuccess != nil {
				callbacks.OnSuccess(ev.id, task)
			}
		case eventFailure:
			if callbacks.OnFailure != nil {
				callbacks.OnFailure(ev.id, task, ev.code, ev.message)
			}
		case eventProgress:
			if callbacks.OnProgress != nil {
				callbacks.OnProgress(ev.id, task, ev.bytes)
			}
		}
	}
}

// Succeed writes data to the task's SavePath now and queues the
// success callback.
func (f *Fake) Succeed(id download.TaskID, data []byte) error {
	f.mu.Lock()
	task, ok := f.active[id]
	f.mu.Unlock()
	if !ok {
		return fmt.Errorf("downloadtest: task %d is not active", id)
	}
	if err := os.MkdirAll(filepath.Dir(task.SavePath), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(task.SavePath, data, 0o644); err != nil {
		return err
	}
	f.queue(event{id: id, kind: eventSuccess})
	return nil
}

// Fail queues a failure callback for id.
func (f *Fake) Fail(id download.TaskID, code download.ErrorCode, message string) {
	f.queue(event{id: id, kind: eventFailure, code: code, message: message})
}

// Progress queues a progress callback for id.
func (f *Fake) Progress(id download.TaskID, downloadedBytes int64) {
	f.queue(event{id: id, kind: eventProgress, bytes: downloadedBytes})
}

func (f *Fake) queue(ev event) {
	f.mu.Lock()
	f.pending = append(f.pending, ev)
	f.mu.Unlock()
}

// Active returns the active tasks keyed by id.
func (f *Fake) Active() map[download.TaskID]*download.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	active := make(map[download.TaskID]*download.Task, len(f.active))
	for id, task := range f.active {
		active[id] = task
	}
	return active
}

// Started returns every StartDownloading call in order.
func (f *Fake) Started() []Started {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Started(nil), f.started...)
}

// FindActive returns the id of the active task whose URL ends with
// suffix.
func (f *Fake) FindActive(suffix string) (download.TaskID, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var found download.TaskID
	for id, task := range f.active {
		if strings.HasSuffix(task.URL, suffix) {
			if found == 0 || id < found {
				found = id
			}
		}
	}
	return found, found != 0
}

var _ download.Downloader = (*Fake)(nil)
