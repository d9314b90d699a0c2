// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package loader

import (
	"os"
	"time"
)

// ResourceTask loads one resource. Tasks are reused: Reset returns a
// finished task to its initial state.
type ResourceTask interface {
	// Start begins loading path from directory.
	Start(directory, path string)

	// Update advances the task by one tick.
	Update(elapsed time.Duration)

	Done() bool

	// Progress is in [0, 1].
	Progress() float64

	// Err is the failure, if the task finished unsuccessfully.
	Err() error

	// Resource is the loaded object once Done with no error.
	Resource() any

	Reset()
}

// AssetTask extracts one asset from a loaded resource.
type AssetTask interface {
	// Start begins extracting assetPath from resource.
	Start(resource any, assetPath string)

	Update(elapsed time.Duration)
	Done() bool
	Progress() float64
	Err() error

	// Asset is the extracted object once Done with no error.
	Asset() any

	Reset()
}

// FileResourceTask reads a resource file into memory on a background
// goroutine. The loaded object is the file's bytes.
type FileResourceTask struct {
	result chan fileResult
	done   bool
	data   []byte
	err    error
}

type fileResult struct {
	data []byte
	err  error
}

// NewFileResourceTask returns a ResourceTask reading whole files.
func NewFileResourceTask() ResourceTask { return &FileResourceTask{} }

func (t *FileResourceTask) Start(directory, path string) {
	result := make(chan fileResult, 1)
	t.result = result
	filePath := resourceFilePath(directory, path)
	go func() {
		data, err := os.ReadFile(filePath)
		result <- fileResult{data: data, err: err}
	}()
}

func (t *FileResourceTask) Update(time.Duration) {
	if t.done || t.result == nil {
		return
	}
	select {
	case result := <-t.result:
		t.done = true
		t.data = result.data
		t.err = result.err
	default:
	}
}

func (t *FileResourceTask) Done() bool { return t.done }

func (t *FileResourceTask) Progress() float64 {
	if t.done {
		return 1
	}
	return 0
}

func (t *FileResourceTask) Err() error    { return t.err }
func (t *FileResourceTask) Resource() any { return t.data }

func (t *FileResourceTask) Reset() { *t = FileResourceTask{} }

// WholeResourceAssetTask extracts the loaded resource object itself,
// for resources that hold exactly one asset.
type WholeResourceAssetTask struct {
	asset any
	done  bool
}

// NewWholeResourceAssetTask returns an AssetTask that yields the
// resource object unchanged.
func NewWholeResourceAssetTask() AssetTask { return &WholeResourceAssetTask{} }

func (t *WholeResourceAssetTask) Start(resource any, _ string) {
	t.asset = resource
	t.done = true
}

func (t *WholeResourceAssetTask) Update(time.Duration) {}
func (t *WholeResourceAssetTask) Done() bool           { return t.done }
func (t *WholeResourceAssetTask) Progress() float64 {
	if t.done {
		return 1
	}
	return 0
}
func (t *WholeResourceAssetTask) Err() error { return nil }
func (t *WholeResourceAssetTask) Asset() any { return t.asset }
func (t *WholeResourceAssetTask) Reset()     { *t = WholeResourceAssetTask{} }
