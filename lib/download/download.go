// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package download

import (
	"fmt"
	"time"
)

// TaskID identifies a queued or running transfer. Ids are never
// reused by a Downloader instance.
type TaskID int64

// UnknownSize is the ExpectedSize of a task whose length is not known
// in advance. Size verification is skipped for such tasks.
const UnknownSize = -1

// ErrorCode classifies a transfer failure.
type ErrorCode int

const (
	ErrorUnknown ErrorCode = iota
	ErrorStoppedByUser
	ErrorTimeout
	ErrorNetwork
	ErrorWeb
	ErrorWrongChecksum
	ErrorWrongSize
	ErrorFileIO
)

// String returns the code name used in logs.
func (c ErrorCode) String() string {
	switch c {
	case ErrorUnknown:
		return "unknown"
	case ErrorStoppedByUser:
		return "stopped_by_user"
	case ErrorTimeout:
		return "timeout"
	case ErrorNetwork:
		return "network"
	case ErrorWeb:
		return "web"
	case ErrorWrongChecksum:
		return "wrong_checksum"
	case ErrorWrongSize:
		return "wrong_size"
	case ErrorFileIO:
		return "file_io"
	default:
		return fmt.Sprintf("code(%d)", int(c))
	}
}

// Retryable reports whether a failure with this code may succeed if
// the same file is requested again, possibly from another mirror.
func (c ErrorCode) Retryable() bool {
	switch c {
	case ErrorTimeout, ErrorNetwork, ErrorWeb, ErrorWrongChecksum, ErrorWrongSize:
		return true
	default:
		return false
	}
}

// Error is a classified transfer failure.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Callbacks receive the outcome of a task. Any of them may be nil.
type Callbacks struct {
	OnSuccess  func(id TaskID, task *Task)
	OnFailure  func(id TaskID, task *Task, code ErrorCode, message string)
	OnProgress func(id TaskID, task *Task, downloadedBytes int64)
}

// Task describes one file transfer.
type Task struct {
	URL      string
	SavePath string

	// ExpectedSize is the exact length of the file, or UnknownSize.
	ExpectedSize int64

	// ExpectedCRC32 is the IEEE CRC32 of the file, if known.
	ExpectedCRC32 *uint32

	Callbacks Callbacks

	// Context is carried through unchanged for the caller's use.
	Context any
}

// Downloader is the transfer collaborator consumed by the update
// engine.
type Downloader interface {
	// StartDownloading queues task and returns its id.
	StartDownloading(task *Task) TaskID

	// StopDownloading cancels a waiting or running task. A quiet stop
	// suppresses the failure callback; otherwise OnFailure is invoked
	// with ErrorStoppedByUser before StopDownloading returns. Returns
	// false if no such task exists.
	StopDownloading(id TaskID, quiet bool) bool

	// Update delivers pending callbacks and starts queued tasks. Must
	// be called from the tick.
	Update(elapsed time.Duration)
}

// CRC32Pointer is a convenience for filling Task.ExpectedCRC32.
func CRC32Pointer(value uint32) *uint32 { return &value }
