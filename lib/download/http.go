// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package download

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// maxErrorBody bounds how much of an HTTP error response is copied
// into the failure message.
const maxErrorBody = 512

// partialSuffix is appended to the destination path while a transfer
// is in progress.
const partialSuffix = ".download"

// HTTPOptions configures an HTTPDownloader.
type HTTPOptions struct {
	// Client performs the requests. Nil uses a client with no
	// overall timeout (Timeout below bounds each transfer instead).
	Client *http.Client

	// Concurrency bounds simultaneous transfers. Must be at least 1.
	Concurrency int

	// Timeout bounds each transfer from request to last byte.
	Timeout time.Duration

	// UserAgent, if set, is sent with every request.
	UserAgent string

	Logger *slog.Logger
}

// HTTPDownloader fetches files over HTTP(S). Transfers run in their
// own goroutines; results are queued and delivered by Update.
type HTTPDownloader struct {
	client      *http.Client
	concurrency int
	timeout     time.Duration
	userAgent   string
	logger      *slog.Logger

	// Owned by the tick.
	nextID  TaskID
	waiting []*httpTransfer
	running map[TaskID]*httpTransfer

	// completions is appended to by transfer goroutines and drained
	// by Update.
	mu          sync.Mutex
	completions []completion
}

type httpTransfer struct {
	id     TaskID
	task   *Task
	cancel context.CancelFunc

	// downloaded is written by the transfer goroutine; reported is
	// the value last passed to OnProgress.
	downloaded atomic.Int64
	reported   int64
}

type completion struct {
	id  TaskID
	err *Error
}

// NewHTTP returns an HTTPDownloader.
func NewHTTP(options HTTPOptions) (*HTTPDownloader, error) {
	if options.Concurrency < 1 {
		return nil, fmt.Errorf("download concurrency must be at least 1 (got %d)", options.Concurrency)
	}
	if options.Logger == nil {
		return nil, errors.New("download: logger is required")
	}
	client := options.Client
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPDownloader{
		client:      client,
		concurrency: options.Concurrency,
		timeout:     options.Timeout,
		userAgent:   options.UserAgent,
		logger:      options.Logger,
		running:     make(map[TaskID]*httpTransfer),
	}, nil
}

// StartDownloading queues task. The transfer begins on a later Update
// once a concurrency slot is free.
func (d *HTTPDownloader) StartDownloading(task *Task) TaskID {
	d.nextID++
	d.waiting = append(d.waiting, &httpTransfer{id: d.nextID, task: task})
	return d.nextID
}

// StopDownloading cancels a waiting or running transfer.
func (d *HTTPDownloader) StopDownloading(id TaskID, quiet bool) bool {
	var transfer *httpTransfer
	for i, waiting := range d.waiting {
		if waiting.id == id {
			transfer = waiting
			d.waiting = append(d.waiting[:i], d.waiting[i+1:]...)
			break
		}
	}
	if transfer == nil {
		transfer = d.running[id]
		if transfer == nil {
			return false
		}
		delete(d.running, id)
		// The goroutine observes the cancellation, removes its partial
		// file, and queues a completion that Update discards because
		// the id is no longer running.
		transfer.cancel()
	}

	if !quiet && transfer.task.Callbacks.OnFailure != nil {
		transfer.task.Callbacks.OnFailure(id, transfer.task, ErrorStoppedByUser, "stopped by user")
	}
	return true
}

// Update delivers completions and progress, then fills free slots
// from the waiting queue.
func (d *HTTPDownloader) Update(elapsed time.Duration) {
	d.mu.Lock()
	completions := d.completions
	d.completions = nil
	d.mu.Unlock()

	for _, transfer := range d.running {
		downloaded := transfer.downloaded.Load()
		if downloaded != transfer.reported {
			transfer.reported = downloaded
			if callback := transfer.task.Callbacks.OnProgress; callback != nil {
				callback(transfer.id, transfer.task, downloaded)
			}
		}
	}

	for _, result := range completions {
		transfer, ok := d.running[result.id]
		if !ok {
			continue
		}
		delete(d.running, result.id)
		transfer.cancel()

		callbacks := transfer.task.Callbacks
		if result.err == nil {
			if callbacks.OnSuccess != nil {
				callbacks.OnSuccess(transfer.id, transfer.task)
			}
			continue
		}
		d.logger.Warn("download failed",
			"url", transfer.task.URL,
			"code", result.err.Code.String(),
			"error", result.err.Message,
		)
		if callbacks.OnFailure != nil {
			callbacks.OnFailure(transfer.id, transfer.task, result.err.Code, result.err.Message)
		}
	}

	for len(d.running) < d.concurrency && len(d.waiting) > 0 {
		transfer := d.waiting[0]
		d.waiting = d.waiting[1:]

		var ctx context.Context
		var cancel context.CancelFunc
		if d.timeout > 0 {
			ctx, cancel = context.WithTimeout(context.Background(), d.timeout)
		} else {
			ctx, cancel = context.WithCancel(context.Background())
		}
		transfer.cancel = cancel
		d.running[transfer.id] = transfer
		go d.run(ctx, transfer)
	}
}

// Active returns the number of waiting plus running transfers.
func (d *HTTPDownloader) Active() int {
	return len(d.waiting) + len(d.running)
}

func (d *HTTPDownloader) run(ctx context.Context, transfer *httpTransfer) {
	err := d.fetch(ctx, transfer)
	d.mu.Lock()
	d.completions = append(d.completions, completion{id: transfer.id, err: err})
	d.mu.Unlock()
}

func (d *HTTPDownloader) fetch(ctx context.Context, transfer *httpTransfer) *Error {
	task := transfer.task

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, task.URL, nil)
	if err != nil {
		return &Error{Code: ErrorUnknown, Message: fmt.Sprintf("building request: %v", err)}
	}
	if d.userAgent != "" {
		request.Header.Set("User-Agent", d.userAgent)
	}
	response, err := d.client.Do(request)
	if err != nil {
		return classifyTransportError(ctx, err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBody))
		return &Error{
			Code:    ErrorWeb,
			Message: fmt.Sprintf("HTTP %d from %s: %s", response.StatusCode, task.URL, strings.TrimSpace(string(body))),
		}
	}

	if err := os.MkdirAll(filepath.Dir(task.SavePath), 0o755); err != nil {
		return &Error{Code: ErrorFileIO, Message: err.Error()}
	}
	partialPath := task.SavePath + partialSuffix
	file, err := os.Create(partialPath)
	if err != nil {
		return &Error{Code: ErrorFileIO, Message: err.Error()}
	}

	success := false
	defer func() {
		if !success {
			os.Remove(partialPath)
		}
	}()

	hasher := crc32.NewIEEE()
	buffer := make([]byte, 64<<10)
	var written int64
	for {
		n, readErr := response.Body.Read(buffer)
		if n > 0 {
			if _, err := file.Write(buffer[:n]); err != nil {
				file.Close()
				return &Error{Code: ErrorFileIO, Message: fmt.Sprintf("writing %s: %v", partialPath, err)}
			}
			hasher.Write(buffer[:n])
			written += int64(n)
			transfer.downloaded.Store(written)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			file.Close()
			return classifyTransportError(ctx, readErr)
		}
	}
	if err := file.Close(); err != nil {
		return &Error{Code: ErrorFileIO, Message: fmt.Sprintf("closing %s: %v", partialPath, err)}
	}

	if task.ExpectedSize != UnknownSize && written != task.ExpectedSize {
		return &Error{
			Code:    ErrorWrongSize,
			Message: fmt.Sprintf("%s: got %d bytes, expected %d", task.URL, written, task.ExpectedSize),
		}
	}
	if task.ExpectedCRC32 != nil && hasher.Sum32() != *task.ExpectedCRC32 {
		return &Error{
			Code:    ErrorWrongChecksum,
			Message: fmt.Sprintf("%s: crc32 %08x, expected %08x", task.URL, hasher.Sum32(), *task.ExpectedCRC32),
		}
	}

	if err := os.Rename(partialPath, task.SavePath); err != nil {
		return &Error{Code: ErrorFileIO, Message: fmt.Sprintf("renaming into %s: %v", task.SavePath, err)}
	}
	success = true
	return nil
}

// classifyTransportError maps request and body-read errors to codes.
func classifyTransportError(ctx context.Context, err error) *Error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return &Error{Code: ErrorStoppedByUser, Message: "stopped by user"}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Code: ErrorTimeout, Message: err.Error()}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Code: ErrorTimeout, Message: err.Error()}
	}
	return &Error{Code: ErrorNetwork, Message: err.Error()}
}
