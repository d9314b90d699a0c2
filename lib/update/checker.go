// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package update

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/depot/lib/config"
	"github.com/bureau-foundation/depot/lib/contentindex"
	"github.com/bureau-foundation/depot/lib/download"
)

// CheckState is the lifecycle of one update check.
type CheckState int

const (
	CheckNone CheckState = iota
	CheckWaiting
	CheckCheckingNeedDownload
	CheckDownloading
	CheckUnzipping
)

func (s CheckState) String() string {
	switch s {
	case CheckNone:
		return "none"
	case CheckWaiting:
		return "waiting"
	case CheckCheckingNeedDownload:
		return "checking_need_download"
	case CheckDownloading:
		return "downloading"
	case CheckUnzipping:
		return "unzipping"
	default:
		return fmt.Sprintf("CheckState(%d)", int(s))
	}
}

// RemoteIndexInfo describes the remote index a check should adopt,
// as advertised by the version service.
type RemoteIndexInfo struct {
	InternalAssetVersion int `json:"internal_asset_version"`

	// Length and CRC32 describe the decompressed index.
	Length int64  `json:"length"`
	CRC32  uint32 `json:"crc32"`

	// ZipLength and ZipCRC32 describe the file as served by mirrors.
	ZipLength int64  `json:"zip_length"`
	ZipCRC32  uint32 `json:"zip_crc32"`
}

// CheckCallbacks observe one update check. OnFailure is required.
type CheckCallbacks struct {
	OnSuccess func()
	OnFailure func(err error)

	// OnRetry is called before each further attempt to download the
	// remote index. mirror and attempt identify the attempt that
	// failed; attempt counts from 1 on each mirror.
	OnRetry func(mirror, attempt int, err *TransferError)
}

// Checker decides which resources are stale and which need
// downloading. See the package documentation for the sequence.
type Checker struct {
	store      *Store
	settings   config.UpdateConfig
	downloader download.Downloader
	logger     *slog.Logger

	state     CheckState
	info      RemoteIndexInfo
	callbacks CheckCallbacks
	mirrors   []string
	retry     retryState
	taskID    download.TaskID

	// busy allows one background job (checksum or unzip) at a time.
	// The job clears it before publishing its result on results.
	busy    atomic.Bool
	results chan backgroundResult
}

type backgroundResult struct {
	// cacheMatches is set by the checksum job.
	cacheMatches bool

	// remote is set by a successful unzip job.
	remote *contentindex.Index

	err error
}

// NewChecker returns a Checker operating on store.
func NewChecker(store *Store, settings config.UpdateConfig, downloader download.Downloader, logger *slog.Logger) *Checker {
	return &Checker{
		store:      store,
		settings:   settings,
		downloader: downloader,
		logger:     logger,
	}
}

// State returns the current state.
func (c *Checker) State() CheckState { return c.state }

// Check begins an update check against the remote index described
// by info. The work proceeds on subsequent calls to Update; the
// outcome is reported through callbacks exactly once.
func (c *Checker) Check(info RemoteIndexInfo, callbacks CheckCallbacks) error {
	if callbacks.OnFailure == nil {
		return fmt.Errorf("%w: CheckCallbacks.OnFailure", ErrMissingCallback)
	}
	if !c.store.Prepared() {
		return ErrNotPrepared
	}
	if c.state != CheckNone {
		return fmt.Errorf("%w (state %s)", ErrCheckInProgress, c.state)
	}
	if groups := len(c.store.updating); groups > 0 {
		return fmt.Errorf("%w (%d groups)", ErrGroupUpdateInProgress, groups)
	}
	c.info = info
	c.callbacks = callbacks
	c.retry = retryState{}
	c.results = nil
	c.state = CheckWaiting
	return nil
}

// Update advances the check. Download callbacks arrive separately,
// from the downloader's own Update.
func (c *Checker) Update(time.Duration) {
	switch c.state {
	case CheckWaiting:
		c.begin()

	case CheckCheckingNeedDownload:
		result, ok := c.poll()
		if !ok {
			return
		}
		if result.err != nil {
			c.logger.Warn("cached remote index unreadable, downloading", "error", result.err)
		}
		if result.cacheMatches {
			c.logger.Info("cached remote index is current")
			c.state = CheckUnzipping
			c.startUnzip()
			return
		}
		c.startDownload()

	case CheckUnzipping:
		if c.results == nil {
			c.startUnzip()
			return
		}
		result, ok := c.poll()
		if !ok {
			return
		}
		if result.err != nil {
			c.fail(result.err)
			return
		}
		c.adopt(result.remote)
	}
}

func (c *Checker) begin() {
	if !c.settings.IsEnabled() {
		c.useInstallerOnly()
		return
	}
	c.mirrors = c.mirrorURLs()
	if len(c.mirrors) == 0 {
		c.fail(ErrNoMirrors)
		return
	}
	cachePath := c.store.RemoteIndexCachePath()
	info := c.info
	if !c.launch(func() backgroundResult { return checkCachedRemoteIndex(cachePath, info) }) {
		return
	}
	c.state = CheckCheckingNeedDownload
}

// useInstallerOnly adopts the installer layout with no downloaded
// resources, so every resource loads from the installer root.
func (c *Checker) useInstallerOnly() {
	installer := c.store.installer
	readWrite := c.store.readWrite
	readWrite.CopyLayout(installer)
	readWrite.Resources = make(map[string]contentindex.ResourceInfo)
	if err := c.store.SaveReadWrite(); err != nil {
		c.fail(fmt.Errorf("persisting installer-only read-write index: %w", err))
		return
	}
	c.store.remote = nil
	c.store.mirrors = nil
	c.store.summaries = zeroSummaries(installer)
	c.store.checked = true
	c.logger.Info("updates disabled, using installer resources only")
	c.succeed()
}

// mirrorURLs resolves every mirror root against the path template.
func (c *Checker) mirrorURLs() []string {
	installer := c.store.installer.Augmented
	version := contentindex.Augmented{
		BundleVersion:        installer.BundleVersion,
		InternalAssetVersion: c.info.InternalAssetVersion,
	}.VersionString()
	suffix := strings.NewReplacer(
		"{platform}", installer.Platform,
		"{version}", version,
	).Replace(c.settings.PathTemplate)
	suffix = strings.Trim(suffix, "/")

	mirrors := make([]string, 0, len(c.settings.MirrorRoots))
	for _, root := range c.settings.MirrorRoots {
		if suffix == "" {
			mirrors = append(mirrors, strings.TrimRight(root, "/"))
			continue
		}
		mirrors = append(mirrors, mirrorFileURL(root, suffix))
	}
	return mirrors
}

func (c *Checker) startDownload() {
	c.state = CheckDownloading
	task := &download.Task{
		URL:           mirrorFileURL(c.mirrors[c.retry.mirror], RemoteIndexFileName),
		SavePath:      c.store.RemoteIndexCachePath(),
		ExpectedSize:  c.info.ZipLength,
		ExpectedCRC32: download.CRC32Pointer(c.info.ZipCRC32),
		Callbacks: download.Callbacks{
			OnSuccess: c.onDownloadSuccess,
			OnFailure: c.onDownloadFailure,
		},
	}
	c.taskID = c.downloader.StartDownloading(task)
	c.logger.Info("downloading remote index", "url", task.URL)
}

func (c *Checker) onDownloadSuccess(id download.TaskID, _ *download.Task) {
	if c.state != CheckDownloading || id != c.taskID {
		return
	}
	c.state = CheckUnzipping
	c.startUnzip()
}

func (c *Checker) onDownloadFailure(id download.TaskID, task *download.Task, code download.ErrorCode, message string) {
	if c.state != CheckDownloading || id != c.taskID {
		return
	}
	transferErr := &TransferError{Path: RemoteIndexFileName, URL: task.URL, Code: code, Message: message}
	if !code.Retryable() {
		c.fail(fmt.Errorf("downloading remote index: %w", transferErr))
		return
	}

	failedMirror, attempt := c.retry.mirror, c.retry.attempts+1
	if !c.retry.advance(c.settings.Retries(), len(c.mirrors)) {
		c.fail(fmt.Errorf("downloading remote index: %w: %w", ErrMirrorsExhausted, transferErr))
		return
	}
	c.logger.Warn("remote index download failed, retrying",
		"mirror", failedMirror,
		"attempt", attempt,
		"code", code.String(),
		"error", message,
	)
	if c.callbacks.OnRetry != nil {
		c.callbacks.OnRetry(failedMirror, attempt, transferErr)
	}
	c.startDownload()
}

// startUnzip launches the decompression job, or leaves results nil
// so the next Update tries again if the previous job is still
// finishing.
func (c *Checker) startUnzip() {
	cachePath := c.store.RemoteIndexCachePath()
	info := c.info
	c.launch(func() backgroundResult { return unzipRemoteIndex(cachePath, info) })
}

// adopt applies a verified remote index: diff, persist the merged
// read-write index, delete stale files, persist again.
func (c *Checker) adopt(remote *contentindex.Index) {
	result := diffIndexes(c.store.installer, c.store.readWrite, remote)

	previous := c.store.readWrite
	c.store.readWrite = result.merged
	if err := c.store.SaveReadWrite(); err != nil {
		c.store.readWrite = previous
		c.fail(fmt.Errorf("persisting merged read-write index: %w", err))
		return
	}
	if err := removeResourceFiles(c.store.readWriteRoot, result.stale); err != nil {
		c.fail(err)
		return
	}
	if err := c.store.SaveReadWrite(); err != nil {
		c.fail(fmt.Errorf("persisting read-write index after cleanup: %w", err))
		return
	}

	c.store.remote = remote
	c.store.mirrors = c.mirrors
	c.store.summaries = result.summaries
	c.store.checked = true

	var pending int
	var remaining int64
	for _, summary := range result.summaries {
		pending += len(summary.Pending)
		remaining += summary.RemainingSize
	}
	c.logger.Info("update check complete",
		"version", remote.Augmented.VersionString(),
		"stale_deleted", len(result.stale),
		"pending_resources", pending,
		"pending_bytes", remaining,
	)
	c.succeed()
}

// launch starts job in the background unless another job holds the
// guard. Reports whether the job started.
func (c *Checker) launch(job func() backgroundResult) bool {
	if !c.busy.CompareAndSwap(false, true) {
		return false
	}
	results := make(chan backgroundResult, 1)
	c.results = results
	go func() {
		result := job()
		c.busy.Store(false)
		results <- result
	}()
	return true
}

// poll returns the background result if one is ready.
func (c *Checker) poll() (backgroundResult, bool) {
	select {
	case result := <-c.results:
		c.results = nil
		return result, true
	default:
		return backgroundResult{}, false
	}
}

func (c *Checker) succeed() {
	callbacks := c.callbacks
	c.state = CheckNone
	c.callbacks = CheckCallbacks{}
	if callbacks.OnSuccess != nil {
		callbacks.OnSuccess()
	}
}

func (c *Checker) fail(err error) {
	callbacks := c.callbacks
	c.state = CheckNone
	c.callbacks = CheckCallbacks{}
	c.logger.Error("update check failed", "error", err)
	callbacks.OnFailure(err)
}

// checkCachedRemoteIndex reports whether the cached remote index
// matches the advertised compressed length and CRC32. Runs off the
// tick.
func checkCachedRemoteIndex(path string, info RemoteIndexInfo) backgroundResult {
	size, checksum, err := contentindex.CRC32File(path)
	if errors.Is(err, os.ErrNotExist) {
		return backgroundResult{}
	}
	if err != nil {
		return backgroundResult{err: err}
	}
	return backgroundResult{cacheMatches: size == info.ZipLength && checksum == info.ZipCRC32}
}

// unzipRemoteIndex decompresses, verifies, decodes, and validates
// the cached remote index. A cached file that fails any step is
// removed so the next check downloads a fresh copy. Runs off the
// tick.
func unzipRemoteIndex(path string, info RemoteIndexInfo) backgroundResult {
	remote, err := readRemoteIndex(path, info)
	if err != nil {
		os.Remove(path)
		return backgroundResult{err: err}
	}
	return backgroundResult{remote: remote}
}

func readRemoteIndex(path string, info RemoteIndexInfo) (*contentindex.Index, error) {
	compressed, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading cached remote index: %w", err)
	}
	data, codec, err := contentindex.Decompress(compressed)
	if err != nil {
		return nil, fmt.Errorf("decompressing remote index: %w", err)
	}
	if int64(len(data)) != info.Length || contentindex.CRC32(data) != info.CRC32 {
		return nil, fmt.Errorf("%w: got %d bytes crc32 %08x (%s), expected %d bytes crc32 %08x",
			ErrRemoteIndexMismatch, len(data), contentindex.CRC32(data), codec, info.Length, info.CRC32)
	}
	remote, err := contentindex.Decode(data, contentindex.VariantRemote)
	if err != nil {
		return nil, fmt.Errorf("decoding remote index: %w", err)
	}
	if remote.Augmented == nil {
		return nil, errors.New("remote index carries no platform or version metadata")
	}
	if err := remote.Validate(); err != nil {
		return nil, fmt.Errorf("validating remote index: %w", err)
	}
	return remote, nil
}
