// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package update

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/bureau-foundation/depot/lib/config"
	"github.com/bureau-foundation/depot/lib/contentindex"
	"github.com/bureau-foundation/depot/lib/download"
)

// GroupStatus is the update state of one resource group.
type GroupStatus int

const (
	GroupUpToDate GroupStatus = iota
	GroupOutOfDate
	GroupBeingUpdated
)

func (s GroupStatus) String() string {
	switch s {
	case GroupUpToDate:
		return "up_to_date"
	case GroupOutOfDate:
		return "out_of_date"
	case GroupBeingUpdated:
		return "being_updated"
	default:
		return fmt.Sprintf("GroupStatus(%d)", int(s))
	}
}

// GroupCallbacks observe one group update. OnGroupFailure is
// required; the rest are optional.
type GroupCallbacks struct {
	OnResourceSuccess func(groupID int, path string)
	OnResourceFailure func(groupID int, path string, err error)

	// OnResourceRetry is called before each further attempt at a
	// resource. mirror and attempt identify the attempt that failed;
	// attempt counts from 1 on each mirror.
	OnResourceRetry func(groupID int, path string, mirror, attempt int, err *TransferError)

	// OnGroupProgress is called from Update when the group's
	// downloaded byte count changed since the previous tick.
	OnGroupProgress func(groupID int, downloaded, total int64)

	OnGroupSuccess func(groupID int)
	OnGroupFailure func(groupID int, err error)
}

// Updater downloads the pending resources of resource groups.
type Updater struct {
	store      *Store
	settings   config.UpdateConfig
	downloader download.Downloader
	logger     *slog.Logger

	groups map[int]*groupUpdate
}

// groupUpdate is the in-flight record of one group.
type groupUpdate struct {
	id        int
	callbacks GroupCallbacks

	// tasks maps each live download to its resource.
	tasks map[download.TaskID]*resourceDownload

	// target is the number of bytes pending when the update started.
	target int64

	completedBytes int64
	inFlightBytes  map[download.TaskID]int64
	reportedBytes  int64

	// unflushedBytes have been merged into the read-write index in
	// memory but not yet persisted.
	unflushedBytes int64
}

// resourceDownload is the retry context carried by each task.
type resourceDownload struct {
	path    string
	groupID int
	size    int64
	retry   retryState
}

// NewUpdater returns an Updater operating on store.
func NewUpdater(store *Store, settings config.UpdateConfig, downloader download.Downloader, logger *slog.Logger) *Updater {
	return &Updater{
		store:      store,
		settings:   settings,
		downloader: downloader,
		logger:     logger,
		groups:     store.updating,
	}
}

// GroupStatus reports the status of a group. Unknown groups, and all
// groups before an update check, report GroupUpToDate with ok false.
func (u *Updater) GroupStatus(groupID int) (status GroupStatus, ok bool) {
	if _, updating := u.groups[groupID]; updating {
		return GroupBeingUpdated, true
	}
	summary, known := u.store.Summary(groupID)
	if !known {
		return GroupUpToDate, false
	}
	if !summary.UpToDate() {
		return GroupOutOfDate, true
	}
	return GroupUpToDate, true
}

// IsUpToDate reports whether a group has nothing left to download.
func (u *Updater) IsUpToDate(groupID int) bool {
	status, _ := u.GroupStatus(groupID)
	return status == GroupUpToDate
}

// StartGroup starts downloading every pending resource of a group.
func (u *Updater) StartGroup(groupID int, callbacks GroupCallbacks) error {
	if callbacks.OnGroupFailure == nil {
		return fmt.Errorf("%w: GroupCallbacks.OnGroupFailure", ErrMissingCallback)
	}
	if !u.store.Checked() {
		return ErrNotChecked
	}
	summary, known := u.store.Summary(groupID)
	if !known {
		return fmt.Errorf("%w: %d", ErrUnknownGroup, groupID)
	}
	if summary.UpToDate() {
		return fmt.Errorf("%w: %d", ErrGroupUpToDate, groupID)
	}
	if _, updating := u.groups[groupID]; updating {
		return fmt.Errorf("%w: %d", ErrGroupBeingUpdated, groupID)
	}
	if groupID != contentindex.BaseGroupID && u.settings.GatesBaseGroup() && !u.IsUpToDate(contentindex.BaseGroupID) {
		return fmt.Errorf("%w: cannot start group %d", ErrBaseGroupNotReady, groupID)
	}
	if len(u.store.mirrors) == 0 || u.store.remote == nil {
		return fmt.Errorf("%w: no remote index or mirrors to download group %d from", ErrNotChecked, groupID)
	}

	group := &groupUpdate{
		id:            groupID,
		callbacks:     callbacks,
		tasks:         make(map[download.TaskID]*resourceDownload),
		target:        summary.RemainingSize,
		inFlightBytes: make(map[download.TaskID]int64),
	}
	u.groups[groupID] = group

	paths := summary.PendingPaths()
	u.logger.Info("starting group update",
		"group", groupID,
		"resources", len(paths),
		"bytes", summary.RemainingSize,
	)
	for _, path := range paths {
		u.start(group, &resourceDownload{path: path, groupID: groupID, size: summary.Pending[path]})
	}
	return nil
}

// StopGroup quietly stops every download of a group and forgets it.
// Returns false if the group was not being updated.
func (u *Updater) StopGroup(groupID int) bool {
	group, ok := u.groups[groupID]
	if !ok {
		return false
	}
	delete(u.groups, groupID)
	u.stopAll(group)
	u.logger.Info("group update stopped", "group", groupID)
	return true
}

// Update reports group progress that changed since the last tick.
func (u *Updater) Update(time.Duration) {
	for _, group := range u.groups {
		downloaded := group.completedBytes
		for _, bytes := range group.inFlightBytes {
			downloaded += bytes
		}
		if downloaded == group.reportedBytes {
			continue
		}
		group.reportedBytes = downloaded
		if callback := group.callbacks.OnGroupProgress; callback != nil {
			callback(group.id, downloaded, group.target)
		}
	}
}

func (u *Updater) start(group *groupUpdate, resource *resourceDownload) {
	remoteInfo := u.store.remote.Resources[resource.path]
	task := &download.Task{
		URL:           mirrorFileURL(u.store.mirrors[resource.retry.mirror], resource.path),
		SavePath:      ResourceFilePath(u.store.readWriteRoot, resource.path),
		ExpectedSize:  remoteInfo.Size,
		ExpectedCRC32: download.CRC32Pointer(remoteInfo.CRC32),
		Callbacks: download.Callbacks{
			OnSuccess:  u.onSuccess,
			OnFailure:  u.onFailure,
			OnProgress: u.onProgress,
		},
		Context: resource,
	}
	id := u.downloader.StartDownloading(task)
	group.tasks[id] = resource
}

// tracked returns the group owning a task, or nil if the task belongs
// to a group that was stopped or failed.
func (u *Updater) tracked(id download.TaskID, task *download.Task) (*groupUpdate, *resourceDownload) {
	resource, ok := task.Context.(*resourceDownload)
	if !ok {
		return nil, nil
	}
	group := u.groups[resource.groupID]
	if group == nil || group.tasks[id] != resource {
		return nil, nil
	}
	return group, resource
}

func (u *Updater) onProgress(id download.TaskID, task *download.Task, downloaded int64) {
	group, _ := u.tracked(id, task)
	if group == nil {
		return
	}
	group.inFlightBytes[id] = downloaded
}

func (u *Updater) onSuccess(id download.TaskID, task *download.Task) {
	group, resource := u.tracked(id, task)
	if group == nil {
		return
	}
	delete(group.tasks, id)
	delete(group.inFlightBytes, id)

	summary, known := u.store.Summary(group.id)
	var remoteInfo contentindex.ResourceInfo
	var listed bool
	if u.store.remote != nil {
		remoteInfo, listed = u.store.remote.Resources[resource.path]
	}
	if !known || !listed {
		u.abort(group, resource.path, fmt.Errorf("%w: %s in group %d", ErrResourceWithdrawn, resource.path, group.id))
		return
	}
	size := summary.complete(resource.path)
	group.completedBytes += size
	group.unflushedBytes += size
	u.store.readWrite.Resources[resource.path] = remoteInfo

	if callback := group.callbacks.OnResourceSuccess; callback != nil {
		callback(group.id, resource.path)
	}
	if u.groups[group.id] != group {
		// A callback stopped the group.
		return
	}

	finished := summary.UpToDate() && len(group.tasks) == 0
	if finished || group.unflushedBytes >= u.settings.BytesBeforeFlush {
		if err := u.store.SaveReadWrite(); err != nil {
			err = fmt.Errorf("persisting read-write index after %s: %w", resource.path, err)
			group.unflushedBytes = 0
			u.abort(group, resource.path, err)
			return
		}
		group.unflushedBytes = 0
	}
	if !finished {
		return
	}

	delete(u.groups, group.id)
	if group.completedBytes != group.reportedBytes {
		group.reportedBytes = group.completedBytes
		if callback := group.callbacks.OnGroupProgress; callback != nil {
			callback(group.id, group.completedBytes, group.target)
		}
	}
	u.logger.Info("group update complete", "group", group.id, "bytes", group.completedBytes)
	if callback := group.callbacks.OnGroupSuccess; callback != nil {
		callback(group.id)
	}
}

func (u *Updater) onFailure(id download.TaskID, task *download.Task, code download.ErrorCode, message string) {
	group, resource := u.tracked(id, task)
	if group == nil {
		return
	}
	delete(group.tasks, id)
	delete(group.inFlightBytes, id)

	transferErr := &TransferError{Path: resource.path, URL: task.URL, Code: code, Message: message}
	if !code.Retryable() {
		u.abort(group, resource.path, transferErr)
		return
	}

	failedMirror, attempt := resource.retry.mirror, resource.retry.attempts+1
	if !resource.retry.advance(u.settings.Retries(), len(u.store.mirrors)) {
		u.abort(group, resource.path, fmt.Errorf("%w: %w", ErrMirrorsExhausted, transferErr))
		return
	}
	u.logger.Warn("resource download failed, retrying",
		"group", group.id,
		"path", resource.path,
		"mirror", failedMirror,
		"attempt", attempt,
		"code", code.String(),
		"error", message,
	)
	if callback := group.callbacks.OnResourceRetry; callback != nil {
		callback(group.id, resource.path, failedMirror, attempt, transferErr)
		if u.groups[group.id] != group {
			return
		}
	}
	u.start(group, resource)
}

// abort fails one resource and with it the whole group. Every other
// download of the group is stopped before the failure is reported.
func (u *Updater) abort(group *groupUpdate, path string, err error) {
	delete(u.groups, group.id)
	u.stopAll(group)

	// Keep whatever already succeeded.
	if group.unflushedBytes > 0 {
		if saveErr := u.store.SaveReadWrite(); saveErr != nil {
			u.logger.Warn("persisting read-write index after group failure", "group", group.id, "error", saveErr)
		}
	}

	u.logger.Error("group update failed", "group", group.id, "path", path, "error", err)
	if callback := group.callbacks.OnResourceFailure; callback != nil {
		callback(group.id, path, err)
	}
	group.callbacks.OnGroupFailure(group.id, fmt.Errorf("updating group %d: %w", group.id, err))
}

func (u *Updater) stopAll(group *groupUpdate) {
	for id := range group.tasks {
		u.downloader.StopDownloading(id, true)
	}
	group.tasks = make(map[download.TaskID]*resourceDownload)
	group.inFlightBytes = make(map[download.TaskID]int64)
}
