// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package update

import (
	"errors"
	"fmt"

	"github.com/bureau-foundation/depot/lib/download"
)

var (
	// ErrAlreadyPrepared is returned by Preparer.Run after a
	// successful or in-progress preparation.
	ErrAlreadyPrepared = errors.New("preparation already ran")

	// ErrNotPrepared is returned when an operation needs the
	// installer index and the Preparer has not succeeded.
	ErrNotPrepared = errors.New("store is not prepared")

	// ErrNotChecked is returned by Updater operations before an
	// update check has succeeded.
	ErrNotChecked = errors.New("update check has not completed")

	// ErrCheckInProgress is returned by Checker.Check while another
	// check is running.
	ErrCheckInProgress = errors.New("update check already in progress")

	// ErrGroupUpdateInProgress is returned by Checker.Check while
	// any resource group is downloading.
	ErrGroupUpdateInProgress = errors.New("resource group update in progress")

	// ErrResourceWithdrawn fails a group whose downloaded resource is
	// no longer described by the current remote index.
	ErrResourceWithdrawn = errors.New("resource no longer in the remote index")

	// ErrNoMirrors fails a check that has no mirror to download the
	// remote index from.
	ErrNoMirrors = errors.New("no mirrors configured")

	// ErrMissingCallback is returned when a required failure callback
	// is nil.
	ErrMissingCallback = errors.New("required failure callback is missing")

	// ErrUnknownGroup is returned for a group id absent from the
	// summaries.
	ErrUnknownGroup = errors.New("unknown resource group")

	// ErrGroupUpToDate is returned by StartGroup for a group with
	// nothing left to download.
	ErrGroupUpToDate = errors.New("resource group is up to date")

	// ErrGroupBeingUpdated is returned by StartGroup for a group that
	// is already downloading.
	ErrGroupBeingUpdated = errors.New("resource group is already being updated")

	// ErrBaseGroupNotReady is returned by StartGroup for any group
	// other than the base group while the base group is out of date.
	ErrBaseGroupNotReady = errors.New("base resource group is not up to date")

	// ErrMirrorsExhausted wraps the last transfer error once every
	// mirror has been tried.
	ErrMirrorsExhausted = errors.New("all mirrors failed")

	// ErrRemoteIndexMismatch is returned when the decompressed remote
	// index does not have the advertised length or CRC32.
	ErrRemoteIndexMismatch = errors.New("remote index does not match advertised length or checksum")
)

// TransferError is a failed download of one file.
type TransferError struct {
	Path    string
	URL     string
	Code    download.ErrorCode
	Message string
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("downloading %s from %s: %s: %s", e.Path, e.URL, e.Code, e.Message)
}
