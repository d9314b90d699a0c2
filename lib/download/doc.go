// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package download defines the transfer contract the update engine
// consumes and ships a plain HTTP implementation of it.
//
// The contract is deliberately small: [Downloader.StartDownloading]
// queues a [Task] and returns its id, [Downloader.StopDownloading]
// cancels it, and [Downloader.Update] is called once per engine tick.
// Every callback (success, failure, progress) is delivered from inside
// Update, never from a transfer goroutine, so the engine's state
// machines only ever run on the tick.
//
// Failures carry an [ErrorCode]. The engine retries the codes for which
// [ErrorCode.Retryable] is true and treats everything else as terminal.
// [ErrorStoppedByUser] is reported only for non-quiet stops.
//
// Resumable and chunked transfers are out of scope: [HTTPDownloader]
// fetches each file in one request into a temporary file beside the
// destination, verifies size and CRC32, and renames it into place.
package download
