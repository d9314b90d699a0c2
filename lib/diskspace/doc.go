// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package diskspace reports free space on the filesystem holding a
// path. The engine consults it before starting a group update so a
// download that cannot fit fails before any bytes are transferred.
package diskspace
