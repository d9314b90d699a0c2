// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package contentindex

import (
	"encoding/hex"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// CRC32 returns the IEEE CRC32 of data, the checksum carried in
// ResourceInfo and verified by the downloader.
func CRC32(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// CRC32File returns the size and IEEE CRC32 of the file at path.
func CRC32File(path string) (int64, uint32, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer file.Close()

	hasher := crc32.NewIEEE()
	size, err := io.Copy(hasher, file)
	if err != nil {
		return 0, 0, fmt.Errorf("reading %s: %w", path, err)
	}
	return size, hasher.Sum32(), nil
}

// HashContent returns the hex-encoded BLAKE3 digest of everything read
// from r, the format of ResourceInfo.Hash.
func HashContent(r io.Reader) (string, error) {
	hasher := blake3.New()
	if _, err := io.Copy(hasher, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// HashBytes is HashContent for an in-memory buffer.
func HashBytes(data []byte) string {
	digest := blake3.Sum256(data)
	return hex.EncodeToString(digest[:])
}

// DescribeBytes builds the ResourceInfo for a resource whose contents
// are data.
func DescribeBytes(path string, data []byte) ResourceInfo {
	return ResourceInfo{
		Path:  path,
		CRC32: CRC32(data),
		Size:  int64(len(data)),
		Hash:  HashBytes(data),
	}
}
