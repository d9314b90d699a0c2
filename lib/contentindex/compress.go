// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package contentindex

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec identifies the compression wrapping a distributed index.
type Codec uint8

const (
	// CodecNone is raw, uncompressed data.
	CodecNone Codec = iota

	// CodecZstd is a zstd frame. Best ratio; the default for remote
	// indexes.
	CodecZstd

	// CodecLZ4 is an LZ4 frame. Faster to decode on low-end devices.
	CodecLZ4
)

// String returns the codec name used on the command line.
func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecZstd:
		return "zstd"
	case CodecLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("unknown(%d)", c)
	}
}

// ParseCodec parses a codec from its String form.
func ParseCodec(name string) (Codec, error) {
	switch name {
	case "none":
		return CodecNone, nil
	case "zstd":
		return CodecZstd, nil
	case "lz4":
		return CodecLZ4, nil
	default:
		return 0, fmt.Errorf("unknown codec %q", name)
	}
}

// Frame magic numbers, little-endian on the wire.
var (
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
	lz4Magic  = []byte{0x04, 0x22, 0x4d, 0x18}
)

// zstd.Encoder and zstd.Decoder are safe for concurrent use through
// EncodeAll/DecodeAll, so one of each serves the whole process.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		panic("contentindex: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(1<<30))
	if err != nil {
		panic("contentindex: zstd decoder initialization failed: " + err.Error())
	}
}

// DetectCodec inspects the leading bytes of data.
func DetectCodec(data []byte) Codec {
	switch {
	case bytes.HasPrefix(data, zstdMagic):
		return CodecZstd
	case bytes.HasPrefix(data, lz4Magic):
		return CodecLZ4
	default:
		return CodecNone
	}
}

// Compress wraps data in a frame of the given codec.
func Compress(data []byte, codec Codec) ([]byte, error) {
	switch codec {
	case CodecNone:
		return data, nil

	case CodecZstd:
		return zstdEncoder.EncodeAll(data, make([]byte, 0, len(data)/2)), nil

	case CodecLZ4:
		var buffer bytes.Buffer
		writer := lz4.NewWriter(&buffer)
		if err := writer.Apply(lz4.CompressionLevelOption(lz4.Level5)); err != nil {
			return nil, fmt.Errorf("configuring lz4 writer: %w", err)
		}
		if _, err := writer.Write(data); err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if err := writer.Close(); err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		return buffer.Bytes(), nil

	default:
		return nil, fmt.Errorf("unsupported codec %s", codec)
	}
}

// Decompress unwraps data according to its detected codec. Data with
// no recognised magic number is returned unchanged.
func Decompress(data []byte) ([]byte, Codec, error) {
	codec := DetectCodec(data)
	switch codec {
	case CodecZstd:
		result, err := zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			return nil, codec, fmt.Errorf("zstd decompress: %w", err)
		}
		return result, codec, nil

	case CodecLZ4:
		result, err := io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
		if err != nil {
			return nil, codec, fmt.Errorf("lz4 decompress: %w", err)
		}
		return result, codec, nil

	default:
		return data, CodecNone, nil
	}
}
