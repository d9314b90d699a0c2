// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package contentindex implements the content catalog that every other
// depot component reads: which resource files exist (with size, CRC32,
// and content hash), which logical assets live inside them, how
// resources and assets depend on each other, and how resources are
// partitioned into update groups.
//
// Three snapshots of the catalog exist at runtime, distinguished by
// [Variant]:
//
//   - Installer: shipped alongside the application, read-only. Carries
//     [Augmented] metadata (platform, bundle version, internal asset
//     version) used to build download URLs.
//   - ReadWrite: the persisted local truth in the read-write root.
//     Records which resources have been downloaded and the asset and
//     group layout of the most recent successful update check.
//   - Remote: the server-authoritative catalog, fetched (usually
//     compressed) during an update check. Also carries Augmented.
//
// # On-disk format
//
// An index file is a CBOR envelope (RFC 8949, Core Deterministic
// Encoding) holding a header string, a format version, and an opaque
// payload. The header identifies the variant; loading a file of the
// wrong variant, an obsolete header, or an unsupported version fails
// with a [*FormatError] wrapping [ErrHeaderMismatch],
// [ErrObsoleteHeader], or [ErrVersionMismatch].
//
// Format version 2 interns every path into a shared string table and
// refers to paths by table position, which shrinks catalogs with deep
// dependency lists considerably. Version 1 stored paths inline; it is
// still decoded so that existing read-write indexes migrate on their
// next save. [Save] always writes the current version.
//
// Remote indexes are usually distributed compressed. [Decompress]
// recognises zstd and LZ4 frames by their magic numbers and passes
// uncompressed input through unchanged.
package contentindex
