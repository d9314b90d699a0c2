// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package contentindex

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Format versions. Version 1 stored paths inline and is decode-only.
const (
	formatVersionInline   = 1
	formatVersionInterned = 2

	// CurrentFormatVersion is the version written by Encode.
	CurrentFormatVersion = formatVersionInterned
)

// Header strings identifying each variant on disk. These are protocol
// constants: changing one orphans every file written with the old
// value.
const (
	InstallerHeader = "DEPOT-INSTALLER"
	ReadWriteHeader = "DEPOT-READWRITE"
	RemoteHeader    = "DEPOT-REMOTE"

	// obsoleteReadWriteHeader was written by releases that kept
	// downloaded resources in a separate "local" catalog. Such files
	// cannot be migrated (the layout tables were not stored).
	obsoleteReadWriteHeader = "DEPOT-LOCAL"
)

var (
	// ErrHeaderMismatch means the file does not carry the header of
	// the requested variant.
	ErrHeaderMismatch = errors.New("index header mismatch")

	// ErrObsoleteHeader means the file carries a header written by a
	// retired format that cannot be migrated.
	ErrObsoleteHeader = errors.New("obsolete index header")

	// ErrVersionMismatch means the header matched but the format
	// version is not one this package can decode.
	ErrVersionMismatch = errors.New("unsupported index version")

	// ErrCorrupt means the envelope was recognised but its payload is
	// internally inconsistent.
	ErrCorrupt = errors.New("corrupt index payload")
)

// FormatError describes an index file that could not be decoded.
type FormatError struct {
	// Path is the file path, empty when decoding from memory.
	Path string

	// Header and Version are what the file claimed to be.
	Header  string
	Version uint

	Err error
}

func (e *FormatError) Error() string {
	location := "index"
	if e.Path != "" {
		location = e.Path
	}
	return fmt.Sprintf("%s: header %q version %d: %v", location, e.Header, e.Version, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

// HeaderFor returns the on-disk header of a variant.
func HeaderFor(variant Variant) string {
	switch variant {
	case VariantInstaller:
		return InstallerHeader
	case VariantReadWrite:
		return ReadWriteHeader
	case VariantRemote:
		return RemoteHeader
	default:
		return ""
	}
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("contentindex: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		// Catalogs from a misbehaving server must not be able to
		// exhaust memory through absurd array lengths.
		MaxArrayElements: 1 << 24,
		MaxMapPairs:      1 << 16,
	}.DecMode()
	if err != nil {
		panic("contentindex: CBOR decoder initialization failed: " + err.Error())
	}
}

type envelope struct {
	Header  string          `cbor:"1,keyasint"`
	Version uint            `cbor:"2,keyasint"`
	Payload cbor.RawMessage `cbor:"3,keyasint"`
}

type augmentedRecord struct {
	_                    struct{} `cbor:",toarray"`
	Platform             string
	BundleVersion        string
	InternalAssetVersion int
}

// Version 2 records: every path is a position in payloadV2.Strings.

type payloadV2 struct {
	Strings   []string         `cbor:"1,keyasint"`
	Augmented *augmentedRecord `cbor:"2,keyasint,omitempty"`
	Resources []resourceRecord `cbor:"3,keyasint"`
	Basics    []basicRecord    `cbor:"4,keyasint"`
	Assets    []assetRecord    `cbor:"5,keyasint"`
	Groups    []groupRecord    `cbor:"6,keyasint"`
}

type resourceRecord struct {
	_     struct{} `cbor:",toarray"`
	Path  uint32
	CRC32 uint32
	Size  int64
	Hash  string
}

type basicRecord struct {
	_            struct{} `cbor:",toarray"`
	Path         uint32
	GroupID      int
	Dependencies []uint32
	Dependents   []uint32
}

type assetRecord struct {
	_            struct{} `cbor:",toarray"`
	Path         uint32
	Resource     uint32
	Dependencies []uint32
}

type groupRecord struct {
	_         struct{} `cbor:",toarray"`
	ID        int
	Resources []uint32
}

// Version 1 records: paths inline.

type payloadV1 struct {
	Augmented *augmentedRecord       `cbor:"1,keyasint,omitempty"`
	Resources []inlineResourceRecord `cbor:"2,keyasint"`
	Basics    []inlineBasicRecord    `cbor:"3,keyasint"`
	Assets    []inlineAssetRecord    `cbor:"4,keyasint"`
	Groups    []inlineGroupRecord    `cbor:"5,keyasint"`
}

type inlineResourceRecord struct {
	_     struct{} `cbor:",toarray"`
	Path  string
	CRC32 uint32
	Size  int64
	Hash  string
}

type inlineBasicRecord struct {
	_            struct{} `cbor:",toarray"`
	Path         string
	GroupID      int
	Dependencies []string
}

type inlineAssetRecord struct {
	_            struct{} `cbor:",toarray"`
	Path         string
	Resource     string
	Dependencies []string
}

type inlineGroupRecord struct {
	_         struct{} `cbor:",toarray"`
	ID        int
	Resources []string
}

// stringTable interns strings in first-seen order.
type stringTable struct {
	positions map[string]uint32
	strings   []string
}

func (t *stringTable) intern(value string) uint32 {
	if position, ok := t.positions[value]; ok {
		return position
	}
	position := uint32(len(t.strings))
	t.positions[value] = position
	t.strings = append(t.strings, value)
	return position
}

func (t *stringTable) internAll(values []string) []uint32 {
	if len(values) == 0 {
		return nil
	}
	positions := make([]uint32, len(values))
	for i, value := range values {
		positions[i] = t.intern(value)
	}
	return positions
}

// Encode serializes idx in the current format. The output is
// deterministic: equal indexes produce identical bytes.
func Encode(idx *Index) ([]byte, error) {
	header := HeaderFor(idx.Variant)
	if header == "" {
		return nil, fmt.Errorf("encoding index: unknown variant %s", idx.Variant)
	}

	table := &stringTable{positions: make(map[string]uint32)}
	payload := payloadV2{}

	if idx.Augmented != nil {
		payload.Augmented = &augmentedRecord{
			Platform:             idx.Augmented.Platform,
			BundleVersion:        idx.Augmented.BundleVersion,
			InternalAssetVersion: idx.Augmented.InternalAssetVersion,
		}
	}
	for _, path := range sortedKeys(idx.Resources) {
		resource := idx.Resources[path]
		payload.Resources = append(payload.Resources, resourceRecord{
			Path:  table.intern(path),
			CRC32: resource.CRC32,
			Size:  resource.Size,
			Hash:  resource.Hash,
		})
	}
	for _, path := range sortedKeys(idx.ResourceBasicInfos) {
		basic := idx.ResourceBasicInfos[path]
		payload.Basics = append(payload.Basics, basicRecord{
			Path:         table.intern(path),
			GroupID:      basic.GroupID,
			Dependencies: table.internAll(normalizeSet(basic.Dependencies)),
			Dependents:   table.internAll(normalizeSet(basic.Dependents)),
		})
	}
	for _, path := range sortedKeys(idx.Assets) {
		asset := idx.Assets[path]
		payload.Assets = append(payload.Assets, assetRecord{
			Path:         table.intern(path),
			Resource:     table.intern(asset.ResourcePath),
			Dependencies: table.internAll(normalizeSet(asset.Dependencies)),
		})
	}
	for _, group := range idx.Groups {
		payload.Groups = append(payload.Groups, groupRecord{
			ID:        group.ID,
			Resources: table.internAll(normalizeSet(group.Resources)),
		})
	}
	payload.Strings = table.strings

	payloadBytes, err := encMode.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding index payload: %w", err)
	}
	data, err := encMode.Marshal(envelope{
		Header:  header,
		Version: CurrentFormatVersion,
		Payload: payloadBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding index envelope: %w", err)
	}
	return data, nil
}

// Decode parses an index of the expected variant from data.
func Decode(data []byte, variant Variant) (*Index, error) {
	var env envelope
	if err := decMode.Unmarshal(data, &env); err != nil {
		return nil, &FormatError{Err: fmt.Errorf("%w: %v", ErrCorrupt, err)}
	}

	formatErr := func(err error) error {
		return &FormatError{Header: env.Header, Version: env.Version, Err: err}
	}

	expected := HeaderFor(variant)
	if env.Header != expected {
		if variant == VariantReadWrite && env.Header == obsoleteReadWriteHeader {
			return nil, formatErr(ErrObsoleteHeader)
		}
		return nil, formatErr(fmt.Errorf("%w: want %q", ErrHeaderMismatch, expected))
	}

	idx := New(variant)
	var err error
	switch env.Version {
	case formatVersionInterned:
		err = decodeInterned(env.Payload, idx)
	case formatVersionInline:
		err = decodeInline(env.Payload, idx)
	default:
		err = fmt.Errorf("%w: %d (current is %d)", ErrVersionMismatch, env.Version, CurrentFormatVersion)
	}
	if err != nil {
		return nil, formatErr(err)
	}
	idx.normalize()
	return idx, nil
}

func decodeAugmented(record *augmentedRecord) *Augmented {
	if record == nil {
		return nil
	}
	return &Augmented{
		Platform:             record.Platform,
		BundleVersion:        record.BundleVersion,
		InternalAssetVersion: record.InternalAssetVersion,
	}
}

func decodeInterned(data []byte, idx *Index) error {
	var payload payloadV2
	if err := decMode.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	var lookupErr error
	lookup := func(position uint32) string {
		if int(position) >= len(payload.Strings) {
			if lookupErr == nil {
				lookupErr = fmt.Errorf("%w: string %d out of range (table has %d)",
					ErrCorrupt, position, len(payload.Strings))
			}
			return ""
		}
		return payload.Strings[position]
	}
	lookupAll := func(positions []uint32) []string {
		if len(positions) == 0 {
			return nil
		}
		values := make([]string, len(positions))
		for i, position := range positions {
			values[i] = lookup(position)
		}
		return values
	}

	idx.Augmented = decodeAugmented(payload.Augmented)
	for _, record := range payload.Resources {
		path := lookup(record.Path)
		idx.Resources[path] = ResourceInfo{Path: path, CRC32: record.CRC32, Size: record.Size, Hash: record.Hash}
	}
	for _, record := range payload.Basics {
		path := lookup(record.Path)
		idx.ResourceBasicInfos[path] = ResourceBasicInfo{
			Path:         path,
			GroupID:      record.GroupID,
			Dependencies: lookupAll(record.Dependencies),
			Dependents:   lookupAll(record.Dependents),
		}
	}
	for _, record := range payload.Assets {
		path := lookup(record.Path)
		idx.Assets[path] = AssetInfo{
			Path:         path,
			ResourcePath: lookup(record.Resource),
			Dependencies: lookupAll(record.Dependencies),
		}
	}
	for _, record := range payload.Groups {
		idx.Groups = append(idx.Groups, ResourceGroupInfo{ID: record.ID, Resources: lookupAll(record.Resources)})
	}
	return lookupErr
}

func decodeInline(data []byte, idx *Index) error {
	var payload payloadV1
	if err := decMode.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	idx.Augmented = decodeAugmented(payload.Augmented)
	for _, record := range payload.Resources {
		idx.Resources[record.Path] = ResourceInfo{
			Path: record.Path, CRC32: record.CRC32, Size: record.Size, Hash: record.Hash,
		}
	}
	for _, record := range payload.Basics {
		idx.ResourceBasicInfos[record.Path] = ResourceBasicInfo{
			Path:         record.Path,
			GroupID:      record.GroupID,
			Dependencies: record.Dependencies,
		}
	}
	for _, record := range payload.Assets {
		idx.Assets[record.Path] = AssetInfo{
			Path:         record.Path,
			ResourcePath: record.Resource,
			Dependencies: record.Dependencies,
		}
	}
	for _, record := range payload.Groups {
		idx.Groups = append(idx.Groups, ResourceGroupInfo{ID: record.ID, Resources: record.Resources})
	}
	// Version 1 did not store the inverse edges.
	idx.LinkDependents()
	return nil
}
