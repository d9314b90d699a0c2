// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package contentindex

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

// sampleRemote builds a small remote catalog: two groups, a shared
// texture resource, and an asset chain hero -> material -> texture.
func sampleRemote() *Index {
	idx := New(VariantRemote)
	idx.Augmented = &Augmented{Platform: "linux", BundleVersion: "1.4", InternalAssetVersion: 17}
	idx.Resources["textures.pack"] = DescribeBytes("textures.pack", []byte("texture bytes"))
	idx.Resources["characters/hero.pack"] = DescribeBytes("characters/hero.pack", []byte("hero bytes"))
	idx.ResourceBasicInfos["textures.pack"] = ResourceBasicInfo{Path: "textures.pack", GroupID: 0}
	idx.ResourceBasicInfos["characters/hero.pack"] = ResourceBasicInfo{
		Path:         "characters/hero.pack",
		GroupID:      1,
		Dependencies: []string{"textures.pack"},
	}
	idx.Assets["hero"] = AssetInfo{Path: "hero", ResourcePath: "characters/hero.pack", Dependencies: []string{"hero/material"}}
	idx.Assets["hero/material"] = AssetInfo{Path: "hero/material", ResourcePath: "characters/hero.pack", Dependencies: []string{"stone"}}
	idx.Assets["stone"] = AssetInfo{Path: "stone", ResourcePath: "textures.pack"}
	idx.Groups = []ResourceGroupInfo{
		{ID: 1, Resources: []string{"characters/hero.pack"}},
		{ID: 0, Resources: []string{"textures.pack"}},
	}
	idx.LinkDependents()
	return idx
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "index.remote")
	original := sampleRemote()

	if err := Save(path, original); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(path, VariantRemote)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if loaded.Augmented == nil || *loaded.Augmented != *original.Augmented {
		t.Errorf("Augmented = %+v, want %+v", loaded.Augmented, original.Augmented)
	}
	if !reflect.DeepEqual(loaded.Resources, original.Resources) {
		t.Errorf("Resources = %+v, want %+v", loaded.Resources, original.Resources)
	}
	if !reflect.DeepEqual(loaded.Assets, original.Assets) {
		t.Errorf("Assets = %+v, want %+v", loaded.Assets, original.Assets)
	}
	textures := loaded.ResourceBasicInfos["textures.pack"]
	if !reflect.DeepEqual(textures.Dependents, []string{"characters/hero.pack"}) {
		t.Errorf("textures.pack Dependents = %v, want [characters/hero.pack]", textures.Dependents)
	}
	// Groups come back ordered by id.
	if ids := loaded.GroupIDs(); !reflect.DeepEqual(ids, []int{0, 1}) {
		t.Errorf("GroupIDs = %v, want [0 1]", ids)
	}
	if loaded.Groups[0].ID != 0 {
		t.Errorf("Groups[0].ID = %d, want 0", loaded.Groups[0].ID)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want only the index (temporary file left behind?)", len(entries))
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	first, err := Encode(sampleRemote())
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	second, err := Encode(sampleRemote())
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("encoding the same catalog twice produced different bytes")
	}
}

func TestEncodeInternsEachPathOnce(t *testing.T) {
	data, err := Encode(sampleRemote())
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var env envelope
	if err := decMode.Unmarshal(data, &env); err != nil {
		t.Fatalf("decoding envelope: %v", err)
	}
	var payload payloadV2
	if err := decMode.Unmarshal(env.Payload, &payload); err != nil {
		t.Fatalf("decoding payload: %v", err)
	}

	seen := make(map[string]bool)
	for _, value := range payload.Strings {
		if seen[value] {
			t.Errorf("string table holds %q more than once", value)
		}
		seen[value] = true
	}
	// Five distinct paths: two resources and three assets.
	if len(payload.Strings) != 5 {
		t.Errorf("string table has %d entries, want 5: %v", len(payload.Strings), payload.Strings)
	}
}

func TestDecodeRejectsOtherVariant(t *testing.T) {
	data, err := Encode(sampleRemote())
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	_, err = Decode(data, VariantInstaller)
	if !errors.Is(err, ErrHeaderMismatch) {
		t.Fatalf("Decode error = %v, want ErrHeaderMismatch", err)
	}
	var formatErr *FormatError
	if !errors.As(err, &formatErr) {
		t.Fatalf("error %T is not a *FormatError", err)
	}
	if formatErr.Header != RemoteHeader {
		t.Errorf("FormatError.Header = %q, want %q", formatErr.Header, RemoteHeader)
	}
}

func TestDecodeObsoleteReadWriteHeader(t *testing.T) {
	data, err := encMode.Marshal(envelope{Header: obsoleteReadWriteHeader, Version: 1})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	path := filepath.Join(t.TempDir(), "index.dat")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, err = Load(path, VariantReadWrite)
	if !errors.Is(err, ErrObsoleteHeader) {
		t.Fatalf("Load error = %v, want ErrObsoleteHeader", err)
	}
	if !strings.Contains(err.Error(), path) {
		t.Errorf("error %q does not name the file", err)
	}
}

func TestDecodeUnsupportedVersion(t *testing.T) {
	data, err := encMode.Marshal(envelope{Header: ReadWriteHeader, Version: 99})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if _, err := Decode(data, VariantReadWrite); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("Decode error = %v, want ErrVersionMismatch", err)
	}
}

func TestDecodeGarbage(t *testing.T) {
	if _, err := Decode([]byte("not cbor at all"), VariantReadWrite); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("Decode error = %v, want ErrCorrupt", err)
	}
}

func TestDecodeOutOfRangeStringReference(t *testing.T) {
	payload, err := encMode.Marshal(payloadV2{
		Strings:   []string{"only.pack"},
		Resources: []resourceRecord{{Path: 3, Size: 1}},
	})
	if err != nil {
		t.Fatalf("Marshal payload: %v", err)
	}
	data, err := encMode.Marshal(envelope{Header: ReadWriteHeader, Version: formatVersionInterned, Payload: payload})
	if err != nil {
		t.Fatalf("Marshal envelope: %v", err)
	}
	if _, err := Decode(data, VariantReadWrite); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("Decode error = %v, want ErrCorrupt", err)
	}
}

func TestDecodeInlineFormatMigrates(t *testing.T) {
	payload, err := encMode.Marshal(payloadV1{
		Resources: []inlineResourceRecord{{Path: "b.pack", CRC32: 7, Size: 10, Hash: "aa"}},
		Basics: []inlineBasicRecord{
			{Path: "a.pack", GroupID: 0},
			{Path: "b.pack", GroupID: 0, Dependencies: []string{"a.pack", "a.pack"}},
		},
		Assets: []inlineAssetRecord{{Path: "thing", Resource: "b.pack"}},
		Groups: []inlineGroupRecord{{ID: 0, Resources: []string{"b.pack", "a.pack"}}},
	})
	if err != nil {
		t.Fatalf("Marshal payload: %v", err)
	}
	data, err := encMode.Marshal(envelope{Header: ReadWriteHeader, Version: formatVersionInline, Payload: payload})
	if err != nil {
		t.Fatalf("Marshal envelope: %v", err)
	}

	idx, err := Decode(data, VariantReadWrite)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got := idx.ResourceBasicInfos["b.pack"].Dependencies; !reflect.DeepEqual(got, []string{"a.pack"}) {
		t.Errorf("b.pack Dependencies = %v, want deduplicated [a.pack]", got)
	}
	if got := idx.ResourceBasicInfos["a.pack"].Dependents; !reflect.DeepEqual(got, []string{"b.pack"}) {
		t.Errorf("a.pack Dependents = %v, want [b.pack] rebuilt from dependencies", got)
	}

	// Re-encoding writes the current version.
	reencoded, err := Encode(idx)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var env envelope
	if err := decMode.Unmarshal(reencoded, &env); err != nil {
		t.Fatalf("decoding envelope: %v", err)
	}
	if env.Version != CurrentFormatVersion {
		t.Errorf("re-encoded version = %d, want %d", env.Version, CurrentFormatVersion)
	}
}

func TestCopyLayoutIsDeep(t *testing.T) {
	source := sampleRemote()
	target := New(VariantReadWrite)
	target.Resources["kept.pack"] = ResourceInfo{Path: "kept.pack", Size: 3}

	target.CopyLayout(source)
	source.Groups[0].Resources[0] = "mutated"

	if _, ok := target.Resources["kept.pack"]; !ok {
		t.Error("CopyLayout dropped resource infos")
	}
	group, ok := target.Group(1)
	if !ok || group.Resources[0] != "characters/hero.pack" {
		t.Errorf("group 1 = %+v, mutation of the source leaked into the copy", group)
	}
	if id, ok := target.AssetGroupID("hero"); !ok || id != 1 {
		t.Errorf("AssetGroupID(hero) = %d, %v; want 1, true", id, ok)
	}
}
