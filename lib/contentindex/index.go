// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package contentindex

import (
	"fmt"
	"slices"
	"sort"
)

// Variant identifies which of the three catalog snapshots an Index is.
type Variant uint8

const (
	// VariantInstaller is the catalog shipped with the application.
	VariantInstaller Variant = iota + 1

	// VariantReadWrite is the persisted local catalog.
	VariantReadWrite

	// VariantRemote is the server-authoritative catalog.
	VariantRemote
)

// String returns the lower-case name of the variant.
func (v Variant) String() string {
	switch v {
	case VariantInstaller:
		return "installer"
	case VariantReadWrite:
		return "readwrite"
	case VariantRemote:
		return "remote"
	default:
		return fmt.Sprintf("unknown(%d)", v)
	}
}

// BaseGroupID is the mandatory baseline resource group. No other
// group may begin updating until this one is up to date.
const BaseGroupID = 0

// ResourceInfo identifies one physical downloadable unit.
type ResourceInfo struct {
	Path  string
	CRC32 uint32
	Size  int64

	// Hash is the hex-encoded BLAKE3 digest of the file contents.
	Hash string
}

// SameContent reports whether two resource records describe identical
// bytes (equal hash and size).
func (r ResourceInfo) SameContent(other ResourceInfo) bool {
	return r.Hash == other.Hash && r.Size == other.Size
}

// ResourceBasicInfo places a resource in a group and in the resource
// dependency graph.
type ResourceBasicInfo struct {
	Path    string
	GroupID int

	// Dependencies are the resources that must be loaded alongside
	// this one. Sorted, no duplicates.
	Dependencies []string

	// Dependents is the inverse of Dependencies, kept for older
	// readers. Rebuilt by LinkDependents.
	Dependents []string
}

// AssetInfo describes a logical asset extracted from a resource.
type AssetInfo struct {
	Path         string
	ResourcePath string

	// Dependencies are the asset paths that must be ready before this
	// asset can be extracted. Sorted, no duplicates.
	Dependencies []string
}

// ResourceGroupInfo is a partition of resources updated as one unit.
type ResourceGroupInfo struct {
	ID        int
	Resources []string
}

// Augmented is the extra metadata carried by Installer and Remote
// indexes.
type Augmented struct {
	Platform             string
	BundleVersion        string
	InternalAssetVersion int
}

// VersionString returns "bundleVersion.internalAssetVersion", the
// version component of download URLs.
func (a Augmented) VersionString() string {
	return fmt.Sprintf("%s.%d", a.BundleVersion, a.InternalAssetVersion)
}

// Index is one snapshot of the content catalog.
type Index struct {
	Variant Variant

	// Augmented is non-nil for Installer and Remote indexes.
	Augmented *Augmented

	Resources          map[string]ResourceInfo
	ResourceBasicInfos map[string]ResourceBasicInfo
	Assets             map[string]AssetInfo
	Groups             []ResourceGroupInfo
}

// New returns an empty index of the given variant.
func New(variant Variant) *Index {
	return &Index{
		Variant:            variant,
		Resources:          make(map[string]ResourceInfo),
		ResourceBasicInfos: make(map[string]ResourceBasicInfo),
		Assets:             make(map[string]AssetInfo),
	}
}

// Group returns the group with the given id.
func (idx *Index) Group(id int) (ResourceGroupInfo, bool) {
	for _, group := range idx.Groups {
		if group.ID == id {
			return group, true
		}
	}
	return ResourceGroupInfo{}, false
}

// GroupIDs returns the ids of all groups in ascending order.
func (idx *Index) GroupIDs() []int {
	ids := make([]int, 0, len(idx.Groups))
	for _, group := range idx.Groups {
		ids = append(ids, group.ID)
	}
	sort.Ints(ids)
	return ids
}

// AssetGroupID returns the group of the resource containing the asset.
func (idx *Index) AssetGroupID(assetPath string) (int, bool) {
	asset, ok := idx.Assets[assetPath]
	if !ok {
		return 0, false
	}
	basic, ok := idx.ResourceBasicInfos[asset.ResourcePath]
	if !ok {
		return 0, false
	}
	return basic.GroupID, true
}

// CopyLayout replaces the group, asset, and resource-basic-info
// tables of idx with deep copies of those in source. Resource infos
// are left alone: they record what is on disk, not what the catalog
// describes.
func (idx *Index) CopyLayout(source *Index) {
	idx.Groups = make([]ResourceGroupInfo, 0, len(source.Groups))
	for _, group := range source.Groups {
		idx.Groups = append(idx.Groups, ResourceGroupInfo{
			ID:        group.ID,
			Resources: slices.Clone(group.Resources),
		})
	}
	idx.Assets = make(map[string]AssetInfo, len(source.Assets))
	for path, asset := range source.Assets {
		asset.Dependencies = slices.Clone(asset.Dependencies)
		idx.Assets[path] = asset
	}
	idx.ResourceBasicInfos = make(map[string]ResourceBasicInfo, len(source.ResourceBasicInfos))
	for path, basic := range source.ResourceBasicInfos {
		basic.Dependencies = slices.Clone(basic.Dependencies)
		basic.Dependents = slices.Clone(basic.Dependents)
		idx.ResourceBasicInfos[path] = basic
	}
}

// LinkDependents recomputes every ResourceBasicInfo.Dependents from
// the Dependencies lists.
func (idx *Index) LinkDependents() {
	inverse := make(map[string][]string)
	for path, basic := range idx.ResourceBasicInfos {
		for _, dependency := range basic.Dependencies {
			inverse[dependency] = append(inverse[dependency], path)
		}
	}
	for path, basic := range idx.ResourceBasicInfos {
		basic.Dependents = normalizeSet(inverse[path])
		idx.ResourceBasicInfos[path] = basic
	}
}

// normalize sorts and deduplicates every path set and orders groups
// by id. Called after decoding so that callers can rely on the
// documented set invariants.
func (idx *Index) normalize() {
	for path, basic := range idx.ResourceBasicInfos {
		basic.Dependencies = normalizeSet(basic.Dependencies)
		basic.Dependents = normalizeSet(basic.Dependents)
		idx.ResourceBasicInfos[path] = basic
	}
	for path, asset := range idx.Assets {
		asset.Dependencies = normalizeSet(asset.Dependencies)
		idx.Assets[path] = asset
	}
	for i := range idx.Groups {
		idx.Groups[i].Resources = normalizeSet(idx.Groups[i].Resources)
	}
	sort.Slice(idx.Groups, func(i, j int) bool { return idx.Groups[i].ID < idx.Groups[j].ID })
}

func normalizeSet(paths []string) []string {
	if len(paths) == 0 {
		return nil
	}
	result := slices.Clone(paths)
	slices.Sort(result)
	return slices.Compact(result)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}
