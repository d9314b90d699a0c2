// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package contentindex

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestValidateAcceptsSample(t *testing.T) {
	if err := sampleRemote().Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateReportsDanglingReferences(t *testing.T) {
	idx := sampleRemote()
	idx.Assets["orphan"] = AssetInfo{Path: "orphan", ResourcePath: "missing.pack", Dependencies: []string{"ghost"}}
	idx.Groups = append(idx.Groups, ResourceGroupInfo{ID: 2, Resources: []string{"textures.pack"}})

	err := idx.Validate()
	if err == nil {
		t.Fatal("Validate succeeded on a catalog with dangling references")
	}
	for _, fragment := range []string{`unknown resource "missing.pack"`, `unknown dependency "ghost"`, "belongs to group 0"} {
		if !strings.Contains(err.Error(), fragment) {
			t.Errorf("error %q does not mention %q", err, fragment)
		}
	}
}

func TestValidateDetectsAssetCycle(t *testing.T) {
	idx := sampleRemote()
	stone := idx.Assets["stone"]
	stone.Dependencies = []string{"hero"}
	idx.Assets["stone"] = stone

	var cycleErr *CycleError
	if err := idx.Validate(); !errors.As(err, &cycleErr) {
		t.Fatalf("Validate error = %v, want *CycleError", err)
	}
	want := []string{"hero", "hero/material", "stone", "hero"}
	if !reflect.DeepEqual(cycleErr.Cycle, want) {
		t.Errorf("Cycle = %v, want %v", cycleErr.Cycle, want)
	}
}

func TestValidateAllowsResourceCycles(t *testing.T) {
	idx := sampleRemote()
	textures := idx.ResourceBasicInfos["textures.pack"]
	textures.Dependencies = []string{"characters/hero.pack"}
	idx.ResourceBasicInfos["textures.pack"] = textures

	if err := idx.Validate(); err != nil {
		t.Fatalf("Validate rejected a resource cycle: %v", err)
	}
}
