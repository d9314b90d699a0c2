// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package update

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/bureau-foundation/depot/lib/config"
	"github.com/bureau-foundation/depot/lib/contentindex"
	"github.com/bureau-foundation/depot/lib/download"
	"github.com/bureau-foundation/depot/lib/download/downloadtest"
	"github.com/bureau-foundation/depot/lib/testutil"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func installerAugmented() *contentindex.Augmented {
	return &contentindex.Augmented{Platform: "linux", BundleVersion: "1.4", InternalAssetVersion: 7}
}

func remoteAugmented() *contentindex.Augmented {
	return &contentindex.Augmented{Platform: "linux", BundleVersion: "1.4", InternalAssetVersion: 9}
}

// files maps resource path to contents; groups maps resource path to
// group id (absent means group 0).
type files map[string]string

func buildIndex(variant contentindex.Variant, augmented *contentindex.Augmented, contents files, groups map[string]int) *contentindex.Index {
	idx := contentindex.New(variant)
	idx.Augmented = augmented
	members := make(map[int][]string)
	for path, data := range contents {
		idx.Resources[path] = contentindex.DescribeBytes(path, []byte(data))
		groupID := groups[path]
		idx.ResourceBasicInfos[path] = contentindex.ResourceBasicInfo{Path: path, GroupID: groupID}
		members[groupID] = append(members[groupID], path)
	}
	for _, id := range sortedIntKeys(members) {
		paths := members[id]
		slices.Sort(paths)
		idx.Groups = append(idx.Groups, contentindex.ResourceGroupInfo{ID: id, Resources: paths})
	}
	return idx
}

func sortedIntKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}

func writeFiles(t *testing.T, root string, contents files) {
	t.Helper()
	for path, data := range contents {
		filePath := ResourceFilePath(root, path)
		if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filePath, []byte(data), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func testSettings(retries int, mirrors ...string) config.UpdateConfig {
	enabled := true
	gate := true
	return config.UpdateConfig{
		Enabled:             &enabled,
		RetryCount:          &retries,
		MirrorRoots:         mirrors,
		PathTemplate:        "content/{platform}/{version}",
		BytesBeforeFlush:    1 << 20,
		GateBaseGroup:       &gate,
		ConcurrentDownloads: 4,
		DownloadTimeout:     time.Minute,
	}
}

type fixture struct {
	t        *testing.T
	store    *Store
	fake     *downloadtest.Fake
	settings config.UpdateConfig
}

// newFixture lays out an installer root holding installerFiles and
// returns an unprepared store over it.
func newFixture(t *testing.T, installerFiles files, groups map[string]int) *fixture {
	t.Helper()
	root := t.TempDir()
	paths := config.PathsConfig{
		Installer: filepath.Join(root, "installer"),
		ReadWrite: filepath.Join(root, "rw"),
	}
	store, err := NewStore(paths)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	installer := buildIndex(contentindex.VariantInstaller, installerAugmented(), installerFiles, groups)
	if err := contentindex.Save(store.InstallerIndexPath(), installer); err != nil {
		t.Fatalf("saving installer index: %v", err)
	}
	writeFiles(t, paths.Installer, installerFiles)
	return &fixture{
		t:        t,
		store:    store,
		fake:     downloadtest.New(),
		settings: testSettings(2, "https://mirror-a.example", "https://mirror-b.example/"),
	}
}

// seedReadWrite persists a read-write index describing rwFiles and
// writes the files.
func (f *fixture) seedReadWrite(rwFiles files, groups map[string]int) {
	f.t.Helper()
	readWrite := buildIndex(contentindex.VariantReadWrite, nil, rwFiles, groups)
	if err := contentindex.Save(f.store.ReadWriteIndexPath(), readWrite); err != nil {
		f.t.Fatalf("saving read-write index: %v", err)
	}
	writeFiles(f.t, f.store.ReadWriteRoot(), rwFiles)
}

func (f *fixture) prepare() {
	f.t.Helper()
	if err := NewPreparer(f.store, discardLogger()).Run(PrepareCallbacks{}); err != nil {
		f.t.Fatalf("Preparer.Run: %v", err)
	}
}

// publish encodes and compresses remote, returning the advertised
// metadata and the bytes a mirror would serve.
func publish(t *testing.T, remote *contentindex.Index) (RemoteIndexInfo, []byte) {
	t.Helper()
	data, err := contentindex.Encode(remote)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	compressed, err := contentindex.Compress(data, contentindex.CodecZstd)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	return RemoteIndexInfo{
		InternalAssetVersion: remote.Augmented.InternalAssetVersion,
		Length:               int64(len(data)),
		CRC32:                contentindex.CRC32(data),
		ZipLength:            int64(len(compressed)),
		ZipCRC32:             contentindex.CRC32(compressed),
	}, compressed
}

type checkOutcome struct {
	succeeded bool
	err       error
	retries   []string
}

func (o *checkOutcome) done() bool { return o.succeeded || o.err != nil }

func (o *checkOutcome) callbacks() CheckCallbacks {
	return CheckCallbacks{
		OnSuccess: func() { o.succeeded = true },
		OnFailure: func(err error) { o.err = err },
		OnRetry: func(mirror, attempt int, err *TransferError) {
			o.retries = append(o.retries, fmt.Sprintf("%d/%d/%s", mirror, attempt, err.Code))
		},
	}
}

// runCheck drives checker until the check reports an outcome. serve is
// called once for each remote index download the checker starts.
func (f *fixture) runCheck(checker *Checker, info RemoteIndexInfo, serve func(id download.TaskID, task *download.Task)) *checkOutcome {
	f.t.Helper()
	outcome := &checkOutcome{}
	if err := checker.Check(info, outcome.callbacks()); err != nil {
		f.t.Fatalf("Check: %v", err)
	}
	served := make(map[download.TaskID]bool)
	testutil.Poll(f.t, 5*time.Second, "update check", func() bool {
		if outcome.done() {
			return true
		}
		f.fake.Update(0)
		checker.Update(0)
		if id, ok := f.fake.FindActive("/" + RemoteIndexFileName); ok && !served[id] {
			served[id] = true
			serve(id, f.fake.Active()[id])
		}
		return false
	})
	return outcome
}

// serveIndex answers every remote index download with compressed.
func (f *fixture) serveIndex(compressed []byte) func(download.TaskID, *download.Task) {
	return func(id download.TaskID, _ *download.Task) {
		if err := f.fake.Succeed(id, compressed); err != nil {
			f.t.Fatalf("Succeed: %v", err)
		}
	}
}

// checked prepares the fixture and runs a successful check against
// remote.
func (f *fixture) checked(remote *contentindex.Index) *Checker {
	f.t.Helper()
	f.prepare()
	info, compressed := publish(f.t, remote)
	checker := NewChecker(f.store, f.settings, f.fake, discardLogger())
	outcome := f.runCheck(checker, info, f.serveIndex(compressed))
	if outcome.err != nil {
		f.t.Fatalf("check failed: %v", outcome.err)
	}
	return checker
}
