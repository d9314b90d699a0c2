// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package update

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"testing"

	"github.com/bureau-foundation/depot/lib/contentindex"
	"github.com/bureau-foundation/depot/lib/download"
)

var groupedRemoteFiles = files{
	"base/P.pack":  "payload-p",
	"extra/b.pack": "bbbb",
	"extra/c.pack": "cc",
}

var groupedRemoteGroups = map[string]int{"extra/b.pack": 1, "extra/c.pack": 1}

// checkedUpdater returns an Updater over a checked store where group
// 0 holds base/P.pack and group 1 holds extra/b.pack and extra/c.pack,
// all pending.
func checkedUpdater(t *testing.T, f *fixture) *Updater {
	t.Helper()
	f.checked(buildIndex(contentindex.VariantRemote, remoteAugmented(), groupedRemoteFiles, groupedRemoteGroups))
	return NewUpdater(f.store, f.settings, f.fake, discardLogger())
}

type groupOutcome struct {
	resourceSuccesses []string
	resourceFailures  []string
	retries           []string
	progress          [][2]int64
	groupSuccesses    int
	groupFailures     []error
}

func (o *groupOutcome) callbacks() GroupCallbacks {
	return GroupCallbacks{
		OnResourceSuccess: func(_ int, path string) { o.resourceSuccesses = append(o.resourceSuccesses, path) },
		OnResourceFailure: func(_ int, path string, _ error) { o.resourceFailures = append(o.resourceFailures, path) },
		OnResourceRetry: func(_ int, path string, mirror, attempt int, _ *TransferError) {
			o.retries = append(o.retries, fmt.Sprintf("%s@%d/%d", path, mirror, attempt))
		},
		OnGroupProgress: func(_ int, downloaded, total int64) { o.progress = append(o.progress, [2]int64{downloaded, total}) },
		OnGroupSuccess:  func(int) { o.groupSuccesses++ },
		OnGroupFailure:  func(_ int, err error) { o.groupFailures = append(o.groupFailures, err) },
	}
}

// resourceDownloads returns the started downloads other than the
// remote index.
func (f *fixture) resourceDownloads() []string {
	var urls []string
	for _, started := range f.fake.Started() {
		if !strings.HasSuffix(started.Task.URL, "/"+RemoteIndexFileName) {
			urls = append(urls, started.Task.URL)
		}
	}
	return urls
}

// succeedAll answers every active resource download with the remote
// content and ticks until callbacks are delivered.
func (f *fixture) succeedAll(updater *Updater) {
	f.t.Helper()
	for id, task := range f.fake.Active() {
		path := strings.TrimPrefix(task.SavePath, f.store.ReadWriteRoot()+string(os.PathSeparator))
		if err := f.fake.Succeed(id, []byte(groupedRemoteFiles[path])); err != nil {
			f.t.Fatal(err)
		}
	}
	f.fake.Update(0)
	updater.Update(0)
}

func TestUpdaterCompletesGroup(t *testing.T) {
	f := newFixture(t, nil, nil)
	updater := checkedUpdater(t, f)

	if status, ok := updater.GroupStatus(0); status != GroupOutOfDate || !ok {
		t.Fatalf("GroupStatus(0) = %s, %v", status, ok)
	}
	outcome := &groupOutcome{}
	if err := updater.StartGroup(0, outcome.callbacks()); err != nil {
		t.Fatalf("StartGroup(0): %v", err)
	}
	if status, _ := updater.GroupStatus(0); status != GroupBeingUpdated {
		t.Fatalf("GroupStatus(0) = %s, want being_updated", status)
	}
	if got := f.resourceDownloads(); !reflect.DeepEqual(got, []string{"https://mirror-a.example/content/linux/1.4.9/base/P.pack"}) {
		t.Fatalf("downloads = %v", got)
	}

	f.succeedAll(updater)

	if outcome.groupSuccesses != 1 || !reflect.DeepEqual(outcome.resourceSuccesses, []string{"base/P.pack"}) {
		t.Fatalf("outcome = %+v", outcome)
	}
	if status, ok := updater.GroupStatus(0); status != GroupUpToDate || !ok {
		t.Errorf("GroupStatus(0) = %s, %v, want up_to_date", status, ok)
	}
	summary, _ := f.store.Summary(0)
	if summary.RemainingSize != 0 || len(summary.Pending) != 0 {
		t.Errorf("summary = %+v, want nothing remaining", summary)
	}
	want := f.store.Remote().Resources["base/P.pack"]
	if got := f.store.ReadWrite().Resources["base/P.pack"]; got != want {
		t.Errorf("read-write record = %+v, want %+v", got, want)
	}
	persisted, err := contentindex.Load(f.store.ReadWriteIndexPath(), contentindex.VariantReadWrite)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := persisted.Resources["base/P.pack"]; !ok {
		t.Error("completed resource not flushed to disk")
	}
	if got := f.store.ResourceDirectory("base/P.pack"); got != f.store.ReadWriteRoot() {
		t.Errorf("ResourceDirectory = %s, want read-write root", got)
	}
}

func TestUpdaterGatesOnBaseGroup(t *testing.T) {
	f := newFixture(t, nil, nil)
	updater := checkedUpdater(t, f)
	outcome := &groupOutcome{}

	if err := updater.StartGroup(1, outcome.callbacks()); !errors.Is(err, ErrBaseGroupNotReady) {
		t.Fatalf("StartGroup(1) = %v, want ErrBaseGroupNotReady", err)
	}
	if len(f.resourceDownloads()) != 0 {
		t.Fatal("downloads started for a rejected group")
	}

	if err := updater.StartGroup(0, outcome.callbacks()); err != nil {
		t.Fatal(err)
	}
	f.succeedAll(updater)
	if err := updater.StartGroup(1, outcome.callbacks()); err != nil {
		t.Fatalf("StartGroup(1) after base group: %v", err)
	}
}

func TestUpdaterStartGroupRejections(t *testing.T) {
	f := newFixture(t, nil, nil)
	updater := NewUpdater(f.store, f.settings, f.fake, discardLogger())
	valid := (&groupOutcome{}).callbacks()

	if err := updater.StartGroup(0, valid); !errors.Is(err, ErrNotChecked) {
		t.Errorf("before check = %v, want ErrNotChecked", err)
	}
	checkedUpdater(t, f)

	if err := updater.StartGroup(0, GroupCallbacks{}); !errors.Is(err, ErrMissingCallback) {
		t.Errorf("without OnGroupFailure = %v, want ErrMissingCallback", err)
	}
	if err := updater.StartGroup(42, valid); !errors.Is(err, ErrUnknownGroup) {
		t.Errorf("unknown group = %v, want ErrUnknownGroup", err)
	}
	if status, ok := updater.GroupStatus(42); status != GroupUpToDate || ok {
		t.Errorf("GroupStatus(42) = %s, %v, want up_to_date, false", status, ok)
	}
	if err := updater.StartGroup(0, valid); err != nil {
		t.Fatal(err)
	}
	if err := updater.StartGroup(0, valid); !errors.Is(err, ErrGroupBeingUpdated) {
		t.Errorf("second start = %v, want ErrGroupBeingUpdated", err)
	}
	f.succeedAll(updater)
	if err := updater.StartGroup(0, valid); !errors.Is(err, ErrGroupUpToDate) {
		t.Errorf("up-to-date group = %v, want ErrGroupUpToDate", err)
	}
}

func TestUpdaterRetriesThenFailsOver(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.settings = testSettings(2, "https://m0.example", "https://m1.example")
	updater := checkedUpdater(t, f)

	outcome := &groupOutcome{}
	if err := updater.StartGroup(0, outcome.callbacks()); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		id, ok := f.fake.FindActive("/base/P.pack")
		if !ok {
			t.Fatalf("attempt %d: no active download", i+1)
		}
		f.fake.Fail(id, download.ErrorWrongChecksum, "crc32 mismatch")
		f.fake.Update(0)
	}
	id, ok := f.fake.FindActive("/base/P.pack")
	if !ok {
		t.Fatal("no download after failover")
	}
	if url := f.fake.Active()[id].URL; !strings.HasPrefix(url, "https://m1.example/") {
		t.Fatalf("fourth attempt URL = %s, want mirror 1", url)
	}
	f.succeedAll(updater)

	want := []string{"base/P.pack@0/1", "base/P.pack@0/2", "base/P.pack@0/3"}
	if !reflect.DeepEqual(outcome.retries, want) {
		t.Errorf("retries = %v, want %v", outcome.retries, want)
	}
	if !reflect.DeepEqual(outcome.resourceSuccesses, []string{"base/P.pack"}) || outcome.groupSuccesses != 1 {
		t.Errorf("outcome = %+v, want one success", outcome)
	}
	if len(outcome.resourceFailures) != 0 || len(outcome.groupFailures) != 0 {
		t.Errorf("unexpected failures: %+v", outcome)
	}
}

func TestUpdaterExhaustionAbortsGroup(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.settings = testSettings(0, "https://only.example")
	updater := checkedUpdater(t, f)
	outcome := &groupOutcome{}
	if err := updater.StartGroup(0, outcome.callbacks()); err != nil {
		t.Fatal(err)
	}
	f.succeedAll(updater)
	if err := updater.StartGroup(1, outcome.callbacks()); err != nil {
		t.Fatal(err)
	}

	id, _ := f.fake.FindActive("/extra/b.pack")
	f.fake.Fail(id, download.ErrorTimeout, "deadline exceeded")
	f.fake.Update(0)

	if !reflect.DeepEqual(outcome.resourceFailures, []string{"extra/b.pack"}) {
		t.Errorf("resource failures = %v", outcome.resourceFailures)
	}
	if len(outcome.groupFailures) != 1 || !errors.Is(outcome.groupFailures[0], ErrMirrorsExhausted) {
		t.Fatalf("group failures = %v, want one ErrMirrorsExhausted", outcome.groupFailures)
	}
	if len(f.fake.Active()) != 0 {
		t.Errorf("%d downloads still active after group failure", len(f.fake.Active()))
	}
	if status, _ := updater.GroupStatus(1); status != GroupOutOfDate {
		t.Errorf("GroupStatus(1) = %s, want out_of_date", status)
	}
}

func TestUpdaterStopGroupIgnoresLateCallbacks(t *testing.T) {
	f := newFixture(t, nil, nil)
	updater := checkedUpdater(t, f)
	outcome := &groupOutcome{}
	if err := updater.StartGroup(0, outcome.callbacks()); err != nil {
		t.Fatal(err)
	}
	started := f.fake.Started()[len(f.fake.Started())-1]

	if !updater.StopGroup(0) {
		t.Fatal("StopGroup(0) = false")
	}
	if updater.StopGroup(0) {
		t.Error("second StopGroup(0) = true")
	}
	if len(f.fake.Active()) != 0 {
		t.Errorf("%d downloads active after stop", len(f.fake.Active()))
	}

	// Deliver what a downloader racing the stop might still report.
	updater.onProgress(started.ID, started.Task, 4)
	updater.onSuccess(started.ID, started.Task)
	updater.onFailure(started.ID, started.Task, download.ErrorNetwork, "late")
	updater.Update(0)

	summary, _ := f.store.Summary(0)
	if summary.RemainingSize != int64(len(groupedRemoteFiles["base/P.pack"])) {
		t.Errorf("remaining = %d after late callbacks", summary.RemainingSize)
	}
	if _, ok := f.store.ReadWrite().Resources["base/P.pack"]; ok {
		t.Error("late success merged into read-write index")
	}
	if len(outcome.resourceSuccesses)+len(outcome.groupFailures)+len(outcome.progress) != 0 {
		t.Errorf("callbacks fired for a stopped group: %+v", outcome)
	}
	if status, _ := updater.GroupStatus(0); status != GroupOutOfDate {
		t.Errorf("GroupStatus(0) = %s, want out_of_date", status)
	}
}

func TestCheckRejectedWhileGroupInFlight(t *testing.T) {
	f := newFixture(t, nil, nil)
	remote := buildIndex(contentindex.VariantRemote, remoteAugmented(), groupedRemoteFiles, groupedRemoteGroups)
	checker := f.checked(remote)
	updater := NewUpdater(f.store, f.settings, f.fake, discardLogger())
	outcome := &groupOutcome{}
	if err := updater.StartGroup(0, outcome.callbacks()); err != nil {
		t.Fatal(err)
	}

	// A newer remote index that drops group 1 entirely.
	shrunk := buildIndex(contentindex.VariantRemote, remoteAugmented(), files{"base/P.pack": "payload-p"}, nil)
	info, _ := publish(t, shrunk)
	callbacks := CheckCallbacks{OnFailure: func(err error) { t.Errorf("check failed: %v", err) }}
	if err := checker.Check(info, callbacks); !errors.Is(err, ErrGroupUpdateInProgress) {
		t.Fatalf("Check during group update = %v, want ErrGroupUpdateInProgress", err)
	}
	if checker.State() != CheckNone {
		t.Errorf("state = %s, want none", checker.State())
	}

	f.succeedAll(updater)
	if outcome.groupSuccesses != 1 || len(outcome.groupFailures) != 0 {
		t.Fatalf("outcome = %+v", outcome)
	}
	if err := checker.Check(info, callbacks); err != nil {
		t.Errorf("Check after the group finished: %v", err)
	}
}

func TestUpdaterFailsGroupWhenResourceWithdrawn(t *testing.T) {
	tests := []struct {
		name     string
		withdraw func(store *Store)
	}{
		{
			name:     "summary gone",
			withdraw: func(store *Store) { delete(store.summaries, 0) },
		},
		{
			name: "remote record gone",
			withdraw: func(store *Store) {
				store.remote = buildIndex(contentindex.VariantRemote, remoteAugmented(),
					files{"extra/b.pack": "bbbb"}, map[string]int{"extra/b.pack": 1})
			},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			f := newFixture(t, nil, nil)
			updater := checkedUpdater(t, f)
			outcome := &groupOutcome{}
			if err := updater.StartGroup(0, outcome.callbacks()); err != nil {
				t.Fatal(err)
			}
			test.withdraw(f.store)
			f.succeedAll(updater)

			if len(outcome.groupFailures) != 1 || !errors.Is(outcome.groupFailures[0], ErrResourceWithdrawn) {
				t.Fatalf("group failures = %v, want one ErrResourceWithdrawn", outcome.groupFailures)
			}
			if len(outcome.resourceSuccesses) != 0 || outcome.groupSuccesses != 0 {
				t.Errorf("success reported for a withdrawn resource: %+v", outcome)
			}
			if _, ok := f.store.ReadWrite().Resources["base/P.pack"]; ok {
				t.Error("withdrawn resource merged into read-write index")
			}
			if status, _ := updater.GroupStatus(0); status == GroupBeingUpdated {
				t.Error("group still tracked after failure")
			}
		})
	}
}

func TestUpdaterDownloadsEmptyResources(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.checked(buildIndex(contentindex.VariantRemote, remoteAugmented(),
		files{"base/P.pack": "payload-p", "extra/empty.pack": ""},
		map[string]int{"extra/empty.pack": 1}))
	f.store.summaries[0].complete("base/P.pack")
	updater := NewUpdater(f.store, f.settings, f.fake, discardLogger())

	if status, ok := updater.GroupStatus(1); status != GroupOutOfDate || !ok {
		t.Fatalf("GroupStatus(1) = %s, %v, want out_of_date", status, ok)
	}
	outcome := &groupOutcome{}
	if err := updater.StartGroup(1, outcome.callbacks()); err != nil {
		t.Fatalf("StartGroup(1): %v", err)
	}
	id, ok := f.fake.FindActive("/extra/empty.pack")
	if !ok {
		t.Fatal("no download started for the empty resource")
	}
	if err := f.fake.Succeed(id, nil); err != nil {
		t.Fatal(err)
	}
	f.fake.Update(0)
	updater.Update(0)

	if outcome.groupSuccesses != 1 {
		t.Fatalf("outcome = %+v", outcome)
	}
	if status, _ := updater.GroupStatus(1); status != GroupUpToDate {
		t.Errorf("GroupStatus(1) = %s, want up_to_date", status)
	}
	if got := f.store.ResourceDirectory("extra/empty.pack"); got != f.store.ReadWriteRoot() {
		t.Errorf("empty resource loads from %s, want read-write root", got)
	}
}

func TestUpdaterProgressOnlyOnChange(t *testing.T) {
	f := newFixture(t, nil, nil)
	updater := checkedUpdater(t, f)
	outcome := &groupOutcome{}
	if err := updater.StartGroup(0, outcome.callbacks()); err != nil {
		t.Fatal(err)
	}
	id, _ := f.fake.FindActive("/base/P.pack")
	f.fake.Progress(id, 4)
	f.fake.Update(0)
	updater.Update(0)
	updater.Update(0)

	total := int64(len(groupedRemoteFiles["base/P.pack"]))
	if want := [][2]int64{{4, total}}; !reflect.DeepEqual(outcome.progress, want) {
		t.Fatalf("progress = %v, want %v", outcome.progress, want)
	}
	f.succeedAll(updater)
	if last := outcome.progress[len(outcome.progress)-1]; last != [2]int64{total, total} {
		t.Errorf("final progress = %v", last)
	}
}

func TestUpdaterFlushThreshold(t *testing.T) {
	f := newFixture(t, nil, nil)
	updater := checkedUpdater(t, f)
	outcome := &groupOutcome{}
	if err := updater.StartGroup(0, outcome.callbacks()); err != nil {
		t.Fatal(err)
	}
	f.succeedAll(updater)
	if err := updater.StartGroup(1, outcome.callbacks()); err != nil {
		t.Fatal(err)
	}

	id, _ := f.fake.FindActive("/extra/b.pack")
	if err := f.fake.Succeed(id, []byte(groupedRemoteFiles["extra/b.pack"])); err != nil {
		t.Fatal(err)
	}
	f.fake.Update(0)

	persisted, err := contentindex.Load(f.store.ReadWriteIndexPath(), contentindex.VariantReadWrite)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := persisted.Resources["extra/b.pack"]; ok {
		t.Error("flushed below the byte threshold")
	}
	if _, ok := f.store.ReadWrite().Resources["extra/b.pack"]; !ok {
		t.Error("completed resource not merged in memory")
	}

	f.succeedAll(updater)
	persisted, err = contentindex.Load(f.store.ReadWriteIndexPath(), contentindex.VariantReadWrite)
	if err != nil {
		t.Fatal(err)
	}
	for _, path := range []string{"extra/b.pack", "extra/c.pack"} {
		if _, ok := persisted.Resources[path]; !ok {
			t.Errorf("%s not flushed at group completion", path)
		}
	}
}

func TestUpdaterFlushFailureAbortsGroup(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.settings.BytesBeforeFlush = 1
	updater := checkedUpdater(t, f)
	outcome := &groupOutcome{}
	if err := updater.StartGroup(0, outcome.callbacks()); err != nil {
		t.Fatal(err)
	}
	f.succeedAll(updater)
	if err := updater.StartGroup(1, outcome.callbacks()); err != nil {
		t.Fatal(err)
	}

	// A non-empty directory where the index file belongs makes the
	// atomic rename fail.
	if err := os.Remove(f.store.ReadWriteIndexPath()); err != nil {
		t.Fatal(err)
	}
	writeFiles(t, f.store.ReadWriteIndexPath(), files{"blocker": "x"})

	id, _ := f.fake.FindActive("/extra/b.pack")
	if err := f.fake.Succeed(id, []byte(groupedRemoteFiles["extra/b.pack"])); err != nil {
		t.Fatal(err)
	}
	f.fake.Update(0)

	if !reflect.DeepEqual(outcome.resourceFailures, []string{"extra/b.pack"}) {
		t.Errorf("resource failures = %v", outcome.resourceFailures)
	}
	if len(outcome.groupFailures) != 1 {
		t.Fatalf("group failures = %v, want exactly one", outcome.groupFailures)
	}
	if len(f.fake.Active()) != 0 {
		t.Errorf("%d downloads still active after flush failure", len(f.fake.Active()))
	}
	if _, updating := updater.groups[1]; updating {
		t.Error("group 1 still in flight")
	}
}
