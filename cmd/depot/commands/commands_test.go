// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/depot/cmd/depot/cli"
	"github.com/bureau-foundation/depot/lib/update"
)

const installerManifest = `
resources:
  - path: base/core.pack
    group: 0
    assets:
      - path: core/logo
`

const remoteManifest = `
resources:
  - path: base/core.pack
    group: 0
    assets:
      - path: core/logo
  - path: dlc/map.pack
    group: 1
    dependencies: [base/core.pack]
    assets:
      - path: dlc/level
        dependencies: [core/logo]
`

func writeFile(t *testing.T, path, data string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
}

// execute runs the command tree with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout bytes.Buffer
	root := newRoot(&stdout)
	root.Output = io.Discard
	root.NewLogger = func() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	err := root.Execute(ctx, args)
	return stdout.String(), err
}

type deployment struct {
	t          *testing.T
	root       string
	configPath string
	infoURL    string
}

// newDeployment packs an installer catalog and a remote catalog, serves
// the remote one from an HTTP mirror, and writes an engine config.
func newDeployment(t *testing.T) *deployment {
	t.Helper()
	root := t.TempDir()
	installerDir := filepath.Join(root, "installer")
	buildDir := filepath.Join(root, "build")
	serveDir := filepath.Join(root, "serve")
	publishDir := filepath.Join(serveDir, "content", "linux", "1.4.9")

	writeFile(t, filepath.Join(installerDir, "base", "core.pack"), "core-v1")
	writeFile(t, filepath.Join(root, "installer.yaml"), installerManifest)
	if _, err := execute(t, "index", "pack",
		"--manifest", filepath.Join(root, "installer.yaml"),
		"--root", installerDir,
		"--variant", "installer",
		"--platform", "linux",
		"--bundle-version", "1.4",
		"--asset-version", "7",
		"--out", filepath.Join(installerDir, update.IndexFileName),
	); err != nil {
		t.Fatalf("packing installer index: %v", err)
	}

	writeFile(t, filepath.Join(buildDir, "base", "core.pack"), "core-v2")
	writeFile(t, filepath.Join(buildDir, "dlc", "map.pack"), "map-data")
	writeFile(t, filepath.Join(publishDir, "base", "core.pack"), "core-v2")
	writeFile(t, filepath.Join(publishDir, "dlc", "map.pack"), "map-data")
	writeFile(t, filepath.Join(root, "remote.yaml"), remoteManifest)
	info, err := execute(t, "index", "pack",
		"--manifest", filepath.Join(root, "remote.yaml"),
		"--root", buildDir,
		"--platform", "linux",
		"--bundle-version", "1.4",
		"--asset-version", "9",
		"--codec", "lz4",
		"--out", filepath.Join(publishDir, update.RemoteIndexFileName),
	)
	if err != nil {
		t.Fatalf("packing remote index: %v", err)
	}
	writeFile(t, filepath.Join(serveDir, "info.json"), info)

	server := httptest.NewServer(http.FileServer(http.Dir(serveDir)))
	t.Cleanup(server.Close)

	configPath := filepath.Join(root, "depot.yaml")
	writeFile(t, configPath, `
paths:
  installer: `+installerDir+`
  read_write: `+filepath.Join(root, "rw")+`
update:
  enabled: true
  retry_count: 1
  mirror_roots: ["`+server.URL+`"]
  path_template: content/{platform}/{version}
  bytes_before_flush: 1048576
  gate_base_group: true
  concurrent_downloads: 2
  download_timeout: 30s
loader:
  concurrent_asset_loaders: 2
  concurrent_resource_loaders: 2
  asset_pool_capacity: 8
  resource_pool_capacity: 8
  release_unused_interval: 10s
`)
	return &deployment{t: t, root: root, configPath: configPath, infoURL: server.URL + "/info.json"}
}

func (d *deployment) groups(args ...string) []groupView {
	d.t.Helper()
	output, err := execute(d.t, append([]string{"status", "--config", d.configPath, "--tick", "2ms", "--json"}, args...)...)
	if err != nil {
		d.t.Fatalf("status: %v", err)
	}
	var view statusView
	if err := json.Unmarshal([]byte(output), &view); err != nil {
		d.t.Fatalf("decoding status output %q: %v", output, err)
	}
	return view.Groups
}

func TestStatusReportsPendingGroups(t *testing.T) {
	d := newDeployment(t)

	if groups := d.groups(); len(groups) != 0 {
		t.Errorf("status without --info listed groups: %+v", groups)
	}

	groups := d.groups("--info", d.infoURL)
	if len(groups) != 2 {
		t.Fatalf("groups = %+v, want 2", groups)
	}
	if groups[0].ID != 0 || groups[0].Status != "out_of_date" || groups[0].RemainingBytes != int64(len("core-v2")) {
		t.Errorf("group 0 = %+v", groups[0])
	}
	if groups[1].ID != 1 || groups[1].RemainingBytes != int64(len("map-data")) || groups[1].Pending != 1 {
		t.Errorf("group 1 = %+v", groups[1])
	}
}

func TestUpdateDownloadsEveryGroupThenVerifies(t *testing.T) {
	d := newDeployment(t)

	output, err := execute(t, "update", "--config", d.configPath, "--info", d.infoURL, "--tick", "2ms", "--json")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	var results []groupResult
	if err := json.Unmarshal([]byte(output), &results); err != nil {
		t.Fatalf("decoding update output %q: %v", output, err)
	}
	want := []groupResult{
		{ID: 0, Result: "updated", DownloadedBytes: int64(len("core-v2"))},
		{ID: 1, Result: "updated", DownloadedBytes: int64(len("map-data"))},
	}
	if len(results) != len(want) {
		t.Fatalf("results = %+v, want %+v", results, want)
	}
	for i := range want {
		if results[i] != want[i] {
			t.Errorf("results[%d] = %+v, want %+v", i, results[i], want[i])
		}
	}

	data, err := os.ReadFile(filepath.Join(d.root, "rw", "dlc", "map.pack"))
	if err != nil || string(data) != "map-data" {
		t.Errorf("downloaded dlc/map.pack = %q, %v", data, err)
	}

	for _, group := range d.groups("--info", d.infoURL) {
		if group.Status != "up_to_date" || group.RemainingBytes != 0 {
			t.Errorf("after update, group %+v", group)
		}
	}

	if _, err := execute(t, "verify", "--config", d.configPath); err != nil {
		t.Fatalf("verify after update: %v", err)
	}

	writeFile(t, filepath.Join(d.root, "rw", "base", "core.pack"), "core-XX")
	output, err = execute(t, "verify", "--config", d.configPath)
	var exitErr *cli.ExitError
	if !errors.As(err, &exitErr) || exitErr.Code != 1 {
		t.Fatalf("verify of corrupted file: err = %v, want exit code 1", err)
	}
	if !strings.Contains(output, "base/core.pack") {
		t.Errorf("verify output = %q, want the corrupted path", output)
	}

	output, err = execute(t, "index", "inspect", "--json", filepath.Join(d.root, "rw", update.IndexFileName))
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	var view indexView
	if err := json.Unmarshal([]byte(output), &view); err != nil {
		t.Fatalf("decoding inspect output %q: %v", output, err)
	}
	if view.Variant != "readwrite" || view.Resources != 2 || view.Assets != 2 || len(view.Problems) != 0 {
		t.Errorf("inspect = %+v", view)
	}
}

func TestUpdateSelectedGroupRequiresBaseGroup(t *testing.T) {
	d := newDeployment(t)

	_, err := execute(t, "update", "--config", d.configPath, "--info", d.infoURL, "--tick", "2ms", "--group", "1")
	if !errors.Is(err, update.ErrBaseGroupNotReady) {
		t.Fatalf("update --group 1: err = %v, want ErrBaseGroupNotReady", err)
	}

	if _, err := execute(t, "update", "--config", d.configPath, "--info", d.infoURL, "--tick", "2ms", "--group", "7"); !errors.Is(err, update.ErrUnknownGroup) {
		t.Fatalf("update --group 7: err = %v, want ErrUnknownGroup", err)
	}
}

func TestIndexInspectRemote(t *testing.T) {
	d := newDeployment(t)
	output, err := execute(t, "index", "inspect", "--files",
		filepath.Join(d.root, "serve", "content", "linux", "1.4.9", update.RemoteIndexFileName))
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	for _, want := range []string{"variant:   remote (lz4)", "version:   1.4.9 (linux)", "resources: 2", "dlc/map.pack"} {
		if !strings.Contains(output, want) {
			t.Errorf("inspect output missing %q\n\n%s", want, output)
		}
	}
}

func TestIndexPackRejectsBrokenManifest(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "files", "a.pack"), "a")
	writeFile(t, filepath.Join(root, "layout.yaml"), `
resources:
  - path: a.pack
    assets:
      - path: a
        dependencies: [missing]
`)
	_, err := execute(t, "index", "pack",
		"--manifest", filepath.Join(root, "layout.yaml"),
		"--root", filepath.Join(root, "files"),
		"--variant", "readwrite",
		"--out", filepath.Join(root, "out.dat"),
	)
	if err == nil || !strings.Contains(err.Error(), `unknown dependency "missing"`) {
		t.Errorf("pack with dangling dependency: err = %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(root, "out.dat")); !errors.Is(statErr, os.ErrNotExist) {
		t.Errorf("pack wrote output despite validation failure")
	}

	writeFile(t, filepath.Join(root, "typo.yaml"), "resources:\n  - path: a.pack\n    gruop: 1\n")
	if _, err := execute(t, "index", "pack",
		"--manifest", filepath.Join(root, "typo.yaml"),
		"--root", filepath.Join(root, "files"),
		"--variant", "readwrite",
		"--out", filepath.Join(root, "out.dat"),
	); err == nil {
		t.Error("pack accepted a manifest with an unknown field")
	}
}
