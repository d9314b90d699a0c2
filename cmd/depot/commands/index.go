// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"text/tabwriter"

	"github.com/bureau-foundation/depot/cmd/depot/cli"
	"github.com/bureau-foundation/depot/lib/contentindex"
	"github.com/bureau-foundation/depot/lib/update"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

func indexCommand(stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:    "index",
		Summary: "Inspect and build content index files",
		Subcommands: []*cli.Command{
			indexInspectCommand(stdout),
			indexPackCommand(stdout),
		},
	}
}

// variants is the order inspect tries headers in.
var variants = []contentindex.Variant{
	contentindex.VariantInstaller,
	contentindex.VariantReadWrite,
	contentindex.VariantRemote,
}

func parseVariant(name string) (contentindex.Variant, error) {
	for _, variant := range variants {
		if variant.String() == name {
			return variant, nil
		}
	}
	return 0, fmt.Errorf("unknown variant %q (want installer, readwrite, or remote)", name)
}

// decodeAnyVariant decompresses data if needed and decodes it as
// whichever variant its header names.
func decodeAnyVariant(data []byte) (*contentindex.Index, contentindex.Codec, error) {
	raw, codec, err := contentindex.Decompress(data)
	if err != nil {
		return nil, codec, err
	}
	var lastErr error
	for _, variant := range variants {
		idx, err := contentindex.Decode(raw, variant)
		if err == nil {
			return idx, codec, nil
		}
		if !errors.Is(err, contentindex.ErrHeaderMismatch) {
			return nil, codec, err
		}
		lastErr = err
	}
	return nil, codec, lastErr
}

type indexView struct {
	Variant   string            `json:"variant"`
	Codec     string            `json:"codec"`
	Version   string            `json:"version,omitempty"`
	Platform  string            `json:"platform,omitempty"`
	Resources int               `json:"resources"`
	Assets    int               `json:"assets"`
	Bytes     int64             `json:"bytes"`
	Groups    []indexGroupView  `json:"groups"`
	Problems  []string          `json:"problems,omitempty"`
	Files     map[string]string `json:"files,omitempty"`
}

type indexGroupView struct {
	ID        int   `json:"id"`
	Resources int   `json:"resources"`
	Bytes     int64 `json:"bytes"`
}

func describeIndex(idx *contentindex.Index, codec contentindex.Codec) indexView {
	view := indexView{
		Variant:   idx.Variant.String(),
		Codec:     codec.String(),
		Resources: len(idx.Resources),
		Assets:    len(idx.Assets),
	}
	if idx.Augmented != nil {
		view.Version = idx.Augmented.VersionString()
		view.Platform = idx.Augmented.Platform
	}
	for _, info := range idx.Resources {
		view.Bytes += info.Size
	}
	for _, group := range idx.Groups {
		row := indexGroupView{ID: group.ID, Resources: len(group.Resources)}
		for _, path := range group.Resources {
			row.Bytes += idx.Resources[path].Size
		}
		view.Groups = append(view.Groups, row)
	}
	if err := idx.Validate(); err != nil {
		view.Problems = splitJoined(err)
	}
	return view
}

// splitJoined flattens an errors.Join result into messages.
func splitJoined(err error) []string {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var messages []string
		for _, inner := range joined.Unwrap() {
			messages = append(messages, inner.Error())
		}
		return messages
	}
	return []string{err.Error()}
}

func indexInspectCommand(stdout io.Writer) *cli.Command {
	var outputJSON bool
	var listFiles bool

	return &cli.Command{
		Name:    "inspect",
		Summary: "Describe an index file",
		Description: `Decode an installer, read-write, or remote index file (compressed or
not) and print its variant, version, resource and asset counts, and
per-group sizes. Referential problems found by validation are listed.`,
		Usage: "depot index inspect [flags] <file>",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("inspect", pflag.ContinueOnError)
			flagSet.BoolVar(&outputJSON, "json", false, "output as JSON")
			flagSet.BoolVar(&listFiles, "files", false, "list every resource with its content hash")
			return flagSet
		},
		Run: func(_ context.Context, args []string, _ *slog.Logger) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one index file, got %d arguments", len(args))
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			idx, codec, err := decodeAnyVariant(data)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			view := describeIndex(idx, codec)
			if listFiles {
				view.Files = make(map[string]string, len(idx.Resources))
				for path, info := range idx.Resources {
					view.Files[path] = info.Hash
				}
			}

			if outputJSON {
				return cli.WriteJSON(stdout, view)
			}
			fmt.Fprintf(stdout, "variant:   %s (%s)\n", view.Variant, view.Codec)
			if view.Version != "" {
				fmt.Fprintf(stdout, "version:   %s (%s)\n", view.Version, view.Platform)
			}
			fmt.Fprintf(stdout, "resources: %d (%d bytes)\n", view.Resources, view.Bytes)
			fmt.Fprintf(stdout, "assets:    %d\n", view.Assets)
			writer := tabwriter.NewWriter(stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintln(writer, "\nGROUP\tRESOURCES\tBYTES")
			for _, group := range view.Groups {
				fmt.Fprintf(writer, "%d\t%d\t%d\n", group.ID, group.Resources, group.Bytes)
			}
			if err := writer.Flush(); err != nil {
				return err
			}
			if listFiles {
				fmt.Fprintln(stdout)
				paths := make([]string, 0, len(view.Files))
				for path := range view.Files {
					paths = append(paths, path)
				}
				slices.Sort(paths)
				for _, path := range paths {
					fmt.Fprintf(stdout, "%s  %s\n", view.Files[path], path)
				}
			}
			for _, problem := range view.Problems {
				fmt.Fprintf(stdout, "problem: %s\n", problem)
			}
			return nil
		},
	}
}

// layoutManifest is the YAML description of a catalog's layout that
// "depot index pack" combines with the files under --root.
type layoutManifest struct {
	Resources []manifestResource `yaml:"resources"`
}

type manifestResource struct {
	Path         string          `yaml:"path"`
	Group        int             `yaml:"group"`
	Dependencies []string        `yaml:"dependencies"`
	Assets       []manifestAsset `yaml:"assets"`
}

type manifestAsset struct {
	Path         string   `yaml:"path"`
	Dependencies []string `yaml:"dependencies"`
}

func loadManifest(path string) (*layoutManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var manifest layoutManifest
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&manifest); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if len(manifest.Resources) == 0 {
		return nil, fmt.Errorf("%s lists no resources", path)
	}
	return &manifest, nil
}

// packOptions are the inputs of buildIndex.
type packOptions struct {
	variant       contentindex.Variant
	root          string
	platform      string
	bundleVersion string
	assetVersion  int
}

// buildIndex describes every manifest resource from its file under
// root and validates the result.
func buildIndex(manifest *layoutManifest, options packOptions) (*contentindex.Index, error) {
	idx := contentindex.New(options.variant)
	if options.variant != contentindex.VariantReadWrite {
		if options.platform == "" || options.bundleVersion == "" {
			return nil, fmt.Errorf("%s indexes need --platform and --bundle-version", options.variant)
		}
		idx.Augmented = &contentindex.Augmented{
			Platform:             options.platform,
			BundleVersion:        options.bundleVersion,
			InternalAssetVersion: options.assetVersion,
		}
	}

	members := make(map[int][]string)
	for _, resource := range manifest.Resources {
		if _, duplicate := idx.ResourceBasicInfos[resource.Path]; duplicate {
			return nil, fmt.Errorf("resource %q listed twice", resource.Path)
		}
		data, err := os.ReadFile(update.ResourceFilePath(options.root, resource.Path))
		if err != nil {
			return nil, fmt.Errorf("resource %q: %w", resource.Path, err)
		}
		idx.Resources[resource.Path] = contentindex.DescribeBytes(resource.Path, data)
		idx.ResourceBasicInfos[resource.Path] = contentindex.ResourceBasicInfo{
			Path:         resource.Path,
			GroupID:      resource.Group,
			Dependencies: slices.Clone(resource.Dependencies),
		}
		members[resource.Group] = append(members[resource.Group], resource.Path)

		for _, asset := range resource.Assets {
			if _, duplicate := idx.Assets[asset.Path]; duplicate {
				return nil, fmt.Errorf("asset %q listed twice", asset.Path)
			}
			dependencies := slices.Clone(asset.Dependencies)
			slices.Sort(dependencies)
			idx.Assets[asset.Path] = contentindex.AssetInfo{
				Path:         asset.Path,
				ResourcePath: resource.Path,
				Dependencies: slices.Compact(dependencies),
			}
		}
	}

	groupIDs := make([]int, 0, len(members))
	for id := range members {
		groupIDs = append(groupIDs, id)
	}
	slices.Sort(groupIDs)
	for _, id := range groupIDs {
		paths := members[id]
		slices.Sort(paths)
		idx.Groups = append(idx.Groups, contentindex.ResourceGroupInfo{ID: id, Resources: paths})
	}
	idx.LinkDependents()

	if err := idx.Validate(); err != nil {
		return nil, err
	}
	return idx, nil
}

func indexPackCommand(stdout io.Writer) *cli.Command {
	var (
		manifestPath string
		options      packOptions
		variantName  string
		codecName    string
		outputPath   string
	)

	return &cli.Command{
		Name:    "pack",
		Summary: "Build an index file from a layout manifest and resource files",
		Description: `Hash every resource named in a YAML layout manifest from the files
under --root and write an index of the chosen variant. Remote indexes
are compressed (zstd by default) and the description the version
service must advertise for them is printed as JSON.

Manifest format:

  resources:
    - path: base/core.pack
      group: 0
      dependencies: [base/shared.pack]
      assets:
        - path: ui/logo
          dependencies: [ui/palette]`,
		Usage: "depot index pack --manifest <file> --root <dir> --out <file> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("pack", pflag.ContinueOnError)
			flagSet.StringVar(&manifestPath, "manifest", "", "YAML layout manifest (required)")
			flagSet.StringVar(&options.root, "root", "", "directory holding the resource files (required)")
			flagSet.StringVar(&variantName, "variant", "remote", "index variant: installer, readwrite, or remote")
			flagSet.StringVar(&options.platform, "platform", "", "platform name recorded in installer and remote indexes")
			flagSet.StringVar(&options.bundleVersion, "bundle-version", "", "bundle version recorded in installer and remote indexes")
			flagSet.IntVar(&options.assetVersion, "asset-version", 0, "internal asset version recorded in installer and remote indexes")
			flagSet.StringVar(&codecName, "codec", "zstd", "compression for remote indexes: zstd, lz4, or none")
			flagSet.StringVarP(&outputPath, "out", "o", "", "output file (required)")
			return flagSet
		},
		Run: func(_ context.Context, args []string, logger *slog.Logger) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			if manifestPath == "" || options.root == "" || outputPath == "" {
				return errors.New("--manifest, --root, and --out are required")
			}
			variant, err := parseVariant(variantName)
			if err != nil {
				return err
			}
			options.variant = variant
			codec, err := contentindex.ParseCodec(codecName)
			if err != nil {
				return err
			}

			manifest, err := loadManifest(manifestPath)
			if err != nil {
				return err
			}
			idx, err := buildIndex(manifest, options)
			if err != nil {
				return err
			}
			data, err := contentindex.Encode(idx)
			if err != nil {
				return err
			}

			if variant != contentindex.VariantRemote {
				if err := contentindex.WriteFileAtomic(outputPath, data); err != nil {
					return err
				}
				logger.Info("index written",
					"path", filepath.Clean(outputPath),
					"variant", variant.String(),
					"resources", len(idx.Resources),
				)
				return nil
			}

			compressed, err := contentindex.Compress(data, codec)
			if err != nil {
				return err
			}
			if err := contentindex.WriteFileAtomic(outputPath, compressed); err != nil {
				return err
			}
			logger.Info("remote index written",
				"path", filepath.Clean(outputPath),
				"version", idx.Augmented.VersionString(),
				"codec", codec.String(),
				"resources", len(idx.Resources),
			)
			return cli.WriteJSON(stdout, update.RemoteIndexInfo{
				InternalAssetVersion: options.assetVersion,
				Length:               int64(len(data)),
				CRC32:                contentindex.CRC32(data),
				ZipLength:            int64(len(compressed)),
				ZipCRC32:             contentindex.CRC32(compressed),
			})
		},
	}
}
