// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// EnvironmentVariable names the variable Load reads the config path
// from.
const EnvironmentVariable = "DEPOT_CONFIG"

// Config is the complete engine configuration.
type Config struct {
	// Paths configures the two storage roots.
	Paths PathsConfig `yaml:"paths"`

	// Update configures update checking and resource downloads.
	Update UpdateConfig `yaml:"update"`

	// Loader configures the asset and resource caches.
	Loader LoaderConfig `yaml:"loader"`
}

// PathsConfig configures directory locations.
type PathsConfig struct {
	// Installer is the read-only directory shipped with the
	// application. Holds the installer index and installer resources.
	Installer string `yaml:"installer"`

	// ReadWrite is the writable directory holding the read-write
	// index, the cached remote index, and downloaded resources.
	ReadWrite string `yaml:"read_write"`
}

// UpdateConfig configures update checking and downloads.
type UpdateConfig struct {
	// Enabled turns remote updates on. When false, the update check
	// adopts the installer catalog and downloads nothing.
	Enabled *bool `yaml:"enabled"`

	// RetryCount is how many times a failed download is retried on
	// the same mirror before moving to the next one. Zero is valid.
	RetryCount *int `yaml:"retry_count"`

	// MirrorRoots are the download roots, tried in order.
	MirrorRoots []string `yaml:"mirror_roots"`

	// PathTemplate is appended to each mirror root. "{platform}" and
	// "{version}" are replaced by the installer platform and
	// "bundleVersion.internalAssetVersion".
	PathTemplate string `yaml:"path_template"`

	// BytesBeforeFlush is how many downloaded bytes may accumulate
	// before the read-write index is persisted mid-group.
	BytesBeforeFlush int64 `yaml:"bytes_before_flush"`

	// GateBaseGroup requires group 0 to be up to date before any
	// other group may start updating.
	GateBaseGroup *bool `yaml:"gate_base_group"`

	// ConcurrentDownloads bounds simultaneous HTTP transfers.
	ConcurrentDownloads int `yaml:"concurrent_downloads"`

	// DownloadTimeout bounds a single HTTP transfer.
	DownloadTimeout time.Duration `yaml:"download_timeout"`
}

// IsEnabled reports the Enabled setting. Only meaningful after
// Validate.
func (u UpdateConfig) IsEnabled() bool { return u.Enabled != nil && *u.Enabled }

// Retries reports the RetryCount setting. Only meaningful after
// Validate.
func (u UpdateConfig) Retries() int {
	if u.RetryCount == nil {
		return 0
	}
	return *u.RetryCount
}

// GatesBaseGroup reports the GateBaseGroup setting. Only meaningful
// after Validate.
func (u UpdateConfig) GatesBaseGroup() bool { return u.GateBaseGroup != nil && *u.GateBaseGroup }

// LoaderConfig configures the asset and resource caches.
type LoaderConfig struct {
	// ConcurrentAssetLoaders bounds simultaneous asset extractions.
	ConcurrentAssetLoaders int `yaml:"concurrent_asset_loaders"`

	// ConcurrentResourceLoaders bounds simultaneous resource loads.
	ConcurrentResourceLoaders int `yaml:"concurrent_resource_loaders"`

	// AssetPoolCapacity and ResourcePoolCapacity bound how many reset
	// cache entries are kept for reuse.
	AssetPoolCapacity    int `yaml:"asset_pool_capacity"`
	ResourcePoolCapacity int `yaml:"resource_pool_capacity"`

	// ReleaseUnusedInterval is how often unretained resources are
	// swept from the cache.
	ReleaseUnusedInterval time.Duration `yaml:"release_unused_interval"`
}

// Load loads configuration from the path in DEPOT_CONFIG.
//
// There is no fallback: if DEPOT_CONFIG is not set, Load fails.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvironmentVariable)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your depot.yaml config file, or use --config flag", EnvironmentVariable)
	}
	return LoadFile(configPath)
}

// LoadFile loads and validates configuration from a specific file.
// ${HOME} and ${VAR:-default} patterns in paths and mirror roots are
// expanded from the environment.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		// YAML is a superset of JSON, so the same struct tags serve
		// both once comments and trailing commas are gone.
		data = jsonc.ToJSON(data)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	cfg.expandVariables()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) expandVariables() {
	c.Paths.Installer = expandVars(c.Paths.Installer)
	c.Paths.ReadWrite = expandVars(c.Paths.ReadWrite)
	for i, root := range c.Update.MirrorRoots {
		c.Update.MirrorRoots[i] = expandVars(root)
	}
}

// varPattern matches ${VAR} and ${VAR:-default}.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return parts[2]
	})
}

// Validate checks that every required setting is present and in
// range. All problems are reported together.
func (c *Config) Validate() error {
	var errs []error
	required := func(name string) {
		errs = append(errs, fmt.Errorf("%s is required", name))
	}
	atLeastOne := func(name string, value int) {
		if value < 1 {
			errs = append(errs, fmt.Errorf("%s must be at least 1 (got %d)", name, value))
		}
	}

	if c.Paths.Installer == "" {
		required("paths.installer")
	}
	if c.Paths.ReadWrite == "" {
		required("paths.read_write")
	}

	if c.Update.Enabled == nil {
		required("update.enabled")
	}
	if c.Update.RetryCount == nil {
		required("update.retry_count")
	} else if *c.Update.RetryCount < 0 {
		errs = append(errs, fmt.Errorf("update.retry_count must not be negative (got %d)", *c.Update.RetryCount))
	}
	if c.Update.GateBaseGroup == nil {
		required("update.gate_base_group")
	}
	if c.Update.IsEnabled() {
		if len(c.Update.MirrorRoots) == 0 {
			required("update.mirror_roots")
		}
		for i, root := range c.Update.MirrorRoots {
			if root == "" {
				errs = append(errs, fmt.Errorf("update.mirror_roots[%d] is empty", i))
			}
		}
		if c.Update.PathTemplate == "" {
			required("update.path_template")
		}
		if c.Update.BytesBeforeFlush <= 0 {
			errs = append(errs, fmt.Errorf("update.bytes_before_flush must be positive (got %d)", c.Update.BytesBeforeFlush))
		}
		atLeastOne("update.concurrent_downloads", c.Update.ConcurrentDownloads)
		if c.Update.DownloadTimeout <= 0 {
			required("update.download_timeout")
		}
	}

	atLeastOne("loader.concurrent_asset_loaders", c.Loader.ConcurrentAssetLoaders)
	atLeastOne("loader.concurrent_resource_loaders", c.Loader.ConcurrentResourceLoaders)
	if c.Loader.AssetPoolCapacity < 0 {
		errs = append(errs, fmt.Errorf("loader.asset_pool_capacity must not be negative"))
	}
	if c.Loader.ResourcePoolCapacity < 0 {
		errs = append(errs, fmt.Errorf("loader.resource_pool_capacity must not be negative"))
	}
	if c.Loader.ReleaseUnusedInterval <= 0 {
		required("loader.release_unused_interval")
	}

	return errors.Join(errs...)
}
