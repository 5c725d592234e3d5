package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/blang/semver"

	"github.com/ZebulonRouseFrantzich/dnsfallback/internal/platform"
	"github.com/ZebulonRouseFrantzich/dnsfallback/internal/unpack"
)

// Default values
const (
	DefaultSourceURL   = "https://github.com/signalapp/signal-desktop"
	DefaultTagPrefix   = "v"
	DefaultMinVersion  = "7.1.0"
	DefaultPackageURL  = "https://updates.signal.org/desktop/apt/pool/s/signal-desktop/signal-desktop_{version}_{arch}.deb"
	DefaultArch        = "amd64"
	DefaultRetries     = 3
	DefaultTimeout     = 300
	DefaultPublishFile = "dns-fallback.json"
	DefaultRemote      = "origin"
	DefaultConcurrency = 4
	DefaultConfigFile  = "dnsfallback.lua"
)

// Config is the complete dnsfallback configuration.
type Config struct {
	Source  Source  `json:"source"`
	Package Package `json:"package"`
	Targets Targets `json:"targets"`
	Publish Publish `json:"publish"`
	Options Options `json:"options"`
}

// Source describes where release versions are discovered.
type Source struct {
	URL               string `json:"url"`
	TagPrefix         string `json:"tag_prefix"`
	MinVersion        string `json:"min_version"`
	IncludePrerelease bool   `json:"include_prerelease,omitempty"`
}

// Package describes how release packages are downloaded.
type Package struct {
	// URL contains {version} and optionally {arch}
	URL      string `json:"url"`
	Arch     string `json:"arch"`
	CacheDir string `json:"cache_dir"`
	Retries  int    `json:"retries"`
	// Timeout is the per-request timeout in seconds
	Timeout             int   `json:"timeout"`
	MaxDecompressedSize int64 `json:"max_decompressed_size"`
}

// Targets names the artifact inside each package.
type Targets struct {
	Member          string `json:"member"`
	Bundle          string `json:"bundle"`
	Path            string `json:"path"`
	VerifyIntegrity bool   `json:"verify_integrity"`
}

// Publish describes the output repository.
type Publish struct {
	Repo        string `json:"repo"`
	File        string `json:"file"`
	TagPrefix   string `json:"tag_prefix"`
	AuthorName  string `json:"author_name,omitempty"`
	AuthorEmail string `json:"author_email,omitempty"`
	Remote      string `json:"remote"`
	Push        bool   `json:"push,omitempty"`
	SigningKey  string `json:"signing_key,omitempty"`
}

// Options holds run behaviour.
type Options struct {
	Concurrency int    `json:"concurrency"`
	DryRun      bool   `json:"dry_run,omitempty"`
	LogLevel    string `json:"log_level"`
	LogFormat   string `json:"log_format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Source: Source{
			URL:        DefaultSourceURL,
			TagPrefix:  DefaultTagPrefix,
			MinVersion: DefaultMinVersion,
		},
		Package: Package{
			URL:                 DefaultPackageURL,
			Arch:                DefaultArch,
			CacheDir:            defaultCacheDir(),
			Retries:             DefaultRetries,
			Timeout:             DefaultTimeout,
			MaxDecompressedSize: unpack.DefaultMaxDecompressedSize,
		},
		Targets: Targets{
			Member:          unpack.DefaultTargets.Member,
			Bundle:          unpack.DefaultTargets.Bundle,
			Path:            unpack.DefaultTargets.Path,
			VerifyIntegrity: true,
		},
		Publish: Publish{
			File:      DefaultPublishFile,
			TagPrefix: DefaultTagPrefix,
			Remote:    DefaultRemote,
		},
		Options: Options{
			Concurrency: DefaultConcurrency,
			LogLevel:    "info",
			LogFormat:   "console",
		},
	}
}

// ForPlatform returns Default adjusted to the detected host.
func ForPlatform(info *platform.Info) *Config {
	cfg := Default()
	if info == nil {
		return cfg
	}
	if info.Arch != "" {
		cfg.Package.Arch = info.Arch
	}
	if info.CPUs > 0 && info.CPUs < cfg.Options.Concurrency {
		cfg.Options.Concurrency = info.CPUs
	}
	return cfg
}

func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "dnsfallback")
	}
	return filepath.Join(os.TempDir(), "dnsfallback")
}

// MinSemver returns Source.MinVersion parsed.
func (c *Config) MinSemver() (semver.Version, error) {
	return semver.Parse(c.Source.MinVersion)
}

// UnpackTargets returns the extraction targets.
func (c *Config) UnpackTargets() unpack.Targets {
	return unpack.Targets{
		Member: c.Targets.Member,
		Bundle: c.Targets.Bundle,
		Path:   c.Targets.Path,
	}
}

// Validate checks the configuration for values the pipeline cannot use.
func (c *Config) Validate() error {
	if err := validateRemote(c.Source.URL); err != nil {
		return &ValidationError{Field: "source.url", Message: err.Error()}
	}
	if _, err := c.MinSemver(); err != nil {
		return &ValidationError{Field: "source.min_version", Message: err.Error()}
	}

	if err := validatePackageURL(c.Package.URL); err != nil {
		return &ValidationError{Field: "package.url", Message: err.Error()}
	}
	if strings.Contains(c.Package.URL, "{arch}") && c.Package.Arch == "" {
		return &ValidationError{Field: "package.arch", Message: "required when package.url contains {arch}"}
	}
	if c.Package.CacheDir == "" {
		return &ValidationError{Field: "package.cache_dir", Message: "cannot be empty"}
	}
	if c.Package.Retries < 0 || c.Package.Retries > MaxRetries {
		return &ValidationError{
			Field:   "package.retries",
			Message: fmt.Sprintf("must be between 0 and %d (got %d)", MaxRetries, c.Package.Retries),
		}
	}
	if c.Package.Timeout <= 0 {
		return &ValidationError{Field: "package.timeout", Message: "must be positive"}
	}
	if c.Package.MaxDecompressedSize <= 0 {
		return &ValidationError{Field: "package.max_decompressed_size", Message: "must be positive"}
	}

	if err := c.UnpackTargets().Validate(); err != nil {
		return &ValidationError{Field: "targets", Message: err.Error()}
	}

	if c.Publish.File == "" {
		return &ValidationError{Field: "publish.file", Message: "cannot be empty"}
	}
	if strings.Contains(filepath.ToSlash(filepath.Clean(c.Publish.File)), "..") {
		return &ValidationError{Field: "publish.file", Message: fmt.Sprintf("path traversal not allowed: %s", c.Publish.File)}
	}

	if c.Options.Concurrency < 1 || c.Options.Concurrency > MaxConcurrency {
		return &ValidationError{
			Field:   "options.concurrency",
			Message: fmt.Sprintf("must be between 1 and %d (got %d)", MaxConcurrency, c.Options.Concurrency),
		}
	}
	switch c.Options.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return &ValidationError{Field: "options.log_level", Message: fmt.Sprintf("unknown level %q", c.Options.LogLevel)}
	}
	switch c.Options.LogFormat {
	case "console", "json":
	default:
		return &ValidationError{Field: "options.log_format", Message: fmt.Sprintf("unknown format %q", c.Options.LogFormat)}
	}

	return nil
}

// ValidationError represents a config validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return "config validation failed for " + e.Field + ": " + e.Message
	}
	return "config validation failed: " + e.Message
}

// validateRemote accepts HTTP(S), SSH and file URLs plus the scp-like
// git@host:path form.
func validateRemote(remote string) error {
	if remote == "" {
		return fmt.Errorf("git remote cannot be empty")
	}

	if strings.HasPrefix(remote, "git@") {
		if parts := strings.Split(remote, ":"); len(parts) != 2 {
			return fmt.Errorf("invalid SSH git URL format")
		}
		return nil
	}

	u, err := url.Parse(remote)
	if err != nil {
		return fmt.Errorf("invalid git URL: %w", err)
	}
	switch u.Scheme {
	case "https", "http", "ssh", "file":
		return nil
	default:
		return fmt.Errorf("git URL must use https, http, ssh or file scheme (got: %q)", u.Scheme)
	}
}

func validatePackageURL(tmpl string) error {
	if !strings.Contains(tmpl, "{version}") {
		return fmt.Errorf("must contain a {version} placeholder")
	}
	u, err := url.Parse(strings.NewReplacer("{version}", "0", "{arch}", "x").Replace(tmpl))
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("must use https:// or http:// scheme (got: %q)", u.Scheme)
	}
	return nil
}
