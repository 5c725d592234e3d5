package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/ZebulonRouseFrantzich/dnsfallback/internal/logging"
)

const (
	// DefaultTimeout is the default HTTP request timeout
	DefaultTimeout = 5 * time.Minute
	// DefaultRetries is the default number of download retries
	DefaultRetries = 3
	// DefaultUserAgent is the User-Agent header sent with requests
	DefaultUserAgent = "dnsfallback/1.0"
)

// ErrNotPublished means the package URL returned 404. The tag may exist
// before the vendor uploads the package, so this is never retried.
var ErrNotPublished = errors.New("package not published")

// Package is a downloaded or cached package file.
type Package struct {
	Version string
	URL     string
	Path    string
	Data    []byte
	SHA256  string
	Cached  bool
}

// Options configures a Downloader.
type Options struct {
	// URLTemplate contains {version} and {arch} placeholders
	URLTemplate string
	Arch        string
	CacheDir    string
	// Retries defaults to DefaultRetries; negative disables retrying
	Retries     int
	Timeout     time.Duration
	UserAgent   string
	Logger      logging.Logger
	// Backoff returns the wait before retry attempt n (1-based); defaults to 1s, 2s, 4s, ...
	Backoff func(attempt int) time.Duration
}

// Downloader handles HTTP downloads with retry logic and an on-disk cache.
type Downloader struct {
	client      *http.Client
	urlTemplate string
	arch        string
	cacheDir    string
	userAgent   string
	retries     int
	backoff     func(int) time.Duration
	log         logging.Logger
}

// NewDownloader creates a new downloader.
func NewDownloader(opts Options) (*Downloader, error) {
	if opts.URLTemplate == "" {
		return nil, fmt.Errorf("URL template is required")
	}
	if !strings.Contains(opts.URLTemplate, "{version}") {
		return nil, fmt.Errorf("URL template %q has no {version} placeholder", opts.URLTemplate)
	}
	if opts.CacheDir == "" {
		return nil, fmt.Errorf("cache directory is required")
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	retries := opts.Retries
	if retries < 0 {
		retries = 0
	} else if retries == 0 {
		retries = DefaultRetries
	}
	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	backoff := opts.Backoff
	if backoff == nil {
		backoff = exponentialBackoff
	}

	return &Downloader{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				// Allow up to 10 redirects
				if len(via) >= 10 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
		urlTemplate: opts.URLTemplate,
		arch:        opts.Arch,
		cacheDir:    opts.CacheDir,
		userAgent:   userAgent,
		retries:     retries,
		backoff:     backoff,
		log:         logging.OrNoop(opts.Logger),
	}, nil
}

// exponentialBackoff: 1s, 2s, 4s
func exponentialBackoff(attempt int) time.Duration {
	return time.Duration(1<<uint(attempt-1)) * time.Second
}

// URL returns the package URL for version.
func (d *Downloader) URL(version string) string {
	return strings.NewReplacer("{version}", version, "{arch}", d.arch).Replace(d.urlTemplate)
}

// Fetch returns the package for version, downloading it unless it is
// already cached.
func (d *Downloader) Fetch(ctx context.Context, version string) (*Package, error) {
	url := d.URL(version)

	// Construct cache path: cache/{version}/{filename}
	cachePath := filepath.Join(d.cacheDir, version, path.Base(url))

	cached := fileExists(cachePath)
	if !cached {
		d.log.Info("downloading package", "version", version, "url", url)
		if err := d.DownloadToFile(ctx, url, cachePath); err != nil {
			return nil, fmt.Errorf("download %s: %w", version, err)
		}
	} else {
		d.log.Debug("using cached package", "version", version, "path", cachePath)
	}

	pkg, err := LoadFile(cachePath)
	if err != nil {
		return nil, err
	}
	pkg.Version = version
	pkg.URL = url
	pkg.Cached = cached
	return pkg, nil
}

// DownloadToFile downloads a URL to a specific file path
func (d *Downloader) DownloadToFile(ctx context.Context, url, destPath string) error {
	var lastErr error

	for attempt := 0; attempt <= d.retries; attempt++ {
		// Check context before each attempt
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if attempt > 0 {
			select {
			case <-time.After(d.backoff(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
			d.log.Debug("retrying download", "url", url, "attempt", attempt, "error", lastErr)
		}

		err := d.downloadOnce(ctx, url, destPath)
		if err == nil {
			return nil
		}

		lastErr = err

		// Don't retry on context cancellation or a missing package
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, ErrNotPublished) {
			return err
		}
	}

	return fmt.Errorf("download failed after %d retries: %w", d.retries, lastErr)
}

// downloadOnce performs a single download attempt
func (d *Downloader) downloadOnce(ctx context.Context, url, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", d.userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotPublished, url)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	destDir := filepath.Dir(destPath)
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return fmt.Errorf("create dest dir: %w", err)
	}

	tmpPath := destPath + ".tmp"
	tmpFile, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	// Track whether we need to clean up the temp file
	cleanupNeeded := true
	defer func() {
		tmpFile.Close()
		if cleanupNeeded {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, resp.Body)
	if err != nil {
		return fmt.Errorf("copy response body: %w", err)
	}
	if resp.ContentLength > 0 && written != resp.ContentLength {
		return fmt.Errorf("short body: got %d of %d bytes", written, resp.ContentLength)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	// Atomic rename
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}

	cleanupNeeded = false
	return nil
}

// LoadFile reads a package or bundle from local storage.
func LoadFile(filePath string) (*Package, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read package: %w", err)
	}

	sum := sha256.Sum256(data)
	return &Package{
		Path:   filePath,
		Data:   data,
		SHA256: hex.EncodeToString(sum[:]),
	}, nil
}

// fileExists checks if a file exists and is not empty
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir() && info.Size() > 0
}
