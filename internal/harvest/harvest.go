// Package harvest runs the full pipeline for every new release: discover
// versions, download and unpack their packages, then publish the extracted
// artifacts in ascending version order.
package harvest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/blang/semver"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ZebulonRouseFrantzich/dnsfallback/internal/fetch"
	"github.com/ZebulonRouseFrantzich/dnsfallback/internal/logging"
	"github.com/ZebulonRouseFrantzich/dnsfallback/internal/publish"
	"github.com/ZebulonRouseFrantzich/dnsfallback/internal/unpack"
)

// VersionSource lists candidate release versions in ascending order.
type VersionSource interface {
	Versions(ctx context.Context) ([]semver.Version, error)
}

// PackageSource returns the package bytes for a version.
type PackageSource interface {
	Fetch(ctx context.Context, version string) (*fetch.Package, error)
}

// Extractor recovers the artifact text from package bytes.
type Extractor interface {
	FromPackage(data []byte) (string, error)
}

// ReleaseSink records published releases.
type ReleaseSink interface {
	HasTag(version string) (bool, error)
	Publish(ctx context.Context, rel publish.Release) (*publish.Result, error)
}

// Outcome is what happened to one version.
type Outcome string

const (
	OutcomePublished    Outcome = "published"
	OutcomeTagged       Outcome = "tagged"
	OutcomeSkipped      Outcome = "skipped"
	OutcomeExtracted    Outcome = "extracted"
	OutcomeNotPublished Outcome = "not-published"
	OutcomeFailed       Outcome = "failed"
)

// Result records the outcome for one version.
type Result struct {
	Version       string        `json:"version"`
	Outcome       Outcome       `json:"outcome"`
	Stage         string        `json:"stage,omitempty"`
	Tag           string        `json:"tag,omitempty"`
	Commit        string        `json:"commit,omitempty"`
	PackageURL    string        `json:"package_url,omitempty"`
	PackageSHA256 string        `json:"package_sha256,omitempty"`
	Cached        bool          `json:"cached,omitempty"`
	Bytes         int           `json:"bytes,omitempty"`
	Error         string        `json:"error,omitempty"`
	Duration      time.Duration `json:"duration"`

	content string
	err     error
}

// Err returns the failure for this version, if any.
func (r *Result) Err() error {
	return r.err
}

// Report summarizes one run.
type Report struct {
	RunID    string    `json:"run_id"`
	DryRun   bool      `json:"dry_run,omitempty"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
	Results  []Result  `json:"results"`
}

// Count returns how many versions ended with outcome o.
func (r *Report) Count(o Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == o {
			n++
		}
	}
	return n
}

// Failed reports whether any version failed.
func (r *Report) Failed() bool {
	return r.Count(OutcomeFailed) > 0
}

// Runner wires the pipeline stages together.
type Runner struct {
	Versions  VersionSource
	Packages  PackageSource
	Extractor Extractor
	// Sink may be nil when DryRun is set
	Sink ReleaseSink
	// Concurrency bounds parallel downloads and extractions; defaults to 1
	Concurrency int
	DryRun      bool
	RunID       string
	Logger      logging.Logger
}

// Run processes every discovered version that is not yet published. A
// failure for one version is recorded in the report and does not stop the
// others; Run itself only fails when discovery fails or ctx ends.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	if r.Versions == nil || r.Packages == nil || r.Extractor == nil {
		return nil, fmt.Errorf("runner is missing a version source, package source or extractor")
	}
	if r.Sink == nil && !r.DryRun {
		return nil, fmt.Errorf("runner has no release sink and is not a dry run")
	}

	report := &Report{RunID: r.RunID, DryRun: r.DryRun, Started: time.Now()}
	if report.RunID == "" {
		report.RunID = uuid.NewString()
	}
	log := logging.OrNoop(r.Logger)

	versions, err := r.Versions.Versions(ctx)
	if err != nil {
		return nil, fmt.Errorf("discover versions: %w", err)
	}
	log.Info("discovered versions", "run_id", report.RunID, "count", len(versions))

	pending, err := r.filterPublished(versions, report)
	if err != nil {
		return nil, err
	}

	r.extractAll(ctx, pending, log)
	if err := ctx.Err(); err != nil {
		report.Results = append(report.Results, pending...)
		report.Finished = time.Now()
		return report, err
	}

	for i := range pending {
		res := &pending[i]
		if res.err == nil && !r.DryRun {
			if err := ctx.Err(); err != nil {
				report.Results = append(report.Results, pending...)
				report.Finished = time.Now()
				return report, err
			}
			r.publish(ctx, res, log)
		}
		if res.err != nil {
			res.Error = res.err.Error()
			log.Error("version failed", "version", res.Version, "stage", res.Stage, "error", res.err)
		}
	}

	report.Results = append(report.Results, pending...)
	report.Finished = time.Now()
	log.Info("run finished",
		"run_id", report.RunID,
		"published", report.Count(OutcomePublished),
		"tagged", report.Count(OutcomeTagged),
		"skipped", report.Count(OutcomeSkipped),
		"not_published", report.Count(OutcomeNotPublished),
		"failed", report.Count(OutcomeFailed),
	)
	return report, nil
}

// filterPublished records already tagged versions as skipped and returns
// results for the rest, preserving ascending order.
func (r *Runner) filterPublished(versions []semver.Version, report *Report) ([]Result, error) {
	var pending []Result
	for _, v := range versions {
		version := v.String()
		if r.Sink != nil {
			published, err := r.Sink.HasTag(version)
			if err != nil {
				return nil, fmt.Errorf("check published %s: %w", version, err)
			}
			if published {
				report.Results = append(report.Results, Result{Version: version, Outcome: OutcomeSkipped})
				continue
			}
		}
		pending = append(pending, Result{Version: version})
	}
	return pending, nil
}

// extractAll fetches and unpacks every pending version with bounded
// concurrency. Each goroutine writes only its own slot.
func (r *Runner) extractAll(ctx context.Context, pending []Result, log logging.Logger) {
	limit := r.Concurrency
	if limit < 1 {
		limit = 1
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for i := range pending {
		res := &pending[i]
		g.Go(func() error {
			r.extractOne(ctx, res, log)
			return nil
		})
	}
	_ = g.Wait()
}

func (r *Runner) extractOne(ctx context.Context, res *Result, log logging.Logger) {
	start := time.Now()
	defer func() { res.Duration += time.Since(start) }()

	if err := ctx.Err(); err != nil {
		res.fail("fetch", err)
		return
	}

	pkg, err := r.Packages.Fetch(ctx, res.Version)
	if err != nil {
		if errors.Is(err, fetch.ErrNotPublished) {
			res.Outcome = OutcomeNotPublished
			res.Stage = "fetch"
			res.Error = err.Error()
			log.Warn("package not published yet", "version", res.Version)
			return
		}
		res.fail("fetch", err)
		return
	}
	res.PackageURL = pkg.URL
	res.PackageSHA256 = pkg.SHA256
	res.Cached = pkg.Cached

	content, err := r.Extractor.FromPackage(pkg.Data)
	if err != nil {
		res.fail("extract/"+unpack.StageOf(err).String(), err)
		return
	}
	res.content = content
	res.Bytes = len(content)
	res.Outcome = OutcomeExtracted
	log.Debug("extracted artifact", "version", res.Version, "bytes", len(content), "cached", pkg.Cached)
}

func (r *Runner) publish(ctx context.Context, res *Result, log logging.Logger) {
	if res.Outcome != OutcomeExtracted {
		return
	}
	start := time.Now()
	defer func() { res.Duration += time.Since(start) }()

	out, err := r.Sink.Publish(ctx, publish.Release{
		Version:       res.Version,
		Content:       res.content,
		PackageURL:    res.PackageURL,
		PackageSHA256: res.PackageSHA256,
	})
	if errors.Is(err, publish.ErrAlreadyPublished) {
		res.Outcome = OutcomeSkipped
		return
	}
	if err != nil {
		res.fail("publish", err)
		return
	}

	res.Tag = out.Tag
	res.Commit = out.Commit.String()
	if out.Changed {
		res.Outcome = OutcomePublished
	} else {
		res.Outcome = OutcomeTagged
	}
	log.Info("published release", "version", res.Version, "tag", out.Tag, "changed", out.Changed)
}

func (r *Result) fail(stage string, err error) {
	r.Outcome = OutcomeFailed
	r.Stage = stage
	r.err = err
}
