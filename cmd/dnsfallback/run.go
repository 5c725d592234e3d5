package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	jsoniter "github.com/json-iterator/go"

	"github.com/ZebulonRouseFrantzich/dnsfallback/internal/config"
	"github.com/ZebulonRouseFrantzich/dnsfallback/internal/harvest"
	"github.com/ZebulonRouseFrantzich/dnsfallback/internal/lock"
	"github.com/ZebulonRouseFrantzich/dnsfallback/internal/logging"
	"github.com/ZebulonRouseFrantzich/dnsfallback/internal/publish"
)

type runFlags struct {
	common      commonFlags
	dryRun      bool
	concurrency int
	repo        string
	push        bool
	noPush      bool
	report      string
}

// runRun handles `dnsfallback run`: publish every release that the output
// repository does not have yet.
func runRun(args []string, stdout, stderr io.Writer) error {
	var f runFlags
	fs := newFlagSet("run", stderr)
	f.common.register(fs)
	fs.BoolVarP(&f.dryRun, "dry-run", "n", false, "download and extract but do not publish")
	fs.IntVarP(&f.concurrency, "concurrency", "j", 0, "parallel downloads and extractions")
	fs.StringVar(&f.repo, "repo", "", "output git repository")
	fs.BoolVar(&f.push, "push", false, "push branches and tags after publishing")
	fs.BoolVar(&f.noPush, "no-push", false, "never push, even if the configuration asks to")
	fs.StringVar(&f.report, "report", "", "write a JSON run report to this file (- for stdout)")

	if stop, err := parseFlags(fs, args, &f.common, "dnsfallback run [options]", stdout); stop || err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := f.common.loadConfig(ctx, f.common.bootstrapLogger(stderr))
	if err != nil {
		return err
	}
	if err := f.apply(cfg); err != nil {
		return err
	}

	zl, err := f.common.newLogger(cfg, stderr)
	if err != nil {
		return err
	}
	defer zl.Sync()

	lk, err := lock.Acquire(ctx, cfg.Package.CacheDir)
	if err != nil {
		return err
	}
	defer lk.Release()
	log := zl.With("run_id", lk.RunID())

	runner, publisher, err := buildRunner(cfg, log)
	if err != nil {
		return err
	}
	runner.RunID = lk.RunID()

	report, err := runner.Run(ctx)
	if report != nil {
		if werr := writeReport(f.report, report, stdout); werr != nil {
			log.Error("write report failed", "error", werr)
		}
	}
	if err != nil {
		return err
	}

	if cfg.Publish.Push && !cfg.Options.DryRun && publisher != nil {
		if report.Count(harvest.OutcomePublished)+report.Count(harvest.OutcomeTagged) > 0 {
			if err := publisher.Push(ctx, cfg.Publish.Remote, os.Getenv(envPushToken)); err != nil {
				return err
			}
		}
	}

	if report.Failed() {
		return &exitError{code: 1}
	}
	return nil
}

func (f *runFlags) apply(cfg *config.Config) error {
	if f.dryRun {
		cfg.Options.DryRun = true
	}
	if f.concurrency != 0 {
		if f.concurrency < 1 || f.concurrency > config.MaxConcurrency {
			return fmt.Errorf("--concurrency must be between 1 and %d", config.MaxConcurrency)
		}
		cfg.Options.Concurrency = f.concurrency
	}
	if f.repo != "" {
		cfg.Publish.Repo = f.repo
	}
	if f.push {
		cfg.Publish.Push = true
	}
	if f.noPush {
		cfg.Publish.Push = false
	}
	if cfg.Publish.Repo == "" && !cfg.Options.DryRun {
		return fmt.Errorf("no output repository: set publish.repo or pass --repo")
	}
	return nil
}

// buildRunner wires the pipeline stages described by cfg. The publisher is
// nil when no output repository is configured.
func buildRunner(cfg *config.Config, log logging.Logger) (*harvest.Runner, *publish.Publisher, error) {
	source, err := newVersionSource(cfg, nil)
	if err != nil {
		return nil, nil, err
	}
	source.Logger = log

	downloader, err := newDownloader(cfg, log)
	if err != nil {
		return nil, nil, err
	}
	extractor, err := newExtractor(cfg)
	if err != nil {
		return nil, nil, err
	}

	runner := &harvest.Runner{
		Versions:    source,
		Packages:    downloader,
		Extractor:   extractor,
		Concurrency: cfg.Options.Concurrency,
		DryRun:      cfg.Options.DryRun,
		Logger:      log,
	}

	if cfg.Publish.Repo == "" {
		return runner, nil, nil
	}
	publisher, err := newPublisher(cfg, log)
	if err != nil {
		return nil, nil, err
	}
	runner.Sink = publisher
	return runner, publisher, nil
}

func newPublisher(cfg *config.Config, log logging.Logger) (*publish.Publisher, error) {
	opts := publish.Options{
		File:        cfg.Publish.File,
		TagPrefix:   cfg.Publish.TagPrefix,
		AuthorName:  cfg.Publish.AuthorName,
		AuthorEmail: cfg.Publish.AuthorEmail,
		Logger:      log,
	}
	if cfg.Publish.SigningKey != "" {
		key, err := publish.LoadSigningKey(cfg.Publish.SigningKey, os.Getenv(envSigningPassphrase))
		if err != nil {
			return nil, err
		}
		opts.SignKey = key
	}
	return publish.Open(cfg.Publish.Repo, opts)
}

// writeReport writes report as JSON to path, or a one-line summary to w
// when path is empty.
func writeReport(path string, report *harvest.Report, w io.Writer) error {
	if path == "" {
		_, err := fmt.Fprintf(w, "published=%d tagged=%d skipped=%d extracted=%d not-published=%d failed=%d\n",
			report.Count(harvest.OutcomePublished),
			report.Count(harvest.OutcomeTagged),
			report.Count(harvest.OutcomeSkipped),
			report.Count(harvest.OutcomeExtracted),
			report.Count(harvest.OutcomeNotPublished),
			report.Count(harvest.OutcomeFailed),
		)
		return err
	}

	data, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	data = append(data, '\n')
	if path == "-" {
		_, err = w.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0644)
}
