package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/blang/semver"
	jsoniter "github.com/json-iterator/go"

	"github.com/ZebulonRouseFrantzich/dnsfallback/internal/config"
	"github.com/ZebulonRouseFrantzich/dnsfallback/internal/release"
)

type versionsFlags struct {
	common            commonFlags
	source            string
	minVersion        string
	includePrerelease bool
	json              bool
}

// runVersions handles `dnsfallback versions`: list the release versions the
// source repository advertises, one per line in ascending order.
func runVersions(args []string, stdout, stderr io.Writer) error {
	var f versionsFlags
	fs := newFlagSet("versions", stderr)
	f.common.register(fs)
	fs.StringVar(&f.source, "source", "", "git repository to list tags from")
	fs.StringVar(&f.minVersion, "min-version", "", "lowest version to report")
	fs.BoolVar(&f.includePrerelease, "include-prerelease", false, "also report pre-release versions")
	fs.BoolVar(&f.json, "json", false, "print a JSON array instead of one version per line")

	if stop, err := parseFlags(fs, args, &f.common, "dnsfallback versions [options]", stdout); stop || err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := f.common.bootstrapLogger(stderr)
	cfg, err := f.common.loadConfig(ctx, log)
	if err != nil {
		return err
	}
	if f.source != "" {
		cfg.Source.URL = f.source
	}
	if f.minVersion != "" {
		cfg.Source.MinVersion = f.minVersion
	}
	if f.includePrerelease {
		cfg.Source.IncludePrerelease = true
	}

	logger, err := f.common.newLogger(cfg, stderr)
	if err != nil {
		return err
	}
	defer logger.Sync()

	src, err := newVersionSource(cfg, nil)
	if err != nil {
		return err
	}
	src.Logger = logger

	versions, err := src.Versions(ctx)
	if err != nil {
		return err
	}
	return printVersions(stdout, versions, f.json)
}

// newVersionSource builds the discovery source from cfg. A nil lister
// queries the remote.
func newVersionSource(cfg *config.Config, lister release.Lister) (*release.Source, error) {
	minVersion, err := cfg.MinSemver()
	if err != nil {
		return nil, fmt.Errorf("invalid minimum version %q: %w", cfg.Source.MinVersion, err)
	}
	return &release.Source{
		Lister: lister,
		URL:    cfg.Source.URL,
		Filter: release.Filter{
			Prefix:            cfg.Source.TagPrefix,
			Min:               minVersion,
			IncludePrerelease: cfg.Source.IncludePrerelease,
		},
	}, nil
}

func printVersions(w io.Writer, versions []semver.Version, asJSON bool) error {
	if asJSON {
		names := make([]string, 0, len(versions))
		for _, v := range versions {
			names = append(names, v.String())
		}
		enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(w)
		return enc.Encode(names)
	}
	for _, v := range versions {
		if _, err := fmt.Fprintln(w, v.String()); err != nil {
			return err
		}
	}
	return nil
}
