package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/ZebulonRouseFrantzich/dnsfallback/internal/config"
	"github.com/ZebulonRouseFrantzich/dnsfallback/internal/fetch"
	"github.com/ZebulonRouseFrantzich/dnsfallback/internal/unpack"
)

type extractFlags struct {
	common   commonFlags
	version  string
	member   string
	bundle   string
	path     string
	noVerify bool
	output   string
}

// runExtract handles `dnsfallback extract`. The input is a local .deb or
// asar file, or a version to download; the kind of a local file is decided
// by its ar magic rather than its name.
func runExtract(args []string, stdout, stderr io.Writer) error {
	var f extractFlags
	fs := newFlagSet("extract", stderr)
	f.common.register(fs)
	fs.StringVar(&f.version, "version", "", "download this release version instead of reading FILE")
	fs.StringVar(&f.member, "member", "", "ar member holding the compressed tarball")
	fs.StringVar(&f.bundle, "bundle", "", "bundle file name inside the tarball")
	fs.StringVar(&f.path, "path", "", "file path inside the bundle")
	fs.BoolVar(&f.noVerify, "no-verify", false, "skip bundle integrity hashes")
	fs.StringVarP(&f.output, "output", "o", "", "write the artifact to this file instead of stdout")

	usage := "dnsfallback extract [options] FILE | --version V"
	if stop, err := parseFlags(fs, args, &f.common, usage, stdout); stop || err != nil {
		return err
	}
	if fs.NArg() > 1 || (fs.NArg() == 1) == (f.version != "") {
		printCommandHelp(stderr, usage, fs)
		return &exitError{code: 2}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := f.common.bootstrapLogger(stderr)
	cfg, err := f.common.loadConfig(ctx, log)
	if err != nil {
		return err
	}
	f.applyTargets(cfg)

	logger, err := f.common.newLogger(cfg, stderr)
	if err != nil {
		return err
	}
	defer logger.Sync()

	extractor, err := newExtractor(cfg)
	if err != nil {
		return err
	}

	var pkg *fetch.Package
	if f.version != "" {
		d, err := newDownloader(cfg, logger)
		if err != nil {
			return err
		}
		pkg, err = d.Fetch(ctx, f.version)
		if err != nil {
			return err
		}
	} else {
		pkg, err = fetch.LoadFile(fs.Arg(0))
		if err != nil {
			return err
		}
	}

	content, err := extractData(extractor, pkg.Data)
	if err != nil {
		return err
	}
	logger.Debug("extracted artifact", "source", pkg.Path, "bytes", len(content), "sha256", pkg.SHA256)

	if f.output != "" {
		return os.WriteFile(f.output, []byte(content), 0644)
	}
	_, err = io.WriteString(stdout, content)
	return err
}

func (f *extractFlags) applyTargets(cfg *config.Config) {
	if f.member != "" {
		cfg.Targets.Member = f.member
	}
	if f.bundle != "" {
		cfg.Targets.Bundle = f.bundle
	}
	if f.path != "" {
		cfg.Targets.Path = f.path
	}
	if f.noVerify {
		cfg.Targets.VerifyIntegrity = false
	}
}

func newExtractor(cfg *config.Config) (*unpack.Extractor, error) {
	e, err := unpack.NewExtractor(unpack.Options{
		Targets:             cfg.UnpackTargets(),
		MaxDecompressedSize: cfg.Package.MaxDecompressedSize,
		VerifyIntegrity:     cfg.Targets.VerifyIntegrity,
	})
	if err != nil {
		return nil, fmt.Errorf("invalid extraction targets: %w", err)
	}
	return e, nil
}

// extractData treats data as a package when it carries the ar magic and as
// a bare bundle otherwise.
func extractData(e *unpack.Extractor, data []byte) (string, error) {
	if unpack.IsPackage(data) {
		return e.FromPackage(data)
	}
	return e.FromBundle(data)
}
