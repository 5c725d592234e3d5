package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/ZebulonRouseFrantzich/dnsfallback/internal/config"
	"github.com/ZebulonRouseFrantzich/dnsfallback/internal/fetch"
	"github.com/ZebulonRouseFrantzich/dnsfallback/internal/logging"
	"github.com/ZebulonRouseFrantzich/dnsfallback/internal/platform"
)

// Environment variables read by the CLI
const (
	envConfig            = "DNSFALLBACK_CONFIG"
	envPushToken         = "DNSFALLBACK_PUSH_TOKEN"
	envSigningPassphrase = "DNSFALLBACK_SIGNING_PASSPHRASE"
)

// commonFlags are accepted by every subcommand that reads configuration.
type commonFlags struct {
	configPath string
	logLevel   string
	logFormat  string
	help       bool
}

func (c *commonFlags) register(fs *pflag.FlagSet) {
	fs.StringVarP(&c.configPath, "config", "c", "", "configuration file (default $"+envConfig+" or ./"+config.DefaultConfigFile+")")
	fs.StringVar(&c.logLevel, "log-level", "", "log level: debug, info, warn, error")
	fs.StringVar(&c.logFormat, "log-format", "", "log format: console or json")
	fs.BoolVarP(&c.help, "help", "h", false, "show help")
}

// newFlagSet creates a FlagSet whose usage goes to w.
func newFlagSet(name string, w io.Writer) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(w)
	fs.SortFlags = false
	return fs
}

// parseFlags parses args and reports whether the command should stop
// because help was requested.
func parseFlags(fs *pflag.FlagSet, args []string, common *commonFlags, usage string, w io.Writer) (bool, error) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printCommandHelp(w, usage, fs)
			return true, nil
		}
		return false, err
	}
	if common.help {
		printCommandHelp(w, usage, fs)
		return true, nil
	}
	return false, nil
}

func printCommandHelp(w io.Writer, usage string, fs *pflag.FlagSet) {
	fmt.Fprintf(w, "Usage: %s\n\nOptions:\n", usage)
	fmt.Fprint(w, fs.FlagUsages())
}

// loadConfig resolves and parses the configuration file. A missing file is
// only an error when it was named explicitly; otherwise host defaults apply.
func (c *commonFlags) loadConfig(ctx context.Context, log logging.Logger) (*config.Config, error) {
	path := c.configPath
	explicit := path != ""
	if !explicit {
		if env := os.Getenv(envConfig); env != "" {
			path, explicit = env, true
		} else {
			path = config.DefaultConfigFile
		}
	}

	detector := platform.NewDetector()
	if _, err := os.Stat(path); err != nil && !explicit && errors.Is(err, os.ErrNotExist) {
		info, err := detector.Detect(ctx)
		if err != nil {
			return nil, err
		}
		log.Debug("no config file, using defaults", "path", path)
		return c.applyOverrides(config.ForPlatform(info))
	}

	cfg, err := config.NewParser(detector, log).ParseFile(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %s", path, config.FormatError(err, false))
	}
	return c.applyOverrides(cfg)
}

func (c *commonFlags) applyOverrides(cfg *config.Config) (*config.Config, error) {
	if c.logLevel != "" {
		cfg.Options.LogLevel = c.logLevel
	}
	if c.logFormat != "" {
		cfg.Options.LogFormat = c.logFormat
	}
	return cfg, nil
}

// newLogger builds the process logger. Flags win over the configuration.
func (c *commonFlags) newLogger(cfg *config.Config, w io.Writer) (*logging.ZapLogger, error) {
	level, format := c.logLevel, c.logFormat
	if cfg != nil {
		level, format = cfg.Options.LogLevel, cfg.Options.LogFormat
	}
	return logging.New(logging.Options{
		Level:  level,
		Format: logging.Format(format),
		Output: w,
	})
}

// bootstrapLogger logs while the configuration itself is loading.
func (c *commonFlags) bootstrapLogger(w io.Writer) logging.Logger {
	l, err := c.newLogger(nil, w)
	if err != nil {
		return logging.Noop()
	}
	return l
}

// newDownloader builds the package downloader described by cfg.
func newDownloader(cfg *config.Config, log logging.Logger) (*fetch.Downloader, error) {
	retries := cfg.Package.Retries
	if retries == 0 {
		retries = -1
	}
	return fetch.NewDownloader(fetch.Options{
		URLTemplate: cfg.Package.URL,
		Arch:        cfg.Package.Arch,
		CacheDir:    cfg.Package.CacheDir,
		Retries:     retries,
		Timeout:     time.Duration(cfg.Package.Timeout) * time.Second,
		UserAgent:   "dnsfallback/" + Version,
		Logger:      log,
	})
}
