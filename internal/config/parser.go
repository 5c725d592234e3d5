package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/ZebulonRouseFrantzich/dnsfallback/internal/logging"
	"github.com/ZebulonRouseFrantzich/dnsfallback/internal/platform"
)

// Parser evaluates Lua configuration files.
type Parser struct {
	detector platform.Detector
	log      logging.Logger
}

// NewParser creates a config parser. A nil detector leaves the platform
// table undefined and the defaults host independent.
func NewParser(detector platform.Detector, log logging.Logger) *Parser {
	return &Parser{detector: detector, log: logging.OrNoop(log)}
}

// ParseFile reads and parses the configuration file at path.
func (p *Parser) ParseFile(ctx context.Context, path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if info.Size() > MaxConfigSize {
		return nil, &ParseError{
			Message: "config file too large",
			Detail:  fmt.Sprintf("%s is %d bytes, maximum is %d", path, info.Size(), MaxConfigSize),
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	p.log.Debug("parsing config", "path", path)
	return p.ParseString(ctx, string(data))
}

// ParseString parses a Lua config from a string.
func (p *Parser) ParseString(ctx context.Context, luaCode string) (*Config, error) {
	if len(luaCode) > MaxConfigSize {
		return nil, &ParseError{
			Message: "config too large",
			Detail:  fmt.Sprintf("%d bytes, maximum is %d", len(luaCode), MaxConfigSize),
		}
	}
	for _, finding := range FindSecrets(luaCode) {
		p.log.Warn("possible secret in config file; use the environment instead",
			"kind", finding.PatternName, "line", finding.Line)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultParseTimeout*time.Second)
		defer cancel()
	}

	L := newSandboxedVM()
	defer L.Close()
	L.SetContext(ctx)

	cfg := Default()
	if p.detector != nil {
		info, err := p.detector.Detect(ctx)
		if err != nil {
			return nil, fmt.Errorf("platform detection failed: %w", err)
		}
		if err := platform.InjectPlatformTable(L, info); err != nil {
			return nil, fmt.Errorf("inject platform table: %w", err)
		}
		cfg = ForPlatform(info)
	}

	if err := L.DoString(luaCode); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("config evaluation aborted: %w", ctx.Err())
		}
		return nil, &ParseError{
			Message: "Lua error",
			Detail:  err.Error(),
		}
	}

	if err := extractConfig(L, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseError represents a config parsing error with friendly message.
type ParseError struct {
	Message string // User-friendly message
	Detail  string // Technical details (raw Lua error)
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Message, e.Detail)
}

// extractConfig overlays the global dnsfallback table onto cfg.
func extractConfig(L *lua.LState, cfg *Config) error {
	root := L.GetGlobal(luaGlobal)
	if root.Type() != lua.LTTable {
		return &ParseError{
			Message: fmt.Sprintf("missing or invalid '%s' table", luaGlobal),
			Detail:  fmt.Sprintf("expected table, got %s", root.Type()),
		}
	}
	t := root.(*lua.LTable)

	r := &reader{}
	if s := r.section(t, luaSectionSource); s != nil {
		r.str(s, "url", &cfg.Source.URL)
		r.str(s, "tag_prefix", &cfg.Source.TagPrefix)
		r.str(s, "min_version", &cfg.Source.MinVersion)
		r.boolean(s, "include_prerelease", &cfg.Source.IncludePrerelease)
	}
	if s := r.section(t, luaSectionPackage); s != nil {
		r.str(s, "url", &cfg.Package.URL)
		r.str(s, "arch", &cfg.Package.Arch)
		r.str(s, "cache_dir", &cfg.Package.CacheDir)
		r.integer(s, "retries", &cfg.Package.Retries)
		r.integer(s, "timeout", &cfg.Package.Timeout)
		var size int
		if r.integer(s, "max_decompressed_size", &size) {
			cfg.Package.MaxDecompressedSize = int64(size)
		}
	}
	if s := r.section(t, luaSectionTargets); s != nil {
		r.str(s, "member", &cfg.Targets.Member)
		r.str(s, "bundle", &cfg.Targets.Bundle)
		r.str(s, "path", &cfg.Targets.Path)
		r.boolean(s, "verify_integrity", &cfg.Targets.VerifyIntegrity)
	}
	if s := r.section(t, luaSectionPublish); s != nil {
		r.str(s, "repo", &cfg.Publish.Repo)
		r.str(s, "file", &cfg.Publish.File)
		r.str(s, "tag_prefix", &cfg.Publish.TagPrefix)
		r.str(s, "author_name", &cfg.Publish.AuthorName)
		r.str(s, "author_email", &cfg.Publish.AuthorEmail)
		r.str(s, "remote", &cfg.Publish.Remote)
		r.boolean(s, "push", &cfg.Publish.Push)
		r.str(s, "signing_key", &cfg.Publish.SigningKey)
	}
	if s := r.section(t, luaSectionOptions); s != nil {
		r.integer(s, "concurrency", &cfg.Options.Concurrency)
		r.boolean(s, "dry_run", &cfg.Options.DryRun)
		r.str(s, "log_level", &cfg.Options.LogLevel)
		r.str(s, "log_format", &cfg.Options.LogFormat)
	}

	return r.err
}

// reader copies typed fields out of Lua tables, keeping the first type
// error. nil fields are left untouched so platform.when(...) can opt out.
type reader struct {
	path []string
	err  error
}

func (r *reader) section(t *lua.LTable, name string) *lua.LTable {
	v := t.RawGetString(name)
	switch v.Type() {
	case lua.LTNil:
		return nil
	case lua.LTTable:
		r.path = []string{name}
		return v.(*lua.LTable)
	default:
		r.fail(name, "table", v)
		return nil
	}
}

func (r *reader) str(t *lua.LTable, key string, dst *string) {
	v := t.RawGetString(key)
	switch v.Type() {
	case lua.LTNil:
	case lua.LTString:
		*dst = v.String()
	default:
		r.fail(r.field(key), "string", v)
	}
}

func (r *reader) boolean(t *lua.LTable, key string, dst *bool) {
	v := t.RawGetString(key)
	switch v.Type() {
	case lua.LTNil:
	case lua.LTBool:
		*dst = bool(v.(lua.LBool))
	default:
		r.fail(r.field(key), "boolean", v)
	}
}

func (r *reader) integer(t *lua.LTable, key string, dst *int) bool {
	v := t.RawGetString(key)
	switch v.Type() {
	case lua.LTNil:
		return false
	case lua.LTNumber:
		n := float64(v.(lua.LNumber))
		if n != float64(int64(n)) {
			r.fail(r.field(key), "integer", v)
			return false
		}
		*dst = int(n)
		return true
	default:
		r.fail(r.field(key), "integer", v)
		return false
	}
}

func (r *reader) field(key string) string {
	return strings.Join(append(append([]string{}, r.path...), key), ".")
}

func (r *reader) fail(field, want string, got lua.LValue) {
	if r.err != nil {
		return
	}
	r.err = &ParseError{
		Message: fmt.Sprintf("invalid value for %s.%s", luaGlobal, field),
		Detail:  fmt.Sprintf("expected %s, got %s", want, got.Type()),
	}
}

// FormatError formats a ParseError for user display.
// In verbose mode, show the raw Lua error. Otherwise, show friendly message.
func FormatError(err error, verbose bool) string {
	if parseErr, ok := err.(*ParseError); ok {
		if verbose {
			return fmt.Sprintf("%s\n\nDetails:\n%s", parseErr.Message, parseErr.Detail)
		}
		detail := parseErr.Detail
		if idx := strings.Index(detail, "stack traceback"); idx > 0 {
			detail = strings.TrimSpace(detail[:idx])
		}
		return fmt.Sprintf("%s: %s", parseErr.Message, detail)
	}
	return err.Error()
}
