package config

import (
	"bytes"
	"fmt"
	"strconv"
)

// Generator renders a Config as a Lua configuration file.
type Generator struct {
	indent string
}

// NewGenerator creates a new Lua config generator.
func NewGenerator() *Generator {
	return &Generator{indent: "  "}
}

type luaField struct {
	key   string
	value string
}

// Generate returns Lua source that parses back to cfg. Empty optional
// strings and false booleans are omitted.
func (g *Generator) Generate(cfg *Config) string {
	var buf bytes.Buffer

	buf.WriteString("-- dnsfallback configuration\n\n")
	buf.WriteString(luaGlobal + " = {\n")

	g.writeSection(&buf, luaSectionSource, []luaField{
		str("url", cfg.Source.URL),
		str("tag_prefix", cfg.Source.TagPrefix),
		str("min_version", cfg.Source.MinVersion),
		boolean("include_prerelease", cfg.Source.IncludePrerelease),
	})
	g.writeSection(&buf, luaSectionPackage, []luaField{
		str("url", cfg.Package.URL),
		str("arch", cfg.Package.Arch),
		str("cache_dir", cfg.Package.CacheDir),
		integer("retries", int64(cfg.Package.Retries)),
		integer("timeout", int64(cfg.Package.Timeout)),
		integer("max_decompressed_size", cfg.Package.MaxDecompressedSize),
	})
	g.writeSection(&buf, luaSectionTargets, []luaField{
		str("member", cfg.Targets.Member),
		str("bundle", cfg.Targets.Bundle),
		str("path", cfg.Targets.Path),
		{key: "verify_integrity", value: strconv.FormatBool(cfg.Targets.VerifyIntegrity)},
	})
	g.writeSection(&buf, luaSectionPublish, []luaField{
		str("repo", cfg.Publish.Repo),
		str("file", cfg.Publish.File),
		str("tag_prefix", cfg.Publish.TagPrefix),
		str("author_name", cfg.Publish.AuthorName),
		str("author_email", cfg.Publish.AuthorEmail),
		str("remote", cfg.Publish.Remote),
		boolean("push", cfg.Publish.Push),
		str("signing_key", cfg.Publish.SigningKey),
	})
	g.writeSection(&buf, luaSectionOptions, []luaField{
		integer("concurrency", int64(cfg.Options.Concurrency)),
		boolean("dry_run", cfg.Options.DryRun),
		str("log_level", cfg.Options.LogLevel),
		str("log_format", cfg.Options.LogFormat),
	})

	buf.WriteString("}\n")
	return buf.String()
}

func (g *Generator) writeSection(buf *bytes.Buffer, name string, fields []luaField) {
	fmt.Fprintf(buf, "%s%s = {\n", g.indent, name)
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		fmt.Fprintf(buf, "%s%s%s = %s,\n", g.indent, g.indent, f.key, f.value)
	}
	fmt.Fprintf(buf, "%s},\n", g.indent)
}

func str(key, value string) luaField {
	if value == "" {
		return luaField{key: key}
	}
	return luaField{key: key, value: quoteLuaString(value)}
}

func boolean(key string, value bool) luaField {
	if !value {
		return luaField{key: key}
	}
	return luaField{key: key, value: "true"}
}

func integer(key string, value int64) luaField {
	return luaField{key: key, value: strconv.FormatInt(value, 10)}
}

// quoteLuaString quotes s as a Lua string literal. Control and non-ASCII
// bytes become three-digit decimal escapes.
func quoteLuaString(s string) string {
	var buf bytes.Buffer
	buf.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"' || c == '\\':
			buf.WriteByte('\\')
			buf.WriteByte(c)
		case c == '\n':
			buf.WriteString(`\n`)
		case c == '\t':
			buf.WriteString(`\t`)
		case c < 0x20 || c >= 0x7f:
			fmt.Fprintf(&buf, `\%03d`, c)
		default:
			buf.WriteByte(c)
		}
	}
	buf.WriteByte('"')
	return buf.String()
}
