package unpack

import (
	"bytes"
	"fmt"
	"unicode/utf8"
)

// Targets names what the pipeline looks for at each stage.
type Targets struct {
	Member string // ar member holding the compressed tarball
	Bundle string // final path segment of the bundle inside the tarball
	Path   string // file inside the bundle
}

// DefaultTargets locates the DNS fallback table in a Signal Desktop package.
var DefaultTargets = Targets{
	Member: "data.tar.xz",
	Bundle: "app.asar",
	Path:   "build/dns-fallback.json",
}

// Validate checks that every target is set and the member has a known codec.
func (t Targets) Validate() error {
	if t.Member == "" {
		return fmt.Errorf("member target is empty")
	}
	if t.Bundle == "" {
		return fmt.Errorf("bundle target is empty")
	}
	if NormalizePath(t.Path) == "" {
		return fmt.Errorf("path target is empty")
	}
	if _, err := CodecFor(t.Member); err != nil {
		return err
	}
	return nil
}

// Options configures an Extractor. Zero values select the defaults.
type Options struct {
	Targets             Targets
	MaxDecompressedSize int64
	// VerifyIntegrity checks bundle files against their SHA256 integrity hash
	VerifyIntegrity bool
}

// Extractor runs the nested-archive pipeline. It holds no mutable state and
// may be shared between goroutines.
type Extractor struct {
	targets Targets
	codec   Codec
	maxSize int64
	verify  bool
}

// NewExtractor creates an extractor. Unset targets fall back to DefaultTargets.
func NewExtractor(opts Options) (*Extractor, error) {
	t := opts.Targets
	if t.Member == "" {
		t.Member = DefaultTargets.Member
	}
	if t.Bundle == "" {
		t.Bundle = DefaultTargets.Bundle
	}
	if t.Path == "" {
		t.Path = DefaultTargets.Path
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("invalid targets: %w", err)
	}
	codec, _ := CodecFor(t.Member)

	maxSize := opts.MaxDecompressedSize
	if maxSize <= 0 {
		maxSize = DefaultMaxDecompressedSize
	}

	return &Extractor{
		targets: t,
		codec:   codec,
		maxSize: maxSize,
		verify:  opts.VerifyIntegrity,
	}, nil
}

// Targets returns the targets in use.
func (e *Extractor) Targets() Targets {
	return e.targets
}

// FromBundle extracts the target file from asar bundle bytes.
func (e *Extractor) FromBundle(data []byte) (string, error) {
	bundle, err := OpenBundle(data)
	if err != nil {
		return "", err
	}

	content, err := bundle.ReadFile(e.targets.Path, e.verify)
	if err != nil {
		return "", err
	}

	if !utf8.Valid(content) {
		return "", decodeErr(StageText, e.targets.Path, int64(firstInvalidUTF8(content)),
			fmt.Errorf("content is not valid UTF-8"))
	}

	return string(content), nil
}

// FromPackage extracts the target file from Debian package bytes:
// ar member -> decompressed tar -> bundle -> file.
func (e *Extractor) FromPackage(data []byte) (string, error) {
	member, _, err := FindMember(bytes.NewReader(data), e.targets.Member)
	if err != nil {
		return "", err
	}

	tarball, err := Decompress(member, e.codec, e.maxSize)
	if err != nil {
		return "", err
	}

	entry, err := NewTarWalker(bytes.NewReader(tarball)).FindByBase(e.targets.Bundle)
	if err != nil {
		return "", err
	}

	bundle, err := entry.ReadAll()
	if err != nil {
		return "", err
	}

	return e.FromBundle(bundle)
}

// IsPackage reports whether data starts with the ar container magic.
func IsPackage(data []byte) bool {
	return bytes.HasPrefix(data, []byte(arMagic))
}

var defaultExtractor = &Extractor{
	targets: DefaultTargets,
	codec:   CodecXZ,
	maxSize: DefaultMaxDecompressedSize,
	verify:  true,
}

// ExtractFromBundle runs FromBundle with the default targets.
func ExtractFromBundle(data []byte) (string, error) {
	return defaultExtractor.FromBundle(data)
}

// ExtractFromPackage runs FromPackage with the default targets.
func ExtractFromPackage(data []byte) (string, error) {
	return defaultExtractor.FromPackage(data)
}

func firstInvalidUTF8(b []byte) int {
	for i := 0; i < len(b); {
		r, size := utf8.DecodeRune(b[i:])
		if r == utf8.RuneError && size <= 1 {
			return i
		}
		i += size
	}
	return len(b)
}
