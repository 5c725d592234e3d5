package unpack

import (
	"errors"
	"fmt"
	"strings"
)

// Stage identifies the pipeline position that produced an error.
type Stage int

const (
	// StageMember is the ar container scan for the compressed payload
	StageMember Stage = iota + 1
	// StageDecompress is the xz/lzma decode of the member payload
	StageDecompress
	// StageTar is the walk over the decompressed tar stream
	StageTar
	// StageBundle is the asar header parse and file lookup
	StageBundle
	// StageText is the UTF-8 validation of the extracted file
	StageText
)

// String returns the string representation of the stage
func (s Stage) String() string {
	switch s {
	case StageMember:
		return "member lookup"
	case StageDecompress:
		return "decompression"
	case StageTar:
		return "tar walk"
	case StageBundle:
		return "bundle parse"
	case StageText:
		return "text decode"
	default:
		return "unknown stage"
	}
}

// Kind classifies an extraction failure.
type Kind int

const (
	// KindNotFound means the input was well formed but the sought member,
	// entry or file is absent.
	KindNotFound Kind = iota + 1
	// KindMalformed means a structure could not be parsed.
	KindMalformed
	// KindDecode means a codec or text decoding failure.
	KindDecode
)

// String returns the string representation of the kind
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindMalformed:
		return "malformed input"
	case KindDecode:
		return "decode error"
	default:
		return "unknown error"
	}
}

// Sentinels matched by errors.Is against any *Error of the same kind.
var (
	ErrNotFound  = errors.New("not found")
	ErrMalformed = errors.New("malformed input")
	ErrDecode    = errors.New("decode error")
)

// noOffset marks an Error that does not point at a byte position.
const noOffset int64 = -1

// Error is the single error type returned by the extraction pipeline.
type Error struct {
	Stage  Stage
	Kind   Kind
	Name   string // member, entry or path involved, if any
	Offset int64  // byte offset within the stage input, -1 when unknown
	Detail string // extra diagnostics (entry counts, reasons)
	Err    error  // underlying cause, may be nil
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Stage.String())
	b.WriteString(": ")
	b.WriteString(e.Kind.String())
	if e.Name != "" {
		fmt.Fprintf(&b, " %q", e.Name)
	}
	if e.Offset >= 0 {
		fmt.Fprintf(&b, " at offset %d", e.Offset)
	}
	if e.Detail != "" {
		b.WriteString(" (")
		b.WriteString(e.Detail)
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for this error's kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrMalformed:
		return e.Kind == KindMalformed
	case ErrDecode:
		return e.Kind == KindDecode
	}
	return false
}

func notFound(stage Stage, name, detail string) *Error {
	return &Error{Stage: stage, Kind: KindNotFound, Name: name, Offset: noOffset, Detail: detail}
}

func malformed(stage Stage, name string, offset int64, err error) *Error {
	return &Error{Stage: stage, Kind: KindMalformed, Name: name, Offset: offset, Err: err}
}

func decodeErr(stage Stage, name string, offset int64, err error) *Error {
	return &Error{Stage: stage, Kind: KindDecode, Name: name, Offset: offset, Err: err}
}

// StageOf returns the stage recorded in err, or 0 if err did not come from
// this package.
func StageOf(err error) Stage {
	var e *Error
	if errors.As(err, &e) {
		return e.Stage
	}
	return 0
}
