package unpack

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"
)

// Codec names a compression format for a container member.
type Codec string

const (
	CodecXZ   Codec = "xz"
	CodecLZMA Codec = "lzma"
	CodecGzip Codec = "gzip"
	CodecZstd Codec = "zstd"
	CodecNone Codec = "none"
)

// DefaultMaxDecompressedSize caps the in-memory decompressed payload.
const DefaultMaxDecompressedSize int64 = 1 << 30

// CodecFor picks the codec from a member name suffix, e.g. data.tar.xz.
func CodecFor(member string) (Codec, error) {
	switch {
	case strings.HasSuffix(member, ".xz"):
		return CodecXZ, nil
	case strings.HasSuffix(member, ".lzma"):
		return CodecLZMA, nil
	case strings.HasSuffix(member, ".gz"):
		return CodecGzip, nil
	case strings.HasSuffix(member, ".zst"):
		return CodecZstd, nil
	case strings.HasSuffix(member, ".tar"):
		return CodecNone, nil
	default:
		return "", fmt.Errorf("no codec for member %q", member)
	}
}

// Decompress decodes the whole stream in r. The result is held in memory and
// limited to maxSize bytes; a non-positive maxSize uses the default.
func Decompress(r io.Reader, codec Codec, maxSize int64) ([]byte, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxDecompressedSize
	}

	dec, closeFn, err := newDecoder(r, codec)
	if err != nil {
		return nil, decodeErr(StageDecompress, string(codec), 0, err)
	}
	defer closeFn()

	var out bytes.Buffer
	n, err := io.Copy(&out, io.LimitReader(dec, maxSize+1))
	if err != nil {
		// a truncated container surfaces here through the member reader
		var src *Error
		if errors.As(err, &src) && src.Stage == StageMember {
			return nil, src
		}
		return nil, decodeErr(StageDecompress, string(codec), n, err)
	}
	if n > maxSize {
		return nil, decodeErr(StageDecompress, string(codec), maxSize,
			fmt.Errorf("decompressed size exceeds limit of %d bytes", maxSize))
	}

	return out.Bytes(), nil
}

func newDecoder(r io.Reader, codec Codec) (io.Reader, func(), error) {
	noop := func() {}

	switch codec {
	case CodecXZ:
		zr, err := xz.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("create xz reader: %w", err)
		}
		return zr, noop, nil

	case CodecLZMA:
		zr, err := lzma.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("create lzma reader: %w", err)
		}
		return zr, noop, nil

	case CodecGzip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("create gzip reader: %w", err)
		}
		return zr, func() { _ = zr.Close() }, nil

	case CodecZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("create zstd reader: %w", err)
		}
		return zr, zr.Close, nil

	case CodecNone:
		return r, noop, nil

	default:
		return nil, nil, fmt.Errorf("unknown codec %q", codec)
	}
}
