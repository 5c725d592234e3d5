package unpack

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"path"
)

// ErrStaleEntry is returned when reading a TarEntry after the walker has
// moved past it. Tar streams cannot be rewound.
var ErrStaleEntry = errors.New("tar entry is no longer current")

// TarEntry is one header of a tar stream together with its content.
// The content is readable only until the next call to TarWalker.Next.
type TarEntry struct {
	Path string
	Size int64
	Type byte

	walker *TarWalker
	seq    int
}

// IsRegular reports whether the entry is a regular file.
func (e *TarEntry) IsRegular() bool {
	return e.Type == tar.TypeReg || e.Type == tar.TypeRegA //nolint:staticcheck // old writers still emit TypeRegA
}

// Name returns the final path segment of the entry.
func (e *TarEntry) Name() string {
	return path.Base(e.Path)
}

// ReadAll reads the entry content.
func (e *TarEntry) ReadAll() ([]byte, error) {
	if e.seq != e.walker.seq {
		return nil, malformed(StageTar, e.Path, noOffset, ErrStaleEntry)
	}
	data, err := io.ReadAll(e.walker.tr)
	if err != nil {
		return nil, malformed(StageTar, e.Path, noOffset, fmt.Errorf("read entry: %w", err))
	}
	return data, nil
}

// TarWalker yields the entries of a tar stream in order, forward only.
type TarWalker struct {
	tr    *tar.Reader
	seq   int
	done  bool
	count int
}

// NewTarWalker creates a walker over the tar stream in r.
func NewTarWalker(r io.Reader) *TarWalker {
	return &TarWalker{tr: tar.NewReader(r)}
}

// Next returns the next entry, or io.EOF at the end-of-archive marker.
// A corrupt or truncated header ends the walk with a malformed-input error.
func (w *TarWalker) Next() (*TarEntry, error) {
	if w.done {
		return nil, io.EOF
	}

	w.seq++
	hdr, err := w.tr.Next()
	if err == io.EOF {
		w.done = true
		return nil, io.EOF
	}
	if err != nil {
		w.done = true
		return nil, malformed(StageTar, "", noOffset, fmt.Errorf("read tar header after %d entries: %w", w.count, err))
	}

	w.count++
	return &TarEntry{
		Path:   hdr.Name,
		Size:   hdr.Size,
		Type:   hdr.Typeflag,
		walker: w,
		seq:    w.seq,
	}, nil
}

// FindByBase returns the first regular file whose final path segment equals
// name. Later entries with the same name are never inspected.
func (w *TarWalker) FindByBase(name string) (*TarEntry, error) {
	for {
		entry, err := w.Next()
		if err == io.EOF {
			return nil, notFound(StageTar, name, fmt.Sprintf("scanned %d tar entries", w.count))
		}
		if err != nil {
			return nil, err
		}
		if entry.IsRegular() && entry.Name() == name {
			return entry, nil
		}
	}
}
