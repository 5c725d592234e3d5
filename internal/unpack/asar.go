package unpack

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

const (
	// asarSizePickle is the payload size of the leading pickle, which holds
	// only the uint32 header size
	asarSizePickle = 4
	// maxLinkHops bounds symlink resolution inside a bundle
	maxLinkHops = 40
)

var asarJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// Integrity is the optional hash record attached to a bundle file.
type Integrity struct {
	Algorithm string   `json:"algorithm"`
	Hash      string   `json:"hash"`
	BlockSize int64    `json:"blockSize"`
	Blocks    []string `json:"blocks"`
}

// BundleFile is an index entry of an asar bundle.
type BundleFile struct {
	Path       string
	Offset     int64 // relative to the content region
	Size       int64
	Executable bool
	Unpacked   bool   // stored beside the bundle, not inside it
	Link       string // non-empty for symlinks, relative to the bundle root
	Integrity  *Integrity
}

// Bundle is a parsed asar archive. It is immutable once opened.
type Bundle struct {
	data    []byte
	content int64 // start of the content region
	files   map[string]BundleFile
}

// asarNode mirrors one node of the JSON header.
type asarNode struct {
	Files      map[string]*asarNode `json:"files"`
	Size       *int64               `json:"size"`
	Offset     asarOffset           `json:"offset"`
	Executable bool                 `json:"executable"`
	Unpacked   bool                 `json:"unpacked"`
	Link       string               `json:"link"`
	Integrity  *Integrity           `json:"integrity"`
}

// asarOffset accepts the offset either as a decimal string or a number.
type asarOffset int64

func (o *asarOffset) UnmarshalJSON(b []byte) error {
	s := string(bytes.Trim(b, `"`))
	if s == "" || s == "null" {
		*o = 0
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid offset %s: %w", b, err)
	}
	if v < 0 {
		return fmt.Errorf("negative offset %d", v)
	}
	*o = asarOffset(v)
	return nil
}

// OpenBundle parses the header of the asar bundle in data.
func OpenBundle(data []byte) (*Bundle, error) {
	if len(data) < 8 {
		return nil, malformed(StageBundle, "", 0, fmt.Errorf("bundle too short (%d bytes)", len(data)))
	}

	if size := binary.LittleEndian.Uint32(data[0:4]); size != asarSizePickle {
		return nil, malformed(StageBundle, "", 0, fmt.Errorf("unexpected size pickle length %d", size))
	}
	headerSize := int64(binary.LittleEndian.Uint32(data[4:8]))
	content := 8 + headerSize
	if content > int64(len(data)) {
		return nil, malformed(StageBundle, "", 4, fmt.Errorf("header size %d exceeds bundle length %d", headerSize, len(data)))
	}

	// header pickle: payload size, string length, string bytes
	pickle := data[8:content]
	if len(pickle) < 8 {
		return nil, malformed(StageBundle, "", 8, errors.New("header pickle too short"))
	}
	payloadSize := int64(binary.LittleEndian.Uint32(pickle[0:4]))
	if payloadSize+4 > int64(len(pickle)) {
		return nil, malformed(StageBundle, "", 8, fmt.Errorf("pickle payload %d exceeds header size %d", payloadSize, headerSize))
	}
	jsonLen := int64(binary.LittleEndian.Uint32(pickle[4:8]))
	if jsonLen+4 > payloadSize {
		return nil, malformed(StageBundle, "", 12, fmt.Errorf("header string length %d exceeds pickle payload %d", jsonLen, payloadSize))
	}
	raw := pickle[8 : 8+jsonLen]

	var root asarNode
	if err := asarJSON.Unmarshal(raw, &root); err != nil {
		return nil, malformed(StageBundle, "", 16, fmt.Errorf("decode header: %w", err))
	}
	if root.Files == nil {
		return nil, malformed(StageBundle, "", 16, errors.New("header has no root directory"))
	}

	files := make(map[string]BundleFile)
	if err := flattenNode(files, "", &root); err != nil {
		return nil, malformed(StageBundle, "", 16, err)
	}

	return &Bundle{data: data, content: content, files: files}, nil
}

func flattenNode(dst map[string]BundleFile, dir string, node *asarNode) error {
	for name, child := range node.Files {
		if child == nil {
			return fmt.Errorf("null entry %q", name)
		}
		if name == "" || name == "." || name == ".." || strings.Contains(name, "/") {
			return fmt.Errorf("invalid entry name %q", name)
		}
		p := name
		if dir != "" {
			p = dir + "/" + name
		}

		switch {
		case child.Files != nil:
			if err := flattenNode(dst, p, child); err != nil {
				return err
			}
		case child.Link != "":
			dst[p] = BundleFile{Path: p, Link: child.Link}
		default:
			if child.Size == nil {
				return fmt.Errorf("file %q has no size", p)
			}
			if *child.Size < 0 {
				return fmt.Errorf("file %q has negative size", p)
			}
			dst[p] = BundleFile{
				Path:       p,
				Offset:     int64(child.Offset),
				Size:       *child.Size,
				Executable: child.Executable,
				Unpacked:   child.Unpacked,
				Integrity:  child.Integrity,
			}
		}
	}
	return nil
}

// NormalizePath converts p to the form used as an index key.
func NormalizePath(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	p = strings.TrimLeft(p, "/")
	p = path.Clean(p)
	if p == "." {
		return ""
	}
	return p
}

// Len returns the number of indexed files.
func (b *Bundle) Len() int {
	return len(b.files)
}

// Paths returns the indexed paths in sorted order.
func (b *Bundle) Paths() []string {
	paths := make([]string, 0, len(b.files))
	for p := range b.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Lookup returns the index entry for p, following symlinks.
func (b *Bundle) Lookup(p string) (BundleFile, error) {
	want := NormalizePath(p)
	cur := want
	for hop := 0; hop <= maxLinkHops; hop++ {
		f, ok := b.files[cur]
		if !ok {
			return BundleFile{}, notFound(StageBundle, want, fmt.Sprintf("%d files indexed", len(b.files)))
		}
		if f.Link == "" {
			return f, nil
		}
		cur = NormalizePath(f.Link)
	}
	return BundleFile{}, malformed(StageBundle, want, noOffset, errors.New("too many levels of symbolic links"))
}

// ReadFile returns the content of p. When verify is set and the entry has a
// SHA256 integrity hash, the content is checked against it.
func (b *Bundle) ReadFile(p string, verify bool) ([]byte, error) {
	f, err := b.Lookup(p)
	if err != nil {
		return nil, err
	}
	if f.Unpacked {
		return nil, notFound(StageBundle, f.Path, "file is stored outside the bundle (unpacked)")
	}

	start := b.content + f.Offset
	end := start + f.Size
	if f.Offset > int64(len(b.data)) || end < start || end > int64(len(b.data)) {
		return nil, malformed(StageBundle, f.Path, start,
			fmt.Errorf("content range [%d, %d) outside bundle of %d bytes", start, end, len(b.data)))
	}
	data := b.data[start:end]

	if verify && f.Integrity != nil && strings.EqualFold(f.Integrity.Algorithm, "SHA256") && f.Integrity.Hash != "" {
		sum := sha256.Sum256(data)
		if !strings.EqualFold(hex.EncodeToString(sum[:]), f.Integrity.Hash) {
			return nil, malformed(StageBundle, f.Path, start, fmt.Errorf("integrity mismatch: expected sha256 %s", f.Integrity.Hash))
		}
	}

	return data, nil
}
