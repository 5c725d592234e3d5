package unpack

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

const (
	arMagic      = "!<arch>\n"
	arHeaderSize = 60
	arTerminator = "`\n"
	// bsdLongName prefixes BSD-style names stored at the head of the payload
	bsdLongName = "#1/"
	// maxBSDNameLen bounds the name read for a BSD long name
	maxBSDNameLen = 4096
)

// ArHeader describes one member of an ar container.
type ArHeader struct {
	Name    string
	Size    int64 // payload size, excluding a BSD long name
	ModTime time.Time
	Mode    int64
	Offset  int64 // offset of the member header within the container
}

// ArReader iterates the members of an ar container in storage order.
// It reads forward only: there is no way to return to an earlier member.
type ArReader struct {
	r       io.Reader
	pos     int64 // bytes consumed from r
	remain  int64 // unread payload bytes of the current member
	pad     int64 // padding byte owed after the current payload
	started bool
	count   int
	last    string
}

// NewArReader creates a reader for the ar container in r.
func NewArReader(r io.Reader) *ArReader {
	return &ArReader{r: r}
}

// Next advances to the next member, discarding any unread payload of the
// current one. It returns io.EOF once the container is exhausted.
func (a *ArReader) Next() (*ArHeader, error) {
	if !a.started {
		if err := a.readMagic(); err != nil {
			return nil, err
		}
		a.started = true
	}

	if err := a.skip(a.remain); err != nil {
		return nil, err
	}
	a.remain = 0
	if a.pad > 0 {
		// some writers omit the padding byte after the final member
		n, _ := io.CopyN(io.Discard, a.r, a.pad)
		a.pos += n
		a.pad = 0
	}

	headerOffset := a.pos
	var buf [arHeaderSize]byte
	n, err := io.ReadFull(a.r, buf[:])
	a.pos += int64(n)
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, malformed(StageMember, "", headerOffset, fmt.Errorf("short member header: %w", err))
	}

	hdr, err := parseArHeader(buf[:])
	if err != nil {
		return nil, malformed(StageMember, "", headerOffset, err)
	}
	hdr.Offset = headerOffset

	a.remain = hdr.Size
	a.pad = hdr.Size % 2

	// BSD ar stores long names at the head of the payload
	if strings.HasPrefix(hdr.Name, bsdLongName) {
		nameLen, err := strconv.ParseInt(hdr.Name[len(bsdLongName):], 10, 64)
		if err != nil || nameLen < 0 || nameLen > maxBSDNameLen || nameLen > hdr.Size {
			return nil, malformed(StageMember, hdr.Name, headerOffset, errors.New("invalid BSD long name length"))
		}
		name := make([]byte, nameLen)
		if _, err := io.ReadFull(a, name); err != nil {
			return nil, err
		}
		hdr.Name = string(bytes.TrimRight(name, "\x00"))
		hdr.Size -= nameLen
	}

	a.count++
	a.last = hdr.Name
	return hdr, nil
}

// Read reads from the payload of the current member.
func (a *ArReader) Read(p []byte) (int, error) {
	if a.remain <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > a.remain {
		p = p[:a.remain]
	}
	n, err := a.r.Read(p)
	a.pos += int64(n)
	a.remain -= int64(n)
	if err == io.EOF && a.remain > 0 {
		return n, malformed(StageMember, a.last, a.pos, io.ErrUnexpectedEOF)
	}
	if err != nil && err != io.EOF {
		return n, malformed(StageMember, a.last, a.pos, err)
	}
	return n, nil
}

func (a *ArReader) readMagic() error {
	var magic [len(arMagic)]byte
	n, err := io.ReadFull(a.r, magic[:])
	a.pos += int64(n)
	if err != nil || string(magic[:]) != arMagic {
		return malformed(StageMember, "", 0, errors.New("missing ar magic"))
	}
	return nil
}

func (a *ArReader) skip(n int64) error {
	if n <= 0 {
		return nil
	}
	copied, err := io.CopyN(io.Discard, a.r, n)
	a.pos += copied
	if err != nil {
		return malformed(StageMember, a.last, a.pos, fmt.Errorf("truncated member payload: %w", err))
	}
	return nil
}

// parseArHeader decodes the fixed-width fields of a member header.
func parseArHeader(buf []byte) (*ArHeader, error) {
	if string(buf[58:60]) != arTerminator {
		return nil, errors.New("bad header terminator")
	}

	name := strings.TrimRight(string(buf[0:16]), " ")
	// GNU ar terminates names with '/'; "/" and "//" are its symbol and name tables
	if len(name) > 1 && strings.HasSuffix(name, "/") && name != "//" {
		name = strings.TrimSuffix(name, "/")
	}
	if name == "" {
		return nil, errors.New("empty member name")
	}

	size, err := parseArNumber(buf[48:58], 10)
	if err != nil {
		return nil, fmt.Errorf("invalid size field: %w", err)
	}

	hdr := &ArHeader{Name: name, Size: size}

	// mtime and mode are informational; blank fields are tolerated
	if mtime, err := parseArNumber(buf[16:28], 10); err == nil {
		hdr.ModTime = time.Unix(mtime, 0)
	}
	if mode, err := parseArNumber(buf[40:48], 8); err == nil {
		hdr.Mode = mode
	}

	return hdr, nil
}

func parseArNumber(field []byte, base int) (int64, error) {
	s := strings.TrimRight(string(field), " ")
	if s == "" {
		return 0, errors.New("empty field")
	}
	v, err := strconv.ParseInt(s, base, 64)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, fmt.Errorf("negative value %d", v)
	}
	return v, nil
}

// FindMember scans the ar container in r for the member called name and
// returns a reader positioned at its payload. Scanning stops at the first
// match; entries after it are never read.
func FindMember(r io.Reader, name string) (io.Reader, *ArHeader, error) {
	ar := NewArReader(r)
	for {
		hdr, err := ar.Next()
		if err == io.EOF {
			detail := fmt.Sprintf("ar container exhausted after %d entries", ar.count)
			if ar.last != "" {
				detail += fmt.Sprintf(", last entry %q", ar.last)
			}
			return nil, nil, notFound(StageMember, name, detail)
		}
		if err != nil {
			return nil, nil, err
		}
		if hdr.Name == name {
			return ar, hdr, nil
		}
	}
}
