package unpack

import (
	"archive/tar"
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/ulikunitz/xz"
)

// arMember is a member written by buildAr.
type arMember struct {
	name string
	data []byte
}

// buildAr creates an ar container in the layout dpkg-deb writes.
func buildAr(t *testing.T, members ...arMember) []byte {
	t.Helper()

	var buf bytes.Buffer
	buf.WriteString(arMagic)
	for _, m := range members {
		fmt.Fprintf(&buf, "%-16s%-12d%-6d%-6d%-8o%-10d%s", m.name, 0, 0, 0, 0o100644, len(m.data), arTerminator)
		buf.Write(m.data)
		if len(m.data)%2 == 1 {
			buf.WriteByte('\n')
		}
	}
	return buf.Bytes()
}

// buildTar creates an uncompressed tar stream; entries are written in the
// order given, names ending in "/" become directories.
func buildTar(t *testing.T, entries ...tarFile) []byte {
	t.Helper()

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, e := range entries {
		hdr := &tar.Header{Name: e.name, Mode: 0o644, Size: int64(len(e.data)), Typeflag: tar.TypeReg}
		if strings.HasSuffix(e.name, "/") {
			hdr.Typeflag = tar.TypeDir
			hdr.Mode = 0o755
			hdr.Size = 0
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("failed to write tar header for %s: %v", e.name, err)
		}
		if hdr.Size > 0 {
			if _, err := tw.Write(e.data); err != nil {
				t.Fatalf("failed to write tar content for %s: %v", e.name, err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("failed to close tar writer: %v", err)
	}
	return buf.Bytes()
}

type tarFile struct {
	name string
	data []byte
}

func xzCompress(t *testing.T, data []byte) []byte {
	t.Helper()

	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	if err != nil {
		t.Fatalf("failed to create xz writer: %v", err)
	}
	if _, err := w.Write(data); err != nil {
		t.Fatalf("failed to write xz data: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("failed to close xz writer: %v", err)
	}
	return buf.Bytes()
}

// buildAsar creates an asar bundle holding files (path -> content) packed in
// sorted path order, each with a SHA256 integrity record.
func buildAsar(t *testing.T, files map[string]string) []byte {
	t.Helper()

	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	root := map[string]any{"files": map[string]any{}}
	var content bytes.Buffer
	for _, p := range paths {
		data := files[p]
		dir := root["files"].(map[string]any)
		parts := strings.Split(p, "/")
		for _, part := range parts[:len(parts)-1] {
			next, ok := dir[part].(map[string]any)
			if !ok {
				next = map[string]any{"files": map[string]any{}}
				dir[part] = next
			}
			dir = next["files"].(map[string]any)
		}
		sum := sha256.Sum256([]byte(data))
		dir[parts[len(parts)-1]] = map[string]any{
			"size":   len(data),
			"offset": fmt.Sprint(content.Len()),
			"integrity": map[string]any{
				"algorithm": "SHA256",
				"hash":      hex.EncodeToString(sum[:]),
				"blockSize": 4 * 1024 * 1024,
				"blocks":    []string{hex.EncodeToString(sum[:])},
			},
		}
		content.WriteString(data)
	}

	header, err := json.Marshal(root)
	if err != nil {
		t.Fatalf("failed to marshal asar header: %v", err)
	}
	return assembleAsar(header, content.Bytes())
}

// assembleAsar wraps a raw JSON header and content region in the pickle
// framing.
func assembleAsar(header, content []byte) []byte {
	padded := len(header)
	if padded%4 != 0 {
		padded += 4 - padded%4
	}

	pickle := make([]byte, 8+padded)
	binary.LittleEndian.PutUint32(pickle[0:4], uint32(4+padded))
	binary.LittleEndian.PutUint32(pickle[4:8], uint32(len(header)))
	copy(pickle[8:], header)

	out := make([]byte, 8, 8+len(pickle)+len(content))
	binary.LittleEndian.PutUint32(out[0:4], 4)
	binary.LittleEndian.PutUint32(out[4:8], uint32(len(pickle)))
	out = append(out, pickle...)
	out = append(out, content...)
	return out
}

// buildPackage nests a bundle inside tar, xz and ar the way a Signal Desktop
// .deb does.
func buildPackage(t *testing.T, bundle []byte) []byte {
	t.Helper()

	tarball := buildTar(t,
		tarFile{name: "./"},
		tarFile{name: "./opt/"},
		tarFile{name: "./opt/Signal/"},
		tarFile{name: "./opt/Signal/resources/"},
		tarFile{name: "./opt/Signal/resources/app.asar.unpacked/"},
		tarFile{name: "./opt/Signal/resources/app.asar", data: bundle},
		tarFile{name: "./usr/share/doc/signal-desktop/copyright", data: []byte("copyright\n")},
	)
	return buildAr(t,
		arMember{name: "debian-binary", data: []byte("2.0\n")},
		arMember{name: "control.tar.xz", data: xzCompress(t, buildTar(t, tarFile{name: "./control", data: []byte("Package: signal-desktop\n")}))},
		arMember{name: "data.tar.xz", data: xzCompress(t, tarball)},
	)
}
