package unpack

import (
	"bytes"
	"errors"
	"io"
	"strconv"
	"strings"
	"testing"
)

func TestArReader_Next(t *testing.T) {
	data := buildAr(t,
		arMember{name: "debian-binary", data: []byte("2.0\n")},
		arMember{name: "odd", data: []byte("abc")},
		arMember{name: "data.tar.xz", data: []byte("payload")},
	)

	ar := NewArReader(bytes.NewReader(data))

	var names []string
	for {
		hdr, err := ar.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		names = append(names, hdr.Name)
	}

	want := []string{"debian-binary", "odd", "data.tar.xz"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("member names = %v, want %v", names, want)
	}
}

func TestFindMember_Found(t *testing.T) {
	data := buildAr(t,
		arMember{name: "debian-binary", data: []byte("2.0\n")},
		arMember{name: "control.tar.xz", data: []byte("ctl")},
		arMember{name: "data.tar.xz", data: []byte("the payload")},
	)

	r, hdr, err := FindMember(bytes.NewReader(data), "data.tar.xz")
	if err != nil {
		t.Fatalf("FindMember() error = %v", err)
	}
	if hdr.Size != int64(len("the payload")) {
		t.Errorf("hdr.Size = %d, want %d", hdr.Size, len("the payload"))
	}

	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read member: %v", err)
	}
	if string(got) != "the payload" {
		t.Errorf("payload = %q, want %q", got, "the payload")
	}
}

func TestFindMember_GNUNameSuffix(t *testing.T) {
	data := buildAr(t, arMember{name: "data.tar.xz/", data: []byte("x")})

	if _, _, err := FindMember(bytes.NewReader(data), "data.tar.xz"); err != nil {
		t.Fatalf("FindMember() error = %v", err)
	}
}

func TestFindMember_BSDLongName(t *testing.T) {
	name := "a-rather-long-member-name.tar.xz"
	payload := append([]byte(name), []byte("content")...)
	data := buildAr(t, arMember{name: "#1/" + strconv.Itoa(len(name)), data: payload})

	r, hdr, err := FindMember(bytes.NewReader(data), name)
	if err != nil {
		t.Fatalf("FindMember() error = %v", err)
	}
	if hdr.Size != int64(len("content")) {
		t.Errorf("hdr.Size = %d, want %d", hdr.Size, len("content"))
	}
	got, _ := io.ReadAll(r)
	if string(got) != "content" {
		t.Errorf("payload = %q, want %q", got, "content")
	}
}

func TestFindMember_NotFound(t *testing.T) {
	data := buildAr(t,
		arMember{name: "debian-binary", data: []byte("2.0\n")},
		arMember{name: "control.tar.gz", data: []byte("ctl")},
	)

	_, _, err := FindMember(bytes.NewReader(data), "data.tar.xz")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("FindMember() error = %v, want ErrNotFound", err)
	}

	var uerr *Error
	if !errors.As(err, &uerr) {
		t.Fatalf("error is not *Error: %T", err)
	}
	if uerr.Stage != StageMember || uerr.Name != "data.tar.xz" {
		t.Errorf("error = %+v, want member stage naming data.tar.xz", uerr)
	}
	if !strings.Contains(err.Error(), "2 entries") || !strings.Contains(err.Error(), "control.tar.gz") {
		t.Errorf("error message %q should report entry count and last entry", err.Error())
	}
}

func TestFindMember_Malformed(t *testing.T) {
	valid := buildAr(t,
		arMember{name: "debian-binary", data: []byte("2.0\n")},
		arMember{name: "data.tar.xz", data: []byte("payload")},
	)

	badSize := bytes.Clone(valid)
	copy(badSize[8+48:8+58], "12x4      ")

	badTerminator := bytes.Clone(valid)
	badTerminator[8+58] = 'X'

	tests := []struct {
		name       string
		data       []byte
		wantOffset int64
	}{
		{name: "missing_magic", data: []byte("not an archive at all"), wantOffset: 0},
		{name: "empty", data: nil, wantOffset: 0},
		{name: "bad_size_field", data: badSize, wantOffset: 8},
		{name: "bad_terminator", data: badTerminator, wantOffset: 8},
		{name: "short_header", data: valid[:8+30], wantOffset: 8},
		{name: "truncated_skipped_payload", data: valid[:8+60+2], wantOffset: -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := FindMember(bytes.NewReader(tt.data), "data.tar.xz")
			if !errors.Is(err, ErrMalformed) {
				t.Fatalf("FindMember() error = %v, want ErrMalformed", err)
			}
			var uerr *Error
			errors.As(err, &uerr)
			if uerr.Stage != StageMember {
				t.Errorf("Stage = %v, want %v", uerr.Stage, StageMember)
			}
			if tt.wantOffset >= 0 && uerr.Offset != tt.wantOffset {
				t.Errorf("Offset = %d, want %d", uerr.Offset, tt.wantOffset)
			}
		})
	}
}

func TestFindMember_StopsAtFirstMatch(t *testing.T) {
	// garbage after the match must never be read
	data := buildAr(t, arMember{name: "data.tar.xz", data: []byte("first")})
	data = append(data, []byte("this is not a valid header and must be ignored.............")...)

	r, _, err := FindMember(bytes.NewReader(data), "data.tar.xz")
	if err != nil {
		t.Fatalf("FindMember() error = %v", err)
	}
	got, _ := io.ReadAll(r)
	if string(got) != "first" {
		t.Errorf("payload = %q, want %q", got, "first")
	}
}
