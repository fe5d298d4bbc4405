package dfu

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"bandlink/internal/protocol"
)

func TestNewImage(t *testing.T) {
	data := []byte("firmware-bytes")
	img, err := NewImage(data)
	if err != nil {
		t.Fatal(err)
	}
	data[0] = 'X'

	if img.Size() != 14 {
		t.Errorf("Size() = %d", img.Size())
	}
	if img.Data()[0] != 'f' {
		t.Error("image aliases caller buffer")
	}
	if img.CRC16() != protocol.CRC16([]byte("firmware-bytes")) {
		t.Error("CRC16 mismatch")
	}
	if img.SHA1() != protocol.SHA1Digest([]byte("firmware-bytes")) {
		t.Error("SHA1 mismatch")
	}

	out := img.Data()
	out[1] = 'Y'
	if img.Data()[1] != 'i' {
		t.Error("Data() returned internal buffer")
	}
}

func TestNewImageEmpty(t *testing.T) {
	if _, err := NewImage(nil); !errors.Is(err, ErrEmptyImage) {
		t.Errorf("err = %v, want ErrEmptyImage", err)
	}
}

func TestLoadImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "band.bin")
	if err := os.WriteFile(path, []byte{1, 2, 3}, 0o644); err != nil {
		t.Fatal(err)
	}
	img, err := LoadImage(path)
	if err != nil {
		t.Fatal(err)
	}
	if img.Size() != 3 {
		t.Errorf("Size() = %d", img.Size())
	}

	if _, err := LoadImage(filepath.Join(t.TempDir(), "missing.bin")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestParseProfile(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"", "crc16", false},
		{"crc16", "crc16", false},
		{"SHA1", "sha1", false},
		{" sha ", "sha1", false},
		{"md5", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			p, err := ParseProfile(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if p.Name != tt.want {
				t.Errorf("Name = %q, want %q", p.Name, tt.want)
			}
		})
	}
}

func TestStateString(t *testing.T) {
	if StateReceivingImage.String() != "receiving_image" {
		t.Errorf("String() = %q", StateReceivingImage.String())
	}
	if !StateFailed.Terminal() || !StateActivated.Terminal() || StateValidated.Terminal() {
		t.Error("Terminal() wrong")
	}
}
