package compress

import (
	"bytes"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
)

func TestGzip_RoundTrip(t *testing.T) {
	body := []byte(strings.Repeat("shield response body ", 200))

	levels := []int{gzip.DefaultCompression, gzip.BestSpeed, gzip.BestCompression, 42}
	for _, level := range levels {
		compressed, err := Gzip(body, level)
		if err != nil {
			t.Fatalf("Gzip(level=%d) failed: %v", level, err)
		}
		if len(compressed) >= len(body) {
			t.Errorf("level %d: compressed size %d not smaller than %d", level, len(compressed), len(body))
		}

		plain, err := Gunzip(compressed)
		if err != nil {
			t.Fatalf("Gunzip failed: %v", err)
		}
		if !bytes.Equal(plain, body) {
			t.Errorf("level %d: round trip mismatch", level)
		}
	}
}

func TestGunzip_Invalid(t *testing.T) {
	if _, err := Gunzip([]byte("not gzip")); err == nil {
		t.Error("expected error for invalid gzip stream")
	}
}

func TestAccepts(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   bool
	}{
		{name: "empty header", header: "", want: false},
		{name: "exact token", header: "gzip", want: true},
		{name: "case insensitive", header: "GZip", want: true},
		{name: "in list", header: "deflate, gzip, br", want: true},
		{name: "not in list", header: "deflate, br", want: false},
		{name: "with quality", header: "gzip;q=0.8", want: true},
		{name: "quality zero", header: "gzip;q=0", want: false},
		{name: "quality zero with spaces", header: "br, gzip ; q=0.0", want: false},
		{name: "other params ignored", header: "gzip;level=1", want: true},
		{name: "wildcard", header: "*", want: true},
		{name: "wildcard rejected", header: "*;q=0", want: false},
		{name: "explicit rejection beats wildcard", header: "gzip;q=0, *", want: false},
		{name: "explicit accept beats wildcard rejection", header: "*;q=0, gzip", want: true},
		{name: "substring is not a match", header: "x-gzip", want: false},
		{name: "malformed quality", header: "gzip;q=abc", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Accepts(tt.header, "gzip"); got != tt.want {
				t.Errorf("Accepts(%q) = %v, want %v", tt.header, got, tt.want)
			}
		})
	}
}
