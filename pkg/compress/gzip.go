package compress

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// Encoding is the content-coding produced by this package
const Encoding = "gzip"

// Gzip compresses data at the given level.
// Levels outside gzip's range fall back to gzip.DefaultCompression.
func Gzip(data []byte, level int) ([]byte, error) {
	if level < gzip.HuffmanOnly || level > gzip.BestCompression {
		level = gzip.DefaultCompression
	}

	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, fmt.Errorf("gzip writer: %w", err)
	}
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("gzip write: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

// Gunzip decompresses a gzip stream.
func Gunzip(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip reader: %w", err)
	}
	defer zr.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(zr); err != nil {
		return nil, fmt.Errorf("gzip read: %w", err)
	}
	return buf.Bytes(), nil
}

// Accepts reports whether an Accept-Encoding header value allows token.
//
// Matching is case-insensitive, parameters other than q are ignored,
// q=0 rejects a coding, and "*" matches any coding not listed explicitly.
func Accepts(acceptEncoding, token string) bool {
	wildcard := false
	for _, part := range strings.Split(acceptEncoding, ",") {
		name, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}

		allowed := qualityAllows(params)
		if strings.EqualFold(name, token) {
			return allowed
		}
		if name == "*" {
			wildcard = allowed
		}
	}
	return wildcard
}

func qualityAllows(params string) bool {
	for _, p := range strings.Split(params, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(p), "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(key), "q") {
			continue
		}
		q, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return false
		}
		return q > 0
	}
	return true
}
