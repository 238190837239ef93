package library

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/klauspost/compress/gzip"
	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

// MaxSourceSize bounds a decoded library source
const MaxSourceSize = 16 << 20

var gzipMagic = []byte{0x1f, 0x8b}

// DecodeSource turns fetched bytes into script text. Gzip is inflated, markup
// and binary payloads are rejected, and non-UTF-8 text is transcoded.
func DecodeSource(locator string, body []byte) (string, error) {
	if strings.HasSuffix(locator, ".gz") || bytes.HasPrefix(body, gzipMagic) {
		zr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return "", fmt.Errorf("gunzip %s: %w", locator, err)
		}
		defer zr.Close()

		body, err = io.ReadAll(io.LimitReader(zr, MaxSourceSize+1))
		if err != nil {
			return "", fmt.Errorf("gunzip %s: %w", locator, err)
		}
	}
	if len(body) > MaxSourceSize {
		return "", fmt.Errorf("%s exceeds %d bytes", locator, MaxSourceSize)
	}

	if err := checkScript(body); err != nil {
		return "", fmt.Errorf("%s: %w", locator, err)
	}

	body = bytes.TrimPrefix(body, []byte("\xef\xbb\xbf"))
	if !utf8.Valid(body) {
		text, err := transcode(body)
		if err != nil {
			return "", fmt.Errorf("decode %s: %w", locator, err)
		}
		body = text
	}
	return string(body), nil
}

// transcode converts body to UTF-8 using the best chardet guess
func transcode(body []byte) ([]byte, error) {
	result, err := chardet.NewTextDetector().DetectBest(body)
	if err != nil || result == nil {
		return nil, fmt.Errorf("unknown text encoding")
	}
	enc, err := htmlindex.Get(result.Charset)
	if err != nil {
		return nil, fmt.Errorf("unsupported charset %s", result.Charset)
	}
	out, _, err := transform.Bytes(enc.NewDecoder(), body)
	return out, err
}

// checkScript rejects payloads a CDN returns instead of the script, such as
// HTML error pages and binary files.
func checkScript(body []byte) error {
	if len(bytes.TrimSpace(body)) == 0 {
		return fmt.Errorf("empty source")
	}
	mt := mimetype.Detect(body)
	if mt.Is("text/html") {
		return fmt.Errorf("got HTML instead of a script")
	}
	for m := mt; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return nil
		}
	}
	return fmt.Errorf("got %s instead of a script", mt.String())
}
