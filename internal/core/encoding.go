package core

// encoding.go turns raw upload bytes into text.
//
// Uploads are tried as UTF-8 first (a leading BOM is dropped). Anything that
// is not valid UTF-8 goes through the configured fallback decoder, GBK by
// default, and bytes the fallback cannot map are discarded. Decoding never
// fails; a lossy result is preferred over rejecting a recipient list.

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// fallbackEncodings are the accepted EMAIL_FALLBACK_ENCODING values.
// "none" maps to nil: invalid UTF-8 bytes are dropped without re-decoding.
var fallbackEncodings = map[string]encoding.Encoding{
	"gbk":       simplifiedchinese.GBK,
	"gb18030":   simplifiedchinese.GB18030,
	"hz-gb2312": simplifiedchinese.HZGB2312,
	"none":      nil,
}

// Decoder converts upload bytes to UTF-8 text.
type Decoder struct {
	name     string
	fallback encoding.Encoding
}

// NewDecoder returns a decoder using the named fallback encoding.
// An empty name means "gbk".
func NewDecoder(name string) (*Decoder, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = "gbk"
	}
	enc, ok := fallbackEncodings[name]
	if !ok {
		return nil, fmt.Errorf("unsupported fallback encoding %q", name)
	}
	return &Decoder{name: name, fallback: enc}, nil
}

// Name returns the fallback encoding name.
func (d *Decoder) Name() string {
	return d.name
}

// Decode returns raw as text. It does not fail.
func (d *Decoder) Decode(raw []byte) string {
	if utf8.Valid(raw) {
		return string(bytes.TrimPrefix(raw, utf8BOM))
	}
	if d.fallback == nil {
		return strings.ToValidUTF8(string(raw), "")
	}

	out, _, err := transform.Bytes(d.fallback.NewDecoder(), raw)
	if err != nil {
		return strings.ToValidUTF8(string(raw), "")
	}
	// x/text decoders emit U+FFFD for unmappable bytes; drop them.
	return strings.ReplaceAll(string(out), string(utf8.RuneError), "")
}

// BOMSkippingReader wraps an io.Reader and skips a leading UTF-8 BOM.
// The BOM is commonly added by spreadsheet programs on Windows.
type BOMSkippingReader struct {
	r       *bufio.Reader
	checked bool
}

// NewBOMSkippingReader creates a new BOM-skipping reader.
func NewBOMSkippingReader(r io.Reader) *BOMSkippingReader {
	return &BOMSkippingReader{r: bufio.NewReader(r)}
}

// Read implements io.Reader.
func (b *BOMSkippingReader) Read(p []byte) (int, error) {
	if !b.checked {
		b.checked = true
		if head, err := b.r.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
			_, _ = b.r.Discard(len(utf8BOM))
		}
	}
	return b.r.Read(p)
}
