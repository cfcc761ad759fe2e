// Package charset decodes raw message bytes and MIME header charsets.
package charset

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/transform"
)

// DecodeUTF8 returns data as a string, failing if it is not valid UTF-8.
func DecodeUTF8(data []byte) (string, error) {
	out, _, err := transform.Bytes(encoding.UTF8Validator, data)
	if err != nil {
		return "", fmt.Errorf("decode utf-8: %w", err)
	}
	return string(out), nil
}

// NewReader wraps r so that text in the named charset is converted to UTF-8.
// Its signature matches mime.WordDecoder.CharsetReader.
func NewReader(name string, r io.Reader) (io.Reader, error) {
	name = strings.ToLower(strings.TrimSpace(name))

	switch name {
	case "", "utf-8", "utf8", "us-ascii", "ascii":
		return r, nil
	case "latin1", "latin-1":
		return transform.NewReader(r, charmap.ISO8859_1.NewDecoder()), nil
	}

	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil {
		return nil, fmt.Errorf("unsupported charset %q: %w", name, err)
	}
	if enc == nil {
		// Known to IANA but without a decoder in x/text.
		return nil, fmt.Errorf("unsupported charset %q", name)
	}
	return transform.NewReader(r, enc.NewDecoder()), nil
}
