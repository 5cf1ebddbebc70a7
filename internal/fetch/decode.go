// Package fetch drives the per-message fetch pipeline: staged FETCH
// commands that progressively gather flags, envelope, body structure,
// and body part contents, then assembles a decoded delivery record
// (spec.md §4.4).
package fetch

import (
	"bytes"
	"encoding/base64"
	"errors"
	"io"
	"mime/quotedprintable"
	"strings"

	"github.com/fenilsonani/imapwatch/internal/wire"
)

// Decode transforms raw body-part bytes per their declared
// content-transfer-encoding. Unknown/other encodings pass through
// unchanged — the spec treats decoding as a best-effort convenience on
// top of the otherwise-untouched wire bytes.
func Decode(enc wire.Encoding, raw []byte) []byte {
	switch enc.Kind {
	case wire.EncodingBase64:
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(raw)))
		if err != nil {
			return raw
		}
		return decoded
	case wire.EncodingQuotedPrintable:
		decoded, err := quotedPrintableDecode(raw)
		if err != nil {
			return raw
		}
		return decoded
	default:
		return raw
	}
}

func quotedPrintableDecode(raw []byte) ([]byte, error) {
	var out bytes.Buffer
	_, err := io.Copy(&out, quotedprintable.NewReader(bytes.NewReader(raw)))
	if err != nil && !errors.Is(err, io.EOF) {
		return out.Bytes(), err
	}
	return out.Bytes(), nil
}
