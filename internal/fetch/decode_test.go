package fetch

import (
	"bytes"
	"testing"

	"github.com/fenilsonani/imapwatch/internal/wire"
)

func TestDecode_Base64(t *testing.T) {
	raw := []byte("aGVsbG8gd29ybGQ=")
	got := Decode(wire.Encoding{Kind: wire.EncodingBase64}, raw)
	if !bytes.Equal(got, []byte("hello world")) {
		t.Errorf("Decode(base64) = %q, want %q", got, "hello world")
	}
}

func TestDecode_Base64_Malformed(t *testing.T) {
	raw := []byte("not valid base64!!!")
	got := Decode(wire.Encoding{Kind: wire.EncodingBase64}, raw)
	if !bytes.Equal(got, raw) {
		t.Errorf("Decode(base64, malformed) = %q, want passthrough %q", got, raw)
	}
}

func TestDecode_QuotedPrintable(t *testing.T) {
	raw := []byte("caf=C3=A9 au lait")
	got := Decode(wire.Encoding{Kind: wire.EncodingQuotedPrintable}, raw)
	want := []byte("café au lait")
	if !bytes.Equal(got, want) {
		t.Errorf("Decode(quoted-printable) = %q, want %q", got, want)
	}
}

func TestDecode_SevenBitPassthrough(t *testing.T) {
	raw := []byte("plain ascii text")
	got := Decode(wire.Encoding{Kind: wire.EncodingSevenBit}, raw)
	if !bytes.Equal(got, raw) {
		t.Errorf("Decode(7bit) = %q, want passthrough %q", got, raw)
	}
}

func TestDecode_Other(t *testing.T) {
	raw := []byte("x-custom payload")
	got := Decode(wire.Encoding{Kind: wire.EncodingOther, Other: "X-CUSTOM"}, raw)
	if !bytes.Equal(got, raw) {
		t.Errorf("Decode(other) = %q, want passthrough %q", got, raw)
	}
}
