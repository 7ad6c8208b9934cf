package vision

import (
	"bytes"
	"encoding/base64"
	"errors"
	"math/rand"
	"strings"
	"testing"
)

func TestParseDataURL(t *testing.T) {
	mime, payload, err := ParseDataURL("data:image/png;base64,AAA=")
	if err != nil {
		t.Fatalf("ParseDataURL() error = %v", err)
	}
	if mime != "image/png" {
		t.Errorf("mime = %q, want image/png", mime)
	}
	if payload != "AAA=" {
		t.Errorf("payload = %q, want AAA=", payload)
	}
}

func TestParseDataURLUnsupported(t *testing.T) {
	inputs := []string{
		"data:image/png,AAA=",
		"data:;base64,AAA=",
		"data:image;base64,AAA=",
		"data:image/png;charset=utf-8,AAA=",
		"data:",
	}
	for _, in := range inputs {
		_, _, err := ParseDataURL(in)
		var ufe *UnsupportedFormatError
		if !errors.As(err, &ufe) {
			t.Errorf("ParseDataURL(%q) error = %v, want *UnsupportedFormatError", in, err)
		}
		if !errors.Is(err, ErrUnsupportedFormat) {
			t.Errorf("ParseDataURL(%q) should match ErrUnsupportedFormat", in)
		}
	}
}

func TestNormalizeRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, n := range []int{1, 2, 3, 4, 17, 1024, 4099} {
		buf := make([]byte, n)
		rng.Read(buf)
		enc := base64.StdEncoding.EncodeToString(buf)

		for name, input := range map[string]string{
			"raw":      enc,
			"data url": "data:image/jpeg;base64," + enc,
			"wrapped":  wrap(enc, 76),
		} {
			img, err := Normalize(input, 0)
			if err != nil {
				t.Fatalf("%s/%d: Normalize() error = %v", name, n, err)
			}
			if !bytes.Equal(img.Data, buf) {
				t.Errorf("%s/%d: bytes differ after normalisation", name, n)
			}
			dec, err := base64.StdEncoding.DecodeString(img.Base64())
			if err != nil || !bytes.Equal(dec, buf) {
				t.Errorf("%s/%d: canonical encoding does not decode to original", name, n)
			}
		}
	}
}

func TestNormalizeMimeType(t *testing.T) {
	img, err := Normalize("data:image/jpeg;base64,/9j/4A==", 0)
	if err != nil {
		t.Fatal(err)
	}
	if img.MIMEType != "image/jpeg" {
		t.Errorf("mime = %q", img.MIMEType)
	}
	if got := img.DataURL(); got != "data:image/jpeg;base64,/9j/4A==" {
		t.Errorf("DataURL() = %q", got)
	}

	raw, err := Normalize("AAA=", 0)
	if err != nil {
		t.Fatal(err)
	}
	if raw.MIMEType != DefaultMIMEType {
		t.Errorf("raw mime = %q, want %q", raw.MIMEType, DefaultMIMEType)
	}
}

func TestNormalizeInvalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"whitespace", "  \n\t  "},
		{"data url empty payload", "data:image/png;base64,"},
		{"data url whitespace payload", "data:image/png;base64,\n  \n"},
		{"not base64", "!!!not-base64!!!"},
		{"bad padding", "AAA"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize(tt.input, 0)
			var ipe *InvalidPayloadError
			if !errors.As(err, &ipe) {
				t.Fatalf("Normalize(%q) error = %v, want *InvalidPayloadError", tt.input, err)
			}
			if !errors.Is(err, ErrInvalidPayload) {
				t.Error("should match ErrInvalidPayload")
			}
		})
	}
}

func TestNormalizeSizeLimit(t *testing.T) {
	enc := base64.StdEncoding.EncodeToString(make([]byte, 100))

	if _, err := Normalize(enc, 100); err != nil {
		t.Errorf("at limit: unexpected error %v", err)
	}
	if _, err := Normalize(enc, 99); !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("over limit: error = %v, want ErrInvalidPayload", err)
	}
}

func wrap(s string, width int) string {
	var b strings.Builder
	for i := 0; i < len(s); i += width {
		end := i + width
		if end > len(s) {
			end = len(s)
		}
		b.WriteString(s[i:end])
		b.WriteString("\r\n")
	}
	return b.String()
}
