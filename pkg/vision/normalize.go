package vision

import (
	"encoding/base64"
	"regexp"
	"strings"
	"unicode"
)

// DefaultMIMEType is assumed for raw base64 input without a data URL prefix.
const DefaultMIMEType = "image/png"

var dataURLPattern = regexp.MustCompile(`(?s)^data:([\w.+-]+/[\w.+-]+);base64,(.*)$`)

// Image is a decoded image payload.
type Image struct {
	MIMEType string
	Data     []byte
}

// Base64 returns the canonical standard base64 encoding of the bytes.
func (i *Image) Base64() string {
	return base64.StdEncoding.EncodeToString(i.Data)
}

// DataURL returns data:<mime>;base64,<canonical payload>.
func (i *Image) DataURL() string {
	return "data:" + i.MIMEType + ";base64," + i.Base64()
}

// ParseDataURL splits a base64 data URL into mime type and payload. Input
// that does not start with "data:" is returned unchanged with the default
// mime type.
func ParseDataURL(input string) (mimeType, payload string, err error) {
	if !strings.HasPrefix(input, "data:") {
		return DefaultMIMEType, input, nil
	}
	m := dataURLPattern.FindStringSubmatch(input)
	if m == nil {
		return "", "", &UnsupportedFormatError{Prefix: truncate(input, 48)}
	}
	return m[1], m[2], nil
}

// Normalize turns a data URL or raw base64 string into decoded bytes.
// Whitespace inside the payload (line-wrapped transports) is dropped before
// decoding. maxBytes caps the decoded size; zero disables the cap.
func Normalize(input string, maxBytes int) (*Image, error) {
	mimeType, payload, err := ParseDataURL(input)
	if err != nil {
		return nil, err
	}

	payload = stripSpace(payload)
	if payload == "" {
		return nil, &InvalidPayloadError{Reason: "empty payload"}
	}
	if maxBytes > 0 && base64.StdEncoding.DecodedLen(len(payload)) > maxBytes+2 {
		return nil, &InvalidPayloadError{Reason: "image exceeds size limit"}
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, &InvalidPayloadError{Reason: "payload is not valid base64", Err: err}
	}
	if len(data) == 0 {
		return nil, &InvalidPayloadError{Reason: "payload decodes to zero bytes"}
	}
	if maxBytes > 0 && len(data) > maxBytes {
		return nil, &InvalidPayloadError{Reason: "image exceeds size limit"}
	}

	return &Image{MIMEType: mimeType, Data: data}, nil
}

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
