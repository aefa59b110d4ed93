package httpc

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	// DefaultPathPrefix is followed by the three sample digits.
	DefaultPathPrefix = "/?func=save&ID=xxxxxxxxx&POT="
	DigitWidth        = 3
)

var (
	ErrInvalidTemplate = errors.New("httpc: invalid path template")
	ErrInvalidDigits   = errors.New("httpc: invalid digit field")
)

var digitASCII = [10]byte{'0', '1', '2', '3', '4', '5', '6', '7', '8', '9'}

// placeValues orders the digit field from hundreds to units.
var placeValues = [DigitWidth]int{100, 10, 1}

// PathTemplate is a request target with a fixed-width digit field at Offset.
type PathTemplate struct {
	Raw    string
	Offset int
}

func DefaultTemplate() PathTemplate {
	return NewPathTemplate(DefaultPathPrefix, "")
}

// NewPathTemplate places the digit field between prefix and suffix.
func NewPathTemplate(prefix, suffix string) PathTemplate {
	return PathTemplate{
		Raw:    prefix + strings.Repeat("0", DigitWidth) + suffix,
		Offset: len(prefix),
	}
}

func (t PathTemplate) Validate() error {
	if t.Offset < 0 || t.Offset+DigitWidth > len(t.Raw) {
		return fmt.Errorf("%w: offset %d outside %q", ErrInvalidTemplate, t.Offset, t.Raw)
	}
	if !strings.HasPrefix(t.Raw, "/") {
		return fmt.Errorf("%w: target must start with '/': %q", ErrInvalidTemplate, t.Raw)
	}
	return nil
}

// EncodeDigits renders v as three zero-padded ASCII digits.
func EncodeDigits(v uint8) [DigitWidth]byte {
	var out [DigitWidth]byte
	rest := int(v)
	for i, place := range placeValues {
		out[i] = digitASCII[rest/place]
		rest %= place
	}
	return out
}

// DecodeDigits reads a three-digit field back into its value.
func DecodeDigits(field []byte) (uint8, error) {
	if len(field) != DigitWidth {
		return 0, fmt.Errorf("%w: width %d", ErrInvalidDigits, len(field))
	}
	v := 0
	for i, c := range field {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("%w: %q", ErrInvalidDigits, field)
		}
		v += int(c-'0') * placeValues[i]
	}
	if v > 255 {
		return 0, fmt.Errorf("%w: %d out of range", ErrInvalidDigits, v)
	}
	return uint8(v), nil
}

// Header is one request header line.
type Header struct {
	Name  string
	Value string
}

// Request is a minimal GET with no body.
type Request struct {
	Method  string
	Path    string
	Headers []Header
}

// BuildGET writes v into the template's digit field and attaches the fixed
// header set (Host, Accept, Content-Length: 0).
func BuildGET(v uint8, tmpl PathTemplate, host string) (Request, error) {
	if err := tmpl.Validate(); err != nil {
		return Request{}, err
	}
	path := []byte(tmpl.Raw)
	digits := EncodeDigits(v)
	copy(path[tmpl.Offset:tmpl.Offset+DigitWidth], digits[:])
	return Request{
		Method: "GET",
		Path:   string(path),
		Headers: []Header{
			{Name: "Host", Value: host},
			{Name: "Accept", Value: "*/*"},
			{Name: "Content-Length", Value: "0"},
		},
	}, nil
}

// Sample decodes the digit field of r under tmpl.
func (r Request) Sample(tmpl PathTemplate) (uint8, error) {
	if tmpl.Offset < 0 || tmpl.Offset+DigitWidth > len(r.Path) {
		return 0, fmt.Errorf("%w: path %q too short", ErrInvalidDigits, r.Path)
	}
	return DecodeDigits([]byte(r.Path[tmpl.Offset : tmpl.Offset+DigitWidth]))
}

// Encode renders the request line, headers, and terminating blank line.
func (r Request) Encode() []byte {
	var b strings.Builder
	b.WriteString(r.Method)
	b.WriteByte(' ')
	b.WriteString(r.Path)
	b.WriteString(" HTTP/1.1\r\n")
	for _, h := range r.Headers {
		b.WriteString(h.Name)
		b.WriteString(": ")
		b.WriteString(h.Value)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	return []byte(b.String())
}

// WriteTo sends the encoded request; failures are transport-kind.
func (r Request) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(r.Encode())
	if err != nil {
		return int64(n), transportErr("httpc.send", err)
	}
	return int64(n), nil
}
