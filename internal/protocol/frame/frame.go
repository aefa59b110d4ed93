package frame

import (
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/potlink/internal/protocol"
)

// Default layout: "LED1:X&LED2:Y\r\n", flags at offsets 5 and 12.
const (
	DefaultLen             = 15
	DefaultFirstFlag       = 5
	DefaultSecondFlag      = 12
	FlagOn            byte = '1'
	FlagOff           byte = '0'
)

const template = "LED1:0&LED2:0\r\n"

var (
	ErrShortFrame    = errors.New("frame: peer closed mid-frame")
	ErrInvalidLayout = errors.New("frame: invalid layout")
)

// Layout fixes the frame length and the two flag offsets for one protocol version.
type Layout struct {
	Len    int
	First  int
	Second int
}

func DefaultLayout() Layout {
	return Layout{Len: DefaultLen, First: DefaultFirstFlag, Second: DefaultSecondFlag}
}

func (l Layout) Validate() error {
	if l.Len <= 0 {
		return fmt.Errorf("%w: len=%d", ErrInvalidLayout, l.Len)
	}
	if l.First < 0 || l.First >= l.Len || l.Second < 0 || l.Second >= l.Len {
		return fmt.Errorf("%w: offsets %d,%d outside len=%d", ErrInvalidLayout, l.First, l.Second, l.Len)
	}
	if l.First == l.Second {
		return fmt.Errorf("%w: offsets overlap at %d", ErrInvalidLayout, l.First)
	}
	return nil
}

// Frame is one decoded command record.
type Frame struct {
	Raw    []byte
	First  bool
	Second bool
}

// Decode reads both flags from raw. Any byte other than '1' is false.
func Decode(raw []byte, l Layout) (Frame, error) {
	if len(raw) != l.Len {
		return Frame{}, protocol.Errorf(protocol.KindProtocol, "frame.decode", "frame length %d, want %d", len(raw), l.Len)
	}
	return Frame{
		Raw:    raw,
		First:  raw[l.First] == FlagOn,
		Second: raw[l.Second] == FlagOn,
	}, nil
}

// ReadFrame accumulates reads until one full frame is available. A peer that
// closes before sending any byte ends the session with io.EOF.
func ReadFrame(r io.Reader, l Layout) (Frame, error) {
	buf := make([]byte, l.Len)
	n, err := io.ReadFull(r, buf)
	if err != nil {
		switch {
		case errors.Is(err, io.EOF) && n == 0:
			return Frame{}, io.EOF
		case errors.Is(err, io.ErrUnexpectedEOF):
			return Frame{}, protocol.Wrap(protocol.KindProtocol, "frame.read", fmt.Errorf("%w: got %d of %d bytes", ErrShortFrame, n, l.Len))
		default:
			return Frame{}, protocol.Wrap(protocol.KindTransport, "frame.read", err)
		}
	}
	return Decode(buf, l)
}

// Encode renders the default-layout frame carrying both flags.
func Encode(first, second bool) []byte {
	out := []byte(template)
	out[DefaultFirstFlag] = flagByte(first)
	out[DefaultSecondFlag] = flagByte(second)
	return out
}

// WriteFrame writes one default-layout frame to w.
func WriteFrame(w io.Writer, first, second bool) error {
	if _, err := w.Write(Encode(first, second)); err != nil {
		return protocol.Wrap(protocol.KindTransport, "frame.write", err)
	}
	return nil
}

func flagByte(on bool) byte {
	if on {
		return FlagOn
	}
	return FlagOff
}
