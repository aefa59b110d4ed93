package httpc

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"

	"github.com/danmuck/potlink/internal/protocol"
)

// Field ids over the response whitelist. FieldEnd marks the end of headers.
const (
	FieldContentLength = 0
	FieldConnection    = 1
	FieldContentType   = 2
	FieldEnd           = -1
)

// DefaultMaxLineBytes bounds a status or header line.
const DefaultMaxLineBytes = 1024

// ResponseFields is the header whitelist, indexed by field id.
var ResponseFields = []string{"Content-Length", "Connection", "Content-Type"}

var (
	ErrLineTooLong     = errors.New("httpc: header line too long")
	ErrMalformedHeader = errors.New("httpc: malformed header line")
	ErrTruncatedHeader = errors.New("httpc: headers truncated")
	ErrUnknownField    = errors.New("httpc: unrecognised field id")
)

// FieldSource yields recognised header fields in arrival order, then FieldEnd.
type FieldSource interface {
	NextField() (id int, value string, err error)
}

type lineFields struct {
	r       *bufio.Reader
	names   []string
	maxLine int
	done    bool
}

// NewFieldSource enumerates header lines from r, reporting only names in the
// whitelist. Matching is case-insensitive.
func NewFieldSource(r *bufio.Reader, names []string, maxLine int) FieldSource {
	if maxLine <= 0 {
		maxLine = DefaultMaxLineBytes
	}
	return &lineFields{r: r, names: names, maxLine: maxLine}
}

func (f *lineFields) NextField() (int, string, error) {
	if f.done {
		return FieldEnd, "", nil
	}
	for {
		line, err := readLine(f.r, f.maxLine)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return 0, "", protocol.Wrap(protocol.KindProtocol, "httpc.headers", ErrTruncatedHeader)
			}
			return 0, "", err
		}
		if len(line) == 0 {
			f.done = true
			return FieldEnd, "", nil
		}
		colon := bytes.IndexByte(line, ':')
		if colon <= 0 {
			return 0, "", protocol.Errorf(protocol.KindProtocol, "httpc.headers", "%w: %q", ErrMalformedHeader, line)
		}
		name := string(bytes.TrimSpace(line[:colon]))
		for id, want := range f.names {
			if strings.EqualFold(name, want) {
				return id, string(bytes.TrimSpace(line[colon+1:])), nil
			}
		}
	}
}

// readLine returns one line without its CRLF or LF terminator. A line that
// does not fit in max bytes is a protocol error.
func readLine(r *bufio.Reader, max int) ([]byte, error) {
	var line []byte
	for {
		chunk, err := r.ReadSlice('\n')
		line = append(line, chunk...)
		if len(line) > max {
			return nil, protocol.Errorf(protocol.KindProtocol, "httpc.line", "%w: over %d bytes", ErrLineTooLong, max)
		}
		if err == nil {
			break
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if errors.Is(err, io.EOF) {
			if len(line) == 0 {
				return nil, io.EOF
			}
			return nil, io.ErrUnexpectedEOF
		}
		return nil, transportErr("httpc.read", err)
	}
	line = bytes.TrimSuffix(line, []byte("\n"))
	line = bytes.TrimSuffix(line, []byte("\r"))
	return line, nil
}

// transportErr tags err as transport-kind unless a lower layer already did.
func transportErr(op string, err error) error {
	if protocol.KindOf(err) != protocol.KindNone {
		return err
	}
	return protocol.Wrap(protocol.KindTransport, op, err)
}
