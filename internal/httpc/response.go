package httpc

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/potlink/internal/jsontok"
	"github.com/danmuck/potlink/internal/protocol"
)

// JSONContentType is compared byte for byte; parameters disable tokenizing.
const JSONContentType = "application/json"

// DefaultMaxTokens caps the token budget for one body.
const DefaultMaxTokens = 128

var (
	ErrMalformedStatus  = errors.New("httpc: malformed status line")
	ErrNoResponse       = errors.New("httpc: no response from server")
	ErrShortBody        = errors.New("httpc: body shorter than content length")
	ErrSurplusBody      = errors.New("httpc: body longer than content length")
	ErrBadLength        = errors.New("httpc: invalid content length")
	ErrUnexpectedStatus = errors.New("httpc: unexpected status")
)

// State is a step of the response reader.
type State int

const (
	StateAwaitStatusLine State = iota
	StateAwaitHeaders
	StateDecideBody
	StateReadBody
	StateDone
	StateError
)

var stateNames = [...]string{"await_status_line", "await_headers", "decide_body", "read_body", "done", "error"}

func (s State) String() string {
	if int(s) >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "state(" + strconv.Itoa(int(s)) + ")"
}

// Outcome is the caller-facing result class.
type Outcome int

const (
	OutcomeFailed Outcome = iota
	OutcomeOK
	OutcomeNotFound
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeNotFound:
		return "not_found"
	default:
		return "failed"
	}
}

type statusAction int

const (
	actionDrain statusAction = iota
	actionAccept
	actionNotFound
)

var statusActions = map[int]statusAction{
	200: actionAccept,
	404: actionNotFound,
}

func actionFor(code int) statusAction {
	if a, ok := statusActions[code]; ok {
		return a
	}
	return actionDrain
}

// Response is what one read produced. Fields only holds whitelisted ids.
type Response struct {
	Status        int
	Fields        map[int]string
	ContentLength int
	HasLength     bool
	Body          *Body
	Tokens        []jsontok.Token
	Outcome       Outcome
	State         State
	Drained       int64
	ServerClosed  bool
}

// Field returns the value recorded for a whitelisted id.
func (r *Response) Field(id int) (string, bool) {
	if r == nil || r.Fields == nil {
		return "", false
	}
	v, ok := r.Fields[id]
	return v, ok
}

// JSON reports whether the body was declared as exactly application/json.
func (r *Response) JSON() bool {
	ct, ok := r.Field(FieldContentType)
	return ok && ct == JSONContentType
}

// Release frees heap body storage.
func (r *Response) Release() {
	if r != nil {
		r.Body.Release()
	}
}

// ReaderConfig bounds one response read.
type ReaderConfig struct {
	InlineCapacity int
	MaxBodyBytes   int
	MaxTokens      int
	MaxLineBytes   int
}

func DefaultReaderConfig() ReaderConfig {
	return ReaderConfig{
		InlineCapacity: DefaultInlineCapacity,
		MaxBodyBytes:   DefaultMaxBodyBytes,
		MaxTokens:      DefaultMaxTokens,
		MaxLineBytes:   DefaultMaxLineBytes,
	}
}

// ResponseReader parses one response per Read. It owns the inline body
// buffer and is not safe for concurrent use.
type ResponseReader struct {
	cfg    ReaderConfig
	alloc  *bodyAllocator
	fields func(*bufio.Reader) FieldSource
}

func NewResponseReader(cfg ReaderConfig) *ResponseReader {
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.MaxLineBytes <= 0 {
		cfg.MaxLineBytes = DefaultMaxLineBytes
	}
	rr := &ResponseReader{cfg: cfg, alloc: newBodyAllocator(cfg.InlineCapacity, cfg.MaxBodyBytes)}
	rr.fields = func(br *bufio.Reader) FieldSource {
		return NewFieldSource(br, ResponseFields, rr.cfg.MaxLineBytes)
	}
	return rr
}

// WithFieldSource replaces header enumeration; used to inject field streams.
func (rr *ResponseReader) WithFieldSource(fn func(*bufio.Reader) FieldSource) *ResponseReader {
	rr.fields = fn
	return rr
}

// Read consumes one response from r. The returned Response is never nil.
// A 404 yields OutcomeNotFound with a nil error; any other non-200 status
// yields OutcomeFailed and ErrUnexpectedStatus.
func (rr *ResponseReader) Read(r io.Reader) (*Response, error) {
	br := bufio.NewReaderSize(r, 4096)
	resp := &Response{State: StateAwaitStatusLine, Fields: make(map[int]string, len(ResponseFields))}

	code, err := readStatusLine(br, rr.cfg.MaxLineBytes)
	if err != nil {
		return rr.fail(resp, br, err, 0)
	}
	resp.Status = code
	resp.State = StateAwaitHeaders

	if err := rr.readFields(resp, br); err != nil {
		return rr.fail(resp, br, err, 0)
	}

	switch actionFor(code) {
	case actionNotFound:
		rr.drain(resp, br, resp.ContentLength)
		resp.Outcome = OutcomeNotFound
		resp.State = StateDone
		return resp, nil
	case actionDrain:
		rr.drain(resp, br, resp.ContentLength)
		resp.Outcome = OutcomeFailed
		resp.State = StateError
		return resp, protocol.Errorf(protocol.KindProtocol, "httpc.status", "%w: %d", ErrUnexpectedStatus, code)
	}

	resp.State = StateDecideBody
	body, err := rr.alloc.allocate(resp.ContentLength)
	if err != nil {
		return rr.fail(resp, br, err, resp.ContentLength)
	}
	resp.Body = body
	resp.State = StateReadBody

	if err := readBody(br, body); err != nil {
		return rr.fail(resp, br, err, 0)
	}

	if resp.JSON() {
		toks, err := jsontok.Parse(body.Bytes(), rr.cfg.MaxTokens)
		if err != nil {
			return rr.fail(resp, br, err, 0)
		}
		resp.Tokens = toks
	}
	resp.Outcome = OutcomeOK
	resp.State = StateDone
	return resp, nil
}

func (rr *ResponseReader) readFields(resp *Response, br *bufio.Reader) error {
	src := rr.fields(br)
	for {
		id, value, err := src.NextField()
		if err != nil {
			return err
		}
		switch id {
		case FieldEnd:
			return nil
		case FieldContentLength:
			n, err := strconv.Atoi(value)
			if err != nil || n < 0 {
				return protocol.Errorf(protocol.KindProtocol, "httpc.headers", "%w: %q", ErrBadLength, value)
			}
			resp.ContentLength = n
			resp.HasLength = true
		case FieldConnection, FieldContentType:
		default:
			return protocol.Errorf(protocol.KindProtocol, "httpc.headers", "%w: %d", ErrUnknownField, id)
		}
		resp.Fields[id] = value
	}
}

// fail moves resp to Error after discarding pending body bytes and
// anything already buffered, so the connection stays consumable.
func (rr *ResponseReader) fail(resp *Response, br *bufio.Reader, err error, pending int) (*Response, error) {
	rr.drain(resp, br, pending)
	resp.Body.Release()
	resp.Body = nil
	resp.Tokens = nil
	resp.Outcome = OutcomeFailed
	resp.State = StateError
	log.Debug().Err(err).Int("status", resp.Status).Int64("drained", resp.Drained).Msg("response failed")
	return resp, err
}

// drain discards pending declared bytes plus whatever is already buffered.
// It never waits for data beyond what was declared.
func (rr *ResponseReader) drain(resp *Response, br *bufio.Reader, pending int) {
	if v, ok := resp.Field(FieldConnection); ok && bytes.EqualFold([]byte(v), []byte("close")) {
		resp.ServerClosed = true
		log.Info().Int("status", resp.Status).Msg("connection terminated by server")
	}
	if pending > 0 {
		n, err := io.CopyN(io.Discard, br, int64(pending))
		resp.Drained += n
		if err != nil {
			log.Debug().Err(err).Int64("drained", n).Int("pending", pending).Msg("drain stopped early")
			return
		}
	}
	if extra := br.Buffered(); extra > 0 {
		n, _ := br.Discard(extra)
		resp.Drained += int64(n)
	}
}

func readStatusLine(br *bufio.Reader, max int) (int, error) {
	line, err := readLine(br, max)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return 0, protocol.Wrap(protocol.KindTransport, "httpc.status", ErrNoResponse)
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, protocol.Errorf(protocol.KindProtocol, "httpc.status", "%w: truncated", ErrMalformedStatus)
		}
		return 0, err
	}
	// HTTP/1.x SP DDD [SP reason]
	if len(line) < 12 || !bytes.HasPrefix(line, []byte("HTTP/1.")) || line[8] != ' ' {
		return 0, protocol.Errorf(protocol.KindProtocol, "httpc.status", "%w: %q", ErrMalformedStatus, line)
	}
	if len(line) > 12 && line[12] != ' ' {
		return 0, protocol.Errorf(protocol.KindProtocol, "httpc.status", "%w: %q", ErrMalformedStatus, line)
	}
	code := 0
	for _, c := range line[9:12] {
		if c < '0' || c > '9' {
			return 0, protocol.Errorf(protocol.KindProtocol, "httpc.status", "%w: %q", ErrMalformedStatus, line)
		}
		code = code*10 + int(c-'0')
	}
	return code, nil
}

// readBody fills body with exactly its declared length, then requires that
// nothing further is already buffered.
func readBody(br *bufio.Reader, body *Body) error {
	n, err := io.ReadFull(br, body.buf[:body.n])
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return protocol.Errorf(protocol.KindLengthMismatch, "httpc.body", "%w: got %d of %d", ErrShortBody, n, body.n)
		}
		return transportErr("httpc.body", err)
	}
	body.buf[body.n] = 0
	if extra := br.Buffered(); extra > 0 {
		return protocol.Errorf(protocol.KindLengthMismatch, "httpc.body", "%w: %d extra bytes", ErrSurplusBody, extra)
	}
	return nil
}
