package httpc

import (
	"bufio"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/danmuck/potlink/internal/jsontok"
	"github.com/danmuck/potlink/internal/protocol"
	"github.com/danmuck/potlink/internal/testutil/testlog"
)

func rawResponse(status string, headers []string, body string) string {
	var b strings.Builder
	b.WriteString("HTTP/1.1 " + status + "\r\n")
	for _, h := range headers {
		b.WriteString(h + "\r\n")
	}
	b.WriteString("\r\n")
	b.WriteString(body)
	return b.String()
}

func lengthHeader(body string) string {
	return fmt.Sprintf("Content-Length: %d", len(body))
}

func TestReadJSONBodyIsTokenized(t *testing.T) {
	testlog.Start(t)
	body := `{"a":1,"b":[2,3]}`
	raw := rawResponse("200 OK", []string{
		"Server: test",
		"Content-Type: application/json",
		lengthHeader(body),
		"Connection: keep-alive",
	}, body)

	resp, err := NewResponseReader(DefaultReaderConfig()).Read(strings.NewReader(raw))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	defer resp.Release()
	if resp.Outcome != OutcomeOK || resp.State != StateDone {
		t.Fatalf("unexpected outcome %s state %s", resp.Outcome, resp.State)
	}
	if string(resp.Body.Bytes()) != body {
		t.Fatalf("unexpected body %q", resp.Body.Bytes())
	}
	if resp.Body.buf[resp.Body.n] != 0 {
		t.Fatalf("body is not NUL terminated")
	}
	if resp.Body.Storage() != StorageInline {
		t.Fatalf("expected inline storage, got %s", resp.Body.Storage())
	}
	if len(resp.Tokens) != 7 {
		t.Fatalf("expected 7 tokens, got %d", len(resp.Tokens))
	}
	for i, tok := range resp.Tokens {
		if tok.Start < 0 || tok.End > len(body) || tok.Start > tok.End {
			t.Fatalf("token %d out of range: %+v", i, tok)
		}
	}
}

func TestReadKeepsOnlyWhitelistedFields(t *testing.T) {
	testlog.Start(t)
	raw := rawResponse("200 OK", []string{
		"X-Trace: abc",
		"content-type: text/plain",
		"Content-Length: 2",
		"Set-Cookie: a=b",
	}, "ok")

	resp, err := NewResponseReader(DefaultReaderConfig()).Read(strings.NewReader(raw))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(resp.Fields) != 2 {
		t.Fatalf("expected 2 recorded fields, got %v", resp.Fields)
	}
	if ct, _ := resp.Field(FieldContentType); ct != "text/plain" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if resp.Tokens != nil {
		t.Fatalf("non-JSON body should not be tokenized")
	}
}

func TestContentTypeWithParametersIsNotJSON(t *testing.T) {
	testlog.Start(t)
	body := `{"a":1}`
	raw := rawResponse("200 OK", []string{"Content-Type: application/json; charset=utf-8", lengthHeader(body)}, body)
	resp, err := NewResponseReader(DefaultReaderConfig()).Read(strings.NewReader(raw))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if resp.JSON() || resp.Tokens != nil {
		t.Fatalf("expected exact content type match only")
	}
}

func TestNotFoundDrainsBody(t *testing.T) {
	testlog.Start(t)
	body := `{"error":"missing"}`
	raw := rawResponse("404 Not Found", []string{"Content-Type: application/json", lengthHeader(body), "Connection: close"}, body)

	resp, err := NewResponseReader(DefaultReaderConfig()).Read(strings.NewReader(raw))
	if err != nil {
		t.Fatalf("404 should not be an error, got %v", err)
	}
	if resp.Outcome != OutcomeNotFound {
		t.Fatalf("expected not found, got %s", resp.Outcome)
	}
	if resp.Tokens != nil || resp.Body != nil {
		t.Fatalf("404 body must not be kept or tokenized")
	}
	if resp.Drained != int64(len(body)) {
		t.Fatalf("expected %d drained bytes, got %d", len(body), resp.Drained)
	}
	if !resp.ServerClosed {
		t.Fatalf("expected Connection: close to be noticed")
	}
}

func TestOtherStatusFails(t *testing.T) {
	testlog.Start(t)
	raw := rawResponse("500 Internal Server Error", []string{"Content-Length: 4"}, "boom")
	resp, err := NewResponseReader(DefaultReaderConfig()).Read(strings.NewReader(raw))
	if !errors.Is(err, ErrUnexpectedStatus) || !errors.Is(err, protocol.ErrProtocol) {
		t.Fatalf("expected unexpected status protocol error, got %v", err)
	}
	if resp.Status != 500 || resp.Outcome != OutcomeFailed || resp.Drained != 4 {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestShortBodyIsLengthMismatch(t *testing.T) {
	testlog.Start(t)
	raw := rawResponse("200 OK", []string{"Content-Length: 10"}, "12345")
	resp, err := NewResponseReader(DefaultReaderConfig()).Read(strings.NewReader(raw))
	if !errors.Is(err, ErrShortBody) || protocol.KindOf(err) != protocol.KindLengthMismatch {
		t.Fatalf("expected short body mismatch, got %v", err)
	}
	if resp.State != StateError || resp.Body != nil {
		t.Fatalf("failed response must not expose a body")
	}
}

func TestSurplusBodyIsLengthMismatch(t *testing.T) {
	testlog.Start(t)
	raw := rawResponse("200 OK", []string{"Content-Length: 2"}, "abcd")
	resp, err := NewResponseReader(DefaultReaderConfig()).Read(strings.NewReader(raw))
	if !errors.Is(err, ErrSurplusBody) || protocol.KindOf(err) != protocol.KindLengthMismatch {
		t.Fatalf("expected surplus mismatch, got %v", err)
	}
	if resp.Drained != 2 {
		t.Fatalf("expected surplus to be drained, got %d", resp.Drained)
	}
}

func TestMissingLengthTreatedAsZero(t *testing.T) {
	testlog.Start(t)
	resp, err := NewResponseReader(DefaultReaderConfig()).Read(strings.NewReader(rawResponse("200 OK", nil, "")))
	if err != nil {
		t.Fatalf("empty body without length: %v", err)
	}
	if resp.Body.Len() != 0 || resp.HasLength {
		t.Fatalf("expected empty body, got %d", resp.Body.Len())
	}

	_, err = NewResponseReader(DefaultReaderConfig()).Read(strings.NewReader(rawResponse("200 OK", nil, "data")))
	if protocol.KindOf(err) != protocol.KindLengthMismatch {
		t.Fatalf("expected mismatch for unframed body, got %v", err)
	}
}

func TestLargeBodyUsesHeapStorage(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultReaderConfig()
	cfg.InlineCapacity = 8
	body := strings.Repeat("x", 64)
	raw := rawResponse("200 OK", []string{lengthHeader(body)}, body)

	resp, err := NewResponseReader(cfg).Read(strings.NewReader(raw))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if resp.Body.Storage() != StorageHeap || resp.Body.Len() != 64 {
		t.Fatalf("expected 64-byte heap body, got %s/%d", resp.Body.Storage(), resp.Body.Len())
	}
	if resp.Body.buf[64] != 0 {
		t.Fatalf("heap body is not NUL terminated")
	}
	resp.Release()
	resp.Release()
	if resp.Body.Len() != 0 {
		t.Fatalf("released body should be empty")
	}
}

func TestBodyOverCeilingIsAllocationError(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultReaderConfig()
	cfg.InlineCapacity = 4
	cfg.MaxBodyBytes = 16
	body := strings.Repeat("y", 32)
	raw := rawResponse("200 OK", []string{lengthHeader(body)}, body)

	resp, err := NewResponseReader(cfg).Read(strings.NewReader(raw))
	if !errors.Is(err, ErrBodyTooLarge) || protocol.KindOf(err) != protocol.KindAllocation {
		t.Fatalf("expected allocation error, got %v", err)
	}
	if resp.Drained != 32 {
		t.Fatalf("expected declared body to be drained, got %d", resp.Drained)
	}
}

type fixedFields struct {
	ids []int
	pos int
}

func (f *fixedFields) NextField() (int, string, error) {
	if f.pos >= len(f.ids) {
		return FieldEnd, "", nil
	}
	id := f.ids[f.pos]
	f.pos++
	return id, "v", nil
}

func TestUnknownFieldIDIsProtocolError(t *testing.T) {
	testlog.Start(t)
	rr := NewResponseReader(DefaultReaderConfig()).WithFieldSource(func(*bufio.Reader) FieldSource {
		return &fixedFields{ids: []int{FieldConnection, 7}}
	})
	_, err := rr.Read(strings.NewReader(rawResponse("200 OK", nil, "")))
	if !errors.Is(err, ErrUnknownField) || protocol.KindOf(err) != protocol.KindProtocol {
		t.Fatalf("expected unknown field protocol error, got %v", err)
	}
}

func TestMalformedStatusLine(t *testing.T) {
	testlog.Start(t)
	for _, raw := range []string{
		"HTTX/1.1 200 OK\r\n\r\n",
		"HTTP/1.1 2x0 OK\r\n\r\n",
		"HTTP/1.1 2000\r\n\r\n",
		"HTTP/1.1 200",
	} {
		_, err := NewResponseReader(DefaultReaderConfig()).Read(strings.NewReader(raw))
		if !errors.Is(err, ErrMalformedStatus) || protocol.KindOf(err) != protocol.KindProtocol {
			t.Fatalf("%q: expected malformed status, got %v", raw, err)
		}
	}
}

func TestEmptyResponseIsTransportError(t *testing.T) {
	testlog.Start(t)
	_, err := NewResponseReader(DefaultReaderConfig()).Read(strings.NewReader(""))
	if !errors.Is(err, ErrNoResponse) || protocol.KindOf(err) != protocol.KindTransport {
		t.Fatalf("expected no-response transport error, got %v", err)
	}
}

func TestTruncatedHeaders(t *testing.T) {
	testlog.Start(t)
	_, err := NewResponseReader(DefaultReaderConfig()).Read(strings.NewReader("HTTP/1.1 200 OK\r\nContent-Length: 3\r\n"))
	if !errors.Is(err, ErrTruncatedHeader) {
		t.Fatalf("expected truncated headers, got %v", err)
	}
}

func TestBadContentLength(t *testing.T) {
	testlog.Start(t)
	_, err := NewResponseReader(DefaultReaderConfig()).Read(strings.NewReader(rawResponse("200 OK", []string{"Content-Length: -3"}, "")))
	if !errors.Is(err, ErrBadLength) {
		t.Fatalf("expected bad length, got %v", err)
	}
}

func TestTokenBudgetExceededIsParseError(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultReaderConfig()
	cfg.MaxTokens = 2
	body := `{"a":1,"b":[2,3]}`
	raw := rawResponse("200 OK", []string{"Content-Type: application/json", lengthHeader(body)}, body)
	_, err := NewResponseReader(cfg).Read(strings.NewReader(raw))
	if !errors.Is(err, jsontok.ErrNoMemory) || protocol.KindOf(err) != protocol.KindParse {
		t.Fatalf("expected token budget parse error, got %v", err)
	}
}

func TestLineTooLong(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultReaderConfig()
	cfg.MaxLineBytes = 32
	raw := rawResponse("200 OK", []string{"X-Long: " + strings.Repeat("z", 64)}, "")
	_, err := NewResponseReader(cfg).Read(strings.NewReader(raw))
	if !errors.Is(err, ErrLineTooLong) {
		t.Fatalf("expected line too long, got %v", err)
	}
}
