// Package jsontok splits a JSON document into typed byte-range tokens without
// building a value tree. Nesting is implied by token order and Size.
package jsontok

import (
	"errors"
	"fmt"

	"github.com/danmuck/potlink/internal/protocol"
)

type Kind uint8

const (
	Undefined Kind = iota
	Object
	Array
	String
	Primitive
)

var kindNames = [...]string{"undefined", "object", "array", "string", "primitive"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// Token is one lexical unit. Start/End are byte offsets into the source; for
// strings they exclude the quotes. Size counts immediate children: keys for an
// object, elements for an array, and 1 for a key that has a value.
type Token struct {
	Kind  Kind
	Start int
	End   int
	Size  int
}

// Unlimited disables the token budget.
const Unlimited = -1

var (
	ErrNoMemory = errors.New("jsontok: not enough tokens")
	ErrInvalid  = errors.New("jsontok: invalid character")
	ErrPartial  = errors.New("jsontok: incomplete document")
)

// Parse tokenizes src in document order. It fails with ErrNoMemory once more
// than max tokens would be produced (max < 0 means no limit).
func Parse(src []byte, max int) ([]Token, error) {
	p := parser{src: src, max: max, key: -1}
	if err := p.run(); err != nil {
		return nil, protocol.Wrap(protocol.KindParse, "jsontok.parse", err)
	}
	return p.toks, nil
}

// Count runs a full scan and reports how many tokens src holds.
func Count(src []byte) (int, error) {
	toks, err := Parse(src, Unlimited)
	if err != nil {
		return 0, err
	}
	return len(toks), nil
}

// frame is one open container plus the key it is the value of, if any.
type frame struct {
	tok      int
	outerKey int
}

type parser struct {
	src   []byte
	pos   int
	max   int
	toks  []Token
	stack []frame
	key   int // key awaiting its value inside the innermost object, or -1
}

func (p *parser) run() error {
	for p.pos < len(p.src) {
		start := p.pos
		c := p.src[p.pos]
		switch c {
		case '{', '[':
			kind := Object
			if c == '[' {
				kind = Array
			}
			idx, err := p.value(kind, p.pos)
			if err != nil {
				return err
			}
			p.stack = append(p.stack, frame{tok: idx, outerKey: p.key})
			p.key = -1
			p.pos++
		case '}', ']':
			if err := p.close(c); err != nil {
				return err
			}
			p.pos++
		case '"':
			if err := p.string(); err != nil {
				return err
			}
		case ':':
			if err := p.colon(); err != nil {
				return err
			}
			p.pos++
		case ',':
			p.key = -1
			p.pos++
		case ' ', '\t', '\r', '\n':
			p.pos++
		default:
			if err := p.primitive(); err != nil {
				return err
			}
		}
		if p.pos == start {
			return fmt.Errorf("%w: cursor stuck at offset %d", ErrInvalid, start)
		}
	}
	if len(p.stack) > 0 {
		open := p.toks[p.stack[len(p.stack)-1].tok]
		return fmt.Errorf("%w: %s opened at offset %d never closed", ErrPartial, open.Kind, open.Start)
	}
	return nil
}

// value allocates a token and attaches it to its parent.
func (p *parser) value(kind Kind, start int) (int, error) {
	if p.inObject() && p.key == -1 && kind != String {
		return 0, fmt.Errorf("%w: object key must be a string at offset %d", ErrInvalid, start)
	}
	if p.max >= 0 && len(p.toks) >= p.max {
		return 0, fmt.Errorf("%w: budget %d exhausted at offset %d", ErrNoMemory, p.max, start)
	}
	if parent := p.parent(); parent >= 0 {
		p.toks[parent].Size++
	}
	p.toks = append(p.toks, Token{Kind: kind, Start: start, End: -1})
	return len(p.toks) - 1, nil
}

func (p *parser) parent() int {
	if p.key >= 0 {
		return p.key
	}
	if len(p.stack) == 0 {
		return -1
	}
	return p.stack[len(p.stack)-1].tok
}

func (p *parser) inObject() bool {
	return len(p.stack) > 0 && p.toks[p.stack[len(p.stack)-1].tok].Kind == Object
}

func (p *parser) close(c byte) error {
	want := Object
	if c == ']' {
		want = Array
	}
	if len(p.stack) == 0 {
		return fmt.Errorf("%w: unmatched %q at offset %d", ErrInvalid, c, p.pos)
	}
	top := p.stack[len(p.stack)-1]
	tok := &p.toks[top.tok]
	if tok.Kind != want {
		return fmt.Errorf("%w: %q closes %s opened at offset %d", ErrInvalid, c, tok.Kind, tok.Start)
	}
	tok.End = p.pos + 1
	p.stack = p.stack[:len(p.stack)-1]
	p.key = top.outerKey
	return nil
}

func (p *parser) colon() error {
	if !p.inObject() || p.key != -1 || len(p.toks) == 0 {
		return fmt.Errorf("%w: unexpected ':' at offset %d", ErrInvalid, p.pos)
	}
	last := len(p.toks) - 1
	obj := p.stack[len(p.stack)-1].tok
	if p.toks[last].Kind != String || last == obj {
		return fmt.Errorf("%w: ':' without a key at offset %d", ErrInvalid, p.pos)
	}
	p.key = last
	return nil
}

func (p *parser) string() error {
	open := p.pos
	for i := open + 1; i < len(p.src); i++ {
		switch p.src[i] {
		case '"':
			idx, err := p.value(String, open+1)
			if err != nil {
				return err
			}
			p.toks[idx].End = i
			p.pos = i + 1
			return nil
		case '\\':
			n, err := p.escape(i)
			if err != nil {
				return err
			}
			i += n
		}
	}
	return fmt.Errorf("%w: string at offset %d is unterminated", ErrPartial, open)
}

// escape validates the escape sequence at src[i] and returns the number of
// bytes to skip past the backslash.
func (p *parser) escape(i int) (int, error) {
	if i+1 >= len(p.src) {
		return 0, fmt.Errorf("%w: escape at offset %d is unterminated", ErrPartial, i)
	}
	switch p.src[i+1] {
	case '"', '/', '\\', 'b', 'f', 'r', 'n', 't':
		return 1, nil
	case 'u':
		if i+5 >= len(p.src) {
			return 0, fmt.Errorf("%w: unicode escape at offset %d is unterminated", ErrPartial, i)
		}
		for _, h := range p.src[i+2 : i+6] {
			if !isHex(h) {
				return 0, fmt.Errorf("%w: bad unicode escape at offset %d", ErrInvalid, i)
			}
		}
		return 5, nil
	default:
		return 0, fmt.Errorf("%w: bad escape %q at offset %d", ErrInvalid, p.src[i+1], i)
	}
}

func (p *parser) primitive() error {
	start := p.pos
	if !isPrimitiveStart(p.src[start]) {
		return fmt.Errorf("%w: %q at offset %d", ErrInvalid, p.src[start], start)
	}
	end := start
	for end < len(p.src) && !isTerminator(p.src[end]) {
		if c := p.src[end]; c < 32 || c >= 127 {
			return fmt.Errorf("%w: %q at offset %d", ErrInvalid, c, end)
		}
		end++
	}
	if err := checkPrimitive(p.src[start:end]); err != nil {
		return fmt.Errorf("%w: %v at offset %d", ErrInvalid, err, start)
	}
	idx, err := p.value(Primitive, start)
	if err != nil {
		return err
	}
	p.toks[idx].End = end
	p.pos = end
	return nil
}

var literals = map[byte]string{'t': "true", 'f': "false", 'n': "null"}

func checkPrimitive(lit []byte) error {
	if want, ok := literals[lit[0]]; ok {
		if string(lit) != want {
			return fmt.Errorf("bad literal %q", lit)
		}
		return nil
	}
	for _, c := range lit {
		if !isNumberByte(c) {
			return fmt.Errorf("bad number %q", lit)
		}
	}
	return nil
}

func isTerminator(c byte) bool {
	switch c {
	case ' ', '\t', '\r', '\n', ',', ']', '}', ':':
		return true
	}
	return false
}

func isPrimitiveStart(c byte) bool {
	return c == '-' || (c >= '0' && c <= '9') || c == 't' || c == 'f' || c == 'n'
}

func isNumberByte(c byte) bool {
	return (c >= '0' && c <= '9') || c == '-' || c == '+' || c == '.' || c == 'e' || c == 'E'
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
