package protocol

import (
	"errors"
	"fmt"
)

// Kind classifies a failure returned by either protocol path.
type Kind int

const (
	KindNone Kind = iota
	KindDeviceMode
	KindTransport
	KindProtocol
	KindLengthMismatch
	KindAllocation
	KindParse
)

var (
	ErrDeviceMode     = errors.New("protocol: device not in expected mode")
	ErrTransport      = errors.New("protocol: transport failure")
	ErrProtocol       = errors.New("protocol: protocol violation")
	ErrLengthMismatch = errors.New("protocol: content length mismatch")
	ErrAllocation     = errors.New("protocol: body allocation refused")
	ErrParse          = errors.New("protocol: parse failure")
)

var kindSentinels = map[Kind]error{
	KindDeviceMode:     ErrDeviceMode,
	KindTransport:      ErrTransport,
	KindProtocol:       ErrProtocol,
	KindLengthMismatch: ErrLengthMismatch,
	KindAllocation:     ErrAllocation,
	KindParse:          ErrParse,
}

// Status codes use a negative layout: device mode is -0x7D0 and
// each following kind counts down by one.
const statusBase = -0x7D0

var kindNames = map[Kind]string{
	KindNone:           "none",
	KindDeviceMode:     "device_mode",
	KindTransport:      "transport",
	KindProtocol:       "protocol",
	KindLengthMismatch: "length_mismatch",
	KindAllocation:     "allocation",
	KindParse:          "parse",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Code returns the negative status code for k, or 0 for KindNone.
func (k Kind) Code() int {
	if k == KindNone {
		return 0
	}
	return statusBase - (int(k) - int(KindDeviceMode))
}

// Error carries the failing operation alongside its kind.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	label := e.Kind.String()
	if sentinel, ok := kindSentinels[e.Kind]; ok {
		label = sentinel.Error()
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, label)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, label, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error's kind, so errors.Is(err, ErrTransport)
// holds for any transport-kind Error.
func (e *Error) Is(target error) bool {
	sentinel, ok := kindSentinels[e.Kind]
	return ok && sentinel == target
}

// Errorf builds a kind-tagged error; %w verbs in format are preserved.
func Errorf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap tags err with kind. A nil err stays nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf reports the kind of the first tagged error in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Kind
	}
	for kind, sentinel := range kindSentinels {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return KindNone
}
