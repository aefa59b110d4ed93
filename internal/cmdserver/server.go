// Package cmdserver accepts command frames on one port, drives two outputs,
// and answers each frame with a one-byte sample reply.
package cmdserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/potlink/internal/observability"
	"github.com/danmuck/potlink/internal/protocol"
	"github.com/danmuck/potlink/internal/protocol/frame"
	"github.com/danmuck/potlink/internal/sample"
	"github.com/danmuck/potlink/internal/transport"
)

const (
	DefaultAddr             = ":5000"
	DefaultFramesPerSession = 1
	DefaultMaxSessions      = 1000
	DefaultMaxFrames        = 1000
)

var (
	ErrNilSource  = errors.New("cmdserver: sample source required")
	ErrNilOutput  = errors.New("cmdserver: both outputs required")
	ErrClosed     = errors.New("cmdserver: server closed")
	ErrNotStarted = errors.New("cmdserver: not listening")
)

// State is the server lifecycle position.
type State int

const (
	StateIdle State = iota
	StateListening
	StateAccepted
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateAccepted:
		return "accepted"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config bounds the serve loop. FramesPerSession, MaxSessions, or MaxFrames
// of zero or less means no limit on that axis. MaxFrames counts across
// sessions, so a peer that keeps sending is still cut off.
type Config struct {
	Addr             string
	Layout           frame.Layout
	FramesPerSession int
	MaxSessions      int
	MaxFrames        int
	IOTimeout        time.Duration
}

func DefaultConfig() Config {
	return Config{
		Addr:             DefaultAddr,
		Layout:           frame.DefaultLayout(),
		FramesPerSession: DefaultFramesPerSession,
		MaxSessions:      DefaultMaxSessions,
		MaxFrames:        DefaultMaxFrames,
	}
}

// Stats summarizes a finished Serve.
type Stats struct {
	Sessions int
	Frames   int
}

type Server struct {
	cfg    Config
	src    sample.Source
	first  Output
	second Output

	mu       sync.Mutex
	state    State
	ln       net.Listener
	stopping bool
}

func New(cfg Config, src sample.Source, first, second Output) (*Server, error) {
	if src == nil {
		return nil, ErrNilSource
	}
	if first == nil || second == nil {
		return nil, ErrNilOutput
	}
	if cfg.Layout == (frame.Layout{}) {
		cfg.Layout = frame.DefaultLayout()
	}
	if err := cfg.Layout.Validate(); err != nil {
		return nil, err
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	return &Server{cfg: cfg, src: src, first: first, second: second}, nil
}

func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Server) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Listen binds the configured port. A bind failure is fatal to the instance.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateClosed:
		return protocol.Wrap(protocol.KindDeviceMode, "cmdserver.listen", ErrClosed)
	case StateListening, StateAccepted:
		return nil
	}
	ln, err := transport.Listen(s.cfg.Addr)
	if err != nil {
		s.state = StateClosed
		return err
	}
	s.ln = ln
	s.state = StateListening
	log.Info().Str("addr", ln.Addr().String()).Msg("command server listening")
	return nil
}

// Addr is the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Serve handles peers one at a time on the calling goroutine until the
// session bound is reached, ctx ends, or a socket fails. The listener is
// closed on every return.
func (s *Server) Serve(ctx context.Context) (Stats, error) {
	var stats Stats
	if err := s.Listen(); err != nil {
		return stats, err
	}
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = ln.Close()
		case <-stop:
		}
	}()
	defer s.close()

	for s.underBound(stats) {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || s.isStopping() {
				log.Info().Int("sessions", stats.Sessions).Int("frames", stats.Frames).Msg("command server stopped")
				return stats, nil
			}
			return stats, protocol.Wrap(protocol.KindTransport, "cmdserver.accept", err)
		}
		stats.Sessions++
		observability.RecordSession()
		s.setState(StateAccepted)

		n, err := s.session(conn, s.frameBudget(stats))
		stats.Frames += n
		if err != nil {
			log.Error().Err(err).Int("code", protocol.KindOf(err).Code()).Int("frames", stats.Frames).Msg("command session failed")
			return stats, err
		}
		s.setState(StateListening)
	}
	log.Info().Int("sessions", stats.Sessions).Int("frames", stats.Frames).Msg("command server reached its bound")
	return stats, nil
}

func (s *Server) underBound(stats Stats) bool {
	if s.cfg.MaxSessions > 0 && stats.Sessions >= s.cfg.MaxSessions {
		return false
	}
	return s.cfg.MaxFrames <= 0 || stats.Frames < s.cfg.MaxFrames
}

// frameBudget is how many frames the next session may handle; 0 is unlimited.
func (s *Server) frameBudget(stats Stats) int {
	budget := s.cfg.FramesPerSession
	if s.cfg.MaxFrames > 0 {
		left := s.cfg.MaxFrames - stats.Frames
		if budget <= 0 || left < budget {
			budget = left
		}
	}
	if budget < 0 {
		return 0
	}
	return budget
}

// session serves one peer for at most budget frames (0 is unlimited). The
// peer closing before a frame ends it normally.
func (s *Server) session(conn net.Conn, budget int) (int, error) {
	stream := transport.NewStream(conn)
	defer stream.Close()
	peer := stream.RemoteAddr()
	log.Debug().Str("peer", peer).Msg("peer accepted")

	frames := 0
	for budget <= 0 || frames < budget {
		if s.cfg.IOTimeout > 0 {
			_ = stream.SetDeadline(time.Now().Add(s.cfg.IOTimeout))
		}
		f, err := frame.ReadFrame(stream, s.cfg.Layout)
		if errors.Is(err, io.EOF) {
			log.Debug().Str("peer", peer).Int("frames", frames).Msg("peer closed")
			return frames, nil
		}
		if err != nil {
			observability.RecordFrame("receive_error")
			return frames, err
		}
		reply, err := s.handle(f)
		if err != nil {
			observability.RecordFrame("apply_error")
			return frames, err
		}
		if _, err := stream.Write([]byte{reply}); err != nil {
			observability.RecordFrame("send_error")
			return frames, err
		}
		frames++
		observability.RecordFrame("applied")
		log.Debug().
			Str("peer", peer).
			Bool("first", f.First).
			Bool("second", f.Second).
			Uint8("reply", reply).
			Msg("frame applied")
	}
	return frames, nil
}

// handle applies both flags and returns the reply byte for the current sample.
func (s *Server) handle(f frame.Frame) (byte, error) {
	if err := s.first.Set(f.First); err != nil {
		return 0, protocol.Wrap(protocol.KindDeviceMode, "cmdserver.output", err)
	}
	if err := s.second.Set(f.Second); err != nil {
		return 0, protocol.Wrap(protocol.KindDeviceMode, "cmdserver.output", err)
	}
	v := s.src.Sample()
	observability.SetSample(v)
	return sample.ReplyByte(v), nil
}

func (s *Server) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		_ = s.ln.Close()
	}
	s.state = StateClosed
}

// Close stops a listening server. Serve returns once its current peer ends.
func (s *Server) Close() error {
	s.mu.Lock()
	ln := s.ln
	s.stopping = true
	s.mu.Unlock()
	if ln == nil {
		return ErrNotStarted
	}
	return ln.Close()
}

func (s *Server) isStopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopping
}
