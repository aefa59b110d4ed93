package potlink

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/potlink/internal/cmdserver"
	"github.com/danmuck/potlink/internal/httpc"
	"github.com/danmuck/potlink/internal/protocol"
	"github.com/danmuck/potlink/internal/sample"
	"github.com/danmuck/potlink/internal/status"
)

var (
	ErrUnknownMode        = errors.New("potlink: unknown mode")
	ErrInvalidInterval    = errors.New("potlink: invalid interval")
	ErrUnknownResolution  = errors.New("potlink: unknown resolution")
	ErrMissingServerAddr  = errors.New("potlink: client mode requires server addr")
	ErrInvalidSessionSize = errors.New("potlink: invalid session bounds")
)

// Mode selects which protocol path the process runs.
type Mode string

const (
	ModeClient Mode = "client"
	ModeServer Mode = "server"
)

// ClientConfig drives the periodic HTTP exchange.
type ClientConfig struct {
	Addr           string
	Host           string
	PathPrefix     string
	PathSuffix     string
	Interval       time.Duration
	Timeout        time.Duration
	SkipUnchanged  bool
	MaxExchanges   int
	InlineCapacity int
	MaxBodyBytes   int
	MaxTokens      int
}

// StatusConfig configures the read-only status node.
type StatusConfig struct {
	Enabled        bool
	Addr           string
	CORSOrigins    []string
	StreamInterval time.Duration
}

// SamplerConfig configures the simulated converter feeding the source.
type SamplerConfig struct {
	Resolution string
	Initial    uint16
	Step       int
	Interval   time.Duration
	Disabled   bool
}

type ServiceConfig struct {
	ID      string
	Mode    Mode
	Client  ClientConfig
	Server  cmdserver.Config
	Status  StatusConfig
	Sampler SamplerConfig
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		ID:   "potlink.local",
		Mode: ModeServer,
		Client: ClientConfig{
			PathPrefix:     httpc.DefaultPathPrefix,
			Interval:       5 * time.Second,
			Timeout:        5 * time.Second,
			InlineCapacity: httpc.DefaultInlineCapacity,
			MaxBodyBytes:   httpc.DefaultMaxBodyBytes,
			MaxTokens:      httpc.DefaultMaxTokens,
		},
		Server: cmdserver.DefaultConfig(),
		Status: StatusConfig{
			Addr:           ":9200",
			StreamInterval: status.DefaultStreamInterval,
		},
		Sampler: SamplerConfig{
			Resolution: "12",
			Initial:    2048,
			Step:       64,
			Interval:   100 * time.Millisecond,
		},
	}
}

// ParseResolution maps "12" or "10" (with an optional "bit" suffix) to a
// converter resolution.
func ParseResolution(name string) (sample.Resolution, error) {
	switch strings.TrimSuffix(strings.ToLower(strings.TrimSpace(name)), "bit") {
	case "", "12":
		return sample.Resolution12, nil
	case "10":
		return sample.Resolution10, nil
	default:
		return sample.Resolution{}, fmt.Errorf("%w: %q", ErrUnknownResolution, name)
	}
}

// Validate rejects configs that cannot start. Mode errors are device-mode kind.
func (c ServiceConfig) Validate() error {
	switch c.Mode {
	case ModeClient:
		if strings.TrimSpace(c.Client.Addr) == "" {
			return ErrMissingServerAddr
		}
		if c.Client.Interval <= 0 {
			return fmt.Errorf("%w: client interval %s", ErrInvalidInterval, c.Client.Interval)
		}
	case ModeServer:
		if c.Server.FramesPerSession < 0 || c.Server.MaxSessions < 0 || c.Server.MaxFrames < 0 {
			return fmt.Errorf("%w: frames=%d sessions=%d max_frames=%d",
				ErrInvalidSessionSize, c.Server.FramesPerSession, c.Server.MaxSessions, c.Server.MaxFrames)
		}
	default:
		return protocol.Wrap(protocol.KindDeviceMode, "potlink.mode", fmt.Errorf("%w: %q", ErrUnknownMode, c.Mode))
	}
	if _, err := ParseResolution(c.Sampler.Resolution); err != nil {
		return err
	}
	if !c.Sampler.Disabled && c.Sampler.Interval <= 0 {
		return fmt.Errorf("%w: sampler interval %s", ErrInvalidInterval, c.Sampler.Interval)
	}
	return nil
}

// Stats counts client-mode outcomes.
type Stats struct {
	Exchanges int64
	Failures  int64
	NotFound  int64
	Skipped   int64
}

// Service runs one mode until its context ends or its bound is reached.
type Service struct {
	cfg     ServiceConfig
	res     sample.Resolution
	src     sample.Source
	store   *sample.Atomic
	trigger *sample.Trigger
	node    *status.Node
	led1    *cmdserver.MemoryOutput
	led2    *cmdserver.MemoryOutput

	mu     sync.Mutex
	client *httpc.Client

	exchanges atomic.Int64
	failures  atomic.Int64
	notFound  atomic.Int64
	skipped   atomic.Int64
}

func NewService() (*Service, error) {
	return NewServiceWithConfig(DefaultServiceConfig())
}

func NewServiceWithConfig(cfg ServiceConfig) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	res, _ := ParseResolution(cfg.Sampler.Resolution)
	store := sample.NewAtomic(cfg.Sampler.Initial)
	s := &Service{
		cfg:     cfg,
		res:     res,
		src:     store,
		store:   store,
		trigger: sample.NewTrigger(),
		led1:    cmdserver.NewMemoryOutput("led1"),
		led2:    cmdserver.NewMemoryOutput("led2"),
	}
	if cfg.Status.Enabled {
		s.node = status.New(status.Config{
			ID:             cfg.ID,
			Addr:           cfg.Status.Addr,
			CORSOrigins:    cfg.Status.CORSOrigins,
			StreamInterval: cfg.Status.StreamInterval,
			Resolution:     res,
		}, s)
		s.node.AddOutput(s.led1.Name(), s.led1)
		s.node.AddOutput(s.led2.Name(), s.led2)
	}
	return s, nil
}

// WithSource replaces the simulated sampler with an external producer.
func (s *Service) WithSource(src sample.Source) *Service {
	s.src = src
	s.store = nil
	return s
}

// Sample forwards to the active source so the status node tracks swaps.
func (s *Service) Sample() uint16 {
	return s.src.Sample()
}

// Trigger is fired on every client interval; tests may fire it directly.
func (s *Service) Trigger() *sample.Trigger {
	return s.trigger
}

func (s *Service) Outputs() (first, second *cmdserver.MemoryOutput) {
	return s.led1, s.led2
}

func (s *Service) Status() *status.Node {
	return s.node
}

func (s *Service) Stats() Stats {
	return Stats{
		Exchanges: s.exchanges.Load(),
		Failures:  s.failures.Load(),
		NotFound:  s.notFound.Load(),
		Skipped:   s.skipped.Load(),
	}
}

// Run blocks until SIGINT/SIGTERM or until the mode's bound is reached.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.RunContext(ctx)
}

func (s *Service) RunContext(ctx context.Context) error {
	var wg sync.WaitGroup
	defer wg.Wait()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if s.store != nil && !s.cfg.Sampler.Disabled {
		walker := sample.NewWalker(s.store, s.res, s.cfg.Sampler.Step)
		wg.Add(1)
		go func() {
			defer wg.Done()
			walker.Run(ctx, s.cfg.Sampler.Interval)
		}()
	}

	if s.node != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.node.Serve(ctx); err != nil {
				log.Error().Err(err).Str("addr", s.cfg.Status.Addr).Msg("status node stopped")
			}
		}()
	}

	log.Info().Str("id", s.cfg.ID).Str("mode", string(s.cfg.Mode)).Msg("potlink starting")
	switch s.cfg.Mode {
	case ModeClient:
		return s.runClient(ctx, &wg)
	case ModeServer:
		return s.runServer(ctx)
	default:
		return protocol.Wrap(protocol.KindDeviceMode, "potlink.run", fmt.Errorf("%w: %q", ErrUnknownMode, s.cfg.Mode))
	}
}

func (s *Service) runServer(ctx context.Context) error {
	srv, err := cmdserver.New(s.cfg.Server, s.src, s.led1, s.led2)
	if err != nil {
		return err
	}
	if err := srv.Listen(); err != nil {
		return err
	}
	s.setReady(true)
	defer s.setReady(false)
	stats, err := srv.Serve(ctx)
	log.Info().Int("sessions", stats.Sessions).Int("frames", stats.Frames).Msg("server mode finished")
	return err
}

func (s *Service) runClient(ctx context.Context, wg *sync.WaitGroup) error {
	client, err := s.httpClient()
	if err != nil {
		return err
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.trigger.Tick(ctx, s.cfg.Client.Interval)
	}()
	s.setReady(true)
	defer s.setReady(false)

	tracker := sample.NewLevelTracker()
	for {
		select {
		case <-ctx.Done():
			log.Info().Interface("stats", s.Stats()).Msg("client mode stopped")
			return nil
		case <-s.trigger.C():
		}

		v := s.src.Sample()
		level, changed := tracker.Observe(v)
		if s.cfg.Client.SkipUnchanged && !changed {
			s.skipped.Add(1)
			log.Debug().Uint16("sample", v).Str("level", string(level)).Msg("level unchanged, exchange skipped")
			continue
		}
		s.exchange(ctx, client, v, level)

		if limit := s.cfg.Client.MaxExchanges; limit > 0 && s.exchanges.Load() >= int64(limit) {
			log.Info().Interface("stats", s.Stats()).Msg("client mode reached exchange bound")
			return nil
		}
	}
}

func (s *Service) exchange(ctx context.Context, client *httpc.Client, v uint16, level byte) {
	scaled := s.res.ToByte(v)
	resp, err := client.Exchange(ctx, scaled)
	s.exchanges.Add(1)
	if err != nil {
		s.failures.Add(1)
		log.Warn().
			Err(err).
			Uint16("sample", v).
			Int("code", protocol.KindOf(err).Code()).
			Msg("exchange failed")
		return
	}
	defer resp.Release()
	if resp.Outcome == httpc.OutcomeNotFound {
		s.notFound.Add(1)
	}
	log.Info().
		Uint16("sample", v).
		Uint8("scaled", scaled).
		Str("level", string(level)).
		Int("status", resp.Status).
		Str("outcome", resp.Outcome.String()).
		Int("tokens", len(resp.Tokens)).
		Msg("sample reported")
}

func (s *Service) httpClient() (*httpc.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return s.client, nil
	}
	c := s.cfg.Client
	cfg := httpc.DefaultClientConfig()
	cfg.Addr = c.Addr
	cfg.Host = c.Host
	if c.PathPrefix != "" || c.PathSuffix != "" {
		cfg.Template = httpc.NewPathTemplate(c.PathPrefix, c.PathSuffix)
	}
	if c.Timeout > 0 {
		cfg.Timeout = c.Timeout
	}
	cfg.Reader = httpc.ReaderConfig{
		InlineCapacity: c.InlineCapacity,
		MaxBodyBytes:   c.MaxBodyBytes,
		MaxTokens:      c.MaxTokens,
		MaxLineBytes:   httpc.DefaultMaxLineBytes,
	}
	client, err := httpc.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	s.client = client
	return client, nil
}

func (s *Service) setReady(ready bool) {
	if s.node != nil {
		s.node.SetReady(ready)
	}
}
