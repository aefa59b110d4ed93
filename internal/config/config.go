package config

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

var (
	ErrInvalidMode     = errors.New("config: mode must be client or server")
	ErrMissingAddr     = errors.New("config: addr is required")
	ErrInvalidDuration = errors.New("config: invalid duration")
	ErrInvalidBound    = errors.New("config: negative bound")
)

// DaemonConfig is the on-disk schema for cmd/potlinkd.
type DaemonConfig struct {
	ID      string         `toml:"id"`
	Mode    string         `toml:"mode"`
	Client  ClientSection  `toml:"client"`
	Server  ServerSection  `toml:"server"`
	Status  StatusSection  `toml:"status"`
	Sampler SamplerSection `toml:"sampler"`
}

type ClientSection struct {
	Addr           string `toml:"addr"`
	Host           string `toml:"host"`
	PathPrefix     string `toml:"path_prefix"`
	PathSuffix     string `toml:"path_suffix"`
	Interval       string `toml:"interval"`
	IntervalMS     int64  `toml:"interval_ms"`
	Timeout        string `toml:"timeout"`
	SkipUnchanged  bool   `toml:"skip_unchanged"`
	MaxExchanges   int    `toml:"max_exchanges"`
	InlineCapacity int    `toml:"inline_capacity"`
	MaxBodyBytes   int    `toml:"max_body_bytes"`
	MaxTokens      int    `toml:"max_tokens"`
}

type ServerSection struct {
	Addr             string `toml:"addr"`
	FramesPerSession int    `toml:"frames_per_session"`
	MaxSessions      int    `toml:"max_sessions"`
	MaxFrames        int    `toml:"max_frames"`
	IOTimeout        string `toml:"io_timeout"`
}

type StatusSection struct {
	Enabled        bool     `toml:"enabled"`
	Addr           string   `toml:"addr"`
	CorsOrigins    []string `toml:"cors_origins"`
	StreamInterval string   `toml:"stream_interval"`
}

type SamplerSection struct {
	Resolution string `toml:"resolution"`
	Initial    int    `toml:"initial"`
	Step       int    `toml:"step"`
	Interval   string `toml:"interval"`
	Disabled   bool   `toml:"disabled"`
}

// FrameCtlConfig is the on-disk schema for cmd/framectl.
type FrameCtlConfig struct {
	Addr    string `toml:"addr"`
	LED1    bool   `toml:"led1"`
	LED2    bool   `toml:"led2"`
	Timeout string `toml:"timeout"`
}

func LoadDaemonConfig(path string) (DaemonConfig, error) {
	var cfg DaemonConfig
	if err := loadToml(path, &cfg); err != nil {
		return DaemonConfig{}, err
	}
	if cfg.ID == "" {
		cfg.ID = "potlink.local"
	}
	if cfg.Mode == "" {
		cfg.Mode = "server"
	}
	if err := ValidateDaemonConfig(cfg); err != nil {
		return DaemonConfig{}, err
	}
	return cfg, nil
}

func LoadFrameCtlConfig(path string) (FrameCtlConfig, error) {
	var cfg FrameCtlConfig
	if err := loadToml(path, &cfg); err != nil {
		return FrameCtlConfig{}, err
	}
	if err := ValidateFrameCtlConfig(cfg); err != nil {
		return FrameCtlConfig{}, err
	}
	return cfg, nil
}

// loadToml rejects keys the schema does not know.
func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return fmt.Errorf("config parse failed (%s): %s", path, strict.String())
		}
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateDaemonConfig(cfg DaemonConfig) error {
	if strings.TrimSpace(cfg.ID) == "" {
		return fmt.Errorf("daemon config missing id")
	}
	switch strings.TrimSpace(cfg.Mode) {
	case "client":
		if strings.TrimSpace(cfg.Client.Addr) == "" {
			return fmt.Errorf("client: %w", ErrMissingAddr)
		}
		if err := validateAddr(cfg.Client.Addr); err != nil {
			return fmt.Errorf("client: %w", err)
		}
	case "server":
		if cfg.Server.Addr != "" {
			if err := validateAddr(cfg.Server.Addr); err != nil {
				return fmt.Errorf("server: %w", err)
			}
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidMode, cfg.Mode)
	}
	for key, raw := range map[string]string{
		"client.interval":        cfg.Client.Interval,
		"client.timeout":         cfg.Client.Timeout,
		"server.io_timeout":      cfg.Server.IOTimeout,
		"status.stream_interval": cfg.Status.StreamInterval,
		"sampler.interval":       cfg.Sampler.Interval,
	} {
		if err := validateDuration(raw); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	if cfg.Client.IntervalMS < 0 || cfg.Client.MaxExchanges < 0 || cfg.Client.InlineCapacity < 0 ||
		cfg.Client.MaxBodyBytes < 0 || cfg.Server.FramesPerSession < 0 || cfg.Server.MaxSessions < 0 || cfg.Server.MaxFrames < 0 ||
		cfg.Sampler.Initial < 0 || cfg.Sampler.Step < 0 {
		return ErrInvalidBound
	}
	if cfg.Sampler.Initial > 0xFFFF {
		return fmt.Errorf("sampler.initial %d out of range", cfg.Sampler.Initial)
	}
	if cfg.Status.Enabled && strings.TrimSpace(cfg.Status.Addr) == "" {
		return fmt.Errorf("status: %w", ErrMissingAddr)
	}
	return nil
}

func ValidateFrameCtlConfig(cfg FrameCtlConfig) error {
	if strings.TrimSpace(cfg.Addr) == "" {
		return fmt.Errorf("framectl: %w", ErrMissingAddr)
	}
	if err := validateAddr(cfg.Addr); err != nil {
		return fmt.Errorf("framectl: %w", err)
	}
	if err := validateDuration(cfg.Timeout); err != nil {
		return fmt.Errorf("timeout: %w", err)
	}
	return nil
}

func validateAddr(addr string) error {
	if _, _, err := net.SplitHostPort(strings.TrimSpace(addr)); err != nil {
		return fmt.Errorf("addr %q: %w", addr, err)
	}
	return nil
}

func validateDuration(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidDuration, raw)
	}
	if d < 0 {
		return fmt.Errorf("%w: %q is negative", ErrInvalidDuration, raw)
	}
	return nil
}
