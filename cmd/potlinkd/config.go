package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/potlink/internal/potlink"
)

type fileConfig struct {
	ID      string      `toml:"id"`
	Mode    string      `toml:"mode"`
	Client  fileClient  `toml:"client"`
	Server  fileServer  `toml:"server"`
	Status  fileStatus  `toml:"status"`
	Sampler fileSampler `toml:"sampler"`
}

type fileClient struct {
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

type fileServer struct {
	Addr             string `toml:"addr"`
	FramesPerSession int    `toml:"frames_per_session"`
	MaxSessions      int    `toml:"max_sessions"`
	MaxFrames        int    `toml:"max_frames"`
	IOTimeout        string `toml:"io_timeout"`
}

type fileStatus struct {
	Enabled        bool     `toml:"enabled"`
	Addr           string   `toml:"addr"`
	CorsOrigins    []string `toml:"cors_origins"`
	StreamInterval string   `toml:"stream_interval"`
}

type fileSampler struct {
	Resolution string `toml:"resolution"`
	Initial    int    `toml:"initial"`
	Step       int    `toml:"step"`
	Interval   string `toml:"interval"`
	Disabled   bool   `toml:"disabled"`
}

func loadServiceConfig(path string) (potlink.ServiceConfig, error) {
	cfg := potlink.DefaultServiceConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return potlink.ServiceConfig{}, fmt.Errorf("load potlink config: %w", err)
	}

	if meta.IsDefined("id") {
		if id := strings.TrimSpace(raw.ID); id != "" {
			cfg.ID = id
		}
	}
	if meta.IsDefined("mode") {
		cfg.Mode = potlink.Mode(strings.ToLower(strings.TrimSpace(raw.Mode)))
	}

	if err := applyClient(&cfg, meta, raw.Client); err != nil {
		return potlink.ServiceConfig{}, err
	}
	if err := applyServer(&cfg, meta, raw.Server); err != nil {
		return potlink.ServiceConfig{}, err
	}
	if err := applyStatus(&cfg, meta, raw.Status); err != nil {
		return potlink.ServiceConfig{}, err
	}
	if err := applySampler(&cfg, meta, raw.Sampler); err != nil {
		return potlink.ServiceConfig{}, err
	}
	return cfg, nil
}

func applyClient(cfg *potlink.ServiceConfig, meta toml.MetaData, raw fileClient) error {
	if meta.IsDefined("client", "addr") {
		cfg.Client.Addr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("client", "host") {
		cfg.Client.Host = strings.TrimSpace(raw.Host)
	}
	if meta.IsDefined("client", "path_prefix") {
		cfg.Client.PathPrefix = raw.PathPrefix
	}
	if meta.IsDefined("client", "path_suffix") {
		cfg.Client.PathSuffix = raw.PathSuffix
	}
	if meta.IsDefined("client", "interval") {
		d, err := parseDuration("client.interval", raw.Interval)
		if err != nil {
			return err
		}
		cfg.Client.Interval = d
	}
	if meta.IsDefined("client", "interval_ms") {
		cfg.Client.Interval = time.Duration(raw.IntervalMS) * time.Millisecond
	}
	if meta.IsDefined("client", "timeout") {
		d, err := parseDuration("client.timeout", raw.Timeout)
		if err != nil {
			return err
		}
		cfg.Client.Timeout = d
	}
	if meta.IsDefined("client", "skip_unchanged") {
		cfg.Client.SkipUnchanged = raw.SkipUnchanged
	}
	if meta.IsDefined("client", "max_exchanges") {
		cfg.Client.MaxExchanges = raw.MaxExchanges
	}
	if meta.IsDefined("client", "inline_capacity") {
		cfg.Client.InlineCapacity = raw.InlineCapacity
	}
	if meta.IsDefined("client", "max_body_bytes") {
		cfg.Client.MaxBodyBytes = raw.MaxBodyBytes
	}
	if meta.IsDefined("client", "max_tokens") {
		cfg.Client.MaxTokens = raw.MaxTokens
	}
	return nil
}

func applyServer(cfg *potlink.ServiceConfig, meta toml.MetaData, raw fileServer) error {
	if meta.IsDefined("server", "addr") {
		cfg.Server.Addr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("server", "frames_per_session") {
		cfg.Server.FramesPerSession = raw.FramesPerSession
	}
	if meta.IsDefined("server", "max_sessions") {
		cfg.Server.MaxSessions = raw.MaxSessions
	}
	if meta.IsDefined("server", "max_frames") {
		cfg.Server.MaxFrames = raw.MaxFrames
	}
	if meta.IsDefined("server", "io_timeout") {
		d, err := parseDuration("server.io_timeout", raw.IOTimeout)
		if err != nil {
			return err
		}
		cfg.Server.IOTimeout = d
	}
	return nil
}

func applyStatus(cfg *potlink.ServiceConfig, meta toml.MetaData, raw fileStatus) error {
	if meta.IsDefined("status", "enabled") {
		cfg.Status.Enabled = raw.Enabled
	}
	if meta.IsDefined("status", "addr") {
		cfg.Status.Addr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("status", "cors_origins") {
		cfg.Status.CORSOrigins = normalizeOrigins(raw.CorsOrigins)
	}
	if meta.IsDefined("status", "stream_interval") {
		d, err := parseDuration("status.stream_interval", raw.StreamInterval)
		if err != nil {
			return err
		}
		cfg.Status.StreamInterval = d
	}
	return nil
}

func applySampler(cfg *potlink.ServiceConfig, meta toml.MetaData, raw fileSampler) error {
	if meta.IsDefined("sampler", "resolution") {
		cfg.Sampler.Resolution = strings.TrimSpace(raw.Resolution)
	}
	if meta.IsDefined("sampler", "initial") {
		if raw.Initial < 0 || raw.Initial > 0xFFFF {
			return fmt.Errorf("parse sampler.initial: %d out of range", raw.Initial)
		}
		cfg.Sampler.Initial = uint16(raw.Initial)
	}
	if meta.IsDefined("sampler", "step") {
		cfg.Sampler.Step = raw.Step
	}
	if meta.IsDefined("sampler", "interval") {
		d, err := parseDuration("sampler.interval", raw.Interval)
		if err != nil {
			return err
		}
		cfg.Sampler.Interval = d
	}
	if meta.IsDefined("sampler", "disabled") {
		cfg.Sampler.Disabled = raw.Disabled
	}
	return nil
}

func parseDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, origin := range in {
		if v := strings.TrimSpace(origin); v != "" {
			out = append(out, v)
		}
	}
	return out
}
