package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/potlink/internal/config"
	"github.com/danmuck/potlink/internal/logging"
	"github.com/danmuck/potlink/internal/potlink"
	"github.com/danmuck/potlink/internal/protocol"
)

func main() {
	path := flag.String("config", "cmd/potlinkd/config.toml", "config path (missing file means defaults)")
	mode := flag.String("mode", "", "override mode: client|server")
	flag.Parse()

	logging.ConfigureRuntime()

	cfg, err := resolveConfig(*path, *mode)
	if err != nil {
		fail(err)
	}
	svc, err := potlink.NewServiceWithConfig(cfg)
	if err != nil {
		fail(err)
	}
	if err := svc.Run(); err != nil {
		fail(err)
	}
}

func resolveConfig(path, mode string) (potlink.ServiceConfig, error) {
	cfg := potlink.DefaultServiceConfig()
	if _, err := os.Stat(path); err == nil {
		if _, err := config.LoadDaemonConfig(path); err != nil {
			return potlink.ServiceConfig{}, err
		}
		cfg, err = loadServiceConfig(path)
		if err != nil {
			return potlink.ServiceConfig{}, err
		}
	} else {
		log.Info().Str("config", path).Msg("config not found, using defaults")
	}
	if m := strings.TrimSpace(mode); m != "" {
		cfg.Mode = potlink.Mode(strings.ToLower(m))
	}
	return cfg, nil
}

// fail stops the process, reporting the failure kind's status code.
func fail(err error) {
	kind := protocol.KindOf(err)
	log.Error().Err(err).Str("kind", kind.String()).Int("code", kind.Code()).Msg("potlinkd stopped")
	fmt.Fprintf(os.Stderr, "potlinkd: %v\n", err)
	os.Exit(1)
}
