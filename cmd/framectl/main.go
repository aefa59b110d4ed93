package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/potlink/internal/config"
	"github.com/danmuck/potlink/internal/logging"
	"github.com/danmuck/potlink/internal/protocol"
	"github.com/danmuck/potlink/internal/protocol/frame"
	"github.com/danmuck/potlink/internal/transport"
)

type options struct {
	Addr    string
	LED1    bool
	LED2    bool
	Timeout time.Duration
}

func main() {
	cfgPath := flag.String("config", "", "optional framectl config (see configgen -kind framectl)")
	addr := flag.String("addr", "127.0.0.1:5000", "command server address")
	led1 := flag.Bool("led1", false, "first output state")
	led2 := flag.Bool("led2", false, "second output state")
	timeout := flag.Duration("timeout", 5*time.Second, "dial and reply timeout")
	flag.Parse()

	logging.ConfigureRuntime()

	opts := options{Addr: *addr, LED1: *led1, LED2: *led2, Timeout: *timeout}
	if *cfgPath != "" {
		fileCfg, err := config.LoadFrameCtlConfig(*cfgPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "framectl: %v\n", err)
			os.Exit(1)
		}
		opts = mergeOptions(opts, fileCfg)
	}

	reply, err := run(context.Background(), opts)
	if err != nil {
		log.Error().Err(err).Int("code", protocol.KindOf(err).Code()).Msg("framectl failed")
		os.Exit(1)
	}
	fmt.Printf("reply=%d sample~%d\n", reply, int(reply)*16)
}

// mergeOptions lets file values replace the flag defaults.
func mergeOptions(opts options, cfg config.FrameCtlConfig) options {
	opts.Addr = cfg.Addr
	opts.LED1 = cfg.LED1
	opts.LED2 = cfg.LED2
	if cfg.Timeout != "" {
		if d, err := time.ParseDuration(cfg.Timeout); err == nil {
			opts.Timeout = d
		}
	}
	return opts
}

// run sends one frame and waits for the one-byte reply.
func run(ctx context.Context, opts options) (byte, error) {
	d := transport.DefaultDialer()
	if opts.Timeout > 0 {
		d.Timeout = opts.Timeout
	}
	stream, err := d.Dial(ctx, opts.Addr)
	if err != nil {
		return 0, err
	}
	defer stream.Close()
	if opts.Timeout > 0 {
		_ = stream.SetDeadline(time.Now().Add(opts.Timeout))
	}

	if err := frame.WriteFrame(stream, opts.LED1, opts.LED2); err != nil {
		return 0, err
	}
	reply := make([]byte, 1)
	if _, err := io.ReadFull(stream, reply); err != nil {
		return 0, protocol.Wrap(protocol.KindTransport, "framectl.reply", err)
	}
	log.Debug().Str("addr", opts.Addr).Bool("led1", opts.LED1).Bool("led2", opts.LED2).Uint8("reply", reply[0]).Msg("frame sent")
	return reply[0], nil
}
