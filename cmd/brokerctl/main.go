package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/tagctl/internal/bus"
	"github.com/danmuck/tagctl/internal/config"
	"github.com/danmuck/tagctl/internal/logging"
	"github.com/danmuck/tagctl/internal/protocol/frame"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "brokerctl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("brokerctl", flag.ContinueOnError)
	path := fs.String("config", "", "path to a TOML game config (reads [bus] addr)")
	addr := fs.String("addr", "", "listen address (default from config)")
	maxPayload := fs.Uint("max-payload", uint(frame.DefaultLimits().MaxPayloadBytes), "largest frame payload in bytes")
	if err := fs.Parse(args); err != nil {
		return err
	}
	logging.ConfigureRuntime()

	cfg, err := config.Load(*path)
	if err != nil {
		return err
	}
	listen := cfg.Bus.Addr
	if *addr != "" {
		listen = *addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	broker := bus.NewBroker(frame.Limits{MaxPayloadBytes: uint32(*maxPayload)})
	log.Info().Str("addr", listen).Uint("max_payload", *maxPayload).Msg("brokerctl listening")
	if err := broker.ListenAndServe(ctx, listen); err != nil {
		return err
	}
	log.Info().Msg("brokerctl stopped")
	return nil
}
