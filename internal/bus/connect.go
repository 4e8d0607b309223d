package bus

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const (
	TransportMemory = transportMemory
	TransportTCP    = transportTCP
	TransportNATS   = transportNATS
)

var ErrUnknownTransport = errors.New("bus: unknown transport")

// Config selects and addresses a transport.
type Config struct {
	Transport string        `toml:"transport" env:"TRANSPORT"`
	Addr      string        `toml:"addr" env:"ADDR"`
	NATSURL   string        `toml:"nats_url" env:"NATS_URL"`
	Prefix    string        `toml:"prefix" env:"PREFIX"`
	Backoff   BackoffConfig `toml:"backoff"`
}

func DefaultConfig() Config {
	return Config{
		Transport: TransportMemory,
		Addr:      "127.0.0.1:7400",
		NATSURL:   "nats://127.0.0.1:4222",
		Prefix:    "tagctl",
		Backoff:   DefaultBackoffConfig(),
	}
}

func (c Config) Validate() error {
	switch strings.ToLower(c.Transport) {
	case TransportMemory:
		return nil
	case TransportTCP:
		if strings.TrimSpace(c.Addr) == "" {
			return fmt.Errorf("%w: tcp requires addr", ErrUnknownTransport)
		}
		return nil
	case TransportNATS:
		if strings.TrimSpace(c.NATSURL) == "" {
			return fmt.Errorf("%w: nats requires nats_url", ErrUnknownTransport)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownTransport, c.Transport)
	}
}

// ConnectFunc opens one client per unit.
type ConnectFunc func(ctx context.Context, name string) (Bus, error)

// NewConnector returns a ConnectFunc for cfg. mem backs the memory transport
// and may be nil for the networked ones.
func NewConnector(cfg Config, mem *Memory) (ConnectFunc, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch strings.ToLower(cfg.Transport) {
	case TransportMemory:
		if mem == nil {
			return nil, fmt.Errorf("%w: memory transport needs a broker", ErrUnknownTransport)
		}
		return func(_ context.Context, name string) (Bus, error) {
			return mem.Connect(name), nil
		}, nil
	case TransportTCP:
		return func(ctx context.Context, name string) (Bus, error) {
			opts := DefaultTCPOptions(name)
			opts.Backoff = cfg.Backoff
			return DialTCP(ctx, cfg.Addr, opts)
		}, nil
	default:
		return func(_ context.Context, name string) (Bus, error) {
			opts := DefaultNATSOptions(name)
			if cfg.Prefix != "" {
				opts.Prefix = cfg.Prefix
			}
			return DialNATS(cfg.NATSURL, opts)
		}, nil
	}
}
