package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

const EnvPrefix = "TAGCTL_"

type fileConfig struct {
	Width       int   `toml:"width"`
	Height      int   `toml:"height"`
	NumEvaders  int   `toml:"num_not_it"`
	NumPursuers int   `toml:"num_it"`
	Positions   []int `toml:"positions"`
	Seed        int64 `toml:"seed"`

	EvaderRateHz        float64 `toml:"evader_rate_hz"`
	PursuerRateHz       float64 `toml:"pursuer_rate_hz"`
	CoordinatorRateHz   float64 `toml:"coordinator_rate_hz"`
	RegistrationTimeout string  `toml:"registration_timeout"`
	StopGrace           string  `toml:"stop_grace"`
	PublishState        bool    `toml:"publish_state"`

	AdminAddr   string   `toml:"admin_addr"`
	CorsOrigins []string `toml:"cors_origins"`

	Bus fileBus `toml:"bus"`
}

type fileBus struct {
	Transport    string `toml:"transport"`
	Addr         string `toml:"addr"`
	NATSURL      string `toml:"nats_url"`
	Prefix       string `toml:"prefix"`
	DialAttempts int    `toml:"dial_attempts"`
	DialMaxDelay string `toml:"dial_max_delay"`
}

// LoadFile overlays the keys present in the TOML file at path onto
// DefaultGame. Keys absent from the file keep their defaults.
func LoadFile(path string) (Game, error) {
	cfg := DefaultGame()
	if err := overlayFile(path, &cfg); err != nil {
		return Game{}, err
	}
	return cfg, nil
}

func overlayFile(path string, cfg *Game) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load game config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("%w: unknown key %q in %s", ErrInvalid, undecoded[0].String(), path)
	}

	if meta.IsDefined("width") {
		cfg.Width = raw.Width
	}
	if meta.IsDefined("height") {
		cfg.Height = raw.Height
	}
	if meta.IsDefined("num_not_it") {
		cfg.NumEvaders = raw.NumEvaders
	}
	if meta.IsDefined("num_it") {
		cfg.NumPursuers = raw.NumPursuers
	}
	if meta.IsDefined("positions") {
		cfg.Positions = append([]int(nil), raw.Positions...)
	}
	if meta.IsDefined("seed") {
		cfg.Seed = raw.Seed
	}
	if meta.IsDefined("evader_rate_hz") {
		cfg.EvaderRateHz = raw.EvaderRateHz
	}
	if meta.IsDefined("pursuer_rate_hz") {
		cfg.PursuerRateHz = raw.PursuerRateHz
	}
	if meta.IsDefined("coordinator_rate_hz") {
		cfg.CoordinatorRateHz = raw.CoordinatorRateHz
	}
	if meta.IsDefined("registration_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.RegistrationTimeout))
		if err != nil {
			return fmt.Errorf("parse registration_timeout: %w", err)
		}
		cfg.RegistrationTimeout = d
	}
	if meta.IsDefined("stop_grace") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.StopGrace))
		if err != nil {
			return fmt.Errorf("parse stop_grace: %w", err)
		}
		cfg.StopGrace = d
	}
	if meta.IsDefined("publish_state") {
		cfg.PublishState = raw.PublishState
	}
	if meta.IsDefined("admin_addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = normalizeOrigins(raw.CorsOrigins)
	}

	if meta.IsDefined("bus", "transport") {
		cfg.Bus.Transport = strings.ToLower(strings.TrimSpace(raw.Bus.Transport))
	}
	if meta.IsDefined("bus", "addr") {
		cfg.Bus.Addr = strings.TrimSpace(raw.Bus.Addr)
	}
	if meta.IsDefined("bus", "nats_url") {
		cfg.Bus.NATSURL = strings.TrimSpace(raw.Bus.NATSURL)
	}
	if meta.IsDefined("bus", "prefix") {
		cfg.Bus.Prefix = strings.TrimSpace(raw.Bus.Prefix)
	}
	if meta.IsDefined("bus", "dial_attempts") {
		cfg.Bus.Backoff.MaxAttempts = raw.Bus.DialAttempts
	}
	if meta.IsDefined("bus", "dial_max_delay") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Bus.DialMaxDelay))
		if err != nil {
			return fmt.Errorf("parse bus.dial_max_delay: %w", err)
		}
		cfg.Bus.Backoff.MaxDelay = d
	}
	return nil
}

// ParseEnv overlays TAGCTL_* variables onto cfg. Unset variables leave
// fields untouched.
func ParseEnv(cfg *Game) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load layers defaults, the optional file at path, then the environment.
// Callers apply CLI flags on top and Validate last.
func Load(path string) (Game, error) {
	cfg := DefaultGame()
	if strings.TrimSpace(path) != "" {
		if err := overlayFile(path, &cfg); err != nil {
			return Game{}, err
		}
	}
	if err := ParseEnv(&cfg); err != nil {
		return Game{}, err
	}
	return cfg, nil
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, origin := range in {
		v := strings.TrimSpace(origin)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
