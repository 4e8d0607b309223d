package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/tagctl/internal/agent"
	"github.com/danmuck/tagctl/internal/bus"
	"github.com/danmuck/tagctl/internal/coordinator"
	"github.com/danmuck/tagctl/internal/grid"
)

var ErrInvalid = errors.New("config: invalid")

// Game holds everything needed to run one game. Env tags are read with the
// TAGCTL_ prefix by ParseEnv.
type Game struct {
	Width       int   `env:"WIDTH"`
	Height      int   `env:"HEIGHT"`
	NumEvaders  int   `env:"NUM_NOT_IT"`
	NumPursuers int   `env:"NUM_IT"`
	Positions   []int `env:"POSITIONS" envSeparator:","`
	Seed        int64 `env:"SEED"`

	EvaderRateHz        float64       `env:"EVADER_RATE_HZ"`
	PursuerRateHz       float64       `env:"PURSUER_RATE_HZ"`
	CoordinatorRateHz   float64       `env:"COORDINATOR_RATE_HZ"`
	RegistrationTimeout time.Duration `env:"REGISTRATION_TIMEOUT"`
	StopGrace           time.Duration `env:"STOP_GRACE"`
	PublishState        bool          `env:"PUBLISH_STATE"`

	AdminAddr   string   `env:"ADMIN_ADDR"`
	CorsOrigins []string `env:"CORS_ORIGINS" envSeparator:","`

	Bus bus.Config `envPrefix:"BUS_"`
}

func DefaultGame() Game {
	return Game{
		NumPursuers:         1,
		EvaderRateHz:        agent.DefaultEvaderRateHz,
		PursuerRateHz:       agent.DefaultPursuerRateHz,
		CoordinatorRateHz:   coordinator.DefaultRateHz,
		RegistrationTimeout: coordinator.DefaultRegistrationTimeout,
		StopGrace:           3 * time.Second,
		Bus:                 bus.DefaultConfig(),
	}
}

func (g Game) Validate() error {
	if g.Width < 1 || g.Height < 1 {
		return fmt.Errorf("%w: board must be at least 1x1, got width=%d height=%d", ErrInvalid, g.Width, g.Height)
	}
	if g.Width > grid.MaxExtent || g.Height > grid.MaxExtent {
		return fmt.Errorf("%w: board larger than %d cells per side, got width=%d height=%d", ErrInvalid, grid.MaxExtent, g.Width, g.Height)
	}
	if g.NumEvaders < 0 || g.NumPursuers < 0 {
		return fmt.Errorf("%w: actor counts must be non-negative", ErrInvalid)
	}
	if g.NumEvaders+g.NumPursuers == 0 {
		return fmt.Errorf("%w: no actors", ErrInvalid)
	}
	if g.EvaderRateHz <= 0 || g.PursuerRateHz <= 0 || g.CoordinatorRateHz <= 0 {
		return fmt.Errorf("%w: rates must be positive", ErrInvalid)
	}
	if g.RegistrationTimeout <= 0 {
		return fmt.Errorf("%w: registration_timeout must be positive", ErrInvalid)
	}
	for i, origin := range g.CorsOrigins {
		if strings.TrimSpace(origin) == "" {
			return fmt.Errorf("%w: cors_origins[%d] is empty", ErrInvalid, i)
		}
	}
	if err := g.Bus.Validate(); err != nil {
		return fmt.Errorf("%w: bus: %v", ErrInvalid, err)
	}
	return nil
}
