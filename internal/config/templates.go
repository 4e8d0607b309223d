package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Template renders g as a TOML file that LoadFile accepts.
func Template(g Game) (string, error) {
	raw := fileConfig{
		Width:               g.Width,
		Height:              g.Height,
		NumEvaders:          g.NumEvaders,
		NumPursuers:         g.NumPursuers,
		Positions:           g.Positions,
		Seed:                g.Seed,
		EvaderRateHz:        g.EvaderRateHz,
		PursuerRateHz:       g.PursuerRateHz,
		CoordinatorRateHz:   g.CoordinatorRateHz,
		RegistrationTimeout: g.RegistrationTimeout.String(),
		StopGrace:           g.StopGrace.String(),
		PublishState:        g.PublishState,
		AdminAddr:           g.AdminAddr,
		CorsOrigins:         g.CorsOrigins,
		Bus: fileBus{
			Transport:    g.Bus.Transport,
			Addr:         g.Bus.Addr,
			NATSURL:      g.Bus.NATSURL,
			Prefix:       g.Bus.Prefix,
			DialAttempts: g.Bus.Backoff.MaxAttempts,
			DialMaxDelay: g.Bus.Backoff.MaxDelay.String(),
		},
	}
	if raw.Positions == nil {
		raw.Positions = []int{}
	}
	if raw.CorsOrigins == nil {
		raw.CorsOrigins = []string{}
	}
	data, err := toml.Marshal(raw)
	if err != nil {
		return "", fmt.Errorf("render game config: %w", err)
	}
	return string(data), nil
}

// SampleGame is the 5x5 one-evader game written by WriteTemplate.
func SampleGame() Game {
	g := DefaultGame()
	g.Width = 5
	g.Height = 5
	g.NumEvaders = 1
	g.NumPursuers = 1
	g.Positions = []int{0, 0, 4, 4}
	g.AdminAddr = "127.0.0.1:9400"
	g.CorsOrigins = []string{"http://localhost:3000"}
	return g
}

func WriteTemplate(path string, g Game, overwrite bool) error {
	text, err := Template(g)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(text), 0o600)
}
