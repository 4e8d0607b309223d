package config

import (
	"flag"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// intList accepts "1,2", "1 2" or repeated flags.
type intList []int

func (l *intList) String() string {
	parts := make([]string, len(*l))
	for i, v := range *l {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, " ")
}

func (l *intList) Set(raw string) error {
	for _, tok := range strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ' ' }) {
		v, err := strconv.Atoi(tok)
		if err != nil {
			return fmt.Errorf("invalid position %q", tok)
		}
		*l = append(*l, v)
	}
	return nil
}

// Flags binds the game flags shared by the binaries. Only flags the user set
// override file and environment values.
type Flags struct {
	fs *flag.FlagSet

	path         string
	width        int
	height       int
	numEvaders   int
	numPursuers  int
	positions    intList
	seed         int64
	timeout      time.Duration
	publishState bool
	adminAddr    string
	transport    string
	busAddr      string
	natsURL      string
}

func RegisterFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{fs: fs}
	fs.StringVar(&f.path, "config", "", "path to a TOML game config")
	fs.IntVar(&f.width, "width", 0, "board width (columns)")
	fs.IntVar(&f.height, "height", 0, "board height (rows)")
	fs.IntVar(&f.numEvaders, "num-not-it", 0, "number of evaders")
	fs.IntVar(&f.numPursuers, "num-it", 1, "number of pursuers")
	fs.Var(&f.positions, "positions", "initial positions x1 y1 ... x_it y_it; trailing arguments are appended")
	fs.Int64Var(&f.seed, "seed", 0, "random seed for evader walks (0 picks one)")
	fs.DurationVar(&f.timeout, "registration-timeout", 0, "abort if registration takes longer")
	fs.BoolVar(&f.publishState, "publish-state", false, "publish snapshots on game_state")
	fs.StringVar(&f.adminAddr, "admin", "", "admin HTTP listen address")
	fs.StringVar(&f.transport, "bus", "", "bus transport: memory|tcp|nats")
	fs.StringVar(&f.busAddr, "bus-addr", "", "tcp broker address")
	fs.StringVar(&f.natsURL, "nats-url", "", "nats server url")
	return f
}

// Load layers defaults, the config file, the environment and finally the
// flags that were set. Call after fs.Parse.
func (f *Flags) Load() (Game, error) {
	cfg, err := Load(f.path)
	if err != nil {
		return Game{}, err
	}
	set := map[string]bool{}
	f.fs.Visit(func(fl *flag.Flag) { set[fl.Name] = true })

	if set["width"] {
		cfg.Width = f.width
	}
	if set["height"] {
		cfg.Height = f.height
	}
	if set["num-not-it"] {
		cfg.NumEvaders = f.numEvaders
	}
	if set["num-it"] {
		cfg.NumPursuers = f.numPursuers
	}
	if set["seed"] {
		cfg.Seed = f.seed
	}
	if set["registration-timeout"] {
		cfg.RegistrationTimeout = f.timeout
	}
	if set["publish-state"] {
		cfg.PublishState = f.publishState
	}
	if set["admin"] {
		cfg.AdminAddr = strings.TrimSpace(f.adminAddr)
	}
	if set["bus"] {
		cfg.Bus.Transport = strings.ToLower(strings.TrimSpace(f.transport))
	}
	if set["bus-addr"] {
		cfg.Bus.Addr = strings.TrimSpace(f.busAddr)
	}
	if set["nats-url"] {
		cfg.Bus.NATSURL = strings.TrimSpace(f.natsURL)
	}

	positions := append(intList(nil), f.positions...)
	for _, arg := range f.fs.Args() {
		if err := positions.Set(arg); err != nil {
			return Game{}, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	}
	if set["positions"] || len(f.fs.Args()) > 0 {
		cfg.Positions = []int(positions)
	}
	return cfg, nil
}
