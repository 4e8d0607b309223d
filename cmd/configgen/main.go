package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/danmuck/tagctl/internal/config"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "configgen: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("configgen", flag.ContinueOnError)
	output := fs.String("output", "game.toml", "where to write the sample game file (- for stdout)")
	check := fs.String("validate", "", "validate this game file instead of writing one")
	force := fs.Bool("force", false, "replace an existing output file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *check != "" {
		g, err := config.LoadFile(*check)
		if err != nil {
			return err
		}
		opts, err := g.Options()
		if err != nil {
			return err
		}
		fmt.Printf("%s: %dx%d board, %d evaders, %d pursuers\n",
			*check, g.Width, g.Height, len(opts.Evaders), len(opts.Pursuers))
		return nil
	}

	if *output == "-" {
		text, err := config.Template(config.SampleGame())
		if err != nil {
			return err
		}
		_, err = fmt.Print(text)
		return err
	}
	if err := config.WriteTemplate(*output, config.SampleGame(), *force); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", *output)
	return nil
}
