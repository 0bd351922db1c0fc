// Package config loads the compiler configuration from the environment.
// Every knob is diagnostic: optimization toggles change the shape of the
// emitted bytecode but never program behavior, and the dump flags only add
// output.
package config

import (
	"github.com/caarlos0/env/v6"

	"github.com/mna/vetiver/internal/debuglog"
	"github.com/mna/vetiver/lang/compiler"
)

// Config is the environment-driven compiler configuration.
type Config struct {
	// Debug lists the tracing topics to enable, comma-separated (e.g.
	// "optimizer,codegen").
	Debug []string `env:"VETIVER_DEBUG" envSeparator:","`

	NoUnroll            bool `env:"VETIVER_NO_UNROLL"`
	NoLICM              bool `env:"VETIVER_NO_LICM"`
	NoStrengthReduction bool `env:"VETIVER_NO_STRENGTH_REDUCTION"`
	NoBoundsElimination bool `env:"VETIVER_NO_BOUNDS_ELIMINATION"`
	NoPeephole          bool `env:"VETIVER_NO_PEEPHOLE"`

	DumpAST      bool `env:"VETIVER_DUMP_AST"`
	DumpBytecode bool `env:"VETIVER_DUMP_BYTECODE"`
	Stats        bool `env:"VETIVER_STATS"`
}

// Load parses the configuration from the process environment and enables
// the requested tracing topics.
func Load() (*Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return nil, err
	}
	for _, t := range c.Debug {
		debuglog.Enable(debuglog.Topic(t))
	}
	return &c, nil
}

// CompilerOptions translates the toggles into compiler options.
func (c *Config) CompilerOptions() compiler.Options {
	return compiler.Options{
		Unroll:            !c.NoUnroll,
		LICM:              !c.NoLICM,
		StrengthReduction: !c.NoStrengthReduction,
		BoundsElimination: !c.NoBoundsElimination,
		Peephole:          !c.NoPeephole,
	}
}
