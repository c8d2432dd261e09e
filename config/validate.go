package config

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// The structural bounds live in CUE rather than hand-written range
// checks; Validate unifies the decoded config against this schema.
const schema = `
#Config: {
	heap: size: int & >=65536 & <=16777216
	stack: {
		cells:           int & >0
		"segment-cells": int & >0
	}
	scheduler: {
		quantum:         int & >0
		"debug-quantum": int & >0
	}
	pools: {
		utf:    int & >=0
		intern: int & >=0
		class:  int & >=0
	}
	roots: {
		transient: int & >0
		permanent: int & >0
	}
	classpath: {
		boot:         string
		user:         string
		"cache-size": int & >=0
		"index-path": string
	}
	log: verbosity: int & >=-4 & <=2
	assertions:          bool
	"exit-on-uncaught":  bool
}
`

// Validate checks the configuration against the embedded schema.
func (c Config) Validate() error {
	ctx := cuecontext.New()
	def := ctx.CompileString(schema).LookupPath(cue.ParsePath("#Config"))
	if err := def.Err(); err != nil {
		return fmt.Errorf("config schema: %w", err)
	}
	val := def.Unify(ctx.Encode(c))
	if err := val.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
