package config

import (
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// configSchema constrains every configuration file and supplies defaults for
// omitted fields.
const configSchema = `
#Config: {
	store:   #Store
	logging: #Logging
	metrics: #Metrics
	tracing: #Tracing
}

#Store: {
	// Database file; its directory is created on open
	path: string & !="" | *"/var/lib/burnet/objectstore.db"

	// Maximum number of connections ever created
	pool_size: int & >=1 & <=1024 | *10

	busy_timeout: string & =~"^[0-9]+(ms|s|m)$" | *"10s"
}

#Logging: {
	level:  "trace" | "debug" | *"info" | "warn" | "error"
	format: *"console" | "json"
	output: string & !="" | *"stderr"
}

#Metrics: {
	enabled:        bool | *false
	listen_address: string | *":9090"
	path:           string & =~"^/" | *"/metrics"
}

#Tracing: {
	enabled:       bool | *false
	exporter:      *"none" | "stdout" | "otlp"
	endpoint:      string | *""
	sampling_rate: number & >=0 & <=1 | *1.0
}
`

// schema holds the compiled #Config definition. cue.Context is not safe for
// concurrent use, so all compilation goes through mu.
type schema struct {
	mu  sync.Mutex
	ctx *cue.Context
	def cue.Value
}

var (
	schemaOnce sync.Once
	shared     *schema
	schemaErr  error
)

// loadSchema compiles the built-in schema once.
func loadSchema() (*schema, error) {
	schemaOnce.Do(func() {
		ctx := cuecontext.New()
		val := ctx.CompileString(configSchema, cue.Filename("schema.cue"))
		if err := val.Err(); err != nil {
			schemaErr = fmt.Errorf("failed to compile config schema: %w", err)
			return
		}

		def := val.LookupPath(cue.ParsePath("#Config"))
		if err := def.Err(); err != nil {
			schemaErr = fmt.Errorf("config schema has no #Config: %w", err)
			return
		}

		shared = &schema{ctx: ctx, def: def}
	})
	return shared, schemaErr
}

// decode unifies the value produced by build with #Config, validates it and
// decodes the result into out.
func (s *schema) decode(build func(*cue.Context) cue.Value, out *Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data := build(s.ctx)
	if err := data.Err(); err != nil {
		return fmt.Errorf("failed to evaluate config: %w", err)
	}

	unified := s.def.Unify(data)
	if err := unified.Validate(cue.Final(), cue.Concrete(true)); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	if err := unified.Decode(out); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}
	return nil
}
