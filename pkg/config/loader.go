package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/burnet/burnet/pkg/errdefs"
)

// Format is a configuration file syntax.
type Format string

const (
	FormatCUE  Format = "cue"
	FormatYAML Format = "yaml"
)

var validate = validator.New()

// FormatOf infers the format from a file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		return FormatCUE, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return "", errdefs.Invalid("unsupported config file extension %q", filepath.Ext(path)).WithResource(path)
	}
}

// Default returns the configuration used when no file is given.
func Default() (*Config, error) {
	return Parse(nil, FormatCUE)
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg, err := parse(data, format, path)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes configuration source in the given format. Omitted fields take
// their schema defaults.
func Parse(data []byte, format Format) (*Config, error) {
	return parse(data, format, "config."+string(format))
}

func parse(data []byte, format Format, filename string) (*Config, error) {
	sch, err := loadSchema()
	if err != nil {
		return nil, err
	}

	var build func(*cue.Context) cue.Value
	switch format {
	case FormatCUE:
		build = func(ctx *cue.Context) cue.Value {
			return ctx.CompileBytes(data, cue.Filename(filename))
		}
	case FormatYAML:
		doc := map[string]interface{}{}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, errdefs.Invalid("failed to parse YAML: %v", err)
		}
		build = func(ctx *cue.Context) cue.Value {
			return ctx.Encode(doc)
		}
	default:
		return nil, errdefs.Invalid("unsupported config format %q", format)
	}

	var cfg Config
	if err := sch.decode(build, &cfg); err != nil {
		return nil, errdefs.Invalid("%v", err)
	}

	if err := validate.Struct(&cfg); err != nil {
		return nil, errdefs.Invalid("config validation failed: %v", err)
	}

	if _, err := cfg.ObjectStore(); err != nil {
		return nil, errdefs.Invalid("%v", err)
	}

	return &cfg, nil
}
