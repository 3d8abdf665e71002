// Package config loads the recorder settings from a YAML file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/CamFlow/callgraphs/internal/diag"
	"github.com/CamFlow/callgraphs/internal/store"
	"gopkg.in/yaml.v3"
)

// DefaultFile is loaded from the working directory when no path is given.
const DefaultFile = ".callgraphs.yaml"

// maxFileSize caps the config file read.
const maxFileSize = 1 << 20

// Config holds every setting a command can take from the file. Flags that
// were set explicitly override these after loading.
type Config struct {
	DB          string        `yaml:"db"`
	Workers     int           `yaml:"workers"`
	EdgePolicy  string        `yaml:"edge_policy"`
	BusyTimeout time.Duration `yaml:"busy_timeout"`
	Retry       Retry         `yaml:"retry"`
	Ignore      []string      `yaml:"ignore"`
	LogLevel    string        `yaml:"log_level"`
	MetricsFile string        `yaml:"metrics_file"`
	TraceFile   string        `yaml:"trace_file"`
	Strict      bool          `yaml:"strict"`
}

// Retry mirrors store.RetryPolicy.
type Retry struct {
	MaxTries        int           `yaml:"max_tries"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	MaxElapsed      time.Duration `yaml:"max_elapsed"`
}

// Default returns the settings used when neither a file nor flags say otherwise.
func Default() Config {
	rp := store.DefaultRetryPolicy()
	return Config{
		DB:          "callgraphs.db",
		Workers:     runtime.NumCPU(),
		EdgePolicy:  store.EdgePolicyCaller.String(),
		BusyTimeout: 5 * time.Second,
		Retry: Retry{
			MaxTries:        int(rp.MaxTries),
			InitialInterval: rp.InitialInterval,
			MaxInterval:     rp.MaxInterval,
			MaxElapsed:      rp.MaxElapsed,
		},
		LogLevel: "info",
	}
}

// Load reads path on top of the defaults. An empty path loads DefaultFile if
// it exists and returns the defaults otherwise.
func Load(path string) (Config, error) {
	cfg := Default()
	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}

	f, err := os.Open(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxFileSize+1))
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if len(data) > maxFileSize {
		return cfg, fmt.Errorf("config %s exceeds %d bytes", path, maxFileSize)
	}
	if err := Parse(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML into cfg, keeping fields the document leaves out.
// Unknown keys are rejected.
func Parse(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return cfg.Validate()
}

// Validate rejects settings no command could run with.
func (c Config) Validate() error {
	var errs []error
	if _, err := store.ParseEdgePolicy(c.EdgePolicy); err != nil {
		errs = append(errs, err)
	}
	if _, err := diag.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must not be negative, got %d", c.Workers))
	}
	if c.BusyTimeout < 0 {
		errs = append(errs, fmt.Errorf("busy_timeout must not be negative, got %s", c.BusyTimeout))
	}
	r := c.Retry
	if r.MaxTries < 0 || r.InitialInterval < 0 || r.MaxInterval < 0 || r.MaxElapsed < 0 {
		errs = append(errs, errors.New("retry settings must not be negative"))
	}
	return errors.Join(errs...)
}

// StoreOptions translates the store settings. Call after Validate.
func (c Config) StoreOptions() []store.Option {
	policy, _ := store.ParseEdgePolicy(c.EdgePolicy)
	return []store.Option{
		store.WithBusyTimeout(c.BusyTimeout),
		store.WithEdgePolicy(policy),
		store.WithRetry(store.RetryPolicy{
			MaxTries:        uint(c.Retry.MaxTries),
			InitialInterval: c.Retry.InitialInterval,
			MaxInterval:     c.Retry.MaxInterval,
			MaxElapsed:      c.Retry.MaxElapsed,
		}),
	}
}
