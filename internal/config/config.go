// Package config loads the piasd configuration file.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level piasd configuration.
type Config struct {
	Address   string `yaml:"address"`    // messaging base address
	HTTPAddr  string `yaml:"http_addr"`  // admin HTTP; empty disables it
	AuthToken string `yaml:"auth_token"` // admin bearer token; empty disables auth
	LogLevel  string `yaml:"log_level"`  // debug, info, warn, error

	Store      StoreConfig      `yaml:"store"`
	Journal    JournalConfig    `yaml:"journal"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Solver     SolverConfig     `yaml:"solver"`
	Messaging  MessagingConfig  `yaml:"messaging"`
	Workflow   WorkflowConfig   `yaml:"workflow"`
}

// StoreConfig locates the SQLite graph store.
type StoreConfig struct {
	Path      string `yaml:"path"`
	MaxNodeID uint64 `yaml:"max_node_id"` // largest node id a refresh accepts
}

// JournalConfig controls the label/round journal. An empty path disables it.
type JournalConfig struct {
	Path      string        `yaml:"path"`
	SyncEvery time.Duration `yaml:"sync_every"` // 0 syncs on every append
}

// ClassifierConfig tunes the edge classifier.
type ClassifierConfig struct {
	RequiredLabels []int   `yaml:"required_labels"`
	L2             float64 `yaml:"l2"`
	MaxIterations  int     `yaml:"max_iterations"`
}

// SolverConfig tunes probability → cost conversion.
type SolverConfig struct {
	Epsilon float64 `yaml:"epsilon"`
	Beta    float64 `yaml:"beta"`
}

// MessagingConfig tunes the messaging endpoints.
type MessagingConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	IOTimeout    time.Duration `yaml:"io_timeout"`
	QueueSize    int           `yaml:"queue_size"`
	PutTimeout   time.Duration `yaml:"put_timeout"`
}

// WorkflowConfig tunes the round worker.
type WorkflowConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	RoundHistory int           `yaml:"round_history"`
}

// DefaultConfig returns a working local configuration.
func DefaultConfig() Config {
	return Config{
		Address:  "unix:///tmp/pias",
		HTTPAddr: ":9095",
		LogLevel: "info",

		Store: StoreConfig{
			Path:      "pias.db",
			MaxNodeID: 1 << 24,
		},
		Journal: JournalConfig{
			Path:      "pias.journal",
			SyncEvery: time.Second,
		},
		Classifier: ClassifierConfig{
			RequiredLabels: []int{0, 1},
			L2:             1e-2,
			MaxIterations:  200,
		},
		Solver: SolverConfig{
			Epsilon: 1e-6,
			Beta:    0.5,
		},
		Messaging: MessagingConfig{
			PollInterval: 100 * time.Millisecond,
			IOTimeout:    5 * time.Second,
			QueueSize:    64,
			PutTimeout:   10 * time.Millisecond,
		},
		Workflow: WorkflowConfig{
			PollInterval: 100 * time.Millisecond,
			RoundHistory: 256,
		},
	}
}

// Load reads a YAML file over DefaultConfig. Environment variables in the
// file are expanded and unknown fields are rejected. An empty path returns
// the defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("could not read configuration file '%s': %w", path, err)
	}

	decoder := yaml.NewDecoder(strings.NewReader(os.ExpandEnv(string(data))))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("YAML syntax error in '%s': %w", path, err)
	}

	return cfg, cfg.Validate()
}

// Validate checks values the components cannot default.
func (c Config) Validate() error {
	var errs []error
	if c.Address == "" {
		errs = append(errs, errors.New("address must be set"))
	}
	if c.Store.Path == "" {
		errs = append(errs, errors.New("store.path must be set"))
	}
	if c.Store.MaxNodeID == 0 || c.Store.MaxNodeID > math.MaxInt64 {
		errs = append(errs, fmt.Errorf("store.max_node_id must be in [1, %d], got %d", int64(math.MaxInt64), c.Store.MaxNodeID))
	}
	if len(c.Classifier.RequiredLabels) == 0 {
		errs = append(errs, errors.New("classifier.required_labels must not be empty"))
	}
	if c.Classifier.L2 < 0 {
		errs = append(errs, fmt.Errorf("classifier.l2 must be >= 0, got %g", c.Classifier.L2))
	}
	if c.Solver.Epsilon <= 0 || c.Solver.Epsilon >= 0.5 {
		errs = append(errs, fmt.Errorf("solver.epsilon must be in (0, 0.5), got %g", c.Solver.Epsilon))
	}
	if c.Solver.Beta <= 0 || c.Solver.Beta >= 1 {
		errs = append(errs, fmt.Errorf("solver.beta must be in (0, 1), got %g", c.Solver.Beta))
	}
	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log_level %q", c.LogLevel))
	}
	return errors.Join(errs...)
}

// SlogLevel returns LogLevel as a slog level, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
