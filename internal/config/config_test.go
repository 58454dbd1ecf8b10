package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pias.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(cfg, DefaultConfig()) {
		t.Errorf("Load(\"\") = %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults invalid: %v", err)
	}
}

func TestLoadOverridesAndExpandsEnv(t *testing.T) {
	t.Setenv("PIAS_TEST_TOKEN", "s3cret")
	path := writeConfig(t, `
address: tcp://127.0.0.1:7100
auth_token: ${PIAS_TEST_TOKEN}
log_level: debug
store:
  path: /data/graph.db
classifier:
  l2: 0.5
solver:
  beta: 0.3
messaging:
  poll_interval: 50ms
  queue_size: 8
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Address != "tcp://127.0.0.1:7100" || cfg.AuthToken != "s3cret" || cfg.Store.Path != "/data/graph.db" {
		t.Errorf("top-level fields %+v", cfg)
	}
	if cfg.Classifier.L2 != 0.5 || cfg.Classifier.MaxIterations != 200 {
		t.Errorf("classifier %+v", cfg.Classifier)
	}
	if cfg.Solver.Beta != 0.3 || cfg.Solver.Epsilon != 1e-6 {
		t.Errorf("solver %+v", cfg.Solver)
	}
	if cfg.Messaging.PollInterval != 50*time.Millisecond || cfg.Messaging.QueueSize != 8 || cfg.Messaging.IOTimeout != 5*time.Second {
		t.Errorf("messaging %+v", cfg.Messaging)
	}
	if cfg.SlogLevel() != slog.LevelDebug {
		t.Errorf("SlogLevel = %v", cfg.SlogLevel())
	}
}

func TestLoadErrors(t *testing.T) {
	testCases := []struct {
		name string
		body string
		want string
	}{
		{"unknown field", "adress: unix:///tmp/x\n", "field adress not found"},
		{"bad beta", "solver:\n  beta: 1.5\n", "solver.beta"},
		{"zero node limit", "store:\n  max_node_id: 0\n", "store.max_node_id"},
		{"bad epsilon", "solver:\n  epsilon: 0\n", "solver.epsilon"},
		{"empty labels", "classifier:\n  required_labels: []\n", "required_labels"},
		{"bad level", "log_level: loud\n", "log_level"},
		{"bad duration", "messaging:\n  poll_interval: soon\n", "YAML"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error = %v, want it to mention %q", err, tc.want)
			}
		})
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file accepted")
	}
}

func TestEmptyFileKeepsDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Address != DefaultConfig().Address {
		t.Errorf("Address = %q", cfg.Address)
	}
}
