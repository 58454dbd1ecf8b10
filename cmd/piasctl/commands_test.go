package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sanonone/pias/pkg/client"
	"github.com/sanonone/pias/pkg/store"
)

// TestRootCommand tests that the root command is properly configured
func TestRootCommand(t *testing.T) {
	if rootCmd.Use != "piasctl" {
		t.Errorf("expected Use 'piasctl', got %q", rootCmd.Use)
	}
	want := []string{"ping", "solution", "label", "update", "watch", "state", "refresh", "import"}
	for _, name := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		if err != nil || cmd == rootCmd {
			t.Errorf("subcommand %q not registered", name)
			continue
		}
		if cmd.RunE == nil {
			t.Errorf("%s: RunE should not be nil", name)
		}
	}
	for _, flag := range []string{"address", "admin", "token", "timeout"} {
		if rootCmd.PersistentFlags().Lookup(flag) == nil {
			t.Errorf("missing persistent flag --%s", flag)
		}
	}
}

func TestLabelArgs(t *testing.T) {
	if err := labelCmd.Args(labelCmd, []string{"1", "2"}); err == nil {
		t.Error("two arguments accepted")
	}
	if err := labelCmd.Args(labelCmd, nil); err == nil {
		t.Error("no arguments accepted")
	}
	if err := labelCmd.Args(labelCmd, []string{"1", "2", "1", "3", "4", "0"}); err != nil {
		t.Errorf("two triples rejected: %v", err)
	}

	triples, err := parseTriples([]string{"1", "2", "1", "3", "4", "0"})
	if err != nil {
		t.Fatal(err)
	}
	want := []client.Triple{{U: 1, V: 2, Label: 1}, {U: 3, V: 4, Label: 0}}
	if len(triples) != 2 || triples[0] != want[0] || triples[1] != want[1] {
		t.Errorf("parseTriples = %v", triples)
	}
	if _, err := parseTriples([]string{"1", "x", "0"}); err == nil {
		t.Error("non-numeric node accepted")
	}
}

func TestOutcomeName(t *testing.T) {
	if got := outcomeName(2); got != "CLASSIFIER_TRAINING_FAILED" {
		t.Errorf("outcomeName(2) = %q", got)
	}
	if got := outcomeName(9); got != "outcome(9)" {
		t.Errorf("outcomeName(9) = %q", got)
	}
}

func TestImportCommand(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "edges.csv")
	dbPath := filepath.Join(dir, "graph.db")
	csv := "u,v,f1,f2\n0,1,0.5,1\n2,1,0.25,0\n"
	if err := os.WriteFile(csvPath, []byte(csv), 0o644); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"import", csvPath, dbPath, "--precision", "float16"})
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("import: %v", err)
	}
	if !strings.Contains(out.String(), "imported 2 edges") {
		t.Errorf("output %q", out.String())
	}

	db, err := store.OpenSQLite(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	ds, err := db.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(ds.Edges) != 2 || ds.Edges[1].U != 1 || ds.Edges[1].V != 2 || ds.Features[0][0] != 0.5 {
		t.Errorf("stored dataset %+v", ds)
	}
}
