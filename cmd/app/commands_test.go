package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"PerpGate/pkg/config"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestConfigCheckPrintsSummary(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte("symbols: [solusdtm]\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	out, err := execute(t, "config", "check", "--config", p)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !strings.Contains(out, "mode=paper") || !strings.Contains(out, "SOLUSDTM") {
		t.Fatalf("summary %q", out)
	}
}

func TestConfigCheckRejectsEmptySymbols(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte("environment: development\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := execute(t, "config", "check", "--config", p)
	if err == nil || !config.IsConfigError(err) {
		t.Fatalf("want configuration error, got %v", err)
	}
}
