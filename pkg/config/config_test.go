package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"PerpGate/internal/domain/errs"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestLoadAppliesDefaults(t *testing.T) {
	c, err := Load(writeConfig(t, "symbols: [xbtusdtm]\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Symbols[0] != "XBTUSDTM" {
		t.Fatalf("symbol not normalized: %v", c.Symbols)
	}
	if c.Server.Port != 8080 || c.Scanner.Interval != time.Minute {
		t.Fatalf("defaults missing: port=%d interval=%s", c.Server.Port, c.Scanner.Interval)
	}
	if c.Live() || c.Execution.DedupWindow != time.Minute {
		t.Fatalf("execution defaults missing: %+v", c.Execution)
	}
	if c.Signal.Weights["rsi"] == 0 {
		t.Fatalf("default weights not applied")
	}
}

func TestLoadYAMLOverrides(t *testing.T) {
	c, err := Load(writeConfig(t, `
symbols: [ETHUSDTM]
risk:
  leverage: 5
execution:
  blocked_symbols: [DOGEUSDTM]
  dedup_window: 2m
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Risk.Leverage != 5 || c.Execution.DedupWindow != 2*time.Minute {
		t.Fatalf("yaml not applied: lev=%v window=%s", c.Risk.Leverage, c.Execution.DedupWindow)
	}
	if c.Risk.MaxDrawdownPercent != 10 {
		t.Fatalf("sibling default lost: %v", c.Risk.MaxDrawdownPercent)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SYMBOLS", "SOLUSDTM, XBTUSDTM")
	t.Setenv("REDIS_ADDR", "cache:6380")
	t.Setenv("HTTP_PORT", "9090")
	c, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(c.Symbols) != 2 || c.Symbols[1] != "XBTUSDTM" {
		t.Fatalf("symbols %v", c.Symbols)
	}
	if c.Redis.Host != "cache" || c.Redis.Port != 6380 || c.Server.Port != 9090 {
		t.Fatalf("env not applied: redis=%s:%d port=%d", c.Redis.Host, c.Redis.Port, c.Server.Port)
	}
}

func TestValidateRejects(t *testing.T) {
	if _, err := Load(writeConfig(t, "environment: development\n")); !IsConfigError(err) {
		t.Fatalf("empty symbols: want configuration error, got %v", err)
	}

	_, err := Load(writeConfig(t, "symbols: [A]\nsignal:\n  qualification_threshold: 30\n"))
	if !IsConfigError(err) {
		t.Fatalf("dead zone above threshold: want configuration error, got %v", err)
	}

	_, err = Load(writeConfig(t, "symbols: [A]\nrisk:\n  timezone: Mars/Olympus\n"))
	if !IsConfigError(err) {
		t.Fatalf("bad timezone: want configuration error, got %v", err)
	}
}

func TestLiveModeRequiresCredentials(t *testing.T) {
	t.Setenv("TRADING_MODE", "live")
	_, err := Load(writeConfig(t, "symbols: [A]\n"))
	if !errors.Is(err, errs.ErrMissingCredentials) {
		t.Fatalf("want missing credentials, got %v", err)
	}

	t.Setenv("EXCHANGE_API_KEY", "k")
	t.Setenv("EXCHANGE_API_SECRET", "s")
	t.Setenv("EXCHANGE_API_PASSPHRASE", "p")
	t.Setenv("EXCHANGE_BASE_URL", "https://evil.example.com")
	_, err = Load(writeConfig(t, "symbols: [A]\n"))
	if !errors.Is(err, errs.ErrDisallowedEndpoint) {
		t.Fatalf("want disallowed endpoint, got %v", err)
	}

	t.Setenv("EXCHANGE_BASE_URL", "https://api-futures.kucoin.com/")
	c, err := Load(writeConfig(t, "symbols: [A]\n"))
	if err != nil {
		t.Fatalf("live with credentials: %v", err)
	}
	if !c.Live() {
		t.Fatalf("mode not live")
	}
}
