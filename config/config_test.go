package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validYAML = `
densityflow:
  name: "DensityFlow"
  version: "test"
channels:
  raw_buffer: 16
  alert_buffer: 8
  error_buffer: 4
density:
  distance_pct: 3.0
  min_size_usd: 500000
  alerts_enabled: true
instruments:
  - symbol: "BTCUSDT"
    tick_size: 0.1
    step_size: 0.001
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Source.Binance.RestURL != "https://fapi.binance.com" {
		t.Fatalf("expected default rest url, got %s", cfg.Source.Binance.RestURL)
	}
	if cfg.Source.Binance.WsURL != "wss://fstream.binance.com/stream" {
		t.Fatalf("expected default ws url, got %s", cfg.Source.Binance.WsURL)
	}
	if cfg.Scanner.IntervalMs != 1000 || cfg.Scanner.PriorityIntervalMs != 250 {
		t.Fatalf("expected default scanner intervals, got %+v", cfg.Scanner)
	}
	if cfg.Reader.Retry.MaxAttempts != 10 {
		t.Fatalf("expected default retry attempts, got %d", cfg.Reader.Retry.MaxAttempts)
	}
	if got := cfg.Symbols(); len(got) != 1 || got[0] != "BTCUSDT" {
		t.Fatalf("unexpected symbols: %v", got)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestLoadConfigRequiresInstruments(t *testing.T) {
	yml := strings.Replace(validYAML, "instruments:", "ignored:", 1)
	if _, err := LoadConfig(writeConfig(t, yml)); err == nil {
		t.Fatalf("expected error without instruments")
	}
}

func TestLoadConfigRejectsDuplicateInstrument(t *testing.T) {
	yml := validYAML + `  - symbol: "BTCUSDT"
    tick_size: 0.1
    step_size: 0.001
`
	_, err := LoadConfig(writeConfig(t, yml))
	if err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("expected duplicate symbol error, got %v", err)
	}
}

func TestLoadConfigRejectsInvalidDistance(t *testing.T) {
	yml := strings.Replace(validYAML, "distance_pct: 3.0", "distance_pct: -1.0", 1)
	if _, err := LoadConfig(writeConfig(t, yml)); err == nil {
		t.Fatalf("expected error for negative distance")
	}
}

func TestTelegramEnabledRequiresCredentials(t *testing.T) {
	yml := validYAML + `writer:
  telegram:
    enabled: true
`
	if _, err := LoadConfig(writeConfig(t, yml)); err == nil {
		t.Fatalf("expected error when telegram enabled without token")
	}
}

func TestTelegramCredentialsFromEnvironment(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "token-from-env")
	t.Setenv("TELEGRAM_CHAT_ID", "chat-from-env")

	yml := validYAML + `writer:
  telegram:
    enabled: true
`
	cfg, err := LoadConfig(writeConfig(t, yml))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Writer.Telegram.Token != "token-from-env" || cfg.Writer.Telegram.ChatID != "chat-from-env" {
		t.Fatalf("expected env credentials, got %+v", cfg.Writer.Telegram)
	}
}
