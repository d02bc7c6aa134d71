package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadEnv(t *testing.T) {
	unsetEnv(t, "FOO")
	unsetEnv(t, "QUOTED")
	unsetEnv(t, "SINGLE")
	unsetEnv(t, "EMPTY")
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "" +
		"# comment\n" +
		"FOO=bar\n" +
		"QUOTED=\"baz\"\n" +
		"SINGLE='qux'\n" +
		"EMPTY=\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	if err := LoadEnv(path); err != nil {
		t.Fatalf("load env: %v", err)
	}
	if got := os.Getenv("FOO"); got != "bar" {
		t.Fatalf("FOO expected bar, got %q", got)
	}
	if got := os.Getenv("QUOTED"); got != "baz" {
		t.Fatalf("QUOTED expected baz, got %q", got)
	}
	if got := os.Getenv("SINGLE"); got != "qux" {
		t.Fatalf("SINGLE expected qux, got %q", got)
	}
	if got := os.Getenv("EMPTY"); got != "" {
		t.Fatalf("EMPTY expected empty, got %q", got)
	}
}

func TestLoadEnvDoesNotOverrideExisting(t *testing.T) {
	t.Setenv("FOO", "existing")
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("FOO=bar\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	if err := LoadEnv(path); err != nil {
		t.Fatalf("load env: %v", err)
	}
	if got := os.Getenv("FOO"); got != "existing" {
		t.Fatalf("FOO expected existing, got %q", got)
	}
}

func unsetEnv(t *testing.T, key string) {
	t.Helper()
	if old, ok := os.LookupEnv(key); ok {
		t.Cleanup(func() { _ = os.Setenv(key, old) })
	} else {
		t.Cleanup(func() { _ = os.Unsetenv(key) })
	}
	_ = os.Unsetenv(key)
}

func TestApplyEnvOverridesSecrets(t *testing.T) {
	t.Setenv("TELEGRAM_TOKEN", "env-token")
	t.Setenv("TELEGRAM_CHAT_ID", "-100")
	t.Setenv("TIMESCALE_DSN", "postgres://mm@localhost/mm")
	t.Setenv("HL_REST_URL", "https://api.hyperliquid-testnet.xyz")
	t.Setenv("HL_WS_URL", "")
	cfg := &Config{Telegram: TelegramConfig{Token: "file-token"}, WS: WSConfig{URL: "wss://custom/ws"}}
	ApplyEnv(cfg)
	if cfg.Telegram.Token != "env-token" || cfg.Telegram.ChatID != "-100" {
		t.Fatalf("unexpected telegram config %+v", cfg.Telegram)
	}
	if cfg.Timescale.DSN != "postgres://mm@localhost/mm" {
		t.Fatalf("unexpected dsn %q", cfg.Timescale.DSN)
	}
	if cfg.REST.BaseURL != "https://api.hyperliquid-testnet.xyz" {
		t.Fatalf("unexpected rest url %q", cfg.REST.BaseURL)
	}
	if cfg.WS.URL != "wss://custom/ws" {
		t.Fatalf("expected empty HL_WS_URL to keep config value, got %q", cfg.WS.URL)
	}
}
