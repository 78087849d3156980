package config

import (
	"encoding/base64"
	"encoding/json"
	"flag"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

// setupConfigDir creates a temp data dir, points the env var at it,
// and clears the sessions dir override.
func setupConfigDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("TRANSFERVIEW_DATA_DIR", dir)
	t.Setenv("TRANSFER_SESSIONS_DIR", "")
	return dir
}

func writeConfig(t *testing.T, dir string, data any) {
	t.Helper()
	b, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	writeConfigRaw(t, dir, string(b))
}

// writeConfigRaw writes raw string content to config.json.
func writeConfigRaw(t *testing.T, dir, content string) {
	t.Helper()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func readConfigMap(t *testing.T, dir string) map[string]any {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, "config.json"))
	if err != nil {
		t.Fatalf("reading config file: %v", err)
	}
	m := make(map[string]any)
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("parsing config file: %v", err)
	}
	return m
}

func parseFlags(t *testing.T, args ...string) *flag.FlagSet {
	t.Helper()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterServeFlags(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parsing flags: %v", err)
	}
	return fs
}

func TestDefaults(t *testing.T) {
	dir := setupConfigDir(t)
	cfg, err := Load(parseFlags(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Host != "127.0.0.1" || cfg.Port != 8080 {
		t.Errorf("listen = %s:%d", cfg.Host, cfg.Port)
	}
	if cfg.SessionsDir != DefaultSessionsDir {
		t.Errorf("SessionsDir = %q", cfg.SessionsDir)
	}
	if cfg.DBPath != filepath.Join(dir, "sessions.db") {
		t.Errorf("DBPath = %q", cfg.DBPath)
	}
	if cfg.WriteTimeout != 30*time.Second {
		t.Errorf("WriteTimeout = %v", cfg.WriteTimeout)
	}
	if cfg.PollInterval != time.Second {
		t.Errorf("PollInterval = %v", cfg.PollInterval)
	}
	if cfg.NoBrowser {
		t.Error("NoBrowser should default to false")
	}
}

func TestLayering(t *testing.T) {
	tests := []struct {
		name     string
		file     map[string]any
		env      string
		args     []string
		wantDir  string
		wantPort int
	}{
		{
			name:     "FileOverridesDefault",
			file:     map[string]any{"sessions_dir": "/file", "port": 9000},
			wantDir:  "/file",
			wantPort: 9000,
		},
		{
			name:     "EnvOverridesFile",
			file:     map[string]any{"sessions_dir": "/file"},
			env:      "/env",
			wantDir:  "/env",
			wantPort: 8080,
		},
		{
			name:     "FlagOverridesEnv",
			file:     map[string]any{"port": 9000},
			env:      "/env",
			args:     []string{"-sessions-dir", "/flag", "-port", "7000"},
			wantDir:  "/flag",
			wantPort: 7000,
		},
		{
			name:     "UnsetFlagKeepsLowerLayer",
			file:     map[string]any{"port": 9000},
			args:     []string{"-host", "0.0.0.0"},
			wantDir:  DefaultSessionsDir,
			wantPort: 9000,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := setupConfigDir(t)
			if tt.file != nil {
				writeConfig(t, dir, tt.file)
			}
			t.Setenv("TRANSFER_SESSIONS_DIR", tt.env)

			cfg, err := Load(parseFlags(t, tt.args...))
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if cfg.SessionsDir != tt.wantDir {
				t.Errorf("SessionsDir = %q, want %q",
					cfg.SessionsDir, tt.wantDir)
			}
			if cfg.Port != tt.wantPort {
				t.Errorf("Port = %d, want %d", cfg.Port, tt.wantPort)
			}
		})
	}
}

func TestFlagsApplied(t *testing.T) {
	setupConfigDir(t)
	cfg, err := Load(parseFlags(t,
		"-no-browser", "-poll-interval", "250ms", "-host", "0.0.0.0",
	))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.NoBrowser {
		t.Error("NoBrowser not applied")
	}
	if cfg.PollInterval != 250*time.Millisecond {
		t.Errorf("PollInterval = %v", cfg.PollInterval)
	}
	if cfg.Host != "0.0.0.0" {
		t.Errorf("Host = %q", cfg.Host)
	}
}

func TestLoadNilFlagSet(t *testing.T) {
	setupConfigDir(t)
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load(nil): %v", err)
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d", cfg.Port)
	}
}

func TestPollIntervalFromFile(t *testing.T) {
	dir := setupConfigDir(t)
	writeConfig(t, dir, map[string]any{"poll_interval": "2s"})
	cfg, err := LoadMinimal()
	if err != nil {
		t.Fatalf("LoadMinimal: %v", err)
	}
	if cfg.PollInterval != 2*time.Second {
		t.Errorf("PollInterval = %v", cfg.PollInterval)
	}

	writeConfig(t, dir, map[string]any{"poll_interval": "-1s"})
	if _, err := LoadMinimal(); err == nil {
		t.Error("expected error for negative poll_interval")
	}
}

func TestInvalidConfigFile(t *testing.T) {
	dir := setupConfigDir(t)
	writeConfigRaw(t, dir, "{not json")
	_, err := LoadMinimal()
	if err == nil {
		t.Fatal("expected error for invalid config")
	}
	if !strings.Contains(err.Error(), "loading config file") {
		t.Errorf("error = %v", err)
	}
}

func TestCursorSecretGeneratedAndPersisted(t *testing.T) {
	dir := setupConfigDir(t)
	writeConfig(t, dir, map[string]any{"sessions_dir": "/keep"})

	cfg1, err := LoadMinimal()
	if err != nil {
		t.Fatalf("first load: %v", err)
	}
	if cfg1.CursorSecret == "" {
		t.Fatal("cursor secret was not generated")
	}
	if len(cfg1.CursorKey()) != 32 {
		t.Errorf("cursor key length = %d, want 32", len(cfg1.CursorKey()))
	}

	m := readConfigMap(t, dir)
	if m["cursor_secret"] != cfg1.CursorSecret {
		t.Errorf("file secret = %v, want %q",
			m["cursor_secret"], cfg1.CursorSecret)
	}
	if m["sessions_dir"] != "/keep" {
		t.Errorf("existing keys lost: %v", m)
	}

	cfg2, err := LoadMinimal()
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	if cfg2.CursorSecret != cfg1.CursorSecret {
		t.Errorf("second load got %q, want %q",
			cfg2.CursorSecret, cfg1.CursorSecret)
	}
}

func TestCursorSecretFilePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("skipping: Unix permissions not reliable on Windows")
	}
	dir := setupConfigDir(t)
	if _, err := LoadMinimal(); err != nil {
		t.Fatalf("LoadMinimal: %v", err)
	}
	info, err := os.Stat(filepath.Join(dir, "config.json"))
	if err != nil {
		t.Fatalf("stat config: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("config.json perm = %o, want 600", perm)
	}
}

func TestCursorKey(t *testing.T) {
	raw := []byte("0123456789abcdef")
	c := Config{CursorSecret: base64.StdEncoding.EncodeToString(raw)}
	if got := string(c.CursorKey()); got != string(raw) {
		t.Errorf("CursorKey = %q, want %q", got, raw)
	}
	c.CursorSecret = "not base64!"
	if got := string(c.CursorKey()); got != "not base64!" {
		t.Errorf("CursorKey = %q", got)
	}
}
