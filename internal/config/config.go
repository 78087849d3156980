package config

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// DefaultSessionsDir is where the transfer system writes session
// logs.
const DefaultSessionsDir = "/var/cpanel/transfer_sessions"

// Config holds all application configuration.
type Config struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	NoBrowser    bool          `json:"no_browser"`
	SessionsDir  string        `json:"sessions_dir"`
	DataDir      string        `json:"data_dir"`
	DBPath       string        `json:"-"`
	CursorSecret string        `json:"cursor_secret"`
	WriteTimeout time.Duration `json:"-"`
	PollInterval time.Duration `json:"-"`
}

// Default returns a Config with default values.
func Default() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, fmt.Errorf(
			"determining home directory: %w", err,
		)
	}
	dataDir := filepath.Join(home, ".transferview")
	return Config{
		Host:         "127.0.0.1",
		Port:         8080,
		SessionsDir:  DefaultSessionsDir,
		DataDir:      dataDir,
		DBPath:       filepath.Join(dataDir, "sessions.db"),
		WriteTimeout: 30 * time.Second,
		PollInterval: time.Second,
	}, nil
}

// Load builds a Config by layering: defaults < config file < env < flags.
// The provided FlagSet must already be parsed by the caller.
// Only flags that were explicitly set override the lower layers.
func Load(fs *flag.FlagSet) (Config, error) {
	cfg, err := LoadMinimal()
	if err != nil {
		return cfg, err
	}
	applyFlags(&cfg, fs)
	return cfg, nil
}

// LoadMinimal builds a Config from defaults, env, and config file,
// without parsing CLI flags. Use this for subcommands that manage
// their own flag sets.
func LoadMinimal() (Config, error) {
	cfg, err := Default()
	if err != nil {
		return cfg, err
	}
	// The data dir decides where config.json lives, so its env
	// override is applied before the file is read.
	if v := os.Getenv("TRANSFERVIEW_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if err := cfg.loadFile(); err != nil {
		return cfg, fmt.Errorf("loading config file: %w", err)
	}
	cfg.loadEnv()

	if err := cfg.ensureCursorSecret(); err != nil {
		return cfg, fmt.Errorf("ensuring cursor secret: %w", err)
	}
	cfg.DBPath = filepath.Join(cfg.DataDir, "sessions.db")
	return cfg, nil
}

func (c *Config) configPath() string {
	return filepath.Join(c.DataDir, "config.json")
}

func (c *Config) loadFile() error {
	data, err := os.ReadFile(c.configPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var file struct {
		Host         string `json:"host"`
		Port         int    `json:"port"`
		SessionsDir  string `json:"sessions_dir"`
		CursorSecret string `json:"cursor_secret"`
		PollInterval string `json:"poll_interval"`
	}
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	if file.Host != "" {
		c.Host = file.Host
	}
	if file.Port > 0 {
		c.Port = file.Port
	}
	if file.SessionsDir != "" {
		c.SessionsDir = file.SessionsDir
	}
	if file.CursorSecret != "" {
		c.CursorSecret = file.CursorSecret
	}
	if file.PollInterval != "" {
		d, err := time.ParseDuration(file.PollInterval)
		if err != nil || d <= 0 {
			return fmt.Errorf(
				"parsing config: invalid poll_interval %q",
				file.PollInterval,
			)
		}
		c.PollInterval = d
	}
	return nil
}

func (c *Config) ensureCursorSecret() error {
	if c.CursorSecret != "" {
		return nil
	}

	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return fmt.Errorf("generating secret: %w", err)
	}
	secret := base64.StdEncoding.EncodeToString(b)
	c.CursorSecret = secret

	if err := os.MkdirAll(c.DataDir, 0o700); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}

	existing := make(map[string]any)
	data, err := os.ReadFile(c.configPath())
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reading config: %w", err)
	}
	if err == nil {
		if err := json.Unmarshal(data, &existing); err != nil {
			return fmt.Errorf("existing config invalid: %w", err)
		}
	}

	existing["cursor_secret"] = secret
	out, err := json.MarshalIndent(existing, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(c.configPath(), out, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

func (c *Config) loadEnv() {
	if v := os.Getenv("TRANSFER_SESSIONS_DIR"); v != "" {
		c.SessionsDir = v
	}
}

// CursorKey returns the decoded cursor signing secret. Secrets
// that are not valid base64 are used as raw bytes.
func (c *Config) CursorKey() []byte {
	if b, err := base64.StdEncoding.DecodeString(c.CursorSecret); err == nil {
		return b
	}
	return []byte(c.CursorSecret)
}

// RegisterServeFlags registers serve-command flags on fs.
// The caller must call fs.Parse before passing fs to Load.
func RegisterServeFlags(fs *flag.FlagSet) {
	fs.String("host", "127.0.0.1", "Host to bind to")
	fs.Int("port", 8080, "Port to listen on")
	fs.Bool(
		"no-browser", false,
		"Don't open browser on startup",
	)
	fs.String(
		"sessions-dir", DefaultSessionsDir,
		"Directory holding transfer session logs",
	)
	fs.Duration(
		"poll-interval", time.Second,
		"Fallback interval for re-reading session logs",
	)
}

// applyFlags copies explicitly-set flags from fs into cfg.
func applyFlags(cfg *Config, fs *flag.FlagSet) {
	if fs == nil {
		return
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "host":
			cfg.Host = f.Value.String()
		case "port":
			// flag already validated the int; ignore parse error
			cfg.Port, _ = strconv.Atoi(f.Value.String())
		case "no-browser":
			cfg.NoBrowser = f.Value.String() == "true"
		case "sessions-dir":
			cfg.SessionsDir = f.Value.String()
		case "poll-interval":
			if d, err := time.ParseDuration(f.Value.String()); err == nil && d > 0 {
				cfg.PollInterval = d
			}
		}
	})
}
