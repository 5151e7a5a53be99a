package config

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Storage backends understood by storage.NewAdapter.
const (
	BackendRecords = "records"
	BackendLocal   = "local"
)

type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Log      LogConfig
	Campaign CampaignConfig
	Janitor  JanitorConfig
	API      APIConfig
}

type ServerConfig struct {
	Port int
}

type StorageConfig struct {
	DataDir string
	Backend string
}

type LogConfig struct {
	Level string
}

type CampaignConfig struct {
	// Seed creates the first session when the campaign is empty.
	Seed bool
}

type JanitorConfig struct {
	PollInterval time.Duration
}

type APIConfig struct {
	Token string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
			Backend: BackendRecords,
		},
		Log: LogConfig{
			Level: "info",
		},
		Campaign: CampaignConfig{
			Seed: true,
		},
		Janitor: JanitorConfig{
			PollInterval: 2 * time.Second,
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.chronicle.app) and the
// API token lives in the macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/chronicle/config.json
// and the API token is kept in $XDG_DATA_HOME/chronicle/secrets.json.
//
// Environment variables (CHRONICLE_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), NewKeychain())
}

func loadWith(b ConfigBackend, kc Keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.API.Token == "" {
		token, err := GetAPIToken(kc)
		if err != nil {
			return Config{}, fmt.Errorf("getting API token: %w", err)
		}
		cfg.API.Token = token
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	var problems []string
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	if !slices.Contains([]string{BackendRecords, BackendLocal}, c.Storage.Backend) {
		problems = append(problems, fmt.Sprintf("storage.backend %q must be %q or %q", c.Storage.Backend, BackendRecords, BackendLocal))
	}
	if c.Storage.DataDir == "" {
		problems = append(problems, "storage.data_dir is empty")
	}
	if c.Janitor.PollInterval <= 0 {
		problems = append(problems, "janitor.poll_interval must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}
