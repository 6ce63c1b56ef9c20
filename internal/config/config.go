// Package config provides YAML-based configuration management.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gitlab.com/tozd/go/errors"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file used when none is given.
const DefaultPath = "filedeck.yaml"

// Tracker modes.
const (
	ModeLocal  = "local"
	ModeRemote = "remote"
)

// Status channel kinds.
const (
	ChannelNone      = "none"
	ChannelWebSocket = "websocket"
	ChannelRedis     = "redis"
	ChannelPoll      = "poll"
)

// AppConfig represents the root configuration structure
type AppConfig struct {
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Tracker    TrackerConfig    `yaml:"tracker"`
	Remote     RemoteConfig     `yaml:"remote"`
	Channel    ChannelConfig    `yaml:"channel"`
	Summarizer SummarizerConfig `yaml:"summarizer"`
	Auth       AuthConfig       `yaml:"auth"`
	Watch      WatchConfig      `yaml:"watch"`
	Notices    NoticesConfig    `yaml:"notices"`
	Advanced   AdvancedConfig   `yaml:"advanced"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port                int      `yaml:"port"`
	BindAddress         string   `yaml:"bindAddress"`
	EnableCORS          bool     `yaml:"enableCors"`
	AllowOrigins        []string `yaml:"allowOrigins"`
	ReadTimeoutSeconds  int      `yaml:"readTimeoutSeconds"`
	WriteTimeoutSeconds int      `yaml:"writeTimeoutSeconds"`
	IdleTimeoutSeconds  int      `yaml:"idleTimeoutSeconds"`
	BodyLimit           string   `yaml:"bodyLimit"`
}

// StorageConfig contains file storage settings
type StorageConfig struct {
	DataDirectory    string `yaml:"dataDirectory"`
	UploadsDirectory string `yaml:"uploadsDirectory"`
	JournalPath      string `yaml:"journalPath"`
	AccountsPath     string `yaml:"accountsPath"`
}

// TrackerConfig selects the lifecycle strategy and its tuning.
type TrackerConfig struct {
	Mode                   string `yaml:"mode"`
	Placement              string `yaml:"placement"`
	AutoAdvance            bool   `yaml:"autoAdvance"`
	StageDelayMillis       int    `yaml:"stageDelayMillis"`
	SyncOnStart            bool   `yaml:"syncOnStart"`
	SyncPageSize           int    `yaml:"syncPageSize"`
	CleanupIntervalMinutes int    `yaml:"cleanupIntervalMinutes"`
	TerminalMaxAgeMinutes  int    `yaml:"terminalMaxAgeMinutes"`
}

// RemoteConfig points at the remote file service.
type RemoteConfig struct {
	BaseURL        string `yaml:"baseUrl"`
	Token          string `yaml:"token"`
	TimeoutSeconds int    `yaml:"timeoutSeconds"`
}

// ChannelConfig selects where status updates come from.
type ChannelConfig struct {
	Kind                string `yaml:"kind"`
	URL                 string `yaml:"url"`
	RedisAddr           string `yaml:"redisAddr"`
	RedisPassword       string `yaml:"redisPassword"`
	RedisChannel        string `yaml:"redisChannel"`
	PollIntervalSeconds int    `yaml:"pollIntervalSeconds"`
	ReconnectSeconds    int    `yaml:"reconnectSeconds"`
}

// SummarizerConfig configures text extraction and summarization. An empty
// endpoint selects the built-in leading-sentences summarizer.
type SummarizerConfig struct {
	Endpoint       string `yaml:"endpoint"`
	Token          string `yaml:"token"`
	TimeoutSeconds int    `yaml:"timeoutSeconds"`
	MaxTextKB      int    `yaml:"maxTextKB"`
	Sentences      int    `yaml:"sentences"`
	MaxChars       int    `yaml:"maxChars"`
}

// AuthConfig contains token and account settings
type AuthConfig struct {
	JWTSecret               string `yaml:"jwtSecret"`
	Issuer                  string `yaml:"issuer"`
	TokenTTLMinutes         int    `yaml:"tokenTtlMinutes"`
	BcryptCost              int    `yaml:"bcryptCost"`
	DeleteConfirmTTLSeconds int    `yaml:"deleteConfirmTtlSeconds"`
	DisableSignup           bool   `yaml:"disableSignup"`
	BootstrapAdminEmail     string `yaml:"bootstrapAdminEmail"`
	BootstrapAdminName      string `yaml:"bootstrapAdminName"`
	BootstrapAdminPassword  string `yaml:"bootstrapAdminPassword"`
}

// WatchConfig configures the drop-folder inbox.
type WatchConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Directory string   `yaml:"directory"`
	Include   []string `yaml:"include"`
}

// NoticesConfig bounds the notification center.
type NoticesConfig struct {
	Capacity   int `yaml:"capacity"`
	TTLSeconds int `yaml:"ttlSeconds"`
}

// AdvancedConfig contains advanced/tuning options
type AdvancedConfig struct {
	LogLevel                  string `yaml:"logLevel"`
	LogFormat                 string `yaml:"logFormat"`
	EnableRequestLogging      bool   `yaml:"enableRequestLogging"`
	DuckDBThreads             int    `yaml:"duckdbThreads"`
	DuckDBMemoryLimit         string `yaml:"duckdbMemoryLimit"`
	WebSocketMaxMessageSizeKB int    `yaml:"websocketMaxMessageSizeKB"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:                8089,
			BindAddress:         "0.0.0.0",
			EnableCORS:          true,
			AllowOrigins:        []string{"*"},
			ReadTimeoutSeconds:  30,
			WriteTimeoutSeconds: 30,
			IdleTimeoutSeconds:  120,
			BodyLimit:           "100M",
		},
		Storage: StorageConfig{
			DataDirectory:    "./data",
			UploadsDirectory: "./data/uploads",
			JournalPath:      "./data/journal.duckdb",
			AccountsPath:     "./data/accounts.db",
		},
		Tracker: TrackerConfig{
			Mode:                   ModeLocal,
			Placement:              "prepend",
			AutoAdvance:            true,
			StageDelayMillis:       500,
			SyncOnStart:            true,
			SyncPageSize:           50,
			CleanupIntervalMinutes: 10,
			TerminalMaxAgeMinutes:  24 * 60,
		},
		Remote: RemoteConfig{
			BaseURL:        "http://localhost:3000/api",
			TimeoutSeconds: 60,
		},
		Channel: ChannelConfig{
			Kind:                ChannelNone,
			RedisChannel:        "file-status",
			PollIntervalSeconds: 5,
			ReconnectSeconds:    3,
		},
		Summarizer: SummarizerConfig{
			TimeoutSeconds: 60,
			MaxTextKB:      512,
			Sentences:      3,
			MaxChars:       600,
		},
		Auth: AuthConfig{
			JWTSecret:               "change-me-in-production",
			Issuer:                  "filedeck",
			TokenTTLMinutes:         12 * 60,
			BcryptCost:              12,
			DeleteConfirmTTLSeconds: 300,
			BootstrapAdminName:      "Administrator",
		},
		Watch: WatchConfig{
			Enabled:   false,
			Directory: "./data/inbox",
			Include:   []string{"*.txt", "*.md", "*.csv", "*.json", "*.log", "*.gz"},
		},
		Notices: NoticesConfig{
			Capacity:   100,
			TTLSeconds: 300,
		},
		Advanced: AdvancedConfig{
			LogLevel:                  "info",
			LogFormat:                 "console",
			EnableRequestLogging:      true,
			DuckDBThreads:             2,
			DuckDBMemoryLimit:         "256MB",
			WebSocketMaxMessageSizeKB: 64,
		},
	}
}

// LoadConfig loads configuration from a YAML file, writing the defaults
// there first when it does not exist.
func LoadConfig(configPath string) (*AppConfig, error) {
	config := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := config.Save(configPath); err != nil {
			return nil, errors.Errorf("failed to create default config: %w", err)
		}
	} else {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, errors.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, errors.Errorf("failed to parse config file: %w", err)
		}
	}

	config.applyEnvironmentOverrides()
	config.resolvePaths(filepath.Dir(configPath))

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Save saves the configuration to a YAML file
func (c *AppConfig) Save(configPath string) error {
	output, err := yaml.Marshal(c)
	if err != nil {
		return errors.Errorf("failed to marshal config: %w", err)
	}

	header := []byte("# filedeck configuration\n# This file is auto-generated on first run\n\n")
	content := append(header, output...)

	if dir := filepath.Dir(configPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(configPath, content, 0644); err != nil {
		return errors.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate rejects settings the server cannot start with.
func (c *AppConfig) Validate() error {
	switch c.Tracker.Mode {
	case ModeLocal, ModeRemote:
	default:
		return errors.Errorf("tracker.mode must be %q or %q, got %q", ModeLocal, ModeRemote, c.Tracker.Mode)
	}
	switch c.Tracker.Placement {
	case "prepend", "append":
	default:
		return errors.Errorf("tracker.placement must be prepend or append, got %q", c.Tracker.Placement)
	}
	switch c.Channel.Kind {
	case ChannelNone, ChannelWebSocket, ChannelRedis, ChannelPoll:
	default:
		return errors.Errorf("unknown channel.kind %q", c.Channel.Kind)
	}
	if c.Channel.Kind == ChannelWebSocket && c.Channel.URL == "" {
		return errors.New("channel.url is required for the websocket channel")
	}
	if c.Channel.Kind == ChannelRedis && c.Channel.RedisAddr == "" {
		return errors.New("channel.redisAddr is required for the redis channel")
	}
	if c.Tracker.Mode == ModeRemote && c.Remote.BaseURL == "" {
		return errors.New("remote.baseUrl is required in remote mode")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.Errorf("invalid server.port %d", c.Server.Port)
	}
	return nil
}

// applyEnvironmentOverrides allows environment variables to override config values
func (c *AppConfig) applyEnvironmentOverrides() {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}

	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		c.Storage.DataDirectory = dataDir
		c.Storage.UploadsDirectory = filepath.Join(dataDir, "uploads")
		c.Storage.JournalPath = filepath.Join(dataDir, "journal.duckdb")
		c.Storage.AccountsPath = filepath.Join(dataDir, "accounts.db")
	}

	if mode := os.Getenv("FILEDECK_MODE"); mode != "" {
		c.Tracker.Mode = strings.ToLower(mode)
	}
	if url := os.Getenv("REMOTE_API_URL"); url != "" {
		c.Remote.BaseURL = url
	}
	if token := os.Getenv("REMOTE_API_TOKEN"); token != "" {
		c.Remote.Token = token
	}
	if url := os.Getenv("SUMMARIZER_URL"); url != "" {
		c.Summarizer.Endpoint = url
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Channel.RedisAddr = addr
	}
}

// resolvePaths converts relative paths to absolute based on config file location
func (c *AppConfig) resolvePaths(configDir string) {
	for _, p := range []*string{
		&c.Storage.DataDirectory,
		&c.Storage.UploadsDirectory,
		&c.Storage.JournalPath,
		&c.Storage.AccountsPath,
		&c.Watch.Directory,
	} {
		if *p != "" && *p != ":memory:" && !filepath.IsAbs(*p) {
			*p = filepath.Join(configDir, *p)
		}
	}
}

// GetServerAddr returns the server bind address
func (c *AppConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}

// EnsureDirectories creates all necessary directories
func (c *AppConfig) EnsureDirectories() error {
	dirs := []string{
		c.Storage.DataDirectory,
		c.Storage.UploadsDirectory,
		filepath.Dir(c.Storage.JournalPath),
		filepath.Dir(c.Storage.AccountsPath),
	}
	if c.Watch.Enabled {
		dirs = append(dirs, c.Watch.Directory)
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// Seconds converts a whole-second setting to a duration.
func Seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// Minutes converts a whole-minute setting to a duration.
func Minutes(n int) time.Duration { return time.Duration(n) * time.Minute }
