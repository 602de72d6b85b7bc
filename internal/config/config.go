package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sessionpulse/backend/internal/logger"
)

type Config struct {
	Server  ServerConfig   `yaml:"server"`
	Hub     HubConfig      `yaml:"hub"`
	Monitor MonitorConfig  `yaml:"monitor"`
	Blocks  BlocksConfig   `yaml:"blocks"`
	Models  map[string]int `yaml:"models"`
	Logging logger.Config  `yaml:"logging"`
	NATS    NATSConfig     `yaml:"nats"`
}

type ServerConfig struct {
	Port           int           `yaml:"port"`
	Host           string        `yaml:"host"`
	AuthToken      string        `yaml:"auth_token"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
}

// HubConfig tunes the dashboard hub's heartbeat and buffering behavior.
type HubConfig struct {
	PingInterval     time.Duration `yaml:"ping_interval"`
	PingTimeout      time.Duration `yaml:"ping_timeout"`
	MonitorInterval  time.Duration `yaml:"monitor_interval"`
	MaxMissedPings   int           `yaml:"max_missed_pings"`
	HistorySize      int           `yaml:"history_size"`
	ClientQueueSize  int           `yaml:"client_queue_size"`
	QueueTTL         time.Duration `yaml:"queue_ttl"`
	SendFailureLimit int           `yaml:"send_failure_limit"`
}

type MonitorConfig struct {
	PollInterval      time.Duration `yaml:"poll_interval"`
	DiscoverWindow    time.Duration `yaml:"discover_window"`
	SessionStaleAfter time.Duration `yaml:"session_stale_after"`
}

type BlocksConfig struct {
	Duration       time.Duration `yaml:"duration"`
	RecentSessions int           `yaml:"recent_sessions"`
}

type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
	IngestSubject string `yaml:"ingest_subject"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			Host:         "127.0.0.1",
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Hub: HubConfig{
			PingInterval:     15 * time.Second,
			PingTimeout:      10 * time.Second,
			MonitorInterval:  5 * time.Second,
			MaxMissedPings:   3,
			HistorySize:      1000,
			ClientQueueSize:  100,
			QueueTTL:         60 * time.Second,
			SendFailureLimit: 3,
		},
		Monitor: MonitorConfig{
			PollInterval:      time.Second,
			DiscoverWindow:    10 * time.Minute,
			SessionStaleAfter: 2 * time.Minute,
		},
		Blocks: BlocksConfig{
			Duration:       5 * time.Hour,
			RecentSessions: 20,
		},
		Models: map[string]int{
			"default": 200000,
		},
		Logging: logger.Default(),
		NATS: NATSConfig{
			SubjectPrefix: "sessions.events",
			IngestSubject: "sessions.ingest",
		},
	}
}

// Load reads the YAML config at path on top of built-in defaults. A missing
// file is not an error; the defaults are returned so the server runs without
// any config at all. Secrets can be supplied through the environment
// (SESSIONPULSE_AUTH_TOKEN, NATS_URL) and win over the file.
func Load(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if v := os.Getenv("SESSIONPULSE_AUTH_TOKEN"); v != "" {
		cfg.Server.AuthToken = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}

	return cfg, nil
}

// MaxContextTokens returns the context window configured for model, falling
// back to the "default" entry.
func (c *Config) MaxContextTokens(model string) int {
	if n, ok := c.Models[model]; ok {
		return n
	}
	if n, ok := c.Models["default"]; ok {
		return n
	}
	return 200000
}
