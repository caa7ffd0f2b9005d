package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// SourceConfig describes one registered adapter instance.
type SourceConfig struct {
	ID         string `yaml:"id"`
	Kind       string `yaml:"kind"` // nato | madara | mangadex
	Name       string `yaml:"name"`
	BaseURL    string `yaml:"base_url"`
	Lang       string `yaml:"lang"`
	Restricted bool   `yaml:"restricted"`
	Enabled    *bool  `yaml:"enabled"`
}

func (s SourceConfig) IsEnabled() bool { return s.Enabled == nil || *s.Enabled }

type TransportConfig struct {
	UserAgent      string        `yaml:"user_agent"`
	Timeout        time.Duration `yaml:"timeout"`
	RPS            float64       `yaml:"rps"`
	Burst          int           `yaml:"burst"`
	MaxRetries     int           `yaml:"max_retries"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
	// Breaker settings, applied per host.
	CBFailureThreshold uint32        `yaml:"cb_failure_threshold"`
	CBTimeout          time.Duration `yaml:"cb_timeout"`
}

type SyncConfig struct {
	BatchSize    int           `yaml:"batch_size"`
	BatchDelay   time.Duration `yaml:"batch_delay"`
	Workers      int           `yaml:"workers"`
	Interval     time.Duration `yaml:"interval"` // 0 disables the scheduler
	AutoDownload bool          `yaml:"auto_download"`
}

type DownloadConfig struct {
	Dir          string        `yaml:"dir"`
	Workers      int           `yaml:"workers"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type AppConfig struct {
	LogLevel        string          `yaml:"log_level"`
	DBPath          string          `yaml:"db_path"`
	HTTPAddr        string          `yaml:"http_addr"`
	TCPAddr         string          `yaml:"tcp_addr"`
	GRPCAddr        string          `yaml:"grpc_addr"`
	RedisURL        string          `yaml:"redis_url"`
	NATSURL         string          `yaml:"nats_url"`
	CacheTTL        time.Duration   `yaml:"cache_ttl"`
	HistoryInterval time.Duration   `yaml:"history_interval"`
	Transport       TransportConfig `yaml:"transport"`
	Sync            SyncConfig      `yaml:"sync"`
	Download        DownloadConfig  `yaml:"download"`
	Sources         []SourceConfig  `yaml:"sources"`
}

func DefaultConfig() AppConfig {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return AppConfig{
		LogLevel:        "info",
		DBPath:          filepath.Join(home, ".mangashelf", "data.db"),
		HTTPAddr:        ":8080",
		TCPAddr:         ":9090",
		GRPCAddr:        ":9091",
		CacheTTL:        10 * time.Minute,
		HistoryInterval: time.Minute,
		Transport: TransportConfig{
			UserAgent:          "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:128.0) Gecko/20100101 Firefox/128.0",
			Timeout:            20 * time.Second,
			RPS:                2,
			Burst:              4,
			MaxRetries:         3,
			RetryBaseDelay:     500 * time.Millisecond,
			CBFailureThreshold: 5,
			CBTimeout:          30 * time.Second,
		},
		Sync: SyncConfig{
			BatchSize:  10,
			BatchDelay: time.Second,
			Workers:    3,
		},
		Download: DownloadConfig{
			Dir:          filepath.Join(home, ".mangashelf", "downloads"),
			Workers:      2,
			PollInterval: 5 * time.Second,
		},
		Sources: []SourceConfig{
			{ID: "manganato", Kind: "nato", Name: "Manganato", BaseURL: "https://www.natomanga.com", Lang: "en"},
			{ID: "mangaread", Kind: "madara", Name: "MangaRead", BaseURL: "https://www.mangaread.org", Lang: "en"},
			{ID: "toonily", Kind: "madara", Name: "Toonily", BaseURL: "https://toonily.com", Lang: "en", Restricted: true},
			{ID: "mangadex", Kind: "mangadex", Name: "MangaDex", BaseURL: "https://api.mangadex.org", Lang: "en"},
		},
	}
}

// LoadConfig layers defaults, the optional YAML file named by
// MANGASHELF_CONFIG, and MANGASHELF_* environment overrides.
func LoadConfig() (AppConfig, error) {
	cfg := DefaultConfig()

	if path := strings.TrimSpace(os.Getenv("MANGASHELF_CONFIG")); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return AppConfig{}, err
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

// LoadFile overlays the YAML document at path onto c.
func (c *AppConfig) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *AppConfig) applyEnv() {
	c.LogLevel = envString("MANGASHELF_LOG_LEVEL", c.LogLevel)
	c.DBPath = envString("MANGASHELF_DB_PATH", c.DBPath)
	c.HTTPAddr = envString("MANGASHELF_HTTP_ADDR", c.HTTPAddr)
	c.TCPAddr = envString("MANGASHELF_TCP_ADDR", c.TCPAddr)
	c.GRPCAddr = envString("MANGASHELF_GRPC_ADDR", c.GRPCAddr)
	c.RedisURL = envString("MANGASHELF_REDIS_URL", c.RedisURL)
	c.NATSURL = envString("MANGASHELF_NATS_URL", c.NATSURL)
	c.CacheTTL = envDuration("MANGASHELF_CACHE_TTL", c.CacheTTL)
	c.HistoryInterval = envDuration("MANGASHELF_HISTORY_INTERVAL", c.HistoryInterval)

	c.Transport.UserAgent = envString("MANGASHELF_USER_AGENT", c.Transport.UserAgent)
	c.Transport.Timeout = envDuration("MANGASHELF_TRANSPORT_TIMEOUT", c.Transport.Timeout)
	c.Transport.RPS = envFloat("MANGASHELF_TRANSPORT_RPS", c.Transport.RPS)
	c.Transport.Burst = envInt("MANGASHELF_TRANSPORT_BURST", c.Transport.Burst)
	c.Transport.MaxRetries = envInt("MANGASHELF_TRANSPORT_MAX_RETRIES", c.Transport.MaxRetries)

	c.Sync.BatchSize = envInt("MANGASHELF_SYNC_BATCH_SIZE", c.Sync.BatchSize)
	c.Sync.BatchDelay = envDuration("MANGASHELF_SYNC_BATCH_DELAY", c.Sync.BatchDelay)
	c.Sync.Workers = envInt("MANGASHELF_SYNC_WORKERS", c.Sync.Workers)
	c.Sync.Interval = envDuration("MANGASHELF_SYNC_INTERVAL", c.Sync.Interval)
	c.Sync.AutoDownload = envBool("MANGASHELF_SYNC_AUTO_DOWNLOAD", c.Sync.AutoDownload)

	c.Download.Dir = envString("MANGASHELF_DOWNLOAD_DIR", c.Download.Dir)
	c.Download.Workers = envInt("MANGASHELF_DOWNLOAD_WORKERS", c.Download.Workers)
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
