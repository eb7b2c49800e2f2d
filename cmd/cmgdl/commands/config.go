package commands

import (
	"errors"
	"fmt"
	"os"
	"time"

	"cmgdl/internal/components/configutil"
	"cmgdl/internal/components/telemetry"
	"cmgdl/internal/scrapers/caimogu"
)

type TelegramConfig struct {
	Token string `json:"token"`
	// logs every bot api request
	Debug bool `json:"debug"`
}

type Config struct {
	// raw cookie header of a logged in caimogu session
	Cookies                    string           `json:"cookies"`
	BaseUrl                    string           `json:"base_url"`
	TimeoutSeconds             int              `json:"timeout_seconds"`
	RequestsPerSecond          float64          `json:"requests_per_second"`
	CloudflareBypass           bool             `json:"cloudflare_bypass"`
	Database                   string           `json:"database"`
	ConversationTimeoutSeconds int              `json:"conversation_timeout_seconds"`
	Telegram                   TelegramConfig   `json:"telegram"`
	Telemetry                  telemetry.Config `json:"telemetry"`
	Debug                      bool             `json:"debug"`
	// writes every caimogu request/response pair into this directory
	DumpHttpDir string `json:"dump_http_dir"`
}

func (c *Config) applyDefaults() {
	if c.BaseUrl == "" {
		c.BaseUrl = caimogu.DefaultBaseUrl
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = int(caimogu.DefaultTimeout / time.Second)
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = caimogu.DefaultRequestsPerSecond
	}
	if c.Database == "" {
		c.Database = "cmgdl.db"
	}
	if c.ConversationTimeoutSeconds <= 0 {
		c.ConversationTimeoutSeconds = 300
	}
}

// ClientOptions validates the caimogu part of the config.
func (c Config) ClientOptions() (caimogu.ClientOptions, error) {
	if c.Cookies == "" {
		return caimogu.ClientOptions{}, fmt.Errorf("config: cookies is required")
	}
	cookies, err := caimogu.ParseCookies(c.Cookies)
	if err != nil {
		return caimogu.ClientOptions{}, fmt.Errorf("config: %w", err)
	}
	return caimogu.ClientOptions{
		BaseUrl:           c.BaseUrl,
		Cookies:           cookies,
		Timeout:           time.Duration(c.TimeoutSeconds) * time.Second,
		RequestsPerSecond: c.RequestsPerSecond,
		CloudflareBypass:  c.CloudflareBypass,
		DumpDir:           c.DumpHttpDir,
	}, nil
}

func (c Config) ConversationTimeout() time.Duration {
	return time.Duration(c.ConversationTimeoutSeconds) * time.Second
}

// LoadConfig reads `path` (and its .local override) and fills in defaults.
func LoadConfig(path string) (Config, error) {
	cfg, err := configutil.ReadConfig[Config](path)
	if errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("config: neither %s nor %s exist", path, configutil.LocalPath(path))
	}
	if err != nil {
		return Config{}, err
	}
	cfg.applyDefaults()
	_, err = cfg.ClientOptions()
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}
