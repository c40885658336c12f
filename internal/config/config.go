package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"phone-gate-bot/internal/duration"
)

type Config struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
	Store    StoreConfig    `mapstructure:"store"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Scripts  ScriptsConfig  `mapstructure:"scripts"`
	UI       UIConfig       `mapstructure:"ui"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	AdminID        int64         `mapstructure:"admin_id"`
	PollingTimeout int           `mapstructure:"polling_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type StoreConfig struct {
	AllowedFile string `mapstructure:"allowed_file"`
	TempFile    string `mapstructure:"temp_file"`
	// SweepInterval is a duration token (digits plus s/m/h/d/w/M/Y).
	SweepInterval string `mapstructure:"sweep_interval"`
}

type AuditConfig struct {
	DBPath   string `mapstructure:"db_path"`
	LogLimit int    `mapstructure:"log_limit"`
}

type ScriptsConfig struct {
	Restart string `mapstructure:"restart"`
	Update  string `mapstructure:"update"`
}

type UIConfig struct {
	PageSize int `mapstructure:"page_size"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	JSONFormat bool   `mapstructure:"json_format"`
}

func Load() (*Config, error) {
	// Optional .env preload; real env vars win.
	_ = godotenv.Load()

	v := viper.New()

	// Set defaults
	v.SetDefault("telegram.polling_timeout", 60)
	v.SetDefault("telegram.request_timeout", "5m")
	v.SetDefault("store.allowed_file", "data/phone_numbers.txt")
	v.SetDefault("store.temp_file", "data/temp_phone_numbers.json")
	v.SetDefault("store.sweep_interval", "1h")
	v.SetDefault("audit.db_path", "data/audit.db")
	v.SetDefault("audit.log_limit", 20)
	v.SetDefault("scripts.restart", "./restart_bot.sh")
	v.SetDefault("scripts.update", "./update_bot.sh")
	v.SetDefault("ui.page_size", 10)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.json_format", false)

	// Config file locations
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/phone-gate-bot")

	// Environment variables
	v.SetEnvPrefix("PHONE_BOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found is OK, use env vars and defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Telegram.BotToken == "" {
		return fmt.Errorf("telegram.bot_token is required")
	}
	if c.Telegram.AdminID == 0 {
		return fmt.Errorf("telegram.admin_id is required")
	}
	if _, err := duration.ParseInterval(c.Store.SweepInterval); err != nil {
		return fmt.Errorf("store.sweep_interval: %w", err)
	}
	if c.UI.PageSize < 1 {
		return fmt.Errorf("ui.page_size must be at least 1")
	}
	if c.Audit.LogLimit < 1 {
		return fmt.Errorf("audit.log_limit must be at least 1")
	}
	return nil
}
