// Package config loads startup configuration from environment variables,
// with an optional config.yaml for local development. Viper handles both.
package config

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds every tunable the bot needs at startup.
type Config struct {
	BotToken    string `mapstructure:"BOT_TOKEN"`
	AdminUserID int64  `mapstructure:"ADMIN_USER_ID"`
	DBPath      string `mapstructure:"DB_PATH"`

	// Base64-encoded 32-byte AES key. Must stay stable across restarts
	// or previously persisted account fields become undecryptable.
	EncryptionKey string `mapstructure:"ENCRYPTION_KEY"`

	InterestRate    float64       `mapstructure:"INTEREST_RATE"`
	TargetClicks    int64         `mapstructure:"TARGET_CLICKS"`
	ClickCooldown   time.Duration `mapstructure:"CLICK_COOLDOWN"`
	ConfirmCooldown time.Duration `mapstructure:"CONFIRM_COOLDOWN"`
	PendingTTL      time.Duration `mapstructure:"PENDING_TTL"`
}

// Load reads configuration from the environment, falling back to
// config.yaml in the working directory when present.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("DB_PATH", "user_data.db")
	v.SetDefault("INTEREST_RATE", 0.00005)
	v.SetDefault("TARGET_CLICKS", 1000)
	v.SetDefault("CLICK_COOLDOWN", 1500*time.Millisecond)
	v.SetDefault("CONFIRM_COOLDOWN", 2*time.Second)
	v.SetDefault("PENDING_TTL", 24*time.Hour)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}
	v.AutomaticEnv()

	// AutomaticEnv alone does not bind keys that only exist as env vars.
	for _, key := range []string{
		"BOT_TOKEN", "ADMIN_USER_ID", "DB_PATH", "ENCRYPTION_KEY",
		"INTEREST_RATE", "TARGET_CLICKS", "CLICK_COOLDOWN",
		"CONFIRM_COOLDOWN", "PENDING_TTL",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.BotToken == "" {
		return fmt.Errorf("BOT_TOKEN is required")
	}
	if c.AdminUserID == 0 {
		return fmt.Errorf("ADMIN_USER_ID is required")
	}
	if _, err := c.CipherKey(); err != nil {
		return err
	}
	if c.InterestRate <= 0 {
		return fmt.Errorf("INTEREST_RATE must be positive, got %v", c.InterestRate)
	}
	if c.TargetClicks <= 0 {
		return fmt.Errorf("TARGET_CLICKS must be positive, got %d", c.TargetClicks)
	}
	return nil
}

// CipherKey decodes the configured encryption key and checks its length.
func (c *Config) CipherKey() ([]byte, error) {
	if c.EncryptionKey == "" {
		return nil, fmt.Errorf("ENCRYPTION_KEY is required")
	}
	key, err := base64.StdEncoding.DecodeString(c.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("ENCRYPTION_KEY is not valid base64: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("ENCRYPTION_KEY must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}
