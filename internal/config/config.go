// Package config содержит логику чтения конфигурации бота вознаграждений.
package config

import (
	"errors"
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры запуска бота.
type Config struct {
	BotToken    string `env:"BOT_TOKEN"`
	AdminID     int64  `env:"ADMIN_USER_ID"`
	DatabaseURI string `env:"DATABASE_URI"`
	WebhookURL  string `env:"WEBHOOK_URL"`
	RunAddress  string `env:"RUN_ADDRESS"`
}

// Parse считывает конфигурацию из переменных окружения и флагов
// командной строки. Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envBotToken := cfg.BotToken
	envAdminID := cfg.AdminID
	envDatabaseURI := cfg.DatabaseURI
	envWebhookURL := cfg.WebhookURL
	envRunAddress := cfg.RunAddress

	flag.StringVar(&cfg.BotToken, "t", "", "telegram bot token")
	flag.Int64Var(&cfg.AdminID, "admin", 0, "telegram id of the root account")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.WebhookURL, "w", "", "public webhook base URL (polling mode when empty)")
	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for the webhook server")

	flag.Parse()

	if envBotToken != "" {
		cfg.BotToken = envBotToken
	}
	if envAdminID != 0 {
		cfg.AdminID = envAdminID
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envWebhookURL != "" {
		cfg.WebhookURL = envWebhookURL
	}
	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	return cfg, cfg.validate()
}

// validate проверяет обязательные параметры. Без токена, root-аккаунта
// и базы данных бот не должен обслуживать трафик вовсе.
func (c *Config) validate() error {
	if c.BotToken == "" {
		return errors.New("BOT_TOKEN is required")
	}
	if c.AdminID == 0 {
		return errors.New("ADMIN_USER_ID is required")
	}
	if c.DatabaseURI == "" {
		return errors.New("DATABASE_URI is required")
	}
	return nil
}
