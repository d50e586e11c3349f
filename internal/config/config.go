// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
)

// Config holds the application configuration.
type Config struct {
	Host         string
	Port         int
	DatabasePath string
	LogLevel     string

	// BMKGAPIURL is the base URL of the BMKG REST proxy the poller fetches
	// nowcast bulletins from.
	BMKGAPIURL string

	AdminUsername string
	AdminPassword string

	// DemoMode makes every mutating dashboard endpoint require admin
	// credentials while keeping reads and trial signup open.
	DemoMode bool

	// TelegramBotToken is the system bot used for trial subscriptions.
	// Optional; trials degrade to registration-only when unset.
	TelegramBotToken string

	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	SMTPFrom     string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	host := os.Getenv("HOST")
	if host == "" {
		host = "0.0.0.0"
	}

	port, err := intEnv("PORT", 8099)
	if err != nil {
		return nil, err
	}

	dbPath := os.Getenv("DATABASE_PATH")
	if dbPath == "" {
		dbPath = "./data/bmkg_alert.db"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}

	apiURL := os.Getenv("BMKG_API_URL")
	if apiURL == "" {
		apiURL = "https://bmkg-restapi.vercel.app"
	}

	adminUser := os.Getenv("ADMIN_USERNAME")
	if adminUser == "" {
		adminUser = "admin"
	}

	adminPass := os.Getenv("ADMIN_PASSWORD")
	if adminPass == "" {
		adminPass = "changeme"
	}

	demoMode := false
	if raw := os.Getenv("DEMO_MODE"); raw != "" {
		demoMode, err = strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid DEMO_MODE %q: %w", raw, err)
		}
	}

	smtpPort, err := intEnv("SMTP_PORT", 587)
	if err != nil {
		return nil, err
	}

	smtpFrom := os.Getenv("SMTP_FROM")
	if smtpFrom == "" {
		smtpFrom = "noreply@bmkg-alert.com"
	}

	return &Config{
		Host:             host,
		Port:             port,
		DatabasePath:     dbPath,
		LogLevel:         logLevel,
		BMKGAPIURL:       apiURL,
		AdminUsername:    adminUser,
		AdminPassword:    adminPass,
		DemoMode:         demoMode,
		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		SMTPHost:         os.Getenv("SMTP_HOST"),
		SMTPPort:         smtpPort,
		SMTPUser:         os.Getenv("SMTP_USER"),
		SMTPPassword:     os.Getenv("SMTP_PASSWORD"),
		SMTPFrom:         smtpFrom,
	}, nil
}

// Addr returns the host:port the HTTP server listens on.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func intEnv(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}
