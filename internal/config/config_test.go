package config

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

var configEnvKeys = []string{
	"HOST", "PORT", "DATABASE_PATH", "LOG_LEVEL", "BMKG_API_URL",
	"ADMIN_USERNAME", "ADMIN_PASSWORD", "DEMO_MODE", "TELEGRAM_BOT_TOKEN",
	"SMTP_HOST", "SMTP_PORT", "SMTP_USER", "SMTP_PASSWORD", "SMTP_FROM",
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		want    *Config
		wantErr bool
	}{
		{
			name: "defaults",
			env:  map[string]string{},
			want: &Config{
				Host:          "0.0.0.0",
				Port:          8099,
				DatabasePath:  "./data/bmkg_alert.db",
				LogLevel:      "info",
				BMKGAPIURL:    "https://bmkg-restapi.vercel.app",
				AdminUsername: "admin",
				AdminPassword: "changeme",
				SMTPPort:      587,
				SMTPFrom:      "noreply@bmkg-alert.com",
			},
		},
		{
			name: "all values set",
			env: map[string]string{
				"HOST":               "127.0.0.1",
				"PORT":               "9000",
				"DATABASE_PATH":      "/tmp/alerts.db",
				"LOG_LEVEL":          "debug",
				"BMKG_API_URL":       "http://localhost:3000",
				"ADMIN_USERNAME":     "ops",
				"ADMIN_PASSWORD":     "s3cret",
				"DEMO_MODE":          "true",
				"TELEGRAM_BOT_TOKEN": "123:abc",
				"SMTP_HOST":          "smtp.example.com",
				"SMTP_PORT":          "465",
				"SMTP_USER":          "mailer",
				"SMTP_PASSWORD":      "mailpass",
				"SMTP_FROM":          "alerts@example.com",
			},
			want: &Config{
				Host:             "127.0.0.1",
				Port:             9000,
				DatabasePath:     "/tmp/alerts.db",
				LogLevel:         "debug",
				BMKGAPIURL:       "http://localhost:3000",
				AdminUsername:    "ops",
				AdminPassword:    "s3cret",
				DemoMode:         true,
				TelegramBotToken: "123:abc",
				SMTPHost:         "smtp.example.com",
				SMTPPort:         465,
				SMTPUser:         "mailer",
				SMTPPassword:     "mailpass",
				SMTPFrom:         "alerts@example.com",
			},
		},
		{
			name:    "invalid port",
			env:     map[string]string{"PORT": "not-a-port"},
			wantErr: true,
		},
		{
			name:    "invalid demo mode",
			env:     map[string]string{"DEMO_MODE": "maybe"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Clear relevant env vars
			for _, key := range configEnvKeys {
				t.Setenv(key, "")
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			got, err := Load()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Load() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestAddr(t *testing.T) {
	cfg := &Config{Host: "0.0.0.0", Port: 8099}
	if got := cfg.Addr(); got != "0.0.0.0:8099" {
		t.Errorf("Addr() = %q, want %q", got, "0.0.0.0:8099")
	}
}
