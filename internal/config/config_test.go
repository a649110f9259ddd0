package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	if cfg.Server.Host == "" {
		t.Error("expected Server.Host to be set")
	}
	if cfg.Server.Port == 0 {
		t.Error("expected Server.Port to be non-zero")
	}
	if cfg.Database.Name == "" {
		t.Error("expected Database.Name to be set")
	}
	if cfg.JWT.Secret == "" {
		t.Error("expected JWT.Secret to be set")
	}
	if cfg.Log.Level == "" {
		t.Error("expected Log.Level to be set")
	}
}

func TestConfig_PortalDefaults(t *testing.T) {
	cfg := GetDefaultConfig()

	if cfg.Portal.SessionSecret == "" {
		t.Error("expected portal session secret to be set")
	}
	if cfg.Portal.OTPTTL <= 0 {
		t.Error("expected OTP ttl to be positive")
	}
	if cfg.Portal.OTPLength < 4 {
		t.Errorf("expected OTP length >= 4, got %d", cfg.Portal.OTPLength)
	}
	if cfg.Portal.OTPMaxAttempts == 0 {
		t.Error("expected OTP max attempts to be set")
	}
}

func TestConfig_FormsDefaults(t *testing.T) {
	cfg := GetDefaultConfig()

	if strings.TrimSpace(cfg.Forms.DefaultConfirmationMessage) == "" {
		t.Error("expected default confirmation message")
	}
	if cfg.Forms.MaxRulesPerForm == 0 || cfg.Forms.MaxFieldsPerForm == 0 {
		t.Error("expected form limits to be set")
	}
}

func TestConfig_GmailDisabledByDefault(t *testing.T) {
	cfg := GetDefaultConfig()

	if cfg.Gmail.Enabled {
		t.Error("gmail sync should be opt-in")
	}
	if cfg.Gmail.PollInterval == 0 {
		t.Error("expected gmail poll interval to be set")
	}
	if cfg.Gmail.MaxThreads == 0 {
		t.Error("expected gmail max threads to be set")
	}
}

func TestConfig_SecurityDefaults(t *testing.T) {
	cfg := GetDefaultConfig()

	if !cfg.Security.CORS.Enabled {
		t.Error("expected CORS to be enabled")
	}
	if !cfg.Security.RateLimiting.Enabled {
		t.Error("expected rate limiting to be enabled")
	}
	found := false
	for _, p := range cfg.Security.RateLimiting.Paths {
		if p.Prefix == "/public/" {
			found = true
		}
	}
	if !found {
		t.Error("expected a rate limit override for public form submissions")
	}
}

func TestDatabaseConfig_ConnString(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 6543, User: "u", Password: "p", Name: "desk"}
	got := d.ConnString()
	want := "host=db user=u password=p dbname=desk port=6543 sslmode=disable TimeZone=UTC"
	if got != want {
		t.Fatalf("ConnString() = %q, want %q", got, want)
	}

	d.DSN = "postgres://x"
	if d.ConnString() != "postgres://x" {
		t.Fatalf("explicit dsn should win, got %q", d.ConnString())
	}
}

func TestLoad_OverridesDefaults(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	viper.Set("server.port", 9090)
	viper.Set("portal.otp_ttl", "5m")
	viper.Set("forms.default_confirmation_message", "Thanks")

	cfg := Load()
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Portal.OTPTTL != 5*time.Minute {
		t.Errorf("otp ttl = %v, want 5m", cfg.Portal.OTPTTL)
	}
	if cfg.Forms.DefaultConfirmationMessage != "Thanks" {
		t.Errorf("confirmation message = %q", cfg.Forms.DefaultConfirmationMessage)
	}
	// 未覆盖的项保持默认
	if cfg.Database.Name != "supportdesk" {
		t.Errorf("database name = %q, want default", cfg.Database.Name)
	}
}

func TestInitLogger_File(t *testing.T) {
	dir := t.TempDir()
	cfg := GetDefaultConfig()
	cfg.Log.Output = "file"
	cfg.Log.Format = "text"
	cfg.Log.Level = "debug"
	cfg.Log.FilePath = filepath.Join(dir, "nested", "app.log")

	logger, err := InitLogger(cfg)
	if err != nil {
		t.Fatalf("InitLogger: %v", err)
	}
	defer logger.SetOutput(os.Stdout)

	if logger.GetLevel() != logrus.DebugLevel {
		t.Errorf("level = %v, want debug", logger.GetLevel())
	}
	if _, err := os.Stat(filepath.Join(dir, "nested")); err != nil {
		t.Errorf("expected log directory to be created: %v", err)
	}
}
