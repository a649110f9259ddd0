package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	JWT        JWTConfig        `mapstructure:"jwt"`
	Portal     PortalConfig     `mapstructure:"portal"`
	Forms      FormsConfig      `mapstructure:"forms"`
	Gmail      GmailConfig      `mapstructure:"gmail"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Log        LogConfig        `mapstructure:"log"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Security   SecurityConfig   `mapstructure:"security"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	TimeZone        string        `mapstructure:"timezone"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type JWTConfig struct {
	Secret    string        `mapstructure:"secret"`
	Issuer    string        `mapstructure:"issuer"`
	ExpiresIn time.Duration `mapstructure:"expires_in"`
}

// PortalConfig 客户门户（token/OTP 登录）配置
type PortalConfig struct {
	BrandName      string        `mapstructure:"brand_name"`
	SupportEmail   string        `mapstructure:"support_email"`
	SessionSecret  string        `mapstructure:"session_secret"`
	SessionTTL     time.Duration `mapstructure:"session_ttl"`
	OTPTTL         time.Duration `mapstructure:"otp_ttl"`
	OTPLength      int           `mapstructure:"otp_length"`
	OTPMaxAttempts int           `mapstructure:"otp_max_attempts"`
}

// FormsConfig 表单提交相关配置
type FormsConfig struct {
	DefaultConfirmationMessage string `mapstructure:"default_confirmation_message"`
	MaxFieldsPerForm           int    `mapstructure:"max_fields_per_form"`
	MaxRulesPerForm            int    `mapstructure:"max_rules_per_form"`
}

// GmailConfig 邮件接入配置；OAuth 授权流程不在本服务内完成，只使用已保存的 token
type GmailConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	ClientID        string        `mapstructure:"client_id"`
	ClientSecret    string        `mapstructure:"client_secret"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	Query           string        `mapstructure:"query"`
	MaxThreads      int64         `mapstructure:"max_threads"`
	DefaultPriority string        `mapstructure:"default_priority"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// StorageConfig 附件对象存储（MinIO / S3 兼容）
type StorageConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Endpoint  string        `mapstructure:"endpoint"`
	AccessKey string        `mapstructure:"access_key"`
	SecretKey string        `mapstructure:"secret_key"`
	Bucket    string        `mapstructure:"bucket"`
	UseSSL    bool          `mapstructure:"use_ssl"`
	URLExpiry time.Duration `mapstructure:"url_expiry"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // json, text
	Output     string `mapstructure:"output"` // stdout, file, both
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`    // MB
	MaxAge     int    `mapstructure:"max_age"`     // days
	MaxBackups int    `mapstructure:"max_backups"` // number of backup files
	Compress   bool   `mapstructure:"compress"`
}

type MonitoringConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	MetricsPath string        `mapstructure:"metrics_path"`
	Tracing     TracingConfig `mapstructure:"tracing"`
}

// TracingConfig OpenTelemetry 追踪配置
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`     // OTLP gRPC 端点，例如 http://otel-collector:4317
	Insecure    bool    `mapstructure:"insecure"`     // 是否使用明文（本地/开发）
	SampleRatio float64 `mapstructure:"sample_ratio"` // 采样率 0.0~1.0
	ServiceName string  `mapstructure:"service_name"`
}

type SecurityConfig struct {
	CORS         CORSConfig         `mapstructure:"cors"`
	RBAC         RBACConfig         `mapstructure:"rbac"`
	RateLimiting RateLimitingConfig `mapstructure:"rate_limiting"`
}

type CORSConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

// RBACConfig 角色到权限的映射；未启用时使用内置默认映射
type RBACConfig struct {
	Enabled bool                `mapstructure:"enabled"`
	Roles   map[string][]string `mapstructure:"roles"`
}

type RateLimitingConfig struct {
	Enabled           bool                  `mapstructure:"enabled"`
	RequestsPerMinute int                   `mapstructure:"requests_per_minute"`
	Burst             int                   `mapstructure:"burst"`
	Paths             []PathRateLimitConfig `mapstructure:"paths"`
	KeyHeader         string                `mapstructure:"key_header"`
	WhitelistIPs      []string              `mapstructure:"whitelist_ips"`
	WhitelistKeys     []string              `mapstructure:"whitelist_keys"`
}

// PathRateLimitConfig 按路径前缀覆盖限流参数
type PathRateLimitConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	Prefix            string `mapstructure:"prefix"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute"`
	Burst             int    `mapstructure:"burst"`
}

// Load 以默认配置为底，覆盖 viper 中已读取的配置项
func Load() *Config {
	cfg := GetDefaultConfig()
	if err := viper.Unmarshal(cfg); err != nil {
		panic(err)
	}
	return cfg
}

// ConnString 组装 Postgres 连接串；显式配置的 dsn 优先
func (d DatabaseConfig) ConnString() string {
	if strings.TrimSpace(d.DSN) != "" {
		return d.DSN
	}
	ssl := d.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	tz := d.TimeZone
	if tz == "" {
		tz = "UTC"
	}
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s TimeZone=%s",
		d.Host, d.User, d.Password, d.Name, d.Port, ssl, tz)
}

// GetDefaultConfig 返回默认配置
func GetDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "postgres",
			Password:        "password",
			Name:            "supportdesk",
			SSLMode:         "disable",
			TimeZone:        "UTC",
			MaxOpenConns:    50,
			MaxIdleConns:    10,
			ConnMaxLifetime: 3600 * time.Second,
		},
		JWT: JWTConfig{
			Secret:    "default-secret-key",
			Issuer:    "supportdesk",
			ExpiresIn: 24 * time.Hour,
		},
		Portal: PortalConfig{
			BrandName:      "Support",
			SessionSecret:  "default-portal-secret",
			SessionTTL:     7 * 24 * time.Hour,
			OTPTTL:         10 * time.Minute,
			OTPLength:      6,
			OTPMaxAttempts: 5,
		},
		Forms: FormsConfig{
			DefaultConfirmationMessage: "Thank you! Your response has been submitted.",
			MaxFieldsPerForm:           100,
			MaxRulesPerForm:            50,
		},
		Gmail: GmailConfig{
			Enabled:         false,
			PollInterval:    2 * time.Minute,
			Query:           "in:inbox newer_than:7d",
			MaxThreads:      50,
			DefaultPriority: "medium",
			Timeout:         30 * time.Second,
		},
		Storage: StorageConfig{
			Enabled:   false,
			Endpoint:  "localhost:9000",
			Bucket:    "supportdesk-attachments",
			UseSSL:    false,
			URLExpiry: 15 * time.Minute,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			FilePath:   "./logs/supportdesk.log",
			MaxSize:    100,
			MaxAge:     7,
			MaxBackups: 3,
			Compress:   true,
		},
		Monitoring: MonitoringConfig{
			Enabled:     true,
			MetricsPath: "/metrics",
			Tracing: TracingConfig{
				Enabled:     false,
				Endpoint:    "http://localhost:4317",
				Insecure:    true,
				SampleRatio: 0.1,
				ServiceName: "supportdesk",
			},
		},
		Security: SecurityConfig{
			CORS: CORSConfig{
				Enabled:        true,
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE"},
				AllowedHeaders: []string{"*"},
			},
			RateLimiting: RateLimitingConfig{
				Enabled:           true,
				RequestsPerMinute: 120,
				Burst:             20,
				Paths: []PathRateLimitConfig{
					{Enabled: true, Prefix: "/public/", RequestsPerMinute: 30, Burst: 10},
					{Enabled: true, Prefix: "/portal/:company/:client/otp", RequestsPerMinute: 10, Burst: 5},
					{Enabled: true, Prefix: "/portal/token", RequestsPerMinute: 10, Burst: 5},
				},
			},
		},
	}
}
