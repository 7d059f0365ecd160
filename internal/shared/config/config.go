package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Stripe       StripeConfig       `mapstructure:"stripe"`
	PayPal       PayPalConfig       `mapstructure:"paypal"`
	Email        EmailConfig        `mapstructure:"email"`
	Webhook      WebhookConfig      `mapstructure:"webhook"`
	Notification NotificationConfig `mapstructure:"notification"`
	Jobs         JobsConfig         `mapstructure:"jobs"`
	Log          LogConfig          `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address      string        `mapstructure:"address"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	FrontendURL  string        `mapstructure:"frontend_url"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN returns the database connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

// StripeConfig holds Stripe configuration.
type StripeConfig struct {
	SecretKey         string `mapstructure:"secret_key"`
	WebhookSecret     string `mapstructure:"webhook_secret"`
	PriceIDPro        string `mapstructure:"price_id_pro"`
	PriceIDEnterprise string `mapstructure:"price_id_enterprise"`
	SuccessURL        string `mapstructure:"success_url"`
	CancelURL         string `mapstructure:"cancel_url"`
	PortalReturnURL   string `mapstructure:"portal_return_url"`
}

// Enabled reports whether Stripe credentials are configured.
func (c *StripeConfig) Enabled() bool {
	return c.SecretKey != ""
}

// PayPalConfig holds PayPal configuration.
type PayPalConfig struct {
	Mode             string `mapstructure:"mode"` // sandbox, live
	ClientID         string `mapstructure:"client_id"`
	ClientSecret     string `mapstructure:"client_secret"`
	WebhookID        string `mapstructure:"webhook_id"`
	PlanIDPro        string `mapstructure:"plan_id_pro"`
	PlanIDEnterprise string `mapstructure:"plan_id_enterprise"`
	BrandName        string `mapstructure:"brand_name"`
	ReturnURL        string `mapstructure:"return_url"`
	CancelURL        string `mapstructure:"cancel_url"`
}

// Enabled reports whether PayPal credentials are configured.
func (c *PayPalConfig) Enabled() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// IsLive reports whether the live API is configured. Anything that is not
// clearly live, including an empty mode, uses the sandbox.
func (c *PayPalConfig) IsLive() bool {
	mode := strings.ToLower(c.Mode)
	return mode != "" && !strings.Contains(mode, "sandbox")
}

// EmailConfig holds SMTP configuration.
type EmailConfig struct {
	SMTPHost     string `mapstructure:"smtp_host"`
	SMTPPort     int    `mapstructure:"smtp_port"`
	SMTPUser     string `mapstructure:"smtp_user"`
	SMTPPassword string `mapstructure:"smtp_password"`
	FromEmail    string `mapstructure:"from_email"`
}

// WebhookConfig holds async webhook dispatch configuration.
type WebhookConfig struct {
	Workers   int `mapstructure:"workers"`
	QueueSize int `mapstructure:"queue_size"`
}

// NotificationConfig holds notification dedup cache configuration.
type NotificationConfig struct {
	CacheSize int           `mapstructure:"cache_size"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
}

// JobsConfig holds scheduled job configuration.
type JobsConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	UsageResetSchedule string `mapstructure:"usage_reset_schedule"`
	QuotaSweepSchedule string `mapstructure:"quota_sweep_schedule"`
}

// ApplyFrontendDefaults fills provider redirect URLs left empty from the
// frontend base URL.
func (c *Config) ApplyFrontendDefaults() {
	base := strings.TrimRight(c.Server.FrontendURL, "/")
	setIfEmpty := func(dst *string, v string) {
		if *dst == "" {
			*dst = v
		}
	}
	setIfEmpty(&c.Stripe.SuccessURL, base+"/account?success=true&session_id={CHECKOUT_SESSION_ID}")
	setIfEmpty(&c.Stripe.CancelURL, base+"/account?canceled=true")
	setIfEmpty(&c.Stripe.PortalReturnURL, base+"/account")
	setIfEmpty(&c.PayPal.ReturnURL, base+"/subscription")
	setIfEmpty(&c.PayPal.CancelURL, base+"/subscription?canceled=true")
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load loads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/inkwell")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found, use defaults and env
	}

	v.SetEnvPrefix("INKWELL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override with environment variables for sensitive values
	if secret := os.Getenv("INKWELL_JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	if password := os.Getenv("INKWELL_DB_PASSWORD"); password != "" {
		cfg.Database.Password = password
	}
	if password := os.Getenv("INKWELL_REDIS_PASSWORD"); password != "" {
		cfg.Redis.Password = password
	}
	if key := os.Getenv("STRIPE_SECRET_KEY"); key != "" {
		cfg.Stripe.SecretKey = key
	}
	if secret := os.Getenv("STRIPE_WEBHOOK_SECRET"); secret != "" {
		cfg.Stripe.WebhookSecret = secret
	}
	if secret := os.Getenv("PAYPAL_CLIENT_SECRET"); secret != "" {
		cfg.PayPal.ClientSecret = secret
	}
	if password := os.Getenv("INKWELL_SMTP_PASSWORD"); password != "" {
		cfg.Email.SMTPPassword = password
	}

	cfg.ApplyFrontendDefaults()
	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.frontend_url", "http://localhost:3000")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.database", "inkwell")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", 30*time.Minute)
	v.SetDefault("database.auto_migrate", true)

	// Redis defaults
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.db", 0)

	// Auth defaults
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "inkwell")

	// Stripe defaults (empty keys still need registering for env binding)
	v.SetDefault("stripe.secret_key", "")
	v.SetDefault("stripe.webhook_secret", "")
	v.SetDefault("stripe.price_id_pro", "")
	v.SetDefault("stripe.price_id_enterprise", "")
	v.SetDefault("stripe.success_url", "")
	v.SetDefault("stripe.cancel_url", "")
	v.SetDefault("stripe.portal_return_url", "")

	// PayPal defaults
	v.SetDefault("paypal.mode", "sandbox")
	v.SetDefault("paypal.client_id", "")
	v.SetDefault("paypal.client_secret", "")
	v.SetDefault("paypal.webhook_id", "")
	v.SetDefault("paypal.plan_id_pro", "")
	v.SetDefault("paypal.plan_id_enterprise", "")
	v.SetDefault("paypal.brand_name", "Inkwell")
	v.SetDefault("paypal.return_url", "")
	v.SetDefault("paypal.cancel_url", "")

	// Email defaults
	v.SetDefault("email.smtp_host", "")
	v.SetDefault("email.smtp_user", "")
	v.SetDefault("email.smtp_port", 587)
	v.SetDefault("email.from_email", "noreply@inkwell.local")

	// Webhook defaults
	v.SetDefault("webhook.workers", 4)
	v.SetDefault("webhook.queue_size", 256)

	// Notification defaults
	v.SetDefault("notification.cache_size", 10000)
	v.SetDefault("notification.cache_ttl", 32*24*time.Hour)

	// Jobs defaults
	v.SetDefault("jobs.enabled", true)
	v.SetDefault("jobs.usage_reset_schedule", "0 0 1 * *")
	v.SetDefault("jobs.quota_sweep_schedule", "0 9 * * *")

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}
