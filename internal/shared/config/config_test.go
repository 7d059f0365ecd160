package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "inkwell", cfg.Database.Database)
	assert.Equal(t, 4, cfg.Webhook.Workers)
	assert.Equal(t, 256, cfg.Webhook.QueueSize)
	assert.Equal(t, "0 0 1 * *", cfg.Jobs.UsageResetSchedule)
	assert.Equal(t, "sandbox", cfg.PayPal.Mode)
	assert.False(t, cfg.Stripe.Enabled())
	assert.False(t, cfg.PayPal.Enabled())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("INKWELL_SERVER_ADDRESS", ":9090")
	t.Setenv("INKWELL_STRIPE_PRICE_ID_PRO", "price_pro")
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_123")
	t.Setenv("INKWELL_JWT_SECRET", "jwt-secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Address)
	assert.Equal(t, "price_pro", cfg.Stripe.PriceIDPro)
	assert.Equal(t, "sk_test_123", cfg.Stripe.SecretKey)
	assert.Equal(t, "jwt-secret", cfg.Auth.JWTSecret)
	assert.True(t, cfg.Stripe.Enabled())
}

func TestPayPalConfig_IsLive(t *testing.T) {
	tests := []struct {
		mode string
		want bool
	}{
		{"", false},
		{"sandbox", false},
		{"https://api-m.sandbox.paypal.com", false},
		{"live", true},
	}

	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			c := PayPalConfig{Mode: tt.mode}
			assert.Equal(t, tt.want, c.IsLive())
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	c := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", Database: "d", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=d sslmode=disable", c.DSN())
}

func TestApplyFrontendDefaults(t *testing.T) {
	cfg := &Config{Server: ServerConfig{FrontendURL: "https://app.example.com/"}}
	cfg.Stripe.CancelURL = "https://custom/cancel"
	cfg.ApplyFrontendDefaults()

	assert.Equal(t, "https://app.example.com/account?success=true&session_id={CHECKOUT_SESSION_ID}", cfg.Stripe.SuccessURL)
	assert.Equal(t, "https://custom/cancel", cfg.Stripe.CancelURL)
	assert.Equal(t, "https://app.example.com/account", cfg.Stripe.PortalReturnURL)
	assert.Equal(t, "https://app.example.com/subscription", cfg.PayPal.ReturnURL)
}
