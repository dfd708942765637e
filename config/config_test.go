package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("WALLET_ENABLED", "")
	t.Setenv("SECURITY_BLACKLISTED_IPS", " 10.0.0.1, ,10.0.0.2 ")

	cfg := Load()

	assert.Equal(t, 10, cfg.Security.PaymentRatePerMinute)
	assert.Equal(t, 100, cfg.Security.CartRatePerMinute)
	assert.Equal(t, 7, cfg.Draft.StaleDays)
	assert.Equal(t, 24*time.Hour, cfg.Draft.SweepInterval)
	assert.Equal(t, 900, cfg.LoginFailure.WindowSeconds)
	assert.Equal(t, 5, cfg.LoginFailure.AlertThreshold)
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, cfg.Security.BlacklistedIPs)
	assert.False(t, cfg.Wallet.Enabled)
	require.NoError(t, cfg.Validate())
}

func TestValidateEnabledWalletNeedsCredentials(t *testing.T) {
	t.Setenv("WALLET_ENABLED", "true")
	t.Setenv("WALLET_CLIENT_ID", "")

	cfg := Load()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "credentials")
	assert.Contains(t, err.Error(), "WALLET_WEBPAYMENT_URL")
}

func TestWalletReady(t *testing.T) {
	w := WalletConfig{Enabled: true, MerchantKey: "m", ClientID: "id", ClientSecret: "s"}
	assert.True(t, w.Ready())
	w.Enabled = false
	assert.False(t, w.Ready())
}
