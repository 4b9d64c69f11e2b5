package config

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mapLookup(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv(mapLookup(map[string]string{
		"BLUEPRINT_DB_USERNAME": "app",
		"BLUEPRINT_DB_DATABASE": "orders",
	}))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "USD", cfg.Payment.Currency)
	assert.Equal(t, "mock", cfg.Payment.Provider)
	assert.Equal(t, 10*time.Second, cfg.Payment.GatewayTimeout)
	assert.Equal(t, int64(5), cfg.Loyalty.EarnPercent)
	require.Len(t, cfg.Loyalty.Tiers, 3)
	assert.Equal(t, "gold", cfg.Loyalty.Tiers.Resolve(7000).Name)
	assert.Equal(t, "postgres://app:@localhost:5432/orders?search_path=public&sslmode=disable", cfg.Database.DSN())
}

func TestDSNEscapesCredentials(t *testing.T) {
	cfg := DatabaseConfig{Host: "db", Port: "5432", Username: "app@corp", Password: "p@ss:w/rd?", Database: "orders"}

	u, err := url.Parse(cfg.DSN())
	require.NoError(t, err)
	assert.Equal(t, "app@corp", u.User.Username())
	password, ok := u.User.Password()
	require.True(t, ok)
	assert.Equal(t, "p@ss:w/rd?", password)
	assert.Equal(t, "db:5432", u.Host)
	assert.Equal(t, "/orders", u.Path)
	assert.Equal(t, "disable", u.Query().Get("sslmode"))
}

func TestFromEnvOverrides(t *testing.T) {
	cfg, err := FromEnv(mapLookup(map[string]string{
		"BLUEPRINT_DB_USERNAME":   "app",
		"BLUEPRINT_DB_DATABASE":   "orders",
		"STORE_CURRENCY":          "rub",
		"PAYMENT_GATEWAY_TIMEOUT": "3s",
		"LOYALTY_TIERS":           "vip:500:15, base:0:0",
		"CORS_ALLOWED_ORIGINS":    "https://shop.example, https://admin.example",
		"RECONCILE_BATCH_SIZE":    "10",
	}))
	require.NoError(t, err)

	assert.Equal(t, "RUB", cfg.Payment.Currency)
	assert.Equal(t, 3*time.Second, cfg.Payment.GatewayTimeout)
	assert.Equal(t, "base", cfg.Loyalty.Tiers[0].Name)
	assert.Equal(t, int64(15), cfg.Loyalty.Tiers.Resolve(500).DiscountPercentage)
	assert.Equal(t, []string{"https://shop.example", "https://admin.example"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 10, cfg.Reconcile.BatchSize)
}

func TestFromEnvCollectsInvalidFields(t *testing.T) {
	_, err := FromEnv(mapLookup(map[string]string{
		"PAYMENT_PROVIDER":        "stripe",
		"PAYMENT_GATEWAY_TIMEOUT": "soon",
		"LOYALTY_TIERS":           "gold:100:10",
	}))
	require.Error(t, err)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.ElementsMatch(t, []string{
		"BLUEPRINT_DB_USERNAME",
		"BLUEPRINT_DB_DATABASE",
		"STRIPE_API_KEY",
		"PAYMENT_GATEWAY_TIMEOUT",
		"LOYALTY_TIERS",
	}, verr.Fields())
}

func TestParseTiersRejectsMalformedEntries(t *testing.T) {
	_, err := ParseTiers("basic:0")
	require.Error(t, err)

	_, err = ParseTiers("basic:0:0,gold:x:10")
	require.Error(t, err)

	_, err = ParseTiers("basic:0:0,gold:100:120")
	require.Error(t, err)
}
