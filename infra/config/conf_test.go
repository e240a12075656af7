package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetEnv(t *testing.T) {
	t.Setenv("TEST_KEY", "value")
	assert.Equal(t, "value", GetEnv("TEST_KEY", "default"))
	assert.Equal(t, "default", GetEnv("TEST_KEY_MISSING", "default"))
}

func TestGetBoolEnv(t *testing.T) {
	t.Setenv("TEST_BOOL", "true")
	assert.True(t, GetBoolEnv("TEST_BOOL", false))

	t.Setenv("TEST_BOOL_BAD", "not-a-bool")
	assert.True(t, GetBoolEnv("TEST_BOOL_BAD", true))

	assert.False(t, GetBoolEnv("TEST_BOOL_MISSING", false))
}

func TestGetIntEnv(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	assert.Equal(t, 42, GetIntEnv("TEST_INT", 0))

	t.Setenv("TEST_INT_BAD", "forty-two")
	assert.Equal(t, 7, GetIntEnv("TEST_INT_BAD", 7))
}

func TestLoadAppConfig(t *testing.T) {
	t.Setenv("APP_PORT", "8080")
	t.Setenv("PAYMENT_DRIVER", "stripe")
	t.Setenv("PAYMENT_WEBHOOK_TOKEN", "secret")

	cfg := LoadAppConfig()
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "stripe", cfg.DefaultDriver)
	assert.Equal(t, "secret", cfg.WebhookToken)
	assert.Equal(t, "/payment/success", cfg.CallbackSuccessURL)
}
