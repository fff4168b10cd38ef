package config

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("API_GATEWAY_URL", "http://gateway:8080")
	t.Setenv("STRIPE_API_KEY", "sk_test_123")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_123")
}

func TestLoadConfig_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "8090", cfg.Port)
	assert.Equal(t, 5*time.Second, cfg.ValidationTimeout)
	assert.Equal(t, 15*time.Second, cfg.CompletionTimeout)
	assert.Equal(t, 30*time.Minute, cfg.CheckoutIdleTTL)
	assert.Equal(t, uint32(5), cfg.BreakerFailures)
	assert.False(t, cfg.AuditEnabled)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.AllowedOrigins)
}

func TestLoadConfig_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("VALIDATION_TIMEOUT", "750ms")
	t.Setenv("COMPLETION_TIMEOUT", "not-a-duration")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("POSTGRES_HOST", "db")
	t.Setenv("POSTGRES_USER", "checkout")
	t.Setenv("POSTGRES_DB", "checkout")
	t.Setenv("RATE_LIMIT_PER_MINUTE", "-3")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 750*time.Millisecond, cfg.ValidationTimeout)
	assert.Equal(t, 15*time.Second, cfg.CompletionTimeout)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	assert.True(t, cfg.AuditEnabled)
	assert.Equal(t, 60, cfg.RateLimitPerMinute)
}

func TestLoadConfig_MissingRequired(t *testing.T) {
	t.Setenv("API_GATEWAY_URL", "")
	t.Setenv("STRIPE_API_KEY", "")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "")
	t.Setenv("AWS_USE_SECRETS", "")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STRIPE_API_KEY")
}

type fakeSecrets struct {
	payload string
	err     error
}

func (f *fakeSecrets) GetSecretJSON(_ context.Context, _ string, out any) error {
	if f.err != nil {
		return f.err
	}
	return json.Unmarshal([]byte(f.payload), out)
}

func TestApplySecrets(t *testing.T) {
	t.Setenv("API_GATEWAY_URL", "http://gateway:8080")
	t.Setenv("STRIPE_API_KEY", "")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "")
	t.Setenv("AWS_USE_SECRETS", "true")
	t.Setenv("JWT_SECRET", "from-env")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	err = cfg.ApplySecrets(context.Background(), &fakeSecrets{
		payload: `{"stripe_secret_key":"sk_live_x","stripe_webhook_secret":"whsec_x"}`,
	})
	require.NoError(t, err)
	assert.Equal(t, "sk_live_x", cfg.StripeSecretKey)
	assert.Equal(t, "from-env", cfg.JWTSecret)

	err = cfg.ApplySecrets(context.Background(), &fakeSecrets{err: errors.New("AccessDenied")})
	assert.ErrorContains(t, err, "AccessDenied")
}
