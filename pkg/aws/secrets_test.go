package aws

import (
	"context"
	"testing"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSecrets struct {
	calls int
	value string
}

func (f *fakeSecrets) GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.calls++
	return &secretsmanager.GetSecretValueOutput{SecretString: sdkaws.String(f.value)}, nil
}

func TestGetSecret_Caches(t *testing.T) {
	api := &fakeSecrets{value: "sk_test_123"}
	c := NewSecretsClientWithAPI(api)

	for i := 0; i < 3; i++ {
		v, err := c.GetSecret(context.Background(), "checkout/stripe")
		require.NoError(t, err)
		assert.Equal(t, "sk_test_123", v)
	}
	assert.Equal(t, 1, api.calls)
}

func TestGetSecretJSON(t *testing.T) {
	c := NewSecretsClientWithAPI(&fakeSecrets{value: `{"stripe_secret_key":"sk_live","stripe_webhook_secret":"whsec"}`})

	var out struct {
		StripeSecretKey     string `json:"stripe_secret_key"`
		StripeWebhookSecret string `json:"stripe_webhook_secret"`
	}
	require.NoError(t, c.GetSecretJSON(context.Background(), "checkout/stripe", &out))
	assert.Equal(t, "sk_live", out.StripeSecretKey)
	assert.Equal(t, "whsec", out.StripeWebhookSecret)

	bad := NewSecretsClientWithAPI(&fakeSecrets{value: "not-json"})
	assert.Error(t, bad.GetSecretJSON(context.Background(), "x", &out))
}
