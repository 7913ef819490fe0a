package billing_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infusephp/billing/pkg/billing"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := billing.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, billing.EnvDevelopment, cfg.Environment)
	assert.Equal(t, 3, cfg.TrialReminderDays)
	assert.True(t, cfg.Emails.FailedPayment)
	assert.True(t, cfg.Emails.TrialWillEnd)
	assert.False(t, cfg.Production())
}

func TestLoadConfig_FromEnvironment(t *testing.T) {
	t.Setenv("BILLING_ENVIRONMENT", "production")
	t.Setenv("BILLING_APP_NAME", "Example App")
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_123")
	t.Setenv("BILLING_TRIAL_REMINDER_DAYS", "7")
	t.Setenv("BILLING_EMAIL_PAYMENT_RECEIPT", "false")

	cfg, err := billing.LoadConfig()
	require.NoError(t, err)

	assert.True(t, cfg.Production())
	assert.Equal(t, "Example App", cfg.AppName)
	assert.Equal(t, "sk_test_123", cfg.SecretKey)
	assert.Equal(t, 7, cfg.TrialReminderDays)
	assert.False(t, cfg.Emails.PaymentReceipt)
	assert.True(t, cfg.Emails.FailedPayment, "unset flags keep their defaults")
}
