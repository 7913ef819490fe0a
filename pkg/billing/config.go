package billing

import (
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Environment controls which webhook livemode the dispatcher accepts:
// production requires livemode events, everything else rejects them.
type Environment string

const (
	EnvProduction  Environment = "production"
	EnvDevelopment Environment = "development"
	EnvTest        Environment = "test"
)

// EmailFlags switches individual notification templates on or off.
type EmailFlags struct {
	FailedPayment        bool `env:"BILLING_EMAIL_FAILED_PAYMENT" envDefault:"true"`
	PaymentReceipt       bool `env:"BILLING_EMAIL_PAYMENT_RECEIPT" envDefault:"true"`
	SubscriptionCanceled bool `env:"BILLING_EMAIL_SUBSCRIPTION_CANCELED" envDefault:"true"`
	TrialEnded           bool `env:"BILLING_EMAIL_TRIAL_ENDED" envDefault:"true"`
	TrialWillEnd         bool `env:"BILLING_EMAIL_TRIAL_WILL_END" envDefault:"true"`
}

// Config is passed explicitly into NewService and the processor adapters.
// There is no ambient configuration state in this package.
type Config struct {
	Environment Environment `env:"BILLING_ENVIRONMENT" envDefault:"development"`

	// AppName is the display name used in notification subject lines.
	AppName string `env:"BILLING_APP_NAME"`

	// SecretKey authenticates outbound processor API calls.
	SecretKey string `env:"STRIPE_SECRET_KEY"`

	// WebhookSecret, when set, enables signature verification on the
	// webhook HTTP handler in addition to the server-side event re-fetch.
	WebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`

	// TrialReminderDays is how many days before trial end the
	// trial-will-end notice goes out.
	TrialReminderDays int `env:"BILLING_TRIAL_REMINDER_DAYS" envDefault:"3"`

	Emails EmailFlags
}

// Production reports whether webhook events must carry livemode=true.
func (c Config) Production() bool {
	return c.Environment == EnvProduction
}

// LoadConfig reads Config from the environment, loading a .env file first
// when one exists.
func LoadConfig() (Config, error) {
	_ = godotenv.Load()
	return env.ParseAs[Config]()
}
