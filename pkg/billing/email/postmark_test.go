package email

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infusephp/billing/pkg/billing"
)

func TestNewPostmarkNotifier_Validation(t *testing.T) {
	_, err := NewPostmarkNotifier(Config{SenderEmail: "billing@example.com"})
	require.ErrorIs(t, err, billing.ErrMissingDependency)

	_, err = NewPostmarkNotifier(Config{ServerToken: "token"})
	require.ErrorIs(t, err, billing.ErrMissingDependency)

	n, err := NewPostmarkNotifier(Config{ServerToken: "token", SenderEmail: "billing@example.com"})
	require.NoError(t, err)
	assert.NotNil(t, n)
}

func TestPostmarkNotifier_RequiresRecipient(t *testing.T) {
	n, err := NewPostmarkNotifier(Config{ServerToken: "token", SenderEmail: "billing@example.com"})
	require.NoError(t, err)

	err = n.SendEmail(context.Background(), &billing.Entity{ID: "e1"}, billing.TemplatePaymentReceived, nil)
	require.ErrorIs(t, err, ErrSendFailed)
}

func TestLogNotifier(t *testing.T) {
	n := LogNotifier{}
	err := n.SendEmail(context.Background(), &billing.Entity{ID: "e1", Email: "a@example.com"},
		billing.TemplatePaymentReceived, map[string]interface{}{"subject": "hi"})
	assert.NoError(t, err)
}
