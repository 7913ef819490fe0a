// Package email provides billing.Notifier implementations.
package email

import (
	"context"
	"errors"
	"fmt"

	"github.com/mrz1836/postmark"

	"github.com/infusephp/billing/pkg/billing"
)

// ErrSendFailed is returned when the mail provider rejects a message.
var ErrSendFailed = errors.New("email: send failed")

// Config holds the Postmark credentials and sender identity.
type Config struct {
	ServerToken  string `env:"POSTMARK_SERVER_TOKEN"`
	AccountToken string `env:"POSTMARK_ACCOUNT_TOKEN"`
	SenderEmail  string `env:"BILLING_SENDER_EMAIL"`
	ReplyTo      string `env:"BILLING_REPLY_TO_EMAIL"`
}

type postmarkNotifier struct {
	client *postmark.Client
	cfg    Config
}

// NewPostmarkNotifier creates a Postmark-backed notifier. Billing templates
// are resolved by alias, so the Postmark server must define a template for
// each billing.Template* constant in use.
func NewPostmarkNotifier(cfg Config) (billing.Notifier, error) {
	if cfg.ServerToken == "" {
		return nil, fmt.Errorf("%w: missing Postmark server token", billing.ErrMissingDependency)
	}
	if cfg.SenderEmail == "" {
		return nil, fmt.Errorf("%w: missing sender email", billing.ErrMissingDependency)
	}

	return &postmarkNotifier{
		client: postmark.NewClient(cfg.ServerToken, cfg.AccountToken),
		cfg:    cfg,
	}, nil
}

func (n *postmarkNotifier) SendEmail(
	ctx context.Context, e *billing.Entity, template string, params map[string]interface{},
) error {
	if e.Email == "" {
		return fmt.Errorf("%w: entity %s has no email address", ErrSendFailed, e.ID)
	}

	msg := postmark.TemplatedEmail{
		TemplateAlias: template,
		TemplateModel: params,
		From:          n.cfg.SenderEmail,
		To:            e.Email,
		ReplyTo:       n.cfg.ReplyTo,
		TrackOpens:    true,
	}
	if tags, ok := params["tags"].([]string); ok && len(tags) > 0 {
		msg.Tag = tags[0]
	}

	resp, err := n.client.SendTemplatedEmail(ctx, msg)
	if err != nil {
		return errors.Join(ErrSendFailed, err)
	}
	if resp.ErrorCode > 0 {
		return fmt.Errorf("%w: postmark error %d: %s", ErrSendFailed, resp.ErrorCode, resp.Message)
	}
	return nil
}

// LogNotifier writes would-be emails to the logger instead of sending them.
// Intended for development and test environments.
type LogNotifier struct {
	Logger billing.Logger
}

func (n LogNotifier) SendEmail(
	_ context.Context, e *billing.Entity, template string, params map[string]interface{},
) error {
	logger := n.Logger
	if logger == nil {
		logger = &billing.NoopLogger{}
	}
	logger.Info("email suppressed",
		billing.Field{Key: "to", Value: e.Email},
		billing.Field{Key: "template", Value: template},
		billing.Field{Key: "params", Value: params})
	return nil
}
