package billing_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infusephp/billing/pkg/billing"
)

func newWebhookServer(t *testing.T, env *testEnv, opts ...billing.WebhookHandlerOption) http.Handler {
	t.Helper()
	return billing.NewWebhookHandler(billing.NewDispatcher(env.svc), opts...)
}

func postWebhook(handler http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestWebhookHandler_MethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, testConfig())
	handler := newWebhookServer(t, env)

	req := httptest.NewRequest(http.MethodGet, "/webhook", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestWebhookHandler_EmptyBody(t *testing.T) {
	env := newTestEnv(t, testConfig())
	handler := newWebhookServer(t, env)

	rec := postWebhook(handler, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookHandler_MalformedJSON(t *testing.T) {
	env := newTestEnv(t, testConfig())
	handler := newWebhookServer(t, env)

	rec := postWebhook(handler, "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(billing.OutcomeInvalidEvent), rec.Body.String())
}

func TestWebhookHandler_PayloadTooLarge(t *testing.T) {
	env := newTestEnv(t, testConfig())
	handler := newWebhookServer(t, env, billing.WithMaxBodyBytes(64))

	rec := postWebhook(handler, strings.Repeat("a", 1024))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestWebhookHandler_SignatureRejected(t *testing.T) {
	env := newTestEnv(t, testConfig())
	handler := newWebhookServer(t, env,
		billing.WithSignatureVerifier("Test-Signature", func(_ []byte, _ string) error {
			return errors.New("bad signature")
		}))

	rec := postWebhook(handler, `{"id":"evt_1","type":"charge.succeeded"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhookHandler_SignatureAccepted(t *testing.T) {
	env := newTestEnv(t, testConfig())

	var gotHeader string
	handler := newWebhookServer(t, env,
		billing.WithSignatureVerifier("Test-Signature", func(_ []byte, sig string) error {
			gotHeader = sig
			return nil
		}))

	req := httptest.NewRequest(http.MethodPost, "/webhook",
		strings.NewReader(`{"id":"","type":"charge.succeeded"}`))
	req.Header.Set("Test-Signature", "sig_value")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "sig_value", gotHeader)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebhookHandler_OutcomeInBody(t *testing.T) {
	env := newTestEnv(t, testConfig())
	seedEntity(env)
	env.processor.event = &billing.Event{
		ID:       "evt_1",
		Type:     "customer.subscription.deleted",
		Customer: "cus_1",
	}
	handler := newWebhookServer(t, env)

	rec := postWebhook(handler, `{"id":"evt_1","type":"customer.subscription.deleted"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(billing.OutcomeSuccess), rec.Body.String())
}

func TestWebhookHandler_NonSuccessOutcomesAcknowledged(t *testing.T) {
	env := newTestEnv(t, testConfig())
	handler := newWebhookServer(t, env)

	// Livemode mismatch: acknowledged with 200 so the processor stops
	// redelivering.
	rec := postWebhook(handler, `{"id":"evt_1","type":"charge.succeeded","livemode":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(billing.OutcomeLivemodeMismatch), rec.Body.String())
}

func TestWebhookHandler_GenericErrorIs500(t *testing.T) {
	env := newTestEnv(t, testConfig())
	env.processor.retrieveEventErr = errors.New("api down")
	handler := newWebhookServer(t, env)

	rec := postWebhook(handler, `{"id":"evt_1","type":"charge.succeeded"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, string(billing.OutcomeGenericError), rec.Body.String())
}
