package billing

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/infusephp/billing/pkg/billing/internal"
)

const (
	defaultMaxBodyBytes      = 256 * 1024
	defaultRateLimitRequests = 100
	defaultRateLimitWindow   = time.Minute
)

// SignatureVerifier checks a webhook payload against its signature header.
// The stripe subpackage provides an implementation for signed endpoints.
type SignatureVerifier func(payload []byte, sigHeader string) error

type webhookHandler struct {
	dispatcher *Dispatcher
	verify     SignatureVerifier
	sigHeader  string
	maxBody    int64
}

// WebhookHandlerOption configures the webhook HTTP handler.
type WebhookHandlerOption func(*webhookHandler)

// WithSignatureVerifier rejects deliveries whose signature header does not
// verify, before they reach the dispatcher.
func WithSignatureVerifier(header string, verify SignatureVerifier) WebhookHandlerOption {
	return func(h *webhookHandler) {
		h.sigHeader = header
		h.verify = verify
	}
}

// WithMaxBodyBytes overrides the request body size limit.
func WithMaxBodyBytes(n int64) WebhookHandlerOption {
	return func(h *webhookHandler) { h.maxBody = n }
}

// NewWebhookHandler exposes the dispatcher as an HTTP endpoint. The outcome
// is written as the response body; only generic_error maps to a 5xx so the
// processor retries it, every other outcome is acknowledged with 200.
func NewWebhookHandler(d *Dispatcher, opts ...WebhookHandlerOption) http.Handler {
	h := &webhookHandler{
		dispatcher: d,
		maxBody:    defaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(h)
	}

	limiter := internal.NewRateLimiter(defaultRateLimitRequests, defaultRateLimitWindow)
	return limiter.Middleware(h)
}

func (h *webhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := internal.ReadBody(w, r, h.maxBody)
	if err != nil {
		if errors.Is(err, internal.ErrPayloadTooLarge) {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			return
		}
		h.write(w, http.StatusBadRequest, OutcomeInvalidEvent)
		return
	}

	if h.verify != nil {
		if err := h.verify(body, r.Header.Get(h.sigHeader)); err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		h.write(w, http.StatusBadRequest, OutcomeInvalidEvent)
		return
	}

	outcome := h.dispatcher.Handle(r.Context(), env)
	if outcome == OutcomeGenericError {
		h.write(w, http.StatusInternalServerError, outcome)
		return
	}
	h.write(w, http.StatusOK, outcome)
}

func (h *webhookHandler) write(w http.ResponseWriter, code int, outcome Outcome) {
	w.WriteHeader(code)
	_, _ = w.Write([]byte(outcome))
}
