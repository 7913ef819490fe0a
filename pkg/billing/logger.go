package billing

// Field is one key/value pair attached to a log line, typically ids the
// operator needs to trace a delivery (entity_id, event_id, customer_id).
type Field struct {
	Key   string
	Value interface{}
}

// Logger receives diagnostic output from the service, the webhook
// dispatcher and the reconciliation sweeps. Adapters for concrete logging
// backends live under logger/.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)

	// Warn reports degraded but non-fatal conditions, such as a
	// best-effort dedup store failing.
	Warn(msg string, fields ...Field)

	// Error reports failures that surface to the caller or the processor.
	Error(msg string, fields ...Field)
}

// NoopLogger discards everything. It is the default when no logger is
// configured.
type NoopLogger struct{}

func (n *NoopLogger) Debug(msg string, fields ...Field) {}
func (n *NoopLogger) Info(msg string, fields ...Field)  {}
func (n *NoopLogger) Warn(msg string, fields ...Field)  {}
func (n *NoopLogger) Error(msg string, fields ...Field) {}
