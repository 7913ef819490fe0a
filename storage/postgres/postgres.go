// Package postgres provides a PostgreSQL implementation of the billing
// storage interfaces on top of a pgx connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/infusephp/billing/pkg/billing"
)

// Store implements billing.EntityStore, billing.HistoryStore and
// billing.ProcessedEventStore using PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	config Config

	// stopCleanup cancels the background cleanup goroutine
	stopCleanup func()
}

// Config holds PostgreSQL storage configuration.
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration

	// Cleanup configuration for processed webhook event ids
	CleanupEnabled  bool
	CleanupInterval time.Duration
	EventTTL        time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
		CleanupEnabled:  true,
		CleanupInterval: 1 * time.Hour,
		EventTTL:        30 * 24 * time.Hour,
	}
}

// New creates a new PostgreSQL storage adapter.
func New(ctx context.Context, config Config) (*Store, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("postgres: %w: connection string is required", billing.ErrMissingDependency)
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to parse connection string: %w", err)
	}

	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: failed to ping database: %w", err)
	}

	cleanupCtx, cancel := context.WithCancel(context.Background())
	s := &Store{
		pool:        pool,
		config:      config,
		stopCleanup: cancel,
	}

	if config.CleanupEnabled {
		go s.startCleanup(cleanupCtx)
	}

	return s, nil
}

// Close closes the connection pool and stops background cleanup.
func (s *Store) Close() {
	if s.stopCleanup != nil {
		s.stopCleanup()
	}
	if s.pool != nil {
		s.pool.Close()
	}
}

// Migrate creates the billing tables when they do not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS billing_entities (
			id                  TEXT PRIMARY KEY,
			email               TEXT NOT NULL DEFAULT '',
			plan                TEXT NOT NULL DEFAULT '',
			customer_id         TEXT NOT NULL DEFAULT '',
			renews_next         BIGINT NOT NULL DEFAULT 0,
			trial_ends          BIGINT NOT NULL DEFAULT 0,
			canceled_at         BIGINT NOT NULL DEFAULT 0,
			last_trial_reminder BIGINT NOT NULL DEFAULT 0,
			past_due            BOOLEAN NOT NULL DEFAULT FALSE,
			canceled            BOOLEAN NOT NULL DEFAULT FALSE,
			not_charged         BOOLEAN NOT NULL DEFAULT FALSE
		);
		CREATE INDEX IF NOT EXISTS billing_entities_customer_id_idx
			ON billing_entities (customer_id) WHERE customer_id <> '';

		CREATE TABLE IF NOT EXISTS billing_history (
			id             TEXT PRIMARY KEY,
			entity_id      TEXT NOT NULL,
			payment_time   BIGINT NOT NULL,
			amount         DOUBLE PRECISION NOT NULL,
			customer_id    TEXT NOT NULL DEFAULT '',
			transaction_id TEXT NOT NULL DEFAULT '',
			description    TEXT NOT NULL DEFAULT '',
			success        BOOLEAN NOT NULL,
			error          TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS billing_history_entity_id_idx
			ON billing_history (entity_id);

		CREATE TABLE IF NOT EXISTS billing_processed_events (
			event_id     TEXT PRIMARY KEY,
			processed_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

const entityColumns = `id, email, plan, customer_id, renews_next, trial_ends,
	canceled_at, last_trial_reminder, past_due, canceled, not_charged`

func scanEntity(row pgx.Row) (*billing.Entity, error) {
	var e billing.Entity
	err := row.Scan(
		&e.ID, &e.Email, &e.Plan, &e.CustomerID,
		&e.RenewsNext, &e.TrialEnds, &e.CanceledAt, &e.LastTrialReminder,
		&e.PastDue, &e.Canceled, &e.NotCharged,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// GetByCustomerID implements billing.EntityStore.
func (s *Store) GetByCustomerID(ctx context.Context, customerID string) (*billing.Entity, error) {
	if customerID == "" {
		return nil, billing.ErrEntityNotFound
	}

	e, err := scanEntity(s.pool.QueryRow(ctx,
		`SELECT `+entityColumns+` FROM billing_entities WHERE customer_id = $1`,
		customerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, billing.ErrEntityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get entity by customer: %w", err)
	}
	return e, nil
}

// Update implements billing.EntityStore, writing only the fields set on u.
func (s *Store) Update(ctx context.Context, e *billing.Entity, u billing.Update) error {
	set, args := updateClauses(u)
	if len(set) == 0 {
		return nil
	}
	args = append(args, e.ID)

	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE billing_entities SET %s WHERE id = $%d`,
			strings.Join(set, ", "), len(args)),
		args...)
	if err != nil {
		return fmt.Errorf("postgres: update entity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update entity %s: %w", e.ID, billing.ErrEntityNotFound)
	}
	return nil
}

func updateClauses(u billing.Update) ([]string, []interface{}) {
	var set []string
	var args []interface{}

	add := func(column string, value interface{}) {
		args = append(args, value)
		set = append(set, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if u.Plan != nil {
		add("plan", *u.Plan)
	}
	if u.CustomerID != nil {
		add("customer_id", *u.CustomerID)
	}
	if u.RenewsNext != nil {
		add("renews_next", *u.RenewsNext)
	}
	if u.TrialEnds != nil {
		add("trial_ends", *u.TrialEnds)
	}
	if u.PastDue != nil {
		add("past_due", *u.PastDue)
	}
	if u.Canceled != nil {
		add("canceled", *u.Canceled)
	}
	if u.CanceledAt != nil {
		add("canceled_at", *u.CanceledAt)
	}
	if u.NotCharged != nil {
		add("not_charged", *u.NotCharged)
	}
	if u.LastTrialReminder != nil {
		add("last_trial_reminder", *u.LastTrialReminder)
	}
	return set, args
}

func (s *Store) queryEntities(ctx context.Context, query string, args ...interface{}) ([]*billing.Entity, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*billing.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// TrialsEndingSoon implements billing.EntityStore.
func (s *Store) TrialsEndingSoon(ctx context.Context, start, end int64) ([]*billing.Entity, error) {
	entities, err := s.queryEntities(ctx,
		`SELECT `+entityColumns+` FROM billing_entities
			WHERE NOT canceled
			  AND last_trial_reminder = 0
			  AND trial_ends BETWEEN $1 AND $2`,
		start, end)
	if err != nil {
		return nil, fmt.Errorf("postgres: trials ending soon: %w", err)
	}
	return entities, nil
}

// EndedTrials implements billing.EntityStore.
func (s *Store) EndedTrials(ctx context.Context, now int64) ([]*billing.Entity, error) {
	entities, err := s.queryEntities(ctx,
		`SELECT `+entityColumns+` FROM billing_entities
			WHERE NOT canceled
			  AND renews_next = 0
			  AND trial_ends > 0
			  AND trial_ends < $1
			  AND last_trial_reminder < trial_ends`,
		now)
	if err != nil {
		return nil, fmt.Errorf("postgres: ended trials: %w", err)
	}
	return entities, nil
}

// ListSubscribed implements billing.EntityStore.
func (s *Store) ListSubscribed(ctx context.Context) ([]*billing.Entity, error) {
	entities, err := s.queryEntities(ctx,
		`SELECT `+entityColumns+` FROM billing_entities
			WHERE customer_id <> ''
			  AND NOT canceled
			  AND NOT not_charged`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list subscribed: %w", err)
	}
	return entities, nil
}

// Create implements billing.HistoryStore.
func (s *Store) Create(ctx context.Context, rec *billing.HistoryRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO billing_history
			(id, entity_id, payment_time, amount, customer_id, transaction_id, description, success, error)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID, rec.EntityID, rec.PaymentTime, rec.Amount,
		rec.CustomerID, rec.TransactionID, rec.Description, rec.Success, rec.Error)
	if err != nil {
		return fmt.Errorf("postgres: create history record: %w", err)
	}
	return nil
}

// MarkProcessed implements billing.ProcessedEventStore.
func (s *Store) MarkProcessed(ctx context.Context, eventID string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO billing_processed_events (event_id)
			VALUES ($1) ON CONFLICT (event_id) DO NOTHING`,
		eventID)
	if err != nil {
		return false, fmt.Errorf("postgres: mark processed: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Forget implements billing.ProcessedEventStore.
func (s *Store) Forget(ctx context.Context, eventID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM billing_processed_events WHERE event_id = $1`, eventID)
	if err != nil {
		return fmt.Errorf("postgres: forget event: %w", err)
	}
	return nil
}

// startCleanup periodically drops processed-event ids older than EventTTL.
// Redeliveries arrive within days; the table must not grow forever.
func (s *Store) startCleanup(ctx context.Context) {
	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-s.config.EventTTL)
			_, _ = s.pool.Exec(ctx,
				`DELETE FROM billing_processed_events WHERE processed_at < $1`, cutoff)
		}
	}
}
