// Package sqldb is the relational collaborator: customer profiles, orders,
// tickets, and the interaction log, behind the ports interfaces.
package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	// Drivers for the supported dialects.
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/solvent-ai/triagekit/internal/core/domain"
	"github.com/solvent-ai/triagekit/internal/core/ports"
	"github.com/solvent-ai/triagekit/internal/storage/dialect"
)

// Config holds database connection configuration.
type Config struct {
	Driver string // sqlite or postgres
	DSN    string
}

// Store implements CustomerStore, InteractionLog, and TicketStore over a
// single database.
type Store struct {
	db      *sqlx.DB
	dialect dialect.Dialect
}

var (
	_ ports.CustomerStore  = (*Store)(nil)
	_ ports.InteractionLog = (*Store)(nil)
	_ ports.TicketStore    = (*Store)(nil)
)

// New opens the database, runs dialect init statements, and ensures the
// schema exists.
func New(cfg Config) (*Store, error) {
	d, err := dialect.FromDriverName(cfg.Driver)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Open(d.DriverName(), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if d.Name() == "sqlite" {
		// The pool must not fan out over sqlite; in-memory databases are
		// per-connection and file databases serialize writers anyway.
		db.SetMaxOpenConns(1)
	}

	for _, stmt := range d.InitStatements() {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init statement: %w", err)
		}
	}

	s := &Store{db: db, dialect: d}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

// NewSQLite opens an embedded sqlite store.
func NewSQLite(path string) (*Store, error) {
	return New(Config{Driver: "sqlite", DSN: path})
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) initSchema() error {
	ts := s.dialect.TimestampType()
	statements := []string{
		`CREATE TABLE IF NOT EXISTS customers (
customer_id TEXT PRIMARY KEY,
external_id TEXT NOT NULL UNIQUE,
name TEXT NOT NULL,
email TEXT NOT NULL,
company TEXT,
tier TEXT NOT NULL DEFAULT 'standard',
lifetime_value REAL NOT NULL DEFAULT 0
)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS orders (
order_id TEXT PRIMARY KEY,
customer_id TEXT NOT NULL,
order_number TEXT NOT NULL,
status TEXT NOT NULL,
total_amount REAL NOT NULL,
order_date %s NOT NULL
)`, ts),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS tickets (
id TEXT PRIMARY KEY,
external_id TEXT,
customer_external_id TEXT NOT NULL,
subject TEXT NOT NULL,
description TEXT NOT NULL,
channel TEXT,
priority_hint TEXT,
metadata TEXT,
category TEXT,
sentiment REAL,
resolution TEXT,
created_at %s NOT NULL
)`, ts),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS interactions (
id TEXT PRIMARY KEY,
customer_id TEXT NOT NULL,
sentiment REAL NOT NULL,
occurred_at %s NOT NULL
)`, ts),
		`CREATE INDEX IF NOT EXISTS idx_orders_customer ON orders(customer_id, order_date)`,
		`CREATE INDEX IF NOT EXISTS idx_tickets_category ON tickets(category)`,
		`CREATE INDEX IF NOT EXISTS idx_interactions_customer ON interactions(customer_id, occurred_at)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// GetProfile fetches the customer profile by external id.
func (s *Store) GetProfile(ctx context.Context, externalID string) (*domain.CustomerProfile, error) {
	query := s.dialect.Rebind(`SELECT customer_id, external_id, name, email,
COALESCE(company, '') AS company, tier, lifetime_value
FROM customers WHERE external_id = ?`)

	var row struct {
		CustomerID    string  `db:"customer_id"`
		ExternalID    string  `db:"external_id"`
		Name          string  `db:"name"`
		Email         string  `db:"email"`
		Company       string  `db:"company"`
		Tier          string  `db:"tier"`
		LifetimeValue float64 `db:"lifetime_value"`
	}
	if err := s.db.GetContext(ctx, &row, query, externalID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound("no customer for external id")
		}
		return nil, domain.ErrTransient("customer query failed").WithCause(err)
	}

	return &domain.CustomerProfile{
		CustomerID:    row.CustomerID,
		ExternalID:    row.ExternalID,
		Name:          row.Name,
		Email:         row.Email,
		Company:       row.Company,
		Tier:          row.Tier,
		LifetimeValue: row.LifetimeValue,
	}, nil
}

// GetRecentOrders returns up to limit orders, newest first.
func (s *Store) GetRecentOrders(ctx context.Context, customerID string, limit int) ([]domain.Order, error) {
	query := s.dialect.Rebind(`SELECT order_id, order_number, status, total_amount, order_date
FROM orders WHERE customer_id = ? ORDER BY order_date DESC LIMIT ?`)

	var rows []struct {
		OrderID     string    `db:"order_id"`
		OrderNumber string    `db:"order_number"`
		Status      string    `db:"status"`
		TotalAmount float64   `db:"total_amount"`
		OrderDate   time.Time `db:"order_date"`
	}
	if err := s.db.SelectContext(ctx, &rows, query, customerID, limit); err != nil {
		return nil, domain.ErrTransient("orders query failed").WithCause(err)
	}

	orders := make([]domain.Order, 0, len(rows))
	for _, r := range rows {
		orders = append(orders, domain.Order{
			OrderID:     r.OrderID,
			OrderNumber: r.OrderNumber,
			Status:      r.Status,
			TotalAmount: r.TotalAmount,
			OrderDate:   r.OrderDate,
		})
	}
	return orders, nil
}

// CountOrders returns the customer's total order count.
func (s *Store) CountOrders(ctx context.Context, customerID string) (int, error) {
	query := s.dialect.Rebind(`SELECT COUNT(*) FROM orders WHERE customer_id = ?`)
	var count int
	if err := s.db.GetContext(ctx, &count, query, customerID); err != nil {
		return 0, domain.ErrTransient("order count query failed").WithCause(err)
	}
	return count, nil
}

// GetSimilarTickets finds resolved past tickets in the same category,
// scored by sentiment closeness so reproducible ordering falls out of the
// data rather than query ordering alone.
func (s *Store) GetSimilarTickets(ctx context.Context, category domain.Category, sentiment float64, limit int) ([]domain.ContextItem, error) {
	query := s.dialect.Rebind(`SELECT id, subject, sentiment, resolution
FROM tickets
WHERE category = ? AND resolution IS NOT NULL AND resolution != ''
ORDER BY created_at DESC LIMIT ?`)

	var rows []struct {
		ID         string  `db:"id"`
		Subject    string  `db:"subject"`
		Sentiment  float64 `db:"sentiment"`
		Resolution string  `db:"resolution"`
	}
	if err := s.db.SelectContext(ctx, &rows, query, string(category), limit); err != nil {
		return nil, domain.ErrTransient("similar tickets query failed").WithCause(err)
	}

	items := make([]domain.ContextItem, 0, len(rows))
	for _, r := range rows {
		items = append(items, domain.ContextItem{
			SourceID:    r.ID,
			Excerpt:     fmt.Sprintf("Similar ticket %q resolved: %s", r.Subject, r.Resolution),
			Score:       similarityScore(sentiment, r.Sentiment),
			CitationURI: "ticket://" + r.ID,
			Kind:        domain.ContextKindSimilarTicket,
		})
	}
	return items, nil
}

// similarityScore favors past tickets whose sentiment matches the current
// one; range [0.4, 0.6].
func similarityScore(current, past float64) float64 {
	return 0.6 - 0.1*math.Min(math.Abs(current-past), 2)
}

// SaveTicket persists an accepted ticket.
func (s *Store) SaveTicket(ctx context.Context, t *domain.Ticket) error {
	meta, err := json.Marshal(t.Metadata)
	if err != nil {
		return domain.ErrInternal("marshal ticket metadata").WithCause(err)
	}

	query := s.dialect.Rebind(`INSERT INTO tickets
(id, external_id, customer_external_id, subject, description, channel, priority_hint, metadata, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, query,
		t.ID, t.ExternalID, t.CustomerExternalID, t.Subject, t.Description,
		string(t.Channel), t.PriorityHint, string(meta), t.CreatedAt); err != nil {
		return domain.ErrTransient("ticket insert failed").WithCause(err)
	}
	return nil
}

// GetTicket fetches a persisted ticket by id.
func (s *Store) GetTicket(ctx context.Context, id string) (*domain.Ticket, error) {
	query := s.dialect.Rebind(`SELECT id, COALESCE(external_id, '') AS external_id,
customer_external_id, subject, description,
COALESCE(channel, '') AS channel, COALESCE(priority_hint, '') AS priority_hint,
COALESCE(metadata, '') AS metadata, created_at
FROM tickets WHERE id = ?`)

	var row struct {
		ID                 string    `db:"id"`
		ExternalID         string    `db:"external_id"`
		CustomerExternalID string    `db:"customer_external_id"`
		Subject            string    `db:"subject"`
		Description        string    `db:"description"`
		Channel            string    `db:"channel"`
		PriorityHint       string    `db:"priority_hint"`
		Metadata           string    `db:"metadata"`
		CreatedAt          time.Time `db:"created_at"`
	}
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound("no ticket with id")
		}
		return nil, domain.ErrTransient("ticket query failed").WithCause(err)
	}

	t := &domain.Ticket{
		ID:                 row.ID,
		ExternalID:         row.ExternalID,
		CustomerExternalID: row.CustomerExternalID,
		Subject:            row.Subject,
		Description:        row.Description,
		Channel:            domain.Channel(row.Channel),
		PriorityHint:       row.PriorityHint,
		CreatedAt:          row.CreatedAt,
	}
	if row.Metadata != "" {
		if err := json.Unmarshal([]byte(row.Metadata), &t.Metadata); err != nil {
			return nil, domain.ErrInternal("decode ticket metadata").WithCause(err)
		}
	}
	return t, nil
}

// QueryRecent returns up to limit interaction events for the customer at or
// after since, newest first.
func (s *Store) QueryRecent(ctx context.Context, customerID string, since time.Time, limit int) ([]domain.InteractionEvent, error) {
	query := s.dialect.Rebind(`SELECT customer_id, sentiment, occurred_at
FROM interactions WHERE customer_id = ? AND occurred_at >= ?
ORDER BY occurred_at DESC LIMIT ?`)

	var rows []struct {
		CustomerID string    `db:"customer_id"`
		Sentiment  float64   `db:"sentiment"`
		OccurredAt time.Time `db:"occurred_at"`
	}
	if err := s.db.SelectContext(ctx, &rows, query, customerID, since, limit); err != nil {
		return nil, domain.ErrTransient("interactions query failed").WithCause(err)
	}

	events := make([]domain.InteractionEvent, 0, len(rows))
	for _, r := range rows {
		events = append(events, domain.InteractionEvent{
			CustomerID: r.CustomerID,
			Sentiment:  r.Sentiment,
			Timestamp:  r.OccurredAt,
		})
	}
	return events, nil
}

// AppendInteraction records one interaction event. Used by seeding and by
// the direct (in-process) event publisher.
func (s *Store) AppendInteraction(ctx context.Context, id string, ev domain.InteractionEvent) error {
	query := s.dialect.Rebind(`INSERT INTO interactions (id, customer_id, sentiment, occurred_at)
VALUES (?, ?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, query, id, ev.CustomerID, ev.Sentiment, ev.Timestamp); err != nil {
		return domain.ErrTransient("interaction insert failed").WithCause(err)
	}
	return nil
}
