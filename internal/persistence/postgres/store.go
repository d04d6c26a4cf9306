// Package postgres stores events as JSONB documents in PostgreSQL.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/lab-scheduler/internal/persistence"
	"github.com/example/lab-scheduler/internal/scheduler"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store implements persistence.Store on a pgx pool.
type Store struct {
	pool     *pgxpool.Pool
	migrator *scheduler.Migrator
	logger   *slog.Logger
}

var _ persistence.Store = (*Store)(nil)

// NewPool creates a pgx connection pool and verifies connectivity.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pgx config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// Open connects, applies the embedded schema and returns a store. Stored
// documents are decoded through migrator, so rows written by older releases
// load in the current shape.
func Open(ctx context.Context, dsn string, migrator *scheduler.Migrator, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	pool, err := NewPool(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("postgres store ready")
	return &Store{pool: pool, migrator: migrator, logger: logger.With("component", "postgres_store")}, nil
}

// Migrate runs the embedded SQL files in name order. Every file is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		sql, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err = pool.Exec(ctx, string(sql)); err != nil {
			return fmt.Errorf("execute migration %s: %w", name, err)
		}
	}
	return nil
}

// Pool exposes the underlying pool for tests and tooling.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// CreateEvent inserts the event at version 1.
func (s *Store) CreateEvent(ctx context.Context, event scheduler.Event) (scheduler.Event, error) {
	stored := event.Clone()
	stored.Version = 1
	stored.Project()

	doc, err := scheduler.EncodeEvent(stored)
	if err != nil {
		return scheduler.Event{}, err
	}
	const q = `INSERT INTO events (id, owner_id, discipline, state, pending_count, start_date, version, document)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := s.pool.Exec(ctx, q,
		stored.ID, stored.OwnerID, string(stored.Discipline), string(stored.State),
		len(stored.EventModifying), nullableTime(stored.StartDate), stored.Version, doc,
	); err != nil {
		return scheduler.Event{}, mapError(err)
	}
	return stored, nil
}

// GetEvent loads and decodes one event.
func (s *Store) GetEvent(ctx context.Context, id string) (scheduler.Event, error) {
	var (
		version int64
		doc     []byte
	)
	err := s.pool.QueryRow(ctx, `SELECT version, document FROM events WHERE id = $1`, id).Scan(&version, &doc)
	if err != nil {
		return scheduler.Event{}, mapError(err)
	}
	return s.decode(doc, version)
}

// SaveEvent replaces the document when the stored version still matches.
func (s *Store) SaveEvent(ctx context.Context, event scheduler.Event) (scheduler.Event, error) {
	stored := event.Clone()
	stored.Version = event.Version + 1
	stored.Project()

	doc, err := scheduler.EncodeEvent(stored)
	if err != nil {
		return scheduler.Event{}, err
	}
	const q = `UPDATE events SET owner_id = $1, discipline = $2, state = $3, pending_count = $4, start_date = $5,
			version = version + 1, document = $6, updated_at = NOW()
		WHERE id = $7 AND version = $8`
	tag, err := s.pool.Exec(ctx, q,
		stored.OwnerID, string(stored.Discipline), string(stored.State), len(stored.EventModifying),
		nullableTime(stored.StartDate), doc, stored.ID, event.Version,
	)
	if err != nil {
		return scheduler.Event{}, mapError(err)
	}
	if tag.RowsAffected() == 0 {
		var exists int
		err := s.pool.QueryRow(ctx, `SELECT 1 FROM events WHERE id = $1`, stored.ID).Scan(&exists)
		if errors.Is(err, pgx.ErrNoRows) {
			return scheduler.Event{}, persistence.ErrNotFound
		}
		if err != nil {
			return scheduler.Event{}, err
		}
		return scheduler.Event{}, persistence.ErrVersionConflict
	}
	return stored, nil
}

// DeleteEvent removes the event and parks its slots as orphans.
func (s *Store) DeleteEvent(ctx context.Context, id string) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var (
			version int64
			doc     []byte
		)
		err := tx.QueryRow(ctx, `DELETE FROM events WHERE id = $1 RETURNING version, document`, id).Scan(&version, &doc)
		if err != nil {
			return mapError(err)
		}
		event, err := s.decode(doc, version)
		if err != nil {
			return err
		}
		batch := &pgx.Batch{}
		for _, slot := range event.TimeSlots {
			batch.Queue(`INSERT INTO orphaned_slots (event_id, slot_id, start_date, end_date, status)
				VALUES ($1, $2, $3, $4, $5) ON CONFLICT DO NOTHING`,
				event.ID, slot.ID, slot.StartDate, slot.EndDate, string(slot.Status))
		}
		if batch.Len() == 0 {
			return nil
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

// ListEvents returns matching events ordered by start date, then id.
func (s *Store) ListEvents(ctx context.Context, filter persistence.EventFilter) ([]scheduler.Event, error) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if filter.OwnerID != "" {
		add("owner_id = $%d", filter.OwnerID)
	}
	if filter.Discipline != "" {
		add("discipline = $%d", string(filter.Discipline))
	}
	if filter.State != "" {
		add("state = $%d", string(filter.State))
	}
	if filter.PendingOnly {
		clauses = append(clauses, "pending_count > 0")
	}
	q := `SELECT version, document FROM events`
	if len(clauses) > 0 {
		q += " WHERE " + strings.Join(clauses, " AND ")
	}
	q += " ORDER BY start_date NULLS FIRST, id"

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []scheduler.Event{}
	for rows.Next() {
		var (
			version int64
			doc     []byte
		)
		if err := rows.Scan(&version, &doc); err != nil {
			return nil, err
		}
		event, err := s.decode(doc, version)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// PurgeSlots prunes every ledger under row locks. A dry run rolls back.
func (s *Store) PurgeSlots(ctx context.Context, criteria persistence.PurgeCriteria) (persistence.PurgeReport, error) {
	report := persistence.PurgeReport{DryRun: criteria.DryRun}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return report, fmt.Errorf("begin retention transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM orphaned_slots`).Scan(&report.OrphanedSlots); err != nil {
		return report, fmt.Errorf("count orphaned slots: %w", err)
	}

	rows, err := tx.Query(ctx, `SELECT version, document FROM events ORDER BY id FOR UPDATE`)
	if err != nil {
		return report, fmt.Errorf("lock events: %w", err)
	}
	var pruned []scheduler.Event
	for rows.Next() {
		var (
			version int64
			doc     []byte
		)
		if err := rows.Scan(&version, &doc); err != nil {
			rows.Close()
			return report, err
		}
		event, err := s.decode(doc, version)
		if err != nil {
			rows.Close()
			return report, err
		}
		counts := scheduler.PruneLedger(&event, criteria.Cutoffs)
		if counts.Empty() {
			continue
		}
		report.AddCounts(event.ID, counts)
		pruned = append(pruned, event)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return report, err
	}

	if criteria.DryRun {
		return report, nil
	}

	if _, err := tx.Exec(ctx, `DELETE FROM orphaned_slots`); err != nil {
		return report, fmt.Errorf("purge orphaned slots: %w", err)
	}
	for _, event := range pruned {
		event.Version++
		doc, err := scheduler.EncodeEvent(event)
		if err != nil {
			return report, err
		}
		if _, err := tx.Exec(ctx,
			`UPDATE events SET start_date = $1, version = $2, document = $3, updated_at = NOW() WHERE id = $4`,
			nullableTime(event.StartDate), event.Version, doc, event.ID,
		); err != nil {
			return report, fmt.Errorf("rewrite event %s: %w", event.ID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return report, fmt.Errorf("commit retention: %w", err)
	}

	if !report.Empty() {
		s.logger.Info("retention pass",
			"deleted_slots", report.DeletedSlots,
			"orphaned_slots", report.OrphanedSlots,
			"very_old_slots", report.VeryOldSlots,
			"history_entries", report.HistoryEntries,
		)
	}
	return report, nil
}

func (s *Store) decode(doc []byte, version int64) (scheduler.Event, error) {
	event, _, err := s.migrator.MigrateLegacyEvent(doc)
	if err != nil {
		return scheduler.Event{}, err
	}
	event.Version = version
	return event, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func mapError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return persistence.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", persistence.ErrDuplicate, pgErr.ConstraintName)
	}
	return err
}
