package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/parley/pkg/memory"
)

var _ memory.Log = (*Store)(nil)

// Store implements [memory.Log] on a single [pgxpool.Pool].
// All methods are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to dsn, pings the server and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Append implements [memory.Log]. All entries are written in one batch
// inside a transaction so an exchange is never half-logged.
func (s *Store) Append(ctx context.Context, entries ...memory.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	const q = `
		INSERT INTO conversation_log (participant, role, text, backend, at)
		VALUES ($1, $2, $3, $4, $5)`

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, e := range entries {
			at := e.At
			if at.IsZero() {
				at = time.Now()
			}
			batch.Queue(q, e.Participant, e.Role, e.Text, e.Backend, at)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("postgres store: append: %w", err)
		}
		return nil
	})
}

// Recent implements [memory.Log].
func (s *Store) Recent(ctx context.Context, participant string, limit int) ([]memory.Entry, error) {
	if limit <= 0 {
		return []memory.Entry{}, nil
	}
	const q = `
		SELECT participant, role, text, backend, at
		FROM (
		    SELECT id, participant, role, text, backend, at
		    FROM   conversation_log
		    WHERE  participant = $1
		    ORDER  BY id DESC
		    LIMIT  $2
		) recent
		ORDER BY id`

	rows, err := s.pool.Query(ctx, q, participant, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres store: recent: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.Entry, error) {
		var e memory.Entry
		err := row.Scan(&e.Participant, &e.Role, &e.Text, &e.Backend, &e.At)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan rows: %w", err)
	}
	if entries == nil {
		entries = []memory.Entry{}
	}
	return entries, nil
}

// Clear implements [memory.Log].
func (s *Store) Clear(ctx context.Context, participant string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM conversation_log WHERE participant = $1`, participant); err != nil {
		return fmt.Errorf("postgres store: clear: %w", err)
	}
	return nil
}

// Ping checks connectivity. Used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}
