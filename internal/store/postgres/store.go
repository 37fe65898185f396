package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrSnakeDoc/licensed/internal/domain"
)

const (
	selectLicense = `SELECT document, revision FROM licenses WHERE key = $1`
	lockLicense   = `SELECT revision FROM licenses WHERE key = $1 FOR UPDATE`
	insertLicense = `INSERT INTO licenses (key, document, revision) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO NOTHING`
	updateLicense = `UPDATE licenses SET document = $2, revision = $3, updated_at = now()
		WHERE key = $1 AND revision = $4`
)

// Store persists license records as JSONB rows. Every write runs in its own
// transaction with the row locked, so concurrent writers cannot lose updates.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Get(ctx context.Context, key string) (*domain.Record, error) {
	var (
		doc []byte
		rev string
	)
	err := s.pool.QueryRow(ctx, selectLicense, key).Scan(&doc, &rev)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &domain.NotFoundError{Key: key}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get license: %w", err)
	}

	var rec domain.Record
	if err := json.Unmarshal(doc, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal license %s: %w", key, err)
	}
	rec.Key = key
	rec.Revision = rev
	return &rec, nil
}

func (s *Store) Replace(ctx context.Context, key string, rec *domain.Record) error {
	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal license: %w", err)
	}
	next := uuid.NewString()

	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if rec.Revision == "" {
			tag, err := tx.Exec(ctx, insertLicense, key, doc, next)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return fmt.Errorf("create %s: %w", key, domain.ErrConflict)
			}
			return nil
		}

		var current string
		err := tx.QueryRow(ctx, lockLicense, key).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("replace %s: record vanished: %w", key, domain.ErrConflict)
		}
		if err != nil {
			return err
		}
		if current != rec.Revision {
			return fmt.Errorf("replace %s: %w", key, domain.ErrConflict)
		}

		_, err = tx.Exec(ctx, updateLicense, key, doc, next, rec.Revision)
		return err
	})
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return err
		}
		return fmt.Errorf("failed to save license: %w", err)
	}

	rec.Key = key
	rec.Revision = next
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
