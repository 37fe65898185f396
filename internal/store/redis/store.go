package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/licensed/internal/domain"
)

// Store persists license records as Redis hashes holding the JSON document
// and its revision. Writes are optimistic transactions (WATCH/MULTI/EXEC).
type Store struct {
	client *redis.Client
}

// NewStore creates a new Redis store
func NewStore(client *redis.Client) *Store {
	return &Store{
		client: client,
	}
}

// Get retrieves a record from Redis by key
func (s *Store) Get(ctx context.Context, key string) (*domain.Record, error) {
	return s.get(ctx, s.client, key)
}

// getter is satisfied by both the client and a WATCH transaction.
type getter interface {
	HMGet(ctx context.Context, key string, fields ...string) *redis.SliceCmd
}

func (s *Store) get(ctx context.Context, c getter, key string) (*domain.Record, error) {
	vals, err := c.HMGet(ctx, LicenseKey(key), fieldDocument, fieldRevision).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get license: %w", err)
	}

	doc, _ := vals[0].(string)
	if doc == "" {
		return nil, &domain.NotFoundError{Key: key}
	}

	var rec domain.Record
	if err := json.Unmarshal([]byte(doc), &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal license %s: %w", key, err)
	}
	rec.Key = key
	rec.Revision, _ = vals[1].(string)

	return &rec, nil
}

// Replace writes rec as a whole document if the stored revision still
// equals rec.Revision. An empty revision means create-only.
func (s *Store) Replace(ctx context.Context, key string, rec *domain.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal license: %w", err)
	}

	rkey := LicenseKey(key)
	next := uuid.NewString()

	txf := func(tx *redis.Tx) error {
		current, err := s.get(ctx, tx, key)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			if rec.Revision != "" {
				return fmt.Errorf("replace %s: record vanished: %w", key, domain.ErrConflict)
			}
		case err != nil:
			return err
		case current.Revision != rec.Revision:
			return fmt.Errorf("replace %s: %w", key, domain.ErrConflict)
		}

		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, rkey, fieldDocument, data, fieldRevision, next)
			return nil
		})
		return err
	}

	err = s.client.Watch(ctx, txf, rkey)
	switch {
	case errors.Is(err, redis.TxFailedErr):
		return fmt.Errorf("replace %s: %w", key, domain.ErrConflict)
	case err != nil:
		if errors.Is(err, domain.ErrConflict) {
			return err
		}
		return fmt.Errorf("failed to save license: %w", err)
	}

	rec.Key = key
	rec.Revision = next
	return nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}
