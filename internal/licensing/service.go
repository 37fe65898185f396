// Package licensing runs activations and probes against a license store.
package licensing

import (
	"context"
	"errors"
	"time"

	"github.com/MrSnakeDoc/licensed/internal/domain"
	"github.com/MrSnakeDoc/licensed/internal/keylock"
	"github.com/MrSnakeDoc/licensed/internal/logger"
	"github.com/MrSnakeDoc/licensed/internal/metrics"
)

// Store is the part of the license store the service needs.
type Store interface {
	Get(ctx context.Context, key string) (*domain.Record, error)
	Replace(ctx context.Context, key string, rec *domain.Record) error
}

type Options struct {
	StoreTimeout time.Duration    // bound for every single store call
	AutoRegister bool             // Probe creates pending records for unknown machines
	Clock        func() time.Time // defaults to time.Now
	Metrics      *metrics.Metrics // optional
}

// Service holds no record state between calls; every operation re-reads
// the store. Writes for one key are serialized in-process and guarded by
// the store's revision check across processes.
type Service struct {
	store   Store
	locks   *keylock.Locker
	opts    Options
	logger  logger.Logger
	metrics *metrics.Metrics
}

func New(store Store, opts Options, log logger.Logger) *Service {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 3 * time.Second
	}
	return &Service{
		store:   store,
		locks:   keylock.New(),
		opts:    opts,
		logger:  log,
		metrics: opts.Metrics,
	}
}

func (s *Service) get(ctx context.Context, key string) (*domain.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()

	rec, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, domain.Unavailable("get", err)
	}
	return rec, nil
}

func (s *Service) replace(ctx context.Context, key string, rec *domain.Record) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()

	return domain.Unavailable("replace", s.store.Replace(ctx, key, rec))
}

// persistExpired writes the active -> expired transition. Failure does not
// change what the caller is told.
func (s *Service) persistExpired(ctx context.Context, rec *domain.Record) {
	if err := s.replace(ctx, rec.Key, rec); err != nil {
		s.logger.Warn("failed to persist expired status",
			logger.String("key", rec.Key),
			logger.Error(err))
		return
	}
	s.logger.Info("license expired", logger.String("key", rec.Key))
}

// logFault logs store and data faults. Business rejections stay at debug.
func (s *Service) logFault(op, key string, err error) {
	switch {
	case errors.Is(err, domain.ErrStoreUnavailable):
		s.logger.Error("license store failure",
			logger.String("op", op),
			logger.String("key", key),
			logger.Error(err))
	case errors.Is(err, domain.ErrMalformedDate):
		s.logger.Error("license record has a malformed expiry",
			logger.String("op", op),
			logger.String("key", key),
			logger.Error(err))
	case errors.Is(err, domain.ErrConflict):
		s.logger.Warn("license record changed concurrently",
			logger.String("op", op),
			logger.String("key", key))
	case err != nil:
		s.logger.Debug("request rejected",
			logger.String("op", op),
			logger.String("key", key),
			logger.Error(err))
	}
}

// FaultCode labels errors that are not business outcomes.
func FaultCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return "INVALID_REQUEST"
	case errors.Is(err, domain.ErrConflict):
		return "CONFLICT"
	case errors.Is(err, domain.ErrMalformedDate):
		return "MALFORMED_DATE"
	case errors.Is(err, domain.ErrStoreUnavailable):
		return "STORE_UNAVAILABLE"
	default:
		return "INTERNAL"
	}
}

func (s *Service) record(op string, reason domain.Reason, err error) {
	code := reason.Code()
	if err != nil && !errors.Is(err, domain.ErrState) && !errors.Is(err, domain.ErrNotFound) {
		code = FaultCode(err)
	}
	s.metrics.Outcome(op, code)
}
