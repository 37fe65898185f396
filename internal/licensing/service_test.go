package licensing

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/MrSnakeDoc/licensed/internal/domain"
	"github.com/MrSnakeDoc/licensed/internal/logger"
	"github.com/MrSnakeDoc/licensed/internal/metrics"
	"github.com/MrSnakeDoc/licensed/internal/store/memory"
)

var now = time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)

// faultyStore wraps the memory store and fails selected calls.
type faultyStore struct {
	*memory.Store

	mu         sync.Mutex
	getErr     error
	replaceErr error
	replaces   int
}

func (f *faultyStore) Get(ctx context.Context, key string) (*domain.Record, error) {
	f.mu.Lock()
	err := f.getErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.Store.Get(ctx, key)
}

func (f *faultyStore) Replace(ctx context.Context, key string, rec *domain.Record) error {
	f.mu.Lock()
	f.replaces++
	err := f.replaceErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.Store.Replace(ctx, key, rec)
}

type fixture struct {
	store   *faultyStore
	service *Service
	clock   *time.Time
}

func newFixture(t *testing.T, autoRegister bool) *fixture {
	t.Helper()
	f := &fixture{store: &faultyStore{Store: memory.NewStore()}}
	current := now
	f.clock = &current
	f.service = New(f.store, Options{
		StoreTimeout: time.Second,
		AutoRegister: autoRegister,
		Clock:        func() time.Time { return *f.clock },
		Metrics:      metrics.New(),
	}, logger.NewNop())
	return f
}

func (f *fixture) put(key string, rec *domain.Record) {
	f.store.Put(key, rec)
}

func (f *fixture) load(t *testing.T, key string) *domain.Record {
	t.Helper()
	rec, err := f.store.Store.Get(context.Background(), key)
	require.NoError(t, err)
	return rec
}

func (f *fixture) advance(d time.Duration) { *f.clock = f.clock.Add(d) }

func inDays(n int) string { return now.AddDate(0, 0, n).Format(domain.DateLayout) }

func TestActivateSingleSeatScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	f.put("LIC-1", &domain.Record{Status: domain.StatusActive, ExpiresAt: inDays(10), MaxDevices: 1})

	res, err := f.service.Activate(ctx, "LIC-1", "M1")
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, 10, res.RemainingDays)
	assert.Equal(t, BindNew, res.Bind)

	f.advance(time.Minute)
	res, err = f.service.Activate(ctx, "LIC-1", "M2")
	require.NoError(t, err)
	assert.Equal(t, BindEvicted, res.Bind)
	assert.Equal(t, []string{"M1"}, res.Evicted)

	f.advance(time.Minute)
	res, err = f.service.Activate(ctx, "LIC-1", "m1")
	require.NoError(t, err)
	assert.Equal(t, BindEvicted, res.Bind)
	assert.Equal(t, []string{"M2"}, res.Evicted)

	rec := f.load(t, "LIC-1")
	require.Len(t, rec.Devices, 1)
	assert.Equal(t, "M1", rec.Devices[0].MachineID)
}

func TestActivateRepeatIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	f.put("LIC-1", &domain.Record{ExpiresAt: inDays(5), MaxDevices: 2})

	_, err := f.service.Activate(ctx, "LIC-1", "abc123")
	require.NoError(t, err)
	f.advance(time.Hour)

	res, err := f.service.Activate(ctx, " LIC-1 ", "ABC123")
	require.NoError(t, err)
	assert.Equal(t, BindRepeat, res.Bind)
	assert.Equal(t, "already activated", res.Message)

	rec := f.load(t, "LIC-1")
	require.Len(t, rec.Devices, 1)
	assert.True(t, rec.Devices[0].ActivatedAt.Equal(now))
	assert.True(t, rec.Devices[0].LastSeenAt.Equal(now.Add(time.Hour)))
}

func TestActivateEvictsLeastRecentlySeen(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	f.put("LIC-1", &domain.Record{ExpiresAt: inDays(30), MaxDevices: 2})

	for _, id := range []string{"A", "B"} {
		_, err := f.service.Activate(ctx, "LIC-1", id)
		require.NoError(t, err)
		f.advance(time.Minute)
	}
	_, err := f.service.Activate(ctx, "LIC-1", "A") // A is now the most recent
	require.NoError(t, err)
	f.advance(time.Minute)

	res, err := f.service.Activate(ctx, "LIC-1", "C")
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, res.Evicted)
	assert.Len(t, f.load(t, "LIC-1").Devices, 2)
}

func TestActivateRejections(t *testing.T) {
	tests := []struct {
		name       string
		rec        *domain.Record
		key        string
		machine    string
		wantErr    error
		wantReason domain.Reason
	}{
		{name: "empty key", key: " ", machine: "M1", wantErr: domain.ErrValidation},
		{name: "empty machine", key: "LIC-1", machine: "", wantErr: domain.ErrValidation},
		{name: "unknown key", key: "NOPE", machine: "M1", wantErr: domain.ErrNotFound, wantReason: domain.ReasonNotFound},
		{
			name:       "blocked",
			rec:        &domain.Record{Status: domain.StatusBlocked, ExpiresAt: inDays(10)},
			key:        "LIC-1",
			machine:    "M1",
			wantErr:    domain.ErrState,
			wantReason: domain.ReasonNotActive,
		},
		{
			name:       "missing expiry",
			rec:        &domain.Record{Status: domain.StatusActive},
			key:        "LIC-1",
			machine:    "M1",
			wantErr:    domain.ErrState,
			wantReason: domain.ReasonMissingExpiry,
		},
		{
			name:    "malformed expiry",
			rec:     &domain.Record{Status: domain.StatusActive, ExpiresAt: "next year"},
			key:     "LIC-1",
			machine: "M1",
			wantErr: domain.ErrMalformedDate,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, false)
			if tt.rec != nil {
				f.put("LIC-1", tt.rec)
			}

			res, err := f.service.Activate(context.Background(), tt.key, tt.machine)
			require.ErrorIs(t, err, tt.wantErr)
			assert.False(t, res.OK)
			assert.Equal(t, tt.wantReason, res.Reason)
			assert.Equal(t, 0, f.store.replaces, "rejections must not write")
		})
	}
}

func TestActivateNotActiveMessageCarriesStatus(t *testing.T) {
	f := newFixture(t, false)
	f.put("LIC-1", &domain.Record{Status: "suspended", ExpiresAt: inDays(3)})

	res, err := f.service.Activate(context.Background(), "LIC-1", "M1")

	var stateErr *domain.StateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, domain.Status("suspended"), stateErr.Status)
	assert.Contains(t, res.Message, "suspended")
}

func TestActivateExpiredTransitionsAndPersists(t *testing.T) {
	f := newFixture(t, false)
	f.put("LIC-1", &domain.Record{Status: domain.StatusActive, ExpiresAt: inDays(-1)})

	res, err := f.service.Activate(context.Background(), "LIC-1", "M1")
	require.ErrorIs(t, err, domain.ErrState)
	assert.Equal(t, domain.ReasonExpired, res.Reason)
	assert.Equal(t, -1, res.RemainingDays)

	rec := f.load(t, "LIC-1")
	assert.Equal(t, domain.StatusExpired, rec.Status)
	assert.Empty(t, rec.Devices)
}

func TestActivateExpiredPersistIsBestEffort(t *testing.T) {
	f := newFixture(t, false)
	f.put("LIC-1", &domain.Record{Status: domain.StatusActive, ExpiresAt: inDays(-3)})
	f.store.replaceErr = errors.New("connection reset")

	res, err := f.service.Activate(context.Background(), "LIC-1", "M1")
	require.ErrorIs(t, err, domain.ErrState)
	assert.NotErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.Equal(t, domain.ReasonExpired, res.Reason)
	assert.Equal(t, 1, f.store.replaces)
}

func TestActivateStoreFailures(t *testing.T) {
	t.Run("read", func(t *testing.T) {
		f := newFixture(t, false)
		f.store.getErr = errors.New("dial tcp: i/o timeout")

		_, err := f.service.Activate(context.Background(), "LIC-1", "M1")
		require.ErrorIs(t, err, domain.ErrStoreUnavailable)
		assert.NotErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("write", func(t *testing.T) {
		f := newFixture(t, false)
		f.put("LIC-1", &domain.Record{ExpiresAt: inDays(3)})
		f.store.replaceErr = errors.New("broken pipe")

		res, err := f.service.Activate(context.Background(), "LIC-1", "M1")
		require.ErrorIs(t, err, domain.ErrStoreUnavailable)
		assert.False(t, res.OK)
		assert.Empty(t, f.load(t, "LIC-1").Devices)
	})

	t.Run("conflict", func(t *testing.T) {
		f := newFixture(t, false)
		f.put("LIC-1", &domain.Record{ExpiresAt: inDays(3)})
		f.store.replaceErr = domain.ErrConflict

		_, err := f.service.Activate(context.Background(), "LIC-1", "M1")
		require.ErrorIs(t, err, domain.ErrConflict)
		assert.NotErrorIs(t, err, domain.ErrStoreUnavailable)
	})

	t.Run("timeout", func(t *testing.T) {
		f := newFixture(t, false)
		f.store.getErr = context.DeadlineExceeded

		_, err := f.service.Activate(context.Background(), "LIC-1", "M1")
		require.ErrorIs(t, err, domain.ErrStoreUnavailable)
	})
}

func TestActivateConcurrentMachinesKeepCapacity(t *testing.T) {
	f := newFixture(t, false)
	f.put("LIC-1", &domain.Record{ExpiresAt: inDays(30), MaxDevices: 3})

	var g errgroup.Group
	for _, id := range []string{"A", "B", "C", "D", "E", "F", "G", "H"} {
		g.Go(func() error {
			_, err := f.service.Activate(context.Background(), "LIC-1", id)
			return err
		})
	}
	require.NoError(t, g.Wait())

	rec := f.load(t, "LIC-1")
	assert.Len(t, rec.Devices, 3)
	seen := map[string]bool{}
	for _, d := range rec.Devices {
		assert.False(t, seen[d.MachineID], "machine %s bound twice", d.MachineID)
		seen[d.MachineID] = true
	}
}

func TestProbe(t *testing.T) {
	tests := []struct {
		name        string
		rec         *domain.Record
		wantAllowed bool
		wantReason  domain.Reason
		wantDays    int
	}{
		{name: "valid", rec: &domain.Record{ExpiresAt: inDays(7)}, wantAllowed: true, wantReason: domain.ReasonOK, wantDays: 7},
		{name: "pending", rec: domain.NewPendingRecord("M1"), wantReason: domain.ReasonNotActive},
		{name: "missing expiry", rec: &domain.Record{Status: domain.StatusActive}, wantReason: domain.ReasonMissingExpiry},
		{name: "unknown", wantReason: domain.ReasonNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, false)
			if tt.rec != nil {
				f.put("M1", tt.rec)
			}

			res, err := f.service.Probe(context.Background(), " m1 ")
			require.NoError(t, err)
			assert.Equal(t, tt.wantAllowed, res.Allowed)
			assert.Equal(t, tt.wantReason, res.Reason)
			assert.Equal(t, tt.wantDays, res.RemainingDays)
			assert.Equal(t, 0, f.store.replaces)
		})
	}
}

func TestProbeUnknownWithoutAutoRegisterDoesNotWrite(t *testing.T) {
	f := newFixture(t, false)

	res, err := f.service.Probe(context.Background(), "M1")
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonNotFound, res.Reason)
	assert.Equal(t, 0, f.store.Count())
}

func TestProbeAutoRegister(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)

	res, err := f.service.Probe(ctx, "abc")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.True(t, res.Registered)
	assert.Equal(t, domain.ReasonPendingRegistration, res.Reason)

	rec := f.load(t, "ABC")
	assert.Equal(t, domain.StatusPending, rec.Status)
	assert.Empty(t, rec.ExpiresAt)

	res, err = f.service.Probe(ctx, "ABC")
	require.NoError(t, err)
	assert.False(t, res.Registered)
	assert.Equal(t, domain.ReasonNotActive, res.Reason)
	assert.Equal(t, 1, f.store.Count())
}

func TestProbeConcurrentAutoRegisterCreatesOneRecord(t *testing.T) {
	f := newFixture(t, true)

	var registered atomic.Int32
	var g errgroup.Group
	for range 16 {
		g.Go(func() error {
			res, err := f.service.Probe(context.Background(), "M1")
			if res.Registered {
				registered.Add(1)
			}
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(1), registered.Load())
	assert.Equal(t, 1, f.store.Count())
}

func TestProbeExpiredTransitions(t *testing.T) {
	f := newFixture(t, false)
	f.put("M1", &domain.Record{Status: domain.StatusActive, ExpiresAt: inDays(-1)})

	res, err := f.service.Probe(context.Background(), "M1")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, domain.ReasonExpired, res.Reason)
	assert.Equal(t, domain.StatusExpired, f.load(t, "M1").Status)
}

func TestProbeFaults(t *testing.T) {
	t.Run("validation", func(t *testing.T) {
		f := newFixture(t, true)
		_, err := f.service.Probe(context.Background(), "   ")
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("store down", func(t *testing.T) {
		f := newFixture(t, true)
		f.store.getErr = errors.New("connection refused")
		_, err := f.service.Probe(context.Background(), "M1")
		assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
		assert.Equal(t, 0, f.store.replaces)
	})
}

func TestFaultCode(t *testing.T) {
	assert.Equal(t, "INVALID_REQUEST", FaultCode(&domain.ValidationError{Field: "machine_id"}))
	assert.Equal(t, "CONFLICT", FaultCode(domain.ErrConflict))
	assert.Equal(t, "MALFORMED_DATE", FaultCode(&domain.MalformedDateError{Value: "x"}))
	assert.Equal(t, "STORE_UNAVAILABLE", FaultCode(&domain.StoreUnavailableError{Op: "get", Err: errors.New("x")}))
	assert.Equal(t, "INTERNAL", FaultCode(errors.New("x")))
}

func TestProbeFindsRecordKeyedAsSent(t *testing.T) {
	f := newFixture(t, true)
	f.put("abc123", &domain.Record{Status: domain.StatusActive, ExpiresAt: inDays(-1)})

	res, err := f.service.Probe(context.Background(), " abc123 ")
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonExpired, res.Reason)
	assert.False(t, res.Registered)

	assert.Equal(t, domain.StatusExpired, f.load(t, "abc123").Status)
	assert.Equal(t, 1, f.store.Count(), "no pending duplicate under the normalized key")
}

func TestActivateRepeatMatchesLegacyLowercaseBinding(t *testing.T) {
	f := newFixture(t, false)
	f.put("LIC-1", &domain.Record{
		ExpiresAt:  inDays(5),
		MaxDevices: 1,
		Devices:    []domain.Binding{{MachineID: "abc123", ActivatedAt: now.Add(-time.Hour), LastSeenAt: now.Add(-time.Hour)}},
	})

	res, err := f.service.Activate(context.Background(), "LIC-1", "abc123")
	require.NoError(t, err)
	assert.Equal(t, BindRepeat, res.Bind)
	assert.Empty(t, res.Evicted)

	rec := f.load(t, "LIC-1")
	require.Len(t, rec.Devices, 1)
	assert.Equal(t, "ABC123", rec.Devices[0].MachineID)
}
