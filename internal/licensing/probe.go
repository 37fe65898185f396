package licensing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrSnakeDoc/licensed/internal/domain"
	"github.com/MrSnakeDoc/licensed/internal/logger"
)

type ProbeResult struct {
	Allowed       bool
	Reason        domain.Reason
	Message       string
	Status        domain.Status
	RemainingDays int
	Registered    bool // a pending record was created by this call
}

// Probe checks the record keyed directly by machineID. It never binds or
// evicts devices. With AutoRegister an unknown machine gets a pending
// record, written create-only so concurrent first probes yield one record.
//
// Every business outcome, including not found, is a nil error.
func (s *Service) Probe(ctx context.Context, machineID string) (res ProbeResult, err error) {
	id := domain.NormalizeMachineID(machineID)

	defer func() {
		s.record("probe", res.Reason, err)
		s.logFault("probe", id, err)
	}()

	if id == "" {
		return ProbeResult{}, &domain.ValidationError{Field: "machine_id"}
	}

	rec, err := s.get(ctx, id)
	if legacy := strings.TrimSpace(machineID); errors.Is(err, domain.ErrNotFound) && legacy != id {
		// Records written before ids were normalized are keyed as sent.
		rec, err = s.get(ctx, legacy)
	}
	switch {
	case errors.Is(err, domain.ErrNotFound):
		if !s.opts.AutoRegister {
			return probeResult(domain.Outcome{Reason: domain.ReasonNotFound}), nil
		}
		return s.register(ctx, id)
	case err != nil:
		return ProbeResult{}, err
	}

	out, err := domain.Evaluate(rec, s.opts.Clock())
	if err != nil {
		return ProbeResult{}, err
	}
	if out.Transitioned {
		unlock := s.locks.Lock(rec.Key)
		s.persistExpired(ctx, rec)
		unlock()
	}
	return probeResult(out), nil
}

func (s *Service) register(ctx context.Context, id string) (ProbeResult, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	err := s.replace(ctx, id, domain.NewPendingRecord(id))
	if err == nil {
		s.logger.Info("registered pending machine", logger.String("machine_id", id))
		res := probeResult(domain.Outcome{Reason: domain.ReasonPendingRegistration, Status: domain.StatusPending})
		res.Registered = true
		return res, nil
	}
	if !errors.Is(err, domain.ErrConflict) {
		return ProbeResult{}, err
	}

	// Another writer created the record first; report theirs.
	rec, err := s.get(ctx, id)
	if err != nil {
		return ProbeResult{}, err
	}
	out, err := domain.Evaluate(rec, s.opts.Clock())
	if err != nil {
		return ProbeResult{}, err
	}
	if out.Transitioned {
		s.persistExpired(ctx, rec)
	}
	return probeResult(out), nil
}

func probeResult(out domain.Outcome) ProbeResult {
	msg := out.Reason.Message()
	if out.Reason == domain.ReasonNotActive && out.Status != "" {
		msg = fmt.Sprintf("%s (%s)", msg, out.Status)
	}
	return ProbeResult{
		Allowed:       out.Allowed,
		Reason:        out.Reason,
		Message:       msg,
		Status:        out.Status,
		RemainingDays: out.RemainingDays,
	}
}
