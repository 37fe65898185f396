package licensing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrSnakeDoc/licensed/internal/domain"
	"github.com/MrSnakeDoc/licensed/internal/logger"
)

// Bind tells how a successful activation touched the device list.
type Bind int

const (
	BindNone    Bind = iota // activation failed
	BindNew                 // free slot used
	BindRepeat              // machine was already bound
	BindEvicted             // least recently seen machines were evicted
)

func (b Bind) String() string {
	switch b {
	case BindNew:
		return "new"
	case BindRepeat:
		return "repeat"
	case BindEvicted:
		return "evicted"
	default:
		return "none"
	}
}

type ActivationResult struct {
	OK            bool
	Reason        domain.Reason
	Message       string
	RemainingDays int
	Bind          Bind
	Evicted       []string // machine ids removed to make room
}

// Activate binds machineID to the license stored under licenseKey.
//
// Business rejections come back as a populated result together with a
// *domain.NotFoundError or *domain.StateError. Store failures are
// *domain.StoreUnavailableError, a lost write race is domain.ErrConflict and
// an unparseable expiry is *domain.MalformedDateError. Nothing is retried.
func (s *Service) Activate(ctx context.Context, licenseKey, machineID string) (res ActivationResult, err error) {
	licenseKey = strings.TrimSpace(licenseKey)
	machineID = domain.NormalizeMachineID(machineID)

	defer func() {
		s.record("activate", res.Reason, err)
		s.logFault("activate", licenseKey, err)
	}()

	switch {
	case licenseKey == "":
		return ActivationResult{}, &domain.ValidationError{Field: "license_key"}
	case machineID == "":
		return ActivationResult{}, &domain.ValidationError{Field: "machine_id"}
	}

	unlock := s.locks.Lock(licenseKey)
	defer unlock()

	rec, err := s.get(ctx, licenseKey)
	if errors.Is(err, domain.ErrNotFound) {
		return failed(domain.ReasonNotFound, ""), err
	}
	if err != nil {
		return ActivationResult{}, err
	}

	now := s.opts.Clock()
	out, err := domain.Evaluate(rec, now)
	if err != nil {
		return ActivationResult{}, err
	}
	if !out.Allowed {
		if out.Transitioned {
			s.persistExpired(ctx, rec)
		}
		res = failed(out.Reason, out.Status)
		res.RemainingDays = out.RemainingDays
		return res, &domain.StateError{Reason: out.Reason, Status: out.Status}
	}

	adm := domain.Admit(rec, machineID, now)
	if err := s.replace(ctx, licenseKey, rec); err != nil {
		return ActivationResult{}, err
	}

	res = ActivationResult{
		OK:            true,
		Reason:        domain.ReasonOK,
		RemainingDays: out.RemainingDays,
	}
	switch {
	case adm.Matched:
		res.Bind = BindRepeat
		res.Message = "already activated"
	case len(adm.Evicted) > 0:
		res.Bind = BindEvicted
		res.Message = "activated"
		for _, b := range adm.Evicted {
			res.Evicted = append(res.Evicted, b.MachineID)
		}
		s.metrics.Evicted(len(adm.Evicted))
		s.logger.Info("device evicted",
			logger.String("key", licenseKey),
			logger.String("machine_id", machineID),
			logger.Strings("evicted", res.Evicted))
	default:
		res.Bind = BindNew
		res.Message = "activated"
	}
	return res, nil
}

func failed(reason domain.Reason, status domain.Status) ActivationResult {
	msg := reason.Message()
	if reason == domain.ReasonNotActive && status != "" {
		msg = fmt.Sprintf("%s (%s)", msg, status)
	}
	return ActivationResult{Reason: reason, Message: msg}
}
