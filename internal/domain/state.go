package domain

import (
	"strings"
	"time"
)

// Status is the raw status string stored on a record.
type Status string

const (
	StatusActive  Status = "active"
	StatusExpired Status = "expired"
	StatusPending Status = "pending"
	StatusBlocked Status = "blocked"
)

// State is the closed set of statuses the service reasons about.
type State int

const (
	// StateOther covers any status string this service does not know.
	// It is never usable.
	StateOther State = iota
	StateActive
	StateExpired
	StatePending
	StateBlocked
)

// State maps the raw status to its State. An empty status is active,
// matching records written before the field existed.
func (s Status) State() State {
	switch Status(strings.ToLower(strings.TrimSpace(string(s)))) {
	case "", StatusActive:
		return StateActive
	case StatusExpired:
		return StateExpired
	case StatusPending:
		return StatePending
	case StatusBlocked:
		return StateBlocked
	default:
		return StateOther
	}
}

func (st State) String() string {
	switch st {
	case StateActive:
		return "active"
	case StateExpired:
		return "expired"
	case StatePending:
		return "pending"
	case StateBlocked:
		return "blocked"
	default:
		return "other"
	}
}

// Reason is the outcome code of an evaluation.
type Reason int

const (
	ReasonOK Reason = iota
	ReasonNotFound
	ReasonNotActive
	ReasonMissingExpiry
	ReasonExpired
	ReasonPendingRegistration
)

// Code returns the stable wire code.
func (r Reason) Code() string {
	switch r {
	case ReasonOK:
		return "OK"
	case ReasonNotFound:
		return "NOT_FOUND"
	case ReasonNotActive:
		return "NOT_ACTIVE"
	case ReasonMissingExpiry:
		return "MISSING_EXPIRY"
	case ReasonExpired:
		return "EXPIRED"
	case ReasonPendingRegistration:
		return "PENDING_REGISTRATION"
	default:
		return "UNKNOWN"
	}
}

func (r Reason) String() string { return r.Code() }

// Message returns a human readable explanation.
func (r Reason) Message() string {
	switch r {
	case ReasonOK:
		return "license is valid"
	case ReasonNotFound:
		return "license not found"
	case ReasonNotActive:
		return "license is not active"
	case ReasonMissingExpiry:
		return "license has no expiry date"
	case ReasonExpired:
		return "license has expired"
	case ReasonPendingRegistration:
		return "machine registered, waiting for approval"
	default:
		return "unknown outcome"
	}
}

// Outcome is the result of Evaluate.
type Outcome struct {
	Allowed       bool
	Reason        Reason
	Status        Status
	RemainingDays int

	// Transitioned is set when Evaluate moved the record from active to
	// expired. The caller owns persisting that change.
	Transitioned bool
}

// Evaluate decides whether rec may be used today. The only mutation it
// performs is the active -> expired transition on rec itself.
//
// A MalformedDateError is returned when the stored expiry cannot be parsed;
// the record is left untouched in that case.
func Evaluate(rec *Record, today time.Time) (Outcome, error) {
	if rec == nil {
		return Outcome{Reason: ReasonNotFound}, nil
	}

	out := Outcome{Status: rec.Status}

	if rec.Status.State() != StateActive {
		out.Reason = ReasonNotActive
		return out, nil
	}

	if strings.TrimSpace(rec.ExpiresAt) == "" {
		out.Reason = ReasonMissingExpiry
		return out, nil
	}

	days, err := RemainingDays(rec.ExpiresAt, today)
	if err != nil {
		return out, err
	}
	out.RemainingDays = days

	if days < 0 {
		rec.Status = StatusExpired
		out.Status = StatusExpired
		out.Reason = ReasonExpired
		out.Transitioned = true
		return out, nil
	}

	out.Allowed = true
	out.Reason = ReasonOK
	return out, nil
}
