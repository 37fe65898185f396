package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// DateLayout is the calendar date format used for expires_at.
const DateLayout = "2006-01-02"

// DefaultMaxDevices applies when a record carries no usable max_devices.
const DefaultMaxDevices = 1

// Record is the canonical license (or machine) record as persisted by a store.
//
// It is NOT tied to a backend: every store decodes its own representation
// into this structure and encodes it back as a whole document.
type Record struct {
	// ─────────────────────────────
	// Identity (immutable)
	// ─────────────────────────────

	// Key is the store key: a license key, or a machine identifier for
	// records created by the probe. It is never part of the document body.
	Key string `json:"-" yaml:"key"`

	// ─────────────────────────────
	// Grant
	// ─────────────────────────────

	// Status is kept verbatim so unknown values survive a round trip.
	Status Status `json:"status" yaml:"status"`

	// ExpiresAt is a YYYY-MM-DD date. Empty means the record has no expiry,
	// which is reported separately from an expired license.
	ExpiresAt string `json:"expires_at" yaml:"expires_at"`

	// MaxDevices is the number of concurrently bound machines.
	MaxDevices int `json:"max_devices" yaml:"max_devices"`

	// ─────────────────────────────
	// Bindings
	// ─────────────────────────────

	Devices []Binding `json:"activated_devices" yaml:"activated_devices"`

	// ─────────────────────────────
	// Concurrency
	// ─────────────────────────────

	// Revision is the version token assigned by the store on every write.
	// Empty means the record has not been persisted yet.
	Revision string `json:"-" yaml:"-"`
}

// Binding associates a machine with a license.
type Binding struct {
	MachineID   string    `json:"machine_id" yaml:"machine_id"`
	ActivatedAt time.Time `json:"activated_at" yaml:"activated_at"`
	LastSeenAt  time.Time `json:"last_check" yaml:"last_check"`
}

// Capacity returns MaxDevices, falling back to DefaultMaxDevices.
func (r *Record) Capacity() int {
	if r.MaxDevices < 1 {
		return DefaultMaxDevices
	}
	return r.MaxDevices
}

// Clone returns a deep copy safe to mutate independently.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.Devices != nil {
		c.Devices = make([]Binding, len(r.Devices))
		copy(c.Devices, r.Devices)
	}
	return &c
}

// FindDevice returns the index of the binding for machineID, or -1.
// machineID must already be normalized; stored ids are compared in their
// normalized form since older records kept them as sent.
func (r *Record) FindDevice(machineID string) int {
	for i := range r.Devices {
		if NormalizeMachineID(r.Devices[i].MachineID) == machineID {
			return i
		}
	}
	return -1
}

// normalizeDevices rewrites stored machine ids in normalized form and folds
// bindings that only differed by case or spacing into the first one, keeping
// the earliest activation and the latest sighting.
func (r *Record) normalizeDevices() {
	out := r.Devices[:0]
	for _, b := range r.Devices {
		b.MachineID = NormalizeMachineID(b.MachineID)

		dup := -1
		for i := range out {
			if out[i].MachineID == b.MachineID {
				dup = i
				break
			}
		}
		if dup < 0 {
			out = append(out, b)
			continue
		}
		if b.ActivatedAt.Before(out[dup].ActivatedAt) {
			out[dup].ActivatedAt = b.ActivatedAt
		}
		if b.LastSeenAt.After(out[dup].LastSeenAt) {
			out[dup].LastSeenAt = b.LastSeenAt
		}
	}
	r.Devices = out
}

// MarshalJSON writes a missing expiry as null and an empty device list as [].
func (r Record) MarshalJSON() ([]byte, error) {
	type alias Record
	var expires *string
	if r.ExpiresAt != "" {
		expires = &r.ExpiresAt
	}
	devices := r.Devices
	if devices == nil {
		devices = []Binding{}
	}
	return json.Marshal(struct {
		alias
		ExpiresAt *string   `json:"expires_at"`
		Devices   []Binding `json:"activated_devices"`
	}{alias: alias(r), ExpiresAt: expires, Devices: devices})
}

// NewPendingRecord builds the record seeded for an unknown machine.
func NewPendingRecord(machineID string) *Record {
	return &Record{
		Key:        machineID,
		Status:     StatusPending,
		MaxDevices: DefaultMaxDevices,
		Devices:    []Binding{},
	}
}

// NormalizeMachineID trims and upper-cases a machine identifier.
func NormalizeMachineID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}
