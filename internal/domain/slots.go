package domain

import "time"

// AdmitResult describes what Admit did to the record.
type AdmitResult struct {
	// Matched is true when the machine was already bound.
	Matched bool
	// Binding is the binding for the machine after admission.
	Binding Binding
	// Evicted lists the bindings removed to make room, oldest first.
	Evicted []Binding
}

// Admit binds machineID to rec, evicting the least recently seen binding
// when the record is at capacity. It mutates rec only; persisting is the
// caller's job.
func Admit(rec *Record, machineID string, now time.Time) AdmitResult {
	id := NormalizeMachineID(machineID)
	now = now.UTC()
	rec.normalizeDevices()

	// Repeat activation: refresh last seen, no capacity check.
	if i := rec.FindDevice(id); i >= 0 {
		b := &rec.Devices[i]
		if now.After(b.LastSeenAt) {
			b.LastSeenAt = now
		}
		if b.LastSeenAt.Before(b.ActivatedAt) {
			b.LastSeenAt = b.ActivatedAt
		}
		return AdmitResult{Matched: true, Binding: *b}
	}

	var evicted []Binding
	capacity := rec.Capacity()
	for len(rec.Devices) >= capacity {
		victim := oldestBinding(rec.Devices)
		evicted = append(evicted, rec.Devices[victim])
		rec.Devices = append(rec.Devices[:victim], rec.Devices[victim+1:]...)
	}

	b := Binding{MachineID: id, ActivatedAt: now, LastSeenAt: now}
	rec.Devices = append(rec.Devices, b)

	return AdmitResult{Binding: b, Evicted: evicted}
}

// oldestBinding returns the index of the eviction victim: smallest
// LastSeenAt, then smallest ActivatedAt, then lowest position.
func oldestBinding(devices []Binding) int {
	victim := 0
	for i := 1; i < len(devices); i++ {
		if lessRecent(devices[i], devices[victim]) {
			victim = i
		}
	}
	return victim
}

func lessRecent(a, b Binding) bool {
	if !a.LastSeenAt.Equal(b.LastSeenAt) {
		return a.LastSeenAt.Before(b.LastSeenAt)
	}
	return a.ActivatedAt.Before(b.ActivatedAt)
}
