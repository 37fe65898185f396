package domain

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestRecordJSONWireShape(t *testing.T) {
	rec := NewPendingRecord("M1")

	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}

	got := string(data)
	for _, want := range []string{`"status":"pending"`, `"expires_at":null`, `"max_devices":1`, `"activated_devices":[]`} {
		if !strings.Contains(got, want) {
			t.Errorf("Marshal() = %s, missing %s", got, want)
		}
	}
	if strings.Contains(got, "M1") {
		t.Errorf("Marshal() = %s, key must not be part of the document", got)
	}
}

func TestRecordJSONLegacyDocument(t *testing.T) {
	doc := `{
		"expires_at": "2026-12-31",
		"activated_devices": [
			{"machine_id": "ABC", "activated_at": "2026-01-01T10:00:00Z", "last_check": "2026-02-01T10:00:00Z"}
		]
	}`

	var rec Record
	if err := json.Unmarshal([]byte(doc), &rec); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}

	if rec.Status.State() != StateActive {
		t.Errorf("missing status State() = %v, want active", rec.Status.State())
	}
	if rec.Capacity() != DefaultMaxDevices {
		t.Errorf("Capacity() = %d, want %d", rec.Capacity(), DefaultMaxDevices)
	}
	if len(rec.Devices) != 1 || rec.Devices[0].LastSeenAt.Month() != 2 {
		t.Errorf("Devices = %+v, want one binding last seen in February", rec.Devices)
	}
}

func TestRecordCloneIsDeep(t *testing.T) {
	rec := &Record{Key: "K", Devices: []Binding{{MachineID: "A"}}}

	c := rec.Clone()
	c.Devices[0].MachineID = "B"

	if rec.Devices[0].MachineID != "A" {
		t.Errorf("Clone shares device storage with the original")
	}
}
