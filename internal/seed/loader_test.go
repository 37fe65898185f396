package seed

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrSnakeDoc/licensed/internal/domain"
)

const fixture = `
licenses:
  - key: LIC-ACTIVE
    status: active
    expires_at: "2030-12-31"
    max_devices: 2
    activated_devices:
      - machine_id: " abc123 "
        activated_at: 2026-01-01T10:00:00Z
        last_check: 2026-02-01T10:00:00Z
  - key: LIC-RELATIVE
    expires_in_days: 30
  - key: LIC-PENDING
    status: pending
`

type recorder map[string]*domain.Record

func (r recorder) Put(key string, rec *domain.Record) { r[key] = rec }

func writeFixture(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "licenses.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func TestLoaderLoad(t *testing.T) {
	l := NewLoader(writeFixture(t, fixture))
	l.now = func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }

	records, err := l.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("len(records) = %d, want 3", len(records))
	}

	active := records[0]
	if active.Capacity() != 2 || len(active.Devices) != 1 {
		t.Errorf("active = %+v", active)
	}
	if active.Devices[0].MachineID != "ABC123" {
		t.Errorf("MachineID = %q, want normalized ABC123", active.Devices[0].MachineID)
	}

	if got := records[1].ExpiresAt; got != "2026-03-31" {
		t.Errorf("relative ExpiresAt = %q, want 2026-03-31", got)
	}
	if records[1].Status.State() != domain.StateActive {
		t.Errorf("default status State() = %v, want active", records[1].Status.State())
	}
	if records[2].Status.State() != domain.StatePending {
		t.Errorf("pending State() = %v", records[2].Status.State())
	}

	dst := recorder{}
	if n := Apply(dst, records); n != 3 {
		t.Errorf("Apply() = %d, want 3", n)
	}
	if _, ok := dst["LIC-RELATIVE"]; !ok {
		t.Error("LIC-RELATIVE not applied")
	}
}

func TestMapRejectsBadEntries(t *testing.T) {
	today := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		file    File
		wantErr string
	}{
		{"missing key", File{Licenses: []Entry{{Key: " "}}}, "key is required"},
		{"duplicate key", File{Licenses: []Entry{{Key: "A"}, {Key: "A"}}}, "duplicate"},
		{"malformed expiry", File{Licenses: []Entry{{Key: "A", ExpiresAt: "31/12/2026"}}}, "malformed"},
		{
			"duplicate device",
			File{Licenses: []Entry{{Key: "A", Devices: []domain.Binding{{MachineID: "x"}, {MachineID: "X"}}}}},
			"bound twice",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Map(tt.file, today)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Map() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoaderMissingFile(t *testing.T) {
	if _, err := NewLoader(filepath.Join(t.TempDir(), "none.yaml")).Load(); err == nil {
		t.Error("Load() error = nil, want read failure")
	}
}

func TestMapNormalizesMachineKeys(t *testing.T) {
	file := File{Licenses: []Entry{
		{Key: " abc123 ", Machine: true, Status: "pending"},
		{Key: "lic-Mixed"},
	}}

	records, err := Map(file, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Map() error: %v", err)
	}
	if records[0].Key != "ABC123" {
		t.Errorf("machine key = %q, want ABC123", records[0].Key)
	}
	if records[1].Key != "lic-Mixed" {
		t.Errorf("license key = %q, want unchanged lic-Mixed", records[1].Key)
	}

	_, err = Map(File{Licenses: []Entry{{Key: "m1", Machine: true}, {Key: "M1", Machine: true}}}, time.Now())
	if err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Errorf("Map() error = %v, want duplicate key", err)
	}
}
