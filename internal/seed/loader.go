// Package seed provisions the memory store from a yaml fixture file.
package seed

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrSnakeDoc/licensed/internal/domain"
)

// Putter receives seeded records.
type Putter interface {
	Put(key string, rec *domain.Record)
}

// Loader handles loading and parsing of a fixture file
type Loader struct {
	filePath string
	now      func() time.Time
}

func NewLoader(filePath string) *Loader {
	return &Loader{filePath: filePath, now: time.Now}
}

// Load reads the fixture file and maps it to records.
func (l *Loader) Load() ([]*domain.Record, error) {
	data, err := os.ReadFile(l.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse seed yaml: %w", err)
	}

	return Map(file, l.now())
}

// Map validates entries and converts them to records. today resolves
// relative expiries.
func Map(file File, today time.Time) ([]*domain.Record, error) {
	records := make([]*domain.Record, 0, len(file.Licenses))
	seen := make(map[string]bool, len(file.Licenses))

	for i, e := range file.Licenses {
		key := strings.TrimSpace(e.Key)
		if e.Machine {
			key = domain.NormalizeMachineID(key)
		}
		if key == "" {
			return nil, fmt.Errorf("license #%d: key is required", i+1)
		}
		if seen[key] {
			return nil, fmt.Errorf("license %s: duplicate key", key)
		}
		seen[key] = true

		expires := strings.TrimSpace(e.ExpiresAt)
		if e.ExpiresInDays != nil {
			expires = today.AddDate(0, 0, *e.ExpiresInDays).Format(domain.DateLayout)
		}
		if expires != "" {
			if _, err := domain.RemainingDays(expires, today); err != nil {
				return nil, fmt.Errorf("license %s: %w", key, err)
			}
		}

		rec := &domain.Record{
			Key:        key,
			Status:     domain.Status(strings.TrimSpace(e.Status)),
			ExpiresAt:  expires,
			MaxDevices: e.MaxDevices,
		}
		for _, b := range e.Devices {
			id := domain.NormalizeMachineID(b.MachineID)
			if id == "" {
				return nil, fmt.Errorf("license %s: device without machine_id", key)
			}
			if rec.FindDevice(id) != -1 {
				return nil, fmt.Errorf("license %s: device %s bound twice", key, id)
			}
			if b.LastSeenAt.IsZero() || b.LastSeenAt.Before(b.ActivatedAt) {
				b.LastSeenAt = b.ActivatedAt
			}
			rec.Devices = append(rec.Devices, domain.Binding{
				MachineID:   id,
				ActivatedAt: b.ActivatedAt.UTC(),
				LastSeenAt:  b.LastSeenAt.UTC(),
			})
		}
		records = append(records, rec)
	}

	return records, nil
}

// Apply stores every record and returns how many were written.
func Apply(dst Putter, records []*domain.Record) int {
	for _, rec := range records {
		dst.Put(rec.Key, rec)
	}
	return len(records)
}
