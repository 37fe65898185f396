package seed

import "github.com/MrSnakeDoc/licensed/internal/domain"

// File is the top-level structure of a license fixture file.
type File struct {
	Licenses []Entry `yaml:"licenses"`
}

// Entry describes one license. ExpiresInDays, when set, wins over
// ExpiresAt and is resolved against the load date so fixtures never go stale.
type Entry struct {
	Key           string           `yaml:"key"`
	Machine       bool             `yaml:"machine,omitempty"` // key is a machine id, normalized like probe lookups
	Status        string           `yaml:"status,omitempty"`
	ExpiresAt     string           `yaml:"expires_at,omitempty"`
	ExpiresInDays *int             `yaml:"expires_in_days,omitempty"`
	MaxDevices    int              `yaml:"max_devices,omitempty"`
	Devices       []domain.Binding `yaml:"activated_devices,omitempty"`
}
