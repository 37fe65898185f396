package deps

import (
	"context"
	"net/http"
	"time"

	"github.com/MrSnakeDoc/licensed/internal/licensing"
	"github.com/MrSnakeDoc/licensed/internal/logger"
)

// Pinger reports whether the license store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Logger         logger.Logger
	StartTime      time.Time
	Version        string
	Commit         string
	BuildDate      string
	GoVersion      string
	Service        *licensing.Service // activation and probe
	Store          Pinger             // checked by /readyz
	StoreBackend   string             // memory | redis | postgres | blob
	ReadyTimeout   time.Duration      // bound for the /readyz store ping
	MetricsHandler http.Handler       // nil disables /metrics
	AllowedCIDRS   []string           // IPs allowed to access readyz/metrics endpoints
	TrustProxy     bool               // true if running behind a trusted reverse proxy (e.g., cloudflared)
	RateBurst      int                // per-IP burst on activate/check_machine
	RatePerMin     int                // per-IP refill, 0 disables the limiter
}
