package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/licensed/internal/httpserver/deps"
	"github.com/MrSnakeDoc/licensed/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/licensed/internal/httpserver/mw"
)

func init() { Register("licensing", registerLicensing) }

func registerLicensing(r chi.Router, d deps.Deps) {
	limit := mw.RateLimit(mw.RateLimitConfig{
		Burst:             d.RateBurst,
		RefillPerIPPerMin: d.RatePerMin,
		MaxEntries:        10000,
		TrustProxy:        d.TrustProxy,
	})

	r.Group(func(r chi.Router) {
		r.Use(limit)
		r.Post("/activate", handlers.Activate(d))
		r.Post("/check_machine", handlers.CheckMachine(d))
	})
}
