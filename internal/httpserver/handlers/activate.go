package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/render"

	"github.com/MrSnakeDoc/licensed/internal/domain"
	"github.com/MrSnakeDoc/licensed/internal/httpserver/deps"
)

type activateRequest struct {
	LicenseKey string `json:"license_key" validate:"required,notblank,max=256"`
	MachineID  string `json:"machine_id" validate:"required,notblank,max=256"`
}

// Activate binds a machine to a license.
//
//	200 activated or already activated
//	403 not active, expired
//	404 unknown license
//	500 missing or malformed expiry
func Activate(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req activateRequest
		if err := decode(r, &req); err != nil {
			writeFault(w, r, err)
			return
		}

		res, err := d.Service.Activate(r.Context(), req.LicenseKey, req.MachineID)

		var stateErr *domain.StateError
		switch {
		case err == nil:
			render.Status(r, http.StatusOK)
			render.JSON(w, r, licenseResponse{
				OK:            true,
				Message:       res.Message,
				RemainingDays: days(true, res.RemainingDays),
				Code:          res.Reason.Code(),
			})
		case errors.Is(err, domain.ErrNotFound):
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, licenseResponse{Message: res.Message, Code: res.Reason.Code()})
		case errors.As(err, &stateErr):
			status := http.StatusForbidden
			if stateErr.Reason == domain.ReasonMissingExpiry {
				status = http.StatusInternalServerError
			}
			render.Status(r, status)
			render.JSON(w, r, licenseResponse{
				Message:       res.Message,
				RemainingDays: days(stateErr.Reason == domain.ReasonExpired, res.RemainingDays),
				Code:          res.Reason.Code(),
			})
		default:
			writeFault(w, r, err)
		}
	}
}
