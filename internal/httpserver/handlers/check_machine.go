package handlers

import (
	"net/http"

	"github.com/go-chi/render"

	"github.com/MrSnakeDoc/licensed/internal/domain"
	"github.com/MrSnakeDoc/licensed/internal/httpserver/deps"
)

type checkMachineRequest struct {
	MachineID string `json:"machine_id" validate:"required,notblank,max=256"`
}

// CheckMachine answers 200 for every business outcome; ok tells the client
// whether it may run.
func CheckMachine(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req checkMachineRequest
		if err := decode(r, &req); err != nil {
			writeFault(w, r, err)
			return
		}

		res, err := d.Service.Probe(r.Context(), req.MachineID)
		if err != nil {
			writeFault(w, r, err)
			return
		}

		showDays := res.Allowed || res.Reason == domain.ReasonExpired
		render.Status(r, http.StatusOK)
		render.JSON(w, r, licenseResponse{
			OK:            res.Allowed,
			Message:       res.Message,
			RemainingDays: days(showDays, res.RemainingDays),
			Code:          res.Reason.Code(),
		})
	}
}
