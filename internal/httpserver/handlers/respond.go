package handlers

import (
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"

	"github.com/MrSnakeDoc/licensed/internal/domain"
	"github.com/MrSnakeDoc/licensed/internal/licensing"
)

var validate = newValidator()

// newValidator reports fields by their json name.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("notblank", validators.NotBlank)
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// licenseResponse is the body of /activate and /check_machine.
type licenseResponse struct {
	OK            bool   `json:"ok"`
	Message       string `json:"message"`
	RemainingDays *int   `json:"remaining_days,omitempty"`
	Code          string `json:"code"`
}

// decode reads a JSON body into dst and validates it. Fields tagged
// notblank reject whitespace-only values.
func decode(r *http.Request, dst any) error {
	if err := render.DecodeJSON(r.Body, dst); err != nil {
		return &domain.ValidationError{Field: "body"}
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return &domain.ValidationError{Field: verrs[0].Field()}
		}
		return &domain.ValidationError{Field: "body"}
	}
	return nil
}

// faultStatus maps errors that are not business outcomes.
func faultStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func faultMessage(err error) string {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		return verr.Error()
	case errors.Is(err, domain.ErrConflict):
		return "license changed concurrently, retry"
	case errors.Is(err, domain.ErrStoreUnavailable):
		return "license store unavailable"
	case errors.Is(err, domain.ErrMalformedDate):
		return "license record is corrupt"
	default:
		return "internal error"
	}
}

func writeFault(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, domain.ErrStoreUnavailable) {
		w.Header().Set("Retry-After", "1")
	}
	render.Status(r, faultStatus(err))
	render.JSON(w, r, licenseResponse{
		Message: faultMessage(err),
		Code:    licensing.FaultCode(err),
	})
}

func days(ok bool, n int) *int {
	if !ok {
		return nil
	}
	return &n
}
