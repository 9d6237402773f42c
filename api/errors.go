package api

import (
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/render"

	"cpi_pulse/jobs"
	"cpi_pulse/period"
	"cpi_pulse/services"
	"cpi_pulse/workers"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	render.Status(r, status)
	render.JSON(w, r, errorResponse{Error: msg})
}

// respondError maps domain errors to status codes. Unknown errors are
// logged and hidden from the client.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Printf("%s %s: %v", r.Method, r.URL.Path, err)
		writeError(w, r, status, "internal error")
		return
	}
	writeError(w, r, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, period.ErrInvalidPeriodFormat),
		errors.Is(err, services.ErrInvalidMetric),
		errors.Is(err, services.ErrInvalidRange):
		return http.StatusBadRequest
	case errors.Is(err, jobs.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, jobs.ErrRefreshInProgress):
		return http.StatusConflict
	case errors.Is(err, workers.ErrQueueFull):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
