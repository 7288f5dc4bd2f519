package response

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/newrelic-experimental/newrelic-control-tower-customization/internal/controlplane"
	"github.com/newrelic-experimental/newrelic-control-tower-customization/internal/onboarding"
)

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]string{"error": message})
}

// WriteOperationError maps onboarding and control plane errors to a status.
func WriteOperationError(w http.ResponseWriter, err error) {
	WriteError(w, StatusFor(err), err.Error())
}

func StatusFor(err error) int {
	switch {
	case errors.Is(err, controlplane.ErrResourceNotFound):
		return http.StatusNotFound
	case controlplane.IsTransient(err):
		return http.StatusServiceUnavailable
	case errors.Is(err, onboarding.ErrResourceLaunch):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
