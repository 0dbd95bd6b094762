package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/ukydev/fleetops/internal/auth"
	"github.com/ukydev/fleetops/internal/fleeterr"
	"github.com/ukydev/fleetops/internal/lifecycle"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorBody{Error: ErrorDetail{Code: code, Message: message}})
}

// errorStatus maps a domain error to its HTTP status and error code.
func errorStatus(err error) (int, string) {
	var (
		invalidDate  *fleeterr.InvalidDateError
		validation   *lifecycle.ValidationError
		forbidden    *auth.ForbiddenError
		noWorkflow   *fleeterr.NoWorkflowError
		illegal      *fleeterr.IllegalTransitionError
		transient    *fleeterr.TransientError
		inconsistent *fleeterr.InconsistentStateError
	)
	switch {
	case errors.As(err, &invalidDate):
		return http.StatusBadRequest, "invalid_date"
	case errors.As(err, &validation):
		return http.StatusBadRequest, "invalid_input"
	case errors.As(err, &forbidden):
		return http.StatusForbidden, "forbidden"
	case errors.As(err, &noWorkflow):
		return http.StatusNotFound, "no_workflow"
	case errors.Is(err, fleeterr.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.As(err, &illegal):
		return http.StatusConflict, "illegal_transition"
	case errors.Is(err, fleeterr.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.As(err, &transient):
		return http.StatusServiceUnavailable, "transient"
	case errors.As(err, &inconsistent):
		return http.StatusInternalServerError, "inconsistent_state"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// writeDomainError writes err with its mapped status. Internal errors are logged and
// their text is not exposed.
func writeDomainError(w http.ResponseWriter, logger log.FieldLogger, err error) {
	status, code := errorStatus(err)
	if status == http.StatusInternalServerError {
		logger.WithError(err).Error("Request failed")
		writeError(w, status, code, "internal error")
		return
	}
	writeError(w, status, code, err.Error())
}

func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
