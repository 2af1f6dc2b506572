package server

import (
	"encoding/json"
	"net/http"

	"hyperregistry/internal/api"
	"hyperregistry/pkg/logging"
)

// errorBody is the JSON error envelope.
type errorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// writeError maps a typed error onto the HTTP surface.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	if status == http.StatusInternalServerError {
		logging.Error(subsystem, err, "Unhandled error on %s %s [request_id=%s]",
			r.Method, r.URL.Path, RequestID(r.Context()))
	}
	writeErrorCode(w, r, status, code, err.Error())
}

func classify(err error) (int, string) {
	switch {
	case api.IsValidation(err):
		return http.StatusBadRequest, "validation_error"
	case api.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case api.IsConflict(err):
		return http.StatusConflict, "conflict"
	case api.IsDependentsExist(err):
		return http.StatusConflict, "dependents_exist"
	case api.IsCycle(err):
		return http.StatusUnprocessableEntity, "dependency_cycle"
	case api.IsCircuitOpen(err):
		return http.StatusServiceUnavailable, "circuit_open"
	case api.IsHotSwapAborted(err):
		return http.StatusConflict, "hotswap_aborted"
	case api.IsConsensusRejected(err):
		return http.StatusConflict, "consensus_rejected"
	case api.IsEncryption(err):
		return http.StatusInternalServerError, "encryption_error"
	case api.IsTimeout(err):
		return http.StatusInternalServerError, "timeout"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeErrorCode(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, errorBody{
		Code:      code,
		Message:   message,
		RequestID: RequestID(r.Context()),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}
