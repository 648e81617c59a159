package httpenforcer

import (
	"encoding/json"
	"net/http"
)

// errorBody is the fixed error response shape returned by every failure
// path in the enforcement pipeline.
type errorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Details   string `json:"details,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// writeError writes status with the given code/message, tagging it with
// requestID when present.
func writeError(w http.ResponseWriter, status int, code, message, requestID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: message, Code: code, RequestID: requestID})
}

func writeUnauthorized(w http.ResponseWriter, requestID string, err error) {
	writeError(w, http.StatusUnauthorized, "AUTH_FAILED", err.Error(), requestID)
}

func writePolicyDenied(w http.ResponseWriter, requestID, reason string) {
	msg := "request denied by policy"
	if reason != "" {
		msg = reason
	}
	writeError(w, http.StatusForbidden, "POLICY_DENIED", msg, requestID)
}

func writeTenantNotFound(w http.ResponseWriter, requestID string) {
	writeError(w, http.StatusNotFound, "TENANT_NOT_FOUND", "tenant not found", requestID)
}

func writeBodyTooLarge(w http.ResponseWriter, requestID string) {
	writeError(w, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", "request body exceeds configured limit", requestID)
}

func writeEnforcerUnreachable(w http.ResponseWriter, requestID string) {
	writeError(w, http.StatusServiceUnavailable, "ENFORCER_UNREACHABLE", "policy enforcer unreachable", requestID)
}

func writeEvaluationTimeout(w http.ResponseWriter, requestID string) {
	writeError(w, http.StatusServiceUnavailable, "EVALUATION_TIMEOUT", "policy evaluation timed out", requestID)
}

func writeUpstreamTimeout(w http.ResponseWriter, requestID string) {
	writeError(w, http.StatusGatewayTimeout, "UPSTREAM_TIMEOUT", "upstream request timed out", requestID)
}

func writeUpstreamError(w http.ResponseWriter, requestID string) {
	writeError(w, http.StatusBadGateway, "UPSTREAM_ERROR", "upstream request failed", requestID)
}

func writeInternalError(w http.ResponseWriter, requestID string) {
	writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal enforcement error", requestID)
}
