package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"followcast/internal/logging"
	"followcast/internal/service"
)

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error service.Rejection `json:"error"`
}

func respondError(w http.ResponseWriter, statusCode int, code, message string, details map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: service.Rejection{Code: code, Message: message, Details: details}})
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func parseJSONBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// statusFor maps a rejection code to an HTTP status.
func statusFor(code string) int {
	switch code {
	case service.CodeInvalidInput, service.CodeValidationFailed:
		return http.StatusBadRequest
	case service.CodeCampaignRunning, service.CodeIngestionRunning:
		return http.StatusConflict
	case service.CodeNotFound:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// respondServiceError writes err, hiding causes of server-side failures.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var rej *service.Rejection
	if !errors.As(err, &rej) {
		rej = &service.Rejection{Code: service.CodeInternalError, Message: "an internal error occurred", Cause: err}
	}
	status := statusFor(rej.Code)
	if status >= 500 {
		logging.Error("http_request_failed", map[string]any{"path": r.URL.Path, "code": rej.Code, "error": err.Error()})
	}
	respondError(w, status, rej.Code, rej.Message, rej.Details)
}
