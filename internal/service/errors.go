package service

import (
	"fmt"
)

// Rejection codes returned at the boundary.
const (
	CodeInvalidInput     = "INVALID_INPUT"
	CodeValidationFailed = "VALIDATION_FAILED"
	CodeCampaignRunning  = "CAMPAIGN_RUNNING"
	CodeIngestionRunning = "INGESTION_RUNNING"
	CodeNotFound         = "NOT_FOUND"
	CodeStorageError     = "STORAGE_ERROR"
	CodeInternalError    = "INTERNAL_ERROR"
)

// Rejection is a structured refusal of a boundary operation.
type Rejection struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Cause   error          `json:"-"`
}

func (r *Rejection) Error() string {
	if r.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", r.Code, r.Message, r.Cause)
	}
	return fmt.Sprintf("%s: %s", r.Code, r.Message)
}

func (r *Rejection) Unwrap() error { return r.Cause }

func reject(code, msg string, cause error) *Rejection {
	return &Rejection{Code: code, Message: msg, Cause: cause}
}
