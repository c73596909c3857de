package api

import (
	"encoding/json"
	"net/http"
	"time"

	apierrors "github.com/odvcencio/autopilot/pkg/errors"
)

// respondJSON writes payload with the given status.
func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}

type errorResponse struct {
	Error       string         `json:"error"`
	Status      int            `json:"status"`
	Code        string         `json:"code,omitempty"`
	Message     string         `json:"message"`
	Context     map[string]any `json:"context,omitempty"`
	Remediation []string       `json:"remediation,omitempty"`
	Retryable   bool           `json:"retryable,omitempty"`
	Timestamp   string         `json:"timestamp"`
}

// respondError sends a structured JSON error response.
func respondError(w http.ResponseWriter, status int, err error) {
	response := errorResponse{
		Status:    status,
		Message:   http.StatusText(status),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if e, ok := apierrors.As(err); ok {
		response.Code = string(e.Code)
		switch {
		case e.UserMessage != "":
			response.Message = e.UserMessage
		case e.Message != "":
			response.Message = e.Message
		}
		if len(e.Context) > 0 {
			response.Context = e.Context
		}
		response.Remediation = append([]string(nil), e.Remediation...)
		response.Retryable = e.Retryable
	} else if err != nil {
		response.Message = err.Error()
	}
	response.Error = response.Message
	respondJSON(w, status, response)
}
