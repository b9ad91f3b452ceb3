package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/speedrun-hq/intentmesh/pkg/lifecycle"
	"github.com/speedrun-hq/intentmesh/pkg/models"
	"github.com/speedrun-hq/intentmesh/pkg/settlement"
	"github.com/speedrun-hq/intentmesh/pkg/storage"
)

// Error codes carried in the "error" field of ErrorResponse
const (
	CodeNotFound        = "not_found"
	CodeInvalidState    = "invalid_state"
	CodeValidation      = "validation_error"
	CodeForbidden       = "forbidden"
	CodeStoreFault      = "store_fault"
	CodeSettlementFault = "settlement_fault"
	CodeBadRequest      = "bad_request"
	CodeInternal        = "internal_error"
)

// ErrorResponse is the JSON body of every non-2xx API response
type ErrorResponse struct {
	Error    string `json:"error"`
	Reason   string `json:"reason,omitempty"`
	Field    string `json:"field,omitempty"`
	IntentID string `json:"intentId,omitempty"`
	Status   string `json:"status,omitempty"`
	Message  string `json:"message"`
}

// ErrorFor maps a domain error onto an HTTP status and response body
func ErrorFor(err error) (int, ErrorResponse) {
	var (
		stateErr      *lifecycle.StateError
		validationErr *models.ValidationError
		faultErr      *settlement.FaultError
	)

	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, ErrorResponse{
			Error:   CodeValidation,
			Field:   validationErr.Field,
			Message: validationErr.Message,
		}
	case errors.As(err, &stateErr):
		return http.StatusConflict, ErrorResponse{
			Error:    CodeInvalidState,
			Reason:   string(stateErr.Reason),
			IntentID: stateErr.IntentID,
			Status:   string(stateErr.Current),
			Message:  err.Error(),
		}
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, ErrorResponse{Error: CodeNotFound, Message: err.Error()}
	case errors.Is(err, lifecycle.ErrNotOwner):
		return http.StatusForbidden, ErrorResponse{Error: CodeForbidden, Message: err.Error()}
	case errors.Is(err, storage.ErrStoreFault):
		return http.StatusServiceUnavailable, ErrorResponse{Error: CodeStoreFault, Message: "store unavailable"}
	case errors.As(err, &faultErr):
		return http.StatusBadGateway, ErrorResponse{
			Error:    CodeSettlementFault,
			Reason:   faultErr.Kind,
			IntentID: faultErr.IntentID,
			Message:  err.Error(),
		}
	default:
		return http.StatusInternalServerError, ErrorResponse{Error: CodeInternal, Message: "internal error"}
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: CodeBadRequest, Message: message})
}
