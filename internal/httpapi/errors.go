package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/choiwab/promptsmith/internal/apperr"
)

// statusForCode maps every apperr.Code to the HTTP status named in spec §6.
func statusForCode(code apperr.Code) int {
	switch code {
	case apperr.CodeInvalidRequest:
		return http.StatusBadRequest
	case apperr.CodeProjectNotFound, apperr.CodeCommitNotFound:
		return http.StatusNotFound
	case apperr.CodeBaselineNotSet:
		return http.StatusBadRequest
	case apperr.CodeUpstreamTimeout:
		return http.StatusGatewayTimeout
	case apperr.CodeUpstreamError:
		return http.StatusBadGateway
	case apperr.CodeSafetyRejection:
		return http.StatusUnprocessableEntity
	case apperr.CodeStorageWriteFail, apperr.CodeComparePipeline, apperr.CodeEvalRunFailed:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code, ok := apperr.CodeOf(err)
	if !ok {
		code = apperr.CodeEvalRunFailed
	}
	writeJSON(w, statusForCode(code), errorEnvelope{Error: errorBody{
		Code:      string(code),
		Message:   err.Error(),
		RequestID: requestIDFromContext(r.Context()),
	}})
}

func writeInvalidRequest(w http.ResponseWriter, r *http.Request, message string) {
	writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: errorBody{
		Code:      string(apperr.CodeInvalidRequest),
		Message:   message,
		RequestID: requestIDFromContext(r.Context()),
	}})
}
