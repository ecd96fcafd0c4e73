package server

import (
	"errors"
	"net/http"
	"strings"

	"devotionai/internal/util"
	"devotionai/pkg/domain"
)

const (
	codeContentNotFound   = "CONTENT_NOT_FOUND"
	codeCreatorNotFound   = "CREATOR_NOT_FOUND"
	codeAlreadySubmitted  = "CONTENT_ALREADY_SUBMITTED"
	codeAlreadyApproved   = "CONTENT_ALREADY_APPROVED"
	codeInvalidTransition = "CONTENT_INVALID_TRANSITION"
	codeCreatorIncapable  = "CREATOR_INCAPABLE"
	codePoolExhausted     = "VERSE_POOL_EXHAUSTED"
	codeConflict          = "CONTENT_CONFLICT"
	codeProviderError     = "GENERATION_PROVIDER_ERROR"
	codeUnknownJob        = "GENERATION_UNKNOWN_JOB"
	codeForbidden         = "PIPELINE_FORBIDDEN"
	codeInvalidRequest    = "PIPELINE_INVALID_REQUEST"
	codeInvalidToken      = "AUTH_INVALID_TOKEN"
	codeInvalidSignature  = "WEBHOOK_INVALID_SIGNATURE"
	codeRateLimited       = "SYSTEM_RATE_LIMITED"
	codeMethodNotAllowed  = "SYSTEM_METHOD_NOT_ALLOWED"
	codeNotFound          = "SYSTEM_NOT_FOUND"
	codeInternal          = "SYSTEM_INTERNAL_ERROR"
)

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      code,
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

// writeAppError maps domain errors to a status and stable code.
// Unclassified errors are logged and reported as a generic 500.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorCodeFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		util.LoggerFromContext(r.Context()).ErrorContext(r.Context(), "request_failed", "path", r.URL.Path, "err", err)
		msg = "internal error"
	}
	writeError(w, status, code, msg)
}

func errorCodeFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrCreatorNotFound):
		return http.StatusNotFound, codeCreatorNotFound
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, codeContentNotFound
	case errors.Is(err, domain.ErrAlreadySubmitted):
		return http.StatusBadRequest, codeAlreadySubmitted
	case errors.Is(err, domain.ErrAlreadyApproved):
		return http.StatusBadRequest, codeAlreadyApproved
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusBadRequest, codeInvalidTransition
	case errors.Is(err, domain.ErrCreatorIncapable):
		return http.StatusBadRequest, codeCreatorIncapable
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, codeInvalidRequest
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, codeForbidden
	case errors.Is(err, domain.ErrPoolExhausted):
		return http.StatusConflict, codePoolExhausted
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, codeConflict
	case errors.Is(err, domain.ErrUnknownJob):
		return http.StatusNotFound, codeUnknownJob
	case errors.Is(err, domain.ErrProviderError):
		return http.StatusBadGateway, codeProviderError
	default:
		return http.StatusInternalServerError, codeInternal
	}
}
