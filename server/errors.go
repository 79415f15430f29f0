package server

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/teranos/croplink/errors"
	"github.com/teranos/croplink/logger"
)

// statusFor maps sentinel errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errors.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, errors.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, errors.ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, errors.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// handleError writes err with the matching status. Server-side failures
// are logged with their details; client errors are not.
func handleError(w http.ResponseWriter, log *zap.SugaredLogger, err error, context string) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Errorw(context,
			logger.FieldError, err,
			"details", errors.FlattenDetails(err))
		writeError(w, status, context)
		return
	}
	writeError(w, status, err.Error())
}
