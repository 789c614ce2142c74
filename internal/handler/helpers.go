package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/boddenberg/sso-sync/internal/domain"

	"go.uber.org/zap"
)

// ============================================================
// Shared helper functions
// ============================================================

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// decodeBody decodes a JSON request body. An empty body leaves dst untouched.
func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// outcomeStatus is the HTTP status for a single sync outcome.
func outcomeStatus(o domain.SyncOutcome) int {
	if o.Success {
		return http.StatusOK
	}
	switch o.ErrorKind {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindMisconfigured:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return &domain.ErrValidation{Field: field, Message: "is required"}
	}
	return nil
}

// handleServiceError maps domain errors to HTTP responses.
func handleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	var notFound *domain.ErrNotFound
	var noTables *domain.ErrNoUserTables
	var tableNotFound *domain.ErrTableNotFound
	var misconfigured *domain.ErrMisconfigured
	var validation *domain.ErrValidation
	var noColumns *domain.ErrNoValidColumns
	var unauthorized *domain.ErrUnauthorized
	var circuitOpen *domain.ErrCircuitOpen
	var remoteRead *domain.ErrRemoteRead
	var remoteWrite *domain.ErrRemoteWrite
	var external *domain.ErrExternalService

	switch {
	case errors.As(err, &notFound):
		logger.Debug("not found", zap.String("error", err.Error()))
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &noTables):
		logger.Debug("no user tables", zap.String("site", noTables.Site))
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &validation):
		logger.Debug("validation error", zap.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &noColumns):
		logger.Debug("no valid columns", zap.String("table", noColumns.Table))
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &misconfigured):
		logger.Warn("site misconfigured", zap.String("site", misconfigured.Site), zap.String("reason", misconfigured.Reason))
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &unauthorized):
		logger.Warn("unauthorized", zap.String("error", err.Error()))
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.As(err, &circuitOpen):
		logger.Error("circuit breaker open", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &remoteWrite):
		logger.Error("remote write failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.As(err, &tableNotFound):
		logger.Debug("table not found", zap.String("table", tableNotFound.Table))
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &remoteRead):
		logger.Error("remote read failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.As(err, &external):
		logger.Error("external service error", zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		logger.Error("request timeout", zap.Error(err))
		writeError(w, http.StatusGatewayTimeout, "request timed out")
	default:
		logger.Error("unhandled error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
