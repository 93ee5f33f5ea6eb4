package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/btaap/library-service/internal/domain"
)

// writeJSON is a helper for writing JSON responses.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError writes the failure envelope.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   message,
		"code":    code,
	})
}

// writeDomainError maps err onto its HTTP status. Infrastructure failures are
// logged with detail and answered with a generic message.
func writeDomainError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	kind := domain.KindOf(err)
	message := "Internal server error"

	switch kind {
	case domain.KindCreditExpired,
		domain.KindInsufficientCredits,
		domain.KindAlreadyDecided,
		domain.KindDuplicateReference,
		domain.KindNotFound,
		domain.KindRangeNotSatisfiable,
		domain.KindInvalidInput:
		var derr *domain.Error
		if errors.As(err, &derr) && derr.Message != "" {
			message = derr.Message
		}
	case domain.KindInfraFailure:
		logger.Error("request failed", "error", err, "method", r.Method, "path", r.URL.Path)
	default:
		logger.Error("unmapped error kind", "kind", kind, "error", err, "path", r.URL.Path)
		kind = domain.KindInfraFailure
	}

	writeError(w, kind.Status(), kind.Code(), message)
}
