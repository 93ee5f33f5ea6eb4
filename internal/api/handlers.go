/**
 * @description
 * This file contains the HTTP handlers shared setup for the library API. Handlers
 * parse requests, call the application services, and write the JSON envelope.
 * They act as the bridge between the web layer and the business logic layer.
 *
 * @dependencies
 * - internal/app, internal/ledger: Service logic.
 * - internal/fileserve: Range-request streaming of stored PDFs and covers.
 */

package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/btaap/library-service/internal/app"
	"github.com/btaap/library-service/internal/domain"
	"github.com/btaap/library-service/internal/fileserve"
	"github.com/btaap/library-service/internal/ledger"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// multipartOverhead is the allowance for the cover image and form fields on top of the PDF limit.
const multipartOverhead = 12 << 20

// LibraryHandlers holds the application services that handlers will use.
type LibraryHandlers struct {
	documents *app.DocumentService
	downloads *app.DownloadService
	payments  *app.PaymentService
	ledger    *ledger.Ledger
	pdfs      *fileserve.Server
	covers    *fileserve.Server
	logger    *slog.Logger
	now       func() time.Time
}

// NewLibraryHandlers creates a new instance of LibraryHandlers.
func NewLibraryHandlers(
	documents *app.DocumentService,
	downloads *app.DownloadService,
	payments *app.PaymentService,
	l *ledger.Ledger,
	files *fileserve.Server,
	logger *slog.Logger,
) *LibraryHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &LibraryHandlers{
		documents: documents,
		downloads: downloads,
		payments:  payments,
		ledger:    l,
		pdfs:      files,
		covers:    files.WithContentType("image/jpeg"),
		logger:    logger,
		now:       time.Now,
	}
}

// SetClock overrides the time source used for credit summaries.
func (h *LibraryHandlers) SetClock(now func() time.Time) {
	if now != nil {
		h.now = now
	}
}

// principal returns the authenticated caller or writes a 401.
func (h *LibraryHandlers) principal(w http.ResponseWriter, r *http.Request) (domain.Principal, bool) {
	p, ok := PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Not authorized, no token")
	}
	return p, ok
}

// pathID parses the {id} URL parameter or writes a 400.
func (h *LibraryHandlers) pathID(w http.ResponseWriter, r *http.Request, what string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, domain.KindInvalidInput.Code(), "Invalid "+what+" id")
		return uuid.Nil, false
	}
	return id, true
}

func (h *LibraryHandlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	writeDomainError(w, r, h.logger, err)
}
