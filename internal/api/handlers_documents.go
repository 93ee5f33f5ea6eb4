package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/btaap/library-service/internal/app"
	"github.com/btaap/library-service/internal/domain"
	"github.com/google/uuid"
)

// ListDocumentsHandler lists catalog entries, optionally searched or filtered by uploader.
func (h *LibraryHandlers) ListDocumentsHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := domain.DocumentFilter{Search: strings.TrimSpace(query.Get("search"))}
	if raw := strings.TrimSpace(query.Get("userId")); raw != "" {
		owner, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, domain.KindInvalidInput.Code(), "Invalid user id")
			return
		}
		filter.OwnerID = &owner
	}

	docs, err := h.documents.List(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "data": docs})
}

// ListTagsHandler returns the distinct tags in use.
func (h *LibraryHandlers) ListTagsHandler(w http.ResponseWriter, r *http.Request) {
	tags, err := h.documents.Tags(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "tags": tags})
}

// StreamDocumentHandler streams a stored PDF, honoring Range requests.
func (h *LibraryHandlers) StreamDocumentHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "PDF")
	if !ok {
		return
	}
	doc, err := h.documents.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Disposition", `inline; filename="`+strings.ReplaceAll(doc.FileName, `"`, "")+`"`)
	h.pdfs.Serve(w, r, doc.Locator)
}

// DocumentCoverHandler streams a document's cover thumbnail.
func (h *LibraryHandlers) DocumentCoverHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "PDF")
	if !ok {
		return
	}
	locator, err := h.documents.CoverLocator(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.covers.Serve(w, r, locator)
}

// DocumentDetailsHandler returns a document and related documents.
func (h *LibraryHandlers) DocumentDetailsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "PDF")
	if !ok {
		return
	}
	var viewer *domain.Principal
	if p, ok := PrincipalFromContext(r.Context()); ok {
		viewer = &p
	}
	details, err := h.documents.Details(r.Context(), viewer, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "data": details})
}

// ToggleFavoriteHandler flips the caller's favorite mark on a document.
func (h *LibraryHandlers) ToggleFavoriteHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "PDF")
	if !ok {
		return
	}

	toggle, err := h.documents.ToggleFavorite(r.Context(), principal, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":        true,
		"favorited":      toggle.Favorited,
		"favoritesCount": toggle.FavoritesCount,
	})
}

// UploadDocumentHandler accepts a multipart form with a "pdf" file and an optional "cover" image.
func (h *LibraryHandlers) UploadDocumentHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.documents.MaxUploadBytes()+multipartOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusBadRequest, domain.KindInvalidInput.Code(), "File too large")
			return
		}
		writeError(w, http.StatusBadRequest, domain.KindInvalidInput.Code(), "Invalid upload form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	pdfFile, header, err := r.FormFile("pdf")
	if err != nil {
		writeError(w, http.StatusBadRequest, domain.KindInvalidInput.Code(), "No PDF uploaded")
		return
	}
	defer pdfFile.Close()

	in := app.UploadInput{
		File:        pdfFile,
		FileName:    header.Filename,
		Title:       r.FormValue("title"),
		Description: r.FormValue("description"),
		Tags:        r.FormValue("tags"),
		Rating:      r.FormValue("rating"),
	}
	cover, _, err := r.FormFile("cover")
	switch {
	case err == nil:
		defer cover.Close()
		in.Cover = cover
	case !errors.Is(err, http.ErrMissingFile):
		writeError(w, http.StatusBadRequest, domain.KindInvalidInput.Code(), "Invalid cover upload")
		return
	}

	doc, err := h.documents.Upload(r.Context(), principal, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"success": true, "data": doc})
}

// DownloadDocumentHandler charges the caller for a download.
func (h *LibraryHandlers) DownloadDocumentHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "PDF")
	if !ok {
		return
	}

	result, err := h.downloads.Download(r.Context(), principal, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":          true,
		"message":          "Credits deducted. You can proceed to download.",
		"remainingCredits": result.RemainingCredits,
		"cost":             result.Cost,
		"pdf":              result.Document,
	})
}

// DeleteDocumentHandler removes a document and its files.
func (h *LibraryHandlers) DeleteDocumentHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "PDF")
	if !ok {
		return
	}
	if err := h.documents.Delete(r.Context(), principal, id); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}
