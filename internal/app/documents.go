/**
 * @description
 * The document catalog: listing, tag index, details with related documents,
 * per-user favorites, uploads with content sniffing and cover thumbnails, and
 * admin deletion that removes the stored bytes with the record.
 *
 * @dependencies
 * - github.com/gabriel-vasile/mimetype: PDF detection from content.
 * - github.com/disintegration/imaging: Cover thumbnail decoding and resizing.
 * - internal/blob: Object storage.
 */

package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/btaap/library-service/internal/blob"
	"github.com/btaap/library-service/internal/domain"
	"github.com/btaap/library-service/internal/store"
	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

const (
	similarDocumentsLimit = 12
	sniffBytes            = 3072
	maxCoverBytes         = 10 << 20
)

var (
	errUploadTooLarge = errors.New("upload exceeds size limit")
	unsafeNameChars   = regexp.MustCompile(`[^A-Za-z0-9._-]+`)
)

// BlobStore is the object storage used by the catalog.
type BlobStore interface {
	Put(locator string, r io.Reader) (int64, error)
	Open(locator string) (*blob.Object, error)
	Exists(locator string) (bool, error)
	Delete(locator string) error
}

// UploadInput carries one uploaded PDF with optional cover and metadata.
type UploadInput struct {
	File        io.Reader
	FileName    string
	Cover       io.Reader
	Title       string
	Description string
	Tags        string
	Rating      string
}

// DocumentService manages catalog entries and their blobs.
type DocumentService struct {
	repo           store.Repository
	blobs          BlobStore
	logger         *slog.Logger
	maxUploadBytes int64
	coverWidth     int
	now            func() time.Time
}

// NewDocumentService creates the catalog service.
func NewDocumentService(repo store.Repository, blobs BlobStore, logger *slog.Logger, maxUploadBytes int64, coverWidth int) *DocumentService {
	if logger == nil {
		logger = slog.Default()
	}
	if maxUploadBytes <= 0 {
		maxUploadBytes = 50 << 20
	}
	if coverWidth <= 0 {
		coverWidth = 400
	}
	return &DocumentService{
		repo:           repo,
		blobs:          blobs,
		logger:         logger,
		maxUploadBytes: maxUploadBytes,
		coverWidth:     coverWidth,
		now:            time.Now,
	}
}

// SetClock overrides the time source.
func (s *DocumentService) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// MaxUploadBytes is the PDF size limit.
func (s *DocumentService) MaxUploadBytes() int64 { return s.maxUploadBytes }

// List returns catalog entries matching filter, newest first.
func (s *DocumentService) List(ctx context.Context, filter domain.DocumentFilter) ([]domain.StoredDocument, error) {
	return s.repo.ListDocuments(ctx, filter)
}

// Tags returns the distinct tags in use, sorted.
func (s *DocumentService) Tags(ctx context.Context) ([]string, error) {
	return s.repo.ListDocumentTags(ctx)
}

// Get returns one catalog entry.
func (s *DocumentService) Get(ctx context.Context, documentID uuid.UUID) (*domain.StoredDocument, error) {
	doc, err := s.repo.GetDocument(ctx, documentID)
	if err != nil {
		return nil, documentError(err)
	}
	return doc, nil
}

// Details returns a document with up to 12 others sharing a tag, or the newest
// others when it has none. viewer is nil for anonymous callers.
func (s *DocumentService) Details(ctx context.Context, viewer *domain.Principal, documentID uuid.UUID) (*domain.DocumentDetails, error) {
	doc, err := s.Get(ctx, documentID)
	if err != nil {
		return nil, err
	}
	similar, err := s.repo.ListSimilarDocuments(ctx, doc.ID, doc.Tags, similarDocumentsLimit)
	if err != nil {
		return nil, fmt.Errorf("list similar documents: %w", err)
	}

	details := &domain.DocumentDetails{Document: *doc, Similar: similar}
	if viewer != nil {
		details.IsFavorite, err = s.repo.IsFavorite(ctx, viewer.ID, doc.ID)
		if err != nil {
			return nil, fmt.Errorf("check favorite: %w", err)
		}
	}
	return details, nil
}

// ToggleFavorite marks or unmarks a document as one of the caller's favorites.
func (s *DocumentService) ToggleFavorite(ctx context.Context, principal domain.Principal, documentID uuid.UUID) (*domain.FavoriteToggle, error) {
	var toggle *domain.FavoriteToggle
	err := s.repo.InTx(ctx, func(tx store.Tx) error {
		var err error
		toggle, err = tx.ToggleFavorite(ctx, principal.ID, documentID)
		return err
	})
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return nil, domain.WrapError(domain.KindNotFound, "User not found", err)
		}
		if !errors.Is(err, store.ErrDocumentNotFound) {
			s.logger.Error("failed to update favorite", "error", err, "document_id", documentID, "user_id", principal.ID)
		}
		return nil, documentError(err)
	}
	return toggle, nil
}

// CoverLocator returns the blob locator of a document's cover thumbnail.
func (s *DocumentService) CoverLocator(ctx context.Context, documentID uuid.UUID) (string, error) {
	doc, err := s.Get(ctx, documentID)
	if err != nil {
		return "", err
	}
	if doc.CoverLocator == "" {
		return "", domain.NewError(domain.KindNotFound, "Cover not found")
	}
	return doc.CoverLocator, nil
}

// Upload stores a PDF (and optional cover) and records its metadata.
func (s *DocumentService) Upload(ctx context.Context, principal domain.Principal, in UploadInput) (*domain.StoredDocument, error) {
	if in.File == nil {
		return nil, domain.NewError(domain.KindInvalidInput, "No PDF uploaded")
	}

	head := make([]byte, sniffBytes)
	n, err := io.ReadFull(in.File, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	head = head[:n]
	if n == 0 || !mimetype.Detect(head).Is("application/pdf") {
		return nil, domain.NewError(domain.KindInvalidInput, "Only PDF files are allowed")
	}

	now := s.now()
	docID := uuid.New()
	fileName := filepath.Base(strings.TrimSpace(in.FileName))
	if fileName == "." || fileName == "/" || fileName == "" {
		fileName = "document.pdf"
	}
	locator := fmt.Sprintf("pdfs/%d_%s", now.UnixNano(), safeFileName(fileName))

	body := &cappedReader{r: io.MultiReader(bytes.NewReader(head), in.File), remaining: s.maxUploadBytes}
	size, err := s.blobs.Put(locator, body)
	if err != nil {
		if errors.Is(err, errUploadTooLarge) {
			return nil, domain.NewError(domain.KindInvalidInput, fmt.Sprintf("File too large. Maximum size is %d MB", s.maxUploadBytes>>20))
		}
		return nil, fmt.Errorf("store pdf: %w", err)
	}

	coverLocator := ""
	if in.Cover != nil {
		coverLocator = fmt.Sprintf("covers/%s.jpg", docID)
		if err := s.storeCover(coverLocator, in.Cover); err != nil {
			s.removeBlobs(locator)
			return nil, err
		}
	}

	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = fileName
	}
	owner := principal.ID
	doc := &domain.StoredDocument{
		ID:           docID,
		FileName:     fileName,
		Title:        title,
		Description:  strings.TrimSpace(in.Description),
		Locator:      locator,
		CoverLocator: coverLocator,
		HasCover:     coverLocator != "",
		Tags:         ParseTags(in.Tags),
		Rating:       ParseRating(in.Rating),
		SizeBytes:    size,
		OwnerID:      &owner,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.CreateDocument(ctx, doc); err != nil {
		s.removeBlobs(locator, coverLocator)
		s.logger.Error("failed to save pdf metadata", "error", err, "file_name", fileName)
		return nil, fmt.Errorf("save pdf metadata: %w", err)
	}

	s.logger.Info("pdf uploaded", "document_id", doc.ID, "user_id", principal.ID, "size", size)
	return doc, nil
}

// Delete removes a document and its stored bytes.
func (s *DocumentService) Delete(ctx context.Context, admin domain.Principal, documentID uuid.UUID) error {
	doc, err := s.repo.DeleteDocument(ctx, documentID)
	if err != nil {
		return documentError(err)
	}
	s.removeBlobs(doc.Locator, doc.CoverLocator)
	s.logger.Info("pdf deleted", "document_id", documentID, "admin_id", admin.ID)
	return nil
}

func (s *DocumentService) storeCover(locator string, r io.Reader) error {
	img, err := imaging.Decode(io.LimitReader(r, maxCoverBytes), imaging.AutoOrientation(true))
	if err != nil {
		return domain.WrapError(domain.KindInvalidInput, "Invalid cover image", err)
	}
	if img.Bounds().Dx() > s.coverWidth {
		img = imaging.Resize(img, s.coverWidth, 0, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return fmt.Errorf("encode cover: %w", err)
	}
	if _, err := s.blobs.Put(locator, &buf); err != nil {
		return fmt.Errorf("store cover: %w", err)
	}
	return nil
}

func (s *DocumentService) removeBlobs(locators ...string) {
	for _, locator := range locators {
		if locator == "" {
			continue
		}
		if err := s.blobs.Delete(locator); err != nil {
			s.logger.Warn("failed to remove blob", "error", err, "locator", locator)
		}
	}
}

// ParseTags splits a comma-separated tag list, trimming and dropping blanks and repeats.
func ParseTags(raw string) []string {
	tags := make([]string, 0)
	seen := make(map[string]struct{})
	for _, t := range strings.Split(raw, ",") {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		tags = append(tags, t)
	}
	return tags
}

// ParseRating reads a rating and clamps it to [0, 5]. Unparseable input is 0.
func ParseRating(raw string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(5, v))
}

func safeFileName(name string) string {
	cleaned := strings.Trim(unsafeNameChars.ReplaceAllString(name, "_"), "_")
	if cleaned == "" {
		return "document.pdf"
	}
	return cleaned
}

func documentError(err error) error {
	if errors.Is(err, store.ErrDocumentNotFound) {
		return domain.WrapError(domain.KindNotFound, "PDF not found", err)
	}
	return err
}

// cappedReader fails once more than remaining bytes have been read.
type cappedReader struct {
	r         io.Reader
	remaining int64
}

func (c *cappedReader) Read(p []byte) (int, error) {
	if c.remaining < 0 {
		return 0, errUploadTooLarge
	}
	if int64(len(p)) > c.remaining+1 {
		p = p[:c.remaining+1]
	}
	n, err := c.r.Read(p)
	c.remaining -= int64(n)
	if c.remaining < 0 {
		return n, errUploadTooLarge
	}
	return n, err
}
