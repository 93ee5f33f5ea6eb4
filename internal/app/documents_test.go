package app

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"
	"time"

	"github.com/btaap/library-service/internal/blob"
	"github.com/btaap/library-service/internal/domain"
	"github.com/btaap/library-service/internal/store"
	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePDF(size int) []byte {
	head := []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\n")
	if size <= len(head) {
		return head
	}
	return append(head, bytes.Repeat([]byte("0"), size-len(head))...)
}

func samplePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, h/2, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newDocumentFixture(t *testing.T, maxBytes int64) (*DocumentService, *store.MemoryRepository, *blob.Store) {
	t.Helper()
	repo := store.NewMemoryRepository()
	blobs := blob.NewMemoryStore()
	svc := NewDocumentService(repo, blobs, testLogger(), maxBytes, 400)
	svc.SetClock(func() time.Time { return testNow })
	return svc, repo, blobs
}

func TestUpload_StoresPDFAndCover(t *testing.T) {
	svc, repo, blobs := newDocumentFixture(t, 0)
	mentor := domain.Principal{ID: uuid.New(), Role: domain.RoleMentor}
	content := samplePDF(8000)

	doc, err := svc.Upload(context.Background(), mentor, UploadInput{
		File:     bytes.NewReader(content),
		FileName: "Linear Algebra (2nd ed).pdf",
		Cover:    bytes.NewReader(samplePNG(t, 800, 1000)),
		Tags:     "math, algebra ,math,,",
		Rating:   "7",
	})
	require.NoError(t, err)
	assert.Equal(t, "Linear Algebra (2nd ed).pdf", doc.Title)
	assert.Equal(t, int64(len(content)), doc.SizeBytes)
	assert.Equal(t, []string{"math", "algebra"}, doc.Tags)
	assert.Equal(t, 5.0, doc.Rating)
	assert.True(t, doc.HasCover)
	assert.True(t, strings.HasPrefix(doc.Locator, "pdfs/"))
	assert.True(t, strings.HasSuffix(doc.Locator, "_Linear_Algebra_2nd_ed_.pdf"))
	require.NotNil(t, doc.OwnerID)
	assert.Equal(t, mentor.ID, *doc.OwnerID)

	obj, err := blobs.Open(doc.Locator)
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), obj.Size)
	require.NoError(t, obj.Close())

	coverLocator, err := svc.CoverLocator(context.Background(), doc.ID)
	require.NoError(t, err)
	cover, err := blobs.Open(coverLocator)
	require.NoError(t, err)
	thumb, err := imaging.Decode(cover)
	require.NoError(t, err)
	require.NoError(t, cover.Close())
	assert.Equal(t, 400, thumb.Bounds().Dx())
	assert.Equal(t, 500, thumb.Bounds().Dy())

	stored, err := repo.GetDocument(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.Locator, stored.Locator)
}

func TestUpload_RejectsNonPDF(t *testing.T) {
	svc, _, _ := newDocumentFixture(t, 0)
	_, err := svc.Upload(context.Background(), domain.Principal{ID: uuid.New()}, UploadInput{
		File:     strings.NewReader("just some text pretending to be a pdf"),
		FileName: "notes.pdf",
	})
	require.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Contains(t, err.Error(), "Only PDF files are allowed")

	_, err = svc.Upload(context.Background(), domain.Principal{ID: uuid.New()}, UploadInput{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestUpload_RejectsOversizedFile(t *testing.T) {
	svc, repo, _ := newDocumentFixture(t, 4096)
	_, err := svc.Upload(context.Background(), domain.Principal{ID: uuid.New()}, UploadInput{
		File:     bytes.NewReader(samplePDF(10000)),
		FileName: "big.pdf",
	})
	require.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Contains(t, err.Error(), "File too large")

	docs, err := repo.ListDocuments(context.Background(), domain.DocumentFilter{})
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestUpload_AcceptsFileAtLimit(t *testing.T) {
	svc, _, _ := newDocumentFixture(t, 4096)
	doc, err := svc.Upload(context.Background(), domain.Principal{ID: uuid.New()}, UploadInput{
		File:     bytes.NewReader(samplePDF(4096)),
		FileName: "exact.pdf",
		Title:    "  Exact  ",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(4096), doc.SizeBytes)
	assert.Equal(t, "Exact", doc.Title)
	assert.False(t, doc.HasCover)
}

func TestUpload_InvalidCoverRemovesPDF(t *testing.T) {
	svc, repo, blobs := newDocumentFixture(t, 0)
	_, err := svc.Upload(context.Background(), domain.Principal{ID: uuid.New()}, UploadInput{
		File:     bytes.NewReader(samplePDF(2000)),
		FileName: "withbadcover.pdf",
		Cover:    strings.NewReader("not an image"),
	})
	require.ErrorIs(t, err, domain.ErrInvalidInput)

	locator := fmt.Sprintf("pdfs/%d_withbadcover.pdf", testNow.UnixNano())
	exists, err := blobs.Exists(locator)
	require.NoError(t, err)
	assert.False(t, exists)

	docs, err := repo.ListDocuments(context.Background(), domain.DocumentFilter{})
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestDetails_SimilarCappedAtTwelve(t *testing.T) {
	svc, repo, _ := newDocumentFixture(t, 0)
	target := domain.StoredDocument{ID: uuid.New(), FileName: "target.pdf", Tags: []string{"physics"}}
	require.NoError(t, repo.CreateDocument(context.Background(), &target))
	for i := 0; i < 15; i++ {
		d := domain.StoredDocument{ID: uuid.New(), FileName: fmt.Sprintf("p%d.pdf", i), Tags: []string{"physics", "exam"}}
		require.NoError(t, repo.CreateDocument(context.Background(), &d))
	}
	unrelated := domain.StoredDocument{ID: uuid.New(), FileName: "poems.pdf", Tags: []string{"poetry"}}
	require.NoError(t, repo.CreateDocument(context.Background(), &unrelated))

	details, err := svc.Details(context.Background(), nil, target.ID)
	require.NoError(t, err)
	assert.Equal(t, target.ID, details.Document.ID)
	assert.Len(t, details.Similar, 12)
	for _, d := range details.Similar {
		assert.NotEqual(t, target.ID, d.ID)
		assert.Contains(t, d.Tags, "physics")
	}

	_, err = svc.Details(context.Background(), nil, uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDetails_UntaggedFallsBackToNewest(t *testing.T) {
	svc, repo, _ := newDocumentFixture(t, 0)
	target := domain.StoredDocument{ID: uuid.New(), FileName: "untagged.pdf"}
	require.NoError(t, repo.CreateDocument(context.Background(), &target))
	var newest uuid.UUID
	for i := 0; i < 14; i++ {
		d := domain.StoredDocument{ID: uuid.New(), FileName: fmt.Sprintf("d%d.pdf", i), Tags: []string{fmt.Sprintf("t%d", i)}}
		require.NoError(t, repo.CreateDocument(context.Background(), &d))
		newest = d.ID
	}

	details, err := svc.Details(context.Background(), nil, target.ID)
	require.NoError(t, err)
	require.Len(t, details.Similar, 12)
	assert.Equal(t, newest, details.Similar[0].ID)
	for _, d := range details.Similar {
		assert.NotEqual(t, target.ID, d.ID)
	}
}

func TestToggleFavorite(t *testing.T) {
	svc, repo, _ := newDocumentFixture(t, 0)
	doc := domain.StoredDocument{ID: uuid.New(), FileName: "fav.pdf"}
	require.NoError(t, repo.CreateDocument(context.Background(), &doc))
	alice := domain.Principal{ID: uuid.New(), Role: domain.RoleStudent}
	bob := domain.Principal{ID: uuid.New(), Role: domain.RoleStudent}
	repo.PutUser(alice.ID, alice.Role, 0, nil)
	repo.PutUser(bob.ID, bob.Role, 0, nil)

	toggle, err := svc.ToggleFavorite(context.Background(), alice, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.FavoriteToggle{Favorited: true, FavoritesCount: 1}, *toggle)

	toggle, err = svc.ToggleFavorite(context.Background(), bob, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.FavoriteToggle{Favorited: true, FavoritesCount: 2}, *toggle)

	details, err := svc.Details(context.Background(), &alice, doc.ID)
	require.NoError(t, err)
	assert.True(t, details.IsFavorite)
	assert.Equal(t, int64(2), details.Document.FavoritesCount)

	details, err = svc.Details(context.Background(), nil, doc.ID)
	require.NoError(t, err)
	assert.False(t, details.IsFavorite)

	toggle, err = svc.ToggleFavorite(context.Background(), alice, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.FavoriteToggle{Favorited: false, FavoritesCount: 1}, *toggle)

	details, err = svc.Details(context.Background(), &alice, doc.ID)
	require.NoError(t, err)
	assert.False(t, details.IsFavorite)

	_, err = svc.ToggleFavorite(context.Background(), alice, uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestToggleFavorite_CountNeverBelowZero(t *testing.T) {
	svc, repo, _ := newDocumentFixture(t, 0)
	doc := domain.StoredDocument{ID: uuid.New(), FileName: "drift.pdf"}
	require.NoError(t, repo.CreateDocument(context.Background(), &doc))
	viewer := domain.Principal{ID: uuid.New(), Role: domain.RoleStudent}
	repo.PutUser(viewer.ID, viewer.Role, 0, nil)

	_, err := svc.ToggleFavorite(context.Background(), viewer, doc.ID)
	require.NoError(t, err)
	repo.SetFavoritesCount(doc.ID, 0)

	toggle, err := svc.ToggleFavorite(context.Background(), viewer, doc.ID)
	require.NoError(t, err)
	assert.False(t, toggle.Favorited)
	assert.Zero(t, toggle.FavoritesCount)

	stored, err := repo.GetDocument(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.FavoritesCount)
}

func TestDelete_RemovesBlobs(t *testing.T) {
	svc, _, blobs := newDocumentFixture(t, 0)
	doc, err := svc.Upload(context.Background(), domain.Principal{ID: uuid.New()}, UploadInput{
		File:     bytes.NewReader(samplePDF(1000)),
		FileName: "gone.pdf",
		Cover:    bytes.NewReader(samplePNG(t, 100, 100)),
	})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(context.Background(), admin, doc.ID))

	for _, locator := range []string{doc.Locator, doc.CoverLocator} {
		exists, err := blobs.Exists(locator)
		require.NoError(t, err)
		assert.False(t, exists, locator)
	}
	_, err = svc.Get(context.Background(), doc.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, svc.Delete(context.Background(), admin, doc.ID), domain.ErrNotFound)
}

func TestCoverLocator_MissingCover(t *testing.T) {
	svc, repo, _ := newDocumentFixture(t, 0)
	d := domain.StoredDocument{ID: uuid.New(), FileName: "plain.pdf"}
	require.NoError(t, repo.CreateDocument(context.Background(), &d))

	_, err := svc.CoverLocator(context.Background(), d.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListAndTags(t *testing.T) {
	svc, repo, _ := newDocumentFixture(t, 0)
	for _, d := range []domain.StoredDocument{
		{ID: uuid.New(), FileName: "a.pdf", Title: "Organic Chemistry", Tags: []string{"chemistry"}},
		{ID: uuid.New(), FileName: "b.pdf", Title: "Thermodynamics", Tags: []string{"physics", "chemistry"}},
	} {
		d := d
		require.NoError(t, repo.CreateDocument(context.Background(), &d))
	}

	found, err := svc.List(context.Background(), domain.DocumentFilter{Search: "organic"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "Organic Chemistry", found[0].Title)

	byTag, err := svc.List(context.Background(), domain.DocumentFilter{Search: "PHYSICS"})
	require.NoError(t, err)
	assert.Len(t, byTag, 1)

	tags, err := svc.Tags(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"chemistry", "physics"}, tags)
}

func TestParseTags(t *testing.T) {
	assert.Equal(t, []string{}, ParseTags(""))
	assert.Equal(t, []string{"a", "b"}, ParseTags(" a ,b, a ,, "))
}

func TestParseRating(t *testing.T) {
	tests := map[string]float64{
		"":     0,
		"abc":  0,
		"NaN":  0,
		"-1":   0,
		"3.5":  3.5,
		"9":    5,
		" 4 ":  4,
		"+Inf": 5,
	}
	for raw, want := range tests {
		assert.Equal(t, want, ParseRating(raw), "raw %q", raw)
	}
}
