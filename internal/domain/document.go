package domain

import (
	"time"

	"github.com/google/uuid"
)

// StoredDocument is the catalog metadata for an uploaded PDF.
type StoredDocument struct {
	ID             uuid.UUID  `json:"id"`
	FileName       string     `json:"filename"`
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	Locator        string     `json:"-"`
	CoverLocator   string     `json:"-"`
	HasCover       bool       `json:"hasCover"`
	Tags           []string   `json:"tags"`
	Rating         float64    `json:"rating"`
	SizeBytes      int64      `json:"size"`
	Downloads      int64      `json:"downloads"`
	FavoritesCount int64      `json:"favoritesCount"`
	OwnerID        *uuid.UUID `json:"uploadedBy,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// DisplayName is the title if set, otherwise the original file name.
func (d StoredDocument) DisplayName() string {
	if d.Title != "" {
		return d.Title
	}
	return d.FileName
}

// DocumentFilter narrows catalog listings.
type DocumentFilter struct {
	Search  string
	OwnerID *uuid.UUID
}

// DocumentDetails is a document with related catalog entries. IsFavorite is
// only ever true for an identified viewer.
type DocumentDetails struct {
	Document   StoredDocument   `json:"pdf"`
	IsFavorite bool             `json:"isFavorite"`
	Similar    []StoredDocument `json:"similarPdfs"`
}

// FavoriteToggle is the outcome of flipping a viewer's favorite mark.
type FavoriteToggle struct {
	Favorited      bool  `json:"favorited"`
	FavoritesCount int64 `json:"favoritesCount"`
}

// DownloadRecord is appended for every paid download.
type DownloadRecord struct {
	ID           uuid.UUID `json:"id"`
	UserID       uuid.UUID `json:"userId"`
	DocumentID   uuid.UUID `json:"pdfId"`
	FileName     string    `json:"filename"`
	DownloadedAt time.Time `json:"downloadedAt"`
}

// DownloadResult is returned after a successful paid download.
type DownloadResult struct {
	Document         StoredDocument `json:"pdf"`
	RemainingCredits int64          `json:"remainingCredits"`
	Cost             int64          `json:"cost"`
}
