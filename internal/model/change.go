package model

import "time"

// ChangeType enumerates the kinds of divergence the Differ and Reconciler
// can emit.
type ChangeType string

const (
	ChangePrice        ChangeType = "price_change"
	ChangeAvailability ChangeType = "availability_change"
	ChangeRating       ChangeType = "rating_change"
	ChangeReviews      ChangeType = "reviews_change"
	ChangeCategory     ChangeType = "category_change"
	ChangeImage        ChangeType = "image_change"
	ChangeDescription  ChangeType = "description_change"
	ChangeNewBook      ChangeType = "new_book"
	ChangeBookRemoved  ChangeType = "book_removed"
)

// Severity ranks how significant a change is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ChangeRecord is an immutable, append-only entry describing a single
// detected divergence between the stored and current state of a book.
type ChangeRecord struct {
	ChangeID        string
	BookID          string
	SourceURL       string
	ChangeType      ChangeType
	Severity        Severity
	FieldName       string
	OldValue        *string
	NewValue        *string
	ChangeSummary   string
	DetectedAt      time.Time
	ConfidenceScore float64
	Processed       bool
	ProcessedAt     *time.Time
}

// StrPtr is a small helper so callers can build OldValue/NewValue without
// repeating the address-of-local-copy dance.
func StrPtr(s string) *string {
	return &s
}
