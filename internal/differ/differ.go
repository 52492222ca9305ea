// Package differ classifies what changed between two observations of the
// same book, per design §4.4. The fast path trusts the content_hash; only a
// mismatch (or a missing prior fingerprint) triggers the field-level walk.
package differ

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/nowail/bookwatch/internal/model"
)

// severityByField assigns each field's change severity, per the field ->
// severity table.
var severityByField = map[string]model.Severity{
	"price_including_tax": model.SeverityHigh,
	"availability":        model.SeverityMedium,
	"rating":              model.SeverityMedium,
	"number_of_reviews":   model.SeverityLow,
	"category":            model.SeverityMedium,
	"description":         model.SeverityLow,
	"name":                model.SeverityHigh,
}

var changeTypeByField = map[string]model.ChangeType{
	"price_including_tax": model.ChangePrice,
	"availability":        model.ChangeAvailability,
	"rating":              model.ChangeRating,
	"number_of_reviews":   model.ChangeReviews,
	"category":            model.ChangeCategory,
	"description":         model.ChangeDescription,
	"name":                model.ChangeDescription,
}

// diffFieldOrder mirrors fingerprint.DiffFieldOrder; duplicated here (rather
// than imported) to keep differ free of a dependency on fingerprint, since
// the Differ only needs the order, not the hashing.
var diffFieldOrder = []string{
	"name", "description", "category", "price_including_tax",
	"availability", "rating", "number_of_reviews",
}

// Diff compares old and new snapshots of the same book. fastPathHit
// indicates whether the content_hash round-trip positively confirmed no
// change occurred (true) or whether the field walk was required (false,
// either because hashes disagreed or no prior fingerprint existed).
// DetectedAt is left zero-valued for the caller (the reconciler, which
// knows the run's timestamp) to fill in.
func Diff(old, next model.Book, fastPathHit bool) []model.ChangeRecord {
	if fastPathHit {
		return nil
	}

	var records []model.ChangeRecord
	for _, field := range diffFieldOrder {
		oldVal, newVal, changed := compareField(old, next, field)
		if !changed {
			continue
		}
		records = append(records, model.ChangeRecord{
			ChangeID:        uuid.NewString(),
			BookID:          next.BookID,
			SourceURL:       next.SourceURL,
			ChangeType:      changeTypeByField[field],
			Severity:        severityByField[field],
			FieldName:       field,
			OldValue:        model.StrPtr(oldVal),
			NewValue:        model.StrPtr(newVal),
			ChangeSummary:   fmt.Sprintf("%s changed from '%s' to '%s'", field, oldVal, newVal),
			ConfidenceScore: 1.0,
		})
	}
	return records
}

// compareField returns the canonical string form of the field in both
// snapshots and whether they differ.
func compareField(old, next model.Book, field string) (oldVal, newVal string, changed bool) {
	switch field {
	case "name":
		oldVal, newVal = old.Name, next.Name
	case "description":
		oldVal, newVal = old.Description, next.Description
	case "category":
		oldVal, newVal = old.Category, next.Category
	case "price_including_tax":
		oldVal, newVal = old.PriceIncludingTax.String(), next.PriceIncludingTax.String()
	case "availability":
		oldVal, newVal = string(old.Availability), string(next.Availability)
	case "rating":
		oldVal, newVal = ratingString(old), ratingString(next)
	case "number_of_reviews":
		oldVal = fmt.Sprintf("%d", old.NumberOfReviews)
		newVal = fmt.Sprintf("%d", next.NumberOfReviews)
	}
	return oldVal, newVal, oldVal != newVal
}

func ratingString(b model.Book) string {
	if !b.Rating.Valid {
		return ""
	}
	return fmt.Sprintf("%d", b.Rating.Value)
}
