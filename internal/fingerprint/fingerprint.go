// Package fingerprint implements the pure, deterministic content-hash
// function described in design §4.3: four SHA-256 digests over canonical
// JSON subsets of a book's diff-relevant fields, grounded directly on the
// original ContentFingerprinter.generate_* methods.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"

	"github.com/ohler55/ojg/oj"
	"golang.org/x/text/unicode/norm"

	"github.com/nowail/bookwatch/internal/model"
)

// Fields, in the fixed order the Differ must also walk (§4.4): this order
// is part of the contract, not an implementation detail.
var DiffFieldOrder = []string{
	"name", "description", "category", "price_including_tax",
	"availability", "rating", "number_of_reviews",
}

// Fingerprint computes the four content hashes for a book.
func Fingerprint(b model.Book) model.Fingerprint {
	return model.Fingerprint{
		BookID:           b.BookID,
		SourceURL:        b.SourceURL,
		ContentHash:      hashFields(b, []string{"name", "description", "category", "price_including_tax", "availability", "rating", "number_of_reviews"}),
		PriceHash:        hashFields(b, []string{"price_including_tax", "price_excluding_tax"}),
		AvailabilityHash: hashFields(b, []string{"availability", "number_of_reviews"}),
		MetadataHash:     hashFields(b, []string{"description", "category", "rating", "image_url"}),
	}
}

// fieldValue extracts the canonical value for one field name from a book.
// A genuinely absent rating (or an unknown field name) yields nil, which is
// serialized as JSON null per the canonicalization rules.
func fieldValue(b model.Book, field string) any {
	switch field {
	case "name":
		return b.Name
	case "description":
		return b.Description
	case "category":
		return b.Category
	case "price_including_tax":
		return b.PriceIncludingTax.String()
	case "price_excluding_tax":
		return b.PriceExcludingTax.String()
	case "availability":
		return string(b.Availability)
	case "rating":
		if !b.Rating.Valid {
			return nil
		}
		return b.Rating.Value
	case "number_of_reviews":
		return b.NumberOfReviews
	case "image_url":
		return b.ImageURL
	default:
		return nil
	}
}

// hashFields builds the canonical JSON object for the given field subset
// (keys sorted lexicographically, as mandated) and returns its SHA-256 hex
// digest.
func hashFields(b model.Book, fields []string) string {
	sorted := append([]string(nil), fields...)
	sort.Strings(sorted)

	var sb strings.Builder
	sb.WriteByte('{')
	for i, f := range sorted {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(oj.JSON(f))
		sb.WriteByte(':')
		sb.WriteString(canonicalValue(fieldValue(b, f)))
	}
	sb.WriteByte('}')

	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

// canonicalValue renders v per the canonicalization rules: strings are
// NFC-normalized (not trimmed) and then rendered via ojg's JSON encoder
// (stable, no HTML-escaping surprises), integers as plain decimal, nil as
// the literal null.
func canonicalValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return oj.JSON(norm.NFC.String(t))
	case int:
		return strconv.Itoa(t)
	default:
		return oj.JSON(t)
	}
}
