// Package model holds the wire- and storage-shaped types for the catalog
// mirror: books, fingerprints, change records, detection runs, daily
// reports, and crawl state.
package model

import (
	"crypto/md5" //nolint:gosec // used for identifier derivation, not security.
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Availability mirrors the upstream site's two observed states. Absence of
// the "in stock" string anywhere in the availability cell is treated as
// out of stock.
type Availability string

const (
	InStock    Availability = "in_stock"
	OutOfStock Availability = "out_of_stock"
)

// Money is a fixed-point, two-fractional-digit amount stored as integer
// cents so equality comparisons in the Differ are exact, never
// float-drifted. The zero value is 0.00.
type Money int64

// ParseMoney strips every character that isn't a digit or '.' (the
// upstream renders prices like "£51.77") and parses the remainder as
// fixed-point cents. A malformed or empty string yields Money(0), matching
// the documented fallback for unparseable prices.
func ParseMoney(raw string) Money {
	var b strings.Builder
	for _, r := range raw {
		if (r >= '0' && r <= '9') || r == '.' {
			b.WriteRune(r)
		}
	}
	cleaned := b.String()
	if cleaned == "" {
		return 0
	}
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0
	}
	return Money(int64(f*100 + 0.5))
}

// String renders the normalized two-decimal form used both on the wire and
// as the canonical form fed to the Fingerprinter.
func (m Money) String() string {
	neg := ""
	v := int64(m)
	if v < 0 {
		neg = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", neg, v/100, v%100)
}

// Float64 exposes the amount as a float for display paths that don't care
// about exactness (never used for comparison).
func (m Money) Float64() float64 {
	return float64(m) / 100
}

// Rating is 1..5 stars; the zero value combined with Valid==false
// represents "absent" (the upstream showed no star-rating class).
type Rating struct {
	Value int
	Valid bool
}

func NewRating(v int) Rating {
	return Rating{Value: v, Valid: true}
}

// Book is the durable mirror record for one upstream catalog entry.
type Book struct {
	BookID            string
	SourceURL         string
	Name              string
	Description       string
	Category          string
	PriceIncludingTax Money
	PriceExcludingTax Money
	Availability      Availability
	Rating            Rating
	NumberOfReviews   int
	ImageURL          string
	Removed           bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
	LastCrawlTime     time.Time
}

// DeriveBookID derives the stable correlation identifier for a source URL:
// an MD5 hex digest prefixed with "book_". Collision risk is accepted
// because source_url is already unique; the prefix just scopes the
// namespace.
func DeriveBookID(sourceURL string) string {
	sum := md5.Sum([]byte(sourceURL)) //nolint:gosec
	return "book_" + hex.EncodeToString(sum[:])
}
