package model

import "time"

// Fingerprint holds the four stable content hashes used by the Differ's
// fast path. One per Book, keyed by BookID.
type Fingerprint struct {
	BookID            string
	SourceURL         string
	ContentHash       string
	PriceHash         string
	AvailabilityHash  string
	MetadataHash      string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
