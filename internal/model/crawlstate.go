package model

import "time"

// CrawlState is the singleton, disk-checkpointed cursor for the full
// catalog walk. It is the sole source of truth for resume position and
// must only ever be written atomically (write-to-temp + rename).
type CrawlState struct {
	LastProcessedPage int        `json:"last_processed_page"`
	TotalPages        int        `json:"total_pages"`
	BooksProcessed    int        `json:"books_processed"`
	LastProcessedURL  string     `json:"last_processed_url,omitempty"`
	CrawlStartTime    time.Time  `json:"crawl_start_time"`
	LastUpdateTime    time.Time  `json:"last_update_time"`
	Errors            []string   `json:"errors"`
}

// NewCrawlState returns the fresh, page-1 starting state.
func NewCrawlState(now time.Time) *CrawlState {
	return &CrawlState{
		LastProcessedPage: 1,
		CrawlStartTime:    now,
		LastUpdateTime:    now,
		Errors:            []string{},
	}
}
