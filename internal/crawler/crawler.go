// Package crawler performs the resumable full-catalog walk used for
// first-run ingestion and bulk restore, grounded on
// original_source/crawler/book_crawler.py's crawl_all_books state
// machine, with the checkpoint write made atomic (write-to-temp +
// rename) where the original wrote the state file directly.
package crawler

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nowail/bookwatch/internal/fetcher"
	"github.com/nowail/bookwatch/internal/fingerprint"
	"github.com/nowail/bookwatch/internal/logging"
	"github.com/nowail/bookwatch/internal/model"
	"github.com/nowail/bookwatch/internal/store"
)

// Config controls checkpointing and failure tolerance.
type Config struct {
	StateFile               string
	CheckpointInterval      int
	MaxConsecutiveErrors    int
	ConnectionErrorCooldown time.Duration
}

// Crawler walks the full catalog from a checkpointed cursor.
type Crawler struct {
	fetcher *fetcher.Fetcher
	store   store.Store
	cfg     Config
}

// New builds a Crawler.
func New(f *fetcher.Fetcher, s store.Store, cfg Config) *Crawler {
	return &Crawler{fetcher: f, store: s, cfg: cfg}
}

// Result summarizes one CrawlAll invocation, mirroring CrawlResult.
type Result struct {
	Success      bool
	BooksCrawled int
	Errors       []string
	DurationSecs float64
	StartTime    time.Time
	EndTime      time.Time
}

// CrawlAll walks every catalog page from the checkpointed cursor (or page
// 1 if resume is false or no checkpoint exists) through total_pages,
// inserting every book it finds.
func (c *Crawler) CrawlAll(ctx context.Context, resume bool) Result {
	log := logging.FromContext(ctx)
	start := time.Now()

	state := model.NewCrawlState(start)
	if resume {
		if loaded, err := c.loadState(); err == nil {
			state = loaded
		}
	}

	totalPages, err := c.fetcher.CountPages(ctx)
	if err != nil {
		state.Errors = append(state.Errors, fmt.Sprintf("counting pages: %v", err))
		return c.finish(state, start, false)
	}
	state.TotalPages = totalPages

	booksProcessed := state.BooksProcessed
	consecutiveErrors := 0

	for page := state.LastProcessedPage; page <= totalPages; page++ {
		select {
		case <-ctx.Done():
			c.checkpoint(state)
			return c.finish(state, start, false)
		default:
		}

		n, err := c.crawlPage(ctx, page)
		if err != nil {
			msg := fmt.Sprintf("page %d: %v", page, err)
			state.Errors = append(state.Errors, msg)
			log.Warn("crawl page failed", "page", page, "err", err)
			consecutiveErrors++
			if isConnectionError(err) {
				time.Sleep(c.cfg.ConnectionErrorCooldown)
			}
			if consecutiveErrors >= c.cfg.MaxConsecutiveErrors {
				break
			}
			continue
		}
		consecutiveErrors = 0
		booksProcessed += n

		state.LastProcessedPage = page
		state.BooksProcessed = booksProcessed
		state.LastUpdateTime = time.Now()

		if c.cfg.CheckpointInterval > 0 && page%c.cfg.CheckpointInterval == 0 {
			c.checkpoint(state)
		}
		log.Debug("crawl progress", "page", page, "total_pages", totalPages, "books_processed", booksProcessed)
	}

	c.checkpoint(state)
	return c.finish(state, start, len(state.Errors) == 0)
}

func (c *Crawler) finish(state *model.CrawlState, start time.Time, success bool) Result {
	end := time.Now()
	return Result{
		Success:      success,
		BooksCrawled: state.BooksProcessed,
		Errors:       state.Errors,
		DurationSecs: end.Sub(start).Seconds(),
		StartTime:    start,
		EndTime:      end,
	}
}

// crawlPage fetches one listing page and every linked book detail page,
// inserting each into the Store along with its Fingerprint.
func (c *Crawler) crawlPage(ctx context.Context, page int) (int, error) {
	links, err := c.fetcher.FetchListingPage(ctx, page)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, link := range links {
		b, err := c.fetcher.FetchBook(ctx, link.URL)
		if err != nil {
			continue
		}
		if err := c.store.UpsertBook(ctx, b); err != nil {
			return n, err
		}
		if err := c.store.UpsertFingerprint(ctx, fingerprint.Fingerprint(b)); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func isConnectionError(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "connection")
}

// checkpoint persists state via write-to-temp-then-rename, the fix over
// the original's direct, non-atomic json.dump to the state file.
func (c *Crawler) checkpoint(state *model.CrawlState) {
	if err := c.saveState(state); err != nil {
		logging.FromContext(context.Background()).Error("failed to checkpoint crawl state", "err", err)
	}
}

func (c *Crawler) saveState(state *model.CrawlState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(c.cfg.StateFile)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	tmp, err := os.CreateTemp(dir, ".crawl_state-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, c.cfg.StateFile)
}

func (c *Crawler) loadState() (*model.CrawlState, error) {
	data, err := os.ReadFile(c.cfg.StateFile)
	if err != nil {
		return nil, err
	}
	var state model.CrawlState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	if state.LastProcessedPage < 1 {
		state.LastProcessedPage = 1
	}
	return &state, nil
}
