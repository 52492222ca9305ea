// Package reconciler runs the four-phase reconcile loop: orphan cleanup,
// restore, discover, and diff. Grounded on original_source's
// scheduler/change_detector.py phase structure, rewritten around the
// teacher's bounded-concurrency idiom (internal/controller.go's
// refreshG errgroup.Group with SetLimit).
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/google/uuid"

	"github.com/nowail/bookwatch/internal/differ"
	"github.com/nowail/bookwatch/internal/errs"
	"github.com/nowail/bookwatch/internal/fetcher"
	"github.com/nowail/bookwatch/internal/fingerprint"
	"github.com/nowail/bookwatch/internal/logging"
	"github.com/nowail/bookwatch/internal/model"
	"github.com/nowail/bookwatch/internal/store"
)

// Config bounds the reconcile loop. Field names and defaults mirror
// SchedulerConfig/CrawlerConfig's reconcile-related knobs.
type Config struct {
	ExpectedCatalogSize      int
	MaxRestorePages          int
	MaxDiscoveryPages        int
	MaxConsecutivePageErrors int
	BatchSize                int
	MaxConcurrentBooks       int
}

// reconcileRecorder is the minimal metrics surface Reconcile reports its
// headline counters to; satisfied structurally by *metrics.Collector.
type reconcileRecorder interface {
	RecordReconcile(checked, newBooks, updated, removed, restored int)
	SetActiveBooks(n int)
}

type nopReconcileRecorder struct{}

func (nopReconcileRecorder) RecordReconcile(_, _, _, _, _ int) {}
func (nopReconcileRecorder) SetActiveBooks(_ int)               {}

// Reconciler owns the four phases.
type Reconciler struct {
	store   store.Store
	fetcher *fetcher.Fetcher
	cfg     Config
	metrics reconcileRecorder
}

// New builds a Reconciler.
func New(s store.Store, f *fetcher.Fetcher, cfg Config) *Reconciler {
	return &Reconciler{store: s, fetcher: f, cfg: cfg, metrics: nopReconcileRecorder{}}
}

// SetMetrics wires a reconcile-outcome recorder into the Reconciler. Safe
// to call with nil, in which case recording stays a no-op.
func (r *Reconciler) SetMetrics(m reconcileRecorder) {
	if m != nil {
		r.metrics = m
	}
}

// Reconcile runs phases A through D and returns the completed DetectionRun.
func (r *Reconciler) Reconcile(ctx context.Context) (*model.DetectionRun, error) {
	log := logging.FromContext(ctx)
	run := model.NewDetectionRun(uuid.NewString(), time.Now())

	orphans, err := r.phaseA(ctx)
	if err != nil {
		run.AppendError(fmt.Sprintf("phase A: %v", err))
	}
	log.Debug("orphan cleanup complete", "orphans_deleted", orphans)

	if restored, err := r.maybeRestore(ctx, run); err != nil {
		run.AppendError(fmt.Sprintf("phase B: %v", err))
	} else {
		run.RestoredBooks += restored
	}

	if discovered, err := r.phaseC(ctx, run); err != nil {
		run.AppendError(fmt.Sprintf("phase C: %v", err))
	} else {
		run.NewBooks += discovered
	}

	checked, err := r.phaseD(ctx, run)
	if err != nil {
		run.AppendError(fmt.Sprintf("phase D: %v", err))
	}
	run.TotalBooksChecked += checked

	run.Finish(time.Now())
	r.metrics.RecordReconcile(run.TotalBooksChecked, run.NewBooks, run.UpdatedBooks, run.RemovedBooks, run.RestoredBooks)
	if active, err := r.store.CountActiveBooks(ctx); err == nil {
		r.metrics.SetActiveBooks(active)
	}
	if err := r.store.InsertDetectionRun(ctx, run); err != nil {
		return run, fmt.Errorf("reconciler: persisting run: %w", err)
	}
	return run, nil
}

// CleanupOrphanFingerprints runs phase A standalone, for the Scheduler's
// dedicated cleanup_orphan_fingerprints job.
func (r *Reconciler) CleanupOrphanFingerprints(ctx context.Context) error {
	_, err := r.phaseA(ctx)
	return err
}

// phaseA deletes fingerprints whose book row no longer exists at all. A
// soft-removed book still has a row, so its fingerprint survives.
func (r *Reconciler) phaseA(ctx context.Context) (int, error) {
	orphans, err := r.store.OrphanFingerprintBookIDs(ctx)
	if err != nil {
		return 0, err
	}
	for _, id := range orphans {
		if err := r.store.DeleteFingerprint(ctx, id); err != nil {
			return 0, err
		}
	}
	return len(orphans), nil
}

// maybeRestore triggers phase B only when the active book count is below
// the configured floor.
func (r *Reconciler) maybeRestore(ctx context.Context, run *model.DetectionRun) (int, error) {
	count, err := r.store.CountActiveBooks(ctx)
	if err != nil {
		return 0, err
	}
	if count >= r.cfg.ExpectedCatalogSize {
		return 0, nil
	}
	deficit := r.cfg.ExpectedCatalogSize - count
	return r.walkForNewBooks(ctx, run, r.cfg.MaxRestorePages, deficit, model.SeverityMedium)
}

// phaseC discovers new books independent of the restore trigger.
func (r *Reconciler) phaseC(ctx context.Context, run *model.DetectionRun) (int, error) {
	return r.walkForNewBooks(ctx, run, r.cfg.MaxDiscoveryPages, -1, model.SeverityMedium)
}

// walkForNewBooks pages through the catalog (1..maxPages), inserting any
// book URL not already present. It stops early once wantCount new books
// have been inserted (wantCount < 0 means no early stop) or after
// MaxConsecutivePageErrors consecutive empty/failing pages.
func (r *Reconciler) walkForNewBooks(ctx context.Context, run *model.DetectionRun, maxPages, wantCount int, severity model.Severity) (int, error) {
	known, err := r.store.AllActiveSourceURLs(ctx)
	if err != nil {
		return 0, err
	}

	inserted := 0
	consecutiveErrors := 0
	for page := 1; page <= maxPages; page++ {
		links, err := r.fetcher.FetchListingPage(ctx, page)
		if err != nil {
			if errors.Is(err, fetcher.ErrPageNotFound) {
				break
			}
			consecutiveErrors++
			run.AppendError(fmt.Sprintf("page %d: %v", page, err))
			if consecutiveErrors >= r.cfg.MaxConsecutivePageErrors {
				break
			}
			continue
		}
		if len(links) == 0 {
			consecutiveErrors++
			if consecutiveErrors >= r.cfg.MaxConsecutivePageErrors {
				break
			}
			continue
		}
		consecutiveErrors = 0

		for _, link := range links {
			if known[link.URL] {
				continue
			}
			n, err := r.insertNewBook(ctx, run, link.URL, severity)
			if err != nil {
				run.AppendError(fmt.Sprintf("%s: %v", link.URL, err))
				continue
			}
			known[link.URL] = true
			inserted += n
			if wantCount >= 0 && inserted >= wantCount {
				return inserted, nil
			}
		}
	}
	return inserted, nil
}

func (r *Reconciler) insertNewBook(ctx context.Context, run *model.DetectionRun, bookURL string, severity model.Severity) (int, error) {
	b, err := r.fetcher.FetchBook(ctx, bookURL)
	if err != nil {
		return 0, err
	}
	if err := r.store.UpsertBook(ctx, b); err != nil {
		return 0, err
	}
	fp := fingerprint.Fingerprint(b)
	if err := r.store.UpsertFingerprint(ctx, fp); err != nil {
		return 0, err
	}

	record := model.ChangeRecord{
		ChangeID:        uuid.NewString(),
		BookID:          b.BookID,
		SourceURL:       b.SourceURL,
		ChangeType:      model.ChangeNewBook,
		Severity:        severity,
		NewValue:        model.StrPtr(b.Name),
		ChangeSummary:   fmt.Sprintf("new book discovered: %s", b.Name),
		DetectedAt:      time.Now(),
		ConfidenceScore: 1.0,
	}
	if err := r.store.InsertChangeRecords(ctx, []model.ChangeRecord{record}); err != nil {
		return 0, err
	}
	run.RecordChange(record)
	return 1, nil
}

// phaseD partitions the active book set into sequential batches and diffs
// each batch's books concurrently, bounded by MaxConcurrentBooks.
func (r *Reconciler) phaseD(ctx context.Context, run *model.DetectionRun) (int, error) {
	ids, err := r.store.AllActiveBookIDs(ctx)
	if err != nil {
		return 0, err
	}

	checked := 0
	for start := 0; start < len(ids); start += r.cfg.BatchSize {
		end := start + r.cfg.BatchSize
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[start:end]

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.cfg.MaxConcurrentBooks)

		results := make(chan bookOutcome, len(batch))
		for _, id := range batch {
			id := id
			g.Go(func() error {
				results <- r.diffOneBook(gctx, id)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return checked, err
		}
		close(results)

		connectionLost := false
		for res := range results {
			checked++
			if res.err != nil {
				run.AppendError(fmt.Sprintf("%s: %v", res.bookID, res.err))
				if errors.Is(res.err, errs.ErrConnectionLost) {
					connectionLost = true
				}
				continue
			}
			if len(res.records) == 0 {
				continue
			}
			removed := false
			for _, rec := range res.records {
				run.RecordChange(rec)
				if rec.ChangeType == model.ChangeBookRemoved {
					removed = true
				}
			}
			if removed {
				run.RemovedBooks++
			} else {
				run.UpdatedBooks++
			}
		}
		// A connection-lost error is run-fatal, not book-fatal: abandon the
		// batches that haven't started rather than keep diffing against a
		// Store we can no longer reach.
		if connectionLost {
			return checked, fmt.Errorf("phase D: %w", errs.ErrConnectionLost)
		}
	}
	return checked, nil
}

type bookOutcome struct {
	bookID  string
	records []model.ChangeRecord
	err     error
}

// diffOneBook implements phase D's per-book body: fetch stored + current
// state, detect removal, or run the Differ and persist the outcome.
func (r *Reconciler) diffOneBook(ctx context.Context, bookID string) bookOutcome {
	stored, err := r.store.GetBookByID(ctx, bookID)
	if err != nil {
		return bookOutcome{bookID: bookID, err: err}
	}

	current, err := r.fetcher.FetchBook(ctx, stored.SourceURL)
	if err != nil {
		if errors.Is(err, fetcher.ErrPageNotFound) && !stored.Removed {
			return r.markRemoved(ctx, stored)
		}
		return bookOutcome{bookID: bookID, err: err}
	}

	return r.applyDiff(ctx, stored, current)
}

func (r *Reconciler) markRemoved(ctx context.Context, stored model.Book) bookOutcome {
	if err := r.store.MarkRemoved(ctx, stored.BookID); err != nil {
		return bookOutcome{bookID: stored.BookID, err: err}
	}
	record := model.ChangeRecord{
		ChangeID:        uuid.NewString(),
		BookID:          stored.BookID,
		SourceURL:       stored.SourceURL,
		ChangeType:      model.ChangeBookRemoved,
		Severity:        model.SeverityHigh,
		ChangeSummary:   fmt.Sprintf("%s is no longer present upstream", stored.Name),
		DetectedAt:      time.Now(),
		ConfidenceScore: 1.0,
	}
	if err := r.store.InsertChangeRecords(ctx, []model.ChangeRecord{record}); err != nil {
		return bookOutcome{bookID: stored.BookID, err: err}
	}
	return bookOutcome{bookID: stored.BookID, records: []model.ChangeRecord{record}}
}

func (r *Reconciler) applyDiff(ctx context.Context, stored, current model.Book) bookOutcome {
	current.BookID = stored.BookID

	existingFP, fpErr := r.store.GetFingerprint(ctx, stored.BookID)
	fastPathHit := false
	if fpErr == nil {
		fastPathHit = existingFP.ContentHash == fingerprint.Fingerprint(current).ContentHash
	}

	records := differ.Diff(stored, current, fastPathHit)
	now := time.Now()
	for i := range records {
		records[i].DetectedAt = now
	}

	noFingerprintYet := errors.Is(fpErr, errs.ErrNotFound)

	if len(records) == 0 && !noFingerprintYet {
		return bookOutcome{bookID: stored.BookID}
	}

	if err := r.store.UpsertBook(ctx, current); err != nil {
		return bookOutcome{bookID: stored.BookID, err: err}
	}
	if err := r.store.UpsertFingerprint(ctx, fingerprint.Fingerprint(current)); err != nil {
		return bookOutcome{bookID: stored.BookID, err: err}
	}
	if len(records) > 0 {
		if err := r.store.InsertChangeRecords(ctx, records); err != nil {
			return bookOutcome{bookID: stored.BookID, err: err}
		}
	}
	return bookOutcome{bookID: stored.BookID, records: records}
}
