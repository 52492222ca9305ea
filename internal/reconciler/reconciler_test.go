package reconciler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nowail/bookwatch/internal/errs"
	"github.com/nowail/bookwatch/internal/model"
	"github.com/nowail/bookwatch/internal/store"
)

var _ store.Store = (*fakeStore)(nil)

// fakeStore is an in-memory Store double covering only what the
// reconciler touches, in the teacher's style of hand-rolled test doubles
// (no mocking framework appears anywhere in the pack).
type fakeStore struct {
	books        map[string]model.Book // by book_id
	fingerprints map[string]model.Fingerprint
	changes      []model.ChangeRecord
	runs         []*model.DetectionRun
	getBookErr   error // when set, GetBookByID always fails with this error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		books:        map[string]model.Book{},
		fingerprints: map[string]model.Fingerprint{},
	}
}

func (s *fakeStore) UpsertBook(_ context.Context, b model.Book) error {
	s.books[b.BookID] = b
	return nil
}
func (s *fakeStore) UpsertBooksBatch(_ context.Context, books []model.Book) (int, error) {
	n := 0
	for _, b := range books {
		if _, ok := s.books[b.BookID]; !ok {
			n++
		}
		s.books[b.BookID] = b
	}
	return n, nil
}
func (s *fakeStore) GetBookByURL(_ context.Context, url string) (model.Book, error) {
	for _, b := range s.books {
		if b.SourceURL == url {
			return b, nil
		}
	}
	return model.Book{}, errs.ErrNotFound
}
func (s *fakeStore) GetBookByID(_ context.Context, id string) (model.Book, error) {
	if s.getBookErr != nil {
		return model.Book{}, s.getBookErr
	}
	b, ok := s.books[id]
	if !ok {
		return model.Book{}, errs.ErrNotFound
	}
	return b, nil
}
func (s *fakeStore) MarkRemoved(_ context.Context, id string) error {
	b := s.books[id]
	b.Removed = true
	s.books[id] = b
	return nil
}
func (s *fakeStore) DeleteBook(_ context.Context, id string) error {
	delete(s.books, id)
	delete(s.fingerprints, id)
	return nil
}
func (s *fakeStore) CountActiveBooks(_ context.Context) (int, error) {
	n := 0
	for _, b := range s.books {
		if !b.Removed {
			n++
		}
	}
	return n, nil
}
func (s *fakeStore) AllActiveBookIDs(_ context.Context) ([]string, error) {
	var ids []string
	for id, b := range s.books {
		if !b.Removed {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
func (s *fakeStore) AllActiveSourceURLs(_ context.Context) (map[string]bool, error) {
	urls := map[string]bool{}
	for _, b := range s.books {
		if !b.Removed {
			urls[b.SourceURL] = true
		}
	}
	return urls, nil
}
func (s *fakeStore) Stats(_ context.Context) (store.Stats, error) {
	return store.Stats{TotalBooks: len(s.books)}, nil
}
func (s *fakeStore) GetFingerprint(_ context.Context, id string) (model.Fingerprint, error) {
	fp, ok := s.fingerprints[id]
	if !ok {
		return model.Fingerprint{}, errs.ErrNotFound
	}
	return fp, nil
}
func (s *fakeStore) UpsertFingerprint(_ context.Context, f model.Fingerprint) error {
	s.fingerprints[f.BookID] = f
	return nil
}
func (s *fakeStore) DeleteFingerprint(_ context.Context, id string) error {
	delete(s.fingerprints, id)
	return nil
}
func (s *fakeStore) OrphanFingerprintBookIDs(_ context.Context) ([]string, error) {
	var ids []string
	for id := range s.fingerprints {
		if _, ok := s.books[id]; !ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
func (s *fakeStore) InsertChangeRecords(_ context.Context, records []model.ChangeRecord) error {
	s.changes = append(s.changes, records...)
	return nil
}
func (s *fakeStore) ChangeRecordsForDate(_ context.Context, _ time.Time) ([]model.ChangeRecord, error) {
	return s.changes, nil
}
func (s *fakeStore) InsertDetectionRun(_ context.Context, run *model.DetectionRun) error {
	s.runs = append(s.runs, run)
	return nil
}
func (s *fakeStore) DetectionRunsForDate(_ context.Context, _ time.Time) ([]*model.DetectionRun, error) {
	return s.runs, nil
}
func (s *fakeStore) InsertDailyReport(_ context.Context, _ *model.DailyReport) error { return nil }
func (s *fakeStore) ReportHistory(_ context.Context, _ int) ([]*model.DailyReport, error) {
	return nil, nil
}
func (s *fakeStore) DeleteReportsOlderThan(_ context.Context, _ time.Time) (int, error) {
	return 0, nil
}

func TestApplyDiffRecordsPriceChangeAndPersistsNewFingerprint(t *testing.T) {
	s := newFakeStore()
	r := &Reconciler{store: s, metrics: nopReconcileRecorder{}}

	stored := model.Book{BookID: "book_a", SourceURL: "http://x/a", Name: "A", PriceIncludingTax: 1000}
	s.books["book_a"] = stored
	s.fingerprints["book_a"] = model.Fingerprint{BookID: "book_a", ContentHash: "old"}

	current := stored
	current.PriceIncludingTax = 1200

	outcome := r.applyDiff(context.Background(), stored, current)
	require.NoError(t, outcome.err)
	if assert.Len(t, outcome.records, 1) {
		assert.Equal(t, model.ChangePrice, outcome.records[0].ChangeType)
	}
	assert.Equal(t, model.Money(1200), s.books["book_a"].PriceIncludingTax)
	assert.NotEqual(t, "old", s.fingerprints["book_a"].ContentHash)
}

func TestMarkRemovedEmitsHighSeverityBookRemovedChange(t *testing.T) {
	s := newFakeStore()
	r := &Reconciler{store: s, metrics: nopReconcileRecorder{}}
	s.books["book_a"] = model.Book{BookID: "book_a", Name: "A"}

	outcome := r.markRemoved(context.Background(), s.books["book_a"])
	require.NoError(t, outcome.err)
	require.Len(t, outcome.records, 1)
	assert.Equal(t, model.ChangeBookRemoved, outcome.records[0].ChangeType)
	assert.Equal(t, model.SeverityHigh, outcome.records[0].Severity)
	assert.True(t, s.books["book_a"].Removed)
}

func TestPhaseDBookkeepingCountsUpdatedAndRemovedSeparately(t *testing.T) {
	run := model.NewDetectionRun("run-1", time.Now())

	updateOutcome := bookOutcome{bookID: "a", records: []model.ChangeRecord{
		{ChangeType: model.ChangePrice, Severity: model.SeverityLow},
	}}
	removeOutcome := bookOutcome{bookID: "b", records: []model.ChangeRecord{
		{ChangeType: model.ChangeBookRemoved, Severity: model.SeverityHigh},
	}}

	for _, res := range []bookOutcome{updateOutcome, removeOutcome} {
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

	assert.Equal(t, 1, run.UpdatedBooks)
	assert.Equal(t, 1, run.RemovedBooks)
}

func TestPhaseDAbandonsRemainingBatchesOnConnectionLoss(t *testing.T) {
	s := newFakeStore()
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("book_%d", i)
		s.books[id] = model.Book{BookID: id, SourceURL: "http://x/" + id}
	}
	s.getBookErr = fmt.Errorf("dial tcp: %w", errs.ErrConnectionLost)

	r := &Reconciler{
		store:   s,
		cfg:     Config{BatchSize: 2, MaxConcurrentBooks: 2},
		metrics: nopReconcileRecorder{},
	}

	run := model.NewDetectionRun("run-1", time.Now())
	checked, err := r.phaseD(context.Background(), run)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrConnectionLost)
	// Only the first batch (size 2) should have run before abandonment.
	assert.Equal(t, 2, checked)
}

func TestReconcileSuccessFalseWhenErrorsRecorded(t *testing.T) {
	run := model.NewDetectionRun("run-1", time.Now())
	run.AppendError("phase D: boom")
	run.Finish(time.Now())
	assert.False(t, run.Success)
}

func TestReconcileSuccessTrueWhenNoErrorsRecorded(t *testing.T) {
	run := model.NewDetectionRun("run-1", time.Now())
	run.Finish(time.Now())
	assert.True(t, run.Success)
}

func TestPhaseADeletesOnlyHardOrphans(t *testing.T) {
	s := newFakeStore()
	s.books["book_a"] = model.Book{BookID: "book_a", Removed: true} // soft-removed, not an orphan
	s.fingerprints["book_a"] = model.Fingerprint{BookID: "book_a"}
	s.fingerprints["book_b"] = model.Fingerprint{BookID: "book_b"} // no book row: orphan

	r := &Reconciler{store: s}
	n, err := r.phaseA(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, ok := s.fingerprints["book_a"]
	assert.True(t, ok)
	_, ok = s.fingerprints["book_b"]
	assert.False(t, ok)
}
