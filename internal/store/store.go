// Package store persists books, fingerprints, change records, detection
// runs, and daily reports. The document-oriented MongoDB layer of
// original_source/crawler/database.py is re-expressed against Postgres via
// jackc/pgx/v5, the teacher's own persistence stack (internal/persist.go),
// fronted by a read-through ristretto/gocache fingerprint cache matching
// the teacher's cache-in-front-of-DB shape in internal/controller.go.
package store

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"time"

	"github.com/dgraph-io/ristretto"
	gocache "github.com/eko/gocache/lib/v4/cache"
	ristrettostore "github.com/eko/gocache/store/ristretto/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nowail/bookwatch/internal/errs"
	"github.com/nowail/bookwatch/internal/model"
)

// pgUniqueViolation is Postgres's SQLSTATE for a unique-index conflict
// (23505); used to recognize a source_url collision that the book_id
// ON CONFLICT clause doesn't cover.
const pgUniqueViolation = "23505"

// classifyErr maps a raw pgx/network error onto the sentinel kinds the
// Reconciler branches on: a unique-index conflict becomes ErrDuplicate, a
// connectivity failure becomes ErrConnectionLost (run-fatal), everything
// else passes through unchanged.
func classifyErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return fmt.Errorf("%w: %s", errs.ErrDuplicate, pgErr.ConstraintName)
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, pgx.ErrTxClosed) || errors.Is(err, pgxpool.ErrClosedPool) {
		return fmt.Errorf("%w: %v", errs.ErrConnectionLost, err)
	}
	return err
}

// validateBook enforces the invariants the Differ and Reporter assume hold
// for every stored Book: a positive price and a non-negative review count.
func validateBook(b model.Book) error {
	if b.PriceIncludingTax <= 0 {
		return fmt.Errorf("%w: price_including_tax must be positive, got %d", errs.ErrInvariant, b.PriceIncludingTax)
	}
	if b.NumberOfReviews < 0 {
		return fmt.Errorf("%w: number_of_reviews must be non-negative, got %d", errs.ErrInvariant, b.NumberOfReviews)
	}
	return nil
}

// Store is the persistence surface every other component depends on.
type Store interface {
	UpsertBook(ctx context.Context, b model.Book) error
	// UpsertBooksBatch inserts or updates many books in one round trip,
	// tolerating duplicates within the batch (unordered insert, matching
	// insert_books_batch's ordered=False semantics). Returns the count of
	// rows that were genuinely new.
	UpsertBooksBatch(ctx context.Context, books []model.Book) (inserted int, err error)
	GetBookByURL(ctx context.Context, sourceURL string) (model.Book, error)
	GetBookByID(ctx context.Context, bookID string) (model.Book, error)
	MarkRemoved(ctx context.Context, bookID string) error
	DeleteBook(ctx context.Context, bookID string) error
	CountActiveBooks(ctx context.Context) (int, error)
	AllActiveBookIDs(ctx context.Context) ([]string, error)
	AllActiveSourceURLs(ctx context.Context) (map[string]bool, error)
	Stats(ctx context.Context) (Stats, error)

	GetFingerprint(ctx context.Context, bookID string) (model.Fingerprint, error)
	UpsertFingerprint(ctx context.Context, f model.Fingerprint) error
	DeleteFingerprint(ctx context.Context, bookID string) error
	OrphanFingerprintBookIDs(ctx context.Context) ([]string, error)

	InsertChangeRecords(ctx context.Context, records []model.ChangeRecord) error
	ChangeRecordsForDate(ctx context.Context, day time.Time) ([]model.ChangeRecord, error)

	InsertDetectionRun(ctx context.Context, run *model.DetectionRun) error
	DetectionRunsForDate(ctx context.Context, day time.Time) ([]*model.DetectionRun, error)

	InsertDailyReport(ctx context.Context, report *model.DailyReport) error
	ReportHistory(ctx context.Context, days int) ([]*model.DailyReport, error)
	DeleteReportsOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// Stats mirrors get_database_stats: total_books, categories, and a rough
// on-disk size.
type Stats struct {
	TotalBooks    int
	Categories    int
	DatabaseBytes int64
}

// cacheRecorder is the minimal metrics surface fingerprint-cache lookups
// report to; satisfied structurally by *metrics.Collector, without
// store importing the metrics package.
type cacheRecorder interface {
	CacheHitInc()
	CacheMissInc()
}

type nopRecorder struct{}

func (nopRecorder) CacheHitInc()  {}
func (nopRecorder) CacheMissInc() {}

// PostgresStore is the production Store implementation.
type PostgresStore struct {
	pool         *pgxpool.Pool
	fingerprintC *gocache.Cache[[]byte]
	metrics      cacheRecorder
}

// SetMetrics wires a cache-hit/miss recorder into the Store. Safe to call
// with nil, in which case recording stays a no-op.
func (s *PostgresStore) SetMetrics(m cacheRecorder) {
	if m != nil {
		s.metrics = m
	}
}

var _ Store = (*PostgresStore)(nil)

// Open connects to Postgres, applies the schema, and wires a ristretto
// read-through cache in front of fingerprint lookups.
func Open(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: connecting: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("store: applying schema: %w", err)
	}

	ristrettoCache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e6,
		MaxCost:     1 << 26, // 64MiB
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("store: building fingerprint cache: %w", err)
	}
	fpStore := ristrettostore.NewRistretto(ristrettoCache)

	return &PostgresStore{
		pool:         pool,
		fingerprintC: gocache.New[[]byte](fpStore),
		metrics:      nopRecorder{},
	}, nil
}

// Close releases the underlying pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Pool exposes the underlying pgxpool.Pool so the metrics package can
// register a pgxpoolprometheus collector against it.
func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *PostgresStore) UpsertBook(ctx context.Context, b model.Book) error {
	if err := validateBook(b); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO books (book_id, source_url, name, description, category,
			price_including_tax, price_excluding_tax, availability, rating,
			number_of_reviews, image_url, removed, updated_at, last_crawl_time)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,now(),now())
		ON CONFLICT (book_id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			category = EXCLUDED.category,
			price_including_tax = EXCLUDED.price_including_tax,
			price_excluding_tax = EXCLUDED.price_excluding_tax,
			availability = EXCLUDED.availability,
			rating = EXCLUDED.rating,
			number_of_reviews = EXCLUDED.number_of_reviews,
			image_url = EXCLUDED.image_url,
			removed = FALSE,
			updated_at = now(),
			last_crawl_time = now()
	`, b.BookID, b.SourceURL, b.Name, b.Description, b.Category,
		int64(b.PriceIncludingTax), int64(b.PriceExcludingTax), string(b.Availability),
		ratingColumn(b.Rating), b.NumberOfReviews, b.ImageURL, b.Removed)
	return classifyErr(err)
}

// UpsertBooksBatch performs an unordered batch upsert, matching
// insert_books_batch's tolerance for mid-batch duplicates: a conflict on
// one row never aborts the rest. Books that violate a Book invariant are
// skipped and reported via a joined ErrInvariant rather than aborting the
// whole batch.
func (s *PostgresStore) UpsertBooksBatch(ctx context.Context, books []model.Book) (int, error) {
	valid := make([]model.Book, 0, len(books))
	var invariantErrs []error
	for _, b := range books {
		if err := validateBook(b); err != nil {
			invariantErrs = append(invariantErrs, err)
			continue
		}
		valid = append(valid, b)
	}

	batch := &pgx.Batch{}
	for _, b := range valid {
		batch.Queue(`
			INSERT INTO books (book_id, source_url, name, description, category,
				price_including_tax, price_excluding_tax, availability, rating,
				number_of_reviews, image_url, updated_at, last_crawl_time)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,now(),now())
			ON CONFLICT (book_id) DO NOTHING
		`, b.BookID, b.SourceURL, b.Name, b.Description, b.Category,
			int64(b.PriceIncludingTax), int64(b.PriceExcludingTax), string(b.Availability),
			ratingColumn(b.Rating), b.NumberOfReviews, b.ImageURL)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	inserted := 0
	for range valid {
		tag, err := results.Exec()
		if err != nil {
			return inserted, classifyErr(err)
		}
		inserted += int(tag.RowsAffected())
	}
	if len(invariantErrs) > 0 {
		return inserted, errors.Join(invariantErrs...)
	}
	return inserted, nil
}

func (s *PostgresStore) GetBookByURL(ctx context.Context, sourceURL string) (model.Book, error) {
	return s.scanBook(ctx, "source_url = $1", sourceURL)
}

func (s *PostgresStore) GetBookByID(ctx context.Context, bookID string) (model.Book, error) {
	return s.scanBook(ctx, "book_id = $1", bookID)
}

func (s *PostgresStore) scanBook(ctx context.Context, where string, arg any) (model.Book, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT book_id, source_url, name, description, category,
			price_including_tax, price_excluding_tax, availability, rating,
			number_of_reviews, image_url, removed, created_at, updated_at, last_crawl_time
		FROM books WHERE `+where, arg)

	var b model.Book
	var priceIncl, priceExcl int64
	var rating *int
	if err := row.Scan(&b.BookID, &b.SourceURL, &b.Name, &b.Description, &b.Category,
		&priceIncl, &priceExcl, &b.Availability, &rating, &b.NumberOfReviews,
		&b.ImageURL, &b.Removed, &b.CreatedAt, &b.UpdatedAt, &b.LastCrawlTime); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Book{}, errs.ErrNotFound
		}
		return model.Book{}, classifyErr(err)
	}
	b.PriceIncludingTax = model.Money(priceIncl)
	b.PriceExcludingTax = model.Money(priceExcl)
	if rating != nil {
		b.Rating = model.NewRating(*rating)
	}
	return b, nil
}

func (s *PostgresStore) MarkRemoved(ctx context.Context, bookID string) error {
	_, err := s.pool.Exec(ctx, `UPDATE books SET removed = TRUE, updated_at = now() WHERE book_id = $1`, bookID)
	return classifyErr(err)
}

// DeleteBook hard-deletes a book and, via the fingerprints table's
// ON DELETE CASCADE, its fingerprint — mirroring delete_book's cascading
// removal in the original.
func (s *PostgresStore) DeleteBook(ctx context.Context, bookID string) error {
	s.fingerprintC.Delete(ctx, bookID) //nolint:errcheck
	_, err := s.pool.Exec(ctx, `DELETE FROM books WHERE book_id = $1`, bookID)
	return classifyErr(err)
}

func (s *PostgresStore) CountActiveBooks(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM books WHERE NOT removed`).Scan(&n)
	return n, classifyErr(err)
}

func (s *PostgresStore) AllActiveBookIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT book_id FROM books WHERE NOT removed`)
	if err != nil {
		return nil, classifyErr(err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, classifyErr(err)
		}
		ids = append(ids, id)
	}
	return ids, classifyErr(rows.Err())
}

func (s *PostgresStore) AllActiveSourceURLs(ctx context.Context) (map[string]bool, error) {
	rows, err := s.pool.Query(ctx, `SELECT source_url FROM books WHERE NOT removed`)
	if err != nil {
		return nil, classifyErr(err)
	}
	defer rows.Close()
	urls := make(map[string]bool)
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, classifyErr(err)
		}
		urls[u] = true
	}
	return urls, classifyErr(rows.Err())
}

// Stats mirrors get_database_stats: total book count, distinct category
// count, and Postgres's own notion of relation size.
func (s *PostgresStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM books`).Scan(&st.TotalBooks); err != nil {
		return st, err
	}
	if err := s.pool.QueryRow(ctx, `SELECT count(DISTINCT category) FROM books WHERE category != ''`).Scan(&st.Categories); err != nil {
		return st, err
	}
	if err := s.pool.QueryRow(ctx, `SELECT pg_total_relation_size('books')`).Scan(&st.DatabaseBytes); err != nil {
		return st, err
	}
	return st, nil
}

// fingerprintBaseTTL is fuzzed +/-10% (see fuzzedTTL) to avoid synchronized expiry across
// a whole reconcile batch, the same TTL-jitter idiom the teacher applies
// to author/work cache entries.
const fingerprintBaseTTL = 10 * time.Minute

func fuzzedTTL() time.Duration {
	jitter := time.Duration(rand.Int64N(int64(fingerprintBaseTTL / 5)))
	return fingerprintBaseTTL - fingerprintBaseTTL/10 + jitter
}

func (s *PostgresStore) GetFingerprint(ctx context.Context, bookID string) (model.Fingerprint, error) {
	if cached, err := s.fingerprintC.Get(ctx, bookID); err == nil {
		s.metrics.CacheHitInc()
		return decodeFingerprint(cached)
	}
	s.metrics.CacheMissInc()

	row := s.pool.QueryRow(ctx, `
		SELECT book_id, source_url, content_hash, price_hash, availability_hash,
			metadata_hash, created_at, updated_at
		FROM fingerprints WHERE book_id = $1`, bookID)

	var f model.Fingerprint
	if err := row.Scan(&f.BookID, &f.SourceURL, &f.ContentHash, &f.PriceHash,
		&f.AvailabilityHash, &f.MetadataHash, &f.CreatedAt, &f.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Fingerprint{}, errs.ErrNotFound
		}
		return model.Fingerprint{}, classifyErr(err)
	}

	if enc, err := encodeFingerprint(f); err == nil {
		_ = s.fingerprintC.Set(ctx, bookID, enc, gocache.WithExpiration(fuzzedTTL()))
	}
	return f, nil
}

func (s *PostgresStore) UpsertFingerprint(ctx context.Context, f model.Fingerprint) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO fingerprints (book_id, source_url, content_hash, price_hash,
			availability_hash, metadata_hash, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,now())
		ON CONFLICT (book_id) DO UPDATE SET
			source_url = EXCLUDED.source_url,
			content_hash = EXCLUDED.content_hash,
			price_hash = EXCLUDED.price_hash,
			availability_hash = EXCLUDED.availability_hash,
			metadata_hash = EXCLUDED.metadata_hash,
			updated_at = now()
	`, f.BookID, f.SourceURL, f.ContentHash, f.PriceHash, f.AvailabilityHash, f.MetadataHash)
	if err != nil {
		return classifyErr(err)
	}
	s.fingerprintC.Delete(ctx, f.BookID) //nolint:errcheck
	return nil
}

func (s *PostgresStore) DeleteFingerprint(ctx context.Context, bookID string) error {
	s.fingerprintC.Delete(ctx, bookID) //nolint:errcheck
	_, err := s.pool.Exec(ctx, `DELETE FROM fingerprints WHERE book_id = $1`, bookID)
	return classifyErr(err)
}

// OrphanFingerprintBookIDs returns fingerprints whose book row no longer
// exists at all — a hard delete, not a soft removal (see the Open
// Question resolution in DESIGN.md).
func (s *PostgresStore) OrphanFingerprintBookIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT f.book_id FROM fingerprints f
		LEFT JOIN books b ON b.book_id = f.book_id
		WHERE b.book_id IS NULL
	`)
	if err != nil {
		return nil, classifyErr(err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func ratingColumn(r model.Rating) any {
	if !r.Valid {
		return nil
	}
	return r.Value
}
