package store

// schema is applied idempotently on startup. Table layout generalizes the
// original MongoDB collections (books, fingerprints, change_logs,
// detection_results, daily_reports) into a Postgres-shaped schema, grounded
// on original_source/crawler/database.py's _create_indexes (unique
// source_url; non-unique category/availability/price_including_tax/rating)
// and original_source/scheduler/scheduler_service.py's
// _create_scheduler_indexes (unique book_id/change_id/detection_id/
// report_id; non-unique source_url/updated_at/detected_at/change_type/
// severity/run_timestamp/report_date).
const schema = `
CREATE TABLE IF NOT EXISTS books (
	book_id             TEXT PRIMARY KEY,
	source_url          TEXT NOT NULL UNIQUE,
	name                TEXT NOT NULL,
	description         TEXT NOT NULL DEFAULT '',
	category            TEXT NOT NULL DEFAULT '',
	price_including_tax BIGINT NOT NULL DEFAULT 0,
	price_excluding_tax BIGINT NOT NULL DEFAULT 0,
	availability        TEXT NOT NULL DEFAULT 'out_of_stock',
	rating              INT,
	number_of_reviews   INT NOT NULL DEFAULT 0,
	image_url           TEXT NOT NULL DEFAULT '',
	removed             BOOLEAN NOT NULL DEFAULT FALSE,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_crawl_time     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS books_category_idx ON books (category);
CREATE INDEX IF NOT EXISTS books_availability_idx ON books (availability);
CREATE INDEX IF NOT EXISTS books_price_idx ON books (price_including_tax, category);
CREATE INDEX IF NOT EXISTS books_updated_at_idx ON books (updated_at);
CREATE INDEX IF NOT EXISTS books_rating_idx ON books (rating);
CREATE INDEX IF NOT EXISTS books_last_crawl_time_idx ON books (last_crawl_time);

CREATE TABLE IF NOT EXISTS fingerprints (
	book_id           TEXT PRIMARY KEY REFERENCES books (book_id) ON DELETE CASCADE,
	source_url        TEXT NOT NULL,
	content_hash      TEXT NOT NULL,
	price_hash        TEXT NOT NULL,
	availability_hash TEXT NOT NULL,
	metadata_hash     TEXT NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS change_records (
	change_id        TEXT PRIMARY KEY,
	book_id          TEXT NOT NULL,
	source_url       TEXT NOT NULL,
	change_type      TEXT NOT NULL,
	severity         TEXT NOT NULL,
	field_name       TEXT NOT NULL DEFAULT '',
	old_value        TEXT,
	new_value        TEXT,
	change_summary   TEXT NOT NULL DEFAULT '',
	detected_at      TIMESTAMPTZ NOT NULL,
	confidence_score DOUBLE PRECISION NOT NULL DEFAULT 1.0,
	processed        BOOLEAN NOT NULL DEFAULT FALSE,
	processed_at     TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS change_records_detected_at_idx ON change_records (detected_at);
CREATE INDEX IF NOT EXISTS change_records_change_type_idx ON change_records (change_type);
CREATE INDEX IF NOT EXISTS change_records_severity_idx ON change_records (severity);
CREATE INDEX IF NOT EXISTS change_records_book_id_idx ON change_records (book_id);

CREATE TABLE IF NOT EXISTS detection_runs (
	detection_id           TEXT PRIMARY KEY,
	run_timestamp          TIMESTAMPTZ NOT NULL,
	end_time               TIMESTAMPTZ,
	total_books_checked    INT NOT NULL DEFAULT 0,
	changes_detected       INT NOT NULL DEFAULT 0,
	new_books              INT NOT NULL DEFAULT 0,
	updated_books          INT NOT NULL DEFAULT 0,
	removed_books          INT NOT NULL DEFAULT 0,
	restored_books         INT NOT NULL DEFAULT 0,
	duration_seconds       DOUBLE PRECISION NOT NULL DEFAULT 0,
	avg_book_process_time  DOUBLE PRECISION NOT NULL DEFAULT 0,
	success                BOOLEAN NOT NULL DEFAULT TRUE,
	errors                 TEXT[] NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS detection_runs_run_timestamp_idx ON detection_runs (run_timestamp);

CREATE TABLE IF NOT EXISTS daily_reports (
	report_id    TEXT PRIMARY KEY,
	report_date  DATE NOT NULL,
	generated_at TIMESTAMPTZ NOT NULL,
	payload      JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS daily_reports_report_date_idx ON daily_reports (report_date);
`
