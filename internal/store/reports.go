package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/nowail/bookwatch/internal/model"
)

func (s *PostgresStore) InsertChangeRecords(ctx context.Context, records []model.ChangeRecord) error {
	if len(records) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(`
			INSERT INTO change_records (change_id, book_id, source_url, change_type,
				severity, field_name, old_value, new_value, change_summary,
				detected_at, confidence_score, processed, processed_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
			ON CONFLICT (change_id) DO NOTHING
		`, r.ChangeID, r.BookID, r.SourceURL, string(r.ChangeType), string(r.Severity),
			r.FieldName, r.OldValue, r.NewValue, r.ChangeSummary, r.DetectedAt,
			r.ConfidenceScore, r.Processed, r.ProcessedAt)
	}
	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range records {
		if _, err := results.Exec(); err != nil {
			return classifyErr(err)
		}
	}
	return nil
}

func (s *PostgresStore) ChangeRecordsForDate(ctx context.Context, day time.Time) ([]model.ChangeRecord, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.Add(24 * time.Hour)

	rows, err := s.pool.Query(ctx, `
		SELECT change_id, book_id, source_url, change_type, severity, field_name,
			old_value, new_value, change_summary, detected_at, confidence_score,
			processed, processed_at
		FROM change_records WHERE detected_at >= $1 AND detected_at < $2
		ORDER BY detected_at
	`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ChangeRecord
	for rows.Next() {
		var r model.ChangeRecord
		var changeType, severity string
		if err := rows.Scan(&r.ChangeID, &r.BookID, &r.SourceURL, &changeType, &severity,
			&r.FieldName, &r.OldValue, &r.NewValue, &r.ChangeSummary, &r.DetectedAt,
			&r.ConfidenceScore, &r.Processed, &r.ProcessedAt); err != nil {
			return nil, err
		}
		r.ChangeType = model.ChangeType(changeType)
		r.Severity = model.Severity(severity)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) InsertDetectionRun(ctx context.Context, run *model.DetectionRun) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO detection_runs (detection_id, run_timestamp, end_time,
			total_books_checked, changes_detected, new_books, updated_books,
			removed_books, restored_books, duration_seconds, avg_book_process_time,
			success, errors)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (detection_id) DO UPDATE SET
			end_time = EXCLUDED.end_time,
			total_books_checked = EXCLUDED.total_books_checked,
			changes_detected = EXCLUDED.changes_detected,
			new_books = EXCLUDED.new_books,
			updated_books = EXCLUDED.updated_books,
			removed_books = EXCLUDED.removed_books,
			restored_books = EXCLUDED.restored_books,
			duration_seconds = EXCLUDED.duration_seconds,
			avg_book_process_time = EXCLUDED.avg_book_process_time,
			success = EXCLUDED.success,
			errors = EXCLUDED.errors
	`, run.DetectionID, run.StartTime, run.EndTime, run.TotalBooksChecked,
		run.ChangesDetected, run.NewBooks, run.UpdatedBooks, run.RemovedBooks,
		run.RestoredBooks, run.DurationSeconds, run.AvgBookProcessTime, run.Success,
		run.Errors)
	return err
}

func (s *PostgresStore) DetectionRunsForDate(ctx context.Context, day time.Time) ([]*model.DetectionRun, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.Add(24 * time.Hour)

	rows, err := s.pool.Query(ctx, `
		SELECT detection_id, run_timestamp, end_time, total_books_checked,
			changes_detected, new_books, updated_books, removed_books,
			restored_books, duration_seconds, avg_book_process_time, success, errors
		FROM detection_runs WHERE run_timestamp >= $1 AND run_timestamp < $2
		ORDER BY run_timestamp
	`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.DetectionRun
	for rows.Next() {
		r := &model.DetectionRun{}
		var endTime *time.Time
		if err := rows.Scan(&r.DetectionID, &r.StartTime, &endTime, &r.TotalBooksChecked,
			&r.ChangesDetected, &r.NewBooks, &r.UpdatedBooks, &r.RemovedBooks,
			&r.RestoredBooks, &r.DurationSeconds, &r.AvgBookProcessTime, &r.Success,
			&r.Errors); err != nil {
			return nil, err
		}
		if endTime != nil {
			r.EndTime = *endTime
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) InsertDailyReport(ctx context.Context, report *model.DailyReport) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO daily_reports (report_id, report_date, generated_at, payload)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (report_id) DO UPDATE SET
			generated_at = EXCLUDED.generated_at,
			payload = EXCLUDED.payload
	`, report.ReportID, report.ReportDate, report.GeneratedAt, payload)
	return err
}

func (s *PostgresStore) ReportHistory(ctx context.Context, days int) ([]*model.DailyReport, error) {
	cutoff := time.Now().AddDate(0, 0, -days)
	rows, err := s.pool.Query(ctx, `
		SELECT payload FROM daily_reports WHERE report_date >= $1 ORDER BY report_date DESC
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.DailyReport
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		report := &model.DailyReport{}
		if err := json.Unmarshal(payload, report); err != nil {
			return nil, err
		}
		out = append(out, report)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteReportsOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM daily_reports WHERE report_date < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
