// Package reporter aggregates a day's DetectionRuns and ChangeRecords into
// a DailyReport, grounded on
// original_source/scheduler/report_generator.py's ReportGenerator
// (_aggregate_report_data, _calculate_health_score, _export_json_report/
// _export_csv_report, get_report_history, cleanup_old_reports).
package reporter

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	"github.com/nowail/bookwatch/internal/model"
	"github.com/nowail/bookwatch/internal/store"
)

// Config controls report persistence and export.
type Config struct {
	ReportsDir    string
	Format        string // "json" or "csv"
	RetentionDays int
}

// Reporter builds and exports DailyReports.
type Reporter struct {
	store store.Store
	cfg   Config
}

// New builds a Reporter.
func New(s store.Store, cfg Config) *Reporter {
	return &Reporter{store: s, cfg: cfg}
}

// Generate aggregates date's DetectionRuns/ChangeRecords into a
// DailyReport, persists it to the Store, and exports it to the reports
// directory in the configured format.
func (r *Reporter) Generate(ctx context.Context, date time.Time) (*model.DailyReport, error) {
	runs, err := r.store.DetectionRunsForDate(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("reporter: loading detection runs: %w", err)
	}
	changes, err := r.store.ChangeRecordsForDate(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("reporter: loading change records: %w", err)
	}
	stats, err := r.store.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("reporter: loading system stats: %w", err)
	}

	report := aggregate(date, runs, changes, stats.TotalBooks)
	report.ReportID = uuid.NewString()
	report.GeneratedAt = time.Now()

	if err := r.store.InsertDailyReport(ctx, report); err != nil {
		return nil, fmt.Errorf("reporter: persisting report: %w", err)
	}
	if err := r.export(report); err != nil {
		return report, fmt.Errorf("reporter: exporting report: %w", err)
	}
	return report, nil
}

// aggregate implements _aggregate_report_data + _calculate_health_score.
func aggregate(date time.Time, runs []*model.DetectionRun, changes []model.ChangeRecord, totalBooksInSystem int) *model.DailyReport {
	report := &model.DailyReport{
		ReportDate:        date,
		ChangesByType:     map[model.ChangeType]int{},
		ChangesBySeverity: map[model.Severity]int{},
	}

	for _, run := range runs {
		report.BooksChecked += run.TotalBooksChecked
		report.ChangesDetected += run.ChangesDetected
		report.NewBooksAdded += run.NewBooks
		report.BooksUpdated += run.UpdatedBooks
		report.BooksRemoved += run.RemovedBooks
		report.TotalProcessingTime += run.DurationSeconds
		report.ErrorsEncountered = append(report.ErrorsEncountered, run.Errors...)
		for t, n := range run.ChangesByType {
			report.ChangesByType[t] += n
		}
		for sev, n := range run.ChangesBySeverity {
			report.ChangesBySeverity[sev] += n
		}
	}
	if report.BooksChecked > 0 {
		report.AvgBookProcessTime = report.TotalProcessingTime / float64(report.BooksChecked)
	}

	for _, c := range changes {
		if c.Severity == model.SeverityHigh || c.Severity == model.SeverityMedium {
			report.SignificantChanges = append(report.SignificantChanges, c)
		}
		if c.ChangeType == model.ChangeNewBook {
			report.NewBooks = append(report.NewBooks, model.NewBookSummary{
				BookID:     c.BookID,
				Name:       summaryName(c),
				DetectedAt: c.DetectedAt,
			})
		}
	}
	sort.Slice(report.SignificantChanges, func(i, j int) bool {
		return report.SignificantChanges[i].DetectedAt.Before(report.SignificantChanges[j].DetectedAt)
	})

	report.TotalBooksInSystem = totalBooksInSystem
	errorsCount := len(report.ErrorsEncountered)
	report.SystemHealthScore = model.HealthScore(report.BooksChecked, report.ChangesDetected, errorsCount)

	return report
}

// summaryName recovers a display name for a new_book ChangeRecord. The
// record's ChangeSummary is formatted as "new book discovered: <name>" by
// the Reconciler; fall back to the bare book_id if that shape isn't found.
func summaryName(c model.ChangeRecord) string {
	const prefix = "new book discovered: "
	if len(c.ChangeSummary) > len(prefix) && c.ChangeSummary[:len(prefix)] == prefix {
		return c.ChangeSummary[len(prefix):]
	}
	return c.BookID
}

// History returns the daily reports generated in the last `days` days.
func (r *Reporter) History(ctx context.Context, days int) ([]*model.DailyReport, error) {
	return r.store.ReportHistory(ctx, days)
}

// CleanupOldReports deletes Store reports older than the configured
// retention window.
func (r *Reporter) CleanupOldReports(ctx context.Context) (int, error) {
	cutoff := time.Now().AddDate(0, 0, -r.cfg.RetentionDays)
	return r.store.DeleteReportsOlderThan(ctx, cutoff)
}

// export writes the report to the reports directory, in the configured
// format: daily_report_YYYYMMDD.json.gz (gzip via klauspost/compress) or
// daily_report_YYYYMMDD.csv, mirroring _export_json_report/
// _export_csv_report's naming.
func (r *Reporter) export(report *model.DailyReport) error {
	if err := os.MkdirAll(r.cfg.ReportsDir, 0o755); err != nil {
		return err
	}
	stamp := report.ReportDate.Format("20060102")

	if r.cfg.Format == "csv" {
		return r.exportCSV(report, stamp)
	}
	return r.exportJSON(report, stamp)
}

func (r *Reporter) exportJSON(report *model.DailyReport, stamp string) error {
	path := filepath.Join(r.cfg.ReportsDir, fmt.Sprintf("daily_report_%s.json.gz", stamp))
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	gw := gzip.NewWriter(f)
	defer gw.Close()

	enc := json.NewEncoder(gw)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func (r *Reporter) exportCSV(report *model.DailyReport, stamp string) error {
	path := filepath.Join(r.cfg.ReportsDir, fmt.Sprintf("daily_report_%s.csv", stamp))
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	// Section 1: headline stats, mirroring _export_csv_report's main block.
	if err := w.Write([]string{"metric", "value"}); err != nil {
		return err
	}
	rows := [][]string{
		{"report_date", report.ReportDate.Format("2006-01-02")},
		{"total_books_in_system", itoa(report.TotalBooksInSystem)},
		{"books_checked", itoa(report.BooksChecked)},
		{"changes_detected", itoa(report.ChangesDetected)},
		{"new_books_added", itoa(report.NewBooksAdded)},
		{"books_updated", itoa(report.BooksUpdated)},
		{"books_removed", itoa(report.BooksRemoved)},
		{"system_health_score", ftoa(report.SystemHealthScore)},
	}
	if err := w.WriteAll(rows); err != nil {
		return err
	}

	// Section 2: changes by type.
	if err := w.Write([]string{}); err != nil {
		return err
	}
	if err := w.Write([]string{"change_type", "count"}); err != nil {
		return err
	}
	for t, n := range report.ChangesByType {
		if err := w.Write([]string{string(t), itoa(n)}); err != nil {
			return err
		}
	}

	// Section 3: changes by severity.
	if err := w.Write([]string{}); err != nil {
		return err
	}
	if err := w.Write([]string{"severity", "count"}); err != nil {
		return err
	}
	for sev, n := range report.ChangesBySeverity {
		if err := w.Write([]string{string(sev), itoa(n)}); err != nil {
			return err
		}
	}

	// Section 4: significant changes.
	if err := w.Write([]string{}); err != nil {
		return err
	}
	if err := w.Write([]string{"book_id", "change_type", "severity", "field_name", "detected_at"}); err != nil {
		return err
	}
	for _, c := range report.SignificantChanges {
		if err := w.Write([]string{c.BookID, string(c.ChangeType), string(c.Severity), c.FieldName, c.DetectedAt.Format(time.RFC3339)}); err != nil {
			return err
		}
	}

	return nil
}

func itoa(n int) string     { return fmt.Sprintf("%d", n) }
func ftoa(f float64) string { return fmt.Sprintf("%.2f", f) }
