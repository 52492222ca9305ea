package reporter

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/nowail/bookwatch/internal/model"
)

func run(new, updated, removed, checked, changes int, errs []string) *model.DetectionRun {
	return &model.DetectionRun{
		TotalBooksChecked: checked,
		ChangesDetected:   changes,
		NewBooks:          new,
		UpdatedBooks:      updated,
		RemovedBooks:      removed,
		DurationSeconds:   float64(checked) * 0.5,
		ChangesByType:     map[model.ChangeType]int{model.ChangeNewBook: new},
		ChangesBySeverity: map[model.Severity]int{model.SeverityHigh: 1},
		Errors:            errs,
	}
}

func TestAggregateSumsAcrossRuns(t *testing.T) {
	date := time.Date(2026, 7, 29, 0, 0, 0, 0, time.UTC)
	runs := []*model.DetectionRun{
		run(2, 3, 1, 100, 6, nil),
		run(1, 0, 0, 50, 1, []string{"timeout"}),
	}

	report := aggregate(date, runs, nil, 500)

	assert.Equal(t, 150, report.BooksChecked)
	assert.Equal(t, 7, report.ChangesDetected)
	assert.Equal(t, 3, report.NewBooksAdded)
	assert.Equal(t, 3, report.BooksUpdated)
	assert.Equal(t, 1, report.BooksRemoved)
	assert.Equal(t, 500, report.TotalBooksInSystem)
	assert.Equal(t, []string{"timeout"}, report.ErrorsEncountered)
	assert.Equal(t, 3, report.ChangesByType[model.ChangeNewBook])
	assert.Equal(t, 2, report.ChangesBySeverity[model.SeverityHigh])
}

func TestAggregateComputesAvgBookProcessTime(t *testing.T) {
	date := time.Now()
	runs := []*model.DetectionRun{run(0, 0, 0, 100, 0, nil)}

	report := aggregate(date, runs, nil, 0)

	assert.Equal(t, 50.0, report.TotalProcessingTime)
	assert.InDelta(t, 0.5, report.AvgBookProcessTime, 1e-9)
}

func TestAggregateHealthScoreMatchesModelFormula(t *testing.T) {
	date := time.Now()
	runs := []*model.DetectionRun{run(0, 0, 0, 100, 20, []string{"a", "b"})}

	report := aggregate(date, runs, nil, 0)

	want := model.HealthScore(100, 20, 2)
	assert.Equal(t, want, report.SystemHealthScore)
}

func TestAggregateFiltersSignificantChangesAndSortsByDetectedAt(t *testing.T) {
	date := time.Now()
	later := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	earlier := later.Add(-time.Hour)

	changes := []model.ChangeRecord{
		{BookID: "b1", Severity: model.SeverityLow, DetectedAt: earlier},
		{BookID: "b2", Severity: model.SeverityHigh, DetectedAt: later},
		{BookID: "b3", Severity: model.SeverityMedium, DetectedAt: earlier},
	}

	report := aggregate(date, nil, changes, 0)

	if assert.Len(t, report.SignificantChanges, 2) {
		assert.Equal(t, "b3", report.SignificantChanges[0].BookID)
		assert.Equal(t, "b2", report.SignificantChanges[1].BookID)
	}
}

func TestAggregateCollectsNewBookSummaries(t *testing.T) {
	date := time.Now()
	detected := time.Date(2026, 7, 29, 9, 0, 0, 0, time.UTC)
	changes := []model.ChangeRecord{
		{
			BookID:        "b1",
			ChangeType:    model.ChangeNewBook,
			ChangeSummary: "new book discovered: The Great Gatsby",
			DetectedAt:    detected,
		},
		{
			BookID:        "b2",
			ChangeType:    model.ChangeNewBook,
			ChangeSummary: "unexpected format",
			DetectedAt:    detected,
		},
	}

	report := aggregate(date, nil, changes, 0)

	if assert.Len(t, report.NewBooks, 2) {
		assert.Equal(t, "The Great Gatsby", report.NewBooks[0].Name)
		assert.Equal(t, "b2", report.NewBooks[1].Name)
	}
}

func TestSummaryNameFallsBackToBookID(t *testing.T) {
	c := model.ChangeRecord{BookID: "abc123", ChangeSummary: "short"}
	assert.Equal(t, "abc123", summaryName(c))
}

func TestExportJSONThenCSVWriteDistinctFiles(t *testing.T) {
	dir := t.TempDir()
	report := &model.DailyReport{
		ReportDate:         time.Date(2026, 7, 29, 0, 0, 0, 0, time.UTC),
		TotalBooksInSystem: 10,
		BooksChecked:       10,
		ChangesByType:      map[model.ChangeType]int{},
		ChangesBySeverity:  map[model.Severity]int{},
	}

	jsonR := &Reporter{cfg: Config{ReportsDir: dir, Format: "json"}}
	assert.NoError(t, jsonR.export(report))

	csvR := &Reporter{cfg: Config{ReportsDir: dir, Format: "csv"}}
	assert.NoError(t, csvR.export(report))

	assert.FileExists(t, filepath.Join(dir, "daily_report_20260729.json.gz"))
	assert.FileExists(t, filepath.Join(dir, "daily_report_20260729.csv"))
}
