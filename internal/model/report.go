package model

import "time"

// DailyReport aggregates a calendar day's DetectionRuns and ChangeRecords,
// per §4.8.
type DailyReport struct {
	ReportID             string
	ReportDate           time.Time
	GeneratedAt          time.Time
	TotalBooksInSystem   int
	BooksChecked         int
	ChangesDetected      int
	NewBooksAdded        int
	BooksUpdated         int
	BooksRemoved         int
	ChangesByType        map[ChangeType]int
	ChangesBySeverity    map[Severity]int
	TotalProcessingTime  float64
	AvgBookProcessTime   float64
	SignificantChanges   []ChangeRecord
	NewBooks             []NewBookSummary
	ErrorsEncountered    []string
	SystemHealthScore    float64
}

// NewBookSummary is the lightweight shape used in DailyReport.NewBooks,
// mirroring the original's {book_id, name, detected_at} projection.
type NewBookSummary struct {
	BookID     string
	Name       string
	DetectedAt time.Time
}

// HealthScore computes the §4.8 formula:
//
//	success_rate = 1 − errors/max(books_checked,1)
//	change_bonus = min(changes/max(books_checked,1), 0.1)
//	health_score = min(success_rate+change_bonus, 1.0), rounded to 2 decimals
//
// When booksChecked is 0 it returns 0 without applying the formula.
func HealthScore(booksChecked, changesDetected, errorsCount int) float64 {
	if booksChecked == 0 {
		return 0
	}
	denom := float64(booksChecked)
	successRate := 1 - float64(errorsCount)/denom
	changeBonus := float64(changesDetected) / denom
	if changeBonus > 0.1 {
		changeBonus = 0.1
	}
	score := successRate + changeBonus
	if score > 1.0 {
		score = 1.0
	}
	if score < 0 {
		score = 0
	}
	return roundTo2(score)
}

func roundTo2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}
