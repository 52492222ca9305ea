package model

import "time"

// DetectionRun summarizes one Reconciler invocation.
type DetectionRun struct {
	DetectionID          string
	StartTime            time.Time
	EndTime               time.Time
	TotalBooksChecked    int
	ChangesDetected      int
	NewBooks             int
	UpdatedBooks         int
	RemovedBooks         int
	RestoredBooks        int
	ChangesByType        map[ChangeType]int
	ChangesBySeverity    map[Severity]int
	DurationSeconds      float64
	AvgBookProcessTime   float64
	Success              bool
	Errors               []string
}

func NewDetectionRun(id string, start time.Time) *DetectionRun {
	return &DetectionRun{
		DetectionID:       id,
		StartTime:         start,
		ChangesByType:     map[ChangeType]int{},
		ChangesBySeverity: map[Severity]int{},
		Success:           true,
	}
}

// RecordChange folds one ChangeRecord's type/severity into the run's
// breakdown counters and bumps ChangesDetected.
func (r *DetectionRun) RecordChange(c ChangeRecord) {
	r.ChangesDetected++
	r.ChangesByType[c.ChangeType]++
	r.ChangesBySeverity[c.Severity]++
}

// AppendError records an error encountered during the run. Finish derives
// Success from whether any were recorded, so every error that should affect
// the run's outcome — phase-level or per-book — belongs here.
func (r *DetectionRun) AppendError(msg string) {
	r.Errors = append(r.Errors, msg)
}

// Finish closes out the run: duration, average per-book time, and Success,
// which is true iff no errors were recorded.
func (r *DetectionRun) Finish(end time.Time) {
	r.EndTime = end
	r.DurationSeconds = end.Sub(r.StartTime).Seconds()
	if r.TotalBooksChecked > 0 {
		r.AvgBookProcessTime = r.DurationSeconds / float64(r.TotalBooksChecked)
	}
	r.Success = len(r.Errors) == 0
}
