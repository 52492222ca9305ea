package alerting

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/nowail/bookwatch/internal/model"
)

func change(sev model.Severity) model.ChangeRecord {
	return model.ChangeRecord{
		BookID:        "b1",
		ChangeType:    model.ChangePrice,
		Severity:      sev,
		ChangeSummary: "price changed",
	}
}

func TestProcessChangesDisabledIsNoop(t *testing.T) {
	m := New(Config{Enabled: false})
	m.ProcessChanges(context.Background(), []model.ChangeRecord{change(model.SeverityHigh)})
	assert.Empty(t, m.sentTimes)
}

func TestProcessChangesFiltersBelowMinSeverity(t *testing.T) {
	m := New(Config{Enabled: true, MinSeverityForLog: model.SeverityHigh, MaxAlertsPerHour: 10, CooldownMinutes: 0})
	m.ProcessChanges(context.Background(), []model.ChangeRecord{change(model.SeverityLow)})
	assert.Empty(t, m.sentTimes, "a low-severity-only batch below the configured floor should not count as a send")
}

func TestProcessChangesSendsWhenAboveMinSeverity(t *testing.T) {
	m := New(Config{Enabled: true, MinSeverityForLog: model.SeverityMedium, MaxAlertsPerHour: 10, CooldownMinutes: 0})
	m.ProcessChanges(context.Background(), []model.ChangeRecord{change(model.SeverityHigh)})
	assert.Len(t, m.sentTimes, 1)
}

func TestAllowedEnforcesCooldown(t *testing.T) {
	m := New(Config{MaxAlertsPerHour: 10, CooldownMinutes: 5})
	now := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	assert.True(t, m.allowed(now))
	assert.False(t, m.allowed(now.Add(time.Minute)), "a second alert inside the cooldown window must be suppressed")
	assert.True(t, m.allowed(now.Add(6*time.Minute)))
}

func TestAllowedEnforcesRollingHourRateLimit(t *testing.T) {
	m := New(Config{MaxAlertsPerHour: 2, CooldownMinutes: 0})
	now := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	assert.True(t, m.allowed(now))
	assert.True(t, m.allowed(now.Add(time.Second)))
	assert.False(t, m.allowed(now.Add(2*time.Second)), "a third alert within the same rolling hour exceeds the limit")
}

func TestAllowedPrunesEntriesOlderThanAnHour(t *testing.T) {
	m := New(Config{MaxAlertsPerHour: 1, CooldownMinutes: 0})
	now := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	assert.True(t, m.allowed(now))
	assert.True(t, m.allowed(now.Add(2*time.Hour)), "an hour-old entry should be pruned, freeing up the rate limit slot")
}

func TestSendDailySummaryDoesNotPanic(t *testing.T) {
	m := New(Config{Enabled: true})
	report := &model.DailyReport{
		ReportDate:   time.Now(),
		BooksChecked: 10,
	}
	assert.NotPanics(t, func() { m.SendDailySummary(context.Background(), report) })
}
