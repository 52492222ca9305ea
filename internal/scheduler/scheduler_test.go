package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDailyAtPicksTodayWhenNotYetPassed(t *testing.T) {
	now := time.Date(2026, 7, 29, 10, 0, 0, 0, time.UTC)
	next := dailyAt(14, 30)(now)
	assert.Equal(t, time.Date(2026, 7, 29, 14, 30, 0, 0, time.UTC), next)
}

func TestDailyAtRollsToTomorrowWhenPassed(t *testing.T) {
	now := time.Date(2026, 7, 29, 15, 0, 0, 0, time.UTC)
	next := dailyAt(14, 30)(now)
	assert.Equal(t, time.Date(2026, 7, 30, 14, 30, 0, 0, time.UTC), next)
}

func TestDailyAtExactMomentRollsOver(t *testing.T) {
	now := time.Date(2026, 7, 29, 14, 30, 0, 0, time.UTC)
	next := dailyAt(14, 30)(now)
	assert.Equal(t, time.Date(2026, 7, 30, 14, 30, 0, 0, time.UTC), next)
}

func TestAddMinutesRollsOverHour(t *testing.T) {
	h, m := addMinutes(14, 58, 5)
	assert.Equal(t, 15, h)
	assert.Equal(t, 3, m)
}

func TestAddMinutesRollsOverMidnight(t *testing.T) {
	h, m := addMinutes(23, 57, 5)
	assert.Equal(t, 0, h)
	assert.Equal(t, 2, m)
}
