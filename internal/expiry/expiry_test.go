package expiry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ukydev/fleetops/internal/fleeterr"
)

var today = time.Date(2024, 2, 20, 16, 45, 0, 0, time.UTC)

func day(offset int) string {
	return today.AddDate(0, 0, offset).Format(DateLayout)
}

func TestEvaluate_Scenarios(t *testing.T) {
	a, err := Evaluate(day(15), today)
	require.NoError(t, err)
	assert.Equal(t, LevelARenouveler, a.Level)
	assert.Equal(t, 15, a.JoursRestants)

	a, err = Evaluate(day(-3), today)
	require.NoError(t, err)
	assert.Equal(t, LevelExpire, a.Level)
	assert.Equal(t, -3, a.JoursRestants)
}

func TestEvaluate_Boundaries(t *testing.T) {
	tests := []struct {
		name   string
		offset int
		level  Level
	}{
		{"yesterday", -1, LevelExpire},
		{"today", 0, LevelARenouveler},
		{"tomorrow", 1, LevelARenouveler},
		{"last day of window", RenewalWindowDays, LevelARenouveler},
		{"first day after window", RenewalWindowDays + 1, LevelValide},
		{"far future", 400, LevelValide},
		{"long expired", -400, LevelExpire},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := Evaluate(day(tt.offset), today)
			require.NoError(t, err)
			assert.Equal(t, tt.level, a.Level)
			assert.Equal(t, tt.offset, a.JoursRestants)
		})
	}
}

func TestEvaluate_NoExpiration(t *testing.T) {
	a, err := Evaluate("", today)
	require.NoError(t, err)
	assert.Equal(t, Alert{Level: LevelValide}, a)
	assert.Equal(t, Alert{Level: LevelValide}, EvaluateDate(nil, today))
}

func TestEvaluate_InvalidDate(t *testing.T) {
	for _, raw := range []string{"2024-02-30", "20/02/2024", "tomorrow", "2024-2-1"} {
		_, err := Evaluate(raw, today)
		var ide *fleeterr.InvalidDateError
		assert.ErrorAs(t, err, &ide, raw)
		assert.Equal(t, raw, ide.Value)
	}
}

func TestEvaluate_TimeOfDayIgnored(t *testing.T) {
	late := time.Date(2024, 2, 20, 23, 59, 59, 0, time.UTC)
	early := time.Date(2024, 2, 20, 0, 0, 1, 0, time.UTC)
	a1, _ := Evaluate("2024-02-21", late)
	a2, _ := Evaluate("2024-02-21", early)
	assert.Equal(t, a1, a2)
	assert.Equal(t, 1, a1.JoursRestants)
}

func TestEvaluate_LocalCalendarDay(t *testing.T) {
	// 23:30 UTC on the 19th is already the 20th in UTC+1.
	loc := time.FixedZone("WAT", 3600)
	now := time.Date(2024, 2, 19, 23, 30, 0, 0, time.UTC).In(loc)
	a, err := Evaluate("2024-02-20", now)
	require.NoError(t, err)
	assert.Equal(t, 0, a.JoursRestants)
}

func TestEvaluate_Deterministic(t *testing.T) {
	for i := 0; i < 3; i++ {
		a, _ := Evaluate(day(10), today)
		assert.Equal(t, Alert{Level: LevelARenouveler, JoursRestants: 10}, a)
	}
}

func TestDaysBetween_DST(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Paris")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	a := time.Date(2024, 3, 30, 12, 0, 0, 0, loc)
	b := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 2, DaysBetween(a, b))
}
