// Package expiry classifies compliance documents by how close they are to expiring.
package expiry

import (
	"time"

	"github.com/ukydev/fleetops/internal/fleeterr"
)

// Level is the alert level of a document.
type Level string

const (
	LevelExpire      Level = "expire"
	LevelARenouveler Level = "a_renouveler"
	LevelValide      Level = "valide"
)

// RenewalWindowDays is how many days ahead of expiry a document must be renewed.
const RenewalWindowDays = 30

// DateLayout is the calendar date format of expiration dates.
const DateLayout = "2006-01-02"

// Alert is the classification of one expiration date.
type Alert struct {
	Level         Level `json:"level"`
	JoursRestants int   `json:"jours_restants"`
}

// Evaluate classifies expiration (YYYY-MM-DD, empty for a permanent document)
// against the calendar day of today. today is read in its own location.
func Evaluate(expiration string, today time.Time) (Alert, error) {
	if expiration == "" {
		return Alert{Level: LevelValide}, nil
	}
	d, err := time.Parse(DateLayout, expiration)
	if err != nil {
		return Alert{}, &fleeterr.InvalidDateError{Value: expiration, Err: err}
	}
	return EvaluateDate(&d, today), nil
}

// EvaluateDate is Evaluate for an already parsed date; nil means no expiration.
func EvaluateDate(expiration *time.Time, today time.Time) Alert {
	if expiration == nil {
		return Alert{Level: LevelValide}
	}
	days := DaysBetween(today, *expiration)
	switch {
	case days < 0:
		return Alert{Level: LevelExpire, JoursRestants: days}
	case days <= RenewalWindowDays:
		return Alert{Level: LevelARenouveler, JoursRestants: days}
	default:
		return Alert{Level: LevelValide, JoursRestants: days}
	}
}

// DaysBetween returns the number of whole calendar days from a to b, each taken
// as a date in its own location.
func DaysBetween(a, b time.Time) int {
	da := calendarDay(a)
	db := calendarDay(b)
	return int(db.Sub(da).Hours() / 24)
}

func calendarDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
