// Package streak classifies a visit against a user's stored engagement streak.
//
// The package is pure: it performs no I/O and keeps no state. Callers read the
// current StreakRecord, ask ComputeTransition what the visit means, and write
// the record returned by Transition.Record only when Transition.Persist is set.
//
// All comparisons happen on calendar dates anchored at 00:00 UTC. Mixing a
// local-time "today" with a stored date misclassifies visits near midnight.
package streak

import (
	"time"

	"gorm.io/datatypes"

	"github.com/tbourn/study-mentor-backend/internal/domain"
)

// Kind names the outcome of a visit.
type Kind string

const (
	// First is the first recorded visit for a user.
	First Kind = "first"
	// SameDay is a repeat visit on the stored date. Nothing is written.
	SameDay Kind = "same_day"
	// Consecutive extends the streak by one day.
	Consecutive Kind = "consecutive"
	// Broken restarts the streak after one or more missed days.
	Broken Kind = "broken"
)

// Transition is the result of ComputeTransition.
type Transition struct {
	Days    int  // streak length after the visit, always >= 1
	Persist bool // whether the caller must upsert the record
	Kind    Kind
}

const day = 24 * time.Hour

// NormalizeDay returns the calendar date of t as 00:00 UTC.
func NormalizeDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the number of whole days from one date to another after
// normalizing both. A "to" before "from" yields 0.
func DaysBetween(from, to time.Time) int {
	diff := NormalizeDay(to).Sub(NormalizeDay(from))
	if diff <= 0 {
		return 0
	}
	return int(diff / day)
}

// ComputeTransition decides the new streak length for a visit on today.
// A nil current means the user has no record yet.
func ComputeTransition(current *domain.StreakRecord, today time.Time) Transition {
	if current == nil {
		return Transition{Days: 1, Persist: true, Kind: First}
	}
	switch diff := DaysBetween(StoredDay(current), today); {
	case diff == 0:
		return Transition{Days: current.StreakDays, Persist: false, Kind: SameDay}
	case diff == 1:
		return Transition{Days: current.StreakDays + 1, Persist: true, Kind: Consecutive}
	default:
		return Transition{Days: 1, Persist: true, Kind: Broken}
	}
}

// Record builds the row to upsert for userID after a visit on today.
func (t Transition) Record(userID string, today time.Time) domain.StreakRecord {
	return domain.StreakRecord{
		UserID:         userID,
		LastActiveDate: datatypes.Date(NormalizeDay(today)),
		StreakDays:     t.Days,
	}
}

// StoredDay reads the stored calendar date by its y/m/d fields so that a
// driver returning it in a non-UTC location does not shift the day.
func StoredDay(rec *domain.StreakRecord) time.Time {
	y, m, d := rec.LastActive().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
