// Package schedule derives the event and ticker views from a snapshot.
// Every function is pure in (records, now); "today" is the calendar day of
// now in now's location.
package schedule

import (
	"sort"
	"time"

	"signage/internal/model"
)

// SameDay reports whether t falls on the calendar day of now, evaluated in
// now's location.
func SameDay(t, now time.Time) bool {
	t = t.In(now.Location())
	ty, tm, td := t.Date()
	ny, nm, nd := now.Date()
	return ty == ny && tm == nm && td == nd
}

// Ongoing reports start <= now <= end.
func Ongoing(r model.DisplayRecord, now time.Time) bool {
	return !now.Before(r.Start) && !now.After(r.End)
}

// TodaysEvents returns EVENT records starting today, sorted by start.
func TodaysEvents(records []model.DisplayRecord, now time.Time) []model.DisplayRecord {
	return today(records, now, model.CategoryEvent)
}

// UpcomingEvents returns today's events that have not ended yet, capped to
// limit (no cap when limit <= 0).
func UpcomingEvents(records []model.DisplayRecord, now time.Time, limit int) []model.DisplayRecord {
	out := notEnded(TodaysEvents(records, now), now)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// OngoingEvents returns EVENT records in progress at now, sorted by start.
func OngoingEvents(records []model.DisplayRecord, now time.Time) []model.DisplayRecord {
	out := make([]model.DisplayRecord, 0)
	for _, r := range records {
		if r.Category == model.CategoryEvent && Ongoing(r, now) {
			out = append(out, r)
		}
	}
	sortByStart(out)
	return out
}

// Ticker returns one line per ongoing event, or the placeholder alone when
// nothing is in progress.
func Ticker(records []model.DisplayRecord, now time.Time, placeholder string) []string {
	ongoing := OngoingEvents(records, now)
	if len(ongoing) == 0 {
		return []string{placeholder}
	}
	lines := make([]string, 0, len(ongoing))
	for _, r := range ongoing {
		lines = append(lines, r.Description)
	}
	return lines
}

// TodaysInformation returns INFORMATION records starting today that have
// not ended, sorted by start. This is the rotation subset.
func TodaysInformation(records []model.DisplayRecord, now time.Time) []model.DisplayRecord {
	return notEnded(today(records, now, model.CategoryInformation), now)
}

func today(records []model.DisplayRecord, now time.Time, cat model.Category) []model.DisplayRecord {
	out := make([]model.DisplayRecord, 0)
	for _, r := range records {
		if r.Category == cat && SameDay(r.Start, now) {
			out = append(out, r)
		}
	}
	sortByStart(out)
	return out
}

func notEnded(records []model.DisplayRecord, now time.Time) []model.DisplayRecord {
	out := make([]model.DisplayRecord, 0, len(records))
	for _, r := range records {
		if !r.End.Before(now) {
			out = append(out, r)
		}
	}
	return out
}

func sortByStart(records []model.DisplayRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Start.Before(records[j].Start)
	})
}
