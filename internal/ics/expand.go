package ics

import (
	"sort"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/teambition/rrule-go"

	appLog "signage/internal/log"
	"signage/internal/model"
)

// maxOccurrences caps one recurring event inside the window.
const maxOccurrences = 500

// expand turns parsed events into EVENT records for occurrences that
// overlap [from, to). Times are converted to tz.
func expand(events []vevent, from, to time.Time, tz *time.Location) []model.DisplayRecord {
	overrides := make(map[string][]vevent)
	for _, ev := range events {
		if ev.recurrence != nil {
			overrides[ev.uid] = append(overrides[ev.uid], ev)
		}
	}

	out := make([]model.DisplayRecord, 0)
	for _, ev := range events {
		if ev.recurrence != nil {
			continue
		}
		if ev.rrule == "" {
			if overlaps(ev.start, ev.end, from, to) {
				out = append(out, toRecord(ev, ev.start, ev.end, tz))
			}
			continue
		}
		out = append(out, expandRecurring(ev, overrides[ev.uid], from, to, tz)...)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

func expandRecurring(ev vevent, overrides []vevent, from, to time.Time, tz *time.Location) []model.DisplayRecord {
	r, err := rrule.StrToRRule(ev.rrule)
	if err != nil {
		appLog.Warn("ics: bad RRULE", "feed", ev.feedID, "uid", ev.uid, "rrule", ev.rrule, "err", err)
		return nil
	}
	r.DTStart(ev.start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.exdates {
		set.ExDate(ex.In(ev.start.Location()))
	}

	// Starts up to one duration before the window can still overlap it.
	dur := ev.end.Sub(ev.start)
	loc := ev.start.Location()
	starts := set.Between(from.Add(-dur).In(loc), to.In(loc), true)
	if len(starts) > maxOccurrences {
		appLog.Warn("ics: truncating occurrences", "feed", ev.feedID, "uid", ev.uid, "count", len(starts))
		starts = starts[:maxOccurrences]
	}

	out := make([]model.DisplayRecord, 0, len(starts))
	for _, s := range starts {
		inst, start, end := ev, s, s.Add(dur)
		if o, ok := findOverride(overrides, s); ok {
			inst, start, end = o, o.start, o.end
		}
		if overlaps(start, end, from, to) {
			out = append(out, toRecord(inst, start, end, tz))
		}
	}
	return out
}

func findOverride(overrides []vevent, start time.Time) (vevent, bool) {
	for _, o := range overrides {
		if o.recurrence.Equal(start) {
			return o, true
		}
	}
	return vevent{}, false
}

// toRecord builds the overlay record. Ids are negative so they never clash
// with backend ids, and stable per feed, UID and instance start.
func toRecord(ev vevent, start, end time.Time, tz *time.Location) model.DisplayRecord {
	key := ev.feedID + "|" + ev.uid + "|" + strconv.FormatInt(start.Unix(), 10)
	id := -(int(xxhash.Sum64String(key)&0x7fffffff) + 1)

	desc := ev.description
	if desc == "" {
		desc = ev.summary
	}
	if ev.place != "" {
		desc += " (" + ev.place + ")"
	}

	return model.DisplayRecord{
		ID:          id,
		Title:       ev.summary,
		Description: desc,
		Start:       start.In(tz),
		End:         end.In(tz),
		Category:    model.CategoryEvent,
	}
}

func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && !aEnd.Before(bStart)
}
