package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "signage/internal/log"
)

// vevent is the part of a VEVENT the overlay needs.
type vevent struct {
	feedID string

	uid         string
	summary     string
	description string
	place       string

	start  time.Time
	end    time.Time
	allDay bool

	rrule      string
	exdates    []time.Time
	recurrence *time.Time // RECURRENCE-ID of an overridden instance
}

// parse decodes a feed body. Events that cannot be read are skipped and
// logged.
func parse(feedID string, body []byte, tz *time.Location) ([]vevent, error) {
	if len(body) == 0 {
		return nil, errors.New("ics: empty body")
	}
	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ics: parse %s: %w", feedID, err)
	}

	out := make([]vevent, 0)
	for _, ve := range cal.Events() {
		ev, err := parseEvent(feedID, ve, tz)
		if err != nil {
			appLog.Warn("ics: skipping event", "feed", feedID, "err", err)
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func parseEvent(feedID string, ve *ical.VEvent, tz *time.Location) (vevent, error) {
	ev := vevent{feedID: feedID}

	uid := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uid == nil || uid.Value == "" {
		return ev, errors.New("missing UID")
	}
	ev.uid = uid.Value

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		ev.summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		ev.description = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		ev.place = p.Value
	}

	dtstart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtstart == nil {
		return ev, errors.New("missing DTSTART")
	}
	ev.allDay = !strings.Contains(dtstart.Value, "T")
	if vs := dtstart.ICalParameters["VALUE"]; len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		ev.allDay = true
	}

	start, err := ve.GetStartAt()
	if err != nil {
		if start, err = parseICSTime(dtstart.Value, tz); err != nil {
			return ev, fmt.Errorf("DTSTART: %w", err)
		}
	}
	ev.start = start

	end, err := ve.GetEndAt()
	if err != nil {
		end = time.Time{}
		if p := ve.GetProperty(ical.ComponentPropertyDtEnd); p != nil {
			end, _ = parseICSTime(p.Value, tz)
		}
	}
	if end.IsZero() || end.Before(start) {
		if ev.allDay {
			end = start.AddDate(0, 0, 1)
		} else {
			end = start
		}
	}
	ev.end = end

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		ev.rrule = p.Value
	}
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			if t, err := parseICSTime(part, tz); err == nil {
				ev.exdates = append(ev.exdates, t)
			}
		}
	}
	if p := ve.GetProperty("RECURRENCE-ID"); p != nil {
		if t, err := parseICSTime(p.Value, tz); err == nil {
			ev.recurrence = &t
		}
	}
	return ev, nil
}

// parseICSTime reads the basic DATE / DATE-TIME forms. Values without a
// UTC marker are taken in tz.
func parseICSTime(v string, tz *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	switch {
	case v == "":
		return time.Time{}, errors.New("empty time value")
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, tz)
	default:
		return time.ParseInLocation("20060102", v, tz)
	}
}
