package ics

import (
	"context"
	"errors"
	"sync"
	"time"

	"signage/internal/config"
	appLog "signage/internal/log"
	"signage/internal/model"
)

// Overlay holds the expanded events of every configured feed. Refresh
// replaces a feed's events only when the feed could be read, so a failing
// feed keeps its previous events.
type Overlay struct {
	fetcher *Fetcher
	feeds   []Feed
	tz      *time.Location
	now     func() time.Time

	mu     sync.RWMutex
	byFeed map[string][]model.DisplayRecord
}

// NewOverlay creates an overlay for feeds, expanding in tz.
func NewOverlay(fetcher *Fetcher, feeds []Feed, tz *time.Location) *Overlay {
	if tz == nil {
		tz = time.Local
	}
	return &Overlay{
		fetcher: fetcher,
		feeds:   feeds,
		tz:      tz,
		now:     time.Now,
		byFeed:  make(map[string][]model.DisplayRecord),
	}
}

// FeedsFromConfig converts calendar config entries.
func FeedsFromConfig(cals []config.CalendarConfig) []Feed {
	out := make([]Feed, 0, len(cals))
	for _, c := range cals {
		out = append(out, Feed{ID: c.ID, URL: c.URL, Locations: c.Locations})
	}
	return out
}

// Len is the number of configured feeds.
func (o *Overlay) Len() int {
	return len(o.feeds)
}

// Refresh fetches and expands every feed for today and tomorrow. Failures
// are collected; feeds that succeeded are applied regardless.
func (o *Overlay) Refresh(ctx context.Context) error {
	now := o.now().In(o.tz)
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, o.tz)
	to := from.AddDate(0, 0, 2)

	var errs []error
	for _, feed := range o.feeds {
		body, fromCache, err := o.fetcher.Fetch(ctx, feed)
		if err != nil {
			appLog.Error("ics: refresh failed", err, "feed", feed.ID, "url", redactURL(feed.URL))
			errs = append(errs, err)
			continue
		}
		events, err := parse(feed.ID, body, o.tz)
		if err != nil {
			appLog.Error("ics: parse failed", err, "feed", feed.ID)
			errs = append(errs, err)
			continue
		}
		records := expand(events, from, to, o.tz)

		o.mu.Lock()
		o.byFeed[feed.ID] = records
		o.mu.Unlock()
		appLog.Info("ics: feed refreshed", "feed", feed.ID, "events", len(events), "occurrences", len(records), "from_cache", fromCache)
	}
	return errors.Join(errs...)
}

// Records returns the overlay events for a location that have not ended
// before now's day.
func (o *Overlay) Records(locationID int, now time.Time) []model.DisplayRecord {
	o.mu.RLock()
	defer o.mu.RUnlock()

	now = now.In(o.tz)
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, o.tz)

	out := make([]model.DisplayRecord, 0)
	for _, feed := range o.feeds {
		if !feed.targets(locationID) {
			continue
		}
		for _, r := range o.byFeed[feed.ID] {
			if r.End.Before(dayStart) {
				continue
			}
			rec := r
			rec.Locations = []int{locationID}
			out = append(out, rec)
		}
	}
	return out
}
