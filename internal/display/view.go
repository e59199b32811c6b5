package display

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"

	appLog "signage/internal/log"
	"signage/internal/model"
	"signage/internal/schedule"
)

// Notifier receives every new view.
type Notifier interface {
	Publish(v View)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(v View)

func (f NotifierFunc) Publish(v View) { f(v) }

// View is what the page renders.
type View struct {
	Version      string      `json:"version"`
	LocationID   int         `json:"location_id"`
	LocationName string      `json:"location_name,omitempty"`
	Article      *Article    `json:"article"`
	Events       []EventView `json:"events"`
	Ticker       []string    `json:"ticker"`
	Stale        bool        `json:"stale"`
	AcceptedAt   *time.Time  `json:"accepted_at,omitempty"`
}

// Article is the information record on screen.
type Article struct {
	ID          int                   `json:"id"`
	Title       string                `json:"title"`
	Description string                `json:"description"`
	Media       model.MediaResolution `json:"media"`
	Index       int                   `json:"index"`
	Count       int                   `json:"count"`
}

// EventView is one entry of the events sidebar.
type EventView struct {
	ID          int       `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	StartLabel  string    `json:"start_label"`
	Ongoing     bool      `json:"ongoing"`
}

func (c *Controller) buildViewLocked(now time.Time) View {
	all := c.mergedLocked(now)

	v := View{
		LocationID: c.selected,
		Events:     make([]EventView, 0),
		Ticker:     schedule.Ticker(all, now, c.opts.TickerPlaceholder),
		Stale:      c.lastErr != nil,
	}
	for _, l := range c.locations {
		if l.ID == c.selected {
			v.LocationName = l.Name
			break
		}
	}
	if !c.acceptedAt.IsZero() {
		at := c.acceptedAt
		v.AcceptedAt = &at
	}

	if cur, ok := c.engine.Current(); ok {
		v.Article = &Article{
			ID:          cur.ID,
			Title:       cur.Title,
			Description: cur.Description,
			Media:       c.media.Get(cur.ID),
			Index:       c.engine.Index(),
			Count:       c.engine.Len(),
		}
	}

	for _, r := range schedule.UpcomingEvents(all, now, c.opts.MaxEvents) {
		v.Events = append(v.Events, EventView{
			ID:          r.ID,
			Title:       r.Title,
			Description: r.Description,
			Start:       r.Start,
			End:         r.End,
			StartLabel:  r.Start.In(c.opts.TZ).Format("15:04"),
			Ongoing:     schedule.Ongoing(r, now),
		})
	}

	v.Version = viewVersion(v)
	return v
}

// publishLocked rebuilds the view and queues it for delivery when its
// version changed. The queued view goes out from unlock.
func (c *Controller) publishLocked(now time.Time) {
	v := c.buildViewLocked(now)
	if v.Version == c.view.Version {
		return
	}
	c.view = v
	c.seq++
	c.outbox = &outgoing{view: v, seq: c.seq}
}

type outgoing struct {
	view View
	seq  uint64
}

// unlock releases the controller lock, then hands the view queued under it
// to the notifier. A slow notifier never holds up the controller; views
// that lost the race to a newer one are skipped.
func (c *Controller) unlock() {
	out := c.outbox
	c.outbox = nil
	c.mu.Unlock()

	if out == nil || c.notifier == nil {
		return
	}
	c.publishMu.Lock()
	defer c.publishMu.Unlock()
	if out.seq <= c.delivered {
		return
	}
	c.delivered = out.seq
	c.notifier.Publish(out.view)
}

// viewVersion hashes the view content, excluding the version itself.
func viewVersion(v View) string {
	v.Version = ""
	data, err := json.Marshal(v)
	if err != nil {
		appLog.Error("display: hashing view failed", err)
		return ""
	}
	return strconv.FormatUint(xxhash.Sum64(data), 16)
}
