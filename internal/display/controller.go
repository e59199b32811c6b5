// Package display owns the signage state: the selected location, the last
// accepted snapshot, the media resolutions, the rotation engine and the view
// pushed to the page. Every mutation goes through the Controller's mutex.
package display

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"signage/internal/config"
	appLog "signage/internal/log"
	"signage/internal/media"
	"signage/internal/model"
	"signage/internal/rotation"
)

// ErrUnknownLocation is returned when selecting an id that is not in the
// loaded location set.
var ErrUnknownLocation = errors.New("display: unknown location")

// Source is the backend as seen by the controller.
type Source interface {
	Locations(ctx context.Context) ([]model.Location, error)
	Records(ctx context.Context, locationID int) ([]model.DisplayRecord, error)
}

// Store persists the last accepted snapshot and the selection.
type Store interface {
	SaveSnapshot(ctx context.Context, locationID int, records []model.DisplayRecord, acceptedAt time.Time) error
	LoadSnapshot(ctx context.Context, locationID int) ([]model.DisplayRecord, time.Time, error)
	SaveSelectedLocation(ctx context.Context, locationID int) error
	SelectedLocation(ctx context.Context) (int, error)
}

// Overlay contributes extra EVENT records, e.g. from external calendars.
type Overlay interface {
	Records(locationID int, now time.Time) []model.DisplayRecord
}

// Options configures a Controller. Zero values fall back to the config
// defaults.
type Options struct {
	PollInterval      time.Duration
	OnPollError       string
	MaxEvents         int
	TickerPlaceholder string
	Policy            rotation.Policy
	TZ                *time.Location

	// DefaultLocation is selected at start when neither an override nor a
	// stored selection exists.
	DefaultLocation int

	// Cron schedules the poll job. Nil disables scheduled polling; Poll can
	// still be called directly.
	Cron *cron.Cron

	// Clock drives rotation timers. Nil means the real clock.
	Clock rotation.Clock

	// Now is the time source for derivations. Nil means time.Now.
	Now func() time.Time
}

// OptionsFromConfig maps the config onto controller options.
func OptionsFromConfig(cfg *config.Config, tz *time.Location) Options {
	return Options{
		PollInterval:      cfg.PollInterval.Std(),
		OnPollError:       cfg.OnPollError,
		MaxEvents:         cfg.MaxEvents,
		TickerPlaceholder: cfg.Labels.NoOngoing,
		Policy: rotation.Policy{
			ImageDwell:           cfg.ImageDwell.Std(),
			EmbedDwell:           cfg.EmbedDwell.Std(),
			VideoMetadataTimeout: cfg.VideoMetadataTimeout.Std(),
		},
		TZ:              tz,
		DefaultLocation: cfg.Location,
	}
}

func (o *Options) normalize() {
	def := config.DefaultConfig()
	if o.PollInterval <= 0 {
		o.PollInterval = def.PollInterval.Std()
	}
	if o.OnPollError != config.OnPollErrorClear {
		o.OnPollError = config.OnPollErrorKeep
	}
	if o.MaxEvents <= 0 {
		o.MaxEvents = def.MaxEvents
	}
	if o.TickerPlaceholder == "" {
		o.TickerPlaceholder = def.Labels.NoOngoing
	}
	if o.Policy.ImageDwell <= 0 {
		o.Policy.ImageDwell = def.ImageDwell.Std()
	}
	if o.Policy.EmbedDwell <= 0 {
		o.Policy.EmbedDwell = def.EmbedDwell.Std()
	}
	if o.Policy.VideoMetadataTimeout <= 0 {
		o.Policy.VideoMetadataTimeout = def.VideoMetadataTimeout.Std()
	}
	if o.TZ == nil {
		o.TZ = time.Local
	}
	if o.Clock == nil {
		o.Clock = rotation.RealClock
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Controller is the display state owner.
type Controller struct {
	mu sync.Mutex

	opts     Options
	source   Source
	store    Store
	overlay  Overlay
	notifier Notifier

	locations []model.Location
	selected  int
	pollJob   cron.EntryID

	snapshot   []model.DisplayRecord
	acceptedAt time.Time
	lastErr    error

	media  *media.Cache
	info   []model.DisplayRecord
	engine *rotation.Engine

	view   View
	seq    uint64
	outbox *outgoing

	publishMu sync.Mutex
	delivered uint64 // guarded by publishMu
}

// New creates a controller with no location selected. store, overlay and
// notifier may be nil.
func New(source Source, classifier *media.Classifier, store Store, overlay Overlay, notifier Notifier, opts Options) *Controller {
	opts.normalize()

	c := &Controller{
		opts:     opts,
		source:   source,
		store:    store,
		overlay:  overlay,
		notifier: notifier,
		media:    media.NewCache(classifier),
	}
	c.engine = rotation.New(lockedClock{c: c, inner: opts.Clock}, opts.Policy, c.media.Kind, c.onRotate)
	c.view = c.buildViewLocked(c.now())
	return c
}

// lockedClock runs rotation timer callbacks under the controller lock.
type lockedClock struct {
	c     *Controller
	inner rotation.Clock
}

func (l lockedClock) AfterFunc(d time.Duration, f func()) rotation.Timer {
	return l.inner.AfterFunc(d, func() {
		l.c.mu.Lock()
		defer l.c.unlock()
		f()
	})
}

func (c *Controller) now() time.Time {
	return c.opts.Now().In(c.opts.TZ)
}

// Start loads the location list and restores the selection. The first
// non-zero of override, the stored selection and DefaultLocation wins.
func (c *Controller) Start(ctx context.Context, override int) {
	if err := c.LoadLocations(ctx); err != nil {
		appLog.Error("display: initial location load failed", err)
	}

	id := override
	if id == 0 && c.store != nil {
		stored, err := c.store.SelectedLocation(ctx)
		if err == nil {
			id = stored
		}
	}
	if id == 0 {
		id = c.opts.DefaultLocation
	}
	if id == 0 {
		appLog.Info("display: no location selected")
		return
	}
	if err := c.SelectLocation(ctx, id); err != nil {
		appLog.Error("display: restoring selection failed", err, "location", id)
	}
}

// Stop cancels the poll job and the rotation timer.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.opts.Cron != nil && c.pollJob != 0 {
		c.opts.Cron.Remove(c.pollJob)
		c.pollJob = 0
	}
	c.engine.Stop()
}

// LoadLocations fetches the location set once. On failure the previous set
// is left untouched.
func (c *Controller) LoadLocations(ctx context.Context) error {
	locs, err := c.source.Locations(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.unlock()
	c.locations = locs
	appLog.Info("display: locations loaded", "count", len(locs))
	c.publishLocked(c.now())
	return nil
}

// Locations returns the loaded locations and the selected id (0 for none).
func (c *Controller) Locations() ([]model.Location, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.Location(nil), c.locations...), c.selected
}

// SelectLocation switches the display to a location and polls it at once.
// id 0 clears the selection. Poll failures are logged, not returned.
func (c *Controller) SelectLocation(ctx context.Context, id int) error {
	if id < 0 {
		return fmt.Errorf("%w: %d", ErrUnknownLocation, id)
	}

	c.mu.Lock()
	if id != 0 && len(c.locations) > 0 && !c.knownLocked(id) {
		c.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrUnknownLocation, id)
	}

	c.selected = id
	c.snapshot = nil
	c.acceptedAt = time.Time{}
	c.lastErr = nil
	if id != 0 && c.store != nil {
		records, at, err := c.store.LoadSnapshot(ctx, id)
		if err == nil {
			c.snapshot = records
			c.acceptedAt = at
			appLog.Info("display: restored snapshot", "location", id, "records", len(records), "accepted_at", at)
		}
	}
	c.media.Sync(c.snapshot)
	c.reschedulePollLocked()
	c.refreshLocked(c.now())
	c.unlock()

	appLog.Info("display: location selected", "location", id)
	if c.store != nil {
		if err := c.store.SaveSelectedLocation(ctx, id); err != nil {
			appLog.Error("display: saving selection failed", err, "location", id)
		}
	}
	if id != 0 {
		_ = c.Poll(ctx)
	}
	return nil
}

func (c *Controller) knownLocked(id int) bool {
	for _, l := range c.locations {
		if l.ID == id {
			return true
		}
	}
	return false
}

// ReportVideoDuration applies a duration report from the page. It reports
// whether the rotation timer was re-armed.
func (c *Controller) ReportVideoDuration(id int, seconds float64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	ok := c.engine.ReportDuration(id, seconds)
	if ok {
		appLog.Debug("display: video duration applied", "id", id, "duration", seconds)
	}
	return ok
}

// Advance forces the rotation to the next article.
func (c *Controller) Advance() {
	c.mu.Lock()
	defer c.unlock()

	c.engine.Advance()
	c.publishLocked(c.now())
}

// Refresh re-derives the view from the current snapshot and overlay, e.g.
// after the calendar overlay changed.
func (c *Controller) Refresh() {
	c.mu.Lock()
	defer c.unlock()
	c.refreshLocked(c.now())
}

// View returns the last built view.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view
}

// onRotate runs under the lock from a rotation timer.
func (c *Controller) onRotate() {
	c.publishLocked(c.now())
}
