package display

import (
	"context"
	"fmt"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"signage/internal/config"
	appLog "signage/internal/log"
	"signage/internal/model"
	"signage/internal/schedule"
)

// Poll fetches the records of the selected location and accepts them when
// they differ from the last accepted snapshot. It does nothing without a
// selection. Responses for a location that is no longer selected are
// dropped.
func (c *Controller) Poll(ctx context.Context) error {
	c.mu.Lock()
	loc := c.selected
	c.mu.Unlock()

	if loc == 0 {
		return nil
	}

	records, err := c.source.Records(ctx, loc)

	c.mu.Lock()
	defer c.unlock()

	if c.selected != loc {
		appLog.Debug("display: dropping response for superseded location", "location", loc, "selected", c.selected)
		return nil
	}

	now := c.now()
	if err != nil {
		appLog.Error("display: poll failed", err, "location", loc, "policy", c.opts.OnPollError)
		c.lastErr = err
		if c.opts.OnPollError == config.OnPollErrorClear && len(c.snapshot) > 0 {
			c.snapshot = []model.DisplayRecord{}
			c.media.Sync(c.snapshot)
		}
		c.refreshLocked(now)
		return err
	}
	c.lastErr = nil

	scoped := make([]model.DisplayRecord, 0, len(records))
	for _, r := range records {
		if r.TargetsLocation(loc) {
			scoped = append(scoped, r)
		}
	}

	if c.acceptedAt.IsZero() || !cmp.Equal(scoped, c.snapshot, cmpopts.EquateEmpty()) {
		c.snapshot = scoped
		c.acceptedAt = now
		resolved := c.media.Sync(scoped)
		appLog.Info("display: snapshot accepted", "location", loc, "records", len(scoped), "resolved", resolved)

		if c.store != nil {
			if err := c.store.SaveSnapshot(ctx, loc, scoped, now); err != nil {
				appLog.Error("display: saving snapshot failed", err, "location", loc)
			}
		}
	}

	c.refreshLocked(now)
	return nil
}

// reschedulePollLocked replaces the poll job for the current selection.
func (c *Controller) reschedulePollLocked() {
	sched := c.opts.Cron
	if sched == nil {
		return
	}
	if c.pollJob != 0 {
		sched.Remove(c.pollJob)
		c.pollJob = 0
	}
	if c.selected == 0 {
		return
	}

	spec := fmt.Sprintf("@every %s", c.opts.PollInterval)
	id, err := sched.AddFunc(spec, func() {
		_ = c.Poll(context.Background())
	})
	if err != nil {
		appLog.Error("display: scheduling poll failed", err, "spec", spec)
		return
	}
	c.pollJob = id
}

// mergedLocked is the snapshot plus overlay records for the selection.
func (c *Controller) mergedLocked(now time.Time) []model.DisplayRecord {
	if c.overlay == nil || c.selected == 0 {
		return c.snapshot
	}
	extra := c.overlay.Records(c.selected, now)
	if len(extra) == 0 {
		return c.snapshot
	}
	out := make([]model.DisplayRecord, 0, len(c.snapshot)+len(extra))
	out = append(out, c.snapshot...)
	return append(out, extra...)
}

// refreshLocked re-derives the rotation subset and publishes the view if it
// changed.
func (c *Controller) refreshLocked(now time.Time) {
	info := schedule.TodaysInformation(c.mergedLocked(now), now)
	if !cmp.Equal(info, c.info, cmpopts.EquateEmpty()) {
		c.info = info
		c.engine.SetItems(info)
	}
	c.publishLocked(now)
}
