// Package rotation cycles the on-screen information article on a timer
// whose length depends on the article's media kind.
package rotation

import (
	"math"
	"time"

	appLog "signage/internal/log"
	"signage/internal/model"
)

// Policy holds the dwell times per media kind.
type Policy struct {
	// ImageDwell applies to images, unknown kinds and videos whose
	// reported duration is unusable.
	ImageDwell time.Duration
	// EmbedDwell applies to embedded players, which expose no duration.
	EmbedDwell time.Duration
	// VideoMetadataTimeout bounds how long a video waits for its duration
	// report before advancing anyway.
	VideoMetadataTimeout time.Duration
}

// maxVideoSeconds is the longest reported duration a time.Duration can hold.
const maxVideoSeconds = float64(math.MaxInt64) / float64(time.Second)

// KindFunc returns the resolved media kind for a record id.
type KindFunc func(id int) model.MediaKind

// Engine is the rotation state machine. It is not safe for concurrent use:
// the owner serializes every call, including timer callbacks delivered
// through its Clock.
type Engine struct {
	clock     Clock
	policy    Policy
	kindOf    KindFunc
	onAdvance func()

	items []model.DisplayRecord
	index int

	timer     Timer
	gen       uint64
	dwell     time.Duration
	armedKind model.MediaKind
	waiting   bool // current VIDEO has not reported its duration yet

	// durations remembers applied video durations, valid while the
	// record keeps the media ref they were reported for.
	durations map[int]videoDuration
}

type videoDuration struct {
	ref string
	d   time.Duration
}

// New creates an engine in the empty state. onAdvance, if set, runs after
// every timer-driven advance.
func New(clock Clock, policy Policy, kindOf KindFunc, onAdvance func()) *Engine {
	if clock == nil {
		clock = RealClock
	}
	return &Engine{
		clock:     clock,
		policy:    policy,
		kindOf:    kindOf,
		onAdvance: onAdvance,
		durations: make(map[int]videoDuration),
	}
}

// SetItems replaces the rotation subset. The index is kept when the shown
// record is still present (following it to its new position, rather than
// moving on to the next one), reset to 0 for a single item, and wrapped to
// 0 when out of range. The timer is re-armed for the record now shown
// unless that record, its media ref and the kind it was armed for are
// unchanged and a timer is already pending.
func (e *Engine) SetItems(items []model.DisplayRecord) {
	prev, hadPrev := e.Current()

	e.items = append([]model.DisplayRecord(nil), items...)
	e.forgetDurations()

	n := len(e.items)
	switch {
	case n == 0:
		e.index = 0
		e.waiting = false
		e.disarm()
		return
	case n == 1:
		e.index = 0
	default:
		moved := false
		if hadPrev {
			for i, it := range e.items {
				if it.ID == prev.ID {
					e.index = i
					moved = true
					break
				}
			}
		}
		if !moved && e.index >= n {
			e.index = 0
		}
	}

	cur := e.items[e.index]
	if hadPrev && cur.ID == prev.ID && cur.MediaRef == prev.MediaRef &&
		e.kindOf(cur.ID) == e.armedKind && e.timer != nil {
		return
	}
	e.arm()
}

// Advance moves to the next item and re-arms. It is a no-op when empty.
func (e *Engine) Advance() {
	if len(e.items) == 0 {
		return
	}
	e.index = (e.index + 1) % len(e.items)
	e.arm()
}

// ReportDuration applies a video's playable duration, in seconds, to the
// current item. Reports for any other record, for a non-video, or after a
// duration was already applied are ignored. Unusable values fall back to
// the image dwell. The applied duration is reused whenever the same video
// comes back on screen. It reports whether the timer was re-armed.
func (e *Engine) ReportDuration(id int, seconds float64) bool {
	cur, ok := e.Current()
	if !ok || cur.ID != id || !e.waiting || e.kindOf(id) != model.MediaVideo {
		return false
	}

	d := e.policy.ImageDwell
	if !math.IsNaN(seconds) && seconds > 0 && seconds < maxVideoSeconds {
		d = time.Duration(seconds * float64(time.Second))
	} else {
		appLog.Warn("rotation: unusable video duration, using default dwell", "id", id, "duration", seconds)
	}

	e.waiting = false
	e.durations[id] = videoDuration{ref: cur.MediaRef, d: d}
	e.schedule(d)
	return true
}

// Stop cancels any pending timer.
func (e *Engine) Stop() {
	e.disarm()
}

// Current returns the record on screen.
func (e *Engine) Current() (model.DisplayRecord, bool) {
	if len(e.items) == 0 {
		return model.DisplayRecord{}, false
	}
	return e.items[e.index], true
}

func (e *Engine) Index() int { return e.index }
func (e *Engine) Len() int   { return len(e.items) }

// Pending reports whether an advance is scheduled.
func (e *Engine) Pending() bool { return e.timer != nil }

// Dwell is the length of the pending timer, or 0.
func (e *Engine) Dwell() time.Duration {
	if e.timer == nil {
		return 0
	}
	return e.dwell
}

// AwaitingDuration reports whether the current video still waits for its
// duration report.
func (e *Engine) AwaitingDuration() bool { return e.waiting }

func (e *Engine) arm() {
	cur, ok := e.Current()
	if !ok {
		e.disarm()
		return
	}

	e.waiting = false
	e.armedKind = e.kindOf(cur.ID)
	var d time.Duration
	switch e.armedKind {
	case model.MediaVideo:
		if known, ok := e.durations[cur.ID]; ok && known.ref == cur.MediaRef {
			d = known.d
			break
		}
		d = e.policy.VideoMetadataTimeout
		e.waiting = true
	case model.MediaEmbed:
		d = e.policy.EmbedDwell
	default:
		d = e.policy.ImageDwell
	}
	e.schedule(d)
}

// forgetDurations drops durations of records that left the subset or whose
// media ref changed.
func (e *Engine) forgetDurations() {
	if len(e.durations) == 0 {
		return
	}
	refs := make(map[int]string, len(e.items))
	for _, it := range e.items {
		refs[it.ID] = it.MediaRef
	}
	for id, known := range e.durations {
		if ref, ok := refs[id]; !ok || ref != known.ref {
			delete(e.durations, id)
		}
	}
}

// schedule replaces the pending timer. Each timer captures the generation
// it was armed under so a superseded timer that fires anyway does nothing.
func (e *Engine) schedule(d time.Duration) {
	e.disarm()
	gen := e.gen
	e.dwell = d
	e.timer = e.clock.AfterFunc(d, func() { e.fire(gen) })
}

func (e *Engine) disarm() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.gen++
	e.dwell = 0
}

func (e *Engine) fire(gen uint64) {
	if gen != e.gen {
		return
	}
	e.timer = nil
	e.Advance()
	if e.onAdvance != nil {
		e.onAdvance()
	}
}
