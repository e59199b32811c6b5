package rotation

import (
	"math"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signage/internal/model"
)

// fakeClock fires callbacks synchronously from Advance.
type fakeClock struct {
	now    time.Duration
	timers []*fakeTimer
}

type fakeTimer struct {
	at      time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	wasActive := !t.stopped && !t.fired
	t.stopped = true
	return wasActive
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	t := &fakeTimer{at: c.now + d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Advance(d time.Duration) {
	target := c.now + d
	for {
		due := c.active()
		if len(due) == 0 || due[0].at > target {
			break
		}
		t := due[0]
		c.now = t.at
		t.fired = true
		t.f()
	}
	c.now = target
}

func (c *fakeClock) active() []*fakeTimer {
	out := make([]*fakeTimer, 0)
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].at < out[j].at })
	return out
}

func (c *fakeClock) pending() int {
	return len(c.active())
}

var testPolicy = Policy{
	ImageDwell:           10 * time.Second,
	EmbedDwell:           60 * time.Second,
	VideoMetadataTimeout: 45 * time.Second,
}

func kinds(m map[int]model.MediaKind) KindFunc {
	return func(id int) model.MediaKind {
		if k, ok := m[id]; ok {
			return k
		}
		return model.MediaUnknown
	}
}

func records(ids ...int) []model.DisplayRecord {
	out := make([]model.DisplayRecord, 0, len(ids))
	for _, id := range ids {
		out = append(out, model.DisplayRecord{ID: id, Category: model.CategoryInformation})
	}
	return out
}

func currentID(t *testing.T, e *Engine) int {
	t.Helper()
	cur, ok := e.Current()
	require.True(t, ok)
	return cur.ID
}

func TestEngine_EmptyArmsNothing(t *testing.T) {
	clock := &fakeClock{}
	e := New(clock, testPolicy, kinds(nil), nil)

	e.SetItems(nil)
	_, ok := e.Current()
	assert.False(t, ok)
	assert.False(t, e.Pending())
	assert.Equal(t, 0, e.Index())
	assert.Equal(t, 0, clock.pending())

	e.Advance()
	assert.Equal(t, 0, e.Index())
	assert.Equal(t, 0, clock.pending())
}

func TestEngine_CyclesBackToStart(t *testing.T) {
	for n := 1; n <= 6; n++ {
		clock := &fakeClock{}
		ids := make([]int, 0, n)
		for i := 0; i < n; i++ {
			ids = append(ids, 100+i)
		}
		e := New(clock, testPolicy, kinds(nil), nil)
		e.SetItems(records(ids...))

		start := e.Index()
		for i := 0; i < n; i++ {
			e.Advance()
		}
		assert.Equal(t, start, e.Index(), "n=%d", n)
		// Re-arming never leaves more than one timer pending.
		assert.Equal(t, 1, clock.pending(), "n=%d", n)
	}
}

func TestEngine_DwellByKind(t *testing.T) {
	clock := &fakeClock{}
	e := New(clock, testPolicy, kinds(map[int]model.MediaKind{
		1: model.MediaImage,
		2: model.MediaEmbed,
		3: model.MediaUnknown,
	}), nil)

	e.SetItems(records(1, 2, 3))
	assert.Equal(t, 10*time.Second, e.Dwell())

	clock.Advance(10 * time.Second)
	assert.Equal(t, 2, currentID(t, e))
	assert.Equal(t, 60*time.Second, e.Dwell())

	clock.Advance(59 * time.Second)
	assert.Equal(t, 2, currentID(t, e))
	clock.Advance(time.Second)
	assert.Equal(t, 3, currentID(t, e))
	assert.Equal(t, 10*time.Second, e.Dwell())

	clock.Advance(10 * time.Second)
	assert.Equal(t, 1, currentID(t, e))
}

func TestEngine_VideoDurationDrivesAdvance(t *testing.T) {
	clock := &fakeClock{}
	advanced := 0
	e := New(clock, testPolicy, kinds(map[int]model.MediaKind{
		7: model.MediaVideo,
		8: model.MediaImage,
	}), func() { advanced++ })

	e.SetItems(records(7, 8))
	assert.True(t, e.AwaitingDuration())
	assert.Equal(t, 45*time.Second, e.Dwell())

	clock.Advance(2 * time.Second)
	require.True(t, e.ReportDuration(7, 12.5))
	assert.Equal(t, 12500*time.Millisecond, e.Dwell())
	assert.False(t, e.AwaitingDuration())

	// A second report for the same playback is ignored.
	assert.False(t, e.ReportDuration(7, 99))

	clock.Advance(12499 * time.Millisecond)
	assert.Equal(t, 7, currentID(t, e))
	clock.Advance(time.Millisecond)
	assert.Equal(t, 8, currentID(t, e))
	assert.Equal(t, 1, advanced)
}

func TestEngine_VideoDurationFallbacks(t *testing.T) {
	for _, bad := range []float64{math.NaN(), math.Inf(1), math.Inf(-1), 0, -3, 1e12} {
		clock := &fakeClock{}
		e := New(clock, testPolicy, kinds(map[int]model.MediaKind{7: model.MediaVideo}), nil)
		e.SetItems(records(7))

		require.True(t, e.ReportDuration(7, bad))
		assert.Equal(t, testPolicy.ImageDwell, e.Dwell(), "duration=%v", bad)
	}
}

func TestEngine_SingleVideoReusesReportedDuration(t *testing.T) {
	clock := &fakeClock{}
	advanced := 0
	e := New(clock, testPolicy, kinds(map[int]model.MediaKind{7: model.MediaVideo}), func() { advanced++ })
	promo := []model.DisplayRecord{{ID: 7, MediaRef: "promo.mp4"}}

	e.SetItems(promo)
	require.True(t, e.ReportDuration(7, 12.5))

	// The page keeps the looping element and does not report again.
	for cycle := 1; cycle <= 3; cycle++ {
		clock.Advance(12500 * time.Millisecond)
		assert.Equal(t, cycle, advanced)
		assert.False(t, e.AwaitingDuration())
		assert.Equal(t, 12500*time.Millisecond, e.Dwell())
	}

	// Same ref on the next poll: nothing changes.
	e.SetItems(promo)
	assert.Equal(t, 12500*time.Millisecond, e.Dwell())

	// A new file under the same record needs a fresh report.
	e.SetItems([]model.DisplayRecord{{ID: 7, MediaRef: "promo-v2.mp4"}})
	assert.True(t, e.AwaitingDuration())
	assert.Equal(t, testPolicy.VideoMetadataTimeout, e.Dwell())
}

func TestEngine_SetItemsRearmsWhenKindChanges(t *testing.T) {
	clock := &fakeClock{}
	k := map[int]model.MediaKind{10: model.MediaImage}
	e := New(clock, testPolicy, kinds(k), nil)

	e.SetItems([]model.DisplayRecord{{ID: 10, MediaRef: "poster.jpg"}})
	require.Equal(t, testPolicy.ImageDwell, e.Dwell())
	clock.Advance(3 * time.Second)

	// The kind lookup already answers for the new ref when the subset is
	// replaced.
	k[10] = model.MediaVideo
	e.SetItems([]model.DisplayRecord{{ID: 10, MediaRef: "promo.mp4"}})

	assert.True(t, e.AwaitingDuration())
	assert.Equal(t, testPolicy.VideoMetadataTimeout, e.Dwell())
	assert.True(t, e.ReportDuration(10, 12.5))
	assert.Equal(t, 12500*time.Millisecond, e.Dwell())
}

func TestEngine_VideoWithoutReportAdvancesAfterTimeout(t *testing.T) {
	clock := &fakeClock{}
	e := New(clock, testPolicy, kinds(map[int]model.MediaKind{7: model.MediaVideo}), nil)
	e.SetItems(records(7, 8))

	clock.Advance(45 * time.Second)
	assert.Equal(t, 8, currentID(t, e))
}

func TestEngine_IgnoresStaleReports(t *testing.T) {
	clock := &fakeClock{}
	e := New(clock, testPolicy, kinds(map[int]model.MediaKind{
		7: model.MediaVideo,
		8: model.MediaImage,
	}), nil)
	e.SetItems(records(8, 7))

	// 7 is not on screen.
	assert.False(t, e.ReportDuration(7, 5))
	// 8 is not a video.
	assert.False(t, e.ReportDuration(8, 5))
	assert.Equal(t, 10*time.Second, e.Dwell())
}

func TestEngine_SingleItemKeepsIndexAndTimer(t *testing.T) {
	clock := &fakeClock{}
	advanced := 0
	e := New(clock, testPolicy, kinds(nil), func() { advanced++ })
	e.SetItems(records(1))

	assert.True(t, e.Pending())
	clock.Advance(10 * time.Second)
	assert.Equal(t, 0, e.Index())
	assert.Equal(t, 1, advanced)
	assert.True(t, e.Pending())
	assert.Equal(t, 1, clock.pending())
}

func TestEngine_SetItemsClampsAndFollows(t *testing.T) {
	clock := &fakeClock{}
	e := New(clock, testPolicy, kinds(nil), nil)

	e.SetItems(records(1, 2, 3, 4))
	e.Advance()
	e.Advance()
	e.Advance()
	assert.Equal(t, 4, currentID(t, e))

	// Shown record still present: follow it.
	e.SetItems(records(4, 5))
	assert.Equal(t, 0, e.Index())
	assert.Equal(t, 4, currentID(t, e))

	// Shown record gone and index out of range: wrap to 0.
	e.Advance()
	assert.Equal(t, 5, currentID(t, e))
	e.SetItems(records(9))
	assert.Equal(t, 0, e.Index())
	assert.Equal(t, 9, currentID(t, e))

	e.SetItems(nil)
	assert.False(t, e.Pending())
	assert.Equal(t, 0, clock.pending())
}

func TestEngine_SetItemsKeepsTimerForSameRecord(t *testing.T) {
	clock := &fakeClock{}
	e := New(clock, testPolicy, kinds(nil), nil)

	e.SetItems(records(1, 2))
	clock.Advance(6 * time.Second)

	// Same record on screen: the running dwell is not restarted.
	e.SetItems(records(1, 2, 3))
	clock.Advance(4 * time.Second)
	assert.Equal(t, 2, currentID(t, e))
}

func TestEngine_StaleTimerIsNoop(t *testing.T) {
	clock := &fakeClock{}
	e := New(clock, testPolicy, kinds(nil), nil)
	e.SetItems(records(1, 2, 3))

	// Grab the pending timer's callback, then supersede it.
	stale := clock.active()[0].f
	e.Advance()
	require.Equal(t, 2, currentID(t, e))

	stale()
	assert.Equal(t, 2, currentID(t, e))
}

func TestEngine_Stop(t *testing.T) {
	clock := &fakeClock{}
	e := New(clock, testPolicy, kinds(nil), nil)
	e.SetItems(records(1, 2))
	e.Stop()

	assert.False(t, e.Pending())
	clock.Advance(time.Minute)
	assert.Equal(t, 1, currentID(t, e))
}
