package ics

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/h2non/gock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var wib = time.FixedZone("WIB", 7*60*60)

const testFeed = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//signage//test//EN
BEGIN:VEVENT
UID:standup@test
DTSTAMP:20261001T000000Z
DTSTART:20261001T010000Z
DTEND:20261001T011500Z
RRULE:FREQ=DAILY
EXDATE:20261019T010000Z
SUMMARY:Standup
END:VEVENT
BEGIN:VEVENT
UID:visit@test
DTSTAMP:20261001T000000Z
DTSTART:20261018T060000Z
DTEND:20261018T070000Z
SUMMARY:Board visit
LOCATION:Lobby
END:VEVENT
BEGIN:VEVENT
UID:old@test
DTSTAMP:20261001T000000Z
DTSTART:20261010T060000Z
DTEND:20261010T070000Z
SUMMARY:Old news
END:VEVENT
END:VCALENDAR
`

func crlf(s string) string {
	return strings.ReplaceAll(s, "\n", "\r\n")
}

func TestOverlay_Refresh(t *testing.T) {
	defer gock.Off()

	gock.New("http://calendar.test").
		Get("/team.ics").
		Reply(200).
		SetHeader("ETag", `"v1"`).
		BodyString(crlf(testFeed))
	gock.New("http://calendar.test").
		Get("/broken.ics").
		Reply(500)

	feeds := []Feed{
		{ID: "team", URL: "http://calendar.test/team.ics", Locations: []int{1}},
		{ID: "broken", URL: "http://calendar.test/broken.ics"},
	}
	o := NewOverlay(NewFetcher(t.TempDir(), time.Second), feeds, wib)
	now := time.Date(2026, 10, 18, 9, 0, 0, 0, wib)
	o.now = func() time.Time { return now }

	err := o.Refresh(context.Background())
	require.Error(t, err, "broken feed must be reported")
	assert.True(t, gock.IsDone())

	recs := o.Records(1, now)
	require.Len(t, recs, 2)

	assert.Equal(t, "Standup", recs[0].Title)
	assert.Equal(t, "Standup", recs[0].Description)
	assert.True(t, recs[0].Start.Equal(time.Date(2026, 10, 18, 8, 0, 0, 0, wib)))
	assert.True(t, recs[0].End.Equal(time.Date(2026, 10, 18, 8, 15, 0, 0, wib)))

	assert.Equal(t, "Board visit (Lobby)", recs[1].Description)
	assert.Equal(t, []int{1}, recs[1].Locations)

	for _, r := range recs {
		assert.Less(t, r.ID, 0)
	}
	assert.NotEqual(t, recs[0].ID, recs[1].ID)

	// Feed scoped to location 1 only.
	assert.Empty(t, o.Records(2, now))
}

func TestFetcher_ConditionalAndFallback(t *testing.T) {
	defer gock.Off()

	const feedURL = "http://calendar.test/team.ics"
	f := NewFetcher(t.TempDir(), time.Second)
	feed := Feed{ID: "team", URL: feedURL}

	gock.New("http://calendar.test").
		Get("/team.ics").
		Reply(200).
		SetHeader("ETag", `"v1"`).
		BodyString(crlf(testFeed))

	body, cached, err := f.Fetch(context.Background(), feed)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Contains(t, string(body), "Standup")

	gock.New("http://calendar.test").
		Get("/team.ics").
		MatchHeader("If-None-Match", `"v1"`).
		Reply(304)

	body2, cached, err := f.Fetch(context.Background(), feed)
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, body, body2)

	gock.New("http://calendar.test").
		Get("/team.ics").
		ReplyError(errors.New("connection refused"))

	body3, cached, err := f.Fetch(context.Background(), feed)
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, body, body3)
	assert.True(t, gock.IsDone())
}

func TestFetcher_NoCacheFailure(t *testing.T) {
	defer gock.Off()

	gock.New("http://calendar.test").
		Get("/missing.ics").
		Reply(404)

	f := NewFetcher(t.TempDir(), time.Second)
	_, _, err := f.Fetch(context.Background(), Feed{ID: "missing", URL: "http://calendar.test/missing.ics"})
	assert.Error(t, err)
}

func TestExpand_AppliesOverride(t *testing.T) {
	start := time.Date(2026, 10, 1, 1, 0, 0, 0, time.UTC)
	moved := time.Date(2026, 10, 18, 3, 0, 0, 0, time.UTC)
	rid := time.Date(2026, 10, 18, 1, 0, 0, 0, time.UTC)

	events := []vevent{
		{feedID: "team", uid: "standup", summary: "Standup", start: start, end: start.Add(15 * time.Minute), rrule: "FREQ=DAILY"},
		{feedID: "team", uid: "standup", summary: "Standup (moved)", start: moved, end: moved.Add(30 * time.Minute), recurrence: &rid},
	}

	from := time.Date(2026, 10, 18, 0, 0, 0, 0, wib)
	recs := expand(events, from, from.AddDate(0, 0, 1), wib)

	require.Len(t, recs, 1)
	assert.Equal(t, "Standup (moved)", recs[0].Title)
	assert.True(t, recs[0].Start.Equal(moved))
	assert.Equal(t, wib, recs[0].Start.Location())
}

func TestParseICSTime(t *testing.T) {
	utc, err := parseICSTime("20261018T010000Z", wib)
	require.NoError(t, err)
	assert.True(t, utc.Equal(time.Date(2026, 10, 18, 8, 0, 0, 0, wib)))

	local, err := parseICSTime("20261018T080000", wib)
	require.NoError(t, err)
	assert.True(t, local.Equal(utc))

	day, err := parseICSTime("20261018", wib)
	require.NoError(t, err)
	assert.True(t, day.Equal(time.Date(2026, 10, 18, 0, 0, 0, 0, wib)))

	_, err = parseICSTime(" ", wib)
	assert.Error(t, err)
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "https://cal.example.com/...", redactURL("https://cal.example.com/private/abc.ics?token=s3cret"))
	assert.Equal(t, "(redacted)", redactURL("not a url"))
}
