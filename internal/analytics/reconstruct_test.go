package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Unix(1_700_000_000, 0).UTC()

func at(seconds int) time.Time {
	return epoch.Add(time.Duration(seconds) * time.Second)
}

func load(viewer string, seconds int) Event {
	return Event{ViewerUID: viewer, Kind: KindLoad, Payload: map[string]any{"ip": "203.0.113.7"}, CreatedAt: at(seconds)}
}

func ping(viewer string, seconds int) Event {
	return Event{ViewerUID: viewer, Kind: KindPing, Payload: map[string]any{}, CreatedAt: at(seconds)}
}

func click(viewer, url string, seconds int) Event {
	return Event{ViewerUID: viewer, Kind: KindOutboundClick, Payload: map[string]any{"url": url}, CreatedAt: at(seconds)}
}

func lengths(sessions []Session) []int64 {
	out := make([]int64, 0, len(sessions))
	for _, session := range sessions {
		out = append(out, session.Length)
	}
	return out
}

func TestReconstructWorkedExample(t *testing.T) {
	events := []Event{
		load("v1", 0),
		load("v2", 10),
		ping("v1", 15),
		ping("v1", 30),
	}

	summary := NewReconstructor(nil).Reconstruct(events)

	assert.Equal(t, 2, summary.NumberViews)
	require.Len(t, summary.Sessions, 2)
	assert.Equal(t, at(10).Unix(), summary.Sessions[0].Start)
	assert.Equal(t, int64(1), summary.Sessions[0].Length)
	assert.Equal(t, Session{Start: at(0).Unix(), End: at(30).Unix(), Length: 30, Payload: events[0].Payload}, summary.Sessions[1])
	assert.Equal(t, int64(15), summary.AverageSessionLength)
	assert.Equal(t, at(10).Unix(), summary.LastSessionTimestamp)
}

func TestReconstructMultipleSessionsAndViewers(t *testing.T) {
	first := []Event{
		load("u1", 0), ping("u1", 15), ping("u1", 30),
		load("u1", 500), ping("u1", 555),
		load("u2", 10), ping("u2", 50),
		click("u2", "proppy.io", 60), click("u1", "google.io", 61), click("u1", "proppy.io", 62),
	}
	summary := NewReconstructor(nil).Reconstruct(first)
	assert.Equal(t, 3, summary.NumberViews)
	assert.Equal(t, []ClickCount{{URL: "proppy.io", Count: 2}, {URL: "google.io", Count: 1}}, summary.OutboundClicks)
	assert.Equal(t, []int64{55, 40, 30}, lengths(summary.Sessions))
	assert.Equal(t, int64(41), summary.AverageSessionLength)

	second := []Event{
		load("u1", 0), load("u2", 10), ping("u2", 25), click("u1", "google.io", 30),
	}
	summary = NewReconstructor(nil).Reconstruct(second)
	assert.Equal(t, 2, summary.NumberViews)
	assert.Equal(t, []ClickCount{{URL: "google.io", Count: 1}}, summary.OutboundClicks)
	assert.Equal(t, []int64{15, 1}, lengths(summary.Sessions))
}

func TestReconstructClickTiesKeepEncounterOrder(t *testing.T) {
	summary := NewReconstructor(nil).Reconstruct([]Event{
		click("v", "b", 1), click("v", "a", 2), click("v", "a", 3), click("v", "c", 4), click("v", "b", 5),
	})
	assert.Equal(t, []ClickCount{{URL: "b", Count: 2}, {URL: "a", Count: 2}, {URL: "c", Count: 1}}, summary.OutboundClicks)
	assert.Empty(t, summary.Sessions)
	assert.Zero(t, summary.AverageSessionLength)
}

func TestReconstructDropsIgnoredIPs(t *testing.T) {
	internal := map[string]any{"ip": "52.48.10.88", "url": "a"}
	events := []Event{
		{ViewerUID: "bot", Kind: KindLoad, Payload: internal, CreatedAt: at(0)},
		{ViewerUID: "bot", Kind: KindPing, Payload: internal, CreatedAt: at(20)},
		{ViewerUID: "bot", Kind: KindOutboundClick, Payload: internal, CreatedAt: at(21)},
		load("human", 5),
	}

	summary := NewReconstructor([]string{"52.48.10.88"}).Reconstruct(events)

	assert.Equal(t, 1, summary.NumberViews)
	assert.Empty(t, summary.OutboundClicks)
	require.Len(t, summary.Sessions, 1)
	assert.Equal(t, at(5).Unix(), summary.Sessions[0].Start)
}

func TestReconstructDiscardsPingWithoutLoad(t *testing.T) {
	summary := NewReconstructor(nil).Reconstruct([]Event{ping("v", 0), ping("v", 5), load("v", 10)})
	require.Len(t, summary.Sessions, 1)
	assert.Equal(t, int64(1), summary.Sessions[0].Length)
}

func TestReconstructNewLoadClosesUnpingedSession(t *testing.T) {
	summary := NewReconstructor(nil).Reconstruct([]Event{load("v", 0), load("v", 100), ping("v", 130)})
	assert.Equal(t, []int64{30, 1}, lengths(summary.Sessions))
	assert.Equal(t, SessionEndUnset, summary.Sessions[1].End)
}

// A ping sent for the first session but processed after the second load is
// credited to the second session.
func TestReconstructLatePingCreditsOpenSession(t *testing.T) {
	events := []Event{
		load("v", 0),
		ping("v", 10),
		load("v", 20),
		ping("v", 25),
	}

	summary := NewReconstructor(nil).Reconstruct(events)

	require.Len(t, summary.Sessions, 2)
	assert.Equal(t, Session{Start: at(20).Unix(), End: at(25).Unix(), Length: 5, Payload: events[2].Payload}, summary.Sessions[0])
	assert.Equal(t, int64(10), summary.Sessions[1].Length)
}

func TestReconstructEmpty(t *testing.T) {
	summary := NewReconstructor(nil).Reconstruct(nil)
	assert.Zero(t, summary.NumberViews)
	assert.Zero(t, summary.LastSessionTimestamp)
	assert.NotNil(t, summary.Sessions)
	assert.NotNil(t, summary.OutboundClicks)
}

func TestKindValid(t *testing.T) {
	assert.True(t, KindOutboundClick.Valid())
	assert.False(t, Kind("scroll").Valid())
}
