// Package analytics rebuilds viewer sessions and engagement statistics from
// the raw event stream of one frozen snapshot.
package analytics

import (
	"sort"
	"time"

	"proppy/api/internal/metrics"
)

type Kind string

const (
	KindLoad          Kind = "load"
	KindPing          Kind = "ping"
	KindOutboundClick Kind = "outbound_click"
)

func (k Kind) Valid() bool {
	switch k {
	case KindLoad, KindPing, KindOutboundClick:
		return true
	}
	return false
}

type Event struct {
	ViewerUID string
	Kind      Kind
	Payload   map[string]any
	CreatedAt time.Time
}

func (e Event) ip() string {
	ip, _ := e.Payload["ip"].(string)
	return ip
}

// Session is a span of one viewer's activity, in epoch seconds. End is
// SessionEndUnset when no ping arrived.
type Session struct {
	Start   int64          `json:"start"`
	End     int64          `json:"end"`
	Length  int64          `json:"length"`
	Payload map[string]any `json:"data"`
}

type ClickCount struct {
	URL   string `json:"url"`
	Count int    `json:"count"`
}

type Summary struct {
	NumberViews          int          `json:"numberViews"`
	LastSessionTimestamp int64        `json:"lastSessionTimestamp"`
	OutboundClicks       []ClickCount `json:"outboundClicks"`
	Sessions             []Session    `json:"sessions"`
	AverageSessionLength int64        `json:"averageSessionLength"`
}

// unpingedSessionLength is the length credited to a session that never
// received a ping.
const unpingedSessionLength = 1

// SessionEndUnset is the End of a session that never received a ping.
const SessionEndUnset int64 = -1

// Reconstructor drops events coming from ignored addresses before computing
// a Summary.
type Reconstructor struct {
	ignored map[string]struct{}
}

func NewReconstructor(ignoredIPs []string) *Reconstructor {
	ignored := make(map[string]struct{}, len(ignoredIPs))
	for _, ip := range ignoredIPs {
		ignored[ip] = struct{}{}
	}
	return &Reconstructor{ignored: ignored}
}

// Reconstruct computes the summary for events in chronological order. It is
// a pure function of its input.
func (r *Reconstructor) Reconstruct(events []Event) Summary {
	started := time.Now()
	defer func() { metrics.ReconstructDuration.Observe(time.Since(started).Seconds()) }()

	kept := make([]Event, 0, len(events))
	for _, event := range events {
		if _, skip := r.ignored[event.ip()]; skip {
			continue
		}
		kept = append(kept, event)
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].CreatedAt.Before(kept[j].CreatedAt)
	})

	summary := Summary{
		OutboundClicks: countClicks(kept),
		Sessions:       []Session{},
	}
	for _, event := range kept {
		if event.Kind == KindLoad {
			summary.NumberViews++
			summary.LastSessionTimestamp = event.CreatedAt.Unix()
		}
	}

	for _, group := range groupByViewer(kept) {
		summary.Sessions = append(summary.Sessions, viewerSessions(group)...)
	}

	if len(summary.Sessions) > 0 {
		var total int64
		for _, session := range summary.Sessions {
			total += session.Length
		}
		summary.AverageSessionLength = total / int64(len(summary.Sessions))
		sort.SliceStable(summary.Sessions, func(i, j int) bool {
			return summary.Sessions[i].Start > summary.Sessions[j].Start
		})
	}
	return summary
}

func countClicks(events []Event) []ClickCount {
	out := []ClickCount{}
	index := map[string]int{}
	for _, event := range events {
		if event.Kind != KindOutboundClick {
			continue
		}
		url, ok := event.Payload["url"].(string)
		if !ok {
			continue
		}
		if i, seen := index[url]; seen {
			out[i].Count++
			continue
		}
		index[url] = len(out)
		out = append(out, ClickCount{URL: url, Count: 1})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Count > out[j].Count
	})
	return out
}

// groupByViewer splits load and ping events per viewer, viewers in ascending
// uid order, each group in chronological order.
func groupByViewer(events []Event) [][]Event {
	byViewer := map[string][]Event{}
	var viewers []string
	for _, event := range events {
		if event.Kind != KindLoad && event.Kind != KindPing {
			continue
		}
		if _, ok := byViewer[event.ViewerUID]; !ok {
			viewers = append(viewers, event.ViewerUID)
		}
		byViewer[event.ViewerUID] = append(byViewer[event.ViewerUID], event)
	}
	sort.Strings(viewers)

	out := make([][]Event, 0, len(viewers))
	for _, viewer := range viewers {
		out = append(out, byViewer[viewer])
	}
	return out
}

type openSession struct {
	start   int64
	end     int64
	pinged  bool
	payload map[string]any
}

func (s *openSession) close() Session {
	length := int64(unpingedSessionLength)
	end := SessionEndUnset
	if s.pinged {
		end = s.end
		length = s.end - s.start
	}
	return Session{Start: s.start, End: end, Length: length, Payload: s.payload}
}

// viewerSessions walks one viewer's events in processing order. A ping is
// credited to whichever session is open when it is processed, even if it was
// sent for an earlier one.
func viewerSessions(events []Event) []Session {
	var out []Session
	var current *openSession
	for _, event := range events {
		switch event.Kind {
		case KindLoad:
			if current != nil {
				out = append(out, current.close())
			}
			current = &openSession{start: event.CreatedAt.Unix(), payload: event.Payload}
		case KindPing:
			if current == nil {
				continue
			}
			current.end = event.CreatedAt.Unix()
			current.pinged = true
		}
	}
	if current != nil {
		out = append(out, current.close())
	}
	return out
}
