package app

import (
	"context"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"golang.org/x/sync/errgroup"

	"proppy/api/internal/analytics"
	"proppy/api/internal/blocks"
	"proppy/api/internal/logging"
	"proppy/api/internal/metrics"
	"proppy/api/internal/store"
	"proppy/api/internal/util"
)

type EventInput struct {
	ViewerUID string         `json:"userUid"`
	Kind      string         `json:"kind"`
	Payload   map[string]any `json:"data"`
}

func (in EventInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.ViewerUID, validation.Required, validation.Length(1, 64)),
		validation.Field(&in.Kind, validation.Required, validation.In(
			string(analytics.KindLoad), string(analytics.KindPing), string(analytics.KindOutboundClick),
		)),
	)
}

// Client describes where a public request came from.
type Client struct {
	IP        string
	UserAgent string
}

var crawlerAgents = []string{"Googlebot", "Google Web Preview"}

// skip reports why a client's events are not recorded, or "".
func (c Client) skip() string {
	if c.IP == "127.0.0.1" || c.IP == "::1" {
		return "localhost"
	}
	for _, agent := range crawlerAgents {
		if strings.Contains(c.UserAgent, agent) {
			return "crawler"
		}
	}
	return ""
}

// IngestEvent appends a viewer event to a version. Events on signed
// proposals, from localhost or from crawlers are dropped silently.
func (s *Service) IngestEvent(ctx context.Context, shareUID string, version int, input EventInput, client Client) error {
	if err := input.Validate(); err != nil {
		metrics.EventsIngested.WithLabelValues(input.Kind, "invalid").Inc()
		return validationFailed(err)
	}
	proposal, snapshot, err := s.resolveShared(ctx, shareUID, version)
	if err != nil {
		return err
	}
	signed, err := s.store.IsSigned(ctx, proposal.ID)
	if err != nil {
		return err
	}
	if signed {
		metrics.EventsIngested.WithLabelValues(input.Kind, "signed").Inc()
		return nil
	}
	if reason := client.skip(); reason != "" {
		metrics.EventsIngested.WithLabelValues(input.Kind, reason).Inc()
		return nil
	}

	payload := blocks.ClonePayload(input.Payload)
	if payload == nil {
		payload = map[string]any{}
	}
	payload["ip"] = client.IP
	payload["city"] = ""
	payload["country"] = ""

	event := store.Event{
		ID:         util.NewID("evt"),
		SnapshotID: snapshot.ID,
		ViewerUID:  input.ViewerUID,
		Kind:       input.Kind,
		Payload:    payload,
		CreatedAt:  s.now(),
	}
	if err := s.store.InsertEvent(ctx, event); err != nil {
		return err
	}
	metrics.EventsIngested.WithLabelValues(input.Kind, "stored").Inc()

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, snapshot.ID); err != nil {
			logging.Log.WithError(err).WithField("snapshot", snapshot.ID).Warn("invalidate analytics cache")
		}
	}
	return nil
}

// VersionAnalytics is the engagement report of one shared version.
type VersionAnalytics struct {
	Version      int               `json:"version"`
	Title        string            `json:"title"`
	CreatedAt    time.Time         `json:"createdAt"`
	CommentCount int               `json:"commentCount"`
	Analytics    analytics.Summary `json:"analytics"`
}

const overviewConcurrency = 4

// AnalyticsOverview reports every shared version of a proposal, newest first.
func (s *Service) AnalyticsOverview(ctx context.Context, session Session, proposalID string) ([]VersionAnalytics, error) {
	proposal, err := s.ownedProposal(ctx, session, proposalID, false)
	if err != nil {
		return nil, err
	}
	snapshots, err := s.store.ListSnapshots(ctx, proposal.ID)
	if err != nil {
		return nil, err
	}

	out := make([]VersionAnalytics, len(snapshots))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(overviewConcurrency)
	for i, snapshot := range snapshots {
		group.Go(func() error {
			summary, err := s.snapshotSummary(groupCtx, snapshot.ID)
			if err != nil {
				return err
			}
			comments, err := s.store.CountComments(groupCtx, snapshot.ID)
			if err != nil {
				return err
			}
			out[i] = VersionAnalytics{
				Version:      snapshot.Version,
				Title:        snapshot.Title,
				CreatedAt:    snapshot.CreatedAt,
				CommentCount: comments,
				Analytics:    summary,
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) snapshotSummary(ctx context.Context, snapshotID string) (analytics.Summary, error) {
	if s.cache != nil {
		summary, ok, err := s.cache.Get(ctx, snapshotID)
		if err != nil {
			logging.Log.WithError(err).WithField("snapshot", snapshotID).Warn("read analytics cache")
		}
		if ok {
			return summary, nil
		}
	}

	rows, err := s.store.ListEvents(ctx, snapshotID)
	if err != nil {
		return analytics.Summary{}, err
	}
	events := make([]analytics.Event, 0, len(rows))
	for _, row := range rows {
		events = append(events, analytics.Event{
			ViewerUID: row.ViewerUID,
			Kind:      analytics.Kind(row.Kind),
			Payload:   row.Payload,
			CreatedAt: row.CreatedAt,
		})
	}
	summary := s.analytics.Reconstruct(events)

	if s.cache != nil {
		if err := s.cache.Set(ctx, snapshotID, summary); err != nil {
			logging.Log.WithError(err).WithField("snapshot", snapshotID).Warn("write analytics cache")
		}
	}
	return summary, nil
}
