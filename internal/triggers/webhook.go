package triggers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"

	"proppy/api/internal/logging"
	"proppy/api/internal/store"
)

// Endpoints lists and prunes registered hook endpoints.
type Endpoints interface {
	ListHookEndpoints(ctx context.Context, companyID, trigger string) ([]store.HookEndpoint, error)
	DeleteHookEndpoint(ctx context.Context, companyID, endpointID string) error
}

// Webhooks posts the event payload as JSON to every endpoint registered for
// the event's company and kind.
type Webhooks struct {
	endpoints       Endpoints
	client          *http.Client
	maxTries        uint
	initialInterval time.Duration
}

func NewWebhooks(endpoints Endpoints, client *http.Client) *Webhooks {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Webhooks{
		endpoints:       endpoints,
		client:          client,
		maxTries:        3,
		initialInterval: time.Second,
	}
}

var errGone = errors.New("hook endpoint gone")

func (w *Webhooks) Deliver(ctx context.Context, event Event) error {
	targets, err := w.endpoints.ListHookEndpoints(ctx, event.CompanyID, string(event.Kind))
	if err != nil {
		return fmt.Errorf("list hook endpoints: %w", err)
	}
	if len(targets) == 0 {
		logging.Log.WithFields(logrus.Fields{"trigger": event.Kind, "company": event.CompanyID}).Debug("no hooks registered")
		return nil
	}

	body, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	var errs []error
	for _, target := range targets {
		err := w.post(ctx, target.TargetURL, body)
		if errors.Is(err, errGone) {
			if delErr := w.endpoints.DeleteHookEndpoint(ctx, target.CompanyID, target.ID); delErr != nil && !errors.Is(delErr, store.ErrNotFound) {
				errs = append(errs, delErr)
			}
			logging.Log.WithField("target", target.TargetURL).Info("removed gone hook endpoint")
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", target.TargetURL, err))
		}
	}
	return errors.Join(errs...)
}

func (w *Webhooks) post(ctx context.Context, url string, body []byte) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = w.initialInterval
	policy.Multiplier = 2

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := w.client.Do(req)
		if err != nil {
			return struct{}{}, err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)

		switch {
		case resp.StatusCode == http.StatusGone:
			return struct{}{}, backoff.Permanent(errGone)
		case resp.StatusCode >= 500:
			return struct{}{}, fmt.Errorf("hook responded %d", resp.StatusCode)
		case resp.StatusCode >= 400:
			return struct{}{}, backoff.Permanent(fmt.Errorf("hook responded %d", resp.StatusCode))
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(policy), backoff.WithMaxTries(w.maxTries))
	return err
}
