package triggers

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"proppy/api/internal/logging"
	"proppy/api/internal/metrics"
)

// Kind is the closed set of proposal lifecycle triggers.
type Kind string

const (
	ProposalCreated    Kind = "proposal_created"
	ProposalMovedTo    Kind = "proposal_moved_to"
	ProposalDuplicated Kind = "proposal_duplicated"
	ProposalPublished  Kind = "proposal_published"
)

func Kinds() []Kind {
	return []Kind{ProposalCreated, ProposalMovedTo, ProposalDuplicated, ProposalPublished}
}

func (k Kind) Valid() bool {
	for _, known := range Kinds() {
		if k == known {
			return true
		}
	}
	return false
}

// Event is one fired trigger for a tenant.
type Event struct {
	Kind       Kind
	CompanyID  string
	Payload    map[string]any
	OccurredAt time.Time
}

// Subscriber reacts to fired events.
type Subscriber interface {
	Deliver(ctx context.Context, event Event) error
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(ctx context.Context, event Event) error

func (f SubscriberFunc) Deliver(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Dispatcher routes each kind to its subscriber list.
type Dispatcher struct {
	table   map[Kind][]Subscriber
	timeout time.Duration
}

func NewDispatcher() *Dispatcher {
	table := make(map[Kind][]Subscriber, len(Kinds()))
	for _, kind := range Kinds() {
		table[kind] = nil
	}
	return &Dispatcher{table: table, timeout: 30 * time.Second}
}

// Subscribe registers s for kind. Unknown kinds are ignored.
func (d *Dispatcher) Subscribe(kind Kind, s Subscriber) {
	if _, ok := d.table[kind]; !ok {
		return
	}
	d.table[kind] = append(d.table[kind], s)
}

// SubscribeAll registers s for every kind.
func (d *Dispatcher) SubscribeAll(s Subscriber) {
	for _, kind := range Kinds() {
		d.Subscribe(kind, s)
	}
}

// Dispatch delivers synchronously and joins subscriber errors.
func (d *Dispatcher) Dispatch(ctx context.Context, event Event) error {
	subscribers, ok := d.table[event.Kind]
	if !ok {
		return errors.New("unknown trigger " + string(event.Kind))
	}
	var errs []error
	for _, s := range subscribers {
		if err := s.Deliver(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Fire delivers in the background; failures are logged only.
func (d *Dispatcher) Fire(event Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if len(d.table[event.Kind]) == 0 {
		return
	}
	logging.SafeGo("triggers."+string(event.Kind), func() {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := d.Dispatch(ctx, event); err != nil {
			metrics.BackgroundFailures.WithLabelValues("trigger").Inc()
			logging.Log.WithFields(logrus.Fields{
				"trigger": event.Kind,
				"company": event.CompanyID,
			}).WithError(err).Warn("trigger delivery failed")
		}
	})
}

// LogSubscriber records every event in the service log.
func LogSubscriber() Subscriber {
	return SubscriberFunc(func(_ context.Context, event Event) error {
		logging.Log.WithFields(logrus.Fields{
			"trigger": event.Kind,
			"company": event.CompanyID,
			"payload": event.Payload,
		}).Info("trigger fired")
		return nil
	})
}
