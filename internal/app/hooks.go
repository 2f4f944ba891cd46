package app

import (
	"context"
	"errors"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"proppy/api/internal/store"
	"proppy/api/internal/triggers"
	"proppy/api/internal/util"
)

type HookInput struct {
	Trigger   string `json:"trigger"`
	TargetURL string `json:"targetUrl"`
}

func (in HookInput) Validate() error {
	kinds := make([]any, 0, len(triggers.Kinds()))
	for _, kind := range triggers.Kinds() {
		kinds = append(kinds, string(kind))
	}
	return validation.ValidateStruct(&in,
		validation.Field(&in.Trigger, validation.Required, validation.In(kinds...)),
		validation.Field(&in.TargetURL, validation.Required, is.URL),
	)
}

// SubscribeHook registers a webhook target for one trigger. Subscribing the
// same target twice is a no-op.
func (s *Service) SubscribeHook(ctx context.Context, session Session, input HookInput) (store.HookEndpoint, error) {
	if err := input.Validate(); err != nil {
		return store.HookEndpoint{}, validationFailed(err)
	}
	endpoint := store.HookEndpoint{
		ID:        util.NewID("hook"),
		CompanyID: session.CompanyID,
		Trigger:   input.Trigger,
		TargetURL: input.TargetURL,
		CreatedAt: s.now(),
	}
	if err := s.store.InsertHookEndpoint(ctx, endpoint); err != nil {
		return store.HookEndpoint{}, err
	}
	existing, err := s.store.ListHookEndpoints(ctx, session.CompanyID, input.Trigger)
	if err != nil {
		return store.HookEndpoint{}, err
	}
	for _, hook := range existing {
		if hook.TargetURL == input.TargetURL {
			return hook, nil
		}
	}
	return endpoint, nil
}

func (s *Service) UnsubscribeHook(ctx context.Context, session Session, endpointID string) error {
	err := s.store.DeleteHookEndpoint(ctx, session.CompanyID, endpointID)
	if errors.Is(err, store.ErrNotFound) {
		return notFound("Hook not found")
	}
	return err
}

func (s *Service) ListHooks(ctx context.Context, session Session) ([]store.HookEndpoint, error) {
	return s.store.ListHookEndpoints(ctx, session.CompanyID, "")
}
