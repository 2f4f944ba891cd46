package app

import (
	"context"
	"errors"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"proppy/api/internal/store"
	"proppy/api/internal/util"
)

type ClientInput struct {
	Name string `json:"name"`
}

func (in ClientInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Name, validation.Required, validation.Length(1, 64)),
	)
}

func (s *Service) ListClients(ctx context.Context, session Session) ([]store.Client, error) {
	return s.store.ListClients(ctx, session.CompanyID)
}

// CreateClient returns the company's client with that name, creating it on
// first use.
func (s *Service) CreateClient(ctx context.Context, session Session, input ClientInput) (store.Client, error) {
	if err := input.Validate(); err != nil {
		return store.Client{}, validationFailed(err)
	}
	return s.clientByName(ctx, session.CompanyID, input.Name)
}

func (s *Service) RenameClient(ctx context.Context, session Session, clientID string, input ClientInput) (store.Client, error) {
	if err := input.Validate(); err != nil {
		return store.Client{}, validationFailed(err)
	}
	client, err := s.ownedClient(ctx, session, clientID)
	if err != nil {
		return store.Client{}, err
	}
	client.Name = strings.TrimSpace(input.Name)
	client.UpdatedAt = s.now()
	if err := s.store.UpdateClient(ctx, client); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return store.Client{}, precondition("A client with this name already exists")
		}
		return store.Client{}, err
	}
	return client, nil
}

// DeleteClient removes a client. Its proposals stay, without a client.
func (s *Service) DeleteClient(ctx context.Context, session Session, clientID string) error {
	client, err := s.ownedClient(ctx, session, clientID)
	if err != nil {
		return err
	}
	return s.store.DeleteClient(ctx, client.ID)
}

// ownedClient loads a client of the session's company. Clients of other
// companies are reported as missing.
func (s *Service) ownedClient(ctx context.Context, session Session, clientID string) (store.Client, error) {
	client, err := s.store.GetClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Client{}, notFound("Client not found")
		}
		return store.Client{}, err
	}
	if client.CompanyID != session.CompanyID {
		return store.Client{}, notFound("Client not found")
	}
	return client, nil
}

func (s *Service) clientByName(ctx context.Context, companyID, name string) (store.Client, error) {
	name = strings.TrimSpace(name)
	client, err := s.store.FindClientByName(ctx, companyID, name)
	if err == nil {
		return client, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return store.Client{}, err
	}

	now := s.now()
	client = store.Client{
		ID:        util.NewID("cli"),
		CompanyID: companyID,
		Name:      name,
		Contacts:  []string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.InsertClient(ctx, client); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return s.store.FindClientByName(ctx, companyID, name)
		}
		return store.Client{}, err
	}
	return client, nil
}

// proposalClient resolves the client fields of a save. A client id must
// belong to the company; a client name is found or created; neither clears
// the client.
func (s *Service) proposalClient(ctx context.Context, companyID string, clientID, clientName *string) (*string, error) {
	if clientName != nil && strings.TrimSpace(*clientName) != "" {
		client, err := s.clientByName(ctx, companyID, *clientName)
		if err != nil {
			return nil, err
		}
		return &client.ID, nil
	}
	if clientID == nil || *clientID == "" {
		return nil, nil
	}
	client, err := s.store.GetClient(ctx, *clientID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if err != nil || client.CompanyID != companyID {
		return nil, validationFailed(validation.Errors{"clientId": errors.New("client not found")})
	}
	return &client.ID, nil
}

// addClientContacts merges recipients into the contacts of the proposal's
// client.
func (s *Service) addClientContacts(ctx context.Context, proposal store.Proposal, recipients []string) error {
	if proposal.ClientID == nil || len(recipients) == 0 {
		return nil
	}
	client, err := s.store.GetClient(ctx, *proposal.ClientID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	merged := uniqueEmails(append(append([]string{}, client.Contacts...), recipients...))
	if len(merged) == len(client.Contacts) {
		return nil
	}
	client.Contacts = merged
	client.UpdatedAt = s.now()
	return s.store.UpdateClient(ctx, client)
}
