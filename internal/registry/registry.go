// Package registry manages execution groups and their account fan-out
// configuration.
package registry

import (
	"context"
	"strings"

	"fandesk/internal/allocation"
	"fandesk/internal/model"
	"fandesk/internal/store"

	"github.com/google/uuid"
)

// Service owns group and mapping CRUD plus allocation previews.
type Service struct {
	store *store.Store
}

func NewService(st *store.Store) *Service {
	return &Service{store: st}
}

// GroupCreate is the input for a new execution group.
type GroupCreate struct {
	Name        string              `json:"name"`
	Description string              `json:"description"`
	Mode        model.ExecutionMode `json:"mode"`
}

// GroupUpdate is a merge patch over a group's mutable fields.
type GroupUpdate struct {
	Name        *string              `json:"name"`
	Description *string              `json:"description"`
	Mode        *model.ExecutionMode `json:"mode"`
}

// AccountCreate adds one account mapping to a group.
type AccountCreate struct {
	AccountID uuid.UUID              `json:"account_id"`
	Policy    model.AllocationPolicy `json:"allocation_policy"`
	Weight    *float64               `json:"weight"`
	FixedLots *int                   `json:"fixed_lots"`
}

// AccountUpdate is a merge patch over a mapping's policy fields.
type AccountUpdate struct {
	Policy    *model.AllocationPolicy `json:"allocation_policy"`
	Weight    *float64                `json:"weight"`
	FixedLots *int                    `json:"fixed_lots"`
}

func (s *Service) CreateGroup(ctx context.Context, userID uuid.UUID, in GroupCreate) (model.ExecutionGroup, error) {
	group := model.ExecutionGroup{
		UserID:      userID,
		Name:        strings.TrimSpace(in.Name),
		Description: in.Description,
		Mode:        in.Mode,
	}
	if err := s.store.CreateGroup(ctx, &group); err != nil {
		return model.ExecutionGroup{}, err
	}
	return group, nil
}

func (s *Service) ListGroups(ctx context.Context, userID uuid.UUID) ([]model.ExecutionGroup, error) {
	return s.store.ListGroups(ctx, userID)
}

func (s *Service) UpdateGroup(ctx context.Context, userID, groupID uuid.UUID, in GroupUpdate) (model.ExecutionGroup, error) {
	group, err := s.store.GetGroup(ctx, userID, groupID)
	if err != nil {
		return model.ExecutionGroup{}, err
	}
	if in.Name != nil {
		group.Name = strings.TrimSpace(*in.Name)
	}
	if in.Description != nil {
		group.Description = *in.Description
	}
	if in.Mode != nil {
		group.Mode = *in.Mode
	}
	if err := s.store.SaveGroup(ctx, &group); err != nil {
		return model.ExecutionGroup{}, err
	}
	return group, nil
}

func (s *Service) DeleteGroup(ctx context.Context, userID, groupID uuid.UUID) error {
	return s.store.DeleteGroup(ctx, userID, groupID)
}

// AddAccount maps an account into the group after checking the account
// belongs to the same user.
func (s *Service) AddAccount(ctx context.Context, userID, groupID uuid.UUID, in AccountCreate) (model.ExecutionGroupAccount, error) {
	group, err := s.store.GetGroup(ctx, userID, groupID)
	if err != nil {
		return model.ExecutionGroupAccount{}, err
	}
	if _, _, err := s.store.GetAccountForUser(ctx, userID, in.AccountID); err != nil {
		return model.ExecutionGroupAccount{}, err
	}
	mapping := model.ExecutionGroupAccount{
		GroupID:   group.ID,
		AccountID: in.AccountID,
		Policy:    in.Policy,
		Weight:    in.Weight,
		FixedLots: in.FixedLots,
	}
	if err := s.store.AddGroupAccount(ctx, &mapping); err != nil {
		return model.ExecutionGroupAccount{}, err
	}
	return mapping, nil
}

func (s *Service) UpdateAccount(ctx context.Context, userID, groupID, mappingID uuid.UUID, in AccountUpdate) (model.ExecutionGroupAccount, error) {
	group, err := s.store.GetGroup(ctx, userID, groupID)
	if err != nil {
		return model.ExecutionGroupAccount{}, err
	}
	mapping, err := s.store.GetGroupAccount(ctx, group.ID, mappingID)
	if err != nil {
		return model.ExecutionGroupAccount{}, err
	}
	if in.Policy != nil {
		mapping.Policy = *in.Policy
	}
	if in.Weight != nil {
		mapping.Weight = in.Weight
	}
	if in.FixedLots != nil {
		mapping.FixedLots = in.FixedLots
	}
	if err := s.store.SaveGroupAccount(ctx, &mapping); err != nil {
		return model.ExecutionGroupAccount{}, err
	}
	return mapping, nil
}

func (s *Service) RemoveAccount(ctx context.Context, userID, groupID, mappingID uuid.UUID) error {
	group, err := s.store.GetGroup(ctx, userID, groupID)
	if err != nil {
		return err
	}
	return s.store.RemoveGroupAccount(ctx, group.ID, mappingID)
}

// PreviewAllocation resolves the group's mappings and runs the allocation
// engine without touching any broker.
func (s *Service) PreviewAllocation(ctx context.Context, userID, groupID uuid.UUID, totalLots int) ([]allocation.Allocation, error) {
	group, err := s.store.GetGroup(ctx, userID, groupID)
	if err != nil {
		return nil, err
	}
	mappings, err := s.store.ListGroupAccounts(ctx, group.ID)
	if err != nil {
		return nil, err
	}
	inputs := make([]allocation.AccountInput, 0, len(mappings))
	for _, m := range mappings {
		account, bkr, err := s.store.GetAccountForUser(ctx, userID, m.AccountID)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, allocation.AccountInput{
			AccountID: account.ID,
			BrokerID:  bkr.ID,
			Policy:    m.Policy,
			Weight:    m.Weight,
			FixedLots: m.FixedLots,
		})
	}
	return allocation.Allocate(inputs, totalLots)
}

// GroupRuns lists the group's execution runs, newest first.
func (s *Service) GroupRuns(ctx context.Context, userID, groupID uuid.UUID) ([]model.ExecutionRun, error) {
	group, err := s.store.GetGroup(ctx, userID, groupID)
	if err != nil {
		return nil, err
	}
	return s.store.ListRuns(ctx, group.ID)
}

// RunOrders lists the orders created by one run, in event order.
func (s *Service) RunOrders(ctx context.Context, userID, groupID, runID uuid.UUID) ([]model.Order, error) {
	group, err := s.store.GetGroup(ctx, userID, groupID)
	if err != nil {
		return nil, err
	}
	run, err := s.store.GetRun(ctx, group.ID, runID)
	if err != nil {
		return nil, err
	}
	return s.store.ListRunOrders(ctx, run.ID)
}

// RunEvents lists the audit trail of one run.
func (s *Service) RunEvents(ctx context.Context, userID, groupID, runID uuid.UUID) ([]model.ExecutionRunEvent, error) {
	group, err := s.store.GetGroup(ctx, userID, groupID)
	if err != nil {
		return nil, err
	}
	run, err := s.store.GetRun(ctx, group.ID, runID)
	if err != nil {
		return nil, err
	}
	return s.store.ListRunEvents(ctx, run.ID)
}
