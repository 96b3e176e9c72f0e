package store

import (
	"context"
	"time"

	"fandesk/internal/model"

	"github.com/google/uuid"
)

// ------------------------------ Groups ------------------------------

func (s *Store) CreateGroup(ctx context.Context, g *model.ExecutionGroup) error {
	if err := s.guard(); err != nil {
		return err
	}
	now := time.Now()
	if g.ID == uuid.Nil {
		g.ID = model.NewID()
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = now
	}
	if g.UpdatedAt.IsZero() {
		g.UpdatedAt = now
	}
	if g.Mode == "" {
		g.Mode = model.ExecutionModeSync
	}
	return s.db.WithContext(ctx).Create(g).Error
}

// GetGroup resolves a group and enforces ownership by the given user.
func (s *Store) GetGroup(ctx context.Context, userID, groupID uuid.UUID) (model.ExecutionGroup, error) {
	var group model.ExecutionGroup
	if err := s.guard(); err != nil {
		return group, err
	}
	err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", groupID, userID).
		First(&group).Error
	return group, notFound(err)
}

func (s *Store) ListGroups(ctx context.Context, userID uuid.UUID) ([]model.ExecutionGroup, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	var groups []model.ExecutionGroup
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&groups).Error
	return groups, err
}

func (s *Store) SaveGroup(ctx context.Context, g *model.ExecutionGroup) error {
	if err := s.guard(); err != nil {
		return err
	}
	g.UpdatedAt = time.Now()
	return s.db.WithContext(ctx).Save(g).Error
}

// DeleteGroup removes the group and cascades to its account mappings, runs
// and run events. Cascades are explicit: sqlite FK enforcement is disabled
// during migration, so relationship cleanup lives here.
func (s *Store) DeleteGroup(ctx context.Context, userID, groupID uuid.UUID) error {
	if err := s.guard(); err != nil {
		return err
	}
	if _, err := s.GetGroup(ctx, userID, groupID); err != nil {
		return err
	}
	return s.Transaction(ctx, func(tx *Store) error {
		var runIDs []uuid.UUID
		if err := tx.db.Model(&model.ExecutionRun{}).
			Where("group_id = ?", groupID).
			Pluck("id", &runIDs).Error; err != nil {
			return err
		}
		if len(runIDs) > 0 {
			if err := tx.db.Where("run_id IN ?", runIDs).
				Delete(&model.ExecutionRunEvent{}).Error; err != nil {
				return err
			}
		}
		if err := tx.db.Where("group_id = ?", groupID).
			Delete(&model.ExecutionRun{}).Error; err != nil {
			return err
		}
		if err := tx.db.Where("group_id = ?", groupID).
			Delete(&model.ExecutionGroupAccount{}).Error; err != nil {
			return err
		}
		return tx.db.Where("id = ?", groupID).
			Delete(&model.ExecutionGroup{}).Error
	})
}

// --------------------------- Group accounts ---------------------------

func (s *Store) AddGroupAccount(ctx context.Context, m *model.ExecutionGroupAccount) error {
	if err := s.guard(); err != nil {
		return err
	}
	now := time.Now()
	if m.ID == uuid.Nil {
		m.ID = model.NewID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = now
	}
	if m.Policy == "" {
		m.Policy = model.AllocationProportional
	}
	return s.db.WithContext(ctx).Create(m).Error
}

func (s *Store) GetGroupAccount(ctx context.Context, groupID, mappingID uuid.UUID) (model.ExecutionGroupAccount, error) {
	var mapping model.ExecutionGroupAccount
	if err := s.guard(); err != nil {
		return mapping, err
	}
	err := s.db.WithContext(ctx).
		Where("id = ? AND group_id = ?", mappingID, groupID).
		First(&mapping).Error
	return mapping, notFound(err)
}

func (s *Store) SaveGroupAccount(ctx context.Context, m *model.ExecutionGroupAccount) error {
	if err := s.guard(); err != nil {
		return err
	}
	m.UpdatedAt = time.Now()
	return s.db.WithContext(ctx).Save(m).Error
}

func (s *Store) RemoveGroupAccount(ctx context.Context, groupID, mappingID uuid.UUID) error {
	if err := s.guard(); err != nil {
		return err
	}
	res := s.db.WithContext(ctx).
		Where("id = ? AND group_id = ?", mappingID, groupID).
		Delete(&model.ExecutionGroupAccount{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListGroupAccounts returns the group's account mappings in creation order,
// which is the order the allocation engine preserves.
func (s *Store) ListGroupAccounts(ctx context.Context, groupID uuid.UUID) ([]model.ExecutionGroupAccount, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	var mappings []model.ExecutionGroupAccount
	err := s.db.WithContext(ctx).
		Where("group_id = ?", groupID).
		Order("created_at ASC").
		Find(&mappings).Error
	return mappings, err
}

// ------------------------------- Runs -------------------------------

func (s *Store) CreateRun(ctx context.Context, r *model.ExecutionRun) error {
	if err := s.guard(); err != nil {
		return err
	}
	if r.ID == uuid.Nil {
		r.ID = model.NewID()
	}
	if r.RequestedAt.IsZero() {
		r.RequestedAt = time.Now()
	}
	if r.Status == "" {
		r.Status = model.RunStatusPending
	}
	return s.db.WithContext(ctx).Create(r).Error
}

func (s *Store) SaveRun(ctx context.Context, r *model.ExecutionRun) error {
	if err := s.guard(); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Save(r).Error
}

func (s *Store) GetRun(ctx context.Context, groupID, runID uuid.UUID) (model.ExecutionRun, error) {
	var run model.ExecutionRun
	if err := s.guard(); err != nil {
		return run, err
	}
	err := s.db.WithContext(ctx).
		Where("id = ? AND group_id = ?", runID, groupID).
		First(&run).Error
	return run, notFound(err)
}

func (s *Store) ListRuns(ctx context.Context, groupID uuid.UUID) ([]model.ExecutionRun, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	var runs []model.ExecutionRun
	err := s.db.WithContext(ctx).
		Where("group_id = ?", groupID).
		Order("requested_at DESC").
		Find(&runs).Error
	return runs, err
}

func (s *Store) CreateRunEvent(ctx context.Context, e *model.ExecutionRunEvent) error {
	if err := s.guard(); err != nil {
		return err
	}
	if e.ID == uuid.Nil {
		e.ID = model.NewID()
	}
	if e.RequestedAt.IsZero() {
		e.RequestedAt = time.Now()
	}
	return s.db.WithContext(ctx).Create(e).Error
}

func (s *Store) ListRunEvents(ctx context.Context, runID uuid.UUID) ([]model.ExecutionRunEvent, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	var events []model.ExecutionRunEvent
	err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("requested_at ASC").
		Find(&events).Error
	return events, err
}

// CountRunEvents reports how many events exist for a run.
func (s *Store) CountRunEvents(ctx context.Context, runID uuid.UUID) (int, error) {
	if err := s.guard(); err != nil {
		return 0, err
	}
	var total int64
	err := s.db.WithContext(ctx).Model(&model.ExecutionRunEvent{}).
		Where("run_id = ?", runID).
		Count(&total).Error
	return int(total), err
}

// ListRunOrders returns the orders referenced by a run's events.
func (s *Store) ListRunOrders(ctx context.Context, runID uuid.UUID) ([]model.Order, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	var orders []model.Order
	err := s.db.WithContext(ctx).Model(&model.Order{}).
		Joins("JOIN execution_run_events ON execution_run_events.order_id = orders.id").
		Where("execution_run_events.run_id = ?", runID).
		Find(&orders).Error
	return orders, err
}
