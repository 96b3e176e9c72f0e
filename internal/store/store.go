package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"fandesk/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrNotFound is returned for unknown groups, accounts, runs and mappings.
var ErrNotFound = errors.New("record not found")

// Store implements the transactional persistence layer over Gorm + SQLite.
// All writes inside a Transaction callback share one commit/rollback boundary.
type Store struct {
	db *gorm.DB
}

// Open initializes the store at the given sqlite path and migrates the schema.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("store: sqlite path cannot be empty")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	models := []interface{}{
		&model.Broker{},
		&model.Account{},
		&model.Position{},
		&model.Order{},
		&model.Trade{},
		&model.ExecutionGroup{},
		&model.ExecutionGroupAccount{},
		&model.ExecutionRun{},
		&model.ExecutionRunEvent{},
		&model.RmsRule{},
		&model.LogEntry{},
	}
	if err := db.AutoMigrate(models...); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: a little parallelism for HTTP reads, low lock contention.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Transaction runs fn inside one database transaction. A returned error
// rolls back every write made through the transaction-scoped store.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("store not initialized")
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

func (s *Store) guard() error {
	if s == nil || s.db == nil {
		return fmt.Errorf("store not initialized")
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// --------------------------- Brokers / Accounts ---------------------------

func (s *Store) CreateBroker(ctx context.Context, b *model.Broker) error {
	if err := s.guard(); err != nil {
		return err
	}
	if b.ID == uuid.Nil {
		b.ID = model.NewID()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	if b.Status == "" {
		b.Status = model.BrokerStatusConnected
	}
	return s.db.WithContext(ctx).Create(b).Error
}

func (s *Store) CreateAccount(ctx context.Context, a *model.Account) error {
	if err := s.guard(); err != nil {
		return err
	}
	if a.ID == uuid.Nil {
		a.ID = model.NewID()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	if a.Currency == "" {
		a.Currency = "INR"
	}
	return s.db.WithContext(ctx).Create(a).Error
}

// GetAccountForUser resolves an account together with its broker and checks
// that the broker belongs to the given user.
func (s *Store) GetAccountForUser(ctx context.Context, userID, accountID uuid.UUID) (model.Account, model.Broker, error) {
	var account model.Account
	var broker model.Broker
	if err := s.guard(); err != nil {
		return account, broker, err
	}
	if err := s.db.WithContext(ctx).Where("id = ?", accountID).First(&account).Error; err != nil {
		return account, broker, notFound(err)
	}
	if err := s.db.WithContext(ctx).Where("id = ?", account.BrokerID).First(&broker).Error; err != nil {
		return account, broker, notFound(err)
	}
	if broker.UserID != userID {
		return account, broker, ErrNotFound
	}
	return account, broker, nil
}

func (s *Store) UpdateBrokerSession(ctx context.Context, brokerID uuid.UUID, token string, status model.BrokerStatus) error {
	if err := s.guard(); err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Model(&model.Broker{}).
		Where("id = ?", brokerID).
		Updates(map[string]interface{}{"session_token": token, "status": status})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ----------------------- Orders / Trades / Positions -----------------------

func (s *Store) CreateOrder(ctx context.Context, o *model.Order) error {
	if err := s.guard(); err != nil {
		return err
	}
	now := time.Now()
	if o.ID == uuid.Nil {
		o.ID = model.NewID()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = now
	}
	if o.Status == "" {
		o.Status = model.OrderStatusPending
	}
	return s.db.WithContext(ctx).Create(o).Error
}

func (s *Store) CreateTrade(ctx context.Context, t *model.Trade) error {
	if err := s.guard(); err != nil {
		return err
	}
	if t.ID == uuid.Nil {
		t.ID = model.NewID()
	}
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now()
	}
	return s.db.WithContext(ctx).Create(t).Error
}

func (s *Store) CreatePosition(ctx context.Context, p *model.Position) error {
	if err := s.guard(); err != nil {
		return err
	}
	if p.ID == uuid.Nil {
		p.ID = model.NewID()
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now()
	}
	return s.db.WithContext(ctx).Create(p).Error
}

// userOrderJoin scopes an orders query to brokers owned by the user.
func (s *Store) userOrderJoin(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Model(&model.Order{}).
		Joins("JOIN accounts ON accounts.id = orders.account_id").
		Joins("JOIN brokers ON brokers.id = accounts.broker_id")
}

// SumOrderQtySince returns the total ordered quantity for the user since the
// given instant.
func (s *Store) SumOrderQtySince(ctx context.Context, userID uuid.UUID, since time.Time) (int, error) {
	if err := s.guard(); err != nil {
		return 0, err
	}
	var total int64
	err := s.userOrderJoin(ctx).
		Where("brokers.user_id = ? AND orders.created_at >= ?", userID, since).
		Select("COALESCE(SUM(orders.qty), 0)").
		Scan(&total).Error
	return int(total), err
}

// SumTradePnLSince returns the realized trade PnL for the user since the
// given instant.
func (s *Store) SumTradePnLSince(ctx context.Context, userID uuid.UUID, since time.Time) (decimal.Decimal, error) {
	if err := s.guard(); err != nil {
		return decimal.Zero, err
	}
	var total float64
	err := s.db.WithContext(ctx).Model(&model.Trade{}).
		Joins("JOIN orders ON orders.id = trades.order_id").
		Joins("JOIN accounts ON accounts.id = orders.account_id").
		Joins("JOIN brokers ON brokers.id = accounts.broker_id").
		Where("brokers.user_id = ? AND trades.timestamp >= ?", userID, since).
		Select("COALESCE(SUM(trades.pnl), 0)").
		Scan(&total).Error
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromFloat(total), nil
}

// ListUserPositions returns every position across the user's accounts.
func (s *Store) ListUserPositions(ctx context.Context, userID uuid.UUID) ([]model.Position, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	var positions []model.Position
	err := s.db.WithContext(ctx).Model(&model.Position{}).
		Joins("JOIN accounts ON accounts.id = positions.account_id").
		Joins("JOIN brokers ON brokers.id = accounts.broker_id").
		Where("brokers.user_id = ?", userID).
		Find(&positions).Error
	return positions, err
}

// SumAccountMargin returns the total margin across the user's accounts.
func (s *Store) SumAccountMargin(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	if err := s.guard(); err != nil {
		return decimal.Zero, err
	}
	var total float64
	err := s.db.WithContext(ctx).Model(&model.Account{}).
		Joins("JOIN brokers ON brokers.id = accounts.broker_id").
		Where("brokers.user_id = ?", userID).
		Select("COALESCE(SUM(accounts.margin), 0)").
		Scan(&total).Error
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromFloat(total), nil
}
