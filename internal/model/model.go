package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusFilled    OrderStatus = "FILLED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusRejected  OrderStatus = "REJECTED"
)

type BrokerStatus string

const (
	BrokerStatusConnected    BrokerStatus = "connected"
	BrokerStatusDisconnected BrokerStatus = "disconnected"
	BrokerStatusExpired      BrokerStatus = "expired"
	BrokerStatusError        BrokerStatus = "error"
)

// ExecutionMode is descriptive metadata on a group; fan-out is always
// sequential regardless of mode.
type ExecutionMode string

const (
	ExecutionModeSync      ExecutionMode = "sync"
	ExecutionModeParallel  ExecutionMode = "parallel"
	ExecutionModeStaggered ExecutionMode = "staggered"
)

type AllocationPolicy string

const (
	AllocationProportional AllocationPolicy = "proportional"
	AllocationFixed        AllocationPolicy = "fixed"
	AllocationWeighted     AllocationPolicy = "weighted"
)

type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

type LogType string

const (
	LogTypeRms    LogType = "rms"
	LogTypeSystem LogType = "system"
)

// Broker is one connected broker login owned by a user.
type Broker struct {
	ID           uuid.UUID    `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	UserID       uuid.UUID    `gorm:"column:user_id;type:uuid;index" json:"user_id"`
	Name         string       `gorm:"column:broker_name;size:100" json:"broker_name"`
	ClientCode   string       `gorm:"column:client_code;size:64" json:"client_code"`
	SessionToken string       `gorm:"column:session_token;size:512" json:"-"`
	Status       BrokerStatus `gorm:"column:status;size:32" json:"status"`
	CreatedAt    time.Time    `gorm:"column:created_at" json:"created_at"`
}

func (Broker) TableName() string { return "brokers" }

// Account belongs to exactly one broker.
type Account struct {
	ID        uuid.UUID       `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	BrokerID  uuid.UUID       `gorm:"column:broker_id;type:uuid;index" json:"broker_id"`
	Margin    decimal.Decimal `gorm:"column:margin;type:numeric" json:"margin"`
	Currency  string          `gorm:"column:currency;size:3" json:"currency"`
	CreatedAt time.Time       `gorm:"column:created_at" json:"created_at"`
}

func (Account) TableName() string { return "accounts" }

// Position is a running per-symbol net quantity for an account.
type Position struct {
	ID        uuid.UUID           `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	AccountID uuid.UUID           `gorm:"column:account_id;type:uuid;index" json:"account_id"`
	Symbol    string              `gorm:"column:symbol;size:100" json:"symbol"`
	Qty       int                 `gorm:"column:qty" json:"qty"`
	AvgPrice  decimal.Decimal     `gorm:"column:avg_price;type:numeric" json:"avg_price"`
	PnL       decimal.NullDecimal `gorm:"column:pnl;type:numeric" json:"pnl"`
	UpdatedAt time.Time           `gorm:"column:updated_at" json:"updated_at"`
}

func (Position) TableName() string { return "positions" }

type Order struct {
	ID            uuid.UUID           `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	AccountID     uuid.UUID           `gorm:"column:account_id;type:uuid;index" json:"account_id"`
	StrategyID    *uuid.UUID          `gorm:"column:strategy_id;type:uuid" json:"strategy_id,omitempty"`
	Symbol        string              `gorm:"column:symbol;size:100" json:"symbol"`
	Side          OrderSide           `gorm:"column:side;size:8" json:"side"`
	Qty           int                 `gorm:"column:qty" json:"qty"`
	OrderType     OrderType           `gorm:"column:order_type;size:16" json:"order_type"`
	Price         decimal.NullDecimal `gorm:"column:price;type:numeric" json:"price"`
	Status        OrderStatus         `gorm:"column:status;size:16" json:"status"`
	BrokerOrderID string              `gorm:"column:broker_order_id;size:100" json:"broker_order_id"`
	TPPrice       decimal.NullDecimal `gorm:"column:tp_price;type:numeric" json:"tp_price"`
	SLPrice       decimal.NullDecimal `gorm:"column:sl_price;type:numeric" json:"sl_price"`
	CreatedAt     time.Time           `gorm:"column:created_at;index" json:"created_at"`
	UpdatedAt     time.Time           `gorm:"column:updated_at" json:"updated_at"`
}

func (Order) TableName() string { return "orders" }

// Trade is a realized fill tied to an order.
type Trade struct {
	ID        uuid.UUID           `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	OrderID   uuid.UUID           `gorm:"column:order_id;type:uuid;index" json:"order_id"`
	FillPrice decimal.Decimal     `gorm:"column:fill_price;type:numeric" json:"fill_price"`
	Qty       int                 `gorm:"column:qty" json:"qty"`
	PnL       decimal.NullDecimal `gorm:"column:pnl;type:numeric" json:"pnl"`
	Timestamp time.Time           `gorm:"column:timestamp;index" json:"timestamp"`
}

func (Trade) TableName() string { return "trades" }

// ExecutionGroup fans one intended trade out across its member accounts.
type ExecutionGroup struct {
	ID          uuid.UUID     `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	UserID      uuid.UUID     `gorm:"column:user_id;type:uuid;index" json:"user_id"`
	Name        string        `gorm:"column:name;size:100" json:"name"`
	Description string        `gorm:"column:description" json:"description"`
	Mode        ExecutionMode `gorm:"column:mode;size:16" json:"mode"`
	CreatedAt   time.Time     `gorm:"column:created_at" json:"created_at"`
	UpdatedAt   time.Time     `gorm:"column:updated_at" json:"updated_at"`
}

func (ExecutionGroup) TableName() string { return "execution_groups" }

// ExecutionGroupAccount links a group to a trading account and carries the
// allocation policy for that leg.
type ExecutionGroupAccount struct {
	ID        uuid.UUID        `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	GroupID   uuid.UUID        `gorm:"column:group_id;type:uuid;index" json:"group_id"`
	AccountID uuid.UUID        `gorm:"column:account_id;type:uuid;index" json:"account_id"`
	Policy    AllocationPolicy `gorm:"column:allocation_policy;size:16" json:"allocation_policy"`
	Weight    *float64         `gorm:"column:weight" json:"weight,omitempty"`
	FixedLots *int             `gorm:"column:fixed_lots" json:"fixed_lots,omitempty"`
	CreatedAt time.Time        `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time        `gorm:"column:updated_at" json:"updated_at"`
}

func (ExecutionGroupAccount) TableName() string { return "execution_group_accounts" }

// ExecutionRun is one fan-out attempt. Terminal states: completed, failed.
type ExecutionRun struct {
	ID            uuid.UUID      `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	GroupID       uuid.UUID      `gorm:"column:group_id;type:uuid;index" json:"group_id"`
	StrategyRunID *uuid.UUID     `gorm:"column:strategy_run_id;type:uuid" json:"strategy_run_id,omitempty"`
	RequestedAt   time.Time      `gorm:"column:requested_at;index" json:"requested_at"`
	CompletedAt   *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
	Status        RunStatus      `gorm:"column:status;size:32" json:"status"`
	Payload       datatypes.JSON `gorm:"column:payload" json:"payload"`
}

func (ExecutionRun) TableName() string { return "execution_runs" }

// ExecutionRunEvent is the append-only audit trail, one row per attempted leg.
// Account/broker/order references are nullable: a leg may fail before an
// order exists.
type ExecutionRunEvent struct {
	ID          uuid.UUID      `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	RunID       uuid.UUID      `gorm:"column:run_id;type:uuid;index" json:"run_id"`
	AccountID   *uuid.UUID     `gorm:"column:account_id;type:uuid" json:"account_id,omitempty"`
	BrokerID    *uuid.UUID     `gorm:"column:broker_id;type:uuid" json:"broker_id,omitempty"`
	OrderID     *uuid.UUID     `gorm:"column:order_id;type:uuid" json:"order_id,omitempty"`
	Status      string         `gorm:"column:status;size:32" json:"status"`
	LatencyMs   *float64       `gorm:"column:latency_ms" json:"latency_ms,omitempty"`
	RequestedAt time.Time      `gorm:"column:requested_at" json:"requested_at"`
	CompletedAt *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
	Message     string         `gorm:"column:message;size:255" json:"message,omitempty"`
	Metadata    datatypes.JSON `gorm:"column:metadata" json:"metadata,omitempty"`
}

func (ExecutionRunEvent) TableName() string { return "execution_run_events" }

// RmsRule holds the per-user risk limits and automation switches. One row per
// user, created lazily on first access.
type RmsRule struct {
	ID                     uuid.UUID           `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	UserID                 uuid.UUID           `gorm:"column:user_id;type:uuid;uniqueIndex" json:"user_id"`
	MaxLoss                decimal.NullDecimal `gorm:"column:max_loss;type:numeric" json:"max_loss"`
	MaxLots                *int                `gorm:"column:max_lots" json:"max_lots"`
	ProfitLock             decimal.NullDecimal `gorm:"column:profit_lock;type:numeric" json:"profit_lock"`
	TrailingSL             decimal.NullDecimal `gorm:"column:trailing_sl;type:numeric" json:"trailing_sl"`
	MaxDailyLoss           decimal.NullDecimal `gorm:"column:max_daily_loss;type:numeric" json:"max_daily_loss"`
	MaxDailyLots           *int                `gorm:"column:max_daily_lots" json:"max_daily_lots"`
	ExposureLimit          decimal.NullDecimal `gorm:"column:exposure_limit;type:numeric" json:"exposure_limit"`
	MarginBufferPct        decimal.NullDecimal `gorm:"column:margin_buffer_pct;type:numeric" json:"margin_buffer_pct"`
	DrawdownLimit          decimal.NullDecimal `gorm:"column:drawdown_limit;type:numeric" json:"drawdown_limit"`
	AutoSquareOffEnabled   bool                `gorm:"column:auto_square_off_enabled" json:"auto_square_off_enabled"`
	AutoSquareOffBufferPct decimal.NullDecimal `gorm:"column:auto_square_off_buffer_pct;type:numeric" json:"auto_square_off_buffer_pct"`
	AutoHedgeEnabled       bool                `gorm:"column:auto_hedge_enabled" json:"auto_hedge_enabled"`
	AutoHedgeRatio         decimal.NullDecimal `gorm:"column:auto_hedge_ratio;type:numeric" json:"auto_hedge_ratio"`
	NotifyEmail            bool                `gorm:"column:notify_email" json:"notify_email"`
	NotifyTelegram         bool                `gorm:"column:notify_telegram" json:"notify_telegram"`
	CreatedAt              time.Time           `gorm:"column:created_at" json:"created_at"`
	UpdatedAt              time.Time           `gorm:"column:updated_at" json:"updated_at"`
}

func (RmsRule) TableName() string { return "rms_rules" }

// LogEntry is the audit log written by RMS actions and notification fan-out.
type LogEntry struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	UserID    uuid.UUID `gorm:"column:user_id;type:uuid;index" json:"user_id"`
	Type      LogType   `gorm:"column:type;size:16" json:"type"`
	Message   string    `gorm:"column:message" json:"message"`
	CreatedAt time.Time `gorm:"column:created_at;index" json:"created_at"`
}

func (LogEntry) TableName() string { return "log_entries" }

// NewID returns a fresh v4 UUID for entity identity.
func NewID() uuid.UUID { return uuid.New() }
