// Package broker defines the adapter contract every broker integration
// implements, plus the error taxonomy the orchestrator branches on. Real
// broker wire protocols live outside this repository; the paper adapter is
// the reference implementation.
package broker

import (
	"time"

	"github.com/shopspring/decimal"
)

// Session is an authenticated broker session.
type Session struct {
	Token     string
	ExpiresAt *time.Time
	Metadata  map[string]string
}

// OrderRequest is the broker-neutral order shape.
type OrderRequest struct {
	Symbol     string
	Side       string
	Quantity   int
	OrderType  string
	Price      decimal.NullDecimal
	StopLoss   decimal.NullDecimal
	TakeProfit decimal.NullDecimal
	StrategyID string
}

// OrderResult is what an adapter reports back for a placed order.
type OrderResult struct {
	OrderID  string
	Status   string
	Metadata map[string]any
}

// Adapter is the per-broker integration contract.
type Adapter interface {
	Name() string
	Connect(credentials map[string]string) (Session, error)
	PlaceOrder(sessionToken string, req OrderRequest) (OrderResult, error)
	CancelOrder(sessionToken, orderID string) (bool, error)
	GetMargin(sessionToken string) (map[string]decimal.Decimal, error)
}

// AuthError means the session is invalid or expired and must be refreshed.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string { return e.Message }

// OrderError is a request-level rejection by the broker.
type OrderError struct {
	Message string
}

func (e *OrderError) Error() string { return e.Message }

// CallError is a transient broker-side failure.
type CallError struct {
	Message string
}

func (e *CallError) Error() string { return e.Message }
