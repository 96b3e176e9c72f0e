package broker

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaperAdapter simulates broker behaviour for paper trading environments.
// Market orders fill immediately; limit orders stay pending. State is held
// in memory per adapter instance.
type PaperAdapter struct {
	mu           sync.Mutex
	sessions     map[string]string
	orders       map[string]paperOrder
	orderCounter int
}

type paperOrder struct {
	symbol    string
	side      string
	qty       int
	orderType string
	status    string
	placedAt  time.Time
}

func NewPaperAdapter() *PaperAdapter {
	return &PaperAdapter{
		sessions: make(map[string]string),
		orders:   make(map[string]paperOrder),
	}
}

func (p *PaperAdapter) Name() string { return "paper_trading" }

// Aliases returns the lookup aliases the registry should bind.
func (p *PaperAdapter) Aliases() []string {
	return []string{"paper", "paper-trading", "simulator"}
}

func (p *PaperAdapter) Connect(credentials map[string]string) (Session, error) {
	clientCode := credentials["client_code"]
	if clientCode == "" {
		clientCode = "paper"
	}
	token := "PAPER-" + strings.ReplaceAll(uuid.New().String(), "-", "")
	p.mu.Lock()
	p.sessions[token] = clientCode
	p.mu.Unlock()
	return Session{Token: token, Metadata: map[string]string{"client_code": clientCode}}, nil
}

func (p *PaperAdapter) validSession(token string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.sessions[token]
	return ok
}

func (p *PaperAdapter) PlaceOrder(sessionToken string, req OrderRequest) (OrderResult, error) {
	if sessionToken == "" || !p.validSession(sessionToken) {
		return OrderResult{}, &AuthError{Message: "paper trading session invalid; connect again"}
	}
	if req.Quantity <= 0 {
		return OrderResult{}, &OrderError{Message: fmt.Sprintf("invalid order quantity %d", req.Quantity)}
	}
	status := "PENDING"
	if req.OrderType == "MARKET" {
		status = "FILLED"
	}
	now := time.Now().UTC()
	p.mu.Lock()
	p.orderCounter++
	orderID := fmt.Sprintf("PAPER-ORD-%06d", p.orderCounter)
	p.orders[orderID] = paperOrder{
		symbol:    req.Symbol,
		side:      req.Side,
		qty:       req.Quantity,
		orderType: req.OrderType,
		status:    status,
		placedAt:  now,
	}
	p.mu.Unlock()
	metadata := map[string]any{
		"symbol":     req.Symbol,
		"side":       req.Side,
		"qty":        req.Quantity,
		"order_type": req.OrderType,
		"timestamp":  now.Format(time.RFC3339Nano),
	}
	return OrderResult{OrderID: orderID, Status: status, Metadata: metadata}, nil
}

func (p *PaperAdapter) CancelOrder(sessionToken, orderID string) (bool, error) {
	if !p.validSession(sessionToken) {
		return false, &AuthError{Message: "paper trading session invalid; connect again"}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	order, ok := p.orders[orderID]
	if !ok {
		return false, nil
	}
	order.status = "CANCELLED"
	p.orders[orderID] = order
	return true, nil
}

// GetMargin returns a static snapshot suitable for paper trading demos.
func (p *PaperAdapter) GetMargin(sessionToken string) (map[string]decimal.Decimal, error) {
	if !p.validSession(sessionToken) {
		return nil, &AuthError{Message: "paper trading session invalid; connect again"}
	}
	return map[string]decimal.Decimal{
		"available": decimal.NewFromInt(1_000_000),
		"utilized":  decimal.Zero,
	}, nil
}
