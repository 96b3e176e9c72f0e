// Package rms is the risk management engine: per-user limit configuration,
// point-in-time daily snapshots, pre-trade gating and automation cues.
package rms

import (
	"context"
	"fmt"
	"sync"
	"time"

	"fandesk/internal/notify"
	"fandesk/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Violation codes, checked in this fixed order by EvaluatePreTrade.
const (
	CodeMaxOrderSize = "RMS_MAX_ORDER_SIZE"
	CodeMaxDailyLots = "RMS_MAX_DAILY_LOTS"
	CodeMaxDailyLoss = "RMS_MAX_DAILY_LOSS"
	CodeExposure     = "RMS_EXPOSURE_LIMIT"
	CodeMarginBuffer = "RMS_MARGIN_BUFFER"
)

// Violation is a pre-trade block. Callers branch on Code, not on message
// text.
type Violation struct {
	Code    string
	Message string
}

func (v *Violation) Error() string { return v.Message }

// Engine evaluates risk limits against the transactional store.
type Engine struct {
	store    *store.Store
	notifier notify.TextNotifier
	locks    *userLocks
}

func NewEngine(st *store.Store, notifier notify.TextNotifier) *Engine {
	if notifier == nil {
		notifier = notify.Noop{}
	}
	return &Engine{
		store:    st,
		notifier: notifier,
		locks:    &userLocks{m: make(map[uuid.UUID]*sync.Mutex)},
	}
}

// WithStore returns a view of the engine bound to the given store handle,
// sharing the lock table and notifier. The orchestrator uses it so pre-trade
// checks inside a fan-out transaction see that transaction's own writes.
func (e *Engine) WithStore(st *store.Store) *Engine {
	return &Engine{store: st, notifier: e.notifier, locks: e.locks}
}

type userLocks struct {
	mu sync.Mutex
	m  map[uuid.UUID]*sync.Mutex
}

// LockUser serializes risk evaluation per user and returns the unlock
// function. Concurrent order submissions for one user would otherwise race
// past limit checks between read and commit; the orchestrator holds this
// lock for the whole fan-out.
func (e *Engine) LockUser(userID uuid.UUID) func() {
	e.locks.mu.Lock()
	mu, ok := e.locks.m[userID]
	if !ok {
		mu = &sync.Mutex{}
		e.locks.m[userID] = mu
	}
	e.locks.mu.Unlock()
	mu.Lock()
	return mu.Unlock
}

// snapshot is the point-in-time daily risk picture.
type snapshot struct {
	totalLots        int
	dayPnL           decimal.Decimal
	notionalExposure decimal.Decimal
	availableMargin  decimal.Decimal
}

// dayStart returns local midnight for the daily aggregation window.
func dayStart(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
}

func (e *Engine) dailySnapshot(ctx context.Context, userID uuid.UUID) (snapshot, error) {
	start := dayStart(time.Now())
	totalLots, err := e.store.SumOrderQtySince(ctx, userID, start)
	if err != nil {
		return snapshot{}, err
	}
	tradePnL, err := e.store.SumTradePnLSince(ctx, userID, start)
	if err != nil {
		return snapshot{}, err
	}
	positions, err := e.store.ListUserPositions(ctx, userID)
	if err != nil {
		return snapshot{}, err
	}
	unrealized := decimal.Zero
	exposure := decimal.Zero
	for _, pos := range positions {
		if pos.PnL.Valid {
			unrealized = unrealized.Add(pos.PnL.Decimal)
		}
		qty := decimal.NewFromInt(int64(pos.Qty)).Abs()
		exposure = exposure.Add(qty.Mul(pos.AvgPrice))
	}
	margin, err := e.store.SumAccountMargin(ctx, userID)
	if err != nil {
		return snapshot{}, err
	}
	return snapshot{
		totalLots:        totalLots,
		dayPnL:           tradePnL.Add(unrealized),
		notionalExposure: exposure,
		availableMargin:  margin,
	}, nil
}

// OrderCheck is the per-leg input to pre-trade evaluation. Qty is the
// tradable quantity of a single leg, not the group aggregate.
type OrderCheck struct {
	Qty   int
	Price decimal.NullDecimal
}

func (c OrderCheck) notional() decimal.Decimal {
	if !c.Price.Valid {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(c.Qty)).Abs().Mul(c.Price.Decimal)
}

// EvaluatePreTrade returns a *Violation on the first breached limit, nil if
// the order passes. No side effects on success.
func (e *Engine) EvaluatePreTrade(ctx context.Context, userID uuid.UUID, check OrderCheck) error {
	rule, err := e.store.GetOrCreateRule(ctx, userID)
	if err != nil {
		return err
	}
	snap, err := e.dailySnapshot(ctx, userID)
	if err != nil {
		return err
	}

	if rule.MaxLots != nil && check.Qty > *rule.MaxLots {
		return &Violation{
			Code:    CodeMaxOrderSize,
			Message: fmt.Sprintf("Order quantity %d exceeds max lots per order %d", check.Qty, *rule.MaxLots),
		}
	}

	if rule.MaxDailyLots != nil && snap.totalLots+check.Qty > *rule.MaxDailyLots {
		return &Violation{
			Code:    CodeMaxDailyLots,
			Message: "Daily lot limit would be exceeded by this order",
		}
	}

	if rule.MaxDailyLoss.Valid && snap.dayPnL.LessThanOrEqual(rule.MaxDailyLoss.Decimal.Neg()) {
		return &Violation{
			Code:    CodeMaxDailyLoss,
			Message: "Daily loss threshold breached; new orders are blocked",
		}
	}

	if rule.ExposureLimit.Valid {
		projected := snap.notionalExposure.Add(check.notional())
		if projected.GreaterThan(rule.ExposureLimit.Decimal) {
			return &Violation{
				Code:    CodeExposure,
				Message: "Notional exposure limit reached",
			}
		}
	}

	if rule.MarginBufferPct.Valid {
		required := check.notional()
		allowed := snap.availableMargin.Mul(rule.MarginBufferPct.Decimal.Div(decimal.NewFromInt(100)))
		if !allowed.IsZero() && required.GreaterThan(allowed) {
			return &Violation{
				Code:    CodeMarginBuffer,
				Message: "Order violates configured margin buffer",
			}
		}
	}

	return nil
}
