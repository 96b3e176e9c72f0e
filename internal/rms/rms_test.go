package rms

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"fandesk/internal/model"
	"fandesk/internal/notify"
	"fandesk/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type riskFixture struct {
	store     *store.Store
	engine    *Engine
	userID    uuid.UUID
	accountID uuid.UUID
}

func newRiskFixture(t *testing.T) *riskFixture {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(filepath.Join(t.TempDir(), "rms_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	userID := uuid.New()
	bkr := model.Broker{UserID: userID, Name: "paper_trading", SessionToken: "SESSION"}
	require.NoError(t, st.CreateBroker(ctx, &bkr))
	account := model.Account{BrokerID: bkr.ID, Margin: decimal.NewFromInt(100_000)}
	require.NoError(t, st.CreateAccount(ctx, &account))

	return &riskFixture{
		store:     st,
		engine:    NewEngine(st, notify.Noop{}),
		userID:    userID,
		accountID: account.ID,
	}
}

func (f *riskFixture) addOrder(t *testing.T, qty int) model.Order {
	t.Helper()
	order := model.Order{
		AccountID: f.accountID,
		Symbol:    "NIFTY24SEPFUT",
		Side:      model.OrderSideBuy,
		Qty:       qty,
		OrderType: model.OrderTypeMarket,
		Status:    model.OrderStatusFilled,
	}
	require.NoError(t, f.store.CreateOrder(context.Background(), &order))
	return order
}

func (f *riskFixture) addTrade(t *testing.T, pnl float64) {
	t.Helper()
	order := f.addOrder(t, 1)
	trade := model.Trade{
		OrderID:   order.ID,
		FillPrice: decimal.NewFromInt(100),
		Qty:       1,
		PnL:       decimal.NewNullDecimal(decimal.NewFromFloat(pnl)),
	}
	require.NoError(t, f.store.CreateTrade(context.Background(), &trade))
}

func (f *riskFixture) addPosition(t *testing.T, qty int, avgPrice, pnl float64) {
	t.Helper()
	pos := model.Position{
		AccountID: f.accountID,
		Symbol:    "NIFTY24SEPFUT",
		Qty:       qty,
		AvgPrice:  decimal.NewFromFloat(avgPrice),
		PnL:       decimal.NewNullDecimal(decimal.NewFromFloat(pnl)),
	}
	require.NoError(t, f.store.CreatePosition(context.Background(), &pos))
}

func price(v float64) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.NewFromFloat(v))
}

func TestEvaluatePreTrade_NoLimitsPasses(t *testing.T) {
	fx := newRiskFixture(t)
	err := fx.engine.EvaluatePreTrade(context.Background(), fx.userID, OrderCheck{Qty: 1000})
	assert.NoError(t, err)
}

func TestEvaluatePreTrade_MaxOrderSize(t *testing.T) {
	fx := newRiskFixture(t)
	ctx := context.Background()
	maxLots := 10
	_, err := fx.engine.UpdateConfig(ctx, fx.userID, ConfigPatch{MaxLots: &maxLots})
	require.NoError(t, err)

	err = fx.engine.EvaluatePreTrade(ctx, fx.userID, OrderCheck{Qty: 11})
	var violation *Violation
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, CodeMaxOrderSize, violation.Code)
	assert.Equal(t, "Order quantity 11 exceeds max lots per order 10", violation.Message)

	assert.NoError(t, fx.engine.EvaluatePreTrade(ctx, fx.userID, OrderCheck{Qty: 10}))
}

func TestEvaluatePreTrade_MaxDailyLots(t *testing.T) {
	fx := newRiskFixture(t)
	ctx := context.Background()
	maxDaily := 100
	_, err := fx.engine.UpdateConfig(ctx, fx.userID, ConfigPatch{MaxDailyLots: &maxDaily})
	require.NoError(t, err)
	fx.addOrder(t, 80)

	err = fx.engine.EvaluatePreTrade(ctx, fx.userID, OrderCheck{Qty: 30})
	var violation *Violation
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, CodeMaxDailyLots, violation.Code)

	assert.NoError(t, fx.engine.EvaluatePreTrade(ctx, fx.userID, OrderCheck{Qty: 20}))
}

func TestEvaluatePreTrade_MaxDailyLossBlocksAllOrders(t *testing.T) {
	fx := newRiskFixture(t)
	ctx := context.Background()
	maxLoss := 1000.0
	_, err := fx.engine.UpdateConfig(ctx, fx.userID, ConfigPatch{MaxDailyLoss: &maxLoss})
	require.NoError(t, err)
	fx.addTrade(t, -1200)

	err = fx.engine.EvaluatePreTrade(ctx, fx.userID, OrderCheck{Qty: 1})
	var violation *Violation
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, CodeMaxDailyLoss, violation.Code)
	assert.Equal(t, "Daily loss threshold breached; new orders are blocked", violation.Message)
}

func TestEvaluatePreTrade_ExposureLimit(t *testing.T) {
	fx := newRiskFixture(t)
	ctx := context.Background()
	limit := 10_000.0
	_, err := fx.engine.UpdateConfig(ctx, fx.userID, ConfigPatch{ExposureLimit: &limit})
	require.NoError(t, err)
	fx.addPosition(t, 50, 100, 0)

	// 5000 existing + 6000 projected breaches 10000.
	err = fx.engine.EvaluatePreTrade(ctx, fx.userID, OrderCheck{Qty: 60, Price: price(100)})
	var violation *Violation
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, CodeExposure, violation.Code)

	// Priceless orders contribute no notional and pass.
	assert.NoError(t, fx.engine.EvaluatePreTrade(ctx, fx.userID, OrderCheck{Qty: 60}))
}

func TestEvaluatePreTrade_MarginBuffer(t *testing.T) {
	fx := newRiskFixture(t)
	ctx := context.Background()
	bufferPct := 50.0
	_, err := fx.engine.UpdateConfig(ctx, fx.userID, ConfigPatch{MarginBufferPct: &bufferPct})
	require.NoError(t, err)

	// Margin 100000 at 50% allows 50000 of notional.
	err = fx.engine.EvaluatePreTrade(ctx, fx.userID, OrderCheck{Qty: 600, Price: price(100)})
	var violation *Violation
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, CodeMarginBuffer, violation.Code)
	assert.Equal(t, "Order violates configured margin buffer", violation.Message)

	assert.NoError(t, fx.engine.EvaluatePreTrade(ctx, fx.userID, OrderCheck{Qty: 400, Price: price(100)}))
}

func TestEvaluatePreTrade_CheckOrder(t *testing.T) {
	fx := newRiskFixture(t)
	ctx := context.Background()
	maxLots := 10
	maxDaily := 5
	_, err := fx.engine.UpdateConfig(ctx, fx.userID, ConfigPatch{MaxLots: &maxLots, MaxDailyLots: &maxDaily})
	require.NoError(t, err)

	// Both limits would trip; the per-order check wins by position.
	err = fx.engine.EvaluatePreTrade(ctx, fx.userID, OrderCheck{Qty: 11})
	var violation *Violation
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, CodeMaxOrderSize, violation.Code)
}

func TestGetConfig_MergePatch(t *testing.T) {
	fx := newRiskFixture(t)
	ctx := context.Background()

	cfg, err := fx.engine.GetConfig(ctx, fx.userID)
	require.NoError(t, err)
	assert.True(t, cfg.NotifyEmail)
	assert.Nil(t, cfg.MaxLots)

	maxLots := 25
	cfg, err = fx.engine.UpdateConfig(ctx, fx.userID, ConfigPatch{MaxLots: &maxLots})
	require.NoError(t, err)
	require.NotNil(t, cfg.MaxLots)
	assert.Equal(t, 25, *cfg.MaxLots)

	maxLoss := 5000.0
	cfg, err = fx.engine.UpdateConfig(ctx, fx.userID, ConfigPatch{MaxDailyLoss: &maxLoss})
	require.NoError(t, err)
	require.NotNil(t, cfg.MaxLots, "earlier fields survive later patches")
	assert.Equal(t, 25, *cfg.MaxLots)
	require.NotNil(t, cfg.MaxDailyLoss)
	assert.Equal(t, 5000.0, *cfg.MaxDailyLoss)

	off := false
	cfg, err = fx.engine.UpdateConfig(ctx, fx.userID, ConfigPatch{NotifyEmail: &off})
	require.NoError(t, err)
	assert.False(t, cfg.NotifyEmail)
}

func TestGetStatus_Alerts(t *testing.T) {
	fx := newRiskFixture(t)
	ctx := context.Background()
	maxDaily := 10
	maxLoss := 1000.0
	_, err := fx.engine.UpdateConfig(ctx, fx.userID, ConfigPatch{MaxDailyLots: &maxDaily, MaxDailyLoss: &maxLoss})
	require.NoError(t, err)
	fx.addOrder(t, 9)
	fx.addTrade(t, -850)

	status, err := fx.engine.GetStatus(ctx, fx.userID)
	require.NoError(t, err)
	assert.Equal(t, 10, status.TotalLotsToday) // 9 + the trade's carrier order
	require.NotNil(t, status.LotsRemaining)
	assert.Equal(t, 0, *status.LotsRemaining)
	assert.Contains(t, status.Alerts, "Daily lot limit is nearly exhausted")
	assert.Contains(t, status.Alerts, "Daily loss approaching limit")
	require.NotNil(t, status.LossRemaining)
	assert.InDelta(t, 150.0, *status.LossRemaining, 0.01)
}

func TestDeriveCues(t *testing.T) {
	nd := func(v float64) decimal.NullDecimal { return decimal.NewNullDecimal(decimal.NewFromFloat(v)) }

	t.Run("square off on loss breach", func(t *testing.T) {
		rule := model.RmsRule{AutoSquareOffEnabled: true, MaxDailyLoss: nd(1000)}
		cues := deriveCues(rule, snapshot{dayPnL: decimal.NewFromInt(-1500)})
		require.Len(t, cues, 1)
		assert.Equal(t, CueSquareOff, cues[0].Code)
		assert.Equal(t, "Auto square-off triggered: day PnL -1500.00 breached loss limit 1000.00", cues[0].Message)
	})

	t.Run("buffer tightens the trigger", func(t *testing.T) {
		rule := model.RmsRule{
			AutoSquareOffEnabled:   true,
			MaxDailyLoss:           nd(1000),
			AutoSquareOffBufferPct: nd(20),
		}
		// Trigger at -800 with a 20% buffer.
		cues := deriveCues(rule, snapshot{dayPnL: decimal.NewFromInt(-800)})
		require.Len(t, cues, 1)
		cues = deriveCues(rule, snapshot{dayPnL: decimal.NewFromInt(-799)})
		assert.Empty(t, cues)
	})

	t.Run("buffer clamps above 100", func(t *testing.T) {
		rule := model.RmsRule{
			AutoSquareOffEnabled:   true,
			MaxDailyLoss:           nd(1000),
			AutoSquareOffBufferPct: nd(150),
		}
		// Multiplier floors at zero, so any non-positive PnL triggers.
		cues := deriveCues(rule, snapshot{dayPnL: decimal.Zero})
		require.Len(t, cues, 1)
	})

	t.Run("drawdown fallback when daily loss unset", func(t *testing.T) {
		rule := model.RmsRule{AutoSquareOffEnabled: true, DrawdownLimit: nd(500)}
		cues := deriveCues(rule, snapshot{dayPnL: decimal.NewFromInt(-600)})
		require.Len(t, cues, 1)
		assert.Equal(t, CueSquareOff, cues[0].Code)
	})

	t.Run("profit lock triggers independently", func(t *testing.T) {
		rule := model.RmsRule{AutoSquareOffEnabled: true, ProfitLock: nd(2000)}
		cues := deriveCues(rule, snapshot{dayPnL: decimal.NewFromInt(2500)})
		require.Len(t, cues, 1)
		assert.Equal(t, "Auto square-off triggered: profit lock target 2000.00 reached (PnL 2500.00)", cues[0].Message)
	})

	t.Run("disabled emits nothing", func(t *testing.T) {
		rule := model.RmsRule{MaxDailyLoss: nd(1000)}
		cues := deriveCues(rule, snapshot{dayPnL: decimal.NewFromInt(-5000)})
		assert.Empty(t, cues)
	})

	t.Run("hedge near exposure limit", func(t *testing.T) {
		rule := model.RmsRule{AutoHedgeEnabled: true, ExposureLimit: nd(10000), AutoHedgeRatio: nd(0.5)}
		cues := deriveCues(rule, snapshot{notionalExposure: decimal.NewFromInt(9500)})
		require.Len(t, cues, 1)
		assert.Equal(t, CueHedge, cues[0].Code)
		assert.Equal(t, "Auto hedge triggered: exposure 9500.00 within 10% of limit 10000.00 (ratio 0.50)", cues[0].Message)
	})

	t.Run("hedge fallback without limit", func(t *testing.T) {
		rule := model.RmsRule{AutoHedgeEnabled: true}
		cues := deriveCues(rule, snapshot{notionalExposure: decimal.NewFromInt(3000)})
		require.Len(t, cues, 1)
		// Unset ratio defaults to full coverage.
		assert.Equal(t, "Auto hedge triggered: exposure 3000.00 requires coverage (ratio 1.00)", cues[0].Message)
	})

	t.Run("hedge silent at zero exposure", func(t *testing.T) {
		rule := model.RmsRule{AutoHedgeEnabled: true}
		cues := deriveCues(rule, snapshot{})
		assert.Empty(t, cues)
	})
}

func TestHedgeRatio(t *testing.T) {
	nd := func(v float64) decimal.NullDecimal { return decimal.NewNullDecimal(decimal.NewFromFloat(v)) }
	assert.Equal(t, 1.0, hedgeRatio(model.RmsRule{}))
	assert.Equal(t, 1.0, hedgeRatio(model.RmsRule{AutoHedgeRatio: nd(0)}))
	assert.Equal(t, 0.5, hedgeRatio(model.RmsRule{AutoHedgeRatio: nd(0.5)}))
}

func TestTriggerSquareOff(t *testing.T) {
	fx := newRiskFixture(t)
	ctx := context.Background()
	fx.addPosition(t, 50, 100, -200)
	fx.addPosition(t, 0, 100, 0) // flat positions are skipped

	t.Run("manual without reason", func(t *testing.T) {
		result, err := fx.engine.TriggerSquareOff(ctx, fx.userID, "", false)
		require.NoError(t, err)
		assert.True(t, result.Triggered)
		assert.Len(t, result.Positions, 1)
		assert.Equal(t, "Square-off request recorded; execution to be handled by downstream worker", result.Message)
	})

	t.Run("automated with reason", func(t *testing.T) {
		result, err := fx.engine.TriggerSquareOff(ctx, fx.userID, "loss limit breached", true)
		require.NoError(t, err)
		assert.Equal(t, "loss limit breached", result.Message)
	})

	logs, err := fx.store.ListLogs(ctx, fx.userID, 10)
	require.NoError(t, err)
	var messages []string
	for _, entry := range logs {
		messages = append(messages, entry.Message)
	}
	assert.Contains(t, messages, "Manual RMS square-off requested")
	assert.Contains(t, messages, "Automated RMS square-off initiated: loss limit breached")
}

func TestAutoEnforce_DedupesAndNotifies(t *testing.T) {
	fx := newRiskFixture(t)
	ctx := context.Background()

	maxLoss := 1000.0
	enabled := true
	_, err := fx.engine.UpdateConfig(ctx, fx.userID, ConfigPatch{
		MaxDailyLoss:         &maxLoss,
		AutoSquareOffEnabled: &enabled,
		AutoHedgeEnabled:     &enabled,
	})
	require.NoError(t, err)
	fx.addTrade(t, -1500)
	fx.addPosition(t, 30, 100, 0)

	executed, err := fx.engine.AutoEnforce(ctx, fx.userID)
	require.NoError(t, err)
	require.Len(t, executed, 2)
	assert.Contains(t, executed[0], "positions queued")
	assert.Contains(t, executed[1], "Auto hedge triggered")

	logs, err := fx.store.ListLogs(ctx, fx.userID, 20)
	require.NoError(t, err)
	var sawSquareOffLog, sawHedgeLog, sawEmailNotification bool
	for _, entry := range logs {
		switch {
		case strings.HasPrefix(entry.Message, "Automated RMS square-off initiated:"):
			sawSquareOffLog = true
		case strings.HasPrefix(entry.Message, "Auto hedge queued (ratio 1.00):"):
			sawHedgeLog = true
		case strings.HasPrefix(entry.Message, "Notification queued via email:"):
			sawEmailNotification = true
		}
	}
	assert.True(t, sawSquareOffLog)
	assert.True(t, sawHedgeLog)
	assert.True(t, sawEmailNotification)
}

func TestAutoEnforce_NoCuesNoActions(t *testing.T) {
	fx := newRiskFixture(t)
	executed, err := fx.engine.AutoEnforce(context.Background(), fx.userID)
	require.NoError(t, err)
	assert.Empty(t, executed)
}

func TestLockUser_Serializes(t *testing.T) {
	fx := newRiskFixture(t)
	unlock := fx.engine.LockUser(fx.userID)
	acquired := make(chan struct{})
	go func() {
		u := fx.engine.LockUser(fx.userID)
		close(acquired)
		u()
	}()
	select {
	case <-acquired:
		t.Fatal("second lock acquired while first still held")
	case <-time.After(50 * time.Millisecond):
	}
	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second lock never acquired after release")
	}
}

func TestWithStore_SharesLockTable(t *testing.T) {
	fx := newRiskFixture(t)
	view := fx.engine.WithStore(fx.store)
	assert.Same(t, fx.engine.locks, view.locks)
}
