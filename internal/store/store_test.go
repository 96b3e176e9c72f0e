package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"fandesk/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "store_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func seedAccount(t *testing.T, st *Store, userID uuid.UUID) (model.Broker, model.Account) {
	t.Helper()
	ctx := context.Background()
	bkr := model.Broker{UserID: userID, Name: "paper_trading", SessionToken: "TOKEN"}
	require.NoError(t, st.CreateBroker(ctx, &bkr))
	account := model.Account{BrokerID: bkr.ID, Margin: decimal.NewFromInt(75_000)}
	require.NoError(t, st.CreateAccount(ctx, &account))
	return bkr, account
}

func TestOpen_EmptyPath(t *testing.T) {
	_, err := Open("  ")
	assert.Error(t, err)
}

func TestGetAccountForUser_Ownership(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	owner := uuid.New()
	_, account := seedAccount(t, st, owner)

	got, bkr, err := st.GetAccountForUser(ctx, owner, account.ID)
	require.NoError(t, err)
	assert.Equal(t, account.ID, got.ID)
	assert.Equal(t, "paper_trading", bkr.Name)

	_, _, err = st.GetAccountForUser(ctx, uuid.New(), account.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, _, err = st.GetAccountForUser(ctx, owner, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateBrokerSession(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	userID := uuid.New()
	bkr, account := seedAccount(t, st, userID)

	require.NoError(t, st.UpdateBrokerSession(ctx, bkr.ID, "", model.BrokerStatusExpired))
	_, got, err := st.GetAccountForUser(ctx, userID, account.ID)
	require.NoError(t, err)
	assert.Empty(t, got.SessionToken)
	assert.Equal(t, model.BrokerStatusExpired, got.Status)

	assert.ErrorIs(t, st.UpdateBrokerSession(ctx, uuid.New(), "x", model.BrokerStatusConnected), ErrNotFound)
}

func TestDeleteGroup_Cascades(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	userID := uuid.New()
	_, account := seedAccount(t, st, userID)

	group := model.ExecutionGroup{UserID: userID, Name: "cascade"}
	require.NoError(t, st.CreateGroup(ctx, &group))
	mapping := model.ExecutionGroupAccount{GroupID: group.ID, AccountID: account.ID}
	require.NoError(t, st.AddGroupAccount(ctx, &mapping))
	run := model.ExecutionRun{GroupID: group.ID, Status: model.RunStatusCompleted}
	require.NoError(t, st.CreateRun(ctx, &run))
	event := model.ExecutionRunEvent{RunID: run.ID, Status: "filled"}
	require.NoError(t, st.CreateRunEvent(ctx, &event))

	require.NoError(t, st.DeleteGroup(ctx, userID, group.ID))

	_, err := st.GetGroup(ctx, userID, group.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	mappings, err := st.ListGroupAccounts(ctx, group.ID)
	require.NoError(t, err)
	assert.Empty(t, mappings)
	runs, err := st.ListRuns(ctx, group.ID)
	require.NoError(t, err)
	assert.Empty(t, runs)
	count, err := st.CountRunEvents(ctx, run.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestDeleteGroup_WrongUser(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	group := model.ExecutionGroup{UserID: uuid.New(), Name: "mine"}
	require.NoError(t, st.CreateGroup(ctx, &group))
	assert.ErrorIs(t, st.DeleteGroup(ctx, uuid.New(), group.ID), ErrNotFound)
}

func TestGetOrCreateRule_Lazy(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	userID := uuid.New()

	rule, err := st.GetOrCreateRule(ctx, userID)
	require.NoError(t, err)
	assert.True(t, rule.NotifyEmail)
	assert.Nil(t, rule.MaxLots)
	assert.False(t, rule.MaxDailyLoss.Valid)

	again, err := st.GetOrCreateRule(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, rule.ID, again.ID)
}

func TestDailyAggregates(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	userID := uuid.New()
	_, account := seedAccount(t, st, userID)

	yesterday := time.Now().Add(-24 * time.Hour)
	old := model.Order{
		AccountID: account.ID, Symbol: "X", Side: model.OrderSideBuy,
		Qty: 99, OrderType: model.OrderTypeMarket, CreatedAt: yesterday, UpdatedAt: yesterday,
	}
	require.NoError(t, st.CreateOrder(ctx, &old))
	fresh := model.Order{
		AccountID: account.ID, Symbol: "X", Side: model.OrderSideBuy,
		Qty: 7, OrderType: model.OrderTypeMarket,
	}
	require.NoError(t, st.CreateOrder(ctx, &fresh))

	oldTrade := model.Trade{
		OrderID: old.ID, FillPrice: decimal.NewFromInt(10), Qty: 99,
		PnL: decimal.NewNullDecimal(decimal.NewFromInt(-500)), Timestamp: yesterday,
	}
	require.NoError(t, st.CreateTrade(ctx, &oldTrade))
	freshTrade := model.Trade{
		OrderID: fresh.ID, FillPrice: decimal.NewFromInt(10), Qty: 7,
		PnL: decimal.NewNullDecimal(decimal.NewFromInt(120)),
	}
	require.NoError(t, st.CreateTrade(ctx, &freshTrade))

	since := time.Now().Add(-time.Hour)
	qty, err := st.SumOrderQtySince(ctx, userID, since)
	require.NoError(t, err)
	assert.Equal(t, 7, qty)

	pnl, err := st.SumTradePnLSince(ctx, userID, since)
	require.NoError(t, err)
	assert.True(t, pnl.Equal(decimal.NewFromInt(120)), "got %s", pnl)

	// Another user's window stays empty.
	qty, err = st.SumOrderQtySince(ctx, uuid.New(), since)
	require.NoError(t, err)
	assert.Zero(t, qty)
}

func TestSumAccountMargin(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	userID := uuid.New()
	bkr, _ := seedAccount(t, st, userID)
	second := model.Account{BrokerID: bkr.ID, Margin: decimal.NewFromInt(25_000)}
	require.NoError(t, st.CreateAccount(ctx, &second))

	total, err := st.SumAccountMargin(ctx, userID)
	require.NoError(t, err)
	assert.True(t, total.Equal(decimal.NewFromInt(100_000)), "got %s", total)
}

func TestTransaction_RollsBackOnError(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	userID := uuid.New()

	errBoom := assert.AnError
	err := st.Transaction(ctx, func(tx *Store) error {
		group := model.ExecutionGroup{UserID: userID, Name: "doomed"}
		if err := tx.CreateGroup(ctx, &group); err != nil {
			return err
		}
		return errBoom
	})
	assert.ErrorIs(t, err, errBoom)

	groups, err := st.ListGroups(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func TestListRunsOrdering(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	group := model.ExecutionGroup{UserID: uuid.New(), Name: "runs"}
	require.NoError(t, st.CreateGroup(ctx, &group))

	first := model.ExecutionRun{GroupID: group.ID, RequestedAt: time.Now().Add(-time.Minute)}
	require.NoError(t, st.CreateRun(ctx, &first))
	second := model.ExecutionRun{GroupID: group.ID}
	require.NoError(t, st.CreateRun(ctx, &second))

	runs, err := st.ListRuns(ctx, group.ID)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second.ID, runs[0].ID, "newest first")
}
