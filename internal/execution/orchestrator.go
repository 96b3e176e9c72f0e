// Package execution drives the multi-leg fan-out of one group order: it
// asks the allocation engine for the distribution, gates every leg through
// the risk engine, places each leg with its broker adapter and keeps the
// audit trail with latency accounting.
package execution

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"fandesk/internal/broker"
	"fandesk/internal/logger"
	"fandesk/internal/model"
	"fandesk/internal/registry"
	"fandesk/internal/rms"
	"fandesk/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// ErrNoOrders means every allocation leg collapsed to zero tradable
// quantity.
var ErrNoOrders = errors.New("no valid orders were generated for the execution group")

// Orchestrator owns the multi-leg order transaction.
type Orchestrator struct {
	store    *store.Store
	risk     *rms.Engine
	registry *registry.Service
	brokers  *broker.Registry
}

func NewOrchestrator(st *store.Store, risk *rms.Engine, reg *registry.Service, brokers *broker.Registry) *Orchestrator {
	return &Orchestrator{store: st, risk: risk, registry: reg, brokers: brokers}
}

// GroupOrderRequest is one intended trade to fan out across a group.
type GroupOrderRequest struct {
	Symbol        string              `json:"symbol"`
	Side          model.OrderSide     `json:"side"`
	Lots          int                 `json:"lots"`
	LotSize       int                 `json:"lot_size"`
	OrderType     model.OrderType     `json:"order_type"`
	Price         decimal.NullDecimal `json:"price"`
	TakeProfit    decimal.NullDecimal `json:"take_profit"`
	StopLoss      decimal.NullDecimal `json:"stop_loss"`
	StrategyID    *uuid.UUID          `json:"strategy_id"`
	StrategyRunID *uuid.UUID          `json:"strategy_run_id"`
}

// AllocationResult is one account's resolved share including tradable
// quantity.
type AllocationResult struct {
	AccountID uuid.UUID              `json:"account_id"`
	BrokerID  uuid.UUID              `json:"broker_id"`
	Lots      int                    `json:"lots"`
	Quantity  int                    `json:"quantity"`
	Policy    model.AllocationPolicy `json:"allocation_policy"`
	Weight    *float64               `json:"weight,omitempty"`
	FixedLots *int                   `json:"fixed_lots,omitempty"`
}

// LegOutcome is the per-leg result surfaced to the caller; it mirrors the
// persisted ExecutionRunEvent.
type LegOutcome struct {
	AccountID uuid.UUID      `json:"account_id"`
	BrokerID  uuid.UUID      `json:"broker_id"`
	OrderID   uuid.UUID      `json:"order_id"`
	Status    string         `json:"status"`
	LatencyMs float64        `json:"latency_ms"`
	Message   string         `json:"message,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// GroupOrderResult is the finalized run.
type GroupOrderResult struct {
	RunID      uuid.UUID          `json:"execution_run_id"`
	Orders     []model.Order      `json:"orders"`
	Allocation []AllocationResult `json:"allocation"`
	TotalLots  int                `json:"total_lots"`
	LotSize    int                `json:"lot_size"`
	Latency    *LatencySummary    `json:"latency,omitempty"`
	Legs       []LegOutcome       `json:"leg_outcomes"`
}

// PlaceGroupOrder fans req out across the group's accounts. Legs run
// sequentially inside one transaction; any leg failure rolls back every
// local write of the run and commits an independent failed run instead.
// Broker-side effects already triggered for earlier legs are NOT
// compensated; only local bookkeeping is undone.
func (o *Orchestrator) PlaceGroupOrder(ctx context.Context, userID, groupID uuid.UUID, req GroupOrderRequest) (*GroupOrderResult, error) {
	if _, err := o.store.GetGroup(ctx, userID, groupID); err != nil {
		return nil, err
	}
	// Allocation failures abort before any broker call or persisted run.
	allocations, err := o.registry.PreviewAllocation(ctx, userID, groupID, req.Lots)
	if err != nil {
		return nil, err
	}

	unlock := o.risk.LockUser(userID)
	defer unlock()

	metadata := map[string]any{
		"symbol":     req.Symbol,
		"side":       string(req.Side),
		"order_type": string(req.OrderType),
		"lots":       req.Lots,
		"lot_size":   req.LotSize,
	}

	var (
		run            model.ExecutionRun
		orders         []model.Order
		results        []AllocationResult
		legs           []LegOutcome
		latencies      []float64
		summary        *LatencySummary
		eventsRecorded int
	)

	txErr := o.store.Transaction(ctx, func(tx *store.Store) error {
		// Persisted immediately so a crash mid-run leaves a discoverable row.
		run = model.ExecutionRun{
			GroupID:       groupID,
			StrategyRunID: req.StrategyRunID,
			Status:        model.RunStatusPending,
			Payload:       mustJSON(metadata),
		}
		if err := tx.CreateRun(ctx, &run); err != nil {
			return err
		}

		riskView := o.risk.WithStore(tx)
		adapters := make(map[string]broker.Adapter)

		for _, alloc := range allocations {
			quantity := alloc.Lots * req.LotSize
			if quantity <= 0 {
				continue
			}
			account, bkr, err := tx.GetAccountForUser(ctx, userID, alloc.AccountID)
			if err != nil {
				return err
			}
			if bkr.SessionToken == "" {
				return &broker.AuthError{
					Message: "broker session expired for " + bkr.Name + "; please refresh the connection",
				}
			}

			// Gate the per-leg quantity, not the group aggregate. The check
			// reads through the transaction so earlier legs of this run
			// count toward daily limits.
			check := rms.OrderCheck{Qty: quantity, Price: req.Price}
			if err := riskView.EvaluatePreTrade(ctx, userID, check); err != nil {
				return err
			}

			adapter, ok := adapters[bkr.Name]
			if !ok {
				adapter, err = o.brokers.Get(bkr.Name)
				if err != nil {
					return err
				}
				adapters[bkr.Name] = adapter
			}

			orderReq := broker.OrderRequest{
				Symbol:     req.Symbol,
				Side:       string(req.Side),
				Quantity:   quantity,
				OrderType:  string(req.OrderType),
				Price:      req.Price,
				StopLoss:   req.StopLoss,
				TakeProfit: req.TakeProfit,
			}
			if req.StrategyID != nil {
				orderReq.StrategyID = req.StrategyID.String()
			}

			// Latency is measured around the single adapter call only.
			startedAt := time.Now()
			result, err := adapter.PlaceOrder(bkr.SessionToken, orderReq)
			completedAt := time.Now()
			if err != nil {
				return err
			}
			latencyMs := float64(completedAt.Sub(startedAt)) / float64(time.Millisecond)

			order := model.Order{
				AccountID:     account.ID,
				StrategyID:    req.StrategyID,
				Symbol:        req.Symbol,
				Side:          req.Side,
				Qty:           quantity,
				OrderType:     req.OrderType,
				Price:         req.Price,
				TPPrice:       req.TakeProfit,
				SLPrice:       req.StopLoss,
				BrokerOrderID: result.OrderID,
				Status:        statusFromAdapter(result.Status),
			}
			if err := tx.CreateOrder(ctx, &order); err != nil {
				return err
			}
			orders = append(orders, order)

			event := model.ExecutionRunEvent{
				RunID:       run.ID,
				AccountID:   &account.ID,
				BrokerID:    &bkr.ID,
				OrderID:     &order.ID,
				Status:      defaultStatus(result.Status, "pending"),
				LatencyMs:   &latencyMs,
				RequestedAt: startedAt,
				CompletedAt: &completedAt,
				Message:     metadataMessage(result.Metadata),
				Metadata:    mustJSON(result.Metadata),
			}
			if err := tx.CreateRunEvent(ctx, &event); err != nil {
				return err
			}
			eventsRecorded++

			latencies = append(latencies, latencyMs)
			results = append(results, AllocationResult{
				AccountID: account.ID,
				BrokerID:  bkr.ID,
				Lots:      alloc.Lots,
				Quantity:  quantity,
				Policy:    alloc.Policy,
				Weight:    alloc.Weight,
				FixedLots: alloc.FixedLots,
			})
			legs = append(legs, LegOutcome{
				AccountID: account.ID,
				BrokerID:  bkr.ID,
				OrderID:   order.ID,
				Status:    defaultStatus(result.Status, "unknown"),
				LatencyMs: latencyMs,
				Message:   metadataMessage(result.Metadata),
				Metadata:  result.Metadata,
			})
		}

		if len(orders) == 0 {
			return ErrNoOrders
		}

		summary = summarizeLatencies(latencies)
		payload := map[string]any{}
		for k, v := range metadata {
			payload[k] = v
		}
		orderIDs := make([]string, 0, len(orders))
		for _, order := range orders {
			orderIDs = append(orderIDs, order.ID.String())
		}
		payload["order_ids"] = orderIDs
		payload["distribution"] = distributionPayload(results)
		if summary != nil {
			payload["latency"] = summary
		}

		now := time.Now()
		run.Status = model.RunStatusCompleted
		run.CompletedAt = &now
		run.Payload = mustJSON(payload)
		return tx.SaveRun(ctx, &run)
	})

	if txErr != nil {
		o.recordFailure(ctx, groupID, req.StrategyRunID, metadata, results, eventsRecorded, txErr)
		return nil, txErr
	}

	return &GroupOrderResult{
		RunID:      run.ID,
		Orders:     orders,
		Allocation: results,
		TotalLots:  req.Lots,
		LotSize:    req.LotSize,
		Latency:    summary,
		Legs:       legs,
	}, nil
}

// recordFailure commits an independent failed run after the main
// transaction rolled back, so the error and the legs-processed count stay
// discoverable.
func (o *Orchestrator) recordFailure(ctx context.Context, groupID uuid.UUID, strategyRunID *uuid.UUID, metadata map[string]any, results []AllocationResult, eventsRecorded int, cause error) {
	payload := map[string]any{}
	for k, v := range metadata {
		payload[k] = v
	}
	payload["distribution"] = distributionPayload(results)
	payload["error"] = cause.Error()
	payload["events_recorded"] = eventsRecorded

	now := time.Now()
	failureRun := model.ExecutionRun{
		GroupID:       groupID,
		StrategyRunID: strategyRunID,
		Status:        model.RunStatusFailed,
		RequestedAt:   now,
		CompletedAt:   &now,
		Payload:       mustJSON(payload),
	}
	err := o.store.Transaction(ctx, func(tx *store.Store) error {
		if err := tx.CreateRun(ctx, &failureRun); err != nil {
			return err
		}
		event := model.ExecutionRunEvent{
			RunID:       failureRun.ID,
			Status:      "failed",
			RequestedAt: now,
			CompletedAt: &now,
			Message:     cause.Error(),
			Metadata:    mustJSON(payload),
		}
		return tx.CreateRunEvent(ctx, &event)
	})
	if err != nil {
		logger.Errorf("recording failed execution run: %v", err)
	}
}

func distributionPayload(results []AllocationResult) []map[string]any {
	out := make([]map[string]any, 0, len(results))
	for _, r := range results {
		out = append(out, map[string]any{
			"account_id": r.AccountID.String(),
			"broker_id":  r.BrokerID.String(),
			"lots":       r.Lots,
			"quantity":   r.Quantity,
		})
	}
	return out
}

func statusFromAdapter(status string) model.OrderStatus {
	switch status {
	case "FILLED":
		return model.OrderStatusFilled
	case "CANCELLED":
		return model.OrderStatusCancelled
	case "REJECTED":
		return model.OrderStatusRejected
	default:
		return model.OrderStatusPending
	}
}

func defaultStatus(status, fallback string) string {
	if status == "" {
		return fallback
	}
	return status
}

func metadataMessage(metadata map[string]any) string {
	if metadata == nil {
		return ""
	}
	if msg, ok := metadata["message"].(string); ok {
		return msg
	}
	return ""
}

func mustJSON(v any) datatypes.JSON {
	data, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON([]byte("{}"))
	}
	return datatypes.JSON(data)
}
