package rms

import (
	"context"
	"fmt"
	"time"

	"fandesk/internal/logger"
	"fandesk/internal/model"

	"github.com/google/uuid"
)

// PositionSnapshot captures one open position at square-off time.
type PositionSnapshot struct {
	AccountID uuid.UUID `json:"account_id"`
	Symbol    string    `json:"symbol"`
	Qty       int       `json:"qty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SquareOffResult reports what a square-off request captured. The engine
// records intent only; placing the closing orders belongs to a downstream
// worker.
type SquareOffResult struct {
	Triggered bool               `json:"triggered"`
	Message   string             `json:"message"`
	Positions []PositionSnapshot `json:"positions"`
}

// TriggerSquareOff snapshots all non-zero positions and writes an audit log
// entry. It does not place closing orders.
func (e *Engine) TriggerSquareOff(ctx context.Context, userID uuid.UUID, reason string, automated bool) (SquareOffResult, error) {
	positions, err := e.store.ListUserPositions(ctx, userID)
	if err != nil {
		return SquareOffResult{}, err
	}
	snapshots := make([]PositionSnapshot, 0, len(positions))
	for _, pos := range positions {
		if pos.Qty == 0 {
			continue
		}
		snapshots = append(snapshots, PositionSnapshot{
			AccountID: pos.AccountID,
			Symbol:    pos.Symbol,
			Qty:       pos.Qty,
			UpdatedAt: pos.UpdatedAt,
		})
	}

	var responseMessage, logMessage string
	switch {
	case reason != "":
		responseMessage = reason
		if automated {
			logMessage = "Automated RMS square-off initiated: " + reason
		} else {
			logMessage = "Manual RMS square-off initiated: " + reason
		}
	case automated:
		responseMessage = "Automated RMS square-off triggered"
		logMessage = "Automated RMS square-off triggered"
	default:
		responseMessage = "Square-off request recorded; execution to be handled by downstream worker"
		logMessage = "Manual RMS square-off requested"
	}
	if err := e.store.AppendLog(ctx, userID, model.LogTypeRms, logMessage); err != nil {
		return SquareOffResult{}, err
	}
	return SquareOffResult{
		Triggered: len(snapshots) > 0,
		Message:   responseMessage,
		Positions: snapshots,
	}, nil
}

// AutoEnforce re-derives automation cues from a fresh snapshot and executes
// the corresponding side effect for at most one square-off cue and one hedge
// cue per call. Returns the executed action descriptions.
func (e *Engine) AutoEnforce(ctx context.Context, userID uuid.UUID) ([]string, error) {
	rule, err := e.store.GetOrCreateRule(ctx, userID)
	if err != nil {
		return nil, err
	}
	snap, err := e.dailySnapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	cues := deriveCues(rule, snap)
	executed := make([]string, 0, len(cues))
	squareOffDone := false
	hedgeDone := false
	for _, cue := range cues {
		switch cue.Code {
		case CueSquareOff:
			if squareOffDone {
				continue
			}
			result, err := e.TriggerSquareOff(ctx, userID, cue.Message, true)
			if err != nil {
				return executed, err
			}
			executed = append(executed, fmt.Sprintf("%s (%d positions queued)", cue.Message, len(result.Positions)))
			if err := e.recordNotifications(ctx, rule, userID, cue.Message); err != nil {
				return executed, err
			}
			squareOffDone = true
		case CueHedge:
			if hedgeDone {
				continue
			}
			msg := fmt.Sprintf("Auto hedge queued (ratio %.2f): %s", hedgeRatio(rule), cue.Message)
			if err := e.store.AppendLog(ctx, userID, model.LogTypeRms, msg); err != nil {
				return executed, err
			}
			executed = append(executed, cue.Message)
			if err := e.recordNotifications(ctx, rule, userID, cue.Message); err != nil {
				return executed, err
			}
			hedgeDone = true
		}
	}
	return executed, nil
}

func hedgeRatio(rule model.RmsRule) float64 {
	ratio := 0.0
	if rule.AutoHedgeRatio.Valid {
		ratio = rule.AutoHedgeRatio.Decimal.InexactFloat64()
	}
	if ratio == 0 {
		ratio = 1.0
	}
	return ratio
}

// recordNotifications fans the detail out to every enabled channel as audit
// log entries. Channel delivery is best effort and never fails the caller.
func (e *Engine) recordNotifications(ctx context.Context, rule model.RmsRule, userID uuid.UUID, detail string) error {
	var channels []string
	if rule.NotifyEmail {
		channels = append(channels, "email")
	}
	if rule.NotifyTelegram {
		channels = append(channels, "telegram")
	}
	for _, channel := range channels {
		msg := fmt.Sprintf("Notification queued via %s: %s", channel, detail)
		if err := e.store.AppendLog(ctx, userID, model.LogTypeRms, msg); err != nil {
			return err
		}
		if channel == "telegram" {
			if err := e.notifier.SendText(detail); err != nil {
				logger.Warnf("telegram notification failed: %v", err)
			}
		}
	}
	return nil
}
