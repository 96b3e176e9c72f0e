package rms

import (
	"context"
	"fmt"
	"math"

	"fandesk/internal/model"

	"github.com/google/uuid"
)

// Automation cue machine codes.
const (
	CueSquareOff = "auto_square_off"
	CueHedge     = "auto_hedge"
)

// Cue is a derived automation recommendation. The message embeds the
// triggering numbers for audit readability.
type Cue struct {
	Code    string
	Message string
}

// Status is the daily risk snapshot plus derived alerts and automation
// cues. Computing it mutates nothing.
type Status struct {
	DayPnL           float64  `json:"day_pnl"`
	TotalLotsToday   int      `json:"total_lots_today"`
	MaxDailyLots     *int     `json:"max_daily_lots"`
	LotsRemaining    *int     `json:"lots_remaining"`
	MaxDailyLoss     *float64 `json:"max_daily_loss"`
	LossRemaining    *float64 `json:"loss_remaining"`
	NotionalExposure float64  `json:"notional_exposure"`
	ExposureLimit    *float64 `json:"exposure_limit"`
	AvailableMargin  float64  `json:"available_margin"`
	MarginBufferPct  *float64 `json:"margin_buffer_pct"`
	Alerts           []string `json:"alerts"`
	Automations      []string `json:"automations"`
}

// GetStatus computes the daily snapshot and derives human alerts plus
// automation cue messages.
func (e *Engine) GetStatus(ctx context.Context, userID uuid.UUID) (Status, error) {
	rule, err := e.store.GetOrCreateRule(ctx, userID)
	if err != nil {
		return Status{}, err
	}
	snap, err := e.dailySnapshot(ctx, userID)
	if err != nil {
		return Status{}, err
	}
	cues := deriveCues(rule, snap)
	automations := make([]string, 0, len(cues))
	for _, cue := range cues {
		automations = append(automations, cue.Message)
	}

	dayPnL := snap.dayPnL.InexactFloat64()
	exposure := snap.notionalExposure.InexactFloat64()
	status := Status{
		DayPnL:           dayPnL,
		TotalLotsToday:   snap.totalLots,
		MaxDailyLots:     rule.MaxDailyLots,
		MaxDailyLoss:     decPtr(rule.MaxDailyLoss),
		NotionalExposure: exposure,
		ExposureLimit:    decPtr(rule.ExposureLimit),
		AvailableMargin:  snap.availableMargin.InexactFloat64(),
		MarginBufferPct:  decPtr(rule.MarginBufferPct),
		Alerts:           []string{},
		Automations:      automations,
	}

	if rule.MaxDailyLots != nil && *rule.MaxDailyLots > 0 {
		remaining := *rule.MaxDailyLots - snap.totalLots
		if remaining < 0 {
			remaining = 0
		}
		status.LotsRemaining = &remaining
		threshold := int(float64(*rule.MaxDailyLots) * 0.1)
		if threshold < 1 {
			threshold = 1
		}
		if remaining <= threshold {
			status.Alerts = append(status.Alerts, "Daily lot limit is nearly exhausted")
		}
	}
	if rule.MaxDailyLoss.Valid {
		maxLoss := rule.MaxDailyLoss.Decimal.InexactFloat64()
		lossRemaining := math.Max(maxLoss+dayPnL, 0)
		status.LossRemaining = &lossRemaining
		if dayPnL <= -0.8*maxLoss {
			status.Alerts = append(status.Alerts, "Daily loss approaching limit")
		}
	}
	if rule.ExposureLimit.Valid && exposure >= rule.ExposureLimit.Decimal.InexactFloat64()*0.9 {
		status.Alerts = append(status.Alerts, "Exposure near configured limit")
	}
	return status, nil
}

// deriveCues is pure given the rule and snapshot.
func deriveCues(rule model.RmsRule, snap snapshot) []Cue {
	var cues []Cue
	dayPnL := snap.dayPnL.InexactFloat64()
	exposure := snap.notionalExposure.InexactFloat64()

	if rule.AutoSquareOffEnabled {
		var triggerLoss *float64
		if rule.MaxDailyLoss.Valid {
			bufferPct := 0.0
			if rule.AutoSquareOffBufferPct.Valid {
				bufferPct = rule.AutoSquareOffBufferPct.Decimal.InexactFloat64()
			}
			bufferPct = math.Max(bufferPct, 0)
			multiplier := 1.0 - math.Min(bufferPct, 100)/100
			v := -rule.MaxDailyLoss.Decimal.InexactFloat64() * multiplier
			triggerLoss = &v
		} else if rule.DrawdownLimit.Valid {
			v := -rule.DrawdownLimit.Decimal.InexactFloat64()
			triggerLoss = &v
		}
		if triggerLoss != nil && dayPnL <= *triggerLoss {
			cues = append(cues, Cue{
				Code: CueSquareOff,
				Message: fmt.Sprintf("Auto square-off triggered: day PnL %.2f breached loss limit %.2f",
					dayPnL, math.Abs(*triggerLoss)),
			})
		}
		if rule.ProfitLock.Valid {
			profitLock := rule.ProfitLock.Decimal.InexactFloat64()
			if dayPnL >= profitLock {
				cues = append(cues, Cue{
					Code: CueSquareOff,
					Message: fmt.Sprintf("Auto square-off triggered: profit lock target %.2f reached (PnL %.2f)",
						profitLock, dayPnL),
				})
			}
		}
	}

	if rule.AutoHedgeEnabled {
		ratio := hedgeRatio(rule)
		if rule.ExposureLimit.Valid {
			limit := rule.ExposureLimit.Decimal.InexactFloat64()
			if exposure >= limit*0.9 {
				cues = append(cues, Cue{
					Code: CueHedge,
					Message: fmt.Sprintf("Auto hedge triggered: exposure %.2f within 10%% of limit %.2f (ratio %.2f)",
						exposure, limit, ratio),
				})
			}
		} else if exposure > 0 {
			cues = append(cues, Cue{
				Code: CueHedge,
				Message: fmt.Sprintf("Auto hedge triggered: exposure %.2f requires coverage (ratio %.2f)",
					exposure, ratio),
			})
		}
	}
	return cues
}
