package rms

import (
	"context"
	"time"

	"fandesk/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Config is the externally visible risk configuration for one user.
type Config struct {
	MaxLoss                *float64  `json:"max_loss"`
	MaxLots                *int      `json:"max_lots"`
	ProfitLock             *float64  `json:"profit_lock"`
	TrailingSL             *float64  `json:"trailing_sl"`
	MaxDailyLoss           *float64  `json:"max_daily_loss"`
	MaxDailyLots           *int      `json:"max_daily_lots"`
	ExposureLimit          *float64  `json:"exposure_limit"`
	MarginBufferPct        *float64  `json:"margin_buffer_pct"`
	DrawdownLimit          *float64  `json:"drawdown_limit"`
	AutoSquareOffEnabled   bool      `json:"auto_square_off_enabled"`
	AutoSquareOffBufferPct *float64  `json:"auto_square_off_buffer_pct"`
	AutoHedgeEnabled       bool      `json:"auto_hedge_enabled"`
	AutoHedgeRatio         *float64  `json:"auto_hedge_ratio"`
	NotifyEmail            bool      `json:"notify_email"`
	NotifyTelegram         bool      `json:"notify_telegram"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// ConfigPatch is a merge patch: only non-nil fields are applied.
type ConfigPatch struct {
	MaxLoss                *float64 `json:"max_loss"`
	MaxLots                *int     `json:"max_lots"`
	ProfitLock             *float64 `json:"profit_lock"`
	TrailingSL             *float64 `json:"trailing_sl"`
	MaxDailyLoss           *float64 `json:"max_daily_loss"`
	MaxDailyLots           *int     `json:"max_daily_lots"`
	ExposureLimit          *float64 `json:"exposure_limit"`
	MarginBufferPct        *float64 `json:"margin_buffer_pct"`
	DrawdownLimit          *float64 `json:"drawdown_limit"`
	AutoSquareOffEnabled   *bool    `json:"auto_square_off_enabled"`
	AutoSquareOffBufferPct *float64 `json:"auto_square_off_buffer_pct"`
	AutoHedgeEnabled       *bool    `json:"auto_hedge_enabled"`
	AutoHedgeRatio         *float64 `json:"auto_hedge_ratio"`
	NotifyEmail            *bool    `json:"notify_email"`
	NotifyTelegram         *bool    `json:"notify_telegram"`
}

// GetConfig reads the user's risk configuration, creating the rule lazily.
func (e *Engine) GetConfig(ctx context.Context, userID uuid.UUID) (Config, error) {
	rule, err := e.store.GetOrCreateRule(ctx, userID)
	if err != nil {
		return Config{}, err
	}
	return ruleToConfig(rule), nil
}

// UpdateConfig merge-patches the rule: fields left nil in the patch keep
// their stored values.
func (e *Engine) UpdateConfig(ctx context.Context, userID uuid.UUID, patch ConfigPatch) (Config, error) {
	rule, err := e.store.GetOrCreateRule(ctx, userID)
	if err != nil {
		return Config{}, err
	}
	applyDec(&rule.MaxLoss, patch.MaxLoss)
	if patch.MaxLots != nil {
		rule.MaxLots = patch.MaxLots
	}
	applyDec(&rule.ProfitLock, patch.ProfitLock)
	applyDec(&rule.TrailingSL, patch.TrailingSL)
	applyDec(&rule.MaxDailyLoss, patch.MaxDailyLoss)
	if patch.MaxDailyLots != nil {
		rule.MaxDailyLots = patch.MaxDailyLots
	}
	applyDec(&rule.ExposureLimit, patch.ExposureLimit)
	applyDec(&rule.MarginBufferPct, patch.MarginBufferPct)
	applyDec(&rule.DrawdownLimit, patch.DrawdownLimit)
	if patch.AutoSquareOffEnabled != nil {
		rule.AutoSquareOffEnabled = *patch.AutoSquareOffEnabled
	}
	applyDec(&rule.AutoSquareOffBufferPct, patch.AutoSquareOffBufferPct)
	if patch.AutoHedgeEnabled != nil {
		rule.AutoHedgeEnabled = *patch.AutoHedgeEnabled
	}
	applyDec(&rule.AutoHedgeRatio, patch.AutoHedgeRatio)
	if patch.NotifyEmail != nil {
		rule.NotifyEmail = *patch.NotifyEmail
	}
	if patch.NotifyTelegram != nil {
		rule.NotifyTelegram = *patch.NotifyTelegram
	}
	if err := e.store.SaveRule(ctx, &rule); err != nil {
		return Config{}, err
	}
	return ruleToConfig(rule), nil
}

func ruleToConfig(rule model.RmsRule) Config {
	return Config{
		MaxLoss:                decPtr(rule.MaxLoss),
		MaxLots:                rule.MaxLots,
		ProfitLock:             decPtr(rule.ProfitLock),
		TrailingSL:             decPtr(rule.TrailingSL),
		MaxDailyLoss:           decPtr(rule.MaxDailyLoss),
		MaxDailyLots:           rule.MaxDailyLots,
		ExposureLimit:          decPtr(rule.ExposureLimit),
		MarginBufferPct:        decPtr(rule.MarginBufferPct),
		DrawdownLimit:          decPtr(rule.DrawdownLimit),
		AutoSquareOffEnabled:   rule.AutoSquareOffEnabled,
		AutoSquareOffBufferPct: decPtr(rule.AutoSquareOffBufferPct),
		AutoHedgeEnabled:       rule.AutoHedgeEnabled,
		AutoHedgeRatio:         decPtr(rule.AutoHedgeRatio),
		NotifyEmail:            rule.NotifyEmail,
		NotifyTelegram:         rule.NotifyTelegram,
		UpdatedAt:              rule.UpdatedAt,
	}
}

func decPtr(v decimal.NullDecimal) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Decimal.InexactFloat64()
	return &f
}

func applyDec(dst *decimal.NullDecimal, v *float64) {
	if v == nil {
		return
	}
	*dst = decimal.NewNullDecimal(decimal.NewFromFloat(*v))
}
