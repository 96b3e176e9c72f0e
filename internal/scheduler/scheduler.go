// Package scheduler runs the periodic risk enforcement sweep.
package scheduler

import (
	"context"
	"strconv"
	"strings"
	"time"

	"fandesk/internal/logger"
	"fandesk/internal/rms"

	"github.com/google/uuid"
)

// ParseIntervalDuration parses "30s", "15m", "1h", "1d" into time.Duration.
// Returns (0, false) on invalid input.
func ParseIntervalDuration(interval string) (time.Duration, bool) {
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return 0, false
	}
	unit := interval[len(interval)-1]
	numStr := strings.TrimSpace(interval[:len(interval)-1])
	if numStr == "" {
		return 0, false
	}
	n, err := strconv.Atoi(numStr)
	if err != nil || n <= 0 {
		return 0, false
	}
	switch unit {
	case 's':
		return time.Duration(n) * time.Second, true
	case 'm':
		return time.Duration(n) * time.Minute, true
	case 'h':
		return time.Duration(n) * time.Hour, true
	case 'd':
		return time.Duration(n) * 24 * time.Hour, true
	default:
		return 0, false
	}
}

// Enforcer sweeps the configured users through rms.AutoEnforce on a fixed
// interval.
type Enforcer struct {
	Interval time.Duration
	Users    []uuid.UUID

	engine *rms.Engine
}

func NewEnforcer(engine *rms.Engine, interval time.Duration, users []uuid.UUID) *Enforcer {
	return &Enforcer{Interval: interval, Users: users, engine: engine}
}

// Start blocks until ctx is cancelled. A sweep failure for one user is
// logged and never stops the loop or the remaining users.
func (e *Enforcer) Start(ctx context.Context) {
	if e == nil || e.engine == nil {
		return
	}
	if e.Interval <= 0 {
		logger.Warnf("Enforcer: invalid interval=%s, exit", e.Interval)
		return
	}
	if len(e.Users) == 0 {
		logger.Infof("Enforcer: no users configured, exit")
		return
	}
	logger.Infof("Enforcer: started interval=%s users=%d", e.Interval, len(e.Users))

	ticker := time.NewTicker(e.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Infof("Enforcer: ctx done, exit")
			return
		case <-ticker.C:
			e.sweep(ctx)
		}
	}
}

func (e *Enforcer) sweep(ctx context.Context) {
	for _, userID := range e.Users {
		executed, err := e.engine.AutoEnforce(ctx, userID)
		if err != nil {
			logger.Errorf("Enforcer: auto enforce failed user=%s: %v", userID, err)
			continue
		}
		for _, action := range executed {
			logger.Infof("Enforcer: user=%s %s", userID, action)
		}
	}
}
