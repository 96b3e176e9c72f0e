// Package app wires configuration, storage, brokers, risk and transport
// into a runnable service.
package app

import (
	"context"
	"fmt"
	"strings"

	"fandesk/internal/broker"
	fdcfg "fandesk/internal/config"
	"fandesk/internal/execution"
	"fandesk/internal/logger"
	"fandesk/internal/notify"
	"fandesk/internal/registry"
	"fandesk/internal/rms"
	"fandesk/internal/scheduler"
	"fandesk/internal/store"
	apihttp "fandesk/internal/transport/http/api"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// App owns application level orchestration: config, dependency setup and
// service lifecycle.
type App struct {
	cfg      *fdcfg.Config
	store    *store.Store
	httpSrv  *apihttp.Server
	enforcer *scheduler.Enforcer
}

// NewApp builds the application object without starting it.
func NewApp(cfg *fdcfg.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store failed: %w", err)
	}

	var notifier notify.TextNotifier = notify.Noop{}
	if cfg.Notify.Telegram.Enabled {
		notifier = notify.NewTelegram(cfg.Notify.Telegram.BotToken, cfg.Notify.Telegram.ChatID)
	}

	brokers := broker.NewRegistry()
	paper := broker.NewPaperAdapter()
	brokers.Register(paper, paper.Aliases()...)

	risk := rms.NewEngine(st, notifier)
	reg := registry.NewService(st)
	orch := execution.NewOrchestrator(st, risk, reg, brokers)

	router := apihttp.NewRouter(reg, orch, risk, st)
	httpSrv, err := apihttp.NewServer(apihttp.ServerConfig{
		Addr:   cfg.Server.HTTPAddr,
		Router: router,
	})
	if err != nil {
		return nil, err
	}

	app := &App{cfg: cfg, store: st, httpSrv: httpSrv}
	if enforcer, err := buildEnforcer(cfg, risk); err != nil {
		return nil, err
	} else if enforcer != nil {
		app.enforcer = enforcer
	}
	return app, nil
}

func buildEnforcer(cfg *fdcfg.Config, risk *rms.Engine) (*scheduler.Enforcer, error) {
	if len(cfg.Risk.EnforceUsers) == 0 {
		return nil, nil
	}
	interval, ok := scheduler.ParseIntervalDuration(cfg.Risk.EnforceInterval)
	if !ok {
		return nil, fmt.Errorf("risk.enforce_interval invalid: %q", cfg.Risk.EnforceInterval)
	}
	users := make([]uuid.UUID, 0, len(cfg.Risk.EnforceUsers))
	for _, raw := range cfg.Risk.EnforceUsers {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("risk.enforce_users contains invalid id %q: %w", raw, err)
		}
		users = append(users, id)
	}
	if len(users) == 0 {
		return nil, nil
	}
	return scheduler.NewEnforcer(risk, interval, users), nil
}

// Run starts the HTTP server and the enforcement loop, blocking until ctx
// is cancelled or a service fails.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	logger.Infof("fandesk starting env=%s addr=%s store=%s", a.cfg.App.Env, a.httpSrv.Addr(), a.cfg.Store.Path)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := a.httpSrv.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})
	if a.enforcer != nil {
		group.Go(func() error {
			a.enforcer.Start(ctx)
			return nil
		})
	}
	err := group.Wait()
	if closeErr := a.store.Close(); closeErr != nil {
		logger.Warnf("closing store: %v", closeErr)
	}
	return err
}
