// Package bootstrap wires the shared dependencies every engine service
// binary needs from one loaded config.Config: the relational store,
// hot-state client, durable bus, and module registry. Each cmd/ binary
// calls New once and then builds only the service-specific pieces it
// needs on top, mirroring the teacher's single-process cmd/server/main.go
// wiring split five ways across this module's service boundaries.
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/outboundhq/engine/internal/bus"
	"github.com/outboundhq/engine/internal/config"
	"github.com/outboundhq/engine/internal/domain"
	"github.com/outboundhq/engine/internal/hotstate"
	"github.com/outboundhq/engine/internal/modules"
	"github.com/outboundhq/engine/internal/modules/email"
	"github.com/outboundhq/engine/internal/modules/mock"
	"github.com/outboundhq/engine/internal/modules/push"
	"github.com/outboundhq/engine/internal/modules/sms"
	"github.com/outboundhq/engine/internal/modules/webhook"
	"github.com/outboundhq/engine/internal/pkg/logger"
)

// Shared holds the dependencies common to every service binary.
type Shared struct {
	Config *config.Config
	DB     *sql.DB
	Hot    *hotstate.Client
	Bus    bus.Bus
}

// New opens the database and hot-state connections and connects to the
// bus. Callers own the returned Shared's Close.
func New(ctx context.Context, cfg *config.Config) (*Shared, error) {
	db, err := sql.Open("postgres", cfg.Postgres.URL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: open postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Postgres.ConnMaxLifetime())
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("bootstrap: ping postgres: %w", err)
	}
	logger.Info("connected to postgres")

	hot, err := hotstate.New(cfg.Redis.URL, cfg.Redis.DialTimeout(), cfg.Redis.PoolSize)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: connect hot-state: %w", err)
	}
	logger.Info("connected to hot-state store")

	b, err := bus.NewNatsBus(ctx, cfg.Bus.URL, cfg.Bus.StreamName, cfg.Bus.DedupWindow())
	if err != nil {
		return nil, fmt.Errorf("bootstrap: connect bus: %w", err)
	}
	logger.Info("connected to message bus")

	return &Shared{Config: cfg, DB: db, Hot: hot, Bus: b}, nil
}

// Close releases every connection Shared holds.
func (s *Shared) Close() {
	if err := s.Bus.Close(); err != nil {
		logger.Warn("bootstrap: close bus failed", "error", err.Error())
	}
	if err := s.Hot.Close(); err != nil {
		logger.Warn("bootstrap: close hot-state failed", "error", err.Error())
	}
	if err := s.DB.Close(); err != nil {
		logger.Warn("bootstrap: close postgres failed", "error", err.Error())
	}
}

// ModuleRegistry builds the registry of real provider adapters plus the
// per-channel mock fallback used for dry runs (spec §4.4). SES, Resend,
// Telnyx and FCM are registered only when enabled in config; their
// credentials are not checked here. The webhook module is always
// registered. For a provider that is not registered, Registry.Resolve
// surfaces a clear "no adapter registered" error.
func ModuleRegistry(ctx context.Context, cfg *config.Config) (*modules.Registry, error) {
	reg := modules.NewRegistry()

	reg.RegisterMock(mock.NewModule(domain.ModuleEmail, 0))
	reg.RegisterMock(mock.NewModule(domain.ModuleSMS, 0))
	reg.RegisterMock(mock.NewModule(domain.ModulePush, 0))
	reg.RegisterMock(mock.NewModule(domain.ModuleWebhook, 0))

	if cfg.SES.Enabled {
		sesModule, err := email.NewSESModule(ctx, cfg.SES.AccessKey, cfg.SES.SecretKey, cfg.SES.Region)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: build ses module: %w", err)
		}
		reg.Register("ses", sesModule)
	}
	if cfg.Resend.Enabled {
		reg.Register("resend", email.NewResendModule(cfg.Resend.APIKey, nil))
	}
	if cfg.Telnyx.Enabled {
		reg.Register("telnyx", sms.NewTelnyxModule(cfg.Telnyx.APIKey, nil))
	}
	if cfg.Push.Enabled {
		reg.Register("fcm", push.NewFCMModule(cfg.Push.ServerKey, nil))
	}
	reg.Register("webhook", webhook.NewModule(nil))

	return reg, nil
}
