package cli

import (
	"context"
	"fmt"

	"supportdesk/internal/config"
	"supportdesk/internal/database"
	"supportdesk/internal/handlers"
	"supportdesk/internal/observability"
	"supportdesk/internal/services"
	"supportdesk/internal/storage"

	"github.com/sirupsen/logrus"
)

// app 进程内共享的配置、日志、数据库与业务服务
type app struct {
	cfg      *config.Config
	logger   *logrus.Logger
	services handlers.Services
	shutdown func(context.Context) error
}

// bootstrap 加载配置并连接数据库；migrate 为 true 时先执行迁移
func bootstrap(ctx context.Context, migrate bool) (*app, error) {
	cfg := config.Load()
	logger, err := config.InitLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	shutdown, err := observability.SetupTracing(ctx, cfg)
	if err != nil {
		logger.Warnf("Tracing disabled: %v", err)
		shutdown = func(context.Context) error { return nil }
	}

	db, err := database.Open(cfg)
	if err != nil {
		return nil, err
	}
	if migrate {
		if err := database.Migrate(db, logger); err != nil {
			return nil, err
		}
	}

	var blobs storage.BlobStore = storage.NewMemoryStore()
	if cfg.Storage.Enabled {
		store, err := storage.NewMinIOStore(ctx, cfg.Storage, logger)
		if err != nil {
			return nil, err
		}
		blobs = store
	} else if cfg.Gmail.Enabled {
		logger.Warn("Object storage disabled, Gmail attachments are kept in memory only")
	}

	tenant := services.NewTenantService(db, logger)
	sla := services.NewSLAService(db, logger)
	tickets := services.NewTicketService(db, logger, sla)
	forms := services.NewFormService(db, logger, tenant, cfg.Forms)
	identity := services.NewIdentityResolver(db, logger, tenant)
	portal := services.NewPortalService(db, logger, tenant, cfg.Portal, services.LogNotifier{Logger: logger})
	hub := services.NewEventHub(logger)
	tickets.SetEventHub(hub)

	svc := handlers.Services{
		DB:         db,
		Tenant:     tenant,
		Tickets:    tickets,
		SLA:        sla,
		Forms:      forms,
		Submission: services.NewSubmissionService(db, logger, forms, identity, tickets),
		Portal:     portal,
		Knowledge:  services.NewKnowledgeService(db, logger, tenant),
		Hub:        hub,
		Version:    Version,
	}
	if cfg.Gmail.Enabled {
		svc.Gmail = services.NewGmailSyncService(db, logger, tenant, tickets, blobs, cfg.Gmail, nil)
	}

	return &app{cfg: cfg, logger: logger, services: svc, shutdown: shutdown}, nil
}

func (a *app) close(ctx context.Context) {
	if err := a.shutdown(ctx); err != nil {
		a.logger.Warnf("Tracing shutdown: %v", err)
	}
	if sqlDB, err := a.services.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
