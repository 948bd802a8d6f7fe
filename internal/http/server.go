package http

import (
	"context"
	"net/http"

	"github.com/jcastillo/ticketero/internal/config"
	"github.com/jcastillo/ticketero/internal/http/middleware"
	"github.com/jcastillo/ticketero/internal/metrics"
	"github.com/jcastillo/ticketero/internal/notify"
	"github.com/jcastillo/ticketero/internal/repository"
	"github.com/jcastillo/ticketero/internal/service/queue"
	"github.com/jcastillo/ticketero/internal/service/recovery"
	"github.com/jcastillo/ticketero/internal/service/ticket"
	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

type Server struct{ e *echo.Echo }

func NewServer(cfg config.Config, db *sqlx.DB, rds *redis.Client) *Server {
	// repos
	ticketsRepo := repository.NewTicketsRepository(db)
	advisorsRepo := repository.NewAdvisorsRepository(db)
	outboxRepo := repository.NewOutboxRepository(db)
	eventsRepo := repository.NewTicketEventsRepository(db)
	recoveryRepo := repository.NewRecoveryEventsRepository(db)
	configsRepo := repository.NewQueueConfigsRepository(db)

	var notifier notify.Notifier = notify.Nop{}
	if cfg.Notification.Enabled {
		notifier = notify.NewTelegram(notify.TelegramConfig{
			BaseURL:       cfg.Notification.TelegramURL,
			BotToken:      cfg.Notification.BotToken,
			ChatID:        cfg.Notification.ChatID,
			TimeoutMs:     cfg.Notification.TimeoutMs,
			FailThreshold: cfg.Notification.FailThreshold,
			OpenForMs:     cfg.Notification.OpenForMs,
		})
	}

	// services
	queueMgr := queue.NewManager(ticketsRepo, configsRepo, eventsRepo, notifier)
	ticketSvc := ticket.New(db, ticketsRepo, eventsRepo, outboxRepo, queueMgr, notifier, cfg.Outbox.MaxRetries)
	recoverySvc := recovery.NewCoordinator(
		db,
		advisorsRepo,
		ticketsRepo,
		eventsRepo,
		recoveryRepo,
		outboxRepo,
		queueMgr,
		cfg.Recovery.Interval,
		cfg.Recovery.HeartbeatTimeout,
		cfg.Outbox.MaxRetries,
	)

	// echo
	e := echo.New()
	e.HideBanner = true
	e.Use(echoMid.Recover(), echoMid.Logger())

	metrics.MustRegister(prometheus.DefaultRegisterer)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	rlMW := middleware.RateLimitMiddleware(middleware.RateLimitConfig{
		Redis:      rds,
		DefaultRPS: cfg.RateLimit.RPS,
	})

	// routes
	v1 := e.Group("/v1", rlMW)
	v1.POST("/tickets", createTicketHandler(ticketSvc))
	v1.GET("/tickets/:code", ticketStatusHandler(ticketSvc))
	v1.GET("/tickets/:code/position", ticketPositionHandler(ticketSvc))
	v1.GET("/queues/:type", queueStatusHandler(ticketsRepo, advisorsRepo, queueMgr))

	admin := v1.Group("/admin")
	admin.POST("/advisors/:id/recover", recoverAdvisorHandler(recoverySvc))
	admin.GET("/dashboard", dashboardHandler(ticketsRepo, advisorsRepo, outboxRepo))

	return &Server{e: e}
}

func (s *Server) Start(addr string) error { return s.e.Start(addr) }

func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }
