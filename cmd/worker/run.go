package worker

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jcastillo/ticketero/internal/config"
	"github.com/jcastillo/ticketero/internal/db"
	"github.com/jcastillo/ticketero/internal/kafka"
	"github.com/jcastillo/ticketero/internal/logger"
	"github.com/jcastillo/ticketero/internal/metrics"
	"github.com/jcastillo/ticketero/internal/model"
	"github.com/jcastillo/ticketero/internal/notify"
	"github.com/jcastillo/ticketero/internal/outbox"
	"github.com/jcastillo/ticketero/internal/repository"
	"github.com/jcastillo/ticketero/internal/service/processor"
	"github.com/jcastillo/ticketero/internal/service/queue"
	"github.com/jcastillo/ticketero/internal/service/recovery"
	"github.com/jcastillo/ticketero/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [queue-type...]",
	Short: "Run ticket consumers plus outbox, heartbeat and recovery loops",
	Long: `Consumes the queue topics (all four by default, or only the named
queue types), publishes pending outbox rows, refreshes advisor
heartbeats and recovers dead workers. SIGTERM drains in-flight
tickets before exiting.`,
	RunE: runWorkers,
}

func runWorkers(cmd *cobra.Command, args []string) error {
	// 1) load config
	cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger.Init(cfg.Log.Level)
	defer logger.Sync()

	metrics.MustRegister(prometheus.DefaultRegisterer)

	// which queues to serve
	queueTypes := model.AllQueueTypes()
	if len(args) > 0 {
		queueTypes = queueTypes[:0]
		for _, a := range args {
			q, ok := model.ParseQueueType(a)
			if !ok {
				return fmt.Errorf("unknown queue type %q", a)
			}
			queueTypes = append(queueTypes, q)
		}
	}

	// 2) MySQL
	dbx, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOpts{
		MaxOpenConns:    cfg.MySQL.MaxOpenConns,
		MaxIdleConns:    cfg.MySQL.MaxIdleConns,
		ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.MySQL.ConnMaxIdleTime,
		PingTimeout:     cfg.MySQL.PingTimeout,
	})
	if err != nil {
		return fmt.Errorf("mysql connect: %w", err)
	}
	defer dbx.Close()

	// 3) repositories
	ticketsRepo := repository.NewTicketsRepository(dbx)
	advisorsRepo := repository.NewAdvisorsRepository(dbx)
	outboxRepo := repository.NewOutboxRepository(dbx)
	eventsRepo := repository.NewTicketEventsRepository(dbx)
	recoveryRepo := repository.NewRecoveryEventsRepository(dbx)
	configsRepo := repository.NewQueueConfigsRepository(dbx)

	// 4) notifier
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

	// 5) kafka producer (outbox delivery + worker requeue)
	producer := kafka.NewProducer(kafka.ProducerConfig{Brokers: cfg.Kafka.Brokers})
	defer producer.Close()

	// 6) services
	queueMgr := queue.NewManager(ticketsRepo, configsRepo, eventsRepo, notifier)
	assigner := processor.NewAssignmentCoordinator(advisorsRepo, ticketsRepo)
	proc := processor.New(dbx, ticketsRepo, advisorsRepo, eventsRepo, queueMgr, assigner, notifier, cfg.Worker.ServiceTimeUnit)

	pub := outbox.NewPublisher(outboxRepo, producer)
	if cfg.Outbox.PollInterval > 0 {
		pub.PollInterval = cfg.Outbox.PollInterval
	}
	if cfg.Outbox.BatchSize > 0 {
		pub.BatchSize = cfg.Outbox.BatchSize
	}
	if cfg.Outbox.ClaimLease > 0 {
		pub.ClaimLease = cfg.Outbox.ClaimLease
	}
	if cfg.Outbox.PurgeInterval > 0 {
		pub.PurgeInterval = cfg.Outbox.PurgeInterval
	}
	if cfg.Outbox.Retention > 0 {
		pub.Retention = cfg.Outbox.Retention
	}

	heartbeat := recovery.NewHeartbeatMonitor(advisorsRepo, cfg.Heartbeat.Interval)
	recoverer := recovery.NewCoordinator(
		dbx,
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

	// 7) graceful shutdown: consumers run under their own context so
	// the drain can still use the parent one after intake stops
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	consumerCtx, stopConsumers := context.WithCancel(ctx)
	defer stopConsumers()

	groupID := cfg.Kafka.GroupID
	if groupID == "" {
		groupID = "ticketero-worker"
	}

	concurrency := cfg.Worker.Concurrency
	if concurrency <= 0 {
		concurrency = 3
	}

	var wg sync.WaitGroup
	for _, q := range queueTypes {
		// one group reader per handler: each fetches, processes and
		// commits serially, so an offset is never committed while an
		// earlier one is still mid-transaction
		consumers := make([]worker.Consumer, 0, concurrency)
		for i := 0; i < concurrency; i++ {
			c := kafka.NewConsumer(kafka.ConsumerConfig{
				Brokers:        cfg.Kafka.Brokers,
				Topic:          q.Topic(),
				GroupID:        groupID + "-" + q.String(),
				MinBytes:       cfg.Kafka.MinBytes,
				MaxBytes:       cfg.Kafka.MaxBytes,
				CommitInterval: time.Duration(cfg.Kafka.CommitInterval) * time.Millisecond,
			})
			defer c.Close()
			consumers = append(consumers, c)
		}

		w := worker.New(q, consumers, producer, proc)
		if cfg.Worker.NoAdvisorBackoff > 0 {
			w.NoAdvisorBackoff = cfg.Worker.NoAdvisorBackoff
		}
		if cfg.Worker.MaxRedeliveries > 0 {
			w.MaxRedeliveries = cfg.Worker.MaxRedeliveries
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(consumerCtx)
		}()
		log.Printf(">> consumers started queue=%s topic=%s readers=%d", q, q.Topic(), concurrency)
	}

	wg.Add(3)
	go func() { defer wg.Done(); pub.Run(ctx) }()
	go func() { defer wg.Done(); pub.RunPurge(ctx) }()
	go func() { defer wg.Done(); heartbeat.Run(ctx) }()

	wg.Add(1)
	go func() { defer wg.Done(); recoverer.Run(ctx) }()

	<-ctx.Done()
	log.Println(">> shutdown: stopping intake, draining advisors...")

	stopConsumers()

	drain := worker.NewShutdownCoordinator(advisorsRepo)
	if cfg.Shutdown.DrainTimeout > 0 {
		drain.DrainTimeout = cfg.Shutdown.DrainTimeout
	}
	if cfg.Shutdown.PollInterval > 0 {
		drain.PollInterval = cfg.Shutdown.PollInterval
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), drain.DrainTimeout+5*time.Second)
	defer cancel()
	if err := drain.Drain(drainCtx); err != nil {
		log.Printf(">> drain incomplete: %v", err)
	}

	wg.Wait()
	return nil
}
