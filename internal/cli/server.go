package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"quiz-delivery-service/internal/app"
	"quiz-delivery-service/internal/config"
	"quiz-delivery-service/internal/domain"
	"quiz-delivery-service/internal/event"
	"quiz-delivery-service/internal/fixtures"
	"quiz-delivery-service/internal/infra/memory"
	"quiz-delivery-service/internal/infra/postgres"
	redisinfra "quiz-delivery-service/internal/infra/redis"
	"quiz-delivery-service/internal/jobs"
	"quiz-delivery-service/internal/logging"
	"quiz-delivery-service/internal/telemetry"
	transport "quiz-delivery-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			return runServer(cmd.Context(), cfg, *port)
		},
	}
}

type backends struct {
	catalog  app.Catalog
	attempts app.AttemptStore
	sessions app.SessionRepository
	closers  []func()
}

func (b *backends) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func runServer(ctx context.Context, cfg config.Config, portFlag string) error {
	log := logging.Logger()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	b, err := openBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.close()

	bus := event.NewBus(event.Config{PoolSize: 64, Workers: 2, QueueSize: 512})
	defer bus.Stop()
	if cfg.AMQP.URL != "" {
		exchange := cfg.AMQP.Exchange
		if exchange == "" {
			exchange = "quiz.events"
		}
		publisher, err := event.NewAMQPPublisher(cfg.AMQP.URL, exchange)
		if err != nil {
			return err
		}
		defer func() {
			bus.Stop()
			_ = publisher.Close()
		}()
		publisher.Forward(bus,
			domain.EventNameAttemptStarted,
			domain.EventNameResponseRecorded,
			domain.EventNameAttemptSubmitted,
			domain.EventNameAttemptScored,
		)
		log.WithField("exchange", exchange).Info("events: forwarding to amqp")
	}

	service := app.NewQuizService(app.Config{
		Catalog:  b.catalog,
		Attempts: b.attempts,
		Sessions: b.sessions,
		EventBus: bus,
		// Renew well inside the lock TTL so a connected owner never loses it.
		LockRenewal: config.TTLDuration(cfg.Redis.TTL, 10*time.Minute) / 3,
	})

	sweeper, err := jobs.NewSweeper(jobs.Config{
		Service:   service,
		Schedule:  cfg.Jobs.Schedule,
		IdleAfter: config.TTLDuration(cfg.Delivery.Idle, 15*time.Minute),
	})
	if err != nil {
		return err
	}

	router := transport.NewRouter(service, transport.RouterConfig{
		AllowedOrigins: cfg.CORS.Origins,
		Profiling:      cfg.Server.Profiling,
	})
	server := &http.Server{
		Addr:              ":" + finalPort,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("port", finalPort).Info("starting quiz service")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		service.Run(gctx, config.TTLDuration(cfg.Delivery.Tick, time.Second))
		return nil
	})
	g.Go(func() error {
		return sweeper.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// openBackends picks Postgres for attempts when configured, the fixture file
// otherwise, and Redis for catalog caching and session ownership when an
// address is set.
func openBackends(ctx context.Context, cfg config.Config) (*backends, error) {
	log := logging.Logger()
	b := &backends{}
	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)

	var source app.Catalog
	if cfg.Postgres.URL != "" {
		if err := runMigrations(ctx, cfg); err != nil {
			return nil, err
		}
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		b.closers = append(b.closers, pool.Close)
		store := postgres.NewStore(pool)
		source, b.attempts = store, store
		log.Info("storage: postgres")
	} else {
		store := memory.NewStore()
		if cfg.Quiz.Fixtures != "" {
			f, err := fixtures.Load(cfg.Quiz.Fixtures)
			if err != nil {
				return nil, err
			}
			store.Load(f)
		}
		source, b.attempts = store, store
		log.WithField("fixtures", cfg.Quiz.Fixtures).Warn("storage: in memory, attempts are lost on restart")
	}

	if cfg.Redis.Addr == "" {
		b.catalog = memory.NewCatalog(source, quizTTL)
		b.sessions = memory.NewSessionStore()
		return b, nil
	}

	client := newRedisClient(cfg)
	b.closers = append(b.closers, func() { _ = client.Close() })
	if err := telemetry.MonitorRedis(client); err != nil {
		log.WithError(err).Warn("redis: instrumentation disabled")
	}
	if err := client.Ping(ctx).Err(); err != nil {
		b.close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	b.catalog = redisinfra.NewCatalog(client, source, quizTTL)
	b.sessions = redisinfra.NewSessionStore(client, config.TTLDuration(cfg.Redis.TTL, 10*time.Minute))
	log.WithFields(logrus.Fields{"addr": cfg.Redis.Addr}).Info("cache: redis")
	return b, nil
}

func newRedisClient(cfg config.Config) redis.UniversalClient {
	return redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{cfg.Redis.Addr},
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}
