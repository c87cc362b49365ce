package cli

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun/migrate"

	"quiz-delivery-service/internal/config"
	"quiz-delivery-service/internal/fixtures"
	"quiz-delivery-service/internal/infra/postgres"
	pgmigrations "quiz-delivery-service/internal/infra/postgres/migrations"
	redisinfra "quiz-delivery-service/internal/infra/redis"
	"quiz-delivery-service/internal/logging"
)

// NewMigrateCmd applies database migrations.
func NewMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			return runMigrations(cmd.Context(), cfg)
		},
	}
}

// NewSeedCmd loads a fixture file into Postgres.
func NewSeedCmd(configPath *string) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Seed quizzes, users and assignments from a fixture file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if file == "" {
				file = cfg.Quiz.Fixtures
			}
			return runSeed(cmd.Context(), cfg, file)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "fixture YAML (defaults to quiz.fixtures)")
	return cmd
}

func loadConfig(path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, fmt.Errorf("load config %s: %w", path, err)
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format, nil)
	return cfg, nil
}

func runMigrations(ctx context.Context, cfg config.Config) error {
	if cfg.Postgres.URL == "" {
		return fmt.Errorf("postgres url not configured")
	}

	db := postgres.OpenDB(cfg.Postgres.URL)
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}

	group, err := migrator.Migrate(ctx)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if group.IsZero() {
		logging.Logger().Info("migrate: schema up to date")
		return nil
	}
	logging.Logger().WithField("group", group.String()).Info("migrate: migrations applied")
	return nil
}

func runSeed(ctx context.Context, cfg config.Config, file string) error {
	if cfg.Postgres.URL == "" {
		return fmt.Errorf("postgres url not configured")
	}
	if file == "" {
		return fmt.Errorf("no fixture file given")
	}

	f, err := fixtures.Load(file)
	if err != nil {
		return err
	}

	db := postgres.OpenDB(cfg.Postgres.URL)
	defer db.Close()
	if err := postgres.NewSeeder(db).Seed(ctx, f); err != nil {
		return err
	}

	if cfg.Redis.Addr == "" {
		return nil
	}
	client := newRedisClient(cfg)
	defer client.Close()
	return invalidateSeeded(ctx, client, f)
}

// invalidateSeeded drops cached copies of the reseeded quizzes so running
// servers pick up the new content.
func invalidateSeeded(ctx context.Context, client redis.UniversalClient, f fixtures.File) error {
	for _, q := range f.Quizzes {
		if err := redisinfra.Invalidate(ctx, client, q.ID); err != nil {
			return fmt.Errorf("invalidate quiz %d: %w", q.ID, err)
		}
	}
	logging.Logger().WithField("quizzes", len(f.Quizzes)).Info("seed: cached quizzes invalidated")
	return nil
}
