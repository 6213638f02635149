// Command cbtctl runs operator tasks against the CBT database: schema
// migrations, staff account creation and student roster imports.
package main

import (
	"context"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/stemsi/cbt-backend/internal/config"
	"github.com/stemsi/cbt-backend/internal/database"
	"github.com/stemsi/cbt-backend/internal/logger"
	"github.com/stemsi/cbt-backend/internal/validator"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "cbtctl",
		Short:        "Operator tools for the CBT backend",
		SilenceUsage: true,
	}
	root.AddCommand(migrateCmd(), createAdminCmd(), seedStudentsCmd())
	return root
}

// env bundles what every database-backed command needs.
type env struct {
	cfg *config.Config
	log zerolog.Logger
}

func loadEnv() *env {
	cfg := config.Load()
	validator.Setup()
	return &env{cfg: cfg, log: logger.Setup(cfg.LogLevel, cfg.LogFormat)}
}

// connect opens a pool with a short deadline; operator commands should fail
// fast when the database is down.
func (e *env) connect(ctx context.Context) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return database.NewPostgresPool(ctx, e.cfg, e.log)
}
