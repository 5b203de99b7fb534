package main

import (
	"database/sql"
	"fmt"
	"os"

	"github.com/leafsii/redisdb/internal/config"
	"github.com/leafsii/redisdb/internal/log"
	"github.com/leafsii/redisdb/pkg/kv/postgres"
	"github.com/spf13/pflag"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const usage = "Usage: migrate COMMAND\n\nCommands:\n  up\n  down\n  status\n\nThe database is read from RDB_POSTGRES_DSN."

func main() {
	flags := pflag.NewFlagSet("migrate", pflag.ExitOnError)
	flags.String("backend", "postgres", "storage backend")
	flags.Parse(os.Args[1:])
	// Migrations only apply to postgres, whatever RDB_BACKEND says.
	_ = flags.Set("backend", "postgres")

	args := flags.Args()
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.Load(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := log.NewSugar(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	db, err := sql.Open("pgx", cfg.Remote.PostgresDSN)
	if err != nil {
		logger.Fatalw("Failed to connect to database", "error", err)
	}
	defer db.Close()

	command := args[0]
	switch command {
	case "up":
		err = postgres.Migrate(db)
	case "down":
		err = postgres.MigrateDown(db)
	case "status":
		err = postgres.MigrationStatus(db)
	default:
		logger.Fatalw("Unknown command", "command", command)
	}
	if err != nil {
		logger.Fatalw("Migration failed", "command", command, "error", err)
	}
	logger.Infow("Migration finished", "command", command)
}
