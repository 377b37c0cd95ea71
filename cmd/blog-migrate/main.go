// Package main is the entry point for the blog accounts database migration tool.
// This tool manages the goose schema migrations of the SQLite and PostgreSQL
// backends.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/prn-tf/blog-accounts/internal/config"
	"github.com/prn-tf/blog-accounts/internal/repository/postgres"
	"github.com/prn-tf/blog-accounts/internal/repository/sqlite"
)

// Both drivers embed their migrations under the same directory name.
const migrationsDir = sqlite.MigrationsDir

// Version information (set at build time)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})

	command, args := os.Args[1], os.Args[2:]

	switch command {
	case "version":
		fmt.Printf("Blog Accounts Migration Tool\n")
		fmt.Printf("Version: %s\n", Version)
		fmt.Printf("Build Time: %s\n", BuildTime)
		fmt.Printf("Git Commit: %s\n", GitCommit)
		return

	case "help", "-h", "--help":
		printUsage()
		return

	case "up", "up-to", "down", "down-to", "redo", "reset", "status", "current", "create":
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, command, args); err != nil {
		log.Error().Err(err).Str("command", command).Msg("migration failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, command string, args []string) error {
	flags := pflag.NewFlagSet(command, pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "", "path to the configuration file")
	dir := flags.String("dir", "", "migration directory on disk for create (default internal/repository/<driver>/migrations)")
	if err := flags.Parse(args); err != nil {
		return err
	}
	rest := flags.Args()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	goose.SetLogger(&gooseLogger{logger: log.Logger})

	if command == "create" {
		if len(rest) < 1 {
			return fmt.Errorf("create requires a migration name")
		}
		target := *dir
		if target == "" {
			target = filepath.Join("internal", "repository", cfg.Database.Driver, "migrations")
		}
		goose.SetBaseFS(nil)
		return goose.Create(nil, target, rest[0], "sql")
	}

	db, migrations, dialect, closeDB, err := open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer closeDB()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}

	switch command {
	case "up":
		return goose.UpContext(ctx, db, migrationsDir)

	case "up-to", "down-to":
		if len(rest) < 1 {
			return fmt.Errorf("%s requires a target version", command)
		}
		version, err := strconv.ParseInt(rest[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", rest[0], err)
		}
		if command == "up-to" {
			return goose.UpToContext(ctx, db, migrationsDir, version)
		}
		return goose.DownToContext(ctx, db, migrationsDir, version)

	case "down":
		return goose.DownContext(ctx, db, migrationsDir)

	case "redo":
		return goose.RedoContext(ctx, db, migrationsDir)

	case "reset":
		return goose.ResetContext(ctx, db, migrationsDir)

	case "status":
		return goose.StatusContext(ctx, db, migrationsDir)

	case "current":
		version, err := goose.GetDBVersionContext(ctx, db)
		if err != nil {
			return fmt.Errorf("failed to read migration version: %w", err)
		}
		fmt.Printf("Current version: %d\n", version)
		return nil
	}
	return nil
}

// open returns a database/sql handle and the embedded migrations of the
// configured driver.
func open(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, fs.FS, string, func(), error) {
	logger := log.Logger

	switch cfg.Driver {
	case "sqlite":
		db, err := sqlite.NewDB(ctx, sqlite.ConfigFromDatabase(cfg), logger)
		if err != nil {
			return nil, nil, "", nil, err
		}
		return db.DB(), sqlite.Migrations(), "sqlite3", func() { db.Close() }, nil

	case "postgres":
		db, err := postgres.NewDB(ctx, cfg, logger)
		if err != nil {
			return nil, nil, "", nil, err
		}
		sqlDB := stdlib.OpenDBFromPool(db.Pool)
		return sqlDB, postgres.Migrations(), "postgres", func() {
			sqlDB.Close()
			db.Close()
		}, nil

	default:
		return nil, nil, "", nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

// gooseLogger routes goose output through zerolog.
type gooseLogger struct {
	logger zerolog.Logger
}

func (l *gooseLogger) Fatalf(format string, v ...any) {
	l.logger.Fatal().Msgf(format, v...)
}

func (l *gooseLogger) Printf(format string, v ...any) {
	l.logger.Info().Msgf(format, v...)
}

func printUsage() {
	fmt.Println(`Blog Accounts Migration Tool

Usage:
  blog-migrate <command> [flags] [arguments]

Commands:
  up            Run all pending migrations
  up-to N       Migrate up to version N
  down          Roll back the last migration
  down-to N     Roll back down to version N
  redo          Roll back and re-apply the last migration
  reset         Roll back every migration
  status        Show the status of each migration
  current       Print the current schema version
  create NAME   Create a new SQL migration file
  version       Print version information
  help          Show this help message

Flags:
  -c, --config  Path to the configuration file (default: ./config.yaml)
      --dir     Target directory for create

Environment Variables:
  BLOG_DATABASE_DRIVER    sqlite or postgres
  BLOG_DATABASE_PATH      SQLite database file
  BLOG_DATABASE_HOST      PostgreSQL host (and _PORT, _USER, _PASSWORD, _DATABASE)

Examples:
  blog-migrate up
  blog-migrate down
  blog-migrate status -c configs/config.yaml
  blog-migrate create add_user_indexes`)
}
