package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/ticketbooth/pkg/config"
	"github.com/angelmondragon/ticketbooth/pkg/db"
	"github.com/angelmondragon/ticketbooth/pkg/logger"
	"github.com/angelmondragon/ticketbooth/pkg/migrate"
)

type options struct {
	cmd      string
	dir      string
	name     string
	version  string
	embedded bool
}

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "migrate"})

	_ = godotenv.Load()

	var opts options
	flag.StringVar(&opts.cmd, "cmd", "up", "migration command: up|down|status|version|create|validate")
	flag.StringVar(&opts.dir, "dir", migrate.DefaultDir, "goose migrations directory")
	flag.StringVar(&opts.name, "name", "", "migration name (for create)")
	flag.StringVar(&opts.version, "version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version")
	flag.BoolVar(&opts.embedded, "embedded", false, "use the migrations compiled into this binary instead of -dir")
	flag.Parse()

	if err := runOffline(opts); err == nil {
		fmt.Println(offlineDone(opts))
		return
	} else if !errors.Is(err, errNeedsDatabase) {
		fmt.Fprintf(os.Stderr, "migrate %s failed: %v\n", opts.cmd, err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"cmd":      opts.cmd,
		"dir":      opts.dir,
		"embedded": opts.embedded,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer dbClient.Close()

	sqlDB, err := dbClient.DB().DB()
	requireResource(ctx, logg, "sql database", err)

	if err := runOnline(ctx, sqlDB, opts); err != nil {
		logg.Error(ctx, "migration failed", err)
		_ = dbClient.Close()
		os.Exit(1)
	}
	logg.Info(ctx, "migration finished")
}

var errNeedsDatabase = errors.New("command needs a database")

// runOffline handles the commands that only touch migration files.
func runOffline(opts options) error {
	switch opts.cmd {
	case "create":
		if opts.name == "" {
			return errors.New("missing -name for create")
		}
		_, err := migrate.CreateSQLMigration(opts.dir, opts.name)
		return err
	case "validate":
		return migrate.Validate(opts.source())
	default:
		return errNeedsDatabase
	}
}

func offlineDone(opts options) string {
	if opts.cmd == "create" {
		return "created migration " + opts.name + " in " + opts.dir
	}
	return "migration validation passed"
}

func (o options) source() migrate.Source {
	if o.embedded {
		return migrate.Embedded()
	}
	return migrate.Dir(o.dir)
}

func runOnline(ctx context.Context, sqlDB *sql.DB, opts options) error {
	switch opts.cmd {
	case "up", "down", "status":
		return migrate.Apply(ctx, sqlDB, opts.source(), opts.cmd, os.Stdout)
	case "version":
		if opts.version == "" {
			return errors.New("missing -version for version command")
		}
		return migrate.MigrateToVersion(ctx, sqlDB, opts.source(), opts.version, os.Stdout)
	default:
		return fmt.Errorf("unknown -cmd value %q", opts.cmd)
	}
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
