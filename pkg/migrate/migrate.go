// Package migrate applies the goose SQL migrations that define the
// ticketbooth Postgres schema.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/pressly/goose/v3"
)

const DefaultDir = "pkg/migrate/migrations"

//go:embed migrations/*.sql
var embedded embed.FS

var errNoDB = errors.New("migrate: database handle required")

// Source is a set of migration files, either compiled in or read from disk.
type Source struct {
	fsys  fs.FS
	label string
}

// Embedded returns the migrations compiled into the binary.
func Embedded() Source {
	sub, err := fs.Sub(embedded, "migrations")
	if err != nil {
		panic(err)
	}
	return Source{fsys: sub, label: "embedded"}
}

// Dir returns the migrations under path.
func Dir(path string) Source {
	return Source{fsys: os.DirFS(path), label: path}
}

func (s Source) String() string { return s.label }

func provider(db *sql.DB, src Source) (*goose.Provider, error) {
	if db == nil {
		return nil, errNoDB
	}
	if src.fsys == nil {
		return nil, errors.New("migrate: source required")
	}
	p, err := goose.NewProvider(goose.DialectPostgres, db, src.fsys)
	if err != nil {
		return nil, fmt.Errorf("migrate: load %s: %w", src, err)
	}
	return p, nil
}

// Up applies every pending embedded migration.
func Up(ctx context.Context, db *sql.DB) error {
	return Apply(ctx, db, Embedded(), "up", io.Discard)
}

// Apply runs one of up, down or status against src. Status rows and applied
// versions are written to out.
func Apply(ctx context.Context, db *sql.DB, src Source, command string, out io.Writer) error {
	p, err := provider(db, src)
	if err != nil {
		return err
	}
	switch command {
	case "up":
		results, err := p.Up(ctx)
		report(out, results...)
		return wrap("up", err)
	case "down":
		result, err := p.Down(ctx)
		if result != nil {
			report(out, result)
		}
		return wrap("down", err)
	case "status":
		statuses, err := p.Status(ctx)
		if err != nil {
			return wrap("status", err)
		}
		for _, st := range statuses {
			applied := "-"
			if !st.AppliedAt.IsZero() {
				applied = st.AppliedAt.UTC().Format(time.RFC3339)
			}
			fmt.Fprintf(out, "%-8s %-25s %s\n", st.State, applied, st.Source.Path)
		}
		return nil
	default:
		return fmt.Errorf("migrate: unsupported command %q", command)
	}
}

// MigrateToVersion moves the schema up or down until it sits at target,
// given as the YYYYMMDDHHMMSS migration prefix.
func MigrateToVersion(ctx context.Context, db *sql.DB, src Source, target string, out io.Writer) error {
	version, err := strconv.ParseInt(target, 10, 64)
	if err != nil || version < 0 {
		return fmt.Errorf("migrate: invalid version %q (expected YYYYMMDDHHMMSS)", target)
	}
	p, err := provider(db, src)
	if err != nil {
		return err
	}
	current, err := p.GetDBVersion(ctx)
	if err != nil {
		return wrap("version", err)
	}

	var results []*goose.MigrationResult
	switch {
	case current == version:
		return nil
	case current < version:
		results, err = p.UpTo(ctx, version)
	default:
		results, err = p.DownTo(ctx, version)
	}
	report(out, results...)
	return wrap("version", err)
}

func report(out io.Writer, results ...*goose.MigrationResult) {
	for _, r := range results {
		if r == nil || r.Source == nil {
			continue
		}
		fmt.Fprintf(out, "%-4s %d %s (%s)\n", r.Direction, r.Source.Version, r.Source.Path, r.Duration.Round(time.Millisecond))
	}
}

func wrap(command string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("migrate %s: %w", command, err)
}
