// Package migrate applies the access schema with goose.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/pressly/goose/v3"

	"kompassi.org/internal/obs"
)

//go:embed sql/*.sql
var embedded embed.FS

// Migrations returns the embedded schema migrations in goose format.
func Migrations() fs.FS {
	sub, err := fs.Sub(embedded, "sql")
	if err != nil {
		panic(err)
	}
	return sub
}

// Runner drives schema migrations and optional unversioned seed files.
type Runner struct {
	schema *goose.Provider
	seeds  *goose.Provider
}

// NewRunner prepares migrations from fsys against db. seeds may be nil; seed
// files use goose annotations and are applied without version tracking.
func NewRunner(db *sql.DB, fsys, seeds fs.FS) (*Runner, error) {
	logger := gooseLogger{obs.Logger().With("component", "goose")}
	schema, err := goose.NewProvider(goose.DialectPostgres, db, fsys, goose.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("load migrations: %w", err)
	}
	r := &Runner{schema: schema}
	if seeds != nil {
		r.seeds, err = goose.NewProvider(goose.DialectPostgres, db, seeds,
			goose.WithDisableVersioning(true),
			goose.WithLogger(logger),
		)
		if err != nil {
			return nil, fmt.Errorf("load seeds: %w", err)
		}
	}
	return r, nil
}

// Versions lists the versions of every known migration in order.
func (r *Runner) Versions() []int64 {
	sources := r.schema.ListSources()
	out := make([]int64, 0, len(sources))
	for _, s := range sources {
		out = append(out, s.Version)
	}
	return out
}

// Up applies all pending migrations.
func (r *Runner) Up(ctx context.Context) error {
	results, err := r.schema.Up(ctx)
	if err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	for _, res := range results {
		obs.Logger().Info("migration applied", "version", res.Source.Version, "duration", res.Duration)
	}
	return nil
}

// Down rolls back the most recent migration.
func (r *Runner) Down(ctx context.Context) error {
	res, err := r.schema.Down(ctx)
	if err != nil {
		return fmt.Errorf("goose down: %w", err)
	}
	obs.Logger().Info("migration rolled back", "version", res.Source.Version)
	return nil
}

// Seed applies the seed files. Without seeds it does nothing.
func (r *Runner) Seed(ctx context.Context) error {
	if r.seeds == nil {
		return nil
	}
	if _, err := r.seeds.Up(ctx); err != nil {
		return fmt.Errorf("goose seed: %w", err)
	}
	return nil
}

// Status renders one line per migration: version, state and applied time.
func (r *Runner) Status(ctx context.Context) ([]string, error) {
	statuses, err := r.schema.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("goose status: %w", err)
	}
	out := make([]string, 0, len(statuses))
	for _, st := range statuses {
		line := fmt.Sprintf("%05d %s", st.Source.Version, st.State)
		if !st.AppliedAt.IsZero() {
			line += " " + st.AppliedAt.UTC().Format("2006-01-02T15:04:05Z")
		}
		out = append(out, line)
	}
	return out, nil
}

type gooseLogger struct{ l *slog.Logger }

func (g gooseLogger) Printf(format string, v ...any) { g.l.Info(fmt.Sprintf(format, v...)) }

func (g gooseLogger) Fatalf(format string, v ...any) { g.l.Error(fmt.Sprintf(format, v...)) }
