package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"kompassi.org/internal/migrate"
	"kompassi.org/internal/obs"
)

func main() {
	var (
		dsn       = flag.String("dsn", os.Getenv("ACCESS_DATABASE_URL"), "PostgreSQL DSN")
		seedsPath = flag.String("seeds", "", "Optional directory of goose-annotated SQL seed files")
	)
	flag.Parse()
	logger := obs.Logger().With("service", "migrate")

	if *dsn == "" {
		logger.Error("missing DSN: provide via -dsn or ACCESS_DATABASE_URL")
		os.Exit(2)
	}
	if len(flag.Args()) == 0 {
		fmt.Fprintln(os.Stderr, "usage: migrate [up|down|seed|status]")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		logger.Error("open db", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	var seeds fs.FS
	if *seedsPath != "" {
		seeds = os.DirFS(*seedsPath)
	}
	mgr, err := migrate.NewRunner(db, migrate.Migrations(), seeds)
	if err != nil {
		logger.Error("load migrations", "error", err)
		os.Exit(1)
	}

	switch flag.Arg(0) {
	case "up":
		err = mgr.Up(ctx)
	case "down":
		err = mgr.Down(ctx)
	case "seed":
		err = mgr.Seed(ctx)
	case "status":
		var history []string
		history, err = mgr.Status(ctx)
		if err == nil {
			for _, item := range history {
				fmt.Println(item)
			}
		}
	default:
		logger.Error("unknown command", "command", flag.Arg(0))
		os.Exit(2)
	}
	if err != nil {
		logger.Error("migrate failed", "command", flag.Arg(0), "error", err)
		os.Exit(1)
	}
	logger.Info("migrate done", "command", flag.Arg(0))
}
