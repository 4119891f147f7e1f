package main

import (
	"context"
	"embed"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/lgulliver/rvcstore/pkg/config"
	"github.com/lgulliver/rvcstore/pkg/migrate"
	"github.com/rs/zerolog/log"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

func main() {
	var (
		up      = flag.Bool("up", false, "Run pending migrations")
		down    = flag.Bool("down", false, "Roll back the last migration")
		timeout = flag.Duration("timeout", 5*time.Minute, "Give up after this long")
	)
	flag.Parse()

	if *up == *down {
		fmt.Printf("Usage: %s [-up | -down]\n", os.Args[0])
		fmt.Println("  -up    Run pending migrations")
		fmt.Println("  -down  Roll back the last migration")
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	cfg.Logging.SetupLogging()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	migrator, err := migrate.NewMigrator(ctx, &cfg.Database, migrationsFS, "migrations")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create migrator")
	}
	defer migrator.Close()

	if *up {
		if err := migrator.Up(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to run migrations")
		}
		log.Info().Msg("Migrations completed successfully")
		return
	}

	if err := migrator.Down(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to roll back migration")
	}
	log.Info().Msg("Rollback completed successfully")
}
