package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/Rrens/postbot/internal/config"
	"github.com/Rrens/postbot/internal/repository/postgres"
	"github.com/joho/godotenv"
)

func main() {
	down := flag.Int("down", 0, "roll back this many migrations instead of migrating up")
	flag.Parse()

	// Load .env file if it exists
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if cfg.Storage.Driver != "postgres" {
		fmt.Println("Storage driver is sqlite, the schema is created on open. Nothing to do.")
		return
	}

	fmt.Printf("Migrating database at %s:%d...\n", cfg.Database.Host, cfg.Database.Port)

	if *down > 0 {
		if err := postgres.RollbackMigrations(cfg.Database.DSN(), cfg.Database.MigrationsPath, *down); err != nil {
			fmt.Fprintf(os.Stderr, "Rollback failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Rolled back %d migration(s)\n", *down)
		return
	}

	if err := postgres.RunMigrations(cfg.Database.DSN(), cfg.Database.MigrationsPath); err != nil {
		fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Migrations applied")
}
