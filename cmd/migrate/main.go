// Package main provides a CLI tool for running database migrations.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/jessevdk/go-flags"

	"github.com/insta-extractor/internal/config"
	"github.com/insta-extractor/internal/storage"
)

type options struct {
	Action  string `long:"action" short:"a" default:"up" choice:"up" choice:"down" choice:"version" choice:"force" description:"Migration action"`
	DB      string `long:"db" default:"postgres" choice:"postgres" choice:"clickhouse" description:"Database to migrate"`
	Steps   int    `long:"steps" default:"1" description:"Number of migrations to roll back with --action=down"`
	Version int    `long:"version" default:"-1" description:"Version to force with --action=force"`
	Path    string `long:"path" env:"MIGRATIONS_PATH" description:"Migrations directory (default migrations/<db>)"`
}

func main() {
	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return
		}
		os.Exit(2)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if opts.Path == "" {
		opts.Path = "migrations/" + opts.DB
	}

	switch opts.DB {
	case "postgres":
		if err := runPostgresMigrations(cfg, &opts); err != nil {
			log.Fatalf("Postgres migration failed: %v", err)
		}
	case "clickhouse":
		if err := runClickHouseMigrations(cfg, &opts); err != nil {
			log.Fatalf("ClickHouse migration failed: %v", err)
		}
	}
}

func runPostgresMigrations(cfg *config.Config, opts *options) error {
	m := storage.NewMigrator(cfg.Database.Postgres.URL(), opts.Path)

	switch opts.Action {
	case "up":
		log.Println("Running Postgres migrations...")
		if err := m.Up(); err != nil {
			return err
		}
		log.Println("Postgres migrations completed successfully")

	case "down":
		log.Printf("Rolling back %d Postgres migration(s)...", opts.Steps)
		if err := m.Down(opts.Steps); err != nil {
			return err
		}
		log.Println("Postgres migrations rolled back successfully")

	case "version":
		version, dirty, err := m.Version()
		if err != nil {
			return err
		}
		log.Printf("Current Postgres migration version: %d (dirty: %v)", version, dirty)

	case "force":
		if opts.Version < 0 {
			return errors.New("--version is required with --action=force")
		}
		if err := m.Force(opts.Version); err != nil {
			return err
		}
		log.Printf("Postgres migration version forced to %d", opts.Version)
	}

	return nil
}

func runClickHouseMigrations(cfg *config.Config, opts *options) error {
	if opts.Action != "up" {
		return fmt.Errorf("ClickHouse migrations only support 'up' action")
	}
	if _, err := os.Stat(opts.Path); os.IsNotExist(err) {
		return fmt.Errorf("migrations directory not found: %s", opts.Path)
	}

	log.Println("Connecting to ClickHouse...")
	db, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
	if err != nil {
		return fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Printf("Error closing ClickHouse connection: %v", err)
		}
	}()

	log.Println("Running ClickHouse migrations...")
	applied, err := storage.RunClickHouseMigrations(context.Background(), db, opts.Path)
	if err != nil {
		return err
	}

	log.Printf("ClickHouse migrations completed successfully (%d files)", len(applied))
	return nil
}
