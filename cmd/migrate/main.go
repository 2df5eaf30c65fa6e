package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/example/receiptshare/internal/config"
	"github.com/example/receiptshare/internal/dbmigrate"
	"go.uber.org/zap"
)

func main() {
	var (
		command    = flag.String("command", "up", "Migration command: up, down, version, force")
		steps      = flag.Int("steps", 0, "Number of migration steps (for up/down)")
		version    = flag.Uint("version", 0, "Target version (for force command)")
		configPath = flag.String("config", "", "optional YAML config file")
		dir        = flag.String("dir", "", "migrations directory (defaults to MIGRATIONS_DIR)")
	)
	flag.Parse()

	log, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("config error", zap.Error(err))
	}
	if cfg.DBAdapter != "postgres" {
		log.Fatal("migrations only work with PostgreSQL", zap.String("adapter", cfg.DBAdapter))
	}

	migrationsDir := cfg.MigrationsDir
	if *dir != "" {
		migrationsDir = *dir
	}

	mg, err := dbmigrate.Open(migrationsDir, cfg.Postgres.DSN)
	if err != nil {
		log.Fatal("open migrations", zap.Error(err))
	}
	defer mg.Close()

	switch *command {
	case "up":
		if err := mg.Up(*steps); err != nil {
			log.Fatal("migration up failed", zap.Error(err))
		}
		fmt.Println("✓ Migrations applied successfully")
	case "down":
		if err := mg.Down(*steps); err != nil {
			log.Fatal("migration down failed", zap.Error(err))
		}
		fmt.Println("✓ Migrations rolled back successfully")
	case "version":
		v, dirty, err := mg.Version()
		if err != nil {
			log.Fatal("failed to get version", zap.Error(err))
		}
		if dirty {
			fmt.Printf("⚠ Database is in a dirty state (version %d)\n", v)
			mg.Close()
			os.Exit(1)
		}
		fmt.Printf("Current migration version: %d\n", v)
	case "force":
		if *version == 0 {
			log.Fatal("version required for force command (use -version flag)")
		}
		if err := mg.Force(int(*version)); err != nil {
			log.Fatal("force migration failed", zap.Error(err))
		}
		fmt.Printf("✓ Forced database to version %d\n", *version)
	default:
		log.Fatal("unknown command (supported: up, down, version, force)", zap.String("command", *command))
	}
}
