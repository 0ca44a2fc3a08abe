package main

import (
	"flag"
	"log"

	"github.com/incidentsuite/backend/internal/config"
	"github.com/incidentsuite/backend/internal/db"
	"github.com/incidentsuite/backend/internal/logger"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger.Initialize(cfg.Logging)

	if cfg.Database.Driver == "" {
		log.Fatal("No database configured, set DB_DRIVER and DATABASE_URL")
	}

	conn, err := db.Connect(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	log.Println("Running database migrations...")
	if err := db.AutoMigrate(conn); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	log.Println("✅ Database migrations completed successfully!")
}
