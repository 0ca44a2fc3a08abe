package main

import (
	"errors"
	"flag"
	"io/fs"
	"log"
	"os"
	"path/filepath"

	"github.com/incidentsuite/backend/internal/config"
	"github.com/incidentsuite/backend/internal/samples"
	"github.com/incidentsuite/backend/internal/services"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	dir := flag.String("dir", "", "directory to seed, defaults to the configured watch directory")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	target := cfg.Watcher.Dir
	if *dir != "" {
		target = *dir
	}

	if err := os.MkdirAll(target, 0755); err != nil {
		log.Fatalf("Failed to create watch directory: %v", err)
	}

	list, err := samples.List()
	if err != nil {
		log.Fatalf("Failed to list samples: %v", err)
	}

	log.Printf("Seeding %s with sample logs...", target)
	processedDir := services.ProcessedDirFor(target)
	for _, s := range list {
		dst := filepath.Join(target, s.Name)
		if exists(dst) || exists(filepath.Join(processedDir, s.Name)) {
			log.Printf("⚠️  Sample already present: %s", s.Name)
			continue
		}
		content, err := samples.Get(s.Name)
		if err != nil {
			log.Printf("Error reading sample %s: %v", s.Name, err)
			continue
		}
		if err := os.WriteFile(dst, []byte(content), 0644); err != nil {
			log.Printf("Error writing sample %s: %v", s.Name, err)
			continue
		}
		log.Printf("✅ Seeded sample: %s", s.Name)
	}

	log.Println("✅ Seeding completed successfully!")
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, fs.ErrNotExist)
}
