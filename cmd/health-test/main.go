package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

type healthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Services  struct {
		Database struct {
			Status string `json:"status"`
			Error  string `json:"error,omitempty"`
		} `json:"database"`
		Watcher struct {
			Running   bool   `json:"running"`
			Processed int    `json:"processed"`
			Failed    int    `json:"failed"`
			LastPoll  string `json:"last_poll,omitempty"`
		} `json:"watcher"`
	} `json:"services"`
}

type checkOptions struct {
	requireDB      bool
	requireWatcher bool
}

func main() {
	url := flag.String("url", "http://localhost:8080/health", "health endpoint URL")
	timeout := flag.Duration("timeout", 10*time.Second, "request timeout")
	requireDB := flag.Bool("require-db", false, "fail when no database is configured")
	requireWatcher := flag.Bool("require-watcher", false, "fail when the ingestion watcher is not running")
	flag.Parse()
	if flag.NArg() > 0 {
		*url = flag.Arg(0)
	}

	fmt.Printf("🔍 Testing health endpoint: %s\n", *url)

	health, err := fetch(&http.Client{Timeout: *timeout}, *url)
	if err == nil {
		err = evaluate(health, checkOptions{requireDB: *requireDB, requireWatcher: *requireWatcher})
	}
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		os.Exit(1)
	}

	w := health.Services.Watcher
	fmt.Printf("✅ Health check passed!\n")
	fmt.Printf("   Version:  %s\n", health.Version)
	fmt.Printf("   Database: %s\n", health.Services.Database.Status)
	fmt.Printf("   Watcher:  running=%t processed=%d failed=%d", w.Running, w.Processed, w.Failed)
	if w.LastPoll != "" {
		fmt.Printf(" last_poll=%s", w.LastPoll)
	}
	fmt.Printf("\n   Checked:  %s\n", health.Timestamp)
}

func fetch(client *http.Client, url string) (*healthResponse, error) {
	resp, err := client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("error connecting to health endpoint: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("health check failed with %s: %s", resp.Status, body)
	}

	var health healthResponse
	if err := json.Unmarshal(body, &health); err != nil {
		return nil, fmt.Errorf("error parsing JSON response: %w", err)
	}
	return &health, nil
}

// evaluate applies the pass criteria to a decoded response.
func evaluate(h *healthResponse, opts checkOptions) error {
	if h.Status != "ok" {
		return fmt.Errorf("health status is %q", h.Status)
	}

	switch db := h.Services.Database; db.Status {
	case "ok":
	case "disabled":
		if opts.requireDB {
			return errors.New("no database configured")
		}
	default:
		return fmt.Errorf("database status is %q: %s", db.Status, db.Error)
	}

	if opts.requireWatcher && !h.Services.Watcher.Running {
		return errors.New("ingestion watcher is not running")
	}
	if w := h.Services.Watcher; w.Failed > 0 {
		fmt.Printf("⚠️  Watcher has %d failed file(s), they will be retried\n", w.Failed)
	}
	return nil
}
