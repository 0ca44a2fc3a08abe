package config

import "sync"

// Holder keeps the live analyzer configuration. Settings changes swap the
// value; every pipeline invocation takes its own snapshot through Get.
type Holder struct {
	mu  sync.RWMutex
	cfg AnalyzerConfig
}

func NewHolder(cfg AnalyzerConfig) *Holder {
	return &Holder{cfg: cfg.WithDefaults()}
}

// Get returns a copy of the current analyzer configuration.
func (h *Holder) Get() AnalyzerConfig {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg
}

// Set replaces the analyzer configuration.
func (h *Holder) Set(cfg AnalyzerConfig) {
	cfg = cfg.WithDefaults()
	h.mu.Lock()
	h.cfg = cfg
	h.mu.Unlock()
}
