package controllers

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/incidentsuite/backend/internal/config"
	"github.com/incidentsuite/backend/internal/logger"
	"github.com/incidentsuite/backend/internal/services"
)

type SettingsController struct {
	settings *config.Holder
	factory  services.AnalyzerFactory
}

func NewSettingsController(settings *config.Holder, factory services.AnalyzerFactory) *SettingsController {
	return &SettingsController{settings: settings, factory: factory}
}

// AnalyzerSettingsRequest changes the analyzer. An empty api_key keeps the
// current key when the provider is unchanged.
type AnalyzerSettingsRequest struct {
	Provider       string   `json:"provider" binding:"required"`
	Model          string   `json:"model"`
	BaseURL        string   `json:"base_url"`
	APIKey         string   `json:"api_key"`
	Temperature    *float64 `json:"temperature"`
	TimeoutSeconds int      `json:"timeout_seconds"`
}

// AnalyzerSettingsResponse never carries the API key itself.
type AnalyzerSettingsResponse struct {
	Provider       string  `json:"provider"`
	Model          string  `json:"model"`
	BaseURL        string  `json:"base_url"`
	Temperature    float64 `json:"temperature"`
	TimeoutSeconds int     `json:"timeout_seconds"`
	HasAPIKey      bool    `json:"has_api_key"`
	Fingerprint    string  `json:"fingerprint"`
}

func settingsResponse(cfg config.AnalyzerConfig) AnalyzerSettingsResponse {
	return AnalyzerSettingsResponse{
		Provider:       cfg.Provider,
		Model:          cfg.Model,
		BaseURL:        cfg.BaseURL,
		Temperature:    cfg.Temperature,
		TimeoutSeconds: int(cfg.Timeout / time.Second),
		HasAPIKey:      cfg.APIKey != "",
		Fingerprint:    cfg.Fingerprint(),
	}
}

// GetAnalyzerSettings returns the live analyzer configuration
func (sc *SettingsController) GetAnalyzerSettings(c *gin.Context) {
	c.JSON(http.StatusOK, settingsResponse(sc.settings.Get()))
}

// UpdateAnalyzerSettings swaps the analyzer configuration. Runs already in
// flight keep the configuration they started with.
func (sc *SettingsController) UpdateAnalyzerSettings(c *gin.Context) {
	var req AnalyzerSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.WithError(err, "settings_controller").Warn("Invalid request body")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	if req.BaseURL != "" {
		if _, err := url.ParseRequestURI(req.BaseURL); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid base URL format"})
			return
		}
	}

	current := sc.settings.Get()
	next := config.AnalyzerConfig{
		Provider:    strings.ToLower(strings.TrimSpace(req.Provider)),
		Model:       req.Model,
		BaseURL:     req.BaseURL,
		APIKey:      req.APIKey,
		Temperature: current.Temperature,
		Timeout:     current.Timeout,
	}
	if next.APIKey == "" && next.Provider == current.Provider {
		next.APIKey = current.APIKey
	}
	if req.Temperature != nil {
		next.Temperature = *req.Temperature
	}
	if req.TimeoutSeconds > 0 {
		next.Timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}
	next = next.WithDefaults()

	if _, err := sc.factory(next); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, services.ErrNoProvider) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": "Analyzer settings rejected", "message": err.Error()})
		return
	}

	sc.settings.Set(next)

	logger.Info("Analyzer settings updated", map[string]interface{}{
		"provider":    next.Provider,
		"model":       next.Model,
		"fingerprint": next.Fingerprint(),
	})

	c.JSON(http.StatusOK, gin.H{
		"message":  "Analyzer settings updated successfully",
		"settings": settingsResponse(sc.settings.Get()),
	})
}
