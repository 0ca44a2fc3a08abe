package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/incidentsuite/backend/internal/config"
	"github.com/incidentsuite/backend/internal/services"
)

type LLMController struct {
	settings *config.Holder
	tracker  *services.CallTracker
}

func NewLLMController(settings *config.Holder, tracker *services.CallTracker) *LLMController {
	return &LLMController{settings: settings, tracker: tracker}
}

// GetLLMStatus probes the configured provider and lists its models
func (lc *LLMController) GetLLMStatus(c *gin.Context) {
	cfg := lc.settings.Get()
	response := gin.H{
		"provider":     cfg.Provider,
		"currentModel": cfg.Model,
		"baseUrl":      cfg.BaseURL,
	}

	llm, err := services.NewAnalyzer(cfg, services.WithCallTracker(lc.tracker))
	if err != nil {
		response["status"] = "unconfigured"
		response["healthError"] = err.Error()
		c.JSON(http.StatusOK, response)
		return
	}

	status := "healthy"
	if err := llm.CheckHealth(c.Request.Context()); err != nil {
		status = "unhealthy"
		response["healthError"] = err.Error()
	}
	response["status"] = status

	models, err := llm.ListModels(c.Request.Context())
	if err != nil {
		response["modelsError"] = err.Error()
	}
	response["availableModels"] = models

	c.JSON(http.StatusOK, response)
}

// GetLLMAPICalls returns the tracked analyzer calls
func (lc *LLMController) GetLLMAPICalls(c *gin.Context) {
	calls := lc.tracker.List()
	c.JSON(http.StatusOK, gin.H{
		"calls": calls,
		"count": len(calls),
	})
}

// ClearLLMAPICalls clears the tracked analyzer calls
func (lc *LLMController) ClearLLMAPICalls(c *gin.Context) {
	lc.tracker.Clear()
	c.JSON(http.StatusOK, gin.H{"message": "LLM API calls cleared successfully"})
}
