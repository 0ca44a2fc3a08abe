package controllers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/incidentsuite/backend/internal/db"
	"gorm.io/gorm"
)

// Version is reported by the health endpoint.
var Version = "1.0.0"

type HealthController struct {
	db      *gorm.DB
	watcher StatusProvider
}

// NewHealthController reports database and watcher health. Both may be nil.
func NewHealthController(database *gorm.DB, watcher StatusProvider) *HealthController {
	return &HealthController{db: database, watcher: watcher}
}

// Health answers 200 when every configured dependency is reachable
func (hc *HealthController) Health(c *gin.Context) {
	dbStatus := gin.H{"status": "disabled"}
	overallStatus := "ok"
	statusCode := http.StatusOK

	if hc.db != nil {
		if err := db.Ping(c.Request.Context(), hc.db); err != nil {
			dbStatus = gin.H{"status": "error", "error": err.Error()}
			overallStatus = "error"
			statusCode = http.StatusServiceUnavailable
		} else {
			dbStatus = gin.H{"status": "ok"}
		}
	}

	watcher := gin.H{"running": false}
	if hc.watcher != nil {
		status := hc.watcher.Status()
		watcher = gin.H{
			"running":   status.Running,
			"processed": status.Processed,
			"failed":    status.Failed,
		}
		if !status.LastPoll.IsZero() {
			watcher["last_poll"] = status.LastPoll.UTC().Format(time.RFC3339)
		}
	}

	c.JSON(statusCode, gin.H{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   Version,
		"services": gin.H{
			"database": dbStatus,
			"watcher":  watcher,
		},
	})
}
