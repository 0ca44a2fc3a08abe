package controllers

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/incidentsuite/backend/internal/logger"
	"github.com/incidentsuite/backend/internal/models"
	"github.com/incidentsuite/backend/internal/samples"
	"github.com/incidentsuite/backend/internal/services"
)

// maxUploadBytes bounds uploaded and raw-body log files.
const maxUploadBytes = 32 << 20

// StatusProvider reports the ingestion watcher's state.
type StatusProvider interface {
	Status() services.WatcherStatus
}

type PipelineController struct {
	runner  services.Runner
	store   services.ResultStore
	watcher StatusProvider
}

// NewPipelineController wires the run, history and watcher endpoints. The
// watcher may be nil when ingestion is disabled.
func NewPipelineController(runner services.Runner, store services.ResultStore, watcher StatusProvider) *PipelineController {
	return &PipelineController{runner: runner, store: store, watcher: watcher}
}

// RunPipeline runs the pipeline on an uploaded file (multipart field
// "logfile") or on the raw request body named by ?filename=.
func (pc *PipelineController) RunPipeline(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)

	var (
		filename string
		raw      string
	)
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		file, err := c.FormFile("logfile")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "No file uploaded"})
			return
		}
		filename = filepath.Base(file.Filename)
		if !services.AcceptedExtensions[strings.ToLower(filepath.Ext(filename))] {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Only LOG, TXT, CSV and JSON files are supported"})
			return
		}
		f, err := file.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read uploaded file"})
			return
		}
		defer f.Close()
		if raw, err = services.DecodeText(f); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read uploaded file"})
			return
		}
	} else {
		filename = filepath.Base(c.DefaultQuery("filename", "pasted.log"))
		var err error
		if raw, err = services.DecodeText(c.Request.Body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read request body"})
			return
		}
	}

	if strings.TrimSpace(raw) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Log content is empty"})
		return
	}

	pc.run(c, raw, filename, models.OriginUpload)
}

// ListSamples returns the bundled sample logs
func (pc *PipelineController) ListSamples(c *gin.Context) {
	list, err := samples.List()
	if err != nil {
		logger.WithError(err, "pipeline_controller").Error("Failed to list samples")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list samples"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"samples": list})
}

// RunSample runs the pipeline on a bundled sample log
func (pc *PipelineController) RunSample(c *gin.Context) {
	name := c.Param("name")
	raw, err := samples.Get(name)
	if err != nil {
		if errors.Is(err, samples.ErrUnknownSample) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Sample not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read sample"})
		return
	}
	pc.run(c, raw, name, models.OriginSample)
}

func (pc *PipelineController) run(c *gin.Context, raw, filename string, origin models.Origin) {
	start := time.Now()
	// The run outlives a dropped client so the saved history stays complete.
	ctx := context.WithoutCancel(c.Request.Context())

	result := pc.runner.Run(ctx, raw, filename)
	if result == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Pipeline produced no result"})
		return
	}
	stamped := result.WithIngestion(filename, time.Now(), time.Since(start), origin)

	if pc.store != nil {
		id, err := pc.store.Save(ctx, &stamped, filename, origin)
		if err != nil {
			logger.WithError(err, "pipeline_controller").Error("Failed to save result")
		} else {
			stamped.RecordID = id
		}
	}

	c.JSON(http.StatusOK, stamped)
}

// ListResults returns stored results, newest first, optionally bounded by
// RFC3339 from/to query parameters.
func (pc *PipelineController) ListResults(c *gin.Context) {
	from, err := parseTimeParam(c, "from")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid from timestamp, expected RFC3339"})
		return
	}
	to, err := parseTimeParam(c, "to")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid to timestamp, expected RFC3339"})
		return
	}
	if pc.store == nil {
		c.JSON(http.StatusOK, gin.H{"results": []models.PipelineResult{}, "count": 0})
		return
	}

	results, err := pc.store.Load(c.Request.Context(), from, to)
	if err != nil {
		logger.WithError(err, "pipeline_controller").Error("Failed to load results")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load results"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results, "count": len(results)})
}

// GetResult returns one stored result
func (pc *PipelineController) GetResult(c *gin.Context) {
	if pc.store == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Result not found"})
		return
	}
	result, err := pc.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, services.ErrResultNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Result not found"})
			return
		}
		logger.WithError(err, "pipeline_controller").Error("Failed to load result")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load result"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetWatcherStatus reports the ingestion watcher state
func (pc *PipelineController) GetWatcherStatus(c *gin.Context) {
	if pc.watcher == nil {
		c.JSON(http.StatusOK, services.WatcherStatus{})
		return
	}
	c.JSON(http.StatusOK, pc.watcher.Status())
}

func parseTimeParam(c *gin.Context, key string) (time.Time, error) {
	v := c.Query(key)
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}
