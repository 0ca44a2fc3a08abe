package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/incidentsuite/backend/internal/config"
	"github.com/incidentsuite/backend/internal/controllers"
	"github.com/incidentsuite/backend/internal/middleware"
	"github.com/incidentsuite/backend/internal/services"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

// Dependencies are the long-lived objects the routes are built from. DB,
// Store and Watcher are optional.
type Dependencies struct {
	Settings  *config.Holder
	Factory   services.AnalyzerFactory
	Tracker   *services.CallTracker
	Runner    services.Runner
	Store     services.ResultStore
	Watcher   controllers.StatusProvider
	DB        *gorm.DB
	Gatherer  prometheus.Gatherer
	JWTSecret string
}

// SetupRoutes configures all application routes
func SetupRoutes(r *gin.Engine, deps Dependencies) {
	pipelineController := controllers.NewPipelineController(deps.Runner, deps.Store, deps.Watcher)
	settingsController := controllers.NewSettingsController(deps.Settings, deps.Factory)
	llmController := controllers.NewLLMController(deps.Settings, deps.Tracker)
	healthController := controllers.NewHealthController(deps.DB, deps.Watcher)

	r.GET("/health", healthController.Health)

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	api := r.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(deps.JWTSecret))
	{
		pipeline := api.Group("/pipeline")
		{
			pipeline.POST("/run", pipelineController.RunPipeline)
		}

		samples := api.Group("/samples")
		{
			samples.GET("", pipelineController.ListSamples)
			samples.POST("/:name/run", pipelineController.RunSample)
		}

		results := api.Group("/results")
		{
			results.GET("", pipelineController.ListResults)
			results.GET("/:id", pipelineController.GetResult)
		}

		api.GET("/watcher/status", pipelineController.GetWatcherStatus)

		settings := api.Group("/settings")
		{
			settings.GET("/analyzer", settingsController.GetAnalyzerSettings)
			settings.PUT("/analyzer", settingsController.UpdateAnalyzerSettings)
		}

		llm := api.Group("/llm")
		{
			llm.GET("/status", llmController.GetLLMStatus)
			llm.GET("/api-calls", llmController.GetLLMAPICalls)
			llm.DELETE("/api-calls", llmController.ClearLLMAPICalls)
		}
	}
}
