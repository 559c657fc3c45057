package api

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gridsense/pdmon/internal/api/controllers"
	"github.com/gridsense/pdmon/internal/api/middleware"
	"github.com/gridsense/pdmon/internal/config"
	"github.com/gridsense/pdmon/internal/db/repository"
	"github.com/gridsense/pdmon/internal/metrics"
	"github.com/gridsense/pdmon/internal/stream"
	"github.com/gridsense/pdmon/internal/utils"
)

// Router manages the API routes and controllers
type Router struct {
	engine           *gin.Engine
	logger           *utils.Logger
	config           *config.Config
	authMiddleware   *middleware.AuthMiddleware
	repos            *repository.RepositoryFactory
	jobs             controllers.JobRunner
	metrics          *metrics.Metrics
	hub              *stream.Hub
	apiV1            *gin.RouterGroup
	jobController    *controllers.JobController
	pointController  *controllers.PointController
	streamController *controllers.StreamController
}

// NewRouter creates a new Router instance
func NewRouter(
	config *config.Config,
	logger *utils.Logger,
	repos *repository.RepositoryFactory,
	jobs controllers.JobRunner,
	m *metrics.Metrics,
	hub *stream.Hub,
) *Router {
	// Set Gin mode based on environment
	if config.Server.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	// Use the logger and recovery middleware
	engine.Use(gin.Recovery())
	engine.Use(middleware.LoggingMiddleware(logger))

	// Configure CORS
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Authorization", "Content-Type", "Origin"}
	engine.Use(cors.New(corsConfig))

	// Create JWT auth middleware
	authMiddleware := middleware.NewAuthMiddleware(&config.JWT)

	return &Router{
		engine:         engine,
		logger:         logger.Named("router"),
		config:         config,
		authMiddleware: authMiddleware,
		repos:          repos,
		jobs:           jobs,
		metrics:        m,
		hub:            hub,
	}
}

// SetupRoutes configures all API routes
func (r *Router) SetupRoutes() {
	// Health check endpoint (no auth required)
	r.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	if r.metrics != nil {
		r.engine.GET("/metrics", gin.WrapH(r.metrics.Handler()))
	}

	// API version group - all main API routes are under /api/v1
	r.apiV1 = r.engine.Group("/api/v1")

	// Setup controllers
	r.jobController = controllers.NewJobController(r.jobs, r.logger)
	r.pointController = controllers.NewPointController(r.repos, r.logger)

	// Routes that require authentication
	authorizedRoutes := r.apiV1.Group("")
	authorizedRoutes.Use(r.authMiddleware.RequireAuth())

	r.jobController.RegisterRoutes(authorizedRoutes)
	r.pointController.RegisterRoutes(authorizedRoutes)

	if r.hub != nil {
		r.streamController = controllers.NewStreamController(r.hub, r.logger)
		r.streamController.RegisterRoutes(authorizedRoutes)
	}

	// Admin-only routes
	adminRoutes := authorizedRoutes.Group("")
	adminRoutes.Use(r.authMiddleware.RequireAdmin())
	r.jobController.RegisterAdminRoutes(adminRoutes)

	r.logger.Info("API routes setup completed")
}

// GetEngine returns the Gin engine
func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}
