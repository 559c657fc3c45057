package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gridsense/pdmon/internal/api/middleware"
	"github.com/gridsense/pdmon/internal/scheduler"
	"github.com/gridsense/pdmon/internal/utils"
	"go.uber.org/zap"
)

// JobRunner is the part of the scheduler the job endpoints need
type JobRunner interface {
	Jobs() []string
	LastResult(name string) (*scheduler.Result, bool)
	IsRunning(name string) bool
	Trigger(name string) error
}

// JobStatus describes one job in API responses
type JobStatus struct {
	Name       string            `json:"name"`
	Running    bool              `json:"running"`
	LastResult *scheduler.Result `json:"last_result,omitempty"`
}

// JobController exposes job status and manual triggers
type JobController struct {
	runner JobRunner
	logger *utils.Logger
}

// NewJobController creates a new job controller
func NewJobController(runner JobRunner, logger *utils.Logger) *JobController {
	return &JobController{
		runner: runner,
		logger: logger.Named("job_controller"),
	}
}

// RegisterRoutes registers the read-only job routes
func (c *JobController) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/jobs", c.ListJobs)
	router.GET("/jobs/:name", c.GetJob)
}

// RegisterAdminRoutes registers the routes that start jobs
func (c *JobController) RegisterAdminRoutes(router *gin.RouterGroup) {
	router.POST("/jobs/:name/run", c.RunJob)
}

// ListJobs returns every registered job with its last result
// @Summary List jobs
// @Tags jobs
// @Produce json
// @Security Bearer
// @Success 200 {array} JobStatus
// @Router /jobs [get]
func (c *JobController) ListJobs(ctx *gin.Context) {
	names := c.runner.Jobs()
	jobs := make([]JobStatus, 0, len(names))
	for _, name := range names {
		jobs = append(jobs, c.status(name))
	}
	ctx.JSON(http.StatusOK, jobs)
}

// GetJob returns one job
// @Summary Get job
// @Tags jobs
// @Produce json
// @Security Bearer
// @Param name path string true "Job name"
// @Success 200 {object} JobStatus
// @Failure 404 {object} utils.ErrorResponse
// @Router /jobs/{name} [get]
func (c *JobController) GetJob(ctx *gin.Context) {
	name := ctx.Param("name")
	if !c.hasJob(name) {
		utils.HandleError(ctx, utils.ErrNotFound, c.logger)
		return
	}
	ctx.JSON(http.StatusOK, c.status(name))
}

// RunJob starts a job in the background. The result shows up in GetJob once
// the run finishes.
// @Summary Run job
// @Tags jobs
// @Produce json
// @Security Bearer
// @Param name path string true "Job name"
// @Success 202 {object} map[string]string
// @Failure 404 {object} utils.ErrorResponse
// @Failure 409 {object} utils.ErrorResponse
// @Router /jobs/{name}/run [post]
func (c *JobController) RunJob(ctx *gin.Context) {
	name := ctx.Param("name")

	err := c.runner.Trigger(name)
	switch {
	case err == nil:
	case errors.Is(err, scheduler.ErrUnknownJob):
		utils.HandleError(ctx, utils.ErrNotFound, c.logger)
		return
	case errors.Is(err, scheduler.ErrJobRunning):
		utils.HandleError(ctx, utils.NewErrorWithCode(utils.ErrAlreadyExists, "job_running"), c.logger)
		return
	case errors.Is(err, scheduler.ErrNotStarted):
		utils.HandleError(ctx, utils.ErrServiceUnavailable, c.logger)
		return
	default:
		utils.HandleError(ctx, err, c.logger)
		return
	}

	subject, _ := ctx.Get(middleware.ContextSubject)
	c.logger.Info("Job triggered via API", zap.String("job", name), zap.Any("subject", subject))

	ctx.JSON(http.StatusAccepted, gin.H{"job": name, "status": "started"})
}

func (c *JobController) hasJob(name string) bool {
	for _, n := range c.runner.Jobs() {
		if n == name {
			return true
		}
	}
	return false
}

func (c *JobController) status(name string) JobStatus {
	status := JobStatus{Name: name, Running: c.runner.IsRunning(name)}
	if last, ok := c.runner.LastResult(name); ok {
		status.LastResult = last
	}
	return status
}
