package controllers

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gridsense/pdmon/internal/db/repository"
	"github.com/gridsense/pdmon/internal/utils"
)

// SamplesRequest defines the query parameters for sample history
type SamplesRequest struct {
	Start time.Time `form:"start" time_format:"2006-01-02T15:04:05Z07:00"`
	End   time.Time `form:"end" time_format:"2006-01-02T15:04:05Z07:00"`
	Limit int       `form:"limit" binding:"omitempty,min=1,max=1000"`
}

// OfflineRecordsRequest defines the query parameters for offline history
type OfflineRecordsRequest struct {
	Limit int `form:"limit" binding:"omitempty,min=1,max=500"`
}

// PointController serves point state and history
type PointController struct {
	points  repository.PointRepository
	samples repository.SampleRepository
	offline repository.OfflineRepository
	logger  *utils.Logger
}

// NewPointController creates a new point controller
func NewPointController(repos *repository.RepositoryFactory, logger *utils.Logger) *PointController {
	return &PointController{
		points:  repos.Point(),
		samples: repos.Sample(),
		offline: repos.Offline(),
		logger:  logger.Named("point_controller"),
	}
}

// RegisterRoutes registers the point routes
func (c *PointController) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/points", c.ListPoints)
	router.GET("/points/:code", c.GetPoint)
	router.GET("/points/:code/samples", c.ListSamples)
	router.GET("/points/:code/offline-records", c.ListOfflineRecords)
}

// ListPoints returns the registered points, paginated
// @Summary List points
// @Tags points
// @Produce json
// @Security Bearer
// @Param page query int false "Page number"
// @Param limit query int false "Items per page"
// @Success 200 {object} utils.PagedResponse[models.MonitoredPoint]
// @Router /points [get]
func (c *PointController) ListPoints(ctx *gin.Context) {
	page := utils.PageFromQuery(ctx)

	points, total, err := c.points.ListPage(ctx.Request.Context(), page.Offset(), page.Limit)
	if err != nil {
		utils.HandleError(ctx, storeError(err), c.logger)
		return
	}

	ctx.JSON(http.StatusOK, utils.NewPagedResponse(points, page, int(total)))
}

// GetPoint returns one point with its thresholds and last known sample
// @Summary Get point
// @Tags points
// @Produce json
// @Security Bearer
// @Param code path string true "KKS code"
// @Success 200 {object} models.MonitoredPoint
// @Failure 404 {object} utils.ErrorResponse
// @Router /points/{code} [get]
func (c *PointController) GetPoint(ctx *gin.Context) {
	point, err := c.points.GetByCode(ctx.Request.Context(), ctx.Param("code"))
	if err != nil {
		utils.HandleError(ctx, storeError(err), c.logger)
		return
	}
	ctx.JSON(http.StatusOK, point)
}

// ListSamples returns the samples of a point, newest first
// @Summary List samples
// @Tags points
// @Produce json
// @Security Bearer
// @Param code path string true "KKS code"
// @Param start query string false "Start time (RFC3339), defaults to 24h before end"
// @Param end query string false "End time (RFC3339), defaults to now"
// @Param limit query int false "Maximum samples (default 100, max 1000)"
// @Success 200 {array} models.AcquisitionSample
// @Failure 400 {object} utils.ValidationErrorResponse
// @Failure 404 {object} utils.ErrorResponse
// @Router /points/{code}/samples [get]
func (c *PointController) ListSamples(ctx *gin.Context) {
	code := ctx.Param("code")

	var req SamplesRequest
	if err := ctx.ShouldBindQuery(&req); err != nil {
		utils.HandleValidationErrors(ctx, err)
		return
	}

	// Default values
	if req.End.IsZero() {
		req.End = time.Now()
	}
	if req.Start.IsZero() {
		req.Start = req.End.Add(-24 * time.Hour)
	}
	if req.Limit == 0 {
		req.Limit = 100
	}
	if req.Start.After(req.End) {
		utils.HandleError(ctx, fmt.Errorf("%w: start is after end", utils.ErrBadRequest), c.logger)
		return
	}

	if _, err := c.points.GetByCode(ctx.Request.Context(), code); err != nil {
		utils.HandleError(ctx, storeError(err), c.logger)
		return
	}

	samples, err := c.samples.List(ctx.Request.Context(), code, req.Start, req.End, req.Limit)
	if err != nil {
		utils.HandleError(ctx, storeError(err), c.logger)
		return
	}

	ctx.JSON(http.StatusOK, samples)
}

// ListOfflineRecords returns the offline episodes of a point, newest first
// @Summary List offline records
// @Tags points
// @Produce json
// @Security Bearer
// @Param code path string true "KKS code"
// @Param limit query int false "Maximum records (default 50, max 500)"
// @Success 200 {array} models.OfflineRecord
// @Failure 400 {object} utils.ValidationErrorResponse
// @Failure 404 {object} utils.ErrorResponse
// @Router /points/{code}/offline-records [get]
func (c *PointController) ListOfflineRecords(ctx *gin.Context) {
	code := ctx.Param("code")

	var req OfflineRecordsRequest
	if err := ctx.ShouldBindQuery(&req); err != nil {
		utils.HandleValidationErrors(ctx, err)
		return
	}
	if req.Limit == 0 {
		req.Limit = 50
	}

	if _, err := c.points.GetByCode(ctx.Request.Context(), code); err != nil {
		utils.HandleError(ctx, storeError(err), c.logger)
		return
	}

	records, err := c.offline.ListByPoint(ctx.Request.Context(), code, req.Limit)
	if err != nil {
		utils.HandleError(ctx, storeError(err), c.logger)
		return
	}

	ctx.JSON(http.StatusOK, records)
}

// storeError maps repository errors onto API errors
func storeError(err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%w: point", utils.ErrNotFound)
	case errors.Is(err, repository.ErrDatabase):
		return fmt.Errorf("%w: %w", utils.ErrTransientStore, err)
	}
	return err
}
