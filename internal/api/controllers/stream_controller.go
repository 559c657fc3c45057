package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/gridsense/pdmon/internal/api/middleware"
	"github.com/gridsense/pdmon/internal/stream"
	"github.com/gridsense/pdmon/internal/utils"
	"go.uber.org/zap"
)

// StreamController upgrades clients onto the live event stream
type StreamController struct {
	hub      *stream.Hub
	upgrader websocket.Upgrader
	logger   *utils.Logger
}

// NewStreamController creates a new stream controller
func NewStreamController(hub *stream.Hub, logger *utils.Logger) *StreamController {
	return &StreamController{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origins are already restricted by CORS and the bearer token
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger.Named("stream_controller"),
	}
}

// RegisterRoutes registers the stream route
func (c *StreamController) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/stream", c.Stream)
}

// Stream pushes alarm and point state events over a websocket
// @Summary Live event stream
// @Description Websocket of alarm and point state events. Send {"action":"subscribe","topic":"<kks code>"} to narrow it.
// @Tags stream
// @Security Bearer
// @Param access_token query string false "Bearer token for clients that cannot set headers"
// @Success 101
// @Router /stream [get]
func (c *StreamController) Stream(ctx *gin.Context) {
	conn, err := c.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		// Upgrade has already written the error response
		c.logger.Warn("Failed to upgrade stream connection", zap.Error(err))
		return
	}

	c.hub.Serve(conn, ctx.GetString(middleware.ContextSubject))
}
