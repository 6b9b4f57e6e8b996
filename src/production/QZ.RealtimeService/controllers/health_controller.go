package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	logger "gitlab.com/quizduino/qz.realtime_server/src/production/QZ.Logger"
	realtime "gitlab.com/quizduino/qz.realtime_server/src/production/QZ.Realtime"
	"gitlab.com/quizduino/qz.realtime_server/src/production/QZ.RealtimeService/health"
)

// HealthController handles health and stats requests
type HealthController struct {
	checker  *health.MongoChecker
	registry *realtime.Registry
	rooms    *realtime.RoomTable
	logger   *logger.Logger
}

// NewHealthController creates a new health controller
func NewHealthController(checker *health.MongoChecker, registry *realtime.Registry, rooms *realtime.RoomTable, logger *logger.Logger) *HealthController {
	return &HealthController{
		checker:  checker,
		registry: registry,
		rooms:    rooms,
		logger:   logger,
	}
}

// RegisterRoutes registers the health routes with Gin
func (c *HealthController) RegisterRoutes(router *gin.Engine) {
	router.GET("/health/live", c.HealthLive)
	router.GET("/health/ready", c.HealthReady)
	router.GET("/stats/summary", c.GetSummaryStats)
}

func (c *HealthController) HealthLive(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

func (c *HealthController) HealthReady(ctx *gin.Context) {
	if err := c.checker.Ping(ctx.Request.Context()); err != nil {
		c.logger.ErrorWithError(err, "Readiness check failed")
		ctx.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"db":     false,
		})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"db":     true,
	})
}

func (c *HealthController) GetSummaryStats(ctx *gin.Context) {
	byStatus := make(map[string]int)
	for status, count := range c.rooms.CountByStatus() {
		byStatus[string(status)] = count
	}

	ctx.JSON(http.StatusOK, gin.H{
		"devices":         c.registry.Count(),
		"rooms":           c.rooms.Count(),
		"rooms_by_status": byStatus,
	})
}
