package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	config "gitlab.com/quizduino/qz.realtime_server/src/production/QZ.Config"
	logger "gitlab.com/quizduino/qz.realtime_server/src/production/QZ.Logger"
	realtime "gitlab.com/quizduino/qz.realtime_server/src/production/QZ.Realtime"
)

// RealtimeController upgrades device connections and hands them to the
// message router
type RealtimeController struct {
	router   *realtime.Router
	cfg      *config.RealtimeConfig
	logger   *logger.Logger
	upgrader websocket.Upgrader
}

// NewRealtimeController creates a new realtime controller
func NewRealtimeController(router *realtime.Router, cfg *config.RealtimeConfig, logger *logger.Logger) *RealtimeController {
	return &RealtimeController{
		router: router,
		cfg:    cfg,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Consoles connect from private networks without an
				// Origin header; browser clients are screened by CORS
				// on the rest of the API
				return true
			},
		},
	}
}

// RegisterRoutes registers the websocket endpoint with Gin
func (c *RealtimeController) RegisterRoutes(router *gin.Engine) {
	router.GET("/ws", c.Serve)
}

// Serve upgrades the request and runs the connection until it closes
func (c *RealtimeController) Serve(ctx *gin.Context) {
	conn, err := c.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		c.logger.ErrorWithError(err, "WebSocket upgrade failed")
		return
	}

	wsConn := realtime.NewWSConn(conn, c.cfg, c.logger)
	go wsConn.WriteLoop()
	wsConn.ReadLoop(c.router)
}
