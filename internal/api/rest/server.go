package rest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Teodor85/Tekdaqc-Firmware/internal/api/websocket"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/auth"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/config"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/interfaces"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Server struct {
	router  *gin.Engine
	inst    interfaces.Instrument
	logger  *zap.Logger
	server  *http.Server
	wsHub   *websocket.Hub
	metrics http.Handler
	auth    *auth.Service
}

// NewServer builds the HTTP API. metrics may be nil, which leaves /metrics
// unrouted. A nil authService leaves the control routes open.
func NewServer(cfg *config.Config, inst interfaces.Instrument, wsHub *websocket.Hub, metrics http.Handler, authService *auth.Service, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router:  gin.New(),
		inst:    inst,
		logger:  logger,
		wsHub:   wsHub,
		metrics: metrics,
		auth:    authService,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.logger.Info("Starting REST API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("REST server failed", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down REST API server")
	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	s.router.Use(gin.Recovery())
	s.router.Use(LoggerMiddleware(s.logger))
	s.router.Use(CORSMiddleware())

	s.router.GET("/health", s.healthCheck)
	s.router.GET("/ws", s.wsLiveConnection)
	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics))
	}

	v1 := s.router.Group("/api/v1")
	{
		if s.auth != nil {
			v1.POST("/auth/login", s.login)
		}

		// control holds the routes that change instrument state.
		control := v1.Group("")
		if s.auth != nil {
			control.Use(s.auth.AuthMiddleware())
		}

		system := v1.Group("/system")
		{
			system.GET("/status", s.getSystemStatus)
		}
		control.POST("/system/shutdown", s.permit(auth.PermAdmin), s.shutdown)

		v1.GET("/board", s.getBoard)
		v1.GET("/calibration", s.getCalibration)
		v1.GET("/channels", s.listChannels)
		v1.GET("/state", s.getCommandState)

		control.POST("/commands", s.permit(auth.PermOperate), s.executeCommand)
		control.GET("/commands/last-error", s.permit(auth.PermOperate), s.getLastError)

		v1.GET("/archive/:type/:number", s.getArchivedReadings)

		ws := v1.Group("/ws")
		{
			ws.GET("/live", s.wsLiveConnection)
			ws.GET("/status", s.wsStatus)
		}
	}
}

func (s *Server) wsLiveConnection(c *gin.Context) {
	websocket.ServeWs(s.wsHub, c.Writer, c.Request)
}

func (s *Server) wsStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connected_clients": s.wsHub.ClientCount(),
	})
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	})
}
