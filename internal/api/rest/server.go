package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/KevinKickass/OpenLaserCore/internal/api/websocket"
	"github.com/KevinKickass/OpenLaserCore/internal/auth"
	"github.com/KevinKickass/OpenLaserCore/internal/config"
	"github.com/KevinKickass/OpenLaserCore/internal/dispatcher"
	"github.com/KevinKickass/OpenLaserCore/internal/storage"
	sse "github.com/alexandrevicenzi/go-sse"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// HistoryStore lists recorded jobs.
type HistoryStore interface {
	ListJobs(ctx context.Context, limit int) ([]storage.JobRecord, error)
}

type Options struct {
	Config     *config.Config
	Dispatcher *dispatcher.Dispatcher
	Presets    *config.Presets
	Hub        *websocket.Hub
	// Verifier guards the API. Nil disables authentication.
	Verifier auth.TokenVerifier
	// History is optional.
	History HistoryStore
}

type Server struct {
	router     *gin.Engine
	cfg        *config.Config
	dispatcher *dispatcher.Dispatcher
	presets    *config.Presets
	wsHub      *websocket.Hub
	verifier   auth.TokenVerifier
	history    HistoryStore
	validator  *requestValidator
	sse        *sse.Server
	logger     *zap.Logger
	server     *http.Server
}

func NewServer(opts Options, logger *zap.Logger) (*Server, error) {
	gin.SetMode(gin.ReleaseMode)

	validator, err := newRequestValidator()
	if err != nil {
		return nil, err
	}

	presets := opts.Presets
	if presets == nil {
		presets, _ = config.LoadPresets("")
	}

	s := &Server{
		router:     gin.New(),
		cfg:        opts.Config,
		dispatcher: opts.Dispatcher,
		presets:    presets,
		wsHub:      opts.Hub,
		verifier:   opts.Verifier,
		history:    opts.History,
		validator:  validator,
		sse: sse.NewServer(&sse.Options{
			Logger: zap.NewStdLog(logger.Named("sse")),
		}),
		logger: logger,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:        fmt.Sprintf(":%d", opts.Config.Server.HTTPPort),
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		// no WriteTimeout, event streams stay open
		IdleTimeout: 60 * time.Second,
		ErrorLog:    zap.NewStdLog(logger.Named("http")),
	}

	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.logger.Info("Starting REST API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Fatal("REST server failed", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down REST API server")
	s.sse.Shutdown()
	return s.server.Shutdown(ctx)
}

const (
	channelDevice = "/events/device"
	channelJob    = "/events/job"
)

// Handle is a dispatcher listener forwarding events to SSE clients.
func (s *Server) Handle(ev dispatcher.Event) {
	channel := channelDevice
	if ev.Type == dispatcher.EventJobStatus {
		channel = channelJob
	}

	data, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error("Failed to marshal event", zap.Error(err))
		return
	}
	s.sse.SendMessage(channel, sse.NewMessage("", string(data), string(ev.Type)))
}

func (s *Server) setupRoutes() {
	// Middleware
	s.router.Use(gin.Recovery())
	s.router.Use(LoggerMiddleware(s.logger))
	s.router.Use(CORSMiddleware())

	// Public routes (no auth required)
	s.router.GET("/health", s.healthCheck)

	events := s.router.Group("/events")
	events.Use(auth.Middleware(s.verifier))
	{
		events.GET("/device", gin.WrapH(s.sse))
		events.GET("/job", gin.WrapH(s.sse))
	}

	v1 := s.router.Group("/api/v1")
	{
		// ==================== WEBSOCKET (Auth via first message) ====================
		v1.GET("/ws/live", s.wsLiveConnection)

		api := v1.Group("")
		api.Use(auth.Middleware(s.verifier))

		// ==================== DEVICE ====================
		device := api.Group("/device")
		{
			device.GET("", s.getDevice)
			device.POST("/connect", s.connectDevice)
			device.POST("/disconnect", s.disconnectDevice)
		}

		// ==================== JOBS ====================
		jobs := api.Group("/jobs")
		{
			jobs.POST("/homing", s.startHoming)
			jobs.POST("/move", s.startMove)
			jobs.POST("/framing", s.startFraming)
			jobs.POST("/engrave", s.startEngrave)
			jobs.POST("/engrave/image", s.startEngraveImage)

			jobs.GET("/current", s.getCurrentJob)
			jobs.POST("/current/cancel", s.cancelJob)
			jobs.POST("/current/pause", s.pauseJob)
			jobs.POST("/current/continue", s.continueJob)

			jobs.GET("/history", s.listHistory)
		}

		api.GET("/presets", s.listPresets)
		api.GET("/ws/status", s.wsStatus)
	}
}

// WebSocket handlers
func (s *Server) wsLiveConnection(c *gin.Context) {
	websocket.ServeWs(s.wsHub, c.Writer, c.Request)
}

func (s *Server) wsStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connected_clients": s.wsHub.GetClientCount(),
	})
}

// Health check (public)
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	})
}
