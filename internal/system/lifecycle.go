package system

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/KevinKickass/OpenLaserCore/internal/api/rest"
	"github.com/KevinKickass/OpenLaserCore/internal/api/websocket"
	"github.com/KevinKickass/OpenLaserCore/internal/auth"
	"github.com/KevinKickass/OpenLaserCore/internal/config"
	"github.com/KevinKickass/OpenLaserCore/internal/dispatcher"
	"github.com/KevinKickass/OpenLaserCore/internal/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type LifecycleManager struct {
	config     *config.Config
	dispatcher *dispatcher.Dispatcher
	wsHub      *websocket.Hub
	recorder   *storage.Recorder
	health     *healthReporter
	logger     *zap.Logger

	restServer *rest.Server
	grpcServer *grpc.Server
	grpcAddr   net.Addr

	stateMu      sync.RWMutex
	currentState SystemState

	workers     sync.WaitGroup
	stopWorkers context.CancelFunc
	unsubscribe []func()

	shutdownOnce sync.Once
}

// NewLifecycleManager wires the dispatcher to its notification sinks. db may
// be nil, job history is then not recorded.
func NewLifecycleManager(cfg *config.Config, presets *config.Presets, db *storage.PostgresClient, logger *zap.Logger) (*LifecycleManager, error) {
	d := dispatcher.New(cfg.Device, dispatcher.NewFactory(logger.Named("device")), logger.Named("dispatcher"))

	var verifier auth.TokenVerifier
	if cfg.Auth.Enabled {
		if !cfg.Auth.IsProductionReady() {
			logger.Warn("JWT secret not set, using development secret",
				zap.String("env", cfg.Auth.JWTSecretEnv))
		}
		verifier = auth.NewJWTVerifier(cfg.Auth.GetJWTSecret(), cfg.Auth.Issuer)
	}

	hub := websocket.NewHub(logger.Named("websocket"), verifier, func() any { return d.State() })

	opts := rest.Options{
		Config:     cfg,
		Dispatcher: d,
		Presets:    presets,
		Hub:        hub,
		Verifier:   verifier,
	}

	var recorder *storage.Recorder
	if db != nil {
		recorder = storage.NewRecorder(db, logger.Named("history"))
		opts.History = db
	}

	restServer, err := rest.NewServer(opts, logger.Named("rest"))
	if err != nil {
		return nil, fmt.Errorf("failed to create REST server: %w", err)
	}

	return &LifecycleManager{
		config:       cfg,
		dispatcher:   d,
		wsHub:        hub,
		recorder:     recorder,
		health:       newHealthReporter(),
		logger:       logger,
		restServer:   restServer,
		currentState: StateInitializing,
	}, nil
}

func (lm *LifecycleManager) Dispatcher() *dispatcher.Dispatcher {
	return lm.dispatcher
}

// Start starts the entire system
func (lm *LifecycleManager) Start(ctx context.Context) error {
	lm.logger.Info("Starting OpenLaserCore")

	workerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	lm.stopWorkers = cancel

	lm.goWorker(func() { lm.wsHub.Run(workerCtx) })
	if lm.recorder != nil {
		lm.goWorker(func() { lm.recorder.Run(workerCtx) })
		lm.unsubscribe = append(lm.unsubscribe, lm.dispatcher.Subscribe(lm.recorder.Handle))
	}
	lm.unsubscribe = append(lm.unsubscribe,
		lm.dispatcher.Subscribe(lm.health.Handle),
		lm.dispatcher.Subscribe(lm.wsHub.Handle),
		lm.dispatcher.Subscribe(lm.restServer.Handle),
	)

	if err := lm.startGRPCServer(); err != nil {
		lm.setError(err)
		return fmt.Errorf("failed to start gRPC: %w", err)
	}

	if err := lm.restServer.Start(); err != nil {
		lm.setError(err)
		return fmt.Errorf("failed to start REST API: %w", err)
	}

	if err := lm.setState(StateRunning); err != nil {
		return err
	}

	lm.logger.Info("System started successfully",
		zap.Int("grpc_port", lm.config.Server.GRPCPort),
		zap.Int("http_port", lm.config.Server.HTTPPort),
		zap.String("device_type", lm.config.Device.Type),
		zap.Bool("job_history", lm.recorder != nil))

	return nil
}

func (lm *LifecycleManager) goWorker(fn func()) {
	lm.workers.Add(1)
	go func() {
		defer lm.workers.Done()
		fn()
	}()
}

func (lm *LifecycleManager) startGRPCServer() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", lm.config.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	lm.grpcAddr = lis.Addr()

	lm.grpcServer = grpc.NewServer()
	healthpb.RegisterHealthServer(lm.grpcServer, lm.health.server)

	go func() {
		lm.logger.Info("gRPC server listening",
			zap.String("address", lis.Addr().String()),
			zap.String("services", "grpc.health.v1.Health"))
		if err := lm.grpcServer.Serve(lis); err != nil {
			lm.logger.Error("gRPC server failed", zap.Error(err))
		}
	}()

	return nil
}

// GRPCAddr is the address the gRPC server listens on once started.
func (lm *LifecycleManager) GRPCAddr() net.Addr {
	return lm.grpcAddr
}

// Shutdown stops the current job, disconnects the device and stops all
// servers. It runs once, later calls return nil.
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down system")
		if err := lm.setState(StateStopping); err != nil {
			lm.logger.Warn("Unexpected shutdown transition", zap.Error(err))
		}

		shutdownErr = lm.gracefulShutdown(ctx)

		if lm.stopWorkers != nil {
			lm.stopWorkers()
		}
		lm.workers.Wait()

		if shutdownErr != nil {
			lm.setError(shutdownErr)
			return
		}
		_ = lm.setState(StateStopped)
	})

	return shutdownErr
}

func (lm *LifecycleManager) gracefulShutdown(ctx context.Context) error {
	// 1. Cancel the job and release the device, listeners still see the
	// final events
	deviceErr := lm.dispatcher.Shutdown(ctx)
	if deviceErr != nil {
		deviceErr = fmt.Errorf("device shutdown failed: %w", deviceErr)
	}
	for _, unsubscribe := range lm.unsubscribe {
		unsubscribe()
	}

	g, ctx := errgroup.WithContext(ctx)

	// 2. REST API Server graceful shutdown
	g.Go(func() error {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		if err := lm.restServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("rest api shutdown failed: %w", err)
		}
		return nil
	})

	// 3. gRPC Server graceful stop
	if lm.grpcServer != nil {
		g.Go(func() error {
			lm.logger.Info("Stopping gRPC server")
			lm.health.server.Shutdown()
			lm.grpcServer.GracefulStop()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	if deviceErr != nil {
		return deviceErr
	}
	lm.logger.Info("Graceful shutdown completed")
	return nil
}

func (lm *LifecycleManager) State() SystemState {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()
	return lm.currentState
}

func (lm *LifecycleManager) setState(state SystemState) error {
	lm.stateMu.Lock()
	defer lm.stateMu.Unlock()
	if err := ValidateTransition(lm.currentState, state); err != nil {
		return err
	}
	lm.logger.Debug("System state changed",
		zap.Stringer("from", lm.currentState),
		zap.Stringer("to", state))
	lm.currentState = state
	return nil
}

func (lm *LifecycleManager) setError(err error) {
	lm.stateMu.Lock()
	defer lm.stateMu.Unlock()
	lm.logger.Error("System error", zap.Error(err))
	lm.currentState = StateError
}
