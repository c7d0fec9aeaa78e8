package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"batchable/internal/api"
	"batchable/internal/batcher"
	"batchable/internal/config"
	"batchable/internal/history"
	"batchable/internal/plugin"
	"batchable/internal/target"
	"batchable/internal/ws"
)

// Server represents the main server
type Server struct {
	cfg           *config.Config
	pluginManager *plugin.PluginManager
	targets       map[string]target.Target
	coordinator   *batcher.Coordinator
	registry      *batcher.Registry
	history       *history.History
	sweeper       *batcher.Sweeper
	service       *api.Service
	rpcServer     *http.Server
	wsServer      *http.Server
	logger        zerolog.Logger
}

// New creates a new Server and registers every configured handler
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	// Create plugin manager based on config
	var pluginMgr *plugin.PluginManager
	if cfg.IsPluginsEnabled() {
		pluginMgr = plugin.NewPluginManager(logger)
		pluginMgr.SetTimeout(cfg.GetPluginTimeoutDuration())

		if err := pluginMgr.LoadFromDirectory(cfg.GetPluginDirectory()); err != nil {
			return nil, fmt.Errorf("failed to load plugins: %w", err)
		}

		logger.Info().
			Strs("handlers", pluginMgr.Handlers()).
			Str("directory", cfg.GetPluginDirectory()).
			Msg("plugins enabled")
	} else {
		logger.Info().Msg("plugins disabled")
	}

	coordinator := batcher.NewCoordinator(batcher.NewStore(), batcher.TargetExecutor(), logger)
	if cfg.GetDispatchMode() == config.DispatchAsync {
		coordinator.SetDispatcher(batcher.NewPoolDispatcher(cfg.GetDispatchConcurrency()))
		logger.Info().
			Int("concurrency", cfg.GetDispatchConcurrency()).
			Msg("async dispatch enabled")
	}

	hist, err := history.New(cfg.HistorySize, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create history: %w", err)
	}
	coordinator.SetObserver(hist)

	s := &Server{
		cfg:           cfg,
		pluginManager: pluginMgr,
		targets:       make(map[string]target.Target),
		coordinator:   coordinator,
		registry:      batcher.NewRegistry(coordinator),
		history:       hist,
		sweeper:       batcher.NewSweeper(coordinator, cfg.GetSweepIntervalDuration(), logger),
		logger:        logger,
	}
	s.service = api.NewService(s.registry, coordinator, s.sweeper, hist, logger)

	for _, hc := range cfg.Handlers {
		if err := s.addHandler(hc); err != nil {
			s.closeTargets()
			return nil, err
		}
	}

	return s, nil
}

// addHandler builds the target of a handler and registers it
func (s *Server) addHandler(hc config.HandlerConfig) error {
	var plugins plugin.Manager
	if s.pluginManager != nil {
		plugins = s.pluginManager
	}

	tgt, err := target.Build(hc, s.cfg, plugins, s.logger)
	if err != nil {
		return err
	}

	cfg := batcher.Config{
		SizeThreshold: hc.Size,
		TimeThreshold: hc.GetTimeoutDuration(),
	}
	if _, err := s.registry.Register(hc.Name, cfg, tgt); err != nil {
		tgt.Close()
		return fmt.Errorf("failed to register handler %s: %w", hc.Name, err)
	}
	s.targets[hc.Name] = tgt
	s.service.SetTargetType(hc.Name, tgt.Type())

	s.logger.Info().
		Str("handler", hc.Name).
		Int("size", hc.Size).
		Dur("timeout", cfg.TimeThreshold).
		Str("target", tgt.Type()).
		Msg("handler registered")
	return nil
}

// Start starts the sweeper and the HTTP and WebSocket servers
func (s *Server) Start() error {
	s.sweeper.Start()

	rpcHandler := api.NewHandler(s.service, s.cfg.MaxBodySize, s.logger)
	wsHandler := ws.NewHandler(s.service, s.cfg.MaxBodySize, s.logger)

	rpcAddr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	wsAddr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.WSPort)

	s.rpcServer = &http.Server{
		Addr:         rpcAddr,
		Handler:      rpcHandler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		s.logger.Info().
			Str("addr", rpcAddr).
			Msg("starting RPC server")
		if err := s.rpcServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("RPC server error")
		}
	}()

	s.wsServer = &http.Server{
		Addr:         wsAddr,
		Handler:      wsHandler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		s.logger.Info().
			Str("addr", wsAddr).
			Msg("starting WebSocket server")
		if err := s.wsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("WebSocket server error")
		}
	}()

	s.logger.Info().
		Strs("handlers", s.registry.Names()).
		Str("rpc", fmt.Sprintf("http://%s", rpcAddr)).
		Str("ws", fmt.Sprintf("ws://%s", wsAddr)).
		Msg("endpoints available")

	return nil
}

// Stop gracefully stops the server. Pending batches are executed only
// when flushOnShutdown is set, otherwise they are discarded.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("shutting down server...")

	var rpcErr, wsErr error
	if s.rpcServer != nil {
		rpcErr = s.rpcServer.Shutdown(ctx)
	}
	if s.wsServer != nil {
		wsErr = s.wsServer.Shutdown(ctx)
	}

	s.sweeper.Stop()

	if s.cfg.FlushOnShutdown {
		drained := s.coordinator.Drain(ctx)
		s.logger.Info().Int("batches", drained).Msg("pending batches flushed")
	} else if pending := s.coordinator.Store().Clear(); pending > 0 {
		s.logger.Warn().Int("batches", pending).Msg("pending batches discarded")
	}

	s.coordinator.Wait()
	s.closeTargets()

	if s.pluginManager != nil {
		s.pluginManager.Close()
	}

	if rpcErr != nil {
		return fmt.Errorf("RPC server shutdown error: %w", rpcErr)
	}
	if wsErr != nil {
		return fmt.Errorf("WebSocket server shutdown error: %w", wsErr)
	}

	s.logger.Info().Msg("server stopped")
	return nil
}

func (s *Server) closeTargets() {
	for name, tgt := range s.targets {
		if err := tgt.Close(); err != nil {
			s.logger.Warn().Err(err).Str("handler", name).Msg("failed to close target")
		}
	}
}

// Registry returns the handler registry
func (s *Server) Registry() *batcher.Registry {
	return s.registry
}

// Coordinator returns the batch coordinator
func (s *Server) Coordinator() *batcher.Coordinator {
	return s.coordinator
}
