package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"liuproxy_pulse/internal/shared/globalstate"
	"liuproxy_pulse/internal/shared/logger"
	"liuproxy_pulse/internal/shared/types"
)

// StatusResponse 是 GET /api/status 的返回体。
type StatusResponse struct {
	Status   string                     `json:"status"`
	PoolSize int                        `json:"pool_size"`
	Workers  []globalstate.WorkerStatus `json:"workers"`
}

// Server 是只读的状态页面：状态快照 API 和 WebSocket 事件流。
type Server struct {
	cfg    types.WebConf
	hub    *Hub
	status *globalstate.StatusManager
	e      *echo.Echo
}

func NewServer(cfg types.WebConf, hub *Hub, status *globalstate.StatusManager) *Server {
	s := &Server{cfg: cfg, hub: hub, status: status}
	s.e = s.setupRouter()
	return s
}

func (s *Server) setupRouter() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	l := logger.WithComponent("Web/Server")
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			l.Debug().Str("method", v.Method).Str("uri", v.URI).Int("status", v.Status).Msg("Request handled.")
			return nil
		},
	}))

	api := e.Group("/api")
	api.GET("/status", s.handleStatus)

	e.GET("/ws", func(c echo.Context) error {
		ServeWs(s.hub, c.Response(), c.Request())
		return nil
	})
	return e
}

// GET /api/status
func (s *Server) handleStatus(c echo.Context) error {
	workers := s.status.Workers()
	if workers == nil {
		workers = []globalstate.WorkerStatus{}
	}
	return c.JSON(http.StatusOK, StatusResponse{
		Status:   s.status.Get(),
		PoolSize: s.status.PoolSize(),
		Workers:  workers,
	})
}

// Handler 返回底层的 http.Handler。
func (s *Server) Handler() http.Handler {
	return s.e
}

// Run 在配置的端口上提供服务直到 ctx 被取消。端口为 0 时不启动，直接返回。
func (s *Server) Run(ctx context.Context) error {
	l := logger.WithComponent("Web/Server")
	if s.cfg.Port <= 0 {
		l.Info().Msg("Web UI is disabled (web port is 0 or not set).")
		return nil
	}

	host := s.cfg.Host
	if host == "" {
		host = "127.0.0.1"
	}
	addr := fmt.Sprintf("%s:%d", host, s.cfg.Port)

	go s.hub.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		l.Info().Msgf("Web UI is listening on http://%s", addr)
		if err := s.e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("web server on %s failed: %w", addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.e.Shutdown(shutdownCtx); err != nil {
		l.Warn().Err(err).Msg("Web server shutdown error.")
	}
	l.Info().Msg("Web server stopped.")
	return nil
}
