// Package http provides the HTTP servers for chatrelay.
package http

import (
	"github.com/charmbracelet/log"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/xiaot623/gogo/chatrelay/internal/adapter/objectstore"
	"github.com/xiaot623/gogo/chatrelay/internal/config"
	"github.com/xiaot623/gogo/chatrelay/internal/hub"
	"github.com/xiaot623/gogo/chatrelay/internal/service"
	"github.com/xiaot623/gogo/chatrelay/internal/transport/http/internalapi"
	v1 "github.com/xiaot623/gogo/chatrelay/internal/transport/http/v1"
	"github.com/xiaot623/gogo/chatrelay/internal/transport/ws"
)

// NewExternalServer creates the client-facing server.
// It serves the websocket endpoint, the REST API and, for the local
// object store, the stored files.
func NewExternalServer(svc *service.Service, wsServer *ws.Server, cfg *config.Config, logger *log.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(requestLogger(logger))
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	v1.NewHandler(svc, logger).RegisterRoutes(e)
	wsServer.RegisterRoutes(e)

	if cfg.ObjectStore == objectstore.BackendLocal && cfg.LocalStorageDir != "" {
		e.Static("/objects", cfg.LocalStorageDir)
	}

	return e
}

// NewInternalServer creates the server used by other backend components.
func NewInternalServer(h *hub.Hub, logger *log.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(requestLogger(logger))
	e.Use(middleware.Recover())

	internalapi.NewHandler(h, logger).RegisterRoutes(e)

	return e
}

func requestLogger(logger *log.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				logger.Warn("request", "method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency, "err", v.Error)
				return nil
			}
			logger.Debug("request", "method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency)
			return nil
		},
	})
}
