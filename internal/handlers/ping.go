package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/concordchat/concord/internal/relay"
	"github.com/concordchat/concord/internal/version"
)

// PingHandler serves /ping and HEAD /health for liveness.
type PingHandler struct {
	relay  *relay.Service
	logger *slog.Logger
}

// PingResponse is the body for GET /ping.
type PingResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Sessions int    `json:"sessions"`
}

// NewPingHandler creates a ping handler.
func NewPingHandler(log *slog.Logger, relayService *relay.Service) *PingHandler {
	return &PingHandler{
		relay:  relayService,
		logger: log.With(slog.String("handler", "ping")),
	}
}

// Register mounts GET /ping and HEAD /health on the Echo instance.
func (h *PingHandler) Register(e *echo.Echo) {
	e.GET("/ping", h.Ping)
	e.HEAD("/health", h.PingHead)
}

// Ping returns 200 with build info and the live websocket session count.
func (h *PingHandler) Ping(c echo.Context) error {
	sessions := 0
	if h.relay != nil {
		sessions = h.relay.Registry().SessionCount()
	}
	return c.JSON(http.StatusOK, PingResponse{
		Status:   "ok",
		Version:  version.GetInfo(),
		Sessions: sessions,
	})
}

// PingHead returns 200 No Content for health checks.
func (h *PingHandler) PingHead(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}
