// Package gateway upgrades HTTP requests to websocket connections and
// bridges them onto the relay.
package gateway

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/concordchat/concord/internal/auth"
	"github.com/concordchat/concord/internal/boot"
	"github.com/concordchat/concord/internal/relay"
)

// Handler serves the websocket endpoint.
type Handler struct {
	relay    *relay.Service
	rc       *boot.RuntimeConfig
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func NewHandler(log *slog.Logger, relayService *relay.Service, rc *boot.RuntimeConfig) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		relay: relayService,
		rc:    rc,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: log.With(slog.String("handler", "gateway")),
	}
}

// Register registers the websocket route.
func (h *Handler) Register(e *echo.Echo) {
	e.GET("/ws", h.handleConnect)
}

// handleConnect authenticates the request, upgrades it, and runs the
// connection's pumps until it drops.
func (h *Handler) handleConnect(c echo.Context) error {
	token := h.token(c)
	if token == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing token")
	}
	identityID, err := auth.ParseUserID(token, h.rc.JwtSecret)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
	}

	sess, err := h.relay.Attach(c.Request().Context(), identityID)
	if err != nil {
		if relay.KindOf(err) == relay.KindAuthentication {
			return echo.NewHTTPError(http.StatusUnauthorized, "unknown identity")
		}
		return echo.NewHTTPError(http.StatusServiceUnavailable, "relay unavailable")
	}

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.relay.Detach(c.Request().Context(), sess)
		return err
	}

	conn := newConnection(h.logger, ws, sess, h.relay, h.rc)
	conn.run()
	return nil
}

// token pulls the bearer token from the Authorization header or, for
// browser websocket clients that cannot set headers, the query string.
func (h *Handler) token(c echo.Context) string {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	if after, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(after)
	}
	return strings.TrimSpace(c.QueryParam("token"))
}
