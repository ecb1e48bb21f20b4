package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/concordchat/concord/internal/auth"
	"github.com/concordchat/concord/internal/message"
	"github.com/concordchat/concord/internal/relay"
)

// HistoryHandler serves paged message history for channels the caller
// may read.
type HistoryHandler struct {
	relay  *relay.Service
	logger *slog.Logger
}

// HistoryResponse is the body for GET /channels/:id/messages.
type HistoryResponse struct {
	ChannelID string            `json:"channel_id"`
	Page      int               `json:"page"`
	PageSize  int               `json:"page_size"`
	Messages  []message.Message `json:"messages"`
}

// NewHistoryHandler creates a history handler.
func NewHistoryHandler(log *slog.Logger, relayService *relay.Service) *HistoryHandler {
	return &HistoryHandler{
		relay:  relayService,
		logger: log.With(slog.String("handler", "history")),
	}
}

// Register mounts GET /channels/:id/messages on the Echo instance.
func (h *HistoryHandler) Register(e *echo.Echo) {
	e.GET("/channels/:id/messages", h.List)
}

// List returns one page of a channel's messages in ascending time order.
func (h *HistoryHandler) List(c echo.Context) error {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	channelID := c.Param("id")

	page, _ := strconv.Atoi(c.QueryParam("page"))
	pageSize, _ := strconv.Atoi(c.QueryParam("page_size"))
	page, pageSize = message.ClampPage(page, pageSize)

	items, err := h.relay.History(c.Request().Context(), userID, channelID, page, pageSize)
	if err != nil {
		switch {
		case errors.Is(err, relay.ErrAccessDenied):
			return c.JSON(http.StatusForbidden, ErrorResponse{
				Kind: relay.KindAccessDenied, Message: "access denied",
			})
		case errors.Is(err, relay.ErrValidation):
			return c.JSON(http.StatusBadRequest, ErrorResponse{
				Kind: relay.KindValidation, Message: err.Error(),
			})
		default:
			h.logger.Error("history lookup failed",
				slog.String("channel", channelID),
				slog.Any("error", err),
			)
			return c.JSON(http.StatusServiceUnavailable, ErrorResponse{
				Kind: relay.KindUnavailable, Message: "history unavailable",
			})
		}
	}
	if items == nil {
		items = []message.Message{}
	}

	return c.JSON(http.StatusOK, HistoryResponse{
		ChannelID: channelID,
		Page:      page,
		PageSize:  pageSize,
		Messages:  items,
	})
}
