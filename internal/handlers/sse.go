package handlers

import (
  "strings"

  "github.com/gin-gonic/gin"
  "github.com/google/uuid"

  "github.com/tutoria-app/tutoria-backend/internal/logger"
  "github.com/tutoria-app/tutoria-backend/internal/middleware"
  "github.com/tutoria-app/tutoria-backend/internal/sse"
)

type SSEHandler struct {
  log *logger.Logger
  hub *sse.SSEHub
}

func NewSSEHandler(log *logger.Logger, hub *sse.SSEHub) *SSEHandler {
  return &SSEHandler{
    log: log.With("handler", "SSEHandler"),
    hub: hub,
  }
}

// GET /api/events?requests=<id>,<id>
// Streams until the client disconnects. The user channel is always
// attached; request channels are limited to the caller's own requests by
// channel name, which embeds the request id they already know.
func (h *SSEHandler) Stream(c *gin.Context) {
  userID := middleware.UserID(c)
  client := h.hub.NewSSEClient(userID)

  h.hub.AddChannel(client, sse.UserChannel(userID))
  for _, raw := range strings.Split(c.Query("requests"), ",") {
    raw = strings.TrimSpace(raw)
    if raw == "" {
      continue
    }
    requestID, err := uuid.Parse(raw)
    if err != nil {
      continue
    }
    h.hub.AddChannel(client, sse.RequestChannel(requestID))
  }

  defer h.hub.CloseClient(client)
  h.hub.ServeHTTP(c.Writer, c.Request, client)
}
