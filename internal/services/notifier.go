package services

import (
  "context"

  "github.com/google/uuid"

  "github.com/tutoria-app/tutoria-backend/internal/logger"
  "github.com/tutoria-app/tutoria-backend/internal/sse"
  "github.com/tutoria-app/tutoria-backend/internal/types"
)

// ProgressNotifierService emits pipeline progress to subscribed clients.
// Delivery is best effort: a dead bus or empty audience never fails the
// pipeline, so none of these methods return errors.
type ProgressNotifierService interface {
  RequestStatus(ctx context.Context, req *types.TutorialRequest, event sse.SSEEvent, data any)
  StepAssetReady(ctx context.Context, requestID uuid.UUID, stepIndex int, kind string, url string)
  CreditsChanged(ctx context.Context, userID uuid.UUID, balance int)
}

type progressNotifierService struct {
  log *logger.Logger
  bus SSEBus
  hub *sse.SSEHub
}

func NewProgressNotifierService(log *logger.Logger, bus SSEBus, hub *sse.SSEHub) ProgressNotifierService {
  return &progressNotifierService{
    log: log.With("service", "ProgressNotifierService"),
    bus: bus,
    hub: hub,
  }
}

func (s *progressNotifierService) RequestStatus(ctx context.Context, req *types.TutorialRequest, event sse.SSEEvent, data any) {
  payload := map[string]any{
    "requestID": req.ID,
    "status":    req.Status,
  }
  if req.Cause != "" {
    payload["cause"] = req.Cause
  }
  if data != nil {
    payload["detail"] = data
  }
  s.send(ctx, sse.SSEMessage{
    Channel: sse.RequestChannel(req.ID),
    Event:   event,
    Data:    payload,
  })
  s.send(ctx, sse.SSEMessage{
    Channel: sse.UserChannel(req.UserID),
    Event:   event,
    Data:    payload,
  })
}

func (s *progressNotifierService) StepAssetReady(ctx context.Context, requestID uuid.UUID, stepIndex int, kind string, url string) {
  s.send(ctx, sse.SSEMessage{
    Channel: sse.RequestChannel(requestID),
    Event:   sse.SSEEventStepAssetReady,
    Data: map[string]any{
      "requestID": requestID,
      "stepIndex": stepIndex,
      "kind":      kind,
      "url":       url,
    },
  })
}

func (s *progressNotifierService) CreditsChanged(ctx context.Context, userID uuid.UUID, balance int) {
  s.send(ctx, sse.SSEMessage{
    Channel: sse.UserChannel(userID),
    Event:   sse.SSEEventCreditsChanged,
    Data:    map[string]any{"balance": balance},
  })
}

func (s *progressNotifierService) send(ctx context.Context, msg sse.SSEMessage) {
  if s.bus != nil {
    if err := s.bus.Publish(ctx, msg); err != nil {
      s.log.Warn("Failed to publish SSE message", "channel", msg.Channel, "event", msg.Event, "error", err)
    }
    return
  }
  if s.hub != nil {
    s.hub.Broadcast(msg)
  }
}
