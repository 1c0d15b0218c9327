package handlers

import (
  "errors"
  "net/http"

  "github.com/gin-gonic/gin"
  "github.com/google/uuid"

  "github.com/tutoria-app/tutoria-backend/internal/middleware"
  "github.com/tutoria-app/tutoria-backend/internal/services"
  "github.com/tutoria-app/tutoria-backend/internal/types"
)

type RequestHandler struct {
  svc       services.TutorialRequestService
  tutorials services.TutorialService
}

func NewRequestHandler(svc services.TutorialRequestService, tutorials services.TutorialService) *RequestHandler {
  return &RequestHandler{svc: svc, tutorials: tutorials}
}

// POST /api/requests
func (h *RequestHandler) Submit(c *gin.Context) {
  userID := middleware.UserID(c)

  var input services.SubmitRequestInput
  if err := c.ShouldBindJSON(&input); err != nil {
    RespondError(c, http.StatusBadRequest, "validation_error", err)
    return
  }

  request, err := h.svc.Submit(c.Request.Context(), userID, input)
  if err != nil {
    // An insufficient balance still leaves a pending uncharged row the
    // client can retry after a top-up, so it is returned alongside the
    // error.
    if errors.Is(err, services.ErrInsufficientCredits) && request != nil {
      c.JSON(http.StatusPaymentRequired, gin.H{
        "request": request,
        "error":   gin.H{"message": err.Error(), "code": "insufficient_credits"},
      })
      return
    }
    RespondServiceError(c, err)
    return
  }
  c.JSON(http.StatusCreated, gin.H{"request": request})
}

// GET /api/requests/:id
func (h *RequestHandler) Get(c *gin.Context) {
  userID := middleware.UserID(c)
  requestID, err := uuid.Parse(c.Param("id"))
  if err != nil {
    RespondError(c, http.StatusBadRequest, "validation_error", errors.New("invalid request id"))
    return
  }
  request, err := h.svc.Get(c.Request.Context(), userID, requestID)
  if err != nil {
    RespondServiceError(c, err)
    return
  }
  payload := gin.H{"request": request}
  if request.Status == types.RequestStatusCompleted {
    if tutorial, err := h.tutorials.GetByRequest(c.Request.Context(), userID, requestID); err == nil {
      payload["tutorial"] = tutorial
    }
  }
  RespondOK(c, payload)
}

// GET /api/requests
func (h *RequestHandler) List(c *gin.Context) {
  userID := middleware.UserID(c)
  requests, err := h.svc.List(c.Request.Context(), userID, intQuery(c, "limit", 100))
  if err != nil {
    RespondServiceError(c, err)
    return
  }
  RespondOK(c, gin.H{"requests": requests})
}

// POST /api/requests/:id/cancel
func (h *RequestHandler) Cancel(c *gin.Context) {
  userID := middleware.UserID(c)
  requestID, err := uuid.Parse(c.Param("id"))
  if err != nil {
    RespondError(c, http.StatusBadRequest, "validation_error", errors.New("invalid request id"))
    return
  }
  if err := h.svc.Cancel(c.Request.Context(), userID, requestID); err != nil {
    RespondServiceError(c, err)
    return
  }
  c.Status(http.StatusAccepted)
}
