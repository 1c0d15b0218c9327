package handlers

import (
  "errors"
  "net/http"

  "github.com/gin-gonic/gin"
  "github.com/google/uuid"

  "github.com/tutoria-app/tutoria-backend/internal/middleware"
  "github.com/tutoria-app/tutoria-backend/internal/services"
)

type TutorialHandler struct {
  svc services.TutorialService
}

func NewTutorialHandler(svc services.TutorialService) *TutorialHandler {
  return &TutorialHandler{svc: svc}
}

// GET /api/tutorials
func (h *TutorialHandler) List(c *gin.Context) {
  userID := middleware.UserID(c)
  tutorials, err := h.svc.List(c.Request.Context(), userID, intQuery(c, "limit", 50))
  if err != nil {
    RespondServiceError(c, err)
    return
  }
  RespondOK(c, gin.H{"tutorials": tutorials})
}

// GET /api/tutorials/:id
func (h *TutorialHandler) Get(c *gin.Context) {
  userID := middleware.UserID(c)
  tutorialID, err := uuid.Parse(c.Param("id"))
  if err != nil {
    RespondError(c, http.StatusBadRequest, "validation_error", errors.New("invalid tutorial id"))
    return
  }
  tutorial, err := h.svc.Get(c.Request.Context(), userID, tutorialID)
  if err != nil {
    RespondServiceError(c, err)
    return
  }
  RespondOK(c, gin.H{"tutorial": tutorial})
}

// GET /api/requests/:id/tutorial
func (h *TutorialHandler) GetByRequest(c *gin.Context) {
  userID := middleware.UserID(c)
  requestID, err := uuid.Parse(c.Param("id"))
  if err != nil {
    RespondError(c, http.StatusBadRequest, "validation_error", errors.New("invalid request id"))
    return
  }
  tutorial, err := h.svc.GetByRequest(c.Request.Context(), userID, requestID)
  if err != nil {
    RespondServiceError(c, err)
    return
  }
  RespondOK(c, gin.H{"tutorial": tutorial})
}

// POST /api/tutorials/:id/view
func (h *TutorialHandler) RecordView(c *gin.Context) {
  userID := middleware.UserID(c)
  tutorialID, err := uuid.Parse(c.Param("id"))
  if err != nil {
    RespondError(c, http.StatusBadRequest, "validation_error", errors.New("invalid tutorial id"))
    return
  }
  if err := h.svc.RecordView(c.Request.Context(), userID, tutorialID); err != nil {
    RespondServiceError(c, err)
    return
  }
  c.Status(http.StatusNoContent)
}

// POST /api/tutorials/:id/feedback
func (h *TutorialHandler) SubmitFeedback(c *gin.Context) {
  userID := middleware.UserID(c)
  tutorialID, err := uuid.Parse(c.Param("id"))
  if err != nil {
    RespondError(c, http.StatusBadRequest, "validation_error", errors.New("invalid tutorial id"))
    return
  }
  var body struct {
    WasHelpful *bool  `json:"was_helpful"`
    Comment    string `json:"comment"`
  }
  if err := c.ShouldBindJSON(&body); err != nil || body.WasHelpful == nil {
    RespondError(c, http.StatusBadRequest, "validation_error", errors.New("was_helpful required"))
    return
  }
  if err := h.svc.SubmitFeedback(c.Request.Context(), userID, tutorialID, *body.WasHelpful, body.Comment); err != nil {
    RespondServiceError(c, err)
    return
  }
  c.Status(http.StatusNoContent)
}

// PATCH /api/tutorials/:id/visibility
func (h *TutorialHandler) SetVisibility(c *gin.Context) {
  userID := middleware.UserID(c)
  tutorialID, err := uuid.Parse(c.Param("id"))
  if err != nil {
    RespondError(c, http.StatusBadRequest, "validation_error", errors.New("invalid tutorial id"))
    return
  }
  var body struct {
    IsPublic *bool `json:"is_public"`
  }
  if err := c.ShouldBindJSON(&body); err != nil || body.IsPublic == nil {
    RespondError(c, http.StatusBadRequest, "validation_error", errors.New("is_public required"))
    return
  }
  if err := h.svc.SetVisibility(c.Request.Context(), userID, tutorialID, *body.IsPublic); err != nil {
    RespondServiceError(c, err)
    return
  }
  c.Status(http.StatusNoContent)
}
