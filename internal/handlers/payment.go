package handlers

import (
  "net/http"

  "github.com/gin-gonic/gin"

  "github.com/tutoria-app/tutoria-backend/internal/middleware"
  "github.com/tutoria-app/tutoria-backend/internal/services"
)

type PaymentHandler struct {
  svc services.PaymentService
}

func NewPaymentHandler(svc services.PaymentService) *PaymentHandler {
  return &PaymentHandler{svc: svc}
}

// POST /api/payments/complete
func (h *PaymentHandler) Complete(c *gin.Context) {
  userID := middleware.UserID(c)

  var input services.CompletePaymentInput
  if err := c.ShouldBindJSON(&input); err != nil {
    RespondError(c, http.StatusBadRequest, "validation_error", err)
    return
  }

  payment, err := h.svc.CompletePayment(c.Request.Context(), userID, input)
  if err != nil {
    RespondServiceError(c, err)
    return
  }
  RespondOK(c, gin.H{"payment": payment})
}
