package handlers

import (
  "errors"
  "net/http"
  "strconv"
  "github.com/gin-gonic/gin"
  "github.com/tutoria-app/tutoria-backend/internal/services"
)

type APIError struct {
  Message     string	`json:"message"`
  Code	      string	`json:"code,omitempty"`
}

type ErrorEnvelope struct {
  Error	      APIError	`json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
  msg := "unknown error"
  if err != nil {
    msg = err.Error()
  }
  c.JSON(status, ErrorEnvelope{
    Error: APIError{
      Message: msg,
      Code:    code,
    },
  })
}

func RespondOK(c *gin.Context, payload any) {
  c.JSON(http.StatusOK, payload)
}

// RespondServiceError maps the service error kinds onto HTTP statuses and
// stable machine-readable codes.
func RespondServiceError(c *gin.Context, err error) {
  switch {
  case errors.Is(err, services.ErrValidation):
    RespondError(c, http.StatusBadRequest, "validation_error", err)
  case errors.Is(err, services.ErrInsufficientCredits):
    RespondError(c, http.StatusPaymentRequired, "insufficient_credits", err)
  case errors.Is(err, services.ErrNotFound):
    RespondError(c, http.StatusNotFound, "not_found", err)
  default:
    RespondError(c, http.StatusInternalServerError, "internal_error", err)
  }
}

func intQuery(c *gin.Context, key string, defaultVal int) int {
  raw := c.Query(key)
  if raw == "" {
    return defaultVal
  }
  v, err := strconv.Atoi(raw)
  if err != nil || v <= 0 {
    return defaultVal
  }
  return v
}
