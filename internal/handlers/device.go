package handlers

import (
  "errors"
  "net/http"
  "strings"

  "github.com/gin-gonic/gin"
  "github.com/google/uuid"

  "github.com/tutoria-app/tutoria-backend/internal/repos"
)

type DeviceHandler struct {
  devices repos.DeviceRepo
}

func NewDeviceHandler(devices repos.DeviceRepo) *DeviceHandler {
  return &DeviceHandler{devices: devices}
}

// GET /api/devices
func (h *DeviceHandler) List(c *gin.Context) {
  limit := intQuery(c, "limit", 100)
  if term := strings.TrimSpace(c.Query("q")); term != "" {
    devices, err := h.devices.Search(c.Request.Context(), nil, term, limit)
    if err != nil {
      RespondError(c, http.StatusInternalServerError, "internal_error", err)
      return
    }
    RespondOK(c, gin.H{"devices": devices})
    return
  }
  devices, err := h.devices.List(c.Request.Context(), nil, limit)
  if err != nil {
    RespondError(c, http.StatusInternalServerError, "internal_error", err)
    return
  }
  RespondOK(c, gin.H{"devices": devices})
}

// GET /api/devices/:id
func (h *DeviceHandler) Get(c *gin.Context) {
  deviceID, err := uuid.Parse(c.Param("id"))
  if err != nil {
    RespondError(c, http.StatusBadRequest, "validation_error", errors.New("invalid device id"))
    return
  }
  device, err := h.devices.GetByID(c.Request.Context(), nil, deviceID)
  if err != nil || device == nil {
    RespondError(c, http.StatusNotFound, "not_found", errors.New("device not found"))
    return
  }
  RespondOK(c, gin.H{"device": device})
}
