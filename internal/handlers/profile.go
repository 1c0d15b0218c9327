package handlers

import (
  "errors"
  "net/http"

  "github.com/gin-gonic/gin"

  "github.com/tutoria-app/tutoria-backend/internal/middleware"
  "github.com/tutoria-app/tutoria-backend/internal/repos"
)

type ProfileHandler struct {
  profiles repos.ProfileRepo
}

func NewProfileHandler(profiles repos.ProfileRepo) *ProfileHandler {
  return &ProfileHandler{profiles: profiles}
}

// GET /api/me
func (h *ProfileHandler) GetMe(c *gin.Context) {
  userID := middleware.UserID(c)
  profile, err := h.profiles.GetByID(c.Request.Context(), nil, userID)
  if err != nil || profile == nil {
    RespondError(c, http.StatusNotFound, "not_found", errors.New("profile not found"))
    return
  }
  RespondOK(c, gin.H{"profile": profile})
}
