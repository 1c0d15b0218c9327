package middleware

import (
  "fmt"
  "net/http"
  "strings"
  "github.com/gin-gonic/gin"
  "github.com/golang-jwt/jwt/v5"
  "github.com/google/uuid"
  "github.com/tutoria-app/tutoria-backend/internal/logger"
)

const userIDKey = "userID"

type AuthMiddleware struct {
  log       *logger.Logger
  jwtSecret []byte
}

func NewAuthMiddleware(log *logger.Logger, jwtSecret string) *AuthMiddleware {
  return &AuthMiddleware{
    log:       log.With("Middleware", "AuthMiddleware"),
    jwtSecret: []byte(jwtSecret),
  }
}

func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
  return func(c *gin.Context) {
    tokenString := extractToken(c)
    if tokenString == "" {
      c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid token"})
      return
    }
    userID, err := am.parseSubject(tokenString)
    if err != nil {
      am.log.Debug("Token rejected", "error", err)
      c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid token"})
      return
    }
    c.Set(userIDKey, userID)
    c.Next()
  }
}

func (am *AuthMiddleware) parseSubject(tokenString string) (uuid.UUID, error) {
  token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
    if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
      return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
    }
    return am.jwtSecret, nil
  })
  if err != nil || !token.Valid {
    return uuid.Nil, fmt.Errorf("invalid token: %w", err)
  }
  subject, err := token.Claims.GetSubject()
  if err != nil || subject == "" {
    return uuid.Nil, fmt.Errorf("token missing subject")
  }
  userID, err := uuid.Parse(subject)
  if err != nil {
    return uuid.Nil, fmt.Errorf("token subject is not a user id")
  }
  return userID, nil
}

// UserID returns the authenticated user set by RequireAuth.
func UserID(c *gin.Context) uuid.UUID {
  v, ok := c.Get(userIDKey)
  if !ok {
    return uuid.Nil
  }
  id, ok := v.(uuid.UUID)
  if !ok {
    return uuid.Nil
  }
  return id
}

// The SSE endpoint cannot set headers from EventSource, so a query token
// is accepted alongside the Authorization header.
func extractToken(c *gin.Context) string {
  if qToken := c.Query("token"); qToken != "" {
    return qToken
  }
  authHeader := c.GetHeader("Authorization")
  if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
    return authHeader[7:]
  }
  return ""
}
