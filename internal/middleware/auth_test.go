package middleware

import (
  "net/http"
  "net/http/httptest"
  "testing"
  "time"

  "github.com/gin-gonic/gin"
  "github.com/golang-jwt/jwt/v5"
  "github.com/google/uuid"

  "github.com/tutoria-app/tutoria-backend/internal/logger"
)

const testSecret = "test-secret"

func protectedRouter(t *testing.T) (*gin.Engine, *uuid.UUID) {
  t.Helper()
  gin.SetMode(gin.TestMode)
  log, err := logger.New("test")
  if err != nil {
    t.Fatalf("logger: %v", err)
  }
  am := NewAuthMiddleware(log, testSecret)

  var seen uuid.UUID
  router := gin.New()
  router.GET("/protected", am.RequireAuth(), func(c *gin.Context) {
    seen = UserID(c)
    c.Status(http.StatusOK)
  })
  return router, &seen
}

func signToken(t *testing.T, secret string, subject string) string {
  t.Helper()
  token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
    Subject:   subject,
    ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
  })
  signed, err := token.SignedString([]byte(secret))
  if err != nil {
    t.Fatalf("sign token: %v", err)
  }
  return signed
}

func TestRequireAuth(t *testing.T) {
  router, seen := protectedRouter(t)
  userID := uuid.New()

  cases := []struct {
    name       string
    authorize  func(r *http.Request)
    wantStatus int
  }{
    {
      "bearer header",
      func(r *http.Request) {
        r.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, userID.String()))
      },
      http.StatusOK,
    },
    {
      "query token",
      func(r *http.Request) {
        q := r.URL.Query()
        q.Set("token", signToken(t, testSecret, userID.String()))
        r.URL.RawQuery = q.Encode()
      },
      http.StatusOK,
    },
    {
      "missing token",
      func(r *http.Request) {},
      http.StatusUnauthorized,
    },
    {
      "wrong secret",
      func(r *http.Request) {
        r.Header.Set("Authorization", "Bearer "+signToken(t, "other-secret", userID.String()))
      },
      http.StatusUnauthorized,
    },
    {
      "subject not a uuid",
      func(r *http.Request) {
        r.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, "not-a-uuid"))
      },
      http.StatusUnauthorized,
    },
  }

  for _, tc := range cases {
    t.Run(tc.name, func(t *testing.T) {
      req := httptest.NewRequest(http.MethodGet, "/protected", nil)
      tc.authorize(req)
      rec := httptest.NewRecorder()
      router.ServeHTTP(rec, req)
      if rec.Code != tc.wantStatus {
        t.Fatalf("status = %d, want %d", rec.Code, tc.wantStatus)
      }
      if tc.wantStatus == http.StatusOK && *seen != userID {
        t.Fatalf("handler saw user %s, want %s", *seen, userID)
      }
    })
  }
}
