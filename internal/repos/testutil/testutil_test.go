package testutil

import (
  "testing"
  "time"

  "github.com/google/uuid"

  "github.com/tutoria-app/tutoria-backend/internal/types"
)

// Every service test funnels through this migration, so the model DDL has
// to be valid for sqlite as well as Postgres.
func TestSQLiteMigration(t *testing.T) {
  db := SQLiteDB(t)

  profile := &types.Profile{
    ID:      uuid.New(),
    Email:   "migrate@example.com",
    Credits: 1,
  }
  if err := db.Create(profile).Error; err != nil {
    t.Fatalf("create profile: %v", err)
  }

  request := &types.TutorialRequest{
    ID:                 uuid.New(),
    UserID:             profile.ID,
    ProblemDescription: "no power",
    Status:             types.RequestStatusPending,
  }
  if err := db.Create(request).Error; err != nil {
    t.Fatalf("create request: %v", err)
  }

  var got types.TutorialRequest
  if err := db.First(&got, "id = ?", request.ID).Error; err != nil {
    t.Fatalf("load request: %v", err)
  }
  if got.CreatedAt.IsZero() || time.Since(got.CreatedAt) > time.Minute {
    t.Fatalf("created_at not populated: %v", got.CreatedAt)
  }
}
