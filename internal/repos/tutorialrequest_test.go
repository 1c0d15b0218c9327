package repos

import (
  "context"
  "testing"
  "time"

  "github.com/google/uuid"

  "github.com/tutoria-app/tutoria-backend/internal/repos/testutil"
  "github.com/tutoria-app/tutoria-backend/internal/types"
)

func TestTutorialRequestClaim(t *testing.T) {
  db := testutil.DB(t)
  tx := testutil.Tx(t, db)

  ctx := context.Background()
  repo := NewTutorialRequestRepo(db, testutil.Logger(t))

  now := time.Now().UTC()
  userID := uuid.New()

  uncharged := &types.TutorialRequest{
    ID:                 uuid.New(),
    UserID:             userID,
    ProblemDescription: "screen flickers",
    Status:             types.RequestStatusPending,
    CreatedAt:          now.Add(-4 * time.Hour),
  }
  charged := &types.TutorialRequest{
    ID:                 uuid.New(),
    UserID:             userID,
    ProblemDescription: "no sound from speaker",
    Status:             types.RequestStatusPending,
    CreditsCharged:     1,
    CreatedAt:          now.Add(-3 * time.Hour),
  }
  cancelled := &types.TutorialRequest{
    ID:                 uuid.New(),
    UserID:             userID,
    ProblemDescription: "battery drains fast",
    Status:             types.RequestStatusPending,
    CreditsCharged:     1,
    CancelRequested:    true,
    CreatedAt:          now.Add(-5 * time.Hour),
  }
  freshRunning := &types.TutorialRequest{
    ID:                 uuid.New(),
    UserID:             userID,
    ProblemDescription: "wifi drops",
    Status:             types.RequestStatusGenerating,
    CreditsCharged:     1,
    HeartbeatAt:        ptrTime(now),
    CreatedAt:          now.Add(-2 * time.Hour),
  }
  staleRunning := &types.TutorialRequest{
    ID:                 uuid.New(),
    UserID:             userID,
    ProblemDescription: "overheating",
    Status:             types.RequestStatusAnalyzing,
    CreditsCharged:     1,
    Attempts:           1,
    HeartbeatAt:        ptrTime(now.Add(-10 * time.Minute)),
    CreatedAt:          now.Add(-1 * time.Hour),
  }

  for _, request := range []*types.TutorialRequest{uncharged, charged, cancelled, freshRunning, staleRunning} {
    if _, err := repo.Create(ctx, tx, request); err != nil {
      t.Fatalf("Create: %v", err)
    }
  }

  // Oldest runnable first. The cancelled charged row is oldest and stays
  // claimable: the worker has to claim it to settle its refund. The
  // uncharged row is never runnable.
  first, err := repo.ClaimNextRunnable(ctx, tx, 2*time.Minute)
  if err != nil {
    t.Fatalf("ClaimNextRunnable: %v", err)
  }
  if first == nil || first.ID != cancelled.ID {
    t.Fatalf("expected cancelled charged row to be claimed for settling, got %+v", first)
  }
  if !first.CancelRequested {
    t.Fatalf("claimed row lost its cancel flag")
  }
  if first.Attempts != 1 {
    t.Fatalf("expected attempts bumped to 1, got %d", first.Attempts)
  }
  if first.LockedAt == nil || first.HeartbeatAt == nil {
    t.Fatalf("expected lease fields set on claim")
  }

  // The pipeline settles the cancelled row terminally; after that it is
  // out of the queue for good.
  if _, err := repo.UpdateFieldsUnlessStatus(ctx, tx, first.ID, nil, map[string]interface{}{
    "status": types.RequestStatusFailed,
    "cause":  types.CauseCancelled,
  }); err != nil {
    t.Fatalf("UpdateFieldsUnlessStatus: %v", err)
  }

  second, err := repo.ClaimNextRunnable(ctx, tx, 2*time.Minute)
  if err != nil {
    t.Fatalf("ClaimNextRunnable: %v", err)
  }
  if second == nil || second.ID != charged.ID {
    t.Fatalf("expected charged pending row to be claimed, got %+v", second)
  }

  // The claimed row is still pending (the pipeline transitions it); move
  // it along so it is not claimed again.
  if _, err := repo.UpdateFieldsUnlessStatus(ctx, tx, second.ID, nil, map[string]interface{}{
    "status": types.RequestStatusAnalyzing,
  }); err != nil {
    t.Fatalf("UpdateFieldsUnlessStatus: %v", err)
  }

  // Next claim takes the stale running row; the fresh one keeps its lease.
  third, err := repo.ClaimNextRunnable(ctx, tx, 2*time.Minute)
  if err != nil {
    t.Fatalf("ClaimNextRunnable: %v", err)
  }
  if third == nil || third.ID != staleRunning.ID {
    t.Fatalf("expected stale running row to be reclaimed, got %+v", third)
  }
  if third.Attempts != 2 {
    t.Fatalf("expected attempts bumped to 2, got %d", third.Attempts)
  }

  fourth, err := repo.ClaimNextRunnable(ctx, tx, 2*time.Minute)
  if err != nil {
    t.Fatalf("ClaimNextRunnable: %v", err)
  }
  if fourth != nil {
    t.Fatalf("expected no runnable rows, got %+v", fourth)
  }
}

func TestTutorialRequestStatusGuard(t *testing.T) {
  db := testutil.DB(t)
  tx := testutil.Tx(t, db)

  ctx := context.Background()
  repo := NewTutorialRequestRepo(db, testutil.Logger(t))

  request := &types.TutorialRequest{
    ID:                 uuid.New(),
    UserID:             uuid.New(),
    ProblemDescription: "does not power on",
    Status:             types.RequestStatusCompleted,
    CreditsCharged:     1,
  }
  if _, err := repo.Create(ctx, tx, request); err != nil {
    t.Fatalf("Create: %v", err)
  }

  ok, err := repo.UpdateFieldsUnlessStatus(ctx, tx, request.ID,
    []string{types.RequestStatusCompleted, types.RequestStatusFailed},
    map[string]interface{}{"status": types.RequestStatusFailed})
  if err != nil {
    t.Fatalf("UpdateFieldsUnlessStatus: %v", err)
  }
  if ok {
    t.Fatalf("terminal row must not be rewritten")
  }

  got, err := repo.GetByID(ctx, tx, request.ID)
  if err != nil {
    t.Fatalf("GetByID: %v", err)
  }
  if got.Status != types.RequestStatusCompleted {
    t.Fatalf("status changed on terminal row: %s", got.Status)
  }

  cancelled, err := repo.RequestCancel(ctx, tx, request.ID, request.UserID)
  if err != nil {
    t.Fatalf("RequestCancel: %v", err)
  }
  if cancelled {
    t.Fatalf("terminal row must not accept cancellation")
  }
}

func TestTutorialRequestMarkRefunded(t *testing.T) {
  db := testutil.DB(t)
  tx := testutil.Tx(t, db)

  ctx := context.Background()
  repo := NewTutorialRequestRepo(db, testutil.Logger(t))

  request := &types.TutorialRequest{
    ID:                 uuid.New(),
    UserID:             uuid.New(),
    ProblemDescription: "camera blurry",
    Status:             types.RequestStatusFailed,
    CreditsCharged:     2,
  }
  if _, err := repo.Create(ctx, tx, request); err != nil {
    t.Fatalf("Create: %v", err)
  }

  first, err := repo.MarkRefunded(ctx, tx, request.ID)
  if err != nil {
    t.Fatalf("MarkRefunded: %v", err)
  }
  if !first {
    t.Fatalf("first MarkRefunded should win")
  }
  second, err := repo.MarkRefunded(ctx, tx, request.ID)
  if err != nil {
    t.Fatalf("MarkRefunded: %v", err)
  }
  if second {
    t.Fatalf("second MarkRefunded must be a no-op")
  }
}

func ptrTime(t time.Time) *time.Time { return &t }
