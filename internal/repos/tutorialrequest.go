package repos

import (
  "context"
  "errors"
  "time"
  "github.com/google/uuid"
  "gorm.io/gorm"
  "gorm.io/gorm/clause"
  "github.com/tutoria-app/tutoria-backend/internal/logger"
  "github.com/tutoria-app/tutoria-backend/internal/types"
)

type TutorialRequestRepo interface {
  Create(ctx context.Context, tx *gorm.DB, request *types.TutorialRequest) (*types.TutorialRequest, error)
  GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.TutorialRequest, error)
  ListByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID, limit int) ([]*types.TutorialRequest, error)
  // ClaimNextRunnable picks one processable request and takes its lease
  // (SKIP LOCKED). Runnable means: a charged pending request, or an
  // analyzing/generating request whose lease heartbeat has gone stale.
  // Cancelled charged rows stay runnable so the worker settles their
  // refund; only terminal rows are excluded.
  ClaimNextRunnable(ctx context.Context, tx *gorm.DB, staleRunning time.Duration) (*types.TutorialRequest, error)
  Heartbeat(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
  // UpdateFieldsUnlessStatus applies updates only while the row is not in
  // one of the given statuses. Returns whether the update was applied, so
  // callers can tell a guarded no-op from a write.
  UpdateFieldsUnlessStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, disallowed []string, updates map[string]interface{}) (bool, error)
  // RequestCancel flags a non-terminal request for cancellation.
  RequestCancel(ctx context.Context, tx *gorm.DB, id uuid.UUID, userID uuid.UUID) (bool, error)
  // MarkRefunded flips the refund flag at most once. The caller issues the
  // actual credit grant in the same transaction only when this returns true.
  MarkRefunded(ctx context.Context, tx *gorm.DB, id uuid.UUID) (bool, error)
}

type tutorialRequestRepo struct {
  db  *gorm.DB
  log *logger.Logger
}

func NewTutorialRequestRepo(db *gorm.DB, baseLog *logger.Logger) TutorialRequestRepo {
  return &tutorialRequestRepo{
    db:  db,
    log: baseLog.With("repo", "TutorialRequestRepo"),
  }
}

func (r *tutorialRequestRepo) Create(ctx context.Context, tx *gorm.DB, request *types.TutorialRequest) (*types.TutorialRequest, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if request == nil {
    return nil, errors.New("request required")
  }
  if request.ID == uuid.Nil {
    request.ID = uuid.New()
  }
  if request.Status == "" {
    request.Status = types.RequestStatusPending
  }
  if err := transaction.WithContext(ctx).Create(request).Error; err != nil {
    return nil, err
  }
  return request, nil
}

func (r *tutorialRequestRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.TutorialRequest, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if id == uuid.Nil {
    return nil, nil
  }
  var request types.TutorialRequest
  err := transaction.WithContext(ctx).
    Where("id = ?", id).
    Limit(1).
    Find(&request).Error
  if err != nil {
    return nil, err
  }
  if request.ID == uuid.Nil {
    return nil, nil
  }
  return &request, nil
}

func (r *tutorialRequestRepo) ListByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID, limit int) ([]*types.TutorialRequest, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if userID == uuid.Nil {
    return nil, nil
  }
  if limit <= 0 {
    limit = 100
  }
  var out []*types.TutorialRequest
  if err := transaction.WithContext(ctx).
    Where("user_id = ?", userID).
    Order("created_at DESC").
    Limit(limit).
    Find(&out).Error; err != nil {
    return nil, err
  }
  return out, nil
}

func (r *tutorialRequestRepo) ClaimNextRunnable(ctx context.Context, tx *gorm.DB, staleRunning time.Duration) (*types.TutorialRequest, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  now := time.Now()
  staleCutoff := now.Add(-staleRunning)
  var claimed *types.TutorialRequest
  err := transaction.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
    var request types.TutorialRequest
    q := txx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
      Where(`
        (
          (
            status = ? AND credits_charged > 0
            AND (locked_at IS NULL OR locked_at < ?)
          )
          OR (
            status IN ?
            AND heartbeat_at IS NOT NULL
            AND heartbeat_at < ?
          )
        )
      `, types.RequestStatusPending,
        staleCutoff,
        []string{types.RequestStatusAnalyzing, types.RequestStatusGenerating},
        staleCutoff).
      Order("created_at ASC")
    qErr := q.First(&request).Error
    if errors.Is(qErr, gorm.ErrRecordNotFound) {
      return nil
    }
    if qErr != nil {
      return qErr
    }
    uErr := txx.Model(&types.TutorialRequest{}).
      Where("id = ?", request.ID).
      Updates(map[string]interface{}{
        "attempts":     gorm.Expr("attempts + 1"),
        "locked_at":    now,
        "heartbeat_at": now,
        "updated_at":   now,
      }).Error
    if uErr != nil {
      return uErr
    }
    request.Attempts++
    request.LockedAt = &now
    request.HeartbeatAt = &now
    claimed = &request
    return nil
  })
  if err != nil {
    return nil, err
  }
  return claimed, nil
}

func (r *tutorialRequestRepo) Heartbeat(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if id == uuid.Nil {
    return nil
  }
  now := time.Now()
  return transaction.WithContext(ctx).
    Model(&types.TutorialRequest{}).
    Where("id = ? AND status IN ?", id, []string{types.RequestStatusAnalyzing, types.RequestStatusGenerating}).
    Updates(map[string]interface{}{
      "heartbeat_at": now,
      "updated_at":   now,
    }).Error
}

func (r *tutorialRequestRepo) UpdateFieldsUnlessStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, disallowed []string, updates map[string]interface{}) (bool, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if id == uuid.Nil {
    return false, nil
  }
  if updates == nil {
    updates = map[string]interface{}{}
  }
  if _, ok := updates["updated_at"]; !ok {
    updates["updated_at"] = time.Now()
  }
  q := transaction.WithContext(ctx).
    Model(&types.TutorialRequest{}).
    Where("id = ?", id)
  if len(disallowed) > 0 {
    q = q.Where("status NOT IN ?", disallowed)
  }
  res := q.Updates(updates)
  if res.Error != nil {
    return false, res.Error
  }
  return res.RowsAffected == 1, nil
}

func (r *tutorialRequestRepo) MarkRefunded(ctx context.Context, tx *gorm.DB, id uuid.UUID) (bool, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if id == uuid.Nil {
    return false, nil
  }
  res := transaction.WithContext(ctx).
    Model(&types.TutorialRequest{}).
    Where("id = ? AND credits_charged > 0 AND credits_refunded = false", id).
    Updates(map[string]interface{}{
      "credits_refunded": true,
      "updated_at":       time.Now(),
    })
  if res.Error != nil {
    return false, res.Error
  }
  return res.RowsAffected == 1, nil
}

func (r *tutorialRequestRepo) RequestCancel(ctx context.Context, tx *gorm.DB, id uuid.UUID, userID uuid.UUID) (bool, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if id == uuid.Nil || userID == uuid.Nil {
    return false, nil
  }
  res := transaction.WithContext(ctx).
    Model(&types.TutorialRequest{}).
    Where("id = ? AND user_id = ? AND status IN ?", id, userID,
      []string{types.RequestStatusPending, types.RequestStatusAnalyzing, types.RequestStatusGenerating}).
    Updates(map[string]interface{}{
      "cancel_requested": true,
      "updated_at":       time.Now(),
    })
  if res.Error != nil {
    return false, res.Error
  }
  return res.RowsAffected == 1, nil
}
