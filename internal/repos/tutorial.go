package repos

import (
  "context"
  "errors"
  "time"
  "github.com/google/uuid"
  "gorm.io/gorm"
  "github.com/tutoria-app/tutoria-backend/internal/logger"
  "github.com/tutoria-app/tutoria-backend/internal/types"
)

type TutorialRepo interface {
  Create(ctx context.Context, tx *gorm.DB, tutorial *types.Tutorial) (*types.Tutorial, error)
  GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Tutorial, error)
  GetByRequestID(ctx context.Context, tx *gorm.DB, requestID uuid.UUID) (*types.Tutorial, error)
  ListVisible(ctx context.Context, tx *gorm.DB, userID uuid.UUID, limit int) ([]*types.Tutorial, error)
  IncrementViews(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
  ApplyVote(ctx context.Context, tx *gorm.DB, id uuid.UUID, helpful bool) error
}

type tutorialRepo struct {
  db  *gorm.DB
  log *logger.Logger
}

func NewTutorialRepo(db *gorm.DB, baseLog *logger.Logger) TutorialRepo {
  return &tutorialRepo{
    db:  db,
    log: baseLog.With("repo", "TutorialRepo"),
  }
}

func (r *tutorialRepo) Create(ctx context.Context, tx *gorm.DB, tutorial *types.Tutorial) (*types.Tutorial, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if tutorial == nil {
    return nil, errors.New("tutorial required")
  }
  if tutorial.ID == uuid.Nil {
    tutorial.ID = uuid.New()
  }
  if err := transaction.WithContext(ctx).Create(tutorial).Error; err != nil {
    return nil, err
  }
  return tutorial, nil
}

func (r *tutorialRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Tutorial, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if id == uuid.Nil {
    return nil, nil
  }
  var tutorial types.Tutorial
  err := transaction.WithContext(ctx).
    Where("id = ?", id).
    Limit(1).
    Find(&tutorial).Error
  if err != nil {
    return nil, err
  }
  if tutorial.ID == uuid.Nil {
    return nil, nil
  }
  return &tutorial, nil
}

func (r *tutorialRepo) GetByRequestID(ctx context.Context, tx *gorm.DB, requestID uuid.UUID) (*types.Tutorial, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if requestID == uuid.Nil {
    return nil, nil
  }
  var tutorial types.Tutorial
  err := transaction.WithContext(ctx).
    Where("request_id = ?", requestID).
    Limit(1).
    Find(&tutorial).Error
  if err != nil {
    return nil, err
  }
  if tutorial.ID == uuid.Nil {
    return nil, nil
  }
  return &tutorial, nil
}

func (r *tutorialRepo) ListVisible(ctx context.Context, tx *gorm.DB, userID uuid.UUID, limit int) ([]*types.Tutorial, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if limit <= 0 {
    limit = 100
  }
  q := transaction.WithContext(ctx).
    Joins("JOIN tutorial_request ON tutorial_request.id = tutorial.request_id")
  if userID != uuid.Nil {
    q = q.Where("tutorial.is_public = true OR tutorial_request.user_id = ?", userID)
  } else {
    q = q.Where("tutorial.is_public = true")
  }
  var out []*types.Tutorial
  if err := q.Order("tutorial.created_at DESC").
    Limit(limit).
    Find(&out).Error; err != nil {
    return nil, err
  }
  return out, nil
}

func (r *tutorialRepo) IncrementViews(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if id == uuid.Nil {
    return nil
  }
  return transaction.WithContext(ctx).
    Model(&types.Tutorial{}).
    Where("id = ?", id).
    Updates(map[string]interface{}{
      "views":      gorm.Expr("views + 1"),
      "updated_at": time.Now(),
    }).Error
}

func (r *tutorialRepo) ApplyVote(ctx context.Context, tx *gorm.DB, id uuid.UUID, helpful bool) error {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if id == uuid.Nil {
    return nil
  }
  column := "not_helpful_votes"
  if helpful {
    column = "helpful_votes"
  }
  return transaction.WithContext(ctx).
    Model(&types.Tutorial{}).
    Where("id = ?", id).
    Updates(map[string]interface{}{
      column:       gorm.Expr(column+" + 1"),
      "updated_at": time.Now(),
    }).Error
}
