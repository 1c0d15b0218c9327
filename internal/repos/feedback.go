package repos

import (
  "context"
  "errors"
  "github.com/google/uuid"
  "gorm.io/gorm"
  "github.com/tutoria-app/tutoria-backend/internal/logger"
  "github.com/tutoria-app/tutoria-backend/internal/types"
)

type FeedbackRepo interface {
  Create(ctx context.Context, tx *gorm.DB, feedback *types.Feedback) (*types.Feedback, error)
  GetByTutorialAndUser(ctx context.Context, tx *gorm.DB, tutorialID, userID uuid.UUID) (*types.Feedback, error)
}

type feedbackRepo struct {
  db  *gorm.DB
  log *logger.Logger
}

func NewFeedbackRepo(db *gorm.DB, baseLog *logger.Logger) FeedbackRepo {
  return &feedbackRepo{
    db:  db,
    log: baseLog.With("repo", "FeedbackRepo"),
  }
}

func (r *feedbackRepo) Create(ctx context.Context, tx *gorm.DB, feedback *types.Feedback) (*types.Feedback, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if feedback == nil {
    return nil, errors.New("feedback required")
  }
  if feedback.ID == uuid.Nil {
    feedback.ID = uuid.New()
  }
  if err := transaction.WithContext(ctx).Create(feedback).Error; err != nil {
    return nil, err
  }
  return feedback, nil
}

func (r *feedbackRepo) GetByTutorialAndUser(ctx context.Context, tx *gorm.DB, tutorialID, userID uuid.UUID) (*types.Feedback, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if tutorialID == uuid.Nil || userID == uuid.Nil {
    return nil, nil
  }
  var feedback types.Feedback
  err := transaction.WithContext(ctx).
    Where("tutorial_id = ? AND user_id = ?", tutorialID, userID).
    Limit(1).
    Find(&feedback).Error
  if err != nil {
    return nil, err
  }
  if feedback.ID == uuid.Nil {
    return nil, nil
  }
  return &feedback, nil
}
