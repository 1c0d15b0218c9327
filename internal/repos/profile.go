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

type ProfileRepo interface {
  Create(ctx context.Context, tx *gorm.DB, profile *types.Profile) (*types.Profile, error)
  GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Profile, error)
  // DebitCredits decrements atomically and only when the balance covers the
  // amount. Returns false (no error) when the balance is insufficient.
  DebitCredits(ctx context.Context, tx *gorm.DB, id uuid.UUID, amount int) (bool, error)
  AddCredits(ctx context.Context, tx *gorm.DB, id uuid.UUID, amount int) error
}

type profileRepo struct {
  db  *gorm.DB
  log *logger.Logger
}

func NewProfileRepo(db *gorm.DB, baseLog *logger.Logger) ProfileRepo {
  return &profileRepo{
    db:  db,
    log: baseLog.With("repo", "ProfileRepo"),
  }
}

func (r *profileRepo) Create(ctx context.Context, tx *gorm.DB, profile *types.Profile) (*types.Profile, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if profile == nil {
    return nil, errors.New("profile required")
  }
  if profile.ID == uuid.Nil {
    profile.ID = uuid.New()
  }
  if err := transaction.WithContext(ctx).Create(profile).Error; err != nil {
    return nil, err
  }
  return profile, nil
}

func (r *profileRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Profile, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if id == uuid.Nil {
    return nil, nil
  }
  var profile types.Profile
  err := transaction.WithContext(ctx).
    Where("id = ?", id).
    Limit(1).
    Find(&profile).Error
  if err != nil {
    return nil, err
  }
  if profile.ID == uuid.Nil {
    return nil, nil
  }
  return &profile, nil
}

func (r *profileRepo) DebitCredits(ctx context.Context, tx *gorm.DB, id uuid.UUID, amount int) (bool, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if id == uuid.Nil || amount <= 0 {
    return false, errors.New("user id and positive amount required")
  }
  res := transaction.WithContext(ctx).
    Model(&types.Profile{}).
    Where("id = ? AND credits >= ?", id, amount).
    Updates(map[string]interface{}{
      "credits":    gorm.Expr("credits - ?", amount),
      "updated_at": time.Now(),
    })
  if res.Error != nil {
    return false, res.Error
  }
  return res.RowsAffected == 1, nil
}

func (r *profileRepo) AddCredits(ctx context.Context, tx *gorm.DB, id uuid.UUID, amount int) error {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if id == uuid.Nil || amount <= 0 {
    return errors.New("user id and positive amount required")
  }
  return transaction.WithContext(ctx).
    Model(&types.Profile{}).
    Where("id = ?", id).
    Updates(map[string]interface{}{
      "credits":    gorm.Expr("credits + ?", amount),
      "updated_at": time.Now(),
    }).Error
}
