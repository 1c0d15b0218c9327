package repos

import (
  "context"
  "errors"
  "github.com/google/uuid"
  "gorm.io/gorm"
  "gorm.io/gorm/clause"
  "github.com/tutoria-app/tutoria-backend/internal/logger"
  "github.com/tutoria-app/tutoria-backend/internal/types"
)

type StepAssetRepo interface {
  // Upsert writes one produced asset. The (request, step, kind) key is
  // unique; a second writer for the same slot keeps the first row, which
  // makes reclaim-after-crash safe to race.
  Upsert(ctx context.Context, tx *gorm.DB, asset *types.StepAsset) error
  GetByRequest(ctx context.Context, tx *gorm.DB, requestID uuid.UUID) ([]*types.StepAsset, error)
  DeleteByRequest(ctx context.Context, tx *gorm.DB, requestID uuid.UUID) error
}

type stepAssetRepo struct {
  db  *gorm.DB
  log *logger.Logger
}

func NewStepAssetRepo(db *gorm.DB, baseLog *logger.Logger) StepAssetRepo {
  return &stepAssetRepo{
    db:  db,
    log: baseLog.With("repo", "StepAssetRepo"),
  }
}

func (r *stepAssetRepo) Upsert(ctx context.Context, tx *gorm.DB, asset *types.StepAsset) error {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if asset == nil {
    return errors.New("asset required")
  }
  if asset.ID == uuid.Nil {
    asset.ID = uuid.New()
  }
  return transaction.WithContext(ctx).
    Clauses(clause.OnConflict{
      Columns:   []clause.Column{{Name: "request_id"}, {Name: "step_index"}, {Name: "kind"}},
      DoNothing: true,
    }).
    Create(asset).Error
}

func (r *stepAssetRepo) GetByRequest(ctx context.Context, tx *gorm.DB, requestID uuid.UUID) ([]*types.StepAsset, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if requestID == uuid.Nil {
    return nil, nil
  }
  var out []*types.StepAsset
  if err := transaction.WithContext(ctx).
    Where("request_id = ?", requestID).
    Order("step_index ASC").
    Find(&out).Error; err != nil {
    return nil, err
  }
  return out, nil
}

func (r *stepAssetRepo) DeleteByRequest(ctx context.Context, tx *gorm.DB, requestID uuid.UUID) error {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if requestID == uuid.Nil {
    return nil
  }
  return transaction.WithContext(ctx).
    Where("request_id = ?", requestID).
    Delete(&types.StepAsset{}).Error
}
