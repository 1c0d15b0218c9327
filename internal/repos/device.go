package repos

import (
  "context"
  "github.com/google/uuid"
  "gorm.io/gorm"
  "github.com/tutoria-app/tutoria-backend/internal/logger"
  "github.com/tutoria-app/tutoria-backend/internal/types"
)

type DeviceRepo interface {
  GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Device, error)
  List(ctx context.Context, tx *gorm.DB, limit int) ([]*types.Device, error)
  // ListPage walks the catalog in stable brand/model order; a short page
  // means the end was reached.
  ListPage(ctx context.Context, tx *gorm.DB, offset, limit int) ([]*types.Device, error)
  Search(ctx context.Context, tx *gorm.DB, term string, limit int) ([]*types.Device, error)
}

type deviceRepo struct {
  db  *gorm.DB
  log *logger.Logger
}

func NewDeviceRepo(db *gorm.DB, baseLog *logger.Logger) DeviceRepo {
  return &deviceRepo{
    db:  db,
    log: baseLog.With("repo", "DeviceRepo"),
  }
}

func (r *deviceRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Device, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if id == uuid.Nil {
    return nil, nil
  }
  var device types.Device
  err := transaction.WithContext(ctx).
    Where("id = ?", id).
    Limit(1).
    Find(&device).Error
  if err != nil {
    return nil, err
  }
  if device.ID == uuid.Nil {
    return nil, nil
  }
  return &device, nil
}

func (r *deviceRepo) List(ctx context.Context, tx *gorm.DB, limit int) ([]*types.Device, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if limit <= 0 {
    limit = 500
  }
  var out []*types.Device
  if err := transaction.WithContext(ctx).
    Order("brand ASC, model ASC").
    Limit(limit).
    Find(&out).Error; err != nil {
    return nil, err
  }
  return out, nil
}

func (r *deviceRepo) ListPage(ctx context.Context, tx *gorm.DB, offset, limit int) ([]*types.Device, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if offset < 0 {
    offset = 0
  }
  if limit <= 0 {
    limit = 500
  }
  var out []*types.Device
  if err := transaction.WithContext(ctx).
    Order("brand ASC, model ASC").
    Offset(offset).
    Limit(limit).
    Find(&out).Error; err != nil {
    return nil, err
  }
  return out, nil
}

func (r *deviceRepo) Search(ctx context.Context, tx *gorm.DB, term string, limit int) ([]*types.Device, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if term == "" {
    return r.List(ctx, tx, limit)
  }
  if limit <= 0 {
    limit = 50
  }
  pattern := "%" + term + "%"
  var out []*types.Device
  if err := transaction.WithContext(ctx).
    Where("brand ILIKE ? OR model ILIKE ? OR category ILIKE ?", pattern, pattern, pattern).
    Order("brand ASC, model ASC").
    Limit(limit).
    Find(&out).Error; err != nil {
    return nil, err
  }
  return out, nil
}
