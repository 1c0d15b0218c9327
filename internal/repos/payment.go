package repos

import (
  "context"
  "errors"
  "github.com/google/uuid"
  "gorm.io/gorm"
  "github.com/tutoria-app/tutoria-backend/internal/logger"
  "github.com/tutoria-app/tutoria-backend/internal/types"
)

type PaymentRepo interface {
  Create(ctx context.Context, tx *gorm.DB, payment *types.Payment) (*types.Payment, error)
  GetByProviderPaymentID(ctx context.Context, tx *gorm.DB, providerPaymentID string) (*types.Payment, error)
}

type paymentRepo struct {
  db  *gorm.DB
  log *logger.Logger
}

func NewPaymentRepo(db *gorm.DB, baseLog *logger.Logger) PaymentRepo {
  return &paymentRepo{
    db:  db,
    log: baseLog.With("repo", "PaymentRepo"),
  }
}

func (r *paymentRepo) Create(ctx context.Context, tx *gorm.DB, payment *types.Payment) (*types.Payment, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if payment == nil {
    return nil, errors.New("payment required")
  }
  if payment.ID == uuid.Nil {
    payment.ID = uuid.New()
  }
  if err := transaction.WithContext(ctx).Create(payment).Error; err != nil {
    return nil, err
  }
  return payment, nil
}

func (r *paymentRepo) GetByProviderPaymentID(ctx context.Context, tx *gorm.DB, providerPaymentID string) (*types.Payment, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if providerPaymentID == "" {
    return nil, nil
  }
  var payment types.Payment
  err := transaction.WithContext(ctx).
    Where("provider_payment_id = ?", providerPaymentID).
    Limit(1).
    Find(&payment).Error
  if err != nil {
    return nil, err
  }
  if payment.ID == uuid.Nil {
    return nil, nil
  }
  return &payment, nil
}
