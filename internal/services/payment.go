package services

import (
  "context"
  "fmt"
  "strings"

  "github.com/google/uuid"
  "gorm.io/gorm"

  "github.com/tutoria-app/tutoria-backend/internal/logger"
  "github.com/tutoria-app/tutoria-backend/internal/repos"
  "github.com/tutoria-app/tutoria-backend/internal/types"
)

type CompletePaymentInput struct {
  ProviderPaymentID string `json:"provider_payment_id"`
  AmountCents       int    `json:"amount_cents"`
  CreditsPurchased  int    `json:"credits_purchased"`
}

// PaymentService settles completed purchases: one audit row plus a ledger
// grant, atomically. The provider payment id is unique, so a replayed
// completion call grants nothing the second time.
type PaymentService interface {
  CompletePayment(ctx context.Context, userID uuid.UUID, input CompletePaymentInput) (*types.Payment, error)
}

type paymentService struct {
  log         *logger.Logger
  db          *gorm.DB
  paymentRepo repos.PaymentRepo
  ledger      CreditLedgerService
  notifier    ProgressNotifierService
}

func NewPaymentService(
  log *logger.Logger,
  db *gorm.DB,
  paymentRepo repos.PaymentRepo,
  ledger CreditLedgerService,
  notifier ProgressNotifierService,
) PaymentService {
  return &paymentService{
    log:         log.With("service", "PaymentService"),
    db:          db,
    paymentRepo: paymentRepo,
    ledger:      ledger,
    notifier:    notifier,
  }
}

func (s *paymentService) CompletePayment(ctx context.Context, userID uuid.UUID, input CompletePaymentInput) (*types.Payment, error) {
  providerPaymentID := strings.TrimSpace(input.ProviderPaymentID)
  if providerPaymentID == "" {
    return nil, fmt.Errorf("%w: provider payment id required", ErrValidation)
  }
  if input.CreditsPurchased <= 0 {
    return nil, fmt.Errorf("%w: credits purchased must be positive", ErrValidation)
  }
  if input.AmountCents < 0 {
    return nil, fmt.Errorf("%w: amount must not be negative", ErrValidation)
  }

  if existing, err := s.paymentRepo.GetByProviderPaymentID(ctx, nil, providerPaymentID); err == nil && existing != nil {
    s.log.Info("Payment already settled", "providerPaymentID", providerPaymentID)
    return existing, nil
  }

  var payment *types.Payment
  err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
    created, err := s.paymentRepo.Create(ctx, tx, &types.Payment{
      UserID:            userID,
      ProviderPaymentID: providerPaymentID,
      AmountCents:       input.AmountCents,
      CreditsPurchased:  input.CreditsPurchased,
      Status:            "completed",
    })
    if err != nil {
      return err
    }
    payment = created
    return s.ledger.Grant(ctx, tx, userID, input.CreditsPurchased)
  })
  if err != nil {
    // The unique index stops a concurrent replay; whoever lost the race
    // just reads the settled row back.
    if existing, lookupErr := s.paymentRepo.GetByProviderPaymentID(ctx, nil, providerPaymentID); lookupErr == nil && existing != nil {
      return existing, nil
    }
    return nil, fmt.Errorf("%w: complete payment: %v", ErrInternal, err)
  }

  s.log.Info("Payment completed", "userID", userID, "credits", input.CreditsPurchased)
  if s.notifier != nil {
    if balance, err := s.ledger.Balance(ctx, nil, userID); err == nil {
      s.notifier.CreditsChanged(ctx, userID, balance)
    }
  }
  return payment, nil
}
