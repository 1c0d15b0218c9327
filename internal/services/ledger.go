package services

import (
  "context"
  "fmt"
  "github.com/google/uuid"
  "gorm.io/gorm"
  "github.com/tutoria-app/tutoria-backend/internal/logger"
  "github.com/tutoria-app/tutoria-backend/internal/repos"
)

// CreditLedgerService is the only mutation path for profile credit
// balances. Debit and grant are single atomic UPDATEs; there is no
// read-modify-write anywhere, so concurrent requests from the same user
// cannot race the balance below zero.
type CreditLedgerService interface {
  Debit(ctx context.Context, tx *gorm.DB, userID uuid.UUID, amount int) error
  Refund(ctx context.Context, tx *gorm.DB, userID uuid.UUID, amount int) error
  Grant(ctx context.Context, tx *gorm.DB, userID uuid.UUID, amount int) error
  Balance(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (int, error)
}

type creditLedgerService struct {
  db          *gorm.DB
  log         *logger.Logger
  profileRepo repos.ProfileRepo
}

func NewCreditLedgerService(db *gorm.DB, baseLog *logger.Logger, profileRepo repos.ProfileRepo) CreditLedgerService {
  return &creditLedgerService{
    db:          db,
    log:         baseLog.With("service", "CreditLedgerService"),
    profileRepo: profileRepo,
  }
}

func (s *creditLedgerService) Debit(ctx context.Context, tx *gorm.DB, userID uuid.UUID, amount int) error {
  charged, err := s.profileRepo.DebitCredits(ctx, tx, userID, amount)
  if err != nil {
    return fmt.Errorf("debit credits: %w", err)
  }
  if !charged {
    return ErrInsufficientCredits
  }
  s.log.Debug("Debited credits", "user_id", userID, "amount", amount)
  return nil
}

func (s *creditLedgerService) Refund(ctx context.Context, tx *gorm.DB, userID uuid.UUID, amount int) error {
  if err := s.profileRepo.AddCredits(ctx, tx, userID, amount); err != nil {
    return fmt.Errorf("refund credits: %w", err)
  }
  s.log.Debug("Refunded credits", "user_id", userID, "amount", amount)
  return nil
}

func (s *creditLedgerService) Grant(ctx context.Context, tx *gorm.DB, userID uuid.UUID, amount int) error {
  if err := s.profileRepo.AddCredits(ctx, tx, userID, amount); err != nil {
    return fmt.Errorf("grant credits: %w", err)
  }
  s.log.Info("Granted credits", "user_id", userID, "amount", amount)
  return nil
}

func (s *creditLedgerService) Balance(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (int, error) {
  profile, err := s.profileRepo.GetByID(ctx, tx, userID)
  if err != nil {
    return 0, err
  }
  if profile == nil {
    return 0, ErrNotFound
  }
  return profile.Credits, nil
}
