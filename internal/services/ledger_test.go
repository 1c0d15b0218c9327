package services

import (
  "context"
  "errors"
  "testing"

  "github.com/google/uuid"

  "github.com/tutoria-app/tutoria-backend/internal/repos"
  "github.com/tutoria-app/tutoria-backend/internal/repos/testutil"
  "github.com/tutoria-app/tutoria-backend/internal/types"
)

func TestCreditLedger(t *testing.T) {
  db := testutil.SQLiteDB(t)
  log := testutil.Logger(t)
  profileRepo := repos.NewProfileRepo(db, log)
  ledger := NewCreditLedgerService(db, log, profileRepo)

  ctx := context.Background()
  userID := uuid.New()
  if _, err := profileRepo.Create(ctx, nil, &types.Profile{
    ID:      userID,
    Email:   "ledger@example.com",
    Credits: 3,
  }); err != nil {
    t.Fatalf("create profile: %v", err)
  }

  if err := ledger.Debit(ctx, nil, userID, 2); err != nil {
    t.Fatalf("Debit: %v", err)
  }
  balance, err := ledger.Balance(ctx, nil, userID)
  if err != nil {
    t.Fatalf("Balance: %v", err)
  }
  if balance != 1 {
    t.Fatalf("balance = %d, want 1", balance)
  }

  // A debit past the balance must not land at all.
  if err := ledger.Debit(ctx, nil, userID, 2); !errors.Is(err, ErrInsufficientCredits) {
    t.Fatalf("Debit past balance: err = %v, want ErrInsufficientCredits", err)
  }
  balance, _ = ledger.Balance(ctx, nil, userID)
  if balance != 1 {
    t.Fatalf("balance changed on rejected debit: %d", balance)
  }

  if err := ledger.Refund(ctx, nil, userID, 2); err != nil {
    t.Fatalf("Refund: %v", err)
  }
  if err := ledger.Grant(ctx, nil, userID, 5); err != nil {
    t.Fatalf("Grant: %v", err)
  }
  balance, _ = ledger.Balance(ctx, nil, userID)
  if balance != 8 {
    t.Fatalf("balance = %d, want 8", balance)
  }
}
