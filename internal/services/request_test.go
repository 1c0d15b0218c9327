package services

import (
  "context"
  "errors"
  "testing"

  "github.com/google/uuid"
  "gorm.io/gorm"

  "github.com/tutoria-app/tutoria-backend/internal/repos"
  "github.com/tutoria-app/tutoria-backend/internal/repos/testutil"
  "github.com/tutoria-app/tutoria-backend/internal/types"
)

type intakeFixture struct {
  db       *gorm.DB
  profiles repos.ProfileRepo
  requests repos.TutorialRequestRepo
  svc      TutorialRequestService
}

func newIntakeFixture(t *testing.T) *intakeFixture {
  t.Helper()
  db := testutil.SQLiteDB(t)
  log := testutil.Logger(t)
  profiles := repos.NewProfileRepo(db, log)
  requests := repos.NewTutorialRequestRepo(db, log)
  devices := repos.NewDeviceRepo(db, log)
  ledger := NewCreditLedgerService(db, log, profiles)
  resolver := NewDeviceResolverService(db, log, devices)
  svc := NewTutorialRequestService(log, db, requests, devices, ledger, resolver, nil)
  return &intakeFixture{db: db, profiles: profiles, requests: requests, svc: svc}
}

func (f *intakeFixture) seedProfile(t *testing.T, credits int) uuid.UUID {
  t.Helper()
  userID := uuid.New()
  if _, err := f.profiles.Create(context.Background(), nil, &types.Profile{
    ID:      userID,
    Email:   userID.String() + "@example.com",
    Credits: credits,
  }); err != nil {
    t.Fatalf("create profile: %v", err)
  }
  return userID
}

func TestSubmitValidation(t *testing.T) {
  f := newIntakeFixture(t)
  userID := f.seedProfile(t, 5)

  _, err := f.svc.Submit(context.Background(), userID, SubmitRequestInput{})
  if !errors.Is(err, ErrValidation) {
    t.Fatalf("err = %v, want ErrValidation", err)
  }
}

func TestSubmitChargesAndQueues(t *testing.T) {
  f := newIntakeFixture(t)
  userID := f.seedProfile(t, 2)

  request, err := f.svc.Submit(context.Background(), userID, SubmitRequestInput{
    ProblemDescription: "kettle does not heat up",
    DeviceInput:        "old kettle",
  })
  if err != nil {
    t.Fatalf("Submit: %v", err)
  }
  if request.Status != types.RequestStatusPending || request.CreditsCharged != 1 {
    t.Fatalf("request = %+v", request)
  }

  profile, err := f.profiles.GetByID(context.Background(), nil, userID)
  if err != nil {
    t.Fatalf("profile: %v", err)
  }
  if profile.Credits != 1 {
    t.Fatalf("credits = %d, want 1", profile.Credits)
  }
}

// An insufficient balance keeps the row but leaves it uncharged, so the
// worker never picks it up.
func TestSubmitInsufficientCredits(t *testing.T) {
  f := newIntakeFixture(t)
  userID := f.seedProfile(t, 0)

  request, err := f.svc.Submit(context.Background(), userID, SubmitRequestInput{
    ProblemDescription: "tv shows no picture",
  })
  if !errors.Is(err, ErrInsufficientCredits) {
    t.Fatalf("err = %v, want ErrInsufficientCredits", err)
  }
  if request == nil {
    t.Fatalf("uncharged request should still be returned")
  }

  stored, err := f.requests.GetByID(context.Background(), nil, request.ID)
  if err != nil || stored == nil {
    t.Fatalf("request row missing: %v", err)
  }
  if stored.Status != types.RequestStatusPending || stored.CreditsCharged != 0 {
    t.Fatalf("stored = %+v", stored)
  }
}

// Unknown ids must come back as ErrNotFound from both the status and the
// cancel paths, never as a crash.
func TestGetUnknownRequest(t *testing.T) {
  f := newIntakeFixture(t)
  userID := f.seedProfile(t, 2)

  if _, err := f.svc.Get(context.Background(), userID, uuid.New()); !errors.Is(err, ErrNotFound) {
    t.Fatalf("err = %v, want ErrNotFound", err)
  }
}

func TestCancelUnknownRequest(t *testing.T) {
  f := newIntakeFixture(t)
  userID := f.seedProfile(t, 2)

  if err := f.svc.Cancel(context.Background(), userID, uuid.New()); !errors.Is(err, ErrNotFound) {
    t.Fatalf("err = %v, want ErrNotFound", err)
  }
}

func TestSubmitUnknownDevice(t *testing.T) {
  f := newIntakeFixture(t)
  userID := f.seedProfile(t, 2)
  deviceID := uuid.New()

  _, err := f.svc.Submit(context.Background(), userID, SubmitRequestInput{
    ProblemDescription: "hob will not ignite",
    DeviceID:           &deviceID,
  })
  if !errors.Is(err, ErrValidation) {
    t.Fatalf("err = %v, want ErrValidation", err)
  }
}

func TestCancelOwnership(t *testing.T) {
  f := newIntakeFixture(t)
  owner := f.seedProfile(t, 2)
  stranger := f.seedProfile(t, 2)

  request, err := f.svc.Submit(context.Background(), owner, SubmitRequestInput{
    ProblemDescription: "printer jams constantly",
  })
  if err != nil {
    t.Fatalf("Submit: %v", err)
  }

  if err := f.svc.Cancel(context.Background(), stranger, request.ID); !errors.Is(err, ErrNotFound) {
    t.Fatalf("stranger cancel err = %v, want ErrNotFound", err)
  }
  if err := f.svc.Cancel(context.Background(), owner, request.ID); err != nil {
    t.Fatalf("owner cancel: %v", err)
  }

  stored, _ := f.requests.GetByID(context.Background(), nil, request.ID)
  if !stored.CancelRequested {
    t.Fatalf("cancel flag not set")
  }
}
