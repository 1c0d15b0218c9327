package services

import (
  "context"
  "errors"
  "fmt"
  "strings"

  "github.com/google/uuid"
  "gorm.io/gorm"

  "github.com/tutoria-app/tutoria-backend/internal/logger"
  "github.com/tutoria-app/tutoria-backend/internal/repos"
  "github.com/tutoria-app/tutoria-backend/internal/sse"
  "github.com/tutoria-app/tutoria-backend/internal/types"
  "github.com/tutoria-app/tutoria-backend/internal/utils"
)

const (
  maxProblemDescriptionLen = 4000
  maxDeviceInputLen        = 200
)

type SubmitRequestInput struct {
  ProblemDescription string     `json:"problem_description"`
  ProblemAudioURL    string     `json:"problem_audio_url"`
  ProblemImageURL    string     `json:"problem_image_url"`
  DeviceID           *uuid.UUID `json:"device_id"`
  DeviceInput        string     `json:"device_input"`
}

// TutorialRequestService is the intake surface: it validates a submission,
// resolves the device best-effort, persists the request, and charges the
// generation cost. A request only becomes runnable once the debit lands;
// an uncharged pending row is invisible to the worker.
type TutorialRequestService interface {
  Submit(ctx context.Context, userID uuid.UUID, input SubmitRequestInput) (*types.TutorialRequest, error)
  Get(ctx context.Context, userID uuid.UUID, id uuid.UUID) (*types.TutorialRequest, error)
  List(ctx context.Context, userID uuid.UUID, limit int) ([]*types.TutorialRequest, error)
  Cancel(ctx context.Context, userID uuid.UUID, id uuid.UUID) error
}

type tutorialRequestService struct {
  log         *logger.Logger
  db          *gorm.DB
  requestRepo repos.TutorialRequestRepo
  deviceRepo  repos.DeviceRepo
  ledger      CreditLedgerService
  resolver    DeviceResolverService
  notifier    ProgressNotifierService
  costCredits int
}

func NewTutorialRequestService(
  log *logger.Logger,
  db *gorm.DB,
  requestRepo repos.TutorialRequestRepo,
  deviceRepo repos.DeviceRepo,
  ledger CreditLedgerService,
  resolver DeviceResolverService,
  notifier ProgressNotifierService,
) TutorialRequestService {
  return &tutorialRequestService{
    log:         log.With("service", "TutorialRequestService"),
    db:          db,
    requestRepo: requestRepo,
    deviceRepo:  deviceRepo,
    ledger:      ledger,
    resolver:    resolver,
    notifier:    notifier,
    costCredits: utils.GetEnvAsInt("GENERATION_COST_CREDITS", 1, log),
  }
}

func (s *tutorialRequestService) Submit(ctx context.Context, userID uuid.UUID, input SubmitRequestInput) (*types.TutorialRequest, error) {
  description := strings.TrimSpace(input.ProblemDescription)
  audioURL := strings.TrimSpace(input.ProblemAudioURL)
  imageURL := strings.TrimSpace(input.ProblemImageURL)
  deviceInput := strings.TrimSpace(input.DeviceInput)

  if description == "" && audioURL == "" {
    return nil, fmt.Errorf("%w: problem description or voice note required", ErrValidation)
  }
  if len(description) > maxProblemDescriptionLen {
    return nil, fmt.Errorf("%w: problem description exceeds %d characters", ErrValidation, maxProblemDescriptionLen)
  }
  if len(deviceInput) > maxDeviceInputLen {
    return nil, fmt.Errorf("%w: device input exceeds %d characters", ErrValidation, maxDeviceInputLen)
  }

  request := &types.TutorialRequest{
    UserID:             userID,
    ProblemDescription: description,
    ProblemAudioURL:    audioURL,
    ProblemImageURL:    imageURL,
    DeviceInput:        deviceInput,
    Status:             types.RequestStatusPending,
  }

  if input.DeviceID != nil {
    device, err := s.deviceRepo.GetByID(ctx, nil, *input.DeviceID)
    if err != nil || device == nil {
      return nil, fmt.Errorf("%w: unknown device", ErrValidation)
    }
    request.DeviceID = &device.ID
  } else if deviceInput != "" {
    // Resolution failure is never fatal; generation proceeds with the
    // free-text device input for context.
    if device, ok := s.resolver.Resolve(ctx, nil, deviceInput); ok {
      request.DeviceID = &device.ID
    }
  }

  created, err := s.requestRepo.Create(ctx, nil, request)
  if err != nil {
    return nil, fmt.Errorf("%w: create request: %v", ErrInternal, err)
  }

  // Charge in a separate transaction so the created row survives an
  // insufficient balance and can be replayed after a top-up.
  err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
    if err := s.ledger.Debit(ctx, tx, userID, s.costCredits); err != nil {
      return err
    }
    ok, err := s.requestRepo.UpdateFieldsUnlessStatus(ctx, tx, created.ID, nil, map[string]interface{}{
      "credits_charged": s.costCredits,
    })
    if err != nil {
      return err
    }
    if !ok {
      return fmt.Errorf("request %s vanished before charge", created.ID)
    }
    return nil
  })
  if err != nil {
    if errors.Is(err, ErrInsufficientCredits) {
      s.log.Info("Request created but not charged", "requestID", created.ID, "userID", userID)
      return created, err
    }
    return nil, fmt.Errorf("%w: charge request: %v", ErrInternal, err)
  }
  created.CreditsCharged = s.costCredits

  if s.notifier != nil {
    s.notifier.RequestStatus(ctx, created, sse.SSEEventRequestQueued, nil)
    if balance, err := s.ledger.Balance(ctx, nil, userID); err == nil {
      s.notifier.CreditsChanged(ctx, userID, balance)
    }
  }

  s.log.Info("Tutorial request queued", "requestID", created.ID, "userID", userID, "cost", s.costCredits)
  return created, nil
}

func (s *tutorialRequestService) Get(ctx context.Context, userID uuid.UUID, id uuid.UUID) (*types.TutorialRequest, error) {
  request, err := s.requestRepo.GetByID(ctx, nil, id)
  if err != nil || request == nil || request.UserID != userID {
    return nil, ErrNotFound
  }
  return request, nil
}

func (s *tutorialRequestService) List(ctx context.Context, userID uuid.UUID, limit int) ([]*types.TutorialRequest, error) {
  requests, err := s.requestRepo.ListByUser(ctx, nil, userID, limit)
  if err != nil {
    return nil, fmt.Errorf("%w: list requests: %v", ErrInternal, err)
  }
  return requests, nil
}

// Cancel flags the row; the worker observes the flag at its next
// checkpoint and settles the refund. A terminal request cannot be
// cancelled.
func (s *tutorialRequestService) Cancel(ctx context.Context, userID uuid.UUID, id uuid.UUID) error {
  ok, err := s.requestRepo.RequestCancel(ctx, nil, id, userID)
  if err != nil {
    return fmt.Errorf("%w: request cancel: %v", ErrInternal, err)
  }
  if ok {
    return nil
  }
  request, err := s.requestRepo.GetByID(ctx, nil, id)
  if err != nil || request == nil || request.UserID != userID {
    return ErrNotFound
  }
  if request.Terminal() {
    return fmt.Errorf("%w: request already %s", ErrValidation, request.Status)
  }
  return nil
}
