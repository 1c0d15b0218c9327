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

const maxFeedbackCommentLen = 2000

// TutorialService is the read/engagement surface over finished tutorials.
// Visibility rule: a tutorial is readable by its owner always, and by
// everyone once marked public.
type TutorialService interface {
  Get(ctx context.Context, userID uuid.UUID, id uuid.UUID) (*types.Tutorial, error)
  GetByRequest(ctx context.Context, userID uuid.UUID, requestID uuid.UUID) (*types.Tutorial, error)
  List(ctx context.Context, userID uuid.UUID, limit int) ([]*types.Tutorial, error)
  RecordView(ctx context.Context, userID uuid.UUID, id uuid.UUID) error
  SubmitFeedback(ctx context.Context, userID uuid.UUID, id uuid.UUID, wasHelpful bool, comment string) error
  SetVisibility(ctx context.Context, userID uuid.UUID, id uuid.UUID, public bool) error
}

type tutorialService struct {
  log          *logger.Logger
  db           *gorm.DB
  tutorialRepo repos.TutorialRepo
  requestRepo  repos.TutorialRequestRepo
  feedbackRepo repos.FeedbackRepo
}

func NewTutorialService(
  log *logger.Logger,
  db *gorm.DB,
  tutorialRepo repos.TutorialRepo,
  requestRepo repos.TutorialRequestRepo,
  feedbackRepo repos.FeedbackRepo,
) TutorialService {
  return &tutorialService{
    log:          log.With("service", "TutorialService"),
    db:           db,
    tutorialRepo: tutorialRepo,
    requestRepo:  requestRepo,
    feedbackRepo: feedbackRepo,
  }
}

func (s *tutorialService) Get(ctx context.Context, userID uuid.UUID, id uuid.UUID) (*types.Tutorial, error) {
  tutorial, err := s.visible(ctx, userID, id)
  if err != nil {
    return nil, err
  }
  return tutorial, nil
}

func (s *tutorialService) GetByRequest(ctx context.Context, userID uuid.UUID, requestID uuid.UUID) (*types.Tutorial, error) {
  tutorial, err := s.tutorialRepo.GetByRequestID(ctx, nil, requestID)
  if err != nil || tutorial == nil {
    return nil, ErrNotFound
  }
  return s.visible(ctx, userID, tutorial.ID)
}

func (s *tutorialService) List(ctx context.Context, userID uuid.UUID, limit int) ([]*types.Tutorial, error) {
  tutorials, err := s.tutorialRepo.ListVisible(ctx, nil, userID, limit)
  if err != nil {
    return nil, fmt.Errorf("%w: list tutorials: %v", ErrInternal, err)
  }
  return tutorials, nil
}

func (s *tutorialService) RecordView(ctx context.Context, userID uuid.UUID, id uuid.UUID) error {
  if _, err := s.visible(ctx, userID, id); err != nil {
    return err
  }
  if err := s.tutorialRepo.IncrementViews(ctx, nil, id); err != nil {
    return fmt.Errorf("%w: record view: %v", ErrInternal, err)
  }
  return nil
}

// SubmitFeedback records one vote per user per tutorial. A repeat vote is
// rejected rather than counted twice.
func (s *tutorialService) SubmitFeedback(ctx context.Context, userID uuid.UUID, id uuid.UUID, wasHelpful bool, comment string) error {
  comment = strings.TrimSpace(comment)
  if len(comment) > maxFeedbackCommentLen {
    return fmt.Errorf("%w: comment exceeds %d characters", ErrValidation, maxFeedbackCommentLen)
  }
  if _, err := s.visible(ctx, userID, id); err != nil {
    return err
  }
  if existing, err := s.feedbackRepo.GetByTutorialAndUser(ctx, nil, id, userID); err == nil && existing != nil {
    return fmt.Errorf("%w: feedback already submitted", ErrValidation)
  }
  return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
    if _, err := s.feedbackRepo.Create(ctx, tx, &types.Feedback{
      TutorialID: id,
      UserID:     userID,
      WasHelpful: wasHelpful,
      Comment:    comment,
    }); err != nil {
      return fmt.Errorf("%w: save feedback: %v", ErrInternal, err)
    }
    if err := s.tutorialRepo.ApplyVote(ctx, tx, id, wasHelpful); err != nil {
      return fmt.Errorf("%w: apply vote: %v", ErrInternal, err)
    }
    return nil
  })
}

func (s *tutorialService) SetVisibility(ctx context.Context, userID uuid.UUID, id uuid.UUID, public bool) error {
  tutorial, err := s.tutorialRepo.GetByID(ctx, nil, id)
  if err != nil || tutorial == nil {
    return ErrNotFound
  }
  owner, err := s.ownerOf(ctx, tutorial)
  if err != nil || owner != userID {
    return ErrNotFound
  }
  if err := s.db.WithContext(ctx).Model(&types.Tutorial{}).
    Where("id = ?", id).
    Update("is_public", public).Error; err != nil {
    return fmt.Errorf("%w: set visibility: %v", ErrInternal, err)
  }
  return nil
}

func (s *tutorialService) visible(ctx context.Context, userID uuid.UUID, id uuid.UUID) (*types.Tutorial, error) {
  tutorial, err := s.tutorialRepo.GetByID(ctx, nil, id)
  if err != nil || tutorial == nil {
    return nil, ErrNotFound
  }
  if tutorial.IsPublic {
    return tutorial, nil
  }
  owner, err := s.ownerOf(ctx, tutorial)
  if err != nil || owner != userID {
    return nil, ErrNotFound
  }
  return tutorial, nil
}

func (s *tutorialService) ownerOf(ctx context.Context, tutorial *types.Tutorial) (uuid.UUID, error) {
  request, err := s.requestRepo.GetByID(ctx, nil, tutorial.RequestID)
  if err != nil || request == nil {
    return uuid.Nil, ErrNotFound
  }
  return request.UserID, nil
}
