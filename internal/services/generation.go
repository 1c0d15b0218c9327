package services

import (
  "context"
  "encoding/json"
  "errors"
  "fmt"
  "time"

  "github.com/google/uuid"
  "golang.org/x/sync/errgroup"
  "gorm.io/datatypes"
  "gorm.io/gorm"

  "github.com/tutoria-app/tutoria-backend/internal/logger"
  "github.com/tutoria-app/tutoria-backend/internal/repos"
  "github.com/tutoria-app/tutoria-backend/internal/sse"
  "github.com/tutoria-app/tutoria-backend/internal/types"
  "github.com/tutoria-app/tutoria-backend/internal/utils"
)

// TutorialGenerationService owns the request state machine. A worker loop
// claims runnable requests one at a time and drives each through
// analyzing -> generating -> completed, settling a refund on any failure.
// ProcessOnce is the single-claim entry point the loop (and tests) use.
type TutorialGenerationService interface {
  StartWorker(ctx context.Context)
  ProcessOnce(ctx context.Context) (bool, error)
}

type tutorialGenerationService struct {
  log          *logger.Logger
  db           *gorm.DB
  requestRepo  repos.TutorialRequestRepo
  assetRepo    repos.StepAssetRepo
  tutorialRepo repos.TutorialRepo
  deviceRepo   repos.DeviceRepo
  ledger       CreditLedgerService
  analyzer     ProblemAnalyzerService
  narrator     NarrationSynthesizerService
  visuals      VisualAssetGeneratorService
  assembler    VideoAssemblerService
  speech       SpeechProviderService
  vision       VisionProviderService
  notifier     ProgressNotifierService

  pollInterval      time.Duration
  heartbeatInterval time.Duration
  staleRunning      time.Duration
  requestTimeout    time.Duration
  narrationSlots    int
  visualSlots       int
}

func NewTutorialGenerationService(
  log *logger.Logger,
  db *gorm.DB,
  requestRepo repos.TutorialRequestRepo,
  assetRepo repos.StepAssetRepo,
  tutorialRepo repos.TutorialRepo,
  deviceRepo repos.DeviceRepo,
  ledger CreditLedgerService,
  analyzer ProblemAnalyzerService,
  narrator NarrationSynthesizerService,
  visuals VisualAssetGeneratorService,
  assembler VideoAssemblerService,
  speech SpeechProviderService,
  vision VisionProviderService,
  notifier ProgressNotifierService,
) TutorialGenerationService {
  return &tutorialGenerationService{
    log:               log.With("service", "TutorialGenerationService"),
    db:                db,
    requestRepo:       requestRepo,
    assetRepo:         assetRepo,
    tutorialRepo:      tutorialRepo,
    deviceRepo:        deviceRepo,
    ledger:            ledger,
    analyzer:          analyzer,
    narrator:          narrator,
    visuals:           visuals,
    assembler:         assembler,
    speech:            speech,
    vision:            vision,
    notifier:          notifier,
    pollInterval:      time.Duration(utils.GetEnvAsInt("WORKER_POLL_SECONDS", 1, log)) * time.Second,
    heartbeatInterval: time.Duration(utils.GetEnvAsInt("WORKER_HEARTBEAT_SECONDS", 15, log)) * time.Second,
    staleRunning:      time.Duration(utils.GetEnvAsInt("WORKER_STALE_SECONDS", 120, log)) * time.Second,
    requestTimeout:    time.Duration(utils.GetEnvAsInt("REQUEST_TIMEOUT_SECONDS", 900, log)) * time.Second,
    narrationSlots:    utils.GetEnvAsInt("NARRATION_CONCURRENCY", 2, log),
    visualSlots:       utils.GetEnvAsInt("VISUAL_CONCURRENCY", 2, log),
  }
}

func (s *tutorialGenerationService) StartWorker(ctx context.Context) {
  go func() {
    ticker := time.NewTicker(s.pollInterval)
    defer ticker.Stop()
    for {
      select {
      case <-ctx.Done():
        return
      case <-ticker.C:
        if _, err := s.ProcessOnce(ctx); err != nil {
          s.log.Warn("ProcessOnce failed", "error", err)
        }
      }
    }
  }()
}

// ProcessOnce claims and runs at most one request. Returns whether a
// request was claimed.
func (s *tutorialGenerationService) ProcessOnce(ctx context.Context) (bool, error) {
  request, err := s.requestRepo.ClaimNextRunnable(ctx, nil, s.staleRunning)
  if err != nil {
    return false, fmt.Errorf("claim: %w", err)
  }
  if request == nil {
    return false, nil
  }

  log := s.log.With("requestID", request.ID, "attempt", request.Attempts)
  log.Info("Claimed tutorial request", "status", request.Status)

  // Panics mark the row failed instead of leaving a zombie lease.
  func() {
    defer func() {
      if r := recover(); r != nil {
        log.Error("Pipeline panic", "panic", r)
        s.failAndRefund(ctx, request, types.CauseInternalError, nil, fmt.Errorf("panic: %v", r))
      }
    }()
    s.process(ctx, request)
  }()
  return true, nil
}

func (s *tutorialGenerationService) process(parent context.Context, request *types.TutorialRequest) {
  log := s.log.With("requestID", request.ID)

  ctx, cancel := context.WithTimeout(parent, s.requestTimeout)
  defer cancel()

  // The heartbeat loop doubles as the cancellation watcher: it renews the
  // lease and cancels the pipeline context when the user flags the row.
  cancelRequested := s.watchLease(parent, ctx, cancel, request.ID)
  wasCancelled := func() bool {
    select {
    case <-cancelRequested:
      return true
    default:
      return false
    }
  }

  if request.CancelRequested {
    s.failAndRefund(parent, request, types.CauseCancelled, nil, ErrCancelled)
    return
  }

  script, err := s.ensureScript(ctx, request)
  if err != nil {
    if parent.Err() != nil {
      // Shutdown mid-flight: leave the lease to go stale and be reclaimed.
      log.Warn("Abandoning request on shutdown", "stage", "analyzing")
      return
    }
    if wasCancelled() || errors.Is(err, ErrCancelled) {
      s.failAndRefund(parent, request, types.CauseCancelled, nil, ErrCancelled)
      return
    }
    if errors.Is(err, ErrAnalysisFailed) {
      s.failAndRefund(parent, request, types.CauseAnalysisFailed, nil, err)
      return
    }
    s.failAndRefund(parent, request, types.CauseInternalError, nil, err)
    return
  }

  if err := s.generateAssets(ctx, request, script); err != nil {
    if parent.Err() != nil {
      log.Warn("Abandoning request on shutdown", "stage", "generating")
      return
    }
    if wasCancelled() || errors.Is(err, ErrCancelled) {
      s.failAndRefund(parent, request, types.CauseCancelled, nil, ErrCancelled)
      return
    }
    var stepErr *GenerationStepError
    if errors.As(err, &stepErr) {
      failedStep := stepErr.StepIndex
      s.failAndRefund(parent, request, types.CauseGenerationFailed, &failedStep, err)
      return
    }
    s.failAndRefund(parent, request, types.CauseInternalError, nil, err)
    return
  }

  if wasCancelled() {
    s.failAndRefund(parent, request, types.CauseCancelled, nil, ErrCancelled)
    return
  }

  result, err := s.assemble(ctx, request, script)
  if err != nil {
    if parent.Err() != nil {
      log.Warn("Abandoning request on shutdown", "stage", "assembling")
      return
    }
    if wasCancelled() {
      s.failAndRefund(parent, request, types.CauseCancelled, nil, ErrCancelled)
      return
    }
    s.failAndRefund(parent, request, types.CauseAssemblyFailed, nil, err)
    return
  }

  if err := s.complete(parent, request, script, result); err != nil {
    log.Error("Failed to finalize completed request", "error", err)
    s.failAndRefund(parent, request, types.CauseInternalError, nil, err)
    return
  }
  log.Info("Tutorial request completed", "steps", len(script.Steps), "durationSeconds", result.DurationSeconds)
}

// watchLease renews the heartbeat until ctx ends and closes the returned
// channel (after cancelling ctx) if the user requests cancellation.
func (s *tutorialGenerationService) watchLease(parent, ctx context.Context, cancel context.CancelFunc, id uuid.UUID) chan struct{} {
  cancelRequested := make(chan struct{})
  go func() {
    ticker := time.NewTicker(s.heartbeatInterval)
    defer ticker.Stop()
    for {
      select {
      case <-ctx.Done():
        return
      case <-ticker.C:
        if err := s.requestRepo.Heartbeat(parent, nil, id); err != nil {
          s.log.Warn("Heartbeat failed", "requestID", id, "error", err)
        }
        row, err := s.requestRepo.GetByID(parent, nil, id)
        if err != nil || row == nil {
          continue
        }
        if row.CancelRequested {
          close(cancelRequested)
          cancel()
          return
        }
      }
    }
  }()
  return cancelRequested
}

// ensureScript transitions the row to analyzing and produces its
// GenerationScript, reusing a script persisted by a previous attempt.
func (s *tutorialGenerationService) ensureScript(ctx context.Context, req *types.TutorialRequest) (*types.GenerationScript, error) {
  if len(req.Script) > 0 {
    var script types.GenerationScript
    if err := json.Unmarshal(req.Script, &script); err == nil && len(script.Steps) > 0 {
      s.log.Info("Reusing persisted script", "requestID", req.ID, "steps", len(script.Steps))
      if req.Status != types.RequestStatusGenerating {
        if err := s.transition(ctx, req, types.RequestStatusGenerating, sse.SSEEventRequestGenerating); err != nil {
          return nil, err
        }
      }
      return &script, nil
    }
  }

  if err := s.transition(ctx, req, types.RequestStatusAnalyzing, sse.SSEEventRequestAnalyzing); err != nil {
    return nil, err
  }

  input := AnalyzerInput{
    ProblemDescription: req.ProblemDescription,
    DeviceContext:      s.deviceContext(ctx, req),
  }
  // Enrichment is best effort; the analyzer works from the description
  // alone when a provider is unavailable.
  if s.speech != nil && req.ProblemAudioURL != "" {
    if transcript, err := s.speech.TranscribeURL(ctx, req.ProblemAudioURL); err != nil {
      s.log.Warn("Audio transcription failed", "requestID", req.ID, "error", err)
    } else {
      input.AudioTranscript = transcript
    }
  }
  if s.vision != nil && req.ProblemImageURL != "" {
    if annotation, err := s.vision.AnnotateURL(ctx, req.ProblemImageURL); err != nil {
      s.log.Warn("Image annotation failed", "requestID", req.ID, "error", err)
    } else {
      input.ImageAnnotation = annotation
    }
  }
  if input.ProblemDescription == "" {
    // Voice-note-only submissions ride on the transcript.
    if input.AudioTranscript == "" {
      return nil, fmt.Errorf("%w: no usable problem statement", ErrAnalysisFailed)
    }
    input.ProblemDescription = input.AudioTranscript
    input.AudioTranscript = ""
  }

  script, err := s.analyzer.AnalyzeProblem(ctx, input)
  if err != nil {
    return nil, err
  }

  raw, err := json.Marshal(script)
  if err != nil {
    return nil, fmt.Errorf("marshal script: %w", err)
  }
  ok, err := s.requestRepo.UpdateFieldsUnlessStatus(ctx, nil, req.ID,
    []string{types.RequestStatusCompleted, types.RequestStatusFailed},
    map[string]interface{}{
      "script": datatypes.JSON(raw),
      "status": types.RequestStatusGenerating,
    })
  if err != nil {
    return nil, fmt.Errorf("persist script: %w", err)
  }
  if !ok {
    return nil, fmt.Errorf("request %s turned terminal during analysis", req.ID)
  }
  req.Script = datatypes.JSON(raw)
  req.Status = types.RequestStatusGenerating
  if s.notifier != nil {
    s.notifier.RequestStatus(ctx, req, sse.SSEEventRequestGenerating, map[string]any{"steps": len(script.Steps)})
  }
  return script, nil
}

// generateAssets fans narration and visual jobs out over all steps with
// bounded per-provider parallelism. The first permanent failure cancels
// everything still in flight; finished assets stay persisted for reuse.
func (s *tutorialGenerationService) generateAssets(ctx context.Context, req *types.TutorialRequest, script *types.GenerationScript) error {
  existing, err := s.assetRepo.GetByRequest(ctx, nil, req.ID)
  if err != nil {
    return fmt.Errorf("load step assets: %w", err)
  }
  done := make(map[string]bool, len(existing))
  for _, asset := range existing {
    done[assetKey(asset.StepIndex, asset.Kind)] = true
  }

  deviceContext := s.deviceContext(ctx, req)

  g, gctx := errgroup.WithContext(ctx)
  narrationSem := make(chan struct{}, s.narrationSlots)
  visualSem := make(chan struct{}, s.visualSlots)

  for _, step := range script.Steps {
    step := step
    if !done[assetKey(step.Index, types.StepAssetKindNarration)] {
      g.Go(func() error {
        select {
        case narrationSem <- struct{}{}:
          defer func() { <-narrationSem }()
        case <-gctx.Done():
          return gctx.Err()
        }
        result, err := s.narrator.Synthesize(gctx, req.ID, step.Index, step.Narration)
        if err != nil {
          return &GenerationStepError{StepIndex: step.Index, Kind: types.StepAssetKindNarration, Err: err}
        }
        return s.recordAsset(gctx, req, &types.StepAsset{
          RequestID:       req.ID,
          StepIndex:       step.Index,
          Kind:            types.StepAssetKindNarration,
          URL:             result.URL,
          DurationSeconds: result.DurationSeconds,
        })
      })
    }
    if !done[assetKey(step.Index, types.StepAssetKindVisual)] {
      g.Go(func() error {
        select {
        case visualSem <- struct{}{}:
          defer func() { <-visualSem }()
        case <-gctx.Done():
          return gctx.Err()
        }
        result, err := s.visuals.Generate(gctx, req.ID, step.Index, step.Instruction, deviceContext)
        if err != nil {
          return &GenerationStepError{StepIndex: step.Index, Kind: types.StepAssetKindVisual, Err: err}
        }
        return s.recordAsset(gctx, req, &types.StepAsset{
          RequestID: req.ID,
          StepIndex: step.Index,
          Kind:      types.StepAssetKindVisual,
          URL:       result.URL,
        })
      })
    }
  }

  return g.Wait()
}

func (s *tutorialGenerationService) recordAsset(ctx context.Context, req *types.TutorialRequest, asset *types.StepAsset) error {
  if err := s.assetRepo.Upsert(ctx, nil, asset); err != nil {
    return &GenerationStepError{StepIndex: asset.StepIndex, Kind: asset.Kind, Err: fmt.Errorf("persist asset: %w", err)}
  }
  if s.notifier != nil {
    s.notifier.StepAssetReady(ctx, req.ID, asset.StepIndex, asset.Kind, asset.URL)
  }
  return nil
}

func (s *tutorialGenerationService) assemble(ctx context.Context, req *types.TutorialRequest, script *types.GenerationScript) (*AssemblyResult, error) {
  assets, err := s.assetRepo.GetByRequest(ctx, nil, req.ID)
  if err != nil {
    return nil, fmt.Errorf("%w: load step assets: %v", ErrAssemblyFailed, err)
  }
  byKey := make(map[string]*types.StepAsset, len(assets))
  for _, asset := range assets {
    byKey[assetKey(asset.StepIndex, asset.Kind)] = asset
  }

  steps := make([]AssemblyStep, len(script.Steps))
  for i, step := range script.Steps {
    narration := byKey[assetKey(step.Index, types.StepAssetKindNarration)]
    visual := byKey[assetKey(step.Index, types.StepAssetKindVisual)]
    if narration == nil || visual == nil {
      return nil, fmt.Errorf("%w: step %d assets incomplete", ErrAssemblyFailed, step.Index)
    }
    seconds := narration.DurationSeconds
    if seconds <= 0 {
      seconds = step.EstimatedSeconds
    }
    steps[i] = AssemblyStep{
      Index:            step.Index,
      NarrationURL:     narration.URL,
      VisualURL:        visual.URL,
      EstimatedSeconds: seconds,
    }
  }

  if s.notifier != nil {
    s.notifier.RequestStatus(ctx, req, sse.SSEEventRequestAssembling, nil)
  }
  return s.assembler.Assemble(ctx, req.ID, steps)
}

// complete writes the tutorial and marks the request completed in one
// transaction; a cancel flag that lands after assembly loses the race.
func (s *tutorialGenerationService) complete(ctx context.Context, req *types.TutorialRequest, script *types.GenerationScript, result *AssemblyResult) error {
  language := script.Language
  if language == "" {
    language = "en"
  }
  var tutorial *types.Tutorial
  err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
    created, err := s.tutorialRepo.Create(ctx, tx, &types.Tutorial{
      RequestID:       req.ID,
      Title:           script.Title,
      Script:          req.Script,
      VideoURL:        result.VideoURL,
      ThumbnailURL:    result.ThumbnailURL,
      DurationSeconds: result.DurationSeconds,
      Language:        language,
      StepsCount:      len(script.Steps),
    })
    if err != nil {
      return err
    }
    tutorial = created
    ok, err := s.requestRepo.UpdateFieldsUnlessStatus(ctx, tx, req.ID,
      []string{types.RequestStatusCompleted, types.RequestStatusFailed},
      map[string]interface{}{
        "status":    types.RequestStatusCompleted,
        "locked_at": nil,
      })
    if err != nil {
      return err
    }
    if !ok {
      return fmt.Errorf("request %s turned terminal before completion", req.ID)
    }
    return nil
  })
  if err != nil {
    return err
  }
  req.Status = types.RequestStatusCompleted
  // Per-step rows only exist so a reclaim can resume; the finished
  // tutorial carries everything the API serves.
  if err := s.assetRepo.DeleteByRequest(ctx, nil, req.ID); err != nil {
    s.log.Warn("Could not clean up step assets", "requestID", req.ID, "error", err)
  }
  if s.notifier != nil {
    s.notifier.RequestStatus(ctx, req, sse.SSEEventRequestCompleted, map[string]any{"tutorialID": tutorial.ID})
  }
  return nil
}

// failAndRefund settles a permanent failure: one guarded transition to
// failed, and the refund granted in the same transaction at most once.
// Losing the transition race means another worker already settled the row.
func (s *tutorialGenerationService) failAndRefund(ctx context.Context, req *types.TutorialRequest, cause string, failedStep *int, failure error) {
  log := s.log.With("requestID", req.ID, "cause", cause)
  now := time.Now()
  err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
    ok, err := s.requestRepo.UpdateFieldsUnlessStatus(ctx, tx, req.ID,
      []string{types.RequestStatusCompleted, types.RequestStatusFailed},
      map[string]interface{}{
        "status":        types.RequestStatusFailed,
        "cause":         cause,
        "error":         failure.Error(),
        "failed_step":   failedStep,
        "last_error_at": now,
        "locked_at":     nil,
      })
    if err != nil {
      return err
    }
    if !ok {
      return nil
    }
    refunded, err := s.requestRepo.MarkRefunded(ctx, tx, req.ID)
    if err != nil {
      return err
    }
    if refunded {
      if err := s.ledger.Refund(ctx, tx, req.UserID, req.CreditsCharged); err != nil {
        return err
      }
      log.Info("Refunded credits", "amount", req.CreditsCharged)
    }
    req.Status = types.RequestStatusFailed
    req.Cause = cause
    return nil
  })
  if err != nil {
    log.Error("Failed to settle failed request", "error", err)
    return
  }
  if req.Status != types.RequestStatusFailed {
    return
  }
  log.Warn("Tutorial request failed", "error", failure)
  if s.notifier != nil {
    s.notifier.RequestStatus(ctx, req, sse.SSEEventRequestFailed, map[string]any{"error": failure.Error()})
    if balance, err := s.ledger.Balance(ctx, nil, req.UserID); err == nil {
      s.notifier.CreditsChanged(ctx, req.UserID, balance)
    }
  }
}

func (s *tutorialGenerationService) transition(ctx context.Context, req *types.TutorialRequest, status string, event sse.SSEEvent) error {
  ok, err := s.requestRepo.UpdateFieldsUnlessStatus(ctx, nil, req.ID,
    []string{types.RequestStatusCompleted, types.RequestStatusFailed},
    map[string]interface{}{"status": status})
  if err != nil {
    return fmt.Errorf("transition to %s: %w", status, err)
  }
  if !ok {
    return fmt.Errorf("request %s is terminal, cannot enter %s", req.ID, status)
  }
  req.Status = status
  if s.notifier != nil {
    s.notifier.RequestStatus(ctx, req, event, nil)
  }
  return nil
}

func (s *tutorialGenerationService) deviceContext(ctx context.Context, req *types.TutorialRequest) string {
  if req.DeviceID != nil {
    if device, err := s.deviceRepo.GetByID(ctx, nil, *req.DeviceID); err == nil && device != nil {
      if device.Category != "" {
        return fmt.Sprintf("%s %s (%s)", device.Brand, device.Model, device.Category)
      }
      return fmt.Sprintf("%s %s", device.Brand, device.Model)
    }
  }
  return req.DeviceInput
}

func assetKey(stepIndex int, kind string) string {
  return fmt.Sprintf("%d:%s", stepIndex, kind)
}
