package services

import (
  "context"
  "encoding/json"
  "fmt"
  "sort"
  "sync"
  "testing"

  "github.com/google/uuid"
  "gorm.io/datatypes"
  "gorm.io/gorm"

  "github.com/tutoria-app/tutoria-backend/internal/repos"
  "github.com/tutoria-app/tutoria-backend/internal/repos/testutil"
  "github.com/tutoria-app/tutoria-backend/internal/types"
)

type fakeAnalyzer struct {
  mu     sync.Mutex
  script *types.GenerationScript
  err    error
  calls  int
}

func (f *fakeAnalyzer) AnalyzeProblem(ctx context.Context, in AnalyzerInput) (*types.GenerationScript, error) {
  f.mu.Lock()
  f.calls++
  f.mu.Unlock()
  if f.err != nil {
    return nil, f.err
  }
  return f.script, nil
}

type fakeNarrator struct {
  mu       sync.Mutex
  calls    []int
  failStep int
  onStep   func(ctx context.Context, stepIndex int) error
}

func (f *fakeNarrator) Synthesize(ctx context.Context, requestID uuid.UUID, stepIndex int, text string) (*NarrationResult, error) {
  f.mu.Lock()
  f.calls = append(f.calls, stepIndex)
  hook := f.onStep
  f.mu.Unlock()
  if hook != nil {
    if err := hook(ctx, stepIndex); err != nil {
      return nil, err
    }
  }
  if f.failStep == stepIndex {
    return nil, fmt.Errorf("voice model unavailable")
  }
  return &NarrationResult{
    URL:             fmt.Sprintf("mem://%s/narration/%d.mp3", requestID, stepIndex),
    DurationSeconds: 4,
  }, nil
}

type fakeVisuals struct {
  mu       sync.Mutex
  calls    []int
  failStep int
}

func (f *fakeVisuals) Generate(ctx context.Context, requestID uuid.UUID, stepIndex int, instruction, deviceContext string) (*VisualResult, error) {
  f.mu.Lock()
  f.calls = append(f.calls, stepIndex)
  f.mu.Unlock()
  if f.failStep == stepIndex {
    return nil, fmt.Errorf("prediction failed")
  }
  return &VisualResult{URL: fmt.Sprintf("mem://%s/visual/%d.png", requestID, stepIndex)}, nil
}

type fakeAssembler struct {
  mu    sync.Mutex
  steps []AssemblyStep
  err   error
}

func (f *fakeAssembler) Assemble(ctx context.Context, requestID uuid.UUID, steps []AssemblyStep) (*AssemblyResult, error) {
  f.mu.Lock()
  f.steps = steps
  f.mu.Unlock()
  if f.err != nil {
    return nil, f.err
  }
  var total float64
  for _, step := range steps {
    total += step.EstimatedSeconds
  }
  return &AssemblyResult{
    VideoURL:        fmt.Sprintf("mem://%s/tutorial.mp4", requestID),
    ThumbnailURL:    fmt.Sprintf("mem://%s/thumbnail.jpg", requestID),
    DurationSeconds: total,
  }, nil
}

type pipelineFixture struct {
  db        *gorm.DB
  requests  repos.TutorialRequestRepo
  assets    repos.StepAssetRepo
  tutorials repos.TutorialRepo
  profiles  repos.ProfileRepo
  ledger    CreditLedgerService
  analyzer  *fakeAnalyzer
  narrator  *fakeNarrator
  visuals   *fakeVisuals
  assembler *fakeAssembler
  svc       *tutorialGenerationService
}

func threeStepScript() *types.GenerationScript {
  return &types.GenerationScript{
    Title:    "Fix the washing machine",
    Language: "en",
    Steps: []types.ScriptStep{
      {Index: 0, Instruction: "Unplug the machine", Narration: "First, unplug it.", EstimatedSeconds: 6},
      {Index: 1, Instruction: "Open the filter hatch", Narration: "Open the hatch at the bottom.", EstimatedSeconds: 9},
      {Index: 2, Instruction: "Clean the filter", Narration: "Rinse the filter and refit it.", EstimatedSeconds: 12},
    },
  }
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
  t.Helper()
  db := testutil.SQLiteDB(t)
  log := testutil.Logger(t)

  f := &pipelineFixture{
    db:        db,
    requests:  repos.NewTutorialRequestRepo(db, log),
    assets:    repos.NewStepAssetRepo(db, log),
    tutorials: repos.NewTutorialRepo(db, log),
    profiles:  repos.NewProfileRepo(db, log),
    analyzer:  &fakeAnalyzer{script: threeStepScript()},
    narrator:  &fakeNarrator{failStep: -1},
    visuals:   &fakeVisuals{failStep: -1},
    assembler: &fakeAssembler{},
  }
  f.ledger = NewCreditLedgerService(db, log, f.profiles)

  deviceRepo := repos.NewDeviceRepo(db, log)
  svc := NewTutorialGenerationService(
    log, db,
    f.requests, f.assets, f.tutorials, deviceRepo,
    f.ledger,
    f.analyzer, f.narrator, f.visuals, f.assembler,
    nil, nil, nil,
  )
  f.svc = svc.(*tutorialGenerationService)
  return f
}

// seedChargedRequest creates a user whose intake debit already happened and
// the charged pending request that debit paid for.
func (f *pipelineFixture) seedChargedRequest(t *testing.T, creditsLeft int) *types.TutorialRequest {
  t.Helper()
  ctx := context.Background()
  userID := uuid.New()
  if _, err := f.profiles.Create(ctx, nil, &types.Profile{
    ID:      userID,
    Email:   fmt.Sprintf("%s@example.com", userID),
    Credits: creditsLeft,
  }); err != nil {
    t.Fatalf("create profile: %v", err)
  }
  request, err := f.requests.Create(ctx, nil, &types.TutorialRequest{
    UserID:             userID,
    ProblemDescription: "washing machine leaks from the bottom",
    Status:             types.RequestStatusPending,
    CreditsCharged:     1,
  })
  if err != nil {
    t.Fatalf("create request: %v", err)
  }
  return request
}

func (f *pipelineFixture) reload(t *testing.T, id uuid.UUID) *types.TutorialRequest {
  t.Helper()
  request, err := f.requests.GetByID(context.Background(), nil, id)
  if err != nil || request == nil {
    t.Fatalf("reload request: %v", err)
  }
  return request
}

func (f *pipelineFixture) balance(t *testing.T, userID uuid.UUID) int {
  t.Helper()
  balance, err := f.ledger.Balance(context.Background(), nil, userID)
  if err != nil {
    t.Fatalf("balance: %v", err)
  }
  return balance
}

func TestPipelineCompletes(t *testing.T) {
  f := newPipelineFixture(t)
  request := f.seedChargedRequest(t, 2)

  f.svc.process(context.Background(), request)

  got := f.reload(t, request.ID)
  if got.Status != types.RequestStatusCompleted {
    t.Fatalf("status = %s (cause=%s error=%s)", got.Status, got.Cause, got.Error)
  }
  if got.CreditsRefunded {
    t.Fatalf("completed request must not be refunded")
  }
  if f.balance(t, request.UserID) != 2 {
    t.Fatalf("balance changed on success")
  }

  tutorial, err := f.tutorials.GetByRequestID(context.Background(), nil, request.ID)
  if err != nil || tutorial == nil {
    t.Fatalf("tutorial not created: %v", err)
  }
  if tutorial.StepsCount != 3 || tutorial.Title != "Fix the washing machine" {
    t.Fatalf("tutorial = %+v", tutorial)
  }
  if tutorial.VideoURL == "" || tutorial.DurationSeconds <= 0 {
    t.Fatalf("tutorial missing artifacts: %+v", tutorial)
  }

  // Per-step rows are cleaned up once the tutorial exists.
  assets, err := f.assets.GetByRequest(context.Background(), nil, request.ID)
  if err != nil {
    t.Fatalf("assets: %v", err)
  }
  if len(assets) != 0 {
    t.Fatalf("got %d leftover assets, want 0", len(assets))
  }

  // Segments reach the assembler in step order even though the fan-out
  // finishes them in arbitrary order.
  if len(f.assembler.steps) != 3 {
    t.Fatalf("assembler got %d steps", len(f.assembler.steps))
  }
  for i, step := range f.assembler.steps {
    if step.Index != i {
      t.Fatalf("assembly step %d has index %d", i, step.Index)
    }
    if step.NarrationURL == "" || step.VisualURL == "" {
      t.Fatalf("assembly step %d missing assets: %+v", i, step)
    }
  }
}

func TestPipelineAnalysisFailureRefundsOnce(t *testing.T) {
  f := newPipelineFixture(t)
  f.analyzer.err = fmt.Errorf("%w: zero steps returned", ErrAnalysisFailed)
  request := f.seedChargedRequest(t, 0)

  f.svc.process(context.Background(), request)

  got := f.reload(t, request.ID)
  if got.Status != types.RequestStatusFailed || got.Cause != types.CauseAnalysisFailed {
    t.Fatalf("status=%s cause=%s", got.Status, got.Cause)
  }
  if !got.CreditsRefunded {
    t.Fatalf("failed request must be refunded")
  }
  if f.balance(t, request.UserID) != 1 {
    t.Fatalf("balance = %d, want 1", f.balance(t, request.UserID))
  }

  // A second settle attempt on the already-terminal row grants nothing.
  f.svc.failAndRefund(context.Background(), got, types.CauseInternalError, nil, fmt.Errorf("replayed settle"))
  if f.balance(t, request.UserID) != 1 {
    t.Fatalf("double refund: balance = %d", f.balance(t, request.UserID))
  }
  again := f.reload(t, request.ID)
  if again.Cause != types.CauseAnalysisFailed {
    t.Fatalf("terminal cause rewritten to %s", again.Cause)
  }
}

func TestPipelineStepFailureRecordsIndex(t *testing.T) {
  f := newPipelineFixture(t)
  f.visuals.failStep = 1
  request := f.seedChargedRequest(t, 0)

  f.svc.process(context.Background(), request)

  got := f.reload(t, request.ID)
  if got.Status != types.RequestStatusFailed || got.Cause != types.CauseGenerationFailed {
    t.Fatalf("status=%s cause=%s", got.Status, got.Cause)
  }
  if got.FailedStep == nil || *got.FailedStep != 1 {
    t.Fatalf("failed_step = %v, want 1", got.FailedStep)
  }
  if !got.CreditsRefunded || f.balance(t, request.UserID) != 1 {
    t.Fatalf("refund not settled")
  }
}

func TestPipelineAssemblyFailureRefunds(t *testing.T) {
  f := newPipelineFixture(t)
  f.assembler.err = fmt.Errorf("%w: produced zero-duration artifact", ErrAssemblyFailed)
  request := f.seedChargedRequest(t, 0)

  f.svc.process(context.Background(), request)

  got := f.reload(t, request.ID)
  if got.Status != types.RequestStatusFailed || got.Cause != types.CauseAssemblyFailed {
    t.Fatalf("status=%s cause=%s", got.Status, got.Cause)
  }
  if !got.CreditsRefunded {
    t.Fatalf("refund not settled")
  }
}

func TestPipelineCancelledBeforeStart(t *testing.T) {
  f := newPipelineFixture(t)
  request := f.seedChargedRequest(t, 0)
  request.CancelRequested = true

  f.svc.process(context.Background(), request)

  got := f.reload(t, request.ID)
  if got.Status != types.RequestStatusFailed || got.Cause != types.CauseCancelled {
    t.Fatalf("status=%s cause=%s", got.Status, got.Cause)
  }
  if !got.CreditsRefunded || f.balance(t, request.UserID) != 1 {
    t.Fatalf("cancelled request must be refunded")
  }
  if f.analyzer.calls != 0 {
    t.Fatalf("analyzer called for a cancelled request")
  }
}

// A cancel flag that lands while the fan-out is running is picked up by
// the lease watcher: in-flight jobs are cut off and the refund settles.
func TestPipelineCancelMidGeneration(t *testing.T) {
  t.Setenv("WORKER_HEARTBEAT_SECONDS", "1")
  f := newPipelineFixture(t)
  request := f.seedChargedRequest(t, 0)
  ctx := context.Background()

  var flagOnce sync.Once
  f.narrator.onStep = func(stepCtx context.Context, stepIndex int) error {
    flagOnce.Do(func() {
      ok, err := f.requests.RequestCancel(ctx, nil, request.ID, request.UserID)
      if err != nil || !ok {
        t.Errorf("RequestCancel: ok=%v err=%v", ok, err)
      }
    })
    // Narration hangs until the watcher cancels the pipeline context.
    <-stepCtx.Done()
    return stepCtx.Err()
  }

  f.svc.process(ctx, request)

  got := f.reload(t, request.ID)
  if got.Status != types.RequestStatusFailed || got.Cause != types.CauseCancelled {
    t.Fatalf("status=%s cause=%s", got.Status, got.Cause)
  }
  if !got.CreditsRefunded || f.balance(t, request.UserID) != 1 {
    t.Fatalf("cancelled request must be refunded")
  }
}

// A reclaimed request reuses the persisted script and finished assets;
// only the unfinished work runs again.
func TestPipelineReclaimReusesAssets(t *testing.T) {
  f := newPipelineFixture(t)
  request := f.seedChargedRequest(t, 0)
  ctx := context.Background()

  raw, _ := json.Marshal(threeStepScript())
  if _, err := f.requests.UpdateFieldsUnlessStatus(ctx, nil, request.ID, nil, map[string]interface{}{
    "status": types.RequestStatusGenerating,
    "script": datatypes.JSON(raw),
  }); err != nil {
    t.Fatalf("persist script: %v", err)
  }
  for _, kind := range []string{types.StepAssetKindNarration, types.StepAssetKindVisual} {
    if err := f.assets.Upsert(ctx, nil, &types.StepAsset{
      RequestID:       request.ID,
      StepIndex:       0,
      Kind:            kind,
      URL:             fmt.Sprintf("mem://%s/%s/0", request.ID, kind),
      DurationSeconds: 4,
    }); err != nil {
      t.Fatalf("seed asset: %v", err)
    }
  }

  f.svc.process(ctx, f.reload(t, request.ID))

  got := f.reload(t, request.ID)
  if got.Status != types.RequestStatusCompleted {
    t.Fatalf("status = %s (cause=%s error=%s)", got.Status, got.Cause, got.Error)
  }
  if f.analyzer.calls != 0 {
    t.Fatalf("analysis re-ran for a request with a persisted script")
  }
  sort.Ints(f.narrator.calls)
  sort.Ints(f.visuals.calls)
  if len(f.narrator.calls) != 2 || f.narrator.calls[0] != 1 || f.narrator.calls[1] != 2 {
    t.Fatalf("narrator calls = %v, want [1 2]", f.narrator.calls)
  }
  if len(f.visuals.calls) != 2 || f.visuals.calls[0] != 1 || f.visuals.calls[1] != 2 {
    t.Fatalf("visual calls = %v, want [1 2]", f.visuals.calls)
  }
}
