package services

import (
  "context"
  "encoding/json"
  "errors"
  "net/http"
  "net/http/httptest"
  "sync/atomic"
  "testing"

  "github.com/tutoria-app/tutoria-backend/internal/repos/testutil"
)

func analyzerWithServer(t *testing.T, handler http.HandlerFunc) ProblemAnalyzerService {
  t.Helper()
  srv := httptest.NewServer(handler)
  t.Cleanup(srv.Close)

  t.Setenv("ANTHROPIC_API_KEY", "test-key")
  t.Setenv("ANTHROPIC_BASE_URL", srv.URL)
  t.Setenv("ANTHROPIC_MAX_RETRIES", "2")

  svc, err := NewProblemAnalyzerService(testutil.Logger(t))
  if err != nil {
    t.Fatalf("NewProblemAnalyzerService: %v", err)
  }
  return svc
}

func anthropicTextResponse(t *testing.T, w http.ResponseWriter, text string) {
  t.Helper()
  payload := map[string]any{
    "content": []map[string]any{{"type": "text", "text": text}},
  }
  w.Header().Set("Content-Type", "application/json")
  if err := json.NewEncoder(w).Encode(payload); err != nil {
    t.Fatalf("encode response: %v", err)
  }
}

func TestAnalyzeProblemParsesScript(t *testing.T) {
  script := `{"title":"Fix the leak","language":"en","steps":[
    {"index":5,"instruction":"Unplug the machine","narration":"First, unplug it.","estimated_seconds":8},
    {"index":9,"instruction":"Check the hose","narration":"Now check the drain hose.","estimated_seconds":12}
  ]}`
  svc := analyzerWithServer(t, func(w http.ResponseWriter, r *http.Request) {
    if r.URL.Path != "/v1/messages" {
      t.Errorf("path = %s", r.URL.Path)
    }
    if r.Header.Get("x-api-key") != "test-key" {
      t.Errorf("missing api key header")
    }
    anthropicTextResponse(t, w, script)
  })

  got, err := svc.AnalyzeProblem(context.Background(), AnalyzerInput{ProblemDescription: "washer leaks"})
  if err != nil {
    t.Fatalf("AnalyzeProblem: %v", err)
  }
  if got.Title != "Fix the leak" || len(got.Steps) != 2 {
    t.Fatalf("script = %+v", got)
  }
  // Step indexes are renumbered to their position regardless of what the
  // model returned.
  for i, step := range got.Steps {
    if step.Index != i {
      t.Fatalf("step %d has index %d", i, step.Index)
    }
  }
}

func TestAnalyzeProblemRetriesRateLimit(t *testing.T) {
  var calls atomic.Int32
  script := `{"title":"Reset the router","steps":[
    {"instruction":"Hold the reset button","narration":"Hold reset for ten seconds.","estimated_seconds":10}
  ]}`
  svc := analyzerWithServer(t, func(w http.ResponseWriter, r *http.Request) {
    if calls.Add(1) == 1 {
      w.Header().Set("Retry-After", "0")
      w.WriteHeader(http.StatusTooManyRequests)
      return
    }
    anthropicTextResponse(t, w, script)
  })

  got, err := svc.AnalyzeProblem(context.Background(), AnalyzerInput{ProblemDescription: "no internet"})
  if err != nil {
    t.Fatalf("AnalyzeProblem: %v", err)
  }
  if calls.Load() != 2 {
    t.Fatalf("calls = %d, want 2", calls.Load())
  }
  if got.Language != "en" {
    t.Fatalf("language default not applied: %q", got.Language)
  }
}

func TestAnalyzeProblemRejectsBadScripts(t *testing.T) {
  cases := []struct {
    name string
    text string
  }{
    {"not json", "sorry, I cannot help with that"},
    {"zero steps", `{"title":"Nothing to do","steps":[]}`},
    {"empty narration", `{"title":"Bad step","steps":[{"instruction":"Do it","narration":"","estimated_seconds":5}]}`},
  }
  for _, tc := range cases {
    t.Run(tc.name, func(t *testing.T) {
      svc := analyzerWithServer(t, func(w http.ResponseWriter, r *http.Request) {
        anthropicTextResponse(t, w, tc.text)
      })
      _, err := svc.AnalyzeProblem(context.Background(), AnalyzerInput{ProblemDescription: "broken"})
      if !errors.Is(err, ErrAnalysisFailed) {
        t.Fatalf("err = %v, want ErrAnalysisFailed", err)
      }
    })
  }
}

func TestAnalyzeProblemNonRetryableFailsFast(t *testing.T) {
  var calls atomic.Int32
  svc := analyzerWithServer(t, func(w http.ResponseWriter, r *http.Request) {
    calls.Add(1)
    w.WriteHeader(http.StatusBadRequest)
  })

  _, err := svc.AnalyzeProblem(context.Background(), AnalyzerInput{ProblemDescription: "broken"})
  if !errors.Is(err, ErrAnalysisFailed) {
    t.Fatalf("err = %v, want ErrAnalysisFailed", err)
  }
  if calls.Load() != 1 {
    t.Fatalf("calls = %d, want 1 (400 is not retryable)", calls.Load())
  }
}
