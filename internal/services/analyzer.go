package services

import (
  "bytes"
  "context"
  "encoding/json"
  "fmt"
  "io"
  "net/http"
  "os"
  "strconv"
  "strings"
  "time"

  "github.com/tutoria-app/tutoria-backend/internal/logger"
  "github.com/tutoria-app/tutoria-backend/internal/types"
)

// AnalyzerInput carries everything known about the problem at analysis
// time. Image annotation and audio transcript are optional enrichment; the
// description is the only required field.
type AnalyzerInput struct {
  ProblemDescription string
  DeviceContext      string
  ImageAnnotation    string
  AudioTranscript    string
}

// ProblemAnalyzerService turns a problem report into a GenerationScript
// with at least one step. Errors returned wrap ErrAnalysisFailed; transient
// upstream failures are retried internally and never surface.
type ProblemAnalyzerService interface {
  AnalyzeProblem(ctx context.Context, in AnalyzerInput) (*types.GenerationScript, error)
}

type problemAnalyzerService struct {
  log        *logger.Logger
  baseURL    string
  apiKey     string
  model      string
  httpClient *http.Client

  maxRetries int
}

func NewProblemAnalyzerService(log *logger.Logger) (ProblemAnalyzerService, error) {
  apiKey := os.Getenv("ANTHROPIC_API_KEY")
  if apiKey == "" {
    return nil, fmt.Errorf("missing ANTHROPIC_API_KEY")
  }

  baseURL := os.Getenv("ANTHROPIC_BASE_URL")
  if baseURL == "" {
    baseURL = "https://api.anthropic.com"
  }

  model := os.Getenv("ANTHROPIC_MODEL")
  if model == "" {
    model = "claude-sonnet-4-20250514"
  }

  timeoutSec := 120
  if v := os.Getenv("ANTHROPIC_TIMEOUT_SECONDS"); v != "" {
    if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed > 0 {
      timeoutSec = parsed
    }
  }

  maxRetries := 4
  if v := os.Getenv("ANTHROPIC_MAX_RETRIES"); v != "" {
    if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed >= 0 {
      maxRetries = parsed
    }
  }

  return &problemAnalyzerService{
    log:        log.With("service", "ProblemAnalyzerService"),
    baseURL:    baseURL,
    apiKey:     apiKey,
    model:      model,
    httpClient: &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
    maxRetries: maxRetries,
  }, nil
}

const analyzerSystemPrompt = `You are a repair tutor. Given a malfunctioning
device and a problem description, produce a step-by-step remediation script
as strict JSON:
{"title": string, "language": string, "steps": [{"index": int,
"instruction": string, "narration": string, "estimated_seconds": number}]}
Steps are ordered, index starts at 0. Narration is spoken aloud over a
visual of the instruction, so keep each narration under 40 words. Only
output the JSON object.`

type anthropicMessagesRequest struct {
  Model     string             `json:"model"`
  MaxTokens int                `json:"max_tokens"`
  System    string             `json:"system,omitempty"`
  Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
  Role    string `json:"role"`
  Content string `json:"content"`
}

type anthropicMessagesResponse struct {
  Content []struct {
    Type string `json:"type"`
    Text string `json:"text,omitempty"`
  } `json:"content"`
  StopReason string `json:"stop_reason,omitempty"`
}

func (s *problemAnalyzerService) AnalyzeProblem(ctx context.Context, in AnalyzerInput) (*types.GenerationScript, error) {
  if strings.TrimSpace(in.ProblemDescription) == "" {
    return nil, fmt.Errorf("%w: empty problem description", ErrAnalysisFailed)
  }

  var user strings.Builder
  fmt.Fprintf(&user, "Problem: %s\n", in.ProblemDescription)
  if in.DeviceContext != "" {
    fmt.Fprintf(&user, "Device: %s\n", in.DeviceContext)
  }
  if in.ImageAnnotation != "" {
    fmt.Fprintf(&user, "What the user's photo shows: %s\n", in.ImageAnnotation)
  }
  if in.AudioTranscript != "" {
    fmt.Fprintf(&user, "Transcript of the user's voice note: %s\n", in.AudioTranscript)
  }

  req := anthropicMessagesRequest{
    Model:     s.model,
    MaxTokens: 4096,
    System:    analyzerSystemPrompt,
    Messages: []anthropicMessage{
      {Role: "user", Content: user.String()},
    },
  }

  var resp anthropicMessagesResponse
  if err := s.do(ctx, "/v1/messages", req, &resp); err != nil {
    return nil, fmt.Errorf("%w: %v", ErrAnalysisFailed, err)
  }

  var jsonText string
  for _, block := range resp.Content {
    if block.Type == "text" {
      jsonText += block.Text
    }
  }
  jsonText = strings.TrimSpace(jsonText)
  if jsonText == "" {
    return nil, fmt.Errorf("%w: no text content in response", ErrAnalysisFailed)
  }

  var script types.GenerationScript
  if err := json.Unmarshal([]byte(jsonText), &script); err != nil {
    return nil, fmt.Errorf("%w: malformed script JSON: %v", ErrAnalysisFailed, err)
  }
  if err := validateScript(&script); err != nil {
    return nil, fmt.Errorf("%w: %v", ErrAnalysisFailed, err)
  }
  return &script, nil
}

func validateScript(script *types.GenerationScript) error {
  if len(script.Steps) == 0 {
    return fmt.Errorf("zero steps returned")
  }
  if script.Title == "" {
    return fmt.Errorf("empty title")
  }
  if script.Language == "" {
    script.Language = "en"
  }
  for i := range script.Steps {
    step := &script.Steps[i]
    step.Index = i
    if strings.TrimSpace(step.Instruction) == "" {
      return fmt.Errorf("step %d has empty instruction", i)
    }
    if strings.TrimSpace(step.Narration) == "" {
      return fmt.Errorf("step %d has empty narration", i)
    }
    if step.EstimatedSeconds <= 0 {
      return fmt.Errorf("step %d has non-positive estimated duration", i)
    }
  }
  return nil
}

func (s *problemAnalyzerService) doOnce(ctx context.Context, path string, body any) (*http.Response, []byte, error) {
  var buf bytes.Buffer
  if err := json.NewEncoder(&buf).Encode(body); err != nil {
    return nil, nil, err
  }

  req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, &buf)
  if err != nil {
    return nil, nil, err
  }
  req.Header.Set("x-api-key", s.apiKey)
  req.Header.Set("anthropic-version", "2023-06-01")
  req.Header.Set("Content-Type", "application/json")

  resp, err := s.httpClient.Do(req)
  if err != nil {
    return nil, nil, err
  }

  raw, readErr := io.ReadAll(resp.Body)
  _ = resp.Body.Close()
  if readErr != nil {
    return resp, nil, readErr
  }

  if resp.StatusCode < 200 || resp.StatusCode >= 300 {
    return resp, raw, &providerHTTPError{Provider: "anthropic", StatusCode: resp.StatusCode, Body: string(raw)}
  }
  return resp, raw, nil
}

func (s *problemAnalyzerService) do(ctx context.Context, path string, body any, out any) error {
  backoff := 1 * time.Second

  for attempt := 0; attempt <= s.maxRetries; attempt++ {
    if ctx.Err() != nil {
      return ctx.Err()
    }

    resp, raw, err := s.doOnce(ctx, path, body)
    if err == nil {
      if out == nil {
        return nil
      }
      if uErr := json.Unmarshal(raw, out); uErr != nil {
        return fmt.Errorf("anthropic decode error: %w; raw=%s", uErr, string(raw))
      }
      return nil
    }

    if !isRetryableErr(err) {
      return err
    }
    if attempt == s.maxRetries {
      return err
    }

    sleepFor := backoff
    if resp != nil {
      ra := strings.TrimSpace(resp.Header.Get("Retry-After"))
      if ra != "" {
        if secs, parseErr := strconv.Atoi(ra); parseErr == nil && secs > 0 {
          sleepFor = time.Duration(secs) * time.Second
        }
      }
    }
    if sleepFor > 10*time.Second {
      sleepFor = 10 * time.Second
    }
    sleepFor = jitterSleep(sleepFor)

    s.log.Warn("Anthropic request retrying",
      "path", path,
      "attempt", attempt+1,
      "max_retries", s.maxRetries,
      "sleep", sleepFor.String(),
      "error", err.Error(),
    )

    if err := sleepCtx(ctx, sleepFor); err != nil {
      return err
    }
    backoff *= 2
  }

  return fmt.Errorf("unreachable retry loop")
}
