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

  "github.com/google/uuid"
  "github.com/tutoria-app/tutoria-backend/internal/logger"
)

// VisualResult is one generated step visual, mirrored into the bucket so
// assembly never depends on provider-hosted URLs expiring.
type VisualResult struct {
  URL string
}

// VisualAssetGeneratorService produces a per-step image via Replicate
// predictions: create, then poll until the prediction settles.
type VisualAssetGeneratorService interface {
  Generate(ctx context.Context, requestID uuid.UUID, stepIndex int, instruction string, deviceContext string) (*VisualResult, error)
}

type visualAssetGeneratorService struct {
  log        *logger.Logger
  baseURL    string
  apiToken   string
  modelVersion string
  httpClient *http.Client
  bucket     BucketService

  maxRetries   int
  pollInterval time.Duration
  pollDeadline time.Duration
}

func NewVisualAssetGeneratorService(log *logger.Logger, bucket BucketService) (VisualAssetGeneratorService, error) {
  apiToken := os.Getenv("REPLICATE_API_TOKEN")
  if apiToken == "" {
    return nil, fmt.Errorf("missing REPLICATE_API_TOKEN")
  }

  baseURL := os.Getenv("REPLICATE_BASE_URL")
  if baseURL == "" {
    baseURL = "https://api.replicate.com"
  }

  modelVersion := os.Getenv("REPLICATE_MODEL_VERSION")
  if modelVersion == "" {
    modelVersion = "black-forest-labs/flux-schnell"
  }

  maxRetries := 3
  if v := os.Getenv("REPLICATE_MAX_RETRIES"); v != "" {
    if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed >= 0 {
      maxRetries = parsed
    }
  }

  pollDeadlineSec := 300
  if v := os.Getenv("REPLICATE_POLL_DEADLINE_SECONDS"); v != "" {
    if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed > 0 {
      pollDeadlineSec = parsed
    }
  }

  return &visualAssetGeneratorService{
    log:          log.With("service", "VisualAssetGeneratorService"),
    baseURL:      baseURL,
    apiToken:     apiToken,
    modelVersion: modelVersion,
    httpClient:   &http.Client{Timeout: 60 * time.Second},
    bucket:       bucket,
    maxRetries:   maxRetries,
    pollInterval: 2 * time.Second,
    pollDeadline: time.Duration(pollDeadlineSec) * time.Second,
  }, nil
}

type predictionRequest struct {
  Version string         `json:"version"`
  Input   map[string]any `json:"input"`
}

type predictionResponse struct {
  ID     string   `json:"id"`
  Status string   `json:"status"` // starting|processing|succeeded|failed|canceled
  Output []string `json:"output,omitempty"`
  Error  string   `json:"error,omitempty"`
}

func (s *visualAssetGeneratorService) Generate(ctx context.Context, requestID uuid.UUID, stepIndex int, instruction string, deviceContext string) (*VisualResult, error) {
  instruction = strings.TrimSpace(instruction)
  if instruction == "" {
    return nil, fmt.Errorf("empty instruction text")
  }

  prompt := fmt.Sprintf("Clear instructional diagram, single frame, showing: %s", instruction)
  if deviceContext != "" {
    prompt += fmt.Sprintf(". Device: %s", deviceContext)
  }

  outputURL, err := s.generateWithRetry(ctx, prompt)
  if err != nil {
    return nil, err
  }

  key := fmt.Sprintf("requests/%s/visual/step_%03d.png", requestID, stepIndex)
  if err := s.mirror(ctx, outputURL, key); err != nil {
    return nil, fmt.Errorf("mirror visual asset: %w", err)
  }

  return &VisualResult{URL: s.bucket.GetPublicURL(key)}, nil
}

func (s *visualAssetGeneratorService) generateWithRetry(ctx context.Context, prompt string) (string, error) {
  backoff := 1 * time.Second

  for attempt := 0; attempt <= s.maxRetries; attempt++ {
    if ctx.Err() != nil {
      return "", ctx.Err()
    }

    url, err := s.generateOnce(ctx, prompt)
    if err == nil {
      return url, nil
    }
    if !isRetryableErr(err) {
      return "", err
    }
    if attempt == s.maxRetries {
      return "", err
    }

    sleepFor := jitterSleep(backoff)
    if sleepFor > 10*time.Second {
      sleepFor = 10 * time.Second
    }

    s.log.Warn("Replicate prediction retrying",
      "attempt", attempt+1,
      "max_retries", s.maxRetries,
      "sleep", sleepFor.String(),
      "error", err.Error(),
    )

    if err := sleepCtx(ctx, sleepFor); err != nil {
      return "", err
    }
    backoff *= 2
  }

  return "", fmt.Errorf("unreachable retry loop")
}

func (s *visualAssetGeneratorService) generateOnce(ctx context.Context, prompt string) (string, error) {
  created, err := s.createPrediction(ctx, prompt)
  if err != nil {
    return "", err
  }

  deadline := time.Now().Add(s.pollDeadline)
  pred := created
  for {
    switch pred.Status {
    case "succeeded":
      if len(pred.Output) == 0 || pred.Output[0] == "" {
        return "", fmt.Errorf("replicate prediction succeeded with no output")
      }
      return pred.Output[0], nil
    case "failed":
      // Upstream model failures are often capacity blips, let the retry
      // wrapper decide based on the message.
      return "", &providerHTTPError{Provider: "replicate", StatusCode: http.StatusServiceUnavailable, Body: pred.Error}
    case "canceled":
      return "", fmt.Errorf("replicate prediction canceled upstream")
    }

    if time.Now().After(deadline) {
      return "", &providerHTTPError{Provider: "replicate", StatusCode: http.StatusRequestTimeout, Body: "prediction poll deadline exceeded"}
    }
    if err := sleepCtx(ctx, s.pollInterval); err != nil {
      return "", err
    }

    pred, err = s.getPrediction(ctx, pred.ID)
    if err != nil {
      return "", err
    }
  }
}

func (s *visualAssetGeneratorService) createPrediction(ctx context.Context, prompt string) (*predictionResponse, error) {
  body := predictionRequest{
    Version: s.modelVersion,
    Input:   map[string]any{"prompt": prompt},
  }
  var out predictionResponse
  if err := s.doJSON(ctx, http.MethodPost, "/v1/predictions", body, &out); err != nil {
    return nil, err
  }
  if out.ID == "" {
    return nil, fmt.Errorf("replicate returned prediction without id")
  }
  return &out, nil
}

func (s *visualAssetGeneratorService) getPrediction(ctx context.Context, id string) (*predictionResponse, error) {
  var out predictionResponse
  if err := s.doJSON(ctx, http.MethodGet, "/v1/predictions/"+id, nil, &out); err != nil {
    return nil, err
  }
  return &out, nil
}

func (s *visualAssetGeneratorService) doJSON(ctx context.Context, method, path string, body any, out any) error {
  var buf bytes.Buffer
  if body != nil {
    if err := json.NewEncoder(&buf).Encode(body); err != nil {
      return err
    }
  }

  req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, &buf)
  if err != nil {
    return err
  }
  req.Header.Set("Authorization", "Bearer "+s.apiToken)
  req.Header.Set("Content-Type", "application/json")

  resp, err := s.httpClient.Do(req)
  if err != nil {
    return err
  }
  raw, readErr := io.ReadAll(resp.Body)
  _ = resp.Body.Close()
  if readErr != nil {
    return readErr
  }
  if resp.StatusCode < 200 || resp.StatusCode >= 300 {
    return &providerHTTPError{Provider: "replicate", StatusCode: resp.StatusCode, Body: string(raw)}
  }
  if out != nil {
    if uErr := json.Unmarshal(raw, out); uErr != nil {
      return fmt.Errorf("replicate decode error: %w; raw=%s", uErr, string(raw))
    }
  }
  return nil
}

func (s *visualAssetGeneratorService) mirror(ctx context.Context, srcURL, key string) error {
  req, err := http.NewRequestWithContext(ctx, http.MethodGet, srcURL, nil)
  if err != nil {
    return err
  }
  resp, err := s.httpClient.Do(req)
  if err != nil {
    return err
  }
  defer resp.Body.Close()
  if resp.StatusCode != http.StatusOK {
    return fmt.Errorf("download generated asset: http %d", resp.StatusCode)
  }
  return s.bucket.UploadFile(ctx, key, "image/png", resp.Body)
}
