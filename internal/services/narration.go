package services

import (
  "bytes"
  "context"
  "fmt"
  "io"
  "net/http"
  "os"
  "strconv"
  "strings"
  "time"

  "encoding/json"

  "github.com/google/uuid"
  "github.com/tutoria-app/tutoria-backend/internal/logger"
)

// NarrationResult is one synthesized clip, already uploaded to the bucket.
type NarrationResult struct {
  URL             string
  DurationSeconds float64
}

// NarrationSynthesizerService turns step narration text into an audio
// asset via ElevenLabs text-to-speech.
type NarrationSynthesizerService interface {
  Synthesize(ctx context.Context, requestID uuid.UUID, stepIndex int, text string) (*NarrationResult, error)
}

type narrationSynthesizerService struct {
  log        *logger.Logger
  baseURL    string
  apiKey     string
  voiceID    string
  modelID    string
  httpClient *http.Client
  bucket     BucketService

  maxRetries int
}

func NewNarrationSynthesizerService(log *logger.Logger, bucket BucketService) (NarrationSynthesizerService, error) {
  apiKey := os.Getenv("ELEVENLABS_API_KEY")
  if apiKey == "" {
    return nil, fmt.Errorf("missing ELEVENLABS_API_KEY")
  }

  baseURL := os.Getenv("ELEVENLABS_BASE_URL")
  if baseURL == "" {
    baseURL = "https://api.elevenlabs.io"
  }

  voiceID := os.Getenv("ELEVENLABS_VOICE_ID")
  if voiceID == "" {
    voiceID = "21m00Tcm4TlvDq8ikWAM"
  }

  modelID := os.Getenv("ELEVENLABS_MODEL_ID")
  if modelID == "" {
    modelID = "eleven_multilingual_v2"
  }

  timeoutSec := 90
  if v := os.Getenv("ELEVENLABS_TIMEOUT_SECONDS"); v != "" {
    if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed > 0 {
      timeoutSec = parsed
    }
  }

  maxRetries := 3
  if v := os.Getenv("ELEVENLABS_MAX_RETRIES"); v != "" {
    if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed >= 0 {
      maxRetries = parsed
    }
  }

  return &narrationSynthesizerService{
    log:        log.With("service", "NarrationSynthesizerService"),
    baseURL:    baseURL,
    apiKey:     apiKey,
    voiceID:    voiceID,
    modelID:    modelID,
    httpClient: &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
    bucket:     bucket,
    maxRetries: maxRetries,
  }, nil
}

type ttsRequest struct {
  Text    string `json:"text"`
  ModelID string `json:"model_id"`
}

func (s *narrationSynthesizerService) Synthesize(ctx context.Context, requestID uuid.UUID, stepIndex int, text string) (*NarrationResult, error) {
  text = strings.TrimSpace(text)
  if text == "" {
    return nil, fmt.Errorf("empty narration text")
  }

  audio, err := s.synthesizeOnceWithRetry(ctx, text)
  if err != nil {
    return nil, err
  }
  if len(audio) == 0 {
    return nil, fmt.Errorf("elevenlabs returned empty audio")
  }

  key := fmt.Sprintf("requests/%s/narration/step_%03d.mp3", requestID, stepIndex)
  if err := s.bucket.UploadFile(ctx, key, "audio/mpeg", bytes.NewReader(audio)); err != nil {
    return nil, fmt.Errorf("upload narration: %w", err)
  }

  return &NarrationResult{
    URL:             s.bucket.GetPublicURL(key),
    DurationSeconds: estimateMP3Seconds(len(audio)),
  }, nil
}

func (s *narrationSynthesizerService) synthesizeOnceWithRetry(ctx context.Context, text string) ([]byte, error) {
  backoff := 1 * time.Second

  for attempt := 0; attempt <= s.maxRetries; attempt++ {
    if ctx.Err() != nil {
      return nil, ctx.Err()
    }

    audio, resp, err := s.doOnce(ctx, text)
    if err == nil {
      return audio, nil
    }
    if !isRetryableErr(err) {
      return nil, err
    }
    if attempt == s.maxRetries {
      return nil, err
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

    s.log.Warn("ElevenLabs request retrying",
      "attempt", attempt+1,
      "max_retries", s.maxRetries,
      "sleep", sleepFor.String(),
      "error", err.Error(),
    )

    if err := sleepCtx(ctx, sleepFor); err != nil {
      return nil, err
    }
    backoff *= 2
  }

  return nil, fmt.Errorf("unreachable retry loop")
}

func (s *narrationSynthesizerService) doOnce(ctx context.Context, text string) ([]byte, *http.Response, error) {
  var buf bytes.Buffer
  if err := json.NewEncoder(&buf).Encode(ttsRequest{Text: text, ModelID: s.modelID}); err != nil {
    return nil, nil, err
  }

  path := fmt.Sprintf("/v1/text-to-speech/%s", s.voiceID)
  req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, &buf)
  if err != nil {
    return nil, nil, err
  }
  req.Header.Set("xi-api-key", s.apiKey)
  req.Header.Set("Content-Type", "application/json")
  req.Header.Set("Accept", "audio/mpeg")

  resp, err := s.httpClient.Do(req)
  if err != nil {
    return nil, nil, err
  }

  raw, readErr := io.ReadAll(resp.Body)
  _ = resp.Body.Close()
  if readErr != nil {
    return nil, resp, readErr
  }

  if resp.StatusCode < 200 || resp.StatusCode >= 300 {
    return nil, resp, &providerHTTPError{Provider: "elevenlabs", StatusCode: resp.StatusCode, Body: string(raw)}
  }
  return raw, resp, nil
}

// estimateMP3Seconds approximates clip length from size at the default
// 128kbps encode. Assembly aligns exact timing against the audio anyway.
func estimateMP3Seconds(sizeBytes int) float64 {
  const bytesPerSecond = 128_000 / 8
  return float64(sizeBytes) / float64(bytesPerSecond)
}
