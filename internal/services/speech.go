package services

import (
  "context"
  "fmt"
  "io"
  "net/http"
  "path/filepath"
  "strings"
  "time"

  speech "cloud.google.com/go/speech/apiv1"
  speechpb "cloud.google.com/go/speech/apiv1/speechpb"
  "google.golang.org/grpc/codes"
  "google.golang.org/grpc/status"

  "github.com/tutoria-app/tutoria-backend/internal/logger"
)

// SpeechProviderService transcribes the optional voice note attached to a
// problem report. Transcription is enrichment for analysis, callers treat
// failures as non-fatal.
type SpeechProviderService interface {
  TranscribeURL(ctx context.Context, audioURL string) (string, error)
  Close() error
}

type speechProviderService struct {
  log        *logger.Logger
  client     *speech.Client
  httpClient *http.Client

  maxRetries int
}

func NewSpeechProviderService(log *logger.Logger) (SpeechProviderService, error) {
  if log == nil {
    return nil, fmt.Errorf("logger required")
  }
  slog := log.With("service", "SpeechProviderService")

  ctx := context.Background()
  var c *speech.Client
  var err error
  opts := gcpClientOptions()
  if len(opts) > 0 {
    c, err = speech.NewClient(ctx, opts...)
  } else {
    c, err = speech.NewClient(ctx)
  }
  if err != nil {
    return nil, fmt.Errorf("speech client: %w", err)
  }

  return &speechProviderService{
    log:        slog,
    client:     c,
    httpClient: &http.Client{Timeout: 60 * time.Second},
    maxRetries: 3,
  }, nil
}

func (s *speechProviderService) Close() error {
  if s == nil || s.client == nil {
    return nil
  }
  return s.client.Close()
}

func (s *speechProviderService) TranscribeURL(ctx context.Context, audioURL string) (string, error) {
  ctx, cancel := context.WithTimeout(ctx, 3*time.Minute)
  defer cancel()

  audio, err := s.download(ctx, audioURL)
  if err != nil {
    return "", fmt.Errorf("download audio: %w", err)
  }
  if len(audio) == 0 {
    return "", nil
  }

  req := &speechpb.RecognizeRequest{
    Config: &speechpb.RecognitionConfig{
      LanguageCode:               "en-US",
      EnableAutomaticPunctuation: true,
      Encoding:                   inferSpeechEncoding(audioURL),
    },
    Audio: &speechpb.RecognitionAudio{
      AudioSource: &speechpb.RecognitionAudio_Content{Content: audio},
    },
  }

  var resp *speechpb.RecognizeResponse
  backoff := 1 * time.Second
  for attempt := 0; ; attempt++ {
    resp, err = s.client.Recognize(ctx, req)
    if err == nil {
      break
    }
    if attempt >= s.maxRetries || !isRetryableGRPC(err) {
      return "", fmt.Errorf("speech recognize: %w", err)
    }
    s.log.Warn("Speech recognize retrying", "attempt", attempt+1, "error", err)
    if sErr := sleepCtx(ctx, jitterSleep(backoff)); sErr != nil {
      return "", sErr
    }
    backoff *= 2
  }

  var parts []string
  for _, result := range resp.GetResults() {
    alts := result.GetAlternatives()
    if len(alts) == 0 {
      continue
    }
    if t := strings.TrimSpace(alts[0].GetTranscript()); t != "" {
      parts = append(parts, t)
    }
  }
  return strings.Join(parts, " "), nil
}

func (s *speechProviderService) download(ctx context.Context, url string) ([]byte, error) {
  req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
  if err != nil {
    return nil, err
  }
  resp, err := s.httpClient.Do(req)
  if err != nil {
    return nil, err
  }
  defer resp.Body.Close()
  if resp.StatusCode != http.StatusOK {
    return nil, fmt.Errorf("http %d", resp.StatusCode)
  }
  return io.ReadAll(resp.Body)
}

func inferSpeechEncoding(url string) speechpb.RecognitionConfig_AudioEncoding {
  switch strings.ToLower(filepath.Ext(url)) {
  case ".wav":
    return speechpb.RecognitionConfig_LINEAR16
  case ".flac":
    return speechpb.RecognitionConfig_FLAC
  case ".mp3":
    return speechpb.RecognitionConfig_MP3
  case ".ogg", ".opus":
    return speechpb.RecognitionConfig_OGG_OPUS
  default:
    return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED
  }
}

func isRetryableGRPC(err error) bool {
  st, ok := status.FromError(err)
  if !ok {
    return false
  }
  switch st.Code() {
  case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded, codes.Aborted:
    return true
  }
  return false
}
