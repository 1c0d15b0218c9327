package services

import (
  "context"
  "fmt"
  "io"
  "net/http"
  "os"
  "os/exec"
  "path/filepath"
  "strings"
  "time"

  "github.com/google/uuid"
  "github.com/tutoria-app/tutoria-backend/internal/logger"
)

// AssemblyStep is one (visual, narration, duration) triple. Steps arrive
// already ordered by index; the assembler must preserve that order exactly
// and may only stretch per-step timing to cover the narration audio.
type AssemblyStep struct {
  Index            int
  NarrationURL     string
  VisualURL        string
  EstimatedSeconds float64
}

type AssemblyResult struct {
  VideoURL        string
  ThumbnailURL    string
  DurationSeconds float64
}

// VideoAssemblerService renders the finished tutorial with ffmpeg: one
// segment per step (still visual over narration audio), concatenated in
// index order, plus a thumbnail from the first visual. Errors wrap
// ErrAssemblyFailed.
type VideoAssemblerService interface {
  Assemble(ctx context.Context, requestID uuid.UUID, steps []AssemblyStep) (*AssemblyResult, error)
}

type videoAssemblerService struct {
  log        *logger.Logger
  bucket     BucketService
  httpClient *http.Client
  ffmpegPath string
}

func NewVideoAssemblerService(log *logger.Logger, bucket BucketService) VideoAssemblerService {
  return &videoAssemblerService{
    log:        log.With("service", "VideoAssemblerService"),
    bucket:     bucket,
    httpClient: &http.Client{Timeout: 2 * time.Minute},
    ffmpegPath: "ffmpeg",
  }
}

func (s *videoAssemblerService) Assemble(ctx context.Context, requestID uuid.UUID, steps []AssemblyStep) (*AssemblyResult, error) {
  if len(steps) == 0 {
    return nil, fmt.Errorf("%w: no steps to assemble", ErrAssemblyFailed)
  }
  for i, step := range steps {
    if step.Index != i {
      return nil, fmt.Errorf("%w: steps out of order at position %d", ErrAssemblyFailed, i)
    }
    if step.NarrationURL == "" || step.VisualURL == "" {
      return nil, fmt.Errorf("%w: step %d missing assets", ErrAssemblyFailed, i)
    }
  }

  workDir, err := os.MkdirTemp("", "assemble-"+requestID.String())
  if err != nil {
    return nil, fmt.Errorf("%w: temp dir: %v", ErrAssemblyFailed, err)
  }
  defer os.RemoveAll(workDir)

  segmentPaths := make([]string, len(steps))
  var totalSeconds float64
  for i, step := range steps {
    visualPath := filepath.Join(workDir, fmt.Sprintf("visual_%03d.png", i))
    audioPath := filepath.Join(workDir, fmt.Sprintf("narration_%03d.mp3", i))
    if err := s.download(ctx, step.VisualURL, visualPath); err != nil {
      return nil, fmt.Errorf("%w: step %d visual unreadable: %v", ErrAssemblyFailed, i, err)
    }
    if err := s.download(ctx, step.NarrationURL, audioPath); err != nil {
      return nil, fmt.Errorf("%w: step %d narration unreadable: %v", ErrAssemblyFailed, i, err)
    }

    segmentPath := filepath.Join(workDir, fmt.Sprintf("segment_%03d.mp4", i))
    seconds, err := s.renderSegment(ctx, visualPath, audioPath, step.EstimatedSeconds, segmentPath)
    if err != nil {
      return nil, fmt.Errorf("%w: step %d render: %v", ErrAssemblyFailed, i, err)
    }
    segmentPaths[i] = segmentPath
    totalSeconds += seconds
  }

  videoPath := filepath.Join(workDir, "tutorial.mp4")
  if err := s.concat(ctx, segmentPaths, workDir, videoPath); err != nil {
    return nil, fmt.Errorf("%w: concat: %v", ErrAssemblyFailed, err)
  }
  if err := assertNonEmpty(videoPath); err != nil {
    return nil, fmt.Errorf("%w: %v", ErrAssemblyFailed, err)
  }

  thumbPath := filepath.Join(workDir, "thumbnail.jpg")
  if err := s.thumbnail(ctx, videoPath, thumbPath); err != nil {
    return nil, fmt.Errorf("%w: thumbnail: %v", ErrAssemblyFailed, err)
  }

  videoKey := fmt.Sprintf("requests/%s/tutorial.mp4", requestID)
  thumbKey := fmt.Sprintf("requests/%s/thumbnail.jpg", requestID)
  if err := s.upload(ctx, videoPath, videoKey, "video/mp4"); err != nil {
    return nil, fmt.Errorf("%w: upload video: %v", ErrAssemblyFailed, err)
  }
  if err := s.upload(ctx, thumbPath, thumbKey, "image/jpeg"); err != nil {
    return nil, fmt.Errorf("%w: upload thumbnail: %v", ErrAssemblyFailed, err)
  }

  if totalSeconds <= 0 {
    return nil, fmt.Errorf("%w: produced zero-duration artifact", ErrAssemblyFailed)
  }

  return &AssemblyResult{
    VideoURL:        s.bucket.GetPublicURL(videoKey),
    ThumbnailURL:    s.bucket.GetPublicURL(thumbKey),
    DurationSeconds: totalSeconds,
  }, nil
}

// renderSegment loops the still visual over the narration audio. The
// segment runs at least the estimated duration and never cuts audio short.
func (s *videoAssemblerService) renderSegment(ctx context.Context, visualPath, audioPath string, estimatedSeconds float64, outPath string) (float64, error) {
  if estimatedSeconds <= 0 {
    estimatedSeconds = 5
  }
  args := []string{
    "-y",
    "-loop", "1",
    "-i", visualPath,
    "-i", audioPath,
    "-c:v", "libx264",
    "-tune", "stillimage",
    "-pix_fmt", "yuv420p",
    "-c:a", "aac",
    "-shortest",
    "-t", fmt.Sprintf("%.2f", estimatedSeconds),
    outPath,
  }
  cmd := exec.CommandContext(ctx, s.ffmpegPath, args...)
  if out, err := cmd.CombinedOutput(); err != nil {
    return 0, fmt.Errorf("ffmpeg segment failed: %w; out=%s", err, tail(string(out)))
  }
  if err := assertNonEmpty(outPath); err != nil {
    return 0, err
  }
  return estimatedSeconds, nil
}

func (s *videoAssemblerService) concat(ctx context.Context, segments []string, workDir, outPath string) error {
  listPath := filepath.Join(workDir, "segments.txt")
  var list strings.Builder
  for _, segment := range segments {
    fmt.Fprintf(&list, "file '%s'\n", segment)
  }
  if err := os.WriteFile(listPath, []byte(list.String()), 0o644); err != nil {
    return err
  }
  args := []string{
    "-y",
    "-f", "concat",
    "-safe", "0",
    "-i", listPath,
    "-c", "copy",
    outPath,
  }
  cmd := exec.CommandContext(ctx, s.ffmpegPath, args...)
  if out, err := cmd.CombinedOutput(); err != nil {
    return fmt.Errorf("ffmpeg concat failed: %w; out=%s", err, tail(string(out)))
  }
  return nil
}

func (s *videoAssemblerService) thumbnail(ctx context.Context, videoPath, outPath string) error {
  args := []string{
    "-y",
    "-i", videoPath,
    "-ss", "00:00:01",
    "-vframes", "1",
    "-q:v", "3",
    outPath,
  }
  cmd := exec.CommandContext(ctx, s.ffmpegPath, args...)
  if out, err := cmd.CombinedOutput(); err != nil {
    return fmt.Errorf("ffmpeg thumbnail failed: %w; out=%s", err, tail(string(out)))
  }
  return assertNonEmpty(outPath)
}

func (s *videoAssemblerService) download(ctx context.Context, url, outPath string) error {
  req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
  if err != nil {
    return err
  }
  resp, err := s.httpClient.Do(req)
  if err != nil {
    return err
  }
  defer resp.Body.Close()
  if resp.StatusCode != http.StatusOK {
    return fmt.Errorf("http %d", resp.StatusCode)
  }
  f, err := os.Create(outPath)
  if err != nil {
    return err
  }
  defer f.Close()
  _, err = io.Copy(f, resp.Body)
  return err
}

func (s *videoAssemblerService) upload(ctx context.Context, path, key, contentType string) error {
  f, err := os.Open(path)
  if err != nil {
    return err
  }
  defer f.Close()
  return s.bucket.UploadFile(ctx, key, contentType, f)
}

func assertNonEmpty(path string) error {
  info, err := os.Stat(path)
  if err != nil {
    return err
  }
  if info.Size() == 0 {
    return fmt.Errorf("empty artifact %s", filepath.Base(path))
  }
  return nil
}

func tail(s string) string {
  const keep = 512
  if len(s) <= keep {
    return s
  }
  return "..." + s[len(s)-keep:]
}
