package services

import (
  "context"
  "fmt"
  "os"
  "strings"
  "time"

  vision "cloud.google.com/go/vision/v2/apiv1"
  visionpb "cloud.google.com/go/vision/v2/apiv1/visionpb"
  "google.golang.org/api/option"

  "github.com/tutoria-app/tutoria-backend/internal/logger"
)

// VisionProviderService annotates the optional problem photo: object and
// label detection plus any visible text (model numbers, error codes) that
// helps the analyzer. Best-effort like the speech provider.
type VisionProviderService interface {
  AnnotateURL(ctx context.Context, imageURL string) (string, error)
  Close() error
}

type visionProviderService struct {
  log    *logger.Logger
  client *vision.ImageAnnotatorClient
}

func NewVisionProviderService(log *logger.Logger) (VisionProviderService, error) {
  if log == nil {
    return nil, fmt.Errorf("logger required")
  }
  slog := log.With("service", "VisionProviderService")

  ctx := context.Background()
  var c *vision.ImageAnnotatorClient
  var err error
  opts := gcpClientOptions()
  if len(opts) > 0 {
    c, err = vision.NewImageAnnotatorClient(ctx, opts...)
  } else {
    c, err = vision.NewImageAnnotatorClient(ctx)
  }
  if err != nil {
    return nil, fmt.Errorf("vision client: %w", err)
  }

  return &visionProviderService{log: slog, client: c}, nil
}

func (s *visionProviderService) Close() error {
  if s == nil || s.client == nil {
    return nil
  }
  return s.client.Close()
}

func (s *visionProviderService) AnnotateURL(ctx context.Context, imageURL string) (string, error) {
  ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
  defer cancel()

  req := &visionpb.AnnotateImageRequest{
    Image: &visionpb.Image{
      Source: &visionpb.ImageSource{ImageUri: imageURL},
    },
    Features: []*visionpb.Feature{
      {Type: visionpb.Feature_LABEL_DETECTION, MaxResults: 10},
      {Type: visionpb.Feature_TEXT_DETECTION, MaxResults: 1},
    },
  }
  resp, err := s.client.BatchAnnotateImages(ctx, &visionpb.BatchAnnotateImagesRequest{
    Requests: []*visionpb.AnnotateImageRequest{req},
  })
  if err != nil {
    return "", fmt.Errorf("vision annotate: %w", err)
  }
  if len(resp.GetResponses()) == 0 {
    return "", nil
  }
  annotation := resp.GetResponses()[0]
  if e := annotation.GetError(); e != nil {
    return "", fmt.Errorf("vision annotate: %s", e.GetMessage())
  }

  var parts []string
  var labels []string
  for _, label := range annotation.GetLabelAnnotations() {
    if label.GetScore() >= 0.6 {
      labels = append(labels, label.GetDescription())
    }
  }
  if len(labels) > 0 {
    parts = append(parts, "labels: "+strings.Join(labels, ", "))
  }
  if texts := annotation.GetTextAnnotations(); len(texts) > 0 {
    if t := strings.TrimSpace(texts[0].GetDescription()); t != "" {
      parts = append(parts, "visible text: "+strings.Join(strings.Fields(t), " "))
    }
  }
  return strings.Join(parts, "; "), nil
}

// gcpClientOptions resolves credentials for the GCP-backed providers from
// env, preferring inline JSON over a file path.
func gcpClientOptions() []option.ClientOption {
  creds := strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_JSON"))
  if creds == "" {
    creds = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
  }
  opts := []option.ClientOption{}
  if creds == "" {
    return opts
  }
  if strings.HasPrefix(creds, "{") {
    opts = append(opts, option.WithCredentialsJSON([]byte(creds)))
  } else {
    opts = append(opts, option.WithCredentialsFile(creds))
  }
  return opts
}
