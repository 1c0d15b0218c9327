package services

import (
  "context"
  "strings"
  "unicode"
  "gorm.io/gorm"
  "github.com/tutoria-app/tutoria-backend/internal/logger"
  "github.com/tutoria-app/tutoria-backend/internal/repos"
  "github.com/tutoria-app/tutoria-backend/internal/types"
)

// DeviceResolverService maps free-text device descriptions onto the Device
// catalog. Resolution is best-effort: an unresolved description is kept as
// device_input and passed through to analysis, never an error.
type DeviceResolverService interface {
  Resolve(ctx context.Context, tx *gorm.DB, input string) (*types.Device, bool)
}

type deviceResolverService struct {
  db         *gorm.DB
  log        *logger.Logger
  deviceRepo repos.DeviceRepo
  pageSize   int
}

func NewDeviceResolverService(db *gorm.DB, baseLog *logger.Logger, deviceRepo repos.DeviceRepo) DeviceResolverService {
  return &deviceResolverService{
    db:         db,
    log:        baseLog.With("service", "DeviceResolverService"),
    deviceRepo: deviceRepo,
    pageSize:   500,
  }
}

func (s *deviceResolverService) Resolve(ctx context.Context, tx *gorm.DB, input string) (*types.Device, bool) {
  tokens := normalizeDeviceTokens(input)
  if len(tokens) == 0 {
    return nil, false
  }

  inputSet := tokenSet(tokens)
  var best *types.Device
  bestScore := 0.0
  // The whole catalog is scanned page by page; an exact containment match
  // short-circuits, otherwise the best fuzzy score across all pages wins.
  for offset := 0; ; offset += s.pageSize {
    devices, err := s.deviceRepo.ListPage(ctx, tx, offset, s.pageSize)
    if err != nil {
      s.log.Warn("Device catalog lookup failed, leaving device unresolved", "error", err)
      return nil, false
    }
    for _, device := range devices {
      catalogTokens := normalizeDeviceTokens(device.Brand + " " + device.Model)
      if len(catalogTokens) == 0 {
        continue
      }
      // Exact containment: every brand+model token appears in the input.
      matched := 0
      for _, tok := range catalogTokens {
        if inputSet[tok] {
          matched++
        }
      }
      if matched == len(catalogTokens) {
        return device, true
      }
      score := float64(matched) / float64(len(catalogTokens))
      if score > bestScore {
        bestScore = score
        best = device
      }
    }
    if len(devices) < s.pageSize {
      break
    }
  }
  // Fuzzy fallback: enough token overlap to be confident.
  if best != nil && bestScore >= 0.6 {
    return best, true
  }
  return nil, false
}

func normalizeDeviceTokens(input string) []string {
  cleaned := strings.Map(func(r rune) rune {
    if unicode.IsLetter(r) || unicode.IsDigit(r) {
      return unicode.ToLower(r)
    }
    return ' '
  }, input)
  return strings.Fields(cleaned)
}

func tokenSet(tokens []string) map[string]bool {
  set := make(map[string]bool, len(tokens))
  for _, tok := range tokens {
    set[tok] = true
  }
  return set
}
