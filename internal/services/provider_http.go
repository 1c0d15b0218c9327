package services

import (
  "context"
  "errors"
  "fmt"
  "math/rand"
  "net"
  "time"
)

// Shared plumbing for the outbound provider clients (analysis, TTS, visual
// generation). Retry classification: 408/429/5xx and network timeouts are
// transient, everything else fails immediately.

type providerHTTPError struct {
  Provider   string
  StatusCode int
  Body       string
}

func (e *providerHTTPError) Error() string {
  return fmt.Sprintf("%s http %d: %s", e.Provider, e.StatusCode, e.Body)
}

func isRetryableHTTP(code int) bool {
  if code == 408 || code == 429 {
    return true
  }
  if code >= 500 && code <= 599 {
    return true
  }
  return false
}

func isRetryableErr(err error) bool {
  if err == nil {
    return false
  }
  if errors.Is(err, context.DeadlineExceeded) {
    return true
  }
  if errors.Is(err, context.Canceled) {
    return false
  }
  var netErr net.Error
  if errors.As(err, &netErr) {
    if netErr.Timeout() {
      return true
    }
  }
  var httpErr *providerHTTPError
  if errors.As(err, &httpErr) {
    return isRetryableHTTP(httpErr.StatusCode)
  }
  return false
}

// jitterSleep spreads a backoff delay by +/- 20% so concurrent step jobs
// don't hammer a rate-limited upstream in lockstep.
func jitterSleep(base time.Duration) time.Duration {
  if base <= 0 {
    return 0
  }
  j := 0.2
  delta := base.Seconds() * j
  low := base.Seconds() - delta
  high := base.Seconds() + delta
  if low < 0 {
    low = 0
  }
  v := low + rand.Float64()*(high-low)
  return time.Duration(v * float64(time.Second))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
  t := time.NewTimer(d)
  defer t.Stop()
  select {
  case <-ctx.Done():
    return ctx.Err()
  case <-t.C:
    return nil
  }
}
