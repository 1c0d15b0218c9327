package services

import (
  "context"
  "errors"
  "testing"

  "github.com/google/uuid"

  "github.com/tutoria-app/tutoria-backend/internal/repos/testutil"
)

func TestAssembleRejectsBadInput(t *testing.T) {
  svc := NewVideoAssemblerService(testutil.Logger(t), nil)
  ctx := context.Background()
  requestID := uuid.New()

  cases := []struct {
    name  string
    steps []AssemblyStep
  }{
    {"no steps", nil},
    {
      "out of order",
      []AssemblyStep{
        {Index: 1, NarrationURL: "http://assets/n1", VisualURL: "http://assets/v1"},
        {Index: 0, NarrationURL: "http://assets/n0", VisualURL: "http://assets/v0"},
      },
    },
    {
      "missing narration",
      []AssemblyStep{
        {Index: 0, VisualURL: "http://assets/v0"},
      },
    },
    {
      "missing visual",
      []AssemblyStep{
        {Index: 0, NarrationURL: "http://assets/n0"},
      },
    },
  }

  for _, tc := range cases {
    t.Run(tc.name, func(t *testing.T) {
      _, err := svc.Assemble(ctx, requestID, tc.steps)
      if !errors.Is(err, ErrAssemblyFailed) {
        t.Fatalf("err = %v, want ErrAssemblyFailed", err)
      }
    })
  }
}
