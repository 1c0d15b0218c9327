package services

import (
  "context"
  "testing"

  "github.com/google/uuid"

  "github.com/tutoria-app/tutoria-backend/internal/repos"
  "github.com/tutoria-app/tutoria-backend/internal/repos/testutil"
  "github.com/tutoria-app/tutoria-backend/internal/types"
)

func TestDeviceResolver(t *testing.T) {
  db := testutil.SQLiteDB(t)
  log := testutil.Logger(t)
  deviceRepo := repos.NewDeviceRepo(db, log)
  resolver := NewDeviceResolverService(db, log, deviceRepo)

  ctx := context.Background()
  seed := []*types.Device{
    {ID: uuid.New(), Brand: "Bosch", Model: "Serie 6 WAT28400", Category: "washing machine"},
    {ID: uuid.New(), Brand: "Dyson", Model: "V11", Category: "vacuum"},
    {ID: uuid.New(), Brand: "Philips", Model: "HD9650", Category: "airfryer"},
  }
  for _, device := range seed {
    if err := db.Create(device).Error; err != nil {
      t.Fatalf("seed device: %v", err)
    }
  }

  cases := []struct {
    name      string
    input     string
    wantBrand string
    wantOK    bool
  }{
    {"exact brand and model", "My Bosch Serie 6 WAT28400 is leaking", "Bosch", true},
    {"case and punctuation ignored", "dyson v11!!", "Dyson", true},
    {"partial match above threshold", "bosch serie 6 washer not spinning", "Bosch", true},
    {"unknown device", "some ancient toaster", "", false},
    {"empty input", "   ", "", false},
  }

  for _, tc := range cases {
    t.Run(tc.name, func(t *testing.T) {
      device, ok := resolver.Resolve(ctx, nil, tc.input)
      if ok != tc.wantOK {
        t.Fatalf("Resolve(%q) ok = %v, want %v", tc.input, ok, tc.wantOK)
      }
      if !tc.wantOK {
        return
      }
      if device == nil || device.Brand != tc.wantBrand {
        t.Fatalf("Resolve(%q) = %+v, want brand %s", tc.input, device, tc.wantBrand)
      }
    })
  }
}

// Resolution scans the whole catalog, not just the first page: a device
// sorting alphabetically last must still be matched.
func TestDeviceResolverScansFullCatalog(t *testing.T) {
  db := testutil.SQLiteDB(t)
  log := testutil.Logger(t)
  deviceRepo := repos.NewDeviceRepo(db, log)
  resolver := NewDeviceResolverService(db, log, deviceRepo).(*deviceResolverService)
  resolver.pageSize = 2

  ctx := context.Background()
  seed := []*types.Device{
    {ID: uuid.New(), Brand: "Aeg", Model: "L6FBG841", Category: "washing machine"},
    {ID: uuid.New(), Brand: "Bosch", Model: "Serie 4", Category: "dishwasher"},
    {ID: uuid.New(), Brand: "Miele", Model: "WWD320", Category: "washing machine"},
    {ID: uuid.New(), Brand: "Samsung", Model: "RB34", Category: "fridge"},
    {ID: uuid.New(), Brand: "Zanussi", Model: "ZWF81443W", Category: "washing machine"},
  }
  for _, device := range seed {
    if err := db.Create(device).Error; err != nil {
      t.Fatalf("seed device: %v", err)
    }
  }

  device, ok := resolver.Resolve(ctx, nil, "my zanussi zwf81443w stopped draining")
  if !ok || device == nil || device.Brand != "Zanussi" {
    t.Fatalf("Resolve = %+v ok=%v, want the last-page Zanussi", device, ok)
  }
}
