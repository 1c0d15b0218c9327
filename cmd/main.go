package main

import (
  "context"
  "fmt"
  "os"
  "github.com/tutoria-app/tutoria-backend/internal/logger"
  "github.com/tutoria-app/tutoria-backend/internal/utils"
  "github.com/tutoria-app/tutoria-backend/internal/db"
  "github.com/tutoria-app/tutoria-backend/internal/repos"
  "github.com/tutoria-app/tutoria-backend/internal/services"
  "github.com/tutoria-app/tutoria-backend/internal/handlers"
  "github.com/tutoria-app/tutoria-backend/internal/middleware"
  "github.com/tutoria-app/tutoria-backend/internal/server"
  "github.com/tutoria-app/tutoria-backend/internal/sse"
)

func main() {
  // Logger
  logMode := os.Getenv("LOG_MODE")
  if logMode == "" {
    logMode = "development"
  }
  log, err := logger.New(logMode)
  if err != nil {
    fmt.Printf("Failed to init logger: %v\n", err)
    os.Exit(1)
  }
  defer log.Sync()

  // Env
  log.Info("Loading environment variables from main...")
  jwtSecretKey := utils.GetEnv("JWT_SECRET_KEY", "defaultsecret", log)

  // Postgres
  postgresService, err := db.NewPostgresService(log)
  if err != nil {
    log.Error("Postgres init failed", "error", err)
    os.Exit(1)
  }
  if err = postgresService.AutoMigrateAll(); err != nil {
    log.Warn("Postgres auto migration failed", "error", err)
  }
  thePG := postgresService.DB()

  // Repos
  log.Info("Setting up Repos from main...")
  profileRepo := repos.NewProfileRepo(thePG, log)
  deviceRepo := repos.NewDeviceRepo(thePG, log)
  requestRepo := repos.NewTutorialRequestRepo(thePG, log)
  stepAssetRepo := repos.NewStepAssetRepo(thePG, log)
  tutorialRepo := repos.NewTutorialRepo(thePG, log)
  feedbackRepo := repos.NewFeedbackRepo(thePG, log)
  paymentRepo := repos.NewPaymentRepo(thePG, log)

  // SSE
  log.Info("Setting up SSE hub now...")
  sseHub := sse.NewSSEHub(log)
  sseBus, err := services.NewRedisSSEBus(log)
  if err != nil {
    log.Warn("Could not init RedisSSEBus; events stay instance-local", "error", err)
    sseBus = nil
  } else {
    if err := sseBus.StartForwarder(context.Background(), sseHub.Broadcast); err != nil {
      log.Warn("Could not start SSE forwarder", "error", err)
    }
  }

  // Services
  log.Info("Setting up Services from main...")
  bucketService, err := services.NewBucketService(log)
  if err != nil {
    log.Error("Could not init BucketService", "error", err)
    os.Exit(1)
  }
  analyzerService, err := services.NewProblemAnalyzerService(log)
  if err != nil {
    log.Error("Could not init ProblemAnalyzerService", "error", err)
    os.Exit(1)
  }
  narrationService, err := services.NewNarrationSynthesizerService(log, bucketService)
  if err != nil {
    log.Error("Could not init NarrationSynthesizerService", "error", err)
    os.Exit(1)
  }
  visualService, err := services.NewVisualAssetGeneratorService(log, bucketService)
  if err != nil {
    log.Error("Could not init VisualAssetGeneratorService", "error", err)
    os.Exit(1)
  }
  assemblerService := services.NewVideoAssemblerService(log, bucketService)
  speechService, err := services.NewSpeechProviderService(log)
  if err != nil {
    log.Warn("Could not init SpeechProviderService; voice notes skipped", "error", err)
    speechService = nil
  }
  visionService, err := services.NewVisionProviderService(log)
  if err != nil {
    log.Warn("Could not init VisionProviderService; photos skipped", "error", err)
    visionService = nil
  }

  notifierService := services.NewProgressNotifierService(log, sseBus, sseHub)
  ledgerService := services.NewCreditLedgerService(thePG, log, profileRepo)
  resolverService := services.NewDeviceResolverService(thePG, log, deviceRepo)
  requestService := services.NewTutorialRequestService(log, thePG, requestRepo, deviceRepo, ledgerService, resolverService, notifierService)
  tutorialService := services.NewTutorialService(log, thePG, tutorialRepo, requestRepo, feedbackRepo)
  paymentService := services.NewPaymentService(log, thePG, paymentRepo, ledgerService, notifierService)
  generationService := services.NewTutorialGenerationService(
    log,
    thePG,
    requestRepo,
    stepAssetRepo,
    tutorialRepo,
    deviceRepo,
    ledgerService,
    analyzerService,
    narrationService,
    visualService,
    assemblerService,
    speechService,
    visionService,
    notifierService,
  )
  generationService.StartWorker(context.Background())

  // Handlers
  log.Info("Setting up handlers from main...")
  profileHandler := handlers.NewProfileHandler(profileRepo)
  requestHandler := handlers.NewRequestHandler(requestService, tutorialService)
  tutorialHandler := handlers.NewTutorialHandler(tutorialService)
  deviceHandler := handlers.NewDeviceHandler(deviceRepo)
  paymentHandler := handlers.NewPaymentHandler(paymentService)
  sseHandler := handlers.NewSSEHandler(log, sseHub)

  // Middleware
  log.Info("Setting up middleware from main...")
  authMiddleware := middleware.NewAuthMiddleware(log, jwtSecretKey)

  // Router
  log.Info("Setting up router from main...")
  router := server.NewRouter(server.RouterConfig{
    AuthMiddleware:  authMiddleware,
    ProfileHandler:  profileHandler,
    RequestHandler:  requestHandler,
    TutorialHandler: tutorialHandler,
    DeviceHandler:   deviceHandler,
    PaymentHandler:  paymentHandler,
    SSEHandler:      sseHandler,
  })

  port := utils.GetEnv("PORT", "8080", log)
  fmt.Printf("Server listening on :%s\n", port)
  if err := router.Run(":" + port); err != nil {
    log.Error("Server failed", "error", err)
  }
}
