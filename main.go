package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/rs/cors"

	"github.com/camden-git/visionsysbackend/config"
	"github.com/camden-git/visionsysbackend/database"
	"github.com/camden-git/visionsysbackend/handlers"
	"github.com/camden-git/visionsysbackend/media"
	"github.com/camden-git/visionsysbackend/models"
	"github.com/camden-git/visionsysbackend/pipeline"
	"github.com/camden-git/visionsysbackend/realtime"
	"github.com/camden-git/visionsysbackend/repository"
	"github.com/camden-git/visionsysbackend/services"
	"github.com/camden-git/visionsysbackend/workers"
)

func main() {
	err := godotenv.Load()
	if err != nil {
		log.Printf("Info: No .env file found or error loading: %v", err)
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	storagePaths := []string{cfg.SnapshotsPath, cfg.EnrollmentsPath, cfg.ExportsPath, filepath.Dir(cfg.DatabasePath)}
	for _, p := range storagePaths {
		log.Printf("Ensuring storage directory exists: %s", p)
		if err := os.MkdirAll(p, 0755); err != nil {
			log.Fatalf("FATAL: Failed to create storage directory %s: %v", p, err)
		}
	}

	db, err := database.InitGormDB(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize database: %v", err)
	}
	if err := database.AutoMigrateModels(db); err != nil {
		log.Fatalf("FATAL: Failed to migrate database schema: %v", err)
	}

	identityRepo := repository.NewIdentityRepository(db)
	cameraRepo := repository.NewCameraRepository(db)
	eventRepo, err := repository.NewEventRepository(db)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize event repository: %v", err)
	}

	mediaSubDirs := map[media.AssetType]string{
		media.AssetTypeSnapshot:   filepath.Base(cfg.SnapshotsPath),
		media.AssetTypeEnrollment: filepath.Base(cfg.EnrollmentsPath),
		media.AssetTypeExport:     filepath.Base(cfg.ExportsPath),
	}
	mediaStore, err := media.NewLocalStorage(cfg.MediaStoragePath, mediaSubDirs)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize media store: %v", err)
	}
	mediaProcessor := media.NewProcessor(mediaStore)

	detector := media.NewRetinaFaceDetector(cfg.FaceDNNNetModelPath, cfg.FaceDNNNetConfigPath)
	defer detector.Close()
	embedder := media.NewFaceRecognitionModel(cfg.FaceEmbedderModelPath, cfg.FaceEmbedderModelName)
	defer embedder.Close()
	provider, err := media.NewDNNProvider(detector, embedder)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize face pipeline provider: %v", err)
	}

	gate, err := pipeline.NewQualityGate(cfg.QualityConfig())
	if err != nil {
		log.Fatalf("FATAL: Invalid quality configuration: %v", err)
	}
	matcher, err := pipeline.NewMatcher(cfg.MatcherConfig())
	if err != nil {
		log.Fatalf("FATAL: Invalid matcher configuration: %v", err)
	}

	cache := pipeline.NewRegistryCache(&repository.IdentitySnapshotSource{Identities: identityRepo})
	refreshCtx, cancelRefresh := context.WithTimeout(context.Background(), 30*time.Second)
	if err := cache.Refresh(refreshCtx); err != nil {
		log.Printf("WARNING: Initial identity registry load failed, matching starts degraded: %v", err)
	}
	cancelRefresh()
	log.Printf("Identity registry loaded: %d identities", len(cache.Snapshot().Entries))

	hub := realtime.NewHub()
	go hub.Run()

	sink := &repository.PersistingEventSink{
		Events:      eventRepo,
		Identities:  identityRepo,
		Broadcaster: hub,
	}
	queue := pipeline.NewEventQueue(sink, cfg.EventQueueSize)

	supervisorCfg := pipeline.DefaultSupervisorConfig()
	supervisorCfg.Worker = cfg.WorkerConfig()
	supervisorCfg.DedupWindow = cfg.DedupWindow
	supervisorCfg.RefreshDebounce = cfg.RefreshDebounce
	supervisor := pipeline.NewSupervisor(supervisorCfg, provider, gate, matcher, cache, queue,
		mediaProcessor, hub, media.NewSourceFactory())

	duplicateChecker := services.NewDuplicateChecker(identityRepo, cfg.DuplicateSimThreshold)
	if err := duplicateChecker.Rebuild(); err != nil {
		log.Printf("WARNING: Failed to build duplicate index, enrollment duplicate checks start empty: %v", err)
	}

	enrollmentProcessor := workers.NewEnrollmentProcessor(identityRepo, provider, gate, duplicateChecker,
		mediaProcessor, supervisor, cfg.FaceEmbedderModelName, cfg.EnrollmentQueueSize, cfg.NumEnrollmentWorkers)

	seedAndStartCameras(cfg, cameraRepo, supervisor)

	r := chi.NewRouter()

	corsOptions := cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173"}, //TODO: configurable
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}

	corsHandler := cors.New(corsOptions)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(corsHandler.Handler)

	identityHandler := &handlers.IdentityHandler{
		Repo:       identityRepo,
		Enrollment: enrollmentProcessor,
		Checker:    duplicateChecker,
		Notifier:   supervisor,
	}
	cameraHandler := &handlers.CameraHandler{Repo: cameraRepo, Supervisor: supervisor}
	eventHandler := &handlers.EventHandler{Repo: eventRepo}
	statusHandler := &handlers.StatusHandler{Supervisor: supervisor, Cache: cache, StartedAt: time.Now()}

	r.Route("/api", func(r chi.Router) {
		r.Route("/identities", func(r chi.Router) {
			r.Post("/", identityHandler.CreateIdentity)
			r.Get("/", identityHandler.ListIdentities)
			r.Route("/{identity_id}", func(r chi.Router) {
				r.Get("/", identityHandler.GetIdentity)
				r.Put("/", identityHandler.UpdateIdentity)
				r.Delete("/", identityHandler.DeleteIdentity)
				r.Post("/enroll", identityHandler.EnrollPhoto)
				r.Route("/embeddings", func(r chi.Router) {
					r.Get("/", identityHandler.ListEmbeddings)
					r.Delete("/{embedding_id}", identityHandler.DeleteEmbedding)
				})
			})
		})

		r.Route("/cameras", func(r chi.Router) {
			r.Post("/", cameraHandler.CreateCamera)
			r.Get("/", cameraHandler.ListCameras)
			r.Route("/{camera_id}", func(r chi.Router) {
				r.Get("/", cameraHandler.GetCamera)
				r.Put("/", cameraHandler.UpdateCamera)
				r.Delete("/", cameraHandler.DeleteCamera)
				r.Post("/start", cameraHandler.StartCamera)
				r.Post("/stop", cameraHandler.StopCamera)
				r.Post("/restart", cameraHandler.RestartCamera)
			})
		})

		r.Route("/events", func(r chi.Router) {
			r.Get("/", eventHandler.ListEvents)
			r.Delete("/", eventHandler.PurgeEvents)
			r.Get("/summary", eventHandler.SummarizeEvents)
			r.Get("/export", eventHandler.ExportEventsCSV)
			r.Get("/{event_id}", eventHandler.GetEvent)
		})

		r.Get("/status", statusHandler.GetStatus)
		r.Get("/ws", hub.ServeWS)

		snapshotSubDir := filepath.Base(cfg.SnapshotsPath)
		r.Get(fmt.Sprintf("/%s/*", snapshotSubDir), handlers.AssetServer(cfg.MediaStoragePath, snapshotSubDir))
		log.Printf("Registered snapshot server at /%s/*", snapshotSubDir)

		enrollmentSubDir := filepath.Base(cfg.EnrollmentsPath)
		r.Get(fmt.Sprintf("/%s/*", enrollmentSubDir), handlers.AssetServer(cfg.MediaStoragePath, enrollmentSubDir))
		log.Printf("Registered enrollment crop server at /%s/*", enrollmentSubDir)
	})

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	shutdownCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("Server listening on %s", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("FATAL: HTTP server failed: %v", err)
		}
	}()

	<-shutdownCtx.Done()
	log.Println("Shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Error during HTTP server shutdown: %v", err)
	}

	// stop producers before the event queue so nothing is dropped on the way out
	supervisor.StopAll()
	enrollmentProcessor.Stop()
	queue.Stop()
	log.Println("Shutdown complete")
}

// seedAndStartCameras upserts the camera seed file into the database and
// starts workers for all enabled cameras.
func seedAndStartCameras(cfg config.Config, cameraRepo *repository.CameraRepository, supervisor *pipeline.Supervisor) {
	seeds, err := config.LoadCameraSeeds(cfg.CamerasPath)
	if err != nil {
		log.Fatalf("FATAL: Failed to load camera seed file %s: %v", cfg.CamerasPath, err)
	}
	for _, seed := range seeds {
		camera := &models.Camera{
			ID:      seed.ID,
			Name:    seed.Name,
			Source:  seed.Source,
			Enabled: seed.IsEnabled(),
		}
		if err := cameraRepo.UpsertSeed(camera); err != nil {
			log.Printf("Error seeding camera %s: %v", seed.ID, err)
		}
	}
	if len(seeds) > 0 {
		log.Printf("Seeded %d cameras from %s", len(seeds), cfg.CamerasPath)
	}

	enabled, err := cameraRepo.ListEnabled()
	if err != nil {
		log.Printf("Error listing enabled cameras for autostart: %v", err)
		return
	}
	for _, camera := range enabled {
		camCfg := pipeline.CameraConfig{ID: camera.ID, Name: camera.Name, Source: camera.Source}
		startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := supervisor.Start(startCtx, camCfg); err != nil {
			log.Printf("Error starting camera %s (%s): %v", camera.ID, camera.Source, err)
		} else {
			log.Printf("Started camera %s (%s)", camera.ID, camera.Source)
		}
		cancel()
	}
}
