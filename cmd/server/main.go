package main

import (
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ftlgym/gatecheck/internal/api"
	"github.com/ftlgym/gatecheck/internal/camera"
	"github.com/ftlgym/gatecheck/internal/database"
	"github.com/ftlgym/gatecheck/internal/facematch"
	"github.com/ftlgym/gatecheck/internal/landmark"
	"github.com/ftlgym/gatecheck/internal/logger"
	"github.com/ftlgym/gatecheck/internal/storage"
	"github.com/ftlgym/gatecheck/internal/verification"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	// Missing .env is fine; real deployments set the environment.
	godotenv.Load()

	if err := logger.Init(os.Getenv("DEBUG") == "true"); err != nil {
		log.Fatal("Failed to initialize logger:", err)
	}
	defer logger.Sync()

	port := envOr("PORT", "8080")
	dbPath := envOr("DB_PATH", "./gatecheck.db")
	migrationsPath := envOr("MIGRATIONS_PATH", "./migrations")
	faceAPIURL := envOr("FACE_API_URL", "https://identity.ftlgym.com/api/validate-face")
	faceMeshURL := envOr("FACE_MESH_URL", "http://localhost:9010")
	cameraDevice := envOr("CAMERA_DEVICE", "/dev/video0")
	snapshotDir := envOr("SNAPSHOT_DIR", "./snapshots")

	blinkWait := 60 * time.Second
	if raw := os.Getenv("BLINK_WAIT_SECONDS"); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil {
			logger.Error("invalid BLINK_WAIT_SECONDS", zap.String("value", raw))
			os.Exit(1)
		}
		blinkWait = time.Duration(seconds) * time.Second
	}

	db, err := database.NewDB(database.Config{Path: dbPath})
	if err != nil {
		logger.Error("failed to open database", zap.Error(err))
		os.Exit(1)
	}
	defer db.Close()

	if err := database.NewMigrator(db.Conn()).Run(migrationsPath); err != nil {
		logger.Error("failed to run migrations", zap.Error(err))
		os.Exit(1)
	}

	snapshots, err := storage.NewLocalStorage(snapshotDir)
	if err != nil {
		logger.Error("failed to initialize snapshot storage", zap.Error(err))
		os.Exit(1)
	}

	eventRepo := database.NewEventRepo(db)

	verifier := verification.NewService(
		landmark.NewLoader(landmark.NewMeshClient(faceMeshURL)),
		facematch.NewClient(faceAPIURL),
		func() (camera.FrameSource, error) { return camera.NewDevice(cameraDevice) },
		eventRepo,
		snapshots,
		verification.Config{BlinkWait: blinkWait},
	)

	app := &api.App{
		BookingRepo: database.NewBookingRepo(db),
		CheckinRepo: database.NewCheckinRepo(db),
		EventRepo:   eventRepo,
		StaffRepo:   database.NewStaffRepo(db),
		Verifier:    verifier,
	}

	router := api.NewRouter(app)

	logger.Info("server starting",
		zap.String("port", port),
		zap.String("db_path", dbPath),
		zap.String("face_api", faceAPIURL),
		zap.String("face_mesh", faceMeshURL),
		zap.String("camera", cameraDevice))

	if err := http.ListenAndServe(":"+port, router); err != nil {
		logger.Error("server exited", zap.Error(err))
		os.Exit(1)
	}
}
