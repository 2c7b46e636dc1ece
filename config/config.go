package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/camden-git/visionsysbackend/pipeline"
)

const (
	DefaultSnapshotsSubDir   = "snapshots"
	DefaultEnrollmentsSubDir = "enrollments"
	DefaultExportsSubDir     = "exports"
)

const (
	defaultEventQueueSize       = 512
	defaultEnrollmentQueueSize  = 50
	defaultNumEnrollmentWorkers = 2
	defaultFrameSkip            = 2
)

type Config struct {
	// http listen address
	ListenAddr string

	// database path
	DatabasePath string

	// media storage configuration
	MediaStoragePath string // primary root for generated assets (event snapshots, enrollment crops, exports)
	SnapshotsPath    string // full-calculated path for detection event snapshots
	EnrollmentsPath  string // full-calculated path for enrollment crops
	ExportsPath      string // full-calculated path for CSV exports

	// camera seed file, optional
	CamerasPath string

	// pipeline settings
	FrameSkip          int
	DedupWindow        time.Duration
	RefreshDebounce    time.Duration
	EventQueueSize     int
	MatchThreshold     float64
	MatchEpsilon       float64
	MetricDirection    pipeline.MetricDirection
	QualityMatching    float64
	QualityEnrollment  float64
	MaxConsecutiveErrs int
	AcquireTimeout     time.Duration
	ProviderTimeout    time.Duration

	// enrollment worker settings
	EnrollmentQueueSize   int
	NumEnrollmentWorkers  int
	DuplicateSimThreshold float64

	// face detection model paths (DNN)
	FaceDNNNetConfigPath  string
	FaceDNNNetModelPath   string
	FaceEmbedderModelPath string
	FaceEmbedderModelName string
}

func getEnvOrDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvIntOrDefault(envVar string, defaultVal int) int {
	valStr := os.Getenv(envVar)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(valStr)
	if err != nil || val <= 0 {
		log.Printf("Warning: Invalid %s '%s'. Using default %d. Error: %v", envVar, valStr, defaultVal, err)
		return defaultVal
	}
	return val
}

func getEnvFloatOrDefault(envVar string, defaultVal float64) float64 {
	valStr := os.Getenv(envVar)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.ParseFloat(valStr, 64)
	if err != nil {
		log.Printf("Warning: Invalid %s '%s'. Using default %f. Error: %v", envVar, valStr, defaultVal, err)
		return defaultVal
	}
	return val
}

func getEnvDurationOrDefault(envVar string, defaultVal time.Duration) time.Duration {
	valStr := os.Getenv(envVar)
	if valStr == "" {
		return defaultVal
	}
	val, err := time.ParseDuration(valStr)
	if err != nil || val <= 0 {
		log.Printf("Warning: Invalid %s '%s'. Using default %s. Error: %v", envVar, valStr, defaultVal, err)
		return defaultVal
	}
	return val
}

func LoadConfig() (Config, error) {
	listenAddr := getEnvOrDefault("LISTEN_ADDR", ":8080")
	dbPath := getEnvOrDefault("DATABASE_PATH", "visionsys.db")

	mediaStorage := getEnvOrDefault("MEDIA_STORAGE_PATH", filepath.Join(".", "media_storage"))
	absMediaStorage, err := filepath.Abs(mediaStorage)
	if err != nil {
		return Config{}, fmt.Errorf("failed to get absolute path for media storage '%s': %w", mediaStorage, err)
	}

	snapshotSubDir := getEnvOrDefault("SNAPSHOTS_SUBDIR", DefaultSnapshotsSubDir)
	absSnapshotsPath := filepath.Join(absMediaStorage, snapshotSubDir)

	enrollmentSubDir := getEnvOrDefault("ENROLLMENTS_SUBDIR", DefaultEnrollmentsSubDir)
	absEnrollmentsPath := filepath.Join(absMediaStorage, enrollmentSubDir)

	exportSubDir := getEnvOrDefault("EXPORTS_SUBDIR", DefaultExportsSubDir)
	absExportsPath := filepath.Join(absMediaStorage, exportSubDir)

	direction := pipeline.MetricDirection(getEnvOrDefault("MATCH_METRIC_DIRECTION", string(pipeline.HigherIsBetter)))

	cfg := Config{
		ListenAddr:       listenAddr,
		DatabasePath:     dbPath,
		MediaStoragePath: absMediaStorage,
		SnapshotsPath:    absSnapshotsPath,
		EnrollmentsPath:  absEnrollmentsPath,
		ExportsPath:      absExportsPath,
		CamerasPath:      getEnvOrDefault("CAMERAS_PATH", "cameras.yaml"),

		FrameSkip:          getEnvIntOrDefault("FRAME_SKIP", defaultFrameSkip),
		DedupWindow:        getEnvDurationOrDefault("DEDUP_WINDOW", 30*time.Second),
		RefreshDebounce:    getEnvDurationOrDefault("CACHE_REFRESH_DEBOUNCE", 2*time.Second),
		EventQueueSize:     getEnvIntOrDefault("EVENT_QUEUE_SIZE", defaultEventQueueSize),
		MatchThreshold:     getEnvFloatOrDefault("MATCH_THRESHOLD", 0.5),
		MatchEpsilon:       getEnvFloatOrDefault("MATCH_EPSILON", 0.01),
		MetricDirection:    direction,
		QualityMatching:    getEnvFloatOrDefault("QUALITY_MATCHING_THRESHOLD", 0.3),
		QualityEnrollment:  getEnvFloatOrDefault("QUALITY_ENROLLMENT_THRESHOLD", 0.6),
		MaxConsecutiveErrs: getEnvIntOrDefault("MAX_CONSECUTIVE_FAILURES", 5),
		AcquireTimeout:     getEnvDurationOrDefault("ACQUIRE_TIMEOUT", 5*time.Second),
		ProviderTimeout:    getEnvDurationOrDefault("PROVIDER_TIMEOUT", 10*time.Second),

		EnrollmentQueueSize:   getEnvIntOrDefault("ENROLLMENT_QUEUE_SIZE", defaultEnrollmentQueueSize),
		NumEnrollmentWorkers:  getEnvIntOrDefault("NUM_ENROLLMENT_WORKERS", defaultNumEnrollmentWorkers),
		DuplicateSimThreshold: getEnvFloatOrDefault("DUPLICATE_SIM_THRESHOLD", 0.92),

		FaceDNNNetConfigPath:  getEnvOrDefault("FACE_DNN_CONFIG_PATH", ""),
		FaceDNNNetModelPath:   getEnvOrDefault("FACE_DNN_MODEL_PATH", "./models/retinaface_mnet025.onnx"),
		FaceEmbedderModelPath: getEnvOrDefault("FACE_EMBEDDER_MODEL_PATH", "./models/arcface_r50.onnx"),
		FaceEmbedderModelName: getEnvOrDefault("FACE_EMBEDDER_MODEL_NAME", "arcface"),
	}

	// direction-tagged thresholds fail fast at startup rather than at the
	// first match
	if err := cfg.MatcherConfig().Validate(); err != nil {
		return Config{}, fmt.Errorf("match configuration: %w", err)
	}
	if err := cfg.QualityConfig().Validate(); err != nil {
		return Config{}, fmt.Errorf("quality configuration: %w", err)
	}

	return cfg, nil
}

// QualityConfig assembles the quality gate configuration from the loaded
// thresholds, keeping the tuned default bands.
func (c Config) QualityConfig() pipeline.QualityConfig {
	qc := pipeline.DefaultQualityConfig()
	qc.MatchingThreshold = c.QualityMatching
	qc.EnrollmentThreshold = c.QualityEnrollment
	return qc
}

// MatcherConfig assembles the matcher configuration.
func (c Config) MatcherConfig() pipeline.MatcherConfig {
	return pipeline.MatcherConfig{
		Direction: c.MetricDirection,
		Threshold: c.MatchThreshold,
		Epsilon:   c.MatchEpsilon,
	}
}

// WorkerConfig assembles the per-camera worker configuration.
func (c Config) WorkerConfig() pipeline.WorkerConfig {
	wc := pipeline.DefaultWorkerConfig()
	wc.FrameSkip = c.FrameSkip
	wc.MaxConsecutiveFailures = c.MaxConsecutiveErrs
	wc.AcquireTimeout = c.AcquireTimeout
	wc.ProviderTimeout = c.ProviderTimeout
	return wc
}
