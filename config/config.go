package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config stores the application configuration. Values come from environment
// variables (optionally a .env file) with sensible local-dev defaults.
type Config struct {
	ListenAddr string

	FFmpegPath   string
	FFprobePath  string
	AudioBitrate string // e.g., "128k", applied to the opus encode

	// Waveform rendering parameters.
	WaveformWidth  int
	WaveformHeight int
	WaveformColor  string

	// Optional external harmonic analyzer command. Empty disables the stage.
	AnalyzerCommand string

	// Local working directories. The mirror replicates these to the
	// durable store.
	DataDir         string
	RawAudioDir     string // DataDir/audio/raw
	OptimizedDir    string // DataDir/audio/optimized
	WaveformDir     string // DataDir/waveforms
	RawAudioBase    string // URL prefix for raw uploads
	OptimizedBase   string // URL prefix for optimized streams
	WaveformBase    string // URL prefix for waveform images
	KeepRawOnFinish bool   // retain raw uploads after successful processing

	// Transcode retry policy. Only transient failures are retried.
	TranscodeRetryAttempts int
	TranscodeRetryDelay    time.Duration
	TranscodeRetryFactor   int

	// Completion watchdog.
	WatchdogPollInterval time.Duration
	WatchdogTimeout      time.Duration

	// Redis (metadata store, optionally the bus).
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int
	BusBackend    string // "memory" or "redis"

	// MinIO durable store.
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioRegion    string
	MinioUseSSL    bool

	LogLevel string
	LogPath  string
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

// getEnvBool gets an environment variable as bool or returns a default value.
func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return fallback
}

// getEnvDuration gets an environment variable as a duration or returns a
// default value.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// godotenv.Load() will not override variables already set.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on existing environment variables and defaults.")
	}

	dataDir := getEnv("DATA_DIR", "data")

	return &Config{
		ListenAddr: getEnv("LISTEN_ADDR", ":8080"),

		FFmpegPath:   getEnv("FFMPEG_PATH", "ffmpeg"),
		FFprobePath:  getEnv("FFPROBE_PATH", "ffprobe"),
		AudioBitrate: getEnv("AUDIO_BITRATE", "128k"),

		WaveformWidth:  getEnvInt("WAVEFORM_WIDTH", 1200),
		WaveformHeight: getEnvInt("WAVEFORM_HEIGHT", 200),
		WaveformColor:  getEnv("WAVEFORM_COLOR", "#4a90d9"),

		AnalyzerCommand: getEnv("ANALYZER_COMMAND", ""),

		DataDir:         dataDir,
		RawAudioDir:     filepath.Join(dataDir, "audio", "raw"),
		OptimizedDir:    filepath.Join(dataDir, "audio", "optimized"),
		WaveformDir:     filepath.Join(dataDir, "waveforms"),
		RawAudioBase:    getEnv("RAW_AUDIO_BASE", "/static/audio/raw/"),
		OptimizedBase:   getEnv("OPTIMIZED_BASE", "/static/audio/optimized/"),
		WaveformBase:    getEnv("WAVEFORM_BASE", "/static/waveforms/"),
		KeepRawOnFinish: getEnvBool("KEEP_RAW_ON_FINISH", true),

		TranscodeRetryAttempts: getEnvInt("TRANSCODE_RETRY_ATTEMPTS", 5),
		TranscodeRetryDelay:    getEnvDuration("TRANSCODE_RETRY_DELAY", time.Second),
		TranscodeRetryFactor:   getEnvInt("TRANSCODE_RETRY_FACTOR", 3),

		WatchdogPollInterval: getEnvDuration("WATCHDOG_POLL_INTERVAL", 2*time.Second),
		WatchdogTimeout:      getEnvDuration("WATCHDOG_TIMEOUT", 2*time.Minute),

		RedisHost:     getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		BusBackend:    getEnv("BUS_BACKEND", "memory"),

		MinioEndpoint:  getEnv("MINIO_ENDPOINT", "127.0.0.1:9000"),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getEnv("MINIO_BUCKET", "soundclone"),
		MinioRegion:    getEnv("MINIO_REGION", "us-east-1"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogPath:  getEnv("LOG_PATH", ""),
	}
}
