package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/antoniostano/salut/internal/lipsync"
)

// Config contains all runtime settings for the tutor service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool
	LogLevel         string
	LogFormat        string

	Transport   string
	GeminiKey   string
	Model       string
	Voice       string
	AudioDevice string

	TargetLanguage      string
	InstructionLanguage string

	CaptureFrames     int
	MaxRetries        int
	RetryBackoff      string
	RetryBaseDelay    time.Duration
	RetryMaxDelay     time.Duration
	AcquireRetryDelay time.Duration
	ConnectTimeout    time.Duration
	InactivityTimeout time.Duration

	PlaybackLeadIn   time.Duration
	OutputGain       float64
	AnimationFPS     int
	VisemeThresholds []float64
	VolumeRelease    float64

	ProgressEnabled bool
	ProgressKey     string
	SQLitePath      string
	DatabaseURL     string
	RecordDir       string
}

// LoadDotEnv reads .env files into the environment without overriding
// variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:            envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:    envOrDefault("APP_METRICS_NAMESPACE", "salut"),
		LogLevel:            envOrDefault("APP_LOG_LEVEL", "info"),
		LogFormat:           envOrDefault("APP_LOG_FORMAT", "console"),
		Transport:           strings.ToLower(envOrDefault("SALUT_TRANSPORT", "auto")),
		GeminiKey:           stringsTrimSpace("GEMINI_API_KEY"),
		Model:               envOrDefault("SALUT_MODEL", "gemini-2.5-flash-native-audio-preview-09-2025"),
		Voice:               envOrDefault("SALUT_VOICE", "Kore"),
		AudioDevice:         strings.ToLower(envOrDefault("SALUT_AUDIO_DEVICE", "portaudio")),
		TargetLanguage:      envOrDefault("SALUT_TARGET_LANGUAGE", "French"),
		InstructionLanguage: envOrDefault("SALUT_INSTRUCTION_LANGUAGE", "English"),
		RetryBackoff:        strings.ToLower(envOrDefault("SALUT_RETRY_BACKOFF", "linear")),
		ProgressKey:         envOrDefault("SALUT_PROGRESS_KEY", "salut_french_progress_v1"),
		SQLitePath:          stringsTrimSpace("SALUT_SQLITE_PATH"),
		DatabaseURL:         stringsTrimSpace("DATABASE_URL"),
		RecordDir:           stringsTrimSpace("SALUT_RECORD_DIR"),
		ShutdownTimeout:     15 * time.Second,
		CaptureFrames:       4096,
		MaxRetries:          2,
		RetryBaseDelay:      1500 * time.Millisecond,
		RetryMaxDelay:       10 * time.Second,
		AcquireRetryDelay:   2 * time.Second,
		ConnectTimeout:      20 * time.Second,
		InactivityTimeout:   5 * time.Minute,
		PlaybackLeadIn:      50 * time.Millisecond,
		OutputGain:          1,
		AnimationFPS:        60,
		VolumeRelease:       lipsync.DefaultRelease,
		ProgressEnabled:     true,
	}
	if cfg.GeminiKey == "" {
		cfg.GeminiKey = stringsTrimSpace("GOOGLE_API_KEY")
	}

	var err error
	if cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout); err != nil {
		return Config{}, err
	}
	if cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin); err != nil {
		return Config{}, err
	}
	if cfg.CaptureFrames, err = intFromEnv("SALUT_CAPTURE_FRAMES", cfg.CaptureFrames); err != nil {
		return Config{}, err
	}
	if cfg.MaxRetries, err = intFromEnv("SALUT_MAX_RETRIES", cfg.MaxRetries); err != nil {
		return Config{}, err
	}
	if cfg.RetryBaseDelay, err = durationFromEnv("SALUT_RETRY_BASE_DELAY", cfg.RetryBaseDelay); err != nil {
		return Config{}, err
	}
	if cfg.RetryMaxDelay, err = durationFromEnv("SALUT_RETRY_MAX_DELAY", cfg.RetryMaxDelay); err != nil {
		return Config{}, err
	}
	if cfg.AcquireRetryDelay, err = durationFromEnv("SALUT_ACQUIRE_RETRY_DELAY", cfg.AcquireRetryDelay); err != nil {
		return Config{}, err
	}
	if cfg.ConnectTimeout, err = durationFromEnv("SALUT_CONNECT_TIMEOUT", cfg.ConnectTimeout); err != nil {
		return Config{}, err
	}
	if cfg.InactivityTimeout, err = durationFromEnv("SALUT_SESSION_INACTIVITY_TIMEOUT", cfg.InactivityTimeout); err != nil {
		return Config{}, err
	}
	if cfg.PlaybackLeadIn, err = durationFromEnv("SALUT_PLAYBACK_LEAD_IN", cfg.PlaybackLeadIn); err != nil {
		return Config{}, err
	}
	if cfg.OutputGain, err = floatFromEnv("SALUT_OUTPUT_GAIN", cfg.OutputGain); err != nil {
		return Config{}, err
	}
	if cfg.AnimationFPS, err = intFromEnv("SALUT_ANIMATION_FPS", cfg.AnimationFPS); err != nil {
		return Config{}, err
	}
	if cfg.VolumeRelease, err = floatFromEnv("SALUT_VOLUME_RELEASE", cfg.VolumeRelease); err != nil {
		return Config{}, err
	}
	if cfg.ProgressEnabled, err = boolFromEnv("SALUT_PROGRESS_ENABLED", cfg.ProgressEnabled); err != nil {
		return Config{}, err
	}
	if raw := stringsTrimSpace("SALUT_VISEME_THRESHOLDS"); raw != "" {
		cfg.VisemeThresholds, err = lipsync.ParseThresholds(raw)
		if err != nil {
			return Config{}, fmt.Errorf("SALUT_VISEME_THRESHOLDS parse error: %w", err)
		}
		if _, err := lipsync.NewMapper(cfg.VisemeThresholds); err != nil {
			return Config{}, fmt.Errorf("SALUT_VISEME_THRESHOLDS: %w", err)
		}
	}

	switch cfg.Transport {
	case "auto", "gemini", "mock":
	default:
		return Config{}, fmt.Errorf("SALUT_TRANSPORT must be one of auto, gemini, mock")
	}
	switch cfg.AudioDevice {
	case "portaudio", "null":
	default:
		return Config{}, fmt.Errorf("SALUT_AUDIO_DEVICE must be portaudio or null")
	}
	switch cfg.RetryBackoff {
	case "linear", "exponential":
	default:
		return Config{}, fmt.Errorf("SALUT_RETRY_BACKOFF must be linear or exponential")
	}
	if cfg.Transport == "gemini" && cfg.GeminiKey == "" {
		return Config{}, fmt.Errorf("GEMINI_API_KEY is required when SALUT_TRANSPORT=gemini")
	}
	if cfg.MaxRetries < 0 {
		return Config{}, fmt.Errorf("SALUT_MAX_RETRIES must be >= 0")
	}
	if cfg.CaptureFrames <= 0 {
		return Config{}, fmt.Errorf("SALUT_CAPTURE_FRAMES must be positive")
	}
	if cfg.AnimationFPS <= 0 || cfg.AnimationFPS > 240 {
		return Config{}, fmt.Errorf("SALUT_ANIMATION_FPS must be in 1..240")
	}
	if cfg.VolumeRelease <= 0 || cfg.VolumeRelease > 1 {
		return Config{}, fmt.Errorf("SALUT_VOLUME_RELEASE must be in (0,1]")
	}
	if cfg.OutputGain < 0 {
		return Config{}, fmt.Errorf("SALUT_OUTPUT_GAIN must be >= 0")
	}
	if cfg.InactivityTimeout != 0 && cfg.InactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("SALUT_SESSION_INACTIVITY_TIMEOUT must be 0 or at least 5s")
	}

	return cfg, nil
}

// ResolvedTransport maps "auto" to gemini when an API key is present.
func (c Config) ResolvedTransport() string {
	if c.Transport != "auto" {
		return c.Transport
	}
	if c.GeminiKey != "" {
		return "gemini"
	}
	return "mock"
}

func envOrDefault(key, fallback string) string {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
