package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents runtime configuration sourced from environment variables.
type Config struct {
	ListenAddr       string
	AllowedOrigins   []string
	EnablePrometheus bool
	EnablePprof      bool
	LogLevel         slog.Level
	SysfsRoot        string
	DebugfsRoot      string
	ProcRoot         string
	Sampler          SamplerConfig
	Analysis         AnalysisConfig
	GPU              GPUConfig
	RunsDir          string
	WS               WebsocketConfig
}

// SamplerConfig controls the sample collector and its ring buffer.
type SamplerConfig struct {
	Interval         time.Duration
	BufferCapacity   int
	SubscriberBuffer int
}

// AnalysisConfig holds defaults for live analysis requests.
type AnalysisConfig struct {
	Window         time.Duration
	DefaultProfile string
	ProfilesFile   string
}

// GPUConfig selects the GPU metrics backend.
type GPUConfig struct {
	Backend   string
	NVIDIASMI string
}

// WebsocketConfig captures tunables for WebSocket handling.
type WebsocketConfig struct {
	MaxClients   int
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
}

var gpuBackends = []string{"auto", "amdgpu", "nvidia", "none"}

// Load parses configuration from environment variables, applying defaults.
func Load() (Config, error) {
	cfg := Config{
		ListenAddr:       ":8080",
		AllowedOrigins:   []string{"*"},
		EnablePrometheus: false,
		EnablePprof:      false,
		LogLevel:         slog.LevelInfo,
		SysfsRoot:        "/sys",
		DebugfsRoot:      "/sys/kernel/debug",
		ProcRoot:         "/proc",
		Sampler: SamplerConfig{
			Interval:         time.Second,
			BufferCapacity:   600,
			SubscriberBuffer: 100,
		},
		Analysis: AnalysisConfig{
			Window: 30 * time.Second,
		},
		GPU: GPUConfig{
			Backend:   "auto",
			NVIDIASMI: "nvidia-smi",
		},
		WS: WebsocketConfig{
			MaxClients:   1024,
			WriteTimeout: 3 * time.Second,
			ReadTimeout:  30 * time.Second,
		},
	}

	if value := strings.TrimSpace(os.Getenv("APP_LISTEN_ADDR")); value != "" {
		cfg.ListenAddr = value
	}

	if err := positiveDuration("APP_SAMPLE_INTERVAL", &cfg.Sampler.Interval); err != nil {
		return Config{}, err
	}
	if err := positiveInt("APP_BUFFER_CAPACITY", &cfg.Sampler.BufferCapacity); err != nil {
		return Config{}, err
	}
	if err := positiveInt("APP_SUBSCRIBER_BUFFER", &cfg.Sampler.SubscriberBuffer); err != nil {
		return Config{}, err
	}
	if err := positiveDuration("APP_ANALYSIS_WINDOW", &cfg.Analysis.Window); err != nil {
		return Config{}, err
	}

	cfg.Analysis.DefaultProfile = strings.TrimSpace(os.Getenv("APP_DEFAULT_PROFILE"))
	cfg.Analysis.ProfilesFile = strings.TrimSpace(os.Getenv("APP_PROFILES_FILE"))
	cfg.RunsDir = strings.TrimSpace(os.Getenv("APP_RUNS_DIR"))

	if value := strings.TrimSpace(os.Getenv("APP_GPU_BACKEND")); value != "" {
		backend := strings.ToLower(value)
		valid := false
		for _, candidate := range gpuBackends {
			if backend == candidate {
				valid = true
				break
			}
		}
		if !valid {
			return Config{}, fmt.Errorf("APP_GPU_BACKEND must be one of %s", strings.Join(gpuBackends, ", "))
		}
		cfg.GPU.Backend = backend
	}

	if value := strings.TrimSpace(os.Getenv("APP_NVIDIA_SMI")); value != "" {
		cfg.GPU.NVIDIASMI = value
	}

	if value := strings.TrimSpace(os.Getenv("APP_ALLOWED_ORIGINS")); value != "" {
		origins := splitAndTrim(value, ",")
		if len(origins) == 0 {
			return Config{}, fmt.Errorf("APP_ALLOWED_ORIGINS must not be empty")
		}
		cfg.AllowedOrigins = origins
	}

	if value := strings.TrimSpace(os.Getenv("APP_ENABLE_PROMETHEUS")); value != "" {
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_ENABLE_PROMETHEUS: %w", err)
		}
		cfg.EnablePrometheus = enabled
	}

	if value := strings.TrimSpace(os.Getenv("APP_ENABLE_PPROF")); value != "" {
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_ENABLE_PPROF: %w", err)
		}
		cfg.EnablePprof = enabled
	}

	if value := strings.TrimSpace(os.Getenv("APP_LOG_LEVEL")); value != "" {
		level, err := parseLogLevel(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_LOG_LEVEL: %w", err)
		}
		cfg.LogLevel = level
	}

	if value := strings.TrimSpace(os.Getenv("APP_SYSFS_ROOT")); value != "" {
		cfg.SysfsRoot = value
	}

	if value := strings.TrimSpace(os.Getenv("APP_DEBUGFS_ROOT")); value != "" {
		cfg.DebugfsRoot = value
	}

	if value := strings.TrimSpace(os.Getenv("APP_PROC_ROOT")); value != "" {
		cfg.ProcRoot = value
	}

	if err := positiveInt("APP_WS_MAX_CLIENTS", &cfg.WS.MaxClients); err != nil {
		return Config{}, err
	}
	if err := positiveDuration("APP_WS_WRITE_TIMEOUT", &cfg.WS.WriteTimeout); err != nil {
		return Config{}, err
	}
	if err := positiveDuration("APP_WS_READ_TIMEOUT", &cfg.WS.ReadTimeout); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// positiveDuration overrides dst from key when it is set.
func positiveDuration(key string, dst *time.Duration) error {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return nil
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	if duration <= 0 {
		return fmt.Errorf("%s must be > 0", key)
	}
	*dst = duration
	return nil
}

// positiveInt overrides dst from key when it is set.
func positiveInt(key string, dst *int) error {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	if n <= 0 {
		return fmt.Errorf("%s must be > 0", key)
	}
	*dst = n
	return nil
}

func splitAndTrim(value, sep string) []string {
	raw := strings.Split(value, sep)
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		trimmed := strings.TrimSpace(item)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// ParseLogLevel maps a level name to slog.Level.
func ParseLogLevel(input string) (slog.Level, error) {
	return parseLogLevel(input)
}

func parseLogLevel(input string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(input)) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO":
		return slog.LevelInfo, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unsupported log level %q", input)
	}
}
