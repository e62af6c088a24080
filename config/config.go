package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cockroachdb/apd/v3"
	"gopkg.in/yaml.v3"
)

// Config holds service configuration derived from environment variables and
// an optional YAML/JSON config file.
type Config struct {
	InputDir      string
	OutputDir     string
	WorkDir       string
	DBPath        string
	WorkerCount   int
	JobQueueSize  int
	JobTimeoutSec int
	Watch         bool
	StrictConfig  bool
	Adjust        AdjustConfig
}

type fileConfig struct {
	InputDir  string           `json:"input_dir" yaml:"input_dir"`
	OutputDir string           `json:"output_dir" yaml:"output_dir"`
	WorkDir   string           `json:"work_dir" yaml:"work_dir"`
	DBPath    string           `json:"db_path" yaml:"db_path"`
	Adjust    adjustFileConfig `json:"adjust" yaml:"adjust"`
}

const (
	defaultInputDir      = "runtime/planilhas"
	defaultWorkDir       = "runtime/work"
	defaultDBFile        = "calibration.db"
	minQueueSize         = 1
	defaultQueueSize     = 100
	maxQueueSize         = 1024
	defaultWorkerCount   = 4
	defaultJobTimeoutSec = 300
)

// AdjustConfig captures the numeric search settings. Decimal values stay as
// strings so no precision is lost before they reach the evaluator.
type AdjustConfig struct {
	TargetTime      string
	BandMin         string
	BandMax         string
	Tolerance       string
	PrecisionDigits int
	MaxIterations   int
	Strategy        string
	TimeStep        string
	MasterIndex     int
}

type adjustFileConfig struct {
	TargetTime      string `json:"target_time" yaml:"target_time"`
	BandMin         string `json:"band_min" yaml:"band_min"`
	BandMax         string `json:"band_max" yaml:"band_max"`
	Tolerance       string `json:"tolerance" yaml:"tolerance"`
	PrecisionDigits *int   `json:"precision_digits" yaml:"precision_digits"`
	MaxIterations   *int   `json:"max_iterations" yaml:"max_iterations"`
	Strategy        string `json:"strategy" yaml:"strategy"`
	TimeStep        string `json:"time_step" yaml:"time_step"`
	MasterIndex     *int   `json:"master_index" yaml:"master_index"`
}

func defaultAdjustConfig() AdjustConfig {
	return AdjustConfig{
		TargetTime:      "240",
		BandMin:         "239.6",
		BandMax:         "240.4",
		Tolerance:       "1e-10",
		PrecisionDigits: 50,
		MaxIterations:   10000,
		Strategy:        "descent",
		TimeStep:        "0.1",
		MasterIndex:     0,
	}
}

// Load reads configuration from environment variables and applies sane defaults.
func Load() (Config, error) {
	cfg := Config{
		WorkerCount:   defaultWorkerCount,
		JobQueueSize:  defaultQueueSize,
		JobTimeoutSec: defaultJobTimeoutSec,
		Watch:         parseBoolEnv("WATCH"),
		StrictConfig:  parseBoolEnv("STRICT_CONFIG"),
	}

	configPath := getEnv("CONFIG_PATH", filepath.Join("config", "config.yaml"))
	fileCfg, fileErr := loadFileConfig(configPath)
	if fileErr != nil {
		if cfg.StrictConfig {
			return cfg, fmt.Errorf("config load failed (%s): %w", configPath, fileErr)
		}
		log.Printf("config load failed (%s): %v (using defaults)", configPath, fileErr)
	}

	cfg.Adjust = applyAdjustOverrides(defaultAdjustConfig(), fileCfg.Adjust)

	cfg.InputDir = firstNonEmpty(os.Getenv("INPUT_DIR"), fileCfg.InputDir, defaultInputDir)
	cfg.OutputDir = firstNonEmpty(os.Getenv("OUTPUT_DIR"), fileCfg.OutputDir)
	cfg.WorkDir = firstNonEmpty(os.Getenv("WORK_DIR"), fileCfg.WorkDir, defaultWorkDir)
	if dbPath := os.Getenv("DB_PATH"); dbPath != "" {
		cfg.DBPath = dbPath
	} else if fileCfg.DBPath != "" {
		cfg.DBPath = fileCfg.DBPath
	} else {
		cfg.DBPath = filepath.Join(cfg.WorkDir, defaultDBFile)
	}

	if v := os.Getenv("WORKER_COUNT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			log.Printf("invalid WORKER_COUNT=%q, using default %d", v, defaultWorkerCount)
			n = defaultWorkerCount
		}
		if n <= 0 {
			log.Printf("WORKER_COUNT must be positive, using default %d", defaultWorkerCount)
			n = defaultWorkerCount
		}
		cfg.WorkerCount = n
	}

	if v := os.Getenv("JOB_QUEUE_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			log.Printf("invalid JOB_QUEUE_SIZE=%q, using default %d", v, defaultQueueSize)
			n = defaultQueueSize
		}
		if n < minQueueSize {
			log.Printf("JOB_QUEUE_SIZE raised to minimum %d (was %d)", minQueueSize, n)
			n = minQueueSize
		}
		if n > maxQueueSize {
			log.Printf("JOB_QUEUE_SIZE capped at %d (was %d)", maxQueueSize, n)
			n = maxQueueSize
		}
		cfg.JobQueueSize = n
	}

	if cfg.JobQueueSize < cfg.WorkerCount {
		log.Printf("JOB_QUEUE_SIZE must be >= WORKER_COUNT; using default %d", defaultQueueSize)
		cfg.JobQueueSize = max(defaultQueueSize, cfg.WorkerCount)
	}

	if v := os.Getenv("JOB_TIMEOUT_SEC"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid JOB_TIMEOUT_SEC: %w", err)
		}
		if n <= 0 {
			return cfg, fmt.Errorf("JOB_TIMEOUT_SEC must be positive")
		}
		cfg.JobTimeoutSec = n
	}

	if v := strings.TrimSpace(os.Getenv("ADJUST_TARGET_TIME")); v != "" {
		cfg.Adjust.TargetTime = v
	}
	if v := strings.TrimSpace(os.Getenv("ADJUST_BAND_MIN")); v != "" {
		cfg.Adjust.BandMin = v
	}
	if v := strings.TrimSpace(os.Getenv("ADJUST_BAND_MAX")); v != "" {
		cfg.Adjust.BandMax = v
	}
	if v := strings.TrimSpace(os.Getenv("ADJUST_TOLERANCE")); v != "" {
		cfg.Adjust.Tolerance = v
	}
	if v := strings.TrimSpace(os.Getenv("ADJUST_TIME_STEP")); v != "" {
		cfg.Adjust.TimeStep = v
	}
	if v := strings.TrimSpace(os.Getenv("ADJUST_STRATEGY")); v != "" {
		cfg.Adjust.Strategy = v
	}
	if v, ok, err := parseIntEnv("ADJUST_PRECISION_DIGITS"); err != nil {
		if cfg.StrictConfig {
			return cfg, fmt.Errorf("invalid ADJUST_PRECISION_DIGITS: %w", err)
		}
		log.Printf("invalid ADJUST_PRECISION_DIGITS: %v (using default)", err)
	} else if ok && v > 0 {
		cfg.Adjust.PrecisionDigits = v
	}
	if v, ok, err := parseIntEnv("ADJUST_MAX_ITERATIONS"); err != nil {
		if cfg.StrictConfig {
			return cfg, fmt.Errorf("invalid ADJUST_MAX_ITERATIONS: %w", err)
		}
		log.Printf("invalid ADJUST_MAX_ITERATIONS: %v (using default)", err)
	} else if ok && v > 0 {
		cfg.Adjust.MaxIterations = v
	}
	if v, ok, err := parseIntEnv("ADJUST_MASTER_INDEX"); err != nil {
		if cfg.StrictConfig {
			return cfg, fmt.Errorf("invalid ADJUST_MASTER_INDEX: %w", err)
		}
		log.Printf("invalid ADJUST_MASTER_INDEX: %v (using default)", err)
	} else if ok && v >= 0 {
		cfg.Adjust.MasterIndex = v
	}

	if err := validateConfig(cfg); err != nil {
		if cfg.StrictConfig {
			return cfg, err
		}
		log.Printf("config validation failed: %v (continuing)", err)
	}

	return cfg, nil
}

func loadFileConfig(path string) (fileConfig, error) {
	var cfg fileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if len(data) == 0 {
		return cfg, errors.New("empty config file")
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

func validateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.InputDir) == "" {
		return errors.New("INPUT_DIR is required")
	}
	a := cfg.Adjust
	for _, d := range []struct{ name, value string }{
		{"target_time", a.TargetTime},
		{"band_min", a.BandMin},
		{"band_max", a.BandMax},
		{"tolerance", a.Tolerance},
		{"time_step", a.TimeStep},
	} {
		if _, _, err := apd.NewFromString(d.value); err != nil {
			return fmt.Errorf("adjust %s: bad decimal %q", d.name, d.value)
		}
	}
	min, _, _ := apd.NewFromString(a.BandMin)
	max, _, _ := apd.NewFromString(a.BandMax)
	target, _, _ := apd.NewFromString(a.TargetTime)
	if min.Cmp(max) > 0 {
		return fmt.Errorf("adjust band_min %s exceeds band_max %s", a.BandMin, a.BandMax)
	}
	if target.Cmp(min) < 0 || target.Cmp(max) > 0 {
		return fmt.Errorf("adjust target_time %s outside band [%s, %s]", a.TargetTime, a.BandMin, a.BandMax)
	}
	if a.MaxIterations <= 0 {
		return errors.New("adjust max_iterations must be positive")
	}
	if a.MasterIndex < 0 {
		return errors.New("adjust master_index must not be negative")
	}
	switch a.Strategy {
	case "descent", "grid", "timestep":
	default:
		return fmt.Errorf("adjust strategy %q not recognized", a.Strategy)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, val := range values {
		if strings.TrimSpace(val) != "" {
			return val
		}
	}
	return ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func parseBoolEnv(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "1" || v == "true" || v == "yes" || v == "on" {
		return true
	}
	return false
}

func applyAdjustOverrides(base AdjustConfig, override adjustFileConfig) AdjustConfig {
	if strings.TrimSpace(override.TargetTime) != "" {
		base.TargetTime = strings.TrimSpace(override.TargetTime)
	}
	if strings.TrimSpace(override.BandMin) != "" {
		base.BandMin = strings.TrimSpace(override.BandMin)
	}
	if strings.TrimSpace(override.BandMax) != "" {
		base.BandMax = strings.TrimSpace(override.BandMax)
	}
	if strings.TrimSpace(override.Tolerance) != "" {
		base.Tolerance = strings.TrimSpace(override.Tolerance)
	}
	if override.PrecisionDigits != nil && *override.PrecisionDigits > 0 {
		base.PrecisionDigits = *override.PrecisionDigits
	}
	if override.MaxIterations != nil && *override.MaxIterations > 0 {
		base.MaxIterations = *override.MaxIterations
	}
	if strings.TrimSpace(override.Strategy) != "" {
		base.Strategy = strings.TrimSpace(override.Strategy)
	}
	if strings.TrimSpace(override.TimeStep) != "" {
		base.TimeStep = strings.TrimSpace(override.TimeStep)
	}
	if override.MasterIndex != nil && *override.MasterIndex >= 0 {
		base.MasterIndex = *override.MasterIndex
	}
	return base
}

func parseIntEnv(key string) (int, bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, false, nil
	}
	val, err := strconv.Atoi(raw)
	return val, true, err
}
