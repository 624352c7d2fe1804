package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Default returns the baseline configuration the other layers override.
func Default() *Config {
	return &Config{
		Worker: WorkerConfig{
			Count:        1,
			PollInterval: Duration(5 * time.Second),
			ErrorBackoff: Duration(10 * time.Second),
			JobTimeout:   Duration(30 * time.Minute),
		},
		Media: MediaConfig{
			FFmpegPath: "ffmpeg",
		},
		Vision: VisionConfig{
			ServiceURL:     "http://127.0.0.1:9824",
			ModelPath:      "yolov8n.pt",
			RequestTimeout: Duration(30 * time.Second),
		},
		Ops: OpsConfig{
			ListenAddr: ":9090",
			LogLevel:   LogInfo,
		},
	}
}

// Load reads the YAML configuration file at path over the defaults and
// returns the merged result. Validation is left to the caller so the
// environment layer can be applied first.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r over the defaults.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return cfg, nil
}

// FromEnv overlays the process environment onto cfg. Unset variables leave
// the existing value untouched. It returns a joined error listing every
// variable that failed to parse.
func FromEnv(cfg *Config) error {
	var errs []error

	if v, ok := os.LookupEnv("DATABASE_URL"); ok {
		cfg.Database.URL = v
	}
	if v, ok := os.LookupEnv("MODEL_PATH"); ok {
		cfg.Vision.ModelPath = v
	}
	if v, ok := os.LookupEnv("VISION_SERVICE_URL"); ok {
		cfg.Vision.ServiceURL = v
	}
	if v, ok := os.LookupEnv("FFMPEG_PATH"); ok {
		cfg.Media.FFmpegPath = v
	}
	if v, ok := os.LookupEnv("INVIGIL_OPS_ADDR"); ok {
		cfg.Ops.ListenAddr = v
	}
	if v, ok := os.LookupEnv("INVIGIL_LOG_LEVEL"); ok {
		cfg.Ops.LogLevel = LogLevel(v)
	}
	if v, ok := os.LookupEnv("INVIGIL_WORKERS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("INVIGIL_WORKERS %q: %w", v, err))
		} else {
			cfg.Worker.Count = n
		}
	}

	for _, d := range []struct {
		name string
		dst  *Duration
	}{
		{"INVIGIL_POLL_INTERVAL", &cfg.Worker.PollInterval},
		{"INVIGIL_ERROR_BACKOFF", &cfg.Worker.ErrorBackoff},
		{"INVIGIL_JOB_TIMEOUT", &cfg.Worker.JobTimeout},
	} {
		v, ok := os.LookupEnv(d.name)
		if !ok {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s %q: %w", d.name, v, err))
			continue
		}
		*d.dst = Duration(parsed)
	}

	return errors.Join(errs...)
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Database.URL == "" {
		errs = append(errs, errors.New("database.url is required (set DATABASE_URL)"))
	}

	if cfg.Worker.Count < 1 {
		errs = append(errs, fmt.Errorf("worker.count %d must be at least 1", cfg.Worker.Count))
	}
	if cfg.Worker.PollInterval <= 0 {
		errs = append(errs, errors.New("worker.poll_interval must be positive"))
	}
	if cfg.Worker.ErrorBackoff <= 0 {
		errs = append(errs, errors.New("worker.error_backoff must be positive"))
	}
	if cfg.Worker.JobTimeout <= 0 {
		errs = append(errs, errors.New("worker.job_timeout must be positive"))
	}

	if cfg.Media.FFmpegPath == "" {
		errs = append(errs, errors.New("media.ffmpeg_path is required"))
	}

	if cfg.Vision.ServiceURL == "" {
		errs = append(errs, errors.New("vision.service_url is required"))
	} else if u, err := url.Parse(cfg.Vision.ServiceURL); err != nil {
		errs = append(errs, fmt.Errorf("vision.service_url %q: %w", cfg.Vision.ServiceURL, err))
	} else if u.Scheme != "http" && u.Scheme != "https" {
		errs = append(errs, fmt.Errorf("vision.service_url %q must use http or https", cfg.Vision.ServiceURL))
	}
	if cfg.Vision.ModelPath == "" {
		errs = append(errs, errors.New("vision.model_path is required (set MODEL_PATH)"))
	}
	if cfg.Vision.RequestTimeout <= 0 {
		errs = append(errs, errors.New("vision.request_timeout must be positive"))
	}

	if cfg.Ops.LogLevel != "" && !cfg.Ops.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("ops.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Ops.LogLevel))
	}

	return errors.Join(errs...)
}
