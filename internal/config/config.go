package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type contextKey string

const configKey contextKey = "config"

// Config holds all application configuration
type Config struct {
	// Server settings
	Server ServerConfig `yaml:"server"`

	// Model settings
	Classifier ClassifierConfig `yaml:"classifier"`

	// Video sampling settings
	Video VideoConfig `yaml:"video"`

	// FFmpeg settings
	FFmpeg FFmpegConfig `yaml:"ffmpeg"`

	// Logging settings
	Log LogConfig `yaml:"log"`
}

type ServerConfig struct {
	Addr           string   `yaml:"addr" env:"NSFWSCAN_ADDR"`
	TempDir        string   `yaml:"temp_dir" env:"NSFWSCAN_TEMP_DIR"`
	MaxUploadBytes int64    `yaml:"max_upload_bytes" env:"NSFWSCAN_MAX_UPLOAD_BYTES"`
	RateLimit      int      `yaml:"rate_limit" env:"NSFWSCAN_RATE_LIMIT"`
	AllowedOrigins []string `yaml:"allowed_origins" env:"NSFWSCAN_ALLOWED_ORIGINS" envSeparator:","`
}

type ClassifierConfig struct {
	ModelPath   string    `yaml:"model_path" env:"NSFWSCAN_MODEL_PATH"`
	LibraryPath string    `yaml:"library_path" env:"NSFWSCAN_ORT_LIBRARY"`
	InputName   string    `yaml:"input_name"`
	OutputName  string    `yaml:"output_name"`
	InputSize   int       `yaml:"input_size"`
	Labels      []string  `yaml:"labels" env:"NSFWSCAN_LABELS" envSeparator:","`
	Mean        []float32 `yaml:"mean"`
	Std         []float32 `yaml:"std"`
}

type VideoConfig struct {
	SamplePeriod     time.Duration `yaml:"sample_period" env:"NSFWSCAN_SAMPLE_PERIOD"`
	PositiveLabels   []string      `yaml:"positive_labels" env:"NSFWSCAN_POSITIVE_LABELS" envSeparator:","`
	Threshold        float64       `yaml:"threshold" env:"NSFWSCAN_THRESHOLD"`
	MaxSampledFrames int           `yaml:"max_sampled_frames" env:"NSFWSCAN_MAX_SAMPLED_FRAMES"`
	MaxDuration      time.Duration `yaml:"max_duration" env:"NSFWSCAN_MAX_DURATION"`
}

type FFmpegConfig struct {
	FFmpegPath  string `yaml:"ffmpeg_path" env:"NSFWSCAN_FFMPEG"`
	FFprobePath string `yaml:"ffprobe_path" env:"NSFWSCAN_FFPROBE"`
	Threads     int    `yaml:"threads" env:"NSFWSCAN_FFMPEG_THREADS"`
}

type LogConfig struct {
	JSON bool `yaml:"json" env:"NSFWSCAN_LOG_JSON"`
}

// Load reads configuration from file or returns defaults.
// Environment variables override file values.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = findConfigFile()
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes configuration to file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Validate checks values that would otherwise fail deep inside a request.
func (c *Config) Validate() error {
	if c.Video.SamplePeriod <= 0 {
		return fmt.Errorf("video.sample_period must be positive, got %s", c.Video.SamplePeriod)
	}
	if c.Video.Threshold < 0 || c.Video.Threshold > 100 {
		return fmt.Errorf("video.threshold must be within [0,100], got %v", c.Video.Threshold)
	}
	if len(c.Video.PositiveLabels) == 0 {
		return fmt.Errorf("video.positive_labels must not be empty")
	}
	if c.Video.MaxSampledFrames < 0 {
		return fmt.Errorf("video.max_sampled_frames must not be negative")
	}
	if len(c.Classifier.Labels) == 0 {
		return fmt.Errorf("classifier.labels must not be empty")
	}
	if c.Classifier.InputSize <= 0 {
		return fmt.Errorf("classifier.input_size must be positive")
	}
	if len(c.Classifier.Mean) != 3 || len(c.Classifier.Std) != 3 {
		return fmt.Errorf("classifier.mean and classifier.std need one value per channel")
	}
	return nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:           "127.0.0.1:5000",
			TempDir:        os.TempDir(),
			MaxUploadBytes: 512 << 20,
			RateLimit:      60,
			AllowedOrigins: []string{"*"},
		},
		Classifier: ClassifierConfig{
			ModelPath:  "./models/nsfw_image_detection.onnx",
			InputName:  "pixel_values",
			OutputName: "logits",
			InputSize:  224,
			Labels:     []string{"normal", "nsfw"},
			Mean:       []float32{0.5, 0.5, 0.5},
			Std:        []float32{0.5, 0.5, 0.5},
		},
		Video: VideoConfig{
			SamplePeriod:   2 * time.Second,
			PositiveLabels: []string{"nsfw", "porn", "sexual"},
			Threshold:      10.0,
		},
		FFmpeg: FFmpegConfig{
			Threads: 0,
		},
	}
}

func findConfigFile() string {
	candidates := []string{
		"./config.yaml",
		"./config.yml",
		filepath.Join(os.Getenv("HOME"), ".nsfwscan", "config.yaml"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// WithConfig stores config in context
func WithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey, cfg)
}

// FromContext retrieves config from context
func FromContext(ctx context.Context) *Config {
	if cfg, ok := ctx.Value(configKey).(*Config); ok {
		return cfg
	}
	return Default()
}
