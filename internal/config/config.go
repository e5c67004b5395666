package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Port             int           `yaml:"port"`
		ProgressInterval time.Duration `yaml:"progress_interval"`
		DownloadGrace    time.Duration `yaml:"download_grace"`
		ShutdownTimeout  time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Queue struct {
		MaxConcurrent int `yaml:"max_concurrent"`
		MaxPending    int `yaml:"max_pending"`
	} `yaml:"queue"`
	Tool struct {
		Path            string        `yaml:"path"`
		AutoInstall     bool          `yaml:"auto_install"`
		Timeout         time.Duration `yaml:"timeout"`
		MetadataTimeout time.Duration `yaml:"metadata_timeout"`
	} `yaml:"tool"`
	Storage struct {
		DownloadDir string `yaml:"download_dir"`
	} `yaml:"storage"`
	Janitor struct {
		Interval   time.Duration `yaml:"interval"`
		FileMaxAge time.Duration `yaml:"file_max_age"`
		JobMaxAge  time.Duration `yaml:"job_max_age"`
	} `yaml:"janitor"`
	RateLimit struct {
		Window      time.Duration `yaml:"window"`
		Limit       int           `yaml:"limit"`
		GlobalRPS   float64       `yaml:"global_rps"`
		GlobalBurst int           `yaml:"global_burst"`
	} `yaml:"rate_limit"`
	Metadata struct {
		YouTubeFallback bool `yaml:"youtube_fallback"`
	} `yaml:"metadata"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	var cfg Config
	cfg.Server.Port = 3000
	cfg.Server.ProgressInterval = 500 * time.Millisecond
	cfg.Server.DownloadGrace = 5 * time.Second
	cfg.Server.ShutdownTimeout = 15 * time.Second
	cfg.Queue.MaxConcurrent = 2
	cfg.Queue.MaxPending = 10
	cfg.Tool.Path = "yt-dlp"
	cfg.Tool.AutoInstall = true
	cfg.Tool.Timeout = 10 * time.Minute
	cfg.Tool.MetadataTimeout = 30 * time.Second
	cfg.Storage.DownloadDir = "downloads"
	cfg.Janitor.Interval = time.Minute
	cfg.Janitor.FileMaxAge = 5 * time.Minute
	cfg.Janitor.JobMaxAge = 10 * time.Minute
	cfg.RateLimit.Window = 60 * time.Second
	cfg.RateLimit.Limit = 10
	cfg.RateLimit.GlobalRPS = 20
	cfg.RateLimit.GlobalBurst = 40
	cfg.Metadata.YouTubeFallback = true
	return &cfg
}

// LoadConfig reads path over the defaults, then applies .env and process
// environment overrides. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	f, err := os.Open(path)
	switch {
	case err == nil:
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	case !os.IsNotExist(err):
		return nil, err
	}

	// .env is optional, real environment variables win over it.
	_ = godotenv.Load()

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("DOWNLOAD_DIR"); v != "" {
		c.Storage.DownloadDir = v
	}
	if v := os.Getenv("YTDLP_PATH"); v != "" {
		c.Tool.Path = v
	}
	for _, o := range []struct {
		key string
		dst *int
	}{
		{"PORT", &c.Server.Port},
		{"MAX_CONCURRENT_JOBS", &c.Queue.MaxConcurrent},
		{"MAX_QUEUE_LENGTH", &c.Queue.MaxPending},
	} {
		v := os.Getenv(o.key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", o.key, err)
		}
		*o.dst = n
	}
	return nil
}

func (c *Config) Validate() error {
	switch {
	case c.Server.Port <= 0 || c.Server.Port > 65535:
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	case c.Server.ProgressInterval <= 0:
		return errors.New("server.progress_interval must be positive")
	case c.Queue.MaxConcurrent <= 0:
		return errors.New("queue.max_concurrent must be positive")
	case c.Queue.MaxPending < 0:
		return errors.New("queue.max_pending must not be negative")
	case c.Tool.Timeout <= 0:
		return errors.New("tool.timeout must be positive")
	case c.Storage.DownloadDir == "":
		return errors.New("storage.download_dir is required")
	case c.Janitor.Interval <= 0:
		return errors.New("janitor.interval must be positive")
	case c.RateLimit.Window <= 0 || c.RateLimit.Limit <= 0:
		return errors.New("rate_limit.window and rate_limit.limit must be positive")
	}
	return nil
}
