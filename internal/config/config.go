package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	ErrMissingBotToken = errors.New("BOT_TOKEN is not set")
	ErrInvalidLimit    = errors.New("MAX_FILE_SIZE_MB must be positive")
	ErrInvalidFactor   = errors.New("SIZE_WARN_FACTOR must be at least 1")
)

// Config is the resolved runtime configuration: defaults, then the optional
// YAML file, then environment variables.
type Config struct {
	BotToken      string
	AllowedUserID int64

	DownloadDir     string
	MaxFileSizeMB   int
	SizeWarnFactor  float64
	DefaultPreset   string
	QualityRF       int
	ProbeTimeout    time.Duration
	DownloadTimeout time.Duration
	EncodeTimeout   time.Duration

	UploadTimeout  time.Duration
	UploadAttempts int

	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisPrefix    string
	StateTTLHours  int
	PostgresDSN    string
	HealthAddr     string
	YtdlpBin       string
	HandbrakeBin   string
	FfprobeBin     string
	JanitorWorkers int
	WorkDirMaxAge  time.Duration
}

// MaxFileSizeBytes is the delivery limit in bytes.
func (c Config) MaxFileSizeBytes() int64 {
	return int64(c.MaxFileSizeMB) * 1024 * 1024
}

type configFile struct {
	Bot struct {
		Token         string `yaml:"token"`
		AllowedUserID int64  `yaml:"allowed_user_id"`
	} `yaml:"bot"`
	Download struct {
		Dir             string  `yaml:"dir"`
		MaxFileSizeMB   int     `yaml:"max_file_size_mb"`
		SizeWarnFactor  float64 `yaml:"size_warn_factor"`
		DefaultPreset   string  `yaml:"default_preset"`
		QualityRF       int     `yaml:"quality_rf"`
		ProbeTimeout    string  `yaml:"probe_timeout"`
		DownloadTimeout string  `yaml:"download_timeout"`
		EncodeTimeout   string  `yaml:"encode_timeout"`
	} `yaml:"download"`
	Upload struct {
		Timeout  string `yaml:"timeout"`
		Attempts int    `yaml:"attempts"`
	} `yaml:"upload"`
	Redis struct {
		Addr          string `yaml:"addr"`
		Password      string `yaml:"password"`
		DB            int    `yaml:"db"`
		Prefix        string `yaml:"prefix"`
		StateTTLHours int    `yaml:"state_ttl_hours"`
	} `yaml:"redis"`
	Postgres struct {
		DSN string `yaml:"dsn"`
	} `yaml:"postgres"`
	Health struct {
		Addr string `yaml:"addr"`
	} `yaml:"health"`
	Tools struct {
		Ytdlp     string `yaml:"ytdlp"`
		Handbrake string `yaml:"handbrake"`
		Ffprobe   string `yaml:"ffprobe"`
	} `yaml:"tools"`
	Janitor struct {
		Workers       int    `yaml:"workers"`
		WorkDirMaxAge string `yaml:"workdir_max_age"`
	} `yaml:"janitor"`
}

func Defaults() Config {
	return Config{
		DownloadDir:     os.TempDir(),
		MaxFileSizeMB:   50,
		SizeWarnFactor:  2.0,
		DefaultPreset:   "Fast Mobile 720p30",
		QualityRF:       22,
		ProbeTimeout:    30 * time.Second,
		DownloadTimeout: time.Hour,
		EncodeTimeout:   time.Hour,
		UploadTimeout:   10 * time.Minute,
		UploadAttempts:  3,
		RedisPrefix:     "bat_bot_video",
		StateTTLHours:   24,
		HealthAddr:      ":8080",
		YtdlpBin:        "yt-dlp",
		HandbrakeBin:    "HandBrakeCLI",
		FfprobeBin:      "ffprobe",
		JanitorWorkers:  2,
		WorkDirMaxAge:   3 * time.Hour,
	}
}

// Load resolves configuration in priority order: defaults -> file -> env.
// An empty or missing path skips the file layer.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path = strings.TrimSpace(path); path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := applyFile(&cfg, raw); err != nil {
				return Config{}, err
			}
		case !errors.Is(err, os.ErrNotExist):
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, raw []byte) error {
	var f configFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	cfg.BotToken = orString(f.Bot.Token, cfg.BotToken)
	if f.Bot.AllowedUserID != 0 {
		cfg.AllowedUserID = f.Bot.AllowedUserID
	}
	cfg.DownloadDir = orString(f.Download.Dir, cfg.DownloadDir)
	cfg.MaxFileSizeMB = orInt(f.Download.MaxFileSizeMB, cfg.MaxFileSizeMB)
	if f.Download.SizeWarnFactor > 0 {
		cfg.SizeWarnFactor = f.Download.SizeWarnFactor
	}
	cfg.DefaultPreset = orString(f.Download.DefaultPreset, cfg.DefaultPreset)
	cfg.QualityRF = orInt(f.Download.QualityRF, cfg.QualityRF)
	cfg.UploadAttempts = orInt(f.Upload.Attempts, cfg.UploadAttempts)
	cfg.RedisAddr = orString(f.Redis.Addr, cfg.RedisAddr)
	cfg.RedisPassword = orString(f.Redis.Password, cfg.RedisPassword)
	cfg.RedisDB = orInt(f.Redis.DB, cfg.RedisDB)
	cfg.RedisPrefix = orString(f.Redis.Prefix, cfg.RedisPrefix)
	cfg.StateTTLHours = orInt(f.Redis.StateTTLHours, cfg.StateTTLHours)
	cfg.PostgresDSN = orString(f.Postgres.DSN, cfg.PostgresDSN)
	cfg.HealthAddr = orString(f.Health.Addr, cfg.HealthAddr)
	cfg.YtdlpBin = orString(f.Tools.Ytdlp, cfg.YtdlpBin)
	cfg.HandbrakeBin = orString(f.Tools.Handbrake, cfg.HandbrakeBin)
	cfg.FfprobeBin = orString(f.Tools.Ffprobe, cfg.FfprobeBin)
	cfg.JanitorWorkers = orInt(f.Janitor.Workers, cfg.JanitorWorkers)

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"download.probe_timeout", f.Download.ProbeTimeout, &cfg.ProbeTimeout},
		{"download.download_timeout", f.Download.DownloadTimeout, &cfg.DownloadTimeout},
		{"download.encode_timeout", f.Download.EncodeTimeout, &cfg.EncodeTimeout},
		{"upload.timeout", f.Upload.Timeout, &cfg.UploadTimeout},
		{"janitor.workdir_max_age", f.Janitor.WorkDirMaxAge, &cfg.WorkDirMaxAge},
	}
	for _, d := range durations {
		if strings.TrimSpace(d.raw) == "" {
			continue
		}
		v, err := parseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("parse config file: %s: %w", d.name, err)
		}
		*d.dst = v
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.BotToken = envOrDefault("BOT_TOKEN", cfg.BotToken)
	cfg.AllowedUserID = envInt64("ALLOWED_USER_ID", cfg.AllowedUserID)
	cfg.DownloadDir = envOrDefault("DOWNLOAD_DIR", cfg.DownloadDir)
	cfg.MaxFileSizeMB = envInt("MAX_FILE_SIZE_MB", cfg.MaxFileSizeMB)
	cfg.SizeWarnFactor = envFloat("SIZE_WARN_FACTOR", cfg.SizeWarnFactor)
	cfg.DefaultPreset = envOrDefault("DEFAULT_PRESET", cfg.DefaultPreset)
	cfg.QualityRF = envInt("QUALITY_RF", cfg.QualityRF)
	cfg.ProbeTimeout = envDuration("PROBE_TIMEOUT", cfg.ProbeTimeout)
	cfg.DownloadTimeout = envDuration("DOWNLOAD_TIMEOUT", cfg.DownloadTimeout)
	cfg.EncodeTimeout = envDuration("ENCODE_TIMEOUT", cfg.EncodeTimeout)
	cfg.UploadTimeout = envDuration("UPLOAD_TIMEOUT", cfg.UploadTimeout)
	cfg.UploadAttempts = envInt("UPLOAD_ATTEMPTS", cfg.UploadAttempts)

	cfg.RedisAddr = envOrDefault("REDIS_ADDR", cfg.RedisAddr)
	if cfg.RedisAddr == "" {
		if host := os.Getenv("REDIS_HOST"); host != "" {
			cfg.RedisAddr = host + ":" + envOrDefault("REDIS_PORT", "6379")
		}
	}
	cfg.RedisPassword = envOrDefault("REDIS_PASSWORD", cfg.RedisPassword)
	cfg.RedisDB = envInt("REDIS_DB", cfg.RedisDB)
	cfg.RedisPrefix = envOrDefault("REDIS_PREFIX", cfg.RedisPrefix)
	cfg.StateTTLHours = envInt("STATE_TTL_HOURS", cfg.StateTTLHours)
	cfg.PostgresDSN = envOrDefault("POSTGRES_DSN", cfg.PostgresDSN)
	cfg.HealthAddr = envOrDefault("HEALTH_ADDR", cfg.HealthAddr)
	cfg.YtdlpBin = envOrDefault("YTDLP_BIN", cfg.YtdlpBin)
	cfg.HandbrakeBin = envOrDefault("HANDBRAKE_BIN", cfg.HandbrakeBin)
	cfg.FfprobeBin = envOrDefault("FFPROBE_BIN", cfg.FfprobeBin)
	cfg.JanitorWorkers = envInt("JANITOR_WORKERS", cfg.JanitorWorkers)
	cfg.WorkDirMaxAge = envDuration("WORKDIR_MAX_AGE", cfg.WorkDirMaxAge)
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.BotToken) == "" {
		return ErrMissingBotToken
	}
	if c.MaxFileSizeMB <= 0 {
		return ErrInvalidLimit
	}
	if c.SizeWarnFactor < 1 {
		return ErrInvalidFactor
	}
	return nil
}

func orString(v, fallback string) string {
	if strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}

func orInt(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

func envOrDefault(name, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(name)); value != "" {
		return value
	}
	return fallback
}

func envInt(name string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envInt64(name string, fallback int64) int64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fallback
	}
	return v
}

func envFloat(name string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return v
}

func envDuration(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	v, err := parseDuration(raw)
	if err != nil {
		return fallback
	}
	return v
}

// parseDuration accepts Go durations ("90s", "1h") or a bare number of seconds.
func parseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if n, err := strconv.Atoi(raw); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("negative duration %q", raw)
		}
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", raw)
	}
	return d, nil
}
