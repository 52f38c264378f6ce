// Package config provides configuration management for the meetcap worker.
// It supports loading configuration from YAML files, a .env file and
// environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/otherjamesbrown/meetcap/client"
	"github.com/otherjamesbrown/meetcap/pkg/blob"
	"github.com/otherjamesbrown/meetcap/pkg/capture/platform"
	"github.com/otherjamesbrown/meetcap/pkg/capture/session"
	"github.com/otherjamesbrown/meetcap/pkg/db"
	"github.com/otherjamesbrown/meetcap/pkg/ledger"
	"github.com/otherjamesbrown/meetcap/pkg/logging"
	"github.com/otherjamesbrown/meetcap/pkg/notify"
	"github.com/otherjamesbrown/meetcap/pkg/worker"
)

// TransitionMode selects who owns the meeting lifecycle.
type TransitionMode string

const (
	// ModeHTTP reports transitions to the core service.
	ModeHTTP TransitionMode = "http"
	// ModeLocal runs the lifecycle orchestrator in process.
	ModeLocal TransitionMode = "local"
)

// IsValid returns true if the mode is supported.
func (m TransitionMode) IsValid() bool {
	return m == ModeHTTP || m == ModeLocal
}

// Default configuration values.
const (
	DefaultConfigFile     = "meetcap.yaml"
	DefaultEnvFile        = ".env"
	DefaultMetricsAddr    = ":9090"
	DefaultRedisAddr      = "localhost:6379"
	DefaultCoreTimeout    = 15 * time.Second
	DefaultCoreRetries    = 3
	DefaultMailPort       = 587
	DefaultMailTimeout    = 30 * time.Second
	DefaultFrontendURL    = "http://localhost:3000"
	DefaultTransitionMode = ModeHTTP
)

// RedisConfig holds the connection used for job dispatch and event fan-out.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	Namespace string
}

// CaptureConfig holds browser session settings.
type CaptureConfig struct {
	Session session.Config
	Timings platform.Timings

	// TempDir receives browser traces before upload. Empty means os.TempDir.
	TempDir string

	// InstallBrowsers downloads the playwright driver and Chromium at startup.
	InstallBrowsers bool
}

// CoreConfig describes the lifecycle owner.
type CoreConfig struct {
	Mode           TransitionMode
	BaseURL        string
	FrontendURL    string
	RequestTimeout time.Duration
	MaxRetries     int
	TLS            client.TLSConfig
}

// MailConfig enables the report-ready email.
type MailConfig struct {
	Enabled bool
	notify.MailConfig
}

// LoggingConfig configures the zerolog logger.
type LoggingConfig struct {
	Level logging.Level
	JSON  bool

	// PersistWarnings stores warn and error entries in capture_logs.
	PersistWarnings bool
}

// Config is the full worker configuration.
type Config struct {
	Database    *db.Config
	Redis       RedisConfig
	Blob        blob.Config
	Capture     CaptureConfig
	Core        CoreConfig
	Mail        MailConfig
	Estimator   ledger.EstimatorConfig
	Worker      worker.Config
	Logging     LoggingConfig
	MetricsAddr string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Database: db.DefaultConfig(),
		Redis: RedisConfig{
			Addr:      DefaultRedisAddr,
			Namespace: "meetcap:",
		},
		Blob: blob.Config{
			Bucket: "meetcap",
			Region: "us-east-1",
		},
		Capture: CaptureConfig{
			Session: session.DefaultConfig(),
			Timings: platform.DefaultTimings(),
		},
		Core: CoreConfig{
			Mode:           DefaultTransitionMode,
			FrontendURL:    DefaultFrontendURL,
			RequestTimeout: DefaultCoreTimeout,
			MaxRetries:     DefaultCoreRetries,
		},
		Mail: MailConfig{
			MailConfig: notify.MailConfig{
				Port:    DefaultMailPort,
				Timeout: DefaultMailTimeout,
			},
		},
		Estimator: ledger.DefaultEstimatorConfig(),
		Worker:    worker.Config{PollInterval: worker.DefaultPollInterval},
		Logging: LoggingConfig{
			Level: logging.LevelInfo,
		},
		MetricsAddr: DefaultMetricsAddr,
	}
}

// ConfigPath returns the configuration file to read: $MEETCAP_CONFIG if set,
// otherwise meetcap.yaml in the working directory.
func ConfigPath() string {
	if p := os.Getenv("MEETCAP_CONFIG"); p != "" {
		return p
	}
	return DefaultConfigFile
}

// Load loads the worker configuration.
// Configuration is loaded in this order (later sources override earlier):
// 1. Default values
// 2. Config file (path, or ConfigPath() when path is empty; skipped if absent)
// 3. .env file in the working directory, for variables not already set
// 4. Environment variables (MEETCAP_*, DATABASE_URL and DB_*)
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	explicit := path != ""
	if !explicit {
		path = ConfigPath()
	}
	if _, err := os.Stat(path); err == nil {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	} else if explicit {
		return nil, fmt.Errorf("loading config file: %w", err)
	}

	if err := LoadDotEnv(DefaultEnvFile); err != nil {
		return nil, err
	}

	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadDotEnv loads variables from the given .env files without overriding
// variables already present in the environment. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}
	return nil
}

// configFile mirrors the YAML layout; durations are strings such as "1m30s".
type configFile struct {
	Database struct {
		URL      string `yaml:"url"`
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Name     string `yaml:"name"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		SSLMode  string `yaml:"sslmode"`
		MaxConns int32  `yaml:"max_conns"`
		MinConns int32  `yaml:"min_conns"`
	} `yaml:"database"`

	Redis struct {
		Addr      string `yaml:"addr"`
		Password  string `yaml:"password"`
		DB        int    `yaml:"db"`
		Namespace string `yaml:"namespace"`
	} `yaml:"redis"`

	Blob struct {
		Endpoint  string `yaml:"endpoint"`
		AccessKey string `yaml:"access_key"`
		SecretKey string `yaml:"secret_key"`
		Bucket    string `yaml:"bucket"`
		Region    string `yaml:"region"`
		UseSSL    *bool  `yaml:"use_ssl"`
	} `yaml:"blob"`

	Capture struct {
		Headless          *bool  `yaml:"headless"`
		InstallBrowsers   bool   `yaml:"install_browsers"`
		TempDir           string `yaml:"temp_dir"`
		PageTimeout       string `yaml:"page_timeout"`
		PollInterval      string `yaml:"poll_interval"`
		StopTimeout       string `yaml:"stop_timeout"`
		MonitorInterval   string `yaml:"monitor_interval"`
		MaxRetries        int    `yaml:"max_retries"`
		ReadinessInterval string `yaml:"readiness_interval"`
		MediaWait         string `yaml:"media_wait"`
		NameInputWait     string `yaml:"name_input_wait"`
	} `yaml:"capture"`

	Core struct {
		Mode           TransitionMode `yaml:"mode"`
		BaseURL        string         `yaml:"base_url"`
		FrontendURL    string         `yaml:"frontend_url"`
		RequestTimeout string         `yaml:"request_timeout"`
		MaxRetries     *int           `yaml:"max_retries"`
		TLS            struct {
			CACert     string `yaml:"ca_cert"`
			ClientCert string `yaml:"client_cert"`
			ClientKey  string `yaml:"client_key"`
			SkipVerify bool   `yaml:"skip_verify"`
		} `yaml:"tls"`
	} `yaml:"core"`

	Mail struct {
		Enabled  bool   `yaml:"enabled"`
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		Sender   string `yaml:"sender"`
		SSL      bool   `yaml:"ssl"`
		Timeout  string `yaml:"timeout"`
	} `yaml:"mail"`

	Estimator struct {
		ParallelPods            int    `yaml:"parallel_pods"`
		AvgTranscriptionMinutes int    `yaml:"avg_transcription_minutes"`
		AvgMeetingHours         int    `yaml:"avg_meeting_hours"`
		Window                  string `yaml:"window"`
	} `yaml:"estimator"`

	Worker struct {
		PollInterval string `yaml:"poll_interval"`
	} `yaml:"worker"`

	Logging struct {
		Level           logging.Level `yaml:"level"`
		JSON            bool          `yaml:"json"`
		PersistWarnings bool          `yaml:"persist_warnings"`
	} `yaml:"logging"`

	MetricsAddr string `yaml:"metrics_addr"`
}

// loadFromFile loads configuration from a YAML file.
func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	var f configFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	d := cfg.Database
	setString(&d.URL, f.Database.URL)
	setString(&d.Host, f.Database.Host)
	setString(&d.Database, f.Database.Name)
	setString(&d.User, f.Database.User)
	setString(&d.Password, f.Database.Password)
	setString(&d.SSLMode, f.Database.SSLMode)
	if f.Database.Port != 0 {
		d.Port = f.Database.Port
	}
	if f.Database.MaxConns != 0 {
		d.MaxConns = f.Database.MaxConns
	}
	if f.Database.MinConns != 0 {
		d.MinConns = f.Database.MinConns
	}

	setString(&cfg.Redis.Addr, f.Redis.Addr)
	setString(&cfg.Redis.Password, f.Redis.Password)
	setString(&cfg.Redis.Namespace, f.Redis.Namespace)
	if f.Redis.DB != 0 {
		cfg.Redis.DB = f.Redis.DB
	}

	setString(&cfg.Blob.Endpoint, f.Blob.Endpoint)
	setString(&cfg.Blob.AccessKey, f.Blob.AccessKey)
	setString(&cfg.Blob.SecretKey, f.Blob.SecretKey)
	setString(&cfg.Blob.Bucket, f.Blob.Bucket)
	setString(&cfg.Blob.Region, f.Blob.Region)
	if f.Blob.UseSSL != nil {
		cfg.Blob.UseSSL = *f.Blob.UseSSL
	}

	c := &cfg.Capture
	if f.Capture.Headless != nil {
		c.Session.Headless = *f.Capture.Headless
	}
	c.InstallBrowsers = f.Capture.InstallBrowsers
	setString(&c.TempDir, f.Capture.TempDir)
	if f.Capture.MaxRetries != 0 {
		c.Timings.MaxRetries = f.Capture.MaxRetries
	}

	setString(&cfg.Core.BaseURL, f.Core.BaseURL)
	setString(&cfg.Core.FrontendURL, f.Core.FrontendURL)
	setString(&cfg.Core.TLS.CACert, f.Core.TLS.CACert)
	setString(&cfg.Core.TLS.ClientCert, f.Core.TLS.ClientCert)
	setString(&cfg.Core.TLS.ClientKey, f.Core.TLS.ClientKey)
	if f.Core.TLS.SkipVerify {
		cfg.Core.TLS.SkipVerify = true
	}
	if f.Core.Mode != "" {
		cfg.Core.Mode = f.Core.Mode
	}
	if f.Core.MaxRetries != nil {
		cfg.Core.MaxRetries = *f.Core.MaxRetries
	}

	m := &cfg.Mail
	m.Enabled = f.Mail.Enabled
	m.SSL = f.Mail.SSL
	setString(&m.Host, f.Mail.Host)
	setString(&m.Username, f.Mail.Username)
	setString(&m.Password, f.Mail.Password)
	setString(&m.Sender, f.Mail.Sender)
	if f.Mail.Port != 0 {
		m.Port = f.Mail.Port
	}

	e := &cfg.Estimator
	if f.Estimator.ParallelPods != 0 {
		e.ParallelPods = f.Estimator.ParallelPods
	}
	if f.Estimator.AvgTranscriptionMinutes != 0 {
		e.AvgTranscriptionMinutes = f.Estimator.AvgTranscriptionMinutes
	}
	if f.Estimator.AvgMeetingHours != 0 {
		e.AvgMeetingHours = f.Estimator.AvgMeetingHours
	}

	if f.Logging.Level != "" {
		cfg.Logging.Level = f.Logging.Level
	}
	cfg.Logging.JSON = f.Logging.JSON
	cfg.Logging.PersistWarnings = f.Logging.PersistWarnings

	setString(&cfg.MetricsAddr, f.MetricsAddr)

	durations := []struct {
		field string
		value string
		dst   *time.Duration
	}{
		{"capture.page_timeout", f.Capture.PageTimeout, &c.Session.PageTimeout},
		{"capture.poll_interval", f.Capture.PollInterval, &c.Session.PollInterval},
		{"capture.stop_timeout", f.Capture.StopTimeout, &c.Session.StopTimeout},
		{"capture.monitor_interval", f.Capture.MonitorInterval, &c.Session.MonitorInterval},
		{"capture.readiness_interval", f.Capture.ReadinessInterval, &c.Timings.ReadinessInterval},
		{"capture.media_wait", f.Capture.MediaWait, &c.Timings.MediaWait},
		{"capture.name_input_wait", f.Capture.NameInputWait, &c.Timings.NameInputWait},
		{"core.request_timeout", f.Core.RequestTimeout, &cfg.Core.RequestTimeout},
		{"mail.timeout", f.Mail.Timeout, &m.Timeout},
		{"estimator.window", f.Estimator.Window, &e.Window},
		{"worker.poll_interval", f.Worker.PollInterval, &cfg.Worker.PollInterval},
	}
	for _, dur := range durations {
		if dur.value == "" {
			continue
		}
		v, err := time.ParseDuration(dur.value)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", dur.field, err)
		}
		*dur.dst = v
	}

	return nil
}

// loadFromEnv overlays environment variables onto the configuration.
// Unparseable numbers and durations are errors rather than silently ignored.
func loadFromEnv(cfg *Config) error {
	var errs []error
	if err := db.ApplyEnv(cfg.Database); err != nil {
		errs = append(errs, err)
	}

	envString(&cfg.Redis.Addr, "MEETCAP_REDIS_ADDR")
	envString(&cfg.Redis.Password, "MEETCAP_REDIS_PASSWORD")

	envString(&cfg.Blob.Endpoint, "MEETCAP_BLOB_ENDPOINT")
	envString(&cfg.Blob.AccessKey, "MEETCAP_BLOB_ACCESS_KEY")
	envString(&cfg.Blob.SecretKey, "MEETCAP_BLOB_SECRET_KEY")
	envString(&cfg.Blob.Bucket, "MEETCAP_BLOB_BUCKET")
	envString(&cfg.Blob.Region, "MEETCAP_BLOB_REGION")

	envString(&cfg.Capture.TempDir, "MEETCAP_CAPTURE_TEMP_DIR")

	if v := os.Getenv("MEETCAP_CORE_MODE"); v != "" {
		cfg.Core.Mode = TransitionMode(v)
	}
	envString(&cfg.Core.BaseURL, "MEETCAP_CORE_BASE_URL")
	envString(&cfg.Core.FrontendURL, "MEETCAP_FRONTEND_URL")
	envString(&cfg.Core.TLS.CACert, "MEETCAP_CORE_CA_CERT")
	envString(&cfg.Core.TLS.ClientCert, "MEETCAP_CORE_CLIENT_CERT")
	envString(&cfg.Core.TLS.ClientKey, "MEETCAP_CORE_CLIENT_KEY")

	envString(&cfg.Mail.Host, "MEETCAP_MAIL_HOST")
	envString(&cfg.Mail.Username, "MEETCAP_MAIL_USERNAME")
	envString(&cfg.Mail.Password, "MEETCAP_MAIL_PASSWORD")
	envString(&cfg.Mail.Sender, "MEETCAP_MAIL_SENDER")

	if v := os.Getenv("MEETCAP_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = logging.Level(strings.ToLower(v))
	}
	envString(&cfg.MetricsAddr, "MEETCAP_METRICS_ADDR")

	bools := []struct {
		key string
		dst *bool
	}{
		{"MEETCAP_BLOB_USE_SSL", &cfg.Blob.UseSSL},
		{"MEETCAP_HEADLESS", &cfg.Capture.Session.Headless},
		{"MEETCAP_INSTALL_BROWSERS", &cfg.Capture.InstallBrowsers},
		{"MEETCAP_CORE_TLS_SKIP_VERIFY", &cfg.Core.TLS.SkipVerify},
		{"MEETCAP_MAIL_ENABLED", &cfg.Mail.Enabled},
		{"MEETCAP_MAIL_SSL", &cfg.Mail.SSL},
		{"MEETCAP_LOG_JSON", &cfg.Logging.JSON},
		{"MEETCAP_LOG_PERSIST_WARNINGS", &cfg.Logging.PersistWarnings},
	}
	for _, b := range bools {
		v := os.Getenv(b.key)
		if v == "" {
			continue
		}
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", b.key, err))
			continue
		}
		*b.dst = parsed
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"MEETCAP_REDIS_DB", &cfg.Redis.DB},
		{"MEETCAP_CORE_MAX_RETRIES", &cfg.Core.MaxRetries},
		{"MEETCAP_MAIL_PORT", &cfg.Mail.Port},
		{"MEETCAP_PARALLEL_PODS", &cfg.Estimator.ParallelPods},
	}
	for _, i := range ints {
		v := os.Getenv(i.key)
		if v == "" {
			continue
		}
		parsed, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", i.key, err))
			continue
		}
		*i.dst = parsed
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"MEETCAP_POLL_INTERVAL", &cfg.Worker.PollInterval},
		{"MEETCAP_STOP_TIMEOUT", &cfg.Capture.Session.StopTimeout},
		{"MEETCAP_CORE_TIMEOUT", &cfg.Core.RequestTimeout},
	}
	for _, d := range durations {
		v := os.Getenv(d.key)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d.key, err))
			continue
		}
		*d.dst = parsed
	}

	return errors.Join(errs...)
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return err
	}

	if !c.Core.Mode.IsValid() {
		return fmt.Errorf("invalid core.mode: %q (must be http or local)", c.Core.Mode)
	}
	if c.Core.Mode == ModeHTTP {
		if err := validateURL("core.base_url", c.Core.BaseURL); err != nil {
			return err
		}
		if err := c.Core.TLS.Validate(); err != nil {
			return err
		}
	}
	if c.Core.Mode == ModeLocal && c.Redis.Addr == "" {
		return errors.New("redis.addr is required in local mode")
	}
	if c.Core.MaxRetries < 0 {
		return errors.New("core.max_retries must not be negative")
	}
	if err := validateURL("core.frontend_url", c.Core.FrontendURL); err != nil {
		return err
	}

	if err := c.Blob.Validate(); err != nil {
		return err
	}

	if c.Mail.Enabled {
		if err := c.Mail.MailConfig.Validate(); err != nil {
			return err
		}
	}

	if c.Worker.PollInterval <= 0 {
		return errors.New("worker.poll_interval must be positive")
	}
	if c.Capture.Session.StopTimeout <= 0 {
		return errors.New("capture.stop_timeout must be positive")
	}
	if c.Capture.Timings.MaxRetries <= 0 {
		return errors.New("capture.max_retries must be positive")
	}

	switch c.Logging.Level {
	case logging.LevelDebug, logging.LevelInfo, logging.LevelWarn, logging.LevelError:
	default:
		return fmt.Errorf("invalid logging.level: %q", c.Logging.Level)
	}

	return nil
}

// LoggerConfig returns the logging.Config for this configuration.
func (c *Config) LoggerConfig() *logging.Config {
	lc := logging.DefaultConfig()
	lc.Level = c.Logging.Level
	lc.JSONFormat = c.Logging.JSON
	return lc
}

func validateURL(field, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", field)
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid %s: %q", field, raw)
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func envString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
