package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config is the explicit configuration passed into every component.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Auth       AuthConfig       `yaml:"auth"`
	Pagination PaginationConfig `yaml:"pagination"`
	Windows    WindowsConfig    `yaml:"windows"`
	Mail       MailConfig       `yaml:"mail"`
	Search     SearchConfig     `yaml:"search"`
	Schedule   ScheduleConfig   `yaml:"schedule"`
	URLs       URLConfig        `yaml:"urls"`
}

type ServerConfig struct {
	Addr       string `yaml:"addr"`
	GRPCAddr   string `yaml:"grpc_addr"`
	RateBurst  int    `yaml:"rate_burst"`
	RatePerSec int    `yaml:"rate_per_sec"`
	MaxBody    int64  `yaml:"max_body_bytes"`
}

// DatabaseConfig configures PostgreSQL. An empty MigrationsPath uses the
// embedded migrations.
type DatabaseConfig struct {
	DSN            string `yaml:"dsn"`
	MaxOpenConns   int    `yaml:"max_open_conns"`
	MigrationsPath string `yaml:"migrations_path"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type AuthConfig struct {
	Secret   string        `yaml:"secret"`
	TokenTTL time.Duration `yaml:"token_ttl"`
}

type PaginationConfig struct {
	Default int `yaml:"default"`
	Max     int `yaml:"max"`
}

// WindowsConfig holds the notification and retention thresholds, in months.
type WindowsConfig struct {
	StaleFrom       int `yaml:"stale_from"`
	StaleTo         int `yaml:"stale_to"`
	EscalateAfter   int `yaml:"escalate_after"`
	RetentionMonths int `yaml:"referral_retention"`
}

// MailConfig selects the sender. An empty NotifyURL logs emails instead of
// delivering them.
type MailConfig struct {
	GlobalAdminEmail string            `yaml:"global_admin_email"`
	TemplateIDs      map[string]string `yaml:"template_ids"`
	DedupTTL         time.Duration     `yaml:"dedup_ttl"`
	NotifyURL        string            `yaml:"notify_url"`
	NotifyAPIKey     string            `yaml:"notify_api_key"`
}

// Search drivers.
const (
	SearchDriverNull    = "null"
	SearchDriverElastic = "elastic"
)

type SearchConfig struct {
	Driver string `yaml:"driver"`
	URL    string `yaml:"url"`
	Index  string `yaml:"index"`
}

// ScheduleConfig holds cron specs for the worker scheduler.
type ScheduleConfig struct {
	StaleServices       string `yaml:"stale_services"`
	AutoDeleteReferrals string `yaml:"auto_delete_referrals"`
}

type URLConfig struct {
	Frontend string `yaml:"frontend"`
	Backend  string `yaml:"backend"`
}

// Template ids keyed in MailConfig.TemplateIDs.
const (
	TemplateStaleServiceAdmin        = "service_update_prompt.notify_service_admin"
	TemplateStaleGlobalAdmin         = "service_update_prompt.notify_global_admin"
	TemplateReferralCompletedReferee = "referral_completed.notify_referee"
	TemplateUpdateRequestApproved    = "update_request_approved.notify_submitter"
)

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:       ":8080",
			GRPCAddr:   ":9090",
			RateBurst:  60,
			RatePerSec: 30,
			MaxBody:    1 << 20,
		},
		Database: DatabaseConfig{MaxOpenConns: 10},
		Redis: RedisConfig{Addr: "localhost:6379"},
		Auth:  AuthConfig{TokenTTL: time.Hour},
		Pagination: PaginationConfig{
			Default: 25,
			Max:     100,
		},
		Windows: WindowsConfig{
			StaleFrom:       6,
			StaleTo:         12,
			EscalateAfter:   12,
			RetentionMonths: 6,
		},
		Mail: MailConfig{
			TemplateIDs: map[string]string{
				TemplateStaleServiceAdmin:        "stale-service-admin",
				TemplateStaleGlobalAdmin:         "stale-global-admin",
				TemplateReferralCompletedReferee: "referral-completed-referee",
				TemplateUpdateRequestApproved:    "update-request-approved-submitter",
			},
			DedupTTL: 400 * 24 * time.Hour,
		},
		Search: SearchConfig{
			Driver: SearchDriverNull,
			URL:    "http://localhost:9200",
			Index:  "services",
		},
		Schedule: ScheduleConfig{
			StaleServices:       "0 9 * * *",
			AutoDeleteReferrals: "0 3 * * *",
		},
		URLs: URLConfig{
			Frontend: "http://localhost:3000",
			Backend:  "http://localhost:8080",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file named by
// TLR_CONFIG_FILE, then environment variables.
func Load() (*Config, error) {
	cfg := Default()
	if path := strings.TrimSpace(os.Getenv("TLR_CONFIG_FILE")); path != "" {
		if err := loadFile(&cfg, path); err != nil {
			return nil, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadFile(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	templates := cfg.Mail.TemplateIDs
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	// yaml replaces the map wholesale; keep defaults for ids the file omits.
	for k, v := range templates {
		if _, ok := cfg.Mail.TemplateIDs[k]; !ok {
			if cfg.Mail.TemplateIDs == nil {
				cfg.Mail.TemplateIDs = map[string]string{}
			}
			cfg.Mail.TemplateIDs[k] = v
		}
	}
	return nil
}

func applyEnv(cfg *Config) error {
	var err error
	cfg.Server.Addr = getEnv("TLR_HTTP_ADDR", cfg.Server.Addr)
	cfg.Server.GRPCAddr = getEnv("TLR_GRPC_ADDR", cfg.Server.GRPCAddr)
	if cfg.Server.RateBurst, err = getEnvInt("TLR_RATE_BURST", cfg.Server.RateBurst); err != nil {
		return err
	}
	if cfg.Server.RatePerSec, err = getEnvInt("TLR_RATE_PER_SEC", cfg.Server.RatePerSec); err != nil {
		return err
	}

	cfg.Database.DSN = getEnv("TLR_PG_DSN", cfg.Database.DSN)
	cfg.Database.MigrationsPath = getEnv("TLR_MIGRATIONS_PATH", cfg.Database.MigrationsPath)
	if cfg.Database.MaxOpenConns, err = getEnvInt("TLR_PG_MAX_CONNS", cfg.Database.MaxOpenConns); err != nil {
		return err
	}

	cfg.Redis.Addr = getEnv("TLR_REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("TLR_REDIS_PASSWORD", cfg.Redis.Password)
	if cfg.Redis.DB, err = getEnvInt("TLR_REDIS_DB", cfg.Redis.DB); err != nil {
		return err
	}

	cfg.Auth.Secret = getEnv("TLR_AUTH_SECRET", cfg.Auth.Secret)
	if cfg.Auth.TokenTTL, err = getEnvDuration("TLR_TOKEN_TTL", cfg.Auth.TokenTTL); err != nil {
		return err
	}

	if cfg.Pagination.Default, err = getEnvInt("TLR_PAGINATION_RESULTS", cfg.Pagination.Default); err != nil {
		return err
	}
	if cfg.Pagination.Max, err = getEnvInt("TLR_MAX_PAGINATION_RESULTS", cfg.Pagination.Max); err != nil {
		return err
	}

	if cfg.Windows.RetentionMonths, err = getEnvInt("TLR_REFERRAL_RETENTION_MONTHS", cfg.Windows.RetentionMonths); err != nil {
		return err
	}

	cfg.Mail.GlobalAdminEmail = getEnv("TLR_GLOBAL_ADMIN_EMAIL", cfg.Mail.GlobalAdminEmail)
	cfg.Mail.NotifyURL = getEnv("TLR_NOTIFY_URL", cfg.Mail.NotifyURL)
	cfg.Mail.NotifyAPIKey = getEnv("TLR_NOTIFY_API_KEY", cfg.Mail.NotifyAPIKey)
	if cfg.Mail.DedupTTL, err = getEnvDuration("TLR_MAIL_DEDUP_TTL", cfg.Mail.DedupTTL); err != nil {
		return err
	}
	cfg.Search.Driver = getEnv("TLR_SEARCH_DRIVER", cfg.Search.Driver)
	cfg.Search.URL = getEnv("TLR_SEARCH_URL", cfg.Search.URL)
	cfg.Search.Index = getEnv("TLR_SEARCH_INDEX", cfg.Search.Index)
	cfg.Schedule.StaleServices = getEnv("TLR_SCHEDULE_STALE_SERVICES", cfg.Schedule.StaleServices)
	cfg.Schedule.AutoDeleteReferrals = getEnv("TLR_SCHEDULE_AUTO_DELETE_REFERRALS", cfg.Schedule.AutoDeleteReferrals)
	cfg.URLs.Frontend = strings.TrimRight(getEnv("TLR_FRONTEND_URL", cfg.URLs.Frontend), "/")
	cfg.URLs.Backend = strings.TrimRight(getEnv("TLR_BACKEND_URL", cfg.URLs.Backend), "/")
	return nil
}

// Validate rejects settings the evaluators cannot work with.
func (c Config) Validate() error {
	var errs []error
	if c.Pagination.Default < 1 || c.Pagination.Max < c.Pagination.Default {
		errs = append(errs, fmt.Errorf("pagination: default %d must be between 1 and max %d", c.Pagination.Default, c.Pagination.Max))
	}
	w := c.Windows
	if w.StaleFrom < 0 || w.StaleTo < w.StaleFrom {
		errs = append(errs, fmt.Errorf("windows: stale range [%d, %d] is invalid", w.StaleFrom, w.StaleTo))
	}
	if w.EscalateAfter < 1 {
		errs = append(errs, errors.New("windows: escalate_after must be positive"))
	}
	if w.RetentionMonths < 1 {
		errs = append(errs, errors.New("windows: referral_retention must be positive"))
	}
	for name, spec := range map[string]string{
		"stale_services":        c.Schedule.StaleServices,
		"auto_delete_referrals": c.Schedule.AutoDeleteReferrals,
	} {
		if _, err := cron.ParseStandard(spec); err != nil {
			errs = append(errs, fmt.Errorf("schedule: %s: %w", name, err))
		}
	}
	switch c.Search.Driver {
	case SearchDriverNull, SearchDriverElastic:
	default:
		errs = append(errs, fmt.Errorf("search: unknown driver %q", c.Search.Driver))
	}
	return errors.Join(errs...)
}

// TemplateID returns the configured template id for key.
func (m MailConfig) TemplateID(key string) string {
	if id, ok := m.TemplateIDs[key]; ok && id != "" {
		return id
	}
	return key
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
