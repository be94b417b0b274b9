package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix            = "MIRROR"
	defaultHTTPAddress   = "0.0.0.0:4545"
	defaultDatabasePath  = "time_tracking.sqlite"
	defaultLogLevel      = "info"
	defaultTogglBaseURL  = "https://api.track.toggl.com"
	defaultSyncStartDate = "2020-01-01"
	defaultRecentDays    = 7
	defaultPageSize      = 100
)

// AppConfig captures runtime configuration for the mirror API server.
type AppConfig struct {
	HTTPAddress  string
	DatabasePath string
	LogLevel     string
	LogFile      string

	TogglAPIToken    string
	TogglWorkspaceID string
	TogglBaseURL     string

	SyncStartDate  time.Time
	SyncRecentDays int
	SyncPageSize   int64

	AuthDisabled       bool
	ServiceTokenID     string
	ServiceTokenSecret string
	AccessTeamDomain   string
	AccessAudience     string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.file", "")
	configViper.SetDefault("toggl.base_url", defaultTogglBaseURL)
	configViper.SetDefault("sync.start_date", defaultSyncStartDate)
	configViper.SetDefault("sync.recent_days", defaultRecentDays)
	configViper.SetDefault("sync.page_size", defaultPageSize)
	configViper.SetDefault("auth.disabled", false)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:        configViper.GetString("http.address"),
		DatabasePath:       configViper.GetString("database.path"),
		LogLevel:           configViper.GetString("log.level"),
		LogFile:            configViper.GetString("log.file"),
		TogglAPIToken:      configViper.GetString("toggl.api_token"),
		TogglWorkspaceID:   configViper.GetString("toggl.workspace_id"),
		TogglBaseURL:       configViper.GetString("toggl.base_url"),
		SyncRecentDays:     configViper.GetInt("sync.recent_days"),
		SyncPageSize:       configViper.GetInt64("sync.page_size"),
		AuthDisabled:       configViper.GetBool("auth.disabled"),
		ServiceTokenID:     configViper.GetString("auth.service_token_id"),
		ServiceTokenSecret: configViper.GetString("auth.service_token_secret"),
		AccessTeamDomain:   configViper.GetString("auth.team_domain"),
		AccessAudience:     configViper.GetString("auth.audience"),
	}

	startDate, err := time.Parse(time.DateOnly, configViper.GetString("sync.start_date"))
	if err != nil {
		return AppConfig{}, fmt.Errorf("sync.start_date must be a YYYY-MM-DD date: %w", err)
	}
	cfg.SyncStartDate = startDate.UTC()

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.SyncRecentDays < 1 {
		return fmt.Errorf("sync.recent_days must be at least 1")
	}
	if c.SyncPageSize < 1 {
		return fmt.Errorf("sync.page_size must be at least 1")
	}

	tokenID := strings.TrimSpace(c.ServiceTokenID)
	tokenSecret := strings.TrimSpace(c.ServiceTokenSecret)
	if (tokenID == "") != (tokenSecret == "") {
		return fmt.Errorf("auth.service_token_id and auth.service_token_secret must be set together")
	}

	teamDomain := strings.TrimSpace(c.AccessTeamDomain)
	audience := strings.TrimSpace(c.AccessAudience)
	if (teamDomain == "") != (audience == "") {
		return fmt.Errorf("auth.team_domain and auth.audience must be set together")
	}

	return nil
}
