package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix            = "NEWSDESK"
	defaultHTTPAddress   = "0.0.0.0:8080"
	defaultDatabasePath  = "newsdesk.db"
	defaultLogLevel      = "info"
	defaultCookieName    = "newsdesk_session"
	defaultSessionIssuer = "lumeo-id"
	defaultGraphBaseURL  = "https://graph.facebook.com/v21.0"
	defaultTargetLocale  = "EN"
	defaultPollInterval  = 5 * time.Second
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress string
	LogLevel    string

	DatabasePath string

	SessionSigningKey string
	SessionIssuer     string
	SessionCookieName string

	GraphBaseURL       string
	FacebookPageID     string
	InstagramAccountID string

	StorageRegion    string
	StorageBucket    string
	StorageAccessKey string
	StorageSecretKey string
	StorageEndpoint  string

	TranslateEndpoint string
	TranslateAuthKey  string
	TargetLocale      string

	VAPIDPublicKey  string
	VAPIDPrivateKey string
	PushSubscriber  string

	PollInterval time.Duration
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
	configViper.SetDefault("session.cookie_name", defaultCookieName)
	configViper.SetDefault("session.issuer", defaultSessionIssuer)
	configViper.SetDefault("graph.base_url", defaultGraphBaseURL)
	configViper.SetDefault("translate.target_locale", defaultTargetLocale)
	configViper.SetDefault("realtime.poll_interval", defaultPollInterval)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:        configViper.GetString("http.address"),
		LogLevel:           configViper.GetString("log.level"),
		DatabasePath:       configViper.GetString("database.path"),
		SessionSigningKey:  configViper.GetString("session.signing_secret"),
		SessionIssuer:      configViper.GetString("session.issuer"),
		SessionCookieName:  configViper.GetString("session.cookie_name"),
		GraphBaseURL:       configViper.GetString("graph.base_url"),
		FacebookPageID:     configViper.GetString("facebook.page_id"),
		InstagramAccountID: configViper.GetString("instagram.account_id"),
		StorageRegion:      configViper.GetString("storage.region"),
		StorageBucket:      configViper.GetString("storage.bucket"),
		StorageAccessKey:   configViper.GetString("storage.access_key"),
		StorageSecretKey:   configViper.GetString("storage.secret_key"),
		StorageEndpoint:    configViper.GetString("storage.endpoint"),
		TranslateEndpoint:  configViper.GetString("translate.endpoint"),
		TranslateAuthKey:   configViper.GetString("translate.auth_key"),
		TargetLocale:       configViper.GetString("translate.target_locale"),
		VAPIDPublicKey:     configViper.GetString("push.vapid_public_key"),
		VAPIDPrivateKey:    configViper.GetString("push.vapid_private_key"),
		PushSubscriber:     configViper.GetString("push.subscriber"),
		PollInterval:       configViper.GetDuration("realtime.poll_interval"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// Platform, storage, translation and push settings are optional: the matching
// component is simply left unconfigured when its keys are absent.
func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SessionSigningKey) == "" {
		return fmt.Errorf("session.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.SessionCookieName) == "" {
		return fmt.Errorf("session.cookie_name is required")
	}
	if (c.VAPIDPublicKey == "") != (c.VAPIDPrivateKey == "") {
		return fmt.Errorf("push.vapid_public_key and push.vapid_private_key must be set together")
	}
	if c.PollInterval < 0 {
		return fmt.Errorf("realtime.poll_interval must not be negative")
	}
	return nil
}
