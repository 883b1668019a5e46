package config

import (
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	configViper := NewViper()
	configViper.Set("session.signing_secret", "secret")

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected load failure: %v", err)
	}
	if cfg.HTTPAddress != defaultHTTPAddress {
		t.Fatalf("unexpected http address: %s", cfg.HTTPAddress)
	}
	if cfg.DatabasePath != defaultDatabasePath {
		t.Fatalf("unexpected database path: %s", cfg.DatabasePath)
	}
	if cfg.SessionCookieName != defaultCookieName {
		t.Fatalf("unexpected cookie name: %s", cfg.SessionCookieName)
	}
	if cfg.GraphBaseURL != defaultGraphBaseURL {
		t.Fatalf("unexpected graph base url: %s", cfg.GraphBaseURL)
	}
	if cfg.PollInterval != 5*time.Second {
		t.Fatalf("unexpected poll interval: %s", cfg.PollInterval)
	}
}

func TestLoadRequiresSigningSecret(t *testing.T) {
	configViper := NewViper()

	if _, err := Load(configViper); err == nil {
		t.Fatal("expected failure without signing secret")
	}
}

func TestLoadRejectsHalfConfiguredVAPIDPair(t *testing.T) {
	configViper := NewViper()
	configViper.Set("session.signing_secret", "secret")
	configViper.Set("push.vapid_public_key", "public-only")

	if _, err := Load(configViper); err == nil {
		t.Fatal("expected failure with only half the keypair")
	}
}

func TestLoadReadsOverrides(t *testing.T) {
	configViper := NewViper()
	configViper.Set("session.signing_secret", "secret")
	configViper.Set("facebook.page_id", "page-1")
	configViper.Set("instagram.account_id", "ig-1")
	configViper.Set("storage.bucket", "newsdesk-media")
	configViper.Set("realtime.poll_interval", "15s")

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected load failure: %v", err)
	}
	if cfg.FacebookPageID != "page-1" || cfg.InstagramAccountID != "ig-1" {
		t.Fatalf("platform ids not read: %+v", cfg)
	}
	if cfg.StorageBucket != "newsdesk-media" {
		t.Fatalf("storage bucket not read: %s", cfg.StorageBucket)
	}
	if cfg.PollInterval != 15*time.Second {
		t.Fatalf("poll interval not read: %s", cfg.PollInterval)
	}
}
