package config

import (
	"strings"
	"testing"
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
	if cfg.SnapshotInterval != defaultSnapshotInterval {
		t.Fatalf("unexpected snapshot interval: %d", cfg.SnapshotInterval)
	}
	if cfg.SessionCookieName != defaultCookieName {
		t.Fatalf("unexpected cookie name: %s", cfg.SessionCookieName)
	}
}

func TestLoadRequiresSigningSecret(t *testing.T) {
	configViper := NewViper()

	if _, err := Load(configViper); err == nil || !strings.Contains(err.Error(), "signing_secret") {
		t.Fatalf("expected signing secret error, got %v", err)
	}
}

func TestLoadRejectsBadSnapshotInterval(t *testing.T) {
	configViper := NewViper()
	configViper.Set("session.signing_secret", "secret")
	configViper.Set("versioning.snapshot_interval", 0)

	if _, err := Load(configViper); err == nil || !strings.Contains(err.Error(), "snapshot_interval") {
		t.Fatalf("expected snapshot interval error, got %v", err)
	}
}
