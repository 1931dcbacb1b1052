package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tidemark/mdbridge/errs"
)

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default settings invalid: %v", err)
	}
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := []byte(`
env: production
gateway:
  url: wss://gw.example.com/ws
  client_id: "gw-7"
bridge:
  client_id: md-prod
  connect_timeout: 30s
  request_timeout: 90s
  market_data_type: delayed
directory:
  dsn: postgres://md:md@localhost:5432/md
  tick_capacity: 5000
`)
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatal(err)
	}

	settings, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if settings.Gateway.URL != "wss://gw.example.com/ws" {
		t.Fatalf("gateway url = %q", settings.Gateway.URL)
	}
	if settings.Gateway.ClientID != "gw-7" {
		t.Fatalf("gateway client id = %q", settings.Gateway.ClientID)
	}
	if settings.Bridge.ConnectTimeout.Std() != 30*time.Second {
		t.Fatalf("connect timeout = %v", settings.Bridge.ConnectTimeout)
	}
	if settings.Bridge.RequestTimeout.Std() != 90*time.Second {
		t.Fatalf("request timeout = %v", settings.Bridge.RequestTimeout)
	}
	if settings.Bridge.MarketDataType != "delayed" {
		t.Fatalf("market data type = %q", settings.Bridge.MarketDataType)
	}
	if settings.Directory.TickCapacity != 5000 {
		t.Fatalf("tick capacity = %d", settings.Directory.TickCapacity)
	}
	// Untouched fields keep defaults.
	if settings.Gateway.CallsPerSecond != 45 {
		t.Fatalf("calls per second = %v", settings.Gateway.CallsPerSecond)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("bridge:\n  client_id: from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MDBRIDGE_CLIENT_ID", "from-env")
	t.Setenv("MDBRIDGE_USE_RTH", "true")
	t.Setenv("MDBRIDGE_READY_TIMEOUT", "2s")
	t.Setenv("MDBRIDGE_REQUEST_TIMEOUT", "45s")

	settings, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if settings.Bridge.ClientID != "from-env" {
		t.Fatalf("client id = %q, want env override", settings.Bridge.ClientID)
	}
	if !settings.Bridge.UseRTH {
		t.Fatal("use_rth override not applied")
	}
	if settings.Bridge.ReadyTimeout.Std() != 2*time.Second {
		t.Fatalf("ready timeout = %v", settings.Bridge.ReadyTimeout)
	}
	if settings.Bridge.RequestTimeout.Std() != 45*time.Second {
		t.Fatalf("request timeout = %v", settings.Bridge.RequestTimeout)
	}
}

func TestLoadRejectsBadEnvValue(t *testing.T) {
	t.Setenv("MDBRIDGE_TICK_CAPACITY", "not-a-number")
	_, err := Load("")
	if errs.CodeOf(err) != errs.CodeInvalid {
		t.Fatalf("code = %q, want %q", errs.CodeOf(err), errs.CodeInvalid)
	}
}

func TestValidateRejectsUnknownMarketDataType(t *testing.T) {
	settings := Default()
	settings.Bridge.MarketDataType = "psychic"
	if err := settings.Validate(); errs.CodeOf(err) != errs.CodeInvalid {
		t.Fatalf("expected invalid settings, got %v", err)
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if errs.CodeOf(err) != errs.CodeInvalid {
		t.Fatalf("code = %q, want %q", errs.CodeOf(err), errs.CodeInvalid)
	}
}
