//go:build !integration

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalDaraja = `
mpesa:
  consumer_key: key
  consumer_secret: secret
  shortcode: "174379"
  passkey: pass
  callback_url: https://example.com/payments/callback
`

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalDaraja))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Mpesa.BaseURL != "https://sandbox.safaricom.co.ke" {
		t.Errorf("unexpected base url %q", cfg.Mpesa.BaseURL)
	}
	if cfg.Mpesa.PartyB != "174379" {
		t.Errorf("expected party_b to default to shortcode, got %q", cfg.Mpesa.PartyB)
	}
	if cfg.Mpesa.Timeout != 15*time.Second {
		t.Errorf("expected 15s gateway timeout, got %v", cfg.Mpesa.Timeout)
	}
	if cfg.Store.Driver != "memory" {
		t.Errorf("expected memory store, got %q", cfg.Store.Driver)
	}
	if cfg.Store.Retention != 0 {
		t.Errorf("expected retention disabled by default, got %v", cfg.Store.Retention)
	}
}

func TestParse_ProductionBaseURL(t *testing.T) {
	cfg, err := Parse([]byte(minimalDaraja + "  environment: production\n"))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.Mpesa.BaseURL != "https://api.safaricom.co.ke" {
		t.Errorf("unexpected base url %q", cfg.Mpesa.BaseURL)
	}
}

func TestParse_ExpandsEnv(t *testing.T) {
	t.Setenv("TEST_MPESA_SECRET", "from-env")
	doc := strings.Replace(minimalDaraja, "consumer_secret: secret", "consumer_secret: ${TEST_MPESA_SECRET}", 1)

	cfg, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.Mpesa.ConsumerSecret != "from-env" {
		t.Errorf("expected secret from env, got %q", cfg.Mpesa.ConsumerSecret)
	}
}

func TestParse_Validation(t *testing.T) {
	cases := map[string]string{
		"missing credentials": `
mpesa:
  shortcode: "1"
  passkey: p
  callback_url: https://x.test/cb
`,
		"relative callback": `
mpesa:
  gateway: noop
  callback_url: /payments/callback
`,
		"redis without url": `
mpesa:
  gateway: noop
  callback_url: https://x.test/cb
store:
  driver: redis
`,
		"unknown driver": `
mpesa:
  gateway: noop
  callback_url: https://x.test/cb
store:
  driver: mongo
`,
		"rate limit without redis": `
mpesa:
  gateway: noop
  callback_url: https://x.test/cb
rate_limit:
  per_phone: 3
`,
		"events without brokers": `
mpesa:
  gateway: noop
  callback_url: https://x.test/cb
events:
  enabled: true
`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(doc)); err == nil {
				t.Fatal("expected a validation error, got nil")
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(minimalDaraja), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path, true)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !cfg.Runtime.Dev {
		t.Error("expected dev flag to be carried into runtime config")
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"), false); err == nil {
		t.Error("expected error for missing file")
	}
}
