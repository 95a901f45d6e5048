package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	return path
}

func TestLoadFull(t *testing.T) {
	path := writeConfig(t, `
listeners:
  - port: 8000
    bind_address: 127.0.0.1
    backlog: 32
    so_sndbuf: 65536
  - port: 8001
    shoutcast_compat: true
    shoutcast_mount: /live
  - port: 8443
    tls: true
cert_file: /etc/streamgate/cert.pem
ban_file: /etc/streamgate/ban.txt
allow_file: /etc/streamgate/allow.txt
agent_file: /etc/streamgate/agents.txt
header_timeout: 10
client_limit: 500
admin_user: admin
admin_password: hackme
relay_user: relay
relay_password: relaypw
source_password: sourcepw
ice_login: true
xforward:
  - 10.0.0.1
aliases:
  - source: /all
    destination: /status.xsl
    port: 8000
access_log:
  exclude_ext: gif jpg css
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if len(cfg.Listeners) != 3 {
		t.Fatalf("expected 3 listeners, got %d", len(cfg.Listeners))
	}
	if cfg.Listeners[0].Port != 8000 || cfg.Listeners[0].BindAddress != "127.0.0.1" {
		t.Error("first listener fields wrong")
	}
	if !cfg.Listeners[1].ShoutcastCompat || cfg.Listeners[1].ShoutcastMount != "/live" {
		t.Error("shoutcast listener fields wrong")
	}
	if !cfg.Listeners[2].TLS {
		t.Error("tls listener flag lost")
	}
	if cfg.HeaderTimeout != 10 || cfg.ClientLimit != 500 {
		t.Error("timeouts/limits wrong")
	}
	if cfg.AdminUser != "admin" || cfg.RelayPassword != "relaypw" {
		t.Error("credentials wrong")
	}
	if !cfg.IceLogin {
		t.Error("ice_login flag lost")
	}
	if len(cfg.XForward) != 1 || cfg.XForward[0] != "10.0.0.1" {
		t.Error("xforward list wrong")
	}
	if len(cfg.Aliases) != 1 || cfg.Aliases[0].Destination != "/status.xsl" {
		t.Error("aliases wrong")
	}
	if cfg.AccessLog.ExcludeExt != "gif jpg css" {
		t.Error("access log exclusion wrong")
	}
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
listeners:
  - port: 8000
  - port: 8001
    shoutcast_compat: true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.HeaderTimeout != DefaultHeaderTimeout {
		t.Errorf("expected default header timeout, got %d", cfg.HeaderTimeout)
	}
	if cfg.ClientLimit != DefaultClientLimit {
		t.Errorf("expected default client limit, got %d", cfg.ClientLimit)
	}
	if cfg.Listeners[0].Backlog != DefaultBacklog {
		t.Errorf("expected default backlog, got %d", cfg.Listeners[0].Backlog)
	}
	if cfg.Listeners[1].ShoutcastMount != "/stream" {
		t.Errorf("expected default shoutcast mount, got %q", cfg.Listeners[1].ShoutcastMount)
	}
}

func TestLoadRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"no listeners", `client_limit: 10`},
		{"bad port", "listeners:\n  - port: 99999\n"},
		{"bad yaml", `listeners: [`},
	}
	for _, tc := range tests {
		path := writeConfig(t, tc.content)
		if _, err := Load(path); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestStoreReplace(t *testing.T) {
	a := &Config{ClientLimit: 1}
	b := &Config{ClientLimit: 2}

	store := NewStore(a)
	if store.Get().ClientLimit != 1 {
		t.Error("initial snapshot wrong")
	}
	store.Replace(b)
	if store.Get().ClientLimit != 2 {
		t.Error("replacement snapshot not visible")
	}
}
