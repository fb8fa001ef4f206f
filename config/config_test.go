package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/mitchr/gossip-sasl/sasl"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing temp file: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	yaml := `
audit_db: /var/lib/ircsasl/audit.db
servers:
  - name: freenode
    addr: chat.freenode.net:6697
    tls: true
    mechanism: PLAIN
    username: alice
    password: hunter2
  - name: oftc
    addr: irc.oftc.net:6697
    tls: true
    mechanism: EXTERNAL
`
	path := writeTemp(t, "config.yaml", yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(cfg.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %d", len(cfg.Servers))
	}
	if cfg.Servers[0].Timeout != sasl.Timeout {
		t.Errorf("expected default timeout %v, got %v", sasl.Timeout, cfg.Servers[0].Timeout)
	}

	mech, cred, err := cfg.Servers[0].Credentials()
	if err != nil {
		t.Fatalf("Credentials: %v", err)
	}
	if mech != sasl.Plain || cred.Username != "alice" || cred.Password != "hunter2" {
		t.Errorf("got mech=%v cred=%+v", mech, cred)
	}

	mech, _, err = cfg.Servers[1].Credentials()
	if err != nil {
		t.Fatalf("Credentials: %v", err)
	}
	if mech != sasl.External {
		t.Errorf("expected External, got %v", mech)
	}
}

func TestLoadRejectsUnsupportedMechanism(t *testing.T) {
	path := writeTemp(t, "config.yaml", `
servers:
  - name: bad
    addr: irc.example.org:6697
    mechanism: SCRAM-SHA-256
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for an unsupported mechanism")
	}
}

func TestCredentialsReadsPasswordFile(t *testing.T) {
	pwPath := writeTemp(t, "password", "s3cret\n")

	s := ServerConfig{Name: "x", Addr: "irc.example.org:6697", Mechanism: "PLAIN", Username: "bob", PasswordFile: pwPath}
	_, cred, err := s.Credentials()
	if err != nil {
		t.Fatalf("Credentials: %v", err)
	}
	if cred.Password != "s3cret" {
		t.Fatalf("got password %q", cred.Password)
	}
}

func TestEnvVarSubstitution(t *testing.T) {
	os.Setenv("IRCSASL_TEST_PASSWORD", "from-env")
	defer os.Unsetenv("IRCSASL_TEST_PASSWORD")

	path := writeTemp(t, "config.yaml", `
servers:
  - name: x
    addr: irc.example.org:6697
    mechanism: PLAIN
    username: bob
    password: ${IRCSASL_TEST_PASSWORD}
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Servers[0].Password != "from-env" {
		t.Fatalf("got password %q", cfg.Servers[0].Password)
	}
}

func TestPasswordWatcherReloadsOnWrite(t *testing.T) {
	pwPath := writeTemp(t, "password", "first\n")
	s := ServerConfig{Name: "x", Addr: "irc.example.org:6697", Mechanism: "PLAIN", Username: "bob", PasswordFile: pwPath}

	got := make(chan sasl.Credentials, 1)
	w, err := WatchPassword(s, func(c sasl.Credentials) { got <- c }, zerolog.Nop())
	if err != nil {
		t.Fatalf("WatchPassword: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(pwPath, []byte("second\n"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	select {
	case cred := <-got:
		if cred.Password != "second" {
			t.Fatalf("got password %q", cred.Password)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for password reload")
	}
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	path := writeTemp(t, "config.yaml", `
servers:
  - name: x
    addr: irc.example.org:6697
    mechanism: PLAIN
    username: bob
    password: first
`)

	got := make(chan *Config, 1)
	w, err := NewWatcher(path, func(c *Config) { got <- c }, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	updated := `
servers:
  - name: x
    addr: irc.example.org:6697
    mechanism: PLAIN
    username: bob
    password: second
  - name: y
    addr: irc.oftc.net:6697
    mechanism: EXTERNAL
`
	if err := os.WriteFile(path, []byte(updated), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	select {
	case cfg := <-got:
		if len(cfg.Servers) != 2 {
			t.Fatalf("expected 2 servers after reload, got %d", len(cfg.Servers))
		}
		if cfg.Servers[0].Password != "second" {
			t.Fatalf("got password %q", cfg.Servers[0].Password)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}
