// Package config loads the YAML configuration for ircsasl: which
// servers to authenticate against, with which mechanism and
// credentials, and (for PLAIN) an optional password file that can be
// rotated on disk without restarting the process. Load validates and
// applies defaults after substituting ${VAR} environment references;
// Watcher and PasswordWatcher hot-reload from fsnotify events and log
// through the caller's zerolog.Logger.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/mitchr/gossip-sasl/sasl"
)

// Config is the top-level ircsasl configuration: the servers to
// authenticate against and where to keep the audit log.
type Config struct {
	AuditDB string         `yaml:"audit_db"`
	Servers []ServerConfig `yaml:"servers"`
}

// ServerConfig describes one server to authenticate against.
type ServerConfig struct {
	Name         string        `yaml:"name"`
	Addr         string        `yaml:"addr"`
	TLS          bool          `yaml:"tls"`
	Mechanism    string        `yaml:"mechanism"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	PasswordFile string        `yaml:"password_file"`
	Timeout      time.Duration `yaml:"timeout"`
}

// Credentials resolves this server's sasl.Mechanism and
// sasl.Credentials, reading PasswordFile if Password was left empty.
func (s ServerConfig) Credentials() (sasl.Mechanism, sasl.Credentials, error) {
	mech, err := parseMechanism(s.Mechanism)
	if err != nil {
		return 0, sasl.Credentials{}, fmt.Errorf("server %q: %w", s.Name, err)
	}

	if mech == sasl.External {
		return mech, sasl.Credentials{}, nil
	}

	password := s.Password
	if password == "" && s.PasswordFile != "" {
		raw, err := os.ReadFile(s.PasswordFile)
		if err != nil {
			return 0, sasl.Credentials{}, fmt.Errorf("server %q: reading password_file: %w", s.Name, err)
		}
		password = strings.TrimRight(string(raw), "\r\n")
	}

	return mech, sasl.Credentials{Username: s.Username, Password: password}, nil
}

func parseMechanism(name string) (sasl.Mechanism, error) {
	switch strings.ToUpper(name) {
	case "PLAIN":
		return sasl.Plain, nil
	case "EXTERNAL":
		return sasl.External, nil
	default:
		return 0, fmt.Errorf("unsupported mechanism %q", name)
	}
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

func substituteEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := envVarPattern.FindSubmatch(match)[1]
		if val, ok := os.LookupEnv(string(name)); ok {
			return []byte(val)
		}
		return match
	})
}

// Load reads and parses a YAML config file, substituting ${VAR}
// environment references before unmarshaling.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	data = substituteEnvVars(data)

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.AuditDB == "" {
		cfg.AuditDB = "ircsasl.db"
	}
	for i := range cfg.Servers {
		if cfg.Servers[i].Timeout == 0 {
			cfg.Servers[i].Timeout = sasl.Timeout
		}
	}
}

func validate(cfg *Config) error {
	for _, s := range cfg.Servers {
		if s.Name == "" {
			return fmt.Errorf("server entry missing name")
		}
		if s.Addr == "" {
			return fmt.Errorf("server %q: addr is required", s.Name)
		}
		if _, err := parseMechanism(s.Mechanism); err != nil {
			return fmt.Errorf("server %q: %w", s.Name, err)
		}
	}
	return nil
}

// PasswordWatcher watches one server's password_file for changes and
// calls back with the refreshed sasl.Credentials. It is separate from
// the whole-config Watcher below because a password file rotates far
// more often than the server list and must not force a full reload.
type PasswordWatcher struct {
	server  ServerConfig
	onLoad  func(sasl.Credentials)
	watcher *fsnotify.Watcher
	log     zerolog.Logger
	stopCh  chan struct{}
}

// WatchPassword starts watching s.PasswordFile. It is an error if s
// has no PasswordFile configured.
func WatchPassword(s ServerConfig, onLoad func(sasl.Credentials), logger zerolog.Logger) (*PasswordWatcher, error) {
	if s.PasswordFile == "" {
		return nil, fmt.Errorf("server %q: no password_file configured", s.Name)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating password watcher: %w", err)
	}
	if err := w.Add(s.PasswordFile); err != nil {
		w.Close()
		return nil, fmt.Errorf("watching password_file: %w", err)
	}

	pw := &PasswordWatcher{
		server:  s,
		onLoad:  onLoad,
		watcher: w,
		log:     logger.With().Str("component", "password-watcher").Str("server", s.Name).Logger(),
		stopCh:  make(chan struct{}),
	}
	go pw.run()
	return pw, nil
}

func (pw *PasswordWatcher) run() {
	var debounce *time.Timer
	for {
		select {
		case event, ok := <-pw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(250*time.Millisecond, pw.reload)
			}
		case err, ok := <-pw.watcher.Errors:
			if !ok {
				return
			}
			pw.log.Error().Err(err).Msg("password watcher error")
		case <-pw.stopCh:
			return
		}
	}
}

func (pw *PasswordWatcher) reload() {
	_, cred, err := pw.server.Credentials()
	if err != nil {
		pw.log.Error().Err(err).Msg("password reload failed")
		return
	}
	pw.log.Info().Msg("password reloaded")
	pw.onLoad(cred)
}

// Stop stops the watcher.
func (pw *PasswordWatcher) Stop() error {
	close(pw.stopCh)
	return pw.watcher.Close()
}

// Watcher watches the whole config file and calls back with the
// reparsed Config, for server-list changes (added/removed/retargeted
// servers) rather than password rotation.
type Watcher struct {
	path     string
	callback func(*Config)
	watcher  *fsnotify.Watcher
	log      zerolog.Logger
	mu       sync.Mutex
	stopCh   chan struct{}
}

// NewWatcher starts watching path for changes and calls callback with
// each successfully reparsed Config.
func NewWatcher(path string, callback func(*Config), logger zerolog.Logger) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return nil, fmt.Errorf("watching config file: %w", err)
	}

	cw := &Watcher{
		path:     path,
		callback: callback,
		watcher:  w,
		log:      logger.With().Str("component", "config-watcher").Logger(),
		stopCh:   make(chan struct{}),
	}
	go cw.run()
	return cw, nil
}

func (cw *Watcher) run() {
	var debounce *time.Timer
	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, cw.reload)
			}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			cw.log.Error().Err(err).Msg("config watcher error")
		case <-cw.stopCh:
			return
		}
	}
}

func (cw *Watcher) reload() {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cfg, err := Load(cw.path)
	if err != nil {
		cw.log.Error().Err(err).Msg("config hot-reload failed")
		return
	}
	cw.log.Info().Str("path", cw.path).Msg("configuration reloaded")
	cw.callback(cfg)
}

// Stop stops the config watcher.
func (cw *Watcher) Stop() error {
	close(cw.stopCh)
	return cw.watcher.Close()
}
