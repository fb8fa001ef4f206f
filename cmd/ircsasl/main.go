// Command ircsasl drives SASL authentication against one or more
// configured IRC servers and reports outcomes: a cobra root command
// that wires a config file to the library packages and keeps running
// to serve a debug HTTP endpoint.
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/mitchr/gossip-sasl/audit"
	"github.com/mitchr/gossip-sasl/client"
	"github.com/mitchr/gossip-sasl/config"
	"github.com/mitchr/gossip-sasl/metrics"
	"github.com/mitchr/gossip-sasl/sasl"
)

var rootCmd = &cobra.Command{
	Use:   "ircsasl",
	Short: "Authenticate to one or more IRC servers over SASL and report the outcome",
	RunE:  run,
}

var (
	configPath string
	debugAddr  string
	logLevel   string
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "ircsasl.yaml", "path to the server configuration file")
	flags.StringVar(&debugAddr, "debug-addr", "127.0.0.1:9090", "address to serve /metrics and /healthz on")
	flags.StringVar(&logLevel, "log-level", "info", "zerolog level: debug, info, warn, error")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("execute root command")
	}
}

func run(cmd *cobra.Command, args []string) error {
	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("parsing log level: %w", err)
	}
	zerolog.SetGlobalLevel(level)
	logger := log.Logger

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	auditLog, err := audit.Open(cfg.AuditDB, 100)
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}
	defer auditLog.Close()

	sup := newSupervisor(metrics.New(), auditLog, logger)
	sup.reload(cfg)

	watcher, err := config.NewWatcher(configPath, sup.reload, logger)
	if err != nil {
		return fmt.Errorf("watching config: %w", err)
	}
	defer watcher.Stop()

	go serveDebug(debugAddr, sup.collector, logger)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	sup.stopAll()
	return nil
}

// supervisor keeps one in-flight SASL attempt per configured server
// and restarts the whole set whenever config.Watcher delivers a
// reparsed Config: every previous attempt is canceled before its
// replacement (if any) is started, so a server removed from the
// config file stops being dialed and a server with edited credentials
// picks up the new ones on its next connection.
type supervisor struct {
	collector *metrics.Collector
	auditLog  *audit.Log
	logger    zerolog.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func newSupervisor(collector *metrics.Collector, auditLog *audit.Log, logger zerolog.Logger) *supervisor {
	return &supervisor{
		collector: collector,
		auditLog:  auditLog,
		logger:    logger,
		cancels:   make(map[string]context.CancelFunc),
	}
}

func (s *supervisor) reload(cfg *config.Config) {
	s.stopAll()

	for i := range cfg.Servers {
		srv := cfg.Servers[i]
		mech, cred, err := srv.Credentials()
		if err != nil {
			s.logger.Error().Err(err).Str("server", srv.Name).Msg("skipping server with invalid credentials")
			continue
		}
		if cred.Password == "" && srv.PasswordFile == "" && mech == sasl.Plain {
			cred.Password, err = promptPassword(srv.Name, srv.Username)
			if err != nil {
				s.logger.Error().Err(err).Str("server", srv.Name).Msg("skipping server")
				continue
			}
		}

		ctx, cancel := context.WithCancel(context.Background())
		s.mu.Lock()
		s.cancels[srv.Name] = cancel
		s.mu.Unlock()

		go s.authenticate(ctx, srv, mech, cred)
	}
}

// stopAll cancels every attempt started by the previous reload.
func (s *supervisor) stopAll() {
	s.mu.Lock()
	cancels := s.cancels
	s.cancels = make(map[string]context.CancelFunc)
	s.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

func (s *supervisor) authenticate(ctx context.Context, srv config.ServerConfig, mech sasl.Mechanism, cred sasl.Credentials) {
	var tlsConfig *tls.Config
	if srv.TLS {
		tlsConfig = &tls.Config{ServerName: hostOnly(srv.Addr)}
	}

	c, err := client.Dial(srv.Addr, tlsConfig, client.Profile{Mechanism: mech, Cred: cred}, s.logger)
	if err != nil {
		s.logger.Error().Err(err).Str("server", srv.Name).Msg("dial failed")
		return
	}
	defer c.Disconnect()

	c.Metrics = s.collector
	c.Audit = s.auditLog

	done := make(chan client.Outcome, 1)
	c.OnOutcome = func(o client.Outcome) { done <- o }

	go func() {
		for {
			line, err := c.ReadLine()
			if err != nil {
				return
			}
			c.HandleLine(line)
		}
	}()

	c.Negotiate()

	select {
	case o := <-done:
		s.logger.Info().Str("server", srv.Name).Bool("success", o.Success).Str("reason", o.Reason).Msg("sasl attempt finished")
	case <-time.After(srv.Timeout + 5*time.Second):
		s.logger.Error().Str("server", srv.Name).Msg("sasl attempt never reached a terminal outcome")
	case <-ctx.Done():
		s.logger.Info().Str("server", srv.Name).Msg("sasl attempt canceled by config reload")
	}
}

func hostOnly(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

func promptPassword(server, username string) (string, error) {
	fmt.Fprintf(os.Stderr, "password for %s@%s: ", username, server)
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(pw), nil
}

func serveDebug(addr string, collector *metrics.Collector, logger zerolog.Logger) {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(collector.Registry, promhttp.HandlerOpts{}))
	r.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	logger.Info().Str("addr", addr).Msg("serving debug endpoints")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("debug server stopped")
	}
}
