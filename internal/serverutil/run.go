// Package serverutil owns the listener lifecycle for the upload API: bind,
// optional TLS, readiness signalling, and context-driven graceful shutdown.
package serverutil

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// TLSConfig holds the certificate material for a TLS listener. MinVersion
// defaults to TLS 1.2 when unset.
type TLSConfig struct {
	CertFile   string
	KeyFile    string
	MinVersion uint16
}

func (c TLSConfig) enabled() bool {
	return c.CertFile != "" || c.KeyFile != ""
}

func (c TLSConfig) validate() error {
	if (c.CertFile == "") != (c.KeyFile == "") {
		return errors.New("tls cert and key must be configured together")
	}
	return nil
}

// Config describes one serving run of an upload API server.
type Config struct {
	Server          *http.Server
	TLS             TLSConfig
	ShutdownTimeout time.Duration
	Ready           chan<- struct{}
}

// DefaultShutdownTimeout bounds graceful shutdown after the run context is
// cancelled. In-flight multipart transfers past this deadline are dropped.
const DefaultShutdownTimeout = 10 * time.Second

// Run binds the listener, closes Ready once it is accepting, and blocks until
// the server stops. Cancelling ctx triggers a graceful shutdown bounded by
// ShutdownTimeout; a clean close returns nil.
func Run(ctx context.Context, cfg Config) error {
	if cfg.Server == nil {
		return fmt.Errorf("http server is required")
	}
	if err := cfg.TLS.validate(); err != nil {
		return err
	}

	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}

	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return err
	}

	if cfg.TLS.enabled() {
		tlsCfg, err := buildTLSConfig(cfg.Server.TLSConfig, cfg.TLS)
		if err != nil {
			ln.Close()
			return err
		}
		cfg.Server.TLSConfig = tlsCfg
		ln = tls.NewListener(ln, tlsCfg)
	}

	if cfg.Ready != nil {
		close(cfg.Ready)
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- cfg.Server.Serve(ln)
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	shutdownErr := cfg.Server.Shutdown(shutdownCtx)

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-shutdownCtx.Done():
		if shutdownErr != nil {
			return shutdownErr
		}
		return shutdownCtx.Err()
	}

	return shutdownErr
}

// buildTLSConfig layers the loaded certificate and the minimum-version floor
// onto the server's existing TLS configuration, if any.
func buildTLSConfig(base *tls.Config, cfg TLSConfig) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load tls key pair: %w", err)
	}

	tlsCfg := &tls.Config{}
	if base != nil {
		tlsCfg = base.Clone()
	}
	tlsCfg.Certificates = append([]tls.Certificate{cert}, tlsCfg.Certificates...)
	if tlsCfg.MinVersion == 0 {
		tlsCfg.MinVersion = cfg.MinVersion
	}
	if tlsCfg.MinVersion == 0 {
		tlsCfg.MinVersion = tls.VersionTLS12
	}
	return tlsCfg, nil
}
