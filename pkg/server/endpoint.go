// Package server owns the TLS listener and the per-connection dispatch loop
// that routes each request to the normal response writer or the fault
// injector.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/getfaultd/faultd/pkg/fault"
	"github.com/getfaultd/faultd/pkg/keystore"
	"github.com/getfaultd/faultd/pkg/logging"
	"github.com/getfaultd/faultd/pkg/stub"
)

// ErrBind indicates the listening socket could not be bound. Fatal at
// startup; the endpoint does not start.
var ErrBind = errors.New("failed to bind listener")

// Default per-connection I/O bounds.
const (
	DefaultReadTimeout      = 10 * time.Second
	DefaultWriteTimeout     = 10 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
)

// Resolver maps a parsed request to a fault directive and, for the
// non-fault path, a response to write.
type Resolver interface {
	Resolve(*http.Request) (fault.Directive, *stub.Response)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(*http.Request) (fault.Directive, *stub.Response)

// Resolve implements Resolver.
func (f ResolverFunc) Resolve(r *http.Request) (fault.Directive, *stub.Response) {
	return f(r)
}

// Config holds the immutable endpoint configuration. Constructed once
// before Start; never mutated afterward.
type Config struct {
	// BindAddress is the interface to listen on. Empty means all interfaces.
	BindAddress string
	// Port is the TCP port for the TLS listener. 0 picks a free port.
	Port int
	// Identity is the server certificate and key. Required.
	Identity *keystore.ServerIdentity
	// TrustAnchors validate client certificates. Required when
	// RequireClientAuth is set.
	TrustAnchors *keystore.TrustAnchorSet
	// RequireClientAuth demands and verifies a client certificate during
	// the handshake. A missing or untrusted certificate terminates the
	// handshake; the connection never reaches dispatch.
	RequireClientAuth bool

	// ReadTimeout bounds reading one request. Defaults apply when zero.
	ReadTimeout time.Duration
	// WriteTimeout bounds writing the response or fault bytes.
	WriteTimeout time.Duration
	// HandshakeTimeout bounds the TLS handshake.
	HandshakeTimeout time.Duration
}

// Endpoint is a TLS listener serving one request/response exchange per
// accepted connection.
type Endpoint struct {
	cfg      Config
	resolver Resolver
	injector *fault.Injector
	log      *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	running  bool
	conns    sync.WaitGroup
}

// EndpointOption configures an Endpoint.
type EndpointOption func(*Endpoint)

// WithLogger sets the operational logger.
func WithLogger(log *slog.Logger) EndpointOption {
	return func(e *Endpoint) {
		if log != nil {
			e.log = log
		}
	}
}

// WithInjector replaces the default fault injector.
func WithInjector(inj *fault.Injector) EndpointOption {
	return func(e *Endpoint) {
		if inj != nil {
			e.injector = inj
		}
	}
}

// New validates the configuration and creates an Endpoint. The
// RequireClientAuth invariant is enforced here, before any socket exists.
func New(cfg Config, resolver Resolver, opts ...EndpointOption) (*Endpoint, error) {
	if cfg.Identity == nil {
		return nil, fmt.Errorf("%w: server identity is required", keystore.ErrConfiguration)
	}
	if cfg.RequireClientAuth && cfg.TrustAnchors == nil {
		return nil, fmt.Errorf("%w: requireClientAuth is set but no trust anchors are configured", keystore.ErrConfiguration)
	}
	if resolver == nil {
		return nil, fmt.Errorf("%w: resolver is required", keystore.ErrConfiguration)
	}

	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}

	e := &Endpoint{
		cfg:      cfg,
		resolver: resolver,
		log:      logging.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.injector == nil {
		e.injector = fault.NewInjector(
			fault.WithWriteTimeout(cfg.WriteTimeout),
			fault.WithLogger(e.log),
		)
	}
	return e, nil
}

// buildTLSConfig assembles the handshake configuration from the loaded
// identity and trust anchors.
func (e *Endpoint) buildTLSConfig() *tls.Config {
	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{e.cfg.Identity.Certificate()},
		MinVersion:   tls.VersionTLS12,
	}
	if e.cfg.RequireClientAuth {
		tlsCfg.ClientAuth = tls.RequireAndVerifyClientCert
		tlsCfg.ClientCAs = e.cfg.TrustAnchors.Pool()
	}
	return tlsCfg
}

// Start binds the listening socket and begins accepting connections.
// Binding failure returns ErrBind and the endpoint does not start.
func (e *Endpoint) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return fmt.Errorf("endpoint already started")
	}

	addr := net.JoinHostPort(e.cfg.BindAddress, fmt.Sprintf("%d", e.cfg.Port))
	raw, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrBind, addr, err)
	}

	e.listener = tls.NewListener(raw, e.buildTLSConfig())
	e.running = true
	e.log.Info("https endpoint listening",
		"addr", e.listener.Addr().String(),
		"clientAuth", e.cfg.RequireClientAuth)

	go e.acceptLoop(e.listener)
	return nil
}

// Addr returns the bound listener address, or nil before Start.
func (e *Endpoint) Addr() net.Addr {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.listener == nil {
		return nil
	}
	return e.listener.Addr()
}

// Stop closes the listening socket so no new connections are accepted,
// then waits for in-flight exchanges to finish or the context to expire.
func (e *Endpoint) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	l := e.listener
	e.mu.Unlock()

	err := l.Close()

	done := make(chan struct{})
	go func() {
		e.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}
