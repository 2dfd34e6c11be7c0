package server

import (
	"bufio"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/getfaultd/faultd/pkg/fault"
	"github.com/getfaultd/faultd/pkg/mtls"
)

// acceptLoop accepts connections until the listener is closed. Each
// connection is handled on its own goroutine; handler errors never reach
// this loop.
func (e *Endpoint) acceptLoop(l net.Listener) {
	for {
		conn, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			e.log.Warn("accept failed", "error", err)
			continue
		}
		e.conns.Add(1)
		go e.handle(conn)
	}
}

// handle serves exactly one request/response exchange. The connection is
// closed on every exit path; on fault paths the injector owns the close.
func (e *Endpoint) handle(conn net.Conn) {
	defer e.conns.Done()

	tlsConn, ok := conn.(*tls.Conn)
	if !ok {
		// Listener is always TLS; anything else is a programming error.
		conn.Close()
		return
	}

	if err := e.handshake(tlsConn); err != nil {
		e.log.Warn("tls handshake failed", "remote", conn.RemoteAddr().String(), "error", err)
		conn.Close()
		return
	}

	state := tlsConn.ConnectionState()
	if peer := mtls.FromConnectionState(state); peer != nil {
		e.log.Debug("client certificate validated",
			"remote", conn.RemoteAddr().String(),
			"cn", peer.CommonName,
			"fingerprint", peer.Fingerprint)
	}

	if err := conn.SetReadDeadline(time.Now().Add(e.cfg.ReadTimeout)); err != nil {
		conn.Close()
		return
	}

	req, err := http.ReadRequest(bufio.NewReader(tlsConn))
	if err != nil {
		// Malformed request or read timeout: this connection only.
		e.log.Debug("request read failed", "remote", conn.RemoteAddr().String(), "error", err)
		conn.Close()
		return
	}

	directive, resp := e.resolver.Resolve(req)
	e.log.Info("request dispatched",
		"method", req.Method,
		"path", req.URL.Path,
		"directive", directive.String(),
		"tls", tls.VersionName(state.Version))

	if directive != fault.None {
		// The injector closes the connection; closing here again would
		// break the exactly-once contract.
		if err := e.injector.Inject(conn, directive); err != nil {
			e.log.Debug("fault injection incomplete", "directive", directive, "error", err)
		}
		return
	}

	defer conn.Close()
	if resp == nil {
		// A resolver returning no fault and no response has nothing to
		// serve; drop the connection rather than dereference.
		e.log.Warn("resolver returned no response", "method", req.Method, "path", req.URL.Path)
		return
	}
	if err := conn.SetWriteDeadline(time.Now().Add(e.cfg.WriteTimeout)); err != nil {
		return
	}
	if err := writeResponse(conn, req, resp); err != nil {
		e.log.Debug("response write failed", "remote", conn.RemoteAddr().String(), "error", err)
	}
}

// handshake drives the TLS handshake under its own deadline so a stalled
// peer cannot pin the handler goroutine.
func (e *Endpoint) handshake(conn *tls.Conn) error {
	if err := conn.SetDeadline(time.Now().Add(e.cfg.HandshakeTimeout)); err != nil {
		return err
	}
	if err := conn.Handshake(); err != nil {
		return err
	}
	// Clear the handshake deadline; read/write deadlines are set per phase.
	return conn.SetDeadline(time.Time{})
}
