package fault

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"log/slog"
	"net"
	"time"
)

// DefaultRandomDataLength is the number of garbage bytes written by
// RandomDataThenClose when not configured otherwise.
const DefaultRandomDataLength = 1024

// DefaultWriteTimeout bounds how long a fault write may block on a peer
// that is not reading.
const DefaultWriteTimeout = 5 * time.Second

// malformedChunkResponse is the wire image written for MalformedChunk: a
// well-formed status line and header section declaring chunked encoding,
// followed by a chunk-size token that is not hexadecimal and a body fragment
// with no terminating CRLF. Header parsing succeeds; body decoding cannot.
const malformedChunkResponse = "HTTP/1.1 200 OK\r\n" +
	"Content-Type: text/plain\r\n" +
	"Transfer-Encoding: chunked\r\n" +
	"\r\n" +
	"ZZZZ\r\n" +
	"lskdu018973t09sylgasjkfg1][]'./.sdlv"

// statusLinePrefix is what garbage data must not begin with.
var statusLinePrefix = []byte("HTTP/")

// Injector writes deliberately broken byte sequences onto established
// connections. It is safe for concurrent use by multiple connection handlers.
type Injector struct {
	randomDataLength int
	writeTimeout     time.Duration
	log              *slog.Logger
}

// Option configures an Injector.
type Option func(*Injector)

// WithRandomDataLength sets the number of bytes written by
// RandomDataThenClose. Values <= 0 fall back to the default.
func WithRandomDataLength(n int) Option {
	return func(i *Injector) {
		if n > 0 {
			i.randomDataLength = n
		}
	}
}

// WithWriteTimeout bounds fault writes against a non-reading peer.
func WithWriteTimeout(d time.Duration) Option {
	return func(i *Injector) {
		if d > 0 {
			i.writeTimeout = d
		}
	}
}

// WithLogger sets the operational logger.
func WithLogger(log *slog.Logger) Option {
	return func(i *Injector) {
		if log != nil {
			i.log = log
		}
	}
}

// NewInjector creates an Injector with the given options.
func NewInjector(opts ...Option) *Injector {
	i := &Injector{
		randomDataLength: DefaultRandomDataLength,
		writeTimeout:     DefaultWriteTimeout,
		log:              slog.Default(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Inject writes the wire symptom for directive onto conn and closes it.
// The connection is closed exactly once, on every path, including write
// errors and deadline expiry. Inject must not be called with None.
func (i *Injector) Inject(conn net.Conn, directive Directive) error {
	defer conn.Close()

	if err := conn.SetWriteDeadline(time.Now().Add(i.writeTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}

	switch directive {
	case EmptyResponse:
		// Nothing to write. Closing without bytes is the whole point.
		i.log.Debug("injecting fault", "directive", directive)
		return nil

	case MalformedChunk:
		i.log.Debug("injecting fault", "directive", directive)
		if _, err := conn.Write([]byte(malformedChunkResponse)); err != nil {
			return fmt.Errorf("write malformed chunk: %w", err)
		}
		return nil

	case RandomDataThenClose:
		i.log.Debug("injecting fault", "directive", directive, "bytes", i.randomDataLength)
		garbage, err := garbageBytes(i.randomDataLength)
		if err != nil {
			return err
		}
		if _, err := conn.Write(garbage); err != nil {
			return fmt.Errorf("write random data: %w", err)
		}
		return nil

	case None:
		return fmt.Errorf("directive %q is not injectable", directive)

	default:
		return fmt.Errorf("unknown fault directive %q", directive)
	}
}

// garbageBytes returns n unpredictable bytes that do not begin with an HTTP
// status-line prefix, so the peer fails before recognizing any response.
func garbageBytes(n int) ([]byte, error) {
	if n < len(statusLinePrefix) {
		n = len(statusLinePrefix)
	}
	buf := make([]byte, n)
	for {
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("read random data: %w", err)
		}
		if !bytes.HasPrefix(buf, statusLinePrefix) {
			return buf, nil
		}
	}
}
