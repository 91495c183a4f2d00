package backendpool

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
)

// disableThreshold is the failure count at which TryConnect logs that a
// Backend is effectively disabled. It is also the default MaxFailures
// that CanOpen compares Failures against.
const disableThreshold = 10

// Protocol identifies the upstream wire protocol a selection is made
// for. It is passed through to Dialer.Dial unchanged so a pooled
// connection reuse layer (out of scope here) could key on it.
type Protocol int

const (
	ProtocolHTTP Protocol = iota
	ProtocolHTTPS
	ProtocolH2
	ProtocolTCP
)

func (p Protocol) String() string {
	switch p {
	case ProtocolHTTP:
		return "http"
	case ProtocolHTTPS:
		return "https"
	case ProtocolH2:
		return "h2"
	case ProtocolTCP:
		return "tcp"
	default:
		return "unknown"
	}
}

// Dialer opens a connection to a backend address. It is the external
// try_connect collaborator: production callers supply one backed by a
// real net.Dialer (NewNetDialer below); tests supply a stub.
type Dialer interface {
	Dial(ctx context.Context, protocol Protocol, address, serverName string) (net.Conn, error)
}

// netDialer is the default Dialer, a thin wrapper over net.Dialer in the
// same shape as the defaultDialer used by the proxy's legacy transport:
// fixed connect timeout, TCP keepalive, always the "tcp" network, and no
// protocol-specific handling.
type netDialer struct {
	dialer *net.Dialer
}

// NewNetDialer returns the default Dialer: a net.Dialer with a 30s
// connect timeout and 30s TCP keepalive.
func NewNetDialer() Dialer {
	return &netDialer{
		dialer: &net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		},
	}
}

func (d *netDialer) Dial(ctx context.Context, _ Protocol, address, _ string) (net.Conn, error) {
	return d.dialer.DialContext(ctx, "tcp", address)
}

// Backend is a single upstream endpoint. It is shared between the
// BackendList that owns it and any number of sessions that hold a
// reference after selection; Go's pointer semantics and garbage
// collector give it the same shared-ownership-with-interior-mutability
// behavior the original gets from Rc<RefCell<_>>, with no locking
// required because callers never touch a Backend outside their own
// event-loop worker.
type Backend struct {
	ID                uint32
	InstanceID        string
	Address           string // host:port, as accepted by net.Dial
	ActiveConnections int
	Failures          int
	MaxFailures       int // disable threshold; 0 means use disableThreshold
	MaxActiveConns    int // 0 means unlimited

	dialer Dialer
	logger *zap.Logger
}

// NewBackend constructs a Backend with the given instance id, address,
// and sticky-session id. The returned Backend dials through the default
// net.Dialer; use WithDialer to override.
func NewBackend(instanceID, address string, id uint32) *Backend {
	return &Backend{
		ID:          id,
		InstanceID:  instanceID,
		Address:     address,
		MaxFailures: disableThreshold,
		dialer:      NewNetDialer(),
		logger:      zap.NewNop(),
	}
}

// WithDialer overrides the Backend's connector. Returns the Backend for
// chaining at construction time.
func (b *Backend) WithDialer(d Dialer) *Backend {
	b.dialer = d
	return b
}

// WithLogger attaches a structured logger. A nil logger is replaced with
// a no-op one.
func (b *Backend) WithLogger(logger *zap.Logger) *Backend {
	if logger == nil {
		logger = zap.NewNop()
	}
	b.logger = logger
	return b
}

// CanOpen reports whether the backend is currently eligible to receive
// new traffic: its consecutive failure count is under its threshold and
// (if capped) its active connection count is under its cap.
func (b *Backend) CanOpen() bool {
	maxFailures := b.MaxFailures
	if maxFailures == 0 {
		maxFailures = disableThreshold
	}
	if b.Failures >= maxFailures {
		return false
	}
	if b.MaxActiveConns > 0 && b.ActiveConnections >= b.MaxActiveConns {
		return false
	}
	return true
}

// TryConnect attempts to open a connection to the backend. On success it
// increments ActiveConnections and resets nothing else (Failures only
// resets via an external remove+add of the backend). On failure it
// increments Failures and, once the disable threshold is crossed, logs
// that the backend is effectively disabled.
func (b *Backend) TryConnect(ctx context.Context, protocol Protocol, serverName string) (net.Conn, error) {
	conn, err := b.dialer.Dial(ctx, protocol, b.Address, serverName)
	if err != nil {
		b.Failures++
		if b.Failures >= disableThreshold {
			b.logger.Error("backend connections failed repeatedly, disabling it",
				zap.String("address", b.Address),
				zap.Int("active_connections", b.ActiveConnections),
				zap.Int("failures", b.Failures),
			)
		}
		return nil, fmt.Errorf("connect to %s: %w", b.Address, err)
	}
	b.ActiveConnections++
	return conn, nil
}

// DecConnections decrements the active connection counter. It is a
// caller bug to call this more times than TryConnect succeeded; the
// counter is clamped at zero defensively but that clamp masks the bug
// rather than fixing it.
func (b *Backend) DecConnections() {
	if b.ActiveConnections > 0 {
		b.ActiveConnections--
	}
}
