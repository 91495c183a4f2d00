package backendpool

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net"

	"go.uber.org/zap"
)

// defaultMaxFailuresPerSelection is the retry budget applied to each
// Select/SelectSticky call, not to any single Backend.
const defaultMaxFailuresPerSelection = 3

// BackendList is the ordered collection of Backends for one application.
// NextID is the next sticky-session id to assign; it only ever
// increases, so ids remain stable across removals.
type BackendList struct {
	Instances []*Backend
	NextID    uint32
}

func newBackendList() *BackendList {
	return &BackendList{}
}

// addInstance appends a new Backend with a freshly allocated id, unless
// an entry with the same address already exists, in which case it is a
// no-op. Returns the Backend that now represents this address.
func (l *BackendList) addInstance(instanceID, address string, logger *zap.Logger) *Backend {
	for _, b := range l.Instances {
		if b.Address == address {
			return b
		}
	}
	b := NewBackend(instanceID, address, l.NextID).WithLogger(logger)
	l.NextID++
	l.Instances = append(l.Instances, b)
	return b
}

// removeInstance removes the entry matching address. Reports whether an
// entry was actually removed.
func (l *BackendList) removeInstance(address string) bool {
	for i, b := range l.Instances {
		if b.Address == address {
			l.Instances = append(l.Instances[:i], l.Instances[i+1:]...)
			return true
		}
	}
	return false
}

func (l *BackendList) hasInstance(address string) bool {
	for _, b := range l.Instances {
		if b.Address == address {
			return true
		}
	}
	return false
}

func (l *BackendList) findInstance(address string) *Backend {
	for _, b := range l.Instances {
		if b.Address == address {
			return b
		}
	}
	return nil
}

func (l *BackendList) findSticky(stickyID uint32) *Backend {
	for _, b := range l.Instances {
		if b.ID == stickyID {
			if b.CanOpen() {
				return b
			}
			return nil
		}
	}
	return nil
}

// availableInstances returns a fresh slice of the currently eligible
// backends. Mirrors the original's available_instances/
// next_available_instance split: build the eligible set, then pick one
// from that snapshot. The set is rebuilt on every call, so a retry can
// pick the same backend again.
func (l *BackendList) availableInstances() []*Backend {
	avail := make([]*Backend, 0, len(l.Instances))
	for _, b := range l.Instances {
		if b.CanOpen() {
			avail = append(avail, b)
		}
	}
	return avail
}

// nextAvailableInstance picks one eligible backend uniformly at random.
func (l *BackendList) nextAvailableInstance() *Backend {
	avail := l.availableInstances()
	if len(avail) == 0 {
		return nil
	}
	return avail[rand.N(len(avail))]
}

// BackendMap is the top-level registry: application id to BackendList,
// plus the retry budget applied per selection call. A BackendMap is not
// safe for concurrent use; each event-loop worker owns its own, in line
// with the single-threaded-per-worker model the rest of this package
// assumes.
type BackendMap struct {
	apps        map[string]*BackendList
	MaxFailures int

	logger  *zap.Logger
	metrics *poolMetrics
}

// NewMap constructs an empty BackendMap with the default retry budget
// (3) and the given logger. A nil logger is replaced with a no-op one.
func NewMap(logger *zap.Logger) *BackendMap {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BackendMap{
		apps:        make(map[string]*BackendList),
		MaxFailures: defaultMaxFailuresPerSelection,
		logger:      logger,
		metrics:     newPoolMetrics(),
	}
}

// ImportConfigurationState bulk-replaces the BackendList for every app
// present in snapshot, leaving apps absent from snapshot untouched.
// Instance records whose ip_address:port fails to parse as a socket
// address are silently skipped rather than treated as an error.
func (m *BackendMap) ImportConfigurationState(snapshot Snapshot) {
	for appID, instances := range snapshot {
		list := newBackendList()
		for _, inst := range instances {
			addr, ok := inst.resolve()
			if !ok {
				m.logger.Debug("skipping instance with unparseable address",
					zap.String("app_id", appID),
					zap.String("instance_id", inst.InstanceID),
					zap.String("ip_address", inst.IPAddress),
					zap.Int("port", inst.Port),
				)
				continue
			}
			list.addInstance(inst.InstanceID, addr, m.logger)
		}
		m.apps[appID] = list
		m.metrics.setBackendCount(appID, len(list.Instances))
	}
}

// AddInstance is idempotent: it creates the app's list if absent, and
// no-ops if an entry with addr already exists.
func (m *BackendMap) AddInstance(appID, instanceID, addr string) {
	list, ok := m.apps[appID]
	if !ok {
		list = newBackendList()
		m.apps[appID] = list
	}
	list.addInstance(instanceID, addr, m.logger)
	m.metrics.setBackendCount(appID, len(list.Instances))
}

// RemoveInstance removes the entry matching addr. If the app itself is
// unknown this returns a non-fatal ErrUnknownApp the caller may ignore;
// if the app is known but addr is absent, it is a silent no-op.
func (m *BackendMap) RemoveInstance(appID, addr string) error {
	list, ok := m.apps[appID]
	if !ok {
		return &appError{appID: appID, err: ErrUnknownApp}
	}
	list.removeInstance(addr)
	m.metrics.setBackendCount(appID, len(list.Instances))
	return nil
}

// CloseBackendConnection decrements the active connection counter of the
// backend at addr within appID. Absence at any level is silent: this is
// the symmetric counterpart to a successful TryConnect, called once a
// session releases its reference.
func (m *BackendMap) CloseBackendConnection(appID, addr string) {
	list, ok := m.apps[appID]
	if !ok {
		return
	}
	if b := list.findInstance(addr); b != nil {
		b.DecConnections()
	}
}

// HasBackend is a pure membership test by address.
func (m *BackendMap) HasBackend(appID, addr string) bool {
	list, ok := m.apps[appID]
	if !ok {
		return false
	}
	return list.hasInstance(addr)
}

// Select is the primary non-sticky selection path: at most MaxFailures
// attempts, each picking uniformly among the currently eligible backends
// and trying to connect. The returned Backend is a shared reference the
// caller must eventually release via CloseBackendConnection.
func (m *BackendMap) Select(ctx context.Context, appID string, protocol Protocol, serverName string) (*Backend, net.Conn, error) {
	list, ok := m.apps[appID]
	if !ok || len(list.Instances) == 0 {
		return nil, nil, &NoBackendError{AppID: appID}
	}

	maxFailures := m.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultMaxFailuresPerSelection
	}

	var lastErr error
	for i := 0; i < maxFailures; i++ {
		b := list.nextAvailableInstance()
		if b == nil {
			return nil, nil, &NoBackendError{AppID: appID, LastErr: lastErr}
		}
		m.logger.Debug("connecting",
			zap.String("app_id", appID),
			zap.String("address", b.Address),
			zap.Int("active_connections", b.ActiveConnections),
			zap.Int("failures", b.Failures),
		)
		conn, err := b.TryConnect(ctx, protocol, serverName)
		if err != nil {
			m.logger.Error("could not connect",
				zap.String("app_id", appID),
				zap.String("address", b.Address),
				zap.Int("failures", b.Failures),
				zap.Error(err),
			)
			m.metrics.selections.WithLabelValues(appID, "failure").Inc()
			lastErr = err
			continue
		}
		m.metrics.selections.WithLabelValues(appID, "success").Inc()
		return b, conn, nil
	}
	return nil, nil, &NoBackendError{AppID: appID, LastErr: lastErr}
}

// SelectSticky looks up the backend whose id equals stickyID within
// appID's list. If it exists and is eligible, exactly one connect
// attempt is made and its result (success or failure) is returned as-is.
// Otherwise this falls through to the non-sticky Select.
func (m *BackendMap) SelectSticky(ctx context.Context, appID string, stickyID uint32, protocol Protocol, serverName string) (*Backend, net.Conn, error) {
	if list, ok := m.apps[appID]; ok {
		if b := list.findSticky(stickyID); b != nil {
			conn, err := b.TryConnect(ctx, protocol, serverName)
			if err != nil {
				m.logger.Error("could not connect using sticky session",
					zap.String("app_id", appID),
					zap.String("address", b.Address),
					zap.Uint32("sticky_session", stickyID),
					zap.Int("failures", b.Failures),
					zap.Error(err),
				)
				m.metrics.selections.WithLabelValues(appID, "failure").Inc()
				return nil, nil, fmt.Errorf("sticky connect to %s: %w", b.Address, err)
			}
			m.logger.Info("connecting using sticky session",
				zap.String("app_id", appID),
				zap.String("address", b.Address),
				zap.Uint32("sticky_session", stickyID),
			)
			m.metrics.selections.WithLabelValues(appID, "success").Inc()
			return b, conn, nil
		}
	}
	m.logger.Debug("no backend for sticky session, falling back",
		zap.String("app_id", appID),
		zap.Uint32("sticky_session", stickyID),
	)
	return m.Select(ctx, appID, protocol, serverName)
}

// appError is the non-fatal error shape returned by RemoveInstance for
// an unknown app.
type appError struct {
	appID string
	err   error
}

func (e *appError) Error() string {
	return e.appID + ": " + e.err.Error()
}

func (e *appError) Unwrap() error {
	return e.err
}
