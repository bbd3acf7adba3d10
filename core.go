package mdns

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/nodegrove/mdns/internal/clock"
	"github.com/nodegrove/mdns/internal/errors"
	"github.com/nodegrove/mdns/internal/protocol"
	"github.com/nodegrove/mdns/internal/transport"
)

// sender is the subset of *transport.Socket the scheduler depends on,
// small enough for tests to fake instead of opening a real socket.
type sender interface {
	SendMulticast(packet []byte) error
	SendUnicast(packet []byte, dest *net.UDPAddr) error
	Close() error
}

// Core is a Multicast DNS responder, per spec §3-§5: registered hosts,
// service instances, and KEY records are probed, announced, answered, and
// retired by a single internal goroutine, with the methods below
// communicating into it over a command channel.
type Core struct {
	logger     *zap.Logger
	clock      *clock.Clock
	sock       sender
	interfaces []net.Interface

	maxMsgSize      int
	historyTTLValue time.Duration
	quAllowed       atomic.Bool
	enabled         atomic.Bool

	cmds     chan func(*state)
	stopOnce sync.Once
	stopCh   chan struct{}
	stopped  chan struct{}

	st *state
}

// New constructs a Core, opens its IPv6 multicast socket, and starts its
// internal event loop. Call Close to shut it down.
func New(opts ...Option) (*Core, error) {
	c := newCore()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	c.st = newState(c, c.effectiveHistoryTTL())

	sock, err := transport.NewSocket(c.handleReceive, c.interfaces)
	if err != nil {
		return nil, err
	}
	c.sock = sock

	go c.loop()
	return c, nil
}

// newForTest builds a Core wired to a fake sender instead of a real
// socket, for deterministic unit tests driven by a mock clock.
func newForTest(sock sender, opts ...Option) *Core {
	c := newCore()
	for _, opt := range opts {
		_ = opt(c)
	}
	c.st = newState(c, c.effectiveHistoryTTL())
	c.sock = sock
	go c.loop()
	return c
}

func newCore() *Core {
	c := &Core{
		logger:     zap.NewNop(),
		clock:      clock.New(),
		maxMsgSize: protocol.MaxMessageSize,
		cmds:       make(chan func(*state), 32),
		stopCh:     make(chan struct{}),
		stopped:    make(chan struct{}),
	}
	c.quAllowed.Store(true)
	c.enabled.Store(true)
	return c
}

func (c *Core) effectiveHistoryTTL() time.Duration {
	if c.historyTTLValue != 0 {
		return c.historyTTLValue
	}
	return protocol.HistoryTTL
}

// loop is the sole goroutine that ever reads or writes state: every
// mutation, whether from a public API call or a fired timer, arrives here
// as a closure over the command channel, per spec §5.
func (c *Core) loop() {
	defer close(c.stopped)
	for {
		select {
		case fn := <-c.cmds:
			fn(c.st)
		case <-c.stopCh:
			c.st.teardown()
			return
		}
	}
}

// exec runs fn on the loop goroutine and blocks until it completes.
func (c *Core) exec(fn func(*state)) {
	done := make(chan struct{})
	select {
	case c.cmds <- func(s *state) { fn(s); close(done) }:
	case <-c.stopCh:
		return
	}
	select {
	case <-done:
	case <-c.stopped:
	}
}

// Close stops the internal event loop, sends a goodbye for every entry
// still registered, and closes the underlying socket.
func (c *Core) Close() error {
	var err error
	c.stopOnce.Do(func() {
		close(c.stopCh)
		<-c.stopped
		err = multierr.Append(err, c.sock.Close())
	})
	return err
}

// IsEnabled reports whether the responder currently accepts registrations
// and answers queries, per spec §7.
func (c *Core) IsEnabled() bool { return c.enabled.Load() }

// SetEnabled toggles the responder. Disabling is a hard reset, per spec
// §5 Cancellation: every registered entry is dropped without invoking its
// pending callback and without a goodbye packet, every timer is
// cancelled, and the dedup history and reassembly buffers are cleared.
// Re-enabling starts clean, accepting new registrations from scratch.
func (c *Core) SetEnabled(v bool) {
	c.enabled.Store(v)
	if !v {
		c.exec(func(s *state) { s.cancelAll() })
	}
}

// SetQuestionUnicastAllowed toggles whether QU-bit requests may be
// answered unicast, per RFC 6762 §5.4.
func (c *Core) SetQuestionUnicastAllowed(v bool) {
	c.quAllowed.Store(v)
}

// SetMaxMessageSize overrides the per-message size threshold used by
// subsequent sweeps.
func (c *Core) SetMaxMessageSize(bytes int) {
	c.exec(func(s *state) { s.maxMsgSize = bytes })
}

// SetConflictCallback installs the callback invoked when a Registered
// entry's name is later claimed by a conflicting peer, per spec §4.4.
func (c *Core) SetConflictCallback(cb ConflictCallback) {
	c.exec(func(s *state) { s.conflictCB = cb })
}

func requireEnabled(c *Core, op string) error {
	if !c.enabled.Load() {
		return &errors.InvalidStateError{Operation: op}
	}
	return nil
}

// RegisterHost registers or updates a hostname's AAAA record set, per
// spec §3. cb, if non-nil, is invoked once probing resolves (nil error)
// or a name conflict is detected (*errors.DuplicateError).
func (c *Core) RegisterHost(info HostInfo, cb RegisterCallback) (string, error) {
	if err := requireEnabled(c, "RegisterHost"); err != nil {
		return "", err
	}
	id := requestID(info.RequestID)
	c.exec(func(s *state) { s.registerHost(info, id, cb) })
	return id, nil
}

// UnregisterHost removes a previously registered hostname, sending a
// goodbye for its address record.
func (c *Core) UnregisterHost(name string) {
	c.exec(func(s *state) { s.unregisterHost(name) })
}

// RegisterService registers or updates a DNS-SD service instance, per
// spec §3.
func (c *Core) RegisterService(info ServiceInfo, cb RegisterCallback) (string, error) {
	if err := requireEnabled(c, "RegisterService"); err != nil {
		return "", err
	}
	id := requestID(info.RequestID)
	c.exec(func(s *state) { s.registerService(info, id, cb) })
	return id, nil
}

// UnregisterService removes a previously registered service instance.
func (c *Core) UnregisterService(instance, serviceType string) {
	c.exec(func(s *state) { s.unregisterService(instance, serviceType) })
}

// RegisterKey attaches a KEY record to an already-registered host or
// service instance name (SUPPLEMENTED FEATURES: dual-targeting KEY
// records).
func (c *Core) RegisterKey(info KeyInfo, cb RegisterCallback) (string, error) {
	if err := requireEnabled(c, "RegisterKey"); err != nil {
		return "", err
	}
	id := requestID(info.RequestID)
	c.exec(func(s *state) { s.registerKey(info, id, cb) })
	return id, nil
}

// UnregisterKey removes the KEY record from name, if any.
func (c *Core) UnregisterKey(name string) {
	c.exec(func(s *state) { s.unregisterKey(name) })
}
