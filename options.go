package mdns

import (
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/nodegrove/mdns/internal/clock"
)

// Option configures a Core at construction time, per the functional
// options pattern.
type Option func(*Core) error

// WithLogger sets the structured logger used for lifecycle transitions
// and dropped-input warnings. Defaults to zap.NewNop().
func WithLogger(logger *zap.Logger) Option {
	return func(c *Core) error {
		if logger != nil {
			c.logger = logger
		}
		return nil
	}
}

// WithMaxMessageSize overrides the default 1200-byte message size
// threshold above which a sweep splits its output into multiple physical
// messages, per spec §4.2. Mainly useful in tests.
func WithMaxMessageSize(bytes int) Option {
	return func(c *Core) error {
		c.maxMsgSize = bytes
		return nil
	}
}

// WithQuestionUnicastAllowed sets whether QU-bit requests may be honored
// with a unicast response, per RFC 6762 §5.4. Defaults to true.
func WithQuestionUnicastAllowed(allowed bool) Option {
	return func(c *Core) error {
		c.quAllowed.Store(allowed)
		return nil
	}
}

// WithClock overrides the platform clock, for deterministic tests driven
// by a *clock.Mock instead of real sleeps.
func WithClock(clk *clock.Clock) Option {
	return func(c *Core) error {
		if clk != nil {
			c.clock = clk
		}
		return nil
	}
}

// WithHistoryTTL overrides the self-loop-suppression fingerprint
// lifetime, per spec §4.7. Defaults to protocol.HistoryTTL.
func WithHistoryTTL(ttl time.Duration) Option {
	return func(c *Core) error {
		c.historyTTLValue = ttl
		return nil
	}
}

// WithInterfaces restricts the responder to the given network
// interfaces instead of every multicast-capable interface on the host.
func WithInterfaces(ifaces []net.Interface) Option {
	return func(c *Core) error {
		c.interfaces = ifaces
		return nil
	}
}
