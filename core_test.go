package mdns

import (
	"net"
	"sync"
	"testing"

	benclock "github.com/benbjohnson/clock"

	"github.com/nodegrove/mdns/internal/clock"
	"github.com/nodegrove/mdns/internal/protocol"
)

type unicastSend struct {
	data []byte
	dest *net.UDPAddr
}

type fakeSender struct {
	mu        sync.Mutex
	multicast [][]byte
	unicast   []unicastSend
	closed    bool
}

func (f *fakeSender) SendMulticast(p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.multicast = append(f.multicast, append([]byte(nil), p...))
	return nil
}

func (f *fakeSender) SendUnicast(p []byte, dest *net.UDPAddr) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unicast = append(f.unicast, unicastSend{data: append([]byte(nil), p...), dest: dest})
	return nil
}

func (f *fakeSender) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSender) multicastCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.multicast)
}

// drain blocks until every command already queued ahead of it has been
// processed by c's event loop, letting a test observe the effects of a mock
// clock advance deterministically: the mock's AfterFunc callbacks run
// synchronously within Add, so anything they enqueue on c.cmds is already
// there by the time this closure is sent behind it.
func drain(c *Core) {
	c.exec(func(s *state) {})
}

func newTestCore(t *testing.T, opts ...Option) (*Core, *benclock.Mock, *fakeSender) {
	t.Helper()
	clk, mock := clock.NewMock()
	fake := &fakeSender{}
	all := append([]Option{WithClock(clk)}, opts...)
	c := newForTest(fake, all...)
	t.Cleanup(func() { c.Close() })
	return c, mock, fake
}

func runThreeProbes(mock *benclock.Mock, c *Core) {
	mock.Add(protocol.ProbeInitialDelayMax)
	drain(c)
	mock.Add(protocol.ProbeWaitTime)
	drain(c)
	mock.Add(protocol.ProbeWaitTime)
	drain(c)
}

func TestRegisterHost_CompletesProbingAndAnnounces(t *testing.T) {
	c, mock, fake := newTestCore(t)

	result := make(chan error, 1)
	_, err := c.RegisterHost(HostInfo{
		Name:      "host.local",
		Addresses: [][16]byte{{0xfe, 0x80, 15: 1}},
		TTL:       120,
	}, func(id string, err error) { result <- err })
	if err != nil {
		t.Fatalf("RegisterHost returned error: %v", err)
	}

	runThreeProbes(mock, c)

	select {
	case err := <-result:
		if err != nil {
			t.Fatalf("registration callback reported error: %v", err)
		}
	default:
		t.Fatal("registration callback did not fire after three probes")
	}

	if fake.multicastCount() == 0 {
		t.Fatal("expected at least one multicast packet (probes/announce)")
	}
}

func TestRegisterHost_UpdateInPlaceSkipsReprobe(t *testing.T) {
	c, mock, _ := newTestCore(t)

	first := make(chan error, 1)
	c.RegisterHost(HostInfo{
		Name:      "printer.local",
		Addresses: [][16]byte{{0xfe, 0x80, 15: 1}},
		TTL:       120,
	}, func(id string, err error) { first <- err })

	runThreeProbes(mock, c)

	select {
	case err := <-first:
		if err != nil {
			t.Fatalf("initial registration failed: %v", err)
		}
	default:
		t.Fatal("initial registration never completed")
	}

	second := make(chan error, 1)
	c.RegisterHost(HostInfo{
		Name:      "printer.local",
		Addresses: [][16]byte{{0xfe, 0x80, 15: 2}},
		TTL:       120,
	}, func(id string, err error) { second <- err })
	mock.Add(0)
	drain(c)

	select {
	case err := <-second:
		if err != nil {
			t.Fatalf("update-in-place registration failed: %v", err)
		}
	default:
		t.Fatal("update-in-place registration callback should fire immediately without re-probing")
	}
}

func TestSetEnabled_DisablesRegistration(t *testing.T) {
	c, _, _ := newTestCore(t)
	c.SetEnabled(false)

	_, err := c.RegisterHost(HostInfo{Name: "host.local", Addresses: [][16]byte{{0xfe, 0x80, 15: 1}}}, nil)
	if err == nil {
		t.Fatal("expected RegisterHost to fail while disabled")
	}
}

func TestSetEnabled_DropsEntriesWithoutGoodbyeOrCallback(t *testing.T) {
	c, mock, fake := newTestCore(t)

	fired := false
	c.RegisterHost(HostInfo{
		Name:      "host.local",
		Addresses: [][16]byte{{0xfe, 0x80, 15: 1}},
		TTL:       120,
	}, func(id string, err error) { fired = true })

	runThreeProbes(mock, c)
	before := fake.multicastCount()

	c.SetEnabled(false)

	if fake.multicastCount() != before {
		t.Fatal("expected no goodbye packet when disabling the responder")
	}
	if fired {
		t.Fatal("expected no registration callback to fire on disable")
	}

	c.exec(func(s *state) {
		if len(s.hosts) != 0 {
			t.Fatal("expected all hosts dropped on disable")
		}
		if s.timer != nil {
			t.Fatal("expected sweep timer cancelled on disable")
		}
		if len(s.pendingCallbacks) != 0 {
			t.Fatal("expected pending callbacks discarded on disable")
		}
	})
}

func TestUnregisterHost_WhileProbingDropsWithoutGoodbye(t *testing.T) {
	c, _, fake := newTestCore(t)

	c.RegisterHost(HostInfo{
		Name:      "host.local",
		Addresses: [][16]byte{{0xfe, 0x80, 15: 1}},
		TTL:       120,
	}, nil)
	drain(c)

	before := fake.multicastCount()
	c.UnregisterHost("host.local")
	drain(c)

	if fake.multicastCount() > before {
		t.Fatal("expected no goodbye packet for a host that never finished probing")
	}
	c.exec(func(s *state) {
		if _, ok := s.hosts[canonicalKey("host.local")]; ok {
			t.Fatal("expected the probing host to be dropped immediately")
		}
	})
}

func TestUnregisterHost_SendsGoodbye(t *testing.T) {
	c, mock, fake := newTestCore(t)

	c.RegisterHost(HostInfo{
		Name:      "host.local",
		Addresses: [][16]byte{{0xfe, 0x80, 15: 1}},
		TTL:       120,
	}, nil)

	runThreeProbes(mock, c)

	before := fake.multicastCount()

	c.UnregisterHost("host.local")
	mock.Add(0)
	drain(c)

	if fake.multicastCount() <= before {
		t.Fatal("expected a goodbye packet after UnregisterHost")
	}
}
