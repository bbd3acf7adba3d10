// Package transport is the platform socket adapter of spec §6: one IPv6
// UDP socket bound to port 5353, joined to the link-local multicast group
// ff02::fb, delivering every inbound datagram through a single callback.
package transport

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"golang.org/x/net/ipv6"

	"github.com/nodegrove/mdns/internal/errors"
	"github.com/nodegrove/mdns/internal/protocol"
)

const readBufferSize = 65536

// ReceiveFunc is invoked once per inbound datagram, on the socket's own
// read goroutine. Implementations must not block; per spec §5 the
// scheduler forwards the call onto its own event-loop goroutine rather
// than mutating shared state directly here.
type ReceiveFunc func(packet []byte, unicast bool, sender *net.UDPAddr, ifIndex int)

// Socket is the UDPv6 adapter migrated from the IPv4 teacher transport
// (ipv4.PacketConn control-message extraction, buffer pooling) to IPv6
// (golang.org/x/net/ipv6), and from a pull-based Receive(ctx) to the
// push-based single-entry-point model spec §6 requires.
type Socket struct {
	conn  *net.UDPConn
	pc    *ipv6.PacketConn
	group *net.UDPAddr

	bufPool sync.Pool
	onRecv  ReceiveFunc

	closed atomic.Bool
	wg     sync.WaitGroup
}

// NewSocket binds to [::]:5353, joins ff02::fb on every interface in ifaces
// (all multicast-capable interfaces if empty), and starts delivering
// inbound datagrams to onReceive. Per RFC 6762 §5.
func NewSocket(onReceive ReceiveFunc, ifaces []net.Interface) (*Socket, error) {
	group := &net.UDPAddr{IP: net.ParseIP(protocol.MulticastAddrIPv6), Port: protocol.Port}

	conn, err := net.ListenUDP("udp6", &net.UDPAddr{Port: protocol.Port})
	if err != nil {
		return nil, &errors.NetworkError{Operation: "create socket", Err: err, Details: fmt.Sprintf("failed to bind [::]:%d", protocol.Port)}
	}

	if err := conn.SetReadBuffer(readBufferSize); err != nil {
		_ = conn.Close()
		return nil, &errors.NetworkError{Operation: "configure socket", Err: err, Details: "failed to set read buffer size"}
	}

	pc := ipv6.NewPacketConn(conn)

	if len(ifaces) == 0 {
		ifaces, err = multicastInterfaces()
		if err != nil {
			_ = conn.Close()
			return nil, &errors.NetworkError{Operation: "enumerate interfaces", Err: err}
		}
	}

	joined := 0
	for i := range ifaces {
		if err := pc.JoinGroup(&ifaces[i], group); err == nil {
			joined++
		}
	}
	if joined == 0 {
		_ = conn.Close()
		return nil, &errors.NetworkError{Operation: "join multicast group", Details: fmt.Sprintf("no interface could join %s", protocol.MulticastAddrIPv6)}
	}

	if err := pc.SetControlMessage(ipv6.FlagInterface|ipv6.FlagDst, true); err != nil {
		// Best-effort: without control messages, readLoop reports every
		// datagram as unicast, with interface index 0.
	}

	s := &Socket{
		conn:  conn,
		pc:    pc,
		group: group,
		onRecv: onReceive,
		bufPool: sync.Pool{New: func() any {
			b := make([]byte, readBufferSize)
			return &b
		}},
	}

	s.wg.Add(1)
	go s.readLoop()

	return s, nil
}

func multicastInterfaces() ([]net.Interface, error) {
	all, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	var out []net.Interface
	for _, iface := range all {
		if iface.Flags&net.FlagMulticast != 0 && iface.Flags&net.FlagUp != 0 {
			out = append(out, iface)
		}
	}
	return out, nil
}

func (s *Socket) readLoop() {
	defer s.wg.Done()
	for {
		bufPtr := s.bufPool.Get().(*[]byte)
		buf := *bufPtr

		n, cm, src, err := s.pc.ReadFrom(buf)
		if err != nil {
			s.bufPool.Put(bufPtr)
			if s.closed.Load() {
				return
			}
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		s.bufPool.Put(bufPtr)

		udpSrc, _ := src.(*net.UDPAddr)
		ifIndex := 0
		unicast := true
		if cm != nil {
			ifIndex = cm.IfIndex
			unicast = !cm.Dst.IsMulticast()
		}

		s.onRecv(data, unicast, udpSrc, ifIndex)
	}
}

// SendMulticast transmits packet to ff02::fb:5353.
func (s *Socket) SendMulticast(packet []byte) error {
	return s.send(packet, s.group)
}

// SendUnicast transmits packet to dest.
func (s *Socket) SendUnicast(packet []byte, dest *net.UDPAddr) error {
	return s.send(packet, dest)
}

func (s *Socket) send(packet []byte, dest *net.UDPAddr) error {
	n, err := s.conn.WriteTo(packet, dest)
	if err != nil {
		return &errors.NetworkError{Operation: "send", Err: err, Details: fmt.Sprintf("failed to send %d bytes to %s", len(packet), dest)}
	}
	if n != len(packet) {
		return &errors.NetworkError{Operation: "send", Err: fmt.Errorf("partial write: %d/%d bytes", n, len(packet)), Details: "incomplete transmission"}
	}
	return nil
}

// Close stops the read loop and releases the socket.
func (s *Socket) Close() error {
	s.closed.Store(true)
	err := s.conn.Close()
	s.wg.Wait()
	if err != nil {
		return &errors.NetworkError{Operation: "close socket", Err: err}
	}
	return nil
}
