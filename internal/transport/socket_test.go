package transport

import (
	"net"
	"sync"
	"testing"
	"time"
)

func loopbackInterfaceOrSkip(t *testing.T) net.Interface {
	t.Helper()
	ifaces, err := net.Interfaces()
	if err != nil {
		t.Skipf("cannot enumerate interfaces: %v", err)
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagMulticast != 0 && iface.Flags&net.FlagUp != 0 {
			return iface
		}
	}
	t.Skip("no multicast-capable interface available in this environment")
	return net.Interface{}
}

func TestNewSocket_JoinsAndCloses(t *testing.T) {
	iface := loopbackInterfaceOrSkip(t)

	var mu sync.Mutex
	var received [][]byte
	sock, err := NewSocket(func(packet []byte, unicast bool, sender *net.UDPAddr, ifIndex int) {
		mu.Lock()
		received = append(received, packet)
		mu.Unlock()
	}, []net.Interface{iface})
	if err != nil {
		t.Fatalf("NewSocket failed: %v", err)
	}

	if err := sock.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func TestSocket_SendAfterCloseFails(t *testing.T) {
	iface := loopbackInterfaceOrSkip(t)

	sock, err := NewSocket(func([]byte, bool, *net.UDPAddr, int) {}, []net.Interface{iface})
	if err != nil {
		t.Fatalf("NewSocket failed: %v", err)
	}
	if err := sock.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if err := sock.SendMulticast([]byte("hello")); err == nil {
		t.Fatal("expected send on a closed socket to fail")
	}
}

func TestMulticastInterfaces_ReturnsUpMulticastCapable(t *testing.T) {
	ifaces, err := multicastInterfaces()
	if err != nil {
		t.Fatalf("multicastInterfaces failed: %v", err)
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagMulticast == 0 || iface.Flags&net.FlagUp == 0 {
			t.Fatalf("interface %s does not satisfy multicast+up filter", iface.Name)
		}
	}
}

func TestNewSocket_NoInterfacesGiven_AutoDiscovers(t *testing.T) {
	sock, err := NewSocket(func([]byte, bool, *net.UDPAddr, int) {}, nil)
	if err != nil {
		t.Skipf("no joinable multicast interface in this environment: %v", err)
	}
	defer sock.Close()

	time.Sleep(10 * time.Millisecond)
}
