package mdns

import "github.com/google/uuid"

// HostInfo describes a hostname to register, per spec §3: one or more
// IPv6 addresses sharing a single AAAA record set.
type HostInfo struct {
	// Name is the fully-qualified hostname, e.g. "myhost.local".
	Name string
	// Addresses are the host's IPv6 addresses.
	Addresses [][16]byte
	// TTL is the record TTL in seconds; 0 selects protocol.TTLDefault.
	TTL uint32
	// RequestID correlates this call with its registration callback; a
	// random one is generated when empty (SUPPLEMENTED FEATURES item 3).
	RequestID string
}

// ServiceInfo describes a DNS-SD service instance to register, per spec
// §3: PTR/SRV/TXT records plus optional RFC 6763 §7.1 sub-types.
type ServiceInfo struct {
	// Instance is the service instance label, e.g. "My Printer".
	Instance string
	// Type is the service type, e.g. "_http._tcp.local".
	Type string
	// Host is the target hostname the SRV record resolves to.
	Host string
	Port, Weight, Priority uint16
	// TXT holds the ordered "key=value" character-strings, per RFC 6763
	// §6.3. A nil or empty slice yields a single empty TXT string.
	TXT []string
	// SubTypes are additional PTR labels advertised under
	// "<label>._sub.<Type>", per RFC 6763 §7.1.
	SubTypes []string
	TTL      uint32
	RequestID string
}

// KeyInfo describes a KEY record to attach to an already-registered host
// or service instance name (SUPPLEMENTED FEATURES item 2: dual-targeting
// KEY records).
type KeyInfo struct {
	// Name is the owner name: either a registered host name or a
	// registered service instance's full name.
	Name      string
	Data      []byte
	TTL       uint32
	RequestID string
}

// RegisterCallback reports the outcome of a Register* call: nil on
// success, or *errors.DuplicateError if a peer already claimed the name
// during probing, per spec §7.
type RegisterCallback func(requestID string, err error)

// ConflictCallback reports a post-registration conflict detected against
// an already-Registered entry, per spec §4.4. serviceType is empty for a
// host conflict.
type ConflictCallback func(name string, serviceType string)

// requestID returns id, or a freshly generated one when id is empty
// (SUPPLEMENTED FEATURES item 3).
func requestID(id string) string {
	if id != "" {
		return id
	}
	return uuid.New().String()
}
