// Package protocol defines the wire-level constants for RFC 6762 Multicast
// DNS: port and multicast group, record type/class numbers, the cache-flush
// and QU bits, TTL defaults, and the probing/announcing timing constants.
//
// RFC 6762 §5: Multicast DNS Message Format
// RFC 6762 §6: Responding
// RFC 6762 §8: Probing and Announcing
// RFC 6762 §10: Resource Record TTL Values
package protocol

import "time"

const (
	// Port is the UDP port used for both multicast and unicast mDNS
	// traffic, per RFC 6762 §5.
	Port = 5353

	// MulticastAddrIPv6 is the link-local mDNS multicast group, per
	// RFC 6762 §3.
	MulticastAddrIPv6 = "ff02::fb"
)

// RecordType is a DNS resource record type, per RFC 1035 §3.2.2 and the
// subset RFC 6762 actually uses.
type RecordType uint16

const (
	RecordTypeA     RecordType = 1
	RecordTypePTR   RecordType = 12
	RecordTypeTXT   RecordType = 16
	RecordTypeAAAA  RecordType = 28
	RecordTypeSRV   RecordType = 33
	RecordTypeKEY   RecordType = 25
	RecordTypeNSEC  RecordType = 47
	RecordTypeANY   RecordType = 255
)

func (t RecordType) String() string {
	switch t {
	case RecordTypeA:
		return "A"
	case RecordTypePTR:
		return "PTR"
	case RecordTypeTXT:
		return "TXT"
	case RecordTypeAAAA:
		return "AAAA"
	case RecordTypeSRV:
		return "SRV"
	case RecordTypeKEY:
		return "KEY"
	case RecordTypeNSEC:
		return "NSEC"
	case RecordTypeANY:
		return "ANY"
	default:
		return "UNKNOWN"
	}
}

// ClassINet is the DNS class IN (Internet), per RFC 1035 §3.2.4.
const ClassINet uint16 = 1

const (
	// CacheFlushBit marks a resource record as the complete and
	// authoritative set for its name/type/class, telling the receiver
	// to flush any other cached records, per RFC 6762 §10.2.
	CacheFlushBit uint16 = 0x8000

	// QUBit, set on a question's class field, requests a unicast
	// response rather than multicast, per RFC 6762 §5.4.
	QUBit uint16 = 0x8000

	// ClassMask strips the cache-flush/QU bit to recover the plain
	// DNS class.
	ClassMask uint16 = 0x7FFF
)

const (
	// TTLDefault is used for AAAA, SRV, TXT, PTR, and KEY records when
	// the caller does not specify one, per spec §6.
	TTLDefault uint32 = 120

	// TTLMeta is used for NSEC records and the
	// "_services._dns-sd._udp" meta-PTR, per spec §6.
	TTLMeta uint32 = 4500
)

const (
	// NumProbes is the number of probe queries sent before an entry
	// transitions from Probing to Registered, per RFC 6762 §8.1.
	NumProbes = 3

	// ProbeWaitTime is the spacing between probes 2 and 3 (and between
	// probe 3 and the transition to Registered), per RFC 6762 §8.1.
	ProbeWaitTime = 250 * time.Millisecond

	// ProbeInitialDelayMax bounds the randomized delay before the
	// first probe, per RFC 6762 §8.1.
	ProbeInitialDelayMax = 20 * time.Millisecond

	// NumAnnounces is the number of announcement responses sent after
	// an entry becomes Registered, per RFC 6762 §8.3.
	NumAnnounces = 3

	// AnnounceInterval is the base interval between announcements; it
	// doubles with each subsequent announcement (1s, 2s, 4s), per RFC
	// 6762 §8.3.
	AnnounceInterval = 1 * time.Second

	// MulticastRateLimit is the minimum spacing between two multicasts
	// of the same record, per RFC 6762 §6.
	MulticastRateLimit = 1 * time.Second

	// ProbeConflictHold is how long an entry waits after losing a
	// probe tiebreak before re-probing, per spec §4.4.
	ProbeConflictHold = 1 * time.Second

	// AnswerDelayUnique bounds the randomized delay for a unique
	// record answering a query, per RFC 6762 §6.
	AnswerDelayUniqueMin = 20 * time.Millisecond
	AnswerDelayUniqueMax = 120 * time.Millisecond

	// AnswerDelayShared bounds the randomized delay for a shared
	// (e.g. PTR) record answering a query, per RFC 6762 §6.
	AnswerDelaySharedMin = 20 * time.Millisecond
	AnswerDelaySharedMax = 500 * time.Millisecond

	// MultiPacketDelayMin/Max bound the consolidation delay for
	// truncated, multi-packet known-answer queries, per spec §4.6.
	MultiPacketDelayMin = 400 * time.Millisecond
	MultiPacketDelayMax = 500 * time.Millisecond

	// HistoryTTL is how long a transmitted message's fingerprint is
	// remembered for self-loop suppression, per spec §4.7.
	HistoryTTL = 10 * time.Second

	// LastMulticastValidity is the window after which
	// RecordInfo.lastMulticastTime is treated as "never multicast",
	// per spec §9 Open Questions (preserved as-is from the source).
	LastMulticastValidity = 10 * time.Hour
)

const (
	// MaxMessageSize is the default size threshold (in bytes) above
	// which a TxMessage splits into multiple physical messages, per
	// spec §4.2. Configurable via Core's WithMaxMessageSize / the
	// SetMaxMessageSize setter, mainly for testing.
	MaxMessageSize = 1200

	// MaxLabelLength is the maximum length of a single DNS label, per
	// RFC 1035 §3.1.
	MaxLabelLength = 63

	// MaxNameLength is the maximum total length of an encoded domain
	// name, per RFC 1035 §3.1.
	MaxNameLength = 255

	// MaxReassemblyMessages is the multi-packet buffer bound, per spec §5
	// (kMaxNumMessages). No code reads it: rx.MaxPendingSenders (also 10)
	// caps how many senders have buffered packets, and the number of
	// packets buffered per sender is not capped.
	MaxReassemblyMessages = 10
)

// Domain is the implicit mDNS domain suffix, per RFC 6762 §3.
const Domain = "local"

// ServicesMetaQuery is the DNS-SD service enumeration meta-name, per
// RFC 6763 §9.
const ServicesMetaQuery = "_services._dns-sd._udp." + Domain + "."
