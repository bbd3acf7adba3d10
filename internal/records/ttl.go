// Package records implements per-record transmission state: presence,
// TTL, announce counter, and pending-answer scheduling, per spec §3 and
// §4.3.
package records

import (
	"time"

	"github.com/nodegrove/mdns/internal/protocol"
)

// RecordTTL tracks a record's configured TTL and when it was created, so
// its remaining lifetime can be computed for outbound rdata (mDNS TTLs
// count down the same way as regular DNS, RFC 6762 §10).
type RecordTTL struct {
	TTL        uint32
	CreatedAt  time.Time
	RecordType protocol.RecordType
}

// NewRecordTTL returns a RecordTTL for recordType, substituting the
// type-appropriate default when ttl is zero (spec §3: "present ⇒ ttl > 0
// at registration time; 0 means unspecified").
func NewRecordTTL(recordType protocol.RecordType, ttl uint32, now time.Time) RecordTTL {
	if ttl == 0 {
		ttl = GetTTLForRecordType(recordType)
	}
	return RecordTTL{TTL: ttl, CreatedAt: now, RecordType: recordType}
}

// GetTTLForRecordType returns the default TTL for recordType, per spec §6:
// 120s for address/SRV/TXT/PTR/KEY, 4500s for NSEC and the
// "_services._dns-sd._udp" meta-PTR (callers pass RecordTypePTR for both;
// distinguishing the meta-PTR is the caller's responsibility since the
// type alone doesn't carry that distinction).
func GetTTLForRecordType(recordType protocol.RecordType) uint32 {
	if recordType == protocol.RecordTypeNSEC {
		return protocol.TTLMeta
	}
	return protocol.TTLDefault
}

// GetRemainingTTL returns the TTL remaining as of now, floored at zero.
func (r RecordTTL) GetRemainingTTL(now time.Time) uint32 {
	elapsed := now.Sub(r.CreatedAt)
	if elapsed < 0 {
		return r.TTL
	}
	remaining := int64(r.TTL) - int64(elapsed/time.Second)
	if remaining < 0 {
		return 0
	}
	return uint32(remaining)
}

// IsExpired reports whether the record's TTL has fully elapsed as of now.
func (r RecordTTL) IsExpired(now time.Time) bool {
	return r.GetRemainingTTL(now) == 0
}
