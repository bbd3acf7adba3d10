package rx

import (
	"bytes"
	"time"

	"github.com/nodegrove/mdns/internal/clock"
	"github.com/nodegrove/mdns/internal/wire"
)

// SuppressesRaw reports whether a known-answer record with the given TTL
// and raw rdata suppresses a local record of localTTL/localRData, per spec
// §4.6: the peer's known TTL must be at least half the local record's TTL,
// and the rdata must match exactly. Used for AAAA and TXT, whose rdata
// carries no compression pointers.
func SuppressesRaw(localTTL uint32, localRData []byte, knownTTL uint32, knownRData []byte) bool {
	if knownTTL < localTTL/2 {
		return false
	}
	return bytes.Equal(localRData, knownRData)
}

// SuppressesPTR reports whether a known PTR answer suppresses a local PTR
// record, comparing the resolved target names (PTR rdata may carry
// compression pointers, so raw byte comparison is unsafe).
func SuppressesPTR(localTTL uint32, localTarget string, knownTTL uint32, knownTarget string) bool {
	if knownTTL < localTTL/2 {
		return false
	}
	return canonicalNameEqual(localTarget, knownTarget)
}

// SuppressesSRV reports whether a known SRV answer suppresses a local SRV
// record.
func SuppressesSRV(localTTL uint32, local SRVFields, knownTTL uint32, known SRVFields) bool {
	if knownTTL < localTTL/2 {
		return false
	}
	return local.Priority == known.Priority &&
		local.Weight == known.Weight &&
		local.Port == known.Port &&
		canonicalNameEqual(local.Target, known.Target)
}

// SRVFields is the comparable subset of an SRV record's rdata.
type SRVFields struct {
	Priority, Weight, Port uint16
	Target                 string
}

func canonicalNameEqual(a, b string) bool {
	return labelsEqual(wire.CanonicalizeLabels(a), wire.CanonicalizeLabels(b))
}

// QUDecision reports whether a query should be answered by unicast rather
// than multicast, per spec §4.6: QU must be set and allowed, and the
// record must have been multicast within the last quarter of its TTL, so
// every other listener on the network already holds a fresh copy
// (otherwise multicast is forced so their caches catch up).
func QUDecision(quBitSet, quAllowed bool, now clock.Millis, lastMulticast clock.Millis, lastMulticastValid bool, ttl uint32) bool {
	if !quBitSet || !quAllowed {
		return false
	}
	if !lastMulticastValid {
		return false
	}
	quarterTTL := time.Duration(ttl) * time.Second / 4
	return clock.Diff(now, lastMulticast) < quarterTTL
}
