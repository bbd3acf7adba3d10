package entry

import (
	"bytes"
	"sort"

	"github.com/nodegrove/mdns/internal/protocol"
)

// ProposedRecord is one record a contender offers in a probe's authority
// section, reduced to the fields the tiebreak comparison needs, per spec
// §4.4 and §9 ("Tiebreak comparison").
type ProposedRecord struct {
	Class uint16 // always protocol.ClassINet in practice
	Type  protocol.RecordType
	RData []byte
}

func compareProposed(a, b ProposedRecord) int {
	if a.Class != b.Class {
		if a.Class < b.Class {
			return -1
		}
		return 1
	}
	if a.Type != b.Type {
		if a.Type < b.Type {
			return -1
		}
		return 1
	}
	return bytes.Compare(a.RData, b.RData)
}

func sortedCopy(records []ProposedRecord) []ProposedRecord {
	out := make([]ProposedRecord, len(records))
	copy(out, records)
	sort.Slice(out, func(i, j int) bool { return compareProposed(out[i], out[j]) < 0 })
	return out
}

// PeerWinsTiebreak implements the probe conflict tiebreak of spec §4.4:
// both contenders' authority records are sorted by (class, type, rdata)
// and compared pairwise; the first strict difference decides, and the
// peer with the lexicographically greater record set wins. A contender
// whose record set is a strict prefix of the other's loses (per RFC 6762
// §8.2, the "lexicographically later" set wins, which for records
// bytewise-equal up to the length of the shorter set means the longer set
// wins).
func PeerWinsTiebreak(local, peer []ProposedRecord) bool {
	ls := sortedCopy(local)
	ps := sortedCopy(peer)

	for i := 0; i < len(ls) && i < len(ps); i++ {
		switch compareProposed(ls[i], ps[i]) {
		case -1:
			return true
		case 1:
			return false
		}
	}
	return len(ps) > len(ls)
}
