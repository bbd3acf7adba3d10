package entry

import (
	"testing"

	"github.com/nodegrove/mdns/internal/protocol"
)

func TestPeerWinsTiebreak_GreaterRDataWins(t *testing.T) {
	local := []ProposedRecord{
		{Class: protocol.ClassINet, Type: protocol.RecordTypeAAAA, RData: []byte{0x20, 0x01, 0x0d, 0xb8, 0x00, 0x01}},
	}
	// scenario 2 from spec §8: peer proposes ::2, local proposes ::1; peer wins.
	peer := []ProposedRecord{
		{Class: protocol.ClassINet, Type: protocol.RecordTypeAAAA, RData: []byte{0x20, 0x01, 0x0d, 0xb8, 0x00, 0x02}},
	}

	if !PeerWinsTiebreak(local, peer) {
		t.Error("expected peer with greater rdata to win the tiebreak")
	}
	if PeerWinsTiebreak(peer, local) {
		t.Error("expected local with lesser rdata to lose when compared the other way")
	}
}

func TestPeerWinsTiebreak_IdenticalRecordsLocalWins(t *testing.T) {
	rr := ProposedRecord{Class: protocol.ClassINet, Type: protocol.RecordTypeAAAA, RData: []byte{0x20, 0x01}}
	if PeerWinsTiebreak([]ProposedRecord{rr}, []ProposedRecord{rr}) {
		t.Error("identical proposals should not hand the win to the peer")
	}
}

func TestPeerWinsTiebreak_LongerSetWinsOnCommonPrefix(t *testing.T) {
	rr := ProposedRecord{Class: protocol.ClassINet, Type: protocol.RecordTypeAAAA, RData: []byte{0x20, 0x01}}
	local := []ProposedRecord{rr}
	peer := []ProposedRecord{rr, {Class: protocol.ClassINet, Type: protocol.RecordTypeSRV, RData: []byte{0x00}}}

	if !PeerWinsTiebreak(local, peer) {
		t.Error("expected the peer's longer, prefix-matching record set to win")
	}
}

func TestPeerWinsTiebreak_TypeOrdering(t *testing.T) {
	local := []ProposedRecord{{Class: protocol.ClassINet, Type: protocol.RecordTypeAAAA, RData: []byte{0xff}}}
	peer := []ProposedRecord{{Class: protocol.ClassINet, Type: protocol.RecordTypeSRV, RData: []byte{0x00}}}

	// AAAA(28) < SRV(33), so even with lexicographically smaller rdata the
	// peer wins because its type sorts higher.
	if !PeerWinsTiebreak(local, peer) {
		t.Error("expected peer to win on type ordering despite smaller rdata")
	}
}
