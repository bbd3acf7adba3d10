package entry

import (
	"testing"
	"time"

	"github.com/nodegrove/mdns/internal/clock"
	"github.com/nodegrove/mdns/internal/protocol"
	"github.com/nodegrove/mdns/internal/records"
	"github.com/nodegrove/mdns/internal/txmsg"
)

func addr(last byte) [16]byte {
	var a [16]byte
	a[0] = 0x20
	a[15] = last
	return a
}

func TestHostEntry_ProbeSequenceTransitionsToRegistered(t *testing.T) {
	h := NewHostEntry("host.local", [][16]byte{addr(1)}, 0, nil, nil)
	h.StartProbing(0, 5*time.Millisecond)

	if h.State() != StateProbing {
		t.Fatalf("state = %v, want Probing", h.State())
	}

	if h.AdvanceProbe(5) {
		t.Fatal("first probe should not complete the sequence")
	}
	if h.AdvanceProbe(255) {
		t.Fatal("second probe should not complete the sequence")
	}
	if !h.AdvanceProbe(505) {
		t.Fatal("third probe should complete the sequence")
	}
	if h.State() != StateRegistered {
		t.Fatalf("state = %v, want Registered", h.State())
	}
}

func TestHostEntry_HandleProbeTiebreak_LosingRestartsProbing(t *testing.T) {
	h := NewHostEntry("host.local", [][16]byte{addr(1)}, 0, nil, nil)
	h.StartProbing(0, 0)
	h.probeCount = 1

	peer := []ProposedRecord{{Class: protocol.ClassINet, Type: protocol.RecordTypeAAAA, RData: []byte{0x20, 0x02}}}
	lost := h.HandleProbeTiebreak(300, peer)
	if !lost {
		t.Fatal("expected local to lose against a lexicographically greater peer record")
	}
	if h.State() != StateProbing {
		t.Fatalf("state = %v, want Probing after losing tiebreak", h.State())
	}
	if h.probeCount != 0 {
		t.Fatalf("probeCount = %d, want reset to 0", h.probeCount)
	}
	if h.FireTime() != clock.Add(300, protocol.ProbeConflictHold) {
		t.Fatalf("fireTime = %d, want now+ProbeConflictHold", h.FireTime())
	}
}

func TestHostEntry_HandleProbeTiebreak_Winning(t *testing.T) {
	h := NewHostEntry("host.local", [][16]byte{addr(2)}, 0, nil, nil)
	h.StartProbing(0, 0)

	peer := []ProposedRecord{{Class: protocol.ClassINet, Type: protocol.RecordTypeAAAA, RData: []byte{0x20, 0x00}}}
	if h.HandleProbeTiebreak(300, peer) {
		t.Fatal("expected local to win against a lexicographically lesser peer record")
	}
	if h.State() != StateProbing {
		t.Fatalf("winning the tiebreak should not change state, got %v", h.State())
	}
}

func TestHostEntry_HandleConflictingAnswer(t *testing.T) {
	called := false
	h := NewHostEntry("host.local", [][16]byte{addr(1)}, 0, nil, func() { called = true })
	h.HandleConflictingAnswer()

	if h.State() != StateConflict {
		t.Fatalf("state = %v, want Conflict", h.State())
	}
	if !called {
		t.Fatal("expected onConflict callback to fire")
	}
}

func TestHostEntry_NotifyRegistered_FiresOnce(t *testing.T) {
	calls := 0
	var lastErr error
	h := NewHostEntry("host.local", [][16]byte{addr(1)}, 0, func(err error) {
		calls++
		lastErr = err
	}, nil)

	h.NotifyRegistered(nil)
	h.NotifyRegistered(nil)

	if calls != 1 {
		t.Fatalf("callback fired %d times, want 1", calls)
	}
	if lastErr != nil {
		t.Fatalf("lastErr = %v, want nil", lastErr)
	}
}

func TestHostEntry_AdvanceAnnounce_DoublingIntervals(t *testing.T) {
	h := NewHostEntry("host.local", [][16]byte{addr(1)}, 0, nil, nil)
	h.StartProbing(0, 0)
	h.AdvanceProbe(0)
	h.AdvanceProbe(250)
	h.AdvanceProbe(500)

	h.AdvanceAnnounce(500)
	if h.FireTime() != clock.Add(500, protocol.AnnounceInterval) {
		t.Fatalf("fireTime after announce #1 = %d, want +1s", h.FireTime())
	}

	h.AdvanceAnnounce(1500)
	if h.FireTime() != clock.Add(1500, 2*protocol.AnnounceInterval) {
		t.Fatalf("fireTime after announce #2 = %d, want +2s", h.FireTime())
	}

	h.AdvanceAnnounce(3500)
	if !h.AnnounceDone() {
		t.Fatal("expected announce sequence complete after 3 announces")
	}
}

func TestHostEntry_BeginRemoving_ZerosTTL(t *testing.T) {
	h := NewHostEntry("host.local", [][16]byte{addr(1)}, 120, nil, nil)
	h.BeginRemoving(1000)

	if h.State() != StateRemoving {
		t.Fatalf("state = %v, want Removing", h.State())
	}
	if h.effectiveTTL() != 0 {
		t.Fatalf("effectiveTTL() = %d, want 0 while removing", h.effectiveTTL())
	}
}

func TestHostEntry_ScheduleAnswer_PullsFireTimeEarlier(t *testing.T) {
	h := NewHostEntry("host.local", [][16]byte{addr(1)}, 120, nil, nil)
	h.StartProbing(0, 0)
	h.AdvanceProbe(0)
	h.AdvanceProbe(250)
	h.AdvanceProbe(500)
	h.fireTime = 10_000

	h.ScheduleAnswer(600, records.AnswerRequest{AnswerTime: 650, Unicast: false})

	if h.FireTime() != 650 {
		t.Fatalf("fireTime = %d, want 650 (pending answer pulls it earlier)", h.FireTime())
	}
}

func TestHostEntry_PrepareProbe_WritesQuestionAndAuthority(t *testing.T) {
	h := NewHostEntry("host.local", [][16]byte{addr(1), addr(2)}, 120, nil, nil)
	h.StartProbing(0, 0)

	b := txmsg.New(txmsg.MulticastProbe, 1200)
	if err := h.PrepareProbe(b, true); err != nil {
		t.Fatalf("PrepareProbe: %v", err)
	}
	if b.Buffer(txmsg.SectionQuestion).Len() == 0 {
		t.Fatal("expected a question written")
	}
	if b.Buffer(txmsg.SectionAuthority).Len() == 0 {
		t.Fatal("expected authority records written")
	}
}

func TestHostEntry_PrepareResponse_AnnouncingWrites(t *testing.T) {
	h := NewHostEntry("host.local", [][16]byte{addr(1)}, 120, nil, nil)
	h.StartProbing(0, 0)
	h.AdvanceProbe(0)
	h.AdvanceProbe(250)
	h.AdvanceProbe(500)

	b := txmsg.New(txmsg.MulticastResponse, 1200)
	wrote, err := h.PrepareResponse(b, 500, true)
	if err != nil {
		t.Fatalf("PrepareResponse: %v", err)
	}
	if !wrote {
		t.Fatal("expected the first announce to write a record")
	}
	if b.Buffer(txmsg.SectionAnswer).Len() == 0 {
		t.Fatal("expected an answer record written")
	}
}

func TestHostEntry_PrepareResponse_NothingPendingWritesNothing(t *testing.T) {
	h := NewHostEntry("host.local", [][16]byte{addr(1)}, 120, nil, nil)
	h.StartProbing(0, 0)
	h.AdvanceProbe(0)
	h.AdvanceProbe(250)
	h.AdvanceProbe(500)
	h.AdvanceAnnounce(500)
	h.AdvanceAnnounce(1500)
	h.AdvanceAnnounce(3500)

	b := txmsg.New(txmsg.MulticastResponse, 1200)
	wrote, err := h.PrepareResponse(b, 3500, true)
	if err != nil {
		t.Fatalf("PrepareResponse: %v", err)
	}
	if wrote {
		t.Fatal("expected nothing written once announces are exhausted and nothing is pending")
	}
}

func TestHostEntry_MatchesAddress(t *testing.T) {
	h := NewHostEntry("host.local", [][16]byte{addr(1)}, 120, nil, nil)
	if !h.MatchesAddress(addr(1)) {
		t.Fatal("expected registered address to match")
	}
	if h.MatchesAddress(addr(9)) {
		t.Fatal("expected unregistered address not to match")
	}
}
