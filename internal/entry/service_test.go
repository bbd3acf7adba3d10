package entry

import (
	"testing"
	"time"

	"github.com/nodegrove/mdns/internal/clock"
	"github.com/nodegrove/mdns/internal/protocol"
	"github.com/nodegrove/mdns/internal/records"
	"github.com/nodegrove/mdns/internal/txmsg"
)

func newTestService() *ServiceEntry {
	return NewServiceEntry("printer", "_http._tcp.local", "myhost.local", 80, 0, 0, []string{"path=/"}, 0, nil, nil)
}

func TestServiceEntry_InstanceFullName(t *testing.T) {
	s := newTestService()
	if got, want := s.InstanceFullName(), "printer._http._tcp.local"; got != want {
		t.Fatalf("InstanceFullName() = %q, want %q", got, want)
	}
}

func TestServiceEntry_ProbeSequenceTransitionsToRegistered(t *testing.T) {
	s := newTestService()
	s.StartProbing(0, 5*time.Millisecond)

	if s.AdvanceProbe(5) {
		t.Fatal("first probe should not complete the sequence")
	}
	if s.AdvanceProbe(255) {
		t.Fatal("second probe should not complete the sequence")
	}
	if !s.AdvanceProbe(505) {
		t.Fatal("third probe should complete the sequence")
	}
	if s.State() != StateRegistered {
		t.Fatalf("state = %v, want Registered", s.State())
	}
}

func TestServiceEntry_AddAndRemoveSubType(t *testing.T) {
	s := newTestService()
	s.AddSubType("_printer", 0)
	if len(s.subTypes) != 1 {
		t.Fatalf("len(subTypes) = %d, want 1", len(s.subTypes))
	}

	s.AddSubType("_printer", 0)
	if len(s.subTypes) != 1 {
		t.Fatal("adding the same sub-type twice should be a no-op")
	}

	s.RemoveSubType(100, "_printer")
	if len(s.subTypes) != 1 {
		t.Fatalf("len(subTypes) = %d, want 1 while the goodbye is still pending", len(s.subTypes))
	}
	if s.HasSubType("_printer") {
		t.Fatal("HasSubType should report false once removal has been requested")
	}
}

func TestServiceEntry_RemoveSubType_SendsGoodbyeBeforeDropping(t *testing.T) {
	s := newTestService()
	s.AddSubType("_printer", 120)

	s.RemoveSubType(100, "_printer")

	st := s.subTypes[0]
	if st.PTR.TTL != 0 {
		t.Fatalf("PTR.TTL = %d, want 0 after RemoveSubType", st.PTR.TTL)
	}
	if !st.PTR.MulticastPending {
		t.Fatal("expected the goodbye to be scheduled as a pending multicast answer")
	}
	if len(s.subTypes) != 1 {
		t.Fatal("sub-type must remain until its goodbye has actually been transmitted")
	}

	b := txmsg.New(txmsg.MulticastResponse, 1200)
	wrote, err := s.PrepareResponse(b, 100, true)
	if err != nil {
		t.Fatalf("PrepareResponse: %v", err)
	}
	if !wrote {
		t.Fatal("expected the goodbye to be written")
	}
	if len(s.subTypes) != 0 {
		t.Fatalf("len(subTypes) = %d, want 0 after the goodbye was transmitted", len(s.subTypes))
	}
}

func TestServiceEntry_HandleProbeTiebreak(t *testing.T) {
	s := newTestService()
	s.StartProbing(0, 0)

	local := s.ProposedRecords()
	lesser := []ProposedRecord{{Class: protocol.ClassINet, Type: protocol.RecordTypeSRV, RData: append([]byte{}, local[0].RData...)}}
	lesser[0].RData[len(lesser[0].RData)-1] = 0x00 // force a lexicographically smaller peer

	if s.HandleProbeTiebreak(100, lesser) {
		t.Fatal("expected local to win against a lexicographically smaller peer")
	}

	greater := []ProposedRecord{{Class: protocol.ClassINet, Type: protocol.RecordTypeSRV, RData: append([]byte{}, local[0].RData...)}}
	greater[0].RData = append(greater[0].RData, 0xff)

	if !s.HandleProbeTiebreak(100, greater) {
		t.Fatal("expected local to lose against a longer, prefix-matching peer")
	}
	if s.State() != StateProbing {
		t.Fatalf("state = %v, want Probing after losing", s.State())
	}
}

func TestServiceEntry_BeginRemovingZerosTTL(t *testing.T) {
	s := newTestService()
	s.srvRecord.SetPresent(120)
	s.BeginRemoving(1000)

	if s.State() != StateRemoving {
		t.Fatalf("state = %v, want Removing", s.State())
	}
	if s.effectiveTTL(s.srvRecord) != 0 {
		t.Fatalf("effectiveTTL = %d, want 0 while removing", s.effectiveTTL(s.srvRecord))
	}
}

func TestServiceEntry_PrepareResponse_AnnounceWritesAllRecords(t *testing.T) {
	s := newTestService()
	s.StartProbing(0, 0)
	s.AdvanceProbe(0)
	s.AdvanceProbe(250)
	s.AdvanceProbe(500)

	b := txmsg.New(txmsg.MulticastResponse, 1200)
	wrote, err := s.PrepareResponse(b, 500, true)
	if err != nil {
		t.Fatalf("PrepareResponse: %v", err)
	}
	if !wrote {
		t.Fatal("expected records written during the first announce")
	}
	if b.Buffer(txmsg.SectionAnswer).Len() == 0 {
		t.Fatal("expected bytes written into the answer section")
	}
}

func TestServiceEntry_ScheduleAnswer_PTRSpecific(t *testing.T) {
	s := newTestService()
	s.fireTime = 10_000

	s.ScheduleAnswer(100, protocol.RecordTypePTR, records.AnswerRequest{AnswerTime: 150})

	if !s.ptrRecord.MulticastPending {
		t.Fatal("expected PTR record to have a pending multicast answer")
	}
	if s.srvRecord.MulticastPending {
		t.Fatal("expected SRV record to be untouched by a PTR-scoped schedule")
	}
	if s.FireTime() != 150 {
		t.Fatalf("fireTime = %d, want 150", s.FireTime())
	}
}

func TestServiceEntry_ScheduleSubTypeAnswer(t *testing.T) {
	s := newTestService()
	s.AddSubType("_printer", 0)
	s.fireTime = 10_000

	s.ScheduleSubTypeAnswer(100, "_printer", records.AnswerRequest{AnswerTime: 200})

	if !s.subTypes[0].PTR.MulticastPending {
		t.Fatal("expected the sub-type PTR to have a pending multicast answer")
	}
	if s.FireTime() != 200 {
		t.Fatalf("fireTime = %d, want 200", s.FireTime())
	}
}

func TestServiceEntry_AdvanceAnnounce_KeepsRecordsInLockstep(t *testing.T) {
	s := newTestService()
	s.StartProbing(0, 0)
	s.AdvanceProbe(0)
	s.AdvanceProbe(250)
	s.AdvanceProbe(500)

	s.AdvanceAnnounce(500)
	if s.FireTime() != clock.Add(500, protocol.AnnounceInterval) {
		t.Fatalf("fireTime after announce #1 = %d, want +1s", s.FireTime())
	}
	if s.ptrRecord.AnnounceCounter != 1 || s.txtRecord.AnnounceCounter != 1 {
		t.Fatal("expected PTR and TXT announce counters to advance alongside SRV")
	}
}
