package rx

import (
	"math/rand"
	"net"
	"time"
)

// MaxPendingSenders bounds the multi-packet reassembly table, mirroring
// the source's kMaxNumMessages (spec §5 resource policy).
const MaxPendingSenders = 10

// ProcessDelay returns a uniform random delay in [400, 500)ms before a
// truncated message's follow-on known-answer packets are consolidated and
// processed, per spec §4.6.
func ProcessDelay() time.Duration {
	return time.Duration(400+rand.Intn(100)) * time.Millisecond
}

// Reassembler buffers truncated (TC=1) messages by sender until their
// follow-on known-answer packets arrive or the process delay elapses, per
// spec §4.6 and §5 ("Multi-packet reassembly").
type Reassembler struct {
	pending map[string][]*Message
}

// NewReassembler returns an empty Reassembler.
func NewReassembler() *Reassembler {
	return &Reassembler{pending: make(map[string][]*Message)}
}

func senderKey(addr *net.UDPAddr) string {
	if addr == nil {
		return ""
	}
	return addr.String()
}

// Enqueue buffers m under its sender. If the table is full and m's sender
// is new, it evicts one pending sender, whichever map iteration yields
// first; that is not necessarily the oldest.
func (r *Reassembler) Enqueue(m *Message) {
	key := senderKey(m.Sender)
	if _, ok := r.pending[key]; !ok && len(r.pending) >= MaxPendingSenders {
		for k := range r.pending {
			delete(r.pending, k)
			break
		}
	}
	r.pending[key] = append(r.pending[key], m)
}

// Drain returns and clears every message buffered for sender, for joint
// processing once the process-delay timer fires.
func (r *Reassembler) Drain(sender *net.UDPAddr) []*Message {
	key := senderKey(sender)
	msgs := r.pending[key]
	delete(r.pending, key)
	return msgs
}

// Pending reports how many senders currently have buffered messages.
func (r *Reassembler) Pending() int { return len(r.pending) }

// MergedKnownAnswers flattens the answer sections of every buffered message
// for sender into one known-answer list, for suppression purposes.
func MergedKnownAnswers(msgs []*Message) []Record {
	var out []Record
	for _, m := range msgs {
		out = append(out, m.Answers...)
	}
	return out
}
