package records

import (
	"net"

	"github.com/nodegrove/mdns/internal/clock"
	"github.com/nodegrove/mdns/internal/protocol"
)

// AnswerRequest carries the parameters of one pending-answer request, per
// spec §4.3.
type AnswerRequest struct {
	AnswerTime clock.Millis
	Unicast    bool
	Dest       *net.UDPAddr
}

// multicastRateLimited reports whether a multicast of this record within
// the last MulticastRateLimit window (1s, RFC 6762 §6) should delay a new
// one.
func (r *RecordInfo) multicastRateLimited(now clock.Millis) (clock.Millis, bool) {
	last, ok := r.LastMulticastKnown(now)
	if !ok {
		return 0, false
	}
	if clock.Before(now, clock.Add(last, protocol.MulticastRateLimit)) {
		return clock.Add(last, protocol.MulticastRateLimit), true
	}
	return 0, false
}

// ScheduleAnswer records a pending answer for this record, per spec §4.3.
//
// A multicast request folds into any existing multicast-pending answer by
// keeping the earlier of the two times, and is delayed to respect the
// 1-second multicast rate limit if the record was multicast too recently.
// A multicast whose answer time is no later than a currently pending
// unicast subsumes it — one multicast reaches every listener, including
// whoever asked with QU — so the separate unicast is dropped.
//
// A unicast request is absorbed without any new scheduling if an earlier
// (or equal) multicast answer is already pending; otherwise it folds into
// any existing unicast-pending answer by keeping the earlier time.
func (r *RecordInfo) ScheduleAnswer(now clock.Millis, req AnswerRequest) {
	if req.Unicast {
		if r.MulticastPending && !clock.Before(req.AnswerTime, r.MulticastAnswerTime) {
			return
		}
		if r.UnicastPending {
			if clock.Before(req.AnswerTime, r.UnicastAnswerTime) {
				r.UnicastAnswerTime = req.AnswerTime
				r.UnicastDest = req.Dest
			}
			return
		}
		r.UnicastPending = true
		r.UnicastAnswerTime = req.AnswerTime
		r.UnicastDest = req.Dest
		return
	}

	answerTime := req.AnswerTime
	if delayedUntil, limited := r.multicastRateLimited(now); limited && clock.Before(answerTime, delayedUntil) {
		answerTime = delayedUntil
	}

	if r.MulticastPending {
		if clock.Before(answerTime, r.MulticastAnswerTime) {
			r.MulticastAnswerTime = answerTime
		}
	} else {
		r.MulticastPending = true
		r.MulticastAnswerTime = answerTime
	}

	if r.UnicastPending && !clock.Before(r.UnicastAnswerTime, r.MulticastAnswerTime) {
		r.UnicastPending = false
	}
}

// ShouldAppendTo reports whether this record should be written into the
// message currently under construction, per spec §4.3: the record must be
// present, have a pending answer matching the section being built
// (multicast means the shared multicast response, otherwise the unicast
// response to a specific requester), and its answer time must have
// arrived.
func (r *RecordInfo) ShouldAppendTo(buildingMulticast bool, now clock.Millis) bool {
	if !r.Present {
		return false
	}
	if buildingMulticast {
		return r.MulticastPending && !clock.Before(now, r.MulticastAnswerTime)
	}
	return r.UnicastPending && !clock.Before(now, r.UnicastAnswerTime)
}

// UpdateStateAfterAnswer clears the pending flag matching the response
// that was just sent and, for a multicast response, records
// lastMulticastTime (spec §4.3). A multicast answer also clears any
// pending unicast, since it necessarily reached that requester too.
func (r *RecordInfo) UpdateStateAfterAnswer(wasMulticast bool, now clock.Millis) {
	if wasMulticast {
		r.MulticastPending = false
		r.UnicastPending = false
		r.lastMulticastTime = now
		r.lastMulticastValid = true
		return
	}
	r.UnicastPending = false
}
