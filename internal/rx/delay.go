package rx

import (
	"math/rand"
	"time"

	"github.com/nodegrove/mdns/internal/clock"
)

// ProbeAnswerDelay is the answer delay for defending against a peer's
// probe: must respond immediately, though still batched with whatever else
// fires at the same scheduler tick (spec §4.6).
func ProbeAnswerDelay() time.Duration { return 0 }

// UniqueAnswerDelay returns a uniform random delay in [20, 120)ms, used
// when answering a query for a unique (non-shared) record, per spec §4.6.
func UniqueAnswerDelay() time.Duration {
	return randBetween(20, 120)
}

// SharedAnswerDelay returns a uniform random delay in [20, 500)ms, used
// when answering a query for a shared record (PTR), to spread out
// responses from multiple responders, per spec §4.6.
func SharedAnswerDelay() time.Duration {
	return randBetween(20, 500)
}

func randBetween(loMs, hiMs int) time.Duration {
	return time.Duration(loMs+rand.Intn(hiMs-loMs)) * time.Millisecond
}

// AnswerTime returns now advanced by delay, as a scheduling fire time.
func AnswerTime(now clock.Millis, delay time.Duration) clock.Millis {
	return clock.Add(now, delay)
}
