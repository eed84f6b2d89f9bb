package metrics

import (
	"sync/atomic"
	"time"
)

type Counter struct {
	value uint64
}

func (c *Counter) Inc() {
	atomic.AddUint64(&c.value, 1)
}

func (c *Counter) Add(n uint64) {
	atomic.AddUint64(&c.value, n)
}

func (c *Counter) Load() uint64 {
	return atomic.LoadUint64(&c.value)
}

type Timer struct {
	start time.Time
}

func StartTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Payment pipeline counters. Incremented by the webhook handlers and
// read by the admin metrics endpoint.
var (
	PaymentEventsReceived  Counter
	PaymentEventsDuplicate Counter
	PaymentEventsRejected  Counter
	EscrowReleases         Counter
	RefundsQueued          Counter
)

type Snapshot struct {
	PaymentEventsReceived  uint64 `json:"payment_events_received"`
	PaymentEventsDuplicate uint64 `json:"payment_events_duplicate"`
	PaymentEventsRejected  uint64 `json:"payment_events_rejected"`
	EscrowReleases         uint64 `json:"escrow_releases"`
	RefundsQueued          uint64 `json:"refunds_queued"`
}

func Collect() Snapshot {
	return Snapshot{
		PaymentEventsReceived:  PaymentEventsReceived.Load(),
		PaymentEventsDuplicate: PaymentEventsDuplicate.Load(),
		PaymentEventsRejected:  PaymentEventsRejected.Load(),
		EscrowReleases:         EscrowReleases.Load(),
		RefundsQueued:          RefundsQueued.Load(),
	}
}
