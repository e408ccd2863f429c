// Package stats holds process-wide counters read by the dashboard API.
package stats

import (
	"sync"
	"time"
)

// Stats accumulates counters from every component. All mutation goes
// through one mutex; Snapshot copies plain values out. Derived values such
// as the uptime string are computed from the immutable start time outside
// the critical section — nothing inside the lock calls back into another
// locked accessor.
type Stats struct {
	startedAt time.Time

	mu                sync.Mutex
	scans             int64
	itemsSeen         int64
	itemsNew          int64
	priceChanges      int64
	notificationsSent int64
	notifyFailures    int64
	fetchFailures     map[string]int64
}

// Snapshot is a read-only copy of the counters.
type Snapshot struct {
	StartedAt         time.Time        `json:"started_at"`
	Uptime            string           `json:"uptime"`
	Scans             int64            `json:"scans"`
	ItemsSeen         int64            `json:"items_seen"`
	ItemsNew          int64            `json:"items_new"`
	PriceChanges      int64            `json:"price_changes"`
	NotificationsSent int64            `json:"notifications_sent"`
	NotifyFailures    int64            `json:"notify_failures"`
	FetchFailures     map[string]int64 `json:"fetch_failures"`
}

// New creates a Stats anchored at the current time.
func New() *Stats {
	return &Stats{
		startedAt:     time.Now().UTC(),
		fetchFailures: make(map[string]int64),
	}
}

// RecordScan records one completed scan cycle and its detection outcome.
func (s *Stats) RecordScan(seen, added, changed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scans++
	s.itemsSeen += int64(seen)
	s.itemsNew += int64(added)
	s.priceChanges += int64(changed)
}

// RecordFetchFailure counts a classified fetch failure.
func (s *Stats) RecordFetchFailure(kind string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetchFailures[kind]++
}

// RecordDispatch records the outcome of one dispatch pass.
func (s *Stats) RecordDispatch(sent, failed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notificationsSent += int64(sent)
	s.notifyFailures += int64(failed)
}

// Snapshot returns a copy of all counters. The uptime string is built
// before the lock is taken.
func (s *Stats) Snapshot() Snapshot {
	uptime := time.Since(s.startedAt).Round(time.Second).String()

	s.mu.Lock()
	defer s.mu.Unlock()

	failures := make(map[string]int64, len(s.fetchFailures))
	for k, v := range s.fetchFailures {
		failures[k] = v
	}
	return Snapshot{
		StartedAt:         s.startedAt,
		Uptime:            uptime,
		Scans:             s.scans,
		ItemsSeen:         s.itemsSeen,
		ItemsNew:          s.itemsNew,
		PriceChanges:      s.priceChanges,
		NotificationsSent: s.notificationsSent,
		NotifyFailures:    s.notifyFailures,
		FetchFailures:     failures,
	}
}
