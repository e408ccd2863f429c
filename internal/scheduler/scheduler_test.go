package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jwirth/marktradar/internal/detect"
	"github.com/jwirth/marktradar/internal/stats"
	"github.com/jwirth/marktradar/internal/store"
	"github.com/jwirth/marktradar/pkg/listing"
)

type fakeFetcher struct {
	mu    sync.Mutex
	calls map[string]int
	cands []listing.Candidate
	err   error
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string, kind listing.Kind) ([]listing.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[url]++
	if f.err != nil {
		return nil, f.err
	}
	return f.cands, nil
}

func (f *fakeFetcher) count(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

type noImages struct{}

func (noImages) Fetch(ctx context.Context, imageURL string, capBytes int64) string { return "" }

func newTestScheduler(t *testing.T, f *fakeFetcher) (*Scheduler, *store.SQLiteStore, *stats.Stats) {
	t.Helper()
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	counters := stats.New()
	d := detect.New(s, noImages{}, nil)
	return New(s, f, d, counters, 25*time.Millisecond, nil), s, counters
}

func addActiveSearch(t *testing.T, s *store.SQLiteStore, url string) store.Search {
	t.Helper()
	search := store.Search{
		Label:           url,
		URL:             url,
		ChatID:          "-100123",
		Active:          true,
		IntervalSeconds: 3600,
	}
	if err := s.AddSearch(context.Background(), &search); err != nil {
		t.Fatalf("add search: %v", err)
	}
	return search
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestFirstCycleRunsImmediately(t *testing.T) {
	f := &fakeFetcher{cands: []listing.Candidate{
		{ExternalID: "ad-1", Title: "one", PriceCents: 1000, Currency: "EUR"},
	}}
	sched, s, counters := newTestScheduler(t, f)
	search := addActiveSearch(t, s, "https://example.org/s-one")

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- sched.Run(ctx) }()

	// Interval is an hour; the only way a scan happens inside the test
	// window is the scan-on-start behavior.
	waitFor(t, "first scan", func() bool { return f.count(search.URL) >= 1 })
	waitFor(t, "item persisted", func() bool {
		item, _ := s.GetItemByExternal(context.Background(), search.ID, "ad-1")
		return item != nil
	})
	waitFor(t, "scan recorded", func() bool { return counters.Snapshot().Scans >= 1 })

	got, _ := s.GetSearch(context.Background(), search.ID)
	if got.LastScannedAt.IsZero() {
		t.Fatal("last_scanned_at not touched")
	}

	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("run returned %v", err)
	}
}

func TestReconcilePicksUpNewSearch(t *testing.T) {
	f := &fakeFetcher{}
	sched, s, _ := newTestScheduler(t, f)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- sched.Run(ctx) }()

	// Added after the scheduler started; only the reconcile ticker can
	// discover it.
	search := addActiveSearch(t, s, "https://example.org/s-late")
	waitFor(t, "late search scanned", func() bool { return f.count(search.URL) >= 1 })

	cancel()
	<-errc
}

func TestDeactivatedSearchStopsScanning(t *testing.T) {
	f := &fakeFetcher{}
	sched, s, _ := newTestScheduler(t, f)
	search := addActiveSearch(t, s, "https://example.org/s-gone")
	search.IntervalSeconds = 0 // clamps to the 30s floor; one cycle is enough

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- sched.Run(ctx) }()

	waitFor(t, "first scan", func() bool { return f.count(search.URL) >= 1 })

	search.Active = false
	if err := s.UpdateSearch(context.Background(), &search); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	// Give reconcile time to cancel the runner, then verify no new cycles.
	time.Sleep(100 * time.Millisecond)
	before := f.count(search.URL)
	time.Sleep(100 * time.Millisecond)
	if after := f.count(search.URL); after != before {
		t.Fatalf("deactivated search still scanning: %d -> %d", before, after)
	}

	cancel()
	<-errc
}

func TestFetchFailureIsRecordedNotFatal(t *testing.T) {
	f := &fakeFetcher{err: &listing.FetchError{Kind: listing.FailBlocked, Err: errors.New("status 403")}}
	sched, s, counters := newTestScheduler(t, f)
	search := addActiveSearch(t, s, "https://example.org/s-blocked")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- sched.Run(ctx) }()

	waitFor(t, "fetch attempt", func() bool { return f.count(search.URL) >= 1 })
	waitFor(t, "error event", func() bool {
		events, _ := s.ListErrorEvents(context.Background(), 10)
		for _, ev := range events {
			if ev.Component == "fetch" && ev.SearchID == search.ID {
				return true
			}
		}
		return false
	})
	waitFor(t, "failure counted", func() bool {
		return counters.Snapshot().FetchFailures[string(listing.FailBlocked)] >= 1
	})

	// The cycle failed, so the scan never completed.
	if counters.Snapshot().Scans != 0 {
		t.Fatal("failed cycle counted as a completed scan")
	}
	got, _ := s.GetSearch(context.Background(), search.ID)
	if !got.LastScannedAt.IsZero() {
		t.Fatal("failed cycle touched last_scanned_at")
	}

	cancel()
	<-errc
}
