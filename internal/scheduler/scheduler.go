// Package scheduler owns one timer-driven runner per active search and
// keeps the running set in sync with the searches table.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jwirth/marktradar/internal/detect"
	"github.com/jwirth/marktradar/internal/stats"
	"github.com/jwirth/marktradar/internal/store"
	"github.com/jwirth/marktradar/pkg/listing"
)

// Fetcher retrieves one search's listing payload.
type Fetcher interface {
	Fetch(ctx context.Context, url string, kind listing.Kind) ([]listing.Candidate, error)
}

// Scheduler runs scan cycles. Each active search gets its own goroutine
// with its own timer, so one slow or failing search never delays another;
// a reconcile loop starts and stops runners as searches are activated and
// deactivated, without a restart.
type Scheduler struct {
	store        store.Store
	fetcher      Fetcher
	detector     *detect.Detector
	stats        *stats.Stats
	log          *slog.Logger
	reconcileInt time.Duration

	mu      sync.Mutex
	runners map[int64]*runner
}

type runner struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Scheduler.
func New(st store.Store, f Fetcher, d *detect.Detector, counters *stats.Stats, reconcileInt time.Duration, log *slog.Logger) *Scheduler {
	if reconcileInt == 0 {
		reconcileInt = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		store:        st,
		fetcher:      f,
		detector:     d,
		stats:        counters,
		log:          log.With("component", "scheduler"),
		reconcileInt: reconcileInt,
		runners:      make(map[int64]*runner),
	}
}

// Run reconciles runners until ctx is cancelled, then stops them all and
// waits for in-flight cycles to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.reconcile(ctx)

	ticker := time.NewTicker(s.reconcileInt)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.stopAll()
			return ctx.Err()
		case <-ticker.C:
			s.reconcile(ctx)
		}
	}
}

// reconcile diffs the active searches against the running set. Interval
// changes need no action here: runners re-read their search every loop.
func (s *Scheduler) reconcile(ctx context.Context) {
	active, err := s.store.ListActiveSearches(ctx)
	if err != nil {
		s.log.Error("list active searches", "error", err)
		return
	}

	desired := make(map[int64]bool, len(active))
	for _, search := range active {
		desired[search.ID] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, r := range s.runners {
		select {
		case <-r.done:
			// Runner exited on its own (search went inactive).
			delete(s.runners, id)
			continue
		default:
		}
		if !desired[id] {
			r.cancel()
			delete(s.runners, id)
			s.log.Info("search runner stopped", "search_id", id)
		}
	}

	for id := range desired {
		if _, running := s.runners[id]; running {
			continue
		}
		runCtx, cancel := context.WithCancel(ctx)
		r := &runner{cancel: cancel, done: make(chan struct{})}
		s.runners[id] = r
		go s.runSearch(runCtx, id, r.done)
		s.log.Info("search runner started", "search_id", id)
	}
}

func (s *Scheduler) stopAll() {
	s.mu.Lock()
	runners := s.runners
	s.runners = make(map[int64]*runner)
	s.mu.Unlock()

	for _, r := range runners {
		r.cancel()
	}
	for _, r := range runners {
		<-r.done
	}
}

// runSearch is one search's scan loop: scan immediately on start, then wait
// out the search's current interval after each cycle. A cycle that outlives
// the interval simply delays the next one — cycles for one search never
// overlap and never queue.
func (s *Scheduler) runSearch(ctx context.Context, id int64, done chan struct{}) {
	defer close(done)

	var set store.Settings
	haveSettings := false

	for {
		search, err := s.store.GetSearch(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Error("reload search", "search_id", id, "error", err)
		} else if search == nil || !search.Active {
			return
		}

		if search != nil && search.Active {
			set, haveSettings = s.refreshSettings(ctx, set, haveSettings)
			s.runCycle(ctx, *search, set)
		}

		interval := 5 * time.Minute
		if search != nil {
			interval = search.Interval()
		}
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// refreshSettings reloads the settings snapshot only when the revision
// moved, so every cycle runs against one consistent configuration.
func (s *Scheduler) refreshSettings(ctx context.Context, current store.Settings, have bool) (store.Settings, bool) {
	if have {
		rev, err := s.store.SettingsRevision(ctx)
		if err == nil && rev == current.Revision {
			return current, true
		}
	}
	set, err := s.store.LoadSettings(ctx)
	if err != nil {
		s.log.Error("load settings", "error", err)
		if have {
			return current, true
		}
		return store.DefaultSettings(), true
	}
	return set, true
}

// runCycle is one fetch-detect-persist pass for a single search. Fetch
// failures are recorded and end the cycle; blocked upstreams in particular
// are not retried until the next scheduled tick.
func (s *Scheduler) runCycle(ctx context.Context, search store.Search, set store.Settings) {
	cands, err := s.fetcher.Fetch(ctx, search.URL, listing.Kind(search.Kind))
	if err != nil {
		kind := listing.ClassifyErr(err)
		if s.stats != nil {
			s.stats.RecordFetchFailure(string(kind))
		}
		s.log.Warn("fetch failed", "search", search.Label, "class", kind, "error", err)
		if err := s.store.AddErrorEvent(ctx, store.ErrorEvent{
			Component: "fetch",
			Message:   string(kind) + ": " + err.Error(),
			SearchID:  search.ID,
		}); err != nil {
			s.log.Error("record error event", "search", search.Label, "error", err)
		}
		return
	}

	sum, err := s.detector.Process(ctx, search, cands, set)
	if err != nil {
		s.log.Error("detect failed", "search", search.Label, "error", err)
		if err := s.store.AddErrorEvent(ctx, store.ErrorEvent{
			Component: "detect",
			Message:   err.Error(),
			SearchID:  search.ID,
		}); err != nil {
			s.log.Error("record error event", "search", search.Label, "error", err)
		}
		return
	}

	if err := s.store.TouchSearchScanned(ctx, search.ID, time.Now().UTC()); err != nil {
		s.log.Error("touch search", "search", search.Label, "error", err)
	}
	if s.stats != nil {
		s.stats.RecordScan(len(cands), sum.New, sum.Changed)
	}

	s.log.Info("scan cycle done",
		"search", search.Label, "candidates", len(cands),
		"new", sum.New, "changed", sum.Changed)
}
