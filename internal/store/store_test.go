package store

import (
	"context"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func addTestSearch(t *testing.T, s *SQLiteStore) Search {
	t.Helper()
	search := Search{
		Label:           "road bikes",
		URL:             "https://example.org/s-fahrraeder/rennrad",
		Kind:            "html",
		ChatID:          "-100123",
		Active:          true,
		IntervalSeconds: 300,
	}
	if err := s.AddSearch(context.Background(), &search); err != nil {
		t.Fatalf("add search: %v", err)
	}
	return search
}

func addTestItem(t *testing.T, s *SQLiteStore, searchID int64, externalID string, cents int64, firstSeen time.Time) Item {
	t.Helper()
	item := Item{
		SearchID:   searchID,
		ExternalID: externalID,
		Title:      "item " + externalID,
		PriceCents: cents,
		Currency:   "EUR",
		FirstSeen:  firstSeen,
		LastSeen:   firstSeen,
	}
	inserted, err := s.InsertItem(context.Background(), &item)
	if err != nil {
		t.Fatalf("insert item %s: %v", externalID, err)
	}
	if !inserted {
		t.Fatalf("insert item %s: not inserted", externalID)
	}
	return item
}

func TestInsertItemDedup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	search := addTestSearch(t, s)

	now := time.Now().UTC()
	addTestItem(t, s, search.ID, "ad-1", 10000, now)

	dup := Item{
		SearchID:   search.ID,
		ExternalID: "ad-1",
		Title:      "same listing, different cycle",
		PriceCents: 9000,
		FirstSeen:  now,
		LastSeen:   now,
	}
	inserted, err := s.InsertItem(ctx, &dup)
	if err != nil {
		t.Fatalf("duplicate insert: %v", err)
	}
	if inserted {
		t.Fatal("duplicate (search_id, external_id) insert reported as inserted")
	}

	n, err := s.CountItems(ctx)
	if err != nil {
		t.Fatalf("count items: %v", err)
	}
	if n != 1 {
		t.Fatalf("got %d items, want 1", n)
	}

	// The winner's row is untouched.
	got, err := s.GetItemByExternal(ctx, search.ID, "ad-1")
	if err != nil || got == nil {
		t.Fatalf("get item: %v, %v", got, err)
	}
	if got.PriceCents != 10000 {
		t.Fatalf("price overwritten by losing insert: %d", got.PriceCents)
	}
}

func TestPriceHistoryOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	search := addTestSearch(t, s)

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	item := addTestItem(t, s, search.ID, "ad-1", 15000, base)

	prices := []int64{15000, 12000, 13000}
	for i, p := range prices {
		if err := s.AddPricePoint(ctx, item.ID, p, "EUR", base.Add(time.Duration(i)*time.Hour)); err != nil {
			t.Fatalf("add price point: %v", err)
		}
	}

	history, err := s.PriceHistory(ctx, item.ID)
	if err != nil {
		t.Fatalf("price history: %v", err)
	}
	if len(history) != len(prices) {
		t.Fatalf("got %d price points, want %d", len(history), len(prices))
	}
	for i, p := range prices {
		if history[i].PriceCents != p {
			t.Fatalf("history[%d] = %d, want %d", i, history[i].PriceCents, p)
		}
		if i > 0 && history[i].ObservedAt.Before(history[i-1].ObservedAt) {
			t.Fatalf("history not ordered by observed_at at %d", i)
		}
	}
}

func TestPendingNotificationsOldestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	search := addTestSearch(t, s)

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	newest := addTestItem(t, s, search.ID, "ad-newest", 100, base.Add(2*time.Hour))
	oldest := addTestItem(t, s, search.ID, "ad-oldest", 100, base)
	middle := addTestItem(t, s, search.ID, "ad-middle", 100, base.Add(time.Hour))

	pending, err := s.ListPendingNotifications(ctx, 0)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	want := []int64{oldest.ID, middle.ID, newest.ID}
	if len(pending) != len(want) {
		t.Fatalf("got %d pending, want %d", len(pending), len(want))
	}
	for i, id := range want {
		if pending[i].ID != id {
			t.Fatalf("pending[%d].ID = %d, want %d", i, pending[i].ID, id)
		}
	}

	// Delivered and exhausted items drop out.
	if err := s.MarkNotified(ctx, oldest.ID); err != nil {
		t.Fatalf("mark notified: %v", err)
	}
	for range 3 {
		if _, err := s.RecordNotifyFailure(ctx, middle.ID, 3); err != nil {
			t.Fatalf("record failure: %v", err)
		}
	}
	pending, err = s.ListPendingNotifications(ctx, 0)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != newest.ID {
		t.Fatalf("pending after mark/exhaust = %+v, want only %d", pending, newest.ID)
	}
}

func TestRecordNotifyFailureExhaustion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	search := addTestSearch(t, s)
	item := addTestItem(t, s, search.ID, "ad-1", 100, time.Now().UTC())

	for i := 1; i <= 2; i++ {
		exhausted, err := s.RecordNotifyFailure(ctx, item.ID, 3)
		if err != nil {
			t.Fatalf("failure %d: %v", i, err)
		}
		if exhausted {
			t.Fatalf("exhausted after %d of 3 attempts", i)
		}
	}

	exhausted, err := s.RecordNotifyFailure(ctx, item.ID, 3)
	if err != nil {
		t.Fatalf("final failure: %v", err)
	}
	if !exhausted {
		t.Fatal("not exhausted after 3 of 3 attempts")
	}

	got, err := s.GetItem(ctx, item.ID)
	if err != nil || got == nil {
		t.Fatalf("get item: %v, %v", got, err)
	}
	if !got.NotifyFailed || got.NotifyAttempts != 3 {
		t.Fatalf("failed=%t attempts=%d, want failed=true attempts=3", got.NotifyFailed, got.NotifyAttempts)
	}
}

func TestUpdateItemPriceRearmsDelivery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	search := addTestSearch(t, s)

	now := time.Now().UTC()
	item := Item{
		SearchID:   search.ID,
		ExternalID: "ad-1",
		Title:      "frame",
		PriceCents: 20000,
		Currency:   "EUR",
		ImageData:  "b2xkLWltYWdl",
		FirstSeen:  now,
		LastSeen:   now,
	}
	if _, err := s.InsertItem(ctx, &item); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.MarkNotified(ctx, item.ID); err != nil {
		t.Fatalf("mark notified: %v", err)
	}

	// Empty imageData keeps the stored image.
	if err := s.UpdateItemPrice(ctx, item.ID, 18000, "EUR", "", now.Add(time.Minute)); err != nil {
		t.Fatalf("update price: %v", err)
	}
	got, err := s.GetItem(ctx, item.ID)
	if err != nil || got == nil {
		t.Fatalf("get item: %v, %v", got, err)
	}
	if got.PriceCents != 18000 {
		t.Fatalf("price = %d, want 18000", got.PriceCents)
	}
	if got.Notified || got.NotifyFailed || got.NotifyAttempts != 0 {
		t.Fatalf("delivery state not re-armed: %+v", got)
	}
	if got.ImageData != "b2xkLWltYWdl" {
		t.Fatalf("image replaced by empty payload: %q", got.ImageData)
	}

	// A non-empty payload replaces it.
	if err := s.UpdateItemPrice(ctx, item.ID, 17000, "EUR", "bmV3LWltYWdl", now.Add(2*time.Minute)); err != nil {
		t.Fatalf("update price: %v", err)
	}
	got, _ = s.GetItem(ctx, item.ID)
	if got.ImageData != "bmV3LWltYWdl" {
		t.Fatalf("image not replaced: %q", got.ImageData)
	}
}

func TestSettingsRevision(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	set, err := s.LoadSettings(ctx)
	if err != nil {
		t.Fatalf("load settings: %v", err)
	}
	if set.Revision != 1 {
		t.Fatalf("initial revision = %d, want 1", set.Revision)
	}
	defaults := DefaultSettings()
	if set.NotifyRetryMax != defaults.NotifyRetryMax || set.ImageCapBytes != defaults.ImageCapBytes {
		t.Fatalf("defaults not applied: %+v", set)
	}

	if err := s.SetSetting(ctx, KeyNotifyRetryMax, "5"); err != nil {
		t.Fatalf("set setting: %v", err)
	}
	if err := s.SetSetting(ctx, KeyRequestDelayMinMS, "100"); err != nil {
		t.Fatalf("set setting: %v", err)
	}

	set, err = s.LoadSettings(ctx)
	if err != nil {
		t.Fatalf("reload settings: %v", err)
	}
	if set.Revision != 3 {
		t.Fatalf("revision = %d, want 3 after two writes", set.Revision)
	}
	if set.NotifyRetryMax != 5 {
		t.Fatalf("NotifyRetryMax = %d, want 5", set.NotifyRetryMax)
	}
	if set.RequestDelayMin != 100*time.Millisecond {
		t.Fatalf("RequestDelayMin = %v, want 100ms", set.RequestDelayMin)
	}
}

func TestItemImageAbsent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	search := addTestSearch(t, s)
	item := addTestItem(t, s, search.ID, "ad-1", 100, time.Now().UTC())

	data, err := s.ItemImage(ctx, item.ID)
	if err != nil {
		t.Fatalf("item image: %v", err)
	}
	if data != "" {
		t.Fatalf("image for item without one: %q", data)
	}

	data, err = s.ItemImage(ctx, 9999)
	if err != nil {
		t.Fatalf("item image for missing id: %v", err)
	}
	if data != "" {
		t.Fatalf("image for missing item: %q", data)
	}
}

func TestErrorEventsNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i := range 3 {
		err := s.AddErrorEvent(ctx, ErrorEvent{
			Component:  "fetch",
			Message:    "blocked",
			OccurredAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("add error event: %v", err)
		}
	}

	events, err := s.ListErrorEvents(ctx, 2)
	if err != nil {
		t.Fatalf("list error events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if !events[0].OccurredAt.After(events[1].OccurredAt) {
		t.Fatalf("events not newest-first: %v, %v", events[0].OccurredAt, events[1].OccurredAt)
	}
}

func TestPruneErrorEventsKeepsNewest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i := range 5 {
		err := s.AddErrorEvent(ctx, ErrorEvent{
			Component:  "fetch",
			Message:    "event",
			OccurredAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("add error event: %v", err)
		}
	}

	if err := s.PruneErrorEvents(ctx, 2); err != nil {
		t.Fatalf("prune: %v", err)
	}

	events, err := s.ListErrorEvents(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events after prune, want 2", len(events))
	}
	if !events[0].OccurredAt.Equal(base.Add(4 * time.Minute)) {
		t.Fatalf("newest event pruned: %v", events[0].OccurredAt)
	}

	// A non-positive bound disables pruning.
	if err := s.PruneErrorEvents(ctx, 0); err != nil {
		t.Fatalf("prune with zero bound: %v", err)
	}
	events, _ = s.ListErrorEvents(ctx, 10)
	if len(events) != 2 {
		t.Fatalf("zero bound pruned rows: %d left", len(events))
	}
}
