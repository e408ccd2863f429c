package dispatch

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jwirth/marktradar/internal/store"
	"github.com/jwirth/marktradar/pkg/notify"
)

// fakeNotifier records deliveries and fails any notification whose title is
// listed in failTitles.
type fakeNotifier struct {
	failTitles map[string]bool
	attempts   int
	sent       []*notify.Notification
}

func (f *fakeNotifier) Name() string { return "fake" }

func (f *fakeNotifier) Send(ctx context.Context, n *notify.Notification) error {
	f.attempts++
	if f.failTitles[n.Title] {
		return errors.New("channel unavailable")
	}
	copied := *n
	f.sent = append(f.sent, &copied)
	return nil
}

func newTestEnv(t *testing.T, f *fakeNotifier) (*Dispatcher, *store.SQLiteStore, store.Search) {
	t.Helper()
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	search := store.Search{
		Label:    "vinyl",
		URL:      "https://example.org/s-schallplatten",
		ChatID:   "-100789",
		ThreadID: "42",
		Active:   true,
	}
	if err := s.AddSearch(context.Background(), &search); err != nil {
		t.Fatalf("add search: %v", err)
	}

	d := New(s, notify.NewManager([]notify.Notifier{f}), nil, nil)
	return d, s, search
}

func addPendingItem(t *testing.T, s *store.SQLiteStore, search store.Search, externalID, title string, cents int64, firstSeen time.Time) store.Item {
	t.Helper()
	ctx := context.Background()
	item := store.Item{
		SearchID:   search.ID,
		ExternalID: externalID,
		Title:      title,
		PriceCents: cents,
		Currency:   "EUR",
		URL:        "https://example.org/" + externalID,
		FirstSeen:  firstSeen,
		LastSeen:   firstSeen,
	}
	if _, err := s.InsertItem(ctx, &item); err != nil {
		t.Fatalf("insert %s: %v", externalID, err)
	}
	if err := s.AddPricePoint(ctx, item.ID, cents, "EUR", firstSeen); err != nil {
		t.Fatalf("price point %s: %v", externalID, err)
	}
	return item
}

func TestPassDeliversOldestFirst(t *testing.T) {
	f := &fakeNotifier{}
	d, s, search := newTestEnv(t, f)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	addPendingItem(t, s, search, "ad-2", "second", 2000, base.Add(time.Hour))
	addPendingItem(t, s, search, "ad-1", "first", 1000, base)

	sent, failed, err := d.Pass(ctx, store.DefaultSettings())
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if sent != 2 || failed != 0 {
		t.Fatalf("sent=%d failed=%d, want 2/0", sent, failed)
	}
	if len(f.sent) != 2 || f.sent[0].Title != "first" || f.sent[1].Title != "second" {
		t.Fatalf("delivery order wrong: %+v", f.sent)
	}
	if f.sent[0].ChatID != search.ChatID || f.sent[0].ThreadID != search.ThreadID {
		t.Fatalf("routing wrong: %+v", f.sent[0])
	}

	pending, _ := s.ListPendingNotifications(ctx, 0)
	if len(pending) != 0 {
		t.Fatalf("%d items still pending after successful pass", len(pending))
	}

	// A second pass must not re-send delivered items.
	before := f.attempts
	if _, _, err := d.Pass(ctx, store.DefaultSettings()); err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if f.attempts != before {
		t.Fatal("delivered items were re-sent")
	}
}

func TestRetryUntilExhaustion(t *testing.T) {
	f := &fakeNotifier{failTitles: map[string]bool{"doomed": true}}
	d, s, search := newTestEnv(t, f)
	ctx := context.Background()

	item := addPendingItem(t, s, search, "ad-z", "doomed", 1000, time.Now().UTC())

	set := store.DefaultSettings()
	set.NotifyRetryMax = 3

	// Three passes, three failed attempts.
	for i := 1; i <= 3; i++ {
		sent, failed, err := d.Pass(ctx, set)
		if err != nil {
			t.Fatalf("pass %d: %v", i, err)
		}
		if sent != 0 || failed != 1 {
			t.Fatalf("pass %d: sent=%d failed=%d", i, sent, failed)
		}
	}

	got, _ := s.GetItem(ctx, item.ID)
	if !got.NotifyFailed {
		t.Fatal("item not marked permanently failed after retry bound")
	}

	events, _ := s.ListErrorEvents(ctx, 10)
	found := false
	for _, ev := range events {
		if ev.Component == "dispatch" && ev.ItemID == item.ID {
			found = true
		}
	}
	if !found {
		t.Fatal("no error event recorded for exhausted delivery")
	}

	// No further automatic attempts.
	before := f.attempts
	if _, _, err := d.Pass(ctx, set); err != nil {
		t.Fatalf("post-exhaustion pass: %v", err)
	}
	if f.attempts != before {
		t.Fatal("exhausted item was retried")
	}
}

func TestOneFailureDoesNotBlockOthers(t *testing.T) {
	f := &fakeNotifier{failTitles: map[string]bool{"bad": true}}
	d, s, search := newTestEnv(t, f)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	addPendingItem(t, s, search, "ad-bad", "bad", 1000, base)
	good := addPendingItem(t, s, search, "ad-good", "good", 2000, base.Add(time.Minute))

	sent, failed, err := d.Pass(ctx, store.DefaultSettings())
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if sent != 1 || failed != 1 {
		t.Fatalf("sent=%d failed=%d, want 1/1", sent, failed)
	}
	if len(f.sent) != 1 || f.sent[0].Title != "good" {
		t.Fatalf("good item not delivered: %+v", f.sent)
	}

	gotGood, _ := s.GetItem(ctx, good.ID)
	if !gotGood.Notified {
		t.Fatal("good item not marked notified")
	}
}

func TestPriceChangeBodyShowsPreviousPrice(t *testing.T) {
	f := &fakeNotifier{}
	d, s, search := newTestEnv(t, f)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	item := addPendingItem(t, s, search, "ad-d", "dropping", 10000, base)

	// Simulate a detected price drop.
	if err := s.UpdateItemPrice(ctx, item.ID, 9000, "EUR", "", base.Add(time.Hour)); err != nil {
		t.Fatalf("update price: %v", err)
	}
	if err := s.AddPricePoint(ctx, item.ID, 9000, "EUR", base.Add(time.Hour)); err != nil {
		t.Fatalf("price point: %v", err)
	}

	if _, _, err := d.Pass(ctx, store.DefaultSettings()); err != nil {
		t.Fatalf("pass: %v", err)
	}
	if len(f.sent) != 1 {
		t.Fatalf("got %d deliveries, want 1", len(f.sent))
	}
	body := f.sent[0].Body
	if !strings.Contains(body, "90.00 EUR") || !strings.Contains(body, "100.00 EUR") {
		t.Fatalf("body missing old/new price: %q", body)
	}
	if !strings.Contains(body, "Price drop") {
		t.Fatalf("drop not labelled as such: %q", body)
	}
}
