// Package dispatch drains items awaiting notification and delivers them
// through the configured channels, tracking per-item retry state.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jwirth/marktradar/internal/stats"
	"github.com/jwirth/marktradar/internal/store"
	"github.com/jwirth/marktradar/pkg/notify"
)

// Dispatcher delivers pending notifications oldest-first. One item's
// delivery failure never blocks the rest of the pass; failures count
// toward a bounded retry, after which the item is parked permanently.
type Dispatcher struct {
	store store.Store
	mgr   *notify.Manager
	stats *stats.Stats
	log   *slog.Logger
}

// New creates a Dispatcher.
func New(st store.Store, mgr *notify.Manager, counters *stats.Stats, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		store: st,
		mgr:   mgr,
		stats: counters,
		log:   log.With("component", "dispatch"),
	}
}

// Run executes dispatch passes until ctx is cancelled. The pass interval is
// re-read from settings before each pass, so operators can retune it live.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		set, err := d.store.LoadSettings(ctx)
		if err != nil {
			d.log.Error("load settings", "error", err)
			set = store.DefaultSettings()
		}

		if sent, failed, err := d.Pass(ctx, set); err != nil {
			d.log.Error("dispatch pass", "error", err)
		} else if sent+failed > 0 {
			d.log.Info("dispatch pass done", "sent", sent, "failed", failed)
		}

		// This loop is the one periodic visitor of the error table, so it
		// also enforces the retention bound.
		if err := d.store.PruneErrorEvents(ctx, set.ErrorRetentionMaxEvents); err != nil {
			d.log.Error("prune error events", "error", err)
		}

		timer := time.NewTimer(set.DispatchInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Pass performs one sweep over all pending items. Returns how many were
// delivered and how many delivery attempts failed. Only a store failure
// aborts the sweep early.
func (d *Dispatcher) Pass(ctx context.Context, set store.Settings) (sent, failed int, err error) {
	if !d.mgr.HasNotifiers() {
		return 0, 0, nil
	}

	pending, err := d.store.ListPendingNotifications(ctx, 0)
	if err != nil {
		return 0, 0, fmt.Errorf("list pending: %w", err)
	}

	for i := range pending {
		item := &pending[i]
		if err := d.deliver(ctx, item, set); err != nil {
			failed++
			d.recordFailure(ctx, item, set, err)
			continue
		}
		if err := d.store.MarkNotified(ctx, item.ID); err != nil {
			return sent, failed, fmt.Errorf("mark notified %d: %w", item.ID, err)
		}
		sent++
	}

	if d.stats != nil {
		d.stats.RecordDispatch(sent, failed)
	}
	return sent, failed, nil
}

func (d *Dispatcher) deliver(ctx context.Context, item *store.Item, set store.Settings) error {
	search, err := d.store.GetSearch(ctx, item.SearchID)
	if err != nil {
		return fmt.Errorf("search %d: %w", item.SearchID, err)
	}
	if search == nil {
		return fmt.Errorf("search %d no longer exists", item.SearchID)
	}

	n, err := d.render(ctx, item, search)
	if err != nil {
		return err
	}
	return d.mgr.Broadcast(ctx, n)
}

func (d *Dispatcher) render(ctx context.Context, item *store.Item, search *store.Search) (*notify.Notification, error) {
	history, err := d.store.PriceHistory(ctx, item.ID)
	if err != nil {
		return nil, fmt.Errorf("price history %d: %w", item.ID, err)
	}

	price := formatPrice(item.PriceCents, item.Currency)
	body := "Price: " + price
	if len(history) >= 2 {
		prev := history[len(history)-2]
		body = fmt.Sprintf("Price drop: %s (was %s)",
			price, formatPrice(prev.PriceCents, prev.Currency))
		if prev.PriceCents < item.PriceCents {
			body = fmt.Sprintf("Price change: %s (was %s)",
				price, formatPrice(prev.PriceCents, prev.Currency))
		}
	}
	if item.Size != "" {
		body += "\nSize: " + item.Size
	}
	if item.Condition != "" {
		body += "\nCondition: " + item.Condition
	}
	body += "\nSearch: " + search.Label

	return &notify.Notification{
		ChatID:   search.ChatID,
		ThreadID: search.ThreadID,
		Title:    item.Title,
		Body:     body,
		URL:      item.URL,
		ImageURL: item.ImageURL,
		ImageB64: item.ImageData,
	}, nil
}

func (d *Dispatcher) recordFailure(ctx context.Context, item *store.Item, set store.Settings, cause error) {
	exhausted, err := d.store.RecordNotifyFailure(ctx, item.ID, set.NotifyRetryMax)
	if err != nil {
		d.log.Error("record notify failure", "item", item.ID, "error", err)
		return
	}

	if !exhausted {
		d.log.Warn("delivery failed, will retry",
			"item", item.ID, "attempts", item.NotifyAttempts+1, "error", cause)
		return
	}

	d.log.Error("delivery exhausted", "item", item.ID, "error", cause)
	if err := d.store.AddErrorEvent(ctx, store.ErrorEvent{
		Component: "dispatch",
		Message:   fmt.Sprintf("delivery exhausted after %d attempts: %v", set.NotifyRetryMax, cause),
		SearchID:  item.SearchID,
		ItemID:    item.ID,
	}); err != nil {
		d.log.Error("record error event", "item", item.ID, "error", err)
	}
}

func formatPrice(cents int64, currency string) string {
	if currency == "" {
		currency = "EUR"
	}
	return fmt.Sprintf("%d.%02d %s", cents/100, cents%100, currency)
}
