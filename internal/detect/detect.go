// Package detect classifies fetched listing candidates against persisted
// state: new listings, price changes, or already-known items.
package detect

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jwirth/marktradar/internal/store"
	"github.com/jwirth/marktradar/pkg/listing"
)

// ImageSource retrieves a listing image for inline storage. Returns "" when
// the image could not be acquired.
type ImageSource interface {
	Fetch(ctx context.Context, imageURL string, capBytes int64) string
}

// Summary counts the outcome of one scan cycle's detection pass.
type Summary struct {
	New       int
	Changed   int
	Unchanged int
}

// Detector runs the per-candidate classification for one search's scan
// cycle. It owns the only write path for items and price history.
type Detector struct {
	store  store.Store
	images ImageSource
	log    *slog.Logger
}

// New creates a Detector.
func New(st store.Store, images ImageSource, log *slog.Logger) *Detector {
	if log == nil {
		log = slog.Default()
	}
	return &Detector{store: st, images: images, log: log.With("component", "detect")}
}

// Process classifies each candidate in fetch order. New items are inserted
// with their initial price point; price changes update in place, append a
// price point and re-arm notification; unchanged items only bump last_seen.
// Replaying the same payload is a no-op beyond last_seen.
//
// Only a store failure aborts the pass: image acquisition is best-effort
// and its failure never blocks persistence.
func (d *Detector) Process(ctx context.Context, search store.Search, cands []listing.Candidate, set store.Settings) (Summary, error) {
	var sum Summary
	now := time.Now().UTC()

	for _, c := range cands {
		existing, err := d.store.GetItemByExternal(ctx, search.ID, c.ExternalID)
		if err != nil {
			return sum, fmt.Errorf("lookup %s: %w", c.ExternalID, err)
		}

		switch {
		case existing == nil:
			if err := d.insertNew(ctx, search, c, set, now); err != nil {
				return sum, err
			}
			sum.New++

		case existing.PriceCents != c.PriceCents:
			if err := d.applyPriceChange(ctx, search, existing, c, set, now); err != nil {
				return sum, err
			}
			sum.Changed++

		default:
			if err := d.store.TouchItemSeen(ctx, existing.ID, now); err != nil {
				return sum, fmt.Errorf("touch %d: %w", existing.ID, err)
			}
			sum.Unchanged++
		}
	}

	return sum, nil
}

func (d *Detector) insertNew(ctx context.Context, search store.Search, c listing.Candidate, set store.Settings, now time.Time) error {
	item := &store.Item{
		SearchID:   search.ID,
		ExternalID: c.ExternalID,
		Title:      c.Title,
		PriceCents: c.PriceCents,
		Currency:   c.Currency,
		Condition:  c.Condition,
		Size:       c.Size,
		URL:        c.URL,
		ImageURL:   c.ImageURL,
		ImageData:  d.acquireImage(ctx, c.ImageURL, set),
		FirstSeen:  now,
		LastSeen:   now,
	}

	inserted, err := d.store.InsertItem(ctx, item)
	if err != nil {
		return fmt.Errorf("insert %s: %w", c.ExternalID, err)
	}
	if !inserted {
		// A concurrent cycle won the insert race; this sighting is just
		// another observation of the same listing.
		winner, err := d.store.GetItemByExternal(ctx, search.ID, c.ExternalID)
		if err != nil || winner == nil {
			return fmt.Errorf("lookup after lost insert %s: %w", c.ExternalID, err)
		}
		return d.store.TouchItemSeen(ctx, winner.ID, now)
	}

	if err := d.store.AddPricePoint(ctx, item.ID, c.PriceCents, c.Currency, now); err != nil {
		return fmt.Errorf("initial price point %d: %w", item.ID, err)
	}

	d.log.Info("new listing",
		"search", search.Label, "external_id", c.ExternalID,
		"title", c.Title, "price_cents", c.PriceCents)
	return nil
}

func (d *Detector) applyPriceChange(ctx context.Context, search store.Search, existing *store.Item, c listing.Candidate, set store.Settings, now time.Time) error {
	imageData := ""
	if existing.ImageData == "" {
		// The first acquisition may have failed; a price change is the
		// next natural moment to try again.
		imageData = d.acquireImage(ctx, c.ImageURL, set)
	}

	if err := d.store.UpdateItemPrice(ctx, existing.ID, c.PriceCents, c.Currency, imageData, now); err != nil {
		return fmt.Errorf("price change %d: %w", existing.ID, err)
	}
	if err := d.store.AddPricePoint(ctx, existing.ID, c.PriceCents, c.Currency, now); err != nil {
		return fmt.Errorf("price point %d: %w", existing.ID, err)
	}

	d.log.Info("price changed",
		"search", search.Label, "external_id", c.ExternalID,
		"old_cents", existing.PriceCents, "new_cents", c.PriceCents)
	return nil
}

func (d *Detector) acquireImage(ctx context.Context, imageURL string, set store.Settings) string {
	if imageURL == "" || d.images == nil {
		return ""
	}
	// The image CDN is a separate origin: pace it like any other request.
	listing.Jitter(ctx, set.RequestDelayMin, set.RequestDelayMax)
	return d.images.Fetch(ctx, imageURL, set.ImageCapBytes)
}
