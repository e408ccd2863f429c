package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/jwirth/marktradar/internal/config"
	"github.com/jwirth/marktradar/internal/detect"
	"github.com/jwirth/marktradar/internal/dispatch"
	"github.com/jwirth/marktradar/internal/scheduler"
	"github.com/jwirth/marktradar/internal/stats"
	"github.com/jwirth/marktradar/internal/store"
	"github.com/jwirth/marktradar/pkg/listing"
	"github.com/jwirth/marktradar/pkg/notify"
	"github.com/jwirth/marktradar/pkg/server"
)

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	return config.Load(path)
}

func buildNotifyManager(cfg *config.Config) *notify.Manager {
	var notifiers []notify.Notifier

	if cfg.Notify.Telegram.Enabled && cfg.Notify.Telegram.BotToken != "" {
		notifiers = append(notifiers, notify.NewTelegram(cfg.Notify.Telegram.BotToken))
	}
	if cfg.Notify.Discord.Enabled && cfg.Notify.Discord.WebhookURL != "" {
		notifiers = append(notifiers, notify.NewDiscord(cfg.Notify.Discord.WebhookURL))
	}
	if cfg.Notify.Webhook.Enabled && cfg.Notify.Webhook.URL != "" {
		notifiers = append(notifiers, notify.NewWebhook(cfg.Notify.Webhook.URL, cfg.Notify.Webhook.Secret))
	}

	return notify.NewManager(notifiers)
}

func buildPipeline(cfg *config.Config, db store.Store) (*listing.Fetcher, *detect.Detector) {
	fetcher := listing.NewFetcher(cfg.Fetch.UserAgent, cfg.Fetch.Timeout(), cfg.Fetch.RequestsPerMinute)
	images := listing.NewImageFetcher(cfg.Fetch.UserAgent, cfg.Fetch.ImageTimeout())
	detector := detect.New(db, images, slog.Default())
	return fetcher, detector
}

// runScan performs one fetch-detect-persist pass per active search, then
// optionally one dispatch pass. Useful for cron-style deployments and for
// smoke-testing a new search.
func runScan(dispatchAfter bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	counters := stats.New()
	fetcher, detector := buildPipeline(cfg, db)

	ctx := context.Background()
	set, err := db.LoadSettings(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	searches, err := db.ListActiveSearches(ctx)
	if err != nil {
		return fmt.Errorf("list searches: %w", err)
	}

	for _, search := range searches {
		fmt.Fprintf(os.Stderr, "scanning %q...\n", search.Label)
		cands, err := fetcher.Fetch(ctx, search.URL, listing.Kind(search.Kind))
		if err != nil {
			fmt.Fprintf(os.Stderr, "  fetch error (%s): %v\n", listing.ClassifyErr(err), err)
			db.AddErrorEvent(ctx, store.ErrorEvent{
				Component: "fetch",
				Message:   err.Error(),
				SearchID:  search.ID,
			})
			continue
		}

		sum, err := detector.Process(ctx, search, cands, set)
		if err != nil {
			fmt.Fprintf(os.Stderr, "  detect error: %v\n", err)
			continue
		}
		db.TouchSearchScanned(ctx, search.ID, time.Now().UTC())
		fmt.Fprintf(os.Stderr, "  %d candidates: %d new, %d changed\n",
			len(cands), sum.New, sum.Changed)
	}

	if !dispatchAfter {
		return nil
	}

	mgr := buildNotifyManager(cfg)
	if !mgr.HasNotifiers() {
		fmt.Fprintln(os.Stderr, "no notifiers configured, skipping dispatch")
		return nil
	}

	d := dispatch.New(db, mgr, counters, slog.Default())
	sent, failed, err := d.Pass(ctx, set)
	if err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}
	fmt.Fprintf(os.Stderr, "dispatched: %d sent, %d failed\n", sent, failed)
	return nil
}

func runServe(port int) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if port == 0 {
		port = cfg.Server.Port
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	srv := server.New(db, stats.New(), port, slog.Default())
	return srv.ListenAndServe()
}

func runDaemon(port int) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if port == 0 {
		port = cfg.Server.Port
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	counters := stats.New()
	fetcher, detector := buildPipeline(cfg, db)
	mgr := buildNotifyManager(cfg)
	log := slog.Default()

	if !mgr.HasNotifiers() {
		log.Warn("no notifiers configured; items will accumulate as pending")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sched := scheduler.New(db, fetcher, detector, counters,
		cfg.Scheduler.ParseReconcileInterval(), log)
	go func() {
		if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("scheduler stopped", "error", err)
		}
	}()

	disp := dispatch.New(db, mgr, counters, log)
	go func() {
		if err := disp.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("dispatcher stopped", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		log.Info("shutting down")
	}()

	srv := server.New(db, counters, port, log)
	return srv.ListenAndServe()
}

func runSearchesList() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	searches, err := db.ListSearches(context.Background())
	if err != nil {
		return fmt.Errorf("list searches: %w", err)
	}

	if len(searches) == 0 {
		fmt.Println("no searches configured (add one: marktradar searches add)")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tACTIVE\tINTERVAL\tLABEL\tLAST SCAN\tURL")
	for _, s := range searches {
		lastScan := "never"
		if !s.LastScannedAt.IsZero() {
			lastScan = s.LastScannedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%d\t%t\t%ds\t%s\t%s\t%s\n",
			s.ID, s.Active, s.IntervalSeconds, s.Label, lastScan, s.URL)
	}
	return w.Flush()
}

func runSearchesAdd(label, url, kind, chatID, threadID string, interval int64) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	if label == "" {
		label = url
	}
	search := &store.Search{
		Label:           label,
		URL:             url,
		Kind:            kind,
		ChatID:          chatID,
		ThreadID:        threadID,
		Active:          true,
		IntervalSeconds: interval,
	}
	if err := db.AddSearch(context.Background(), search); err != nil {
		return fmt.Errorf("add search: %w", err)
	}

	fmt.Printf("added search %d: %s\n", search.ID, search.Label)
	return nil
}
