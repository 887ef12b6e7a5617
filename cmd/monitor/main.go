package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"gridpilot/internal/cli"
	"gridpilot/internal/config"
	"gridpilot/internal/pendingstore"
	"gridpilot/pkg/execution"
	"gridpilot/pkg/ledger"
	_ "gridpilot/pkg/ledger/rpc"
	_ "gridpilot/pkg/ledger/sim"
	"gridpilot/pkg/market"
)

const (
	marketInterval  = 2 * time.Minute  // price and depth probe interval
	pendingInterval = 30 * time.Second // parked broadcast probe interval
	apiTimeout      = 5 * time.Second  // timeout for individual venue calls
	shutdownTimeout = 10 * time.Second // grace period for shutdown
)

var configFile = flag.String("f", "etc/gridpilot.yaml", "the config file")

// monitor probes the configured venue and reports on broadcasts a stopped bot
// left parked. It never trades. Badger holds a directory lock, so run it while
// the bot is down.
func main() {
	flag.Parse()
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.Println("[main] Starting venue monitor...")

	appCfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("[main] Failed to load config: %v", err)
	}
	log.Printf("[main] Configuration loaded:")
	for _, line := range cli.ConfigSummaryLines(appCfg) {
		log.Printf("  - %s", line)
	}
	botCfg := appCfg.Bot.Value

	venue, err := botCfg.BuildVenue()
	if err != nil {
		log.Fatalf("[main] Failed to build venue: %v", err)
	}
	store, err := pendingstore.Open(pendingstore.OpenOptions{Path: appCfg.PendingDir(), InMemory: appCfg.Pending.InMemory, ReadOnly: true})
	if err != nil {
		log.Fatalf("[main] Failed to open pending store: %v", err)
	}
	defer store.Close()

	log.Printf("  - Pair: %s", botCfg.MarketPair())
	log.Printf("  - Monitoring Intervals: market=%s, pending=%s", marketInterval, pendingInterval)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		every(ctx, marketInterval, func() { probeMarket(ctx, venue, botCfg.MarketPair()) })
	}()
	go func() {
		defer wg.Done()
		reconciler := execution.NewReconciler(venue)
		every(ctx, pendingInterval, func() { probePending(ctx, store, reconciler) })
	}()

	log.Println("[main] Monitor started. Press Ctrl+C to stop.")
	<-ctx.Done()
	log.Println("[main] Shutdown signal received, stopping tasks...")

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Println("[main] All tasks stopped cleanly")
	case <-time.After(shutdownTimeout):
		log.Println("[main] Shutdown timeout exceeded, forcing exit")
	}
}

// every runs fn immediately and then on each tick until ctx is done.
func every(ctx context.Context, d time.Duration, fn func()) {
	ticker := time.NewTicker(d)
	defer ticker.Stop()
	fn()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

func probeMarket(parent context.Context, venue ledger.Venue, pair market.Pair) {
	ctx, cancel := context.WithTimeout(parent, apiTimeout)
	defer cancel()

	start := time.Now()
	price, err := venue.Price(ctx, pair)
	if err != nil {
		log.Printf("[market] price %s failed: %v", pair, err)
		return
	}
	log.Printf("[market] price %s = %.6f (%s)", pair, price, time.Since(start).Round(time.Millisecond))

	depth, err := venue.Depth(ctx, pair)
	switch {
	case errors.Is(err, market.ErrDepthUnavailable):
		log.Printf("[market] depth %s: not served by this venue", pair)
	case err != nil:
		log.Printf("[market] depth %s failed: %v", pair, err)
	default:
		log.Printf("[market] depth %s: %d bids, %d asks", pair, len(depth.Bids), len(depth.Asks))
	}
}

func probePending(parent context.Context, store *pendingstore.Store, rec *execution.Reconciler) {
	list, err := store.List(parent)
	if err != nil {
		log.Printf("[pending] list failed: %v", err)
		return
	}
	if len(list) == 0 {
		log.Println("[pending] no parked broadcasts")
		return
	}
	for _, p := range list {
		ctx, cancel := context.WithTimeout(parent, apiTimeout)
		status, found, err := rec.Lookup(ctx, p.OutcomeID)
		cancel()
		switch {
		case err != nil:
			log.Printf("[pending] %s level=%s lookup failed: %v", p.OutcomeID, p.LevelID, err)
		case !found:
			expired := time.Now().After(p.TokenExpiry)
			log.Printf("[pending] %s level=%s unseen by ledger (token expired=%t, parked %s ago)",
				p.OutcomeID, p.LevelID, expired, time.Since(p.ParkedAt).Round(time.Second))
		default:
			log.Printf("[pending] %s level=%s ledger status=%s amount=%.4f", p.OutcomeID, p.LevelID, status, p.Amount)
		}
	}
}
