package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"gridpilot/internal/cli"
	"gridpilot/internal/config"
	"gridpilot/pkg/backtest"
	"gridpilot/pkg/journal"
	"gridpilot/pkg/ledger"
	"gridpilot/pkg/ledger/sim"
	"gridpilot/pkg/signer"
)

var (
	configFile = flag.String("f", "etc/gridpilot.yaml", "the config file")
	seriesFile = flag.String("series", "", "CSV price series (timestamp,close)")
	reportFile = flag.String("out", "", "write the JSON report here")
	journalOut = flag.String("journal", "", "write lifecycle events to this JSONL file")
)

func main() {
	flag.Parse()
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	if *seriesFile == "" {
		log.Fatal("[main] -series is required")
	}
	appCfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("[main] Failed to load config: %v", err)
	}
	log.Printf("[main] Configuration loaded:")
	for _, line := range cli.ConfigSummaryLines(appCfg) {
		log.Printf("  - %s", line)
	}
	botCfg := appCfg.Bot.Value

	feeder, err := backtest.LoadCSVFile(*seriesFile)
	if err != nil {
		log.Fatalf("[main] %v", err)
	}
	log.Printf("  - Series: %s (%d points)", *seriesFile, feeder.Len())

	venue, err := paperVenue(botCfg.Ledger.Venues[botCfg.VenueName()])
	if err != nil {
		log.Fatalf("[main] Failed to build paper venue: %v", err)
	}
	// Replays always sign in software.
	sign, err := signer.NewSoftware(botCfg.Signer.PrivateKey)
	if err != nil {
		log.Fatalf("[main] Failed to build signer: %v", err)
	}

	engine := &backtest.Engine{
		Config:     botCfg,
		Venue:      venue,
		Signer:     sign,
		Feeder:     feeder,
		OutputPath: *reportFile,
	}
	if *journalOut != "" {
		w, err := journal.NewWriter(journal.Config{Path: *journalOut})
		if err != nil {
			log.Fatalf("[main] Failed to open journal: %v", err)
		}
		defer w.Close()
		engine.Sink = w
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := engine.Run(ctx)
	if err != nil {
		log.Fatalf("[main] Backtest failed: %v", err)
	}
	log.Printf("[result] steps=%d triggered=%d confirmed=%d failed=%d rejected=%d",
		res.Steps, res.Triggered, res.Confirmed, res.Failed, res.Rejected)
	log.Printf("[result] trades=%d win_rate=%.2f%% realized=%.4f unrealized=%.4f total=%.4f",
		res.Trades, res.WinRate*100, res.RealizedPNL, res.UnrealPNL, res.TotalPNL)
	log.Printf("[result] max_drawdown=%.2f%% sharpe=%.3f breaker_trips=%d",
		res.MaxDDPct, res.Sharpe, res.BreakerTrips)
	if *reportFile != "" {
		log.Printf("[result] report written to %s", *reportFile)
	}
}

// paperVenue reuses the configured sim venue, or stands one up with ample
// balances when the bot trades a live venue.
func paperVenue(vc *ledger.VenueConfig) (*sim.Venue, error) {
	if vc != nil && vc.Type == "sim" {
		return sim.NewFromConfig(vc)
	}
	opts := []sim.Option{sim.WithSpread(10), sim.WithBalance("USDC", 1e6), sim.WithBalance("SOL", 1e4)}
	if vc != nil && len(vc.Assets) > 0 {
		opts = append(opts, sim.WithAssets(vc.AssetTable()))
	}
	return sim.New(0, opts...), nil
}
