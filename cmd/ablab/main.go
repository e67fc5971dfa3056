package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"pumplab/internal/ab"
	"pumplab/internal/blockchain"
	"pumplab/internal/config"
	"pumplab/internal/detect"
	"pumplab/internal/storage"
)

const (
	exitOK     = 0
	exitFail   = 1
	exitConfig = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	analyseOnly := flag.Bool("analyse", false, "skip the session, print cross-session analysis")
	flag.Parse()

	godotenv.Load()
	setupLogger()

	cfg, err := config.NewManager(*configPath)
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
		return exitConfig
	}

	db, err := storage.NewDB(cfg.Get().Storage.ABPath)
	if err != nil {
		log.Error().Err(err).Msg("failed to open ledger")
		return exitFail
	}
	defer db.Close()

	if *analyseOnly {
		return analyse(db)
	}

	session := cfg.Get().Session
	if violations := session.Validate(); len(violations) > 0 {
		for _, v := range violations {
			log.Error().Str("violation", v).Msg("invalid session config")
		}
		return exitConfig
	}

	rpc := blockchain.NewRPCClient(cfg.PrimaryRPCURL(), cfg.FallbackRPCURL(), "")
	source := buildSource(cfg)

	harness, err := ab.NewHarness(session, db, rpc, source)
	if err != nil {
		log.Error().Err(err).Msg("harness construction failed")
		return exitConfig
	}
	if err := harness.Start(); err != nil {
		log.Error().Err(err).Msg("harness start failed")
		return exitFail
	}

	// SIGINT ends the session early; the timer ends it on schedule.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Info().Msg("interrupt received, stopping session")
		harness.Stop()
	}()

	report := <-harness.Done()
	report.Print()

	return analyse(db)
}

func analyse(db *storage.DB) int {
	a := ab.NewAnalyser(db)

	impacts, err := a.ParameterImpacts()
	if err != nil {
		log.Error().Err(err).Msg("analysis failed")
		return exitFail
	}

	header := color.New(color.Bold)
	if len(impacts) > 0 {
		header.Println("\nparameter impacts across sessions:")
		for _, impact := range impacts {
			best := "-"
			if impact.BestValue != nil {
				best = fmt.Sprintf("%v (%.0f%% win rate)", *impact.BestValue, impact.BestValueWinRate)
			}
			fmt.Printf("  %-28s sessions=%d higher=%d lower=%d avgImpact=%.4f best=%s\n",
				impact.ParamName, impact.SessionsTested, impact.HigherWins, impact.LowerWins,
				impact.AvgPnlImpact, best)
		}
	}

	best, err := a.BestKnownConfig()
	if err != nil {
		log.Error().Err(err).Msg("analysis failed")
		return exitFail
	}
	header.Printf("\nbest known config (%s, %d sessions):\n", best.OverallConfidence, best.TotalSessions)
	for _, p := range best.Parameters {
		fmt.Printf("  %-28s %v [%s]\n", p.ParamName, p.Value, p.Confidence)
	}

	suggestions, err := a.SuggestTests()
	if err != nil {
		log.Error().Err(err).Msg("analysis failed")
		return exitFail
	}
	if len(suggestions) > 0 {
		header.Println("\nsuggested next tests:")
		for _, s := range suggestions {
			fmt.Printf("  [%-6s] %-28s A=%v B=%v  (%s)\n", s.Priority, s.ParamName, s.ValueA, s.ValueB, s.Rationale)
		}
	}
	return exitOK
}

func buildSource(cfg *config.Manager) detect.Source {
	if wsURL := cfg.WebsocketURL(); wsURL != "" {
		return detect.NewWebsocketSource(wsURL, cfg.ReconnectDelay(), cfg.PingInterval())
	}
	webhook := cfg.Get().Webhook
	log.Info().Msg("no websocket URL configured, using webhook source")
	return detect.NewWebhookSource(webhook.ListenHost, webhook.ListenPort)
}

func setupLogger() {
	log.Logger = zerolog.New(
		zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"},
	).With().Timestamp().Logger()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "1" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}
