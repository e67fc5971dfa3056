package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"pumplab/internal/blacklist"
	"pumplab/internal/blockchain"
	"pumplab/internal/config"
	"pumplab/internal/curve"
	"pumplab/internal/detect"
	"pumplab/internal/exposure"
	"pumplab/internal/health"
	"pumplab/internal/monitor"
	"pumplab/internal/pipeline"
	"pumplab/internal/storage"
	"pumplab/internal/trading"
)

// Exit codes: 0 success, 1 operational failure, 2 invalid configuration.
const (
	exitOK     = 0
	exitFail   = 1
	exitConfig = 2
)

// sellerProxy defers seller wiring until the executor exists (the
// executor and the monitor reference each other).
type sellerProxy struct {
	executor *trading.Executor
}

func (s *sellerProxy) Sell(ctx context.Context, pos *storage.Position, reason string, currentValueSol float64) (float64, string, error) {
	return s.executor.Sell(ctx, pos, reason, currentValueSol)
}

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	godotenv.Load()
	setupLogger()
	log.Info().Msg("pumplab live bot starting")

	cfg, err := config.NewManager(*configPath)
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
		return exitConfig
	}
	tradingCfg := cfg.GetTrading()
	if violations := tradingCfg.Validate(); len(violations) > 0 {
		for _, v := range violations {
			log.Error().Str("violation", v).Msg("invalid trading config")
		}
		return exitConfig
	}

	db, err := storage.NewDB(cfg.Get().Storage.LivePath)
	if err != nil {
		log.Error().Err(err).Msg("failed to open ledger")
		return exitFail
	}
	defer db.Close()

	bl, err := blacklist.Load(db)
	if err != nil {
		log.Error().Err(err).Msg("failed to load blacklist")
		return exitFail
	}

	// Wallet: configured key, or a cached throwaway for dry runs.
	var wallet *blockchain.Wallet
	if key := cfg.PrivateKey(); key != "" {
		wallet, err = blockchain.NewWallet(key)
	} else {
		keyManager := blockchain.NewCachedKeyManager("./data", 10*time.Minute)
		wallet, err = keyManager.GetOrGenerate()
		if wallet != nil {
			log.Warn().Str("address", wallet.Address()).Msg("using auto-generated wallet; fund it to trade")
		}
	}
	if err != nil {
		log.Error().Err(err).Msg("failed to load wallet")
		return exitFail
	}

	rpc := blockchain.NewRPCClient(cfg.PrimaryRPCURL(), cfg.FallbackRPCURL(), "")

	blockhashCache := blockchain.NewBlockhashCache(rpc, 200*time.Millisecond, 60*time.Second)
	if err := blockhashCache.Start(); err != nil {
		log.Error().Err(err).Msg("failed to start blockhash cache")
		return exitFail
	}
	defer blockhashCache.Stop()

	balance := blockchain.NewBalanceTracker(wallet, rpc)
	if err := balance.Refresh(context.Background()); err != nil {
		log.Warn().Err(err).Msg("initial balance fetch failed")
	}
	log.Info().
		Str("address", wallet.Address()).
		Float64("balance", balance.BalanceSOL()).
		Msg("wallet ready")

	walletCfg := cfg.Get().Wallet
	guard := exposure.NewGuard(walletCfg.MaxDeployedSol, tradingCfg.MaxTradesPerHour, walletCfg.BufferSol, balance.BalanceSOL)

	priorityFeeLamports := uint64(walletCfg.PriorityFeeSol * 1e9)
	txBuilder := blockchain.NewTxBuilder(wallet, blockhashCache, priorityFeeLamports)

	proxy := &sellerProxy{}
	mon := monitor.New(tradingCfg, rpc, db, guard, proxy)
	executor := trading.NewExecutor(cfg, wallet, rpc, txBuilder, mon, guard, balance, db)
	proxy.executor = executor

	// Simulation mode shadows every admission through the paper tracker
	// instead of submitting transactions.
	var paper *monitor.PaperTracker
	if tradingCfg.SimulationMode {
		paper = monitor.NewPaperTracker(tradingCfg, rpc)
		paper.OnTradeClosed(func(tc monitor.TradeClosed) {
			id, err := db.FindOpenPaperTrade(tc.Mint)
			if err != nil || id == "" {
				log.Warn().Err(err).Str("mint", tc.Mint).Msg("no open paper trade for close")
				return
			}
			if err := db.RecordPaperExit(id, tc.ExitSol, tc.Reason); err != nil {
				log.Error().Err(err).Str("mint", tc.Mint).Msg("paper exit write failed")
			}
		})
		log.Info().Msg("simulation mode: trades are paper only")
	}

	stats := pipeline.NewStats("live", 500)
	pipe := pipeline.New(pipeline.Options{
		Variant:         "live",
		Config:          tradingCfg,
		RPC:             rpc,
		Blacklist:       bl,
		Guard:           guard,
		Stats:           stats,
		HasOpenPosition: func(mint string) bool {
			if paper != nil && paper.Has(mint) {
				return true
			}
			return mon.Has(mint)
		},
		HasPendingTrade: func(mint string) bool {
			pending, err := db.HasPendingTrade(mint)
			return err == nil && pending
		},
		SniperObserver: func(obs *storage.SniperObservation) {
			if err := db.InsertSniperObservation(obs); err != nil {
				log.Warn().Err(err).Msg("sniper observation write failed")
			}
		},
	})
	if pools, err := db.LoadSeenPools(10_000); err == nil {
		pipe.WarmSeen(pools)
	}

	// Detections are serialized through one channel: the pipeline's
	// dedup set and rate window have a single writer.
	work := make(chan *detect.Event, 256)
	go func() {
		for det := range work {
			processDetection(pipe, executor, paper, db, tradingCfg.QuoteAmountSol, det)
		}
	}()

	source := buildSource(cfg)
	if err := source.Start(func(det *detect.Event) {
		if err := db.InsertSeenPool(det.BondingCurve, det.Mint); err != nil {
			log.Warn().Err(err).Msg("seen pool write failed")
		}
		if err := db.InsertPoolDetection(&storage.PoolDetection{
			Signature:    det.Signature,
			Slot:         det.Slot,
			Mint:         det.Mint,
			BondingCurve: det.BondingCurve,
			Creator:      det.Creator,
			Name:         det.Name,
			Symbol:       det.Symbol,
			Source:       det.Source,
			DetectedAt:   det.DetectedAt,
		}); err != nil {
			log.Warn().Err(err).Msg("detection audit write failed")
		}
		select {
		case work <- det:
		default:
			log.Warn().Str("mint", det.Mint).Msg("detection backlog full, dropping")
		}
	}); err != nil {
		log.Error().Err(err).Msg("detection source failed to start")
		return exitFail
	}

	if paper != nil {
		paper.Start()
		defer paper.Stop()
	} else {
		mon.Start()
		defer mon.Stop()
	}

	healthCtx, healthCancel := context.WithCancel(context.Background())
	defer healthCancel()
	webhookURL := fmt.Sprintf("http://%s:%d", cfg.Get().Webhook.ListenHost, cfg.Get().Webhook.ListenPort)
	checker := health.NewChecker(rpc.LatencyMs, webhookURL)
	checker.Start(healthCtx)

	if addr := cfg.Get().Metrics.ListenAddr; addr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(addr, mux); err != nil {
				log.Warn().Err(err).Str("addr", addr).Msg("metrics server stopped")
			}
		}()
		log.Info().Str("addr", addr).Msg("metrics exposed")
	}

	// Balance refresh loop.
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			balance.Refresh(context.Background())
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	source.Stop()
	close(work)
	log.Info().Msg("goodbye")
	return exitOK
}

func processDetection(pipe *pipeline.Pipeline, executor *trading.Executor, paper *monitor.PaperTracker, db *storage.DB, quoteSol float64, det *detect.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	res := pipe.Process(ctx, det, nil)
	if !res.Passed {
		return
	}

	if paper != nil {
		if res.CurveState == nil {
			log.Warn().Str("mint", det.Mint).Msg("admission carries no curve state, skipping paper entry")
			return
		}
		solSpent := quoteSol
		tokens := curve.BuyOut(res.CurveState, uint64(solSpent*curve.LamportsPerSol))
		if _, err := db.RecordPaperEntry(det.Mint, solSpent); err != nil {
			log.Error().Err(err).Str("mint", det.Mint).Msg("paper entry write failed")
		}
		paper.RecordPaperTrade(det.Mint, det.BondingCurve, solSpent, tokens, time.Now().UnixMilli())
		return
	}

	if err := executor.HandleAdmission(ctx, det, res); err != nil {
		log.Warn().Err(err).Str("mint", det.Mint).Msg("admission execution failed")
	}
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
