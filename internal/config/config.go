package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// TrailingStopConfig is the optional trailing-stop block of a variant.
type TrailingStopConfig struct {
	Enabled               bool    `mapstructure:"enabled" json:"enabled"`
	ActivationPercent     float64 `mapstructure:"activation_percent" json:"activationPercent"`
	DistancePercent       float64 `mapstructure:"distance_percent" json:"distancePercent"`
	HardTakeProfitPercent float64 `mapstructure:"hard_take_profit_percent" json:"hardTakeProfitPercent"`
}

// SniperGateConfig is the optional stage-4 sniper gate block. When enabled
// it replaces the momentum gate.
type SniperGateConfig struct {
	Enabled           bool    `mapstructure:"enabled" json:"enabled"`
	SlotThreshold     uint64  `mapstructure:"slot_threshold" json:"slotThreshold"`
	MinBotExitPercent float64 `mapstructure:"min_bot_exit_percent" json:"minBotExitPercent"`
	MinOrganicBuyers  int     `mapstructure:"min_organic_buyers" json:"minOrganicBuyers"`
	InitialDelayMs    int64   `mapstructure:"initial_delay_ms" json:"initialDelayMs"`
	RecheckIntervalMs int64   `mapstructure:"recheck_interval_ms" json:"recheckIntervalMs"`
	MaxChecks         int     `mapstructure:"max_checks" json:"maxChecks"`
	LogOnly           bool    `mapstructure:"log_only" json:"logOnly"`
}

// VariantConfig is one immutable parameter set. Two of these make an A/B
// session; one drives the live bot.
type VariantConfig struct {
	TakeProfitPercent         float64 `mapstructure:"take_profit_percent" json:"takeProfit"`
	StopLossPercent           float64 `mapstructure:"stop_loss_percent" json:"stopLoss"`
	MaxHoldMs                 int64   `mapstructure:"max_hold_ms" json:"maxHoldDurationMs"`
	PriceCheckIntervalMs      int64   `mapstructure:"price_check_interval_ms" json:"priceCheckIntervalMs"`
	MomentumMinTotalBuys      int     `mapstructure:"momentum_min_total_buys" json:"momentumMinTotalBuys"`
	MinSolInCurve             float64 `mapstructure:"min_sol_in_curve" json:"pumpfunMinSolInCurve"`
	MaxSolInCurve             float64 `mapstructure:"max_sol_in_curve" json:"pumpfunMaxSolInCurve"`
	MaxTokenAgeSeconds        int64   `mapstructure:"max_token_age_seconds" json:"maxTokenAgeSeconds"`
	MomentumInitialDelayMs    int64   `mapstructure:"momentum_initial_delay_ms" json:"momentumInitialDelayMs"`
	MomentumRecheckIntervalMs int64   `mapstructure:"momentum_recheck_interval_ms" json:"momentumRecheckIntervalMs"`
	MomentumMaxChecks         int     `mapstructure:"momentum_max_checks" json:"momentumMaxChecks"`
	BuySlippagePercent        float64 `mapstructure:"buy_slippage_percent" json:"buySlippage"`
	SellSlippagePercent       float64 `mapstructure:"sell_slippage_percent" json:"sellSlippage"`
	MaxTradesPerHour          int     `mapstructure:"max_trades_per_hour" json:"maxTradesPerHour"`
	QuoteAmountSol            float64 `mapstructure:"quote_amount_sol" json:"quoteAmount"`
	MinScoreRequired          float64 `mapstructure:"min_score_required" json:"minScoreRequired,omitempty"`

	TrailingStop *TrailingStopConfig `mapstructure:"trailing_stop" json:"trailingStop,omitempty"`
	SniperGate   *SniperGateConfig   `mapstructure:"sniper_gate" json:"sniperGate,omitempty"`

	// SimulationMode shadows trades through the paper tracker instead of
	// submitting transactions. Not a tunable; excluded from diffs.
	SimulationMode bool `mapstructure:"simulation_mode" json:"-"`
}

// Validate returns every invariant violation in the variant.
func (v *VariantConfig) Validate() []string {
	var violations []string
	add := func(format string, args ...interface{}) {
		violations = append(violations, fmt.Sprintf(format, args...))
	}

	if v.QuoteAmountSol <= 0 {
		add("quote_amount_sol must be > 0, got %v", v.QuoteAmountSol)
	}
	if v.MaxTradesPerHour < 1 {
		add("max_trades_per_hour must be >= 1, got %d", v.MaxTradesPerHour)
	}
	if v.MomentumMaxChecks < 1 {
		add("momentum_max_checks must be >= 1, got %d", v.MomentumMaxChecks)
	}
	if v.BuySlippagePercent < 0 || v.BuySlippagePercent > 100 {
		add("buy_slippage_percent must be in [0,100], got %v", v.BuySlippagePercent)
	}
	if v.SellSlippagePercent < 0 || v.SellSlippagePercent > 100 {
		add("sell_slippage_percent must be in [0,100], got %v", v.SellSlippagePercent)
	}
	if v.MaxSolInCurve <= v.MinSolInCurve {
		add("max_sol_in_curve (%v) must exceed min_sol_in_curve (%v)", v.MaxSolInCurve, v.MinSolInCurve)
	}
	if v.MaxHoldMs <= 0 {
		add("max_hold_ms must be > 0, got %d", v.MaxHoldMs)
	}
	if v.PriceCheckIntervalMs <= 0 {
		add("price_check_interval_ms must be > 0, got %d", v.PriceCheckIntervalMs)
	}
	if ts := v.TrailingStop; ts != nil && ts.Enabled && ts.DistancePercent <= 0 {
		add("trailing_stop.distance_percent must be > 0, got %v", ts.DistancePercent)
	}
	if sg := v.SniperGate; sg != nil && sg.Enabled && sg.MaxChecks < 1 {
		add("sniper_gate.max_checks must be >= 1, got %d", sg.MaxChecks)
	}
	return violations
}

// MinSessionDurationMs is the shortest allowed A/B session.
const MinSessionDurationMs = 60_000

// ValidationError aggregates every invariant violation found in a config.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Violations, "; ")
}

// SessionConfig is the top-level A/B session definition.
type SessionConfig struct {
	DurationMs  int64         `mapstructure:"duration_ms" json:"durationMs"`
	Description string        `mapstructure:"description" json:"description,omitempty"`
	VariantA    VariantConfig `mapstructure:"variant_a" json:"configA"`
	VariantB    VariantConfig `mapstructure:"variant_b" json:"configB"`
}

// Validate returns every invariant violation in the session config.
func (s *SessionConfig) Validate() []string {
	var violations []string
	if s.DurationMs < MinSessionDurationMs {
		violations = append(violations,
			fmt.Sprintf("duration_ms must be >= %d, got %d", MinSessionDurationMs, s.DurationMs))
	}
	for _, v := range s.VariantA.Validate() {
		violations = append(violations, "variant_a."+v)
	}
	for _, v := range s.VariantB.Validate() {
		violations = append(violations, "variant_b."+v)
	}
	return violations
}

// RPCConfig names the RPC endpoints. API keys stay in the environment.
type RPCConfig struct {
	PrimaryURL       string `mapstructure:"primary_url"`
	PrimaryKeyEnv    string `mapstructure:"primary_api_key_env"`
	FallbackURL      string `mapstructure:"fallback_url"`
	FallbackKeyEnv   string `mapstructure:"fallback_api_key_env"`
	WebsocketURL     string `mapstructure:"websocket_url"`
	ReconnectDelayMs int    `mapstructure:"reconnect_delay_ms"`
	PingIntervalMs   int    `mapstructure:"ping_interval_ms"`
}

// WalletConfig locates the signing key and sets exposure bounds.
type WalletConfig struct {
	PrivateKeyEnv  string  `mapstructure:"private_key_env"`
	BufferSol      float64 `mapstructure:"buffer_sol"`
	MaxDeployedSol float64 `mapstructure:"max_deployed_sol"`
	PriorityFeeSol float64 `mapstructure:"priority_fee_sol"`
}

// StorageConfig locates the ledger databases. One file per role so live
// trading, A/B tests, and smoke tests never contend.
type StorageConfig struct {
	LivePath  string `mapstructure:"live_path"`
	ABPath    string `mapstructure:"ab_path"`
	SmokePath string `mapstructure:"smoke_path"`
}

// WebhookConfig configures the HTTP detection receiver.
type WebhookConfig struct {
	ListenHost string `mapstructure:"listen_host"`
	ListenPort int    `mapstructure:"listen_port"`
}

// MetricsConfig configures the Prometheus exposition endpoint.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// Config is the full process configuration.
type Config struct {
	RPC     RPCConfig     `mapstructure:"rpc"`
	Wallet  WalletConfig  `mapstructure:"wallet"`
	Storage StorageConfig `mapstructure:"storage"`
	Webhook WebhookConfig `mapstructure:"webhook"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Trading VariantConfig `mapstructure:"trading"`
	Session SessionConfig `mapstructure:"session"`
}

// Manager handles config loading and hot-reload. Hot-reload applies to the
// live bot's tunables only; A/B variants are snapshotted at session start.
type Manager struct {
	mu       sync.RWMutex
	config   *Config
	viper    *viper.Viper
	onChange func(*Config)
}

// NewManager loads configuration from the given YAML file.
func NewManager(configPath string) (*Manager, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	m := &Manager{config: &cfg, viper: v}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		log.Info().Str("file", e.Name).Msg("config file changed, reloading")
		m.reload()
	})

	return m, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("rpc.primary_api_key_env", "RPC_API_KEY")
	v.SetDefault("rpc.fallback_api_key_env", "FALLBACK_RPC_API_KEY")
	v.SetDefault("rpc.fallback_url", "https://api.mainnet-beta.solana.com")
	v.SetDefault("rpc.reconnect_delay_ms", 2000)
	v.SetDefault("rpc.ping_interval_ms", 15000)
	v.SetDefault("wallet.private_key_env", "WALLET_PRIVATE_KEY")
	v.SetDefault("wallet.buffer_sol", 0.05)
	v.SetDefault("wallet.max_deployed_sol", 1.0)
	v.SetDefault("wallet.priority_fee_sol", 0.0005)
	v.SetDefault("storage.live_path", "./data/live.db")
	v.SetDefault("storage.ab_path", "./data/ab.db")
	v.SetDefault("storage.smoke_path", "./data/smoke.db")
	v.SetDefault("webhook.listen_host", "127.0.0.1")
	v.SetDefault("webhook.listen_port", 8085)
	v.SetDefault("metrics.listen_addr", "127.0.0.1:9091")

	for _, variant := range []string{"trading", "session.variant_a", "session.variant_b"} {
		v.SetDefault(variant+".take_profit_percent", 50)
		v.SetDefault(variant+".stop_loss_percent", 20)
		v.SetDefault(variant+".max_hold_ms", 300_000)
		v.SetDefault(variant+".price_check_interval_ms", 3000)
		v.SetDefault(variant+".momentum_min_total_buys", 10)
		v.SetDefault(variant+".min_sol_in_curve", 0.5)
		v.SetDefault(variant+".max_sol_in_curve", 30)
		v.SetDefault(variant+".momentum_initial_delay_ms", 2000)
		v.SetDefault(variant+".momentum_recheck_interval_ms", 1500)
		v.SetDefault(variant+".momentum_max_checks", 3)
		v.SetDefault(variant+".buy_slippage_percent", 15)
		v.SetDefault(variant+".sell_slippage_percent", 25)
		v.SetDefault(variant+".max_trades_per_hour", 20)
		v.SetDefault(variant+".quote_amount_sol", 0.01)
	}
	v.SetDefault("session.duration_ms", 1_800_000)
}

// Get returns the current config (thread-safe).
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// GetTrading returns the live-bot variant config.
func (m *Manager) GetTrading() VariantConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.Trading
}

// SetOnChange registers a callback for config changes.
func (m *Manager) SetOnChange(fn func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
}

func (m *Manager) reload() {
	m.mu.Lock()
	defer m.mu.Unlock()

	var cfg Config
	if err := m.viper.Unmarshal(&cfg); err != nil {
		log.Error().Err(err).Msg("failed to unmarshal config on reload")
		return
	}

	m.config = &cfg
	if m.onChange != nil {
		m.onChange(&cfg)
	}
}

// PrimaryRPCURL returns the primary RPC URL with its API key injected.
func (m *Manager) PrimaryRPCURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return injectKey(m.config.RPC.PrimaryURL, os.Getenv(m.config.RPC.PrimaryKeyEnv))
}

// FallbackRPCURL returns the fallback RPC URL with its API key injected.
func (m *Manager) FallbackRPCURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	url := m.config.RPC.FallbackURL
	key := os.Getenv(m.config.RPC.FallbackKeyEnv)
	if key == "" {
		return url
	}

	// Helius spells its query parameter differently.
	param := "api_key"
	if strings.Contains(url, "helius") {
		param = "api-key"
	}
	sep := "?"
	if strings.Contains(url, "?") {
		sep = "&"
	}
	return url + sep + param + "=" + key
}

// WebsocketURL returns the websocket URL with the primary API key injected.
func (m *Manager) WebsocketURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return injectKey(m.config.RPC.WebsocketURL, os.Getenv(m.config.RPC.PrimaryKeyEnv))
}

// PrivateKey loads the wallet private key from the environment.
func (m *Manager) PrivateKey() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return os.Getenv(m.config.Wallet.PrivateKeyEnv)
}

// ReconnectDelay returns the websocket reconnect delay.
func (m *Manager) ReconnectDelay() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return time.Duration(m.config.RPC.ReconnectDelayMs) * time.Millisecond
}

// PingInterval returns the websocket ping interval.
func (m *Manager) PingInterval() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return time.Duration(m.config.RPC.PingIntervalMs) * time.Millisecond
}

func injectKey(url, key string) string {
	if key == "" || url == "" {
		return url
	}
	if strings.Contains(url, "?") {
		return url + "&api_key=" + key
	}
	return url + "?api_key=" + key
}
