package storage

import (
	"pumplab/internal/config"
)

// Variant labels for A/B sessions.
const (
	VariantA = "A"
	VariantB = "B"
)

// Trade statuses.
const (
	TradeStatusIntent    = "intent"
	TradeStatusConfirmed = "confirmed"
	TradeStatusFailed    = "failed"
	TradeStatusActive    = "active"
	TradeStatusClosed    = "closed"
)

// Exit reasons shared by the live monitor and the paper tracker.
const (
	ExitTakeProfit   = "take_profit"
	ExitStopLoss     = "stop_loss"
	ExitTrailingStop = "trailing_stop"
	ExitTimeExit     = "time_exit"
	ExitGraduated    = "graduated"
	ExitManual       = "manual"
)

// Position is an open live position, keyed by token mint.
type Position struct {
	TokenMint            string
	BondingCurve         string
	EntryAmountSol       float64
	ActualCostSol        float64
	TokenAmount          uint64
	EntryTimestamp       int64 // ms epoch
	BuySignature         string
	IsToken2022          bool
	LastCurrentValueSol  float64
	LastCheckTimestamp   int64
	HighWaterMarkPercent float64
}

// LiveTrade is one submitted transaction, tracked intent -> confirmed/failed.
type LiveTrade struct {
	ID          string
	TokenMint   string
	Side        string // "buy" or "sell"
	AmountSol   float64
	Status      string
	Signature   string
	Error       string
	CreatedAt   int64
	ConfirmedAt int64
}

// PipelineDecision is one admission outcome per (session, variant, mint).
type PipelineDecision struct {
	SessionID          string
	Variant            string
	TokenMint          string
	Timestamp          int64
	Passed             bool
	RejectionStage     string
	RejectionReason    string
	PipelineDurationMs int64
}

// ABTrade is one paper trade of an A/B variant, admission to close.
type ABTrade struct {
	ID                         string
	SessionID                  string
	Variant                    string
	TokenMint                  string
	EntryTimestamp             int64
	HypotheticalSolSpent       float64
	EntryPricePerToken         float64
	HypotheticalTokensReceived uint64
	PipelineDurationMs         int64
	Status                     string

	ExitTimestamp      int64
	ExitReason         string
	ExitPricePerToken  float64
	ExitSolReceived    float64
	RealizedPnlSol     float64
	RealizedPnlPercent float64
	HoldDurationMs     int64
}

// Session is one A/B session row.
type Session struct {
	ID                  string
	Description         string
	StartedAt           int64
	CompletedAt         int64
	DurationMs          int64
	ConfigA             config.VariantConfig
	ConfigB             config.VariantConfig
	TotalTokensDetected int
	Status              string // running, completed
}

// ParameterDiff records one parameter that differed between the variants
// of a completed session, and which side won.
type ParameterDiff struct {
	SessionID     string
	ParamName     string
	ValueA        float64
	ValueB        float64
	Winner        string // A, B, tie
	WinnerValue   float64
	PnlA          float64
	PnlB          float64
	PnlDifference float64
}

// SessionPnl is a completed session with realised PnL per variant.
type SessionPnl struct {
	SessionID   string
	CompletedAt int64
	PnlA        float64
	PnlB        float64
}

// PoolDetection is one audit row per detection event.
type PoolDetection struct {
	Signature    string
	Slot         uint64
	Mint         string
	BondingCurve string
	Creator      string
	Name         string
	Symbol       string
	Source       string
	DetectedAt   int64
}

// SniperObservation is one poll snapshot of the sniper gate, retained for
// persistence even when the gate rejects.
type SniperObservation struct {
	SessionID         string
	TokenMint         string
	CheckNumber       int
	BotCount          int
	BotExitCount      int
	OrganicCount      int
	TotalBuys         int
	TotalSells        int
	UniqueBuyers      int
	PassConditionsMet bool
	WalletsJSON       string
	Timestamp         int64
}
