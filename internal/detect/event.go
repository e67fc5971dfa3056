package detect

// Event sources.
const (
	SourceWebsocket = "websocket"
	SourceWebhook   = "webhook"
)

// Event is one newly created token on the launch venue. Immutable once
// produced; shared read-only across pipeline variants.
type Event struct {
	Signature              string   `json:"signature"`
	Slot                   uint64   `json:"slot"`
	Mint                   string   `json:"mint"`
	BondingCurve           string   `json:"bondingCurve"`
	AssociatedBondingCurve string   `json:"associatedBondingCurve"`
	Creator                string   `json:"creator,omitempty"`
	Name                   string   `json:"name,omitempty"`
	Symbol                 string   `json:"symbol,omitempty"`
	RawLogs                []string `json:"rawLogs,omitempty"`
	DetectedAt             int64    `json:"detectedAt"` // ms epoch
	IsToken2022            bool     `json:"isToken2022,omitempty"`
	Source                 string   `json:"source"`
}

// Handler consumes detection events.
type Handler func(*Event)

// Source yields detection events to a handler until stopped.
type Source interface {
	Start(handler Handler) error
	Stop() error
}
