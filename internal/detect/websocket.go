package detect

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mr-tron/base58"
	"github.com/rs/zerolog/log"

	"pumplab/internal/blockchain"
	"pumplab/internal/pump"
)

// createEventDiscriminator marks the venue's token-creation event inside
// "Program data:" log lines.
var createEventDiscriminator = []byte{27, 114, 169, 77, 222, 235, 99, 118}

// WebsocketSource subscribes to venue program logs over the RPC websocket
// and decodes creation events into detection events.
type WebsocketSource struct {
	url            string
	reconnectDelay time.Duration
	pingInterval   time.Duration

	mu      sync.Mutex
	conn    *websocket.Conn
	handler Handler
	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
}

// NewWebsocketSource creates a websocket detection source.
func NewWebsocketSource(url string, reconnectDelay, pingInterval time.Duration) *WebsocketSource {
	return &WebsocketSource{
		url:            url,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
	}
}

// Start connects and begins delivering events to handler. Reconnects with
// a fixed delay until Stop is called.
func (s *WebsocketSource) Start(handler Handler) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.handler = handler
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	s.wg.Add(1)
	go s.runLoop()
	return nil
}

// Stop closes the connection and waits for the read loop to exit.
func (s *WebsocketSource) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	if s.conn != nil {
		s.conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}

func (s *WebsocketSource) runLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		if err := s.connectAndRead(); err != nil {
			log.Warn().Err(err).Dur("retryIn", s.reconnectDelay).Msg("detection websocket dropped")
		}

		select {
		case <-s.stopCh:
			return
		case <-time.After(s.reconnectDelay):
		}
	}
}

func (s *WebsocketSource) connectAndRead() error {
	conn, _, err := websocket.DefaultDialer.Dial(s.url, nil)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	defer conn.Close()

	sub := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "logsSubscribe",
		"params": []interface{}{
			map[string]interface{}{"mentions": []string{pump.ProgramID}},
			map[string]string{"commitment": "confirmed"},
		},
	}
	if err := conn.WriteJSON(sub); err != nil {
		return err
	}
	log.Info().Str("program", pump.ProgramID).Msg("subscribed to venue logs")

	// Ping loop keeps proxies from idling the connection out.
	pingDone := make(chan struct{})
	defer close(pingDone)
	go func() {
		ticker := time.NewTicker(s.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-pingDone:
				return
			case <-ticker.C:
				s.mu.Lock()
				if s.conn != nil {
					s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
				}
				s.mu.Unlock()
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.stopCh:
				return nil
			default:
				return err
			}
		}
		s.handleMessage(data)
	}
}

type logsNotification struct {
	Method string `json:"method"`
	Params struct {
		Result struct {
			Context struct {
				Slot uint64 `json:"slot"`
			} `json:"context"`
			Value struct {
				Signature string      `json:"signature"`
				Err       interface{} `json:"err"`
				Logs      []string    `json:"logs"`
			} `json:"value"`
		} `json:"result"`
	} `json:"params"`
}

func (s *WebsocketSource) handleMessage(data []byte) {
	var note logsNotification
	if err := json.Unmarshal(data, &note); err != nil || note.Method != "logsNotification" {
		return
	}
	val := note.Params.Result.Value
	if val.Err != nil {
		return
	}

	event := ParseCreateLogs(val.Logs)
	if event == nil {
		return
	}
	event.Signature = val.Signature
	event.Slot = note.Params.Result.Context.Slot
	event.DetectedAt = time.Now().UnixMilli()
	event.Source = SourceWebsocket

	s.mu.Lock()
	handler := s.handler
	s.mu.Unlock()
	if handler != nil {
		handler(event)
	}
}

// ParseCreateLogs scans transaction logs for the venue's creation event
// and decodes it. Returns nil when the logs carry no creation.
func ParseCreateLogs(logs []string) *Event {
	for _, line := range logs {
		const prefix = "Program data: "
		if !strings.HasPrefix(line, prefix) {
			continue
		}
		raw, err := base64.StdEncoding.DecodeString(line[len(prefix):])
		if err != nil || len(raw) < 8 {
			continue
		}
		if string(raw[:8]) != string(createEventDiscriminator) {
			continue
		}
		if event := decodeCreateEvent(raw[8:]); event != nil {
			event.RawLogs = logs
			return event
		}
	}
	return nil
}

// decodeCreateEvent parses the borsh-encoded creation event body:
// name, symbol, uri (u32-prefixed strings), then mint, bondingCurve,
// user, creator pubkeys.
func decodeCreateEvent(data []byte) *Event {
	pos := 0
	readString := func() (string, bool) {
		if pos+4 > len(data) {
			return "", false
		}
		n := int(binary.LittleEndian.Uint32(data[pos:]))
		pos += 4
		if n < 0 || pos+n > len(data) {
			return "", false
		}
		s := string(data[pos : pos+n])
		pos += n
		return s, true
	}
	readPubkey := func() (string, bool) {
		if pos+32 > len(data) {
			return "", false
		}
		pk := base58.Encode(data[pos : pos+32])
		pos += 32
		return pk, true
	}

	name, ok := readString()
	if !ok {
		return nil
	}
	symbol, ok := readString()
	if !ok {
		return nil
	}
	if _, ok = readString(); !ok { // uri, unused
		return nil
	}
	mint, ok := readPubkey()
	if !ok {
		return nil
	}
	bondingCurve, ok := readPubkey()
	if !ok {
		return nil
	}
	if _, ok = readPubkey(); !ok { // user, unused
		return nil
	}
	creator, _ := readPubkey() // absent on older layouts

	event := &Event{
		Mint:         mint,
		BondingCurve: bondingCurve,
		Creator:      creator,
		Name:         name,
		Symbol:       symbol,
	}
	if ata, err := blockchain.FindAssociatedTokenAddress(bondingCurve, mint, blockchain.TokenProgramID); err == nil {
		event.AssociatedBondingCurve = ata
	}
	return event
}
