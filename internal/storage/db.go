package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// DB wraps the SQLite ledger. One database file per role (live trading,
// A/B testing, smoke tests); the path is supplied by configuration.
type DB struct {
	db *sql.DB
}

// NewDB opens (creating if needed) the ledger at path.
func NewDB(path string) (*DB, error) {
	dsn := path
	if !strings.Contains(path, "?") {
		dsn += "?"
	} else {
		dsn += "&"
	}
	dsn += "_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	if err := createTables(db); err != nil {
		return nil, err
	}

	log.Info().Str("path", path).Msg("ledger initialized")
	return &DB{db: db}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS seen_pools (
		bonding_curve TEXT PRIMARY KEY,
		mint TEXT NOT NULL,
		first_seen INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS blacklist (
		address TEXT NOT NULL,
		kind TEXT NOT NULL CHECK (kind IN ('mint','creator')),
		reason TEXT,
		added_at INTEGER NOT NULL,
		PRIMARY KEY (address, kind)
	);

	CREATE TABLE IF NOT EXISTS positions (
		token_mint TEXT NOT NULL,
		bonding_curve TEXT NOT NULL,
		entry_amount_sol REAL NOT NULL,
		actual_cost_sol REAL NOT NULL,
		token_amount INTEGER NOT NULL,
		entry_timestamp INTEGER NOT NULL,
		buy_signature TEXT NOT NULL,
		is_token_2022 INTEGER NOT NULL DEFAULT 0,
		last_current_value_sol REAL,
		last_check_timestamp INTEGER,
		high_water_mark_percent REAL,
		status TEXT NOT NULL DEFAULT 'open',
		exit_reason TEXT,
		closed_at INTEGER
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_positions_open
		ON positions(token_mint) WHERE status = 'open';

	CREATE TABLE IF NOT EXISTS trades (
		id TEXT PRIMARY KEY,
		token_mint TEXT NOT NULL,
		side TEXT NOT NULL,
		amount_sol REAL NOT NULL,
		status TEXT NOT NULL,
		signature TEXT,
		error TEXT,
		created_at INTEGER NOT NULL,
		confirmed_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_trades_mint ON trades(token_mint, status);

	CREATE TABLE IF NOT EXISTS session_stats (
		session_id TEXT PRIMARY KEY,
		tokens_seen INTEGER NOT NULL DEFAULT 0,
		trades_entered INTEGER NOT NULL DEFAULT 0,
		trades_closed INTEGER NOT NULL DEFAULT 0,
		realized_pnl_sol REAL NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pool_detections (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		signature TEXT NOT NULL,
		slot INTEGER NOT NULL,
		mint TEXT NOT NULL,
		bonding_curve TEXT NOT NULL,
		creator TEXT,
		name TEXT,
		symbol TEXT,
		source TEXT NOT NULL,
		detected_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_pool_detections_mint ON pool_detections(mint);

	CREATE TABLE IF NOT EXISTS ab_sessions (
		session_id TEXT PRIMARY KEY,
		description TEXT,
		started_at INTEGER NOT NULL,
		completed_at INTEGER,
		duration_ms INTEGER NOT NULL,
		config_a TEXT NOT NULL,
		config_b TEXT NOT NULL,
		total_tokens_detected INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'running'
	);

	CREATE TABLE IF NOT EXISTS ab_trades (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES ab_sessions(session_id),
		variant TEXT NOT NULL,
		token_mint TEXT NOT NULL,
		entry_timestamp INTEGER NOT NULL,
		hypothetical_sol_spent REAL NOT NULL,
		entry_price_per_token REAL NOT NULL,
		hypothetical_tokens_received INTEGER NOT NULL,
		pipeline_duration_ms INTEGER NOT NULL,
		status TEXT NOT NULL,
		exit_timestamp INTEGER,
		exit_reason TEXT,
		exit_price_per_token REAL,
		exit_sol_received REAL,
		realized_pnl_sol REAL,
		realized_pnl_percent REAL,
		hold_duration_ms INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_ab_trades_lookup
		ON ab_trades(session_id, variant, token_mint, status);

	CREATE TABLE IF NOT EXISTS ab_pipeline_decisions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL REFERENCES ab_sessions(session_id),
		variant TEXT NOT NULL,
		token_mint TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		passed INTEGER NOT NULL,
		rejection_stage TEXT,
		rejection_reason TEXT,
		pipeline_duration_ms INTEGER NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_ab_decisions_unique
		ON ab_pipeline_decisions(session_id, variant, token_mint);

	CREATE TABLE IF NOT EXISTS ab_parameter_diffs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL REFERENCES ab_sessions(session_id),
		param_name TEXT NOT NULL,
		value_a REAL NOT NULL,
		value_b REAL NOT NULL,
		winner TEXT NOT NULL,
		winner_value REAL NOT NULL,
		pnl_a REAL NOT NULL,
		pnl_b REAL NOT NULL,
		pnl_difference REAL NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_ab_diffs_param ON ab_parameter_diffs(param_name);

	CREATE TABLE IF NOT EXISTS paper_trades (
		id TEXT PRIMARY KEY,
		token_mint TEXT NOT NULL,
		entry_timestamp INTEGER NOT NULL,
		entry_sol REAL NOT NULL,
		exit_timestamp INTEGER,
		exit_sol REAL,
		exit_reason TEXT,
		pnl_sol REAL
	);

	CREATE TABLE IF NOT EXISTS sniper_gate_observations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT,
		token_mint TEXT NOT NULL,
		check_number INTEGER NOT NULL,
		bot_count INTEGER NOT NULL,
		bot_exit_count INTEGER NOT NULL,
		organic_count INTEGER NOT NULL,
		total_buys INTEGER NOT NULL,
		total_sells INTEGER NOT NULL,
		unique_buyers INTEGER NOT NULL,
		pass_conditions_met INTEGER NOT NULL,
		wallets TEXT,
		timestamp INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sniper_obs_mint ON sniper_gate_observations(token_mint);
	`

	_, err := db.Exec(schema)
	return err
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// NowMs returns the current wall-clock time in ms epoch.
func NowMs() int64 {
	return time.Now().UnixMilli()
}

// --- seen pools ---

// InsertSeenPool records a bonding curve as seen (audit only; the hot
// dedup check is the pipeline's in-memory set).
func (d *DB) InsertSeenPool(bondingCurve, mint string) error {
	_, err := d.db.Exec(`
		INSERT OR IGNORE INTO seen_pools (bonding_curve, mint, first_seen)
		VALUES (?, ?, ?)`, bondingCurve, mint, NowMs())
	return err
}

// LoadSeenPools returns the most recently seen bonding curves, oldest
// first, for warming the in-memory dedup set on restart.
func (d *DB) LoadSeenPools(limit int) ([]string, error) {
	rows, err := d.db.Query(`
		SELECT bonding_curve FROM (
			SELECT bonding_curve, first_seen FROM seen_pools
			ORDER BY first_seen DESC LIMIT ?
		) ORDER BY first_seen ASC`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pools []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		pools = append(pools, p)
	}
	return pools, rows.Err()
}

// --- blacklist ---

// AddBlacklisted inserts a banned address of the given kind.
func (d *DB) AddBlacklisted(address, kind, reason string) error {
	_, err := d.db.Exec(`
		INSERT OR REPLACE INTO blacklist (address, kind, reason, added_at)
		VALUES (?, ?, ?, ?)`, address, kind, reason, NowMs())
	return err
}

// LoadBlacklist returns all banned addresses of the given kind.
func (d *DB) LoadBlacklist(kind string) ([]string, error) {
	rows, err := d.db.Query(`SELECT address FROM blacklist WHERE kind = ?`, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var addrs []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		addrs = append(addrs, a)
	}
	return addrs, rows.Err()
}

// --- positions ---

// OpenPosition inserts an open position. At most one open position per
// mint is enforced by the partial unique index.
func (d *DB) OpenPosition(p *Position) error {
	_, err := d.db.Exec(`
		INSERT INTO positions
		(token_mint, bonding_curve, entry_amount_sol, actual_cost_sol, token_amount,
		 entry_timestamp, buy_signature, is_token_2022, high_water_mark_percent, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, 'open')`,
		p.TokenMint, p.BondingCurve, p.EntryAmountSol, p.ActualCostSol, int64(p.TokenAmount),
		p.EntryTimestamp, p.BuySignature, boolToInt(p.IsToken2022))
	return err
}

// UpdatePositionMark persists the latest valuation and high-water mark.
func (d *DB) UpdatePositionMark(mint string, currentValueSol, hwmPercent float64) error {
	_, err := d.db.Exec(`
		UPDATE positions SET last_current_value_sol = ?, last_check_timestamp = ?,
			high_water_mark_percent = ?
		WHERE token_mint = ? AND status = 'open'`,
		currentValueSol, NowMs(), hwmPercent, mint)
	return err
}

// ClosePosition marks the open position for mint as closed.
func (d *DB) ClosePosition(mint, reason string) error {
	res, err := d.db.Exec(`
		UPDATE positions SET status = 'closed', exit_reason = ?, closed_at = ?
		WHERE token_mint = ? AND status = 'open'`, reason, NowMs(), mint)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("no open position for mint %s", mint)
	}
	return nil
}

// GetOpenPositions returns all open positions.
func (d *DB) GetOpenPositions() ([]*Position, error) {
	rows, err := d.db.Query(`
		SELECT token_mint, bonding_curve, entry_amount_sol, actual_cost_sol, token_amount,
			entry_timestamp, buy_signature, is_token_2022,
			COALESCE(last_current_value_sol, 0), COALESCE(last_check_timestamp, 0),
			COALESCE(high_water_mark_percent, 0)
		FROM positions WHERE status = 'open'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []*Position
	for rows.Next() {
		var p Position
		var token2022 int
		var tokenAmount int64
		if err := rows.Scan(&p.TokenMint, &p.BondingCurve, &p.EntryAmountSol, &p.ActualCostSol,
			&tokenAmount, &p.EntryTimestamp, &p.BuySignature, &token2022,
			&p.LastCurrentValueSol, &p.LastCheckTimestamp, &p.HighWaterMarkPercent); err != nil {
			return nil, err
		}
		p.TokenAmount = uint64(tokenAmount)
		p.IsToken2022 = token2022 != 0
		positions = append(positions, &p)
	}
	return positions, rows.Err()
}

// --- live trades ---

// RecordTradeIntent inserts a trade in intent state and returns its id.
func (d *DB) RecordTradeIntent(mint, side string, amountSol float64) (string, error) {
	id := uuid.NewString()
	_, err := d.db.Exec(`
		INSERT INTO trades (id, token_mint, side, amount_sol, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, mint, side, amountSol, TradeStatusIntent, NowMs())
	if err != nil {
		return "", err
	}
	return id, nil
}

// ConfirmTrade moves an intent to confirmed. Idempotent: re-confirming a
// confirmed trade is a no-op.
func (d *DB) ConfirmTrade(tradeID, signature string, actualSol float64) error {
	_, err := d.db.Exec(`
		UPDATE trades SET status = ?, signature = ?,
			amount_sol = CASE WHEN ? > 0 THEN ? ELSE amount_sol END,
			confirmed_at = ?
		WHERE id = ? AND status = ?`,
		TradeStatusConfirmed, signature, actualSol, actualSol, NowMs(), tradeID, TradeStatusIntent)
	return err
}

// FailTrade moves an intent to failed. Idempotent by the same rule.
func (d *DB) FailTrade(tradeID, errMsg string) error {
	_, err := d.db.Exec(`
		UPDATE trades SET status = ?, error = ?, confirmed_at = ?
		WHERE id = ? AND status = ?`,
		TradeStatusFailed, errMsg, NowMs(), tradeID, TradeStatusIntent)
	return err
}

// HasPendingTrade reports whether a buy intent is outstanding for mint.
func (d *DB) HasPendingTrade(mint string) (bool, error) {
	var n int
	err := d.db.QueryRow(`
		SELECT COUNT(*) FROM trades
		WHERE token_mint = ? AND side = 'buy' AND status = ?`, mint, TradeStatusIntent).Scan(&n)
	return n > 0, err
}

// GetTrade fetches one live trade by id.
func (d *DB) GetTrade(id string) (*LiveTrade, error) {
	var t LiveTrade
	var sig, errMsg sql.NullString
	var confirmedAt sql.NullInt64
	err := d.db.QueryRow(`
		SELECT id, token_mint, side, amount_sol, status, signature, error, created_at, confirmed_at
		FROM trades WHERE id = ?`, id).Scan(
		&t.ID, &t.TokenMint, &t.Side, &t.AmountSol, &t.Status, &sig, &errMsg, &t.CreatedAt, &confirmedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t.Signature = sig.String
	t.Error = errMsg.String
	t.ConfirmedAt = confirmedAt.Int64
	return &t, nil
}

// --- paper trades ---

// RecordPaperEntry opens a paper trade (simulation-mode live bot).
func (d *DB) RecordPaperEntry(mint string, entrySol float64) (string, error) {
	id := uuid.NewString()
	_, err := d.db.Exec(`
		INSERT INTO paper_trades (id, token_mint, entry_timestamp, entry_sol)
		VALUES (?, ?, ?, ?)`, id, mint, NowMs(), entrySol)
	if err != nil {
		return "", err
	}
	return id, nil
}

// RecordPaperExit closes a paper trade.
func (d *DB) RecordPaperExit(id string, exitSol float64, reason string) error {
	_, err := d.db.Exec(`
		UPDATE paper_trades SET exit_timestamp = ?, exit_sol = ?, exit_reason = ?,
			pnl_sol = ? - entry_sol
		WHERE id = ? AND exit_timestamp IS NULL`,
		NowMs(), exitSol, reason, exitSol, id)
	return err
}

// FindOpenPaperTrade resolves the open paper trade for a mint.
func (d *DB) FindOpenPaperTrade(mint string) (string, error) {
	var id string
	err := d.db.QueryRow(`
		SELECT id FROM paper_trades
		WHERE token_mint = ? AND exit_timestamp IS NULL
		ORDER BY entry_timestamp DESC LIMIT 1`, mint).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return id, err
}

// --- pool detections ---

// InsertPoolDetection appends one audit row per detection event.
func (d *DB) InsertPoolDetection(p *PoolDetection) error {
	_, err := d.db.Exec(`
		INSERT INTO pool_detections
		(signature, slot, mint, bonding_curve, creator, name, symbol, source, detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Signature, int64(p.Slot), p.Mint, p.BondingCurve, p.Creator, p.Name, p.Symbol,
		p.Source, p.DetectedAt)
	return err
}

// --- session stats ---

// UpsertSessionStats maintains the per-session aggregate row.
func (d *DB) UpsertSessionStats(sessionID string, tokensSeen, tradesEntered, tradesClosed int, pnlSol float64) error {
	_, err := d.db.Exec(`
		INSERT INTO session_stats (session_id, tokens_seen, trades_entered, trades_closed, realized_pnl_sol, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			tokens_seen = excluded.tokens_seen,
			trades_entered = excluded.trades_entered,
			trades_closed = excluded.trades_closed,
			realized_pnl_sol = excluded.realized_pnl_sol,
			updated_at = excluded.updated_at`,
		sessionID, tokensSeen, tradesEntered, tradesClosed, pnlSol, NowMs())
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
