package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"pumplab/internal/config"
)

// CreateABSession inserts a new running session with both variant configs
// serialized as JSON.
func (d *DB) CreateABSession(s *Session) error {
	configA, err := json.Marshal(&s.ConfigA)
	if err != nil {
		return fmt.Errorf("marshal config A: %w", err)
	}
	configB, err := json.Marshal(&s.ConfigB)
	if err != nil {
		return fmt.Errorf("marshal config B: %w", err)
	}

	_, err = d.db.Exec(`
		INSERT INTO ab_sessions
		(session_id, description, started_at, duration_ms, config_a, config_b, status)
		VALUES (?, ?, ?, ?, ?, ?, 'running')`,
		s.ID, s.Description, s.StartedAt, s.DurationMs, string(configA), string(configB))
	return err
}

// CompleteABSession marks a session completed with its final token count.
func (d *DB) CompleteABSession(sessionID string, totalTokensDetected int) error {
	_, err := d.db.Exec(`
		UPDATE ab_sessions SET status = 'completed', completed_at = ?, total_tokens_detected = ?
		WHERE session_id = ?`, NowMs(), totalTokensDetected, sessionID)
	return err
}

// GetABSession fetches one session, decoding the variant configs.
func (d *DB) GetABSession(sessionID string) (*Session, error) {
	var s Session
	var desc sql.NullString
	var completedAt sql.NullInt64
	var configA, configB string
	err := d.db.QueryRow(`
		SELECT session_id, description, started_at, completed_at, duration_ms,
			config_a, config_b, total_tokens_detected, status
		FROM ab_sessions WHERE session_id = ?`, sessionID).Scan(
		&s.ID, &desc, &s.StartedAt, &completedAt, &s.DurationMs,
		&configA, &configB, &s.TotalTokensDetected, &s.Status)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.Description = desc.String
	s.CompletedAt = completedAt.Int64
	if err := json.Unmarshal([]byte(configA), &s.ConfigA); err != nil {
		return nil, fmt.Errorf("decode config A: %w", err)
	}
	if err := json.Unmarshal([]byte(configB), &s.ConfigB); err != nil {
		return nil, fmt.Errorf("decode config B: %w", err)
	}
	return &s, nil
}

// RecordPipelineDecision persists one admission outcome. The unique index
// on (session, variant, mint) makes replays idempotent.
func (d *DB) RecordPipelineDecision(dec *PipelineDecision) error {
	_, err := d.db.Exec(`
		INSERT OR IGNORE INTO ab_pipeline_decisions
		(session_id, variant, token_mint, timestamp, passed, rejection_stage, rejection_reason, pipeline_duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		dec.SessionID, dec.Variant, dec.TokenMint, dec.Timestamp, boolToInt(dec.Passed),
		nullIfEmpty(dec.RejectionStage), nullIfEmpty(dec.RejectionReason), dec.PipelineDurationMs)
	return err
}

// RecordTradeEntry inserts an active paper trade for a variant.
func (d *DB) RecordTradeEntry(t *ABTrade) error {
	_, err := d.db.Exec(`
		INSERT INTO ab_trades
		(id, session_id, variant, token_mint, entry_timestamp, hypothetical_sol_spent,
		 entry_price_per_token, hypothetical_tokens_received, pipeline_duration_ms, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.SessionID, t.Variant, t.TokenMint, t.EntryTimestamp, t.HypotheticalSolSpent,
		t.EntryPricePerToken, int64(t.HypotheticalTokensReceived), t.PipelineDurationMs,
		TradeStatusActive)
	return err
}

// RecordTradeExit writes the exit fields and flips the trade to closed.
// The status guard makes the transition atomic and idempotent.
func (d *DB) RecordTradeExit(tradeID string, exit *ABTrade) error {
	res, err := d.db.Exec(`
		UPDATE ab_trades SET status = ?, exit_timestamp = ?, exit_reason = ?,
			exit_price_per_token = ?, exit_sol_received = ?, realized_pnl_sol = ?,
			realized_pnl_percent = ?, hold_duration_ms = ?
		WHERE id = ? AND status = ?`,
		TradeStatusClosed, exit.ExitTimestamp, exit.ExitReason,
		exit.ExitPricePerToken, exit.ExitSolReceived, exit.RealizedPnlSol,
		exit.RealizedPnlPercent, exit.HoldDurationMs, tradeID, TradeStatusActive)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("no active trade %s", tradeID)
	}
	return nil
}

// FindActiveTradeID resolves the active trade for (session, variant, mint).
// Returns empty string when none exists.
func (d *DB) FindActiveTradeID(sessionID, variant, mint string) (string, error) {
	var id string
	err := d.db.QueryRow(`
		SELECT id FROM ab_trades
		WHERE session_id = ? AND variant = ? AND token_mint = ? AND status = ?
		ORDER BY entry_timestamp DESC LIMIT 1`,
		sessionID, variant, mint, TradeStatusActive).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return id, err
}

// GetABTrades returns all trades of a session, entry order.
func (d *DB) GetABTrades(sessionID string) ([]*ABTrade, error) {
	rows, err := d.db.Query(`
		SELECT id, session_id, variant, token_mint, entry_timestamp, hypothetical_sol_spent,
			entry_price_per_token, hypothetical_tokens_received, pipeline_duration_ms, status,
			COALESCE(exit_timestamp, 0), COALESCE(exit_reason, ''), COALESCE(exit_price_per_token, 0),
			COALESCE(exit_sol_received, 0), COALESCE(realized_pnl_sol, 0),
			COALESCE(realized_pnl_percent, 0), COALESCE(hold_duration_ms, 0)
		FROM ab_trades WHERE session_id = ? ORDER BY entry_timestamp ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanABTrades(rows)
}

func scanABTrades(rows *sql.Rows) ([]*ABTrade, error) {
	var trades []*ABTrade
	for rows.Next() {
		var t ABTrade
		var tokens int64
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Variant, &t.TokenMint, &t.EntryTimestamp,
			&t.HypotheticalSolSpent, &t.EntryPricePerToken, &tokens, &t.PipelineDurationMs,
			&t.Status, &t.ExitTimestamp, &t.ExitReason, &t.ExitPricePerToken,
			&t.ExitSolReceived, &t.RealizedPnlSol, &t.RealizedPnlPercent, &t.HoldDurationMs); err != nil {
			return nil, err
		}
		t.HypotheticalTokensReceived = uint64(tokens)
		trades = append(trades, &t)
	}
	return trades, rows.Err()
}

// GetDecisions returns all pipeline decisions of a session.
func (d *DB) GetDecisions(sessionID string) ([]*PipelineDecision, error) {
	rows, err := d.db.Query(`
		SELECT session_id, variant, token_mint, timestamp, passed,
			COALESCE(rejection_stage, ''), COALESCE(rejection_reason, ''), pipeline_duration_ms
		FROM ab_pipeline_decisions WHERE session_id = ? ORDER BY timestamp ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var decisions []*PipelineDecision
	for rows.Next() {
		var dec PipelineDecision
		var passed int
		if err := rows.Scan(&dec.SessionID, &dec.Variant, &dec.TokenMint, &dec.Timestamp,
			&passed, &dec.RejectionStage, &dec.RejectionReason, &dec.PipelineDurationMs); err != nil {
			return nil, err
		}
		dec.Passed = passed != 0
		decisions = append(decisions, &dec)
	}
	return decisions, rows.Err()
}

// SaveParameterDiffs persists all diffs of a session in one transaction.
func (d *DB) SaveParameterDiffs(sessionID string, diffs []*ParameterDiff) error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO ab_parameter_diffs
		(session_id, param_name, value_a, value_b, winner, winner_value, pnl_a, pnl_b, pnl_difference)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, diff := range diffs {
		if _, err := stmt.Exec(sessionID, diff.ParamName, diff.ValueA, diff.ValueB,
			diff.Winner, diff.WinnerValue, diff.PnlA, diff.PnlB, diff.PnlDifference); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetParameterHistory returns every recorded diff for one parameter.
func (d *DB) GetParameterHistory(paramName string) ([]*ParameterDiff, error) {
	rows, err := d.db.Query(`
		SELECT session_id, param_name, value_a, value_b, winner, winner_value, pnl_a, pnl_b, pnl_difference
		FROM ab_parameter_diffs WHERE param_name = ?`, paramName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var diffs []*ParameterDiff
	for rows.Next() {
		var diff ParameterDiff
		if err := rows.Scan(&diff.SessionID, &diff.ParamName, &diff.ValueA, &diff.ValueB,
			&diff.Winner, &diff.WinnerValue, &diff.PnlA, &diff.PnlB, &diff.PnlDifference); err != nil {
			return nil, err
		}
		diffs = append(diffs, &diff)
	}
	return diffs, rows.Err()
}

// GetTestedParameters returns the distinct parameter names with diffs.
func (d *DB) GetTestedParameters() ([]string, error) {
	rows, err := d.db.Query(`SELECT DISTINCT param_name FROM ab_parameter_diffs`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// GetCompletedSessionsWithPnl returns every completed session with the
// realised PnL of each variant, summed over its closed trades.
func (d *DB) GetCompletedSessionsWithPnl() ([]*SessionPnl, error) {
	rows, err := d.db.Query(`
		SELECT s.session_id, s.completed_at,
			COALESCE(SUM(CASE WHEN t.variant = 'A' THEN t.exit_sol_received - t.hypothetical_sol_spent END), 0),
			COALESCE(SUM(CASE WHEN t.variant = 'B' THEN t.exit_sol_received - t.hypothetical_sol_spent END), 0)
		FROM ab_sessions s
		LEFT JOIN ab_trades t ON t.session_id = s.session_id AND t.status = 'closed'
		WHERE s.status = 'completed'
		GROUP BY s.session_id
		ORDER BY s.completed_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*SessionPnl
	for rows.Next() {
		var sp SessionPnl
		var completedAt sql.NullInt64
		if err := rows.Scan(&sp.SessionID, &completedAt, &sp.PnlA, &sp.PnlB); err != nil {
			return nil, err
		}
		sp.CompletedAt = completedAt.Int64
		sessions = append(sessions, &sp)
	}
	return sessions, rows.Err()
}

// InsertSniperObservation appends one poll snapshot of the sniper gate.
func (d *DB) InsertSniperObservation(o *SniperObservation) error {
	_, err := d.db.Exec(`
		INSERT INTO sniper_gate_observations
		(session_id, token_mint, check_number, bot_count, bot_exit_count, organic_count,
		 total_buys, total_sells, unique_buyers, pass_conditions_met, wallets, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nullIfEmpty(o.SessionID), o.TokenMint, o.CheckNumber, o.BotCount, o.BotExitCount,
		o.OrganicCount, o.TotalBuys, o.TotalSells, o.UniqueBuyers,
		boolToInt(o.PassConditionsMet), o.WalletsJSON, o.Timestamp)
	return err
}

// VariantConfigsEqualJSON reports whether two variant configs encode to
// the same JSON (round-trip equality used by tests and the diff pass).
func VariantConfigsEqualJSON(a, b *config.VariantConfig) bool {
	aj, errA := json.Marshal(a)
	bj, errB := json.Marshal(b)
	return errA == nil && errB == nil && string(aj) == string(bj)
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
