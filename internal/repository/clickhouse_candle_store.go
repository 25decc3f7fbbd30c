package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"PerpGate/internal/domain/models"
	domrepo "PerpGate/internal/domain/repository"
	applogger "PerpGate/pkg/logger"
)

// CHCandleStore implements CandleStore backed by ClickHouse, one table per timeframe.
type CHCandleStore struct {
	db       *sql.DB
	database string
	l        *applogger.Logger
}

func NewCHCandleStore(db *sql.DB, database string) *CHCandleStore {
	return &CHCandleStore{db: db, database: database}
}

// SetLogger injects a structured logger.
func (s *CHCandleStore) SetLogger(l *applogger.Logger) { s.l = l }

func (s *CHCandleStore) table(tf domrepo.Timeframe) (string, error) {
	if !domrepo.IsValidTimeframe(tf) {
		return "", fmt.Errorf("unsupported timeframe: %s", tf)
	}
	return fmt.Sprintf("%s.candles_%s", s.database, tf), nil
}

func (s *CHCandleStore) logErr(op, table, symbol string, tf domrepo.Timeframe, err error) {
	if s.l == nil {
		return
	}
	s.l.Error("clickhouse "+op+" error",
		applogger.String("table", table),
		applogger.String("symbol", symbol),
		applogger.String("tf", string(tf)),
		applogger.Error(err),
	)
}

// StoreCandles inserts closed candles in chunks. Replays are folded by the table engine.
func (s *CHCandleStore) StoreCandles(ctx context.Context, candles []models.Candle, tf domrepo.Timeframe) error {
	if len(candles) == 0 {
		return nil
	}
	table, err := s.table(tf)
	if err != nil {
		return err
	}
	const chunkSize = 2000
	for start := 0; start < len(candles); start += chunkSize {
		end := start + chunkSize
		if end > len(candles) {
			end = len(candles)
		}
		values := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*7)
		for _, c := range candles[start:end] {
			if c.Symbol == "" || c.Bucket.IsZero() {
				continue
			}
			values = append(values, "(?, ?, ?, ?, ?, ?, ?)")
			args = append(args, c.Bucket, c.Symbol, c.Open, c.High, c.Low, c.Close, c.Volume)
		}
		if len(values) == 0 {
			continue
		}
		q := fmt.Sprintf("INSERT INTO %s (bucket, symbol, open, high, low, close, vol) VALUES %s", table, strings.Join(values, ","))
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			s.logErr("store_candles", table, candles[start].Symbol, tf, err)
			return fmt.Errorf("store candles: %w", err)
		}
	}
	return nil
}

func (s *CHCandleStore) scan(rows *sql.Rows, capacity int) ([]models.Candle, error) {
	out := make([]models.Candle, 0, capacity)
	for rows.Next() {
		c := models.Candle{Closed: true}
		if err := rows.Scan(&c.Bucket, &c.Symbol, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (s *CHCandleStore) GetCandles(ctx context.Context, symbol string, from, to time.Time, tf domrepo.Timeframe) ([]models.Candle, error) {
	start := time.Now()
	table, err := s.table(tf)
	if err != nil {
		return nil, err
	}
	const qtpl = `
        SELECT bucket, symbol, open, high, low, close, vol
        FROM %s FINAL
        WHERE symbol = ? AND bucket >= ? AND bucket <= ?
        ORDER BY bucket ASC
    `
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(qtpl, table), symbol, from, to)
	if err != nil {
		s.logErr("get_candles query", table, symbol, tf, err)
		return nil, fmt.Errorf("get candles: %w", err)
	}
	defer rows.Close()

	out, err := s.scan(rows, 1024)
	if err != nil {
		s.logErr("get_candles scan", table, symbol, tf, err)
		return nil, err
	}
	if s.l != nil {
		s.l.Debug("clickhouse get_candles ok",
			applogger.String("table", table),
			applogger.String("symbol", symbol),
			applogger.Int("rows", len(out)),
			applogger.Duration("duration_ms", time.Since(start)),
		)
	}
	return out, nil
}

func (s *CHCandleStore) GetLatestNCandles(ctx context.Context, symbol string, n int, tf domrepo.Timeframe) ([]models.Candle, error) {
	table, err := s.table(tf)
	if err != nil {
		return nil, err
	}
	const qtpl = `
        SELECT bucket, symbol, open, high, low, close, vol
        FROM %s FINAL
        WHERE symbol = ?
        ORDER BY bucket DESC
        LIMIT ?
    `
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(qtpl, table), symbol, n)
	if err != nil {
		s.logErr("latest_candles query", table, symbol, tf, err)
		return nil, fmt.Errorf("get latest candles: %w", err)
	}
	defer rows.Close()

	out, err := s.scan(rows, n)
	if err != nil {
		s.logErr("latest_candles scan", table, symbol, tf, err)
		return nil, err
	}
	// reverse to ASC
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// CHOutcomeStore appends realized trade outcomes.
type CHOutcomeStore struct {
	db    *sql.DB
	table string
}

func NewCHOutcomeStore(db *sql.DB, table string) *CHOutcomeStore {
	return &CHOutcomeStore{db: db, table: table}
}

func (s *CHOutcomeStore) Append(ctx context.Context, o models.Outcome) error {
	q := fmt.Sprintf("INSERT INTO %s (closed_at, opened_at, symbol, feature_key, side, pnl_percent, reason) VALUES (?, ?, ?, ?, ?, ?, ?)", s.table)
	if _, err := s.db.ExecContext(ctx, q, o.ClosedAt, o.OpenedAt, o.Symbol, o.FeatureKey, string(o.Side), o.PnLPercent, o.Reason); err != nil {
		return fmt.Errorf("append outcome: %w", err)
	}
	return nil
}

// SchemaStatements returns the idempotent DDL for every table the app writes.
func SchemaStatements(database string) []string {
	stmts := []string{fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", database)}
	for _, tf := range []domrepo.Timeframe{domrepo.TF1m, domrepo.TF5m, domrepo.TF15m, domrepo.TF1h} {
		stmts = append(stmts, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.candles_%s (
            bucket DateTime64(3, 'UTC'),
            symbol LowCardinality(String),
            open Float64, high Float64, low Float64, close Float64, vol Float64
        ) ENGINE = ReplacingMergeTree ORDER BY (symbol, bucket)`, database, tf))
	}
	stmts = append(stmts,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.audit_events (
            ts DateTime64(3, 'UTC'),
            event_type LowCardinality(String),
            correlation_id String,
            component LowCardinality(String),
            severity LowCardinality(String),
            symbol LowCardinality(String),
            payload String
        ) ENGINE = MergeTree ORDER BY (ts, event_type)`, database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.outcomes (
            closed_at DateTime64(3, 'UTC'),
            opened_at DateTime64(3, 'UTC'),
            symbol LowCardinality(String),
            feature_key LowCardinality(String),
            side LowCardinality(String),
            pnl_percent Float64,
            reason LowCardinality(String)
        ) ENGINE = MergeTree ORDER BY (feature_key, closed_at)`, database),
	)
	return stmts
}

var (
	_ domrepo.CandleStore  = (*CHCandleStore)(nil)
	_ domrepo.OutcomeStore = (*CHOutcomeStore)(nil)
)
