// Package sqlite persists the daily account state and the append-only
// trade log. The daily_state table holds a single row that is replaced
// on every save; lifetime counters are never stored but recomputed from
// the trades table on load, so the trade log stays the single source of
// truth.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"tradepilot/internal/domain"
	"tradepilot/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements ports.Repository using SQLite.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository opens (creating if necessary) the database and ensures
// the schema exists.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/tradepilot.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// WAL mode for better concurrency between the trading loops and the
	// report binary reading the same file.
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// A single connection serializes writers; SQLite handles the rest.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	repo := &Repository{db: db, logger: cfg.Logger}
	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "SQLite database ready", map[string]interface{}{"path": dbPath})

	return repo, nil
}

func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS daily_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		date TEXT NOT NULL,
		balance REAL NOT NULL,
		initial_balance REAL NOT NULL,
		daily_pnl REAL NOT NULL,
		daily_trades INTEGER NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		entry_price REAL NOT NULL,
		exit_price REAL NOT NULL,
		quantity REAL NOT NULL,
		pnl REAL NOT NULL,
		pnl_pct REAL NOT NULL,
		entry_time TIMESTAMP NOT NULL,
		exit_time TIMESTAMP NOT NULL,
		close_reason TEXT NOT NULL,
		strategy TEXT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades (symbol);
	CREATE INDEX IF NOT EXISTS idx_trades_exit_time ON trades (exit_time);
	`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// --- StateRepository implementation ---

// LoadDailyState returns the persisted daily snapshot with the lifetime
// counters recomputed from the trade log, or nil when nothing has been
// saved yet.
func (r *Repository) LoadDailyState(ctx context.Context) (*domain.DailyState, error) {
	const query = `
	SELECT date, balance, initial_balance, daily_pnl, daily_trades, updated_at
	FROM daily_state WHERE id = 1`

	state := &domain.DailyState{}
	err := r.db.QueryRowContext(ctx, query).Scan(
		&state.Date, &state.Balance, &state.InitialBalance,
		&state.DailyPNL, &state.DailyTrades, &state.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load daily state: %w", err)
	}

	wins, losses, err := r.WinLossCounts(ctx)
	if err != nil {
		return nil, err
	}
	state.WinningTrades = wins
	state.LosingTrades = losses
	state.TotalTrades = wins + losses
	return state, nil
}

// SaveDailyState replaces the single daily snapshot row.
func (r *Repository) SaveDailyState(ctx context.Context, state *domain.DailyState) error {
	if state == nil {
		return fmt.Errorf("daily state is nil: %w", ports.ErrInvalidRequest)
	}
	const query = `
	INSERT OR REPLACE INTO daily_state (id, date, balance, initial_balance, daily_pnl, daily_trades, updated_at)
	VALUES (1, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		state.Date, state.Balance, state.InitialBalance,
		state.DailyPNL, state.DailyTrades, state.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save daily state: %w", err)
	}
	r.logger.Debug(ctx, "Daily state saved", map[string]interface{}{
		"date":        state.Date,
		"balance":     state.Balance,
		"dailyPnl":    state.DailyPNL,
		"dailyTrades": state.DailyTrades,
	})
	return nil
}

// --- TradeRepository implementation ---

// RecordTrade appends a trade record and returns its assigned ID.
func (r *Repository) RecordTrade(ctx context.Context, trade *domain.Trade) (int64, error) {
	if trade == nil {
		return 0, fmt.Errorf("trade is nil: %w", ports.ErrInvalidRequest)
	}
	const query = `
	INSERT INTO trades (symbol, side, entry_price, exit_price, quantity, pnl, pnl_pct,
	                    entry_time, exit_time, close_reason, strategy)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query,
		trade.Symbol, string(trade.Side), trade.EntryPrice, trade.ExitPrice, trade.Quantity,
		trade.PNL, trade.PNLPct, trade.EntryTime, trade.ExitTime,
		string(trade.CloseReason), trade.Strategy)
	if err != nil {
		return 0, fmt.Errorf("failed to insert trade for symbol %s: %w", trade.Symbol, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for trade %s: %w", trade.Symbol, err)
	}
	trade.ID = id
	r.logger.Debug(ctx, "Trade recorded", map[string]interface{}{"tradeID": id, "symbol": trade.Symbol, "pnl": trade.PNL})
	return id, nil
}

// FindBySymbol retrieves the most recent trades for a symbol, newest
// first, up to a limit.
func (r *Repository) FindBySymbol(ctx context.Context, symbol string, limit int) ([]*domain.Trade, error) {
	const query = `
	SELECT id, symbol, side, entry_price, exit_price, quantity, pnl, pnl_pct,
	       entry_time, exit_time, close_reason, strategy
	FROM trades
	WHERE symbol = ? ORDER BY exit_time DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades for symbol %s: %w", symbol, err)
	}
	defer rows.Close()
	return collectTrades(rows)
}

// FindSince retrieves all trades closed at or after the given time,
// oldest first.
func (r *Repository) FindSince(ctx context.Context, since time.Time) ([]*domain.Trade, error) {
	const query = `
	SELECT id, symbol, side, entry_price, exit_price, quantity, pnl, pnl_pct,
	       entry_time, exit_time, close_reason, strategy
	FROM trades
	WHERE exit_time >= ? ORDER BY exit_time ASC`

	rows, err := r.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades since %s: %w", since, err)
	}
	defer rows.Close()
	return collectTrades(rows)
}

// CountSince counts trades closed at or after the given time.
func (r *Repository) CountSince(ctx context.Context, since time.Time) (int, error) {
	const query = `SELECT COUNT(*) FROM trades WHERE exit_time >= ?`
	var count int
	if err := r.db.QueryRowContext(ctx, query, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count trades since %s: %w", since, err)
	}
	return count, nil
}

// TotalProfit calculates the sum of PNL across all recorded trades.
func (r *Repository) TotalProfit(ctx context.Context) (float64, error) {
	const query = `SELECT COALESCE(SUM(pnl), 0) FROM trades`
	var total float64
	if err := r.db.QueryRowContext(ctx, query).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to calculate total profit: %w", err)
	}
	return total, nil
}

// WinLossCounts returns the lifetime counts of winning and losing
// trades. A trade with zero PNL counts as a loss.
func (r *Repository) WinLossCounts(ctx context.Context) (int, int, error) {
	const query = `
	SELECT COALESCE(SUM(CASE WHEN pnl > 0 THEN 1 ELSE 0 END), 0),
	       COALESCE(SUM(CASE WHEN pnl <= 0 THEN 1 ELSE 0 END), 0)
	FROM trades`

	var wins, losses int
	if err := r.db.QueryRowContext(ctx, query).Scan(&wins, &losses); err != nil {
		return 0, 0, fmt.Errorf("failed to count wins and losses: %w", err)
	}
	return wins, losses, nil
}

// --- Helpers ---

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func collectTrades(rows *sql.Rows) ([]*domain.Trade, error) {
	trades := make([]*domain.Trade, 0)
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade row: %w", err)
		}
		trades = append(trades, trade)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade rows: %w", err)
	}
	return trades, nil
}

func scanTrade(s scanner) (*domain.Trade, error) {
	t := &domain.Trade{}
	var side, closeReason string
	var strategy sql.NullString
	err := s.Scan(
		&t.ID, &t.Symbol, &side, &t.EntryPrice, &t.ExitPrice, &t.Quantity,
		&t.PNL, &t.PNLPct, &t.EntryTime, &t.ExitTime, &closeReason, &strategy)
	if err != nil {
		return nil, err
	}
	t.Side = domain.OrderSide(side)
	t.CloseReason = domain.CloseReason(closeReason)
	if strategy.Valid {
		t.Strategy = strategy.String
	}
	return t, nil
}
