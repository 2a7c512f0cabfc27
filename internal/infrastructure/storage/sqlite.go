package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vitos/position_monitor/internal/domain"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS positions (
			id TEXT PRIMARY KEY,
			pair TEXT NOT NULL,
			side TEXT NOT NULL,
			entry_price REAL NOT NULL,
			margin REAL NOT NULL DEFAULT 0,
			leverage INTEGER NOT NULL DEFAULT 1,
			take_profit REAL NOT NULL DEFAULT 0,
			stop_loss REAL NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'ACTIVE',
			current_price REAL NOT NULL DEFAULT 0,
			profit_loss_pct REAL NOT NULL DEFAULT 0,
			profit_loss_usd REAL NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			closed_at DATETIME
		);`,
		`CREATE INDEX IF NOT EXISTS idx_positions_status ON positions(status);`,
		`CREATE TABLE IF NOT EXISTS alert_rules (
			id TEXT PRIMARY KEY,
			position_id TEXT NOT NULL,
			condition_type TEXT NOT NULL,
			condition_value REAL NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT 1,
			triggered_at DATETIME,
			created_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_alert_rules_position ON alert_rules(position_id);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}

	return nil
}

// PositionRepository Implementation

const positionColumns = `id, pair, side, entry_price, margin, leverage, take_profit, stop_loss, status, current_price, profit_loss_pct, profit_loss_usd, created_at, closed_at`

func (s *SQLiteStore) SavePosition(ctx context.Context, pos *domain.Position) error {
	query := `INSERT INTO positions (` + positionColumns + `)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		pos.ID, pos.Pair, pos.Side, pos.EntryPrice, pos.Margin, pos.Leverage,
		pos.TakeProfit, pos.StopLoss, pos.Status, pos.CurrentPrice,
		pos.ProfitLossPct, pos.ProfitLossUSD, pos.CreatedAt, pos.ClosedAt)
	return err
}

func (s *SQLiteStore) GetPosition(ctx context.Context, id string) (*domain.Position, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+positionColumns+` FROM positions WHERE id = ?`, id)
	return scanPosition(row)
}

func (s *SQLiteStore) ListActivePositions(ctx context.Context) ([]*domain.Position, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+positionColumns+` FROM positions WHERE status = ? ORDER BY created_at`, domain.StatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []*domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// UpdatePosition applies only the fields set in the update. Status writes
// are guarded so a terminal position can never transition back to ACTIVE or
// to a different terminal state.
func (s *SQLiteStore) UpdatePosition(ctx context.Context, id string, update domain.PositionUpdate) error {
	var sets []string
	var args []interface{}

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *update.Status)
	}
	if update.CurrentPrice != nil {
		sets = append(sets, "current_price = ?")
		args = append(args, *update.CurrentPrice)
	}
	if update.ProfitLossPct != nil {
		sets = append(sets, "profit_loss_pct = ?")
		args = append(args, *update.ProfitLossPct)
	}
	if update.ProfitLossUSD != nil {
		sets = append(sets, "profit_loss_usd = ?")
		args = append(args, *update.ProfitLossUSD)
	}
	if update.ClosedAt != nil {
		sets = append(sets, "closed_at = ?")
		args = append(args, *update.ClosedAt)
	}
	if len(sets) == 0 {
		return nil
	}

	query := `UPDATE positions SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`
	if update.Status != nil {
		query += ` AND status = ?`
		args = append(args, id, domain.StatusActive)
	} else {
		args = append(args, id)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if update.Status != nil {
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return fmt.Errorf("position %s not found or not active", id)
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPosition(row rowScanner) (*domain.Position, error) {
	var p domain.Position
	var closedAt sql.NullTime
	err := row.Scan(&p.ID, &p.Pair, &p.Side, &p.EntryPrice, &p.Margin, &p.Leverage,
		&p.TakeProfit, &p.StopLoss, &p.Status, &p.CurrentPrice,
		&p.ProfitLossPct, &p.ProfitLossUSD, &p.CreatedAt, &closedAt)
	if err != nil {
		return nil, err
	}
	if closedAt.Valid {
		t := closedAt.Time
		p.ClosedAt = &t
	}
	return &p, nil
}

// AlertRuleRepository Implementation

func (s *SQLiteStore) SaveAlertRule(ctx context.Context, rule *domain.AlertRule) error {
	query := `INSERT INTO alert_rules (id, position_id, condition_type, condition_value, is_active, triggered_at, created_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		rule.ID, rule.PositionID, rule.Condition, rule.Value, rule.IsActive, rule.TriggeredAt, rule.CreatedAt)
	return err
}

func (s *SQLiteStore) ListActiveAlertRules(ctx context.Context) ([]*domain.AlertRule, error) {
	query := `SELECT id, position_id, condition_type, condition_value, is_active, triggered_at, created_at
			  FROM alert_rules WHERE is_active = 1 AND triggered_at IS NULL ORDER BY created_at`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.AlertRule
	for rows.Next() {
		var r domain.AlertRule
		var triggeredAt sql.NullTime
		if err := rows.Scan(&r.ID, &r.PositionID, &r.Condition, &r.Value, &r.IsActive, &triggeredAt, &r.CreatedAt); err != nil {
			return nil, err
		}
		if triggeredAt.Valid {
			t := triggeredAt.Time
			r.TriggeredAt = &t
		}
		rules = append(rules, &r)
	}
	return rules, rows.Err()
}

// DeactivateAlertRule flips the rule to dormant. The is_active guard makes
// the write idempotent against double-fires: only the first caller affects a
// row.
func (s *SQLiteStore) DeactivateAlertRule(ctx context.Context, id string, triggeredAt time.Time) error {
	query := `UPDATE alert_rules SET is_active = 0, triggered_at = ? WHERE id = ? AND is_active = 1`
	_, err := s.db.ExecContext(ctx, query, triggeredAt, id)
	return err
}

func (s *SQLiteStore) DeleteAlertRule(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM alert_rules WHERE id = ?`, id)
	return err
}
