package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"cryptofolio/internal/models"
)

// Ошибки репозитория сделок
var (
	ErrTradeNotFound = errors.New("trade not found")
	ErrTradeExists   = errors.New("trade already exists")
)

const tradeColumns = `id, user_id, exchange, symbol, side, quantity, price, quote_quantity, fee, fee_asset,
		is_maker, executed_at, external_id, realized_pnl, realized_pnl_pct, avg_entry_price, created_at, updated_at`

// TradeRepository - работа с таблицей trades.
// Пара (user_id, external_id) уникальна: сделка биржи сохраняется у пользователя не более одного раза.
type TradeRepository struct {
	db *sql.DB
}

// NewTradeRepository создает новый экземпляр репозитория
func NewTradeRepository(db *sql.DB) *TradeRepository {
	return &TradeRepository{db: db}
}

// ExistsByExternalID проверяет, загружена ли уже сделка пользователя
func (r *TradeRepository) ExistsByExternalID(ctx context.Context, userID int64, externalID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM trades WHERE user_id = $1 AND external_id = $2)`, userID, externalID,
	).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// Create сохраняет сделку; повтор (user_id, external_id) возвращает ErrTradeExists
func (r *TradeRepository) Create(ctx context.Context, t *models.Trade) error {
	query := `
		INSERT INTO trades (user_id, exchange, symbol, side, quantity, price, quote_quantity, fee, fee_asset,
			is_maker, executed_at, external_id, realized_pnl, realized_pnl_pct, avg_entry_price, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING id`

	t.Touch(time.Now())

	err := r.db.QueryRowContext(ctx, query,
		t.UserID,
		t.Exchange,
		t.Symbol,
		t.Side,
		t.Quantity,
		t.Price,
		t.QuoteQuantity,
		t.Fee,
		t.FeeAsset,
		t.IsMaker,
		t.ExecutedAt,
		t.ExternalID,
		t.RealizedPnl,
		t.RealizedPnlPct,
		t.AvgEntryPrice,
		t.CreatedAt,
		t.UpdatedAt,
	).Scan(&t.ID)

	if err != nil {
		if isUniqueViolation(err) {
			return ErrTradeExists
		}
		return err
	}
	return nil
}

// ListBuysInRange возвращает покупки пользователя по символу в интервале [from, to)
func (r *TradeRepository) ListBuysInRange(ctx context.Context, userID int64, symbol string, from, to time.Time) ([]*models.Trade, error) {
	query := `
		SELECT ` + tradeColumns + `
		FROM trades
		WHERE user_id = $1 AND symbol = $2 AND side = 'BUY' AND executed_at >= $3 AND executed_at < $4
		ORDER BY executed_at ASC`

	return r.list(ctx, query, userID, symbol, from, to)
}

// ListByUserInRange возвращает сделки пользователя в интервале [from, to)
func (r *TradeRepository) ListByUserInRange(ctx context.Context, userID int64, from, to time.Time) ([]*models.Trade, error) {
	query := `
		SELECT ` + tradeColumns + `
		FROM trades
		WHERE user_id = $1 AND executed_at >= $2 AND executed_at < $3
		ORDER BY executed_at ASC`

	return r.list(ctx, query, userID, from, to)
}

func (r *TradeRepository) list(ctx context.Context, query string, args ...any) ([]*models.Trade, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	trades := make([]*models.Trade, 0)
	for rows.Next() {
		t := &models.Trade{}
		err := rows.Scan(
			&t.ID,
			&t.UserID,
			&t.Exchange,
			&t.Symbol,
			&t.Side,
			&t.Quantity,
			&t.Price,
			&t.QuoteQuantity,
			&t.Fee,
			&t.FeeAsset,
			&t.IsMaker,
			&t.ExecutedAt,
			&t.ExternalID,
			&t.RealizedPnl,
			&t.RealizedPnlPct,
			&t.AvgEntryPrice,
			&t.CreatedAt,
			&t.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}
	return trades, nil
}
