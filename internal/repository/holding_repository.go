package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"cryptofolio/internal/models"
)

// Ошибки репозитория позиций
var (
	ErrHoldingNotFound = errors.New("holding not found")
)

const holdingColumns = `id, user_id, symbol, asset, quantity, free, locked, avg_buy_price, total_invested,
		current_price, current_value, unrealized_pnl, unrealized_pnl_pct, notes, first_buy_date,
		last_price_update, last_balance_update, created_at, updated_at`

// HoldingRepository - работа с таблицей holdings, ключ (user_id, symbol)
type HoldingRepository struct {
	db *sql.DB
}

// NewHoldingRepository создает новый экземпляр репозитория
func NewHoldingRepository(db *sql.DB) *HoldingRepository {
	return &HoldingRepository{db: db}
}

func scanHolding(row rowScanner) (*models.Holding, error) {
	h := &models.Holding{}
	err := row.Scan(
		&h.ID,
		&h.UserID,
		&h.Symbol,
		&h.Asset,
		&h.Quantity,
		&h.Free,
		&h.Locked,
		&h.AvgBuyPrice,
		&h.TotalInvested,
		&h.CurrentPrice,
		&h.CurrentValue,
		&h.UnrealizedPnl,
		&h.UnrealizedPnlPct,
		&h.Notes,
		&h.FirstBuyDate,
		&h.LastPriceUpdate,
		&h.LastBalanceUpdate,
		&h.CreatedAt,
		&h.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// GetByUserAndSymbol возвращает позицию пользователя по символу
func (r *HoldingRepository) GetByUserAndSymbol(ctx context.Context, userID int64, symbol string) (*models.Holding, error) {
	query := `
		SELECT ` + holdingColumns + `
		FROM holdings
		WHERE user_id = $1 AND symbol = $2`

	h, err := scanHolding(r.db.QueryRowContext(ctx, query, userID, symbol))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrHoldingNotFound
		}
		return nil, err
	}
	return h, nil
}

// Save сохраняет позицию: новая (ID == 0) вставляется, существующая обновляется по ID.
// Вставка идемпотентна по (user_id, symbol): параллельный merge обновит уже созданную строку.
func (r *HoldingRepository) Save(ctx context.Context, h *models.Holding) error {
	h.Touch(time.Now())
	if h.ID == 0 {
		return r.insert(ctx, h)
	}
	return r.update(ctx, h)
}

func (r *HoldingRepository) insert(ctx context.Context, h *models.Holding) error {
	query := `
		INSERT INTO holdings (user_id, symbol, asset, quantity, free, locked, avg_buy_price, total_invested,
			current_price, current_value, unrealized_pnl, unrealized_pnl_pct, notes, first_buy_date,
			last_price_update, last_balance_update, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (user_id, symbol) DO UPDATE SET
			quantity = EXCLUDED.quantity,
			free = EXCLUDED.free,
			locked = EXCLUDED.locked,
			current_price = EXCLUDED.current_price,
			current_value = EXCLUDED.current_value,
			last_price_update = EXCLUDED.last_price_update,
			last_balance_update = EXCLUDED.last_balance_update,
			updated_at = EXCLUDED.updated_at
		RETURNING id`

	return r.db.QueryRowContext(ctx, query,
		h.UserID,
		h.Symbol,
		h.Asset,
		h.Quantity,
		h.Free,
		h.Locked,
		h.AvgBuyPrice,
		h.TotalInvested,
		h.CurrentPrice,
		h.CurrentValue,
		h.UnrealizedPnl,
		h.UnrealizedPnlPct,
		h.Notes,
		h.FirstBuyDate,
		h.LastPriceUpdate,
		h.LastBalanceUpdate,
		h.CreatedAt,
		h.UpdatedAt,
	).Scan(&h.ID)
}

func (r *HoldingRepository) update(ctx context.Context, h *models.Holding) error {
	query := `
		UPDATE holdings
		SET quantity = $1, free = $2, locked = $3, avg_buy_price = $4, total_invested = $5,
			current_price = $6, current_value = $7, unrealized_pnl = $8, unrealized_pnl_pct = $9,
			notes = $10, first_buy_date = $11, last_price_update = $12, last_balance_update = $13,
			updated_at = $14
		WHERE id = $15`

	result, err := r.db.ExecContext(ctx, query,
		h.Quantity,
		h.Free,
		h.Locked,
		h.AvgBuyPrice,
		h.TotalInvested,
		h.CurrentPrice,
		h.CurrentValue,
		h.UnrealizedPnl,
		h.UnrealizedPnlPct,
		h.Notes,
		h.FirstBuyDate,
		h.LastPriceUpdate,
		h.LastBalanceUpdate,
		h.UpdatedAt,
		h.ID,
	)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrHoldingNotFound
	}
	return nil
}

// ListByUser возвращает позиции пользователя, по убыванию стоимости
func (r *HoldingRepository) ListByUser(ctx context.Context, userID int64) ([]*models.Holding, error) {
	query := `
		SELECT ` + holdingColumns + `
		FROM holdings
		WHERE user_id = $1
		ORDER BY current_value DESC, symbol ASC`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	holdings := make([]*models.Holding, 0)
	for rows.Next() {
		h, err := scanHolding(rows)
		if err != nil {
			return nil, err
		}
		holdings = append(holdings, h)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}
	return holdings, nil
}
