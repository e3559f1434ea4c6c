package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// InventoryStore реализует и чтение инвентаря, и леджер стока.
// Списание выполняется одним условным UPDATE, поэтому остаток никогда
// не уходит в минус даже при конкурентных резервированиях.
type InventoryStore struct {
	db *sql.DB
}

// NewInventoryStore создаёт PostgreSQL-реализацию InventoryRepository
// и InventoryLedger поверх одного подключения.
func NewInventoryStore(store *Store) *InventoryStore {
	return &InventoryStore{db: store.DB()}
}

func (r *InventoryStore) GetByProductAndStore(productID, storeID int64) (domain.Inventory, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var inv domain.Inventory
	err := r.db.QueryRowContext(ctx, `
		SELECT id, product_id, store_id, stock_level
		FROM inventory
		WHERE product_id = $1 AND store_id = $2
	`, productID, storeID).Scan(&inv.ID, &inv.ProductID, &inv.StoreID, &inv.StockLevel)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Inventory{}, domain.ErrInventoryNotFound
		}
		return domain.Inventory{}, fmt.Errorf("select inventory: %w", err)
	}

	return inv, nil
}

// Reserve атомарно списывает qty единиц. Чтение остатка, условный UPDATE
// и отчёт о доступном количестве выполняются одним statement, поэтому
// Available в InsufficientStockError — это ровно тот остаток, которого
// не хватило.
func (r *InventoryStore) Reserve(productID, storeID int64, qty int32) (domain.Reservation, error) {
	if qty <= 0 {
		return domain.Reservation{}, domain.ErrReservationQtyInvalid
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var (
		available int32
		reserved  bool
	)
	err := r.db.QueryRowContext(ctx, `
		WITH current AS (
			SELECT id, stock_level
			FROM inventory
			WHERE product_id = $1 AND store_id = $2
		), updated AS (
			UPDATE inventory
			SET stock_level = stock_level - $3
			WHERE id IN (SELECT id FROM current) AND stock_level >= $3
			RETURNING id
		)
		SELECT c.stock_level, EXISTS (SELECT 1 FROM updated)
		FROM current c
	`, productID, storeID, qty).Scan(&available, &reserved)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Reservation{}, domain.ErrInventoryNotFound
		}
		return domain.Reservation{}, fmt.Errorf("reserve stock: %w", err)
	}

	if !reserved {
		return domain.Reservation{}, &domain.InsufficientStockError{
			ProductID: productID,
			StoreID:   storeID,
			Requested: qty,
			Available: available,
		}
	}

	return domain.Reservation{
		ID:        uuid.NewString(),
		ProductID: productID,
		StoreID:   storeID,
		Qty:       qty,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Release возвращает на склад ранее зарезервированное количество.
func (r *InventoryStore) Release(reservation domain.Reservation) error {
	if errs := reservation.Validate(); len(errs) > 0 {
		return fmt.Errorf("release invalid reservation: %v", errs)
	}

	return r.addStock(reservation.ProductID, reservation.StoreID, reservation.Qty, "release stock")
}

// Restock увеличивает остаток на qty единиц.
func (r *InventoryStore) Restock(productID, storeID int64, qty int32) error {
	if qty <= 0 {
		return domain.ErrReservationQtyInvalid
	}

	return r.addStock(productID, storeID, qty, "restock")
}

func (r *InventoryStore) addStock(productID, storeID int64, qty int32, op string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE inventory
		SET stock_level = stock_level + $3
		WHERE product_id = $1 AND store_id = $2
	`, productID, storeID, qty)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if affected == 0 {
		return domain.ErrInventoryNotFound
	}

	return nil
}

var (
	_ domain.InventoryRepository = (*InventoryStore)(nil)
	_ domain.InventoryLedger     = (*InventoryStore)(nil)
)
