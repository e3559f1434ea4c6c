package memory

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// inventoryKey — составной бизнес-ключ остатка.
type inventoryKey struct {
	productID int64
	storeID   int64
}

// InventoryStore — in-memory остатки склада. Реализует одновременно
// domain.InventoryRepository и domain.InventoryLedger: один мьютекс
// владеет всеми остатками, поэтому проверка и списание стока выполняются
// как неделимый шаг относительно конкурентных вызовов.
type InventoryStore struct {
	mu     sync.RWMutex
	items  map[inventoryKey]domain.Inventory
	nextID int64
}

// NewInventoryStore возвращает пустое in-memory хранилище остатков.
func NewInventoryStore() *InventoryStore {
	return &InventoryStore{items: make(map[inventoryKey]domain.Inventory)}
}

// Put заводит или перезаписывает остаток пары (product, store).
// Используется при seed'е данных и в тестах; боевые мутации идут через ledger.
func (s *InventoryStore) Put(inv domain.Inventory) domain.Inventory {
	s.mu.Lock()
	defer s.mu.Unlock()

	if inv.ID == 0 {
		s.nextID++
		inv.ID = s.nextID
	}
	s.items[inventoryKey{productID: inv.ProductID, storeID: inv.StoreID}] = inv
	return inv
}

// GetByProductAndStore возвращает остаток или ErrInventoryNotFound.
func (s *InventoryStore) GetByProductAndStore(productID, storeID int64) (domain.Inventory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, ok := s.items[inventoryKey{productID: productID, storeID: storeID}]
	if !ok {
		return domain.Inventory{}, domain.ErrInventoryNotFound
	}
	return inv, nil
}

// Reserve атомарно списывает qty единиц, если остатка хватает.
func (s *InventoryStore) Reserve(productID, storeID int64, qty int32) (domain.Reservation, error) {
	if qty <= 0 {
		return domain.Reservation{}, domain.ErrReservationQtyInvalid
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := inventoryKey{productID: productID, storeID: storeID}
	inv, ok := s.items[key]
	if !ok {
		return domain.Reservation{}, domain.ErrInventoryNotFound
	}
	if inv.StockLevel < qty {
		return domain.Reservation{}, &domain.InsufficientStockError{
			ProductID: productID,
			StoreID:   storeID,
			Requested: qty,
			Available: inv.StockLevel,
		}
	}

	inv.StockLevel -= qty
	s.items[key] = inv

	return domain.Reservation{
		ID:        uuid.NewString(),
		ProductID: productID,
		StoreID:   storeID,
		Qty:       qty,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Release возвращает qty зарезервированных единиц на склад.
func (s *InventoryStore) Release(reservation domain.Reservation) error {
	if errs := reservation.Validate(); len(errs) > 0 {
		return fmt.Errorf("release invalid reservation: %v", errs)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := inventoryKey{productID: reservation.ProductID, storeID: reservation.StoreID}
	inv, ok := s.items[key]
	if !ok {
		return domain.ErrInventoryNotFound
	}

	inv.StockLevel += reservation.Qty
	s.items[key] = inv
	return nil
}

// Restock пополняет остаток пары (product, store) на qty единиц.
func (s *InventoryStore) Restock(productID, storeID int64, qty int32) error {
	if qty <= 0 {
		return domain.ErrReservationQtyInvalid
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := inventoryKey{productID: productID, storeID: storeID}
	inv, ok := s.items[key]
	if !ok {
		return domain.ErrInventoryNotFound
	}

	inv.StockLevel += qty
	s.items[key] = inv
	return nil
}

var (
	_ domain.InventoryRepository = (*InventoryStore)(nil)
	_ domain.InventoryLedger     = (*InventoryStore)(nil)
)
