package validation

import (
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Gateway отвечает на вопросы существования сущностей перед любой мутацией.
// Все операции — чистые чтения; отсутствие сущности — нормальный исход,
// выраженный sentinel-ошибкой, а не nil-разыменованием.
type Gateway struct {
	customers domain.CustomerRepository
	stores    domain.StoreRepository
	products  domain.ProductRepository
	inventory domain.InventoryRepository
}

// NewGateway создаёт гейтвей над репозиториями сущностей.
func NewGateway(
	customers domain.CustomerRepository,
	stores domain.StoreRepository,
	products domain.ProductRepository,
	inventory domain.InventoryRepository,
) *Gateway {
	return &Gateway{
		customers: customers,
		stores:    stores,
		products:  products,
		inventory: inventory,
	}
}

// CustomerByEmail возвращает клиента по email или ErrCustomerNotFound.
func (g *Gateway) CustomerByEmail(email string) (domain.Customer, error) {
	if email == "" {
		return domain.Customer{}, domain.ErrCustomerEmailRequired
	}

	customer, err := g.customers.GetByEmail(email)
	if err != nil {
		if errors.Is(err, domain.ErrCustomerNotFound) {
			return domain.Customer{}, domain.ErrCustomerNotFound
		}
		return domain.Customer{}, fmt.Errorf("lookup customer by email: %w", err)
	}
	return customer, nil
}

// StoreExists проверяет существование магазина.
func (g *Gateway) StoreExists(storeID int64) (bool, error) {
	_, err := g.stores.Get(storeID)
	if err != nil {
		if errors.Is(err, domain.ErrStoreNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("lookup store: %w", err)
	}
	return true, nil
}

// ProductExists проверяет существование товара.
func (g *Gateway) ProductExists(productID int64) (bool, error) {
	_, err := g.products.Get(productID)
	if err != nil {
		if errors.Is(err, domain.ErrProductNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("lookup product: %w", err)
	}
	return true, nil
}

// InventoryFor возвращает остаток пары (product, store) или ErrInventoryNotFound.
func (g *Gateway) InventoryFor(productID, storeID int64) (domain.Inventory, error) {
	inv, err := g.inventory.GetByProductAndStore(productID, storeID)
	if err != nil {
		if errors.Is(err, domain.ErrInventoryNotFound) {
			return domain.Inventory{}, domain.ErrInventoryNotFound
		}
		return domain.Inventory{}, fmt.Errorf("lookup inventory: %w", err)
	}
	return inv, nil
}
