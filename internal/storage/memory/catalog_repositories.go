package memory

import (
	"strings"
	"sync"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// CustomerRepository — in-memory справочник клиентов с поиском по email.
type CustomerRepository struct {
	mu      sync.RWMutex
	byEmail map[string]domain.Customer
	nextID  int64
}

// NewCustomerRepository возвращает пустой справочник клиентов.
func NewCustomerRepository() *CustomerRepository {
	return &CustomerRepository{byEmail: make(map[string]domain.Customer)}
}

// Put регистрирует клиента. Email нормализуется к нижнему регистру.
func (r *CustomerRepository) Put(c domain.Customer) domain.Customer {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c.ID == 0 {
		r.nextID++
		c.ID = r.nextID
	}
	r.byEmail[strings.ToLower(c.Email)] = c
	return c
}

// GetByEmail возвращает клиента или ErrCustomerNotFound.
func (r *CustomerRepository) GetByEmail(email string) (domain.Customer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.byEmail[strings.ToLower(email)]
	if !ok {
		return domain.Customer{}, domain.ErrCustomerNotFound
	}
	return c, nil
}

// StoreRepository — in-memory справочник магазинов.
type StoreRepository struct {
	mu     sync.RWMutex
	items  map[int64]domain.Store
	nextID int64
}

// NewStoreRepository возвращает пустой справочник магазинов.
func NewStoreRepository() *StoreRepository {
	return &StoreRepository{items: make(map[int64]domain.Store)}
}

// Put регистрирует магазин.
func (r *StoreRepository) Put(s domain.Store) domain.Store {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s.ID == 0 {
		r.nextID++
		s.ID = r.nextID
	}
	r.items[s.ID] = s
	return s
}

// Get возвращает магазин или ErrStoreNotFound.
func (r *StoreRepository) Get(id int64) (domain.Store, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.items[id]
	if !ok {
		return domain.Store{}, domain.ErrStoreNotFound
	}
	return s, nil
}

// ProductRepository — in-memory каталог товаров.
type ProductRepository struct {
	mu     sync.RWMutex
	items  map[int64]domain.Product
	nextID int64
}

// NewProductRepository возвращает пустой каталог товаров.
func NewProductRepository() *ProductRepository {
	return &ProductRepository{items: make(map[int64]domain.Product)}
}

// Put заводит товар в каталоге.
func (r *ProductRepository) Put(p domain.Product) domain.Product {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p.ID == 0 {
		r.nextID++
		p.ID = r.nextID
	}
	r.items[p.ID] = p
	return p
}

// Get возвращает товар или ErrProductNotFound.
func (r *ProductRepository) Get(id int64) (domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.items[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return p, nil
}

var (
	_ domain.CustomerRepository = (*CustomerRepository)(nil)
	_ domain.StoreRepository    = (*StoreRepository)(nil)
	_ domain.ProductRepository  = (*ProductRepository)(nil)
)
