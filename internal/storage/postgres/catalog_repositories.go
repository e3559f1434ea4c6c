package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type customerRepository struct {
	db *sql.DB
}

// NewCustomerRepository создаёт PostgreSQL-реализацию CustomerRepository.
func NewCustomerRepository(store *Store) domain.CustomerRepository {
	return &customerRepository{db: store.DB()}
}

func (r *customerRepository) GetByEmail(email string) (domain.Customer, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var customer domain.Customer
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, email
		FROM customers
		WHERE LOWER(email) = LOWER($1)
	`, strings.TrimSpace(email)).Scan(&customer.ID, &customer.Name, &customer.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Customer{}, domain.ErrCustomerNotFound
		}
		return domain.Customer{}, fmt.Errorf("select customer by email: %w", err)
	}

	return customer, nil
}

type storeRepository struct {
	db *sql.DB
}

// NewStoreRepository создаёт PostgreSQL-реализацию StoreRepository.
func NewStoreRepository(store *Store) domain.StoreRepository {
	return &storeRepository{db: store.DB()}
}

func (r *storeRepository) Get(id int64) (domain.Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var s domain.Store
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, location
		FROM stores
		WHERE id = $1
	`, id).Scan(&s.ID, &s.Name, &s.Location)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Store{}, domain.ErrStoreNotFound
		}
		return domain.Store{}, fmt.Errorf("select store: %w", err)
	}

	return s, nil
}

type productRepository struct {
	db *sql.DB
}

// NewProductRepository создаёт PostgreSQL-реализацию ProductRepository.
func NewProductRepository(store *Store) domain.ProductRepository {
	return &productRepository{db: store.DB()}
}

func (r *productRepository) Get(id int64) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var p domain.Product
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, category, price_minor, sku
		FROM products
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Category, &p.PriceMinor, &p.SKU)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("select product: %w", err)
	}

	return p, nil
}

var (
	_ domain.CustomerRepository = (*customerRepository)(nil)
	_ domain.StoreRepository    = (*storeRepository)(nil)
	_ domain.ProductRepository  = (*productRepository)(nil)
)
