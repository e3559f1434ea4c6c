package app

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/service/order"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
	"github.com/vladislavdragonenkov/storefront/internal/storage/postgres"
)

// DemoCatalog — сущности, засеянные в memory-хранилище при старте.
// Позволяет гонять размещения без внешней БД (dev-режим и loadtest).
type DemoCatalog struct {
	Customer domain.Customer
	Store    domain.Store
	Products []domain.Product
}

// PlaceRequest строит запрос размещения на демо-каталоге.
func (d *DemoCatalog) PlaceRequest(productID int64, qty int32) order.PlaceRequest {
	var price int64
	for _, p := range d.Products {
		if p.ID == productID {
			price = p.PriceMinor
			break
		}
	}
	total := price * int64(qty)

	return order.PlaceRequest{
		CustomerEmail: d.Customer.Email,
		StoreID:       d.Store.ID,
		Lines: []order.Line{
			{ProductID: productID, Qty: qty, LineTotalMinor: total},
		},
		TotalMinor: total,
	}
}

// runtimeDependencies собирает все хранилища, выбранные по Config.
type runtimeDependencies struct {
	repo            domain.OrderRepository
	outboxRepo      domain.OutboxRepository
	timelineRepo    domain.TimelineRepository
	idempotencyRepo domain.IdempotencyRepository

	customers     domain.CustomerRepository
	stores        domain.StoreRepository
	products      domain.ProductRepository
	inventoryRepo domain.InventoryRepository
	ledger        domain.InventoryLedger

	demo           *DemoCatalog
	storageChecker healthcheck.Checker
	closeFn        func() error
}

// initRuntimeDependencies выбирает и инициализирует хранилище.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (runtimeDependencies, error) {
	switch cfg.StorageDriver {
	case StorageDriverMemory, "":
		return initMemoryDependencies(logger), nil
	case StorageDriverPostgres:
		return initPostgresDependencies(ctx, cfg, logger)
	default:
		return runtimeDependencies{}, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

func initMemoryDependencies(logger *log.Entry) runtimeDependencies {
	customers := memory.NewCustomerRepository()
	stores := memory.NewStoreRepository()
	products := memory.NewProductRepository()
	inventory := memory.NewInventoryStore()

	deps := runtimeDependencies{
		repo:            memory.NewOrderRepository(),
		outboxRepo:      memory.NewOutboxRepository(),
		timelineRepo:    memory.NewTimelineRepository(),
		idempotencyRepo: memory.NewIdempotencyRepository(),
		customers:       customers,
		stores:          stores,
		products:        products,
		inventoryRepo:   inventory,
		ledger:          inventory,
	}
	deps.demo = seedDemoCatalog(customers, stores, products, inventory)

	logger.WithFields(log.Fields{
		"customer": deps.demo.Customer.Email,
		"store":    deps.demo.Store.ID,
		"products": len(deps.demo.Products),
	}).Info("memory-хранилище засеяно демо-каталогом")

	return deps
}

func initPostgresDependencies(ctx context.Context, cfg Config, logger *log.Entry) (runtimeDependencies, error) {
	if cfg.PostgresDSN == "" {
		return runtimeDependencies{}, fmt.Errorf("postgres storage driver requires a dsn")
	}

	store, err := postgres.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		return runtimeDependencies{}, fmt.Errorf("open postgres store: %w", err)
	}

	if cfg.PostgresAutoMigrate {
		if err := store.MigrateUp(ctx, 0); err != nil {
			_ = store.Close()
			return runtimeDependencies{}, fmt.Errorf("apply postgres migrations: %w", err)
		}
		logger.Info("postgres-миграции применены")
	}

	inventory := postgres.NewInventoryStore(store)

	return runtimeDependencies{
		repo:            postgres.NewOrderRepository(store),
		outboxRepo:      postgres.NewOutboxRepository(store),
		timelineRepo:    postgres.NewTimelineRepository(store),
		idempotencyRepo: postgres.NewIdempotencyRepository(store),
		customers:       postgres.NewCustomerRepository(store),
		stores:          postgres.NewStoreRepository(store),
		products:        postgres.NewProductRepository(store),
		inventoryRepo:   inventory,
		ledger:          inventory,
		storageChecker: healthcheck.NewSimpleChecker("postgres", func() error {
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return store.Ping(pingCtx)
		}),
		closeFn: store.Close,
	}, nil
}

func seedDemoCatalog(
	customers *memory.CustomerRepository,
	stores *memory.StoreRepository,
	products *memory.ProductRepository,
	inventory *memory.InventoryStore,
) *DemoCatalog {
	customer := customers.Put(domain.Customer{Name: "Demo", Email: "demo@storefront.local"})
	store := stores.Put(domain.Store{Name: "Demo Store", Location: "localhost"})

	seeds := []struct {
		product domain.Product
		stock   int32
	}{
		{domain.Product{Name: "Widget", Category: "tools", PriceMinor: 500, SKU: "DEMO-W"}, 1000},
		{domain.Product{Name: "Gadget", Category: "tools", PriceMinor: 1500, SKU: "DEMO-G"}, 1000},
		{domain.Product{Name: "Sprocket", Category: "parts", PriceMinor: 250, SKU: "DEMO-S"}, 1000},
	}

	demo := &DemoCatalog{Customer: customer, Store: store}
	for _, seed := range seeds {
		product := products.Put(seed.product)
		inventory.Put(domain.Inventory{ProductID: product.ID, StoreID: store.ID, StockLevel: seed.stock})
		demo.Products = append(demo.Products, product)
	}

	return demo
}
