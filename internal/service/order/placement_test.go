package order

import (
	"errors"
	"sync"
	"testing"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/validation"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

type fixture struct {
	service   *Service
	customers *memory.CustomerRepository
	stores    *memory.StoreRepository
	products  *memory.ProductRepository
	inventory *memory.InventoryStore
	orders    domain.OrderRepository
	outbox    domain.OutboxRepository
	timeline  domain.TimelineRepository
	customer  domain.Customer
	store     domain.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		customers: memory.NewCustomerRepository(),
		stores:    memory.NewStoreRepository(),
		products:  memory.NewProductRepository(),
		inventory: memory.NewInventoryStore(),
		orders:    memory.NewOrderRepository(),
		outbox:    memory.NewOutboxRepository(),
		timeline:  memory.NewTimelineRepository(),
	}

	f.customer = f.customers.Put(domain.Customer{Name: "Alice", Email: "alice@example.com"})
	f.store = f.stores.Put(domain.Store{Name: "Downtown", Location: "Main st 1"})

	gateway := validation.NewGateway(f.customers, f.stores, f.products, f.inventory)
	logger := log.New().WithField("component", "placement-test")
	f.service = NewServiceWithoutMetrics(
		gateway,
		f.inventory,
		f.orders,
		f.outbox,
		f.timeline,
		memory.NewIdempotencyRepository(),
		logger,
	)
	return f
}

func (f *fixture) addProduct(t *testing.T, stock int32) domain.Product {
	t.Helper()
	product := f.products.Put(domain.Product{Name: "Widget", Category: "tools", PriceMinor: 500, SKU: "W-1"})
	f.inventory.Put(domain.Inventory{ProductID: product.ID, StoreID: f.store.ID, StockLevel: stock})
	return product
}

func (f *fixture) stockLevel(t *testing.T, productID int64) int32 {
	t.Helper()
	inv, err := f.inventory.GetByProductAndStore(productID, f.store.ID)
	if err != nil {
		t.Fatalf("get inventory: %v", err)
	}
	return inv.StockLevel
}

func collectOutbox(t *testing.T, outbox domain.OutboxRepository) []domain.OutboxMessage {
	t.Helper()

	type allPending interface {
		AllPending() []domain.OutboxMessage
	}
	repo, ok := outbox.(allPending)
	if !ok {
		t.Fatalf("outbox repository does not support AllPending")
	}
	return repo.AllPending()
}

func eventTypes(messages []domain.OutboxMessage) []string {
	types := make([]string, 0, len(messages))
	for _, msg := range messages {
		types = append(types, msg.EventType)
	}
	return types
}

func TestPlace_Success(t *testing.T) {
	f := newFixture(t)
	product := f.addProduct(t, 10)

	order, err := f.service.Place(PlaceRequest{
		CustomerEmail: "alice@example.com",
		StoreID:       f.store.ID,
		Lines:         []Line{{ProductID: product.ID, Qty: 3, LineTotalMinor: 1500}},
		TotalMinor:    1500,
	})
	if err != nil {
		t.Fatalf("place: %v", err)
	}

	if order.CustomerID != f.customer.ID {
		t.Errorf("customer id = %d, want %d", order.CustomerID, f.customer.ID)
	}
	if order.TotalMinor != 1500 {
		t.Errorf("total = %d, want 1500", order.TotalMinor)
	}
	if len(order.Items) != 1 || order.Items[0].Qty != 3 {
		t.Fatalf("unexpected items: %+v", order.Items)
	}
	if order.Items[0].OrderID != order.ID {
		t.Errorf("item order id = %q, want %q", order.Items[0].OrderID, order.ID)
	}

	stored, err := f.orders.Get(order.ID)
	if err != nil {
		t.Fatalf("get stored order: %v", err)
	}
	if len(stored.Items) != 1 {
		t.Fatalf("stored items = %d, want 1", len(stored.Items))
	}

	if got := f.stockLevel(t, product.ID); got != 7 {
		t.Errorf("stock after place = %d, want 7", got)
	}

	messages := collectOutbox(t, f.outbox)
	if len(messages) != 1 || messages[0].EventType != "order.placed" {
		t.Fatalf("outbox events = %v, want [order.placed]", eventTypes(messages))
	}

	events, err := f.timeline.List(order.ID)
	if err != nil {
		t.Fatalf("list timeline: %v", err)
	}
	if len(events) != 1 || events[0].Type != "order.placed" {
		t.Fatalf("unexpected timeline: %+v", events)
	}
}

func TestPlace_TrustsCallerTotals(t *testing.T) {
	f := newFixture(t)
	product := f.addProduct(t, 10)

	// Итог не совпадает с суммой позиций: ядро не пересчитывает суммы.
	order, err := f.service.Place(PlaceRequest{
		CustomerEmail: "alice@example.com",
		StoreID:       f.store.ID,
		Lines:         []Line{{ProductID: product.ID, Qty: 2, LineTotalMinor: 1000}},
		TotalMinor:    999,
	})
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if order.TotalMinor != 999 {
		t.Errorf("total = %d, want caller-supplied 999", order.TotalMinor)
	}
}

func TestPlace_InvalidRequest(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Place(PlaceRequest{})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !errors.Is(err, domain.ErrCustomerEmailRequired) {
		t.Errorf("missing ErrCustomerEmailRequired in %v", err)
	}
	if !errors.Is(err, domain.ErrStoreIDRequired) {
		t.Errorf("missing ErrStoreIDRequired in %v", err)
	}
	if !errors.Is(err, domain.ErrLinesRequired) {
		t.Errorf("missing ErrLinesRequired in %v", err)
	}

	messages := collectOutbox(t, f.outbox)
	if len(messages) != 1 || messages[0].EventType != "order.rejected" {
		t.Fatalf("outbox events = %v, want [order.rejected]", eventTypes(messages))
	}
}

func TestPlace_UnknownCustomer(t *testing.T) {
	f := newFixture(t)
	product := f.addProduct(t, 10)

	_, err := f.service.Place(PlaceRequest{
		CustomerEmail: "ghost@example.com",
		StoreID:       f.store.ID,
		Lines:         []Line{{ProductID: product.ID, Qty: 1, LineTotalMinor: 500}},
		TotalMinor:    500,
	})
	if !errors.Is(err, domain.ErrCustomerNotFound) {
		t.Fatalf("err = %v, want ErrCustomerNotFound", err)
	}
	if got := f.stockLevel(t, product.ID); got != 10 {
		t.Errorf("stock = %d, want untouched 10", got)
	}
}

func TestPlace_UnknownStore(t *testing.T) {
	f := newFixture(t)
	product := f.addProduct(t, 10)

	_, err := f.service.Place(PlaceRequest{
		CustomerEmail: "alice@example.com",
		StoreID:       999,
		Lines:         []Line{{ProductID: product.ID, Qty: 1, LineTotalMinor: 500}},
		TotalMinor:    500,
	})
	if !errors.Is(err, domain.ErrStoreNotFound) {
		t.Fatalf("err = %v, want ErrStoreNotFound", err)
	}
}

func TestPlace_UnknownProduct(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Place(PlaceRequest{
		CustomerEmail: "alice@example.com",
		StoreID:       f.store.ID,
		Lines:         []Line{{ProductID: 424242, Qty: 1, LineTotalMinor: 500}},
		TotalMinor:    500,
	})
	if !errors.Is(err, domain.ErrProductNotFound) {
		t.Fatalf("err = %v, want ErrProductNotFound", err)
	}
}

func TestPlace_ProductNotStockedAtStore(t *testing.T) {
	f := newFixture(t)
	// Товар существует, но на складе этого магазина не заведён.
	product := f.products.Put(domain.Product{Name: "Gadget", Category: "tools", PriceMinor: 700, SKU: "G-1"})

	_, err := f.service.Place(PlaceRequest{
		CustomerEmail: "alice@example.com",
		StoreID:       f.store.ID,
		Lines:         []Line{{ProductID: product.ID, Qty: 1, LineTotalMinor: 700}},
		TotalMinor:    700,
	})
	if !errors.Is(err, domain.ErrInventoryNotFound) {
		t.Fatalf("err = %v, want ErrInventoryNotFound", err)
	}
}

func TestPlace_InsufficientStockReleasesEarlierLines(t *testing.T) {
	f := newFixture(t)
	first := f.addProduct(t, 10)
	second := f.products.Put(domain.Product{Name: "Gadget", Category: "tools", PriceMinor: 700, SKU: "G-1"})
	f.inventory.Put(domain.Inventory{ProductID: second.ID, StoreID: f.store.ID, StockLevel: 1})

	_, err := f.service.Place(PlaceRequest{
		CustomerEmail: "alice@example.com",
		StoreID:       f.store.ID,
		Lines: []Line{
			{ProductID: first.ID, Qty: 4, LineTotalMinor: 2000},
			{ProductID: second.ID, Qty: 2, LineTotalMinor: 1400},
		},
		TotalMinor: 3400,
	})
	if !domain.IsInsufficientStock(err) {
		t.Fatalf("err = %v, want insufficient stock", err)
	}

	var detail *domain.InsufficientStockError
	if !errors.As(err, &detail) {
		t.Fatalf("err %v does not carry stock detail", err)
	}
	if detail.ProductID != second.ID || detail.Requested != 2 || detail.Available != 1 {
		t.Errorf("unexpected detail: %+v", detail)
	}

	// Резерв первой позиции откатился.
	if got := f.stockLevel(t, first.ID); got != 10 {
		t.Errorf("first product stock = %d, want 10", got)
	}
	if got := f.stockLevel(t, second.ID); got != 1 {
		t.Errorf("second product stock = %d, want 1", got)
	}

	messages := collectOutbox(t, f.outbox)
	if len(messages) != 1 || messages[0].EventType != "order.rejected" {
		t.Fatalf("outbox events = %v, want [order.rejected]", eventTypes(messages))
	}
}

type failingOrderRepo struct {
	err error
}

func (r *failingOrderRepo) Create(domain.Order) error { return r.err }
func (r *failingOrderRepo) Get(string) (domain.Order, error) {
	return domain.Order{}, domain.ErrOrderNotFound
}
func (r *failingOrderRepo) ListByCustomer(int64, int) ([]domain.Order, error) { return nil, nil }

func TestPlace_PersistFailureReleasesReservations(t *testing.T) {
	f := newFixture(t)
	product := f.addProduct(t, 10)

	gateway := validation.NewGateway(f.customers, f.stores, f.products, f.inventory)
	boom := errors.New("disk full")
	service := NewServiceWithoutMetrics(
		gateway,
		f.inventory,
		&failingOrderRepo{err: boom},
		f.outbox,
		f.timeline,
		nil,
		log.New().WithField("component", "placement-test"),
	)

	_, err := service.Place(PlaceRequest{
		CustomerEmail: "alice@example.com",
		StoreID:       f.store.ID,
		Lines:         []Line{{ProductID: product.ID, Qty: 5, LineTotalMinor: 2500}},
		TotalMinor:    2500,
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped %v", err, boom)
	}

	if got := f.stockLevel(t, product.ID); got != 10 {
		t.Errorf("stock = %d, want restored 10", got)
	}

	messages := collectOutbox(t, f.outbox)
	if len(messages) != 1 || messages[0].EventType != "order.rejected" {
		t.Fatalf("outbox events = %v, want [order.rejected]", eventTypes(messages))
	}
}

func TestPlace_ConcurrentOversell(t *testing.T) {
	f := newFixture(t)
	product := f.addProduct(t, 1)

	req := PlaceRequest{
		CustomerEmail: "alice@example.com",
		StoreID:       f.store.ID,
		Lines:         []Line{{ProductID: product.ID, Qty: 1, LineTotalMinor: 500}},
		TotalMinor:    500,
	}

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, results[idx] = f.service.Place(req)
		}(i)
	}
	wg.Wait()

	var success, insufficient int
	for _, err := range results {
		switch {
		case err == nil:
			success++
		case domain.IsInsufficientStock(err):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != 1 || insufficient != 1 {
		t.Fatalf("success = %d, insufficient = %d, want exactly one of each", success, insufficient)
	}
	if got := f.stockLevel(t, product.ID); got != 0 {
		t.Errorf("stock = %d, want 0", got)
	}
}

func TestPlaceIdempotent_ReplayReturnsSameOrder(t *testing.T) {
	f := newFixture(t)
	product := f.addProduct(t, 10)

	req := PlaceRequest{
		CustomerEmail: "alice@example.com",
		StoreID:       f.store.ID,
		Lines:         []Line{{ProductID: product.ID, Qty: 2, LineTotalMinor: 1000}},
		TotalMinor:    1000,
	}

	first, err := f.service.PlaceIdempotent("key-1", req)
	if err != nil {
		t.Fatalf("first place: %v", err)
	}
	second, err := f.service.PlaceIdempotent("key-1", req)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}

	if first.ID != second.ID {
		t.Errorf("replay returned order %q, want %q", second.ID, first.ID)
	}
	// Сток списан ровно один раз.
	if got := f.stockLevel(t, product.ID); got != 8 {
		t.Errorf("stock = %d, want 8", got)
	}
}

func TestPlaceIdempotent_HashMismatch(t *testing.T) {
	f := newFixture(t)
	product := f.addProduct(t, 10)

	req := PlaceRequest{
		CustomerEmail: "alice@example.com",
		StoreID:       f.store.ID,
		Lines:         []Line{{ProductID: product.ID, Qty: 2, LineTotalMinor: 1000}},
		TotalMinor:    1000,
	}
	if _, err := f.service.PlaceIdempotent("key-1", req); err != nil {
		t.Fatalf("first place: %v", err)
	}

	other := req
	other.TotalMinor = 2000
	_, err := f.service.PlaceIdempotent("key-1", other)
	if !errors.Is(err, domain.ErrIdempotencyHashMismatch) {
		t.Fatalf("err = %v, want ErrIdempotencyHashMismatch", err)
	}
}

func TestPlaceIdempotent_EmptyKey(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.PlaceIdempotent("", PlaceRequest{})
	if !errors.Is(err, domain.ErrIdempotencyKeyRequired) {
		t.Fatalf("err = %v, want ErrIdempotencyKeyRequired", err)
	}
}

func TestRestock(t *testing.T) {
	f := newFixture(t)
	product := f.addProduct(t, 2)

	if err := f.service.Restock(product.ID, f.store.ID, 5); err != nil {
		t.Fatalf("restock: %v", err)
	}
	if got := f.stockLevel(t, product.ID); got != 7 {
		t.Errorf("stock = %d, want 7", got)
	}

	messages := collectOutbox(t, f.outbox)
	if len(messages) != 1 || messages[0].EventType != "stock.restocked" {
		t.Fatalf("outbox events = %v, want [stock.restocked]", eventTypes(messages))
	}
}

func TestRestock_UnknownProduct(t *testing.T) {
	f := newFixture(t)

	err := f.service.Restock(12345, f.store.ID, 5)
	if !errors.Is(err, domain.ErrProductNotFound) {
		t.Fatalf("err = %v, want ErrProductNotFound", err)
	}
}

func TestRestock_InvalidQty(t *testing.T) {
	f := newFixture(t)
	product := f.addProduct(t, 2)

	err := f.service.Restock(product.ID, f.store.ID, 0)
	if !errors.Is(err, domain.ErrReservationQtyInvalid) {
		t.Fatalf("err = %v, want ErrReservationQtyInvalid", err)
	}
}

func TestPlace_StockFiveTakeThree(t *testing.T) {
	f := newFixture(t)
	product := f.addProduct(t, 5)

	order, err := f.service.Place(PlaceRequest{
		CustomerEmail: "alice@example.com",
		StoreID:       f.store.ID,
		Lines:         []Line{{ProductID: product.ID, Qty: 3, LineTotalMinor: 30}},
		TotalMinor:    30,
	})
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if got := f.stockLevel(t, product.ID); got != 2 {
		t.Errorf("stock = %d, want 2", got)
	}
	if order.TotalMinor != 30 || len(order.Items) != 1 || order.Items[0].Qty != 3 {
		t.Errorf("unexpected order: %+v", order)
	}
}

func TestPlace_EmptyStock(t *testing.T) {
	f := newFixture(t)
	product := f.addProduct(t, 0)

	_, err := f.service.Place(PlaceRequest{
		CustomerEmail: "alice@example.com",
		StoreID:       f.store.ID,
		Lines:         []Line{{ProductID: product.ID, Qty: 1, LineTotalMinor: 10}},
		TotalMinor:    10,
	})

	var detail *domain.InsufficientStockError
	if !errors.As(err, &detail) {
		t.Fatalf("err = %v, want InsufficientStockError", err)
	}
	if detail.ProductID != product.ID || detail.Requested != 1 || detail.Available != 0 {
		t.Errorf("unexpected detail: %+v", detail)
	}
	if got := f.stockLevel(t, product.ID); got != 0 {
		t.Errorf("stock = %d, want 0", got)
	}
}

type countingLedger struct {
	*memory.InventoryStore
	reserveCalls int
}

func (l *countingLedger) Reserve(productID, storeID int64, qty int32) (domain.Reservation, error) {
	l.reserveCalls++
	return l.InventoryStore.Reserve(productID, storeID, qty)
}

func TestPlace_MissingInventoryDetectedBeforeReserve(t *testing.T) {
	f := newFixture(t)
	stocked := f.addProduct(t, 10)
	// Второй товар существует, но пары (product, store) на складе нет.
	unstocked := f.products.Put(domain.Product{Name: "Gadget", Category: "tools", PriceMinor: 700, SKU: "G-1"})

	ledger := &countingLedger{InventoryStore: f.inventory}
	gateway := validation.NewGateway(f.customers, f.stores, f.products, f.inventory)
	service := NewServiceWithoutMetrics(
		gateway,
		ledger,
		f.orders,
		f.outbox,
		f.timeline,
		memory.NewIdempotencyRepository(),
		log.New().WithField("component", "placement-test"),
	)

	_, err := service.Place(PlaceRequest{
		CustomerEmail: "alice@example.com",
		StoreID:       f.store.ID,
		Lines: []Line{
			{ProductID: stocked.ID, Qty: 2, LineTotalMinor: 1000},
			{ProductID: unstocked.ID, Qty: 1, LineTotalMinor: 700},
		},
		TotalMinor: 1700,
	})
	if !errors.Is(err, domain.ErrInventoryNotFound) {
		t.Fatalf("err = %v, want ErrInventoryNotFound", err)
	}

	// Отказ валидационный: до ledger дело дойти не должно.
	if ledger.reserveCalls != 0 {
		t.Errorf("reserve calls = %d, want 0", ledger.reserveCalls)
	}
	if got := f.stockLevel(t, stocked.ID); got != 10 {
		t.Errorf("stocked product stock = %d, want 10", got)
	}

	messages := collectOutbox(t, f.outbox)
	if len(messages) != 1 || messages[0].EventType != "order.rejected" {
		t.Fatalf("outbox events = %v, want [order.rejected]", eventTypes(messages))
	}
}
