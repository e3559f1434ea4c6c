package domain

// CustomerRepository описывает требования к хранилищу клиентов.
type CustomerRepository interface {
	// GetByEmail возвращает клиента по email или ErrCustomerNotFound.
	GetByEmail(email string) (Customer, error)
}

// StoreRepository описывает требования к хранилищу магазинов.
type StoreRepository interface {
	// Get возвращает магазин по id или ErrStoreNotFound.
	Get(id int64) (Store, error)
}

// ProductRepository описывает требования к хранилищу товаров каталога.
type ProductRepository interface {
	// Get возвращает товар по id или ErrProductNotFound.
	Get(id int64) (Product, error)
}

// InventoryRepository описывает read-доступ к складским остаткам.
// Запись идёт исключительно через InventoryLedger.
type InventoryRepository interface {
	// GetByProductAndStore возвращает остаток пары (product, store)
	// или ErrInventoryNotFound.
	GetByProductAndStore(productID, storeID int64) (Inventory, error)
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет заголовок заказа вместе со всеми позициями как одно
	// атомарное действие. Возвращает ErrOrderExists, если id уже занят.
	Create(order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(id string) (Order, error)
	// ListByCustomer возвращает заказы клиента с опциональным ограничением на количество.
	ListByCustomer(customerID int64, limit int) ([]Order, error)
}
