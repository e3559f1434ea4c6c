package domain

import (
	"errors"
	"fmt"
)

var (
	// Ошибка отсутствующего email клиента в запросе.
	ErrCustomerEmailRequired = errors.New("customer_email is required")
	// Ошибка отсутствующего идентификатора магазина.
	ErrStoreIDRequired = errors.New("store_id is required")
	// Ошибка отсутствующего идентификатора товара.
	ErrProductIDRequired = errors.New("product_id is required")
	// Ошибка отсутствия хотя бы одной позиции в заказе.
	ErrLinesRequired = errors.New("order must contain at least one line")
	// Ошибка при некорректном количестве товара в позиции (<= 0).
	ErrLineQtyInvalid = errors.New("line qty must be greater than zero")
	// Ошибка отрицательной суммы позиции.
	ErrLineTotalNegative = errors.New("line total must be non-negative")
	// Ошибка отрицательной итоговой суммы заказа.
	ErrOrderTotalNegative = errors.New("order total must be non-negative")
	// Ошибка некорректного количества в операции резервирования/пополнения.
	ErrReservationQtyInvalid = errors.New("reservation qty must be greater than zero")

	// ErrCustomerNotFound возвращается, если клиент с таким email не зарегистрирован.
	ErrCustomerNotFound = errors.New("customer not found")
	// ErrStoreNotFound возвращается, если магазин с таким id не существует.
	ErrStoreNotFound = errors.New("store not found")
	// ErrProductNotFound возвращается, если товар с таким id не существует.
	ErrProductNotFound = errors.New("product not found")
	// ErrInventoryNotFound возвращается, если товар не заведён на складе магазина.
	ErrInventoryNotFound = errors.New("inventory not found")
	// ErrInsufficientStock — на складе меньше единиц, чем запрошено.
	// Детали несут ошибки типа InsufficientStockError.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderExists сигнализирует о попытке повторно создать заказ с тем же id.
	ErrOrderExists = errors.New("order already exists")

	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")

	// ErrIdempotencyKeyRequired — пустой idempotency-key недопустим.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired — пустой hash запроса недопустим.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyAlreadyExists — ключ уже зарегистрирован для такого же запроса.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch — ключ уже использован для другого запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")
	// ErrIdempotencyKeyNotFound — запись с таким ключом не найдена.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
	// ErrIdempotencyInProgress — запрос с таким ключом ещё обрабатывается.
	ErrIdempotencyInProgress = errors.New("request with this idempotency key is in progress")
)

// IsIdempotencyConflict проверяет, относится ли ошибка к конфликту idempotency-ключей.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) ||
		errors.Is(err, ErrIdempotencyHashMismatch) ||
		errors.Is(err, ErrIdempotencyInProgress)
}

// InsufficientStockError уточняет ErrInsufficientStock: какой товар,
// сколько запрошено и сколько реально доступно на складе магазина.
type InsufficientStockError struct {
	ProductID int64
	StoreID   int64
	Requested int32
	Available int32
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d at store %d: requested %d, available %d",
		e.ProductID, e.StoreID, e.Requested, e.Available)
}

// Unwrap позволяет errors.Is(err, ErrInsufficientStock) для типизированной ошибки.
func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

// IsInsufficientStock проверяет, является ли ошибка нехваткой стока.
func IsInsufficientStock(err error) bool {
	return errors.Is(err, ErrInsufficientStock)
}

// IsNotFound проверяет, относится ли ошибка к классу "сущность не найдена".
func IsNotFound(err error) bool {
	return errors.Is(err, ErrCustomerNotFound) ||
		errors.Is(err, ErrStoreNotFound) ||
		errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrInventoryNotFound) ||
		errors.Is(err, ErrOrderNotFound)
}
