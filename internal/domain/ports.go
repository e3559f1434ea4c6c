package domain

import "time"

// InventoryLedger — единственный мутатор StockLevel. Reserve и Release
// образуют пару «провизорное списание / компенсация», Restock пополняет
// остаток через тот же атомарный путь.
type InventoryLedger interface {
	// Reserve атомарно проверяет остаток и списывает qty единиц.
	// Возвращает ErrInventoryNotFound для неизвестной пары и
	// InsufficientStockError, если остатка не хватает; в обоих случаях
	// сток не меняется. Конкурентные Reserve по одной паре линейризуются.
	Reserve(productID, storeID int64, qty int32) (Reservation, error)
	// Release откатывает резерв: возвращает qty единиц на склад.
	Release(reservation Reservation) error
	// Restock увеличивает остаток на qty единиц.
	Restock(productID, storeID int64, qty int32) error
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(event TimelineEvent) error
	List(orderID string) ([]TimelineEvent, error)
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(key string) (IdempotencyRecord, error)
	MarkDone(key, orderID string) error
	MarkFailed(key, failure string) error
	DeleteExpired(before time.Time, limit int) (int, error)
}

// PlacementStep задаёт константы шагов размещения для метрик/логов.
type PlacementStep string

const (
	PlacementStepValidate PlacementStep = "validate"
	PlacementStepReserve  PlacementStep = "reserve"
	PlacementStepCommit   PlacementStep = "commit"
	PlacementStepRelease  PlacementStep = "release"
)

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
