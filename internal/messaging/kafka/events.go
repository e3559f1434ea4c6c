package kafka

import "time"

// EventType определяет тип события
type EventType string

const (
	// Order события
	EventTypeOrderPlaced   EventType = "order.placed"
	EventTypeOrderRejected EventType = "order.rejected"

	// Inventory события
	EventTypeStockRestocked EventType = "stock.restocked"
)

// Topics для Kafka
const (
	TopicOrderEvents     = "storefront.order.events"
	TopicDeadLetterQueue = "storefront.dlq" // Dead Letter Queue для failed messages
)

// Kafka headers для retry логики
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// OrderEvent представляет событие жизненного цикла заказа
type OrderEvent struct {
	EventType  EventType              `json:"event_type"`
	OrderID    string                 `json:"order_id"`
	CustomerID int64                  `json:"customer_id,omitempty"`
	StoreID    int64                  `json:"store_id,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// NewOrderEvent создает новое событие заказа
func NewOrderEvent(eventType EventType, orderID string, customerID, storeID int64, metadata map[string]interface{}) *OrderEvent {
	return &OrderEvent{
		EventType:  eventType,
		OrderID:    orderID,
		CustomerID: customerID,
		StoreID:    storeID,
		Timestamp:  time.Now(),
		Metadata:   metadata,
	}
}
