package kafka

import (
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"
)

func TestProducer_PublishEvent(t *testing.T) {
	// Создаем mock producer
	mockProducer := mocks.NewSyncProducer(t, nil)

	producer := &Producer{
		producer: mockProducer,
		logger:   log.WithField("component", "kafka-producer-test"),
	}

	// Настраиваем ожидания
	mockProducer.ExpectSendMessageAndSucceed()

	// Создаем тестовое событие
	event := NewOrderEvent(
		EventTypeOrderPlaced,
		"test-order-123",
		1,
		2,
		map[string]interface{}{
			"total_minor": 1500,
		},
	)

	// Публикуем событие
	err := producer.PublishEvent(TopicOrderEvents, "test-order-123", event)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	// Проверяем, что все ожидания выполнены
	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_PublishEvent_Error(t *testing.T) {
	// Создаем mock producer с ошибкой
	mockProducer := mocks.NewSyncProducer(t, nil)

	producer := &Producer{
		producer: mockProducer,
		logger:   log.WithField("component", "kafka-producer-test"),
	}

	// Настраиваем ожидание ошибки
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	event := NewOrderEvent(
		EventTypeOrderRejected,
		"test-order-123",
		0,
		0,
		nil,
	)

	// Публикуем событие
	err := producer.PublishEvent(TopicOrderEvents, "test-order-123", event)
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestNewOrderEvent(t *testing.T) {
	orderID := "order-123"
	metadata := map[string]interface{}{
		"total_minor": 1000,
	}

	event := NewOrderEvent(EventTypeOrderPlaced, orderID, 7, 3, metadata)

	if event.EventType != EventTypeOrderPlaced {
		t.Errorf("expected event type %s, got %s", EventTypeOrderPlaced, event.EventType)
	}

	if event.OrderID != orderID {
		t.Errorf("expected order id %s, got %s", orderID, event.OrderID)
	}

	if event.CustomerID != 7 {
		t.Errorf("expected customer id 7, got %d", event.CustomerID)
	}

	if event.StoreID != 3 {
		t.Errorf("expected store id 3, got %d", event.StoreID)
	}

	if event.Metadata["total_minor"] != 1000 {
		t.Error("metadata not set correctly")
	}

	// Проверяем, что timestamp установлен
	if event.Timestamp.IsZero() {
		t.Error("timestamp should not be zero")
	}

	// Проверяем, что timestamp близок к текущему времени
	if time.Since(event.Timestamp) > time.Second {
		t.Error("timestamp should be close to current time")
	}
}
