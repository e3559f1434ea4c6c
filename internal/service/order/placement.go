package order

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/validation"
)

// Время жизни idempotency-ключа после первого обращения.
const idempotencyTTL = 24 * time.Hour

// Line описывает одну позицию запроса на размещение заказа.
type Line struct {
	ProductID      int64
	Qty            int32
	LineTotalMinor int64
}

// PlaceRequest — входной запрос размещения заказа. Клиент идентифицируется
// по email, суммы приходят от вызывающего и ядром не пересчитываются.
type PlaceRequest struct {
	CustomerEmail string
	StoreID       int64
	Lines         []Line
	TotalMinor    int64
}

// Validate проверяет структурные инварианты запроса до обращения к хранилищу.
func (r *PlaceRequest) Validate() []error {
	var errs []error

	if r.CustomerEmail == "" {
		errs = append(errs, domain.ErrCustomerEmailRequired)
	}
	if r.StoreID == 0 {
		errs = append(errs, domain.ErrStoreIDRequired)
	}
	if len(r.Lines) == 0 {
		errs = append(errs, domain.ErrLinesRequired)
	}
	if r.TotalMinor < 0 {
		errs = append(errs, domain.ErrOrderTotalNegative)
	}
	for _, line := range r.Lines {
		if line.ProductID == 0 {
			errs = append(errs, domain.ErrProductIDRequired)
		}
		if line.Qty <= 0 {
			errs = append(errs, domain.ErrLineQtyInvalid)
		}
		if line.LineTotalMinor < 0 {
			errs = append(errs, domain.ErrLineTotalNegative)
		}
	}

	return errs
}

// Service реализует размещение заказа: валидация → резервирование стока →
// транзакционная запись заказа. Любая ошибка после успешных резервов
// компенсируется их освобождением в обратном порядке.
type Service struct {
	gateway     *validation.Gateway
	ledger      domain.InventoryLedger
	orders      domain.OrderRepository
	outbox      domain.OutboxRepository
	timeline    domain.TimelineRepository
	idempotency domain.IdempotencyRepository
	logger      *log.Entry
	metrics     *metrics.PlacementMetrics
}

// NewService создаёт рабочий экземпляр сервиса размещения.
func NewService(
	gateway *validation.Gateway,
	ledger domain.InventoryLedger,
	orders domain.OrderRepository,
	outbox domain.OutboxRepository,
	timeline domain.TimelineRepository,
	idempotency domain.IdempotencyRepository,
	logger *log.Entry,
) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "placement")
	}
	return &Service{
		gateway:     gateway,
		ledger:      ledger,
		orders:      orders,
		outbox:      outbox,
		timeline:    timeline,
		idempotency: idempotency,
		logger:      logger,
		metrics:     metrics.NewPlacementMetrics(),
	}
}

// NewServiceWithoutMetrics создаёт сервис без метрик (для тестов).
func NewServiceWithoutMetrics(
	gateway *validation.Gateway,
	ledger domain.InventoryLedger,
	orders domain.OrderRepository,
	outbox domain.OutboxRepository,
	timeline domain.TimelineRepository,
	idempotency domain.IdempotencyRepository,
	logger *log.Entry,
) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "placement")
	}
	return &Service{
		gateway:     gateway,
		ledger:      ledger,
		orders:      orders,
		outbox:      outbox,
		timeline:    timeline,
		idempotency: idempotency,
		logger:      logger,
		metrics:     nil, // Отключаем метрики для тестов
	}
}

// Place размещает заказ. Возвращает записанный заказ либо первую ошибку,
// остановившую размещение; частичные резервы при этом уже откатаны.
func (s *Service) Place(req PlaceRequest) (domain.Order, error) {
	start := time.Now()
	if s.metrics != nil {
		s.metrics.RecordPlacementStarted()
	}
	defer func() {
		if s.metrics != nil {
			s.metrics.RecordPlacementDuration(time.Since(start))
			s.metrics.RecordPlacementFinished()
		}
	}()

	orderID := uuid.NewString()

	customer, err := s.validateRequest(orderID, &req)
	if err != nil {
		return domain.Order{}, err
	}

	reservations, err := s.reserveLines(orderID, req.StoreID, req.Lines)
	if err != nil {
		return domain.Order{}, err
	}

	order, err := s.commitOrder(orderID, customer, &req)
	if err != nil {
		s.releaseReservations(orderID, reservations)
		return domain.Order{}, err
	}

	s.logger.WithFields(log.Fields{
		"order_id":    order.ID,
		"customer_id": order.CustomerID,
		"store_id":    order.StoreID,
		"lines":       len(order.Items),
	}).Info("order placed")
	if s.metrics != nil {
		s.metrics.RecordPlacementCommitted()
	}

	s.emitEvent(order.ID, "order.placed", map[string]interface{}{
		"customer_id": order.CustomerID,
		"store_id":    order.StoreID,
		"total_minor": order.TotalMinor,
		"lines":       len(order.Items),
		"ts":          order.PlacedAt.Format(time.RFC3339Nano),
	})

	return order, nil
}

// PlaceIdempotent размещает заказ под idempotency-ключом. Повтор с тем же
// ключом и телом возвращает ранее размещённый заказ; повтор с другим телом
// отклоняется как конфликт.
func (s *Service) PlaceIdempotent(key string, req PlaceRequest) (domain.Order, error) {
	if s.idempotency == nil {
		return s.Place(req)
	}
	if key == "" {
		return domain.Order{}, domain.ErrIdempotencyKeyRequired
	}

	requestHash, err := hashRequest(req)
	if err != nil {
		return domain.Order{}, fmt.Errorf("hash place request: %w", err)
	}

	_, err = s.idempotency.CreateProcessing(key, requestHash, time.Now().UTC().Add(idempotencyTTL))
	if err != nil {
		if errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists) {
			return s.replay(key, requestHash)
		}
		if domain.IsIdempotencyConflict(err) {
			return domain.Order{}, err
		}
		return domain.Order{}, fmt.Errorf("register idempotency key: %w", err)
	}

	order, placeErr := s.Place(req)
	if placeErr != nil {
		if markErr := s.idempotency.MarkFailed(key, placeErr.Error()); markErr != nil {
			s.logger.WithError(markErr).WithField("key", key).Error("mark idempotency key failed")
		}
		return domain.Order{}, placeErr
	}

	if markErr := s.idempotency.MarkDone(key, order.ID); markErr != nil {
		// Заказ уже размещён, поэтому ошибку маркировки только логируем:
		// повтор с этим ключом увидит статус processing и будет отклонён.
		s.logger.WithError(markErr).WithFields(log.Fields{
			"key":      key,
			"order_id": order.ID,
		}).Error("mark idempotency key done")
	}
	return order, nil
}

// replay обрабатывает повторное обращение с уже известным ключом.
func (s *Service) replay(key, requestHash string) (domain.Order, error) {
	record, err := s.idempotency.Get(key)
	if err != nil {
		return domain.Order{}, fmt.Errorf("load idempotency record: %w", err)
	}
	if record.RequestHash != requestHash {
		return domain.Order{}, domain.ErrIdempotencyHashMismatch
	}

	switch record.Status {
	case domain.IdempotencyStatusProcessing:
		return domain.Order{}, domain.ErrIdempotencyInProgress
	case domain.IdempotencyStatusDone:
		return s.orders.Get(record.OrderID)
	case domain.IdempotencyStatusFailed:
		return domain.Order{}, fmt.Errorf("previous attempt failed: %s", record.Failure)
	default:
		return domain.Order{}, fmt.Errorf("unexpected idempotency status %q", record.Status)
	}
}

// Restock пополняет остаток товара на складе магазина и публикует событие.
func (s *Service) Restock(productID, storeID int64, qty int32) error {
	exists, err := s.gateway.ProductExists(productID)
	if err != nil {
		return err
	}
	if !exists {
		return domain.ErrProductNotFound
	}
	exists, err = s.gateway.StoreExists(storeID)
	if err != nil {
		return err
	}
	if !exists {
		return domain.ErrStoreNotFound
	}

	if err := s.ledger.Restock(productID, storeID, qty); err != nil {
		return err
	}

	s.logger.WithFields(log.Fields{
		"product_id": productID,
		"store_id":   storeID,
		"qty":        qty,
	}).Info("stock restocked")

	payload, err := json.Marshal(map[string]interface{}{
		"product_id": productID,
		"store_id":   storeID,
		"qty":        qty,
		"ts":         time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("marshal restock event: %w", err)
	}
	msg := domain.OutboxMessage{
		AggregateType: "inventory",
		AggregateID:   fmt.Sprintf("%d:%d", productID, storeID),
		EventType:     "stock.restocked",
		Payload:       payload,
	}
	if _, err := s.outbox.Enqueue(msg); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"product_id": productID,
			"store_id":   storeID,
		}).Error("enqueue restock event failed")
	} else if s.metrics != nil {
		s.metrics.RecordOutboxEvent()
	}
	return nil
}

// validateRequest проверяет структуру запроса и существование всех
// участвующих сущностей через validation gateway.
func (s *Service) validateRequest(orderID string, req *PlaceRequest) (domain.Customer, error) {
	stepStart := time.Now()
	defer s.recordStep(domain.PlacementStepValidate, stepStart)

	if errs := req.Validate(); len(errs) > 0 {
		err := errors.Join(errs...)
		s.reject(orderID, "invalid_request", err)
		return domain.Customer{}, err
	}

	customer, err := s.gateway.CustomerByEmail(req.CustomerEmail)
	if err != nil {
		if domain.IsNotFound(err) {
			s.reject(orderID, "customer_not_found", err)
		}
		return domain.Customer{}, err
	}

	exists, err := s.gateway.StoreExists(req.StoreID)
	if err != nil {
		return domain.Customer{}, err
	}
	if !exists {
		s.reject(orderID, "store_not_found", domain.ErrStoreNotFound)
		return domain.Customer{}, domain.ErrStoreNotFound
	}

	for _, line := range req.Lines {
		exists, err := s.gateway.ProductExists(line.ProductID)
		if err != nil {
			return domain.Customer{}, err
		}
		if !exists {
			err := fmt.Errorf("product %d: %w", line.ProductID, domain.ErrProductNotFound)
			s.reject(orderID, "product_not_found", err)
			return domain.Customer{}, err
		}

		// Пара (product, store) должна существовать до любых списаний:
		// отсутствие склада — это отказ валидации, а не ошибка резервирования.
		if _, err := s.gateway.InventoryFor(line.ProductID, req.StoreID); err != nil {
			if domain.IsNotFound(err) {
				err = fmt.Errorf("product %d at store %d: %w", line.ProductID, req.StoreID, domain.ErrInventoryNotFound)
				s.reject(orderID, "inventory_not_found", err)
			}
			return domain.Customer{}, err
		}
	}

	return customer, nil
}

// reserveLines резервирует сток по каждой позиции. Позиции обходятся по
// возрастанию product_id, чтобы конкурентные размещения захватывали пары
// в одном порядке. При ошибке уже взятые резервы освобождаются в обратном
// порядке.
func (s *Service) reserveLines(orderID string, storeID int64, lines []Line) ([]domain.Reservation, error) {
	stepStart := time.Now()
	defer s.recordStep(domain.PlacementStepReserve, stepStart)

	ordered := make([]Line, len(lines))
	copy(ordered, lines)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].ProductID < ordered[j].ProductID
	})

	reservations := make([]domain.Reservation, 0, len(ordered))
	for _, line := range ordered {
		reservation, err := s.ledger.Reserve(line.ProductID, storeID, line.Qty)
		if err != nil {
			s.releaseReservations(orderID, reservations)
			reason := "reserve_failed"
			if domain.IsInsufficientStock(err) {
				reason = "insufficient_stock"
				if s.metrics != nil {
					s.metrics.RecordInsufficientStock()
				}
			} else if domain.IsNotFound(err) {
				reason = "inventory_not_found"
			}
			s.reject(orderID, reason, err)
			return nil, err
		}
		reservations = append(reservations, reservation)
	}

	return reservations, nil
}

// commitOrder собирает агрегат заказа и атомарно записывает его.
func (s *Service) commitOrder(orderID string, customer domain.Customer, req *PlaceRequest) (domain.Order, error) {
	stepStart := time.Now()
	defer s.recordStep(domain.PlacementStepCommit, stepStart)

	now := time.Now().UTC()
	items := make([]domain.OrderItem, 0, len(req.Lines))
	for _, line := range req.Lines {
		items = append(items, domain.OrderItem{
			ID:             uuid.NewString(),
			OrderID:        orderID,
			ProductID:      line.ProductID,
			Qty:            line.Qty,
			LineTotalMinor: line.LineTotalMinor,
			CreatedAt:      now,
		})
	}

	order := domain.Order{
		ID:         orderID,
		CustomerID: customer.ID,
		StoreID:    req.StoreID,
		TotalMinor: req.TotalMinor,
		Items:      items,
		PlacedAt:   now,
	}

	if err := s.orders.Create(order); err != nil {
		s.logger.WithError(err).WithField("order_id", orderID).Error("persist order failed")
		s.reject(orderID, "persistence", err)
		return domain.Order{}, fmt.Errorf("persist order: %w", err)
	}
	return order, nil
}

// releaseReservations освобождает резервы в порядке, обратном захвату.
func (s *Service) releaseReservations(orderID string, reservations []domain.Reservation) {
	if len(reservations) == 0 {
		return
	}
	stepStart := time.Now()
	defer s.recordStep(domain.PlacementStepRelease, stepStart)

	for i := len(reservations) - 1; i >= 0; i-- {
		if err := s.ledger.Release(reservations[i]); err != nil {
			s.logger.WithError(err).WithFields(log.Fields{
				"order_id":   orderID,
				"product_id": reservations[i].ProductID,
				"store_id":   reservations[i].StoreID,
			}).Error("release reservation failed")
		}
	}
}

// reject фиксирует отказ размещения в метриках и публикует событие отказа.
func (s *Service) reject(orderID, reason string, cause error) {
	if s.metrics != nil {
		s.metrics.RecordPlacementRolledBack(reason)
	}
	s.logger.WithError(cause).WithFields(log.Fields{
		"order_id": orderID,
		"reason":   reason,
	}).Warn("order placement rejected")

	s.emitEvent(orderID, "order.rejected", map[string]interface{}{
		"reason": reason,
		"cause":  cause.Error(),
		"ts":     time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (s *Service) recordStep(step domain.PlacementStep, start time.Time) {
	if s.metrics != nil {
		s.metrics.RecordStepDuration(string(step), time.Since(start))
	}
}

// emitEvent кладёт событие в outbox и дублирует его в timeline заказа.
func (s *Service) emitEvent(aggregateID, eventType string, payload map[string]interface{}) {
	if payload == nil {
		payload = make(map[string]interface{})
	}
	payload["order_id"] = aggregateID
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"order_id": aggregateID,
			"event":    eventType,
		}).Error("marshal event failed")
		return
	}

	msg := domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       data,
	}
	if _, err := s.outbox.Enqueue(msg); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"order_id": aggregateID,
			"event":    eventType,
		}).Error("enqueue event failed")
	} else if s.metrics != nil {
		s.metrics.RecordOutboxEvent()
	}

	if s.timeline == nil {
		return
	}
	var reason string
	if r, ok := payload["reason"].(string); ok {
		reason = r
	}
	occurred := time.Now().UTC()
	if ts, ok := payload["ts"].(string); ok {
		if parsed, parseErr := time.Parse(time.RFC3339Nano, ts); parseErr == nil {
			occurred = parsed
		}
	}
	event := domain.TimelineEvent{
		OrderID:  aggregateID,
		Type:     eventType,
		Reason:   reason,
		Occurred: occurred,
	}
	if err := s.timeline.Append(event); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"order_id": aggregateID,
			"event":    eventType,
		}).Warn("append timeline event failed")
	} else if s.metrics != nil {
		s.metrics.RecordTimelineEvent()
	}
}

// hashRequest каноникализирует запрос и возвращает sha256-хэш его JSON-представления.
func hashRequest(req PlaceRequest) (string, error) {
	canonical := req
	canonical.Lines = make([]Line, len(req.Lines))
	copy(canonical.Lines, req.Lines)
	sort.SliceStable(canonical.Lines, func(i, j int) bool {
		return canonical.Lines[i].ProductID < canonical.Lines[j].ProductID
	})

	data, err := json.Marshal(canonical)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
