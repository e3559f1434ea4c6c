package domain

import "time"

// OrderItem представляет одну позицию заказа. Позиция живёт только вместе
// со своим заголовком: создаётся в той же транзакции и никогда не меняется.
type OrderItem struct {
	// ID позиции нужен для однозначной идентификации и аудита.
	ID string
	// OrderID связывает позицию с заголовком заказа.
	OrderID string
	// ProductID — товар, купленный этой позицией.
	ProductID int64
	// Qty — количество единиц товара, всегда > 0.
	Qty int32
	// LineTotalMinor — сумма позиции в минимальных денежных единицах,
	// как её передал вызывающий.
	LineTotalMinor int64
	// CreatedAt фиксирует момент создания позиции.
	CreatedAt time.Time
}

// Order агрегирует заголовок заказа и его позиции. Заголовок владеет
// позициями: после успешного размещения запись только читается.
type Order struct {
	ID         string
	CustomerID int64
	StoreID    int64
	// TotalMinor — итоговая сумма заказа, переданная вызывающим.
	// Ядро её не пересчитывает (см. DESIGN.md).
	TotalMinor int64
	Items      []OrderItem
	PlacedAt   time.Time
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.CustomerID == 0 {
		errs = append(errs, ErrCustomerEmailRequired)
	}
	if o.StoreID == 0 {
		errs = append(errs, ErrStoreIDRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrLinesRequired)
	}
	if o.TotalMinor < 0 {
		errs = append(errs, ErrOrderTotalNegative)
	}

	for _, item := range o.Items {
		if item.Qty <= 0 {
			errs = append(errs, ErrLineQtyInvalid)
		}
		if item.LineTotalMinor < 0 {
			errs = append(errs, ErrLineTotalNegative)
		}
	}

	return errs
}
