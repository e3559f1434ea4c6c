package domain

import "time"

// Reservation — токен уже применённого, но ещё не зафиксированного
// списания стока. Списание можно откатить через InventoryLedger.Release,
// если размещение заказа сорвётся до коммита.
type Reservation struct {
	ID        string
	ProductID int64
	StoreID   int64
	Qty       int32
	CreatedAt time.Time
}

// Validate проверяет, корректно ли заполнены ключевые поля резервирования.
func (r *Reservation) Validate() []error {
	var errs []error

	if r.ProductID == 0 {
		errs = append(errs, ErrProductIDRequired)
	}
	if r.StoreID == 0 {
		errs = append(errs, ErrStoreIDRequired)
	}
	if r.Qty <= 0 {
		errs = append(errs, ErrReservationQtyInvalid)
	}

	return errs
}
