package domain

// Inventory — остаток одного товара в одном магазине.
// Инвариант: StockLevel >= 0 в любой момент, включая середину транзакции.
// Пара (ProductID, StoreID) уникальна; менять StockLevel разрешено только
// через InventoryLedger.
type Inventory struct {
	ID         int64
	ProductID  int64
	StoreID    int64
	StockLevel int32
}
