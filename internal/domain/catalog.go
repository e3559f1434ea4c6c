package domain

// Customer — покупатель. Идентифицируется уникальным email;
// ядро размещения заказов его только читает.
type Customer struct {
	ID    int64
	Name  string
	Email string
}

// Store — магазин, в котором ведётся складской учёт.
type Store struct {
	ID       int64
	Name     string
	Location string
}

// Product — товар каталога. SKU уникален в пределах каталога.
type Product struct {
	ID int64
	// Name — человекочитаемое название товара.
	Name     string
	Category string
	// PriceMinor — цена за единицу в минимальных денежных единицах.
	PriceMinor int64
	SKU        string
}
