package domain

import "time"

// Product представляет товар каталога. Stock — общее количество, засеянное
// в инвентарный леджер; живая доступность считается на стороне леджера
// (total − reserved − committed).
type Product struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	SKU        string    `json:"sku"`
	Brand      string    `json:"brand,omitempty"`
	PriceCents int64     `json:"price_cents"`
	Rating     float64   `json:"rating,omitempty"`
	ImageURL   string    `json:"image_url,omitempty"`
	Stock      int64     `json:"stock"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// CartLine позиция в корзине, одна на товар
type CartLine struct {
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
}

// OrderLine is an immutable snapshot of a cart line taken at checkout.
// Price is copied, not referenced: later catalog changes never alter it.
type OrderLine struct {
	ProductID  string `json:"product_id"`
	Name       string `json:"name"`
	Quantity   int64  `json:"quantity"`
	PriceCents int64  `json:"price_cents"`
}

// Order сущность заказа. Lines never change after creation.
type Order struct {
	ID            string      `json:"id"`
	UserID        string      `json:"user_id"`
	Lines         []OrderLine `json:"lines"`
	Status        OrderStatus `json:"status"`
	ReservationID string      `json:"reservation_id,omitempty"`
	PaymentRef    string      `json:"payment_ref,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
	ReservedAt    *time.Time  `json:"reserved_at,omitempty"`
	PaidAt        *time.Time  `json:"paid_at,omitempty"`
	ClosedAt      *time.Time  `json:"closed_at,omitempty"`
}

// TotalCents сумма по снапшотам позиций
func (o *Order) TotalCents() int64 {
	var total int64
	for _, l := range o.Lines {
		total += l.PriceCents * l.Quantity
	}
	return total
}
