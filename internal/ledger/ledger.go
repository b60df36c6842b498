package ledger

import (
	"context"
	"errors"
	"fmt"

	"lumina/internal/domain"
)

var (
	// ErrInsufficientStock авторитетный отказ: запрошенное количество
	// превышает доступный остаток хотя бы по одному товару
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrUnknownReservation возвращается при commit брони, которой нет или
	// которая уже завершена
	ErrUnknownReservation = errors.New("unknown reservation")

	// ErrStockBelowHolds попытка засеять общий остаток ниже уже удержанного
	ErrStockBelowHolds = errors.New("stock below outstanding holds")
)

// ShortItem описывает товар, по которому не хватило остатка
type ShortItem struct {
	ProductID string `json:"product_id"`
	Requested int64  `json:"requested"`
	Available int64  `json:"available"`
}

// InsufficientStockError carries per-product shortage details and unwraps
// to ErrInsufficientStock.
type InsufficientStockError struct {
	Items []ShortItem
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %d product(s)", len(e.Items))
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// Ledger интерфейс инвентарного леджера — единственный источник правды о
// доступности товара. Reserve атомарен (всё или ничего), Release идемпотентен.
type Ledger interface {
	// SetStock засеивает общий остаток товара (вызывается каталогом)
	SetStock(ctx context.Context, productID string, total int64) error

	// Available возвращает остаток за вычетом активных броней и фиксаций
	Available(ctx context.Context, productID string) (int64, error)

	// Reserve ставит бронь по всем позициям сразу или не меняет ничего
	Reserve(ctx context.Context, orderID string, lines []domain.CartLine) (string, error)

	// Commit превращает бронь в безвозвратное списание
	Commit(ctx context.Context, reservationID string) error

	// Release возвращает бронь в доступный остаток; release неизвестной,
	// уже снятой или уже зафиксированной брони — no-op
	Release(ctx context.Context, reservationID string) error
}
