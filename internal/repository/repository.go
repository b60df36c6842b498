package repository

import (
	"context"
	"errors"
	"strings"

	"lumina/internal/domain"
)

// ErrNotFound возвращается, когда сущность не найдена
var ErrNotFound = errors.New("not found")

// ProductFilter параметры фильтрации списка товаров
type ProductFilter struct {
	NameSubstring string
	MinPriceCents *int64
	MaxPriceCents *int64
}

// ProductRepository интерфейс репозитория товаров
type ProductRepository interface {
	Create(ctx context.Context, p *domain.Product) error
	GetByID(ctx context.Context, id string) (*domain.Product, error)
	Update(ctx context.Context, p *domain.Product) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, f ProductFilter) ([]domain.Product, error)
}

// OrderRepository интерфейс репозитория заказов
type OrderRepository interface {
	Create(ctx context.Context, o *domain.Order) error
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	Update(ctx context.Context, o *domain.Order) error
	ListByUser(ctx context.Context, userID string) ([]domain.Order, error)
	ListByStatus(ctx context.Context, status domain.OrderStatus) ([]domain.Order, error)
}

// helper: case-insensitive contains
func containsIgnoreCase(s, substr string) bool {
	if substr == "" {
		return true
	}
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
