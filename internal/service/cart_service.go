package service

import (
	"context"
	"errors"
	"sync"

	"lumina/internal/domain"
	"lumina/internal/ledger"
	"lumina/internal/repository"
)

// ErrOutOfStock консультативный отказ корзины (не бронь)
var ErrOutOfStock = errors.New("out of stock")

// cart хранит позиции в порядке добавления
type cart struct {
	mu    sync.Mutex
	order []string
	qty   map[string]int64
}

func newCart() *cart {
	return &cart{qty: make(map[string]int64)}
}

// CartService владеет корзинами пользователей. Проверка остатка здесь
// консультативная: единственный авторитетный источник — бронь в леджере.
type CartService struct {
	mu      sync.Mutex
	carts   map[string]*cart
	catalog repository.ProductRepository
	ledger  ledger.Ledger
}

func NewCartService(catalog repository.ProductRepository, led ledger.Ledger) *CartService {
	return &CartService{
		carts:   make(map[string]*cart),
		catalog: catalog,
		ledger:  led,
	}
}

func (s *CartService) cartFor(userID string) *cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.carts[userID]
	if !ok {
		c = newCart()
		s.carts[userID] = c
	}
	return c
}

// AddLine добавляет количество к позиции (существующая позиция растёт)
func (s *CartService) AddLine(ctx context.Context, userID, productID string, qty int64) error {
	if userID == "" || productID == "" || qty <= 0 {
		return ErrInvalidInput
	}
	if _, err := s.catalog.GetByID(ctx, productID); err != nil {
		return err
	}

	c := s.cartFor(userID)
	c.mu.Lock()
	defer c.mu.Unlock()

	want := c.qty[productID] + qty
	avail, err := s.ledger.Available(ctx, productID)
	if err != nil {
		return err
	}
	if want > avail {
		return ErrOutOfStock
	}
	if _, ok := c.qty[productID]; !ok {
		c.order = append(c.order, productID)
	}
	c.qty[productID] = want
	return nil
}

// SetQuantity устанавливает количество; ноль эквивалентен удалению позиции
func (s *CartService) SetQuantity(ctx context.Context, userID, productID string, qty int64) error {
	if userID == "" || productID == "" || qty < 0 {
		return ErrInvalidInput
	}
	if qty == 0 {
		return s.RemoveLine(ctx, userID, productID)
	}
	if _, err := s.catalog.GetByID(ctx, productID); err != nil {
		return err
	}

	c := s.cartFor(userID)
	c.mu.Lock()
	defer c.mu.Unlock()

	avail, err := s.ledger.Available(ctx, productID)
	if err != nil {
		return err
	}
	if qty > avail {
		return ErrOutOfStock
	}
	if _, ok := c.qty[productID]; !ok {
		c.order = append(c.order, productID)
	}
	c.qty[productID] = qty
	return nil
}

func (s *CartService) RemoveLine(ctx context.Context, userID, productID string) error {
	if userID == "" || productID == "" {
		return ErrInvalidInput
	}
	c := s.cartFor(userID)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.qty[productID]; !ok {
		return repository.ErrNotFound
	}
	delete(c.qty, productID)
	for i, id := range c.order {
		if id == productID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *CartService) Clear(ctx context.Context, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.carts, userID)
}

// Snapshot возвращает независимую копию: дальнейшие правки корзины на
// снятый снапшот не влияют
func (s *CartService) Snapshot(ctx context.Context, userID string) []domain.CartLine {
	c := s.cartFor(userID)
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.CartLine, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, domain.CartLine{ProductID: id, Quantity: c.qty[id]})
	}
	return out
}
