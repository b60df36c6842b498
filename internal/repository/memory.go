package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"lumina/internal/domain"
)

// MemoryStore объединённое in-memory хранилище товаров и заказов
type MemoryStore struct {
	mu           sync.RWMutex
	productsByID map[string]domain.Product
	ordersByID   map[string]domain.Order
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		productsByID: make(map[string]domain.Product),
		ordersByID:   make(map[string]domain.Order),
	}
}

// Ensure interfaces
var (
	_ ProductRepository = (*MemoryStore)(nil)
	_ OrderRepository   = (*MemoryOrders)(nil)
)

// ProductRepository implementation
func (m *MemoryStore) Create(ctx context.Context, p *domain.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	m.productsByID[p.ID] = *p
	return nil
}

func (m *MemoryStore) GetByID(ctx context.Context, id string) (*domain.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.productsByID[id]
	if !ok {
		return nil, ErrNotFound
	}
	// return copy
	cp := p
	return &cp, nil
}

func (m *MemoryStore) Update(ctx context.Context, p *domain.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.productsByID[p.ID]
	if !ok {
		return ErrNotFound
	}
	p.CreatedAt = old.CreatedAt
	p.UpdatedAt = time.Now().UTC()
	m.productsByID[p.ID] = *p
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.productsByID[id]; !ok {
		return ErrNotFound
	}
	delete(m.productsByID, id)
	return nil
}

func (m *MemoryStore) List(ctx context.Context, f ProductFilter) ([]domain.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Product, 0)
	for _, p := range m.productsByID {
		if !containsIgnoreCase(p.Name, f.NameSubstring) {
			continue
		}
		if f.MinPriceCents != nil && p.PriceCents < *f.MinPriceCents {
			continue
		}
		if f.MaxPriceCents != nil && p.PriceCents > *f.MaxPriceCents {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return out, nil
}

// MemoryOrders репозиторий заказов поверх общего хранилища
type MemoryOrders struct{ store *MemoryStore }

func NewMemoryOrders(store *MemoryStore) *MemoryOrders { return &MemoryOrders{store: store} }

func (mo *MemoryOrders) Create(ctx context.Context, o *domain.Order) error {
	mo.store.mu.Lock()
	defer mo.store.mu.Unlock()
	o.CreatedAt = time.Now().UTC()
	o.UpdatedAt = o.CreatedAt
	mo.store.ordersByID[o.ID] = *cloneOrder(o)
	return nil
}

func (mo *MemoryOrders) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	mo.store.mu.RLock()
	defer mo.store.mu.RUnlock()
	o, ok := mo.store.ordersByID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneOrder(&o), nil
}

func (mo *MemoryOrders) Update(ctx context.Context, o *domain.Order) error {
	mo.store.mu.Lock()
	defer mo.store.mu.Unlock()
	if _, ok := mo.store.ordersByID[o.ID]; !ok {
		return ErrNotFound
	}
	o.UpdatedAt = time.Now().UTC()
	mo.store.ordersByID[o.ID] = *cloneOrder(o)
	return nil
}

func (mo *MemoryOrders) ListByUser(ctx context.Context, userID string) ([]domain.Order, error) {
	mo.store.mu.RLock()
	defer mo.store.mu.RUnlock()
	out := make([]domain.Order, 0)
	for _, o := range mo.store.ordersByID {
		if o.UserID == userID {
			out = append(out, *cloneOrder(&o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (mo *MemoryOrders) ListByStatus(ctx context.Context, status domain.OrderStatus) ([]domain.Order, error) {
	mo.store.mu.RLock()
	defer mo.store.mu.RUnlock()
	out := make([]domain.Order, 0)
	for _, o := range mo.store.ordersByID {
		if o.Status == status {
			out = append(out, *cloneOrder(&o))
		}
	}
	return out, nil
}

// cloneOrder deep-copies lines so snapshots held by callers stay immutable.
func cloneOrder(o *domain.Order) *domain.Order {
	cp := *o
	cp.Lines = append([]domain.OrderLine(nil), o.Lines...)
	return &cp
}
