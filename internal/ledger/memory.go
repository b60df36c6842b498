package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"lumina/internal/domain"
)

const (
	reservationActive    = "ACTIVE"
	reservationCommitted = "COMMITTED"
	reservationReleased  = "RELEASED"
)

// productEntry счётчики одного товара; mu сериализует все изменения по товару
type productEntry struct {
	mu        sync.Mutex
	total     int64
	reserved  int64
	committed int64
}

func (e *productEntry) available() int64 { return e.total - e.reserved - e.committed }

type reservation struct {
	orderID string
	lines   []domain.CartLine
	status  string
}

// MemoryLedger in-memory леджер. Contention is scoped to a single product:
// the maps mutex only guards lookups, never stock arithmetic.
type MemoryLedger struct {
	mu           sync.RWMutex
	products     map[string]*productEntry
	reservations map[string]*reservation
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		products:     make(map[string]*productEntry),
		reservations: make(map[string]*reservation),
	}
}

var _ Ledger = (*MemoryLedger)(nil)

func (l *MemoryLedger) entryFor(productID string) *productEntry {
	l.mu.RLock()
	e, ok := l.products[productID]
	l.mu.RUnlock()
	if ok {
		return e
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok = l.products[productID]; ok {
		return e
	}
	e = &productEntry{}
	l.products[productID] = e
	return e
}

func (l *MemoryLedger) SetStock(ctx context.Context, productID string, total int64) error {
	if total < 0 {
		return fmt.Errorf("negative stock for %s", productID)
	}
	e := l.entryFor(productID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if total < e.reserved+e.committed {
		return fmt.Errorf("stock %d below outstanding holds %d for %s: %w", total, e.reserved+e.committed, productID, ErrStockBelowHolds)
	}
	e.total = total
	return nil
}

func (l *MemoryLedger) Available(ctx context.Context, productID string) (int64, error) {
	l.mu.RLock()
	e, ok := l.products[productID]
	l.mu.RUnlock()
	if !ok {
		return 0, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.available(), nil
}

// Reserve locks the affected products in sorted order (deadlock-free with
// concurrent multi-product reserves), checks every line, then applies all
// holds. Any shortage leaves every counter untouched.
func (l *MemoryLedger) Reserve(ctx context.Context, orderID string, lines []domain.CartLine) (string, error) {
	if len(lines) == 0 {
		return "", fmt.Errorf("empty reservation for order %s", orderID)
	}
	sorted := append([]domain.CartLine(nil), lines...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ProductID < sorted[j].ProductID })

	entries := make([]*productEntry, len(sorted))
	for i, ln := range sorted {
		if ln.Quantity <= 0 {
			return "", fmt.Errorf("invalid quantity %d for %s", ln.Quantity, ln.ProductID)
		}
		if i > 0 && sorted[i-1].ProductID == ln.ProductID {
			return "", fmt.Errorf("duplicate line for %s", ln.ProductID)
		}
		entries[i] = l.entryFor(ln.ProductID)
	}

	for _, e := range entries {
		e.mu.Lock()
	}
	defer func() {
		for _, e := range entries {
			e.mu.Unlock()
		}
	}()

	var shorts []ShortItem
	for i, ln := range sorted {
		if avail := entries[i].available(); avail < ln.Quantity {
			shorts = append(shorts, ShortItem{ProductID: ln.ProductID, Requested: ln.Quantity, Available: avail})
		}
	}
	if len(shorts) > 0 {
		return "", &InsufficientStockError{Items: shorts}
	}

	for i, ln := range sorted {
		entries[i].reserved += ln.Quantity
	}

	resID := uuid.NewString()
	l.mu.Lock()
	l.reservations[resID] = &reservation{orderID: orderID, lines: sorted, status: reservationActive}
	l.mu.Unlock()
	return resID, nil
}

func (l *MemoryLedger) Commit(ctx context.Context, reservationID string) error {
	res, err := l.take(reservationID, reservationCommitted)
	if err != nil {
		return err
	}
	for _, ln := range res.lines {
		e := l.entryFor(ln.ProductID)
		e.mu.Lock()
		e.reserved -= ln.Quantity
		e.committed += ln.Quantity
		e.mu.Unlock()
	}
	return nil
}

func (l *MemoryLedger) Release(ctx context.Context, reservationID string) error {
	res, err := l.take(reservationID, reservationReleased)
	if err != nil {
		return err
	}
	if res == nil {
		// double release tolerated: at-least-once cancel/expiry signals
		return nil
	}
	for _, ln := range res.lines {
		e := l.entryFor(ln.ProductID)
		e.mu.Lock()
		e.reserved -= ln.Quantity
		e.mu.Unlock()
	}
	return nil
}

// take flips an active reservation into the given terminal status. For a
// release, any missing or already-settled reservation yields (nil, nil).
func (l *MemoryLedger) take(reservationID, to string) (*reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	res, ok := l.reservations[reservationID]
	if to == reservationReleased {
		if !ok || res.status != reservationActive {
			return nil, nil
		}
	} else {
		if !ok || res.status != reservationActive {
			return nil, ErrUnknownReservation
		}
	}
	res.status = to
	return res, nil
}

// StockSnapshot текущие счётчики товара (для инвариантных проверок)
type StockSnapshot struct {
	Total     int64
	Reserved  int64
	Committed int64
}

func (l *MemoryLedger) Snapshot(productID string) StockSnapshot {
	l.mu.RLock()
	e, ok := l.products[productID]
	l.mu.RUnlock()
	if !ok {
		return StockSnapshot{}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return StockSnapshot{Total: e.total, Reserved: e.reserved, Committed: e.committed}
}
