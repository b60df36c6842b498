package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"lumina/internal/domain"
	"lumina/internal/ledger"
	"lumina/internal/repository"
)

// capturePublisher собирает типы опубликованных событий
type capturePublisher struct {
	mu    sync.Mutex
	types []string
}

func (p *capturePublisher) Publish(eventType, orderID string, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.types = append(p.types, eventType)
}

func (p *capturePublisher) has(eventType string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.types {
		if t == eventType {
			return true
		}
	}
	return false
}

func setup(t *testing.T) (*ProductService, *OrderService, *ledger.MemoryLedger, *capturePublisher) {
	t.Helper()
	store := repository.NewMemoryStore()
	ordersRepo := repository.NewMemoryOrders(store)
	led := ledger.NewMemoryLedger()
	pub := &capturePublisher{}
	ps := NewProductService(store, led)
	os := NewOrderService(store, ordersRepo, led, pub, 15*time.Minute)
	return ps, os, led, pub
}

func mustProduct(t *testing.T, ps *ProductService, name, sku string, price, stock int64) *domain.Product {
	t.Helper()
	p, err := ps.Create(context.Background(), domain.Product{Name: name, SKU: sku, PriceCents: price, Stock: stock})
	if err != nil {
		t.Fatalf("create product %s: %v", sku, err)
	}
	return p
}

func TestLifecycleHappyPath(t *testing.T) {
	ctx := context.Background()
	ps, os, led, pub := setup(t)
	p := mustProduct(t, ps, "Lamp", "SKU1", 2500, 5)

	o, err := os.Checkout(ctx, "u1", []domain.CartLine{{ProductID: p.ID, Quantity: 2}})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if o.Status != domain.StatusPending {
		t.Fatalf("expected Pending, got %s", o.Status)
	}
	if o.TotalCents() != 5000 {
		t.Fatalf("total = %d", o.TotalCents())
	}

	o, err = os.Reserve(ctx, o.ID)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if o.Status != domain.StatusReserved || o.ReservationID == "" {
		t.Fatalf("bad reserved order: %+v", o)
	}
	if avail, _ := led.Available(ctx, p.ID); avail != 3 {
		t.Fatalf("available = %d, want 3", avail)
	}

	o, err = os.ConfirmPayment(ctx, o.ID, "pay-1", 5000)
	if err != nil {
		t.Fatalf("confirm payment: %v", err)
	}
	if o.Status != domain.StatusPaid || o.PaymentRef != "pay-1" {
		t.Fatalf("bad paid order: %+v", o)
	}

	o, err = os.Fulfill(ctx, o.ID)
	if err != nil {
		t.Fatalf("fulfill: %v", err)
	}
	if o.Status != domain.StatusFulfilled {
		t.Fatalf("expected Fulfilled, got %s", o.Status)
	}

	// hold committed: nothing reserved anymore, stock permanently down
	snap := led.Snapshot(p.ID)
	if snap.Reserved != 0 || snap.Committed != 2 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if avail, _ := led.Available(ctx, p.ID); avail != 3 {
		t.Fatalf("available after fulfill = %d", avail)
	}

	for _, ev := range []string{"OrderCreated", "StockReserved", "PaymentAuthorized", "OrderFinalized"} {
		if !pub.has(ev) {
			t.Errorf("missing event %s", ev)
		}
	}
}

func TestReserveInsufficientKeepsPending(t *testing.T) {
	ctx := context.Background()
	ps, os, led, pub := setup(t)
	p := mustProduct(t, ps, "Lamp", "SKU1", 1000, 1)

	o, err := os.Checkout(ctx, "u1", []domain.CartLine{{ProductID: p.ID, Quantity: 3}})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}

	_, err = os.Reserve(ctx, o.ID)
	if !errors.Is(err, ledger.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	var short *ledger.InsufficientStockError
	if !errors.As(err, &short) || len(short.Items) != 1 || short.Items[0].Available != 1 {
		t.Fatalf("bad short detail: %v", err)
	}

	// order stays Pending, nothing held
	o2, _ := os.Get(ctx, o.ID, "u1", false)
	if o2.Status != domain.StatusPending {
		t.Fatalf("expected Pending, got %s", o2.Status)
	}
	if avail, _ := led.Available(ctx, p.ID); avail != 1 {
		t.Fatalf("available = %d", avail)
	}
	if !pub.has("StockRejected") {
		t.Errorf("missing StockRejected event")
	}
}

func TestConfirmPaymentMismatch(t *testing.T) {
	ctx := context.Background()
	ps, os, _, _ := setup(t)
	p := mustProduct(t, ps, "Lamp", "SKU1", 1000, 5)

	o, _ := os.Checkout(ctx, "u1", []domain.CartLine{{ProductID: p.ID, Quantity: 2}})
	if _, err := os.Reserve(ctx, o.ID); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	if _, err := os.ConfirmPayment(ctx, o.ID, "pay-1", 1999); !errors.Is(err, ErrPaymentMismatch) {
		t.Fatalf("expected payment mismatch, got %v", err)
	}
	// still Reserved and payable
	if _, err := os.ConfirmPayment(ctx, o.ID, "pay-1", 2000); err != nil {
		t.Fatalf("retry payment: %v", err)
	}
}

func TestConfirmPaymentDuplicateIsNoop(t *testing.T) {
	ctx := context.Background()
	ps, os, _, _ := setup(t)
	p := mustProduct(t, ps, "Lamp", "SKU1", 1000, 5)

	o, _ := os.Checkout(ctx, "u1", []domain.CartLine{{ProductID: p.ID, Quantity: 1}})
	if _, err := os.Reserve(ctx, o.ID); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := os.ConfirmPayment(ctx, o.ID, "pay-1", 1000); err != nil {
		t.Fatalf("payment: %v", err)
	}
	// webhook redelivery
	o2, err := os.ConfirmPayment(ctx, o.ID, "pay-1", 1000)
	if err != nil {
		t.Fatalf("duplicate payment: %v", err)
	}
	if o2.Status != domain.StatusPaid || o2.PaymentRef != "pay-1" {
		t.Fatalf("bad order after duplicate: %+v", o2)
	}
}

func TestCancelRestoresStock(t *testing.T) {
	ctx := context.Background()
	ps, os, led, _ := setup(t)
	p := mustProduct(t, ps, "Lamp", "SKU1", 1000, 5)

	o, _ := os.Checkout(ctx, "u1", []domain.CartLine{{ProductID: p.ID, Quantity: 4}})
	if _, err := os.Reserve(ctx, o.ID); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if avail, _ := led.Available(ctx, p.ID); avail != 1 {
		t.Fatalf("available = %d", avail)
	}

	o2, err := os.Cancel(ctx, o.ID, "u1", false)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if o2.Status != domain.StatusCancelled {
		t.Fatalf("expected Cancelled, got %s", o2.Status)
	}
	if avail, _ := led.Available(ctx, p.ID); avail != 5 {
		t.Fatalf("available after cancel = %d", avail)
	}

	// cancel of a terminal order is rejected
	if _, err := os.Cancel(ctx, o.ID, "u1", false); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestCancelForbiddenForStranger(t *testing.T) {
	ctx := context.Background()
	ps, os, _, _ := setup(t)
	p := mustProduct(t, ps, "Lamp", "SKU1", 1000, 5)

	o, _ := os.Checkout(ctx, "u1", []domain.CartLine{{ProductID: p.ID, Quantity: 1}})

	if _, err := os.Cancel(ctx, o.ID, "u2", false); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	// admin may cancel anyone's order
	if _, err := os.Cancel(ctx, o.ID, "admin", true); err != nil {
		t.Fatalf("admin cancel: %v", err)
	}
}

func TestInvalidTransitions(t *testing.T) {
	ctx := context.Background()
	ps, os, _, _ := setup(t)
	p := mustProduct(t, ps, "Lamp", "SKU1", 1000, 5)

	o, _ := os.Checkout(ctx, "u1", []domain.CartLine{{ProductID: p.ID, Quantity: 1}})

	// payment and fulfillment require the earlier states
	if _, err := os.ConfirmPayment(ctx, o.ID, "pay-1", 1000); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("pay Pending: %v", err)
	}
	if _, err := os.Fulfill(ctx, o.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("fulfill Pending: %v", err)
	}
	if _, err := os.Reserve(ctx, o.ID); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := os.Reserve(ctx, o.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("double reserve: %v", err)
	}
	if _, err := os.Fulfill(ctx, o.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("fulfill Reserved: %v", err)
	}
}

func TestSnapshotPricesImmutable(t *testing.T) {
	ctx := context.Background()
	ps, os, _, _ := setup(t)
	p := mustProduct(t, ps, "Lamp", "SKU1", 1000, 5)

	o, _ := os.Checkout(ctx, "u1", []domain.CartLine{{ProductID: p.ID, Quantity: 2}})

	// price change after checkout must not affect the order
	p.PriceCents = 9999
	if _, err := ps.Update(ctx, *p); err != nil {
		t.Fatalf("update product: %v", err)
	}

	o2, _ := os.Get(ctx, o.ID, "u1", false)
	if o2.TotalCents() != 2000 {
		t.Fatalf("total changed: %d", o2.TotalCents())
	}
	if _, err := os.Reserve(ctx, o.ID); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := os.ConfirmPayment(ctx, o.ID, "pay-1", 2000); err != nil {
		t.Fatalf("payment at snapshot price: %v", err)
	}
}

func TestLastUnitSingleWinner(t *testing.T) {
	ctx := context.Background()
	ps, os, led, _ := setup(t)
	p := mustProduct(t, ps, "Lamp", "SKU1", 1000, 1)

	o1, _ := os.Checkout(ctx, "u1", []domain.CartLine{{ProductID: p.ID, Quantity: 1}})
	o2, _ := os.Checkout(ctx, "u2", []domain.CartLine{{ProductID: p.ID, Quantity: 1}})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []string{o1.ID, o2.ID} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = os.Reserve(ctx, id)
		}(i, id)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
		} else if !errors.Is(err, ledger.ErrInsufficientStock) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 {
		t.Fatalf("winners = %d, want 1", ok)
	}
	if avail, _ := led.Available(ctx, p.ID); avail != 0 {
		t.Fatalf("available = %d", avail)
	}
}

func TestExpireStale(t *testing.T) {
	ctx := context.Background()
	ps, os, led, pub := setup(t)
	p := mustProduct(t, ps, "Lamp", "SKU1", 1000, 5)

	base := time.Now().UTC()
	os.now = func() time.Time { return base }

	reserved, _ := os.Checkout(ctx, "u1", []domain.CartLine{{ProductID: p.ID, Quantity: 2}})
	if _, err := os.Reserve(ctx, reserved.ID); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	paid, _ := os.Checkout(ctx, "u2", []domain.CartLine{{ProductID: p.ID, Quantity: 1}})
	if _, err := os.Reserve(ctx, paid.ID); err != nil {
		t.Fatalf("reserve paid: %v", err)
	}
	if _, err := os.ConfirmPayment(ctx, paid.ID, "pay-1", 1000); err != nil {
		t.Fatalf("payment: %v", err)
	}

	// not yet stale
	n, err := os.ExpireStale(ctx)
	if err != nil || n != 0 {
		t.Fatalf("early sweep: n=%d err=%v", n, err)
	}

	os.now = func() time.Time { return base.Add(16 * time.Minute) }
	n, err = os.ExpireStale(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expired = %d, want 1", n)
	}

	got, _ := os.Get(ctx, reserved.ID, "u1", false)
	if got.Status != domain.StatusReservationExpired {
		t.Fatalf("expected ReservationExpired, got %s", got.Status)
	}
	// paid order untouched, its hold still live
	gotPaid, _ := os.Get(ctx, paid.ID, "u2", false)
	if gotPaid.Status != domain.StatusPaid {
		t.Fatalf("paid order became %s", gotPaid.Status)
	}
	if avail, _ := led.Available(ctx, p.ID); avail != 4 {
		t.Fatalf("available = %d, want 4", avail)
	}
	if !pub.has("ReservationExpired") {
		t.Errorf("missing ReservationExpired event")
	}
}

func TestCheckoutValidation(t *testing.T) {
	ctx := context.Background()
	ps, os, _, _ := setup(t)
	p := mustProduct(t, ps, "Lamp", "SKU1", 1000, 5)

	if _, err := os.Checkout(ctx, "u1", nil); !errors.Is(err, ErrEmptyCart) {
		t.Fatalf("empty cart: %v", err)
	}
	if _, err := os.Checkout(ctx, "", []domain.CartLine{{ProductID: p.ID, Quantity: 1}}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("missing user: %v", err)
	}
	if _, err := os.Checkout(ctx, "u1", []domain.CartLine{{ProductID: "nope", Quantity: 1}}); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("unknown product: %v", err)
	}
}
