package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"lumina/internal/domain"
	"lumina/internal/events"
	"lumina/internal/ledger"
	"lumina/internal/metrics"
	"lumina/internal/repository"
)

var (
	ErrInvalidTransition = errors.New("invalid transition")
	ErrPaymentMismatch   = errors.New("payment amount mismatch")
	ErrForbidden         = errors.New("forbidden")
	ErrEmptyCart         = errors.New("empty cart")
)

// OrderService — машина состояний заказа. Все переходы одного заказа
// сериализуются per-order мьютексом; остатками владеет леджер.
type OrderService struct {
	catalog repository.ProductRepository
	orders  repository.OrderRepository
	ledger  ledger.Ledger
	events  events.Publisher

	reservationTTL time.Duration

	locks sync.Map // orderID -> *sync.Mutex
	now   func() time.Time
}

func NewOrderService(
	catalog repository.ProductRepository,
	orders repository.OrderRepository,
	led ledger.Ledger,
	pub events.Publisher,
	reservationTTL time.Duration,
) *OrderService {
	return &OrderService{
		catalog:        catalog,
		orders:         orders,
		ledger:         led,
		events:         pub,
		reservationTTL: reservationTTL,
		now:            time.Now,
	}
}

func (s *OrderService) lockOrder(orderID string) func() {
	v, _ := s.locks.LoadOrStore(orderID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Checkout создаёт Pending-заказ из снапшота корзины: имена и цены
// фиксируются на момент оформления.
func (s *OrderService) Checkout(ctx context.Context, userID string, lines []domain.CartLine) (*domain.Order, error) {
	if userID == "" {
		return nil, ErrInvalidInput
	}
	if len(lines) == 0 {
		return nil, ErrEmptyCart
	}

	snapshot := make([]domain.OrderLine, 0, len(lines))
	for _, l := range lines {
		if l.Quantity <= 0 {
			return nil, ErrInvalidInput
		}
		p, err := s.catalog.GetByID(ctx, l.ProductID)
		if err != nil {
			return nil, err
		}
		snapshot = append(snapshot, domain.OrderLine{
			ProductID:  p.ID,
			Name:       p.Name,
			Quantity:   l.Quantity,
			PriceCents: p.PriceCents,
		})
	}

	now := s.now().UTC()
	order := &domain.Order{
		ID:        uuid.NewString(),
		UserID:    userID,
		Lines:     snapshot,
		Status:    domain.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.orders.Create(ctx, order); err != nil {
		return nil, err
	}

	metrics.CheckoutsTotal.Inc()
	s.events.Publish(events.EventOrderCreated, order.ID, events.OrderCreatedPayload{
		OrderID:    order.ID,
		UserID:     order.UserID,
		Lines:      order.Lines,
		TotalCents: order.TotalCents(),
	})
	return order, nil
}

// Reserve пытается захватить остаток под Pending-заказ целиком. При
// нехватке заказ остаётся Pending и его можно повторить.
func (s *OrderService) Reserve(ctx context.Context, orderID string) (*domain.Order, error) {
	unlock := s.lockOrder(orderID)
	defer unlock()

	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != domain.StatusPending {
		return nil, ErrInvalidTransition
	}

	cartLines := make([]domain.CartLine, 0, len(order.Lines))
	for _, l := range order.Lines {
		cartLines = append(cartLines, domain.CartLine{ProductID: l.ProductID, Quantity: l.Quantity})
	}

	resvID, err := s.ledger.Reserve(ctx, order.ID, cartLines)
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientStock) {
			metrics.ReservationsTotal.WithLabelValues("rejected").Inc()
			var short *ledger.InsufficientStockError
			payload := events.StockRejectedPayload{OrderID: order.ID, Reason: "OUT_OF_STOCK"}
			if errors.As(err, &short) {
				payload.Details = short.Items
			}
			s.events.Publish(events.EventStockRejected, order.ID, payload)
		}
		return nil, err
	}

	now := s.now().UTC()
	order.Status = domain.StatusReserved
	order.ReservationID = resvID
	order.ReservedAt = &now
	order.UpdatedAt = now
	if err := s.orders.Update(ctx, order); err != nil {
		// undo the hold so stock is not stranded on a Pending order
		if rerr := s.ledger.Release(ctx, resvID); rerr != nil {
			log.Error().Err(rerr).Str("order_id", order.ID).Msg("release after failed update")
		}
		return nil, err
	}

	metrics.ReservationsTotal.WithLabelValues("reserved").Inc()
	s.events.Publish(events.EventStockReserved, order.ID, events.StockReservedPayload{
		OrderID:       order.ID,
		ReservationID: resvID,
	})
	return order, nil
}

// ConfirmPayment переводит Reserved → Paid. Повтор с тем же результатом
// (уже Paid) — no-op, чтобы вебхук платёжки можно было доставлять повторно.
func (s *OrderService) ConfirmPayment(ctx context.Context, orderID, paymentRef string, amountCents int64) (*domain.Order, error) {
	unlock := s.lockOrder(orderID)
	defer unlock()

	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status == domain.StatusPaid {
		return order, nil
	}
	if order.Status != domain.StatusReserved {
		return nil, ErrInvalidTransition
	}
	if amountCents != order.TotalCents() {
		return nil, ErrPaymentMismatch
	}

	now := s.now().UTC()
	order.Status = domain.StatusPaid
	order.PaymentRef = paymentRef
	order.PaidAt = &now
	order.UpdatedAt = now
	if err := s.orders.Update(ctx, order); err != nil {
		return nil, err
	}

	metrics.PaymentsTotal.Inc()
	s.events.Publish(events.EventPaymentAuthorized, order.ID, events.PaymentAuthorizedPayload{
		OrderID:     order.ID,
		PaymentRef:  paymentRef,
		AmountCents: amountCents,
	})
	return order, nil
}

// Fulfill закрывает Paid-заказ: бронь коммитится, остаток списывается
// окончательно.
func (s *OrderService) Fulfill(ctx context.Context, orderID string) (*domain.Order, error) {
	unlock := s.lockOrder(orderID)
	defer unlock()

	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != domain.StatusPaid {
		return nil, ErrInvalidTransition
	}

	if err := s.ledger.Commit(ctx, order.ReservationID); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	order.Status = domain.StatusFulfilled
	order.ClosedAt = &now
	order.UpdatedAt = now
	if err := s.orders.Update(ctx, order); err != nil {
		return nil, err
	}

	metrics.OrdersFulfilledTotal.Inc()
	s.events.Publish(events.EventOrderFinalized, order.ID, events.OrderFinalizedPayload{
		OrderID:     order.ID,
		FinalStatus: string(domain.StatusFulfilled),
	})
	return order, nil
}

// Cancel отменяет незакрытый заказ. Разрешено владельцу или админу;
// удержанный остаток возвращается.
func (s *OrderService) Cancel(ctx context.Context, orderID, userID string, admin bool) (*domain.Order, error) {
	unlock := s.lockOrder(orderID)
	defer unlock()

	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !admin && order.UserID != userID {
		return nil, ErrForbidden
	}
	if !domain.CanTransition(order.Status, domain.StatusCancelled) {
		return nil, ErrInvalidTransition
	}

	if order.ReservationID != "" {
		if err := s.ledger.Release(ctx, order.ReservationID); err != nil {
			return nil, err
		}
	}

	now := s.now().UTC()
	order.Status = domain.StatusCancelled
	order.ClosedAt = &now
	order.UpdatedAt = now
	if err := s.orders.Update(ctx, order); err != nil {
		return nil, err
	}

	metrics.OrdersCancelledTotal.Inc()
	s.events.Publish(events.EventOrderCancelled, order.ID, events.OrderFinalizedPayload{
		OrderID:     order.ID,
		FinalStatus: string(domain.StatusCancelled),
	})
	return order, nil
}

func (s *OrderService) Get(ctx context.Context, orderID, userID string, admin bool) (*domain.Order, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !admin && order.UserID != userID {
		return nil, ErrForbidden
	}
	return order, nil
}

func (s *OrderService) History(ctx context.Context, userID string) ([]domain.Order, error) {
	if userID == "" {
		return nil, ErrInvalidInput
	}
	return s.orders.ListByUser(ctx, userID)
}

// ExpireStale находит Reserved-заказы старше TTL и переводит их в
// ReservationExpired, возвращая остаток. Статус перепроверяется под
// per-order локом: заказ, успевший оплатиться, не трогаем.
func (s *OrderService) ExpireStale(ctx context.Context) (int, error) {
	stale, err := s.orders.ListByStatus(ctx, domain.StatusReserved)
	if err != nil {
		return 0, err
	}
	cutoff := s.now().UTC().Add(-s.reservationTTL)

	expired := 0
	for i := range stale {
		candidate := stale[i]
		if candidate.ReservedAt == nil || candidate.ReservedAt.After(cutoff) {
			continue
		}
		done, err := s.expireOne(ctx, candidate.ID)
		if err != nil {
			log.Error().Err(err).Str("order_id", candidate.ID).Msg("expire reservation")
			continue
		}
		if done {
			expired++
		}
	}
	return expired, nil
}

func (s *OrderService) expireOne(ctx context.Context, orderID string) (bool, error) {
	unlock := s.lockOrder(orderID)
	defer unlock()

	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return false, err
	}
	// re-check: the order may have been paid or cancelled since the scan
	if order.Status != domain.StatusReserved {
		return false, nil
	}
	if order.ReservedAt == nil || order.ReservedAt.After(s.now().UTC().Add(-s.reservationTTL)) {
		return false, nil
	}

	if err := s.ledger.Release(ctx, order.ReservationID); err != nil {
		return false, err
	}

	now := s.now().UTC()
	order.Status = domain.StatusReservationExpired
	order.ClosedAt = &now
	order.UpdatedAt = now
	if err := s.orders.Update(ctx, order); err != nil {
		return false, err
	}

	metrics.ReservationsExpiredTotal.Inc()
	s.events.Publish(events.EventReservationExpired, order.ID, events.OrderFinalizedPayload{
		OrderID:     order.ID,
		FinalStatus: string(domain.StatusReservationExpired),
	})
	return true, nil
}
