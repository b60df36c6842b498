package domain

// OrderStatus тип статуса заказа
type OrderStatus string

const (
	StatusPending            OrderStatus = "Pending"
	StatusReserved           OrderStatus = "Reserved"
	StatusPaid               OrderStatus = "Paid"
	StatusFulfilled          OrderStatus = "Fulfilled"
	StatusCancelled          OrderStatus = "Cancelled"
	StatusReservationExpired OrderStatus = "ReservationExpired"
)

var validNext = map[OrderStatus]map[OrderStatus]bool{
	StatusPending:            {StatusReserved: true, StatusCancelled: true},
	StatusReserved:           {StatusPaid: true, StatusCancelled: true, StatusReservationExpired: true},
	StatusPaid:               {StatusFulfilled: true, StatusCancelled: true},
	StatusFulfilled:          {},
	StatusCancelled:          {},
	StatusReservationExpired: {},
}

// CanTransition reports whether from → to is a legal lifecycle step.
func CanTransition(from, to OrderStatus) bool {
	return validNext[from][to]
}

// Terminal reports whether no further transitions are possible.
func (s OrderStatus) Terminal() bool {
	return len(validNext[s]) == 0
}
