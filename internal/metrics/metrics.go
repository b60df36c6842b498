package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CheckoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lumina_checkouts_total",
		Help: "Orders created at checkout.",
	})

	ReservationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lumina_reservations_total",
		Help: "Reservation attempts by outcome.",
	}, []string{"result"}) // reserved | rejected

	PaymentsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lumina_payments_total",
		Help: "Confirmed payments.",
	})

	OrdersFulfilledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lumina_orders_fulfilled_total",
		Help: "Orders that reached Fulfilled.",
	})

	OrdersCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lumina_orders_cancelled_total",
		Help: "Orders cancelled by owner or admin.",
	})

	ReservationsExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lumina_reservations_expired_total",
		Help: "Reservations expired by the background sweep.",
	})
)
