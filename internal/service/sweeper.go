package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Sweeper периодически снимает просроченные брони
type Sweeper struct {
	orders   *OrderService
	interval time.Duration
}

func NewSweeper(orders *OrderService, interval time.Duration) *Sweeper {
	return &Sweeper{orders: orders, interval: interval}
}

// Run блокируется до отмены контекста
func (s *Sweeper) Run(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := s.orders.ExpireStale(ctx)
			if err != nil {
				log.Error().Err(err).Msg("expiry sweep")
				continue
			}
			if n > 0 {
				log.Info().Int("expired", n).Msg("expiry sweep")
			}
		}
	}
}
