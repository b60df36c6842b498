package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"lumina/internal/domain"
)

const (
	stockKeyPrefix       = "stock:"
	reservedKeyPrefix    = "reserved:"
	reservationKeyPrefix = "resv:"
	reservationTTL       = 48 * time.Hour

	reservationSettled = "SETTLED"
)

// reserveScript проверяет все позиции и списывает их одним шагом.
// KEYS — ключи остатков, затем ключи удержаний, ARGV — количества.
// Возвращает 0 при успехе либо индекс (с 1) первой нехватки.
var reserveScript = redis.NewScript(`
local n = #ARGV
for i = 1, n do
	local current = tonumber(redis.call('GET', KEYS[i]) or '0')
	if current < tonumber(ARGV[i]) then
		return i
	end
end
for i = 1, n do
	redis.call('DECRBY', KEYS[i], ARGV[i])
	redis.call('INCRBY', KEYS[n+i], ARGV[i])
end
return 0
`)

// returnScript возвращает удержанные количества в доступный остаток.
// Порядок KEYS/ARGV тот же, что у reserveScript.
var returnScript = redis.NewScript(`
local n = #ARGV
for i = 1, n do
	redis.call('INCRBY', KEYS[i], ARGV[i])
	redis.call('DECRBY', KEYS[n+i], ARGV[i])
end
return 0
`)

// commitScript снимает удержания без возврата остатка: списание,
// сделанное при резерве, становится безвозвратным. KEYS — ключи удержаний.
var commitScript = redis.NewScript(`
for i = 1, #KEYS do
	redis.call('DECRBY', KEYS[i], ARGV[i])
end
return 0
`)

// setStockScript засеивает остаток с учётом активных удержаний:
// доступным становится total - reserved, а total ниже удержаний — отказ (-1)
var setStockScript = redis.NewScript(`
local reserved = tonumber(redis.call('GET', KEYS[2]) or '0')
local total = tonumber(ARGV[1])
if total < reserved then
	return -1
end
redis.call('SET', KEYS[1], total - reserved)
return 0
`)

// takeReservationScript атомарно забирает активную запись брони,
// помечая её завершённой (TTL добивает маркер позже)
var takeReservationScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw or raw == ARGV[1] then
	return ''
end
redis.call('SET', KEYS[1], ARGV[1], 'KEEPTTL')
return raw
`)

type storedReservation struct {
	OrderID string            `json:"order_id"`
	Lines   []domain.CartLine `json:"lines"`
}

// RedisLedger хранит доступный остаток в stock:{id} и активные удержания
// в reserved:{id}; бронь списывает остаток и наращивает удержание, release
// откатывает оба, commit снимает удержание, делая списание безвозвратным.
type RedisLedger struct {
	client *redis.Client
}

func NewRedisLedger(client *redis.Client) *RedisLedger {
	return &RedisLedger{client: client}
}

var _ Ledger = (*RedisLedger)(nil)

func (r *RedisLedger) SetStock(ctx context.Context, productID string, total int64) error {
	if total < 0 {
		return fmt.Errorf("negative stock for %s", productID)
	}
	keys := []string{stockKeyPrefix + productID, reservedKeyPrefix + productID}
	res, err := setStockScript.Run(ctx, r.client, keys, total).Int()
	if err != nil {
		return fmt.Errorf("set stock script: %w", err)
	}
	if res < 0 {
		return fmt.Errorf("stock %d below outstanding holds for %s: %w", total, productID, ErrStockBelowHolds)
	}
	return nil
}

func (r *RedisLedger) Available(ctx context.Context, productID string) (int64, error) {
	n, err := r.client.Get(ctx, stockKeyPrefix+productID).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}

// holdKeys builds stock keys followed by reserved keys, quantities aligned
// with the script argument order.
func holdKeys(lines []domain.CartLine) ([]string, []interface{}) {
	keys := make([]string, 0, 2*len(lines))
	args := make([]interface{}, len(lines))
	for i, ln := range lines {
		keys = append(keys, stockKeyPrefix+ln.ProductID)
		args[i] = ln.Quantity
	}
	for _, ln := range lines {
		keys = append(keys, reservedKeyPrefix+ln.ProductID)
	}
	return keys, args
}

func (r *RedisLedger) Reserve(ctx context.Context, orderID string, lines []domain.CartLine) (string, error) {
	if len(lines) == 0 {
		return "", fmt.Errorf("empty reservation for order %s", orderID)
	}
	for _, ln := range lines {
		if ln.Quantity <= 0 {
			return "", fmt.Errorf("invalid quantity %d for %s", ln.Quantity, ln.ProductID)
		}
	}
	keys, args := holdKeys(lines)

	short, err := reserveScript.Run(ctx, r.client, keys, args...).Int()
	if err != nil {
		return "", fmt.Errorf("reserve script: %w", err)
	}
	if short != 0 {
		ln := lines[short-1]
		avail, _ := r.Available(ctx, ln.ProductID)
		return "", &InsufficientStockError{Items: []ShortItem{
			{ProductID: ln.ProductID, Requested: ln.Quantity, Available: avail},
		}}
	}

	resID := uuid.NewString()
	raw, err := json.Marshal(storedReservation{OrderID: orderID, Lines: lines})
	if err != nil {
		return "", err
	}
	if err := r.client.Set(ctx, reservationKeyPrefix+resID, raw, reservationTTL).Err(); err != nil {
		// put the hold back, the reservation was never recorded
		_ = returnScript.Run(ctx, r.client, keys, args...).Err()
		return "", err
	}
	return resID, nil
}

func (r *RedisLedger) Commit(ctx context.Context, reservationID string) error {
	raw, err := takeReservationScript.Run(ctx, r.client,
		[]string{reservationKeyPrefix + reservationID}, reservationSettled).Text()
	if err != nil {
		return fmt.Errorf("commit script: %w", err)
	}
	if raw == "" {
		return ErrUnknownReservation
	}
	var res storedReservation
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return fmt.Errorf("decode reservation: %w", err)
	}
	keys := make([]string, len(res.Lines))
	args := make([]interface{}, len(res.Lines))
	for i, ln := range res.Lines {
		keys[i] = reservedKeyPrefix + ln.ProductID
		args[i] = ln.Quantity
	}
	// stock was already decremented at reserve time; dropping the hold
	// makes the decrement permanent
	return commitScript.Run(ctx, r.client, keys, args...).Err()
}

func (r *RedisLedger) Release(ctx context.Context, reservationID string) error {
	raw, err := takeReservationScript.Run(ctx, r.client,
		[]string{reservationKeyPrefix + reservationID}, reservationSettled).Text()
	if err != nil {
		return fmt.Errorf("release script: %w", err)
	}
	if raw == "" {
		// unknown, already released or already committed; release is a no-op
		return nil
	}
	var res storedReservation
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return fmt.Errorf("decode reservation: %w", err)
	}
	keys, args := holdKeys(res.Lines)
	return returnScript.Run(ctx, r.client, keys, args...).Err()
}
