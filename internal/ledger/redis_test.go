package ledger

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/redis/go-redis/v9"

	"lumina/internal/domain"
)

func getRedisClient(t *testing.T) *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	return client
}

func TestRedisReserve_Success(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	l := NewRedisLedger(client)

	client.Del(ctx, "stock:test-item", "reserved:test-item")
	l.SetStock(ctx, "test-item", 10)

	resID, err := l.Reserve(ctx, "o1", []domain.CartLine{{ProductID: "test-item", Quantity: 3}})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if avail, _ := l.Available(ctx, "test-item"); avail != 7 {
		t.Errorf("expected available 7, got %d", avail)
	}

	if err := l.Commit(ctx, resID); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := l.Commit(ctx, resID); !errors.Is(err, ErrUnknownReservation) {
		t.Errorf("expected ErrUnknownReservation on double commit, got %v", err)
	}
}

func TestRedisReserve_AllOrNothing(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	l := NewRedisLedger(client)

	client.Del(ctx, "stock:item-a", "stock:item-b", "reserved:item-a", "reserved:item-b")
	l.SetStock(ctx, "item-a", 10)
	l.SetStock(ctx, "item-b", 1)

	_, err := l.Reserve(ctx, "o1", []domain.CartLine{
		{ProductID: "item-a", Quantity: 2},
		{ProductID: "item-b", Quantity: 5},
	})
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	// nothing decremented
	if avail, _ := l.Available(ctx, "item-a"); avail != 10 {
		t.Errorf("item-a touched: %d", avail)
	}
	if avail, _ := l.Available(ctx, "item-b"); avail != 1 {
		t.Errorf("item-b touched: %d", avail)
	}
}

func TestRedisRelease_Idempotent(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	l := NewRedisLedger(client)

	client.Del(ctx, "stock:test-item", "reserved:test-item")
	l.SetStock(ctx, "test-item", 5)

	resID, err := l.Reserve(ctx, "o1", []domain.CartLine{{ProductID: "test-item", Quantity: 5}})
	if err != nil {
		t.Fatal(err)
	}

	if err := l.Release(ctx, resID); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := l.Release(ctx, resID); err != nil {
		t.Fatalf("double release: %v", err)
	}
	if avail, _ := l.Available(ctx, "test-item"); avail != 5 {
		t.Errorf("expected available 5 after round trip, got %d", avail)
	}
}

func TestRedisSetStock_PreservesHolds(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	l := NewRedisLedger(client)

	client.Del(ctx, "stock:seed-item", "reserved:seed-item")
	l.SetStock(ctx, "seed-item", 10)

	resID, err := l.Reserve(ctx, "o1", []domain.CartLine{{ProductID: "seed-item", Quantity: 3}})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	// reseeding the same total must not resurrect held units
	if err := l.SetStock(ctx, "seed-item", 10); err != nil {
		t.Fatalf("reseed: %v", err)
	}
	if avail, _ := l.Available(ctx, "seed-item"); avail != 7 {
		t.Errorf("expected available 7 after reseed, got %d", avail)
	}

	// a total below the outstanding hold is rejected
	if err := l.SetStock(ctx, "seed-item", 2); !errors.Is(err, ErrStockBelowHolds) {
		t.Errorf("expected ErrStockBelowHolds, got %v", err)
	}

	if err := l.Release(ctx, resID); err != nil {
		t.Fatalf("release: %v", err)
	}
	if avail, _ := l.Available(ctx, "seed-item"); avail != 10 {
		t.Errorf("expected available 10 after release, got %d", avail)
	}
}

func TestRedisRelease_AfterCommitNoop(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	l := NewRedisLedger(client)

	client.Del(ctx, "stock:commit-item", "reserved:commit-item")
	l.SetStock(ctx, "commit-item", 5)

	resID, err := l.Reserve(ctx, "o1", []domain.CartLine{{ProductID: "commit-item", Quantity: 2}})
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Commit(ctx, resID); err != nil {
		t.Fatalf("commit: %v", err)
	}

	// a committed hold never flows back into available stock
	if err := l.Release(ctx, resID); err != nil {
		t.Fatalf("release after commit: %v", err)
	}
	if avail, _ := l.Available(ctx, "commit-item"); avail != 3 {
		t.Errorf("expected available 3, got %d", avail)
	}
}

func TestRedisReserve_Concurrent(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	l := NewRedisLedger(client)

	initialStock := 20
	totalRequests := 50

	client.Del(ctx, "stock:concurrent-test", "reserved:concurrent-test")
	l.SetStock(ctx, "concurrent-test", int64(initialStock))

	var successCount atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Reserve(ctx, "order", []domain.CartLine{{ProductID: "concurrent-test", Quantity: 1}})
			if err == nil {
				successCount.Add(1)
			}
		}()
	}
	wg.Wait()

	if successCount.Load() != int32(initialStock) {
		t.Errorf("expected %d successes, got %d", initialStock, successCount.Load())
	}
	if avail, _ := l.Available(ctx, "concurrent-test"); avail != 0 {
		t.Errorf("expected available 0, got %d", avail)
	}
}
