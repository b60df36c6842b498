package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"lumina/internal/domain"
)

// ConnectPostgres открывает пул соединений и проверяет его пингом
func ConnectPostgres(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 8
	cfg.MinConns = 1
	cfg.HealthCheckPeriod = 30 * time.Second
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// PostgresStore репозиторий товаров поверх pgx
type PostgresStore struct{ DB *pgxpool.Pool }

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore { return &PostgresStore{DB: db} }

var (
	_ ProductRepository = (*PostgresStore)(nil)
	_ OrderRepository   = (*PostgresOrders)(nil)
)

// Migrate создаёт таблицы, если их ещё нет
func (s *PostgresStore) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS products (
			id UUID PRIMARY KEY,
			name TEXT NOT NULL,
			sku TEXT NOT NULL UNIQUE,
			brand TEXT NOT NULL DEFAULT '',
			price_cents BIGINT NOT NULL,
			rating DOUBLE PRECISION NOT NULL DEFAULT 0,
			image_url TEXT NOT NULL DEFAULT '',
			stock BIGINT NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL,
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS orders (
			id UUID PRIMARY KEY,
			user_id TEXT NOT NULL,
			status TEXT NOT NULL,
			reservation_id TEXT NOT NULL DEFAULT '',
			payment_ref TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP WITH TIME ZONE NOT NULL,
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
			reserved_at TIMESTAMP WITH TIME ZONE,
			paid_at TIMESTAMP WITH TIME ZONE,
			closed_at TIMESTAMP WITH TIME ZONE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_user_id ON orders(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status)`,
		`CREATE TABLE IF NOT EXISTS order_lines (
			order_id UUID NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
			product_id UUID NOT NULL,
			name TEXT NOT NULL,
			qty BIGINT NOT NULL,
			price_cents BIGINT NOT NULL,
			PRIMARY KEY (order_id, product_id)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.DB.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, p *domain.Product) error {
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	_, err := s.DB.Exec(ctx, `
		INSERT INTO products(id, name, sku, brand, price_cents, rating, image_url, stock, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		p.ID, p.Name, p.SKU, p.Brand, p.PriceCents, p.Rating, p.ImageURL, p.Stock, p.CreatedAt, p.UpdatedAt)
	return err
}

func (s *PostgresStore) GetByID(ctx context.Context, id string) (*domain.Product, error) {
	var p domain.Product
	err := s.DB.QueryRow(ctx, `
		SELECT id, name, sku, brand, price_cents, rating, image_url, stock, created_at, updated_at
		FROM products WHERE id=$1`, id).
		Scan(&p.ID, &p.Name, &p.SKU, &p.Brand, &p.PriceCents, &p.Rating, &p.ImageURL, &p.Stock, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) Update(ctx context.Context, p *domain.Product) error {
	p.UpdatedAt = time.Now().UTC()
	ct, err := s.DB.Exec(ctx, `
		UPDATE products SET name=$2, sku=$3, brand=$4, price_cents=$5, rating=$6, image_url=$7, stock=$8, updated_at=$9
		WHERE id=$1`,
		p.ID, p.Name, p.SKU, p.Brand, p.PriceCents, p.Rating, p.ImageURL, p.Stock, p.UpdatedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	ct, err := s.DB.Exec(ctx, `DELETE FROM products WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, f ProductFilter) ([]domain.Product, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, name, sku, brand, price_cents, rating, image_url, stock, created_at, updated_at
		FROM products
		WHERE ($1 = '' OR name ILIKE '%' || $1 || '%')
		  AND ($2::bigint IS NULL OR price_cents >= $2)
		  AND ($3::bigint IS NULL OR price_cents <= $3)
		ORDER BY sku`,
		f.NameSubstring, f.MinPriceCents, f.MaxPriceCents)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Product
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.SKU, &p.Brand, &p.PriceCents, &p.Rating, &p.ImageURL, &p.Stock, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// PostgresOrders репозиторий заказов поверх общего пула
type PostgresOrders struct{ store *PostgresStore }

func NewPostgresOrders(store *PostgresStore) *PostgresOrders { return &PostgresOrders{store: store} }

const orderColumns = `id, user_id, status, reservation_id, payment_ref, created_at, updated_at, reserved_at, paid_at, closed_at`

// Create вставляет заказ вместе со снапшотами позиций одной транзакцией
func (po *PostgresOrders) Create(ctx context.Context, o *domain.Order) error {
	tx, err := po.store.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	o.CreatedAt = now
	o.UpdatedAt = now
	_, err = tx.Exec(ctx, `
		INSERT INTO orders(id, user_id, status, reservation_id, payment_ref, created_at, updated_at, reserved_at, paid_at, closed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		o.ID, o.UserID, o.Status, o.ReservationID, o.PaymentRef, o.CreatedAt, o.UpdatedAt, o.ReservedAt, o.PaidAt, o.ClosedAt)
	if err != nil {
		return err
	}
	for _, l := range o.Lines {
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_lines(order_id, product_id, name, qty, price_cents)
			VALUES ($1,$2,$3,$4,$5)`,
			o.ID, l.ProductID, l.Name, l.Quantity, l.PriceCents); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (po *PostgresOrders) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	rows, err := po.store.DB.Query(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id)
	if err != nil {
		return nil, err
	}
	orders, err := po.scanOrders(ctx, rows)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, ErrNotFound
	}
	return &orders[0], nil
}

// Update пишет только изменяемые поля; снапшоты позиций неизменяемы
func (po *PostgresOrders) Update(ctx context.Context, o *domain.Order) error {
	o.UpdatedAt = time.Now().UTC()
	ct, err := po.store.DB.Exec(ctx, `
		UPDATE orders SET status=$2, reservation_id=$3, payment_ref=$4, updated_at=$5, reserved_at=$6, paid_at=$7, closed_at=$8
		WHERE id=$1`,
		o.ID, o.Status, o.ReservationID, o.PaymentRef, o.UpdatedAt, o.ReservedAt, o.PaidAt, o.ClosedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (po *PostgresOrders) ListByUser(ctx context.Context, userID string) ([]domain.Order, error) {
	rows, err := po.store.DB.Query(ctx, `SELECT `+orderColumns+` FROM orders WHERE user_id=$1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	return po.scanOrders(ctx, rows)
}

func (po *PostgresOrders) ListByStatus(ctx context.Context, status domain.OrderStatus) ([]domain.Order, error) {
	rows, err := po.store.DB.Query(ctx, `SELECT `+orderColumns+` FROM orders WHERE status=$1`, status)
	if err != nil {
		return nil, err
	}
	return po.scanOrders(ctx, rows)
}

func (po *PostgresOrders) scanOrders(ctx context.Context, rows pgx.Rows) ([]domain.Order, error) {
	defer rows.Close()
	var out []domain.Order
	for rows.Next() {
		var o domain.Order
		if err := rows.Scan(&o.ID, &o.UserID, &o.Status, &o.ReservationID, &o.PaymentRef,
			&o.CreatedAt, &o.UpdatedAt, &o.ReservedAt, &o.PaidAt, &o.ClosedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		lines, err := po.orderLines(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Lines = lines
	}
	return out, nil
}

func (po *PostgresOrders) orderLines(ctx context.Context, orderID string) ([]domain.OrderLine, error) {
	rows, err := po.store.DB.Query(ctx, `
		SELECT product_id, name, qty, price_cents FROM order_lines WHERE order_id=$1 ORDER BY product_id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []domain.OrderLine
	for rows.Next() {
		var l domain.OrderLine
		if err := rows.Scan(&l.ProductID, &l.Name, &l.Quantity, &l.PriceCents); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}
