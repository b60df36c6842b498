package service

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"lumina/internal/domain"
	"lumina/internal/ledger"
	"lumina/internal/repository"
)

// ProductService инкапсулирует бизнес-логику вокруг каталога. Создание и
// обновление товара засеивают общий остаток в леджер; сам сервис остаток
// никогда не трогает.
type ProductService struct {
	repo   repository.ProductRepository
	ledger ledger.Ledger
}

func NewProductService(repo repository.ProductRepository, led ledger.Ledger) *ProductService {
	return &ProductService{repo: repo, ledger: led}
}

var ErrInvalidInput = errors.New("invalid input")

const searchLimit = 20

func (s *ProductService) Create(ctx context.Context, p domain.Product) (*domain.Product, error) {
	if p.Name == "" || p.SKU == "" || p.PriceCents < 0 || p.Stock < 0 {
		return nil, ErrInvalidInput
	}
	cp := p
	cp.ID = uuid.NewString()
	if err := s.repo.Create(ctx, &cp); err != nil {
		return nil, err
	}
	if err := s.ledger.SetStock(ctx, cp.ID, cp.Stock); err != nil {
		return nil, err
	}
	return &cp, nil
}

func (s *ProductService) GetByID(ctx context.Context, id string) (*domain.Product, error) {
	if id == "" {
		return nil, ErrInvalidInput
	}
	return s.repo.GetByID(ctx, id)
}

func (s *ProductService) Update(ctx context.Context, p domain.Product) (*domain.Product, error) {
	if p.ID == "" || p.Name == "" || p.PriceCents < 0 || p.Stock < 0 {
		return nil, ErrInvalidInput
	}
	old, err := s.repo.GetByID(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	// reseed first: a total below outstanding holds must not touch the row
	if err := s.ledger.SetStock(ctx, p.ID, p.Stock); err != nil {
		return nil, err
	}
	cp := p
	if err := s.repo.Update(ctx, &cp); err != nil {
		if rerr := s.ledger.SetStock(ctx, old.ID, old.Stock); rerr != nil {
			log.Error().Err(rerr).Str("product_id", old.ID).Msg("stock reseed rollback failed")
		}
		return nil, err
	}
	return &cp, nil
}

func (s *ProductService) Delete(ctx context.Context, id string) error {
	if id == "" {
		return ErrInvalidInput
	}
	return s.repo.Delete(ctx, id)
}

func (s *ProductService) List(ctx context.Context, f repository.ProductFilter) ([]domain.Product, error) {
	return s.repo.List(ctx, f)
}

// Available живой остаток из леджера; неизвестный товар — NotFound, а не ноль
func (s *ProductService) Available(ctx context.Context, id string) (int64, error) {
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return 0, err
	}
	return s.ledger.Available(ctx, id)
}

// Top первые n товаров каталога (порядок листинга — по SKU)
func (s *ProductService) Top(ctx context.Context, n int) ([]domain.Product, error) {
	if n <= 0 || n > searchLimit {
		n = searchLimit
	}
	list, err := s.repo.List(ctx, repository.ProductFilter{})
	if err != nil {
		return nil, err
	}
	if len(list) > n {
		list = list[:n]
	}
	return list, nil
}

// Search ищет по бренду и названию: точное совпадение бренда побеждает,
// иначе вхождение в название даёт 10 очков, в бренд — 5.
func (s *ProductService) Search(ctx context.Context, q string) ([]domain.Product, error) {
	query := strings.ToLower(strings.TrimSpace(q))
	if query == "" {
		return []domain.Product{}, nil
	}
	list, err := s.repo.List(ctx, repository.ProductFilter{})
	if err != nil {
		return nil, err
	}

	brandMatches := make([]domain.Product, 0)
	for _, p := range list {
		if strings.ToLower(p.Brand) == query {
			brandMatches = append(brandMatches, p)
		}
	}
	if len(brandMatches) > 0 {
		if len(brandMatches) > searchLimit {
			brandMatches = brandMatches[:searchLimit]
		}
		return brandMatches, nil
	}

	type scored struct {
		score int
		p     domain.Product
	}
	var hits []scored
	for _, p := range list {
		score := 0
		if strings.Contains(strings.ToLower(p.Name), query) {
			score += 10
		}
		if strings.Contains(strings.ToLower(p.Brand), query) {
			score += 5
		}
		if score > 0 {
			hits = append(hits, scored{score: score, p: p})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })

	out := make([]domain.Product, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.p)
		if len(out) == searchLimit {
			break
		}
	}
	return out, nil
}
