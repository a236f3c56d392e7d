package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"techstore/internal/apperr"
	"techstore/internal/models"
	"techstore/internal/store"
	"techstore/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const minSearchLength = 2

// CatalogService serves and maintains the product catalog
type CatalogService struct {
	products store.ProductRepository
	now      func() time.Time
	logger   *zap.Logger

	// viewTimeout bounds the detached view counter update.
	viewTimeout time.Duration
	// countViews runs the view counter update; tests make it synchronous.
	countViews func(func())
}

// NewCatalogService creates a new catalog service
func NewCatalogService(products store.ProductRepository) *CatalogService {
	return &CatalogService{
		products:    products,
		now:         time.Now,
		logger:      util.GetLogger(),
		viewTimeout: 5 * time.Second,
		countViews:  func(fn func()) { go fn() },
	}
}

// ProductQuery is the public catalog listing query.
type ProductQuery struct {
	Category string
	Brand    string
	MinPrice int64
	MaxPrice int64
	Search   string
	Featured *bool
	Sort     string
	Page     int
	Limit    int
}

// ProductPage is one page of products.
type ProductPage struct {
	Products []models.Product `json:"products"`
	Total    int64            `json:"total"`
	Page     int              `json:"page"`
	Pages    int              `json:"pages"`
}

// List returns active products matching q.
func (s *CatalogService) List(ctx context.Context, q ProductQuery) (*ProductPage, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.List")
	defer span.End()

	if !store.ValidSort(q.Sort) {
		return nil, apperr.Validation("invalid sort: %s", q.Sort)
	}
	if q.MinPrice < 0 || q.MaxPrice < 0 {
		return nil, apperr.Validation("price filters cannot be negative")
	}
	if q.MaxPrice > 0 && q.MinPrice > q.MaxPrice {
		return nil, apperr.Validation("minPrice cannot exceed maxPrice")
	}

	p := newPaging(q.Page, q.Limit, defaultProductLimit)
	products, total, err := s.products.ListProducts(ctx, store.ProductFilter{
		Category: strings.TrimSpace(q.Category),
		Brand:    strings.TrimSpace(q.Brand),
		MinPrice: q.MinPrice,
		MaxPrice: q.MaxPrice,
		Search:   strings.TrimSpace(q.Search),
		Featured: q.Featured,
		Status:   models.ProductStatusActive,
		Sort:     q.Sort,
		Offset:   p.offset(),
		Limit:    p.limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}

	return &ProductPage{
		Products: products,
		Total:    total,
		Page:     p.page,
		Pages:    p.pages(total),
	}, nil
}

// Get returns a product and counts the view in the background.
func (s *CatalogService) Get(ctx context.Context, id string) (*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.Get")
	defer span.End()

	product, err := s.products.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}

	s.countViews(func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.viewTimeout)
		defer cancel()
		if err := s.products.IncrementViews(ctx, id); err != nil {
			s.logger.Warn("Failed to count product view", zap.String("product_id", id), zap.Error(err))
		}
	})

	return product, nil
}

// Featured returns up to limit featured products, newest first.
func (s *CatalogService) Featured(ctx context.Context, limit int) ([]models.Product, error) {
	return s.featured(ctx, "CatalogService.Featured", store.SortNewest, limit)
}

// Destacados returns the storefront home selection: featured products by rating.
func (s *CatalogService) Destacados(ctx context.Context, limit int) ([]models.Product, error) {
	return s.featured(ctx, "CatalogService.Destacados", store.SortRating, limit)
}

func (s *CatalogService) featured(ctx context.Context, spanName, sort string, limit int) ([]models.Product, error) {
	ctx, span := util.StartSpan(ctx, spanName)
	defer span.End()

	featured := true
	p := newPaging(1, limit, 8)
	products, _, err := s.products.ListProducts(ctx, store.ProductFilter{
		Featured: &featured,
		Status:   models.ProductStatusActive,
		Sort:     sort,
		Limit:    p.limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list featured products: %w", err)
	}
	return products, nil
}

// Categories returns every category of active products with its count.
func (s *CatalogService) Categories(ctx context.Context) ([]models.CategoryCount, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.Categories")
	defer span.End()

	cats, err := s.products.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	return cats, nil
}

// Search matches q against names, descriptions, brands, categories and tags.
func (s *CatalogService) Search(ctx context.Context, q string, limit int) ([]models.Product, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.Search")
	defer span.End()

	q = strings.TrimSpace(q)
	if len([]rune(q)) < minSearchLength {
		return nil, apperr.Validation("search query must be at least %d characters", minSearchLength)
	}

	p := newPaging(1, limit, 20)
	products, _, err := s.products.ListProducts(ctx, store.ProductFilter{
		Search: q,
		Status: models.ProductStatusActive,
		Sort:   store.SortPopular,
		Limit:  p.limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search products: %w", err)
	}
	return products, nil
}

// Create adds a product to the catalog.
func (s *CatalogService) Create(ctx context.Context, p *models.Product) (*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.Create")
	defer span.End()

	if p.Status == "" {
		p.Status = models.ProductStatusActive
	}
	p.Name = strings.TrimSpace(p.Name)
	if err := p.Validate(); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	p.ID = uuid.New().String()
	p.SalesCount, p.ViewCount = 0, 0
	p.CreatedAt, p.UpdatedAt = now, now

	if err := s.products.CreateProduct(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to create product: %w", err)
	}

	s.logger.Info("Product created", zap.String("product_id", p.ID), zap.String("name", p.Name))
	return p, nil
}

// Update replaces the editable fields of a product. Counters and creation
// time are kept from the stored product.
func (s *CatalogService) Update(ctx context.Context, id string, p *models.Product) (*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.Update")
	defer span.End()

	current, err := s.products.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}

	p.ID = current.ID
	p.Name = strings.TrimSpace(p.Name)
	if p.Status == "" {
		p.Status = current.Status
	}
	p.SalesCount = current.SalesCount
	p.ViewCount = current.ViewCount
	p.CreatedAt = current.CreatedAt
	p.UpdatedAt = s.now().UTC()
	if err := p.Validate(); err != nil {
		return nil, err
	}

	if err := s.products.UpdateProduct(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to update product: %w", err)
	}

	s.logger.Info("Product updated", zap.String("product_id", id))
	return p, nil
}

// Delete removes a product.
func (s *CatalogService) Delete(ctx context.Context, id string) error {
	ctx, span := util.StartSpan(ctx, "CatalogService.Delete")
	defer span.End()

	if err := s.products.DeleteProduct(ctx, id); err != nil {
		return err
	}
	s.logger.Info("Product deleted", zap.String("product_id", id))
	return nil
}

// RecordSale adjusts the sales counter of a product. Products deleted since
// the order was placed are skipped.
func (s *CatalogService) RecordSale(ctx context.Context, productID string, delta int) error {
	ctx, span := util.StartSpan(ctx, "CatalogService.RecordSale")
	defer span.End()

	err := s.products.IncrementSales(ctx, productID, delta)
	if errors.Is(err, apperr.ErrNotFound) {
		s.logger.Debug("Skipping sale for missing product", zap.String("product_id", productID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to record sale: %w", err)
	}
	return nil
}
