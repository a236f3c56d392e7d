// Command seed loads the starter perfume catalog into the configured store.
// Products whose name already exists are left untouched.
package main

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"techstore/config"
	"techstore/internal/apperr"
	"techstore/internal/models"
	"techstore/internal/store"
	"techstore/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

//go:embed products.json
var defaultCatalog []byte

func main() {
	file := flag.String("file", "", "JSON file with products to seed (defaults to the built-in catalog)")
	flag.Parse()

	cfg := config.Load()
	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()
	logger := util.GetLogger()

	raw := defaultCatalog
	if *file != "" {
		var err error
		if raw, err = os.ReadFile(*file); err != nil {
			log.Fatalf("Failed to read %s: %v", *file, err)
		}
	}
	products, err := parseCatalog(raw)
	if err != nil {
		log.Fatalf("Failed to parse catalog: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	repo, err := store.Open(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer repo.Close()

	created, skipped, err := seed(ctx, repo, products)
	if err != nil {
		logger.Fatal("Seed failed", zap.Error(err))
	}
	logger.Info("Seed completed", zap.Int("created", created), zap.Int("skipped", skipped))
}

func parseCatalog(raw []byte) ([]models.Product, error) {
	var products []models.Product
	if err := json.Unmarshal(raw, &products); err != nil {
		return nil, err
	}
	for i := range products {
		if products[i].Status == "" {
			products[i].Status = models.ProductStatusActive
		}
		if err := products[i].Validate(); err != nil {
			return nil, fmt.Errorf("product %d (%s): %w", i, products[i].Name, err)
		}
	}
	return products, nil
}

func seed(ctx context.Context, repo store.ProductRepository, products []models.Product) (created, skipped int, err error) {
	logger := util.GetLogger()
	now := time.Now().UTC()

	for i := range products {
		p := products[i]
		existing, err := repo.GetProductByName(ctx, p.Name)
		switch {
		case err == nil && existing != nil:
			logger.Info("Product exists, skipping", zap.String("name", p.Name), zap.String("product_id", existing.ID))
			skipped++
			continue
		case err != nil && !errors.Is(err, apperr.ErrNotFound):
			return created, skipped, fmt.Errorf("failed to look up %s: %w", p.Name, err)
		}

		p.ID = uuid.New().String()
		p.CreatedAt = now
		p.UpdatedAt = now
		if err := repo.CreateProduct(ctx, &p); err != nil {
			return created, skipped, fmt.Errorf("failed to create %s: %w", p.Name, err)
		}
		logger.Info("Product created",
			zap.String("name", p.Name),
			zap.String("product_id", p.ID),
			zap.Int64("price", p.Price),
			zap.Int("quantity", p.Quantity))
		created++
	}
	return created, skipped, nil
}
