package main

import (
	"context"
	"testing"

	"techstore/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalogIsValid(t *testing.T) {
	products, err := parseCatalog(defaultCatalog)
	require.NoError(t, err)
	require.Len(t, products, 3)

	khamrah := products[0]
	assert.Equal(t, "Khamrah Lattafa Perfumes - 100ml", khamrah.Name)
	assert.Equal(t, int64(450000), khamrah.Price)
	assert.Equal(t, int64(600000), khamrah.OriginalPrice)
	assert.Equal(t, 25, khamrah.Discount)
	assert.Equal(t, 15, khamrah.Quantity)
	assert.True(t, khamrah.Featured)
}

func TestParseCatalogRejectsInvalidProducts(t *testing.T) {
	_, err := parseCatalog([]byte(`[{"name": "Sin precio", "price": 0}]`))
	assert.Error(t, err)

	_, err = parseCatalog([]byte(`{`))
	assert.Error(t, err)
}

func TestSeedSkipsExistingNames(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemoryStore()
	products, err := parseCatalog(defaultCatalog)
	require.NoError(t, err)

	created, skipped, err := seed(ctx, repo, products)
	require.NoError(t, err)
	assert.Equal(t, 3, created)
	assert.Zero(t, skipped)

	created, skipped, err = seed(ctx, repo, products)
	require.NoError(t, err)
	assert.Zero(t, created)
	assert.Equal(t, 3, skipped)

	p, err := repo.GetProductByName(ctx, "Le Labo Santal 33 Eau de Parfum - 100ml")
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, "perfumes exclusivos", p.Category)
}
