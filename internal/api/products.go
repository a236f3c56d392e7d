package api

import (
	"net/http"
	"strconv"
	"strings"

	"techstore/internal/apperr"
	"techstore/internal/models"
	"techstore/internal/service"

	"github.com/gin-gonic/gin"
)

func (h *Handler) listProducts(c *gin.Context) {
	q, err := productQuery(c)
	if err != nil {
		h.respondError(c, err)
		return
	}

	page, err := h.catalog.List(c.Request.Context(), q)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.Header("X-Total-Count", strconv.FormatInt(page.Total, 10))
	c.Header("X-Page-Count", strconv.Itoa(page.Pages))
	respondList(c, page.Products, listMeta{
		Count: len(page.Products),
		Total: page.Total,
		Page:  page.Page,
		Pages: page.Pages,
	})
}

func productQuery(c *gin.Context) (service.ProductQuery, error) {
	q := service.ProductQuery{
		Category: c.Query("category"),
		Brand:    c.Query("brand"),
		Search:   c.Query("search"),
		Sort:     c.Query("sort"),
	}

	var err error
	if q.MinPrice, err = int64Query(c, "minPrice"); err != nil {
		return q, err
	}
	if q.MaxPrice, err = int64Query(c, "maxPrice"); err != nil {
		return q, err
	}
	if q.Page, err = intQuery(c, "page"); err != nil {
		return q, err
	}
	if q.Limit, err = intQuery(c, "limit"); err != nil {
		return q, err
	}
	if raw := c.Query("featured"); raw != "" {
		featured, err := strconv.ParseBool(raw)
		if err != nil {
			return q, apperr.Validation("featured must be true or false")
		}
		q.Featured = &featured
	}
	return q, nil
}

func (h *Handler) featuredProducts(c *gin.Context) {
	limit, err := intQuery(c, "limit")
	if err != nil {
		h.respondError(c, err)
		return
	}
	products, err := h.catalog.Featured(c.Request.Context(), limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondList(c, products, listMeta{Count: len(products), Total: int64(len(products))})
}

func (h *Handler) destacados(c *gin.Context) {
	limit, err := intQuery(c, "limit")
	if err != nil {
		h.respondError(c, err)
		return
	}
	products, err := h.catalog.Destacados(c.Request.Context(), limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondList(c, products, listMeta{Count: len(products), Total: int64(len(products))})
}

func (h *Handler) categories(c *gin.Context) {
	cats, err := h.catalog.Categories(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondList(c, cats, listMeta{Count: len(cats), Total: int64(len(cats))})
}

func (h *Handler) searchProducts(c *gin.Context) {
	limit, err := intQuery(c, "limit")
	if err != nil {
		h.respondError(c, err)
		return
	}
	products, err := h.catalog.Search(c.Request.Context(), c.Query("q"), limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondList(c, products, listMeta{Count: len(products), Total: int64(len(products))})
}

func (h *Handler) getProduct(c *gin.Context) {
	product, err := h.catalog.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	respond(c, http.StatusOK, product)
}

func (h *Handler) createProduct(c *gin.Context) {
	var p models.Product
	if err := bindJSON(c, &p); err != nil {
		h.respondError(c, err)
		return
	}
	created, err := h.catalog.Create(c.Request.Context(), &p)
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondMessage(c, http.StatusCreated, "product created", created)
}

func (h *Handler) updateProduct(c *gin.Context) {
	var p models.Product
	if err := bindJSON(c, &p); err != nil {
		h.respondError(c, err)
		return
	}
	updated, err := h.catalog.Update(c.Request.Context(), c.Param("id"), &p)
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondMessage(c, http.StatusOK, "product updated", updated)
}

func (h *Handler) deleteProduct(c *gin.Context) {
	if err := h.catalog.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	respondMessage(c, http.StatusOK, "product deleted", nil)
}

func intQuery(c *gin.Context, name string) (int, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, apperr.Validation("%s must be a non-negative integer", name)
	}
	return v, nil
}

func int64Query(c *gin.Context, name string) (int64, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, apperr.Validation("%s must be a non-negative integer", name)
	}
	return v, nil
}
