// Package client is the storefront's API client. It keeps the session token,
// user snapshot, cart and pending checkout in a SessionStore the way the
// browser pages keep them in local storage.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"techstore/internal/models"
	"techstore/internal/service"
	"techstore/internal/util"

	"go.uber.org/zap"
)

const (
	// DefaultTimeout bounds every request when no http.Client is supplied.
	DefaultTimeout = 10 * time.Second

	IdempotencyHeader = "Idempotency-Key"
)

// APIError is a non-2xx response from the API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

// Client talks to the TechStore API.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	session SessionStore
	logger  *zap.Logger
}

// New creates a client for the API rooted at baseURL (for example
// http://localhost:5000/api). A nil httpClient gets DefaultTimeout.
func New(baseURL string, session SessionStore, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid api base url %q: %w", baseURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid api base url %q: scheme and host are required", baseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	if session == nil {
		session = NewMemorySession()
	}
	return &Client{baseURL: u, http: httpClient, session: session, logger: util.GetLogger()}, nil
}

// Session returns the client's session store.
func (c *Client) Session() SessionStore {
	return c.session
}

// envelope mirrors the API response body.
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Total   int64           `json:"total"`
	Page    int             `json:"page"`
	Pages   int             `json:"pages"`
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out any) (*envelope, error) {
	return c.send(ctx, method, path, query, nil, body, out)
}

// send issues one request and decodes the envelope's data into out. Transport
// failures are returned wrapped and are never retried.
func (c *Client) send(ctx context.Context, method, path string, query url.Values, header http.Header, body any, out any) (*envelope, error) {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = query.Encode()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	for k, vv := range header {
		for _, v := range vv {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("API request failed", zap.String("method", method), zap.String("path", path), zap.Error(err))
		return nil, fmt.Errorf("failed to call %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return nil, &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest || !env.Success {
		msg := env.Error
		if msg == "" {
			msg = env.Message
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &APIError{Status: resp.StatusCode, Message: msg}
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return nil, fmt.Errorf("failed to decode response data: %w", err)
		}
	}
	return &env, nil
}

// Token returns the stored bearer token, if any.
func (c *Client) Token() string {
	token, _ := c.session.Get(TokenKey)
	return token
}

// CurrentUser returns the user snapshot saved at login.
func (c *Client) CurrentUser() (*models.PublicUser, bool) {
	raw, ok := c.session.Get(UserKey)
	if !ok {
		return nil, false
	}
	var user models.PublicUser
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		return nil, false
	}
	return &user, true
}

func (c *Client) saveSession(s *service.Session) error {
	raw, err := json.Marshal(s.User)
	if err != nil {
		return fmt.Errorf("failed to encode user: %w", err)
	}
	if err := c.session.Set(TokenKey, s.Token); err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}
	if err := c.session.Set(UserKey, string(raw)); err != nil {
		return fmt.Errorf("failed to store user: %w", err)
	}
	return nil
}

// Register creates an account and signs in with it.
func (c *Client) Register(ctx context.Context, req *service.RegisterRequest) (*service.Session, error) {
	var s service.Session
	if _, err := c.do(ctx, http.MethodPost, "/auth/register", nil, req, &s); err != nil {
		return nil, err
	}
	return &s, c.saveSession(&s)
}

// Login signs in and persists the token and user snapshot.
func (c *Client) Login(ctx context.Context, email, password string) (*service.Session, error) {
	var s service.Session
	body := service.LoginRequest{Email: email, Password: password}
	if _, err := c.do(ctx, http.MethodPost, "/auth/login", nil, body, &s); err != nil {
		return nil, err
	}
	return &s, c.saveSession(&s)
}

// Logout forgets the token and user snapshot.
func (c *Client) Logout() error {
	if err := c.session.Delete(TokenKey); err != nil {
		return err
	}
	return c.session.Delete(UserKey)
}

func (c *Client) Profile(ctx context.Context) (*models.PublicUser, error) {
	var user models.PublicUser
	if _, err := c.do(ctx, http.MethodGet, "/auth/profile", nil, nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// ProductList is one page of the catalog listing.
type ProductList struct {
	Products []models.Product
	Total    int64
	Page     int
	Pages    int
}

// ListProducts lists the catalog. filters are sent as query parameters
// (category, brand, minPrice, maxPrice, search, featured, sort, page, limit).
func (c *Client) ListProducts(ctx context.Context, filters url.Values) (*ProductList, error) {
	var products []models.Product
	env, err := c.do(ctx, http.MethodGet, "/products", filters, nil, &products)
	if err != nil {
		return nil, err
	}
	return &ProductList{Products: products, Total: env.Total, Page: env.Page, Pages: env.Pages}, nil
}

func (c *Client) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	var p models.Product
	if _, err := c.do(ctx, http.MethodGet, "/products/"+url.PathEscape(id), nil, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateOrder submits an order. A non-empty idempotencyKey makes resubmission
// return the original order.
func (c *Client) CreateOrder(ctx context.Context, req *service.CreateOrderRequest, idempotencyKey string) (*models.Order, error) {
	header := http.Header{}
	if idempotencyKey != "" {
		header.Set(IdempotencyHeader, idempotencyKey)
	}

	var order models.Order
	if _, err := c.send(ctx, http.MethodPost, "/orders", nil, header, req, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *Client) MyOrders(ctx context.Context) ([]models.Order, error) {
	var orders []models.Order
	if _, err := c.do(ctx, http.MethodGet, "/orders/my-orders", nil, nil, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (c *Client) CancelOrder(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	if _, err := c.do(ctx, http.MethodPost, "/orders/cancel/"+url.PathEscape(id), nil, nil, &order); err != nil {
		return nil, err
	}
	return &order, nil
}
