package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"techstore/internal/apperr"
	"techstore/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// MongoStore is the document database backend
type MongoStore struct {
	client   *mongo.Client
	products *mongo.Collection
	orders   *mongo.Collection
	users    *mongo.Collection
}

// NewMongoStore connects to uri, selects database and ensures indexes
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(25).
		SetServerSelectionTimeout(5*time.Second))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	db := client.Database(database)
	s := &MongoStore{
		client:   client,
		products: db.Collection("products"),
		orders:   db.Collection("orders"),
		users:    db.Collection("users"),
	}
	if err := s.ensureIndexes(connectCtx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create user indexes: %w", err)
	}

	_, err = s.orders.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "orderNumber", Value: 1}}, Options: options.Index().SetUnique(true)},
		{
			Keys: bson.D{{Key: "idempotencyKey", Value: 1}},
			Options: options.Index().SetUnique(true).
				SetPartialFilterExpression(bson.M{"idempotencyKey": bson.M{"$type": "string"}}),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create order indexes: %w", err)
	}

	_, err = s.products.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "category", Value: 1}, {Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "featured", Value: 1}}},
		{Keys: bson.D{{Key: "name", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create product indexes: %w", err)
	}
	return nil
}

// Ping checks the connection
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func regexFilter(field, value string) bson.M {
	return bson.M{field: bson.M{"$regex": regexp.QuoteMeta(value), "$options": "i"}}
}

func exactFold(value string) bson.M {
	return bson.M{"$regex": "^" + regexp.QuoteMeta(value) + "$", "$options": "i"}
}

// CreateProduct inserts a product
func (s *MongoStore) CreateProduct(ctx context.Context, p *models.Product) error {
	if _, err := s.products.InsertOne(ctx, p); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return apperr.Conflict("product %s already exists", p.ID)
		}
		return fmt.Errorf("failed to insert product: %w", err)
	}
	return nil
}

func (s *MongoStore) findProduct(ctx context.Context, filter bson.M, ref string) (*models.Product, error) {
	var p models.Product
	err := s.products.FindOne(ctx, filter).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperr.NotFound("product not found: %s", ref)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return &p, nil
}

// GetProduct retrieves a product by ID
func (s *MongoStore) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	return s.findProduct(ctx, bson.M{"_id": id}, id)
}

// GetProductByName retrieves a product by exact name
func (s *MongoStore) GetProductByName(ctx context.Context, name string) (*models.Product, error) {
	return s.findProduct(ctx, bson.M{"name": name}, name)
}

// UpdateProduct replaces a product
func (s *MongoStore) UpdateProduct(ctx context.Context, p *models.Product) error {
	res, err := s.products.ReplaceOne(ctx, bson.M{"_id": p.ID}, p)
	if err != nil {
		return fmt.Errorf("failed to update product: %w", err)
	}
	if res.MatchedCount == 0 {
		return apperr.NotFound("product not found: %s", p.ID)
	}
	return nil
}

// DeleteProduct removes a product
func (s *MongoStore) DeleteProduct(ctx context.Context, id string) error {
	res, err := s.products.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete product: %w", err)
	}
	if res.DeletedCount == 0 {
		return apperr.NotFound("product not found: %s", id)
	}
	return nil
}

func productFilter(f ProductFilter) bson.M {
	filter := bson.M{}
	if f.Status != "" {
		filter["status"] = f.Status
	}
	if f.Category != "" {
		filter["category"] = exactFold(f.Category)
	}
	if f.Brand != "" {
		filter["brand"] = exactFold(f.Brand)
	}
	price := bson.M{}
	if f.MinPrice > 0 {
		price["$gte"] = f.MinPrice
	}
	if f.MaxPrice > 0 {
		price["$lte"] = f.MaxPrice
	}
	if len(price) > 0 {
		filter["price"] = price
	}
	if f.Featured != nil {
		filter["featured"] = *f.Featured
	}
	if f.Search != "" {
		filter["$or"] = []bson.M{
			regexFilter("name", f.Search),
			regexFilter("description", f.Search),
			regexFilter("brand", f.Search),
			regexFilter("category", f.Search),
			regexFilter("tags", f.Search),
		}
	}
	return filter
}

func productSort(sortBy string) bson.D {
	switch sortBy {
	case SortPriceAsc:
		return bson.D{{Key: "price", Value: 1}, {Key: "_id", Value: 1}}
	case SortPriceDesc:
		return bson.D{{Key: "price", Value: -1}, {Key: "_id", Value: 1}}
	case SortRating:
		return bson.D{{Key: "rating.average", Value: -1}, {Key: "_id", Value: 1}}
	case SortPopular:
		return bson.D{{Key: "salesCount", Value: -1}, {Key: "_id", Value: 1}}
	case SortName:
		return bson.D{{Key: "name", Value: 1}, {Key: "_id", Value: 1}}
	default:
		return bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: 1}}
	}
}

// ListProducts returns matching products and the total match count
func (s *MongoStore) ListProducts(ctx context.Context, f ProductFilter) ([]models.Product, int64, error) {
	filter := productFilter(f)

	opts := options.Find().SetSort(productSort(f.Sort)).SetSkip(int64(f.Offset))
	if f.Limit > 0 {
		opts.SetLimit(int64(f.Limit))
	}

	cursor, err := s.products.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list products: %w", err)
	}
	defer cursor.Close(ctx)

	products := []models.Product{}
	if err := cursor.All(ctx, &products); err != nil {
		return nil, 0, fmt.Errorf("failed to decode products: %w", err)
	}

	total, err := s.products.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count products: %w", err)
	}
	return products, total, nil
}

// ListCategories returns active categories with their product counts
func (s *MongoStore) ListCategories(ctx context.Context) ([]models.CategoryCount, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"status": models.ProductStatusActive, "category": bson.M{"$ne": ""}}}},
		{{Key: "$group", Value: bson.M{"_id": "$category", "count": bson.M{"$sum": 1}}}},
		{{Key: "$sort", Value: bson.D{{Key: "_id", Value: 1}}}},
	}

	cursor, err := s.products.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate categories: %w", err)
	}
	defer cursor.Close(ctx)

	out := []models.CategoryCount{}
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode categories: %w", err)
	}
	return out, nil
}

// ReserveStock decrements stock in a single conditional update
func (s *MongoStore) ReserveStock(ctx context.Context, id string, qty int) error {
	if qty <= 0 {
		return apperr.Validation("stock quantity must be positive, got %d", qty)
	}
	res, err := s.products.UpdateOne(ctx,
		bson.M{"_id": id, "quantity": bson.M{"$gte": qty}},
		bson.M{
			"$inc": bson.M{"quantity": -qty},
			"$set": bson.M{"updatedAt": time.Now()},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to reserve stock: %w", err)
	}
	if res.MatchedCount == 0 {
		p, err := s.GetProduct(ctx, id)
		if err != nil {
			return err
		}
		return apperr.InsufficientStock("insufficient stock for %s: available=%d, requested=%d", p.Name, p.Quantity, qty)
	}
	return nil
}

// ReleaseStock returns units to stock
func (s *MongoStore) ReleaseStock(ctx context.Context, id string, qty int) error {
	if qty <= 0 {
		return apperr.Validation("stock quantity must be positive, got %d", qty)
	}
	return s.incProduct(ctx, id, bson.M{
		"$inc": bson.M{"quantity": qty},
		"$set": bson.M{"updatedAt": time.Now()},
	})
}

// IncrementSales adjusts the sales counter without going below zero
func (s *MongoStore) IncrementSales(ctx context.Context, id string, delta int) error {
	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			"salesCount": bson.M{"$max": bson.A{0, bson.M{"$add": bson.A{bson.M{"$ifNull": bson.A{"$salesCount", 0}}, delta}}}},
		}}},
	}
	return s.incProduct(ctx, id, update)
}

// IncrementViews bumps the view counter
func (s *MongoStore) IncrementViews(ctx context.Context, id string) error {
	return s.incProduct(ctx, id, bson.M{"$inc": bson.M{"viewCount": 1}})
}

func (s *MongoStore) incProduct(ctx context.Context, id string, update interface{}) error {
	res, err := s.products.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("failed to update product: %w", err)
	}
	if res.MatchedCount == 0 {
		return apperr.NotFound("product not found: %s", id)
	}
	return nil
}

// CreateOrder inserts an order
func (s *MongoStore) CreateOrder(ctx context.Context, o *models.Order) error {
	if _, err := s.orders.InsertOne(ctx, o); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return apperr.Conflict("duplicate order")
		}
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

// GetOrder retrieves an order by ID
func (s *MongoStore) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	var o models.Order
	err := s.orders.FindOne(ctx, bson.M{"_id": id}).Decode(&o)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperr.NotFound("order not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return &o, nil
}

// GetOrderByIdempotencyKey retrieves an order by idempotency key
func (s *MongoStore) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	var o models.Order
	err := s.orders.FindOne(ctx, bson.M{"idempotencyKey": key}).Decode(&o)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return &o, nil
}

// ListOrders returns matching orders newest first
func (s *MongoStore) ListOrders(ctx context.Context, f OrderFilter) ([]models.Order, int64, error) {
	filter := bson.M{}
	if f.UserID != "" {
		filter["userId"] = f.UserID
	}
	if f.Status != "" {
		filter["status"] = f.Status
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64(f.Offset))
	if f.Limit > 0 {
		opts.SetLimit(int64(f.Limit))
	}

	cursor, err := s.orders.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list orders: %w", err)
	}
	defer cursor.Close(ctx)

	orders := []models.Order{}
	if err := cursor.All(ctx, &orders); err != nil {
		return nil, 0, fmt.Errorf("failed to decode orders: %w", err)
	}

	total, err := s.orders.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count orders: %w", err)
	}
	return orders, total, nil
}

// UpdateOrderStatus transitions an order if it is still in the expected status
func (s *MongoStore) UpdateOrderStatus(ctx context.Context, id string, from, to models.OrderStatus, change models.StatusChange) (*models.Order, error) {
	var o models.Order
	err := s.orders.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "status": from},
		bson.M{
			"$set":  bson.M{"status": to, "updatedAt": change.Timestamp},
			"$push": bson.M{"statusHistory": change},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&o)
	if errors.Is(err, mongo.ErrNoDocuments) {
		current, getErr := s.GetOrder(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return nil, apperr.InvalidTransition("order %s is %s, not %s", current.OrderNumber, current.Status, from)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update order status: %w", err)
	}
	return &o, nil
}

func dateRange(from, to time.Time) bson.M {
	r := bson.M{}
	if !from.IsZero() {
		r["$gte"] = from
	}
	if !to.IsZero() {
		r["$lt"] = to
	}
	return r
}

// SalesStats aggregates non-cancelled orders in the date range
func (s *MongoStore) SalesStats(ctx context.Context, from, to time.Time) (models.SalesStats, error) {
	match := bson.M{"status": bson.M{"$ne": models.OrderStatusCancelled}}
	if r := dateRange(from, to); len(r) > 0 {
		match["createdAt"] = r
	}

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$group", Value: bson.M{
			"_id":          nil,
			"totalOrders":  bson.M{"$sum": 1},
			"totalRevenue": bson.M{"$sum": "$totals.total"},
			"totalItems":   bson.M{"$sum": bson.M{"$sum": "$items.quantity"}},
		}}},
	}

	cursor, err := s.orders.Aggregate(ctx, pipeline)
	if err != nil {
		return models.SalesStats{}, fmt.Errorf("failed to aggregate sales: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		TotalOrders  int64 `bson:"totalOrders"`
		TotalRevenue int64 `bson:"totalRevenue"`
		TotalItems   int64 `bson:"totalItems"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return models.SalesStats{}, fmt.Errorf("failed to decode sales: %w", err)
	}

	var st models.SalesStats
	if len(rows) > 0 {
		st.TotalOrders = rows[0].TotalOrders
		st.TotalRevenue = rows[0].TotalRevenue
		st.TotalItems = rows[0].TotalItems
	}
	st.AverageOrderValue = averageOrderValue(st.TotalRevenue, st.TotalOrders)
	return st, nil
}

// StatusCounts counts orders per status
func (s *MongoStore) StatusCounts(ctx context.Context) (map[models.OrderStatus]int64, error) {
	cursor, err := s.orders.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$group", Value: bson.M{"_id": "$status", "count": bson.M{"$sum": 1}}}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate statuses: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		Status models.OrderStatus `bson:"_id"`
		Count  int64              `bson:"count"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode statuses: %w", err)
	}

	counts := make(map[models.OrderStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

// CreateUser inserts a user
func (s *MongoStore) CreateUser(ctx context.Context, u *models.User) error {
	if _, err := s.users.InsertOne(ctx, u); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return apperr.Conflict("email already registered")
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

func (s *MongoStore) findUser(ctx context.Context, filter bson.M, ref string) (*models.User, error) {
	var u models.User
	err := s.users.FindOne(ctx, filter).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperr.NotFound("user not found: %s", ref)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

// GetUser retrieves a user by ID
func (s *MongoStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	return s.findUser(ctx, bson.M{"_id": id}, id)
}

// GetUserByEmail retrieves a user by email
func (s *MongoStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.findUser(ctx, bson.M{"email": email}, email)
}

// UpdateUser replaces a user
func (s *MongoStore) UpdateUser(ctx context.Context, u *models.User) error {
	res, err := s.users.ReplaceOne(ctx, bson.M{"_id": u.ID}, u)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return apperr.Conflict("email already registered")
		}
		return fmt.Errorf("failed to update user: %w", err)
	}
	if res.MatchedCount == 0 {
		return apperr.NotFound("user not found: %s", u.ID)
	}
	return nil
}
