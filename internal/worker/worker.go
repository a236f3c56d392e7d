package worker

import (
	"context"
	"sync"

	"techstore/internal/broker"
	"techstore/internal/models"
	"techstore/internal/util"

	"go.uber.org/zap"
)

// SalesRecorder adjusts a product's sales counter.
type SalesRecorder interface {
	RecordSale(ctx context.Context, productID string, delta int) error
}

// CatalogWorker keeps product sales counters in step with order events
type CatalogWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	sales        SalesRecorder
	seen         *seenSet
	logger       *zap.Logger
}

// NewCatalogWorker creates a new catalog worker. consumer may be nil when
// events are delivered by other means (tests call the handlers directly).
func NewCatalogWorker(consumer *broker.Consumer, sales SalesRecorder) *CatalogWorker {
	w := &CatalogWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		sales:        sales,
		seen:         newSeenSet(10000),
		logger:       util.GetLogger(),
	}

	w.eventHandler.OnOrderCreated(w.HandleOrderCreated)
	w.eventHandler.OnOrderStatusChanged(w.HandleOrderStatusChanged)
	return w
}

// Start starts the worker
func (w *CatalogWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting catalog worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *CatalogWorker) Stop() error {
	w.logger.Info("Stopping catalog worker")
	return w.consumer.Close()
}

// HandleOrderCreated counts every ordered unit as sold
func (w *CatalogWorker) HandleOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error {
	return w.apply(ctx, event.BaseEvent, event.Items, 1)
}

// HandleOrderStatusChanged takes units back out of the sales count when an
// order is cancelled or returned
func (w *CatalogWorker) HandleOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error {
	if !event.To.ReleasesStock() {
		w.seen.add(event.EventID)
		return nil
	}
	return w.apply(ctx, event.BaseEvent, event.Items, -1)
}

// PublishOrderCreated delivers the event in process, so the worker can
// stand in for the broker when Kafka is not configured.
func (w *CatalogWorker) PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error {
	return w.HandleOrderCreated(ctx, event)
}

// PublishOrderStatusChanged delivers the event in process.
func (w *CatalogWorker) PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error {
	return w.HandleOrderStatusChanged(ctx, event)
}

func (w *CatalogWorker) apply(ctx context.Context, base models.BaseEvent, items []models.OrderItemData, sign int) error {
	if w.seen.has(base.EventID) {
		util.EventsConsumedTotal.WithLabelValues(base.EventType, "duplicate").Inc()
		return nil
	}

	for _, it := range items {
		if err := w.sales.RecordSale(ctx, it.ProductID, sign*it.Quantity); err != nil {
			w.logger.Warn("Failed to record sale",
				zap.String("event_id", base.EventID),
				zap.String("product_id", it.ProductID),
				zap.Error(err),
			)
		}
	}

	w.seen.add(base.EventID)
	util.EventsConsumedTotal.WithLabelValues(base.EventType, "applied").Inc()
	return nil
}

// seenSet remembers the last n event ids.
type seenSet struct {
	mu    sync.Mutex
	ids   map[string]struct{}
	order []string
	next  int
}

func newSeenSet(n int) *seenSet {
	return &seenSet{ids: make(map[string]struct{}, n), order: make([]string, n)}
}

func (s *seenSet) has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok
}

func (s *seenSet) add(id string) {
	if id == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		return
	}
	if old := s.order[s.next]; old != "" {
		delete(s.ids, old)
	}
	s.order[s.next] = id
	s.ids[id] = struct{}{}
	s.next = (s.next + 1) % len(s.order)
}
