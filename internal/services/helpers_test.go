package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/tendo/internal/models"
	"github.com/example/tendo/internal/repository"
	"github.com/example/tendo/internal/testutil"
)

type sentNotification struct {
	UserID   uuid.UUID
	Template string
	Data     map[string]any
}

// fakeNotifier records every notification instead of delivering it.
type fakeNotifier struct {
	mu    sync.Mutex
	sent  []sentNotification
	admin []string
}

func (n *fakeNotifier) Notify(_ context.Context, userID uuid.UUID, templateKey string, data map[string]any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{UserID: userID, Template: templateKey, Data: data})
	return nil
}

func (n *fakeNotifier) NotifyAdmin(_ context.Context, templateKey string, _ map[string]any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.admin = append(n.admin, templateKey)
}

func (n *fakeNotifier) count(template string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, s := range n.sent {
		if s.Template == template {
			c++
		}
	}
	return c
}

func (n *fakeNotifier) adminCount(template string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, t := range n.admin {
		if t == template {
			c++
		}
	}
	return c
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type testEnv struct {
	db       *gorm.DB
	payments *repository.PaymentRepository
	orders   *repository.OrderRepository
	notifier *fakeNotifier
	clock    *testClock
	svc      *PaymentService
	customer uuid.UUID
	sellers  []uuid.UUID
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := testutil.NewDB(t)

	catalog, err := LoadMethodCatalog("")
	require.NoError(t, err)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	env := &testEnv{
		db:       db,
		payments: repository.NewPaymentRepository(db),
		orders:   repository.NewOrderRepository(db),
		notifier: &fakeNotifier{},
		clock:    &testClock{t: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
		customer: uuid.New(),
		sellers:  []uuid.UUID{uuid.New(), uuid.New()},
	}
	checkout := NewCheckout(CheckoutConfig{
		PaymeMerchantID: "merchant-1",
		ClickServiceID:  "77",
		ClickMerchantID: "88",
	})
	env.svc = NewPaymentService(env.payments, env.orders, env.notifier, catalog, checkout, node, 12*time.Minute, zap.NewNop()).
		WithClock(env.clock.Now)
	return env
}

// newOrder stores an unpaid order of the env customer with items from both sellers.
func (e *testEnv) newOrder(t *testing.T, total int64) *models.Order {
	t.Helper()
	order := &models.Order{
		UserID:        e.customer,
		OrderNumber:   uuid.NewString(),
		Status:        "pending",
		PaymentStatus: models.OrderPaymentUnpaid,
		PlacedAt:      e.clock.Now(),
		TotalAmount:   total,
		Subtotal:      total,
		Currency:      "UZS",
		Items: []models.OrderItem{
			{SellerID: e.sellers[0], ProductName: "Tea", Quantity: 1, UnitPrice: total / 2, LineTotal: total / 2},
			{SellerID: e.sellers[1], ProductName: "Cup", Quantity: 1, UnitPrice: total / 4, LineTotal: total / 4},
			{SellerID: e.sellers[1], ProductName: "Spoon", Quantity: 1, UnitPrice: total / 4, LineTotal: total / 4},
		},
	}
	require.NoError(t, e.orders.Create(context.Background(), order))
	return order
}

func (e *testEnv) newPayment(t *testing.T, method models.PaymentMethod, total int64) *PaymentView {
	t.Helper()
	order := e.newOrder(t, total)
	view, err := e.svc.CreatePayment(context.Background(), CreatePaymentInput{
		UserID:  e.customer,
		OrderID: order.ID,
		Method:  method,
	})
	require.NoError(t, err)
	return view
}

func (e *testEnv) reload(t *testing.T, id uuid.UUID) *models.Payment {
	t.Helper()
	p, err := e.payments.FindByID(context.Background(), id)
	require.NoError(t, err)
	return p
}

func (e *testEnv) orderStatus(t *testing.T, id uuid.UUID) string {
	t.Helper()
	order, err := e.orders.FindByID(context.Background(), id)
	require.NoError(t, err)
	return order.PaymentStatus
}
