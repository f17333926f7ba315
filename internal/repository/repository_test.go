package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/tendo/internal/models"
	"github.com/example/tendo/internal/testutil"
	"github.com/example/tendo/internal/utils"
)

func newPayment(t *testing.T, repo *PaymentRepository, number int64, method models.PaymentMethod, status models.PaymentStatus) *models.Payment {
	t.Helper()
	p := &models.Payment{
		Number:   number,
		OrderID:  uuid.New(),
		UserID:   uuid.New(),
		Method:   method,
		Amount:   150000,
		Currency: "UZS",
		Status:   status,
	}
	require.NoError(t, repo.Create(context.Background(), p))
	return p
}

func TestCompareAndSwapOnlyMatchesExpectedStatus(t *testing.T) {
	repo := NewPaymentRepository(testutil.NewDB(t))
	ctx := context.Background()
	p := newPayment(t, repo, 1, models.MethodPayme, models.PaymentCreated)

	accepted := time.Now().UTC()
	next := *p
	next.Status = models.PaymentPendingProvider
	next.ProviderTransactionID = "px-1"
	next.AcceptedAt = &accepted

	ok, err := repo.CompareAndSwap(ctx, &next, models.PaymentCreated)
	require.NoError(t, err)
	assert.True(t, ok)

	stale := *p
	stale.Status = models.PaymentCancelled
	ok, err = repo.CompareAndSwap(ctx, &stale, models.PaymentCreated)
	require.NoError(t, err)
	assert.False(t, ok)

	stored, err := repo.FindByProviderTransaction(ctx, models.MethodPayme, "px-1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPendingProvider, stored.Status)

	_, err = repo.FindByProviderTransaction(ctx, models.MethodClick, "px-1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = repo.FindByProviderTransaction(ctx, models.MethodPayme, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindActiveByOrderAndUserScope(t *testing.T) {
	repo := NewPaymentRepository(testutil.NewDB(t))
	ctx := context.Background()
	p := newPayment(t, repo, 1, models.MethodPayme, models.PaymentCreated)

	closed := &models.Payment{Number: 2, OrderID: p.OrderID, UserID: p.UserID, Method: models.MethodClick, Amount: 1, Status: models.PaymentCancelled}
	require.NoError(t, repo.Create(ctx, closed))

	active, err := repo.FindActiveByOrder(ctx, p.OrderID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, p.ID, active[0].ID)

	_, err = repo.FindByIDForUser(ctx, p.ID, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)

	byNumber, err := repo.FindByNumber(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, closed.ID, byNumber.ID)
}

func TestListFiltersAndStats(t *testing.T) {
	repo := NewPaymentRepository(testutil.NewDB(t))
	ctx := context.Background()

	newPayment(t, repo, 1, models.MethodPayme, models.PaymentPaid)
	newPayment(t, repo, 2, models.MethodPayme, models.PaymentPaid)
	newPayment(t, repo, 3, models.MethodClick, models.PaymentCreated)
	flagged := newPayment(t, repo, 4, models.MethodClick, models.PaymentPendingProvider)

	next := *flagged
	next.Status = models.PaymentFailed
	next.NeedsReconciliation = true
	ok, err := repo.CompareAndSwap(ctx, &next, models.PaymentPendingProvider)
	require.NoError(t, err)
	require.True(t, ok)

	items, total, err := repo.List(ctx, PaymentFilter{Method: models.MethodPayme}, utils.NewPagination(1, 1))
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Len(t, items, 1)

	yes := true
	items, total, err = repo.List(ctx, PaymentFilter{NeedsReconciliation: &yes}, utils.NewPagination(1, 20))
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	assert.Equal(t, flagged.ID, items[0].ID)

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.ByStatus[models.PaymentPaid])
	assert.EqualValues(t, 1, stats.ByStatus[models.PaymentFailed])
	assert.EqualValues(t, 300000, stats.PaidVolume)
	assert.EqualValues(t, 1, stats.NeedsReconciliation)
}

func TestOrderPaymentStatusGuards(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewOrderRepository(db)
	ctx := context.Background()
	sellerA, sellerB := uuid.New(), uuid.New()

	order := &models.Order{
		UserID:        uuid.New(),
		OrderNumber:   "TM-1",
		PaymentStatus: models.OrderPaymentUnpaid,
		TotalAmount:   150000,
		Items: []models.OrderItem{
			{SellerID: sellerA, ProductName: "a", Quantity: 1, UnitPrice: 50000, LineTotal: 50000},
			{SellerID: sellerA, ProductName: "b", Quantity: 1, UnitPrice: 50000, LineTotal: 50000},
			{SellerID: sellerB, ProductName: "c", Quantity: 1, UnitPrice: 50000, LineTotal: 50000},
		},
	}
	require.NoError(t, repo.Create(ctx, order))

	sellers, err := repo.SellerIDs(ctx, order.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{sellerA, sellerB}, sellers)

	require.NoError(t, repo.MarkFailed(ctx, order.ID))
	require.NoError(t, repo.MarkPaid(ctx, order.ID))
	require.NoError(t, repo.MarkFailed(ctx, order.ID))

	stored, err := repo.FindByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPaymentPaid, stored.PaymentStatus)
	assert.NotNil(t, stored.PaidAt)
	assert.Len(t, stored.Items, 3)

	require.NoError(t, repo.MarkRefunded(ctx, order.ID))
	stored, err = repo.FindForUser(ctx, order.ID, order.UserID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPaymentRefunded, stored.PaymentStatus)

	_, err = repo.FindForUser(ctx, order.ID, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)

	orders, total, err := repo.ListForUser(ctx, order.UserID, models.OrderPaymentRefunded, utils.NewPagination(1, 20))
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Len(t, orders, 1)
}
