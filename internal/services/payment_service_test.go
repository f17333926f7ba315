package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/tendo/internal/models"
	"github.com/example/tendo/internal/payment"
)

func som(v int64) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.NewFromInt(v))
}

func accept(t *testing.T, env *testEnv, id uuid.UUID, txID string) {
	t.Helper()
	_, tr, err := env.svc.ApplyEvent(context.Background(), id, payment.Event{
		Type:                  payment.EventProviderAccepted,
		ProviderTransactionID: txID,
	}, EventSource{Source: SourcePayme})
	require.NoError(t, err)
	require.True(t, tr.Applied())
}

func succeed(env *testEnv, id uuid.UUID, txID string, amount int64) (*models.Payment, payment.Transition, error) {
	return env.svc.ApplyEvent(context.Background(), id, payment.Event{
		Type:                  payment.EventProviderSucceeded,
		ProviderTransactionID: txID,
		Amount:                som(amount),
	}, EventSource{Source: SourcePayme, Payload: map[string]any{"amount": amount}})
}

func TestCreatePayment(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := env.newOrder(t, 150000)

	view, err := env.svc.CreatePayment(ctx, CreatePaymentInput{UserID: env.customer, OrderID: order.ID, Method: models.MethodPayme})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentCreated, view.Status)
	assert.EqualValues(t, 150000, view.Amount)
	assert.Equal(t, order.ID, view.OrderID)
	assert.NotZero(t, view.Number)
	assert.Contains(t, view.PaymentURL, "https://checkout.paycom.uz/")

	again, err := env.svc.CreatePayment(ctx, CreatePaymentInput{UserID: env.customer, OrderID: order.ID, Method: models.MethodPayme})
	require.NoError(t, err)
	assert.Equal(t, view.PaymentID, again.PaymentID)

	click, err := env.svc.CreatePayment(ctx, CreatePaymentInput{UserID: env.customer, OrderID: order.ID, Method: models.MethodClick})
	require.NoError(t, err)
	assert.NotEqual(t, view.PaymentID, click.PaymentID)
	assert.Contains(t, click.PaymentURL, "transaction_param="+click.PaymentID.String())
	assert.Equal(t, models.PaymentCancelled, env.reload(t, view.PaymentID).Status)
}

func TestCreatePaymentRejections(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := env.newOrder(t, 150000)

	_, err := env.svc.CreatePayment(ctx, CreatePaymentInput{UserID: uuid.New(), OrderID: order.ID, Method: models.MethodPayme})
	assert.ErrorIs(t, err, ErrOrderNotFound)

	_, err = env.svc.CreatePayment(ctx, CreatePaymentInput{UserID: env.customer, OrderID: uuid.New(), Method: models.MethodPayme})
	assert.ErrorIs(t, err, ErrOrderNotFound)

	_, err = env.svc.CreatePayment(ctx, CreatePaymentInput{UserID: env.customer, OrderID: order.ID, Method: "bitcoin"})
	assert.ErrorIs(t, err, ErrMethodDisabled)

	view, err := env.svc.CreatePayment(ctx, CreatePaymentInput{UserID: env.customer, OrderID: order.ID, Method: models.MethodPayme})
	require.NoError(t, err)
	accept(t, env, view.PaymentID, "tx-1")

	_, err = env.svc.CreatePayment(ctx, CreatePaymentInput{UserID: env.customer, OrderID: order.ID, Method: models.MethodClick})
	assert.ErrorIs(t, err, ErrPaymentAlreadyActive)

	_, _, err = succeed(env, view.PaymentID, "tx-1", 150000)
	require.NoError(t, err)
	_, err = env.svc.CreatePayment(ctx, CreatePaymentInput{UserID: env.customer, OrderID: order.ID, Method: models.MethodPayme})
	assert.ErrorIs(t, err, ErrOrderAlreadyPaid)
}

func TestDuplicateSuccessNotifiesOnce(t *testing.T) {
	env := newTestEnv(t)
	view := env.newPayment(t, models.MethodPayme, 150000)
	accept(t, env, view.PaymentID, "tx-1")

	p, tr, err := succeed(env, view.PaymentID, "tx-1", 150000)
	require.NoError(t, err)
	assert.True(t, tr.Applied())
	assert.Equal(t, models.PaymentPaid, p.Status)

	p, tr, err = succeed(env, view.PaymentID, "tx-1", 150000)
	require.NoError(t, err)
	assert.Equal(t, payment.OutcomeDuplicate, tr.Outcome)
	assert.Equal(t, models.PaymentPaid, p.Status)

	assert.Equal(t, 1, env.notifier.count(TemplatePaymentReceived))
	assert.Equal(t, 2, env.notifier.count(TemplateOrderPaid), "one per distinct seller")
	assert.Equal(t, 1, env.notifier.adminCount(TemplatePaymentReceived))
	assert.Equal(t, models.OrderPaymentPaid, env.orderStatus(t, view.OrderID))

	events, err := env.payments.ListEvents(context.Background(), view.PaymentID)
	require.NoError(t, err)
	outcomes := map[string]int{}
	for _, ev := range events {
		outcomes[ev.Outcome]++
	}
	assert.Equal(t, map[string]int{
		models.EventOutcomeApplied:   3,
		models.EventOutcomeDuplicate: 1,
	}, outcomes)
}

func TestConcurrentSuccessAppliesOnce(t *testing.T) {
	env := newTestEnv(t)
	view := env.newPayment(t, models.MethodPayme, 150000)
	accept(t, env, view.PaymentID, "tx-1")

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := succeed(env, view.PaymentID, "tx-1", 150000)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	assert.Equal(t, models.PaymentPaid, env.reload(t, view.PaymentID).Status)
	assert.Equal(t, 1, env.notifier.count(TemplatePaymentReceived))
}

func TestAmountMismatchFailsAndFlags(t *testing.T) {
	env := newTestEnv(t)
	view := env.newPayment(t, models.MethodPayme, 150000)
	accept(t, env, view.PaymentID, "tx-1")

	p, tr, err := succeed(env, view.PaymentID, "tx-1", 140000)
	require.NoError(t, err)
	assert.True(t, tr.AmountMismatch)
	assert.Equal(t, models.PaymentFailed, p.Status)
	assert.True(t, p.NeedsReconciliation)
	assert.Nil(t, p.PaidAt)
	assert.True(t, p.ProviderAmount.Decimal.Equal(decimal.NewFromInt(140000)))

	assert.Zero(t, env.notifier.count(TemplatePaymentReceived))
	assert.Equal(t, 1, env.notifier.count(TemplatePaymentFailed))
	assert.Equal(t, 1, env.notifier.adminCount(TemplateReconciliation))
	assert.Equal(t, models.OrderPaymentFailed, env.orderStatus(t, view.OrderID))

	// A late success for the right amount does not revive the payment.
	_, _, err = succeed(env, view.PaymentID, "tx-1", 150000)
	assert.ErrorIs(t, err, payment.ErrInvalidTransition)
	assert.Equal(t, models.PaymentFailed, env.reload(t, view.PaymentID).Status)
}

func TestInvalidTransitionIsRecordedAsAnomaly(t *testing.T) {
	env := newTestEnv(t)
	view := env.newPayment(t, models.MethodPayme, 150000)

	_, _, err := succeed(env, view.PaymentID, "tx-1", 150000)
	assert.ErrorIs(t, err, payment.ErrInvalidTransition)
	assert.Equal(t, models.PaymentCreated, env.reload(t, view.PaymentID).Status)

	events, err := env.payments.ListEvents(context.Background(), view.PaymentID)
	require.NoError(t, err)
	var rejected *models.PaymentEvent
	for i := range events {
		if events[i].Outcome == models.EventOutcomeRejected {
			rejected = &events[i]
		}
	}
	require.NotNil(t, rejected)
	assert.True(t, rejected.Anomaly)
	assert.NotEmpty(t, rejected.Error)
	assert.Equal(t, models.PaymentCreated, rejected.FromStatus)
}

func TestCancel(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	view := env.newPayment(t, models.MethodPayme, 150000)
	cancelled, err := env.svc.Cancel(ctx, view.PaymentID, env.customer)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentCancelled, cancelled.Status)

	again, err := env.svc.Cancel(ctx, view.PaymentID, env.customer)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentCancelled, again.Status)

	_, err = env.svc.Cancel(ctx, view.PaymentID, uuid.New())
	assert.ErrorIs(t, err, ErrPaymentNotFound)

	paid := env.newPayment(t, models.MethodPayme, 90000)
	accept(t, env, paid.PaymentID, "tx-2")
	_, _, err = succeed(env, paid.PaymentID, "tx-2", 90000)
	require.NoError(t, err)

	_, err = env.svc.Cancel(ctx, paid.PaymentID, env.customer)
	assert.ErrorIs(t, err, payment.ErrNotCancellable)
	assert.Equal(t, models.PaymentPaid, env.reload(t, paid.PaymentID).Status)
}

func TestRefund(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	view := env.newPayment(t, models.MethodPayme, 150000)

	_, err := env.svc.Refund(ctx, view.PaymentID, uuid.New())
	assert.ErrorIs(t, err, payment.ErrInvalidTransition)

	accept(t, env, view.PaymentID, "tx-1")
	_, _, err = succeed(env, view.PaymentID, "tx-1", 150000)
	require.NoError(t, err)

	refunded, err := env.svc.Refund(ctx, view.PaymentID, uuid.New())
	require.NoError(t, err)
	assert.Equal(t, models.PaymentRefunded, refunded.Status)
	assert.Equal(t, models.OrderPaymentRefunded, env.orderStatus(t, view.OrderID))
	assert.Equal(t, 1, env.notifier.count(TemplatePaymentRefunded))

	_, err = env.svc.Refund(ctx, view.PaymentID, uuid.New())
	require.NoError(t, err)
	assert.Equal(t, 1, env.notifier.count(TemplatePaymentRefunded))

	_, _, err = succeed(env, view.PaymentID, "tx-1", 150000)
	assert.ErrorIs(t, err, payment.ErrInvalidTransition)
}

func TestExpireStale(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	old := env.newPayment(t, models.MethodPayme, 150000)
	accept(t, env, old.PaymentID, "tx-old")
	env.clock.Advance(10 * time.Minute)

	fresh := env.newPayment(t, models.MethodPayme, 90000)
	accept(t, env, fresh.PaymentID, "tx-fresh")
	env.clock.Advance(3 * time.Minute)

	n, err := env.svc.ExpireStale(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	expired := env.reload(t, old.PaymentID)
	assert.Equal(t, models.PaymentFailed, expired.Status)
	require.NotNil(t, expired.ReasonCode)
	assert.Equal(t, ReasonTimeout, *expired.ReasonCode)
	assert.Equal(t, models.PaymentPendingProvider, env.reload(t, fresh.PaymentID).Status)
}

func TestVerifyExpiresStalePayment(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	view := env.newPayment(t, models.MethodPayme, 150000)
	accept(t, env, view.PaymentID, "tx-1")

	got, err := env.svc.Verify(ctx, view.PaymentID, env.customer)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPendingProvider, got.Status)

	env.clock.Advance(13 * time.Minute)
	got, err = env.svc.Verify(ctx, view.PaymentID, env.customer)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentFailed, got.Status)

	_, err = env.svc.Verify(ctx, view.PaymentID, uuid.New())
	assert.ErrorIs(t, err, ErrPaymentNotFound)
}
