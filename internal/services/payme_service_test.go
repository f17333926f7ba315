package services

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/tendo/internal/models"
)

func newPaymeForTest(env *testEnv) *PaymeService {
	return NewPaymeService(env.payments, env.svc, zap.NewNop())
}

func paymeCode(t *testing.T, err error) int {
	t.Helper()
	var txErr *TransactionError
	require.True(t, errors.As(err, &txErr), "expected TransactionError, got %v", err)
	return txErr.Info.Code
}

func TestPaymeFullFlow(t *testing.T) {
	env := newTestEnv(t)
	payme := newPaymeForTest(env)
	ctx := context.Background()
	view := env.newPayment(t, models.MethodPayme, 150000)
	account := PaymeAccount{OrderID: view.PaymentID.String()}
	createTime := env.clock.Now().UnixMilli()

	require.NoError(t, payme.CheckPerformTransaction(ctx, CheckPerformParams{Amount: 15000000, Account: account}, 1))

	created, err := payme.CreateTransaction(ctx, CreateTransactionParams{Account: account, Time: createTime, Amount: 15000000, ID: "px-1"}, 2)
	require.NoError(t, err)
	assert.Equal(t, TransactionStatePending, created.State)
	assert.Equal(t, createTime, created.CreateTime)

	again, err := payme.CreateTransaction(ctx, CreateTransactionParams{Account: account, Time: createTime, Amount: 15000000, ID: "px-1"}, 3)
	require.NoError(t, err)
	assert.Equal(t, created, again)

	performed, err := payme.PerformTransaction(ctx, PerformTransactionParams{ID: "px-1"}, 4)
	require.NoError(t, err)
	assert.Equal(t, TransactionStatePaid, performed.State)
	assert.NotZero(t, performed.PerformTime)

	repeated, err := payme.PerformTransaction(ctx, PerformTransactionParams{ID: "px-1"}, 5)
	require.NoError(t, err)
	assert.Equal(t, performed.PerformTime, repeated.PerformTime)
	assert.Equal(t, 1, env.notifier.count(TemplatePaymentReceived))

	check, err := payme.CheckTransaction(ctx, CheckTransactionParams{ID: "px-1"}, 6)
	require.NoError(t, err)
	assert.Equal(t, TransactionStatePaid, check.State)
	assert.Equal(t, performed.PerformTime, check.PerformTime)
	assert.Nil(t, check.Reason)

	statement, err := payme.GetStatement(ctx, StatementParams{From: createTime - 1000, To: createTime + 1000})
	require.NoError(t, err)
	require.Len(t, statement, 1)
	assert.Equal(t, "px-1", statement[0].ID)
	assert.EqualValues(t, 15000000, statement[0].Amount)

	cancelled, err := payme.CancelTransaction(ctx, CancelTransactionParams{ID: "px-1", Reason: 5}, 7)
	require.NoError(t, err)
	assert.Equal(t, TransactionStatePaidCanceled, cancelled.State)
	assert.NotZero(t, cancelled.CancelTime)
	assert.Equal(t, models.PaymentRefunded, env.reload(t, view.PaymentID).Status)
}

func TestPaymeCancelPendingRecordsReason(t *testing.T) {
	env := newTestEnv(t)
	payme := newPaymeForTest(env)
	ctx := context.Background()
	view := env.newPayment(t, models.MethodPayme, 150000)
	account := PaymeAccount{OrderID: view.PaymentID.String()}

	_, err := payme.CreateTransaction(ctx, CreateTransactionParams{Account: account, Time: 1, Amount: 15000000, ID: "px-1"}, 1)
	require.NoError(t, err)

	res, err := payme.CancelTransaction(ctx, CancelTransactionParams{ID: "px-1", Reason: 3}, 2)
	require.NoError(t, err)
	assert.Equal(t, TransactionStatePendingCanceled, res.State)

	check, err := payme.CheckTransaction(ctx, CheckTransactionParams{ID: "px-1"}, 3)
	require.NoError(t, err)
	require.NotNil(t, check.Reason)
	assert.Equal(t, 3, *check.Reason)
	assert.Equal(t, res.CancelTime, check.CancelTime)

	_, err = payme.PerformTransaction(ctx, PerformTransactionParams{ID: "px-1"}, 4)
	assert.Equal(t, -31008, paymeCode(t, err))
}

func TestPaymeErrors(t *testing.T) {
	env := newTestEnv(t)
	payme := newPaymeForTest(env)
	ctx := context.Background()
	view := env.newPayment(t, models.MethodPayme, 150000)
	account := PaymeAccount{OrderID: view.PaymentID.String()}

	err := payme.CheckPerformTransaction(ctx, CheckPerformParams{Amount: 14000000, Account: account}, 1)
	assert.Equal(t, -31001, paymeCode(t, err))

	err = payme.CheckPerformTransaction(ctx, CheckPerformParams{Amount: 15000000, Account: PaymeAccount{OrderID: "nope"}}, 1)
	assert.Equal(t, -31050, paymeCode(t, err))

	click := env.newPayment(t, models.MethodClick, 150000)
	err = payme.CheckPerformTransaction(ctx, CheckPerformParams{Amount: 15000000, Account: PaymeAccount{OrderID: click.PaymentID.String()}}, 1)
	assert.Equal(t, -31050, paymeCode(t, err))

	_, err = payme.CheckTransaction(ctx, CheckTransactionParams{ID: "missing"}, 1)
	assert.Equal(t, -31003, paymeCode(t, err))

	_, err = payme.CreateTransaction(ctx, CreateTransactionParams{Account: account, Time: 1, Amount: 15000000, ID: "px-1"}, 1)
	require.NoError(t, err)
	_, err = payme.CreateTransaction(ctx, CreateTransactionParams{Account: account, Time: 2, Amount: 15000000, ID: "px-2"}, 2)
	assert.Equal(t, -31099, paymeCode(t, err))
}

func TestPaymeExpiredTransactionCannotBePerformed(t *testing.T) {
	env := newTestEnv(t)
	payme := newPaymeForTest(env)
	ctx := context.Background()
	view := env.newPayment(t, models.MethodPayme, 150000)

	_, err := payme.CreateTransaction(ctx, CreateTransactionParams{
		Account: PaymeAccount{OrderID: view.PaymentID.String()},
		Time:    1,
		Amount:  15000000,
		ID:      "px-1",
	}, 1)
	require.NoError(t, err)

	env.clock.Advance(13 * time.Minute)
	_, err = payme.PerformTransaction(ctx, PerformTransactionParams{ID: "px-1"}, 2)
	assert.Equal(t, -31008, paymeCode(t, err))

	p := env.reload(t, view.PaymentID)
	assert.Equal(t, models.PaymentFailed, p.Status)
	require.NotNil(t, p.ReasonCode)
	assert.Equal(t, ReasonTimeout, *p.ReasonCode)
	assert.Zero(t, env.notifier.count(TemplatePaymentReceived))
}

func TestPaymeAccountByNumber(t *testing.T) {
	env := newTestEnv(t)
	payme := newPaymeForTest(env)
	view := env.newPayment(t, models.MethodPayme, 150000)

	err := payme.CheckPerformTransaction(context.Background(), CheckPerformParams{
		Amount:  15000000,
		Account: PaymeAccount{OrderID: strconv.FormatInt(view.Number, 10)},
	}, 1)
	assert.NoError(t, err)
}
