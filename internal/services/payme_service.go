package services

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/example/tendo/internal/models"
	"github.com/example/tendo/internal/payment"
	"github.com/example/tendo/internal/repository"
)

// Payme transaction states as reported to Payme.
const (
	TransactionStatePaid            = 2
	TransactionStatePending         = 1
	TransactionStatePendingCanceled = -1
	TransactionStatePaidCanceled    = -2
)

// PaymeErrorInfo describes a Payme-compatible error.
type PaymeErrorInfo struct {
	Name    string
	Code    int
	Message map[string]string
}

var (
	PaymeErrorInvalidAmount = PaymeErrorInfo{
		Name: "InvalidAmount",
		Code: -31001,
		Message: map[string]string{
			"uz": "Noto'g'ri summa",
			"ru": "Недопустимая сумма",
			"en": "Invalid amount",
		},
	}
	PaymeErrorTransactionNotFound = PaymeErrorInfo{
		Name: "TransactionNotFound",
		Code: -31003,
		Message: map[string]string{
			"uz": "Tranzaktsiya topilmadi",
			"ru": "Транзакция не найдена",
			"en": "Transaction not found",
		},
	}
	PaymeErrorCantDoOperation = PaymeErrorInfo{
		Name: "CantDoOperation",
		Code: -31008,
		Message: map[string]string{
			"uz": "Biz operatsiyani bajara olmaymiz",
			"ru": "Мы не можем сделать операцию",
			"en": "We can't do operation",
		},
	}
	PaymeErrorAccountNotFound = PaymeErrorInfo{
		Name: "AccountNotFound",
		Code: -31050,
		Message: map[string]string{
			"uz": "To'lov topilmadi",
			"ru": "Платёж не найден",
			"en": "Payment not found",
		},
	}
	PaymeErrorAccountBusy = PaymeErrorInfo{
		Name: "AccountBusy",
		Code: -31099,
		Message: map[string]string{
			"uz": "To'lov boshqa tranzaksiya bilan band yoki yakunlangan",
			"ru": "Платёж занят другой транзакцией или уже завершён",
			"en": "Payment is busy with another transaction or already closed",
		},
	}
	PaymeErrorInvalidAuthorization = PaymeErrorInfo{
		Name: "InvalidAuthorization",
		Code: -32504,
		Message: map[string]string{
			"uz": "Avtorizatsiya yaroqsiz",
			"ru": "Авторизация недействительна",
			"en": "Authorization invalid",
		},
	}
	PaymeErrorInvalidRequest = PaymeErrorInfo{
		Name: "InvalidRequest",
		Code: -32600,
		Message: map[string]string{
			"uz": "So'rov parametrlari noto'g'ri",
			"ru": "Неверные параметры запроса",
			"en": "Invalid request parameters",
		},
	}
	PaymeErrorMethodNotFound = PaymeErrorInfo{
		Name: "MethodNotFound",
		Code: -32601,
		Message: map[string]string{
			"uz": "Metod topilmadi",
			"ru": "Метод не найден",
			"en": "Method not found",
		},
	}
	PaymeErrorParse = PaymeErrorInfo{
		Name: "ParseError",
		Code: -32700,
		Message: map[string]string{
			"uz": "JSON tahlil xatosi",
			"ru": "Ошибка разбора JSON",
			"en": "Parse error",
		},
	}
)

// TransactionError is a structured Payme transaction error.
type TransactionError struct {
	Info PaymeErrorInfo
	ID   any
	Data any
}

func (e *TransactionError) Error() string {
	return e.Info.Name
}

// PaymeRPCError is the error member of a JSON-RPC answer.
type PaymeRPCError struct {
	Code    int               `json:"code"`
	Message map[string]string `json:"message"`
	Data    any               `json:"data"`
}

// PaymeErrorResponse is a JSON-RPC error answer.
type PaymeErrorResponse struct {
	Error PaymeRPCError `json:"error"`
	ID    any           `json:"id"`
}

// NewPaymeErrorResponse renders info as Payme expects it.
func NewPaymeErrorResponse(info PaymeErrorInfo, id, data any) PaymeErrorResponse {
	return PaymeErrorResponse{
		Error: PaymeRPCError{Code: info.Code, Message: info.Message, Data: data},
		ID:    id,
	}
}

// Response renders the error as a JSON-RPC answer.
func (e *TransactionError) Response() PaymeErrorResponse {
	return NewPaymeErrorResponse(e.Info, e.ID, e.Data)
}

// PaymeService implements the Payme merchant API on top of PaymentService.
// account.order_id carries our payment id; amounts arrive in tiyin.
type PaymeService struct {
	payments *repository.PaymentRepository
	svc      *PaymentService
	log      *zap.Logger
}

func NewPaymeService(payments *repository.PaymentRepository, svc *PaymentService, log *zap.Logger) *PaymeService {
	if log == nil {
		log = zap.NewNop()
	}
	return &PaymeService{payments: payments, svc: svc, log: log.Named("payme")}
}

type PaymeAccount struct {
	OrderID string `json:"order_id"`
}

type CheckPerformParams struct {
	Amount  int64        `json:"amount"`
	Account PaymeAccount `json:"account"`
}

type CheckTransactionParams struct {
	ID string `json:"id"`
}

type CreateTransactionParams struct {
	Account PaymeAccount `json:"account"`
	Time    int64        `json:"time"`
	Amount  int64        `json:"amount"`
	ID      string       `json:"id"`
}

type PerformTransactionParams struct {
	ID string `json:"id"`
}

type CancelTransactionParams struct {
	ID     string `json:"id"`
	Reason int    `json:"reason"`
}

type StatementParams struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

type CheckTransactionResult struct {
	CreateTime  int64  `json:"create_time"`
	PerformTime int64  `json:"perform_time"`
	CancelTime  int64  `json:"cancel_time"`
	Transaction string `json:"transaction"`
	State       int    `json:"state"`
	Reason      *int   `json:"reason"`
}

type CreateTransactionResult struct {
	CreateTime  int64  `json:"create_time"`
	Transaction string `json:"transaction"`
	State       int    `json:"state"`
}

type PerformTransactionResult struct {
	PerformTime int64  `json:"perform_time"`
	Transaction string `json:"transaction"`
	State       int    `json:"state"`
}

type CancelTransactionResult struct {
	CancelTime  int64  `json:"cancel_time"`
	Transaction string `json:"transaction"`
	State       int    `json:"state"`
}

type StatementTransaction struct {
	ID          string       `json:"id"`
	Time        int64        `json:"time"`
	Amount      int64        `json:"amount"`
	Account     PaymeAccount `json:"account"`
	CreateTime  int64        `json:"create_time"`
	PerformTime int64        `json:"perform_time"`
	CancelTime  int64        `json:"cancel_time"`
	Transaction string       `json:"transaction"`
	State       int          `json:"state"`
	Reason      *int         `json:"reason"`
}

// CheckPerformTransaction validates that the payment exists, is unclaimed and the amount matches.
func (s *PaymeService) CheckPerformTransaction(ctx context.Context, params CheckPerformParams, id any) error {
	_, err := s.checkPerform(ctx, params, id)
	return err
}

func (s *PaymeService) checkPerform(ctx context.Context, params CheckPerformParams, id any) (*models.Payment, error) {
	p, err := s.findByAccount(ctx, params.Account)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &TransactionError{Info: PaymeErrorAccountNotFound, ID: id, Data: "order_id"}
		}
		return nil, err
	}

	if !TiyinToSom(params.Amount).Equal(decimal.NewFromInt(p.Amount)) {
		return nil, &TransactionError{Info: PaymeErrorInvalidAmount, ID: id}
	}

	if p.Status != models.PaymentCreated {
		return nil, &TransactionError{Info: PaymeErrorAccountBusy, ID: id, Data: "order_id"}
	}

	return p, nil
}

// CheckTransaction returns transaction state by Payme transaction id.
func (s *PaymeService) CheckTransaction(ctx context.Context, params CheckTransactionParams, id any) (*CheckTransactionResult, error) {
	p, err := s.findByTransaction(ctx, params.ID, id)
	if err != nil {
		return nil, err
	}

	return &CheckTransactionResult{
		CreateTime:  p.ProviderCreateTime,
		PerformTime: unixMilli(p.PaidAt),
		CancelTime:  cancelTime(p),
		Transaction: p.ID.String(),
		State:       paymeState(p),
		Reason:      paymeReason(p),
	}, nil
}

// CreateTransaction claims the payment for a Payme transaction.
func (s *PaymeService) CreateTransaction(ctx context.Context, params CreateTransactionParams, id any) (*CreateTransactionResult, error) {
	existing, err := s.payments.FindByProviderTransaction(ctx, models.MethodPayme, params.ID)
	if err == nil {
		if existing.Status != models.PaymentPendingProvider {
			return nil, &TransactionError{Info: PaymeErrorCantDoOperation, ID: id}
		}
		if s.svc.IsExpired(existing) {
			if _, err := s.svc.ExpireIfStale(ctx, existing); err != nil {
				return nil, err
			}
			return nil, &TransactionError{Info: PaymeErrorCantDoOperation, ID: id}
		}
		return &CreateTransactionResult{
			CreateTime:  existing.ProviderCreateTime,
			Transaction: existing.ID.String(),
			State:       TransactionStatePending,
		}, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	p, err := s.checkPerform(ctx, CheckPerformParams{Amount: params.Amount, Account: params.Account}, id)
	if err != nil {
		return nil, err
	}

	next, _, err := s.svc.ApplyEvent(ctx, p.ID, payment.Event{
		Type:                  payment.EventProviderAccepted,
		ProviderTransactionID: params.ID,
		Amount:                decimal.NewNullDecimal(TiyinToSom(params.Amount)),
		ProviderCreateTime:    params.Time,
	}, EventSource{Source: SourcePayme, Payload: params})
	if err != nil {
		if isLifecycleError(err) {
			return nil, &TransactionError{Info: PaymeErrorAccountBusy, ID: id, Data: "order_id"}
		}
		return nil, err
	}

	return &CreateTransactionResult{
		CreateTime:  next.ProviderCreateTime,
		Transaction: next.ID.String(),
		State:       TransactionStatePending,
	}, nil
}

// PerformTransaction marks a pending transaction as paid. Repeating it returns the
// original perform time.
func (s *PaymeService) PerformTransaction(ctx context.Context, params PerformTransactionParams, id any) (*PerformTransactionResult, error) {
	p, err := s.findByTransaction(ctx, params.ID, id)
	if err != nil {
		return nil, err
	}

	if s.svc.IsExpired(p) {
		if _, err := s.svc.ExpireIfStale(ctx, p); err != nil {
			return nil, err
		}
		return nil, &TransactionError{Info: PaymeErrorCantDoOperation, ID: id}
	}

	amount := p.ProviderAmount
	if !amount.Valid {
		amount = decimal.NewNullDecimal(decimal.NewFromInt(p.Amount))
	}
	next, _, err := s.svc.ApplyEvent(ctx, p.ID, payment.Event{
		Type:                  payment.EventProviderSucceeded,
		ProviderTransactionID: params.ID,
		Amount:                amount,
	}, EventSource{Source: SourcePayme, Payload: params})
	if err != nil {
		if isLifecycleError(err) {
			return nil, &TransactionError{Info: PaymeErrorCantDoOperation, ID: id}
		}
		return nil, err
	}
	if next.Status != models.PaymentPaid {
		return nil, &TransactionError{Info: PaymeErrorCantDoOperation, ID: id}
	}

	return &PerformTransactionResult{
		PerformTime: unixMilli(next.PaidAt),
		Transaction: next.ID.String(),
		State:       TransactionStatePaid,
	}, nil
}

// CancelTransaction cancels a pending transaction or refunds a performed one.
func (s *PaymeService) CancelTransaction(ctx context.Context, params CancelTransactionParams, id any) (*CancelTransactionResult, error) {
	p, err := s.findByTransaction(ctx, params.ID, id)
	if err != nil {
		return nil, err
	}

	reason := params.Reason
	var ev *payment.Event
	switch p.Status {
	case models.PaymentPendingProvider:
		ev = &payment.Event{Type: payment.EventProviderFailed, ReasonCode: &reason, Reason: "payme_cancelled"}
	case models.PaymentPaid:
		ev = &payment.Event{Type: payment.EventRefundCompleted, ReasonCode: &reason}
	}

	if ev != nil {
		ev.ProviderTransactionID = params.ID
		next, _, err := s.svc.ApplyEvent(ctx, p.ID, *ev, EventSource{Source: SourcePayme, Payload: params})
		if err != nil {
			if isLifecycleError(err) {
				return nil, &TransactionError{Info: PaymeErrorCantDoOperation, ID: id}
			}
			return nil, err
		}
		p = next
	}

	return &CancelTransactionResult{
		CancelTime:  cancelTime(p),
		Transaction: p.ID.String(),
		State:       paymeState(p),
	}, nil
}

// GetStatement returns transactions created by Payme in the given time range.
func (s *PaymeService) GetStatement(ctx context.Context, params StatementParams) ([]StatementTransaction, error) {
	payments, err := s.payments.ListByProviderCreateTime(ctx, models.MethodPayme, params.From, params.To)
	if err != nil {
		return nil, err
	}

	result := make([]StatementTransaction, 0, len(payments))
	for i := range payments {
		p := &payments[i]
		result = append(result, StatementTransaction{
			ID:          p.ProviderTransactionID,
			Time:        p.ProviderCreateTime,
			Amount:      SomToTiyin(p.Amount),
			Account:     PaymeAccount{OrderID: p.ID.String()},
			CreateTime:  p.ProviderCreateTime,
			PerformTime: unixMilli(p.PaidAt),
			CancelTime:  cancelTime(p),
			Transaction: p.ID.String(),
			State:       paymeState(p),
			Reason:      paymeReason(p),
		})
	}

	return result, nil
}

func (s *PaymeService) findByAccount(ctx context.Context, account PaymeAccount) (*models.Payment, error) {
	var (
		p   *models.Payment
		err error
	)
	if parsed, parseErr := uuid.Parse(account.OrderID); parseErr == nil {
		p, err = s.payments.FindByID(ctx, parsed)
	} else if number, numErr := strconv.ParseInt(account.OrderID, 10, 64); numErr == nil {
		p, err = s.payments.FindByNumber(ctx, number)
	} else {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if p.Method != models.MethodPayme {
		return nil, repository.ErrNotFound
	}
	return p, nil
}

func (s *PaymeService) findByTransaction(ctx context.Context, txID string, id any) (*models.Payment, error) {
	p, err := s.payments.FindByProviderTransaction(ctx, models.MethodPayme, txID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &TransactionError{Info: PaymeErrorTransactionNotFound, ID: id}
		}
		return nil, err
	}
	return p, nil
}

func paymeState(p *models.Payment) int {
	switch p.Status {
	case models.PaymentPaid:
		return TransactionStatePaid
	case models.PaymentFailed, models.PaymentCancelled:
		return TransactionStatePendingCanceled
	case models.PaymentRefunded:
		return TransactionStatePaidCanceled
	default:
		return TransactionStatePending
	}
}

func paymeReason(p *models.Payment) *int {
	switch p.Status {
	case models.PaymentFailed, models.PaymentCancelled, models.PaymentRefunded:
		return p.ReasonCode
	}
	return nil
}

func cancelTime(p *models.Payment) int64 {
	switch p.Status {
	case models.PaymentFailed, models.PaymentCancelled, models.PaymentRefunded:
		return unixMilli(p.ClosedAt)
	}
	return 0
}

func unixMilli(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return t.UnixMilli()
}

func isLifecycleError(err error) bool {
	return errors.Is(err, payment.ErrInvalidTransition) ||
		errors.Is(err, payment.ErrNotCancellable) ||
		errors.Is(err, payment.ErrProviderMismatch) ||
		errors.Is(err, payment.ErrMissingAmount) ||
		errors.Is(err, payment.ErrMissingProviderID) ||
		errors.Is(err, ErrConcurrentUpdate)
}
