package services

import (
	"context"
	"errors"
	"strconv"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/example/tendo/internal/models"
	"github.com/example/tendo/internal/payment"
	"github.com/example/tendo/internal/repository"
)

// Click SHOP API actions.
const (
	ClickActionPrepare  = 0
	ClickActionComplete = 1
)

// Click SHOP API error codes.
const (
	ClickOK                  = 0
	ClickSignFailed          = -1
	ClickIncorrectAmount     = -2
	ClickActionNotFound      = -3
	ClickAlreadyPaid         = -4
	ClickOrderNotFound       = -5
	ClickTransactionNotFound = -6
	ClickRequestError        = -8
	ClickTransactionCanceled = -9
)

var clickErrorNotes = map[int]string{
	ClickOK:                  "Success",
	ClickSignFailed:          "SIGN CHECK FAILED!",
	ClickIncorrectAmount:     "Incorrect parameter amount",
	ClickActionNotFound:      "Action not found",
	ClickAlreadyPaid:         "Already paid",
	ClickOrderNotFound:       "Payment not found",
	ClickTransactionNotFound: "Transaction does not exist",
	ClickRequestError:        "Error in request from click",
	ClickTransactionCanceled: "Transaction cancelled",
}

// ClickRequest is the form Click posts to the prepare and complete endpoints.
type ClickRequest struct {
	ClickTransID      int64  `form:"click_trans_id"`
	ServiceID         int64  `form:"service_id"`
	ClickPaydocID     int64  `form:"click_paydoc_id"`
	MerchantTransID   string `form:"merchant_trans_id"`
	MerchantPrepareID int64  `form:"merchant_prepare_id"`
	Amount            string `form:"amount"`
	Action            int    `form:"action"`
	Error             int    `form:"error"`
	ErrorNote         string `form:"error_note"`
	SignTime          string `form:"sign_time"`
	SignString        string `form:"sign_string"`
}

// ClickResponse is what Click expects back. Click reads error from the body, the HTTP
// status is always 200.
type ClickResponse struct {
	ClickTransID      int64  `json:"click_trans_id"`
	MerchantTransID   string `json:"merchant_trans_id"`
	MerchantPrepareID int64  `json:"merchant_prepare_id,omitempty"`
	MerchantConfirmID int64  `json:"merchant_confirm_id,omitempty"`
	Error             int    `json:"error"`
	ErrorNote         string `json:"error_note"`
}

// ClickService implements the Click SHOP API on top of PaymentService.
// merchant_trans_id carries our payment id; amounts are decimal so'm.
type ClickService struct {
	payments  *repository.PaymentRepository
	svc       *PaymentService
	serviceID int64
	log       *zap.Logger
}

func NewClickService(payments *repository.PaymentRepository, svc *PaymentService, serviceID string, log *zap.Logger) *ClickService {
	if log == nil {
		log = zap.NewNop()
	}
	id, _ := strconv.ParseInt(serviceID, 10, 64)
	return &ClickService{payments: payments, svc: svc, serviceID: id, log: log.Named("click")}
}

// Handle dispatches on req.Action.
func (s *ClickService) Handle(ctx context.Context, req ClickRequest) (*ClickResponse, error) {
	switch req.Action {
	case ClickActionPrepare:
		return s.Prepare(ctx, req)
	case ClickActionComplete:
		return s.Complete(ctx, req)
	default:
		return clickReply(req, ClickActionNotFound), nil
	}
}

// Prepare claims the payment for a Click transaction.
func (s *ClickService) Prepare(ctx context.Context, req ClickRequest) (*ClickResponse, error) {
	amount, p, code, err := s.lookup(ctx, req)
	if err != nil || code != ClickOK {
		return clickReply(req, code), err
	}

	txID := strconv.FormatInt(req.ClickTransID, 10)
	switch p.Status {
	case models.PaymentPaid, models.PaymentRefunded:
		return clickReply(req, ClickAlreadyPaid), nil
	case models.PaymentFailed, models.PaymentCancelled:
		return clickReply(req, ClickTransactionCanceled), nil
	}
	if !amount.Equal(decimal.NewFromInt(p.Amount)) {
		return clickReply(req, ClickIncorrectAmount), nil
	}

	next, _, err := s.svc.ApplyEvent(ctx, p.ID, payment.Event{
		Type:                  payment.EventProviderAccepted,
		ProviderTransactionID: txID,
		Amount:                decimal.NewNullDecimal(amount),
	}, EventSource{Source: SourceClick, Payload: req})
	if err != nil {
		if errors.Is(err, payment.ErrProviderMismatch) || isLifecycleError(err) {
			return clickReply(req, ClickRequestError), nil
		}
		return clickReply(req, ClickRequestError), err
	}

	resp := clickReply(req, ClickOK)
	resp.MerchantPrepareID = next.Number
	return resp, nil
}

// Complete finishes a prepared Click transaction. A non-zero error from Click fails the
// payment; repeating a successful complete answers success again.
func (s *ClickService) Complete(ctx context.Context, req ClickRequest) (*ClickResponse, error) {
	amount, p, code, err := s.lookup(ctx, req)
	if err != nil || code != ClickOK {
		return clickReply(req, code), err
	}

	txID := strconv.FormatInt(req.ClickTransID, 10)
	if req.MerchantPrepareID != p.Number || p.ProviderTransactionID != txID {
		return clickReply(req, ClickTransactionNotFound), nil
	}

	if req.Error < 0 {
		_, _, err := s.svc.ApplyEvent(ctx, p.ID, payment.Event{
			Type:                  payment.EventProviderFailed,
			ProviderTransactionID: txID,
			ReasonCode:            &req.Error,
			Reason:                req.ErrorNote,
		}, EventSource{Source: SourceClick, Payload: req})
		if err != nil && !isLifecycleError(err) {
			return clickReply(req, ClickRequestError), err
		}
		return clickReply(req, ClickTransactionCanceled), nil
	}

	next, tr, err := s.svc.ApplyEvent(ctx, p.ID, payment.Event{
		Type:                  payment.EventProviderSucceeded,
		ProviderTransactionID: txID,
		Amount:                decimal.NewNullDecimal(amount),
	}, EventSource{Source: SourceClick, Payload: req})
	if err != nil {
		if !isLifecycleError(err) {
			return clickReply(req, ClickRequestError), err
		}
		switch p.Status {
		case models.PaymentPaid, models.PaymentRefunded:
			return clickReply(req, ClickAlreadyPaid), nil
		default:
			return clickReply(req, ClickTransactionCanceled), nil
		}
	}
	if tr.AmountMismatch {
		return clickReply(req, ClickIncorrectAmount), nil
	}
	if next.Status != models.PaymentPaid {
		return clickReply(req, ClickTransactionCanceled), nil
	}

	resp := clickReply(req, ClickOK)
	resp.MerchantPrepareID = next.Number
	resp.MerchantConfirmID = next.Number
	return resp, nil
}

// lookup resolves the payment and parses the posted amount. A non-zero code is the reply
// to send as is.
func (s *ClickService) lookup(ctx context.Context, req ClickRequest) (decimal.Decimal, *models.Payment, int, error) {
	if s.serviceID != 0 && req.ServiceID != s.serviceID {
		return decimal.Zero, nil, ClickRequestError, nil
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || !amount.IsPositive() {
		return decimal.Zero, nil, ClickRequestError, nil
	}

	p, err := s.findByMerchantTransID(ctx, req.MerchantTransID)
	if errors.Is(err, repository.ErrNotFound) {
		return amount, nil, ClickOrderNotFound, nil
	}
	if err != nil {
		return amount, nil, ClickRequestError, err
	}
	return amount, p, ClickOK, nil
}

func (s *ClickService) findByMerchantTransID(ctx context.Context, ref string) (*models.Payment, error) {
	var (
		p   *models.Payment
		err error
	)
	if id, parseErr := uuid.Parse(ref); parseErr == nil {
		p, err = s.payments.FindByID(ctx, id)
	} else if number, numErr := strconv.ParseInt(ref, 10, 64); numErr == nil {
		p, err = s.payments.FindByNumber(ctx, number)
	} else {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if p.Method != models.MethodClick {
		return nil, repository.ErrNotFound
	}
	return p, nil
}

func clickReply(req ClickRequest, code int) *ClickResponse {
	return &ClickResponse{
		ClickTransID:    req.ClickTransID,
		MerchantTransID: req.MerchantTransID,
		Error:           code,
		ErrorNote:       clickErrorNotes[code],
	}
}
