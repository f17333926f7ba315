package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/example/tendo/internal/models"
	"github.com/example/tendo/internal/payment"
	"github.com/example/tendo/internal/repository"
)

var (
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrOrderNotFound        = errors.New("order not found")
	ErrOrderAlreadyPaid     = errors.New("order is already paid")
	ErrPaymentAlreadyActive = errors.New("order already has a payment in progress")
	ErrMethodDisabled       = errors.New("payment method is not available")
	ErrInvalidOrderAmount   = errors.New("order total must be positive")
	ErrConcurrentUpdate     = errors.New("payment was modified concurrently, retry later")
)

// Event sources recorded in the audit trail.
const (
	SourcePayme    = "payme"
	SourceClick    = "click"
	SourceCustomer = "customer"
	SourceAdmin    = "admin"
	SourceSystem   = "system"
)

// Notification templates.
const (
	TemplatePaymentReceived = "payment.received"
	TemplatePaymentFailed   = "payment.failed"
	TemplatePaymentRefunded = "payment.refunded"
	TemplateOrderPaid       = "order.paid"
	TemplateReconciliation  = "payment.reconciliation"
)

// ReasonTimeout is Payme's cancel reason for a transaction that expired.
const ReasonTimeout = 4

const maxTransitionAttempts = 3

// OrderStore is what the payment flow needs from the order aggregate.
type OrderStore interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	MarkPaid(ctx context.Context, orderID uuid.UUID) error
	MarkFailed(ctx context.Context, orderID uuid.UUID) error
	MarkRefunded(ctx context.Context, orderID uuid.UUID) error
	SellerIDs(ctx context.Context, orderID uuid.UUID) ([]uuid.UUID, error)
}

// Notifier delivers user and admin notifications.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, templateKey string, data map[string]any) error
	NotifyAdmin(ctx context.Context, templateKey string, data map[string]any)
}

// EventSource describes where an event came from, for the audit trail.
type EventSource struct {
	Source  string
	Payload any
}

// PaymentView is the customer facing representation of a payment.
type PaymentView struct {
	PaymentID           uuid.UUID            `json:"paymentId"`
	Number              int64                `json:"number"`
	OrderID             uuid.UUID            `json:"orderId"`
	Status              models.PaymentStatus `json:"status"`
	Method              models.PaymentMethod `json:"method"`
	Amount              int64                `json:"amount"`
	Currency            string               `json:"currency"`
	PaymentURL          string               `json:"paymentUrl,omitempty"`
	NeedsReconciliation bool                 `json:"needsReconciliation"`
	CreatedAt           time.Time            `json:"createdAt"`
	PaidAt              *time.Time           `json:"paidAt,omitempty"`
}

// CreatePaymentInput is a customer's request to pay for an order.
type CreatePaymentInput struct {
	UserID    uuid.UUID
	OrderID   uuid.UUID
	Method    models.PaymentMethod
	ReturnURL string
}

// PaymentService creates payments and drives them through the lifecycle. Every change is
// a compare-and-swap on the previous status, and side effects run only for the writer
// whose swap matched, so re-delivered events never repeat them.
type PaymentService struct {
	payments       *repository.PaymentRepository
	orders         OrderStore
	notifier       Notifier
	methods        *MethodCatalog
	checkout       *Checkout
	ids            *snowflake.Node
	log            *zap.Logger
	pendingTimeout time.Duration
	now            func() time.Time
}

// NewPaymentService constructs PaymentService.
func NewPaymentService(
	payments *repository.PaymentRepository,
	orders OrderStore,
	notifier Notifier,
	methods *MethodCatalog,
	checkout *Checkout,
	ids *snowflake.Node,
	pendingTimeout time.Duration,
	log *zap.Logger,
) *PaymentService {
	if log == nil {
		log = zap.NewNop()
	}
	if pendingTimeout <= 0 {
		pendingTimeout = 12 * time.Minute
	}
	return &PaymentService{
		payments:       payments,
		orders:         orders,
		notifier:       notifier,
		methods:        methods,
		checkout:       checkout,
		ids:            ids,
		log:            log,
		pendingTimeout: pendingTimeout,
		now:            time.Now,
	}
}

// WithClock replaces the service clock. Used by tests.
func (s *PaymentService) WithClock(now func() time.Time) *PaymentService {
	s.now = now
	return s
}

// PendingTimeout is how long a payment may stay with the provider before it expires.
func (s *PaymentService) PendingTimeout() time.Duration {
	return s.pendingTimeout
}

// CreatePayment opens a payment attempt for one of the caller's orders.
func (s *PaymentService) CreatePayment(ctx context.Context, in CreatePaymentInput) (*PaymentView, error) {
	if !s.methods.Enabled(in.Method) {
		return nil, ErrMethodDisabled
	}

	order, err := s.orders.FindByID(ctx, in.OrderID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	if order.UserID != in.UserID {
		return nil, ErrOrderNotFound
	}
	if order.PaymentStatus == models.OrderPaymentPaid || order.PaymentStatus == models.OrderPaymentRefunded {
		return nil, ErrOrderAlreadyPaid
	}
	if order.TotalAmount <= 0 {
		return nil, ErrInvalidOrderAmount
	}

	active, err := s.payments.FindActiveByOrder(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	for _, p := range active {
		if p.Status == models.PaymentPendingProvider {
			return nil, ErrPaymentAlreadyActive
		}
	}
	for i := range active {
		p := active[i]
		if p.Method == in.Method && p.Amount == order.TotalAmount && p.ReturnURL == in.ReturnURL {
			return s.View(&p), nil
		}
		if _, _, err := s.ApplyEvent(ctx, p.ID, payment.Event{
			Type:   payment.EventCancelRequested,
			Reason: "superseded",
		}, EventSource{Source: SourceSystem}); err != nil {
			if errors.Is(err, payment.ErrInvalidTransition) || errors.Is(err, payment.ErrNotCancellable) {
				return nil, ErrPaymentAlreadyActive
			}
			return nil, err
		}
	}

	currency := order.Currency
	if currency == "" {
		currency = "UZS"
	}
	p := &models.Payment{
		Number:    s.ids.Generate().Int64(),
		OrderID:   order.ID,
		UserID:    in.UserID,
		Method:    in.Method,
		Amount:    order.TotalAmount,
		Currency:  currency,
		Status:    models.PaymentCreated,
		ReturnURL: in.ReturnURL,
	}
	if err := s.payments.Create(ctx, p); err != nil {
		return nil, err
	}

	s.audit(ctx, p, "created", "", models.PaymentCreated, models.EventOutcomeApplied, false, nil, EventSource{Source: SourceCustomer})
	s.log.Info("payment created",
		zap.String("payment_id", p.ID.String()),
		zap.Int64("number", p.Number),
		zap.String("order_id", p.OrderID.String()),
		zap.String("method", string(p.Method)),
		zap.Int64("amount", p.Amount),
	)
	return s.View(p), nil
}

// Get returns one of the caller's payments.
func (s *PaymentService) Get(ctx context.Context, id, userID uuid.UUID) (*PaymentView, error) {
	p, err := s.loadForUser(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	return s.View(p), nil
}

// Cancel cancels one of the caller's payments that has not been paid.
func (s *PaymentService) Cancel(ctx context.Context, id, userID uuid.UUID) (*PaymentView, error) {
	if _, err := s.loadForUser(ctx, id, userID); err != nil {
		return nil, err
	}
	p, _, err := s.ApplyEvent(ctx, id, payment.Event{
		Type:   payment.EventCancelRequested,
		Reason: "customer_cancelled",
	}, EventSource{Source: SourceCustomer})
	if err != nil {
		return nil, err
	}
	return s.View(p), nil
}

// Verify reloads one of the caller's payments and expires it if the provider never finished.
func (s *PaymentService) Verify(ctx context.Context, id, userID uuid.UUID) (*PaymentView, error) {
	p, err := s.loadForUser(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	p, err = s.ExpireIfStale(ctx, p)
	if err != nil {
		return nil, err
	}
	return s.View(p), nil
}

// Refund records a completed refund for a paid payment.
func (s *PaymentService) Refund(ctx context.Context, id uuid.UUID, actorID uuid.UUID) (*PaymentView, error) {
	p, _, err := s.ApplyEvent(ctx, id, payment.Event{
		Type:   payment.EventRefundCompleted,
		Reason: "admin_refund",
	}, EventSource{Source: SourceAdmin, Payload: map[string]any{"actor_id": actorID}})
	if err != nil {
		return nil, err
	}
	return s.View(p), nil
}

// ExpireIfStale fails p with the timeout reason when it has been pending for too long.
func (s *PaymentService) ExpireIfStale(ctx context.Context, p *models.Payment) (*models.Payment, error) {
	if !s.IsExpired(p) {
		return p, nil
	}
	code := ReasonTimeout
	next, _, err := s.ApplyEvent(ctx, p.ID, payment.Event{
		Type:       payment.EventProviderFailed,
		ReasonCode: &code,
		Reason:     "timeout",
	}, EventSource{Source: SourceSystem})
	if err != nil {
		return nil, err
	}
	return next, nil
}

// IsExpired reports whether p is pending past the provider timeout.
func (s *PaymentService) IsExpired(p *models.Payment) bool {
	return p.Status == models.PaymentPendingProvider &&
		p.AcceptedAt != nil &&
		s.now().Sub(*p.AcceptedAt) >= s.pendingTimeout
}

// ExpireStale fails up to limit pending payments past the provider timeout.
func (s *PaymentService) ExpireStale(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	stale, err := s.payments.ListPendingAcceptedBefore(ctx, s.now().Add(-s.pendingTimeout), limit)
	if err != nil {
		return 0, err
	}

	expired := 0
	for i := range stale {
		p, err := s.ExpireIfStale(ctx, &stale[i])
		if err != nil {
			s.log.Warn("expire payment", zap.String("payment_id", stale[i].ID.String()), zap.Error(err))
			continue
		}
		if p.Status == models.PaymentFailed {
			expired++
		}
	}
	return expired, nil
}

// ApplyEvent offers ev to the payment and persists the result.
//
// It returns the payment as stored after the call. A re-delivered event returns the
// Duplicate outcome and no error. An event that does not fit the current status is
// recorded as rejected and returned as an error from the payment package; the stored
// payment is unchanged.
func (s *PaymentService) ApplyEvent(ctx context.Context, id uuid.UUID, ev payment.Event, src EventSource) (*models.Payment, payment.Transition, error) {
	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		current, err := s.payments.FindByID(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, payment.Transition{}, ErrPaymentNotFound
		}
		if err != nil {
			return nil, payment.Transition{}, err
		}

		if ev.At.IsZero() {
			ev.At = s.now()
		}
		tr, err := payment.Apply(*current, ev)
		if err != nil {
			anomaly := !errors.Is(err, payment.ErrNotCancellable)
			if anomaly {
				s.log.Warn("payment anomaly",
					zap.String("payment_id", current.ID.String()),
					zap.String("from", string(current.Status)),
					zap.String("event", string(ev.Type)),
					zap.String("source", src.Source),
					zap.Error(err),
				)
			}
			s.audit(ctx, current, string(ev.Type), current.Status, current.Status, models.EventOutcomeRejected, anomaly, err, src)
			return current, tr, err
		}

		if !tr.Applied() {
			s.audit(ctx, current, string(ev.Type), tr.From, tr.To, models.EventOutcomeDuplicate, false, nil, src)
			return current, tr, nil
		}

		next := tr.Payment
		swapped, err := s.payments.CompareAndSwap(ctx, &next, tr.From)
		if err != nil {
			return nil, tr, err
		}
		if !swapped {
			s.log.Debug("payment changed underneath, retrying",
				zap.String("payment_id", id.String()), zap.Int("attempt", attempt+1))
			continue
		}

		s.audit(ctx, &next, string(ev.Type), tr.From, tr.To, models.EventOutcomeApplied, tr.AmountMismatch, nil, src)
		s.log.Info("payment transition",
			zap.String("payment_id", next.ID.String()),
			zap.String("from", string(tr.From)),
			zap.String("to", string(tr.To)),
			zap.String("event", string(ev.Type)),
			zap.String("source", src.Source),
		)
		tr.Payment = next
		s.afterTransition(context.WithoutCancel(ctx), &next, tr)
		return &next, tr, nil
	}
	return nil, payment.Transition{}, ErrConcurrentUpdate
}

// View renders p for API clients.
func (s *PaymentService) View(p *models.Payment) *PaymentView {
	view := &PaymentView{
		PaymentID:           p.ID,
		Number:              p.Number,
		OrderID:             p.OrderID,
		Status:              p.Status,
		Method:              p.Method,
		Amount:              p.Amount,
		Currency:            p.Currency,
		NeedsReconciliation: p.NeedsReconciliation,
		CreatedAt:           p.CreatedAt,
		PaidAt:              p.PaidAt,
	}
	if p.Status == models.PaymentCreated && s.checkout != nil {
		view.PaymentURL = s.checkout.URL(p)
	}
	return view
}

func (s *PaymentService) loadForUser(ctx context.Context, id, userID uuid.UUID) (*models.Payment, error) {
	p, err := s.payments.FindByIDForUser(ctx, id, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrPaymentNotFound
	}
	return p, err
}

// afterTransition runs the side effects of entering a status. Failures are logged; the
// transition itself is already committed.
func (s *PaymentService) afterTransition(ctx context.Context, p *models.Payment, tr payment.Transition) {
	data := map[string]any{
		"payment_id": p.ID.String(),
		"number":     p.Number,
		"order_id":   p.OrderID.String(),
		"amount":     p.Amount,
		"currency":   p.Currency,
		"method":     string(p.Method),
	}
	log := s.log.With(zap.String("payment_id", p.ID.String()), zap.String("status", string(p.Status)))

	switch tr.To {
	case models.PaymentPaid:
		if err := s.orders.MarkPaid(ctx, p.OrderID); err != nil {
			log.Error("mark order paid", zap.Error(err))
		}
		s.notify(ctx, log, p.UserID, TemplatePaymentReceived, data)
		sellers, err := s.orders.SellerIDs(ctx, p.OrderID)
		if err != nil {
			log.Error("load order sellers", zap.Error(err))
		}
		for _, sellerID := range sellers {
			if sellerID == uuid.Nil {
				continue
			}
			s.notify(ctx, log, sellerID, TemplateOrderPaid, data)
		}
		s.notifier.NotifyAdmin(ctx, TemplatePaymentReceived, data)

	case models.PaymentFailed:
		if err := s.orders.MarkFailed(ctx, p.OrderID); err != nil {
			log.Error("mark order failed", zap.Error(err))
		}
		s.notify(ctx, log, p.UserID, TemplatePaymentFailed, data)
		if tr.AmountMismatch {
			data["reported"] = p.ProviderAmount.Decimal.String()
			data["note"] = p.ReconciliationNote
			log.Warn("payment amount mismatch",
				zap.Int64("expected", p.Amount),
				zap.String("reported", p.ProviderAmount.Decimal.String()),
			)
			s.notifier.NotifyAdmin(ctx, TemplateReconciliation, data)
		}

	case models.PaymentRefunded:
		if err := s.orders.MarkRefunded(ctx, p.OrderID); err != nil {
			log.Error("mark order refunded", zap.Error(err))
		}
		s.notify(ctx, log, p.UserID, TemplatePaymentRefunded, data)
	}
}

func (s *PaymentService) notify(ctx context.Context, log *zap.Logger, userID uuid.UUID, template string, data map[string]any) {
	if err := s.notifier.Notify(ctx, userID, template, data); err != nil {
		log.Error("notify", zap.String("template", template), zap.String("user_id", userID.String()), zap.Error(err))
	}
}

func (s *PaymentService) audit(
	ctx context.Context,
	p *models.Payment,
	eventType string,
	from, to models.PaymentStatus,
	outcome string,
	anomaly bool,
	cause error,
	src EventSource,
) {
	ev := &models.PaymentEvent{
		PaymentID:             p.ID,
		Source:                src.Source,
		EventType:             eventType,
		ProviderTransactionID: p.ProviderTransactionID,
		FromStatus:            from,
		ToStatus:              to,
		Outcome:               outcome,
		Anomaly:               anomaly,
		Payload:               payloadJSON(src.Payload),
	}
	if cause != nil {
		ev.Error = cause.Error()
	}
	if err := s.payments.RecordEvent(context.WithoutCancel(ctx), ev); err != nil {
		s.log.Error("record payment event", zap.String("payment_id", p.ID.String()), zap.Error(err))
	}
}

func payloadJSON(payload any) datatypes.JSON {
	switch v := payload.(type) {
	case nil:
		return nil
	case []byte:
		if json.Valid(v) {
			return datatypes.JSON(v)
		}
		raw, _ := json.Marshal(string(v))
		return raw
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		return raw
	}
}

// SomToTiyin converts whole so'm to Payme's tiyin.
func SomToTiyin(amount int64) int64 {
	return amount * 100
}

// TiyinToSom converts a Payme amount to so'm without rounding.
func TiyinToSom(tiyin int64) decimal.Decimal {
	return decimal.New(tiyin, -2)
}
