package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const telegramAPIBase = "https://api.telegram.org"

// TelegramService sends admin alerts through a Telegram bot.
type TelegramService struct {
	botToken    string
	adminChatID string
	apiBase     string
	client      *http.Client
	log         *zap.Logger
}

// NewTelegramService creates a new TelegramService.
func NewTelegramService(botToken, adminChatID string, log *zap.Logger) *TelegramService {
	if log == nil {
		log = zap.NewNop()
	}
	return &TelegramService{
		botToken:    botToken,
		adminChatID: adminChatID,
		apiBase:     telegramAPIBase,
		client:      &http.Client{Timeout: 10 * time.Second},
		log:         log.Named("telegram"),
	}
}

// WithAPIBase points the service at another Bot API host. Used by tests.
func (s *TelegramService) WithAPIBase(base string) *TelegramService {
	s.apiBase = strings.TrimRight(base, "/")
	return s
}

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// SendMessage sends a message to specified chat.
func (s *TelegramService) SendMessage(ctx context.Context, chatID, text string) error {
	if s.botToken == "" {
		s.log.Debug("bot token not configured, message dropped")
		return nil
	}

	body, err := json.Marshal(telegramMessage{
		ChatID:    chatID,
		Text:      text,
		ParseMode: "HTML",
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.apiBase, s.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}
	return nil
}

// SendToAdmin sends a message to the admin chat.
func (s *TelegramService) SendToAdmin(ctx context.Context, text string) error {
	if s.adminChatID == "" {
		s.log.Debug("admin chat not configured, message dropped")
		return nil
	}
	return s.SendMessage(ctx, s.adminChatID, text)
}

// FormatPrice formats price with currency and thousand separators.
func FormatPrice(amount int64, currency string) string {
	if currency == "" {
		currency = "UZS"
	}
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	str := strconv.FormatInt(amount, 10)

	var result strings.Builder
	length := len(str)
	for i, digit := range str {
		if i > 0 && (length-i)%3 == 0 {
			result.WriteString(",")
		}
		result.WriteRune(digit)
	}

	return sign + result.String() + " " + currency
}

// PaymentSuccessNotification contains payment success data.
type PaymentSuccessNotification struct {
	PaymentNumber int64
	OrderID       string
	Amount        int64
	Currency      string
	Method        string
}

// NotifyPaymentSuccess sends notification about successful payment.
func (s *TelegramService) NotifyPaymentSuccess(ctx context.Context, payment PaymentSuccessNotification) error {
	message := fmt.Sprintf(`<b>✅ TO'LOV QABUL QILINDI!</b>
<b>🧾 To'lov:</b> #%d
<b>📋 Buyurtma:</b> %s
<b>💰 Summa:</b> %s
<b>💳 Usul:</b> %s
━━━━━━━━━━━━━━━━━━
<i>Tendo Market</i>`,
		payment.PaymentNumber,
		payment.OrderID,
		FormatPrice(payment.Amount, payment.Currency),
		methodLabel(payment.Method),
	)

	return s.SendToAdmin(ctx, strings.TrimSpace(message))
}

// ReconciliationNotification describes a payment the provider reported with a wrong amount.
type ReconciliationNotification struct {
	PaymentNumber int64
	OrderID       string
	Expected      int64
	Reported      string
	Currency      string
	Method        string
}

// NotifyReconciliation asks an admin to look at a payment that needs manual review.
func (s *TelegramService) NotifyReconciliation(ctx context.Context, n ReconciliationNotification) error {
	message := fmt.Sprintf(`<b>⚠️ TO'LOV TEKSHIRUV TALAB QILADI</b>
<b>🧾 To'lov:</b> #%d
<b>📋 Buyurtma:</b> %s
<b>💰 Kutilgan:</b> %s
<b>❗ Provayder:</b> %s %s
<b>💳 Usul:</b> %s`,
		n.PaymentNumber,
		n.OrderID,
		FormatPrice(n.Expected, n.Currency),
		n.Reported,
		n.Currency,
		methodLabel(n.Method),
	)

	return s.SendToAdmin(ctx, strings.TrimSpace(message))
}

func methodLabel(method string) string {
	switch method {
	case "payme":
		return "Payme"
	case "click":
		return "Click"
	case "uzcard":
		return "Uzcard"
	case "card":
		return "Karta"
	case "transfer":
		return "O'tkazma"
	case "cash":
		return "Наличными"
	default:
		return method
	}
}
