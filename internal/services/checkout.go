package services

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/example/tendo/internal/models"
)

const clickCheckoutURL = "https://my.click.uz/services/pay"

// CheckoutConfig holds the merchant identifiers used to build provider checkout links.
type CheckoutConfig struct {
	PaymeMerchantID     string
	PaymeCheckoutURL    string
	ClickServiceID      string
	ClickMerchantID     string
	ClickMerchantUserID string
}

// Checkout builds the URL the customer is sent to for online methods.
type Checkout struct {
	cfg CheckoutConfig
}

func NewCheckout(cfg CheckoutConfig) *Checkout {
	if cfg.PaymeCheckoutURL == "" {
		cfg.PaymeCheckoutURL = "https://checkout.paycom.uz"
	}
	return &Checkout{cfg: cfg}
}

// URL returns the checkout link for p, or "" for offline methods and unconfigured providers.
func (c *Checkout) URL(p *models.Payment) string {
	switch p.Method {
	case models.MethodPayme:
		if c.cfg.PaymeMerchantID == "" {
			return ""
		}
		payload := fmt.Sprintf("m=%s;ac.order_id=%s;a=%d", c.cfg.PaymeMerchantID, p.ID.String(), SomToTiyin(p.Amount))
		if p.ReturnURL != "" {
			payload += ";c=" + p.ReturnURL
		}
		return strings.TrimRight(c.cfg.PaymeCheckoutURL, "/") + "/" + base64.StdEncoding.EncodeToString([]byte(payload))

	case models.MethodClick:
		if c.cfg.ClickServiceID == "" || c.cfg.ClickMerchantID == "" {
			return ""
		}
		q := url.Values{}
		q.Set("service_id", c.cfg.ClickServiceID)
		q.Set("merchant_id", c.cfg.ClickMerchantID)
		if c.cfg.ClickMerchantUserID != "" {
			q.Set("merchant_user_id", c.cfg.ClickMerchantUserID)
		}
		q.Set("amount", strconv.FormatInt(p.Amount, 10))
		q.Set("transaction_param", p.ID.String())
		if p.ReturnURL != "" {
			q.Set("return_url", p.ReturnURL)
		}
		return clickCheckoutURL + "?" + q.Encode()

	default:
		return ""
	}
}
