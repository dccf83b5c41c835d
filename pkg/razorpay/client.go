package razorpay

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Order struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"` // paise
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
	Mock     bool   `json:"mock,omitempty"`
}

type Client struct {
	cfg        Config
	mock       bool
	HTTPClient *http.Client
}

// NewClient enters mock mode automatically when credentials are placeholders.
func NewClient(cfg Config) *Client {
	return &Client{
		cfg:  cfg,
		mock: cfg.IsPlaceholder(),
		HTTPClient: &http.Client{
			Timeout: 20 * time.Second,
		},
	}
}

func (c *Client) MockMode() bool {
	return c.mock
}

func (c *Client) KeyID() string {
	return c.cfg.KeyID
}

func (c *Client) CreateOrder(ctx context.Context, amountPaise int64, receipt string, notes map[string]string) (*Order, error) {
	if c.mock {
		return &Order{
			ID:       "order_mock_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:14],
			Amount:   amountPaise,
			Currency: c.cfg.Currency,
			Receipt:  receipt,
			Status:   "created",
			Mock:     true,
		}, nil
	}

	payload, err := json.Marshal(map[string]interface{}{
		"amount":   amountPaise,
		"currency": c.cfg.Currency,
		"receipt":  receipt,
		"notes":    notes,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal order: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.cfg.BaseURL, "/")+"/v1/orders", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.cfg.KeyID, c.cfg.KeySecret)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach razorpay: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("razorpay returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var order Order
	if err := json.Unmarshal(body, &order); err != nil {
		return nil, fmt.Errorf("failed to parse order: %w", err)
	}
	return &order, nil
}

// VerifySignature checks HMAC-SHA256(order_id|payment_id) against the key secret.
func (c *Client) VerifySignature(orderID, paymentID, signature string) bool {
	if c.mock {
		return true
	}
	return hmac.Equal([]byte(Sign(c.cfg.KeySecret, orderID, paymentID)), []byte(signature))
}

func Sign(secret, orderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}
