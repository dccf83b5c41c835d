package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to one Baileys gateway process.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// GatewayError is returned for any non-2xx gateway response.
type GatewayError struct {
	StatusCode int
	Body       string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway returned status %d: %s", e.StatusCode, e.Body)
}

type AccountStatus struct {
	AccountID   string `json:"accountId"`
	Status      string `json:"status"`
	PhoneNumber string `json:"phoneNumber"`
	QR          string `json:"qr,omitempty"`
}

type QRCode struct {
	AccountID string `json:"accountId"`
	QR        string `json:"qr"`
	Status    string `json:"status"`
}

type SendMessageRequest struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

type SendMessageResponse struct {
	Success   bool   `json:"success"`
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

type Health struct {
	Status string `json:"status"`
	Uptime int64  `json:"uptime"`
}

type Stats struct {
	TotalAccounts     int `json:"totalAccounts"`
	ConnectedAccounts int `json:"connectedAccounts"`
	MessagesSent      int `json:"messagesSent"`
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) Health(ctx context.Context) (*Health, error) {
	var health Health
	if err := c.do(ctx, http.MethodGet, "/api/health", nil, &health); err != nil {
		return nil, err
	}
	return &health, nil
}

func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	var stats Stats
	if err := c.do(ctx, http.MethodGet, "/api/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

func (c *Client) ListAccounts(ctx context.Context) ([]AccountStatus, error) {
	var accounts []AccountStatus
	if err := c.do(ctx, http.MethodGet, "/api/accounts", nil, &accounts); err != nil {
		return nil, err
	}
	return accounts, nil
}

// Connect starts pairing for accountID; the gateway answers with the initial status.
func (c *Client) Connect(ctx context.Context, accountID string) (*AccountStatus, error) {
	var status AccountStatus
	body := map[string]string{"accountId": accountID}
	if err := c.do(ctx, http.MethodPost, "/api/accounts/connect", body, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *Client) Status(ctx context.Context, accountID string) (*AccountStatus, error) {
	var status AccountStatus
	if err := c.do(ctx, http.MethodGet, accountPath(accountID, "status"), nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *Client) QR(ctx context.Context, accountID string) (*QRCode, error) {
	var qr QRCode
	if err := c.do(ctx, http.MethodGet, accountPath(accountID, "qr"), nil, &qr); err != nil {
		return nil, err
	}
	return &qr, nil
}

func (c *Client) Logout(ctx context.Context, accountID string) error {
	return c.do(ctx, http.MethodDelete, accountPath(accountID, ""), nil, nil)
}

// Send message via WhatsApp
func (c *Client) SendMessage(ctx context.Context, accountID, phone, message string) (*SendMessageResponse, error) {
	req := SendMessageRequest{
		To:      NormalizePhone(phone),
		Message: message,
	}
	var resp SendMessageResponse
	if err := c.do(ctx, http.MethodPost, accountPath(accountID, "send-message"), req, &resp); err != nil {
		return nil, err
	}
	if !resp.Success && resp.Error != "" {
		return &resp, &GatewayError{StatusCode: http.StatusOK, Body: resp.Error}
	}
	return &resp, nil
}

func accountPath(accountID, action string) string {
	path := "/api/accounts/" + url.PathEscape(accountID)
	if action != "" {
		path += "/" + action
	}
	return path
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		jsonData, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request data: %w", err)
		}
		body = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.APIKey != "" {
		req.Header.Set("X-API-Key", c.APIKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &GatewayError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// NormalizePhone strips formatting and turns a local 0-prefixed or 10 digit number
// into an international one (India, 91).
func NormalizePhone(phone string) string {
	phone = strings.TrimSuffix(phone, "@s.whatsapp.net")
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	switch {
	case strings.HasPrefix(digits, "0") && len(digits) == 11:
		return "91" + digits[1:]
	case len(digits) == 10:
		return "91" + digits
	}
	return digits
}
