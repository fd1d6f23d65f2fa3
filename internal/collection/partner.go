package collection

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Submission is what the partner receives on hand-off.
type Submission struct {
	InvoiceID     string          `json:"invoiceId"`
	InvoiceNumber string          `json:"invoiceNumber"`
	CustomerName  string          `json:"customerName"`
	Amount        decimal.Decimal `json:"amount"`
	DueDate       time.Time       `json:"dueDate"`
	ReminderCount int             `json:"reminderCount"`
}

// Partner submits cases to a collection agency and returns its case reference.
type Partner interface {
	Submit(ctx context.Context, sub Submission) (string, error)
}

// HTTPPartner talks to the partner's JSON API.
type HTTPPartner struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTPPartner constructs a partner client.
func NewHTTPPartner(baseURL, token string) *HTTPPartner {
	return &HTTPPartner{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Ping checks if the partner API is reachable.
func (p *HTTPPartner) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/health", p.baseURL), nil)
	if err != nil {
		return err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("collection partner returned status %d", resp.StatusCode)
	}
	return nil
}

// Submit posts the case and returns the partner's case id.
func (p *HTTPPartner) Submit(ctx context.Context, sub Submission) (string, error) {
	body, err := json.Marshal(sub)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/cases", p.baseURL), bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("collection partner: submit %s failed with status %d: %s", sub.InvoiceNumber, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	var out struct {
		CaseID string `json:"caseId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("collection partner: decode response: %w", err)
	}
	if out.CaseID == "" {
		return "", fmt.Errorf("collection partner: empty case id for %s", sub.InvoiceNumber)
	}
	return out.CaseID, nil
}

// LocalPartner issues PAIR-nnnnn references without a remote call. It is used
// in demo mode and when no partner URL is configured.
type LocalPartner struct{}

// Submit returns a fresh PAIR reference.
func (LocalPartner) Submit(ctx context.Context, sub Submission) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	n, err := rand.Int(rand.Reader, big.NewInt(90000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("PAIR-%05d", n.Int64()+10000), nil
}
