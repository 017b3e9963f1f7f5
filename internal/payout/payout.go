// Package payout talks to the payment rail's HTTP API. The rail holds the
// treasury key; this client only asks it to build, sign, and broadcast
// transfers.
package payout

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

	"github.com/shopspring/decimal"
)

// Rail is the settlement boundary consumed by the pipeline and the
// treasury endpoint.
type Rail interface {
	Send(ctx context.Context, to string, amount decimal.Decimal, currency string) (txHash string, err error)
	Balance(ctx context.Context, address string) (Balances, error)
	Address(ctx context.Context) (string, error)
}

// Balances holds the rail wallet balances as decimal strings.
type Balances struct {
	ETH  string `json:"ETH"`
	USDC string `json:"USDC"`
}

// Client is an HTTP client for the rail.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient creates a rail client. The timeout bounds every individual
// request, not the composed send+broadcast pair.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

type sendRequest struct {
	To       string `json:"to"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

type sendResponse struct {
	Tx string `json:"tx"`
}

type broadcastRequest struct {
	Tx string `json:"tx"`
}

type broadcastResponse struct {
	TxHash string `json:"txHash"`
}

type balanceResponse struct {
	Balances Balances `json:"balances"`
}

type addressResponse struct {
	Address string `json:"address"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Send builds a transfer via the send skill and submits it via the
// broadcast skill, returning the resulting transaction hash. A transfer
// that broadcasts but returns no hash is an error with no reference to
// record.
func (c *Client) Send(ctx context.Context, to string, amount decimal.Decimal, currency string) (string, error) {
	var sent sendResponse
	if err := c.post(ctx, "/skills/send", sendRequest{To: to, Amount: amount.String(), Currency: currency}, &sent); err != nil {
		return "", fmt.Errorf("send skill: %w", err)
	}
	if sent.Tx == "" {
		return "", fmt.Errorf("send skill returned no transaction")
	}

	var broadcast broadcastResponse
	if err := c.post(ctx, "/skills/broadcast", broadcastRequest{Tx: sent.Tx}, &broadcast); err != nil {
		return "", fmt.Errorf("broadcast skill: %w", err)
	}
	if broadcast.TxHash == "" {
		return "", fmt.Errorf("broadcast skill returned no transaction hash")
	}
	return broadcast.TxHash, nil
}

// Balance returns the rail wallet balances for an address.
func (c *Client) Balance(ctx context.Context, address string) (Balances, error) {
	var resp balanceResponse
	if err := c.get(ctx, "/skills/balance/"+url.PathEscape(address), &resp); err != nil {
		return Balances{}, fmt.Errorf("balance skill: %w", err)
	}
	return resp.Balances, nil
}

// Address returns the treasury address held by the rail.
func (c *Client) Address(ctx context.Context) (string, error) {
	var resp addressResponse
	if err := c.get(ctx, "/skills/address", &resp); err != nil {
		return "", fmt.Errorf("address skill: %w", err)
	}
	if resp.Address == "" {
		return "", fmt.Errorf("address skill returned no address")
	}
	return resp.Address, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var railErr errorResponse
		if json.Unmarshal(data, &railErr) == nil && railErr.Error != "" {
			return fmt.Errorf("rail returned %d: %s", resp.StatusCode, railErr.Error)
		}
		return fmt.Errorf("rail returned %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
