package apple_iap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/awa/go-iap/appstore"
)

type ClientOptions struct {
	SharedSecret string
	// ProductionURL and SandboxURL default to Apple's verifyReceipt endpoints.
	ProductionURL string
	SandboxURL    string
}

// Client posts legacy receipts to Apple's verifyReceipt endpoint.
type Client struct {
	opts ClientOptions
}

func NewClient(opts ClientOptions) *Client {
	return &Client{opts: opts}
}

// StatusResponse is the part of every verifyReceipt answer needed before the
// body is trusted.
type StatusResponse struct {
	Status      int    `json:"status"`
	Environment string `json:"environment"`
	IsRetryable bool   `json:"is-retryable"`
}

// VerifyReceipt returns the raw verifyReceipt body. When sandbox is false the
// production endpoint is used and go-iap follows status 21007 to the sandbox.
func (c *Client) VerifyReceipt(ctx context.Context, receiptData string, sandbox bool) (*StatusResponse, json.RawMessage, error) {
	if receiptData == "" {
		return nil, nil, errors.New("receipt data is empty")
	}

	client := appstore.New()
	if c.opts.ProductionURL != "" {
		client.ProductionURL = c.opts.ProductionURL
	}
	if c.opts.SandboxURL != "" {
		client.SandboxURL = c.opts.SandboxURL
	}
	if sandbox {
		client.ProductionURL = client.SandboxURL
	}

	var body json.RawMessage
	err := client.Verify(ctx, appstore.IAPRequest{
		ReceiptData:            receiptData,
		Password:               c.opts.SharedSecret,
		ExcludeOldTransactions: false,
	}, &body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to verify receipt: %w", err)
	}

	var status StatusResponse
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, nil, fmt.Errorf("failed to decode verifyReceipt response: %w", err)
	}
	return &status, body, nil
}
