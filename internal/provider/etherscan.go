package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// DefaultEtherscanBaseURL is the v2 unified API endpoint.
const DefaultEtherscanBaseURL = "https://api.etherscan.io/v2/api"

// ethereumMainnetChainID selects mainnet on the unified v2 API.
const ethereumMainnetChainID = "1"

// EtherscanClient is the fallback provider: a flat native-transaction list,
// no internal calls, no token categories.
type EtherscanClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// EtherscanOption configures EtherscanClient.
type EtherscanOption func(*EtherscanClient)

// WithEtherscanBaseURL overrides the API endpoint (used by tests).
func WithEtherscanBaseURL(u string) EtherscanOption {
	return func(c *EtherscanClient) {
		c.baseURL = u
	}
}

// WithEtherscanHTTPClient sets a custom http.Client.
func WithEtherscanHTTPClient(client *http.Client) EtherscanOption {
	return func(c *EtherscanClient) {
		c.client = client
	}
}

// NewEtherscanClient creates a new Etherscan account API client.
func NewEtherscanClient(apiKey string, opts ...EtherscanOption) *EtherscanClient {
	c := &EtherscanClient{
		baseURL: DefaultEtherscanBaseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// etherscanResponse is the account API envelope. Result is a transaction
// list on success and a plain string on errors, hence the RawMessage.
type etherscanResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

type etherscanTx struct {
	Hash        string `json:"hash"`
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`       // wei, decimal string
	BlockNumber string `json:"blockNumber"` // decimal string
	TimeStamp   string `json:"timeStamp"`   // epoch seconds
}

// TxList fetches up to maxCount native transactions for an address,
// newest first.
func (c *EtherscanClient) TxList(ctx context.Context, address string, maxCount int) ([]RawTransfer, error) {
	const op = "txlist"

	params := url.Values{
		"apikey":     {c.apiKey},
		"chainid":    {ethereumMainnetChainID},
		"module":     {"account"},
		"action":     {"txlist"},
		"address":    {address},
		"startblock": {"0"},
		"endblock":   {"9999999999"},
		"page":       {"1"},
		"offset":     {strconv.Itoa(maxCount)},
		"sort":       {"desc"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, newError(KindUpstream, "etherscan", op, fmt.Errorf("create request: %w", err))
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, newError(KindTransient, "etherscan", op, fmt.Errorf("http request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newError(KindTransient, "etherscan", op, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode >= 500 {
		return nil, newError(KindTransient, "etherscan", op,
			fmt.Errorf("server status %d: %s", resp.StatusCode, truncate(body)))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, newError(KindUpstream, "etherscan", op,
			fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(body)))
	}

	var envelope etherscanResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, newError(KindUpstream, "etherscan", op, fmt.Errorf("unmarshal response: %w", err))
	}

	if envelope.Status != "1" {
		// Empty result is a status-0 "error" on this API.
		if envelope.Message == "No transactions found" {
			return nil, nil
		}
		return nil, newError(KindUpstream, "etherscan", op,
			fmt.Errorf("%s: %s", envelope.Message, truncate(envelope.Result)))
	}

	var txs []etherscanTx
	if err := json.Unmarshal(envelope.Result, &txs); err != nil {
		return nil, newError(KindUpstream, "etherscan", op, fmt.Errorf("unmarshal result: %w", err))
	}

	transfers := make([]RawTransfer, 0, len(txs))
	for _, tx := range txs {
		value := tx.Value
		transfers = append(transfers, RawTransfer{
			Hash:        tx.Hash,
			From:        tx.From,
			To:          tx.To,
			Value:       &value,
			BlockNumber: tx.BlockNumber,
			Timestamp:   tx.TimeStamp,
			Category:    CategoryExternal,
		})
	}
	return transfers, nil
}
