package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
)

// Default configuration values.
const (
	DefaultTimeout     = 20 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 1 * time.Second
	DefaultMaxDelay    = 10 * time.Second
	DefaultBackoffMult = 2.0
)

var weiPerETH = decimal.New(1, 18)

// AlchemyClient is the rich transfer provider: JSON-RPC 2.0 over HTTP,
// alchemy_getAssetTransfers with categorized results.
type AlchemyClient struct {
	endpoint    string
	client      *http.Client
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
	requestID   atomic.Uint64
}

// AlchemyOption configures AlchemyClient.
type AlchemyOption func(*AlchemyClient)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) AlchemyOption {
	return func(c *AlchemyClient) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts for rate-limited requests.
func WithMaxRetries(n int) AlchemyOption {
	return func(c *AlchemyClient) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) AlchemyOption {
	return func(c *AlchemyClient) {
		c.retryDelay = d
	}
}

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(client *http.Client) AlchemyOption {
	return func(c *AlchemyClient) {
		c.client = client
	}
}

// NewAlchemyClient creates a new Alchemy JSON-RPC client.
func NewAlchemyClient(endpoint string, opts ...AlchemyOption) *AlchemyClient {
	c := &AlchemyClient{
		endpoint:    endpoint,
		client:      &http.Client{Timeout: DefaultTimeout},
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// rpcRequest represents a JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

// rpcResponse represents a JSON-RPC 2.0 response.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// rpcError represents a JSON-RPC 2.0 error payload.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// assetTransfersParams is the parameter object for alchemy_getAssetTransfers.
type assetTransfersParams struct {
	FromBlock         string   `json:"fromBlock"`
	ToBlock           string   `json:"toBlock"`
	FromAddress       string   `json:"fromAddress,omitempty"`
	ToAddress         string   `json:"toAddress,omitempty"`
	Category          []string `json:"category"`
	WithMetadata      bool     `json:"withMetadata"`
	ExcludeZeroValue  bool     `json:"excludeZeroValue"`
	MaxCount          string   `json:"maxCount"`
	ContractAddresses []string `json:"contractAddresses,omitempty"`
}

type assetTransfersResult struct {
	Transfers []assetTransfer `json:"transfers"`
}

type assetTransfer struct {
	Hash        string           `json:"hash"`
	From        string           `json:"from"`
	To          string           `json:"to"`
	Value       *float64         `json:"value"`
	Asset       *string          `json:"asset"`
	Category    string           `json:"category"`
	BlockNum    string           `json:"blockNum"`
	RawContract rawContract      `json:"rawContract"`
	Metadata    transferMetadata `json:"metadata"`
}

type rawContract struct {
	Address  *string `json:"address"`
	Value    *string `json:"value"`   // hex raw amount
	Decimals *string `json:"decimal"` // hex decimals, e.g. "0x12"
}

type transferMetadata struct {
	BlockTimestamp string `json:"blockTimestamp"`
}

// call performs one JSON-RPC call, retrying only while rate limited.
// Server-side (5xx) and network failures classify as transient and are left
// to the adapter's fallback policy; the JSON-RPC error payload and client
// statuses classify as upstream.
func (c *AlchemyClient) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	reqID := c.requestID.Add(1)
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return newError(KindUpstream, "alchemy", method, fmt.Errorf("marshal request: %w", err))
	}

	delay := c.retryDelay
	var lastErr *Error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return newError(KindTransient, "alchemy", method, ctx.Err())
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return newError(KindUpstream, "alchemy", method, fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			return newError(KindTransient, "alchemy", method, fmt.Errorf("http request: %w", err))
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return newError(KindTransient, "alchemy", method, fmt.Errorf("read response: %w", err))
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			lastErr = newError(KindRateLimited, "alchemy", method, fmt.Errorf("rate limited (429)"))
			continue
		case resp.StatusCode >= 500:
			return newError(KindTransient, "alchemy", method,
				fmt.Errorf("server status %d: %s", resp.StatusCode, truncate(respBody)))
		case resp.StatusCode != http.StatusOK:
			return newError(KindUpstream, "alchemy", method,
				fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(respBody)))
		}

		var rpcResp rpcResponse
		if err := json.Unmarshal(respBody, &rpcResp); err != nil {
			return newError(KindUpstream, "alchemy", method, fmt.Errorf("unmarshal response: %w", err))
		}

		if rpcResp.Error != nil {
			return newError(KindUpstream, "alchemy", method, rpcResp.Error)
		}

		if result != nil && rpcResp.Result != nil {
			if err := json.Unmarshal(rpcResp.Result, result); err != nil {
				return newError(KindUpstream, "alchemy", method, fmt.Errorf("unmarshal result: %w", err))
			}
		}

		return nil
	}

	return lastErr
}

// AssetTransfers fetches one page of categorized transfers.
func (c *AlchemyClient) AssetTransfers(ctx context.Context, p assetTransfersParams) ([]RawTransfer, error) {
	var result assetTransfersResult
	if err := c.call(ctx, "alchemy_getAssetTransfers", []interface{}{p}, &result); err != nil {
		return nil, err
	}

	transfers := make([]RawTransfer, 0, len(result.Transfers))
	for _, item := range result.Transfers {
		transfers = append(transfers, convertAssetTransfer(item))
	}
	return transfers, nil
}

// convertAssetTransfer maps an alchemy transfer item onto a RawTransfer.
// Token amounts are scaled by the on-record decimals when raw value and
// decimals are both present, otherwise the provider's pre-scaled value is
// carried through. Native values are converted back to a wei string so the
// normalizer sees one shape regardless of provider.
func convertAssetTransfer(item assetTransfer) RawTransfer {
	t := RawTransfer{
		Hash:        item.Hash,
		From:        item.From,
		To:          item.To,
		BlockNumber: item.BlockNum,
		Timestamp:   item.Metadata.BlockTimestamp,
		Category:    item.Category,
	}

	if item.Category == CategoryERC20 {
		t.TokenSymbol = item.Asset
		t.TokenContractAddress = item.RawContract.Address

		if v := scaledTokenValue(item.RawContract); v != nil {
			t.TokenValue = v
		} else if item.Value != nil {
			t.TokenValue = item.Value
		}
		return t
	}

	if item.Value != nil {
		wei := decimal.NewFromFloat(*item.Value).Mul(weiPerETH).Truncate(0).String()
		t.Value = &wei
	}
	return t
}

// scaledTokenValue computes rawValue / 10^decimals exactly.
// Returns nil when either field is missing or undecodable.
func scaledTokenValue(rc rawContract) *float64 {
	if rc.Value == nil || rc.Decimals == nil {
		return nil
	}

	raw, ok := new(big.Int).SetString(strings.TrimPrefix(*rc.Value, "0x"), 16)
	if !ok {
		return nil
	}

	dec, err := decodeDecimals(*rc.Decimals)
	if err != nil {
		return nil
	}

	v, _ := decimal.NewFromBigInt(raw, 0).Div(decimal.New(1, int32(dec))).Float64()
	return &v
}

// decodeDecimals accepts hex ("0x12") or plain decimal ("18") token decimals.
func decodeDecimals(s string) (uint64, error) {
	if strings.HasPrefix(s, "0x") {
		return hexutil.DecodeUint64(s)
	}
	var dec uint64
	if _, err := fmt.Sscanf(s, "%d", &dec); err != nil {
		return 0, err
	}
	return dec, nil
}

func truncate(body []byte) string {
	const limit = 256
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}
