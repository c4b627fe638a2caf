package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rpcResult(t *testing.T, transfers []assetTransfer) []byte {
	t.Helper()
	result, err := json.Marshal(assetTransfersResult{Transfers: transfers})
	require.NoError(t, err)
	body, err := json.Marshal(rpcResponse{JSONRPC: "2.0", ID: 1, Result: result})
	require.NoError(t, err)
	return body
}

func TestAlchemyAssetTransfersConvertsNativeAndToken(t *testing.T) {
	nativeValue := 1.5
	symbol := "USDT"
	contract := "0xdac17f958d2ee523a2206206994597c13d831ec7"
	rawValue := "0x3e8" // 1000
	decimals := "0x3"

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "alchemy_getAssetTransfers", req.Method)

		w.Write(rpcResult(t, []assetTransfer{
			{
				Hash:     "0xaaa",
				From:     "0xAlice",
				To:       "0xBob",
				Value:    &nativeValue,
				Category: CategoryExternal,
				BlockNum: "0x10",
				Metadata: transferMetadata{BlockTimestamp: "2024-03-01T00:00:00Z"},
			},
			{
				Hash:     "0xbbb",
				From:     "0xAlice",
				To:       "0xCarol",
				Asset:    &symbol,
				Category: CategoryERC20,
				BlockNum: "0x11",
				RawContract: rawContract{
					Address:  &contract,
					Value:    &rawValue,
					Decimals: &decimals,
				},
			},
		}))
	}))
	defer server.Close()

	client := NewAlchemyClient(server.URL)
	transfers, err := client.AssetTransfers(context.Background(), assetTransfersParams{})
	require.NoError(t, err)
	require.Len(t, transfers, 2)

	native := transfers[0]
	require.NotNil(t, native.Value)
	assert.Equal(t, "1500000000000000000", *native.Value)
	assert.Nil(t, native.TokenValue)
	assert.Equal(t, "2024-03-01T00:00:00Z", native.Timestamp)

	token := transfers[1]
	assert.Nil(t, token.Value)
	require.NotNil(t, token.TokenValue)
	assert.InDelta(t, 1.0, *token.TokenValue, 1e-12)
	require.NotNil(t, token.TokenSymbol)
	assert.Equal(t, "USDT", *token.TokenSymbol)
	require.NotNil(t, token.TokenContractAddress)
	assert.Equal(t, contract, *token.TokenContractAddress)
}

func TestAlchemyTokenValueFallsBackToProviderValue(t *testing.T) {
	// No rawContract value or decimals on record: the pre-scaled value
	// from the provider is carried through as-is.
	preScaled := 42.5
	symbol := "DAI"

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(rpcResult(t, []assetTransfer{
			{Hash: "0xccc", Value: &preScaled, Asset: &symbol, Category: CategoryERC20},
		}))
	}))
	defer server.Close()

	client := NewAlchemyClient(server.URL)
	transfers, err := client.AssetTransfers(context.Background(), assetTransfersParams{})
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	require.NotNil(t, transfers[0].TokenValue)
	assert.Equal(t, 42.5, *transfers[0].TokenValue)
}

func TestAlchemyRetriesRateLimitThenSucceeds(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write(rpcResult(t, []assetTransfer{{Hash: "0xddd", Category: CategoryExternal}}))
	}))
	defer server.Close()

	client := NewAlchemyClient(server.URL,
		WithMaxRetries(3),
		WithRetryDelay(time.Millisecond))
	transfers, err := client.AssetTransfers(context.Background(), assetTransfersParams{})
	require.NoError(t, err)
	assert.Len(t, transfers, 1)
	assert.Equal(t, int64(3), calls.Load())
}

func TestAlchemyRateLimitExhausted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewAlchemyClient(server.URL,
		WithMaxRetries(1),
		WithRetryDelay(time.Millisecond))
	_, err := client.AssetTransfers(context.Background(), assetTransfersParams{})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindRateLimited))
}

func TestAlchemyServerErrorIsTransientWithoutRetry(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewAlchemyClient(server.URL, WithMaxRetries(3), WithRetryDelay(time.Millisecond))
	_, err := client.AssetTransfers(context.Background(), assetTransfersParams{})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindTransient))
	assert.Equal(t, int64(1), calls.Load())
}

func TestAlchemyRPCErrorIsUpstream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := json.Marshal(rpcResponse{
			JSONRPC: "2.0",
			ID:      1,
			Error:   &rpcError{Code: -32602, Message: "invalid params"},
		})
		require.NoError(t, err)
		w.Write(body)
	}))
	defer server.Close()

	client := NewAlchemyClient(server.URL)
	_, err := client.AssetTransfers(context.Background(), assetTransfersParams{})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindUpstream))
	assert.Contains(t, err.Error(), "invalid params")
}
