package globelogix

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type custodyRequest struct {
	method string
	path   string
	query  string
	auth   string
	body   map[string]any
}

func newTestCustodyServer(t *testing.T, handler http.HandlerFunc) (*HTTPFundsProvider, *[]custodyRequest) {
	var mu sync.Mutex
	requests := make([]custodyRequest, 0)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorded := custodyRequest{
			method: r.Method,
			path:   r.URL.Path,
			query:  r.URL.RawQuery,
			auth:   r.Header.Get("Authorization"),
		}
		data, _ := io.ReadAll(r.Body)
		if len(data) > 0 {
			_ = json.Unmarshal(data, &recorded.body)
		}
		mu.Lock()
		requests = append(requests, recorded)
		mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	provider := NewHTTPFundsProvider(&BaseSystemConfig{
		FundsProviderURL:    server.URL + "/",
		FundsProviderAPIKey: "secret",
		ExternalTimeoutSec:  5,
	})
	return provider, &requests
}

func TestHTTPFundsProvider_Transfer(t *testing.T) {
	provider, requests := newTestCustodyServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"transaction_ref":"0xtx"}`))
	})

	result, err := provider.Transfer(context.Background(), "0xabc", decimal.RequireFromString("0.15"))
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "0xtx", result.TransactionRef)

	require.Len(t, *requests, 1)
	request := (*requests)[0]
	assert.Equal(t, http.MethodPost, request.method)
	assert.Equal(t, "/transfers", request.path)
	assert.Equal(t, "Bearer secret", request.auth)
	assert.Equal(t, "ETH", request.body["asset"])
	assert.Equal(t, "0xabc", request.body["to"])
	assert.Equal(t, "0.15", request.body["amount"])
}

func TestHTTPFundsProvider_BatchAndPull(t *testing.T) {
	provider, requests := newTestCustodyServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"transaction_ref":"0xbatch"}`))
	})
	ctx := context.Background()

	result, err := provider.BatchTransfer(ctx, []*Transfer{
		{To: "0xa", Amount: decimal.RequireFromString("0.2")},
		{To: "0xb", Amount: decimal.RequireFromString("0.1")},
	})
	require.NoError(t, err)
	assert.Equal(t, "0xbatch", result.TransactionRef)

	_, err = provider.PullAuthorizedFunds(ctx, json.RawMessage(`{"account":"0xa"}`), decimal.RequireFromString("0.01"))
	require.NoError(t, err)

	require.Len(t, *requests, 2)
	assert.Equal(t, "/transfers/batch", (*requests)[0].path)
	transfers, ok := (*requests)[0].body["transfers"].([]any)
	require.True(t, ok)
	assert.Len(t, transfers, 2)

	assert.Equal(t, "/spend-permissions/pull", (*requests)[1].path)
	assert.Equal(t, map[string]any{"account": "0xa"}, (*requests)[1].body["permission"])
	assert.Equal(t, "0.01", (*requests)[1].body["amount"])
}

func TestHTTPFundsProvider_Balance(t *testing.T) {
	provider, requests := newTestCustodyServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"asset":"ETH","balance":"12.5"}`))
	})

	balance, err := provider.Balance(context.Background())
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.RequireFromString("12.5")))

	require.Len(t, *requests, 1)
	assert.Equal(t, http.MethodGet, (*requests)[0].method)
	assert.Equal(t, "/balance", (*requests)[0].path)
	assert.Equal(t, "asset=ETH", (*requests)[0].query)
}

func TestHTTPFundsProvider_Errors(t *testing.T) {
	provider, _ := newTestCustodyServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("node syncing\n"))
	})

	_, err := provider.Transfer(context.Background(), "0xabc", decimal.NewFromInt(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "node syncing")

	_, err = provider.Balance(context.Background())
	assert.Error(t, err)
}

func TestHTTPFundsProvider_Rejection(t *testing.T) {
	provider, _ := newTestCustodyServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"error":"insufficient funds"}`))
	})

	result, err := provider.Transfer(context.Background(), "0xabc", decimal.NewFromInt(1))
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "insufficient funds", result.Error)
}
