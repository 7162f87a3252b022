package globelogix

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
	"golang.org/x/time/rate"
)

var (
	_ FundsTransferProvider = &HTTPFundsProvider{}
	_ BatchTransferProvider = &HTTPFundsProvider{}
)

// HTTPFundsProvider talks to a custody service over JSON HTTP. Requests are paced by a token bucket so bursts of
// payouts or pulls stay within the service's limits.
type HTTPFundsProvider struct {
	baseURL    string
	apiKey     string
	asset      string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewHTTPFundsProvider creates a provider from the base system configuration.
func NewHTTPFundsProvider(config *BaseSystemConfig) *HTTPFundsProvider {
	timeout := time.Duration(config.ExternalTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	asset := config.FundsProviderAsset
	if asset == "" {
		asset = "ETH"
	}
	limit := rate.Inf
	burst := 1
	if config.FundsProviderRPS > 0 {
		limit = rate.Limit(config.FundsProviderRPS)
		burst = int(config.FundsProviderRPS)
		if burst < 1 {
			burst = 1
		}
	}

	return &HTTPFundsProvider{
		baseURL: strings.TrimRight(config.FundsProviderURL, "/"),
		apiKey:  config.FundsProviderAPIKey,
		asset:   asset,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiter: rate.NewLimiter(limit, burst),
	}
}

type transferRequest struct {
	Asset  string          `json:"asset"`
	To     string          `json:"to"`
	Amount decimal.Decimal `json:"amount"`
}

type batchTransferRequest struct {
	Asset     string      `json:"asset"`
	Transfers []*Transfer `json:"transfers"`
}

type pullRequest struct {
	Asset      string          `json:"asset"`
	Permission json.RawMessage `json:"permission"`
	Amount     decimal.Decimal `json:"amount"`
}

type balanceResponse struct {
	Asset   string          `json:"asset"`
	Balance decimal.Decimal `json:"balance"`
}

func (p *HTTPFundsProvider) Transfer(ctx context.Context, to string, amount decimal.Decimal) (*TransferResult, error) {
	result := &TransferResult{}
	if err := p.do(ctx, http.MethodPost, "/transfers", &transferRequest{Asset: p.asset, To: to, Amount: amount}, result); err != nil {
		return nil, err
	}
	return result, nil
}

func (p *HTTPFundsProvider) BatchTransfer(ctx context.Context, transfers []*Transfer) (*TransferResult, error) {
	result := &TransferResult{}
	if err := p.do(ctx, http.MethodPost, "/transfers/batch", &batchTransferRequest{Asset: p.asset, Transfers: transfers}, result); err != nil {
		return nil, err
	}
	return result, nil
}

func (p *HTTPFundsProvider) PullAuthorizedFunds(ctx context.Context, permission json.RawMessage, amount decimal.Decimal) (*TransferResult, error) {
	result := &TransferResult{}
	if err := p.do(ctx, http.MethodPost, "/spend-permissions/pull", &pullRequest{Asset: p.asset, Permission: permission, Amount: amount}, result); err != nil {
		return nil, err
	}
	return result, nil
}

func (p *HTTPFundsProvider) Balance(ctx context.Context) (decimal.Decimal, error) {
	result := &balanceResponse{}
	if err := p.do(ctx, http.MethodGet, "/balance?asset="+url.QueryEscape(p.asset), nil, result); err != nil {
		return decimal.Zero, err
	}
	return result.Balance, nil
}

func (p *HTTPFundsProvider) do(ctx context.Context, method, path string, body, out any) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait for rate limit: %w", err)
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("request failed: %s - %s", resp.Status, strings.TrimSpace(string(respBody)))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}
