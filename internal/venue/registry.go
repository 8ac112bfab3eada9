package venue

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"fundpool/internal/models"
	"fundpool/pkg/retry"
)

// RegistryClient - HTTP клиент реестра торговых площадок
//
// Реестр - единственный источник истины о множестве площадок;
// локальная таблица markets синхронизируется с ним по расписанию
type RegistryClient struct {
	baseURL string
	http    *HTTPClient
	timeout time.Duration
	retryer *retry.Retryer
}

// NewRegistryClient создает клиента реестра
func NewRegistryClient(baseURL string, timeout time.Duration) *RegistryClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	cfg := retry.ConservativeConfig()
	cfg.RetryIf = retry.IsRetryable

	return &RegistryClient{
		baseURL: baseURL,
		http:    GetGlobalHTTPClient(),
		timeout: timeout,
		retryer: retry.NewRetryer(cfg),
	}
}

// registryMarket - площадка в формате API реестра
type registryMarket struct {
	ID      string `json:"id"`
	Address string `json:"address"`
	Token   string `json:"token"`
}

// ListMarkets возвращает актуальный список площадок
func (r *RegistryClient) ListMarkets(ctx context.Context) ([]*models.MarketInfo, error) {
	var raw []registryMarket

	err := r.retryer.Do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/v1/markets", nil)
		if err != nil {
			return retry.Permanent(err)
		}

		resp, err := r.http.DoWithTimeout(req, r.timeout)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return &VenueError{Market: "registry", Code: CodeTimeout, Message: "request timed out", Original: err}
			}
			return &VenueError{Market: "registry", Code: CodeUnavailable, Message: err.Error(), Original: err}
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return &VenueError{Market: "registry", Code: CodeUnavailable, Message: err.Error(), Original: err}
		}

		if resp.StatusCode >= 500 {
			return &VenueError{Market: "registry", Code: CodeUnavailable, Message: "registry unavailable: " + resp.Status}
		}
		if resp.StatusCode >= 400 {
			return retry.Permanent(&VenueError{Market: "registry", Code: CodeRejected, Message: string(body)})
		}

		var env envelope
		if err := jsonAPI.Unmarshal(body, &env); err != nil {
			return retry.Permanent(&VenueError{Market: "registry", Code: CodeBadResponse, Message: err.Error(), Original: err})
		}

		return jsonAPI.Unmarshal(env.Data, &raw)
	})
	if err != nil {
		return nil, err
	}

	markets := make([]*models.MarketInfo, 0, len(raw))
	for _, m := range raw {
		markets = append(markets, &models.MarketInfo{
			ID:      m.ID,
			Address: m.Address,
			Token:   m.Token,
		})
	}

	return markets, nil
}
