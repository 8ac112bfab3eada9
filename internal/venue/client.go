package venue

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"

	"fundpool/internal/models"
	"fundpool/pkg/crypto"
	"fundpool/pkg/ratelimit"
	"fundpool/pkg/retry"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// ClientConfig - параметры клиента одной площадки
type ClientConfig struct {
	MarketID string
	BaseURL  string
	APIKey   string
	// APISecret подписывает запросы; хранится в БД в зашифрованном виде
	APISecret string

	QueryTimeout   time.Duration // статусные запросы
	ExecuteTimeout time.Duration // исполняющие вызовы

	// Retry только статусных запросов; Execute не повторяется никогда:
	// повтор отложенного вызова означал бы двойное исполнение
	QueryMaxRetries   int
	QueryRetryBackoff time.Duration

	RateLimit float64
	RateBurst float64
}

// Client - HTTP клиент одной торговой площадки
type Client struct {
	cfg     ClientConfig
	http    *HTTPClient
	limiter *ratelimit.RateLimiter
	retryer *retry.Retryer
}

// NewClient создает клиента площадки
func NewClient(cfg ClientConfig) *Client {
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 5 * time.Second
	}
	if cfg.ExecuteTimeout <= 0 {
		cfg.ExecuteTimeout = 15 * time.Second
	}

	retryCfg := retry.DefaultConfig()
	if cfg.QueryMaxRetries > 0 {
		retryCfg.MaxRetries = cfg.QueryMaxRetries
	}
	if cfg.QueryRetryBackoff > 0 {
		retryCfg.InitialDelay = cfg.QueryRetryBackoff
	}
	retryCfg.RetryIf = retry.IsRetryable

	return &Client{
		cfg:     cfg,
		http:    GetGlobalHTTPClient(),
		limiter: ratelimit.NewRateLimiter(cfg.RateLimit, cfg.RateBurst),
		retryer: retry.NewRetryer(retryCfg),
	}
}

// NewClientFromEncrypted создает клиента, расшифровывая API secret ключом из конфига
func NewClientFromEncrypted(cfg ClientConfig, encryptedSecret, encryptionKey string) (*Client, error) {
	secret, err := crypto.DecryptWithKeyString(encryptedSecret, encryptionKey)
	if err != nil {
		return nil, err
	}
	cfg.APISecret = secret
	return NewClient(cfg), nil
}

// MarketID возвращает идентификатор площадки
func (c *Client) MarketID() string {
	return c.cfg.MarketID
}

// Close закрывает клиента
// Connection pool глобальный, поэтому здесь нечего освобождать
func (c *Client) Close() error {
	return nil
}

// sign создает подпись запроса: HMAC-SHA256(timestamp + method + path + body)
func (c *Client) sign(timestamp, method, path string, body []byte) string {
	h := hmac.New(sha256.New, []byte(c.cfg.APISecret))
	h.Write([]byte(timestamp))
	h.Write([]byte(method))
	h.Write([]byte(path))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// envelope - стандартный конверт ответа площадки
type envelope struct {
	Code    string              `json:"code"`
	Message string              `json:"message"`
	Data    jsoniter.RawMessage `json:"data"`
}

// doRequest выполняет один HTTP запрос с подписью и разбором конверта
func (c *Client) doRequest(ctx context.Context, method, path string, params url.Values, body interface{}, timeout time.Duration) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	reqURL := c.cfg.BaseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = jsonAPI.Marshal(body)
		if err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}

	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", c.cfg.APIKey)
	req.Header.Set("X-Timestamp", timestamp)
	req.Header.Set("X-Signature", c.sign(timestamp, method, path, payload))

	resp, err := c.http.DoWithTimeout(req, timeout)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &VenueError{Market: c.cfg.MarketID, Code: CodeTimeout, Message: "request timed out", Original: err}
		}
		return nil, &VenueError{Market: c.cfg.MarketID, Code: CodeUnavailable, Message: err.Error(), Original: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &VenueError{Market: c.cfg.MarketID, Code: CodeUnavailable, Message: err.Error(), Original: err}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &VenueError{Market: c.cfg.MarketID, Code: CodeRateLimited, Message: "rate limited"}
	case resp.StatusCode >= 500:
		return nil, &VenueError{Market: c.cfg.MarketID, Code: CodeUnavailable, Message: "venue unavailable: " + resp.Status}
	case resp.StatusCode >= 400:
		return nil, &VenueError{Market: c.cfg.MarketID, Code: CodeRejected, Message: string(raw)}
	}

	var env envelope
	if err := jsonAPI.Unmarshal(raw, &env); err != nil {
		return nil, &VenueError{Market: c.cfg.MarketID, Code: CodeBadResponse, Message: err.Error(), Original: err}
	}

	if env.Code != "" && env.Code != "ok" {
		return nil, &VenueError{Market: c.cfg.MarketID, Code: CodeRejected, Message: env.Message}
	}

	return env.Data, nil
}

// query выполняет статусный запрос с retry
func (c *Client) query(ctx context.Context, path string, params url.Values, out interface{}) error {
	return c.retryer.Do(ctx, func() error {
		data, err := c.doRequest(ctx, http.MethodGet, path, params, nil, c.cfg.QueryTimeout)
		if err != nil {
			return err
		}
		return jsonAPI.Unmarshal(data, out)
	})
}

// venuePosition - позиция в формате API площадки
type venuePosition struct {
	ID               string `json:"id"`
	Side             string `json:"side"`
	ActiveCollateral string `json:"active_collateral"`
	PnlCollateral    string `json:"pnl_collateral"`
	PnlUsd           string `json:"pnl_usd"`
}

// QueryPositions возвращает позиции пула по данным площадки
func (c *Client) QueryPositions(ctx context.Context) ([]*models.PositionInfo, error) {
	var raw []venuePosition
	if err := c.query(ctx, "/v1/positions", nil, &raw); err != nil {
		return nil, err
	}

	positions := make([]*models.PositionInfo, 0, len(raw))
	for _, p := range raw {
		collateral, err := decimal.NewFromString(p.ActiveCollateral)
		if err != nil {
			return nil, &VenueError{Market: c.cfg.MarketID, Code: CodeBadResponse, Message: "bad collateral: " + p.ActiveCollateral, Original: err}
		}
		pnlCollateral, err := decimal.NewFromString(p.PnlCollateral)
		if err != nil {
			return nil, &VenueError{Market: c.cfg.MarketID, Code: CodeBadResponse, Message: "bad pnl: " + p.PnlCollateral, Original: err}
		}
		pnlUsd, err := decimal.NewFromString(p.PnlUsd)
		if err != nil {
			return nil, &VenueError{Market: c.cfg.MarketID, Code: CodeBadResponse, Message: "bad pnl usd: " + p.PnlUsd, Original: err}
		}

		positions = append(positions, &models.PositionInfo{
			ID:               p.ID,
			MarketID:         c.cfg.MarketID,
			Side:             p.Side,
			ActiveCollateral: collateral,
			PnlCollateral:    pnlCollateral,
			PnlUsd:           pnlUsd,
		})
	}

	return positions, nil
}

// QueryYield возвращает доход, накопленный на площадке
func (c *Client) QueryYield(ctx context.Context) (decimal.Decimal, error) {
	var out struct {
		Yield string `json:"yield"`
	}
	if err := c.query(ctx, "/v1/yield", nil, &out); err != nil {
		return decimal.Zero, err
	}

	amount, err := decimal.NewFromString(out.Yield)
	if err != nil {
		return decimal.Zero, &VenueError{Market: c.cfg.MarketID, Code: CodeBadResponse, Message: "bad yield: " + out.Yield, Original: err}
	}

	return amount, nil
}

// Execute отправляет отложенный исполняющий вызов
// Вызов НЕ повторяется при ошибке: результат придет отдельным reply,
// и повтор означал бы риск двойного исполнения
func (c *Client) Execute(ctx context.Context, req *ExecuteRequest) (string, error) {
	data, err := c.doRequest(ctx, http.MethodPost, "/v1/execute", nil, req, c.cfg.ExecuteTimeout)
	if err != nil {
		return "", err
	}

	var out struct {
		AckID string `json:"ack_id"`
	}
	if err := jsonAPI.Unmarshal(data, &out); err != nil {
		return "", &VenueError{Market: c.cfg.MarketID, Code: CodeBadResponse, Message: err.Error(), Original: err}
	}

	return out.AckID, nil
}
