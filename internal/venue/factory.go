package venue

import (
	"sync"

	"fundpool/internal/config"
	"fundpool/internal/models"
)

// Factory создает и кэширует клиентов площадок по записям зеркала реестра
//
// Один клиент на площадку: клиент несет собственный rate limiter, и его
// пересоздание на каждый вызов обнуляло бы bucket
type Factory struct {
	cfg      config.CrankConfig
	security config.SecurityConfig

	mu      sync.Mutex
	clients map[string]*Client
}

// NewFactory создает фабрику клиентов площадок
func NewFactory(cfg config.CrankConfig, security config.SecurityConfig) *Factory {
	return &Factory{
		cfg:      cfg,
		security: security,
		clients:  make(map[string]*Client),
	}
}

// VenueFor возвращает клиента площадки, создавая его при первом обращении
func (f *Factory) VenueFor(market *models.MarketInfo) (Venue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if client, ok := f.clients[market.ID]; ok {
		return client, nil
	}

	clientCfg := ClientConfig{
		MarketID:          market.ID,
		BaseURL:           market.Address,
		APIKey:            f.security.VenueAPIKey,
		QueryTimeout:      f.cfg.VenueQueryTimeout,
		ExecuteTimeout:    f.cfg.VenueExecuteTimeout,
		QueryMaxRetries:   f.cfg.QueryMaxRetries,
		QueryRetryBackoff: f.cfg.QueryRetryBackoff,
		RateLimit:         f.cfg.VenueRateLimit,
		RateBurst:         f.cfg.VenueRateBurst,
	}

	var client *Client
	if f.security.VenueAPISecret != "" {
		var err error
		client, err = NewClientFromEncrypted(clientCfg, f.security.VenueAPISecret, f.security.EncryptionKey)
		if err != nil {
			return nil, err
		}
	} else {
		client = NewClient(clientCfg)
	}

	f.clients[market.ID] = client
	return client, nil
}

// Close закрывает всех созданных клиентов
func (f *Factory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, client := range f.clients {
		client.Close()
	}
	f.clients = make(map[string]*Client)
	return nil
}
