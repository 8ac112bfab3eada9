package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"fundpool/internal/engine"
	"fundpool/internal/models"
	"fundpool/internal/repository"
)

// ErrMockDatabase - инфраструктурная ошибка для негативных сценариев
var ErrMockDatabase = errors.New("mock database error")

// ============ Mock PoolService ============

// MockPoolService мок для service.PoolServiceInterface
type MockPoolService struct {
	cfg *models.PoolConfig

	initErr   error
	getErr    error
	updateErr error
	acceptErr error
}

// NewMockPoolService создает мок с преднастроенной конфигурацией
func NewMockPoolService() *MockPoolService {
	return &MockPoolService{
		cfg: &models.PoolConfig{
			ID:             1,
			Admin:          "adminwallet00001",
			Factory:        "factorywallet001",
			Leader:         "leaderwallet0001",
			Name:           "alpha pool",
			CommissionRate: decimal.NewFromFloat(0.1),
		},
	}
}

func (m *MockPoolService) GetConfig() (*models.PoolConfig, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	if m.cfg == nil {
		return nil, repository.ErrPoolNotFound
	}
	return m.cfg, nil
}

func (m *MockPoolService) InitPool(role string, cfg *models.PoolConfig) error {
	if m.initErr != nil {
		return m.initErr
	}
	m.cfg = cfg
	return nil
}

func (m *MockPoolService) UpdateConfig(role string, upd *models.ConfigUpdate) (*models.PoolConfig, error) {
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	if upd.Name != nil {
		m.cfg.Name = *upd.Name
	}
	if upd.PendingAdmin != nil {
		m.cfg.PendingAdmin = upd.PendingAdmin
	}
	return m.cfg, nil
}

func (m *MockPoolService) AcceptAdmin(wallet string) (*models.PoolConfig, error) {
	if m.acceptErr != nil {
		return nil, m.acceptErr
	}
	m.cfg.Admin = wallet
	m.cfg.PendingAdmin = nil
	return m.cfg, nil
}

func (m *MockPoolService) UpdateLeader(role string, upd *models.FactoryConfigUpdate) (*models.PoolConfig, error) {
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	if upd.Leader != nil {
		m.cfg.Leader = *upd.Leader
	}
	return m.cfg, nil
}

// ============ Mock Engine ============

// MockEngine мок для EngineInterface
type MockEngine struct {
	records   map[int64]*models.QueueItemRecord
	nextID    int64
	summary   *engine.CrankSummary
	marker    *models.ReplyMarker
	balance   *models.Balance
	totals    *models.Totals
	shareVal  *models.LpTokenValue
	markets   []*models.MarketInfo
	positions *models.MarketPositions
	work      *models.MarketWorkInfo
	sync      *models.RegistrySyncStatus
	report    *engine.ConsistencyReport

	enqueueErr error
	queueErr   error
	replyErr   error
	queryErr   error

	replies []*models.VenueReply
	cranks  int
}

// NewMockEngine создает мок движка
func NewMockEngine() *MockEngine {
	return &MockEngine{
		records: make(map[int64]*models.QueueItemRecord),
		nextID:  1,
		summary: &engine.CrankSummary{StartedAt: time.Now()},
		report:  &engine.ConsistencyReport{OK: true},
	}
}

func (m *MockEngine) Crank(ctx context.Context) *engine.CrankSummary {
	m.cranks++
	return m.summary
}

func (m *MockEngine) Enqueue(wallet string, item *models.QueueItem) (*models.QueueItemRecord, error) {
	if m.enqueueErr != nil {
		return nil, m.enqueueErr
	}
	if wallet == "" {
		return nil, models.ErrEmptyWallet
	}
	if err := item.Validate(); err != nil {
		return nil, err
	}
	direction, err := models.Classify(item.Kind)
	if err != nil {
		return nil, err
	}

	rec := &models.QueueItemRecord{
		ID:        m.nextID,
		Direction: direction,
		Wallet:    wallet,
		Item:      *item,
		Status:    models.StatusPending,
		CreatedAt: time.Now(),
	}
	m.records[m.nextID] = rec
	m.nextID++
	return rec, nil
}

func (m *MockEngine) QueueStatus(direction string, startAfter int64, limit int) (*models.QueueStatus, error) {
	if m.queueErr != nil {
		return nil, m.queueErr
	}
	status := &models.QueueStatus{ProcessedTill: map[string]int64{
		models.DirIncrease: 0,
		models.DirDecrease: 0,
	}}
	for _, rec := range m.records {
		if rec.Direction == direction && rec.ID > startAfter {
			status.Items = append(status.Items, rec)
		}
	}
	return status, nil
}

func (m *MockEngine) WalletQueue(wallet string, startAfter int64, limit int) (*models.QueueStatus, error) {
	if m.queueErr != nil {
		return nil, m.queueErr
	}
	if wallet == "" {
		return nil, models.ErrEmptyWallet
	}
	status := &models.QueueStatus{ProcessedTill: map[string]int64{
		models.DirIncrease: 0,
		models.DirDecrease: 0,
	}}
	for _, rec := range m.records {
		if rec.Wallet == wallet && rec.ID > startAfter {
			status.Items = append(status.Items, rec)
		}
	}
	return status, nil
}

func (m *MockEngine) OnReply(reply *models.VenueReply) error {
	if m.replyErr != nil {
		return m.replyErr
	}
	m.replies = append(m.replies, reply)
	return nil
}

func (m *MockEngine) AwaitingReply() (*models.ReplyMarker, error) {
	return m.marker, nil
}

func (m *MockEngine) Balance(wallet, token string) (*models.Balance, error) {
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	if m.balance != nil {
		return m.balance, nil
	}
	return &models.Balance{Wallet: wallet, Token: token}, nil
}

func (m *MockEngine) Totals(token string) (*models.Totals, error) {
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	if m.totals != nil {
		return m.totals, nil
	}
	return &models.Totals{Token: token}, nil
}

func (m *MockEngine) CurrentSharePrice(token string) (*models.LpTokenValue, error) {
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	if m.shareVal != nil {
		return m.shareVal, nil
	}
	return &models.LpTokenValue{Token: token, Value: decimal.NewFromInt(1)}, nil
}

func (m *MockEngine) Markets() ([]*models.MarketInfo, error) {
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	return m.markets, nil
}

func (m *MockEngine) RegistrySync() (*models.RegistrySyncStatus, error) {
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	if m.sync != nil {
		return m.sync, nil
	}
	return &models.RegistrySyncStatus{Status: models.RegistrySyncIdle}, nil
}

func (m *MockEngine) MarketPositions(marketID string) (*models.MarketPositions, error) {
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	if m.positions != nil {
		return m.positions, nil
	}
	return &models.MarketPositions{MarketID: marketID}, nil
}

func (m *MockEngine) MarketWork(marketID string) (*models.MarketWorkInfo, error) {
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	return m.work, nil
}

func (m *MockEngine) ScheduleReconcile(marketID string) (bool, error) {
	if m.queryErr != nil {
		return false, m.queryErr
	}
	return true, nil
}

func (m *MockEngine) CheckConsistency(tokens []string) (*engine.ConsistencyReport, error) {
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	return m.report, nil
}
