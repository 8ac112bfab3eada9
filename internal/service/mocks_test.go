package service

import (
	"fundpool/internal/models"
	"fundpool/internal/repository"
)

// ============ Mock PoolRepository ============

// MockPoolRepository повторяет семантику реального репозитория
// над единственной записью конфигурации в памяти
type MockPoolRepository struct {
	cfg *models.PoolConfig

	initErr   error
	getErr    error
	updateErr error
}

func NewMockPoolRepository() *MockPoolRepository {
	return &MockPoolRepository{}
}

func (m *MockPoolRepository) Init(cfg *models.PoolConfig) error {
	if m.initErr != nil {
		return m.initErr
	}
	if m.cfg != nil {
		return repository.ErrPoolAlreadyInit
	}
	clone := *cfg
	clone.ID = 1
	m.cfg = &clone
	return nil
}

func (m *MockPoolRepository) Get() (*models.PoolConfig, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	if m.cfg == nil {
		return nil, repository.ErrPoolNotFound
	}
	clone := *m.cfg
	return &clone, nil
}

func (m *MockPoolRepository) UpdateConfig(upd *models.ConfigUpdate) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	if m.cfg == nil {
		return repository.ErrPoolNotFound
	}
	if upd.Name != nil {
		m.cfg.Name = *upd.Name
	}
	if upd.Description != nil {
		m.cfg.Description = *upd.Description
	}
	if upd.CommissionRate != nil {
		m.cfg.CommissionRate = *upd.CommissionRate
	}
	return nil
}

func (m *MockPoolRepository) SetPendingAdmin(wallet string) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	if m.cfg == nil {
		return repository.ErrPoolNotFound
	}
	m.cfg.PendingAdmin = &wallet
	return nil
}

func (m *MockPoolRepository) AcceptAdmin(wallet string) error {
	if m.cfg == nil {
		return repository.ErrPoolNotFound
	}
	if m.cfg.PendingAdmin == nil {
		return repository.ErrNoPendingAdmin
	}
	if *m.cfg.PendingAdmin != wallet {
		return repository.ErrNotPendingAdmin
	}
	m.cfg.Admin = wallet
	m.cfg.PendingAdmin = nil
	return nil
}

func (m *MockPoolRepository) UpdateLeader(leader string) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	if m.cfg == nil {
		return repository.ErrPoolNotFound
	}
	m.cfg.Leader = leader
	return nil
}
