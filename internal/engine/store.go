package engine

import (
	"fundpool/internal/repository"
)

// sqlStores адаптирует repository.Store к интерфейсу Stores
type sqlStores struct {
	s *repository.Store
}

// NewStores оборачивает репозитории в интерфейс движка
func NewStores(s *repository.Store) Stores {
	return &sqlStores{s: s}
}

func (a *sqlStores) Pool() PoolStore          { return a.s.Pool() }
func (a *sqlStores) Queue() QueueStore        { return a.s.Queue() }
func (a *sqlStores) Shares() ShareStore       { return a.s.Shares() }
func (a *sqlStores) Markets() MarketStore     { return a.s.Markets() }
func (a *sqlStores) Positions() PositionStore { return a.s.Positions() }
func (a *sqlStores) Work() WorkStore          { return a.s.Work() }

func (a *sqlStores) Atomic(fn func(tx Stores) error) error {
	return a.s.Atomic(func(tx *repository.Store) error {
		return fn(&sqlStores{s: tx})
	})
}
