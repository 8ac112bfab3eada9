package engine

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"fundpool/internal/models"
	"fundpool/internal/repository"
	"fundpool/internal/venue"
)

// ============ In-memory Stores ============

// MemStores - хранилища в памяти с семантикой репозиториев
// Atomic снимает снапшот и восстанавливает его при ошибке fn
type MemStores struct {
	pool *models.PoolConfig

	items     map[string]map[int64]*models.QueueItemRecord
	inserted  map[string]int64
	processed map[string]int64
	marker    *models.ReplyMarker

	balances   map[string]decimal.Decimal // wallet|token
	totals     map[string]*models.Totals
	yield      map[string]decimal.Decimal
	shareValue map[string]decimal.Decimal

	markets    map[string]*models.MarketInfo
	syncStatus models.RegistrySyncStatus

	positions map[string]map[string]*models.PositionInfo // market -> id
	pending   []*models.PendingPosition

	work    map[string]*models.MarketWorkInfo
	workSeq map[string]int64
	seq     int64
}

func NewMemStores() *MemStores {
	return &MemStores{
		items: map[string]map[int64]*models.QueueItemRecord{
			models.DirIncrease: {},
			models.DirDecrease: {},
		},
		inserted:   map[string]int64{},
		processed:  map[string]int64{},
		balances:   map[string]decimal.Decimal{},
		totals:     map[string]*models.Totals{},
		yield:      map[string]decimal.Decimal{},
		shareValue: map[string]decimal.Decimal{},
		markets:    map[string]*models.MarketInfo{},
		positions:  map[string]map[string]*models.PositionInfo{},
		work:       map[string]*models.MarketWorkInfo{},
		workSeq:    map[string]int64{},
	}
}

func (m *MemStores) Pool() PoolStore          { return &memPool{m} }
func (m *MemStores) Queue() QueueStore        { return &memQueue{m} }
func (m *MemStores) Shares() ShareStore       { return &memShares{m} }
func (m *MemStores) Markets() MarketStore     { return &memMarkets{m} }
func (m *MemStores) Positions() PositionStore { return &memPositions{m} }
func (m *MemStores) Work() WorkStore          { return &memWork{m} }

func (m *MemStores) Atomic(fn func(tx Stores) error) error {
	snap := m.clone()
	if err := fn(m); err != nil {
		*m = *snap
		return err
	}
	return nil
}

func (m *MemStores) clone() *MemStores {
	c := NewMemStores()
	c.pool = m.pool
	for dir, items := range m.items {
		c.items[dir] = map[int64]*models.QueueItemRecord{}
		for id, rec := range items {
			cp := *rec
			c.items[dir][id] = &cp
		}
	}
	for k, v := range m.inserted {
		c.inserted[k] = v
	}
	for k, v := range m.processed {
		c.processed[k] = v
	}
	if m.marker != nil {
		cp := *m.marker
		c.marker = &cp
	}
	for k, v := range m.balances {
		c.balances[k] = v
	}
	for k, v := range m.totals {
		cp := *v
		c.totals[k] = &cp
	}
	for k, v := range m.yield {
		c.yield[k] = v
	}
	for k, v := range m.shareValue {
		c.shareValue[k] = v
	}
	for k, v := range m.markets {
		c.markets[k] = v
	}
	c.syncStatus = m.syncStatus
	for mk, ps := range m.positions {
		c.positions[mk] = map[string]*models.PositionInfo{}
		for id, p := range ps {
			cp := *p
			c.positions[mk][id] = &cp
		}
	}
	for _, p := range m.pending {
		cp := *p
		c.pending = append(c.pending, &cp)
	}
	for k, v := range m.work {
		cp := *v
		c.work[k] = &cp
	}
	for k, v := range m.workSeq {
		c.workSeq[k] = v
	}
	c.seq = m.seq
	return c
}

// ============ PoolStore ============

type memPool struct{ m *MemStores }

func (p *memPool) Get() (*models.PoolConfig, error) {
	if p.m.pool == nil {
		return nil, repository.ErrPoolNotFound
	}
	cp := *p.m.pool
	return &cp, nil
}

// ============ QueueStore ============

type memQueue struct{ m *MemStores }

func (q *memQueue) Enqueue(rec *models.QueueItemRecord) error {
	q.m.inserted[rec.Direction]++
	rec.ID = q.m.inserted[rec.Direction]
	rec.Status = models.StatusPending
	rec.CreatedAt = time.Now()
	cp := *rec
	q.m.items[rec.Direction][rec.ID] = &cp
	return nil
}

func (q *memQueue) GetByID(direction string, id int64) (*models.QueueItemRecord, error) {
	rec, ok := q.m.items[direction][id]
	if !ok {
		return nil, repository.ErrItemNotFound
	}
	cp := *rec
	return &cp, nil
}

func (q *memQueue) NextPending(direction string) (*models.QueueItemRecord, error) {
	return q.GetByID(direction, q.m.processed[direction]+1)
}

func (q *memQueue) ListAfter(direction string, afterID int64, limit int) ([]*models.QueueItemRecord, error) {
	var out []*models.QueueItemRecord
	for id, rec := range q.m.items[direction] {
		if id > afterID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (q *memQueue) ListByWallet(wallet string, startAfter int64, limit int) ([]*models.QueueItemRecord, error) {
	var out []*models.QueueItemRecord
	for _, items := range q.m.items {
		for _, rec := range items {
			if rec.Wallet == wallet && rec.ID > startAfter {
				cp := *rec
				out = append(out, &cp)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ID != out[j].ID {
			return out[i].ID < out[j].ID
		}
		return out[i].Direction < out[j].Direction
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (q *memQueue) Pointers(direction string) (int64, int64, error) {
	return q.m.inserted[direction], q.m.processed[direction], nil
}

func (q *memQueue) MarkFinished(direction string, id int64) error {
	return q.settle(direction, id, models.StatusFinished, "")
}

func (q *memQueue) MarkFailed(direction string, id int64, reason string) error {
	return q.settle(direction, id, models.StatusFailed, reason)
}

func (q *memQueue) settle(direction string, id int64, status, reason string) error {
	rec, ok := q.m.items[direction][id]
	if !ok {
		return repository.ErrItemNotFound
	}
	if rec.Status != models.StatusPending {
		return repository.ErrBadStatus
	}
	now := time.Now()
	rec.Status = status
	rec.FailReason = reason
	rec.SettledAt = &now
	return nil
}

func (q *memQueue) AdvanceProcessed(direction string, id int64) error {
	if q.m.processed[direction] != id-1 {
		return repository.ErrOutOfOrder
	}
	q.m.processed[direction] = id
	return nil
}

func (q *memQueue) ReplyMarker() (*models.ReplyMarker, error) {
	if q.m.marker == nil {
		return nil, nil
	}
	cp := *q.m.marker
	return &cp, nil
}

func (q *memQueue) SetReplyMarker(direction string, itemID int64) error {
	if q.m.marker != nil {
		return repository.ErrReplyOutstanding
	}
	q.m.marker = &models.ReplyMarker{Direction: direction, ItemID: itemID, DispatchedAt: time.Now()}
	return nil
}

func (q *memQueue) ClearReplyMarker() error {
	if q.m.marker == nil {
		return repository.ErrNoPendingReply
	}
	q.m.marker = nil
	return nil
}

// ============ ShareStore ============

type memShares struct{ m *MemStores }

func balanceKey(wallet, token string) string { return wallet + "|" + token }

func (s *memShares) GetBalance(wallet, token string) (*models.WalletShareBalance, error) {
	shares, ok := s.m.balances[balanceKey(wallet, token)]
	if !ok {
		return nil, repository.ErrBalanceNotFound
	}
	return &models.WalletShareBalance{Wallet: wallet, Token: token, Shares: shares}, nil
}

func (s *memShares) AddShares(wallet, token string, amount decimal.Decimal) error {
	key := balanceKey(wallet, token)
	s.m.balances[key] = s.m.balances[key].Add(amount)
	return nil
}

func (s *memShares) SubShares(wallet, token string, amount decimal.Decimal) error {
	key := balanceKey(wallet, token)
	current, ok := s.m.balances[key]
	if !ok || current.LessThan(amount) {
		return repository.ErrInsufficientShares
	}
	rest := current.Sub(amount)
	if rest.IsZero() {
		delete(s.m.balances, key)
	} else {
		s.m.balances[key] = rest
	}
	return nil
}

func (s *memShares) ListHolders(token string, limit int) ([]*models.WalletShareBalance, error) {
	suffix := "|" + token
	var out []*models.WalletShareBalance
	for key, shares := range s.m.balances {
		if !strings.HasSuffix(key, suffix) {
			continue
		}
		wallet := strings.TrimSuffix(key, suffix)
		out = append(out, &models.WalletShareBalance{Wallet: wallet, Token: token, Shares: shares})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Shares.GreaterThan(out[j].Shares) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memShares) GetTotals(token string) (*models.Totals, error) {
	t, ok := s.m.totals[token]
	if !ok {
		return &models.Totals{Token: token, Collateral: decimal.Zero, Shares: decimal.Zero}, nil
	}
	cp := *t
	return &cp, nil
}

func (s *memShares) ApplyTotals(token string, dCollateral, dShares decimal.Decimal) error {
	t, ok := s.m.totals[token]
	if !ok {
		t = &models.Totals{Token: token, Collateral: decimal.Zero, Shares: decimal.Zero}
	}
	newCollateral := t.Collateral.Add(dCollateral)
	newShares := t.Shares.Add(dShares)
	if newCollateral.IsNegative() || newShares.IsNegative() {
		return repository.ErrInsufficientCollateral
	}
	t.Collateral = newCollateral
	t.Shares = newShares
	s.m.totals[token] = t
	return nil
}

func (s *memShares) AddYield(token string, amount decimal.Decimal) error {
	s.m.yield[token] = s.m.yield[token].Add(amount)
	return nil
}

func (s *memShares) TakeYield(token string) (decimal.Decimal, error) {
	y := s.m.yield[token]
	s.m.yield[token] = decimal.Zero
	return y, nil
}

func (s *memShares) GetShareValue(token string) (*models.LpTokenValue, error) {
	v, ok := s.m.shareValue[token]
	if !ok {
		v = decimal.NewFromInt(1)
	}
	return &models.LpTokenValue{Token: token, Value: v}, nil
}

func (s *memShares) SetShareValue(token string, value decimal.Decimal) error {
	s.m.shareValue[token] = value
	return nil
}

// ============ MarketStore ============

type memMarkets struct{ m *MemStores }

func (r *memMarkets) Upsert(market *models.MarketInfo) error {
	r.m.markets[market.ID] = market
	return nil
}

func (r *memMarkets) GetByID(id string) (*models.MarketInfo, error) {
	market, ok := r.m.markets[id]
	if !ok {
		return nil, repository.ErrMarketNotFound
	}
	return market, nil
}

func (r *memMarkets) List() ([]*models.MarketInfo, error) {
	var out []*models.MarketInfo
	for _, market := range r.m.markets {
		out = append(out, market)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memMarkets) GetSyncStatus() (*models.RegistrySyncStatus, error) {
	cp := r.m.syncStatus
	if cp.Status == "" {
		cp.Status = models.RegistrySyncIdle
	}
	return &cp, nil
}

func (r *memMarkets) SetSyncStatus(st *models.RegistrySyncStatus) error {
	r.m.syncStatus = *st
	return nil
}

// ============ PositionStore ============

type memPositions struct{ m *MemStores }

func (r *memPositions) Upsert(pos *models.PositionInfo) error {
	if r.m.positions[pos.MarketID] == nil {
		r.m.positions[pos.MarketID] = map[string]*models.PositionInfo{}
	}
	cp := *pos
	r.m.positions[pos.MarketID][pos.ID] = &cp
	return nil
}

func (r *memPositions) Get(marketID, positionID string) (*models.PositionInfo, error) {
	pos, ok := r.m.positions[marketID][positionID]
	if !ok {
		return nil, repository.ErrPositionNotFound
	}
	cp := *pos
	return &cp, nil
}

func (r *memPositions) ListByMarket(marketID string) ([]*models.PositionInfo, error) {
	var out []*models.PositionInfo
	for _, pos := range r.m.positions[marketID] {
		cp := *pos
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memPositions) List() ([]*models.PositionInfo, error) {
	var out []*models.PositionInfo
	for marketID := range r.m.positions {
		byMarket, _ := r.ListByMarket(marketID)
		out = append(out, byMarket...)
	}
	return out, nil
}

func (r *memPositions) Delete(marketID, positionID string) error {
	if _, ok := r.m.positions[marketID][positionID]; !ok {
		return repository.ErrPositionNotFound
	}
	delete(r.m.positions[marketID], positionID)
	return nil
}

func (r *memPositions) CountByMarket(marketID string) (int, error) {
	return len(r.m.positions[marketID]), nil
}

func (r *memPositions) AddPending(p *models.PendingPosition) error {
	for _, existing := range r.m.pending {
		if existing.MarketID == p.MarketID && existing.PositionID == p.PositionID && existing.Kind == p.Kind {
			return nil
		}
	}
	cp := *p
	r.m.pending = append(r.m.pending, &cp)
	return nil
}

func (r *memPositions) ListPendingByMarket(marketID string) ([]*models.PendingPosition, error) {
	var out []*models.PendingPosition
	for _, p := range r.m.pending {
		if p.MarketID == marketID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memPositions) DeletePending(marketID, positionID, kind string) error {
	for i, p := range r.m.pending {
		if p.MarketID == marketID && p.PositionID == positionID && p.Kind == kind {
			r.m.pending = append(r.m.pending[:i], r.m.pending[i+1:]...)
			return nil
		}
	}
	return repository.ErrPositionNotFound
}

// ============ WorkStore ============

type memWork struct{ m *MemStores }

func (r *memWork) Schedule(w *models.MarketWorkInfo) (bool, error) {
	if _, exists := r.m.work[w.MarketID]; exists {
		return false, nil
	}
	return true, r.Replace(w)
}

func (r *memWork) Replace(w *models.MarketWorkInfo) error {
	cp := *w
	r.m.work[w.MarketID] = &cp
	r.m.seq++
	r.m.workSeq[w.MarketID] = r.m.seq
	return nil
}

func (r *memWork) Get(marketID string) (*models.MarketWorkInfo, error) {
	w, ok := r.m.work[marketID]
	if !ok {
		return nil, repository.ErrWorkNotFound
	}
	cp := *w
	return &cp, nil
}

func (r *memWork) Next() (*models.MarketWorkInfo, error) {
	var best *models.MarketWorkInfo
	var bestSeq int64
	for marketID, w := range r.m.work {
		seq := r.m.workSeq[marketID]
		if best == nil || seq < bestSeq {
			cp := *w
			best = &cp
			bestSeq = seq
		}
	}
	if best == nil {
		return nil, repository.ErrWorkNotFound
	}
	return best, nil
}

func (r *memWork) List() ([]*models.MarketWorkInfo, error) {
	var out []*models.MarketWorkInfo
	for _, w := range r.m.work {
		cp := *w
		out = append(out, &cp)
	}
	return out, nil
}

func (r *memWork) Delete(marketID string) error {
	if _, ok := r.m.work[marketID]; !ok {
		return repository.ErrWorkNotFound
	}
	delete(r.m.work, marketID)
	return nil
}

// ============ Mock Venue ============

type MockVenue struct {
	marketID     string
	positions    []*models.PositionInfo
	positionsErr error
	yield        decimal.Decimal
	yieldErr     error
	executeErr   error
	executed     []*venue.ExecuteRequest
	ackID        string
}

func NewMockVenue(marketID string) *MockVenue {
	return &MockVenue{marketID: marketID, ackID: "ack-1"}
}

func (v *MockVenue) MarketID() string { return v.marketID }

func (v *MockVenue) QueryPositions(ctx context.Context) ([]*models.PositionInfo, error) {
	if v.positionsErr != nil {
		return nil, v.positionsErr
	}
	out := make([]*models.PositionInfo, 0, len(v.positions))
	for _, p := range v.positions {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (v *MockVenue) QueryYield(ctx context.Context) (decimal.Decimal, error) {
	if v.yieldErr != nil {
		return decimal.Zero, v.yieldErr
	}
	return v.yield, nil
}

func (v *MockVenue) Execute(ctx context.Context, req *venue.ExecuteRequest) (string, error) {
	if v.executeErr != nil {
		return "", v.executeErr
	}
	cp := *req
	v.executed = append(v.executed, &cp)
	return v.ackID, nil
}

func (v *MockVenue) Close() error { return nil }

// ============ Mock VenueProvider ============

type MockVenueProvider struct {
	venues map[string]*MockVenue
	err    error
}

func NewMockVenueProvider() *MockVenueProvider {
	return &MockVenueProvider{venues: map[string]*MockVenue{}}
}

func (p *MockVenueProvider) Add(v *MockVenue) { p.venues[v.marketID] = v }

func (p *MockVenueProvider) VenueFor(market *models.MarketInfo) (venue.Venue, error) {
	if p.err != nil {
		return nil, p.err
	}
	v, ok := p.venues[market.ID]
	if !ok {
		v = NewMockVenue(market.ID)
		p.venues[market.ID] = v
	}
	return v, nil
}

// ============ Mock Registry ============

type MockRegistry struct {
	markets []*models.MarketInfo
	err     error
	calls   int
}

func (r *MockRegistry) ListMarkets(ctx context.Context) ([]*models.MarketInfo, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return r.markets, nil
}

// ============ Mock Hub ============

type MockHub struct {
	queueUpdates []*models.QueueItemRecord
	navUpdates   map[string]decimal.Decimal
	workUpdates  int
	crankUpdates int
}

func NewMockHub() *MockHub {
	return &MockHub{navUpdates: map[string]decimal.Decimal{}}
}

func (h *MockHub) BroadcastQueueUpdate(item *models.QueueItemRecord) {
	h.queueUpdates = append(h.queueUpdates, item)
}

func (h *MockHub) BroadcastNavUpdate(token string, value decimal.Decimal) {
	h.navUpdates[token] = value
}

func (h *MockHub) BroadcastWorkUpdate(marketID, kind string, done bool) { h.workUpdates++ }

func (h *MockHub) BroadcastCrankUpdate(summary *CrankSummary) { h.crankUpdates++ }
