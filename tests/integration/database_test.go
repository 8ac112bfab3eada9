// Package integration contains integration tests for the fund pooling service.
//
// Database Integration Tests
// These tests verify repository operations against a real PostgreSQL instance:
// - Pool configuration lifecycle including the two-phase admin handover
// - Queue id allocation, ordered settlement and pointer advancement
// - Reply marker single-slot semantics
// - Share ledger arithmetic and settlement transaction atomicity
//
// Run with: go test ./tests/integration/...
package integration

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"fundpool/internal/models"
	"fundpool/internal/repository"
)

// ============================================================
// Pool Config Tests
// ============================================================

func TestPoolConfig_Lifecycle_Integration(t *testing.T) {
	db, cleanup := SetupTestDB(t)
	if db == nil {
		return
	}
	defer cleanup()

	if err := initTestTables(db); err != nil {
		t.Skipf("Skipping: cannot initialize tables: %v", err)
	}
	defer cleanupTestTables(db)

	repo := repository.NewPoolRepository(db)

	cfg := &models.PoolConfig{
		Admin:          "adminwallet00001",
		Factory:        "factorywallet001",
		Leader:         "leaderwallet0001",
		Name:           "integration pool",
		CommissionRate: decimal.NewFromFloat(0.1),
	}

	t.Run("initializes config exactly once", func(t *testing.T) {
		if err := repo.Init(cfg); err != nil {
			t.Fatalf("failed to init pool config: %v", err)
		}

		if err := repo.Init(cfg); !errors.Is(err, repository.ErrPoolAlreadyInit) {
			t.Errorf("expected ErrPoolAlreadyInit on second init, got %v", err)
		}

		stored, err := repo.Get()
		if err != nil {
			t.Fatalf("failed to read config back: %v", err)
		}
		if stored.Leader != cfg.Leader {
			t.Errorf("expected leader %s, got %s", cfg.Leader, stored.Leader)
		}
	})

	t.Run("partial update leaves unset fields intact", func(t *testing.T) {
		name := "renamed pool"
		if err := repo.UpdateConfig(&models.ConfigUpdate{Name: &name}); err != nil {
			t.Fatalf("failed to update config: %v", err)
		}

		stored, err := repo.Get()
		if err != nil {
			t.Fatalf("failed to read config back: %v", err)
		}
		if stored.Name != "renamed pool" {
			t.Errorf("expected renamed pool, got %s", stored.Name)
		}
		if !stored.CommissionRate.Equal(decimal.NewFromFloat(0.1)) {
			t.Errorf("commission rate must survive partial update, got %s", stored.CommissionRate)
		}
	})

	t.Run("admin handover requires the pending wallet", func(t *testing.T) {
		if err := repo.SetPendingAdmin("newadminwallet01"); err != nil {
			t.Fatalf("failed to set pending admin: %v", err)
		}

		if err := repo.AcceptAdmin("strangerwallet01"); !errors.Is(err, repository.ErrNotPendingAdmin) {
			t.Errorf("expected ErrNotPendingAdmin, got %v", err)
		}

		if err := repo.AcceptAdmin("newadminwallet01"); err != nil {
			t.Fatalf("pending wallet failed to accept: %v", err)
		}

		stored, err := repo.Get()
		if err != nil {
			t.Fatalf("failed to read config back: %v", err)
		}
		if stored.Admin != "newadminwallet01" {
			t.Errorf("expected admin newadminwallet01, got %s", stored.Admin)
		}
		if stored.PendingAdmin != nil {
			t.Errorf("pending admin must be cleared after accept, got %v", *stored.PendingAdmin)
		}

		if err := repo.AcceptAdmin("newadminwallet01"); !errors.Is(err, repository.ErrNoPendingAdmin) {
			t.Errorf("expected ErrNoPendingAdmin on repeat accept, got %v", err)
		}
	})
}

// ============================================================
// Queue Tests
// ============================================================

func TestQueue_OrderedSettlement_Integration(t *testing.T) {
	db, cleanup := SetupTestDB(t)
	if db == nil {
		return
	}
	defer cleanup()

	if err := initTestTables(db); err != nil {
		t.Skipf("Skipping: cannot initialize tables: %v", err)
	}
	defer cleanupTestTables(db)

	repo := repository.NewQueueRepository(db)

	enqueue := func(wallet string) *models.QueueItemRecord {
		rec := &models.QueueItemRecord{
			Direction: models.DirIncrease,
			Wallet:    wallet,
			Item: models.QueueItem{
				Kind:   models.ItemDeposit,
				Token:  "usdc",
				Amount: decimal.NewFromInt(100),
			},
		}
		if err := repo.Enqueue(rec); err != nil {
			t.Fatalf("failed to enqueue: %v", err)
		}
		return rec
	}

	t.Run("allocates monotonically increasing ids", func(t *testing.T) {
		first := enqueue("followerwallet01")
		second := enqueue("followerwallet02")
		third := enqueue("followerwallet01")

		if first.ID != 1 || second.ID != 2 || third.ID != 3 {
			t.Errorf("expected ids 1,2,3, got %d,%d,%d", first.ID, second.ID, third.ID)
		}
	})

	t.Run("next pending follows the processed pointer", func(t *testing.T) {
		next, err := repo.NextPending(models.DirIncrease)
		if err != nil {
			t.Fatalf("failed to fetch next pending: %v", err)
		}
		if next.ID != 1 {
			t.Errorf("expected head of queue id 1, got %d", next.ID)
		}
	})

	t.Run("settles strictly in order", func(t *testing.T) {
		// Advancing past an unsettled head must fail
		if err := repo.AdvanceProcessed(models.DirIncrease, 2); !errors.Is(err, repository.ErrOutOfOrder) {
			t.Errorf("expected ErrOutOfOrder, got %v", err)
		}

		if err := repo.MarkFinished(models.DirIncrease, 1); err != nil {
			t.Fatalf("failed to finish item 1: %v", err)
		}
		if err := repo.AdvanceProcessed(models.DirIncrease, 1); err != nil {
			t.Fatalf("failed to advance pointer: %v", err)
		}

		next, err := repo.NextPending(models.DirIncrease)
		if err != nil {
			t.Fatalf("failed to fetch next pending: %v", err)
		}
		if next.ID != 2 {
			t.Errorf("expected head of queue id 2 after advance, got %d", next.ID)
		}
	})

	t.Run("failed item advances the pointer too", func(t *testing.T) {
		if err := repo.MarkFailed(models.DirIncrease, 2, "insufficient funds"); err != nil {
			t.Fatalf("failed to fail item 2: %v", err)
		}
		if err := repo.AdvanceProcessed(models.DirIncrease, 2); err != nil {
			t.Fatalf("failed to advance pointer: %v", err)
		}

		stored, err := repo.GetByID(models.DirIncrease, 2)
		if err != nil {
			t.Fatalf("failed to read item 2: %v", err)
		}
		if stored.Status != models.StatusFailed {
			t.Errorf("expected status failed, got %s", stored.Status)
		}
		if stored.FailReason != "insufficient funds" {
			t.Errorf("expected fail reason preserved, got %q", stored.FailReason)
		}
	})

	t.Run("status changes exactly once", func(t *testing.T) {
		if err := repo.MarkFinished(models.DirIncrease, 1); !errors.Is(err, repository.ErrBadStatus) {
			t.Errorf("expected ErrBadStatus on double settle, got %v", err)
		}
	})
}

func TestQueue_ReplyMarkerSingleSlot_Integration(t *testing.T) {
	db, cleanup := SetupTestDB(t)
	if db == nil {
		return
	}
	defer cleanup()

	if err := initTestTables(db); err != nil {
		t.Skipf("Skipping: cannot initialize tables: %v", err)
	}
	defer cleanupTestTables(db)

	repo := repository.NewQueueRepository(db)

	marker, err := repo.ReplyMarker()
	if err != nil {
		t.Fatalf("failed to read empty marker: %v", err)
	}
	if marker != nil {
		t.Fatalf("expected empty reply slot, got %+v", marker)
	}

	if err := repo.SetReplyMarker(models.DirIncrease, 5); err != nil {
		t.Fatalf("failed to set marker: %v", err)
	}

	// Only one dispatched call may await reply at a time
	if err := repo.SetReplyMarker(models.DirDecrease, 1); !errors.Is(err, repository.ErrReplyOutstanding) {
		t.Errorf("expected ErrReplyOutstanding, got %v", err)
	}

	marker, err = repo.ReplyMarker()
	if err != nil {
		t.Fatalf("failed to read marker: %v", err)
	}
	if marker == nil || marker.Direction != models.DirIncrease || marker.ItemID != 5 {
		t.Errorf("unexpected marker: %+v", marker)
	}

	if err := repo.ClearReplyMarker(); err != nil {
		t.Fatalf("failed to clear marker: %v", err)
	}
	if err := repo.ClearReplyMarker(); !errors.Is(err, repository.ErrNoPendingReply) {
		t.Errorf("expected ErrNoPendingReply on repeat clear, got %v", err)
	}
}

// ============================================================
// Share Ledger Tests
// ============================================================

func TestShares_LedgerArithmetic_Integration(t *testing.T) {
	db, cleanup := SetupTestDB(t)
	if db == nil {
		return
	}
	defer cleanup()

	if err := initTestTables(db); err != nil {
		t.Skipf("Skipping: cannot initialize tables: %v", err)
	}
	defer cleanupTestTables(db)

	repo := repository.NewShareRepository(db)

	t.Run("accumulates and spends shares", func(t *testing.T) {
		if err := repo.AddShares("followerwallet01", "usdc", decimal.NewFromInt(100)); err != nil {
			t.Fatalf("failed to add shares: %v", err)
		}
		if err := repo.AddShares("followerwallet01", "usdc", decimal.NewFromInt(50)); err != nil {
			t.Fatalf("failed to add shares: %v", err)
		}

		balance, err := repo.GetBalance("followerwallet01", "usdc")
		if err != nil {
			t.Fatalf("failed to read balance: %v", err)
		}
		if !balance.Shares.Equal(decimal.NewFromInt(150)) {
			t.Errorf("expected 150 shares, got %s", balance.Shares)
		}

		if err := repo.SubShares("followerwallet01", "usdc", decimal.NewFromInt(200)); !errors.Is(err, repository.ErrInsufficientShares) {
			t.Errorf("expected ErrInsufficientShares, got %v", err)
		}
		if err := repo.SubShares("followerwallet01", "usdc", decimal.NewFromInt(150)); err != nil {
			t.Fatalf("failed to sub shares: %v", err)
		}

		// Zero balances are not kept
		if _, err := repo.GetBalance("followerwallet01", "usdc"); !errors.Is(err, repository.ErrBalanceNotFound) {
			t.Errorf("expected ErrBalanceNotFound after full spend, got %v", err)
		}
	})

	t.Run("totals mirror share issuance", func(t *testing.T) {
		if err := repo.ApplyTotals("usdc", decimal.NewFromInt(1000), decimal.NewFromInt(1000)); err != nil {
			t.Fatalf("failed to apply totals: %v", err)
		}
		if err := repo.ApplyTotals("usdc", decimal.NewFromInt(-200), decimal.NewFromInt(-200)); err != nil {
			t.Fatalf("failed to apply negative delta: %v", err)
		}

		totals, err := repo.GetTotals("usdc")
		if err != nil {
			t.Fatalf("failed to read totals: %v", err)
		}
		if !totals.Collateral.Equal(decimal.NewFromInt(800)) || !totals.Shares.Equal(decimal.NewFromInt(800)) {
			t.Errorf("unexpected totals: %s collateral, %s shares", totals.Collateral, totals.Shares)
		}
	})

	t.Run("yield drains atomically", func(t *testing.T) {
		if err := repo.AddYield("usdc", decimal.NewFromInt(7)); err != nil {
			t.Fatalf("failed to add yield: %v", err)
		}
		if err := repo.AddYield("usdc", decimal.NewFromInt(3)); err != nil {
			t.Fatalf("failed to add yield: %v", err)
		}

		taken, err := repo.TakeYield("usdc")
		if err != nil {
			t.Fatalf("failed to take yield: %v", err)
		}
		if !taken.Equal(decimal.NewFromInt(10)) {
			t.Errorf("expected 10 yield taken, got %s", taken)
		}

		taken, err = repo.TakeYield("usdc")
		if err != nil {
			t.Fatalf("failed to take yield twice: %v", err)
		}
		if !taken.IsZero() {
			t.Errorf("expected zero yield on second take, got %s", taken)
		}
	})

	t.Run("share value cache round-trips", func(t *testing.T) {
		if err := repo.SetShareValue("usdc", decimal.NewFromFloat(1.25)); err != nil {
			t.Fatalf("failed to set share value: %v", err)
		}

		value, err := repo.GetShareValue("usdc")
		if err != nil {
			t.Fatalf("failed to read share value: %v", err)
		}
		if !value.Value.Equal(decimal.NewFromFloat(1.25)) {
			t.Errorf("expected 1.25, got %s", value.Value)
		}
	})
}

// ============================================================
// Transaction Tests
// ============================================================

func TestStore_AtomicRollback_Integration(t *testing.T) {
	db, cleanup := SetupTestDB(t)
	if db == nil {
		return
	}
	defer cleanup()

	if err := initTestTables(db); err != nil {
		t.Skipf("Skipping: cannot initialize tables: %v", err)
	}
	defer cleanupTestTables(db)

	store := repository.NewStore(db)
	boom := errors.New("settlement aborted")

	err := store.Atomic(func(tx *repository.Store) error {
		if err := tx.Shares().AddShares("followerwallet01", "usdc", decimal.NewFromInt(100)); err != nil {
			return err
		}
		if err := tx.Shares().ApplyTotals("usdc", decimal.NewFromInt(100), decimal.NewFromInt(100)); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected injected error, got %v", err)
	}

	// Nothing from the aborted settlement may be visible
	if _, err := store.Shares().GetBalance("followerwallet01", "usdc"); !errors.Is(err, repository.ErrBalanceNotFound) {
		t.Errorf("rollback leaked shares: %v", err)
	}

	err = store.Atomic(func(tx *repository.Store) error {
		return tx.Shares().AddShares("followerwallet01", "usdc", decimal.NewFromInt(42))
	})
	if err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	balance, err := store.Shares().GetBalance("followerwallet01", "usdc")
	if err != nil {
		t.Fatalf("failed to read balance: %v", err)
	}
	if !balance.Shares.Equal(decimal.NewFromInt(42)) {
		t.Errorf("expected 42 shares after commit, got %s", balance.Shares)
	}
}
