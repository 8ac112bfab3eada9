// Package integration contains integration tests for the fund pooling service.
//
// These tests verify the correct interaction between components:
// - API integration tests: full HTTP request cycle
// - WebSocket tests: connection, broadcast messaging
// - Database tests: schema, repositories, settlement transactions
//
// Tests skip automatically when the test database is unreachable.
// Run with: go test ./tests/integration/...
package integration

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"fundpool/internal/api"
	"fundpool/internal/config"
	"fundpool/internal/engine"
	"fundpool/internal/models"
	"fundpool/internal/repository"
	"fundpool/internal/service"
	"fundpool/internal/venue"
	"fundpool/internal/websocket"
	"fundpool/pkg/crypto"
	"fundpool/pkg/utils"

	_ "github.com/lib/pq"
)

// Privileged tokens used by the test server. Their bcrypt hashes go into
// SecurityConfig; the raw values go into Authorization headers.
const (
	TestLeaderToken  = "integration-leader-token"
	TestAdminToken   = "integration-admin-token"
	TestFactoryToken = "integration-factory-token"
)

// TestConfig contains configuration for integration tests
type TestConfig struct {
	DBDriver   string
	DBHost     string
	DBPort     string
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string
}

// TestServer encapsulates all components needed for integration testing
type TestServer struct {
	DB      *sql.DB
	Router  *mux.Router
	Server  *httptest.Server
	Hub     *websocket.Hub
	Store   *repository.Store
	Engine  *engine.Engine
	Cleanup func()
}

// getTestConfig returns configuration from environment variables or defaults
func getTestConfig() TestConfig {
	return TestConfig{
		DBDriver:   getEnv("TEST_DB_DRIVER", "postgres"),
		DBHost:     getEnv("TEST_DB_HOST", "localhost"),
		DBPort:     getEnv("TEST_DB_PORT", "5432"),
		DBName:     getEnv("TEST_DB_NAME", "fundpool_test"),
		DBUser:     getEnv("TEST_DB_USER", "postgres"),
		DBPassword: getEnv("TEST_DB_PASSWORD", "postgres"),
		DBSSLMode:  getEnv("TEST_DB_SSLMODE", "disable"),
	}
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// SetupTestDB creates a test database connection
func SetupTestDB(t *testing.T) (*sql.DB, func()) {
	cfg := getTestConfig()

	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBSSLMode,
	)

	db, err := sql.Open(cfg.DBDriver, connStr)
	if err != nil {
		t.Skipf("Skipping integration test: cannot connect to database: %v", err)
		return nil, func() {}
	}

	if err := db.Ping(); err != nil {
		t.Skipf("Skipping integration test: cannot ping database: %v", err)
		return nil, func() {}
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	cleanup := func() {
		if err := db.Close(); err != nil {
			log.Printf("Error closing database: %v", err)
		}
	}

	return db, cleanup
}

// staticRegistry is a RegistrySource backed by a fixed market list
type staticRegistry struct {
	markets []*models.MarketInfo
}

func (r *staticRegistry) ListMarkets(ctx context.Context) ([]*models.MarketInfo, error) {
	return r.markets, nil
}

// stubVenue implements venue.Venue with empty positions and zero yield.
// Execute acks immediately; replies are injected through the API in tests.
type stubVenue struct {
	marketID string
}

func (v *stubVenue) MarketID() string { return v.marketID }

func (v *stubVenue) QueryPositions(ctx context.Context) ([]*models.PositionInfo, error) {
	return nil, nil
}

func (v *stubVenue) QueryYield(ctx context.Context) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (v *stubVenue) Execute(ctx context.Context, req *venue.ExecuteRequest) (string, error) {
	return fmt.Sprintf("ack-%d", req.ItemID), nil
}

func (v *stubVenue) Close() error { return nil }

// stubVenueProvider hands out stubVenue clients
type stubVenueProvider struct{}

func (p *stubVenueProvider) VenueFor(market *models.MarketInfo) (venue.Venue, error) {
	return &stubVenue{marketID: market.ID}, nil
}

// newTestLogger keeps engine output out of test logs
func newTestLogger() *utils.Logger {
	return utils.InitLogger(utils.LogConfig{Level: "error"})
}

// testCrankConfig returns engine settings suitable for single-shot cranks
func testCrankConfig() config.CrankConfig {
	return config.CrankConfig{
		CrankInterval:           time.Second,
		RegistryRefreshInterval: time.Millisecond,
		VenueQueryTimeout:       5 * time.Second,
		VenueExecuteTimeout:     5 * time.Second,
		QueryMaxRetries:         1,
		QueryRetryBackoff:       time.Millisecond,
		VenueRateLimit:          100,
		VenueRateBurst:          100,
		QueuePageLimit:          50,
		MaxPositionsPerMarket:   5,
	}
}

// SetupTestServer creates a complete test server with all components
func SetupTestServer(t *testing.T, markets ...*models.MarketInfo) *TestServer {
	db, dbCleanup := SetupTestDB(t)
	if db == nil {
		return nil
	}

	if err := initTestTables(db); err != nil {
		t.Skipf("Skipping integration test: cannot initialize tables: %v", err)
		return nil
	}

	hub := websocket.NewHub()
	go hub.Run()

	store := repository.NewStore(db)
	stores := engine.NewStores(store)

	logger := newTestLogger()
	eng := engine.NewEngine(testCrankConfig(), stores, &staticRegistry{markets: markets}, &stubVenueProvider{}, hub, logger)

	security := config.SecurityConfig{
		LeaderTokenHash:  mustHash(t, TestLeaderToken),
		AdminTokenHash:   mustHash(t, TestAdminToken),
		FactoryTokenHash: mustHash(t, TestFactoryToken),
	}

	deps := &api.Dependencies{
		PoolService: service.NewPoolService(store.Pool()),
		AuthService: service.NewAuthService(security),
		Engine:      eng,
		Hub:         hub,
	}
	router := api.SetupRoutes(deps)

	server := httptest.NewServer(router)

	cleanup := func() {
		server.Close()
		cleanupTestTables(db)
		dbCleanup()
	}

	return &TestServer{
		DB:      db,
		Router:  router,
		Server:  server,
		Hub:     hub,
		Store:   store,
		Engine:  eng,
		Cleanup: cleanup,
	}
}

// mustHash hashes a token with the cheapest bcrypt cost to keep tests fast
func mustHash(t *testing.T, token string) string {
	hash, err := crypto.HashTokenWithCost(token, bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash test token: %v", err)
	}
	return hash
}

// initTestTables creates the schema and resets all state
func initTestTables(db *sql.DB) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS pool_config (
			id INT PRIMARY KEY,
			admin TEXT NOT NULL,
			pending_admin TEXT,
			factory TEXT NOT NULL,
			leader TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			commission_rate NUMERIC(10,6) NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS queue_pointers (
			direction TEXT PRIMARY KEY,
			last_inserted BIGINT NOT NULL DEFAULT 0,
			last_processed BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS queue_items (
			direction TEXT NOT NULL,
			id BIGINT NOT NULL,
			wallet TEXT NOT NULL,
			item JSONB NOT NULL,
			status TEXT NOT NULL,
			fail_reason TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			settled_at TIMESTAMPTZ,
			PRIMARY KEY (direction, id)
		)`,
		`CREATE TABLE IF NOT EXISTS reply_marker (
			id INT PRIMARY KEY,
			direction TEXT NOT NULL,
			item_id BIGINT NOT NULL,
			dispatched_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS wallet_shares (
			wallet TEXT NOT NULL,
			token TEXT NOT NULL,
			shares NUMERIC(30,10) NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (wallet, token)
		)`,
		`CREATE TABLE IF NOT EXISTS pool_totals (
			token TEXT PRIMARY KEY,
			collateral NUMERIC(30,10) NOT NULL DEFAULT 0,
			shares NUMERIC(30,10) NOT NULL DEFAULT 0,
			accrued_yield NUMERIC(30,10) NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS share_value (
			token TEXT PRIMARY KEY,
			value NUMERIC(30,10) NOT NULL,
			computed_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS markets (
			id TEXT PRIMARY KEY,
			address TEXT NOT NULL,
			token TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS registry_sync (
			id INT PRIMARY KEY,
			last_check TIMESTAMPTZ NOT NULL,
			status TEXT NOT NULL,
			last_error TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS positions (
			id TEXT NOT NULL,
			market_id TEXT NOT NULL,
			side TEXT NOT NULL,
			active_collateral NUMERIC(30,10) NOT NULL,
			pnl_collateral NUMERIC(30,10) NOT NULL,
			pnl_usd NUMERIC(30,10) NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (id, market_id)
		)`,
		`CREATE TABLE IF NOT EXISTS pending_positions (
			market_id TEXT NOT NULL,
			position_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (market_id, position_id, kind)
		)`,
		`CREATE TABLE IF NOT EXISTS market_work (
			market_id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			position_id TEXT NOT NULL DEFAULT '',
			requested_at TIMESTAMPTZ NOT NULL
		)`,
	}

	for _, stmt := range tables {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	return resetTestTables(db)
}

// resetTestTables clears all rows and reseeds the queue pointers
func resetTestTables(db *sql.DB) error {
	tables := []string{
		"pool_config", "queue_items", "reply_marker",
		"wallet_shares", "pool_totals", "share_value",
		"markets", "registry_sync", "positions", "pending_positions", "market_work",
	}
	for _, table := range tables {
		if _, err := db.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	// Id allocation is UPDATE .. RETURNING, so pointer rows must exist
	_, err := db.Exec(`
		INSERT INTO queue_pointers (direction, last_inserted, last_processed)
		VALUES ($1, 0, 0), ($2, 0, 0)
		ON CONFLICT (direction) DO UPDATE SET last_inserted = 0, last_processed = 0`,
		models.DirIncrease, models.DirDecrease,
	)
	return err
}

// cleanupTestTables drops test data after a run
func cleanupTestTables(db *sql.DB) {
	if err := resetTestTables(db); err != nil {
		log.Printf("Error cleaning up test tables: %v", err)
	}
}
