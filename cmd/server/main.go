package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fundpool/internal/api"
	"fundpool/internal/config"
	"fundpool/internal/engine"
	"fundpool/internal/repository"
	"fundpool/internal/service"
	"fundpool/internal/venue"
	"fundpool/internal/websocket"
	"fundpool/pkg/utils"

	_ "github.com/lib/pq"
)

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Инициализация логгера
	logger := utils.InitLogger(utils.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	utils.SetGlobalLogger(logger)
	defer logger.Sync()

	// Инициализация базы данных
	db, err := initDatabase(cfg)
	if err != nil {
		logger.Fatal("failed to connect to database", utils.Err(err))
	}
	defer db.Close()

	logger.Info("connected to database", utils.String("dsn", cfg.Database.DSNWithoutPassword()))

	// Хранилища и адаптер unit-of-work для движка
	store := repository.NewStore(db)
	stores := engine.NewStores(store)

	// Клиенты внешних систем
	registry := venue.NewRegistryClient(cfg.Crank.RegistryURL, cfg.Crank.VenueQueryTimeout)
	venues := venue.NewFactory(cfg.Crank, cfg.Security)
	defer venues.Close()

	// WebSocket hub
	hub := websocket.NewHub()
	go hub.Run()

	// Движок пула
	eng := engine.NewEngine(cfg.Crank, stores, registry, venues, hub, logger)

	// Проверка согласованности хранилищ при старте: после сбоя нельзя
	// продвигать очереди по разошедшемуся состоянию
	if tokens, err := settlementTokens(store); err != nil {
		logger.Fatal("failed to list settlement tokens", utils.Err(err))
	} else if report, err := eng.CheckConsistency(tokens); err != nil {
		logger.Fatal("startup consistency check failed", utils.Err(err))
	} else if !report.OK {
		for _, p := range report.Problems {
			logger.Error("consistency problem", utils.String("problem", p))
		}
		logger.Fatal("stored state violates invariants, refusing to start")
	}

	// Фоновый crank-цикл
	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	go func() {
		if err := eng.Run(runCtx); err != nil && err != context.Canceled {
			logger.Error("crank loop stopped", utils.Err(err))
		}
	}()

	// Сервисы
	poolService := service.NewPoolService(store.Pool())
	authService := service.NewAuthService(cfg.Security)

	// Настройка зависимостей для API
	deps := &api.Dependencies{
		PoolService: poolService,
		AuthService: authService,
		Engine:      eng,
		Hub:         hub,
	}

	// Настройка HTTP роутера
	router := api.SetupRoutes(deps)

	// HTTP сервер
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Запуск сервера в отдельной горутине
	go func() {
		logger.Info("starting server", utils.String("addr", server.Addr))
		if cfg.Server.UseHTTPS {
			if err := server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile); err != nil && err != http.ErrServerClosed {
				logger.Fatal("server failed", utils.Err(err))
			}
		} else {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Fatal("server failed", utils.Err(err))
			}
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	// Останавливаем crank до закрытия HTTP: проход не должен оборваться
	// посреди исполняющего вызова площадки
	cancelRun()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal("server forced to shutdown", utils.Err(err))
	}

	logger.Info("server exited")
}

// settlementTokens собирает токены расчётов известных площадок
// для стартовой проверки леджера
func settlementTokens(store *repository.Store) ([]string, error) {
	markets, err := store.Markets().List()
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(markets))
	tokens := make([]string, 0, len(markets))
	for _, m := range markets {
		if _, ok := seen[m.Token]; ok {
			continue
		}
		seen[m.Token] = struct{}{}
		tokens = append(tokens, m.Token)
	}
	return tokens, nil
}

// initDatabase создает подключение к базе данных
func initDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Настройка пула соединений
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Проверка подключения
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}
