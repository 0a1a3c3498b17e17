package app

import (
	"context"
	"net/http"
	"time"

	"clubhouse/internal/cache"
	"clubhouse/internal/config"
	"clubhouse/internal/db"
	"clubhouse/internal/handlers"
	"clubhouse/internal/logger"
	"clubhouse/internal/repository"
	"clubhouse/internal/routes"
	"clubhouse/internal/services"
	helpers "clubhouse/internal/utils/helpers"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// App держит ресурсы, которые нужно закрыть при остановке.
type App struct {
	Router *mux.Router
	pool   *pgxpool.Pool
	cache  *cache.TreeCache
}

func InitApp(cfg *config.Config) (*App, error) {
	conn, err := db.NewPostgresConnection(cfg)
	if err != nil {
		return nil, err
	}

	if cfg.Migrations {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := db.ApplyMigrations(ctx, conn); err != nil {
			conn.Close()
			return nil, err
		}
		logger.Log.Info("Миграции применены")
	}

	// Кэш дерева необязателен: без Redis дерево читается из БД
	var treeCache *cache.TreeCache
	var svcCache services.TreeCache
	if cfg.RedisURL != "" {
		treeCache, err = cache.NewTreeCache(cfg.RedisURL, cfg.TreeCacheTTL)
		if err != nil {
			logger.Log.Warn("Redis недоступен, кэш дерева выключен", zap.Error(err))
			treeCache = nil
		} else {
			svcCache = treeCache
		}
	}

	// Репозитории и сервисы
	txManager := repository.NewTxManager(conn, cfg.TxTimeout)
	orderingSvc := services.NewOrderingService(txManager, svcCache, cfg.DefaultSectionName)

	// Хендлеры
	orderingH := handlers.NewOrderingHandler(orderingSvc)

	// Маршруты
	router := mux.NewRouter()
	routes.InitRoutes(router, cfg.JWTSecret, orderingH, healthHandler(conn, treeCache))

	return &App{Router: router, pool: conn, cache: treeCache}, nil
}

func healthHandler(pool *pgxpool.Pool, treeCache *cache.TreeCache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := map[string]string{"postgres": "ok", "redis": "disabled"}
		code := http.StatusOK
		if err := pool.Ping(ctx); err != nil {
			status["postgres"] = "down"
			code = http.StatusServiceUnavailable
		}
		if treeCache != nil {
			status["redis"] = "ok"
			if err := treeCache.Ping(ctx); err != nil {
				// без кэша сервис работает
				status["redis"] = "down"
			}
		}
		helpers.JSON(w, code, status)
	}
}

func (a *App) Close() {
	if a.cache != nil {
		_ = a.cache.Close()
	}
	a.pool.Close()
}
