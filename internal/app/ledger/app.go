/**
 * 应用装配
 * @description: 加载配置、初始化日志/数据库/Redis、装配路由
 */
package ledger

import (
	"fmt"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"

	"neoledger/internal/config"
	"neoledger/internal/pkg/database"
	"neoledger/internal/pkg/logger"
)

// App 应用程序结构体
type App struct {
	config      *config.Config
	db          *gorm.DB
	redisClient *redis.Client
	router      *Router
}

// NewApp 创建新的应用程序实例
// configPath 为空时走默认搜索路径
func NewApp(configPath string) (*App, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if _, err := logger.InitLogger(&cfg.Log); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	db, err := database.NewMySQLConnection(&cfg.Database.MySQL)
	if err != nil {
		return nil, fmt.Errorf("connect mysql: %w", err)
	}

	// Redis 仅用于快照缓存，连不上时降级为直查MySQL
	var redisClient *redis.Client
	if cfg.Ingest.SnapshotCacheEnable {
		redisClient, err = database.NewRedisConnection(&cfg.Database.Redis)
		if err != nil {
			logger.Warnf("redis unavailable, snapshot cache disabled: %v", err)
			redisClient = nil
		}
	}

	router, err := NewRouter(db, redisClient, cfg)
	if err != nil {
		return nil, fmt.Errorf("build router: %w", err)
	}
	router.SetupRoutes()

	return &App{
		config:      cfg,
		db:          db,
		redisClient: redisClient,
		router:      router,
	}, nil
}

// GetConfig 获取配置实例
func (a *App) GetConfig() *config.Config {
	return a.config
}

// GetRouter 获取路由器实例
func (a *App) GetRouter() *Router {
	return a.router
}

// Stop 停止应用程序，释放数据库与Redis连接
func (a *App) Stop() error {
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			return err
		}
	}
	if a.db != nil {
		sqlDB, err := a.db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}
