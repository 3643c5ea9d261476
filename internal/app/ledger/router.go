package ledger

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"

	"neoledger/internal/config"
	ingestHandler "neoledger/internal/handler/ingest"
	ledgerHandler "neoledger/internal/handler/ledger"
	"neoledger/internal/pkg/logger"
	"neoledger/internal/pkg/rawcodec"
	ledgerrepo "neoledger/internal/repo/mysql/ledger"
	redisrepo "neoledger/internal/repo/redis"
	"neoledger/internal/service/duplicate"
	ingestsvc "neoledger/internal/service/ingest"
	signalsvc "neoledger/internal/service/signal"
)

// Router 路由管理器
type Router struct {
	engine            *gin.Engine
	middlewareManager *MiddlewareManager
	db                *gorm.DB
	redisClient       *redis.Client
	runHandler        *ingestHandler.RunHandler
	assetHandler      *ledgerHandler.AssetHandler
	duplicateHandler  *ledgerHandler.DuplicateHandler
}

// NewRouter 创建路由管理器实例
func NewRouter(db *gorm.DB, redisClient *redis.Client, cfg *config.Config) (*Router, error) {
	// 初始化工具包
	codec, err := rawcodec.NewCodec()
	if err != nil {
		return nil, err
	}
	validator, err := ingestsvc.NewCanonicalValidator()
	if err != nil {
		return nil, err
	}

	// 初始化数据访问层
	assetRepo := ledgerrepo.NewAssetRepository(db, cfg.Ingest.BulkBatchSize)
	relationRepo := ledgerrepo.NewRelationRepository(db)
	snapshotRepo := ledgerrepo.NewSnapshotRepository(db)
	historyRepo := ledgerrepo.NewHistoryRepository(db, cfg.Ingest.BulkBatchSize)
	signalRepo := ledgerrepo.NewSignalRepository(db)
	dupRepo := ledgerrepo.NewDuplicateRepository(db)

	var snapshotCache *redisrepo.SnapshotCacheRepository
	if redisClient != nil && cfg.Ingest.SnapshotCacheEnable {
		snapshotCache = redisrepo.NewSnapshotCacheRepository(redisClient, cfg.Ingest.SnapshotCacheTTL)
	}

	// 初始化服务层
	collectService := ingestsvc.NewCollectService(db, codec, validator,
		assetRepo, relationRepo, snapshotRepo, historyRepo, snapshotCache, cfg.Ingest)
	signalService := signalsvc.NewService(db, codec, assetRepo, signalRepo, cfg.Ingest)
	dupDetector := duplicate.NewDetector(db, assetRepo, dupRepo, cfg.Ingest)
	dupService := duplicate.NewService(db, assetRepo, relationRepo, historyRepo, dupRepo, snapshotCache)

	// 初始化处理器(控制器是服务集合,先初始化服务,然后服务装填成控制器)
	runHandler := ingestHandler.NewRunHandler(collectService, signalService, dupDetector)
	assetHandler := ledgerHandler.NewAssetHandler(assetRepo, snapshotRepo, historyRepo,
		signalRepo, relationRepo, dupRepo, snapshotCache, dupService)
	duplicateHandler := ledgerHandler.NewDuplicateHandler(dupService)

	// 创建Gin引擎
	gin.SetMode(cfg.Server.Mode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	return &Router{
		engine:            engine,
		middlewareManager: NewMiddlewareManager(),
		db:                db,
		redisClient:       redisClient,
		runHandler:        runHandler,
		assetHandler:      assetHandler,
		duplicateHandler:  duplicateHandler,
	}, nil
}

// SetupRoutes 设置路由
func (r *Router) SetupRoutes() {
	// 设置全局中间件
	r.engine.Use(r.middlewareManager.GinRequestIDMiddleware())
	r.engine.Use(r.middlewareManager.GinCORSMiddleware())
	r.engine.Use(r.middlewareManager.GinSecurityHeadersMiddleware())
	r.engine.Use(r.middlewareManager.GinLoggingMiddleware())

	// 健康检查
	r.engine.GET("/health", r.healthCheck)
	r.engine.GET("/ready", r.readinessCheck)
	r.engine.GET("/live", r.livenessCheck)

	// API版本路由组
	// /api/v1
	api := r.engine.Group("/api")
	v1 := api.Group("/v1")

	// 摄取路由
	sources := v1.Group("/sources")
	{
		sources.POST("/:id/runs/collect", r.runHandler.CollectRun)
		sources.POST("/:id/runs/signal", r.runHandler.SignalRun)
	}

	// 资产路由
	assets := v1.Group("/assets")
	{
		assets.GET("/:uuid/snapshot", r.assetHandler.GetSnapshot)
		assets.GET("/:uuid/history", r.assetHandler.GetHistory)
		assets.GET("/:uuid/operational-state", r.assetHandler.GetOperationalState)
		assets.GET("/:uuid/relations", r.assetHandler.GetRelations)
		assets.GET("/:uuid/merge-audits", r.assetHandler.GetMergeAudits)
		assets.POST("/:uuid/merge", r.assetHandler.Merge)
	}

	// 疑似重复候选路由
	duplicates := v1.Group("/duplicate-candidates")
	{
		duplicates.GET("", r.duplicateHandler.ListCandidates)
		duplicates.POST("/:id/ignore", r.duplicateHandler.IgnoreCandidate)
	}
}

// GetEngine 获取Gin引擎实例
func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}

// healthCheck 健康检查处理器
func (r *Router) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": logger.NowFormatted(),
	})
}

// readinessCheck 就绪检查处理器
// 数据库或Redis不可达时返回503
func (r *Router) readinessCheck(c *gin.Context) {
	sqlDB, err := r.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":    "not_ready",
			"component": "mysql",
			"timestamp": logger.NowFormatted(),
		})
		return
	}
	if r.redisClient != nil {
		if err := r.redisClient.Ping(c.Request.Context()).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":    "not_ready",
				"component": "redis",
				"timestamp": logger.NowFormatted(),
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "ready",
		"timestamp": logger.NowFormatted(),
	})
}

// livenessCheck 存活检查处理器
func (r *Router) livenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": logger.NowFormatted(),
	})
}
