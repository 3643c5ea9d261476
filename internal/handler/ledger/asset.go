/**
 * 资产查询与合并接口
 * @description: 资产最新快照查询、历史时间线、运行态、关系与合并
 * @func:
 * 	1.获取资产最新canonical快照(缓存优先)
 * 	2.获取资产历史事件时间线
 * 	3.获取资产运行态与信号链路
 * 	4.获取资产出向关系
 * 	5.获取资产合并审计记录
 * 	6.合并资产
 */
package ledger

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"neoledger/internal/model/system"
	"neoledger/internal/pkg/apperr"
	"neoledger/internal/pkg/logger"
	"neoledger/internal/pkg/utils"
	ledgerrepo "neoledger/internal/repo/mysql/ledger"
	redisrepo "neoledger/internal/repo/redis"
	"neoledger/internal/service/duplicate"
)

// AssetHandler 资产查询与合并处理器
type AssetHandler struct {
	assetRepo     *ledgerrepo.AssetRepository
	snapshotRepo  *ledgerrepo.SnapshotRepository
	historyRepo   *ledgerrepo.HistoryRepository
	signalRepo    *ledgerrepo.SignalRepository
	relationRepo  *ledgerrepo.RelationRepository
	dupRepo       *ledgerrepo.DuplicateRepository
	snapshotCache *redisrepo.SnapshotCacheRepository
	dupService    *duplicate.Service
}

// NewAssetHandler 创建资产查询与合并处理器
func NewAssetHandler(
	assetRepo *ledgerrepo.AssetRepository,
	snapshotRepo *ledgerrepo.SnapshotRepository,
	historyRepo *ledgerrepo.HistoryRepository,
	signalRepo *ledgerrepo.SignalRepository,
	relationRepo *ledgerrepo.RelationRepository,
	dupRepo *ledgerrepo.DuplicateRepository,
	snapshotCache *redisrepo.SnapshotCacheRepository,
	dupService *duplicate.Service,
) *AssetHandler {
	return &AssetHandler{
		assetRepo:     assetRepo,
		snapshotRepo:  snapshotRepo,
		historyRepo:   historyRepo,
		signalRepo:    signalRepo,
		relationRepo:  relationRepo,
		dupRepo:       dupRepo,
		snapshotCache: snapshotCache,
		dupService:    dupService,
	}
}

// GetSnapshot 获取资产最新canonical快照
// 缓存命中直接返回，未命中回源MySQL并回填缓存
func (h *AssetHandler) GetSnapshot(c *gin.Context) {
	assetUUID := c.Param("uuid")

	if h.snapshotCache != nil {
		cached, err := h.snapshotCache.GetLatest(c.Request.Context(), assetUUID)
		if err != nil {
			logger.LogSystemEvent("redis", "snapshot_cache_read_failed", err.Error(), logrus.WarnLevel,
				map[string]interface{}{"asset_uuid": assetUUID})
		} else if cached != "" {
			c.JSON(http.StatusOK, system.APIResponse{
				Code:    http.StatusOK,
				Status:  "success",
				Message: "获取快照成功",
				Data:    json.RawMessage(cached),
			})
			return
		}
	}

	asset, err := h.assetRepo.GetAssetByUUID(c.Request.Context(), assetUUID)
	if err != nil {
		writeAppError(c, err)
		return
	}
	if asset == nil {
		writeAppError(c, apperr.New(apperr.CodeAssetNotFound, apperr.CategoryConfig, "asset not found", false).
			WithContext("asset_uuid", assetUUID))
		return
	}

	snapshot, err := h.snapshotRepo.GetLatest(c.Request.Context(), assetUUID)
	if err != nil {
		writeAppError(c, err)
		return
	}
	if snapshot == nil {
		writeAppError(c, apperr.New(apperr.CodeAssetNotFound, apperr.CategoryConfig, "asset has no snapshot yet", false).
			WithContext("asset_uuid", assetUUID))
		return
	}

	if h.snapshotCache != nil {
		if err := h.snapshotCache.StoreLatest(c.Request.Context(), assetUUID, snapshot.Canonical); err != nil {
			logger.LogSystemEvent("redis", "snapshot_cache_write_failed", err.Error(), logrus.WarnLevel,
				map[string]interface{}{"asset_uuid": assetUUID})
		}
	}

	c.JSON(http.StatusOK, system.APIResponse{
		Code:    http.StatusOK,
		Status:  "success",
		Message: "获取快照成功",
		Data:    json.RawMessage(snapshot.Canonical),
	})
}

// GetHistory 获取资产历史事件时间线
func (h *AssetHandler) GetHistory(c *gin.Context) {
	assetUUID := c.Param("uuid")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	events, err := h.historyRepo.ListByAsset(c.Request.Context(), assetUUID, limit)
	if err != nil {
		writeAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, system.APIResponse{
		Code:    http.StatusOK,
		Status:  "success",
		Message: "获取历史事件成功",
		Data:    events,
	})
}

// GetOperationalState 获取资产运行态与匹配到的信号链路
// 运行态是信号运行覆盖写的派生数据，资产从未被监控覆盖时为空
func (h *AssetHandler) GetOperationalState(c *gin.Context) {
	assetUUID := c.Param("uuid")

	asset, err := h.assetRepo.GetAssetByUUID(c.Request.Context(), assetUUID)
	if err != nil {
		writeAppError(c, err)
		return
	}
	if asset == nil {
		writeAppError(c, apperr.New(apperr.CodeAssetNotFound, apperr.CategoryConfig, "asset not found", false).
			WithContext("asset_uuid", assetUUID))
		return
	}

	state, err := h.signalRepo.GetOperationalState(c.Request.Context(), assetUUID)
	if err != nil {
		writeAppError(c, err)
		return
	}
	links, err := h.signalRepo.ListMatchedLinksByAsset(c.Request.Context(), assetUUID)
	if err != nil {
		writeAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, system.APIResponse{
		Code:    http.StatusOK,
		Status:  "success",
		Message: "获取运行态成功",
		Data: map[string]interface{}{
			"asset_uuid":        assetUUID,
			"operational_state": state,
			"signal_links":      links,
		},
	})
}

// GetRelations 获取资产出向关系
func (h *AssetHandler) GetRelations(c *gin.Context) {
	assetUUID := c.Param("uuid")

	relations, err := h.relationRepo.ListOutgoing(c.Request.Context(), assetUUID)
	if err != nil {
		writeAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, system.APIResponse{
		Code:    http.StatusOK,
		Status:  "success",
		Message: "获取关系成功",
		Data:    relations,
	})
}

// GetMergeAudits 获取以该资产为主的合并审计记录
func (h *AssetHandler) GetMergeAudits(c *gin.Context) {
	assetUUID := c.Param("uuid")

	audits, err := h.dupRepo.ListMergeAuditsByPrimary(c.Request.Context(), assetUUID)
	if err != nil {
		writeAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, system.APIResponse{
		Code:    http.StatusOK,
		Status:  "success",
		Message: "获取合并审计成功",
		Data:    audits,
	})
}

// mergeRequest 合并请求
type mergeRequest struct {
	MergedAssetUUIDs []string `json:"merged_asset_uuids" binding:"required"`
	PerformedBy      string   `json:"performed_by"`
}

// Merge 合并资产
func (h *AssetHandler) Merge(c *gin.Context) {
	primaryUUID := c.Param("uuid")

	var req mergeRequest
	if bindErr := c.ShouldBindJSON(&req); bindErr != nil {
		c.JSON(http.StatusBadRequest, system.APIResponse{
			Code:    http.StatusBadRequest,
			Status:  "failed",
			Message: "请求参数无效",
			Error:   bindErr.Error(),
		})
		return
	}

	result, err := h.dupService.MergeAssets(c.Request.Context(), &duplicate.MergeInput{
		PrimaryAssetUUID: primaryUUID,
		MergedAssetUUIDs: req.MergedAssetUUIDs,
		PerformedBy:      req.PerformedBy,
		ClientIP:         utils.NormalizeIP(c.ClientIP()),
		RequestID:        c.GetHeader("X-Request-ID"),
	})
	if err != nil {
		writeAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, system.APIResponse{
		Code:    http.StatusOK,
		Status:  "success",
		Message: "资产合并成功",
		Data:    result,
	})
}
