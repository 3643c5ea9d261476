/**
 * 摄取运行接口
 * @description: 接收采集器提交的一轮运行结果
 * @func:
 * 	1.提交采集运行(台账权威源)
 * 	2.提交信号运行(监控信号源)
 */
package ingest

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	ledgermodel "neoledger/internal/model/ledger"
	"neoledger/internal/model/system"
	"neoledger/internal/pkg/apperr"
	"neoledger/internal/pkg/logger"
	"neoledger/internal/service/duplicate"
	ingestsvc "neoledger/internal/service/ingest"
	signalsvc "neoledger/internal/service/signal"
)

// RunHandler 摄取运行处理器
type RunHandler struct {
	collectService *ingestsvc.CollectService
	signalService  *signalsvc.Service
	dupDetector    *duplicate.Detector
}

// NewRunHandler 创建摄取运行处理器
func NewRunHandler(collectService *ingestsvc.CollectService, signalService *signalsvc.Service, dupDetector *duplicate.Detector) *RunHandler {
	return &RunHandler{
		collectService: collectService,
		signalService:  signalService,
		dupDetector:    dupDetector,
	}
}

// collectRunRequest 采集运行提交请求
type collectRunRequest struct {
	RunID       string                          `json:"run_id" binding:"required"`
	RunMode     string                          `json:"run_mode" binding:"required"`
	CollectedAt time.Time                       `json:"collected_at" binding:"required"`
	Assets      []ledgermodel.CollectorAsset    `json:"assets"`
	Relations   []ledgermodel.CollectorRelation `json:"relations"`
}

// CollectRun 提交一轮采集运行
// 摄取成功后同步触发重复检测，检测失败不影响摄取结果
func (h *RunHandler) CollectRun(c *gin.Context) {
	sourceID := c.Param("id")

	var req collectRunRequest
	if bindErr := c.ShouldBindJSON(&req); bindErr != nil {
		c.JSON(http.StatusBadRequest, system.APIResponse{
			Code:    http.StatusBadRequest,
			Status:  "failed",
			Message: "请求参数无效",
			Error:   bindErr.Error(),
		})
		return
	}

	result, err := h.collectService.IngestCollectRun(c.Request.Context(), &ingestsvc.CollectRunInput{
		SourceID:    sourceID,
		RunID:       req.RunID,
		RunMode:     ledgermodel.RunMode(req.RunMode),
		CollectedAt: req.CollectedAt,
		Assets:      req.Assets,
		Relations:   req.Relations,
	})
	if err != nil {
		writeAppError(c, err)
		return
	}

	detectResult, detectErr := h.dupDetector.DetectForRun(c.Request.Context(), &duplicate.DetectInput{
		SourceID:   sourceID,
		RunID:      req.RunID,
		RunMode:    ledgermodel.RunMode(req.RunMode),
		ObservedAt: req.CollectedAt,
	})
	if detectErr != nil {
		logger.LogError(detectErr, sourceID, req.RunID, map[string]interface{}{
			"operation": "collect_run_dup_detect",
		})
	}

	data := gin.H{
		"ingested_assets":    result.IngestedAssets,
		"ingested_relations": result.IngestedRelations,
		"warnings":           result.Warnings,
	}
	if detectResult != nil {
		data["duplicate_detection"] = detectResult
	}
	c.JSON(http.StatusOK, system.APIResponse{
		Code:    http.StatusOK,
		Status:  "success",
		Message: "采集运行摄取成功",
		Data:    data,
	})
}

// signalRunRequest 信号运行提交请求
type signalRunRequest struct {
	RunID       string                       `json:"run_id" binding:"required"`
	SourceType  string                       `json:"source_type" binding:"required"`
	CollectedAt time.Time                    `json:"collected_at" binding:"required"`
	Assets      []ledgermodel.CollectorAsset `json:"assets"`
}

// SignalRun 提交一轮信号运行
func (h *RunHandler) SignalRun(c *gin.Context) {
	sourceID := c.Param("id")

	var req signalRunRequest
	if bindErr := c.ShouldBindJSON(&req); bindErr != nil {
		c.JSON(http.StatusBadRequest, system.APIResponse{
			Code:    http.StatusBadRequest,
			Status:  "failed",
			Message: "请求参数无效",
			Error:   bindErr.Error(),
		})
		return
	}

	result, err := h.signalService.IngestSignalRun(c.Request.Context(), &signalsvc.SignalRunInput{
		SourceID:    sourceID,
		SourceType:  ledgermodel.SourceType(req.SourceType),
		RunID:       req.RunID,
		CollectedAt: req.CollectedAt,
		Assets:      req.Assets,
	})
	if err != nil {
		writeAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, system.APIResponse{
		Code:    http.StatusOK,
		Status:  "success",
		Message: "信号运行摄取成功",
		Data:    result,
	})
}

// writeAppError 把应用错误映射为HTTP响应
func writeAppError(c *gin.Context, err error) {
	appErr := apperr.FromError(err)
	status := http.StatusInternalServerError
	switch appErr.Code {
	case apperr.CodeInvalidRequest, apperr.CodeUnsupportedSourceType,
		apperr.CodeMergeCycleDetected, apperr.CodeMergeTypeMismatch, apperr.CodeMergeVMRequiresOffline:
		status = http.StatusBadRequest
	case apperr.CodeAssetNotFound, apperr.CodeCandidateNotFound:
		status = http.StatusNotFound
	case apperr.CodeSchemaValidationFailed, apperr.CodeRawPersistFailed:
		status = http.StatusUnprocessableEntity
	case apperr.CodeDBWriteFailed:
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, system.APIResponse{
		Code:    status,
		Status:  "failed",
		Message: appErr.Message,
		Error:   appErr.Code,
		Data:    appErr.RedactedContext,
	})
}
