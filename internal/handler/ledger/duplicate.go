/**
 * 疑似重复候选接口
 * @description: 候选列表查询与人工裁决
 * @func:
 * 	1.分页获取候选列表(评分倒序)
 * 	2.忽略候选
 */
package ledger

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	ledgermodel "neoledger/internal/model/ledger"
	"neoledger/internal/model/system"
	"neoledger/internal/pkg/apperr"
	"neoledger/internal/pkg/utils"
	"neoledger/internal/service/duplicate"
)

// DuplicateHandler 疑似重复候选处理器
type DuplicateHandler struct {
	dupService *duplicate.Service
}

// NewDuplicateHandler 创建疑似重复候选处理器
func NewDuplicateHandler(dupService *duplicate.Service) *DuplicateHandler {
	return &DuplicateHandler{dupService: dupService}
}

// ListCandidates 分页获取候选列表
// status 为空时返回全部状态
func (h *DuplicateHandler) ListCandidates(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	status := ledgermodel.DuplicateCandidateStatus(c.Query("status"))

	candidates, total, err := h.dupService.ListCandidates(c.Request.Context(), status, page, pageSize)
	if err != nil {
		writeAppError(c, err)
		return
	}

	totalPages := int(total) / pageSize
	if int(total)%pageSize != 0 {
		totalPages++
	}
	c.JSON(http.StatusOK, system.APIResponse{
		Code:    http.StatusOK,
		Status:  "success",
		Message: "获取候选列表成功",
		Data: system.PaginationResponse{
			Total:      total,
			Page:       page,
			PageSize:   pageSize,
			TotalPages: totalPages,
			Data:       candidates,
		},
	})
}

// IgnoreCandidate 忽略候选
func (h *DuplicateHandler) IgnoreCandidate(c *gin.Context) {
	candidateID := c.Param("id")
	operator := c.GetHeader("X-Operator")

	candidate, err := h.dupService.IgnoreCandidate(c.Request.Context(), candidateID, operator,
		utils.NormalizeIP(c.ClientIP()), c.GetHeader("X-Request-ID"))
	if err != nil {
		writeAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, system.APIResponse{
		Code:    http.StatusOK,
		Status:  "success",
		Message: "候选已忽略",
		Data:    candidate,
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
