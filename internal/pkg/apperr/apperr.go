// 应用错误类型
// 摄取核心的致命错误统一为带稳定错误码的 AppError 值，
// 调用方据此区分"整轮回滚"与"可重试"；可恢复问题走 Warning，不走 error
package apperr

import "fmt"

// Category 错误大类
type Category string

const (
	CategoryConfig  Category = "config"  // 配置/请求参数错误
	CategorySchema  Category = "schema"  // 模式校验错误
	CategoryDB      Category = "db"      // 数据库错误
	CategoryRaw     Category = "raw"     // 原始载荷处理错误
	CategoryUnknown Category = "unknown" // 未分类
)

// 稳定错误码
const (
	CodeRawPersistFailed       = "RAW_PERSIST_FAILED"
	CodeSchemaValidationFailed = "SCHEMA_VALIDATION_FAILED"
	CodeDBWriteFailed          = "DB_WRITE_FAILED"
	CodeInvalidRequest         = "CONFIG_INVALID_REQUEST"
	CodeAssetNotFound          = "CONFIG_ASSET_NOT_FOUND"
	CodeCandidateNotFound      = "CONFIG_CANDIDATE_NOT_FOUND"
	CodeMergeCycleDetected     = "CONFIG_ASSET_MERGE_CYCLE_DETECTED"
	CodeMergeTypeMismatch      = "CONFIG_ASSET_MERGE_ASSET_TYPE_MISMATCH"
	CodeMergeVMRequiresOffline = "CONFIG_ASSET_MERGE_VM_REQUIRES_OFFLINE"
	CodeUnsupportedSourceType  = "CONFIG_UNSUPPORTED_SOURCE_TYPE"
	CodeInternalError          = "INTERNAL_ERROR"
)

// AppError 带稳定错误码的应用错误
// RedactedContext 只允许放入已脱敏的上下文，禁止放入原始载荷/凭据
type AppError struct {
	Code            string                 `json:"code"`
	Category        Category               `json:"category"`
	Message         string                 `json:"message"`
	Retryable       bool                   `json:"retryable"`
	RedactedContext map[string]interface{} `json:"redacted_context,omitempty"`
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New 创建 AppError
func New(code string, category Category, message string, retryable bool) *AppError {
	return &AppError{
		Code:      code,
		Category:  category,
		Message:   message,
		Retryable: retryable,
	}
}

// WithContext 附加脱敏上下文（返回自身，便于链式调用）
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.RedactedContext == nil {
		e.RedactedContext = make(map[string]interface{})
	}
	e.RedactedContext[key] = value
	return e
}

// Is 支持 errors.Is 按错误码比较
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// FromError 将任意错误归一为 AppError，已是 AppError 的原样返回
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}
	return &AppError{
		Code:      CodeInternalError,
		Category:  CategoryUnknown,
		Message:   "internal error",
		Retryable: false,
		RedactedContext: map[string]interface{}{
			"cause": err.Error(),
		},
	}
}

// IsCode 判断错误是否携带指定错误码
func IsCode(err error, code string) bool {
	appErr, ok := err.(*AppError)
	return ok && appErr.Code == code
}
