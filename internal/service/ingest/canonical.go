// canonical-v1 快照构建器
// 纯函数：把一次采集的规范化载荷加上出向关系，构建为带字段级溯源的文档。
// v1 约定：每轮只有一个来源贡献字段，溯源用于审计与未来的多源合并，不做冲突仲裁
package ingest

import (
	"strings"
	"time"

	ledgermodel "neoledger/internal/model/ledger"
)

// CanonicalVersion canonical 文档版本号
const CanonicalVersion = "canonical-v1"

// FieldProvenance 字段溯源信息
type FieldProvenance struct {
	SourceID    string `json:"source_id"`
	RunID       string `json:"run_id"`
	RecordID    uint64 `json:"record_id,omitempty"`
	CollectedAt string `json:"collected_at,omitempty"`
}

// CanonicalOutgoingTarget 出向关系的目标资产
type CanonicalOutgoingTarget struct {
	AssetUUID   string                `json:"asset_uuid"`
	DisplayName string                `json:"display_name"`
	AssetType   ledgermodel.AssetType `json:"asset_type,omitempty"`
}

// CanonicalOutgoingRelation canonical 文档中的一条出向关系
type CanonicalOutgoingRelation struct {
	Type       ledgermodel.RelationType `json:"type"`
	To         CanonicalOutgoingTarget  `json:"to"`
	SourceID   string                   `json:"source_id,omitempty"`
	LastSeenAt string                   `json:"last_seen_at,omitempty"`
}

// CanonicalInput canonical 构建输入
type CanonicalInput struct {
	AssetUUID   string
	AssetType   ledgermodel.AssetType
	Status      ledgermodel.AssetStatus
	SourceID    string
	RunID       string
	RecordID    uint64
	CollectedAt time.Time
	Normalized  map[string]interface{}
	Outgoing    []CanonicalOutgoingRelation
}

// BuildCanonicalV1 构建 canonical-v1 文档
// 每个叶子字段包装为 {value, sources:[...]}，顶层 version/kind 字段不进入 fields
func BuildCanonicalV1(input CanonicalInput) map[string]interface{} {
	fields := make(map[string]interface{}, len(input.Normalized))
	for k, v := range input.Normalized {
		if k == "version" || k == "kind" {
			continue
		}
		fields[k] = v
	}

	provenance := FieldProvenance{
		SourceID:    input.SourceID,
		RunID:       input.RunID,
		RecordID:    input.RecordID,
		CollectedAt: input.CollectedAt.UTC().Format(time.RFC3339),
	}

	status := input.Status
	if status == "" {
		status = ledgermodel.AssetStatusInService
	}

	outgoing := input.Outgoing
	if outgoing == nil {
		outgoing = []CanonicalOutgoingRelation{}
	}

	return map[string]interface{}{
		"version":      CanonicalVersion,
		"asset_uuid":   input.AssetUUID,
		"asset_type":   string(input.AssetType),
		"status":       string(status),
		"display_name": deriveCanonicalDisplayName(input.Normalized, input.AssetUUID),
		"last_seen_at": input.CollectedAt.UTC().Format(time.RFC3339),
		"fields":       toCanonicalNode(fields, provenance),
		"relations":    map[string]interface{}{"outgoing": outgoing},
	}
}

// toCanonicalNode 递归包装：对象逐字段下钻，叶子(标量/数组)包装为 FieldValue
func toCanonicalNode(value interface{}, provenance FieldProvenance) interface{} {
	if obj, ok := value.(map[string]interface{}); ok {
		out := make(map[string]interface{}, len(obj))
		for k, child := range obj {
			out[k] = toCanonicalNode(child, provenance)
		}
		return out
	}
	return map[string]interface{}{
		"value":   value,
		"sources": []FieldProvenance{provenance},
	}
}

// deriveCanonicalDisplayName 从规范化载荷派生展示名：hostname > caption > 资产UUID
func deriveCanonicalDisplayName(normalized map[string]interface{}, fallback string) string {
	if hostname := cleanString(nestedValue(normalized, "identity", "hostname")); hostname != "" {
		return hostname
	}
	if caption := cleanString(nestedValue(normalized, "identity", "caption")); caption != "" {
		return caption
	}
	return fallback
}

// nestedValue 按路径取嵌套值，任一层不是对象则返回 nil
func nestedValue(obj map[string]interface{}, path ...string) interface{} {
	var cursor interface{} = obj
	for _, key := range path {
		m, ok := cursor.(map[string]interface{})
		if !ok {
			return nil
		}
		cursor = m[key]
	}
	return cursor
}

// cleanString 取非空白字符串，否则返回空串
func cleanString(value interface{}) string {
	s, ok := value.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(s)
}
