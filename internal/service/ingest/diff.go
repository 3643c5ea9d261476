// 采集变更摘要
// 对比同一资产相邻两轮的 canonical 文档，产出人类可读的关键字段/关系变更摘要，
// 只挑各资产类型的关键路径，不做全量深度diff
package ingest

import (
	"fmt"
	"sort"
	"strings"

	ledgermodel "neoledger/internal/model/ledger"
)

// FieldChange 单个字段的变更
type FieldChange struct {
	Path   string `json:"path"`   // 字段路径(点分)
	Before string `json:"before"` // 变更前摘要
	After  string `json:"after"`  // 变更后摘要
}

// RelationChange 单类关系的目标集合变更
type RelationChange struct {
	Type   string `json:"type"`   // 关系类型
	Before string `json:"before"` // 变更前目标UUID集合(分号拼接)
	After  string `json:"after"`  // 变更后目标UUID集合(分号拼接)
}

// CollectChangedSummary collect.changed 事件的结构化摘要
type CollectChangedSummary struct {
	Changes         []FieldChange    `json:"changes"`
	RelationChanges []RelationChange `json:"relation_changes"`
}

// 各资产类型参与变更对比的关键字段路径
var keyPathsByAssetType = map[ledgermodel.AssetType][]string{
	ledgermodel.AssetTypeVM: {
		"identity.hostname",
		"identity.caption",
		"network.ip_addresses",
		"os.name",
		"os.version",
		"os.fingerprint",
		"hardware.cpu_count",
		"hardware.memory_bytes",
		"runtime.power_state",
	},
	ledgermodel.AssetTypeHost: {
		"identity.hostname",
		"network.ip_addresses",
		"os.name",
		"os.version",
		"hardware.cpu_count",
		"attributes.cpu_threads",
		"hardware.memory_bytes",
		"attributes.disk_total_bytes",
		"attributes.datastore_total_bytes",
	},
	ledgermodel.AssetTypeCluster: {
		"identity.hostname",
	},
}

// ComputeCollectChangedSummary 计算两份 canonical 文档之间的关键变更
// 无实质变化时返回 nil；字段与关系变更数分别受上限约束
func ComputeCollectChangedSummary(assetType ledgermodel.AssetType, prevCanonical, nextCanonical map[string]interface{}, maxFields, maxRelations int) *CollectChangedSummary {
	if maxFields <= 0 {
		maxFields = 5
	}
	if maxRelations <= 0 {
		maxRelations = 3
	}

	paths, ok := keyPathsByAssetType[assetType]
	if !ok {
		paths = keyPathsByAssetType[ledgermodel.AssetTypeVM]
	}

	prevFields, _ := canonicalMap(prevCanonical, "fields").(map[string]interface{})
	nextFields, _ := canonicalMap(nextCanonical, "fields").(map[string]interface{})

	var changes []FieldChange
	for _, p := range paths {
		before := getLeafValue(prevFields, strings.Split(p, "."))
		after := getLeafValue(nextFields, strings.Split(p, "."))
		if stableStringify(before) == stableStringify(after) {
			continue
		}
		changes = append(changes, FieldChange{
			Path:   p,
			Before: summarizeValue(before),
			After:  summarizeValue(after),
		})
		if len(changes) >= maxFields {
			break
		}
	}

	prevTargets := extractOutgoingTargets(prevCanonical)
	nextTargets := extractOutgoingTargets(nextCanonical)

	var relationChanges []RelationChange
	for _, t := range []ledgermodel.RelationType{ledgermodel.RelationRunsOn, ledgermodel.RelationMemberOf} {
		before := joinTargets(prevTargets, t)
		after := joinTargets(nextTargets, t)
		if before == after {
			continue
		}
		relationChanges = append(relationChanges, RelationChange{
			Type:   string(t),
			Before: before,
			After:  after,
		})
		if len(relationChanges) >= maxRelations {
			break
		}
	}

	if len(changes) == 0 && len(relationChanges) == 0 {
		return nil
	}
	return &CollectChangedSummary{Changes: changes, RelationChanges: relationChanges}
}

type outgoingTarget struct {
	relType ledgermodel.RelationType
	toUUID  string
}

// extractOutgoingTargets 从 canonical 文档提取出向关系目标
func extractOutgoingTargets(canonical map[string]interface{}) []outgoingTarget {
	relations, ok := canonicalMap(canonical, "relations").(map[string]interface{})
	if !ok {
		return nil
	}
	outgoing, ok := relations["outgoing"].([]interface{})
	if !ok {
		return nil
	}

	var targets []outgoingTarget
	for _, item := range outgoing {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		relType, _ := m["type"].(string)
		if relType == "" {
			continue
		}
		to, ok := m["to"].(map[string]interface{})
		if !ok {
			continue
		}
		toUUID, _ := to["asset_uuid"].(string)
		if strings.TrimSpace(toUUID) == "" {
			continue
		}
		targets = append(targets, outgoingTarget{relType: ledgermodel.RelationType(relType), toUUID: toUUID})
	}
	return targets
}

// joinTargets 提取指定类型关系的目标UUID集合并排序拼接
func joinTargets(targets []outgoingTarget, relType ledgermodel.RelationType) string {
	var uuids []string
	for _, t := range targets {
		if t.relType == relType {
			uuids = append(uuids, t.toUUID)
		}
	}
	sort.Strings(uuids)
	return strings.Join(uuids, ";")
}

// getLeafValue 按路径下钻 canonical fields，返回叶子的 value
func getLeafValue(fields map[string]interface{}, path []string) interface{} {
	var cursor interface{} = fields
	for _, key := range path {
		m, ok := cursor.(map[string]interface{})
		if !ok {
			return nil
		}
		cursor = m[key]
	}
	leaf, ok := cursor.(map[string]interface{})
	if !ok {
		return nil
	}
	return leaf["value"]
}

// canonicalMap 安全取 canonical 文档的顶层对象字段
func canonicalMap(canonical map[string]interface{}, key string) interface{} {
	if canonical == nil {
		return nil
	}
	return canonical[key]
}

// stableStringify 与键顺序无关的稳定字符串化，用于值对比
func stableStringify(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return fmt.Sprintf("%t", v)
	case float64:
		return trimFloat(v)
	case int:
		return fmt.Sprintf("%d", v)
	case int64:
		return fmt.Sprintf("%d", v)
	case []interface{}:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, stableStringify(item))
		}
		return "[" + strings.Join(parts, ",") + "]"
	case map[string]interface{}:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+":"+stableStringify(v[k]))
		}
		return "{" + strings.Join(parts, ",") + "}"
	default:
		return fmt.Sprintf("%v", v)
	}
}

// summarizeValue 把任意值压成适合展示的短摘要
// 字符串数组去重排序后分号拼接(IP列表等)，过长对象截断
func summarizeValue(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return fmt.Sprintf("%t", v)
	case float64:
		return trimFloat(v)
	case []interface{}:
		seen := make(map[string]struct{})
		var strs []string
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				continue
			}
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			if _, dup := seen[s]; dup {
				continue
			}
			seen[s] = struct{}{}
			strs = append(strs, s)
		}
		if len(strs) > 0 {
			sort.Strings(strs)
			return strings.Join(strs, ";")
		}
		return stableStringify(v)
	default:
		raw := stableStringify(v)
		if len(raw) > 200 {
			return raw[:200] + "…"
		}
		return raw
	}
}

// trimFloat 整数值的浮点数不带小数点输出
func trimFloat(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%g", v)
}
