// 重复判定规则 dup-rules-v1
// 对同类型两个资产的最新规范化数据做确定性打分：
// 先过占位值黑名单，再按字段类型归一化，命中规则累加权重，总分封顶100
package duplicate

import (
	"regexp"
	"strings"

	ledgermodel "neoledger/internal/model/ledger"
)

// RulesVersion 规则版本号，写入候选的 reasons 字段
const RulesVersion = "dup-rules-v1"

// MatchedRule 命中的单条规则及其证据
type MatchedRule struct {
	Rule   string   `json:"rule"`
	Weight int      `json:"weight"`
	Values []string `json:"values"`
}

// ScoreReasons 候选 reasons 字段的持久化形态
type ScoreReasons struct {
	Version      string        `json:"version"`
	MatchedRules []MatchedRule `json:"matched_rules"`
}

// 占位值黑名单：厂商固件/模板常见的无效标识，命中即不参与判定
var placeholderValues = map[string]struct{}{
	"n/a":     {},
	"na":      {},
	"unknown": {},
	"none":    {},
	"null":    {},
	"-":       {},
	"--":      {},
	"---":     {},
	"0":       {},
	"00000000-0000-0000-0000-000000000000": {},
	"00000000000000000000000000000000":     {},
	"to be filled":           {},
	"to be filled by o.e.m.": {},
	"default string":         {},
	"system serial number":   {},
	"not specified":          {},
	"not available":          {},
	"xxxxxxxxxx":             {},
	"xxxxxxxxxxxx":           {},
	"00:00:00:00:00:00":      {},
	"00-00-00-00-00-00":      {},
	"000000000000":           {},
	"ff:ff:ff:ff:ff:ff":      {},
	"ff-ff-ff-ff-ff-ff":      {},
	"ffffffffffff":           {},
}

var compactKeyPattern = regexp.MustCompile(`[-:\s]`)

// isPlaceholder 判断值是否为占位值
// 同时检查原值与紧凑形(去掉分隔符)两种键
func isPlaceholder(value string) bool {
	key := strings.ToLower(strings.TrimSpace(value))
	if key == "" {
		return true
	}
	if _, ok := placeholderValues[key]; ok {
		return true
	}
	compact := compactKeyPattern.ReplaceAllString(key, "")
	if compact == "" {
		return true
	}
	_, ok := placeholderValues[compact]
	return ok
}

// 字段归一化器

func normalizeUUIDKey(value string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(value)), "-", "")
}

var macSeparators = strings.NewReplacer("-", "", ":", "", ".", "")

func normalizeMACKey(value string) string {
	return macSeparators.Replace(strings.ToLower(strings.TrimSpace(value)))
}

func normalizeNameKey(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func normalizeSerialKey(value string) string {
	return strings.ToUpper(strings.TrimSpace(value))
}

// dupRule 单条判定规则
type dupRule struct {
	name      string
	weight    int
	assetType ledgermodel.AssetType
	// keys 提取参与判定的归一化键集合，原值用于证据展示
	keys func(normalized map[string]interface{}) map[string]string
}

// 规则表：键为归一化值，值为原值(证据)
var dupRules = []dupRule{
	{
		name:      "vm.machine_uuid_match",
		weight:    100,
		assetType: ledgermodel.AssetTypeVM,
		keys:      scalarKeys(normalizeUUIDKey, "identity", "machine_uuid"),
	},
	{
		name:      "vm.mac_overlap",
		weight:    90,
		assetType: ledgermodel.AssetTypeVM,
		keys:      listKeys(normalizeMACKey, "network", "mac_addresses"),
	},
	{
		name:      "host.serial_match",
		weight:    100,
		assetType: ledgermodel.AssetTypeHost,
		keys:      scalarKeys(normalizeSerialKey, "identity", "serial_number"),
	},
	{
		name:      "host.bmc_ip_match",
		weight:    90,
		assetType: ledgermodel.AssetTypeHost,
		keys:      scalarKeys(normalizeNameKey, "network", "bmc_ip"),
	},
	{
		name:      "host.mgmt_ip_match",
		weight:    70,
		assetType: ledgermodel.AssetTypeHost,
		keys:      scalarKeys(normalizeNameKey, "network", "management_ip"),
	},
}

// scalarKeys 从单个标量字段提取键
func scalarKeys(normalize func(string) string, path ...string) func(map[string]interface{}) map[string]string {
	return func(normalized map[string]interface{}) map[string]string {
		raw, ok := nestedValue(normalized, path...).(string)
		if !ok || isPlaceholder(raw) {
			return nil
		}
		key := normalize(raw)
		if key == "" {
			return nil
		}
		return map[string]string{key: strings.TrimSpace(raw)}
	}
}

// listKeys 从字符串数组字段提取键集合
func listKeys(normalize func(string) string, path ...string) func(map[string]interface{}) map[string]string {
	return func(normalized map[string]interface{}) map[string]string {
		list, ok := nestedValue(normalized, path...).([]interface{})
		if !ok {
			return nil
		}
		out := make(map[string]string)
		for _, item := range list {
			raw, ok := item.(string)
			if !ok || isPlaceholder(raw) {
				continue
			}
			key := normalize(raw)
			if key != "" {
				out[key] = strings.TrimSpace(raw)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	}
}

// hostnameIPKeys vm.hostname_ip_overlap 的复合条件：主机名相同且IP有交集
func vmHostnameKey(normalized map[string]interface{}) string {
	raw, ok := nestedValue(normalized, "identity", "hostname").(string)
	if !ok || isPlaceholder(raw) {
		return ""
	}
	return normalizeNameKey(raw)
}

func vmIPKeys(normalized map[string]interface{}) map[string]string {
	return listKeys(normalizeNameKey, "network", "ip_addresses")(normalized)
}

// CalculateDupScore 按 dup-rules-v1 对一对同类型资产打分
// 返回 (总分, 命中规则)；无任何命中时总分为0
func CalculateDupScore(assetType ledgermodel.AssetType, normalizedA, normalizedB map[string]interface{}) (int, []MatchedRule) {
	var matched []MatchedRule
	score := 0

	for _, rule := range dupRules {
		if rule.assetType != assetType {
			continue
		}
		keysA := rule.keys(normalizedA)
		keysB := rule.keys(normalizedB)
		if len(keysA) == 0 || len(keysB) == 0 {
			continue
		}
		var values []string
		for key, raw := range keysA {
			if _, ok := keysB[key]; ok {
				values = append(values, raw)
			}
		}
		if len(values) == 0 {
			continue
		}
		matched = append(matched, MatchedRule{Rule: rule.name, Weight: rule.weight, Values: values})
		score += rule.weight
	}

	// vm.hostname_ip_overlap：主机名相等且IP存在交集才算命中
	if assetType == ledgermodel.AssetTypeVM {
		hostA := vmHostnameKey(normalizedA)
		hostB := vmHostnameKey(normalizedB)
		if hostA != "" && hostA == hostB {
			ipsA := vmIPKeys(normalizedA)
			ipsB := vmIPKeys(normalizedB)
			var values []string
			for key, raw := range ipsA {
				if _, ok := ipsB[key]; ok {
					values = append(values, raw)
				}
			}
			if len(values) > 0 {
				matched = append(matched, MatchedRule{
					Rule:   "vm.hostname_ip_overlap",
					Weight: 70,
					Values: append([]string{hostA}, values...),
				})
				score += 70
			}
		}
	}

	if score > 100 {
		score = 100
	}
	return score, matched
}

// nestedValue 按路径取嵌套值
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
