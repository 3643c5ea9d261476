// 资产派生字段回填
// 从最新 canonical 文档提取主机名/平台名/IP文本，写回资产行，
// 供列表检索与信号匹配索引使用
package ingest

import (
	"sort"
	"strings"

	ledgermodel "neoledger/internal/model/ledger"
)

// applyDerivedFields 将 canonical 关键字段回填到资产行
func applyDerivedFields(asset *ledgermodel.Asset, canonical map[string]interface{}) {
	fields, _ := canonicalMap(canonical, "fields").(map[string]interface{})

	hostname := cleanString(getLeafValue(fields, []string{"identity", "hostname"}))
	caption := cleanString(getLeafValue(fields, []string{"identity", "caption"}))
	ipText := joinIPs(getLeafValue(fields, []string{"network", "ip_addresses"}))

	asset.CollectedHostname = hostname
	asset.CollectedVMCaption = caption
	asset.CollectedIPText = ipText
	asset.MachineNameVMNameMismatch = hostname != "" && caption != "" && hostname != caption
}

// joinIPs 去重后按逗号拼接IP列表
func joinIPs(value interface{}) string {
	list, ok := value.([]interface{})
	if !ok {
		return ""
	}
	seen := make(map[string]struct{})
	var ips []string
	for _, item := range list {
		ip := cleanString(item)
		if ip == "" {
			continue
		}
		if _, dup := seen[ip]; dup {
			continue
		}
		seen[ip] = struct{}{}
		ips = append(ips, ip)
	}
	if len(ips) == 0 {
		return ""
	}
	sort.Strings(ips)
	return strings.Join(ips, ", ")
}
