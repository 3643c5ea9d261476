// 资产匹配索引
// 每轮信号运行开始时从非合并的 vm/host 资产一次性构建，
// 以名称键与IP键双通道定位候选资产，匹配过程零回表
package signal

import (
	"strings"

	ledgermodel "neoledger/internal/model/ledger"
	"neoledger/internal/pkg/utils"
)

// MatchEvidenceIP / MatchEvidenceName 匹配证据类别
const (
	MatchEvidenceIP   = "ip"
	MatchEvidenceName = "name"
)

// IndexedAsset 索引中的资产条目
type IndexedAsset struct {
	UUID        string
	AssetType   ledgermodel.AssetType
	DisplayName string
}

// AssetIndex 信号匹配索引
type AssetIndex struct {
	byNameKey map[string][]*IndexedAsset
	byIPKey   map[string][]*IndexedAsset
	assets    map[string]*IndexedAsset
}

// BuildAssetIndex 从资产列表构建匹配索引
// 名称键取采集主机名与平台名，IP键取采集IP文本拆分后的每个地址
func BuildAssetIndex(assets []*ledgermodel.Asset) *AssetIndex {
	idx := &AssetIndex{
		byNameKey: make(map[string][]*IndexedAsset),
		byIPKey:   make(map[string][]*IndexedAsset),
		assets:    make(map[string]*IndexedAsset, len(assets)),
	}
	for _, asset := range assets {
		if asset == nil || asset.IsMerged() {
			continue
		}
		entry := &IndexedAsset{
			UUID:        asset.UUID,
			AssetType:   asset.AssetType,
			DisplayName: asset.DisplayName,
		}
		idx.assets[asset.UUID] = entry

		nameSeen := make(map[string]struct{})
		for _, name := range []string{asset.CollectedHostname, asset.CollectedVMCaption} {
			for _, key := range deriveNameKeys(name) {
				if _, dup := nameSeen[key]; dup {
					continue
				}
				nameSeen[key] = struct{}{}
				idx.byNameKey[key] = append(idx.byNameKey[key], entry)
			}
		}

		ipSeen := make(map[string]struct{})
		for _, ip := range splitIPText(asset.CollectedIPText) {
			if _, dup := ipSeen[ip]; dup {
				continue
			}
			ipSeen[ip] = struct{}{}
			idx.byIPKey[ip] = append(idx.byIPKey[ip], entry)
		}
	}
	return idx
}

// LookupByName 按名称键查找候选资产
func (idx *AssetIndex) LookupByName(name string) []*IndexedAsset {
	seen := make(map[string]struct{})
	var out []*IndexedAsset
	for _, key := range deriveNameKeys(name) {
		for _, entry := range idx.byNameKey[key] {
			if _, dup := seen[entry.UUID]; dup {
				continue
			}
			seen[entry.UUID] = struct{}{}
			out = append(out, entry)
		}
	}
	return out
}

// LookupByIP 按IP键查找候选资产
func (idx *AssetIndex) LookupByIP(ip string) []*IndexedAsset {
	key := strings.ToLower(strings.TrimSpace(ip))
	if key == "" {
		return nil
	}
	return idx.byIPKey[key]
}

// Get 按UUID取索引条目
func (idx *AssetIndex) Get(assetUUID string) *IndexedAsset {
	return idx.assets[assetUUID]
}

// deriveNameKeys 派生名称键：统一小写去空白，FQDN 额外派生首段短名
func deriveNameKeys(name string) []string {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return nil
	}
	keys := []string{key}
	if dot := strings.Index(key, "."); dot > 0 {
		keys = append(keys, key[:dot])
	}
	return keys
}

// splitIPText 拆分采集IP文本为规范化IP键列表
func splitIPText(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(text, ",") {
		ip := strings.ToLower(utils.NormalizeIP(strings.TrimSpace(part)))
		if ip != "" {
			out = append(out, ip)
		}
	}
	return out
}
