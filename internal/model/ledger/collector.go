// 采集器输入契约
// 插件采集器（外部协作方）完成一轮运行后，提交规范化后的实体与关系列表，
// 本系统只消费该契约，不关心各厂商API细节
package ledger

// RunMode 运行模式，决定本轮的 presence 权威范围
type RunMode string

const (
	RunModeCollect      RunMode = "collect"       // 全量采集(vm+host+cluster)
	RunModeCollectHosts RunMode = "collect_hosts" // 仅宿主机与集群
	RunModeCollectVMs   RunMode = "collect_vms"   // 仅虚拟机
)

// Valid 判断运行模式是否合法
func (m RunMode) Valid() bool {
	switch m {
	case RunModeCollect, RunModeCollectHosts, RunModeCollectVMs:
		return true
	}
	return false
}

// PresenceScope 返回本运行模式下参与缺失检测的资产类型集合
// 范围外的身份链路本轮不做任何 presence 判定
func (m RunMode) PresenceScope() []AssetType {
	switch m {
	case RunModeCollectHosts:
		return []AssetType{AssetTypeHost, AssetTypeCluster}
	case RunModeCollectVMs:
		return []AssetType{AssetTypeVM}
	case RunModeCollect:
		return []AssetType{AssetTypeVM, AssetTypeHost, AssetTypeCluster}
	}
	return nil
}

// DupScope 返回本运行模式下参与重复检测的资产类型集合
// cluster 不参与重复检测
func (m RunMode) DupScope() []AssetType {
	switch m {
	case RunModeCollectHosts:
		return []AssetType{AssetTypeHost}
	case RunModeCollectVMs:
		return []AssetType{AssetTypeVM}
	case RunModeCollect:
		return []AssetType{AssetTypeHost, AssetTypeVM}
	}
	return nil
}

// SourceType 数据源类型
// 台账权威源可以创建/下线资产，信号源只能匹配到已知资产
type SourceType string

const (
	SourceTypeVCenter    SourceType = "vcenter"    // 虚拟化平台（台账权威源）
	SourceTypeSolarWinds SourceType = "solarwinds" // 监控系统（信号源）
)

// IsSignalSource 是否为信号类数据源
func (t SourceType) IsSignalSource() bool {
	return t == SourceTypeSolarWinds
}

// ExternalRef 外部实体引用
type ExternalRef struct {
	ExternalKind AssetType `json:"external_kind"` // 外部实体类型
	ExternalID   string    `json:"external_id"`   // 外部实体ID
}

// CollectorAsset 采集器上报的一个实体观测
type CollectorAsset struct {
	ExternalKind AssetType              `json:"external_kind"` // 外部实体类型
	ExternalID   string                 `json:"external_id"`   // 外部实体ID
	Normalized   map[string]interface{} `json:"normalized"`    // 规范化数据
	RawPayload   interface{}            `json:"raw_payload"`   // 原始载荷(透传)
}

// CollectorRelation 采集器上报的一条关系观测
type CollectorRelation struct {
	Type       RelationType `json:"type"`        // 关系类型
	From       ExternalRef  `json:"from"`        // 起点外部引用
	To         ExternalRef  `json:"to"`          // 终点外部引用
	RawPayload interface{}  `json:"raw_payload"` // 原始载荷(透传)
}

// Warning 非致命告警
// 结构化值而非错误：告警不会中断运行，调用方收到后自行决定处理方式
type Warning struct {
	Type    string                 `json:"type"`              // 告警类型
	Context map[string]interface{} `json:"context,omitempty"` // 告警上下文
}
