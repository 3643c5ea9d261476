// 监控信号实体
// 信号源（监控系统）不具备创建/退役资产的权威性，只能匹配到已知资产：
// AssetSignalLink 是信号实体到资产的身份桥接，SignalRecord 是观测流水，
// AssetOperationalState 是每资产一行的运行态汇总（每轮覆盖写，非流水）
package ledger

import (
	"time"

	basemodel "neoledger/internal/model/basemodel"
)

// SignalMatchType 信号匹配方式
// manual 具有粘性：自动匹配永远不得改写人工映射
type SignalMatchType string

const (
	SignalMatchManual SignalMatchType = "manual" // 人工绑定
	SignalMatchAuto   SignalMatchType = "auto"   // 自动匹配
)

// 监控健康状态，按严重程度排序（越靠后越差）
const (
	MonitorStateUp         = "up"
	MonitorStateUnmanaged  = "unmanaged"
	MonitorStateUnknown    = "unknown"
	MonitorStateWarning    = "warning"
	MonitorStateDown       = "down"
	MonitorStateNotCovered = "not_covered" // 曾被覆盖但本轮未观测到
)

// AssetSignalLink 信号身份链路表
// (source_id, external_kind, external_id) 三元组唯一
type AssetSignalLink struct {
	basemodel.BaseModel

	SourceID            string          `json:"source_id" gorm:"size:36;not null;uniqueIndex:uk_signal_external,priority:1;comment:来源ID"`
	ExternalKind        AssetType       `json:"external_kind" gorm:"size:20;not null;uniqueIndex:uk_signal_external,priority:2;comment:外部实体类型"`
	ExternalID          string          `json:"external_id" gorm:"size:255;not null;uniqueIndex:uk_signal_external,priority:3;comment:外部实体ID"`
	AssetUUID           string          `json:"asset_uuid" gorm:"size:36;index;comment:匹配到的资产UUID(可为空)"`
	MatchType           SignalMatchType `json:"match_type" gorm:"size:20;comment:匹配方式(manual/auto)"`
	MatchConfidence     int             `json:"match_confidence" gorm:"comment:匹配置信度(0-100)"`
	MatchReason         string          `json:"match_reason" gorm:"size:50;comment:匹配依据(ip/name/ip+name/manual/ambiguous)"`
	MatchEvidence       string          `json:"match_evidence" gorm:"type:json;comment:匹配证据(JSON)"`
	Ambiguous           bool            `json:"ambiguous" gorm:"default:false;comment:是否歧义匹配"`
	AmbiguousCandidates string          `json:"ambiguous_candidates" gorm:"type:json;comment:歧义候选列表(JSON)"`
	FirstSeenAt         time.Time       `json:"first_seen_at" gorm:"comment:首次观测时间"`
	LastSeenAt          time.Time       `json:"last_seen_at" gorm:"comment:最近观测时间"`
	LastSeenRunID       string          `json:"last_seen_run_id" gorm:"size:36;index;comment:最近观测运行ID"`
}

// TableName 定义数据库表名
func (AssetSignalLink) TableName() string {
	return "asset_signal_links"
}

// SignalRecord 信号观测流水表（只追加）
// 未匹配/歧义的观测同样落库（asset_uuid 为空），保证审计可追溯
type SignalRecord struct {
	basemodel.BaseModel

	CollectedAt    time.Time `json:"collected_at" gorm:"index;not null;comment:采集时间"`
	RunID          string    `json:"run_id" gorm:"size:36;index;not null;comment:运行ID"`
	SourceID       string    `json:"source_id" gorm:"size:36;index;not null;comment:来源ID"`
	LinkID         uint64    `json:"link_id" gorm:"index;not null;comment:信号链路ID"`
	AssetUUID      string    `json:"asset_uuid" gorm:"size:36;index;comment:资产UUID(未匹配时为空)"`
	ExternalKind   AssetType `json:"external_kind" gorm:"size:20;comment:外部实体类型"`
	ExternalID     string    `json:"external_id" gorm:"size:255;comment:外部实体ID"`
	Normalized     string    `json:"normalized" gorm:"type:json;comment:规范化数据(JSON)"`
	Raw            []byte    `json:"-" gorm:"type:mediumblob;comment:压缩后的原始载荷"`
	RawCompression string    `json:"raw_compression" gorm:"size:20;comment:压缩算法(zstd)"`
	RawSizeBytes   int       `json:"raw_size_bytes" gorm:"comment:原始载荷未压缩字节数"`
	RawHash        string    `json:"raw_hash" gorm:"size:64;comment:原始载荷SHA256"`
	RawMimeType    string    `json:"raw_mime_type" gorm:"size:50;comment:原始载荷MIME类型"`
}

// TableName 定义数据库表名
func (SignalRecord) TableName() string {
	return "signal_records"
}

// AssetOperationalState 资产运行态表
// 每资产一行的派生数据，每轮信号运行覆盖写
type AssetOperationalState struct {
	basemodel.BaseModel

	AssetUUID        string     `json:"asset_uuid" gorm:"size:36;uniqueIndex;not null;comment:资产UUID"`
	MonitorCovered   bool       `json:"monitor_covered" gorm:"default:false;comment:是否被监控覆盖"`
	MonitorState     string     `json:"monitor_state" gorm:"size:20;comment:监控健康状态(最差值)"`
	MonitorStatus    string     `json:"monitor_status" gorm:"size:255;comment:监控原始状态文本"`
	MonitorUpdatedAt *time.Time `json:"monitor_updated_at" gorm:"comment:监控状态更新时间"`
}

// TableName 定义数据库表名
func (AssetOperationalState) TableName() string {
	return "asset_operational_states"
}
