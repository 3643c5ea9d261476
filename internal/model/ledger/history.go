// 资产历史事件实体（只追加的叙事日志，供审计与时间线展示）
package ledger

import (
	"time"

	basemodel "neoledger/internal/model/basemodel"
)

// 历史事件类型
const (
	HistoryEventStatusChanged  = "status_changed"  // 生命周期状态变更
	HistoryEventCollectChanged = "collect.changed" // 采集内容发生实质变化
	HistoryEventAssetMerged    = "asset.merged"    // 资产合并
)

// AssetHistoryEvent 资产历史事件表
type AssetHistoryEvent struct {
	basemodel.BaseModel

	AssetUUID  string    `json:"asset_uuid" gorm:"size:36;index;not null;comment:资产UUID"`
	EventType  string    `json:"event_type" gorm:"size:50;index;not null;comment:事件类型"`
	OccurredAt time.Time `json:"occurred_at" gorm:"index;not null;comment:发生时间"`
	Title      string    `json:"title" gorm:"size:255;comment:事件标题"`
	Summary    string    `json:"summary" gorm:"type:json;comment:事件摘要(JSON)"`
	Refs       string    `json:"refs" gorm:"type:json;comment:关联引用(JSON)"`
}

// TableName 定义数据库表名
func (AssetHistoryEvent) TableName() string {
	return "asset_history_events"
}
