// 资产关系实体
// Relation 是资产之间的有向类型化边，RelationRecord 是每轮运行的观测流水
package ledger

import (
	"time"

	basemodel "neoledger/internal/model/basemodel"
)

// RelationType 关系类型
type RelationType string

const (
	RelationRunsOn   RelationType = "runs_on"   // vm 运行于 host
	RelationMemberOf RelationType = "member_of" // host 属于 cluster
)

// Valid 判断关系类型是否合法
func (t RelationType) Valid() bool {
	return t == RelationRunsOn || t == RelationMemberOf
}

// RelationStatus 关系状态
type RelationStatus string

const (
	RelationActive RelationStatus = "active" // 活跃
)

// Relation 资产关系表
// (relation_type, from_asset_uuid, to_asset_uuid, source_id) 四元组唯一
type Relation struct {
	basemodel.BaseModel

	RelationType  RelationType   `json:"relation_type" gorm:"size:20;not null;uniqueIndex:uk_relation,priority:1;comment:关系类型"`
	FromAssetUUID string         `json:"from_asset_uuid" gorm:"size:36;not null;uniqueIndex:uk_relation,priority:2;index;comment:起点资产UUID"`
	ToAssetUUID   string         `json:"to_asset_uuid" gorm:"size:36;not null;uniqueIndex:uk_relation,priority:3;index;comment:终点资产UUID"`
	SourceID      string         `json:"source_id" gorm:"size:36;not null;uniqueIndex:uk_relation,priority:4;comment:来源ID"`
	Status        RelationStatus `json:"status" gorm:"size:20;not null;default:'active';comment:关系状态"`
	FirstSeenAt   time.Time      `json:"first_seen_at" gorm:"comment:首次观测时间"`
	LastSeenAt    time.Time      `json:"last_seen_at" gorm:"comment:最近观测时间"`
}

// TableName 定义数据库表名
func (Relation) TableName() string {
	return "relations"
}

// RelationRecord 关系观测流水表（只追加），与 SourceRecord 对应
type RelationRecord struct {
	basemodel.BaseModel

	CollectedAt    time.Time    `json:"collected_at" gorm:"index;not null;comment:采集时间"`
	RunID          string       `json:"run_id" gorm:"size:36;index;not null;comment:运行ID"`
	SourceID       string       `json:"source_id" gorm:"size:36;index;not null;comment:来源ID"`
	RelationID     uint64       `json:"relation_id" gorm:"index;not null;comment:关系ID"`
	RelationType   RelationType `json:"relation_type" gorm:"size:20;comment:关系类型"`
	FromAssetUUID  string       `json:"from_asset_uuid" gorm:"size:36;index;comment:起点资产UUID"`
	ToAssetUUID    string       `json:"to_asset_uuid" gorm:"size:36;index;comment:终点资产UUID"`
	Raw            []byte       `json:"-" gorm:"type:mediumblob;comment:压缩后的原始载荷"`
	RawCompression string       `json:"raw_compression" gorm:"size:20;comment:压缩算法(zstd)"`
	RawSizeBytes   int          `json:"raw_size_bytes" gorm:"comment:原始载荷未压缩字节数"`
	RawHash        string       `json:"raw_hash" gorm:"size:64;comment:原始载荷SHA256"`
	RawMimeType    string       `json:"raw_mime_type" gorm:"size:50;comment:原始载荷MIME类型"`
}

// TableName 定义数据库表名
func (RelationRecord) TableName() string {
	return "relation_records"
}
