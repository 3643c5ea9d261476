// 疑似重复资产实体
// DuplicateCandidate 是对"两个同类型资产可能是同一实体"的打分记录，
// 人工裁决后走 ignore 或 merge，两者均为终态；MergeAudit 记录每次合并的迁移明细
package ledger

import (
	"time"

	basemodel "neoledger/internal/model/basemodel"
)

// DuplicateCandidateStatus 候选状态
type DuplicateCandidateStatus string

const (
	DuplicateStatusOpen    DuplicateCandidateStatus = "open"    // 待裁决
	DuplicateStatusIgnored DuplicateCandidateStatus = "ignored" // 已忽略（终态）
	DuplicateStatusMerged  DuplicateCandidateStatus = "merged"  // 已合并（终态）
)

// DuplicateCandidate 疑似重复候选表
// (asset_uuid_a, asset_uuid_b) 为字典序归一的无序对，唯一
type DuplicateCandidate struct {
	basemodel.BaseModel

	CandidateID    string                   `json:"candidate_id" gorm:"size:36;uniqueIndex;not null;comment:候选UUID"`
	AssetUUIDA     string                   `json:"asset_uuid_a" gorm:"size:36;not null;uniqueIndex:uk_pair,priority:1;comment:资产A(字典序较小)"`
	AssetUUIDB     string                   `json:"asset_uuid_b" gorm:"size:36;not null;uniqueIndex:uk_pair,priority:2;comment:资产B(字典序较大)"`
	Score          int                      `json:"score" gorm:"index;not null;comment:重复评分(0-100)"`
	Reasons        string                   `json:"reasons" gorm:"type:json;comment:证据明细(JSON,dup-rules-v1)"`
	Status         DuplicateCandidateStatus `json:"status" gorm:"size:20;index;not null;default:'open';comment:候选状态"`
	LastObservedAt time.Time                `json:"last_observed_at" gorm:"comment:最近一次被检测到的时间"`
}

// TableName 定义数据库表名
func (DuplicateCandidate) TableName() string {
	return "duplicate_candidates"
}

// MergeAudit 合并审计表
// 每合并一个次要资产写一行，summary 保存迁移统计
type MergeAudit struct {
	basemodel.BaseModel

	PrimaryAssetUUID string    `json:"primary_asset_uuid" gorm:"size:36;index;not null;comment:主资产UUID"`
	MergedAssetUUID  string    `json:"merged_asset_uuid" gorm:"size:36;index;not null;comment:被合并资产UUID"`
	PerformedBy      string    `json:"performed_by" gorm:"size:100;comment:操作者标识"`
	PerformedAt      time.Time `json:"performed_at" gorm:"comment:操作时间"`
	ConflictStrategy string    `json:"conflict_strategy" gorm:"size:20;comment:冲突策略(primary_wins)"`
	Summary          string    `json:"summary" gorm:"type:json;comment:迁移统计(JSON)"`
}

// TableName 定义数据库表名
func (MergeAudit) TableName() string {
	return "merge_audits"
}
