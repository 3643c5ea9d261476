// 资产运行快照实体
// 每个 (资产, 运行) 一行 canonical-v1 文档，写入后不可变，
// 某资产最新的一行即其"当前视图"
package ledger

import (
	basemodel "neoledger/internal/model/basemodel"
)

// AssetRunSnapshot 资产运行快照表
type AssetRunSnapshot struct {
	basemodel.BaseModel

	AssetUUID string `json:"asset_uuid" gorm:"size:36;not null;uniqueIndex:uk_asset_run,priority:1;index;comment:资产UUID"`
	RunID     string `json:"run_id" gorm:"size:36;not null;uniqueIndex:uk_asset_run,priority:2;comment:运行ID"`
	Canonical string `json:"canonical" gorm:"type:json;not null;comment:canonical-v1文档(JSON)"`
}

// TableName 定义数据库表名
func (AssetRunSnapshot) TableName() string {
	return "asset_run_snapshots"
}
