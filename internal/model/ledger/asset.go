// 资产台账核心实体
// Asset 是经过身份归并后的唯一资产记录，AssetSourceLink 是外部实体到资产的身份桥接，
// SourceRecord 是每次采集运行的原始观测流水（只追加，不修改）
package ledger

import (
	"time"

	basemodel "neoledger/internal/model/basemodel"
)

// AssetType 资产类型（封闭枚举：vm / host / cluster）
type AssetType string

const (
	AssetTypeVM      AssetType = "vm"      // 虚拟机
	AssetTypeHost    AssetType = "host"    // 物理主机/宿主机
	AssetTypeCluster AssetType = "cluster" // 集群
)

// Valid 判断资产类型是否合法
func (t AssetType) Valid() bool {
	switch t {
	case AssetTypeVM, AssetTypeHost, AssetTypeCluster:
		return true
	}
	return false
}

// AssetStatus 资产生命周期状态
// merged 为终态：一旦合并，任何采集与状态重算都不得再改写
type AssetStatus string

const (
	AssetStatusInService AssetStatus = "in_service" // 在役
	AssetStatusOffline   AssetStatus = "offline"    // 离线（所有来源均未观测到）
	AssetStatusMerged    AssetStatus = "merged"     // 已合并进其他资产（终态）
)

// PresenceStatus 外部实体在最近一次同范围运行中的出现状态
// 与 AssetStatus 区分：presence 是单条身份链路的观测结果，status 是全链路归并结果
type PresenceStatus string

const (
	PresencePresent PresenceStatus = "present" // 本轮被观测到
	PresenceMissing PresenceStatus = "missing" // 本轮在范围内但未被观测到
)

// Asset 资产表
// 每个物理/虚拟实体一行，跨来源跨运行保持稳定 UUID
type Asset struct {
	basemodel.BaseModel

	UUID                string      `json:"uuid" gorm:"size:36;uniqueIndex;not null;comment:资产UUID(稳定业务主键)"`
	AssetType           AssetType   `json:"asset_type" gorm:"size:20;index;not null;comment:资产类型(vm/host/cluster)"`
	Status              AssetStatus `json:"status" gorm:"size:20;index;not null;default:'in_service';comment:生命周期状态"`
	DisplayName         string      `json:"display_name" gorm:"size:255;comment:显示名称"`
	MergedIntoAssetUUID string      `json:"merged_into_asset_uuid" gorm:"size:36;index;comment:合并目标资产UUID(仅status=merged时有值)"`
	LastSeenAt          *time.Time  `json:"last_seen_at" gorm:"index;comment:最近观测时间"`

	// --- 人工覆盖字段（运维手工修正，展示优先于采集值）---
	OverrideMachineName string `json:"override_machine_name" gorm:"size:255;comment:人工覆盖的机器名"`
	OverrideIPText      string `json:"override_ip_text" gorm:"size:512;comment:人工覆盖的IP文本"`
	OverrideOSText      string `json:"override_os_text" gorm:"size:255;comment:人工覆盖的操作系统文本"`

	// --- 采集派生字段（由最新 canonical 快照回填，供列表检索与信号匹配索引使用）---
	CollectedHostname         string `json:"collected_hostname" gorm:"size:255;index;comment:采集到的主机名"`
	CollectedVMCaption        string `json:"collected_vm_caption" gorm:"size:255;index;comment:采集到的平台侧名称"`
	CollectedIPText           string `json:"collected_ip_text" gorm:"size:512;comment:采集到的IP列表文本(逗号分隔)"`
	MachineNameVMNameMismatch bool   `json:"machine_name_vm_name_mismatch" gorm:"default:false;comment:主机名与平台名不一致标记"`
}

// TableName 定义数据库表名
func (Asset) TableName() string {
	return "assets"
}

// IsMerged 是否处于合并终态
func (a *Asset) IsMerged() bool {
	return a.Status == AssetStatusMerged
}

// AssetSourceLink 资产身份链路表
// (source_id, external_kind, external_id) 三元组唯一，指向一个资产
// 首次观测创建，之后每轮运行更新 presence 与时间戳
type AssetSourceLink struct {
	basemodel.BaseModel

	SourceID       string         `json:"source_id" gorm:"size:36;not null;uniqueIndex:uk_source_external,priority:1;comment:来源ID"`
	ExternalKind   AssetType      `json:"external_kind" gorm:"size:20;not null;uniqueIndex:uk_source_external,priority:2;comment:外部实体类型"`
	ExternalID     string         `json:"external_id" gorm:"size:255;not null;uniqueIndex:uk_source_external,priority:3;comment:外部实体ID"`
	AssetUUID      string         `json:"asset_uuid" gorm:"size:36;index;not null;comment:资产UUID"`
	PresenceStatus PresenceStatus `json:"presence_status" gorm:"size:20;index;not null;default:'present';comment:出现状态(present/missing)"`
	FirstSeenAt    time.Time      `json:"first_seen_at" gorm:"comment:首次观测时间"`
	LastSeenAt     time.Time      `json:"last_seen_at" gorm:"comment:最近观测时间"`
	LastSeenRunID  string         `json:"last_seen_run_id" gorm:"size:36;index;comment:最近观测运行ID"`
}

// TableName 定义数据库表名
func (AssetSourceLink) TableName() string {
	return "asset_source_links"
}

// SourceRecord 采集观测流水表（只追加）
// 记录一次运行中对一个外部实体的一次规范化观测，作为审计与重放的依据
type SourceRecord struct {
	basemodel.BaseModel

	CollectedAt    time.Time `json:"collected_at" gorm:"index;not null;comment:采集时间"`
	RunID          string    `json:"run_id" gorm:"size:36;index;not null;comment:运行ID"`
	SourceID       string    `json:"source_id" gorm:"size:36;index;not null;comment:来源ID"`
	LinkID         uint64    `json:"link_id" gorm:"index;not null;comment:身份链路ID"`
	AssetUUID      string    `json:"asset_uuid" gorm:"size:36;index;not null;comment:资产UUID"`
	ExternalKind   AssetType `json:"external_kind" gorm:"size:20;index;comment:外部实体类型"`
	ExternalID     string    `json:"external_id" gorm:"size:255;comment:外部实体ID"`
	Normalized     string    `json:"normalized" gorm:"type:json;comment:规范化数据(JSON)"`
	Raw            []byte    `json:"-" gorm:"type:mediumblob;comment:压缩后的原始载荷"`
	RawCompression string    `json:"raw_compression" gorm:"size:20;comment:压缩算法(zstd)"`
	RawSizeBytes   int       `json:"raw_size_bytes" gorm:"comment:原始载荷未压缩字节数"`
	RawHash        string    `json:"raw_hash" gorm:"size:64;comment:原始载荷SHA256"`
	RawMimeType    string    `json:"raw_mime_type" gorm:"size:50;comment:原始载荷MIME类型"`
}

// TableName 定义数据库表名
func (SourceRecord) TableName() string {
	return "source_records"
}
