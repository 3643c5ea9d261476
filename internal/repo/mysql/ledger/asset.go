package ledger

import (
	"context"
	"errors"
	"time"

	ledgermodel "neoledger/internal/model/ledger"
	"neoledger/internal/pkg/logger"

	"gorm.io/gorm"
)

// AssetRepository 资产仓库
// 负责 Asset / AssetSourceLink / SourceRecord 的数据访问
type AssetRepository struct {
	db        *gorm.DB
	batchSize int
}

// NewAssetRepository 创建 AssetRepository 实例
// batchSize 控制批量更新的分片大小，避免生成超长SQL语句
func NewAssetRepository(db *gorm.DB, batchSize int) *AssetRepository {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &AssetRepository{db: db, batchSize: batchSize}
}

// WithTx 返回绑定到指定事务的仓库副本
func (r *AssetRepository) WithTx(tx *gorm.DB) *AssetRepository {
	return &AssetRepository{db: tx, batchSize: r.batchSize}
}

// -----------------------------------------------------------------------------
// Asset CRUD
// -----------------------------------------------------------------------------

// CreateAsset 创建资产
func (r *AssetRepository) CreateAsset(ctx context.Context, asset *ledgermodel.Asset) error {
	if asset == nil {
		return errors.New("asset is nil")
	}
	err := r.db.WithContext(ctx).Create(asset).Error
	if err != nil {
		logger.LogError(err, "", "", map[string]interface{}{
			"operation":  "create_asset",
			"asset_uuid": asset.UUID,
		})
		return err
	}
	return nil
}

// SaveAsset 保存资产（全字段更新）
func (r *AssetRepository) SaveAsset(ctx context.Context, asset *ledgermodel.Asset) error {
	if asset == nil || asset.ID == 0 {
		return errors.New("invalid asset or id")
	}
	err := r.db.WithContext(ctx).Save(asset).Error
	if err != nil {
		logger.LogError(err, "", "", map[string]interface{}{
			"operation":  "save_asset",
			"asset_uuid": asset.UUID,
		})
		return err
	}
	return nil
}

// GetAssetByUUID 根据UUID获取资产
func (r *AssetRepository) GetAssetByUUID(ctx context.Context, uuid string) (*ledgermodel.Asset, error) {
	var asset ledgermodel.Asset
	err := r.db.WithContext(ctx).Where("uuid = ?", uuid).First(&asset).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		logger.LogError(err, "", "", map[string]interface{}{
			"operation":  "get_asset_by_uuid",
			"asset_uuid": uuid,
		})
		return nil, err
	}
	return &asset, nil
}

// ListAssetsByUUIDs 批量获取资产
func (r *AssetRepository) ListAssetsByUUIDs(ctx context.Context, uuids []string) ([]*ledgermodel.Asset, error) {
	if len(uuids) == 0 {
		return nil, nil
	}
	var assets []*ledgermodel.Asset
	for _, chunk := range chunkStrings(uuids, r.batchSize) {
		var part []*ledgermodel.Asset
		err := r.db.WithContext(ctx).Where("uuid IN ?", chunk).Find(&part).Error
		if err != nil {
			logger.LogError(err, "", "", map[string]interface{}{
				"operation": "list_assets_by_uuids",
				"count":     len(uuids),
			})
			return nil, err
		}
		assets = append(assets, part...)
	}
	return assets, nil
}

// ListMatchableAssets 获取可参与信号匹配的资产
// 排除已合并资产，只取 vm/host 两类
func (r *AssetRepository) ListMatchableAssets(ctx context.Context) ([]*ledgermodel.Asset, error) {
	var assets []*ledgermodel.Asset
	err := r.db.WithContext(ctx).
		Where("asset_type IN ?", []ledgermodel.AssetType{ledgermodel.AssetTypeVM, ledgermodel.AssetTypeHost}).
		Where("status <> ?", ledgermodel.AssetStatusMerged).
		Find(&assets).Error
	if err != nil {
		logger.LogError(err, "", "", map[string]interface{}{
			"operation": "list_matchable_assets",
		})
		return nil, err
	}
	return assets, nil
}

// ListDupPoolAssets 获取重复检测候选池资产
// 在役资产全量纳入，离线资产只纳入时间窗口内出现过的
func (r *AssetRepository) ListDupPoolAssets(ctx context.Context, assetType ledgermodel.AssetType, cutoff time.Time) ([]*ledgermodel.Asset, error) {
	var assets []*ledgermodel.Asset
	err := r.db.WithContext(ctx).
		Where("asset_type = ?", assetType).
		Where("status <> ?", ledgermodel.AssetStatusMerged).
		Where("status = ? OR (status = ? AND last_seen_at >= ?)",
			ledgermodel.AssetStatusInService, ledgermodel.AssetStatusOffline, cutoff).
		Find(&assets).Error
	if err != nil {
		logger.LogError(err, "", "", map[string]interface{}{
			"operation":  "list_dup_pool_assets",
			"asset_type": assetType,
		})
		return nil, err
	}
	return assets, nil
}

// BulkUpdateAssetStatus 批量更新资产状态（分片执行）
func (r *AssetRepository) BulkUpdateAssetStatus(ctx context.Context, uuids []string, status ledgermodel.AssetStatus) error {
	for _, chunk := range chunkStrings(uuids, r.batchSize) {
		err := r.db.WithContext(ctx).Model(&ledgermodel.Asset{}).
			Where("uuid IN ?", chunk).
			Update("status", status).Error
		if err != nil {
			logger.LogError(err, "", "", map[string]interface{}{
				"operation": "bulk_update_asset_status",
				"status":    status,
				"count":     len(chunk),
			})
			return err
		}
	}
	return nil
}

// -----------------------------------------------------------------------------
// AssetSourceLink
// -----------------------------------------------------------------------------

// GetLinkByTriple 根据 (source_id, external_kind, external_id) 获取来源链接
func (r *AssetRepository) GetLinkByTriple(ctx context.Context, sourceID, externalKind, externalID string) (*ledgermodel.AssetSourceLink, error) {
	var link ledgermodel.AssetSourceLink
	err := r.db.WithContext(ctx).
		Where("source_id = ? AND external_kind = ? AND external_id = ?", sourceID, externalKind, externalID).
		First(&link).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		logger.LogError(err, "", "", map[string]interface{}{
			"operation":     "get_link_by_triple",
			"source_id":     sourceID,
			"external_kind": externalKind,
		})
		return nil, err
	}
	return &link, nil
}

// CreateLink 创建来源链接
func (r *AssetRepository) CreateLink(ctx context.Context, link *ledgermodel.AssetSourceLink) error {
	if link == nil {
		return errors.New("link is nil")
	}
	err := r.db.WithContext(ctx).Create(link).Error
	if err != nil {
		logger.LogError(err, "", "", map[string]interface{}{
			"operation": "create_source_link",
			"source_id": link.SourceID,
		})
		return err
	}
	return nil
}

// SaveLink 保存来源链接
func (r *AssetRepository) SaveLink(ctx context.Context, link *ledgermodel.AssetSourceLink) error {
	if link == nil || link.ID == 0 {
		return errors.New("invalid link or id")
	}
	err := r.db.WithContext(ctx).Save(link).Error
	if err != nil {
		logger.LogError(err, "", "", map[string]interface{}{
			"operation": "save_source_link",
			"link_id":   link.ID,
		})
		return err
	}
	return nil
}

// ListLinksBySourceAndKinds 获取指定来源、指定外部类型的全部链接
func (r *AssetRepository) ListLinksBySourceAndKinds(ctx context.Context, sourceID string, kinds []string) ([]*ledgermodel.AssetSourceLink, error) {
	var links []*ledgermodel.AssetSourceLink
	query := r.db.WithContext(ctx).Where("source_id = ?", sourceID)
	if len(kinds) > 0 {
		query = query.Where("external_kind IN ?", kinds)
	}
	err := query.Find(&links).Error
	if err != nil {
		logger.LogError(err, "", "", map[string]interface{}{
			"operation": "list_links_by_source_and_kinds",
			"source_id": sourceID,
		})
		return nil, err
	}
	return links, nil
}

// ListLinksByAssetUUIDs 获取指定资产的全部来源链接
func (r *AssetRepository) ListLinksByAssetUUIDs(ctx context.Context, uuids []string) ([]*ledgermodel.AssetSourceLink, error) {
	if len(uuids) == 0 {
		return nil, nil
	}
	var links []*ledgermodel.AssetSourceLink
	for _, chunk := range chunkStrings(uuids, r.batchSize) {
		var part []*ledgermodel.AssetSourceLink
		err := r.db.WithContext(ctx).Where("asset_uuid IN ?", chunk).Find(&part).Error
		if err != nil {
			logger.LogError(err, "", "", map[string]interface{}{
				"operation": "list_links_by_asset_uuids",
				"count":     len(uuids),
			})
			return nil, err
		}
		links = append(links, part...)
	}
	return links, nil
}

// BulkMarkLinksMissing 批量将链接置为缺失（分片执行）
func (r *AssetRepository) BulkMarkLinksMissing(ctx context.Context, linkIDs []uint64) error {
	for _, chunk := range chunkUint64(linkIDs, r.batchSize) {
		err := r.db.WithContext(ctx).Model(&ledgermodel.AssetSourceLink{}).
			Where("id IN ?", chunk).
			Update("presence_status", ledgermodel.PresenceMissing).Error
		if err != nil {
			logger.LogError(err, "", "", map[string]interface{}{
				"operation": "bulk_mark_links_missing",
				"count":     len(chunk),
			})
			return err
		}
	}
	return nil
}

// ReassignLinks 将资产的来源链接整体迁移到另一资产（合并用）
func (r *AssetRepository) ReassignLinks(ctx context.Context, fromUUID, toUUID string) (int64, error) {
	result := r.db.WithContext(ctx).Model(&ledgermodel.AssetSourceLink{}).
		Where("asset_uuid = ?", fromUUID).
		Update("asset_uuid", toUUID)
	if result.Error != nil {
		logger.LogError(result.Error, "", "", map[string]interface{}{
			"operation": "reassign_links",
			"from":      fromUUID,
			"to":        toUUID,
		})
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// -----------------------------------------------------------------------------
// SourceRecord (append-only)
// -----------------------------------------------------------------------------

// CreateSourceRecord 创建来源采集记录
func (r *AssetRepository) CreateSourceRecord(ctx context.Context, record *ledgermodel.SourceRecord) error {
	if record == nil {
		return errors.New("record is nil")
	}
	err := r.db.WithContext(ctx).Create(record).Error
	if err != nil {
		logger.LogError(err, "", "", map[string]interface{}{
			"operation": "create_source_record",
			"source_id": record.SourceID,
			"run_id":    record.RunID,
		})
		return err
	}
	return nil
}

// ListSourceRecordsByRunAndKind 获取一次运行中指定外部类型的全部采集记录
func (r *AssetRepository) ListSourceRecordsByRunAndKind(ctx context.Context, runID string, kind ledgermodel.AssetType) ([]*ledgermodel.SourceRecord, error) {
	var records []*ledgermodel.SourceRecord
	err := r.db.WithContext(ctx).
		Where("run_id = ? AND external_kind = ?", runID, kind).
		Find(&records).Error
	if err != nil {
		logger.LogError(err, "", runID, map[string]interface{}{
			"operation":     "list_source_records_by_run_and_kind",
			"external_kind": kind,
		})
		return nil, err
	}
	return records, nil
}

// ListLatestNormalizedByAssets 获取每个资产最近一次采集的规范化数据
// 返回 asset_uuid -> normalized JSON 的映射
func (r *AssetRepository) ListLatestNormalizedByAssets(ctx context.Context, uuids []string) (map[string]string, error) {
	out := make(map[string]string, len(uuids))
	for _, chunk := range chunkStrings(uuids, r.batchSize) {
		var records []*ledgermodel.SourceRecord
		err := r.db.WithContext(ctx).
			Select("asset_uuid", "normalized", "collected_at").
			Where("asset_uuid IN ?", chunk).
			Order("collected_at desc, id desc").
			Find(&records).Error
		if err != nil {
			logger.LogError(err, "", "", map[string]interface{}{
				"operation": "list_latest_normalized_by_assets",
				"count":     len(uuids),
			})
			return nil, err
		}
		for _, record := range records {
			if _, exists := out[record.AssetUUID]; exists {
				continue
			}
			out[record.AssetUUID] = record.Normalized
		}
	}
	return out, nil
}

// ReassignSourceRecords 将资产的采集记录整体迁移到另一资产（合并用）
func (r *AssetRepository) ReassignSourceRecords(ctx context.Context, fromUUID, toUUID string) (int64, error) {
	result := r.db.WithContext(ctx).Model(&ledgermodel.SourceRecord{}).
		Where("asset_uuid = ?", fromUUID).
		Update("asset_uuid", toUUID)
	if result.Error != nil {
		logger.LogError(result.Error, "", "", map[string]interface{}{
			"operation": "reassign_source_records",
			"from":      fromUUID,
			"to":        toUUID,
		})
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
