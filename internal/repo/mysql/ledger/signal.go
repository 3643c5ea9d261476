package ledger

import (
	"context"
	"errors"
	"time"

	ledgermodel "neoledger/internal/model/ledger"
	"neoledger/internal/pkg/logger"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SignalRepository 监控信号仓库
// 负责 AssetSignalLink / SignalRecord / AssetOperationalState 的数据访问
type SignalRepository struct {
	db *gorm.DB
}

// NewSignalRepository 创建 SignalRepository 实例
func NewSignalRepository(db *gorm.DB) *SignalRepository {
	return &SignalRepository{db: db}
}

// WithTx 返回绑定到指定事务的仓库副本
func (r *SignalRepository) WithTx(tx *gorm.DB) *SignalRepository {
	return &SignalRepository{db: tx}
}

// GetLinkByTriple 根据 (source_id, external_kind, external_id) 获取信号链路
func (r *SignalRepository) GetLinkByTriple(ctx context.Context, sourceID string, externalKind ledgermodel.AssetType, externalID string) (*ledgermodel.AssetSignalLink, error) {
	var link ledgermodel.AssetSignalLink
	err := r.db.WithContext(ctx).
		Where("source_id = ? AND external_kind = ? AND external_id = ?", sourceID, externalKind, externalID).
		First(&link).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		logger.LogError(err, sourceID, "", map[string]interface{}{
			"operation":     "get_signal_link_by_triple",
			"external_kind": externalKind,
		})
		return nil, err
	}
	return &link, nil
}

// CreateLink 创建信号链路
func (r *SignalRepository) CreateLink(ctx context.Context, link *ledgermodel.AssetSignalLink) error {
	if link == nil {
		return errors.New("link is nil")
	}
	err := r.db.WithContext(ctx).Create(link).Error
	if err != nil {
		logger.LogError(err, link.SourceID, "", map[string]interface{}{
			"operation": "create_signal_link",
		})
		return err
	}
	return nil
}

// SaveLink 保存信号链路
func (r *SignalRepository) SaveLink(ctx context.Context, link *ledgermodel.AssetSignalLink) error {
	if link == nil || link.ID == 0 {
		return errors.New("invalid link or id")
	}
	err := r.db.WithContext(ctx).Save(link).Error
	if err != nil {
		logger.LogError(err, link.SourceID, "", map[string]interface{}{
			"operation": "save_signal_link",
			"link_id":   link.ID,
		})
		return err
	}
	return nil
}

// ListLinksBySource 获取指定来源的全部信号链路
func (r *SignalRepository) ListLinksBySource(ctx context.Context, sourceID string) ([]*ledgermodel.AssetSignalLink, error) {
	var links []*ledgermodel.AssetSignalLink
	err := r.db.WithContext(ctx).Where("source_id = ?", sourceID).Find(&links).Error
	if err != nil {
		logger.LogError(err, sourceID, "", map[string]interface{}{
			"operation": "list_signal_links_by_source",
		})
		return nil, err
	}
	return links, nil
}

// ListMatchedLinksByAsset 获取匹配到指定资产的信号链路
func (r *SignalRepository) ListMatchedLinksByAsset(ctx context.Context, assetUUID string) ([]*ledgermodel.AssetSignalLink, error) {
	var links []*ledgermodel.AssetSignalLink
	err := r.db.WithContext(ctx).Where("asset_uuid = ?", assetUUID).Find(&links).Error
	if err != nil {
		logger.LogError(err, "", "", map[string]interface{}{
			"operation":  "list_matched_signal_links_by_asset",
			"asset_uuid": assetUUID,
		})
		return nil, err
	}
	return links, nil
}

// CreateRecord 创建信号观测记录（追加写）
func (r *SignalRepository) CreateRecord(ctx context.Context, record *ledgermodel.SignalRecord) error {
	if record == nil {
		return errors.New("record is nil")
	}
	err := r.db.WithContext(ctx).Create(record).Error
	if err != nil {
		logger.LogError(err, record.SourceID, record.RunID, map[string]interface{}{
			"operation": "create_signal_record",
		})
		return err
	}
	return nil
}

// UpsertOperationalState 覆盖写资产运行态
func (r *SignalRepository) UpsertOperationalState(ctx context.Context, state *ledgermodel.AssetOperationalState) error {
	if state == nil {
		return errors.New("state is nil")
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "asset_uuid"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"monitor_covered", "monitor_state", "monitor_status", "monitor_updated_at", "updated_at",
		}),
	}).Create(state).Error
	if err != nil {
		logger.LogError(err, "", "", map[string]interface{}{
			"operation":  "upsert_operational_state",
			"asset_uuid": state.AssetUUID,
		})
		return err
	}
	return nil
}

// GetOperationalState 获取资产运行态
func (r *SignalRepository) GetOperationalState(ctx context.Context, assetUUID string) (*ledgermodel.AssetOperationalState, error) {
	var state ledgermodel.AssetOperationalState
	err := r.db.WithContext(ctx).Where("asset_uuid = ?", assetUUID).First(&state).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		logger.LogError(err, "", "", map[string]interface{}{
			"operation":  "get_operational_state",
			"asset_uuid": assetUUID,
		})
		return nil, err
	}
	return &state, nil
}

// RevokeCoverage 撤销监控覆盖
// 将覆盖标记置否，并把健康状态改写为 not_covered
func (r *SignalRepository) RevokeCoverage(ctx context.Context, assetUUIDs []string, revokedAt time.Time) error {
	if len(assetUUIDs) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Model(&ledgermodel.AssetOperationalState{}).
		Where("asset_uuid IN ?", assetUUIDs).
		Updates(map[string]interface{}{
			"monitor_covered":    false,
			"monitor_state":      ledgermodel.MonitorStateNotCovered,
			"monitor_updated_at": revokedAt,
		}).Error
	if err != nil {
		logger.LogError(err, "", "", map[string]interface{}{
			"operation": "revoke_monitor_coverage",
			"count":     len(assetUUIDs),
		})
		return err
	}
	return nil
}
