package ledger

import (
	"context"
	"errors"

	ledgermodel "neoledger/internal/model/ledger"
	"neoledger/internal/pkg/logger"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SnapshotRepository 运行快照仓库
type SnapshotRepository struct {
	db *gorm.DB
}

// NewSnapshotRepository 创建 SnapshotRepository 实例
func NewSnapshotRepository(db *gorm.DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

// WithTx 返回绑定到指定事务的仓库副本
func (r *SnapshotRepository) WithTx(tx *gorm.DB) *SnapshotRepository {
	return &SnapshotRepository{db: tx}
}

// Upsert 写入快照，同一 (资产, 运行) 重复摄取时覆盖 canonical
func (r *SnapshotRepository) Upsert(ctx context.Context, snapshot *ledgermodel.AssetRunSnapshot) error {
	if snapshot == nil {
		return errors.New("snapshot is nil")
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "asset_uuid"}, {Name: "run_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"canonical", "updated_at"}),
	}).Create(snapshot).Error
	if err != nil {
		logger.LogError(err, "", snapshot.RunID, map[string]interface{}{
			"operation":  "upsert_snapshot",
			"asset_uuid": snapshot.AssetUUID,
		})
		return err
	}
	return nil
}

// GetLatest 获取资产最新快照
func (r *SnapshotRepository) GetLatest(ctx context.Context, assetUUID string) (*ledgermodel.AssetRunSnapshot, error) {
	var snapshot ledgermodel.AssetRunSnapshot
	err := r.db.WithContext(ctx).
		Where("asset_uuid = ?", assetUUID).
		Order("id desc").
		First(&snapshot).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		logger.LogError(err, "", "", map[string]interface{}{
			"operation":  "get_latest_snapshot",
			"asset_uuid": assetUUID,
		})
		return nil, err
	}
	return &snapshot, nil
}

// GetLatestExcludingRun 获取资产在指定运行之前的最新快照（变更对比用）
// 排除当前运行自身，重复摄取同一运行时不会和自己比
func (r *SnapshotRepository) GetLatestExcludingRun(ctx context.Context, assetUUID, excludeRunID string) (*ledgermodel.AssetRunSnapshot, error) {
	var snapshot ledgermodel.AssetRunSnapshot
	err := r.db.WithContext(ctx).
		Where("asset_uuid = ? AND run_id <> ?", assetUUID, excludeRunID).
		Order("id desc").
		First(&snapshot).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		logger.LogError(err, "", excludeRunID, map[string]interface{}{
			"operation":  "get_latest_snapshot_excluding_run",
			"asset_uuid": assetUUID,
		})
		return nil, err
	}
	return &snapshot, nil
}
