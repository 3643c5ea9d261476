package ledger

import (
	"context"
	"errors"

	ledgermodel "neoledger/internal/model/ledger"
	"neoledger/internal/pkg/logger"

	"gorm.io/gorm"
)

// HistoryRepository 资产历史事件仓库
type HistoryRepository struct {
	db        *gorm.DB
	batchSize int
}

// NewHistoryRepository 创建 HistoryRepository 实例
func NewHistoryRepository(db *gorm.DB, batchSize int) *HistoryRepository {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &HistoryRepository{db: db, batchSize: batchSize}
}

// WithTx 返回绑定到指定事务的仓库副本
func (r *HistoryRepository) WithTx(tx *gorm.DB) *HistoryRepository {
	return &HistoryRepository{db: tx, batchSize: r.batchSize}
}

// Create 创建单条历史事件
func (r *HistoryRepository) Create(ctx context.Context, event *ledgermodel.AssetHistoryEvent) error {
	if event == nil {
		return errors.New("event is nil")
	}
	err := r.db.WithContext(ctx).Create(event).Error
	if err != nil {
		logger.LogError(err, "", "", map[string]interface{}{
			"operation":  "create_history_event",
			"asset_uuid": event.AssetUUID,
			"event_type": event.EventType,
		})
		return err
	}
	return nil
}

// CreateBatch 批量创建历史事件（分片插入）
func (r *HistoryRepository) CreateBatch(ctx context.Context, events []*ledgermodel.AssetHistoryEvent) error {
	if len(events) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).CreateInBatches(events, r.batchSize).Error
	if err != nil {
		logger.LogError(err, "", "", map[string]interface{}{
			"operation": "create_history_events_batch",
			"count":     len(events),
		})
		return err
	}
	return nil
}

// ListByAsset 按时间倒序获取资产历史事件
func (r *HistoryRepository) ListByAsset(ctx context.Context, assetUUID string, limit int) ([]*ledgermodel.AssetHistoryEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var events []*ledgermodel.AssetHistoryEvent
	err := r.db.WithContext(ctx).
		Where("asset_uuid = ?", assetUUID).
		Order("occurred_at desc, id desc").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		logger.LogError(err, "", "", map[string]interface{}{
			"operation":  "list_history_events_by_asset",
			"asset_uuid": assetUUID,
		})
		return nil, err
	}
	return events, nil
}
