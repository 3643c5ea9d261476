package ledger

import (
	"context"
	"errors"

	ledgermodel "neoledger/internal/model/ledger"
	"neoledger/internal/pkg/logger"

	"gorm.io/gorm"
)

// RelationRepository 关系仓库
// 负责 Relation / RelationRecord 的数据访问
type RelationRepository struct {
	db *gorm.DB
}

// NewRelationRepository 创建 RelationRepository 实例
func NewRelationRepository(db *gorm.DB) *RelationRepository {
	return &RelationRepository{db: db}
}

// WithTx 返回绑定到指定事务的仓库副本
func (r *RelationRepository) WithTx(tx *gorm.DB) *RelationRepository {
	return &RelationRepository{db: tx}
}

// GetByUnique 根据四元组 (type, from, to, source) 获取关系
func (r *RelationRepository) GetByUnique(ctx context.Context, relType ledgermodel.RelationType, fromUUID, toUUID, sourceID string) (*ledgermodel.Relation, error) {
	var rel ledgermodel.Relation
	err := r.db.WithContext(ctx).
		Where("relation_type = ? AND from_asset_uuid = ? AND to_asset_uuid = ? AND source_id = ?",
			relType, fromUUID, toUUID, sourceID).
		First(&rel).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		logger.LogError(err, "", "", map[string]interface{}{
			"operation":     "get_relation_by_unique",
			"relation_type": relType,
		})
		return nil, err
	}
	return &rel, nil
}

// Create 创建关系
func (r *RelationRepository) Create(ctx context.Context, rel *ledgermodel.Relation) error {
	if rel == nil {
		return errors.New("relation is nil")
	}
	err := r.db.WithContext(ctx).Create(rel).Error
	if err != nil {
		logger.LogError(err, "", "", map[string]interface{}{
			"operation":     "create_relation",
			"relation_type": rel.RelationType,
		})
		return err
	}
	return nil
}

// Save 保存关系
func (r *RelationRepository) Save(ctx context.Context, rel *ledgermodel.Relation) error {
	if rel == nil || rel.ID == 0 {
		return errors.New("invalid relation or id")
	}
	err := r.db.WithContext(ctx).Save(rel).Error
	if err != nil {
		logger.LogError(err, "", "", map[string]interface{}{
			"operation":   "save_relation",
			"relation_id": rel.ID,
		})
		return err
	}
	return nil
}

// DeleteByIDs 按ID删除关系
func (r *RelationRepository) DeleteByIDs(ctx context.Context, ids []uint64) error {
	if len(ids) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Delete(&ledgermodel.Relation{}, ids).Error
	if err != nil {
		logger.LogError(err, "", "", map[string]interface{}{
			"operation": "delete_relations_by_ids",
			"count":     len(ids),
		})
		return err
	}
	return nil
}

// ListOutgoing 获取指定资产的出向关系
func (r *RelationRepository) ListOutgoing(ctx context.Context, fromUUID string) ([]*ledgermodel.Relation, error) {
	var rels []*ledgermodel.Relation
	err := r.db.WithContext(ctx).Where("from_asset_uuid = ?", fromUUID).Find(&rels).Error
	if err != nil {
		logger.LogError(err, "", "", map[string]interface{}{
			"operation": "list_outgoing_relations",
			"from":      fromUUID,
		})
		return nil, err
	}
	return rels, nil
}

// ListTouching 获取指定资产作为任一端点的全部关系（合并用）
func (r *RelationRepository) ListTouching(ctx context.Context, assetUUID string) ([]*ledgermodel.Relation, error) {
	var rels []*ledgermodel.Relation
	err := r.db.WithContext(ctx).
		Where("from_asset_uuid = ? OR to_asset_uuid = ?", assetUUID, assetUUID).
		Find(&rels).Error
	if err != nil {
		logger.LogError(err, "", "", map[string]interface{}{
			"operation":  "list_touching_relations",
			"asset_uuid": assetUUID,
		})
		return nil, err
	}
	return rels, nil
}

// CreateRecord 创建关系采集记录（追加写）
func (r *RelationRepository) CreateRecord(ctx context.Context, record *ledgermodel.RelationRecord) error {
	if record == nil {
		return errors.New("record is nil")
	}
	err := r.db.WithContext(ctx).Create(record).Error
	if err != nil {
		logger.LogError(err, "", "", map[string]interface{}{
			"operation": "create_relation_record",
			"source_id": record.SourceID,
			"run_id":    record.RunID,
		})
		return err
	}
	return nil
}
