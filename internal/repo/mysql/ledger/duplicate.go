package ledger

import (
	"context"
	"errors"

	ledgermodel "neoledger/internal/model/ledger"
	"neoledger/internal/pkg/logger"

	"gorm.io/gorm"
)

// DuplicateRepository 疑似重复候选仓库
// 负责 DuplicateCandidate / MergeAudit 的数据访问
type DuplicateRepository struct {
	db *gorm.DB
}

// NewDuplicateRepository 创建 DuplicateRepository 实例
func NewDuplicateRepository(db *gorm.DB) *DuplicateRepository {
	return &DuplicateRepository{db: db}
}

// WithTx 返回绑定到指定事务的仓库副本
func (r *DuplicateRepository) WithTx(tx *gorm.DB) *DuplicateRepository {
	return &DuplicateRepository{db: tx}
}

// GetByPair 根据归一化后的无序对获取候选
// 调用方保证 uuidA < uuidB（字典序）
func (r *DuplicateRepository) GetByPair(ctx context.Context, uuidA, uuidB string) (*ledgermodel.DuplicateCandidate, error) {
	var candidate ledgermodel.DuplicateCandidate
	err := r.db.WithContext(ctx).
		Where("asset_uuid_a = ? AND asset_uuid_b = ?", uuidA, uuidB).
		First(&candidate).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		logger.LogError(err, "", "", map[string]interface{}{
			"operation": "get_duplicate_by_pair",
		})
		return nil, err
	}
	return &candidate, nil
}

// GetByCandidateID 根据候选UUID获取候选
func (r *DuplicateRepository) GetByCandidateID(ctx context.Context, candidateID string) (*ledgermodel.DuplicateCandidate, error) {
	var candidate ledgermodel.DuplicateCandidate
	err := r.db.WithContext(ctx).Where("candidate_id = ?", candidateID).First(&candidate).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		logger.LogError(err, "", "", map[string]interface{}{
			"operation":    "get_duplicate_by_candidate_id",
			"candidate_id": candidateID,
		})
		return nil, err
	}
	return &candidate, nil
}

// Create 创建候选
func (r *DuplicateRepository) Create(ctx context.Context, candidate *ledgermodel.DuplicateCandidate) error {
	if candidate == nil {
		return errors.New("candidate is nil")
	}
	err := r.db.WithContext(ctx).Create(candidate).Error
	if err != nil {
		logger.LogError(err, "", "", map[string]interface{}{
			"operation":    "create_duplicate_candidate",
			"candidate_id": candidate.CandidateID,
		})
		return err
	}
	return nil
}

// Save 保存候选
func (r *DuplicateRepository) Save(ctx context.Context, candidate *ledgermodel.DuplicateCandidate) error {
	if candidate == nil || candidate.ID == 0 {
		return errors.New("invalid candidate or id")
	}
	err := r.db.WithContext(ctx).Save(candidate).Error
	if err != nil {
		logger.LogError(err, "", "", map[string]interface{}{
			"operation":    "save_duplicate_candidate",
			"candidate_id": candidate.CandidateID,
		})
		return err
	}
	return nil
}

// ListByStatus 按状态分页获取候选（评分倒序）
func (r *DuplicateRepository) ListByStatus(ctx context.Context, status ledgermodel.DuplicateCandidateStatus, page, pageSize int) ([]*ledgermodel.DuplicateCandidate, int64, error) {
	var candidates []*ledgermodel.DuplicateCandidate
	var total int64

	query := r.db.WithContext(ctx).Model(&ledgermodel.DuplicateCandidate{})
	if status != "" {
		query = query.Where("status = ?", status)
	}

	err := query.Count(&total).Error
	if err != nil {
		logger.LogError(err, "", "", map[string]interface{}{
			"operation": "list_duplicates_count",
			"status":    status,
		})
		return nil, 0, err
	}

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize
	err = query.Order("score desc, id desc").Offset(offset).Limit(pageSize).Find(&candidates).Error
	if err != nil {
		logger.LogError(err, "", "", map[string]interface{}{
			"operation": "list_duplicates",
			"status":    status,
		})
		return nil, 0, err
	}
	return candidates, total, nil
}

// ListOpenByAsset 获取某资产参与的全部 open 候选（合并后统一封板）
func (r *DuplicateRepository) ListOpenByAsset(ctx context.Context, assetUUID string) ([]*ledgermodel.DuplicateCandidate, error) {
	var candidates []*ledgermodel.DuplicateCandidate
	err := r.db.WithContext(ctx).
		Where("status = ?", ledgermodel.DuplicateStatusOpen).
		Where("asset_uuid_a = ? OR asset_uuid_b = ?", assetUUID, assetUUID).
		Find(&candidates).Error
	if err != nil {
		logger.LogError(err, "", "", map[string]interface{}{
			"operation":  "list_open_duplicates_by_asset",
			"asset_uuid": assetUUID,
		})
		return nil, err
	}
	return candidates, nil
}

// CreateMergeAudit 创建合并审计记录
func (r *DuplicateRepository) CreateMergeAudit(ctx context.Context, audit *ledgermodel.MergeAudit) error {
	if audit == nil {
		return errors.New("audit is nil")
	}
	err := r.db.WithContext(ctx).Create(audit).Error
	if err != nil {
		logger.LogError(err, "", "", map[string]interface{}{
			"operation":          "create_merge_audit",
			"primary_asset_uuid": audit.PrimaryAssetUUID,
			"merged_asset_uuid":  audit.MergedAssetUUID,
		})
		return err
	}
	return nil
}

// ListMergeAuditsByPrimary 获取以指定资产为主的合并审计记录
func (r *DuplicateRepository) ListMergeAuditsByPrimary(ctx context.Context, primaryUUID string) ([]*ledgermodel.MergeAudit, error) {
	var audits []*ledgermodel.MergeAudit
	err := r.db.WithContext(ctx).
		Where("primary_asset_uuid = ?", primaryUUID).
		Order("performed_at desc").
		Find(&audits).Error
	if err != nil {
		logger.LogError(err, "", "", map[string]interface{}{
			"operation":          "list_merge_audits_by_primary",
			"primary_asset_uuid": primaryUUID,
		})
		return nil, err
	}
	return audits, nil
}
