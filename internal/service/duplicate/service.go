// 候选裁决与资产合并
// ignore 与 merge 均为终态操作；合并在单事务内完成次要资产封存、
// 身份链路与观测流水迁移、关系改写去重、候选封板与审计落库
package duplicate

import (
	"context"
	"encoding/json"
	"time"

	ledgermodel "neoledger/internal/model/ledger"
	"neoledger/internal/pkg/apperr"
	"neoledger/internal/pkg/logger"
	ledgerrepo "neoledger/internal/repo/mysql/ledger"
	redisrepo "neoledger/internal/repo/redis"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Service 候选裁决与合并服务
type Service struct {
	db            *gorm.DB
	assetRepo     *ledgerrepo.AssetRepository
	relationRepo  *ledgerrepo.RelationRepository
	historyRepo   *ledgerrepo.HistoryRepository
	dupRepo       *ledgerrepo.DuplicateRepository
	snapshotCache *redisrepo.SnapshotCacheRepository
}

// NewService 创建候选裁决与合并服务
// snapshotCache 可为 nil
func NewService(
	db *gorm.DB,
	assetRepo *ledgerrepo.AssetRepository,
	relationRepo *ledgerrepo.RelationRepository,
	historyRepo *ledgerrepo.HistoryRepository,
	dupRepo *ledgerrepo.DuplicateRepository,
	snapshotCache *redisrepo.SnapshotCacheRepository,
) *Service {
	return &Service{
		db:            db,
		assetRepo:     assetRepo,
		relationRepo:  relationRepo,
		historyRepo:   historyRepo,
		dupRepo:       dupRepo,
		snapshotCache: snapshotCache,
	}
}

// ListCandidates 按状态分页获取候选
func (s *Service) ListCandidates(ctx context.Context, status ledgermodel.DuplicateCandidateStatus, page, pageSize int) ([]*ledgermodel.DuplicateCandidate, int64, error) {
	candidates, total, err := s.dupRepo.ListByStatus(ctx, status, page, pageSize)
	if err != nil {
		return nil, 0, apperr.New(apperr.CodeDBWriteFailed, apperr.CategoryDB, "failed to list duplicate candidates", true).
			WithContext("cause", err.Error())
	}
	return candidates, total, nil
}

// IgnoreCandidate 忽略候选
// 仅 open 可转 ignored；重复忽略幂等成功，已合并的候选拒绝
func (s *Service) IgnoreCandidate(ctx context.Context, candidateID, operator, clientIP, requestID string) (*ledgermodel.DuplicateCandidate, error) {
	candidate, err := s.dupRepo.GetByCandidateID(ctx, candidateID)
	if err != nil {
		return nil, apperr.New(apperr.CodeDBWriteFailed, apperr.CategoryDB, "failed to load duplicate candidate", true).
			WithContext("cause", err.Error())
	}
	if candidate == nil {
		return nil, apperr.New(apperr.CodeCandidateNotFound, apperr.CategoryConfig, "duplicate candidate not found", false).
			WithContext("candidate_id", candidateID)
	}

	switch candidate.Status {
	case ledgermodel.DuplicateStatusIgnored:
		return candidate, nil
	case ledgermodel.DuplicateStatusMerged:
		return nil, apperr.New(apperr.CodeInvalidRequest, apperr.CategoryConfig, "candidate already merged", false).
			WithContext("candidate_id", candidateID)
	}

	candidate.Status = ledgermodel.DuplicateStatusIgnored
	if err := s.dupRepo.Save(ctx, candidate); err != nil {
		return nil, apperr.New(apperr.CodeDBWriteFailed, apperr.CategoryDB, "failed to ignore duplicate candidate", true).
			WithContext("cause", err.Error())
	}

	logger.LogAuditOperation(operator, "ignore_duplicate", candidateID, "success", clientIP, requestID,
		map[string]interface{}{"score": candidate.Score})
	return candidate, nil
}

// MergeInput 合并请求
type MergeInput struct {
	PrimaryAssetUUID string   `json:"primary_asset_uuid"`
	MergedAssetUUIDs []string `json:"merged_asset_uuids"`
	PerformedBy      string   `json:"performed_by"`
	ClientIP         string   `json:"-"`
	RequestID        string   `json:"-"`
}

// MergeSummary 单个次要资产的迁移统计
type MergeSummary struct {
	AssetsUpdatedCount              int `json:"assets_updated_count"`
	SourceLinksMovedCount           int `json:"source_links_moved_count"`
	SourceRecordsMovedCount         int `json:"source_records_moved_count"`
	RelationsRewrittenCount         int `json:"relations_rewritten_count"`
	DedupedRelationsCount           int `json:"deduped_relations_count"`
	DuplicateCandidatesUpdatedCount int `json:"duplicate_candidates_updated_count"`
}

// MergeResult 合并结果
type MergeResult struct {
	PrimaryAssetUUID string                  `json:"primary_asset_uuid"`
	MergedAssetUUIDs []string                `json:"merged_asset_uuids"`
	MergeAuditIDs    []uint64                `json:"merge_audit_ids"`
	Summaries        map[string]MergeSummary `json:"summaries"`
}

// MergeAssets 把若干次要资产合并进主资产
// merged 为终态：被合并资产永久指向主资产，不再参与任何摄取与检测
func (s *Service) MergeAssets(ctx context.Context, input *MergeInput) (*MergeResult, error) {
	if input == nil || input.PrimaryAssetUUID == "" || len(input.MergedAssetUUIDs) == 0 {
		return nil, apperr.New(apperr.CodeInvalidRequest, apperr.CategoryConfig, "primary and merged asset uuids are required", false)
	}
	for _, mergedUUID := range input.MergedAssetUUIDs {
		if mergedUUID == input.PrimaryAssetUUID {
			return nil, apperr.New(apperr.CodeInvalidRequest, apperr.CategoryConfig, "merged list must not contain the primary asset", false).
				WithContext("asset_uuid", mergedUUID)
		}
	}

	primary, err := s.assetRepo.GetAssetByUUID(ctx, input.PrimaryAssetUUID)
	if err != nil {
		return nil, wrapMergeErr(err)
	}
	if primary == nil {
		return nil, apperr.New(apperr.CodeAssetNotFound, apperr.CategoryConfig, "primary asset not found", false).
			WithContext("asset_uuid", input.PrimaryAssetUUID)
	}
	if primary.MergedIntoAssetUUID != "" {
		return nil, apperr.New(apperr.CodeMergeCycleDetected, apperr.CategoryConfig, "primary asset is already merged into another asset", false).
			WithContext("asset_uuid", primary.UUID)
	}

	secondaries := make([]*ledgermodel.Asset, 0, len(input.MergedAssetUUIDs))
	for _, mergedUUID := range input.MergedAssetUUIDs {
		secondary, err := s.assetRepo.GetAssetByUUID(ctx, mergedUUID)
		if err != nil {
			return nil, wrapMergeErr(err)
		}
		if secondary == nil {
			return nil, apperr.New(apperr.CodeAssetNotFound, apperr.CategoryConfig, "merged asset not found", false).
				WithContext("asset_uuid", mergedUUID)
		}
		if secondary.MergedIntoAssetUUID != "" {
			return nil, apperr.New(apperr.CodeMergeCycleDetected, apperr.CategoryConfig, "merged asset is already merged into another asset", false).
				WithContext("asset_uuid", mergedUUID)
		}
		if secondary.IsMerged() {
			return nil, apperr.New(apperr.CodeInvalidRequest, apperr.CategoryConfig, "merged asset is already in merged status", false).
				WithContext("asset_uuid", mergedUUID)
		}
		if secondary.AssetType != primary.AssetType {
			return nil, apperr.New(apperr.CodeMergeTypeMismatch, apperr.CategoryConfig, "asset types do not match", false).
				WithContext("primary_type", string(primary.AssetType)).
				WithContext("merged_type", string(secondary.AssetType))
		}
		secondaries = append(secondaries, secondary)
	}

	// 虚拟机合并额外约束：主资产在役，次要资产全部离线
	if primary.AssetType == ledgermodel.AssetTypeVM {
		if primary.Status != ledgermodel.AssetStatusInService {
			return nil, apperr.New(apperr.CodeMergeVMRequiresOffline, apperr.CategoryConfig, "primary vm must be in service", false).
				WithContext("asset_uuid", primary.UUID)
		}
		for _, secondary := range secondaries {
			if secondary.Status != ledgermodel.AssetStatusOffline {
				return nil, apperr.New(apperr.CodeMergeVMRequiresOffline, apperr.CategoryConfig, "merged vm must be offline", false).
					WithContext("asset_uuid", secondary.UUID)
			}
		}
	}

	performedAt := time.Now()
	result := &MergeResult{
		PrimaryAssetUUID: primary.UUID,
		MergedAssetUUIDs: input.MergedAssetUUIDs,
		Summaries:        make(map[string]MergeSummary, len(secondaries)),
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		assetRepo := s.assetRepo.WithTx(tx)
		relationRepo := s.relationRepo.WithTx(tx)
		historyRepo := s.historyRepo.WithTx(tx)
		dupRepo := s.dupRepo.WithTx(tx)

		// 涉及资产的 open 候选统一封板
		involved := append([]string{primary.UUID}, input.MergedAssetUUIDs...)
		closedCandidates := make(map[uint64]struct{})
		candidatesClosed := 0
		for _, assetUUID := range involved {
			openCandidates, err := dupRepo.ListOpenByAsset(ctx, assetUUID)
			if err != nil {
				return err
			}
			for _, candidate := range openCandidates {
				if _, done := closedCandidates[candidate.ID]; done {
					continue
				}
				closedCandidates[candidate.ID] = struct{}{}
				candidate.Status = ledgermodel.DuplicateStatusMerged
				if err := dupRepo.Save(ctx, candidate); err != nil {
					return err
				}
				candidatesClosed++
			}
		}

		for _, secondary := range secondaries {
			summary := MergeSummary{
				AssetsUpdatedCount:              1,
				DuplicateCandidatesUpdatedCount: candidatesClosed,
			}

			secondary.Status = ledgermodel.AssetStatusMerged
			secondary.MergedIntoAssetUUID = primary.UUID
			if err := assetRepo.SaveAsset(ctx, secondary); err != nil {
				return err
			}

			linksMoved, err := assetRepo.ReassignLinks(ctx, secondary.UUID, primary.UUID)
			if err != nil {
				return err
			}
			summary.SourceLinksMovedCount = int(linksMoved)

			recordsMoved, err := assetRepo.ReassignSourceRecords(ctx, secondary.UUID, primary.UUID)
			if err != nil {
				return err
			}
			summary.SourceRecordsMovedCount = int(recordsMoved)

			// 关系端点改写：自环与撞唯一键的删除去重
			touching, err := relationRepo.ListTouching(ctx, secondary.UUID)
			if err != nil {
				return err
			}
			for _, rel := range touching {
				newFrom, newTo := rel.FromAssetUUID, rel.ToAssetUUID
				if newFrom == secondary.UUID {
					newFrom = primary.UUID
				}
				if newTo == secondary.UUID {
					newTo = primary.UUID
				}
				if newFrom == newTo {
					if err := relationRepo.DeleteByIDs(ctx, []uint64{rel.ID}); err != nil {
						return err
					}
					summary.DedupedRelationsCount++
					continue
				}
				existing, err := relationRepo.GetByUnique(ctx, rel.RelationType, newFrom, newTo, rel.SourceID)
				if err != nil {
					return err
				}
				if existing != nil && existing.ID != rel.ID {
					if err := relationRepo.DeleteByIDs(ctx, []uint64{rel.ID}); err != nil {
						return err
					}
					summary.DedupedRelationsCount++
					continue
				}
				rel.FromAssetUUID = newFrom
				rel.ToAssetUUID = newTo
				if err := relationRepo.Save(ctx, rel); err != nil {
					return err
				}
				summary.RelationsRewrittenCount++
			}

			summaryJSON, err := json.Marshal(summary)
			if err != nil {
				return err
			}
			audit := &ledgermodel.MergeAudit{
				PrimaryAssetUUID: primary.UUID,
				MergedAssetUUID:  secondary.UUID,
				PerformedBy:      input.PerformedBy,
				PerformedAt:      performedAt,
				ConflictStrategy: "primary_wins",
				Summary:          string(summaryJSON),
			}
			if err := dupRepo.CreateMergeAudit(ctx, audit); err != nil {
				return err
			}
			result.MergeAuditIDs = append(result.MergeAuditIDs, audit.ID)
			result.Summaries[secondary.UUID] = summary
		}

		eventSummary, _ := json.Marshal(map[string]interface{}{"merged_asset_uuids": input.MergedAssetUUIDs})
		eventRefs, _ := json.Marshal(map[string]interface{}{"merge_audit_ids": result.MergeAuditIDs})
		return historyRepo.Create(ctx, &ledgermodel.AssetHistoryEvent{
			AssetUUID:  primary.UUID,
			EventType:  ledgermodel.HistoryEventAssetMerged,
			OccurredAt: performedAt,
			Title:      "资产合并",
			Summary:    string(eventSummary),
			Refs:       string(eventRefs),
		})
	})

	if txErr != nil {
		if appErr, ok := txErr.(*apperr.AppError); ok {
			return nil, appErr
		}
		return nil, apperr.New(apperr.CodeDBWriteFailed, apperr.CategoryDB, "failed to merge assets", true).
			WithContext("cause", txErr.Error())
	}

	// 提交后失效相关快照缓存
	if s.snapshotCache != nil {
		invalidate := append([]string{primary.UUID}, input.MergedAssetUUIDs...)
		if err := s.snapshotCache.Invalidate(ctx, invalidate...); err != nil {
			logger.LogSystemEvent("redis", "snapshot_cache_invalidate_failed", err.Error(), logrus.WarnLevel,
				map[string]interface{}{"primary_asset_uuid": primary.UUID})
		}
	}

	logger.LogAuditOperation(input.PerformedBy, "merge_assets", primary.UUID, "success", input.ClientIP, input.RequestID,
		map[string]interface{}{
			"merged_asset_uuids": input.MergedAssetUUIDs,
			"merge_audit_ids":    result.MergeAuditIDs,
		})
	return result, nil
}

func wrapMergeErr(err error) error {
	if appErr, ok := err.(*apperr.AppError); ok {
		return appErr
	}
	return apperr.New(apperr.CodeDBWriteFailed, apperr.CategoryDB, "merge operation failed", true).
		WithContext("cause", err.Error())
}
