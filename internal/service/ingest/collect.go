// 台账采集摄取引擎
// 消费一轮采集运行的实体与关系列表，在单个数据库事务内完成：
// 身份链路对账、缺失检测、生命周期状态重算、关系落库、canonical 快照与变更事件。
// 原始载荷压缩在事务外先行完成，压缩失败整轮不写入
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"neoledger/internal/config"
	ledgermodel "neoledger/internal/model/ledger"
	"neoledger/internal/pkg/apperr"
	"neoledger/internal/pkg/logger"
	"neoledger/internal/pkg/rawcodec"
	ledgerrepo "neoledger/internal/repo/mysql/ledger"
	redisrepo "neoledger/internal/repo/redis"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// CollectRunInput 一轮采集运行的输入
type CollectRunInput struct {
	SourceID    string                          `json:"source_id"`
	RunID       string                          `json:"run_id"`
	RunMode     ledgermodel.RunMode             `json:"run_mode"`
	CollectedAt time.Time                       `json:"collected_at"`
	Assets      []ledgermodel.CollectorAsset    `json:"assets"`
	Relations   []ledgermodel.CollectorRelation `json:"relations"`
}

// CollectRunResult 采集摄取结果
type CollectRunResult struct {
	IngestedAssets    int                   `json:"ingested_assets"`
	IngestedRelations int                   `json:"ingested_relations"`
	Warnings          []ledgermodel.Warning `json:"warnings"`
}

// CollectService 采集摄取服务
type CollectService struct {
	db            *gorm.DB
	codec         *rawcodec.Codec
	validator     *CanonicalValidator
	assetRepo     *ledgerrepo.AssetRepository
	relationRepo  *ledgerrepo.RelationRepository
	snapshotRepo  *ledgerrepo.SnapshotRepository
	historyRepo   *ledgerrepo.HistoryRepository
	snapshotCache *redisrepo.SnapshotCacheRepository
	ingestCfg     config.IngestConfig
}

// NewCollectService 创建采集摄取服务
// snapshotCache 可为 nil（缓存关闭时）
func NewCollectService(
	db *gorm.DB,
	codec *rawcodec.Codec,
	validator *CanonicalValidator,
	assetRepo *ledgerrepo.AssetRepository,
	relationRepo *ledgerrepo.RelationRepository,
	snapshotRepo *ledgerrepo.SnapshotRepository,
	historyRepo *ledgerrepo.HistoryRepository,
	snapshotCache *redisrepo.SnapshotCacheRepository,
	ingestCfg config.IngestConfig,
) *CollectService {
	return &CollectService{
		db:            db,
		codec:         codec,
		validator:     validator,
		assetRepo:     assetRepo,
		relationRepo:  relationRepo,
		snapshotRepo:  snapshotRepo,
		historyRepo:   historyRepo,
		snapshotCache: snapshotCache,
		ingestCfg:     ingestCfg,
	}
}

// externalKey 外部实体的映射键
func externalKey(kind ledgermodel.AssetType, id string) string {
	return string(kind) + ":" + id
}

// deriveAssetDisplayName 从规范化载荷派生资产展示名
// 平台侧名称(caption)优先于客户机上报的主机名
func deriveAssetDisplayName(normalized map[string]interface{}) string {
	if caption := cleanString(nestedValue(normalized, "identity", "caption")); caption != "" {
		return caption
	}
	if hostname := cleanString(nestedValue(normalized, "identity", "hostname")); hostname != "" {
		return hostname
	}
	return ""
}

type compressedAsset struct {
	asset ledgermodel.CollectorAsset
	raw   *rawcodec.CompressedRaw
}

type compressedRelation struct {
	relation ledgermodel.CollectorRelation
	raw      *rawcodec.CompressedRaw
}

// linkState 本轮内一个已观测实体的上下文
type linkState struct {
	linkID   uint64
	asset    *ledgermodel.Asset
	recordID uint64
}

type statusTransition struct {
	assetUUID string
	before    ledgermodel.AssetStatus
	after     ledgermodel.AssetStatus
}

// IngestCollectRun 摄取一轮采集运行
// 全部副作用原子提交：任何致命错误整轮回滚，不留部分可见状态
func (s *CollectService) IngestCollectRun(ctx context.Context, input *CollectRunInput) (*CollectRunResult, error) {
	if input == nil || input.SourceID == "" || input.RunID == "" {
		return nil, apperr.New(apperr.CodeInvalidRequest, apperr.CategoryConfig, "source_id and run_id are required", false)
	}
	if !input.RunMode.Valid() {
		return nil, apperr.New(apperr.CodeInvalidRequest, apperr.CategoryConfig, "unsupported run mode", false).
			WithContext("run_mode", string(input.RunMode))
	}

	// 第一步：事务外压缩全部原始载荷（CPU密集，不占事务时间）
	compressedAssets := make([]compressedAsset, 0, len(input.Assets))
	compressedRelations := make([]compressedRelation, 0, len(input.Relations))
	for _, asset := range input.Assets {
		raw, err := s.codec.Compress(asset.RawPayload)
		if err != nil {
			return nil, apperr.New(apperr.CodeRawPersistFailed, apperr.CategoryRaw, "failed to compress raw payload", false).
				WithContext("cause", err.Error())
		}
		compressedAssets = append(compressedAssets, compressedAsset{asset: asset, raw: raw})
	}
	for _, relation := range input.Relations {
		raw, err := s.codec.Compress(relation.RawPayload)
		if err != nil {
			return nil, apperr.New(apperr.CodeRawPersistFailed, apperr.CategoryRaw, "failed to compress raw payload", false).
				WithContext("cause", err.Error())
		}
		compressedRelations = append(compressedRelations, compressedRelation{relation: relation, raw: raw})
	}

	warnings := []ledgermodel.Warning{}
	ingestedRelations := 0
	canonicalByAssetUUID := make(map[string]string)

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		assetRepo := s.assetRepo.WithTx(tx)
		relationRepo := s.relationRepo.WithTx(tx)
		snapshotRepo := s.snapshotRepo.WithTx(tx)
		historyRepo := s.historyRepo.WithTx(tx)

		linksByExternal := make(map[string]*linkState, len(compressedAssets))
		seenLinkIDs := make(map[uint64]struct{}, len(compressedAssets))
		touchedAssets := make(map[string]*ledgermodel.Asset)

		// 第二步：逐实体对账身份链路，追加观测流水
		for i := range compressedAssets {
			entry := &compressedAssets[i]
			asset := entry.asset

			link, err := assetRepo.GetLinkByTriple(ctx, input.SourceID, string(asset.ExternalKind), asset.ExternalID)
			if err != nil {
				return err
			}

			var assetRow *ledgermodel.Asset
			if link == nil {
				assetRow = &ledgermodel.Asset{
					UUID:        uuid.NewString(),
					AssetType:   asset.ExternalKind,
					Status:      ledgermodel.AssetStatusInService,
					DisplayName: deriveAssetDisplayName(asset.Normalized),
					LastSeenAt:  &input.CollectedAt,
				}
				if err := assetRepo.CreateAsset(ctx, assetRow); err != nil {
					return err
				}
				link = &ledgermodel.AssetSourceLink{
					SourceID:       input.SourceID,
					ExternalKind:   asset.ExternalKind,
					ExternalID:     asset.ExternalID,
					AssetUUID:      assetRow.UUID,
					PresenceStatus: ledgermodel.PresencePresent,
					FirstSeenAt:    input.CollectedAt,
					LastSeenAt:     input.CollectedAt,
					LastSeenRunID:  input.RunID,
				}
				if err := assetRepo.CreateLink(ctx, link); err != nil {
					return err
				}
			} else {
				assetRow, err = assetRepo.GetAssetByUUID(ctx, link.AssetUUID)
				if err != nil {
					return err
				}
				if assetRow == nil {
					return fmt.Errorf("asset %s referenced by link %d not found", link.AssetUUID, link.ID)
				}
				link.PresenceStatus = ledgermodel.PresencePresent
				link.LastSeenAt = input.CollectedAt
				link.LastSeenRunID = input.RunID
				if err := assetRepo.SaveLink(ctx, link); err != nil {
					return err
				}
				assetRow.LastSeenAt = &input.CollectedAt
				if name := deriveAssetDisplayName(asset.Normalized); name != "" {
					assetRow.DisplayName = name
				}
			}

			normalizedJSON, err := json.Marshal(asset.Normalized)
			if err != nil {
				return apperr.New(apperr.CodeInvalidRequest, apperr.CategoryConfig, "normalized payload is not serializable", false).
					WithContext("external_id", asset.ExternalID)
			}
			record := &ledgermodel.SourceRecord{
				CollectedAt:    input.CollectedAt,
				RunID:          input.RunID,
				SourceID:       input.SourceID,
				LinkID:         link.ID,
				AssetUUID:      assetRow.UUID,
				ExternalKind:   asset.ExternalKind,
				ExternalID:     asset.ExternalID,
				Normalized:     string(normalizedJSON),
				Raw:            entry.raw.Bytes,
				RawCompression: entry.raw.Compression,
				RawSizeBytes:   entry.raw.SizeBytes,
				RawHash:        entry.raw.Hash,
				RawMimeType:    entry.raw.MimeType,
			}
			if err := assetRepo.CreateSourceRecord(ctx, record); err != nil {
				return err
			}

			state := &linkState{linkID: link.ID, asset: assetRow, recordID: record.ID}
			linksByExternal[externalKey(asset.ExternalKind, asset.ExternalID)] = state
			seenLinkIDs[link.ID] = struct{}{}
			touchedAssets[assetRow.UUID] = assetRow
		}

		// 第三步：缺失检测，范围由运行模式决定
		scope := input.RunMode.PresenceScope()
		scopeKinds := make([]string, 0, len(scope))
		for _, kind := range scope {
			scopeKinds = append(scopeKinds, string(kind))
		}
		scopedLinks, err := assetRepo.ListLinksBySourceAndKinds(ctx, input.SourceID, scopeKinds)
		if err != nil {
			return err
		}
		var missingLinkIDs []uint64
		missingAssetUUIDs := make(map[string]struct{})
		for _, link := range scopedLinks {
			if _, seen := seenLinkIDs[link.ID]; seen {
				continue
			}
			if link.PresenceStatus == ledgermodel.PresenceMissing {
				continue
			}
			missingLinkIDs = append(missingLinkIDs, link.ID)
			missingAssetUUIDs[link.AssetUUID] = struct{}{}
		}
		if err := assetRepo.BulkMarkLinksMissing(ctx, missingLinkIDs); err != nil {
			return err
		}

		// 补齐仅因缺失被触达的资产行
		var loadUUIDs []string
		for assetUUID := range missingAssetUUIDs {
			if _, ok := touchedAssets[assetUUID]; !ok {
				loadUUIDs = append(loadUUIDs, assetUUID)
			}
		}
		if len(loadUUIDs) > 0 {
			loaded, err := assetRepo.ListAssetsByUUIDs(ctx, loadUUIDs)
			if err != nil {
				return err
			}
			for _, asset := range loaded {
				touchedAssets[asset.UUID] = asset
			}
		}

		// 第四步：状态重算——触达资产的全部链路做 presence 并集
		// merged 为终态，跳过不算
		if err := s.recomputeStatuses(ctx, assetRepo, historyRepo, touchedAssets, input); err != nil {
			return err
		}

		// 第五步：关系落库，端点缺失时跳过并告警，不让整轮失败
		outgoingByAssetUUID := make(map[string][]CanonicalOutgoingRelation)
		for i := range compressedRelations {
			entry := &compressedRelations[i]
			relation := entry.relation

			fromState := linksByExternal[externalKey(relation.From.ExternalKind, relation.From.ExternalID)]
			toState := linksByExternal[externalKey(relation.To.ExternalKind, relation.To.ExternalID)]
			if fromState == nil || toState == nil {
				warnings = append(warnings, ledgermodel.Warning{
					Type: "relation.skipped_missing_endpoint",
					Context: map[string]interface{}{
						"relation_type": relation.Type,
						"from":          relation.From,
						"to":            relation.To,
					},
				})
				continue
			}

			rel, err := relationRepo.GetByUnique(ctx, relation.Type, fromState.asset.UUID, toState.asset.UUID, input.SourceID)
			if err != nil {
				return err
			}
			if rel == nil {
				rel = &ledgermodel.Relation{
					RelationType:  relation.Type,
					FromAssetUUID: fromState.asset.UUID,
					ToAssetUUID:   toState.asset.UUID,
					SourceID:      input.SourceID,
					Status:        ledgermodel.RelationActive,
					FirstSeenAt:   input.CollectedAt,
					LastSeenAt:    input.CollectedAt,
				}
				if err := relationRepo.Create(ctx, rel); err != nil {
					return err
				}
			} else {
				rel.Status = ledgermodel.RelationActive
				rel.LastSeenAt = input.CollectedAt
				if err := relationRepo.Save(ctx, rel); err != nil {
					return err
				}
			}

			if err := relationRepo.CreateRecord(ctx, &ledgermodel.RelationRecord{
				CollectedAt:    input.CollectedAt,
				RunID:          input.RunID,
				SourceID:       input.SourceID,
				RelationID:     rel.ID,
				RelationType:   relation.Type,
				FromAssetUUID:  fromState.asset.UUID,
				ToAssetUUID:    toState.asset.UUID,
				Raw:            entry.raw.Bytes,
				RawCompression: entry.raw.Compression,
				RawSizeBytes:   entry.raw.SizeBytes,
				RawHash:        entry.raw.Hash,
				RawMimeType:    entry.raw.MimeType,
			}); err != nil {
				return err
			}

			outgoingByAssetUUID[fromState.asset.UUID] = append(outgoingByAssetUUID[fromState.asset.UUID], CanonicalOutgoingRelation{
				Type: relation.Type,
				To: CanonicalOutgoingTarget{
					AssetUUID:   toState.asset.UUID,
					DisplayName: displayNameOrUUID(toState.asset),
					AssetType:   toState.asset.AssetType,
				},
				SourceID:   input.SourceID,
				LastSeenAt: input.CollectedAt.UTC().Format(time.RFC3339),
			})
			ingestedRelations++
		}

		// 第六步：canonical 快照 + 变更事件 + 派生字段回填
		for i := range compressedAssets {
			entry := &compressedAssets[i]
			state := linksByExternal[externalKey(entry.asset.ExternalKind, entry.asset.ExternalID)]
			if state == nil {
				continue
			}

			canonical := BuildCanonicalV1(CanonicalInput{
				AssetUUID:   state.asset.UUID,
				AssetType:   state.asset.AssetType,
				Status:      state.asset.Status,
				SourceID:    input.SourceID,
				RunID:       input.RunID,
				RecordID:    state.recordID,
				CollectedAt: input.CollectedAt,
				Normalized:  entry.asset.Normalized,
				Outgoing:    outgoingByAssetUUID[state.asset.UUID],
			})

			canonicalJSON, err := s.validator.Validate(canonical)
			if err != nil {
				return apperr.New(apperr.CodeSchemaValidationFailed, apperr.CategorySchema, "canonical-v1 schema validation failed", false).
					WithContext("asset_uuid", state.asset.UUID).
					WithContext("cause", err.Error())
			}

			if err := snapshotRepo.Upsert(ctx, &ledgermodel.AssetRunSnapshot{
				AssetUUID: state.asset.UUID,
				RunID:     input.RunID,
				Canonical: string(canonicalJSON),
			}); err != nil {
				return err
			}
			canonicalByAssetUUID[state.asset.UUID] = string(canonicalJSON)

			// 与上一轮快照对比，实质变化才记事件
			prev, err := snapshotRepo.GetLatestExcludingRun(ctx, state.asset.UUID, input.RunID)
			if err != nil {
				return err
			}
			if prev != nil {
				var prevCanonical map[string]interface{}
				if err := json.Unmarshal([]byte(prev.Canonical), &prevCanonical); err == nil {
					summary := ComputeCollectChangedSummary(state.asset.AssetType, prevCanonical, canonical,
						s.ingestCfg.DiffMaxFields, s.ingestCfg.DiffMaxRelations)
					if summary != nil {
						summaryJSON, _ := json.Marshal(summary)
						refsJSON, _ := json.Marshal(map[string]string{"run_id": input.RunID, "source_id": input.SourceID})
						if err := historyRepo.Create(ctx, &ledgermodel.AssetHistoryEvent{
							AssetUUID:  state.asset.UUID,
							EventType:  ledgermodel.HistoryEventCollectChanged,
							OccurredAt: input.CollectedAt,
							Title:      "采集内容变更",
							Summary:    string(summaryJSON),
							Refs:       string(refsJSON),
						}); err != nil {
							return err
						}
					}
				}
			}

			applyDerivedFields(state.asset, canonical)
			if err := assetRepo.SaveAsset(ctx, state.asset); err != nil {
				return err
			}
		}

		return nil
	})

	if txErr != nil {
		if appErr, ok := txErr.(*apperr.AppError); ok {
			logger.LogError(appErr, input.SourceID, input.RunID, map[string]interface{}{"operation": "ingest_collect_run"})
			return nil, appErr
		}
		dbErr := apperr.New(apperr.CodeDBWriteFailed, apperr.CategoryDB, "failed to ingest collect run", true).
			WithContext("cause", txErr.Error())
		logger.LogError(dbErr, input.SourceID, input.RunID, map[string]interface{}{"operation": "ingest_collect_run"})
		return nil, dbErr
	}

	// 提交后尽力刷新最新快照缓存，失败只记日志
	if s.snapshotCache != nil && s.ingestCfg.SnapshotCacheEnable {
		for assetUUID, canonical := range canonicalByAssetUUID {
			if err := s.snapshotCache.StoreLatest(ctx, assetUUID, canonical); err != nil {
				logger.LogSystemEvent("redis", "snapshot_cache_write_failed", err.Error(), logrus.WarnLevel,
					map[string]interface{}{"asset_uuid": assetUUID})
			}
		}
	}

	logger.LogBusinessOperation("collect_run", input.SourceID, input.RunID, "success", "collect run ingested",
		map[string]interface{}{
			"ingested_assets":    len(compressedAssets),
			"ingested_relations": ingestedRelations,
			"warnings":           len(warnings),
		})

	return &CollectRunResult{
		IngestedAssets:    len(compressedAssets),
		IngestedRelations: ingestedRelations,
		Warnings:          warnings,
	}, nil
}

// recomputeStatuses 对触达资产做生命周期状态重算
// 任一链路 present 即在役，否则离线；状态实际变化才记 status_changed 事件
func (s *CollectService) recomputeStatuses(
	ctx context.Context,
	assetRepo *ledgerrepo.AssetRepository,
	historyRepo *ledgerrepo.HistoryRepository,
	touchedAssets map[string]*ledgermodel.Asset,
	input *CollectRunInput,
) error {
	if len(touchedAssets) == 0 {
		return nil
	}

	uuids := make([]string, 0, len(touchedAssets))
	for assetUUID := range touchedAssets {
		uuids = append(uuids, assetUUID)
	}
	links, err := assetRepo.ListLinksByAssetUUIDs(ctx, uuids)
	if err != nil {
		return err
	}

	anyPresent := make(map[string]bool, len(touchedAssets))
	for _, link := range links {
		if link.PresenceStatus == ledgermodel.PresencePresent {
			anyPresent[link.AssetUUID] = true
		}
	}

	var transitions []statusTransition
	byTarget := make(map[ledgermodel.AssetStatus][]string)
	for assetUUID, asset := range touchedAssets {
		if asset.IsMerged() {
			continue
		}
		desired := ledgermodel.AssetStatusOffline
		if anyPresent[assetUUID] {
			desired = ledgermodel.AssetStatusInService
		}
		if asset.Status == desired {
			continue
		}
		transitions = append(transitions, statusTransition{assetUUID: assetUUID, before: asset.Status, after: desired})
		byTarget[desired] = append(byTarget[desired], assetUUID)
		asset.Status = desired
	}

	for status, statusUUIDs := range byTarget {
		if err := assetRepo.BulkUpdateAssetStatus(ctx, statusUUIDs, status); err != nil {
			return err
		}
	}

	if len(transitions) > 0 {
		events := make([]*ledgermodel.AssetHistoryEvent, 0, len(transitions))
		for _, t := range transitions {
			summaryJSON, _ := json.Marshal(map[string]string{"before": string(t.before), "after": string(t.after)})
			refsJSON, _ := json.Marshal(map[string]string{"run_id": input.RunID, "source_id": input.SourceID})
			events = append(events, &ledgermodel.AssetHistoryEvent{
				AssetUUID:  t.assetUUID,
				EventType:  ledgermodel.HistoryEventStatusChanged,
				OccurredAt: input.CollectedAt,
				Title:      "状态变更",
				Summary:    string(summaryJSON),
				Refs:       string(refsJSON),
			})
		}
		if err := historyRepo.CreateBatch(ctx, events); err != nil {
			return err
		}
	}

	return nil
}

// displayNameOrUUID 资产展示名为空时回退到UUID
func displayNameOrUUID(asset *ledgermodel.Asset) string {
	if asset.DisplayName != "" {
		return asset.DisplayName
	}
	return asset.UUID
}
