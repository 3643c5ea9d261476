package duplicate

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	ledgermodel "neoledger/internal/model/ledger"
	"neoledger/internal/pkg/apperr"
	ledgerrepo "neoledger/internal/repo/mysql/ledger"
)

func newMergeService(t *testing.T, db *gorm.DB) *Service {
	t.Helper()
	return NewService(db,
		ledgerrepo.NewAssetRepository(db, 500),
		ledgerrepo.NewRelationRepository(db),
		ledgerrepo.NewHistoryRepository(db, 500),
		ledgerrepo.NewDuplicateRepository(db),
		nil)
}

func seedMergeAsset(t *testing.T, db *gorm.DB, assetType ledgermodel.AssetType, status ledgermodel.AssetStatus) *ledgermodel.Asset {
	t.Helper()
	asset := &ledgermodel.Asset{
		UUID:      uuid.NewString(),
		AssetType: assetType,
		Status:    status,
	}
	require.NoError(t, db.Create(asset).Error)
	return asset
}

func mergeInput(primary string, merged ...string) *MergeInput {
	return &MergeInput{
		PrimaryAssetUUID: primary,
		MergedAssetUUIDs: merged,
		PerformedBy:      "ops-admin",
	}
}

func TestMergeAssets_ValidatesInput(t *testing.T) {
	db := newTestDB(t)
	svc := newMergeService(t, db)
	ctx := context.Background()

	_, err := svc.MergeAssets(ctx, &MergeInput{})
	assert.True(t, apperr.IsCode(err, apperr.CodeInvalidRequest))

	_, err = svc.MergeAssets(ctx, mergeInput("uuid-x", "uuid-x"))
	assert.True(t, apperr.IsCode(err, apperr.CodeInvalidRequest))

	_, err = svc.MergeAssets(ctx, mergeInput("missing-primary", "missing-secondary"))
	assert.True(t, apperr.IsCode(err, apperr.CodeAssetNotFound))
}

func TestMergeAssets_RejectsTypeMismatch(t *testing.T) {
	db := newTestDB(t)
	svc := newMergeService(t, db)
	primary := seedMergeAsset(t, db, ledgermodel.AssetTypeHost, ledgermodel.AssetStatusInService)
	secondary := seedMergeAsset(t, db, ledgermodel.AssetTypeVM, ledgermodel.AssetStatusOffline)

	_, err := svc.MergeAssets(context.Background(), mergeInput(primary.UUID, secondary.UUID))
	assert.True(t, apperr.IsCode(err, apperr.CodeMergeTypeMismatch))
}

func TestMergeAssets_DetectsMergeCycle(t *testing.T) {
	db := newTestDB(t)
	svc := newMergeService(t, db)
	ctx := context.Background()

	other := seedMergeAsset(t, db, ledgermodel.AssetTypeVM, ledgermodel.AssetStatusInService)

	primary := seedMergeAsset(t, db, ledgermodel.AssetTypeVM, ledgermodel.AssetStatusInService)
	secondary := seedMergeAsset(t, db, ledgermodel.AssetTypeVM, ledgermodel.AssetStatusMerged)
	secondary.MergedIntoAssetUUID = other.UUID
	require.NoError(t, db.Save(secondary).Error)

	_, err := svc.MergeAssets(ctx, mergeInput(primary.UUID, secondary.UUID))
	assert.True(t, apperr.IsCode(err, apperr.CodeMergeCycleDetected))

	// 主资产已被合并的情形
	primary.MergedIntoAssetUUID = other.UUID
	require.NoError(t, db.Save(primary).Error)
	fresh := seedMergeAsset(t, db, ledgermodel.AssetTypeVM, ledgermodel.AssetStatusOffline)
	_, err = svc.MergeAssets(ctx, mergeInput(primary.UUID, fresh.UUID))
	assert.True(t, apperr.IsCode(err, apperr.CodeMergeCycleDetected))
}

func TestMergeAssets_VMRequiresOfflineSecondaries(t *testing.T) {
	db := newTestDB(t)
	svc := newMergeService(t, db)
	ctx := context.Background()

	primary := seedMergeAsset(t, db, ledgermodel.AssetTypeVM, ledgermodel.AssetStatusInService)
	inService := seedMergeAsset(t, db, ledgermodel.AssetTypeVM, ledgermodel.AssetStatusInService)
	_, err := svc.MergeAssets(ctx, mergeInput(primary.UUID, inService.UUID))
	assert.True(t, apperr.IsCode(err, apperr.CodeMergeVMRequiresOffline))

	offlinePrimary := seedMergeAsset(t, db, ledgermodel.AssetTypeVM, ledgermodel.AssetStatusOffline)
	offlineSecondary := seedMergeAsset(t, db, ledgermodel.AssetTypeVM, ledgermodel.AssetStatusOffline)
	_, err = svc.MergeAssets(ctx, mergeInput(offlinePrimary.UUID, offlineSecondary.UUID))
	assert.True(t, apperr.IsCode(err, apperr.CodeMergeVMRequiresOffline))
}

func TestMergeAssets_MigratesEverything(t *testing.T) {
	db := newTestDB(t)
	svc := newMergeService(t, db)
	ctx := context.Background()
	now := time.Now()

	primary := seedMergeAsset(t, db, ledgermodel.AssetTypeVM, ledgermodel.AssetStatusInService)
	secondary := seedMergeAsset(t, db, ledgermodel.AssetTypeVM, ledgermodel.AssetStatusOffline)
	hostX := seedMergeAsset(t, db, ledgermodel.AssetTypeHost, ledgermodel.AssetStatusInService)
	hostY := seedMergeAsset(t, db, ledgermodel.AssetTypeHost, ledgermodel.AssetStatusInService)

	// 次要资产的身份链路与观测流水
	require.NoError(t, db.Create(&ledgermodel.AssetSourceLink{
		SourceID:     "vc-01",
		ExternalKind: ledgermodel.AssetTypeVM,
		ExternalID:   "vm-200",
		AssetUUID:    secondary.UUID,
		FirstSeenAt:  now,
		LastSeenAt:   now,
	}).Error)
	require.NoError(t, db.Create(&ledgermodel.SourceRecord{
		CollectedAt:  now,
		RunID:        "run-1",
		SourceID:     "vc-01",
		LinkID:       1,
		AssetUUID:    secondary.UUID,
		ExternalKind: ledgermodel.AssetTypeVM,
		ExternalID:   "vm-200",
		Normalized:   "{}",
	}).Error)

	// 三条关系：撞唯一键的、可改写的、改写后成自环的
	require.NoError(t, db.Create(&ledgermodel.Relation{
		RelationType: ledgermodel.RelationRunsOn, FromAssetUUID: primary.UUID, ToAssetUUID: hostX.UUID,
		SourceID: "vc-01", Status: ledgermodel.RelationActive, FirstSeenAt: now, LastSeenAt: now,
	}).Error)
	require.NoError(t, db.Create(&ledgermodel.Relation{
		RelationType: ledgermodel.RelationRunsOn, FromAssetUUID: secondary.UUID, ToAssetUUID: hostX.UUID,
		SourceID: "vc-01", Status: ledgermodel.RelationActive, FirstSeenAt: now, LastSeenAt: now,
	}).Error)
	require.NoError(t, db.Create(&ledgermodel.Relation{
		RelationType: ledgermodel.RelationRunsOn, FromAssetUUID: secondary.UUID, ToAssetUUID: hostY.UUID,
		SourceID: "vc-01", Status: ledgermodel.RelationActive, FirstSeenAt: now, LastSeenAt: now,
	}).Error)
	require.NoError(t, db.Create(&ledgermodel.Relation{
		RelationType: ledgermodel.RelationRunsOn, FromAssetUUID: secondary.UUID, ToAssetUUID: primary.UUID,
		SourceID: "vc-01", Status: ledgermodel.RelationActive, FirstSeenAt: now, LastSeenAt: now,
	}).Error)

	// 待封板的 open 候选
	pairA, pairB := primary.UUID, secondary.UUID
	if pairB < pairA {
		pairA, pairB = pairB, pairA
	}
	require.NoError(t, db.Create(&ledgermodel.DuplicateCandidate{
		CandidateID: uuid.NewString(),
		AssetUUIDA:  pairA, AssetUUIDB: pairB,
		Score: 100, Status: ledgermodel.DuplicateStatusOpen, LastObservedAt: now,
	}).Error)

	result, err := svc.MergeAssets(ctx, mergeInput(primary.UUID, secondary.UUID))
	require.NoError(t, err)
	require.Len(t, result.MergeAuditIDs, 1)

	summary := result.Summaries[secondary.UUID]
	assert.Equal(t, 1, summary.AssetsUpdatedCount)
	assert.Equal(t, 1, summary.SourceLinksMovedCount)
	assert.Equal(t, 1, summary.SourceRecordsMovedCount)
	assert.Equal(t, 1, summary.RelationsRewrittenCount)
	assert.Equal(t, 2, summary.DedupedRelationsCount)
	assert.Equal(t, 1, summary.DuplicateCandidatesUpdatedCount)

	// 次要资产封存并指向主资产
	var merged ledgermodel.Asset
	require.NoError(t, db.Where("uuid = ?", secondary.UUID).First(&merged).Error)
	assert.Equal(t, ledgermodel.AssetStatusMerged, merged.Status)
	assert.Equal(t, primary.UUID, merged.MergedIntoAssetUUID)

	// 身份链路与流水全部归属主资产
	var link ledgermodel.AssetSourceLink
	require.NoError(t, db.Where("external_id = ?", "vm-200").First(&link).Error)
	assert.Equal(t, primary.UUID, link.AssetUUID)
	var record ledgermodel.SourceRecord
	require.NoError(t, db.First(&record).Error)
	assert.Equal(t, primary.UUID, record.AssetUUID)

	// 关系只剩 primary->hostX 与 primary->hostY
	var relations []ledgermodel.Relation
	require.NoError(t, db.Order("to_asset_uuid").Find(&relations).Error)
	require.Len(t, relations, 2)
	for _, rel := range relations {
		assert.Equal(t, primary.UUID, rel.FromAssetUUID)
		assert.NotEqual(t, primary.UUID, rel.ToAssetUUID)
	}

	// 候选封板
	var candidate ledgermodel.DuplicateCandidate
	require.NoError(t, db.First(&candidate).Error)
	assert.Equal(t, ledgermodel.DuplicateStatusMerged, candidate.Status)

	// 审计记录与合并事件
	var audit ledgermodel.MergeAudit
	require.NoError(t, db.First(&audit).Error)
	assert.Equal(t, primary.UUID, audit.PrimaryAssetUUID)
	assert.Equal(t, secondary.UUID, audit.MergedAssetUUID)
	assert.Equal(t, "primary_wins", audit.ConflictStrategy)
	var auditSummary MergeSummary
	require.NoError(t, json.Unmarshal([]byte(audit.Summary), &auditSummary))
	assert.Equal(t, summary, auditSummary)

	var event ledgermodel.AssetHistoryEvent
	require.NoError(t, db.Where("event_type = ?", ledgermodel.HistoryEventAssetMerged).First(&event).Error)
	assert.Equal(t, primary.UUID, event.AssetUUID)
}

func TestIgnoreCandidate_Lifecycle(t *testing.T) {
	db := newTestDB(t)
	svc := newMergeService(t, db)
	ctx := context.Background()

	_, err := svc.IgnoreCandidate(ctx, "missing", "ops-admin", "127.0.0.1", "req-1")
	assert.True(t, apperr.IsCode(err, apperr.CodeCandidateNotFound))

	candidate := &ledgermodel.DuplicateCandidate{
		CandidateID: uuid.NewString(),
		AssetUUIDA:  "uuid-a", AssetUUIDB: "uuid-b",
		Score: 90, Status: ledgermodel.DuplicateStatusOpen, LastObservedAt: time.Now(),
	}
	require.NoError(t, db.Create(candidate).Error)

	ignored, err := svc.IgnoreCandidate(ctx, candidate.CandidateID, "ops-admin", "127.0.0.1", "req-1")
	require.NoError(t, err)
	assert.Equal(t, ledgermodel.DuplicateStatusIgnored, ignored.Status)

	// 重复忽略幂等
	again, err := svc.IgnoreCandidate(ctx, candidate.CandidateID, "ops-admin", "127.0.0.1", "req-2")
	require.NoError(t, err)
	assert.Equal(t, ledgermodel.DuplicateStatusIgnored, again.Status)

	// 已合并的候选拒绝忽略
	require.NoError(t, db.Model(&ledgermodel.DuplicateCandidate{}).
		Where("candidate_id = ?", candidate.CandidateID).
		Update("status", ledgermodel.DuplicateStatusMerged).Error)
	_, err = svc.IgnoreCandidate(ctx, candidate.CandidateID, "ops-admin", "127.0.0.1", "req-3")
	assert.True(t, apperr.IsCode(err, apperr.CodeInvalidRequest))
}

func TestListCandidates_FiltersByStatus(t *testing.T) {
	db := newTestDB(t)
	svc := newMergeService(t, db)
	ctx := context.Background()
	now := time.Now()

	for i, status := range []ledgermodel.DuplicateCandidateStatus{
		ledgermodel.DuplicateStatusOpen,
		ledgermodel.DuplicateStatusOpen,
		ledgermodel.DuplicateStatusIgnored,
	} {
		require.NoError(t, db.Create(&ledgermodel.DuplicateCandidate{
			CandidateID: uuid.NewString(),
			AssetUUIDA:  uuid.NewString(), AssetUUIDB: uuid.NewString(),
			Score: 70 + i*10, Status: status, LastObservedAt: now,
		}).Error)
	}

	open, total, err := svc.ListCandidates(ctx, ledgermodel.DuplicateStatusOpen, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, open, 2)
	// 评分倒序
	assert.GreaterOrEqual(t, open[0].Score, open[1].Score)

	all, total, err := svc.ListCandidates(ctx, "", 1, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, all, 3)
}
