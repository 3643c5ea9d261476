package ingest

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"neoledger/internal/config"
	ledgermodel "neoledger/internal/model/ledger"
	"neoledger/internal/pkg/apperr"
	"neoledger/internal/pkg/rawcodec"
	ledgerrepo "neoledger/internal/repo/mysql/ledger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	err = db.AutoMigrate(
		&ledgermodel.Asset{},
		&ledgermodel.AssetSourceLink{},
		&ledgermodel.SourceRecord{},
		&ledgermodel.Relation{},
		&ledgermodel.RelationRecord{},
		&ledgermodel.AssetRunSnapshot{},
		&ledgermodel.AssetHistoryEvent{},
	)
	if err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return db
}

func newCollectService(t *testing.T, db *gorm.DB) *CollectService {
	t.Helper()
	codec, err := rawcodec.NewCodec()
	require.NoError(t, err)
	validator, err := NewCanonicalValidator()
	require.NoError(t, err)

	cfg := config.IngestConfig{BulkBatchSize: 500, DiffMaxFields: 5, DiffMaxRelations: 3}
	return NewCollectService(db, codec, validator,
		ledgerrepo.NewAssetRepository(db, cfg.BulkBatchSize),
		ledgerrepo.NewRelationRepository(db),
		ledgerrepo.NewSnapshotRepository(db),
		ledgerrepo.NewHistoryRepository(db, cfg.BulkBatchSize),
		nil, cfg)
}

func vmObservation(externalID, hostname, caption string, ips ...string) ledgermodel.CollectorAsset {
	ipList := make([]interface{}, 0, len(ips))
	for _, ip := range ips {
		ipList = append(ipList, ip)
	}
	return ledgermodel.CollectorAsset{
		ExternalKind: ledgermodel.AssetTypeVM,
		ExternalID:   externalID,
		Normalized: map[string]interface{}{
			"identity": map[string]interface{}{
				"hostname": hostname,
				"caption":  caption,
			},
			"network": map[string]interface{}{
				"ip_addresses": ipList,
			},
			"os": map[string]interface{}{
				"name":    "Ubuntu",
				"version": "22.04",
			},
		},
		RawPayload: map[string]interface{}{"externalId": externalID, "hostname": hostname},
	}
}

func hostObservation(externalID, hostname string) ledgermodel.CollectorAsset {
	return ledgermodel.CollectorAsset{
		ExternalKind: ledgermodel.AssetTypeHost,
		ExternalID:   externalID,
		Normalized: map[string]interface{}{
			"identity": map[string]interface{}{
				"hostname": hostname,
			},
		},
		RawPayload: map[string]interface{}{"externalId": externalID},
	}
}

func collectInput(runID string, mode ledgermodel.RunMode, at time.Time, assets []ledgermodel.CollectorAsset, relations []ledgermodel.CollectorRelation) *CollectRunInput {
	return &CollectRunInput{
		SourceID:    "vc-01",
		RunID:       runID,
		RunMode:     mode,
		CollectedAt: at,
		Assets:      assets,
		Relations:   relations,
	}
}

func TestIngestCollectRun_CreatesAssetsLinksAndRelations(t *testing.T) {
	db := newTestDB(t)
	svc := newCollectService(t, db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	vm := vmObservation("vm-2001", "web01.lab.local", "web01", "10.0.0.15")
	host := hostObservation("host-1001", "esxi01.lab.local")
	relations := []ledgermodel.CollectorRelation{
		{
			Type:       ledgermodel.RelationRunsOn,
			From:       ledgermodel.ExternalRef{ExternalKind: ledgermodel.AssetTypeVM, ExternalID: "vm-2001"},
			To:         ledgermodel.ExternalRef{ExternalKind: ledgermodel.AssetTypeHost, ExternalID: "host-1001"},
			RawPayload: map[string]interface{}{"vm": "vm-2001", "host": "host-1001"},
		},
	}

	result, err := svc.IngestCollectRun(ctx, collectInput("run-1", ledgermodel.RunModeCollect, now,
		[]ledgermodel.CollectorAsset{vm, host}, relations))
	require.NoError(t, err)
	assert.Equal(t, 2, result.IngestedAssets)
	assert.Equal(t, 1, result.IngestedRelations)
	assert.Empty(t, result.Warnings)

	var assets []*ledgermodel.Asset
	require.NoError(t, db.Find(&assets).Error)
	assert.Len(t, assets, 2)
	for _, asset := range assets {
		assert.Equal(t, ledgermodel.AssetStatusInService, asset.Status)
		assert.NotEmpty(t, asset.UUID)
	}

	var links []*ledgermodel.AssetSourceLink
	require.NoError(t, db.Find(&links).Error)
	assert.Len(t, links, 2)
	for _, link := range links {
		assert.Equal(t, ledgermodel.PresencePresent, link.PresenceStatus)
		assert.Equal(t, "run-1", link.LastSeenRunID)
	}

	var records []*ledgermodel.SourceRecord
	require.NoError(t, db.Find(&records).Error)
	assert.Len(t, records, 2)
	for _, record := range records {
		assert.Equal(t, "zstd", record.RawCompression)
		assert.NotEmpty(t, record.RawHash)
		assert.NotEmpty(t, record.Raw)
	}

	var rels []*ledgermodel.Relation
	require.NoError(t, db.Find(&rels).Error)
	require.Len(t, rels, 1)
	assert.Equal(t, ledgermodel.RelationRunsOn, rels[0].RelationType)

	var snapshots []*ledgermodel.AssetRunSnapshot
	require.NoError(t, db.Find(&snapshots).Error)
	assert.Len(t, snapshots, 2)
	for _, snap := range snapshots {
		var canonical map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(snap.Canonical), &canonical))
		assert.Equal(t, CanonicalVersion, canonical["version"])
	}
}

func TestIngestCollectRun_DisplayNamePrefersCaption(t *testing.T) {
	db := newTestDB(t)
	svc := newCollectService(t, db)
	now := time.Now().UTC()

	_, err := svc.IngestCollectRun(context.Background(), collectInput("run-1", ledgermodel.RunModeCollectVMs, now,
		[]ledgermodel.CollectorAsset{vmObservation("vm-1", "guest-hostname.lab.local", "平台名称-web01", "10.0.0.1")}, nil))
	require.NoError(t, err)

	var asset ledgermodel.Asset
	require.NoError(t, db.Where("asset_type = ?", ledgermodel.AssetTypeVM).First(&asset).Error)
	assert.Equal(t, "平台名称-web01", asset.DisplayName)
	assert.Equal(t, "guest-hostname.lab.local", asset.CollectedHostname)
	assert.Equal(t, "平台名称-web01", asset.CollectedVMCaption)
	assert.True(t, asset.MachineNameVMNameMismatch)
}

func TestIngestCollectRun_MissingDetectionRoundTrip(t *testing.T) {
	db := newTestDB(t)
	svc := newCollectService(t, db)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	vmA := vmObservation("vm-a", "vma.lab.local", "vma", "10.0.0.1")
	vmB := vmObservation("vm-b", "vmb.lab.local", "vmb", "10.0.0.2")

	_, err := svc.IngestCollectRun(ctx, collectInput("run-1", ledgermodel.RunModeCollectVMs, base,
		[]ledgermodel.CollectorAsset{vmA, vmB}, nil))
	require.NoError(t, err)

	// 第二轮 vm-b 缺席，应转为离线并只产生一条状态事件
	_, err = svc.IngestCollectRun(ctx, collectInput("run-2", ledgermodel.RunModeCollectVMs, base.Add(time.Hour),
		[]ledgermodel.CollectorAsset{vmA}, nil))
	require.NoError(t, err)

	var linkB ledgermodel.AssetSourceLink
	require.NoError(t, db.Where("external_id = ?", "vm-b").First(&linkB).Error)
	assert.Equal(t, ledgermodel.PresenceMissing, linkB.PresenceStatus)

	var assetB ledgermodel.Asset
	require.NoError(t, db.Where("uuid = ?", linkB.AssetUUID).First(&assetB).Error)
	assert.Equal(t, ledgermodel.AssetStatusOffline, assetB.Status)

	var events []*ledgermodel.AssetHistoryEvent
	require.NoError(t, db.Where("asset_uuid = ? AND event_type = ?", assetB.UUID, ledgermodel.HistoryEventStatusChanged).
		Find(&events).Error)
	require.Len(t, events, 1)
	var summary map[string]string
	require.NoError(t, json.Unmarshal([]byte(events[0].Summary), &summary))
	assert.Equal(t, string(ledgermodel.AssetStatusInService), summary["before"])
	assert.Equal(t, string(ledgermodel.AssetStatusOffline), summary["after"])

	// 第三轮 vm-b 回归，应重新在役并补第二条事件
	_, err = svc.IngestCollectRun(ctx, collectInput("run-3", ledgermodel.RunModeCollectVMs, base.Add(2*time.Hour),
		[]ledgermodel.CollectorAsset{vmA, vmB}, nil))
	require.NoError(t, err)

	require.NoError(t, db.Where("uuid = ?", linkB.AssetUUID).First(&assetB).Error)
	assert.Equal(t, ledgermodel.AssetStatusInService, assetB.Status)

	require.NoError(t, db.Where("asset_uuid = ? AND event_type = ?", assetB.UUID, ledgermodel.HistoryEventStatusChanged).
		Find(&events).Error)
	assert.Len(t, events, 2)
}

func TestIngestCollectRun_RunModeScopesMissingDetection(t *testing.T) {
	db := newTestDB(t)
	svc := newCollectService(t, db)
	ctx := context.Background()
	base := time.Now().UTC()

	_, err := svc.IngestCollectRun(ctx, collectInput("run-1", ledgermodel.RunModeCollect, base,
		[]ledgermodel.CollectorAsset{
			vmObservation("vm-a", "vma.lab.local", "vma", "10.0.0.1"),
			hostObservation("host-1", "esxi01.lab.local"),
		}, nil))
	require.NoError(t, err)

	// 仅虚拟机模式：宿主机链路不在缺失检测范围内
	_, err = svc.IngestCollectRun(ctx, collectInput("run-2", ledgermodel.RunModeCollectVMs, base.Add(time.Hour),
		[]ledgermodel.CollectorAsset{vmObservation("vm-a", "vma.lab.local", "vma", "10.0.0.1")}, nil))
	require.NoError(t, err)

	var hostLink ledgermodel.AssetSourceLink
	require.NoError(t, db.Where("external_id = ?", "host-1").First(&hostLink).Error)
	assert.Equal(t, ledgermodel.PresencePresent, hostLink.PresenceStatus)
}

func TestIngestCollectRun_MergedAssetKeepsTerminalStatus(t *testing.T) {
	db := newTestDB(t)
	svc := newCollectService(t, db)
	ctx := context.Background()
	base := time.Now().UTC()

	_, err := svc.IngestCollectRun(ctx, collectInput("run-1", ledgermodel.RunModeCollectVMs, base,
		[]ledgermodel.CollectorAsset{vmObservation("vm-a", "vma.lab.local", "vma", "10.0.0.1")}, nil))
	require.NoError(t, err)

	var asset ledgermodel.Asset
	require.NoError(t, db.First(&asset).Error)
	require.NoError(t, db.Model(&ledgermodel.Asset{}).Where("uuid = ?", asset.UUID).
		Updates(map[string]interface{}{"status": ledgermodel.AssetStatusMerged, "merged_into_asset_uuid": "other"}).Error)

	// 缺席也不得改写 merged 终态
	_, err = svc.IngestCollectRun(ctx, collectInput("run-2", ledgermodel.RunModeCollectVMs, base.Add(time.Hour),
		nil, nil))
	require.NoError(t, err)

	require.NoError(t, db.Where("uuid = ?", asset.UUID).First(&asset).Error)
	assert.Equal(t, ledgermodel.AssetStatusMerged, asset.Status)

	var count int64
	require.NoError(t, db.Model(&ledgermodel.AssetHistoryEvent{}).
		Where("asset_uuid = ? AND event_type = ?", asset.UUID, ledgermodel.HistoryEventStatusChanged).
		Count(&count).Error)
	assert.Zero(t, count)
}

func TestIngestCollectRun_RelationSkippedOnMissingEndpoint(t *testing.T) {
	db := newTestDB(t)
	svc := newCollectService(t, db)
	now := time.Now().UTC()

	relations := []ledgermodel.CollectorRelation{
		{
			Type:       ledgermodel.RelationRunsOn,
			From:       ledgermodel.ExternalRef{ExternalKind: ledgermodel.AssetTypeVM, ExternalID: "vm-a"},
			To:         ledgermodel.ExternalRef{ExternalKind: ledgermodel.AssetTypeHost, ExternalID: "host-unseen"},
			RawPayload: map[string]interface{}{},
		},
	}
	result, err := svc.IngestCollectRun(context.Background(), collectInput("run-1", ledgermodel.RunModeCollect, now,
		[]ledgermodel.CollectorAsset{vmObservation("vm-a", "vma.lab.local", "vma", "10.0.0.1")}, relations))
	require.NoError(t, err)

	assert.Equal(t, 0, result.IngestedRelations)
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, "relation.skipped_missing_endpoint", result.Warnings[0].Type)

	var count int64
	require.NoError(t, db.Model(&ledgermodel.Relation{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestIngestCollectRun_EmitsCollectChangedEvent(t *testing.T) {
	db := newTestDB(t)
	svc := newCollectService(t, db)
	ctx := context.Background()
	base := time.Now().UTC()

	_, err := svc.IngestCollectRun(ctx, collectInput("run-1", ledgermodel.RunModeCollectVMs, base,
		[]ledgermodel.CollectorAsset{vmObservation("vm-a", "vma.lab.local", "vma", "10.0.0.1")}, nil))
	require.NoError(t, err)

	changed := vmObservation("vm-a", "vma.lab.local", "vma", "10.0.0.1")
	changed.Normalized["os"] = map[string]interface{}{"name": "Ubuntu", "version": "24.04"}
	_, err = svc.IngestCollectRun(ctx, collectInput("run-2", ledgermodel.RunModeCollectVMs, base.Add(time.Hour),
		[]ledgermodel.CollectorAsset{changed}, nil))
	require.NoError(t, err)

	var events []*ledgermodel.AssetHistoryEvent
	require.NoError(t, db.Where("event_type = ?", ledgermodel.HistoryEventCollectChanged).Find(&events).Error)
	require.Len(t, events, 1)

	var summary CollectChangedSummary
	require.NoError(t, json.Unmarshal([]byte(events[0].Summary), &summary))
	require.Len(t, summary.Changes, 1)
	assert.Equal(t, "os.version", summary.Changes[0].Path)
	assert.Equal(t, "22.04", summary.Changes[0].Before)
	assert.Equal(t, "24.04", summary.Changes[0].After)
}

func TestIngestCollectRun_ReingestionIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	svc := newCollectService(t, db)
	ctx := context.Background()
	now := time.Now().UTC()

	input := collectInput("run-1", ledgermodel.RunModeCollectVMs, now,
		[]ledgermodel.CollectorAsset{vmObservation("vm-a", "vma.lab.local", "vma", "10.0.0.1")}, nil)

	_, err := svc.IngestCollectRun(ctx, input)
	require.NoError(t, err)
	_, err = svc.IngestCollectRun(ctx, input)
	require.NoError(t, err)

	var assetCount, linkCount, snapCount int64
	require.NoError(t, db.Model(&ledgermodel.Asset{}).Count(&assetCount).Error)
	require.NoError(t, db.Model(&ledgermodel.AssetSourceLink{}).Count(&linkCount).Error)
	require.NoError(t, db.Model(&ledgermodel.AssetRunSnapshot{}).Count(&snapCount).Error)
	assert.EqualValues(t, 1, assetCount)
	assert.EqualValues(t, 1, linkCount)
	assert.EqualValues(t, 1, snapCount)

	// 同轮重放不得产生伪状态事件
	var eventCount int64
	require.NoError(t, db.Model(&ledgermodel.AssetHistoryEvent{}).
		Where("event_type = ?", ledgermodel.HistoryEventStatusChanged).Count(&eventCount).Error)
	assert.Zero(t, eventCount)
}

func TestIngestCollectRun_RejectsInvalidInput(t *testing.T) {
	db := newTestDB(t)
	svc := newCollectService(t, db)
	ctx := context.Background()

	_, err := svc.IngestCollectRun(ctx, &CollectRunInput{RunID: "run-1"})
	assert.True(t, apperr.IsCode(err, apperr.CodeInvalidRequest))

	_, err = svc.IngestCollectRun(ctx, &CollectRunInput{
		SourceID: "vc-01", RunID: "run-1", RunMode: "bogus", CollectedAt: time.Now(),
	})
	assert.True(t, apperr.IsCode(err, apperr.CodeInvalidRequest))
}
