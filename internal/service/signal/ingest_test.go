package signal

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
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
		&ledgermodel.AssetSignalLink{},
		&ledgermodel.SignalRecord{},
		&ledgermodel.AssetOperationalState{},
	)
	if err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return db
}

func newSignalService(t *testing.T, db *gorm.DB) *Service {
	t.Helper()
	codec, err := rawcodec.NewCodec()
	require.NoError(t, err)
	cfg := config.IngestConfig{AmbiguousCandidates: 50}
	return NewService(db, codec,
		ledgerrepo.NewAssetRepository(db, 500),
		ledgerrepo.NewSignalRepository(db),
		cfg)
}

func seedAsset(t *testing.T, db *gorm.DB, assetType ledgermodel.AssetType, hostname, caption, ipText string) *ledgermodel.Asset {
	t.Helper()
	asset := &ledgermodel.Asset{
		UUID:               uuid.NewString(),
		AssetType:          assetType,
		Status:             ledgermodel.AssetStatusInService,
		DisplayName:        hostname,
		CollectedHostname:  hostname,
		CollectedVMCaption: caption,
		CollectedIPText:    ipText,
	}
	require.NoError(t, db.Create(asset).Error)
	return asset
}

func signalObservation(externalID, hostname, ip, monitorStatus string) ledgermodel.CollectorAsset {
	normalized := map[string]interface{}{
		"identity": map[string]interface{}{
			"hostname": hostname,
		},
		"network": map[string]interface{}{
			"ip_address": ip,
		},
		"attributes": map[string]interface{}{
			"monitor_status": monitorStatus,
		},
	}
	return ledgermodel.CollectorAsset{
		ExternalKind: ledgermodel.AssetTypeVM,
		ExternalID:   externalID,
		Normalized:   normalized,
		RawPayload:   map[string]interface{}{"nodeId": externalID},
	}
}

func signalInput(runID string, at time.Time, assets ...ledgermodel.CollectorAsset) *SignalRunInput {
	return &SignalRunInput{
		SourceID:    "sw-01",
		SourceType:  ledgermodel.SourceTypeSolarWinds,
		RunID:       runID,
		CollectedAt: at,
		Assets:      assets,
	}
}

func TestIngestSignalRun_RejectsNonSignalSource(t *testing.T) {
	svc := newSignalService(t, newTestDB(t))

	input := signalInput("run-1", time.Now())
	input.SourceType = ledgermodel.SourceTypeVCenter
	_, err := svc.IngestSignalRun(context.Background(), input)
	assert.True(t, apperr.IsCode(err, apperr.CodeUnsupportedSourceType))
}

func TestIngestSignalRun_MatchByIPAndName(t *testing.T) {
	db := newTestDB(t)
	svc := newSignalService(t, db)
	asset := seedAsset(t, db, ledgermodel.AssetTypeVM, "web01.lab.local", "web01", "10.0.0.15")

	result, err := svc.IngestSignalRun(context.Background(),
		signalInput("run-1", time.Now(), signalObservation("node-1", "web01.lab.local", "10.0.0.15", "Up")))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Matched)

	var link ledgermodel.AssetSignalLink
	require.NoError(t, db.Where("external_id = ?", "node-1").First(&link).Error)
	assert.Equal(t, asset.UUID, link.AssetUUID)
	assert.Equal(t, ledgermodel.SignalMatchAuto, link.MatchType)
	assert.Equal(t, 95, link.MatchConfidence)
	assert.Equal(t, "ip+name", link.MatchReason)

	var state ledgermodel.AssetOperationalState
	require.NoError(t, db.Where("asset_uuid = ?", asset.UUID).First(&state).Error)
	assert.True(t, state.MonitorCovered)
	assert.Equal(t, ledgermodel.MonitorStateUp, state.MonitorState)
}

func TestIngestSignalRun_MatchByIPOnly(t *testing.T) {
	db := newTestDB(t)
	svc := newSignalService(t, db)
	seedAsset(t, db, ledgermodel.AssetTypeVM, "web01.lab.local", "web01", "10.0.0.15")

	result, err := svc.IngestSignalRun(context.Background(),
		signalInput("run-1", time.Now(), signalObservation("node-1", "different-name", "10.0.0.15", "Up")))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Matched)

	var link ledgermodel.AssetSignalLink
	require.NoError(t, db.First(&link).Error)
	assert.Equal(t, 90, link.MatchConfidence)
	assert.Equal(t, "ip", link.MatchReason)
}

func TestIngestSignalRun_ShortNameMatchesFQDN(t *testing.T) {
	db := newTestDB(t)
	svc := newSignalService(t, db)
	asset := seedAsset(t, db, ledgermodel.AssetTypeVM, "web01.lab.local", "", "")

	result, err := svc.IngestSignalRun(context.Background(),
		signalInput("run-1", time.Now(), signalObservation("node-1", "WEB01", "", "Up")))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Matched)

	var link ledgermodel.AssetSignalLink
	require.NoError(t, db.First(&link).Error)
	assert.Equal(t, asset.UUID, link.AssetUUID)
	assert.Equal(t, 80, link.MatchConfidence)
	assert.Equal(t, "name", link.MatchReason)
}

func TestIngestSignalRun_UnmatchedStillRecorded(t *testing.T) {
	db := newTestDB(t)
	svc := newSignalService(t, db)

	result, err := svc.IngestSignalRun(context.Background(),
		signalInput("run-1", time.Now(), signalObservation("node-1", "ghost", "192.168.99.99", "Up")))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Unmatched)
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, "signal.unmatched", result.Warnings[0].Type)

	var record ledgermodel.SignalRecord
	require.NoError(t, db.First(&record).Error)
	assert.Empty(t, record.AssetUUID)
}

func TestIngestSignalRun_AmbiguousMatch(t *testing.T) {
	db := newTestDB(t)
	svc := newSignalService(t, db)
	seedAsset(t, db, ledgermodel.AssetTypeVM, "clone01", "", "10.0.0.20")
	seedAsset(t, db, ledgermodel.AssetTypeVM, "clone01", "", "10.0.0.21")

	result, err := svc.IngestSignalRun(context.Background(),
		signalInput("run-1", time.Now(), signalObservation("node-1", "clone01", "", "Up")))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Ambiguous)

	var link ledgermodel.AssetSignalLink
	require.NoError(t, db.First(&link).Error)
	assert.True(t, link.Ambiguous)
	assert.Empty(t, link.AssetUUID)
	assert.Equal(t, "ambiguous", link.MatchReason)
	assert.Equal(t, 0, link.MatchConfidence)

	var candidates []ambiguousCandidate
	require.NoError(t, json.Unmarshal([]byte(link.AmbiguousCandidates), &candidates))
	assert.Len(t, candidates, 2)
}

func TestIngestSignalRun_ManualLinkIsSticky(t *testing.T) {
	db := newTestDB(t)
	svc := newSignalService(t, db)
	manualTarget := seedAsset(t, db, ledgermodel.AssetTypeVM, "manual-target", "", "")
	seedAsset(t, db, ledgermodel.AssetTypeVM, "auto-target", "", "10.0.0.30")

	link := &ledgermodel.AssetSignalLink{
		SourceID:        "sw-01",
		ExternalKind:    ledgermodel.AssetTypeVM,
		ExternalID:      "node-1",
		AssetUUID:       manualTarget.UUID,
		MatchType:       ledgermodel.SignalMatchManual,
		MatchConfidence: 100,
		MatchReason:     "manual",
		FirstSeenAt:     time.Now(),
	}
	require.NoError(t, db.Create(link).Error)

	// 证据指向另一资产，也不得改写人工映射
	result, err := svc.IngestSignalRun(context.Background(),
		signalInput("run-1", time.Now(), signalObservation("node-1", "auto-target", "10.0.0.30", "Up")))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Matched)

	var saved ledgermodel.AssetSignalLink
	require.NoError(t, db.Where("external_id = ?", "node-1").First(&saved).Error)
	assert.Equal(t, manualTarget.UUID, saved.AssetUUID)
	assert.Equal(t, ledgermodel.SignalMatchManual, saved.MatchType)
	assert.Equal(t, 100, saved.MatchConfidence)
	assert.Equal(t, "run-1", saved.LastSeenRunID)
}

func TestIngestSignalRun_WorstStateRollup(t *testing.T) {
	db := newTestDB(t)
	svc := newSignalService(t, db)
	asset := seedAsset(t, db, ledgermodel.AssetTypeVM, "web01.lab.local", "", "10.0.0.15")

	_, err := svc.IngestSignalRun(context.Background(),
		signalInput("run-1", time.Now(),
			signalObservation("node-1", "web01.lab.local", "", "Up"),
			signalObservation("node-2", "", "10.0.0.15", "Down")))
	require.NoError(t, err)

	var state ledgermodel.AssetOperationalState
	require.NoError(t, db.Where("asset_uuid = ?", asset.UUID).First(&state).Error)
	assert.Equal(t, ledgermodel.MonitorStateDown, state.MonitorState)
}

func TestIngestSignalRun_CoverageRevocation(t *testing.T) {
	db := newTestDB(t)
	svc := newSignalService(t, db)
	asset := seedAsset(t, db, ledgermodel.AssetTypeVM, "web01.lab.local", "", "10.0.0.15")
	ctx := context.Background()
	base := time.Now()

	_, err := svc.IngestSignalRun(ctx,
		signalInput("run-1", base, signalObservation("node-1", "web01.lab.local", "10.0.0.15", "Up")))
	require.NoError(t, err)

	// 第二轮该节点消失，覆盖应被撤销
	_, err = svc.IngestSignalRun(ctx, signalInput("run-2", base.Add(time.Hour)))
	require.NoError(t, err)

	var state ledgermodel.AssetOperationalState
	require.NoError(t, db.Where("asset_uuid = ?", asset.UUID).First(&state).Error)
	assert.False(t, state.MonitorCovered)
	assert.Equal(t, ledgermodel.MonitorStateNotCovered, state.MonitorState)
}

func TestIngestSignalRun_SkipsEmptyExternalID(t *testing.T) {
	db := newTestDB(t)
	svc := newSignalService(t, db)

	result, err := svc.IngestSignalRun(context.Background(),
		signalInput("run-1", time.Now(), signalObservation("", "web01", "", "Up")))
	require.NoError(t, err)
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, "signal.skipped_missing_external_id", result.Warnings[0].Type)

	var count int64
	require.NoError(t, db.Model(&ledgermodel.SignalRecord{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestDeriveNameKeys(t *testing.T) {
	assert.Equal(t, []string{"web01.lab.local", "web01"}, deriveNameKeys(" WEB01.lab.local "))
	assert.Equal(t, []string{"web01"}, deriveNameKeys("web01"))
	assert.Nil(t, deriveNameKeys("  "))
}
