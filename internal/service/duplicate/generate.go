// 疑似重复候选生成
// 每轮采集提交后触发：以本轮资产为起点，在检测池(在役+窗口期内离线)中
// 经倒排索引找同键资产，按 dup-rules-v1 对每个无序对打分，过阈值的对落候选
package duplicate

import (
	"context"
	"encoding/json"
	"time"

	"neoledger/internal/config"
	ledgermodel "neoledger/internal/model/ledger"
	"neoledger/internal/pkg/apperr"
	"neoledger/internal/pkg/logger"
	ledgerrepo "neoledger/internal/repo/mysql/ledger"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DetectInput 一次重复检测的输入
type DetectInput struct {
	SourceID   string
	RunID      string
	RunMode    ledgermodel.RunMode
	ObservedAt time.Time
}

// DetectResult 重复检测结果
type DetectResult struct {
	PairsScored       int `json:"pairs_scored"`
	CandidatesCreated int `json:"candidates_created"`
	CandidatesUpdated int `json:"candidates_updated"`
}

// Detector 重复检测器
type Detector struct {
	db        *gorm.DB
	assetRepo *ledgerrepo.AssetRepository
	dupRepo   *ledgerrepo.DuplicateRepository
	ingestCfg config.IngestConfig
}

// NewDetector 创建重复检测器
func NewDetector(db *gorm.DB, assetRepo *ledgerrepo.AssetRepository, dupRepo *ledgerrepo.DuplicateRepository, ingestCfg config.IngestConfig) *Detector {
	return &Detector{db: db, assetRepo: assetRepo, dupRepo: dupRepo, ingestCfg: ingestCfg}
}

// poolEntry 检测池中的一个资产
type poolEntry struct {
	asset      *ledgermodel.Asset
	normalized map[string]interface{}
}

// DetectForRun 对一轮采集运行做重复检测
// 范围由运行模式决定，cluster 不参与
func (d *Detector) DetectForRun(ctx context.Context, input *DetectInput) (*DetectResult, error) {
	if input == nil || input.RunID == "" {
		return nil, apperr.New(apperr.CodeInvalidRequest, apperr.CategoryConfig, "run_id is required", false)
	}

	windowDays := d.ingestCfg.DupWindowDays
	if windowDays <= 0 {
		windowDays = 7
	}
	threshold := d.ingestCfg.DupScoreThreshold
	if threshold <= 0 {
		threshold = 70
	}
	cutoff := input.ObservedAt.AddDate(0, 0, -windowDays)

	result := &DetectResult{}
	for _, assetType := range input.RunMode.DupScope() {
		if err := d.detectForType(ctx, input, assetType, cutoff, threshold, result); err != nil {
			return nil, err
		}
	}

	logger.LogBusinessOperation("dup_detect", input.SourceID, input.RunID, "success", "duplicate detection finished",
		map[string]interface{}{
			"pairs_scored":       result.PairsScored,
			"candidates_created": result.CandidatesCreated,
			"candidates_updated": result.CandidatesUpdated,
		})
	return result, nil
}

func (d *Detector) detectForType(ctx context.Context, input *DetectInput, assetType ledgermodel.AssetType, cutoff time.Time, threshold int, result *DetectResult) error {
	pool, err := d.assetRepo.ListDupPoolAssets(ctx, assetType, cutoff)
	if err != nil {
		return wrapDetectErr(err)
	}
	if len(pool) < 2 {
		return nil
	}

	uuids := make([]string, 0, len(pool))
	for _, asset := range pool {
		uuids = append(uuids, asset.UUID)
	}
	latestNormalized, err := d.assetRepo.ListLatestNormalizedByAssets(ctx, uuids)
	if err != nil {
		return wrapDetectErr(err)
	}

	entries := make(map[string]*poolEntry, len(pool))
	for _, asset := range pool {
		raw, ok := latestNormalized[asset.UUID]
		if !ok {
			continue
		}
		var normalized map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &normalized); err != nil {
			continue
		}
		entries[asset.UUID] = &poolEntry{asset: asset, normalized: normalized}
	}

	// 本轮触达的资产：该来源本轮观测到的该类型链路
	runRecords, err := d.assetRepo.ListSourceRecordsByRunAndKind(ctx, input.RunID, assetType)
	if err != nil {
		return wrapDetectErr(err)
	}
	runAssets := make(map[string]struct{}, len(runRecords))
	for _, record := range runRecords {
		if _, ok := entries[record.AssetUUID]; ok {
			runAssets[record.AssetUUID] = struct{}{}
		}
	}
	if len(runAssets) == 0 {
		return nil
	}

	// 倒排索引：归一化键 -> 池内资产UUID集合
	keyIndex := make(map[string][]string)
	keysOf := make(map[string][]string, len(entries))
	for assetUUID, entry := range entries {
		keys := candidateKeys(assetType, entry.normalized)
		keysOf[assetUUID] = keys
		for _, key := range keys {
			keyIndex[key] = append(keyIndex[key], assetUUID)
		}
	}

	seenPairs := make(map[string]struct{})
	for assetUUID := range runAssets {
		for _, key := range keysOf[assetUUID] {
			for _, otherUUID := range keyIndex[key] {
				if otherUUID == assetUUID {
					continue
				}
				a, b := orderedPair(assetUUID, otherUUID)
				pairKey := a + "|" + b
				if _, dup := seenPairs[pairKey]; dup {
					continue
				}
				seenPairs[pairKey] = struct{}{}

				result.PairsScored++
				score, matchedRules := CalculateDupScore(assetType, entries[a].normalized, entries[b].normalized)
				if score < threshold {
					continue
				}
				created, err := d.upsertCandidate(ctx, a, b, score, matchedRules, input.ObservedAt)
				if err != nil {
					return err
				}
				if created {
					result.CandidatesCreated++
				} else {
					result.CandidatesUpdated++
				}
			}
		}
	}
	return nil
}

// upsertCandidate 幂等落候选
// open 候选刷新评分与证据，终态(ignored/merged)只更新最近观测时间
func (d *Detector) upsertCandidate(ctx context.Context, uuidA, uuidB string, score int, matchedRules []MatchedRule, observedAt time.Time) (bool, error) {
	reasonsJSON, err := json.Marshal(ScoreReasons{Version: RulesVersion, MatchedRules: matchedRules})
	if err != nil {
		return false, apperr.New(apperr.CodeInternalError, apperr.CategoryUnknown, "failed to serialize dup reasons", false)
	}

	candidate, err := d.dupRepo.GetByPair(ctx, uuidA, uuidB)
	if err != nil {
		return false, wrapDetectErr(err)
	}
	if candidate == nil {
		candidate = &ledgermodel.DuplicateCandidate{
			CandidateID:    uuid.NewString(),
			AssetUUIDA:     uuidA,
			AssetUUIDB:     uuidB,
			Score:          score,
			Reasons:        string(reasonsJSON),
			Status:         ledgermodel.DuplicateStatusOpen,
			LastObservedAt: observedAt,
		}
		if err := d.dupRepo.Create(ctx, candidate); err != nil {
			return false, wrapDetectErr(err)
		}
		return true, nil
	}

	if candidate.Status == ledgermodel.DuplicateStatusOpen {
		candidate.Score = score
		candidate.Reasons = string(reasonsJSON)
	}
	candidate.LastObservedAt = observedAt
	if err := d.dupRepo.Save(ctx, candidate); err != nil {
		return false, wrapDetectErr(err)
	}
	return false, nil
}

// candidateKeys 提取资产参与倒排索引的全部归一化键
// 与打分规则同源：只有可能命中规则的键才进索引
func candidateKeys(assetType ledgermodel.AssetType, normalized map[string]interface{}) []string {
	var keys []string
	add := func(prefix string, m map[string]string) {
		for key := range m {
			keys = append(keys, prefix+":"+key)
		}
	}
	switch assetType {
	case ledgermodel.AssetTypeVM:
		add("uuid", scalarKeys(normalizeUUIDKey, "identity", "machine_uuid")(normalized))
		add("mac", listKeys(normalizeMACKey, "network", "mac_addresses")(normalized))
		if host := vmHostnameKey(normalized); host != "" {
			keys = append(keys, "host:"+host)
		}
	case ledgermodel.AssetTypeHost:
		add("serial", scalarKeys(normalizeSerialKey, "identity", "serial_number")(normalized))
		add("bmc", scalarKeys(normalizeNameKey, "network", "bmc_ip")(normalized))
		add("mgmt", scalarKeys(normalizeNameKey, "network", "management_ip")(normalized))
	}
	return keys
}

// orderedPair 无序对按字典序归一
func orderedPair(a, b string) (string, string) {
	if a < b {
		return a, b
	}
	return b, a
}

func wrapDetectErr(err error) error {
	if appErr, ok := err.(*apperr.AppError); ok {
		return appErr
	}
	return apperr.New(apperr.CodeDBWriteFailed, apperr.CategoryDB, "duplicate detection failed", true).
		WithContext("cause", err.Error())
}
