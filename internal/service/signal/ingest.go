// 监控信号摄取引擎
// 信号源只能把观测匹配到已知资产，不能创建/退役资产。
// 人工映射具有粘性：自动匹配永远不改写；每条观测无论是否匹配都落流水
package signal

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"neoledger/internal/config"
	ledgermodel "neoledger/internal/model/ledger"
	"neoledger/internal/pkg/apperr"
	"neoledger/internal/pkg/logger"
	"neoledger/internal/pkg/rawcodec"
	"neoledger/internal/pkg/utils"
	ledgerrepo "neoledger/internal/repo/mysql/ledger"

	"gorm.io/gorm"
)

// SignalRunInput 一轮信号运行的输入
type SignalRunInput struct {
	SourceID    string                       `json:"source_id"`
	SourceType  ledgermodel.SourceType       `json:"source_type"`
	RunID       string                       `json:"run_id"`
	CollectedAt time.Time                    `json:"collected_at"`
	Assets      []ledgermodel.CollectorAsset `json:"assets"`
}

// SignalRunResult 信号摄取结果
type SignalRunResult struct {
	Matched   int                   `json:"matched"`
	Unmatched int                   `json:"unmatched"`
	Ambiguous int                   `json:"ambiguous"`
	Warnings  []ledgermodel.Warning `json:"warnings"`
}

// Service 信号摄取服务
type Service struct {
	db         *gorm.DB
	codec      *rawcodec.Codec
	assetRepo  *ledgerrepo.AssetRepository
	signalRepo *ledgerrepo.SignalRepository
	ingestCfg  config.IngestConfig
}

// NewService 创建信号摄取服务
func NewService(
	db *gorm.DB,
	codec *rawcodec.Codec,
	assetRepo *ledgerrepo.AssetRepository,
	signalRepo *ledgerrepo.SignalRepository,
	ingestCfg config.IngestConfig,
) *Service {
	return &Service{
		db:         db,
		codec:      codec,
		assetRepo:  assetRepo,
		signalRepo: signalRepo,
		ingestCfg:  ingestCfg,
	}
}

// 监控健康状态严重程度排序，越大越差
var monitorStateRank = map[string]int{
	ledgermodel.MonitorStateUp:        0,
	ledgermodel.MonitorStateUnmanaged: 1,
	ledgermodel.MonitorStateUnknown:   2,
	ledgermodel.MonitorStateWarning:   3,
	ledgermodel.MonitorStateDown:      4,
}

// ambiguousCandidate 歧义候选的持久化形态
type ambiguousCandidate struct {
	AssetUUID   string `json:"asset_uuid"`
	DisplayName string `json:"display_name"`
	Evidence    string `json:"evidence"`
}

// matchOutcome 单条信号观测的匹配结果
type matchOutcome struct {
	assetUUID  string
	matchType  ledgermodel.SignalMatchType
	confidence int
	reason     string
	evidence   map[string][]string
	ambiguous  bool
	candidates []ambiguousCandidate
}

// assetMonitorRollup 资产级监控状态汇总
type assetMonitorRollup struct {
	worstState string
	statusText string
}

// IngestSignalRun 摄取一轮信号运行
func (s *Service) IngestSignalRun(ctx context.Context, input *SignalRunInput) (*SignalRunResult, error) {
	if input == nil || input.SourceID == "" || input.RunID == "" {
		return nil, apperr.New(apperr.CodeInvalidRequest, apperr.CategoryConfig, "source_id and run_id are required", false)
	}
	if !input.SourceType.IsSignalSource() {
		return nil, apperr.New(apperr.CodeUnsupportedSourceType, apperr.CategoryConfig, "source type does not emit monitoring signals", false).
			WithContext("source_type", string(input.SourceType))
	}

	// 原始载荷先压缩，失败整轮不写
	compressed := make([]*rawcodec.CompressedRaw, len(input.Assets))
	for i := range input.Assets {
		raw, err := s.codec.Compress(input.Assets[i].RawPayload)
		if err != nil {
			return nil, apperr.New(apperr.CodeRawPersistFailed, apperr.CategoryRaw, "failed to compress raw payload", false).
				WithContext("cause", err.Error())
		}
		compressed[i] = raw
	}

	result := &SignalRunResult{Warnings: []ledgermodel.Warning{}}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		assetRepo := s.assetRepo.WithTx(tx)
		signalRepo := s.signalRepo.WithTx(tx)

		matchable, err := assetRepo.ListMatchableAssets(ctx)
		if err != nil {
			return err
		}
		index := BuildAssetIndex(matchable)

		coveredAssets := make(map[string]*assetMonitorRollup)

		for i := range input.Assets {
			signalAsset := input.Assets[i]
			if strings.TrimSpace(signalAsset.ExternalID) == "" {
				result.Warnings = append(result.Warnings, ledgermodel.Warning{
					Type: "signal.skipped_missing_external_id",
					Context: map[string]interface{}{
						"external_kind": signalAsset.ExternalKind,
					},
				})
				continue
			}

			link, err := signalRepo.GetLinkByTriple(ctx, input.SourceID, signalAsset.ExternalKind, signalAsset.ExternalID)
			if err != nil {
				return err
			}

			var outcome matchOutcome
			if link != nil && link.MatchType == ledgermodel.SignalMatchManual && link.AssetUUID != "" {
				// 人工映射不重新评估
				outcome = matchOutcome{
					assetUUID:  link.AssetUUID,
					matchType:  ledgermodel.SignalMatchManual,
					confidence: 100,
					reason:     "manual",
				}
			} else {
				outcome = s.evaluateMatch(index, signalAsset.Normalized)
			}

			if link == nil {
				link = &ledgermodel.AssetSignalLink{
					SourceID:     input.SourceID,
					ExternalKind: signalAsset.ExternalKind,
					ExternalID:   signalAsset.ExternalID,
					FirstSeenAt:  input.CollectedAt,
				}
				applyMatchOutcome(link, &outcome)
				link.LastSeenAt = input.CollectedAt
				link.LastSeenRunID = input.RunID
				if err := signalRepo.CreateLink(ctx, link); err != nil {
					return err
				}
			} else {
				if link.MatchType != ledgermodel.SignalMatchManual {
					applyMatchOutcome(link, &outcome)
				}
				link.LastSeenAt = input.CollectedAt
				link.LastSeenRunID = input.RunID
				if err := signalRepo.SaveLink(ctx, link); err != nil {
					return err
				}
			}

			normalizedJSON, err := json.Marshal(signalAsset.Normalized)
			if err != nil {
				return apperr.New(apperr.CodeInvalidRequest, apperr.CategoryConfig, "normalized payload is not serializable", false).
					WithContext("external_id", signalAsset.ExternalID)
			}
			if err := signalRepo.CreateRecord(ctx, &ledgermodel.SignalRecord{
				CollectedAt:    input.CollectedAt,
				RunID:          input.RunID,
				SourceID:       input.SourceID,
				LinkID:         link.ID,
				AssetUUID:      outcome.assetUUID,
				ExternalKind:   signalAsset.ExternalKind,
				ExternalID:     signalAsset.ExternalID,
				Normalized:     string(normalizedJSON),
				Raw:            compressed[i].Bytes,
				RawCompression: compressed[i].Compression,
				RawSizeBytes:   compressed[i].SizeBytes,
				RawHash:        compressed[i].Hash,
				RawMimeType:    compressed[i].MimeType,
			}); err != nil {
				return err
			}

			switch {
			case outcome.ambiguous:
				result.Ambiguous++
				shown := outcome.candidates
				if len(shown) > 10 {
					shown = shown[:10]
				}
				result.Warnings = append(result.Warnings, ledgermodel.Warning{
					Type: "signal.ambiguous_match",
					Context: map[string]interface{}{
						"external_id":     signalAsset.ExternalID,
						"candidate_count": len(outcome.candidates),
						"candidates":      shown,
					},
				})
			case outcome.assetUUID == "":
				result.Unmatched++
				result.Warnings = append(result.Warnings, ledgermodel.Warning{
					Type: "signal.unmatched",
					Context: map[string]interface{}{
						"external_id": signalAsset.ExternalID,
					},
				})
			default:
				result.Matched++
				state, statusText := deriveMonitorState(signalAsset.Normalized)
				rollup := coveredAssets[outcome.assetUUID]
				if rollup == nil {
					coveredAssets[outcome.assetUUID] = &assetMonitorRollup{worstState: state, statusText: statusText}
				} else if monitorStateRank[state] > monitorStateRank[rollup.worstState] {
					rollup.worstState = state
					rollup.statusText = statusText
				}
			}
		}

		// 覆盖写匹配资产的运行态汇总
		for assetUUID, rollup := range coveredAssets {
			updatedAt := input.CollectedAt
			if err := signalRepo.UpsertOperationalState(ctx, &ledgermodel.AssetOperationalState{
				AssetUUID:        assetUUID,
				MonitorCovered:   true,
				MonitorState:     rollup.worstState,
				MonitorStatus:    rollup.statusText,
				MonitorUpdatedAt: &updatedAt,
			}); err != nil {
				return err
			}
		}

		// 覆盖撤销：历史上匹配过但本轮未观测到的资产不再视为被监控
		allLinks, err := signalRepo.ListLinksBySource(ctx, input.SourceID)
		if err != nil {
			return err
		}
		revokeSet := make(map[string]struct{})
		for _, l := range allLinks {
			if l.AssetUUID == "" || l.LastSeenRunID == input.RunID {
				continue
			}
			if _, covered := coveredAssets[l.AssetUUID]; covered {
				continue
			}
			revokeSet[l.AssetUUID] = struct{}{}
		}
		if len(revokeSet) > 0 {
			revokeUUIDs := make([]string, 0, len(revokeSet))
			for assetUUID := range revokeSet {
				revokeUUIDs = append(revokeUUIDs, assetUUID)
			}
			sort.Strings(revokeUUIDs)
			if err := signalRepo.RevokeCoverage(ctx, revokeUUIDs, input.CollectedAt); err != nil {
				return err
			}
		}

		return nil
	})

	if txErr != nil {
		if appErr, ok := txErr.(*apperr.AppError); ok {
			logger.LogError(appErr, input.SourceID, input.RunID, map[string]interface{}{"operation": "ingest_signal_run"})
			return nil, appErr
		}
		dbErr := apperr.New(apperr.CodeDBWriteFailed, apperr.CategoryDB, "failed to ingest signal run", true).
			WithContext("cause", txErr.Error())
		logger.LogError(dbErr, input.SourceID, input.RunID, map[string]interface{}{"operation": "ingest_signal_run"})
		return nil, dbErr
	}

	logger.LogBusinessOperation("signal_run", input.SourceID, input.RunID, "success", "signal run ingested",
		map[string]interface{}{
			"matched":   result.Matched,
			"unmatched": result.Unmatched,
			"ambiguous": result.Ambiguous,
			"warnings":  len(result.Warnings),
		})
	return result, nil
}

// evaluateMatch 对一条信号观测做自动匹配
// 候选来自IP与名称双通道，唯一候选即匹配，多候选记歧义
func (s *Service) evaluateMatch(index *AssetIndex, normalized map[string]interface{}) matchOutcome {
	evidenceByAsset := make(map[string]map[string][]string)
	addEvidence := func(entry *IndexedAsset, class, value string) {
		if evidenceByAsset[entry.UUID] == nil {
			evidenceByAsset[entry.UUID] = make(map[string][]string)
		}
		evidenceByAsset[entry.UUID][class] = append(evidenceByAsset[entry.UUID][class], value)
	}

	for _, ip := range signalIPValues(normalized) {
		for _, entry := range index.LookupByIP(ip) {
			addEvidence(entry, MatchEvidenceIP, ip)
		}
	}
	for _, name := range signalNameValues(normalized) {
		for _, entry := range index.LookupByName(name) {
			addEvidence(entry, MatchEvidenceName, name)
		}
	}

	if len(evidenceByAsset) == 0 {
		return matchOutcome{matchType: ledgermodel.SignalMatchAuto}
	}

	if len(evidenceByAsset) == 1 {
		var assetUUID string
		var evidence map[string][]string
		for u, e := range evidenceByAsset {
			assetUUID, evidence = u, e
		}
		_, hasIP := evidence[MatchEvidenceIP]
		_, hasName := evidence[MatchEvidenceName]
		confidence, reason := 80, MatchEvidenceName
		switch {
		case hasIP && hasName:
			confidence, reason = 95, "ip+name"
		case hasIP:
			confidence, reason = 90, MatchEvidenceIP
		}
		return matchOutcome{
			assetUUID:  assetUUID,
			matchType:  ledgermodel.SignalMatchAuto,
			confidence: confidence,
			reason:     reason,
			evidence:   evidence,
		}
	}

	// 多候选：稳定排序后截断保存
	uuids := make([]string, 0, len(evidenceByAsset))
	for u := range evidenceByAsset {
		uuids = append(uuids, u)
	}
	sort.Strings(uuids)
	limit := s.ingestCfg.AmbiguousCandidates
	if limit <= 0 {
		limit = 50
	}
	if len(uuids) > limit {
		uuids = uuids[:limit]
	}
	candidates := make([]ambiguousCandidate, 0, len(uuids))
	for _, u := range uuids {
		classes := make([]string, 0, 2)
		for class := range evidenceByAsset[u] {
			classes = append(classes, class)
		}
		sort.Strings(classes)
		displayName := u
		if entry := index.Get(u); entry != nil && entry.DisplayName != "" {
			displayName = entry.DisplayName
		}
		candidates = append(candidates, ambiguousCandidate{
			AssetUUID:   u,
			DisplayName: displayName,
			Evidence:    strings.Join(classes, "+"),
		})
	}
	return matchOutcome{
		matchType:  ledgermodel.SignalMatchAuto,
		reason:     "ambiguous",
		ambiguous:  true,
		candidates: candidates,
	}
}

// applyMatchOutcome 把匹配结果写到链路行
// 调用方保证人工链路不会走到这里
func applyMatchOutcome(link *ledgermodel.AssetSignalLink, outcome *matchOutcome) {
	link.AssetUUID = outcome.assetUUID
	link.MatchType = outcome.matchType
	link.MatchConfidence = outcome.confidence
	link.MatchReason = outcome.reason
	link.Ambiguous = outcome.ambiguous

	if outcome.evidence != nil {
		if data, err := json.Marshal(outcome.evidence); err == nil {
			link.MatchEvidence = string(data)
		}
	} else {
		link.MatchEvidence = ""
	}
	if outcome.candidates != nil {
		if data, err := json.Marshal(outcome.candidates); err == nil {
			link.AmbiguousCandidates = string(data)
		}
	} else {
		link.AmbiguousCandidates = ""
	}
}

// signalIPValues 提取信号观测中的IP值
func signalIPValues(normalized map[string]interface{}) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(value interface{}) {
		s, ok := value.(string)
		if !ok {
			return
		}
		ip := strings.ToLower(utils.NormalizeIP(strings.TrimSpace(s)))
		if ip == "" {
			return
		}
		if _, dup := seen[ip]; dup {
			return
		}
		seen[ip] = struct{}{}
		out = append(out, ip)
	}
	network, _ := nested(normalized, "network").(map[string]interface{})
	if network != nil {
		add(network["ip_address"])
		if list, ok := network["ip_addresses"].([]interface{}); ok {
			for _, item := range list {
				add(item)
			}
		}
	}
	return out
}

// signalNameValues 提取信号观测中的名称值
func signalNameValues(normalized map[string]interface{}) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(value interface{}) {
		s, ok := value.(string)
		if !ok {
			return
		}
		name := strings.TrimSpace(s)
		if name == "" {
			return
		}
		key := strings.ToLower(name)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		out = append(out, name)
	}
	identity, _ := nested(normalized, "identity").(map[string]interface{})
	if identity != nil {
		add(identity["hostname"])
		add(identity["caption"])
		add(identity["dns_name"])
	}
	return out
}

// deriveMonitorState 从规范化属性派生监控健康状态与原始状态文本
func deriveMonitorState(normalized map[string]interface{}) (string, string) {
	attributes, _ := nested(normalized, "attributes").(map[string]interface{})
	var statusText string
	if attributes != nil {
		if raw, ok := attributes["monitor_status_raw"].(string); ok && strings.TrimSpace(raw) != "" {
			statusText = strings.TrimSpace(raw)
		} else if raw, ok := attributes["monitor_status"].(string); ok {
			statusText = strings.TrimSpace(raw)
		}
	}

	state := ledgermodel.MonitorStateUnknown
	switch strings.ToLower(statusText) {
	case "up":
		state = ledgermodel.MonitorStateUp
	case "down", "critical":
		state = ledgermodel.MonitorStateDown
	case "warning":
		state = ledgermodel.MonitorStateWarning
	case "unmanaged":
		state = ledgermodel.MonitorStateUnmanaged
	}
	return state, statusText
}

// nested 安全取一层嵌套值
func nested(obj map[string]interface{}, key string) interface{} {
	if obj == nil {
		return nil
	}
	return obj[key]
}
