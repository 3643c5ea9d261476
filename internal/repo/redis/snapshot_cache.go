/**
 * 仓库层:最新快照缓存
 * @description: 资产最新 canonical 快照的 Redis 缓存(读多写少,适合多实例部署)
 * @func:单纯数据访问,不应该包含业务逻辑
 * @note: 缓存未命中或 Redis 不可用时调用方回落 MySQL,缓存只做加速不做权威
 */
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// SnapshotCacheRepository 最新快照缓存仓库
type SnapshotCacheRepository struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSnapshotCacheRepository 创建快照缓存仓库实例
func NewSnapshotCacheRepository(client *redis.Client, ttl time.Duration) *SnapshotCacheRepository {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SnapshotCacheRepository{
		client: client,
		ttl:    ttl,
	}
}

// getSnapshotKey 生成快照缓存键[KEY:ledger:snapshot:latest:{assetUUID}]
func (r *SnapshotCacheRepository) getSnapshotKey(assetUUID string) string {
	return fmt.Sprintf("ledger:snapshot:latest:%s", assetUUID)
}

// StoreLatest 缓存资产最新 canonical 文档(JSON字符串)
func (r *SnapshotCacheRepository) StoreLatest(ctx context.Context, assetUUID, canonical string) error {
	err := r.client.Set(ctx, r.getSnapshotKey(assetUUID), canonical, r.ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to store latest snapshot: %w", err)
	}
	return nil
}

// GetLatest 获取缓存的最新 canonical 文档
// 缓存未命中时返回空串和 nil error
func (r *SnapshotCacheRepository) GetLatest(ctx context.Context, assetUUID string) (string, error) {
	data, err := r.client.Get(ctx, r.getSnapshotKey(assetUUID)).Result()
	if err != nil {
		if err == redis.Nil {
			return "", nil
		}
		return "", fmt.Errorf("failed to get latest snapshot: %w", err)
	}
	return data, nil
}

// Invalidate 删除资产的缓存快照(合并后调用)
func (r *SnapshotCacheRepository) Invalidate(ctx context.Context, assetUUIDs ...string) error {
	if len(assetUUIDs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(assetUUIDs))
	for _, uuid := range assetUUIDs {
		keys = append(keys, r.getSnapshotKey(uuid))
	}
	err := r.client.Del(ctx, keys...).Err()
	if err != nil {
		return fmt.Errorf("failed to invalidate snapshots: %w", err)
	}
	return nil
}
