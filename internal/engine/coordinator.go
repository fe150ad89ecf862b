package engine

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/conformance-exporter/internal/infra"
)

// Coordinator согласует реплики экспортера и разносит результаты циклов.
type Coordinator interface {
	// Acquire — можно ли этой реплике гонять цикл прямо сейчас.
	// Повторный вызов владельцем продлевает лок.
	Acquire(ctx context.Context) bool
	// Release отдает лок, если он наш (остановка реплики).
	Release(ctx context.Context)
	// Announce — сигнал о результате цикла системы.
	Announce(ctx context.Context, systemName string, value float64)
}

// LocalCoordinator — одиночный инстанс без Redis: цикл всегда наш, сигналы никуда не идут.
type LocalCoordinator struct{}

func (LocalCoordinator) Acquire(context.Context) bool { return true }

func (LocalCoordinator) Release(context.Context) {}

func (LocalCoordinator) Announce(context.Context, string, float64) {}

// releaseScript удаляет лок только если он все еще принадлежит нам.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisCoordinator — лидерство через SET NX с TTL и сигналы через Pub/Sub.
type RedisCoordinator struct {
	rdb        *redis.Client
	instanceID string
	ttl        time.Duration
	logger     *zap.Logger
}

func NewRedisCoordinator(rdb *redis.Client, instanceID string, ttl time.Duration, logger *zap.Logger) *RedisCoordinator {
	return &RedisCoordinator{
		rdb:        rdb,
		instanceID: instanceID,
		ttl:        ttl,
		logger:     logger.With(zap.String("mod", "coordinator")),
	}
}

// Acquire берет лок или продлевает его, если он уже наш.
// При недоступном Redis мониторинг не останавливаем: работаем как одиночный инстанс.
func (c *RedisCoordinator) Acquire(ctx context.Context) bool {
	// 1. Распределенная блокировка (SetNX), чтобы только один инстанс гонял ITB
	ok, err := c.rdb.SetNX(ctx, infra.RedisKeyCycleLock, c.instanceID, c.ttl).Result()
	if err != nil {
		c.logger.Warn("cycle lock unavailable, proceeding without coordination", zap.Error(err))
		return true
	}
	if ok {
		return true
	}

	// 2. Лок занят — проверяем, не мы ли владелец
	owner, err := c.rdb.Get(ctx, infra.RedisKeyCycleLock).Result()
	switch {
	case err == redis.Nil:
		// Истек между SETNX и GET — попробуем в следующем цикле
		return false
	case err != nil:
		c.logger.Warn("cycle lock owner unknown, proceeding without coordination", zap.Error(err))
		return true
	case owner != c.instanceID:
		c.logger.Debug("cycle lock held by another replica", zap.String("owner", owner))
		return false
	}

	// 3. Наш лок — продлеваем
	if err := c.rdb.Expire(ctx, infra.RedisKeyCycleLock, c.ttl).Err(); err != nil {
		c.logger.Warn("failed to extend cycle lock", zap.Error(err))
	}
	return true
}

// Release снимает лок при остановке, чтобы другая реплика не ждала истечения TTL.
func (c *RedisCoordinator) Release(ctx context.Context) {
	deleted, err := releaseScript.Run(ctx, c.rdb, []string{infra.RedisKeyCycleLock}, c.instanceID).Int()
	if err != nil {
		c.logger.Warn("failed to release cycle lock", zap.Error(err))
		return
	}
	if deleted == 1 {
		c.logger.Info("cycle lock released")
	}
}

// Announce публикует "system_name:value". Ошибка доставки не влияет на цикл.
func (c *RedisCoordinator) Announce(ctx context.Context, systemName string, value float64) {
	payload := systemName + ":" + strconv.FormatFloat(value, 'f', 2, 64)
	if err := c.rdb.Publish(ctx, infra.RedisChanResults, payload).Err(); err != nil {
		c.logger.Warn("result signal delivery failed",
			zap.String("channel", infra.RedisChanResults),
			zap.String("system", systemName),
			zap.Error(err))
	}
}
