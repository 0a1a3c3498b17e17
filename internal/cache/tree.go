// Package cache хранит собранное навигационное дерево сервера в Redis.
// Кэш только для чтения: запись порядка всегда идёт по свежим данным внутри транзакции,
// а после коммита ключ сервера сбрасывается.
//
// Каждый сброс увеличивает поколение сервера. Читатель запоминает поколение до снимка БД
// и кладёт дерево, только если поколение не изменилось: снимок, снятый до чужого коммита,
// в кэш не попадёт.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"clubhouse/internal/models"

	"github.com/redis/go-redis/v9"
)

// ErrStaleTree: дерево снято до последнего сброса и в кэш не положено.
var ErrStaleTree = errors.New("tree snapshot is older than the last invalidation")

type TreeCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewTreeCache(redisURL string, ttl time.Duration) (*TreeCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewTreeCacheWithClient(client, ttl), nil
}

func NewTreeCacheWithClient(client *redis.Client, ttl time.Duration) *TreeCache {
	return &TreeCache{client: client, prefix: "tree:", ttl: ttl}
}

func (c *TreeCache) key(serverID string) string {
	return c.prefix + serverID
}

func (c *TreeCache) genKey(serverID string) string {
	return c.prefix + "gen:" + serverID
}

// Generation возвращает текущее поколение сервера; до первого сброса это 0.
func (c *TreeCache) Generation(ctx context.Context, serverID string) (int64, error) {
	gen, err := c.client.Get(ctx, c.genKey(serverID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get tree generation: %w", err)
	}
	return gen, nil
}

// Get возвращает (дерево, true) при попадании.
func (c *TreeCache) Get(ctx context.Context, serverID string) (models.ServerTree, bool, error) {
	raw, err := c.client.Get(ctx, c.key(serverID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.ServerTree{}, false, nil
	}
	if err != nil {
		return models.ServerTree{}, false, fmt.Errorf("get tree: %w", err)
	}

	var tree models.ServerTree
	if err := json.Unmarshal(raw, &tree); err != nil {
		// битую запись просто выбрасываем
		_ = c.client.Del(ctx, c.key(serverID)).Err()
		return models.ServerTree{}, false, nil
	}
	return tree, true, nil
}

// Set кладёт дерево, если поколение сервера всё ещё равно gen.
// Иначе возвращает ErrStaleTree и ничего не пишет.
func (c *TreeCache) Set(ctx context.Context, tree models.ServerTree, gen int64) error {
	raw, err := json.Marshal(tree)
	if err != nil {
		return fmt.Errorf("marshal tree: %w", err)
	}

	key, genKey := c.key(tree.Server.ID), c.genKey(tree.Server.ID)
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, genKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != gen {
			return ErrStaleTree
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, c.ttl)
			return nil
		})
		return err
	}, genKey)
	switch {
	case errors.Is(err, ErrStaleTree):
		return err
	case errors.Is(err, redis.TxFailedErr):
		// поколение сменилось между WATCH и EXEC
		return ErrStaleTree
	case err != nil:
		return fmt.Errorf("set tree: %w", err)
	}
	return nil
}

// Invalidate сдвигает поколение и удаляет дерево одной транзакцией.
func (c *TreeCache) Invalidate(ctx context.Context, serverID string) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, c.genKey(serverID))
		pipe.Del(ctx, c.key(serverID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("invalidate tree: %w", err)
	}
	return nil
}

func (c *TreeCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *TreeCache) Close() error {
	return c.client.Close()
}
