package services

import (
	"context"
	"testing"
	"time"

	"clubhouse/internal/cache"
	"clubhouse/internal/models"
	"clubhouse/internal/ordering"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCachedService(t *testing.T, db *memDB) (*OrderingService, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewOrderingService(db, cache.NewTreeCacheWithClient(client, time.Minute), "general"), mr
}

func TestServerTree_CachedUntilMutation(t *testing.T) {
	db := fiveRoots()
	svc, mr := newCachedService(t, db)
	ctx := context.Background()

	tree, err := svc.ServerTree(ctx, srv, admin)
	require.NoError(t, err)
	require.Len(t, tree.Sections, 5)
	assert.True(t, mr.Exists("tree:"+srv))

	// правка в обход сервиса: кэш ещё отдаёт старое дерево
	db.addSection("s5", srv, "s5", nil)
	tree, err = svc.ServerTree(ctx, srv, admin)
	require.NoError(t, err)
	assert.Len(t, tree.Sections, 5)

	_, err = svc.ReorderSection(ctx, models.ReorderSectionRequest{SectionID: "s0", ServerID: srv, NewPosition: 9}, admin)
	require.NoError(t, err)
	assert.False(t, mr.Exists("tree:"+srv))

	tree, err = svc.ServerTree(ctx, srv, admin)
	require.NoError(t, err)
	require.Len(t, tree.Sections, 6)
	assert.Equal(t, "s0", tree.Sections[5].Section.ID)
}

func TestServerTree_FailedMutationKeepsCache(t *testing.T) {
	db := fiveRoots()
	svc, mr := newCachedService(t, db)
	ctx := context.Background()

	_, err := svc.ServerTree(ctx, srv, admin)
	require.NoError(t, err)

	_, err = svc.ReorderSections(ctx, srv, []string{"s0"}, admin)
	require.Error(t, err)
	assert.True(t, mr.Exists("tree:"+srv))
}

func TestServerTree_RedisDownFallsBackToStore(t *testing.T) {
	db := fiveRoots()
	svc, mr := newCachedService(t, db)
	mr.Close()

	tree, err := svc.ServerTree(context.Background(), srv, admin)
	require.NoError(t, err)
	assert.Len(t, tree.Sections, 5)

	// инвалидация тоже не должна ломать запись
	_, err = svc.ReorderSections(context.Background(), srv, []string{"s4", "s3", "s2", "s1", "s0"}, admin)
	require.NoError(t, err)
}

// slowTreeCache даёт выполниться beforeSet между снимком БД и записью в кэш.
type slowTreeCache struct {
	*cache.TreeCache
	beforeSet func()
}

func (c *slowTreeCache) Set(ctx context.Context, tree models.ServerTree, gen int64) error {
	if c.beforeSet != nil {
		hook := c.beforeSet
		c.beforeSet = nil
		hook()
	}
	return c.TreeCache.Set(ctx, tree, gen)
}

func TestServerTree_CommitDuringReadIsNotCached(t *testing.T) {
	db := fiveRoots()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	tc := &slowTreeCache{TreeCache: cache.NewTreeCacheWithClient(client, time.Hour)}
	svc := NewOrderingService(db, tc, "general")
	ctx := context.Background()

	tc.beforeSet = func() {
		_, err := svc.ReorderSection(ctx, models.ReorderSectionRequest{SectionID: "s0", ServerID: srv, NewPosition: 9}, admin)
		require.NoError(t, err)
	}

	// этот вызов видел порядок до коммита и в кэш его не кладёт
	tree, err := svc.ServerTree(ctx, srv, admin)
	require.NoError(t, err)
	assert.Equal(t, "s0", tree.Sections[0].Section.ID)
	assert.False(t, mr.Exists("tree:"+srv))

	tree, err = svc.ServerTree(ctx, srv, admin)
	require.NoError(t, err)
	assert.Equal(t, "s1", tree.Sections[0].Section.ID)
	assert.Equal(t, "s0", tree.Sections[4].Section.ID)
	assert.True(t, mr.Exists("tree:"+srv))

	tree, err = svc.ServerTree(ctx, srv, admin)
	require.NoError(t, err)
	assert.Equal(t, "s0", tree.Sections[4].Section.ID)
}

func TestServerTree_CacheHitStillChecksAdmin(t *testing.T) {
	db := fiveRoots()
	svc, mr := newCachedService(t, db)
	ctx := context.Background()

	_, err := svc.ServerTree(ctx, srv, admin)
	require.NoError(t, err)
	require.True(t, mr.Exists("tree:"+srv))

	_, err = svc.ServerTree(ctx, srv, "u-guest")
	assert.ErrorIs(t, err, ordering.ErrForbidden)
	_, err = svc.ServerTree(ctx, srv, "")
	assert.ErrorIs(t, err, ordering.ErrForbidden)
}
