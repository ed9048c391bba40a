package analytics

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func setupCache(t *testing.T) (*Cache, *redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(client, time.Minute), client, mr
}

type monthlyRow struct {
	Month  string  `json:"month"`
	Profit float64 `json:"profit"`
}

func TestFetchJSONCachesUntilBump(t *testing.T) {
	ctx := context.Background()
	cache, _, _ := setupCache(t)

	calls := 0
	loader := func(context.Context) (interface{}, error) {
		calls++
		return []monthlyRow{{Month: "2024-01", Profit: float64(100 * calls)}}, nil
	}

	load := func() []monthlyRow {
		key, err := cache.BuildKey(ctx, "profitloss", "monthly", "-", "-")
		require.NoError(t, err)
		var out []monthlyRow
		require.NoError(t, cache.FetchJSON(ctx, key, &out, loader))
		return out
	}

	require.Equal(t, 100.0, load()[0].Profit)
	require.Equal(t, 100.0, load()[0].Profit)
	require.Equal(t, 1, calls)

	require.NoError(t, cache.Bump(ctx))
	require.Equal(t, 200.0, load()[0].Profit)
	require.Equal(t, 2, calls)
}

func TestBuildKeyCarriesVersion(t *testing.T) {
	ctx := context.Background()
	cache, client, _ := setupCache(t)

	key, err := cache.BuildKey(ctx, "profitloss", "stats")
	require.NoError(t, err)
	require.Equal(t, "profitloss:stats:1", key)

	require.NoError(t, cache.Bump(ctx))
	key, err = cache.BuildKey(ctx, "profitloss", "stats")
	require.NoError(t, err)
	require.Equal(t, "profitloss:stats:2", key)

	ver, err := client.Get(ctx, "profitloss:version").Int64()
	require.NoError(t, err)
	require.EqualValues(t, 2, ver)
}

func TestNamespacesVersionIndependently(t *testing.T) {
	ctx := context.Background()
	_, client, _ := setupCache(t)
	catalog := NewNamespacedCache(client, time.Minute, "catalog")
	ledger := NewCache(client, time.Minute)

	require.NoError(t, catalog.Bump(ctx))
	require.NoError(t, catalog.Bump(ctx))

	ver, err := ledger.Version(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, ver)
	ver, err = catalog.Version(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, ver)
}

func TestNilCacheCallsLoader(t *testing.T) {
	var cache *Cache
	var out monthlyRow
	err := cache.FetchJSON(context.Background(), "k", &out, func(context.Context) (interface{}, error) {
		return monthlyRow{Month: "2024-02"}, nil
	})
	require.NoError(t, err)
	require.Equal(t, "2024-02", out.Month)
	require.NoError(t, cache.Bump(context.Background()))

	require.Error(t, cache.FetchJSON(context.Background(), "k", &out, nil))
}

func TestFetchJSONFallsBackWhenRedisFails(t *testing.T) {
	cache, _, mr := setupCache(t)
	mr.SetError("READONLY replica")

	var out monthlyRow
	err := cache.FetchJSON(t.Context(), "profitloss:monthly:1", &out, func(context.Context) (interface{}, error) {
		return monthlyRow{Month: "2024-03", Profit: 10}, nil
	})
	require.NoError(t, err)
	require.Equal(t, "2024-03", out.Month)
}

func TestApplyOnlyMovesForward(t *testing.T) {
	ctx := t.Context()
	cache, client, _ := setupCache(t)
	require.NoError(t, client.Set(ctx, "profitloss:version", 5, 0).Err())

	cache.apply(ctx, "profitloss:3")
	cache.apply(ctx, "catalog:9")
	cache.apply(ctx, "garbage")
	ver, err := cache.Version(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 5, ver)

	cache.apply(ctx, "profitloss:7")
	ver, err = cache.Version(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 7, ver)
}

func TestListenForInvalidationFollowsOtherNodes(t *testing.T) {
	ctx := t.Context()
	mr := miniredis.RunT(t)
	local := NewCache(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Minute)
	require.NoError(t, local.ListenForInvalidation(ctx, ""))

	// Another node publishes a version the local counter has not seen.
	mr.Publish(BumpChannel, "profitloss:4")
	require.Eventually(t, func() bool {
		ver, err := local.Version(ctx)
		return err == nil && ver == 4
	}, 2*time.Second, 10*time.Millisecond)
}
