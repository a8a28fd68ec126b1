package memory

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"app/internal/domain/model"
	repo "app/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProduct(id int64, stock int64) model.Product {
	return model.Product{
		ID:       id,
		Name:     "test product",
		Price:    1000,
		Stock:    stock,
		IsActive: true,
	}
}

func TestUpsertCartItem_MergesSameProduct(t *testing.T) {
	s := NewStore()
	s.PutProduct(newTestProduct(1, 100))

	r := NewCartMemoryRepository(s)
	ctx := context.Background()

	cart, err := r.GetOrCreateActiveByUserID(ctx, 1)
	require.NoError(t, err)

	_, err = r.UpsertByCartAndProduct(ctx, cart.ID, 1, 2, 1000)
	require.NoError(t, err)
	merged, err := r.UpsertByCartAndProduct(ctx, cart.ID, 1, 3, 1000)
	require.NoError(t, err)

	assert.Equal(t, int64(5), merged.Quantity)

	items, err := r.ListByCartID(ctx, cart.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, int64(5), items[0].Quantity)
}

func TestUpsertCartItem_ConcurrentAddsDoNotLoseUpdates(t *testing.T) {
	s := NewStore()
	s.PutProduct(newTestProduct(1, 1000))

	r := NewCartMemoryRepository(s)
	ctx := context.Background()

	cart, err := r.GetOrCreateActiveByUserID(ctx, 1)
	require.NoError(t, err)

	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := r.UpsertByCartAndProduct(ctx, cart.ID, 1, 1, 1000)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	items, err := r.ListByCartID(ctx, cart.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, int64(n), items[0].Quantity)
}

func TestDeleteCartItem_SecondDeleteReturnsNotFound(t *testing.T) {
	s := NewStore()
	r := NewCartMemoryRepository(s)
	ctx := context.Background()

	cart, err := r.GetOrCreateActiveByUserID(ctx, 1)
	require.NoError(t, err)
	it, err := r.UpsertByCartAndProduct(ctx, cart.ID, 1, 1, 500)
	require.NoError(t, err)

	require.NoError(t, r.DeleteByID(ctx, it.ID))
	assert.ErrorIs(t, r.DeleteByID(ctx, it.ID), repo.ErrNotFound)
}

func TestDecreaseStockIfEnough(t *testing.T) {
	s := NewStore()
	s.PutProduct(newTestProduct(1, 3))

	r := NewInventoryMemoryRepository(s)
	ctx := context.Background()

	ok, err := r.DecreaseStockIfEnough(ctx, 1, 2)
	require.NoError(t, err)
	assert.True(t, ok)

	// 残り1個に対して2個は減らせない
	ok, err = r.DecreaseStockIfEnough(ctx, 1, 2)
	require.NoError(t, err)
	assert.False(t, ok)

	p, err := NewProductMemoryRepository(s).FindByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.Stock)
}

func TestTxManager_RollsBackOnError(t *testing.T) {
	s := NewStore()
	s.PutProduct(newTestProduct(1, 10))

	cartRepo := NewCartMemoryRepository(s)
	ctx := context.Background()
	cart, err := cartRepo.GetOrCreateActiveByUserID(ctx, 1)
	require.NoError(t, err)
	_, err = cartRepo.UpsertByCartAndProduct(ctx, cart.ID, 1, 2, 1000)
	require.NoError(t, err)

	boom := errors.New("boom")
	err = NewTxManagerMemory(s).WithinTx(ctx, func(r repo.TxRepos) error {
		ok, err := r.Inventory().DecreaseStockIfEnough(ctx, 1, 2)
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, r.Carts().Clear(ctx, cart.ID))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	// 在庫もカートも変更前のまま
	p, err := NewProductMemoryRepository(s).FindByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(10), p.Stock)

	items, err := cartRepo.ListByCartID(ctx, cart.ID)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestFileStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")

	s, err := NewFileStore(path)
	require.NoError(t, err)
	s.PutProduct(newTestProduct(7, 5))

	cartRepo := NewCartMemoryRepository(s)
	ctx := context.Background()
	cart, err := cartRepo.GetOrCreateActiveByUserID(ctx, 42)
	require.NoError(t, err)
	_, err = cartRepo.UpsertByCartAndProduct(ctx, cart.ID, 7, 3, 1000)
	require.NoError(t, err)

	reopened, err := NewFileStore(path)
	require.NoError(t, err)

	cartRepo2 := NewCartMemoryRepository(reopened)
	cart2, err := cartRepo2.FindActiveByUserID(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, cart.ID, cart2.ID)

	items, err := cartRepo2.ListByCartID(ctx, cart2.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, int64(3), items[0].Quantity)

	p, err := NewProductMemoryRepository(reopened).FindByID(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(5), p.Stock)
}
