package memory_test

import (
	"context"
	"sync"
	"testing"
	"time"

	cl "github.com/ineyio/creditledger"
	"github.com/ineyio/creditledger/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBalance(userID string, fresh int64) cl.Balance {
	now := time.Date(2026, time.January, 15, 10, 0, 0, 0, time.UTC)
	return cl.Balance{
		UserID:      userID,
		Fresh:       fresh,
		Tier:        cl.TierFree,
		LastResetAt: now,
		UpdatedAt:   now,
		Schema:      cl.BalanceSchemaVersion,
	}
}

// Test 1: Get reports absence without error
func TestStore_GetMissing(t *testing.T) {
	s := memory.NewStore()

	_, found, err := s.Get(context.Background(), "nobody")
	require.NoError(t, err)
	assert.False(t, found)
}

// Test 2: Create is first-writer-wins
func TestStore_CreateFirstWriterWins(t *testing.T) {
	s := memory.NewStore()
	ctx := context.Background()

	bal, created, err := s.Create(ctx, "u1", testBalance("u1", 15))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(15), bal.Fresh)

	bal, created, err = s.Create(ctx, "u1", testBalance("u1", 99))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, int64(15), bal.Fresh)
}

// Test 3: Transact on a missing record fails with ErrNoBalance
func TestStore_TransactMissing(t *testing.T) {
	s := memory.NewStore()

	_, err := s.Transact(context.Background(), "nobody", func(b cl.Balance) (cl.Balance, error) {
		return b, nil
	})
	assert.ErrorIs(t, err, cl.ErrNoBalance)
}

// Test 4: An error from fn aborts the transaction verbatim
func TestStore_TransactFnErrorAborts(t *testing.T) {
	s := memory.NewStore()
	ctx := context.Background()
	_, _, err := s.Create(ctx, "u1", testBalance("u1", 15))
	require.NoError(t, err)

	_, err = s.Transact(ctx, "u1", func(b cl.Balance) (cl.Balance, error) {
		return cl.Balance{}, cl.ErrPurchaseNotAllowed
	})
	assert.ErrorIs(t, err, cl.ErrPurchaseNotAllowed)

	bal, _, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(15), bal.Fresh)
}

// Test 5: Concurrent decrements never lose an update
func TestStore_TransactConcurrent(t *testing.T) {
	s := memory.NewStore()
	ctx := context.Background()
	_, _, err := s.Create(ctx, "u1", testBalance("u1", 1000))
	require.NoError(t, err)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Transact(ctx, "u1", func(b cl.Balance) (cl.Balance, error) {
				b.Fresh--
				return b, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	bal, _, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1000-n), bal.Fresh)
}

// Test 6: A cancelled context stops the transaction
func TestStore_TransactCancelled(t *testing.T) {
	s := memory.NewStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := s.Create(context.Background(), "u1", testBalance("u1", 15))
	require.NoError(t, err)

	_, err = s.Transact(ctx, "u1", func(b cl.Balance) (cl.Balance, error) {
		return b, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

// Test 7: Log lists most recent first and honors the limit
func TestLog_ListOrderAndLimit(t *testing.T) {
	l := memory.NewLog()
	ctx := context.Background()

	base := time.Date(2026, time.January, 15, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		err := l.Append(ctx, cl.Transaction{
			ID:        string(rune('a' + i)),
			UserID:    "u1",
			Type:      cl.TxDeduction,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	txs, err := l.List(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, txs, 5)
	assert.Equal(t, "e", txs[0].ID)
	assert.Equal(t, "a", txs[4].ID)

	txs, err = l.List(ctx, "u1", 2)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, "e", txs[0].ID)
	assert.Equal(t, "d", txs[1].ID)

	// Other users see nothing.
	txs, err = l.List(ctx, "u2", 0)
	require.NoError(t, err)
	assert.Empty(t, txs)
}
