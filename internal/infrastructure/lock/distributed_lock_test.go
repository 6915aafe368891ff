package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/require"
)

func TestDistributedLock_LockAndUnlock(t *testing.T) {
	db, mock := redismock.NewClientMock()
	ctx := context.Background()

	l := NewDistributedLock(db, "wallet:lock:7", "req-1", 30*time.Second)

	mock.ExpectSetNX("wallet:lock:7", "req-1", 30*time.Second).SetVal(true)
	mock.ExpectEval(unlockScript, []string{"wallet:lock:7"}, "req-1").SetVal(int64(1))

	require.NoError(t, l.Lock(ctx, 10*time.Millisecond))
	require.NoError(t, l.Unlock(ctx))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDistributedLock_RetriesUntilFree(t *testing.T) {
	db, mock := redismock.NewClientMock()
	ctx := context.Background()

	l := NewDistributedLock(db, "wallet:lock:7", "req-2", time.Second)

	mock.ExpectSetNX("wallet:lock:7", "req-2", time.Second).SetVal(false)
	mock.ExpectSetNX("wallet:lock:7", "req-2", time.Second).SetVal(true)

	require.NoError(t, l.Lock(ctx, time.Millisecond))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDistributedLock_GivesUpAtDeadline(t *testing.T) {
	db, mock := redismock.NewClientMock()
	mock.MatchExpectationsInOrder(false)
	for i := 0; i < 100; i++ {
		mock.ExpectSetNX("wallet:lock:9", "req-3", time.Second).SetVal(false)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	l := NewDistributedLock(db, "wallet:lock:9", "req-3", time.Second)
	err := l.Lock(ctx, 5*time.Millisecond)
	require.True(t, errors.Is(err, ErrLockFailed))
}

func TestDistributedLock_UnlockSomeoneElsesLock(t *testing.T) {
	db, mock := redismock.NewClientMock()
	l := NewDistributedLock(db, "wallet:lock:7", "stale", time.Second)

	mock.ExpectEval(unlockScript, []string{"wallet:lock:7"}, "stale").SetVal(int64(0))

	require.ErrorIs(t, l.Unlock(context.Background()), ErrLockExpired)
}
