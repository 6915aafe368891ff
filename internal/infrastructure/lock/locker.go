package lock

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Locker grants exclusive ownership of a key.
type Locker interface {
	// Obtain blocks until key is held or ctx is done, in which case it
	// returns ErrLockFailed.
	Obtain(ctx context.Context, key string) (Lease, error)
}

type Lease interface {
	Release(ctx context.Context) error
}

func WalletKey(ownerID int64) string {
	return fmt.Sprintf("wallet:lock:%d", ownerID)
}

// AcquireWallets locks the wallets of ownerIDs in ascending owner id order,
// whatever order the caller passed them in. Any two callers that share wallets
// therefore queue on them in the same relative order and can never wait on
// each other in a cycle.
//
// The whole acquisition is bounded by wait. On failure every lease already
// taken is released and ErrLockFailed is returned.
func AcquireWallets(ctx context.Context, locker Locker, wait time.Duration, ownerIDs ...int64) (func(), error) {
	ids := slices.Clone(ownerIDs)
	slices.Sort(ids)
	ids = slices.Compact(ids)

	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	leases := make([]Lease, 0, len(ids))
	release := func() {
		// reverse order, and detached from the caller's ctx so a cancelled
		// request still gives its locks back
		relCtx, relCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer relCancel()
		for i := len(leases) - 1; i >= 0; i-- {
			if err := leases[i].Release(relCtx); err != nil {
				zap.L().Warn("[Lock] release failed", zap.Error(err))
			}
		}
	}

	for _, id := range ids {
		lease, err := locker.Obtain(waitCtx, WalletKey(id))
		if err != nil {
			release()
			return nil, err
		}
		leases = append(leases, lease)
	}
	return release, nil
}

// ============================================================================
// In-process locker
// ============================================================================

// LocalLocker is a keyed mutex for single-instance deployments and tests.
// Entries are reference counted and dropped once nobody holds or waits on
// them.
type LocalLocker struct {
	mu      sync.Mutex
	entries map[string]*localEntry
}

type localEntry struct {
	sem  chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{entries: make(map[string]*localEntry)}
}

func (l *LocalLocker) Obtain(ctx context.Context, key string) (Lease, error) {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &localEntry{sem: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
		return &localLease{owner: l, key: key, entry: e}, nil
	case <-ctx.Done():
		l.unref(key, e)
		return nil, ErrLockFailed
	}
}

func (l *LocalLocker) unref(key string, e *localEntry) {
	l.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
	l.mu.Unlock()
}

type localLease struct {
	once  sync.Once
	owner *LocalLocker
	key   string
	entry *localEntry
}

func (l *localLease) Release(context.Context) error {
	l.once.Do(func() {
		<-l.entry.sem
		l.owner.unref(l.key, l.entry)
	})
	return nil
}
