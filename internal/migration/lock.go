package migration

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrLockHeld is returned when another migration run holds the lock.
var ErrLockHeld = errors.New("migration lock is held by another run")

// DistributedLock serializes migration runs across processes.
type DistributedLock interface {
	// Acquire takes the lock for key without waiting. The returned release function must be
	// called exactly once.
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// PostgresLock uses a session-level advisory lock held on one pooled connection.
type PostgresLock struct {
	pool *pgxpool.Pool
}

func NewPostgresLock(pool *pgxpool.Pool) *PostgresLock {
	return &PostgresLock{pool: pool}
}

// Acquire tries pg_try_advisory_lock on a dedicated connection. The connection is kept out of
// the pool until release, since advisory locks belong to the session.
func (l *PostgresLock) Acquire(ctx context.Context, key string) (func(), error) {
	lockID := hashLockKey(key)

	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire lock connection: %w", err)
	}

	var ok bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, lockID).Scan(&ok); err != nil {
		conn.Release()
		return nil, fmt.Errorf("pg_try_advisory_lock(%d): %w", lockID, err)
	}
	if !ok {
		conn.Release()
		return nil, fmt.Errorf("%w (key %q)", ErrLockHeld, key)
	}

	release := func() {
		_, _ = conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, lockID)
		conn.Release()
	}
	return release, nil
}

// LocalLock is an in-process lock for single-node use and tests.
type LocalLock struct {
	mu sync.Mutex
}

func NewLocalLock() *LocalLock {
	return &LocalLock{}
}

func (l *LocalLock) Acquire(ctx context.Context, key string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("acquire local lock: %w", err)
	}
	if !l.mu.TryLock() {
		return nil, fmt.Errorf("%w (key %q)", ErrLockHeld, key)
	}
	return func() { l.mu.Unlock() }, nil
}

// hashLockKey maps a key to a pg_advisory_lock id using FNV-1a.
func hashLockKey(key string) int64 {
	var h uint64 = 14695981039346656037
	for i := 0; i < len(key); i++ {
		h ^= uint64(key[i])
		h *= 1099511628211
	}
	return int64(h & 0x7FFFFFFFFFFFFFFF)
}
