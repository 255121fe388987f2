package lock

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Advisory is a Locker backed by Postgres session advisory locks. Each held
// lock pins one pooled connection until released. ttl is ignored: the lock
// ends with the session.
type Advisory struct {
	pool *pgxpool.Pool
}

func NewAdvisory(pool *pgxpool.Pool) (*Advisory, error) {
	if pool == nil {
		return nil, errors.New("lock pool is nil")
	}
	return &Advisory{pool: pool}, nil
}

// AdvisoryKey maps a lock key onto the int64 advisory lock space.
func AdvisoryKey(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte("integration-hub"))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(strings.ToLower(strings.TrimSpace(key))))
	return int64(h.Sum64())
}

func (a *Advisory) Acquire(ctx context.Context, key string, _ time.Duration) (Lock, error) {
	conn, err := a.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	k := AdvisoryKey(key)
	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", k); err != nil {
		conn.Release()
		return nil, err
	}
	return &advisoryLock{conn: conn, key: k}, nil
}

type advisoryLock struct {
	conn *pgxpool.Conn
	key  int64
	once sync.Once
}

func (l *advisoryLock) Release(ctx context.Context) error {
	err := ErrNotHeld
	l.once.Do(func() {
		defer l.conn.Release()
		var unlocked bool
		if scanErr := l.conn.QueryRow(ctx, "SELECT pg_advisory_unlock($1)", l.key).Scan(&unlocked); scanErr != nil {
			// Closing the session drops the lock server side.
			_ = l.conn.Conn().Close(ctx)
			err = scanErr
			return
		}
		if !unlocked {
			err = ErrNotHeld
			return
		}
		err = nil
	})
	return err
}
