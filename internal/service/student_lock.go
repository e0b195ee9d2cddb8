package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrStudentLockTimeout indicates the per-student lock could not be acquired in time.
var ErrStudentLockTimeout = errors.New("timed out waiting for student lock")

// StudentLocker serialises lifecycle operations that touch the same student.
type StudentLocker interface {
	Lock(ctx context.Context, studentID string) (func(), error)
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// LocalStudentLocker is an in-process keyed mutex, suitable for a single API instance.
type LocalStudentLocker struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

// NewLocalStudentLocker constructs an in-process student locker.
func NewLocalStudentLocker() *LocalStudentLocker {
	return &LocalStudentLocker{entries: make(map[string]*lockEntry)}
}

// Lock blocks until the student's mutex is held. The context is not observed once waiting starts.
func (l *LocalStudentLocker) Lock(_ context.Context, studentID string) (func(), error) {
	l.mu.Lock()
	entry, ok := l.entries[studentID]
	if !ok {
		entry = &lockEntry{}
		l.entries[studentID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			entry.mu.Unlock()
			l.mu.Lock()
			entry.refs--
			if entry.refs == 0 {
				delete(l.entries, studentID)
			}
			l.mu.Unlock()
		})
	}, nil
}

var releaseStudentLock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStudentLocker holds a SET NX lock per student so several API instances can share a store.
type RedisStudentLocker struct {
	client   *redis.Client
	prefix   string
	ttl      time.Duration
	wait     time.Duration
	interval time.Duration
}

// NewRedisStudentLocker constructs a Redis backed student locker. ttl bounds how long a crashed
// holder can keep the lock.
func NewRedisStudentLocker(client *redis.Client, prefix string, ttl time.Duration) *RedisStudentLocker {
	if prefix == "" {
		prefix = "intervention:lock"
	}
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &RedisStudentLocker{
		client:   client,
		prefix:   prefix,
		ttl:      ttl,
		wait:     ttl,
		interval: 25 * time.Millisecond,
	}
}

func (l *RedisStudentLocker) key(studentID string) string {
	return fmt.Sprintf("%s:%s", l.prefix, studentID)
}

// Lock polls until the key is acquired, the wait budget runs out or ctx is cancelled.
func (l *RedisStudentLocker) Lock(ctx context.Context, studentID string) (func(), error) {
	key := l.key(studentID)
	token := uuid.NewString()
	deadline := time.Now().Add(l.wait)

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire student lock: %w", err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, ErrStudentLockTimeout
		}

		timer := time.NewTimer(l.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = releaseStudentLock.Run(releaseCtx, l.client, []string{key}, token).Err()
		})
	}, nil
}
