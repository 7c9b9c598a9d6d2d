package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"juris/internal/config"
	"juris/internal/logging"
	"juris/internal/store"
	"juris/internal/types"

	"github.com/gomodule/redigo/redis"
)

// SessionStore tracks which issued tokens are still valid. A token is only
// accepted while its jti exists in the store.
type SessionStore interface {
	Save(ctx context.Context, sess *types.Session) error
	Exists(ctx context.Context, jti string) (bool, error)
	Revoke(ctx context.Context, jti string) error
	RevokeAll(ctx context.Context, userID string) error
}

// purger is implemented by stores that keep expired sessions until told
// otherwise. Redis expires keys on its own.
type purger interface {
	Purge(ctx context.Context) (int64, error)
}

// NewSessionStore builds the configured session store.
func NewSessionStore(cfg config.AuthConfig, st *store.Store) (SessionStore, error) {
	switch cfg.SessionStore {
	case "", "sqlite":
		return NewSQLiteSessions(st), nil
	case "redis":
		return NewRedisSessions(cfg.RedisAddr, cfg.RedisDB, cfg.RedisPass), nil
	default:
		return nil, fmt.Errorf("unknown session store %q: %w", cfg.SessionStore, types.ErrInvalid)
	}
}

// =============================================================================
// SQLITE
// =============================================================================

// SQLiteSessions keeps sessions in the store's sessions table.
type SQLiteSessions struct {
	store *store.Store
	now   func() time.Time
}

// NewSQLiteSessions wraps a store.
func NewSQLiteSessions(st *store.Store) *SQLiteSessions {
	return &SQLiteSessions{store: st, now: time.Now}
}

func (s *SQLiteSessions) Save(ctx context.Context, sess *types.Session) error {
	return s.store.SaveSession(ctx, sess)
}

func (s *SQLiteSessions) Exists(ctx context.Context, jti string) (bool, error) {
	sess, err := s.store.GetSession(ctx, jti)
	if errors.Is(err, types.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !sess.Revoked && s.now().Before(sess.ExpiresAt), nil
}

func (s *SQLiteSessions) Revoke(ctx context.Context, jti string) error {
	err := s.store.RevokeSession(ctx, jti)
	if errors.Is(err, types.ErrNotFound) {
		return nil
	}
	return err
}

func (s *SQLiteSessions) RevokeAll(ctx context.Context, userID string) error {
	n, err := s.store.RevokeUserSessions(ctx, userID)
	if err == nil {
		logging.AuthDebug("Revoked %d sessions for user=%s", n, userID)
	}
	return err
}

// Purge deletes expired session rows.
func (s *SQLiteSessions) Purge(ctx context.Context) (int64, error) {
	return s.store.PurgeExpiredSessions(ctx)
}

// =============================================================================
// REDIS
// =============================================================================

const redisKeyPrefix = "juris:"

// RedisSessions keeps sessions in Redis with a TTL equal to the token
// lifetime. Each user has a set of live jtis for RevokeAll.
type RedisSessions struct {
	pool *redis.Pool
	now  func() time.Time
}

// NewRedisSessions creates a pooled Redis session store.
func NewRedisSessions(addr string, db int, password string) *RedisSessions {
	pool := &redis.Pool{
		MaxIdle:     8,
		IdleTimeout: 4 * time.Minute,
		DialContext: func(ctx context.Context) (redis.Conn, error) {
			opts := []redis.DialOption{
				redis.DialDatabase(db),
				redis.DialConnectTimeout(5 * time.Second),
			}
			if password != "" {
				opts = append(opts, redis.DialPassword(password))
			}
			return redis.DialContext(ctx, "tcp", addr, opts...)
		},
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			if time.Since(t) < time.Minute {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
	}
	return NewRedisSessionsFromPool(pool)
}

// NewRedisSessionsFromPool uses an existing pool.
func NewRedisSessionsFromPool(pool *redis.Pool) *RedisSessions {
	return &RedisSessions{pool: pool, now: time.Now}
}

// Close releases pooled connections.
func (r *RedisSessions) Close() error { return r.pool.Close() }

func sessionKey(jti string) string     { return redisKeyPrefix + "session:" + jti }
func userSessionsKey(uid string) string { return redisKeyPrefix + "user-sessions:" + uid }

func (r *RedisSessions) Save(ctx context.Context, sess *types.Session) error {
	ttl := int64(sess.ExpiresAt.Sub(r.now()).Seconds())
	if ttl <= 0 {
		return fmt.Errorf("session %s already expired: %w", sess.JTI, types.ErrInvalid)
	}
	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("redis: %w", types.ErrUnavailable)
	}
	defer conn.Close()

	_ = conn.Send("MULTI")
	_ = conn.Send("SET", sessionKey(sess.JTI), sess.UserID, "EX", ttl)
	_ = conn.Send("SADD", userSessionsKey(sess.UserID), sess.JTI)
	_ = conn.Send("EXPIRE", userSessionsKey(sess.UserID), ttl)
	if _, err := redis.DoContext(conn, ctx, "EXEC"); err != nil {
		return fmt.Errorf("redis save session: %w", err)
	}
	return nil
}

func (r *RedisSessions) Exists(ctx context.Context, jti string) (bool, error) {
	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return false, fmt.Errorf("redis: %w", types.ErrUnavailable)
	}
	defer conn.Close()
	return redis.Bool(redis.DoContext(conn, ctx, "EXISTS", sessionKey(jti)))
}

func (r *RedisSessions) Revoke(ctx context.Context, jti string) error {
	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("redis: %w", types.ErrUnavailable)
	}
	defer conn.Close()

	uid, err := redis.String(redis.DoContext(conn, ctx, "GET", sessionKey(jti)))
	if errors.Is(err, redis.ErrNil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("redis revoke session: %w", err)
	}
	_ = conn.Send("MULTI")
	_ = conn.Send("DEL", sessionKey(jti))
	_ = conn.Send("SREM", userSessionsKey(uid), jti)
	_, err = redis.DoContext(conn, ctx, "EXEC")
	return err
}

func (r *RedisSessions) RevokeAll(ctx context.Context, userID string) error {
	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("redis: %w", types.ErrUnavailable)
	}
	defer conn.Close()

	jtis, err := redis.Strings(redis.DoContext(conn, ctx, "SMEMBERS", userSessionsKey(userID)))
	if err != nil {
		return fmt.Errorf("redis list sessions: %w", err)
	}
	keys := redis.Args{}.Add(userSessionsKey(userID))
	for _, jti := range jtis {
		keys = keys.Add(sessionKey(jti))
	}
	if _, err := redis.DoContext(conn, ctx, "DEL", keys...); err != nil {
		return fmt.Errorf("redis revoke sessions: %w", err)
	}
	logging.AuthDebug("Revoked %d redis sessions for user=%s", len(jtis), userID)
	return nil
}
