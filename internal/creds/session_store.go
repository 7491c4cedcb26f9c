package creds

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrSessionNotFound — сессии нет или TTL истёк. Для ConfirmCode это
// явная ошибка, состояние учётки не меняется.
var ErrSessionNotFound = errors.New("auth session not found or expired")

// SessionStore — эфемерное состояние между start-login и confirm-code:
// session id → непрозрачное транспортное состояние портала, с TTL.
// Удаляется при успешном подтверждении.
type SessionStore interface {
	Put(ctx context.Context, id, state string, ttl time.Duration) error
	Get(ctx context.Context, id string) (string, error)
	Delete(ctx context.Context, id string) error
}

// redisSessions — боевая реализация поверх redis (TTL на стороне
// сервера, переживает рестарт процесса).
type redisSessions struct{ rdb *redis.Client }

func NewRedisSessions(addr string) SessionStore {
	return &redisSessions{rdb: redis.NewClient(&redis.Options{Addr: addr})}
}

func sessionKey(id string) string { return "relist:authsession:" + id }

func (s *redisSessions) Put(ctx context.Context, id, state string, ttl time.Duration) error {
	return s.rdb.Set(ctx, sessionKey(id), state, ttl).Err()
}

func (s *redisSessions) Get(ctx context.Context, id string) (string, error) {
	v, err := s.rdb.Get(ctx, sessionKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrSessionNotFound
	}
	return v, err
}

func (s *redisSessions) Delete(ctx context.Context, id string) error {
	return s.rdb.Del(ctx, sessionKey(id)).Err()
}
