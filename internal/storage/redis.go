package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/andyleap/authsessions/internal/models"
	"github.com/redis/go-redis/v9"
)

type RedisStorage struct {
	client    redis.UniversalClient
	keyPrefix string
}

func NewRedisStorage(client redis.UniversalClient, keyPrefix string) *RedisStorage {
	return &RedisStorage{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

func (r *RedisStorage) sessionKey(sessionID string) string {
	return fmt.Sprintf("%ssession:%s", r.keyPrefix, sessionID)
}

func (r *RedisStorage) userSessionsKey(username string) string {
	return fmt.Sprintf("%suser_sessions:%s", r.keyPrefix, username)
}

func (r *RedisStorage) codeKey(code string) string {
	return fmt.Sprintf("%sauth_code:%s", r.keyPrefix, code)
}

func (r *RedisStorage) SaveSession(ctx context.Context, session *models.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("session already expired")
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.sessionKey(session.ID), data, ttl)
	pipe.SAdd(ctx, r.userSessionsKey(session.Username), session.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	return nil
}

func (r *RedisStorage) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	data, err := r.client.Get(ctx, r.sessionKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var session models.Session
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}

	if time.Now().After(session.ExpiresAt) {
		r.client.Del(ctx, r.sessionKey(sessionID))
		return nil, nil
	}

	return &session, nil
}

func (r *RedisStorage) DeleteSession(ctx context.Context, sessionID string) error {
	session, err := r.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.sessionKey(sessionID))
	if session != nil {
		pipe.SRem(ctx, r.userSessionsKey(session.Username), sessionID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (r *RedisStorage) GetUserSessions(ctx context.Context, username string) ([]*models.Session, error) {
	ids, err := r.client.SMembers(ctx, r.userSessionsKey(username)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get user sessions: %w", err)
	}

	var userSessions []*models.Session
	for _, id := range ids {
		session, err := r.GetSession(ctx, id)
		if err != nil {
			continue // Skip problematic sessions
		}
		if session == nil {
			// Expired or deleted; drop the stale index entry
			r.client.SRem(ctx, r.userSessionsKey(username), id)
			continue
		}
		userSessions = append(userSessions, session)
	}

	return userSessions, nil
}

func (r *RedisStorage) SaveAuthorizationCode(ctx context.Context, code *models.AuthorizationCode) error {
	data, err := json.Marshal(code)
	if err != nil {
		return fmt.Errorf("failed to marshal authorization code: %w", err)
	}

	ttl := time.Until(code.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("authorization code already expired")
	}

	if err := r.client.Set(ctx, r.codeKey(code.Code), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save authorization code: %w", err)
	}
	return nil
}

func (r *RedisStorage) ConsumeAuthorizationCode(ctx context.Context, code string) (*models.AuthorizationCode, error) {
	data, err := r.client.GetDel(ctx, r.codeKey(code)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCodeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get authorization code: %w", err)
	}

	var stored models.AuthorizationCode
	if err := json.Unmarshal([]byte(data), &stored); err != nil {
		return nil, fmt.Errorf("failed to unmarshal authorization code: %w", err)
	}
	if time.Now().After(stored.ExpiresAt) {
		return nil, ErrCodeNotFound
	}
	return &stored, nil
}
