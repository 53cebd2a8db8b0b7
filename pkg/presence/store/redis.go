package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/soundloop/collab/pkg/config"
	"github.com/soundloop/collab/pkg/presence"
)

// Redis keeps presence state in a shared Redis instance so every process
// in a fleet observes the same answer. All mutations use Redis's own set
// and hash primitives, never a client-side read-modify-write, so two
// processes touching the same board cannot lose each other's updates.
//
// Runtime failures are logged and swallowed: a missed presence update is
// preferable to crashing a connection handler.
type Redis struct {
	client    *redis.Client
	ttl       time.Duration
	opTimeout time.Duration
	logger    *slog.Logger
}

// NewRedis connects to Redis and verifies connectivity before returning.
func NewRedis(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	})
	probeCtx, cancel := context.WithTimeout(ctx, cfg.OpTimeout)
	defer cancel()
	if err := client.Ping(probeCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	ttl := cfg.BoardIndexTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	opTimeout := cfg.OpTimeout
	if opTimeout <= 0 {
		opTimeout = 2 * time.Second
	}
	return &Redis{
		client:    client,
		ttl:       ttl,
		opTimeout: opTimeout,
		logger:    logger.With(slog.String("component", "presence_store_redis")),
	}, nil
}

var _ presence.Store = (*Redis)(nil)

func keyUserSessions(userID string) string { return "global:user:" + userID }
func keySidUser(sid string) string         { return "sid:" + sid + ":user" }
func keyBoardPresence(boardID string) string {
	return "board:" + boardID + ":presence"
}
func keySidBoards(sid string) string { return "sid:" + sid + ":boards" }

// opCtx bounds a single backend call so a slow Redis degrades one request
// instead of stalling the handler pool.
func (r *Redis) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.opTimeout)
}

func (r *Redis) AddGlobalConnection(ctx context.Context, userID, sid string) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	if err := r.client.SAdd(ctx, keyUserSessions(userID), sid).Err(); err != nil {
		r.logger.Warn("SADD global connection failed", slog.Any("error", err))
		return
	}
	if err := r.client.Set(ctx, keySidUser(sid), userID, r.ttl).Err(); err != nil {
		r.logger.Warn("SET sid reverse mapping failed", slog.Any("error", err))
	}
}

func (r *Redis) RemoveGlobalConnection(ctx context.Context, sid string) (string, bool) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	userID, err := r.client.Get(ctx, keySidUser(sid)).Result()
	if err == redis.Nil {
		return "", false
	}
	if err != nil {
		r.logger.Warn("GET sid reverse mapping failed", slog.Any("error", err))
		return "", false
	}
	if err := r.client.SRem(ctx, keyUserSessions(userID), sid).Err(); err != nil {
		r.logger.Warn("SREM global connection failed", slog.Any("error", err))
	}
	if err := r.client.Del(ctx, keySidUser(sid)).Err(); err != nil {
		r.logger.Warn("DEL sid reverse mapping failed", slog.Any("error", err))
	}
	return userID, true
}

func (r *Redis) GetUserSessions(ctx context.Context, userID string) []string {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	sids, err := r.client.SMembers(ctx, keyUserSessions(userID)).Result()
	if err != nil {
		r.logger.Warn("SMEMBERS user sessions failed", slog.Any("error", err))
		return nil
	}
	return sids
}

func (r *Redis) AddBoardMember(ctx context.Context, boardID string, member presence.Member) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	raw, err := json.Marshal(member)
	if err != nil {
		r.logger.Warn("Marshal presence record failed", slog.Any("error", err))
		return
	}
	if err := r.client.HSet(ctx, keyBoardPresence(boardID), member.ID, raw).Err(); err != nil {
		r.logger.Warn("HSET board presence failed", slog.Any("error", err))
		return
	}
	if member.SID == "" {
		return
	}
	if err := r.client.SAdd(ctx, keySidBoards(member.SID), boardID).Err(); err != nil {
		r.logger.Warn("SADD sid board index failed", slog.Any("error", err))
		return
	}
	if err := r.client.Expire(ctx, keySidBoards(member.SID), r.ttl).Err(); err != nil {
		r.logger.Warn("EXPIRE sid board index failed", slog.Any("error", err))
	}
}

func (r *Redis) RemoveBoardMember(ctx context.Context, boardID, userID, sid string) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	if err := r.client.HDel(ctx, keyBoardPresence(boardID), userID).Err(); err != nil {
		r.logger.Warn("HDEL board presence failed", slog.Any("error", err))
	}
	if sid == "" {
		return
	}
	if err := r.client.SRem(ctx, keySidBoards(sid), boardID).Err(); err != nil {
		r.logger.Warn("SREM sid board index failed", slog.Any("error", err))
	}
}

func (r *Redis) GetBoardMembers(ctx context.Context, boardID string) []presence.Member {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	raws, err := r.client.HVals(ctx, keyBoardPresence(boardID)).Result()
	if err != nil {
		r.logger.Warn("HVALS board presence failed", slog.Any("error", err))
		// Empty snapshot, not nil: callers serialize this straight to
		// clients and both backends must render an empty board as [].
		return []presence.Member{}
	}
	members := make([]presence.Member, 0, len(raws))
	for _, raw := range raws {
		var member presence.Member
		if err := json.Unmarshal([]byte(raw), &member); err != nil {
			r.logger.Warn("Unmarshal presence record failed", slog.Any("error", err))
			continue
		}
		members = append(members, member)
	}
	return members
}

func (r *Redis) HandleDisconnect(ctx context.Context, sid string) []string {
	userID, _ := r.RemoveGlobalConnection(ctx, sid)

	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	boardIDs, err := r.client.SMembers(ctx, keySidBoards(sid)).Result()
	if err != nil {
		r.logger.Warn("SMEMBERS sid board index failed", slog.Any("error", err))
		return nil
	}
	for _, boardID := range boardIDs {
		if userID == "" {
			continue
		}
		// Deletes by user id even if another tab overwrote the record:
		// last-write-wins presence means the surviving tab drops off the
		// list until it rejoins.
		if err := r.client.HDel(ctx, keyBoardPresence(boardID), userID).Err(); err != nil {
			r.logger.Warn("HDEL board presence failed", slog.Any("error", err))
		}
	}
	if err := r.client.Del(ctx, keySidBoards(sid)).Err(); err != nil {
		r.logger.Warn("DEL sid board index failed", slog.Any("error", err))
	}
	return boardIDs
}

// Close releases the Redis connection.
func (r *Redis) Close() error { return r.client.Close() }
