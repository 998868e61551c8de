package session

import (
	"context"
	"encoding/json"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/sdragent/chatmodel"
	"github.com/effective-security/sdragent/pkg/metricskey"
	"github.com/effective-security/xlog"
	"github.com/redis/go-redis/v9"
)

// The redis store keeps sessions under the prefix:
// - `/<prefix>/sessions/history/<id>` list of JSON encoded turns
// - `/<prefix>/sessions/info/<id>` JSON encoded session info
// - `/<prefix>/sessions/list` set of session IDs
//
// When TTL is set, both keys of a session expire in redis after TTL of inactivity.
type redisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// maxTxRetries bounds the optimistic retries of a session update
const maxTxRetries = 50

// NewRedis returns a Store backed by redis, ttl of 0 disables key expiry
func NewRedis(client *redis.Client, prefix string, ttl time.Duration) Store {
	return &redisStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (r *redisStore) historyKey(id string) string {
	return path.Join(r.prefix, "sessions", "history", id)
}

func (r *redisStore) infoKey(id string) string {
	return path.Join(r.prefix, "sessions", "info", id)
}

func (r *redisStore) listKey() string {
	return path.Join(r.prefix, "sessions", "list")
}

func (r *redisStore) Create(ctx context.Context, history ...Turn) (string, error) {
	now := time.Now().UTC()
	info := &Info{
		ID:           chatmodel.NewID(),
		CreatedAt:    now,
		LastActivity: now,
	}
	if err := r.write(ctx, info, history, true); err != nil {
		return "", err
	}
	return info.ID, nil
}

func (r *redisStore) write(ctx context.Context, info *Info, turns []Turn, isNew bool) error {
	pipe := r.client.Pipeline()
	if err := r.queueWrite(ctx, pipe, info, turns); err != nil {
		return err
	}
	if isNew {
		pipe.SAdd(ctx, r.listKey(), info.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "failed to store session in Redis")
	}
	return nil
}

// queueWrite adds the turns and the updated info to the pipeline
func (r *redisStore) queueWrite(ctx context.Context, pipe redis.Pipeliner, info *Info, turns []Turn) error {
	info.Turns += len(turns)
	infoData, err := json.Marshal(info)
	if err != nil {
		return errors.Wrap(err, "failed to marshal session info")
	}

	hkey := r.historyKey(info.ID)
	if len(turns) > 0 {
		vals := make([]any, 0, len(turns))
		for _, t := range turns {
			data, err := json.Marshal(t)
			if err != nil {
				return errors.Wrap(err, "failed to marshal turn")
			}
			vals = append(vals, data)
		}
		pipe.RPush(ctx, hkey, vals...)
	}
	pipe.Set(ctx, r.infoKey(info.ID), infoData, r.ttl)
	if r.ttl > 0 {
		pipe.Expire(ctx, hkey, r.ttl)
	}
	return nil
}

func (r *redisStore) getInfo(ctx context.Context, id string) (*Info, error) {
	return r.readInfo(ctx, r.client, id)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (r *redisStore) readInfo(ctx context.Context, c getter, id string) (*Info, error) {
	data, err := c.Get(ctx, r.infoKey(id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errors.WithMessagef(ErrNotFound, "%s", id)
		}
		return nil, errors.Wrap(err, "failed to get session info from Redis")
	}
	info := new(Info)
	if err = json.Unmarshal([]byte(data), info); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal session info")
	}
	return info, nil
}

func (r *redisStore) Get(ctx context.Context, id string) (*Session, error) {
	info, err := r.getInfo(ctx, id)
	if err != nil {
		return nil, err
	}

	data, err := r.client.LRange(ctx, r.historyKey(id), 0, -1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get session history from Redis")
	}

	s := &Session{
		ID:           id,
		History:      make([]Turn, 0, len(data)),
		CreatedAt:    info.CreatedAt,
		LastActivity: info.LastActivity,
	}
	for _, item := range data {
		var t Turn
		if err := json.Unmarshal([]byte(item), &t); err != nil {
			logger.ContextKV(ctx, xlog.ERROR, "reason", "unmarshal turn", "session", id, "err", err.Error())
			continue
		}
		s.History = append(s.History, t)
	}
	return s, nil
}

func (r *redisStore) Fork(ctx context.Context, id string) (string, error) {
	src, err := r.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return r.Create(ctx, src.History...)
}

// Append updates the session under WATCH of its info key,
// a concurrent Append, Delete or Evict makes the transaction retry.
func (r *redisStore) Append(ctx context.Context, id string, turns ...Turn) error {
	ikey := r.infoKey(id)
	txf := func(tx *redis.Tx) error {
		info, err := r.readInfo(ctx, tx, id)
		if err != nil {
			return err
		}
		info.LastActivity = time.Now().UTC()

		var qerr error
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			qerr = r.queueWrite(ctx, pipe, info, turns)
			return qerr
		})
		if qerr != nil {
			return qerr
		}
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := r.client.Watch(ctx, txf, ikey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil && !errors.Is(err, ErrNotFound) {
			return errors.Wrap(err, "failed to append session in Redis")
		}
		return err
	}
	return errors.Newf("failed to append session %s: too many concurrent updates", id)
}

func (r *redisStore) Delete(ctx context.Context, id string) error {
	pipe := r.client.Pipeline()
	del := pipe.Del(ctx, r.infoKey(id))
	pipe.Del(ctx, r.historyKey(id))
	pipe.SRem(ctx, r.listKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "failed to delete session from Redis")
	}
	if del.Val() == 0 {
		return errors.WithMessagef(ErrNotFound, "%s", id)
	}
	return nil
}

func (r *redisStore) Evict(ctx context.Context, idleFor time.Duration) (int, error) {
	ids, err := r.client.SMembers(ctx, r.listKey()).Result()
	if err != nil {
		return 0, errors.Wrap(err, "failed to list sessions from Redis")
	}

	cutoff := time.Now().Add(-idleFor)
	count := 0
	for _, id := range ids {
		info, err := r.getInfo(ctx, id)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return count, err
		}
		// expired by redis TTL, or idle
		if info == nil || info.LastActivity.Before(cutoff) {
			evicted, err := r.evict(ctx, id, cutoff)
			if err != nil {
				return count, err
			}
			if evicted {
				count++
			}
		}
	}

	if count > 0 {
		metricskey.StatsSessionsEvicted.IncrCounter(float64(count), "redis")
		logger.ContextKV(ctx, xlog.INFO, "evicted", count, "idle", idleFor.String())
	}
	return count, nil
}

// evict removes the session if it is still idle,
// the transaction is dropped when the session is appended meanwhile
func (r *redisStore) evict(ctx context.Context, id string, cutoff time.Time) (bool, error) {
	evicted := false
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		info, err := r.readInfo(ctx, tx, id)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if info != nil && !info.LastActivity.Before(cutoff) {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, r.infoKey(id))
			pipe.Del(ctx, r.historyKey(id))
			pipe.SRem(ctx, r.listKey(), id)
			return nil
		})
		evicted = err == nil
		return err
	}, r.infoKey(id))
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "failed to delete session from Redis")
	}
	return evicted, nil
}

func (r *redisStore) List(ctx context.Context) ([]*Info, error) {
	ids, err := r.client.SMembers(ctx, r.listKey()).Result()
	if err != nil {
		return nil, errors.Wrap(err, "failed to list sessions from Redis")
	}

	list := make([]*Info, 0, len(ids))
	for _, id := range ids {
		info, err := r.getInfo(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		list = append(list, info)
	}
	slices.SortFunc(list, func(a, b *Info) int {
		return strings.Compare(a.ID, b.ID)
	})
	return list, nil
}
