package history

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/MimeLyc/vision2voice/internal/apperr"
	"github.com/redis/go-redis/v9"
)

const DefaultRedisPrefix = "vision2voice:history"

// RedisStore keeps each record in a hash and orders them with a sorted set
// scored by timestamp in milliseconds. Ids come from INCR on a counter key
// that DeleteAll leaves in place.
type RedisStore struct {
	client *redis.Client
	prefix string
}

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	if strings.TrimSpace(opts.Addr) == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", opts.Addr, err)
	}
	return newRedisStoreWithClient(client, opts.Prefix), nil
}

func newRedisStoreWithClient(client *redis.Client, prefix string) *RedisStore {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) seqKey() string   { return s.prefix + ":seq" }
func (s *RedisStore) indexKey() string { return s.prefix + ":index" }

func (s *RedisStore) recordKey(id int64) string {
	return s.prefix + ":rec:" + strconv.FormatInt(id, 10)
}

// indexMember zero-pads ids so equal timestamps sort by id in reverse range queries.
func indexMember(id int64) string {
	return fmt.Sprintf("%020d", id)
}

func parseIndexMember(member string) (int64, error) {
	return strconv.ParseInt(strings.TrimLeft(member, "0"), 10, 64)
}

func (s *RedisStore) Insert(ctx context.Context, rec Record) (int64, error) {
	ts := normalizeTimestamp(rec.Timestamp)
	id, err := s.client.Incr(ctx, s.seqKey()).Result()
	if err != nil {
		return 0, apperr.NewStorage("history insert failed", err)
	}

	fields := map[string]any{
		"caption":    rec.Caption,
		"image":      rec.Image,
		"image_type": rec.ImageType,
		"language":   rec.Language,
		"timestamp":  strconv.FormatInt(ts.UnixMilli(), 10),
	}
	if len(rec.Audio) > 0 {
		fields["audio"] = rec.Audio
		fields["audio_type"] = rec.AudioType
	}

	key := s.recordKey(id)
	expiresAt := ts.Add(Retention)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fields)
		pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(ts.UnixMilli()), Member: indexMember(id)})
		if expiresAt.After(time.Now()) {
			pipe.PExpireAt(ctx, key, expiresAt)
		}
		return nil
	})
	if err != nil {
		return 0, apperr.NewStorage("history insert failed", err)
	}
	return id, nil
}

func (s *RedisStore) ListAll(ctx context.Context) ([]Record, error) {
	members, err := s.client.ZRevRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, apperr.NewStorage("history list failed", err)
	}
	ret := make([]Record, 0, len(members))
	if len(members) == 0 {
		return ret, nil
	}

	ids := make([]int64, 0, len(members))
	cmds := make([]*redis.MapStringStringCmd, 0, len(members))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, member := range members {
			id, perr := parseIndexMember(member)
			if perr != nil {
				continue
			}
			ids = append(ids, id)
			cmds = append(cmds, pipe.HGetAll(ctx, s.recordKey(id)))
		}
		return nil
	})
	if err != nil {
		return nil, apperr.NewStorage("history list failed", err)
	}

	var dangling []any
	for i, cmd := range cmds {
		values := cmd.Val()
		if len(values) == 0 {
			dangling = append(dangling, indexMember(ids[i]))
			continue
		}
		ret = append(ret, decodeRecord(ids[i], values))
	}
	if len(dangling) > 0 {
		// Hashes removed by key expiry; drop their index entries.
		_ = s.client.ZRem(ctx, s.indexKey(), dangling...).Err()
	}
	return ret, nil
}

func (s *RedisStore) Get(ctx context.Context, id int64) (Record, bool, error) {
	values, err := s.client.HGetAll(ctx, s.recordKey(id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Record{}, false, nil
		}
		return Record{}, false, apperr.NewStorage("history get failed", err)
	}
	if len(values) == 0 {
		return Record{}, false, nil
	}
	return decodeRecord(id, values), true, nil
}

func (s *RedisStore) DeleteOne(ctx context.Context, id int64) (bool, error) {
	var del *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, s.recordKey(id))
		pipe.ZRem(ctx, s.indexKey(), indexMember(id))
		return nil
	})
	if err != nil {
		return false, apperr.NewStorage("history delete failed", err)
	}
	return del.Val() > 0, nil
}

// clearScript deletes every indexed record hash and the index in one step, so
// an insert lands either before the clear (and is removed) or after it.
// KEYS[1] is the index, ARGV[1] the record key prefix.
var clearScript = redis.NewScript(`
local members = redis.call('ZRANGE', KEYS[1], 0, -1)
for _, member in ipairs(members) do
	local id = string.gsub(member, '^0+', '')
	redis.call('DEL', ARGV[1] .. id)
end
redis.call('DEL', KEYS[1])
return #members
`)

func (s *RedisStore) DeleteAll(ctx context.Context) error {
	if err := clearScript.Run(ctx, s.client, []string{s.indexKey()}, s.prefix+":rec:").Err(); err != nil {
		return apperr.NewStorage("history clear failed", err)
	}
	return nil
}

// SweepExpired removes records whose timestamp is at or before now minus retention.
func (s *RedisStore) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	cutoff := now.Add(-Retention).UnixMilli()
	members, err := s.client.ZRangeByScore(ctx, s.indexKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(cutoff, 10),
	}).Result()
	if err != nil {
		return 0, apperr.NewStorage("history sweep failed", err)
	}
	if len(members) == 0 {
		return 0, nil
	}

	removed := make([]any, len(members))
	for i, m := range members {
		removed[i] = m
	}
	var zrem *redis.IntCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.keysFor(members)...)
		zrem = pipe.ZRem(ctx, s.indexKey(), removed...)
		return nil
	})
	if err != nil {
		return 0, apperr.NewStorage("history sweep failed", err)
	}
	return zrem.Val(), nil
}

func (s *RedisStore) keysFor(members []string) []string {
	keys := make([]string, 0, len(members))
	for _, m := range members {
		id, err := parseIndexMember(m)
		if err != nil {
			continue
		}
		keys = append(keys, s.recordKey(id))
	}
	return keys
}

func decodeRecord(id int64, values map[string]string) Record {
	rec := Record{
		ID:        id,
		Caption:   values["caption"],
		ImageType: values["image_type"],
		AudioType: values["audio_type"],
		Language:  values["language"],
	}
	if v := values["image"]; v != "" {
		rec.Image = []byte(v)
	}
	if v := values["audio"]; v != "" {
		rec.Audio = []byte(v)
	}
	if ms, err := strconv.ParseInt(values["timestamp"], 10, 64); err == nil {
		rec.Timestamp = time.UnixMilli(ms)
	}
	return rec
}
