package metadata

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/markdave123-py/Lumina/internal/models"
)

var _ KeyLibrary = (*RedisKeyLibrary)(nil)

// registerScript admits a key only while the type hash is below the cap; the
// whole check-and-set runs atomically inside Redis.
var registerScript = redis.NewScript(`
local existing = redis.call('HGET', KEYS[1], ARGV[1])
if existing then
  return existing
end
if redis.call('HLEN', KEYS[1]) >= tonumber(ARGV[3]) then
  return false
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
return ARGV[2]
`)

// RedisKeyLibrary shares the key library between every ingestion worker.
//
// Layout:
//
//	<prefix>:types          hash key -> type
//	<prefix>:doc_count      hash key -> documents observed
//	<prefix>:values:<key>   hash value -> occurrences
type RedisKeyLibrary struct {
	client *redis.Client
	prefix string
	cap    int
}

// RedisConfig holds the connection settings for the key library.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	KeyCap   int
}

// NewRedisKeyLibrary connects and pings Redis.
func NewRedisKeyLibrary(ctx context.Context, cfg RedisConfig) (*RedisKeyLibrary, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisKeyLibraryWithClient(client, cfg.Prefix, cfg.KeyCap), nil
}

// NewRedisKeyLibraryWithClient wraps an existing client.
func NewRedisKeyLibraryWithClient(client *redis.Client, prefix string, keyCap int) *RedisKeyLibrary {
	if prefix == "" {
		prefix = "lumina:metadata"
	}
	if keyCap <= 0 {
		keyCap = DefaultKeyCap
	}
	return &RedisKeyLibrary{client: client, prefix: prefix, cap: keyCap}
}

func (l *RedisKeyLibrary) typesKey() string    { return l.prefix + ":types" }
func (l *RedisKeyLibrary) docCountKey() string { return l.prefix + ":doc_count" }
func (l *RedisKeyLibrary) valuesKey(k string) string {
	return l.prefix + ":values:" + k
}

func (l *RedisKeyLibrary) Register(ctx context.Context, key string, typ models.MetadataType) (models.MetadataType, bool, error) {
	stored, err := registerScript.Run(ctx, l.client, []string{l.typesKey()}, key, string(typ), l.cap).Text()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("register metadata key %s: %w", key, err)
	}
	return models.MetadataType(stored), true, nil
}

func (l *RedisKeyLibrary) Observe(ctx context.Context, values []models.MetadataValue) error {
	if len(values) == 0 {
		return nil
	}
	pipe := l.client.TxPipeline()
	for _, v := range values {
		pipe.HIncrBy(ctx, l.valuesKey(v.Key), v.String(), 1)
		pipe.HIncrBy(ctx, l.docCountKey(), v.Key, 1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("observe metadata: %w", err)
	}
	return nil
}

func (l *RedisKeyLibrary) List(ctx context.Context) ([]models.MetadataKeyEntry, error) {
	types, err := l.client.HGetAll(ctx, l.typesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list metadata keys: %w", err)
	}
	counts, err := l.client.HGetAll(ctx, l.docCountKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list metadata counts: %w", err)
	}

	keys := make([]string, 0, len(types))
	for k := range types {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pipe := l.client.Pipeline()
	valueCmds := make([]*redis.MapStringStringCmd, len(keys))
	for i, k := range keys {
		valueCmds[i] = pipe.HGetAll(ctx, l.valuesKey(k))
	}
	if len(keys) > 0 {
		if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("list metadata values: %w", err)
		}
	}

	out := make([]models.MetadataKeyEntry, 0, len(keys))
	for i, k := range keys {
		entry := models.MetadataKeyEntry{Key: k, Type: models.MetadataType(types[k]), Values: map[string]int{}}
		entry.DocumentCount, _ = strconv.Atoi(counts[k])
		for v, n := range valueCmds[i].Val() {
			entry.Values[v], _ = strconv.Atoi(n)
		}
		out = append(out, entry)
	}
	return out, nil
}

func (l *RedisKeyLibrary) Len(ctx context.Context) (int, error) {
	n, err := l.client.HLen(ctx, l.typesKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("count metadata keys: %w", err)
	}
	return int(n), nil
}

// Close releases the underlying client.
func (l *RedisKeyLibrary) Close() error {
	return l.client.Close()
}
