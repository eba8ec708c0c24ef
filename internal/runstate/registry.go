package runstate

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Registry keeps a shared record of runs beyond the marker file.
type Registry interface {
	Record(ctx context.Context, m Marker) error
	Close() error
}

// NopRegistry records nothing.
type NopRegistry struct{}

func (NopRegistry) Record(context.Context, Marker) error { return nil }
func (NopRegistry) Close() error                         { return nil }

// Redis key pattern helpers
//
// Key pattern: hitmap:run:{run_id}
// Index pattern: hitmap:runs (ZSET scored by start time)

// RunKey returns the Redis key for a run's hash.
func RunKey(runID string) string {
	return fmt.Sprintf("hitmap:run:%s", runID)
}

// RunsIndexKey returns the Redis key of the run index.
func RunsIndexKey() string {
	return "hitmap:runs"
}

// RedisRegistry stores run markers as Redis hashes.
// It is thread-safe and can be used concurrently from multiple goroutines.
type RedisRegistry struct {
	rdb *redis.Client
}

// NewRedisRegistry connects to the Redis server at url (redis://host:port/db).
func NewRedisRegistry(url string) (*RedisRegistry, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return NewRedisRegistryFromOptions(opts), nil
}

// NewRedisRegistryFromOptions creates a registry from explicit options.
func NewRedisRegistryFromOptions(opts *redis.Options) *RedisRegistry {
	return &RedisRegistry{rdb: redis.NewClient(opts)}
}

// Ping verifies Redis connectivity.
func (r *RedisRegistry) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (r *RedisRegistry) Close() error {
	return r.rdb.Close()
}

// Record writes the marker under its run ID and indexes the run by start time.
func (r *RedisRegistry) Record(ctx context.Context, m Marker) error {
	if m.RunID == "" {
		return fmt.Errorf("run ID cannot be empty")
	}

	pipe := r.rdb.TxPipeline()
	pipe.HSet(ctx, RunKey(m.RunID), markerToHash(m))
	pipe.ZAdd(ctx, RunsIndexKey(), redis.Z{Score: float64(m.StartedAt.Unix()), Member: m.RunID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record run %s: %w", m.RunID, err)
	}
	return nil
}

// Get loads a run marker. It returns redis.Nil when the run is unknown.
func (r *RedisRegistry) Get(ctx context.Context, runID string) (Marker, error) {
	hash, err := r.rdb.HGetAll(ctx, RunKey(runID)).Result()
	if err != nil {
		return Marker{}, fmt.Errorf("failed to read run %s: %w", runID, err)
	}
	if len(hash) == 0 {
		return Marker{}, redis.Nil
	}
	return hashToMarker(hash)
}

// Recent returns up to n run IDs, newest first.
func (r *RedisRegistry) Recent(ctx context.Context, n int64) ([]string, error) {
	ids, err := r.rdb.ZRevRange(ctx, RunsIndexKey(), 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return ids, nil
}

// Between returns up to n run IDs started within [since, until], newest first.
// A zero bound leaves that end of the range open.
func (r *RedisRegistry) Between(ctx context.Context, since, until time.Time, n int64) ([]string, error) {
	lo, hi := "-inf", "+inf"
	if !since.IsZero() {
		lo = strconv.FormatInt(since.Unix(), 10)
	}
	if !until.IsZero() {
		hi = strconv.FormatInt(until.Unix(), 10)
	}
	ids, err := r.rdb.ZRevRangeByScore(ctx, RunsIndexKey(), &redis.ZRangeBy{Min: lo, Max: hi, Count: n}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return ids, nil
}

// MatchPrefix returns every recorded run ID starting with prefix, oldest first.
func (r *RedisRegistry) MatchPrefix(ctx context.Context, prefix string) ([]string, error) {
	ids, err := r.rdb.ZRange(ctx, RunsIndexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	var matches []string
	for _, id := range ids {
		if strings.HasPrefix(id, prefix) {
			matches = append(matches, id)
		}
	}
	return matches, nil
}

func markerToHash(m Marker) map[string]any {
	return map[string]any{
		"run_id":     m.RunID,
		"state":      string(m.State),
		"stage":      m.Stage,
		"outdir":     m.OutDir,
		"host":       m.Host,
		"pid":        m.PID,
		"started_at": m.StartedAt.UTC().Format(time.RFC3339Nano),
		"updated_at": m.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func hashToMarker(h map[string]string) (Marker, error) {
	m := Marker{
		RunID:  h["run_id"],
		State:  State(h["state"]),
		Stage:  h["stage"],
		OutDir: h["outdir"],
		Host:   h["host"],
	}
	if pid := h["pid"]; pid != "" {
		if _, err := fmt.Sscanf(pid, "%d", &m.PID); err != nil {
			return Marker{}, fmt.Errorf("invalid pid %q: %w", pid, err)
		}
	}
	var err error
	if m.StartedAt, err = time.Parse(time.RFC3339Nano, h["started_at"]); err != nil {
		return Marker{}, fmt.Errorf("invalid started_at: %w", err)
	}
	if m.UpdatedAt, err = time.Parse(time.RFC3339Nano, h["updated_at"]); err != nil {
		return Marker{}, fmt.Errorf("invalid updated_at: %w", err)
	}
	return m, nil
}
