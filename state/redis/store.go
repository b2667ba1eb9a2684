// Package redis keeps solve history in Redis with a TTL, indexed by creation
// time for listing.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/PipeOpsHQ/quiz-agent/state"
)

const (
	defaultTTL    = 72 * time.Hour
	defaultLimit  = 50
	defaultPrefix = "quiz"
)

type Store struct {
	client   *goredis.Client
	ttl      time.Duration
	prefix   string
	addr     string
	db       int
	password string
}

type Option func(*Store)

func WithPassword(password string) Option {
	return func(s *Store) {
		s.password = password
	}
}

func WithDB(db int) Option {
	return func(s *Store) {
		s.db = db
	}
}

func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if p := strings.TrimSpace(prefix); p != "" {
			s.prefix = p
		}
	}
}

func WithClient(client *goredis.Client) Option {
	return func(s *Store) {
		if client != nil {
			s.client = client
		}
	}
}

// New pings the server before returning.
func New(ctx context.Context, addr string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, errors.New("redis addr is required")
	}
	s := &Store{ttl: defaultTTL, prefix: defaultPrefix, addr: addr}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = goredis.NewClient(&goredis.Options{
			Addr:     s.addr,
			Password: s.password,
			DB:       s.db,
		})
	}
	if err := s.client.Ping(ctx).Err(); err != nil {
		_ = s.client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return s, nil
}

func (s *Store) SaveRun(ctx context.Context, run state.RunRecord) error {
	if strings.TrimSpace(run.ID) == "" {
		return errors.New("id is required")
	}
	if run.Status == "" {
		run.Status = "queued"
	}
	run.Stamp(time.Now())

	raw, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	score := float64(run.CreatedAt.UnixMilli())
	member := goredis.Z{Score: score, Member: run.ID}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.runKey(run.ID), raw, s.ttl)
	pipe.ZAdd(ctx, s.indexKey(), member)
	pipe.Expire(ctx, s.indexKey(), s.ttl)
	if run.Email != "" {
		pipe.ZAdd(ctx, s.emailIndexKey(run.Email), member)
		pipe.Expire(ctx, s.emailIndexKey(run.Email), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save run in redis: %w", err)
	}
	return nil
}

func (s *Store) LoadRun(ctx context.Context, id string) (state.RunRecord, error) {
	if strings.TrimSpace(id) == "" {
		return state.RunRecord{}, errors.New("id is required")
	}
	raw, err := s.client.Get(ctx, s.runKey(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return state.RunRecord{}, state.ErrNotFound
	}
	if err != nil {
		return state.RunRecord{}, fmt.Errorf("load run from redis: %w", err)
	}
	var run state.RunRecord
	if err := json.Unmarshal(raw, &run); err != nil {
		return state.RunRecord{}, fmt.Errorf("decode run from redis: %w", err)
	}
	return run, nil
}

// ListRuns walks the index newest first. A status filter is applied after
// loading, so a filtered page may hold fewer than Limit records.
func (s *Store) ListRuns(ctx context.Context, query state.ListRunsQuery) ([]state.RunRecord, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	offset := max(query.Offset, 0)

	index := s.indexKey()
	if query.Email != "" {
		index = s.emailIndexKey(query.Email)
	}
	ids, err := s.client.ZRevRange(ctx, index, int64(offset), int64(offset+limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list run ids: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.runKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("mget runs: %w", err)
	}

	var (
		out   []state.RunRecord
		stale []any
	)
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var run state.RunRecord
		if err := json.Unmarshal([]byte(raw), &run); err != nil {
			continue
		}
		if query.Status != "" && run.Status != query.Status {
			continue
		}
		out = append(out, run)
	}
	if len(stale) > 0 {
		_ = s.client.ZRem(ctx, index, stale...).Err()
	}
	return out, nil
}

func (s *Store) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *Store) runKey(id string) string {
	return fmt.Sprintf("%s:run:%s", s.prefix, id)
}

func (s *Store) indexKey() string {
	return s.prefix + ":runidx"
}

func (s *Store) emailIndexKey(email string) string {
	return fmt.Sprintf("%s:runidx:email:%s", s.prefix, strings.ToLower(email))
}

var _ state.Store = (*Store)(nil)
