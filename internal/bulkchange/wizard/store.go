package wizard

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis"
	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"

	"github.com/G-Research/bulkchange/internal/common/bulkerrors"
)

const stateKeyPrefix = "BulkChange:Wizard:"

// Store keeps one wizard State per session. States expire if they aren't stored again within the
// store's time to live.
type Store interface {
	// Get returns the state of sessionId, or an *bulkerrors.ErrNotFound if there is none.
	Get(ctx context.Context, sessionId string) (*State, error)
	Put(ctx context.Context, sessionId string, state *State) error
	Delete(ctx context.Context, sessionId string) error
}

func IsNotFound(err error) bool {
	return bulkerrors.Classify(err) == bulkerrors.ClassNotFound
}

func notFound(sessionId string) error {
	return &bulkerrors.ErrNotFound{Type: "wizard", Value: sessionId, Message: "no bulk operation in progress"}
}

type RedisStore struct {
	db  redis.UniversalClient
	ttl time.Duration
}

func NewRedisStore(db redis.UniversalClient, ttl time.Duration) *RedisStore {
	return &RedisStore{db: db, ttl: ttl}
}

func (r *RedisStore) Get(_ context.Context, sessionId string) (*State, error) {
	data, err := r.db.Get(stateKeyPrefix + sessionId).Bytes()
	if err == redis.Nil {
		return nil, notFound(sessionId)
	} else if err != nil {
		return nil, fmt.Errorf("[RedisStore.Get] error reading from database: %s", err)
	}
	state := &State{}
	if err := json.Unmarshal(data, state); err != nil {
		return nil, errors.Wrapf(err, "[RedisStore.Get] error unmarshalling wizard state %s", sessionId)
	}
	return state, nil
}

func (r *RedisStore) Put(_ context.Context, sessionId string, state *State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return errors.Wrapf(err, "[RedisStore.Put] error marshalling wizard state %s", sessionId)
	}
	if err := r.db.Set(stateKeyPrefix+sessionId, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("[RedisStore.Put] error writing to database: %s", err)
	}
	return nil
}

func (r *RedisStore) Delete(_ context.Context, sessionId string) error {
	if err := r.db.Del(stateKeyPrefix + sessionId).Err(); err != nil {
		return fmt.Errorf("[RedisStore.Delete] error deleting from database: %s", err)
	}
	return nil
}

// Check pings redis.
func (r *RedisStore) Check() error {
	if err := r.db.Ping().Err(); err != nil {
		return errors.Wrap(err, "wizard state store unreachable")
	}
	return nil
}

// MemoryStore keeps states in process memory. It suits single node deployments and tests.
// States are stored serialised so callers never share an instance.
type MemoryStore struct {
	states *cache.Cache
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{states: cache.New(ttl, ttl)}
}

func (m *MemoryStore) Get(_ context.Context, sessionId string) (*State, error) {
	data, ok := m.states.Get(sessionId)
	if !ok {
		return nil, notFound(sessionId)
	}
	state := &State{}
	if err := json.Unmarshal(data.([]byte), state); err != nil {
		return nil, errors.WithStack(err)
	}
	return state, nil
}

func (m *MemoryStore) Put(_ context.Context, sessionId string, state *State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return errors.WithStack(err)
	}
	m.states.SetDefault(sessionId, data)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, sessionId string) error {
	m.states.Delete(sessionId)
	return nil
}
