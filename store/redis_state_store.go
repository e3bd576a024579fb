package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/BatmanBruc/bat-bot-video/types"
)

type RedisStateStore struct {
	client *RedisClient
	ttl    time.Duration
}

func NewRedisStateStore(redisClient *RedisClient, ttlHours int) *RedisStateStore {
	ttl := time.Duration(ttlHours) * time.Hour
	if ttlHours <= 0 {
		ttl = 24 * time.Hour
	}

	return &RedisStateStore{
		client: redisClient,
		ttl:    ttl,
	}
}

func (s *RedisStateStore) stateKey(userID int64) string {
	return s.client.generateKey("user_state", fmt.Sprintf("%d", userID))
}

// GetState returns Idle when nothing is stored for the user.
func (s *RedisStateStore) GetState(userID int64) (types.State, error) {
	data, err := s.client.GetRaw(s.stateKey(userID))
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return types.Idle{}, nil
		}
		return nil, err
	}
	return types.UnmarshalState(data)
}

func (s *RedisStateStore) SetState(userID int64, state types.State) error {
	if state == nil || state.Kind() == types.StateIdle {
		return s.ClearState(userID)
	}
	data, err := types.MarshalState(state)
	if err != nil {
		return err
	}
	return s.client.SetRaw(s.stateKey(userID), data, s.ttl)
}

func (s *RedisStateStore) ClearState(userID int64) error {
	return s.client.Del(s.stateKey(userID))
}

func (s *RedisStateStore) Ping() error {
	return s.client.Ping()
}
