package store

import (
	"sync"

	"github.com/BatmanBruc/bat-bot-video/types"
)

// MemoryStateStore keeps conversation state in process memory. Used when
// no Redis address is configured.
type MemoryStateStore struct {
	mu     sync.RWMutex
	states map[int64][]byte
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{states: make(map[int64][]byte)}
}

func (s *MemoryStateStore) GetState(userID int64) (types.State, error) {
	s.mu.RLock()
	raw, ok := s.states[userID]
	s.mu.RUnlock()
	if !ok {
		return types.Idle{}, nil
	}
	return types.UnmarshalState(raw)
}

func (s *MemoryStateStore) SetState(userID int64, state types.State) error {
	if state == nil || state.Kind() == types.StateIdle {
		return s.ClearState(userID)
	}
	raw, err := types.MarshalState(state)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.states[userID] = raw
	s.mu.Unlock()
	return nil
}

func (s *MemoryStateStore) ClearState(userID int64) error {
	s.mu.Lock()
	delete(s.states, userID)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStateStore) Ping() error {
	return nil
}
