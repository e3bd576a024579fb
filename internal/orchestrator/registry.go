package orchestrator

import (
	"context"
	"sync"
)

// userSlot holds the per-user locks. It lives only while somebody holds or
// waits for one of them.
type userSlot struct {
	session chan struct{}
	upload  chan struct{}
	refs    int
}

func newUserSlot() *userSlot {
	return &userSlot{
		session: make(chan struct{}, 1),
		upload:  make(chan struct{}, 1),
	}
}

func lockChan(ctx context.Context, ch chan struct{}) error {
	select {
	case ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func tryLockChan(ch chan struct{}) bool {
	select {
	case ch <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *userSlot) lockSession(ctx context.Context) error { return lockChan(ctx, s.session) }
func (s *userSlot) tryLockSession() bool                  { return tryLockChan(s.session) }
func (s *userSlot) unlockSession()                        { <-s.session }
func (s *userSlot) lockUpload(ctx context.Context) error  { return lockChan(ctx, s.upload) }
func (s *userSlot) unlockUpload()                         { <-s.upload }

// Registry maps user ids to their session-scoped resources: the session
// lock, the upload lock and the working directories currently in use.
type Registry struct {
	mu       sync.Mutex
	slots    map[int64]*userSlot
	workDirs map[string]int64
}

func NewRegistry() *Registry {
	return &Registry{
		slots:    make(map[int64]*userSlot),
		workDirs: make(map[string]int64),
	}
}

func (r *Registry) acquire(userID int64) *userSlot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[userID]
	if !ok {
		s = newUserSlot()
		r.slots[userID] = s
	}
	s.refs++
	return s
}

func (r *Registry) release(userID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[userID]
	if !ok {
		return
	}
	s.refs--
	if s.refs <= 0 {
		delete(r.slots, userID)
	}
}

// Slots is the number of users with live locks.
func (r *Registry) Slots() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.slots)
}

func (r *Registry) trackWorkDir(userID int64, dir string) {
	if dir == "" {
		return
	}
	r.mu.Lock()
	r.workDirs[dir] = userID
	r.mu.Unlock()
}

func (r *Registry) untrackWorkDir(dir string) {
	r.mu.Lock()
	delete(r.workDirs, dir)
	r.mu.Unlock()
}

// InUse reports whether dir belongs to a session this process knows about.
func (r *Registry) InUse(dir string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.workDirs[dir]
	return ok
}
