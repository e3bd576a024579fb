package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/BatmanBruc/bat-bot-video/internal/retry"
)

// LogPurger drops action-log rows older than a cutoff.
type LogPurger interface {
	PurgeLogs(olderThan time.Time) (int64, error)
}

// Janitor removes work directories in the background and prunes the
// action log on a timer.
type Janitor struct {
	logs      LogPurger
	inUse     func(dir string) bool
	root      string
	prefix    string
	workers   int
	maxAge    time.Duration
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
	removeAll func(path string) error

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	running   bool
	queue     chan string
	pending   map[string]struct{}
	pendingMu sync.Mutex
}

type Config struct {
	Workers int
	// Root is the directory holding the work dirs.
	Root string
	// Prefix every work dir name starts with. Nothing else under Root is touched.
	Prefix       string
	MaxAge       time.Duration
	LogRetention time.Duration
	Interval     time.Duration
}

// NewJanitor builds a janitor. inUse may be nil when no session registry
// is available, in which case only MaxAge protects a directory.
func NewJanitor(logs LogPurger, inUse func(dir string) bool, config Config) *Janitor {
	if config.Workers <= 0 {
		config.Workers = 2
	}
	if config.MaxAge <= 0 {
		config.MaxAge = 3 * time.Hour
	}
	if config.LogRetention <= 0 {
		config.LogRetention = 48 * time.Hour
	}
	if config.Interval <= 0 {
		config.Interval = time.Hour
	}
	if config.Prefix == "" {
		config.Prefix = "video_"
	}
	if inUse == nil {
		inUse = func(string) bool { return false }
	}

	ctx, cancel := context.WithCancel(context.Background())

	queueSize := config.Workers * 4
	if queueSize < 16 {
		queueSize = 16
	}

	return &Janitor{
		logs:      logs,
		inUse:     inUse,
		root:      config.Root,
		prefix:    config.Prefix,
		workers:   config.Workers,
		maxAge:    config.MaxAge,
		retention: config.LogRetention,
		interval:  config.Interval,
		now:       time.Now,
		removeAll: os.RemoveAll,
		ctx:       ctx,
		cancel:    cancel,
		queue:     make(chan string, queueSize),
		pending:   make(map[string]struct{}),
	}
}

func (j *Janitor) Start() {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		return
	}
	j.running = true
	j.mu.Unlock()

	log.Info().Int("workers", j.workers).Str("root", j.root).Msg("janitor started")

	for i := 0; i < j.workers; i++ {
		j.wg.Add(1)
		go j.worker(i)
	}

	j.wg.Add(1)
	go j.loop()
}

func (j *Janitor) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	j.running = false
	j.mu.Unlock()

	log.Info().Msg("stopping janitor")
	j.cancel()
	j.wg.Wait()
	log.Info().Msg("janitor stopped")
}

// Enqueue schedules path for removal. Paths outside Root, or not carrying
// the work dir prefix, are refused. A path already waiting is not queued twice.
func (j *Janitor) Enqueue(path string) {
	if !j.owns(path) {
		log.Warn().Str("path", path).Msg("janitor refused path outside download dir")
		return
	}

	j.pendingMu.Lock()
	if _, exists := j.pending[path]; exists {
		j.pendingMu.Unlock()
		return
	}
	j.pending[path] = struct{}{}
	j.pendingMu.Unlock()

	go func() {
		select {
		case j.queue <- path:
		case <-j.ctx.Done():
			j.done(path)
		}
	}()
}

// Tick purges old log rows and sweeps stale work dirs.
func (j *Janitor) Tick() {
	if j.logs != nil {
		cutoff := j.now().Add(-j.retention)
		n, err := j.logs.PurgeLogs(cutoff)
		if err != nil {
			log.Error().Err(err).Msg("purge logs failed")
		} else if n > 0 {
			log.Info().Int64("rows", n).Msg("purged old log rows")
		}
	}
	j.Sweep()
}

// Sweep enqueues every work dir under Root older than MaxAge that no
// live session claims. It returns how many were enqueued.
func (j *Janitor) Sweep() int {
	if j.root == "" {
		return 0
	}
	entries, err := os.ReadDir(j.root)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("root", j.root).Msg("cannot list download dir")
		}
		return 0
	}

	cutoff := j.now().Add(-j.maxAge)
	enqueued := 0
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), j.prefix) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(j.root, e.Name())
		if j.inUse(path) {
			continue
		}
		j.Enqueue(path)
		enqueued++
	}
	if enqueued > 0 {
		log.Info().Int("dirs", enqueued).Msg("sweeping stale work dirs")
	}
	return enqueued
}

func (j *Janitor) loop() {
	defer j.wg.Done()

	j.Tick()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-j.ctx.Done():
			return
		case <-ticker.C:
			j.Tick()
		}
	}
}

func (j *Janitor) worker(id int) {
	defer j.wg.Done()

	for {
		select {
		case <-j.ctx.Done():
			log.Debug().Int("worker", id).Msg("janitor worker stopped")
			return
		case path := <-j.queue:
			j.remove(path)
			j.done(path)
		}
	}
}

func (j *Janitor) remove(path string) {
	policy := retry.Policy{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Classify:     func(error) bool { return true },
	}
	err := retry.Do(j.ctx, policy, func(context.Context) error {
		return j.removeAll(path)
	})
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("cannot remove work dir")
		return
	}
	log.Debug().Str("path", path).Msg("work dir removed")
}

func (j *Janitor) done(path string) {
	j.pendingMu.Lock()
	delete(j.pending, path)
	j.pendingMu.Unlock()
}

func (j *Janitor) owns(path string) bool {
	if j.root == "" || path == "" {
		return false
	}
	root, err := filepath.Abs(j.root)
	if err != nil {
		return false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	return filepath.Dir(abs) == root && strings.HasPrefix(filepath.Base(abs), j.prefix)
}
