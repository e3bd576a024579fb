package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/require"

	"github.com/BatmanBruc/bat-bot-video/internal/converter"
	"github.com/BatmanBruc/bat-bot-video/internal/extractor"
	"github.com/BatmanBruc/bat-bot-video/store"
	"github.com/BatmanBruc/bat-bot-video/types"
)

type sentMessage struct {
	ID       int
	Text     string
	Keyboard *models.InlineKeyboardMarkup
}

type sentVideo struct {
	Path     string
	Caption  string
	Duration int
}

type fakeTransport struct {
	mu       sync.Mutex
	nextID   int
	messages []sentMessage
	edits    []sentMessage
	videos   []sentVideo
	attempts int
	// videoErr is consulted on every SendVideo call with the 1-based attempt.
	videoErr func(attempt int) error
	// textErr makes every send, edit and delete fail. Failed texts are kept
	// in failed.
	textErr error
	failed  []string
}

func (f *fakeTransport) SendText(_ context.Context, _ int64, text string, kb *models.InlineKeyboardMarkup) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.textErr != nil {
		f.failed = append(f.failed, text)
		return 0, f.textErr
	}
	f.nextID++
	f.messages = append(f.messages, sentMessage{ID: f.nextID, Text: text, Keyboard: kb})
	return f.nextID, nil
}

func (f *fakeTransport) EditText(_ context.Context, _ int64, messageID int, text string, kb *models.InlineKeyboardMarkup) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.textErr != nil {
		f.failed = append(f.failed, text)
		return f.textErr
	}
	f.edits = append(f.edits, sentMessage{ID: messageID, Text: text, Keyboard: kb})
	return nil
}

func (f *fakeTransport) DeleteMessage(context.Context, int64, int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.textErr
}

func (f *fakeTransport) SendVideo(_ context.Context, _ int64, path, caption string, duration int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.videoErr != nil {
		if err := f.videoErr(f.attempts); err != nil {
			return err
		}
	}
	f.videos = append(f.videos, sentVideo{Path: path, Caption: caption, Duration: duration})
	return nil
}

func (f *fakeTransport) AnswerCallback(context.Context, string, string, bool) error { return nil }

// texts returns every sent and edited text in order of arrival per kind.
func (f *fakeTransport) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, m := range f.messages {
		out = append(out, m.Text)
	}
	for _, m := range f.edits {
		out = append(out, m.Text)
	}
	return out
}

func (f *fakeTransport) lastMessage() sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.messages) == 0 {
		return sentMessage{}
	}
	return f.messages[len(f.messages)-1]
}

// messageID returns the id of the first sent message with text, or 0.
func (f *fakeTransport) messageID(text string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages {
		if m.Text == text {
			return m.ID
		}
	}
	return 0
}

func (f *fakeTransport) editsOf(id int) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, m := range f.edits {
		if m.ID == id {
			out = append(out, m.Text)
		}
	}
	return out
}

func (f *fakeTransport) videoCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.videos)
}

type fakeUsers struct {
	mu       sync.Mutex
	settings map[string]string
	logs     []string
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{settings: make(map[string]string)}
}

func settingKey(userID int64, key string) string {
	return fmt.Sprintf("%d:%s", userID, key)
}

func (f *fakeUsers) AddUser(int64, bool) error          { return nil }
func (f *fakeUsers) IsWhitelisted(int64) (bool, error)  { return true, nil }
func (f *fakeUsers) PurgeLogs(time.Time) (int64, error) { return 0, nil }
func (f *fakeUsers) Ping() error                        { return nil }

func (f *fakeUsers) GetSetting(userID int64, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.settings[settingKey(userID, key)]
	return v, ok, nil
}

func (f *fakeUsers) SetSetting(userID int64, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settings[settingKey(userID, key)] = value
	return nil
}

func (f *fakeUsers) DeleteSetting(userID int64, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.settings, settingKey(userID, key))
	return nil
}

func (f *fakeUsers) LogAction(level, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, level+" "+message)
	return nil
}

type fakeExtractor struct {
	probe      extractor.ProbeResult
	probeErr   error
	probeCalls atomic.Int32
	fetchCalls atomic.Int32

	// fetch replaces the default behaviour of writing fileName with fileSize
	// bytes into the working directory.
	fetch    func(ctx context.Context, outDir string) (extractor.FetchResult, error)
	fileName string
	fileSize int64
	duration float64
}

func (f *fakeExtractor) Probe(context.Context, string, time.Duration) (extractor.ProbeResult, error) {
	f.probeCalls.Add(1)
	return f.probe, f.probeErr
}

func (f *fakeExtractor) Fetch(ctx context.Context, _ string, _ []string, outDir string, _ time.Duration, onProgress func(extractor.Progress)) (extractor.FetchResult, error) {
	f.fetchCalls.Add(1)
	if f.fetch != nil {
		return f.fetch(ctx, outDir)
	}
	name := f.fileName
	if name == "" {
		name = "clip.mp4"
	}
	path := filepath.Join(outDir, name)
	if err := writeSized(path, f.fileSize); err != nil {
		return extractor.FetchResult{}, err
	}
	if onProgress != nil {
		onProgress(extractor.Progress{Percent: "100%", Speed: "1MiB/s", ETA: "00:00"})
	}
	return extractor.FetchResult{Path: path, Title: name, DurationSeconds: f.duration}, nil
}

func writeSized(path string, size int64) error {
	fh, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fh.Truncate(size); err != nil {
		_ = fh.Close()
		return err
	}
	return fh.Close()
}

type fakeConverter struct {
	mu         sync.Mutex
	duration   float64
	outputSize int64
	encodeErr  error
	requests   []converter.Request
}

func (f *fakeConverter) Encode(_ context.Context, req converter.Request, _ time.Duration) (int64, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.encodeErr != nil {
		return 0, f.encodeErr
	}
	if err := writeSized(req.Output, f.outputSize); err != nil {
		return 0, err
	}
	return f.outputSize, nil
}

func (f *fakeConverter) Duration(context.Context, string) (float64, error) {
	if f.duration <= 0 {
		return 0, errors.New("no duration")
	}
	return f.duration, nil
}

type fakeJanitor struct {
	mu    sync.Mutex
	paths []string
}

func (f *fakeJanitor) Enqueue(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = append(f.paths, path)
}

type harness struct {
	o         *Orchestrator
	states    *store.MemoryStateStore
	users     *fakeUsers
	transport *fakeTransport
	extractor *fakeExtractor
	converter *fakeConverter
	janitor   *fakeJanitor
	dir       string
}

const (
	testUser int64 = 7
	testChat int64 = 7
)

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		states:    store.NewMemoryStateStore(),
		users:     newFakeUsers(),
		transport: &fakeTransport{},
		extractor: &fakeExtractor{},
		converter: &fakeConverter{},
		janitor:   &fakeJanitor{},
		dir:       t.TempDir(),
	}
	h.o = New(Config{
		DownloadDir:        h.dir,
		MaxFileSize:        50 * mib,
		WarnFactor:         2.0,
		UploadAttempts:     3,
		UploadInitialDelay: time.Millisecond,
		UploadMaxDelay:     2 * time.Millisecond,
		ProgressInterval:   time.Millisecond,
	}, h.states, h.users, h.transport, h.extractor, h.converter, h.janitor)
	return h
}

func (h *harness) handle(ev Event) {
	h.o.Handle(context.Background(), Request{UserID: testUser, ChatID: testChat, Event: ev})
}

func (h *harness) state(t *testing.T) types.State {
	t.Helper()
	st, err := h.states.GetState(testUser)
	require.NoError(t, err)
	return st
}

// workDirs lists the session directories left on disk.
func (h *harness) workDirs(t *testing.T) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(h.dir, WorkDirPrefix+"*"))
	require.NoError(t, err)
	return matches
}
