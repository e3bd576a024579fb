package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-telegram/bot/models"

	"github.com/BatmanBruc/bat-bot-video/internal/contextkeys"
	"github.com/BatmanBruc/bat-bot-video/internal/converter"
	"github.com/BatmanBruc/bat-bot-video/internal/extractor"
	"github.com/BatmanBruc/bat-bot-video/internal/formats"
	"github.com/BatmanBruc/bat-bot-video/internal/logx"
	"github.com/BatmanBruc/bat-bot-video/internal/messages"
	"github.com/BatmanBruc/bat-bot-video/internal/utils"
	"github.com/BatmanBruc/bat-bot-video/types"
)

type Extractor interface {
	Probe(ctx context.Context, url string, timeout time.Duration) (extractor.ProbeResult, error)
	Fetch(ctx context.Context, url string, selectors []string, outDir string, timeout time.Duration, onProgress func(extractor.Progress)) (extractor.FetchResult, error)
}

type Converter interface {
	Encode(ctx context.Context, req converter.Request, timeout time.Duration) (int64, error)
	Duration(ctx context.Context, path string) (float64, error)
}

// Janitor deletes what synchronous cleanup could not.
type Janitor interface {
	Enqueue(path string)
}

type Config struct {
	DownloadDir     string
	MaxFileSize     int64
	WarnFactor      float64
	DefaultPreset   string
	QualityRF       int
	Selectors       []string
	ProbeTimeout    time.Duration
	DownloadTimeout time.Duration
	EncodeTimeout   time.Duration

	UploadTimeout      time.Duration
	UploadAttempts     int
	UploadInitialDelay time.Duration
	UploadMaxDelay     time.Duration

	ProgressInterval time.Duration
}

func (c *Config) setDefaults() {
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = 50 * mib
	}
	if c.WarnFactor < 1 {
		c.WarnFactor = 2.0
	}
	if c.DefaultPreset == "" {
		c.DefaultPreset = formats.DefaultPreset
	}
	if c.QualityRF <= 0 {
		c.QualityRF = converter.DefaultRF
	}
	if len(c.Selectors) == 0 {
		c.Selectors = extractor.DefaultSelectors
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 30 * time.Second
	}
	if c.DownloadTimeout <= 0 {
		c.DownloadTimeout = time.Hour
	}
	if c.EncodeTimeout <= 0 {
		c.EncodeTimeout = time.Hour
	}
	if c.UploadTimeout <= 0 {
		c.UploadTimeout = 10 * time.Minute
	}
	if c.UploadAttempts <= 0 {
		c.UploadAttempts = 3
	}
	if c.UploadInitialDelay <= 0 {
		c.UploadInitialDelay = 2 * time.Second
	}
	if c.UploadMaxDelay <= 0 {
		c.UploadMaxDelay = 30 * time.Second
	}
	if c.ProgressInterval <= 0 {
		c.ProgressInterval = 5 * time.Second
	}
}

type Orchestrator struct {
	cfg       Config
	states    types.StateStore
	users     types.UserStore
	transport types.ChatTransport
	extractor Extractor
	converter Converter
	janitor   Janitor
	registry  *Registry
	now       func() time.Time
	wg        sync.WaitGroup
}

func New(cfg Config, states types.StateStore, users types.UserStore, transport types.ChatTransport,
	ext Extractor, conv Converter, janitor Janitor) *Orchestrator {
	cfg.setDefaults()
	return &Orchestrator{
		cfg:       cfg,
		states:    states,
		users:     users,
		transport: transport,
		extractor: ext,
		converter: conv,
		janitor:   janitor,
		registry:  NewRegistry(),
		now:       time.Now,
	}
}

func (o *Orchestrator) Registry() *Registry { return o.registry }

type Event interface {
	eventName() string
}

// StartDownload is the menu's "Download" action.
type StartDownload struct{}

// SubmitURL is any text message.
type SubmitURL struct{ Text string }

type Confirm struct{ Yes bool }

type ChooseQuality struct{ Height int }

type SkipQuality struct{}

// Cancel is the "Back"/"Cancel" action or /cancel.
type Cancel struct{}

func (StartDownload) eventName() string { return "start_download" }
func (SubmitURL) eventName() string     { return "submit_url" }
func (Confirm) eventName() string       { return "confirm" }
func (ChooseQuality) eventName() string { return "choose_quality" }
func (SkipQuality) eventName() string   { return "skip_quality" }
func (Cancel) eventName() string        { return "cancel" }

type Request struct {
	UserID int64
	ChatID int64
	// MessageID is the message a pressed button belongs to, 0 for text.
	MessageID int
	Event     Event
}

// Dispatch runs Handle in the background. Wait blocks until every
// dispatched request has finished.
func (o *Orchestrator) Dispatch(ctx context.Context, req Request) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.Handle(ctx, req)
	}()
}

func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Handle applies one event for one user. Only one event per user is
// processed at a time; a URL submitted while another session holds the lock
// waits for it, everything else is told to wait.
func (o *Orchestrator) Handle(ctx context.Context, req Request) {
	ctx = contextkeys.WithUserID(ctx, req.UserID)
	ctx = contextkeys.WithChatID(ctx, req.ChatID)
	log := logx.FromCtx(ctx)

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("event", req.Event.eventName()).Msg("event handler panicked")
			o.send(context.WithoutCancel(ctx), req.ChatID, messages.ErrorUnexpected(nil), nil)
		}
	}()

	slot := o.registry.acquire(req.UserID)
	defer o.registry.release(req.UserID)

	if !slot.tryLockSession() {
		sub, ok := req.Event.(SubmitURL)
		if !ok || !LooksLikeURL(sub.Text) {
			o.send(ctx, req.ChatID, messages.ErrorStillWorking(), nil)
			return
		}
		queuedID := o.send(ctx, req.ChatID, messages.Queued(), nil)
		if err := slot.lockSession(ctx); err != nil {
			log.Debug().Err(err).Msg("gave up waiting for session lock")
			o.show(context.WithoutCancel(ctx), req.ChatID, queuedID, messages.Cancelled(), nil)
			return
		}
	}
	defer slot.unlockSession()

	state := o.loadState(ctx, req.UserID)
	log.Debug().Str("event", req.Event.eventName()).Str("state", string(state.Kind())).Msg("event")

	if state.Kind().Busy() {
		// A previous process died mid-session; its work is gone.
		log.Warn().Str("state", string(state.Kind())).Msg("stale busy state, resetting")
		o.cleanupState(ctx, req.UserID, state)
		state = types.Idle{}
	}

	switch ev := req.Event.(type) {
	case StartDownload:
		o.onStartDownload(ctx, req, state)
	case Cancel:
		o.onCancel(ctx, req, state)
	case SubmitURL:
		o.onSubmitURL(ctx, req, state, ev.Text)
	case Confirm:
		o.onConfirm(ctx, req, state, ev.Yes)
	case ChooseQuality:
		o.onChooseQuality(ctx, req, state, ev.Height)
	case SkipQuality:
		o.onSkipQuality(ctx, req, state)
	default:
		log.Warn().Str("event", fmt.Sprintf("%T", ev)).Msg("unknown event")
	}
}

func (o *Orchestrator) loadState(ctx context.Context, userID int64) types.State {
	st, err := o.states.GetState(userID)
	if err != nil {
		logx.FromCtx(ctx).Warn().Err(err).Msg("cannot read conversation state, assuming idle")
		return types.Idle{}
	}
	if st == nil {
		return types.Idle{}
	}
	return st
}

// saveState persists st. Failures are logged and returned.
func (o *Orchestrator) saveState(ctx context.Context, userID int64, st types.State) error {
	if err := o.states.SetState(userID, st); err != nil {
		logx.FromCtx(ctx).Error().Err(err).Str("state", string(st.Kind())).Msg("cannot persist conversation state")
		return err
	}
	return nil
}

func (o *Orchestrator) rejectInvalidState(ctx context.Context, req Request, state types.State) {
	logx.FromCtx(ctx).Warn().
		Str("event", req.Event.eventName()).
		Str("state", string(state.Kind())).
		Msg("event does not match conversation state")
	o.send(ctx, req.ChatID, messages.ErrorInvalidState(), nil)
}

// send never fails the flow; it returns 0 when the message was not sent.
func (o *Orchestrator) send(ctx context.Context, chatID int64, text string, kb *models.InlineKeyboardMarkup) int {
	id, err := o.transport.SendText(ctx, chatID, text, kb)
	if err != nil {
		logx.FromCtx(ctx).Warn().Err(err).Msg("send message failed")
		return 0
	}
	return id
}

// show edits messageID when set and falls back to a new message.
func (o *Orchestrator) show(ctx context.Context, chatID int64, messageID int, text string, kb *models.InlineKeyboardMarkup) int {
	if messageID != 0 {
		err := o.transport.EditText(ctx, chatID, messageID, text, kb)
		if err == nil {
			return messageID
		}
		logx.FromCtx(ctx).Debug().Err(err).Int("message_id", messageID).Msg("edit failed, sending new message")
	}
	return o.send(ctx, chatID, text, kb)
}

// edit updates a status message in place; failures are only logged.
func (o *Orchestrator) edit(ctx context.Context, chatID int64, messageID int, text string, kb *models.InlineKeyboardMarkup) {
	if messageID == 0 {
		return
	}
	if err := o.transport.EditText(ctx, chatID, messageID, text, kb); err != nil {
		logx.FromCtx(ctx).Debug().Err(err).Int("message_id", messageID).Msg("status edit failed")
	}
}

func (o *Orchestrator) deleteMessage(ctx context.Context, chatID int64, messageID int) {
	if messageID == 0 {
		return
	}
	if err := o.transport.DeleteMessage(ctx, chatID, messageID); err != nil {
		logx.FromCtx(ctx).Debug().Err(err).Int("message_id", messageID).Msg("delete message failed")
	}
}

func (o *Orchestrator) logAction(ctx context.Context, level, msg string) {
	if o.users == nil {
		return
	}
	if err := o.users.LogAction(level, msg); err != nil {
		logx.FromCtx(ctx).Debug().Err(err).Msg("action log write failed")
	}
}

func (o *Orchestrator) presetFor(ctx context.Context, userID int64) string {
	v, ok, err := o.users.GetSetting(userID, types.SettingEncodingPreset)
	if err != nil {
		logx.FromCtx(ctx).Warn().Err(err).Msg("cannot read preset, using default")
		return o.cfg.DefaultPreset
	}
	if !ok || !formats.PresetExists(v) {
		return o.cfg.DefaultPreset
	}
	return v
}

func menuKeyboard() *models.InlineKeyboardMarkup {
	return utils.BuildMenuKeyboard(formats.MenuButtons()...)
}
