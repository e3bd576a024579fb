package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/BatmanBruc/bat-bot-video/internal/contextkeys"
	"github.com/BatmanBruc/bat-bot-video/internal/converter"
	"github.com/BatmanBruc/bat-bot-video/internal/extractor"
	"github.com/BatmanBruc/bat-bot-video/internal/formats"
	"github.com/BatmanBruc/bat-bot-video/internal/logx"
	"github.com/BatmanBruc/bat-bot-video/internal/messages"
	"github.com/BatmanBruc/bat-bot-video/internal/retry"
	"github.com/BatmanBruc/bat-bot-video/internal/utils"
	"github.com/BatmanBruc/bat-bot-video/types"
)

// WorkDirPrefix starts the name of every session working directory.
const WorkDirPrefix = "video_"

type session struct {
	id       string
	userID   int64
	chatID   int64
	url      string
	workDir  string
	statusID int
	filePath string
	fileSize int64
	duration float64

	delivered bool
	notified  bool
}

func (o *Orchestrator) onStartDownload(ctx context.Context, req Request, state types.State) {
	o.cleanupState(ctx, req.UserID, state)
	id := o.show(ctx, req.ChatID, req.MessageID, messages.AskURL(), utils.BuildMenuKeyboard(formats.CancelButton()))
	if err := o.saveState(ctx, req.UserID, types.AwaitingURL{PromptMessageID: id}); err != nil {
		o.send(ctx, req.ChatID, messages.ErrorStorage(), nil)
	}
}

func (o *Orchestrator) onCancel(ctx context.Context, req Request, state types.State) {
	if state.Kind() != types.StateIdle {
		logx.FromCtx(ctx).Info().Str("state", string(state.Kind())).Msg("cancelled by user")
	}
	o.cleanupState(ctx, req.UserID, state)
	o.show(ctx, req.ChatID, req.MessageID, messages.MainMenu(), menuKeyboard())
}

func (o *Orchestrator) onSubmitURL(ctx context.Context, req Request, state types.State, text string) {
	prompt := 0
	switch st := state.(type) {
	case types.AwaitingURL:
		prompt = st.PromptMessageID
	case types.Idle:
		if !LooksLikeURL(text) {
			o.send(ctx, req.ChatID, messages.MainMenu(), menuKeyboard())
			return
		}
	case types.AwaitingConfirmation:
		o.abortConfirmation(ctx, req.UserID, req.ChatID, st)
		if !LooksLikeURL(text) {
			o.send(ctx, req.ChatID, messages.ConfirmationAborted(), menuKeyboard())
			return
		}
	case types.AwaitingQualityChoice:
		if !LooksLikeURL(text) {
			o.rejectInvalidState(ctx, req, state)
			return
		}
		closing := messages.Cancelled()
		if st.Delivered {
			closing = messages.Done()
		}
		o.edit(ctx, req.ChatID, st.StatusMessageID, closing, nil)
		o.cleanupState(ctx, req.UserID, state)
	default:
		o.rejectInvalidState(ctx, req, state)
		return
	}

	u, err := ValidateURL(text)
	if err != nil {
		logx.FromCtx(ctx).Info().Err(err).Msg("rejected url")
		o.send(ctx, req.ChatID, messages.ErrorInvalidURL(invalidReason(err)), nil)
		return
	}
	o.edit(ctx, req.ChatID, prompt, messages.AskURL(), nil)
	o.checkSize(ctx, req, u)
}

func invalidReason(err error) string {
	return strings.TrimPrefix(err.Error(), ErrInvalidURL.Error()+": ")
}

// checkSize probes url and routes it to download, confirmation or
// rejection. A failed probe downloads anyway.
func (o *Orchestrator) checkSize(ctx context.Context, req Request, url string) {
	log := logx.FromCtx(ctx)
	statusID := o.send(ctx, req.ChatID, messages.Checking(), nil)

	probe, err := o.extractor.Probe(ctx, url, o.cfg.ProbeTimeout)
	if err != nil {
		if ctx.Err() != nil {
			o.edit(context.WithoutCancel(ctx), req.ChatID, statusID, messages.Cancelled(), nil)
			return
		}
		log.Warn().Err(err).Msg("probe failed, downloading without a size estimate")
		o.runSession(ctx, req.UserID, req.ChatID, url, statusID)
		return
	}

	// Routing uses the post-encode estimate only. The source size is
	// informational; an unknown duration goes straight to download.
	estimate := EstimatePreEncode(probe.DurationSeconds, o.presetFor(ctx, req.UserID))
	limit := o.cfg.MaxFileSize
	route := RouteBySize(estimate, limit, o.cfg.WarnFactor)
	log.Info().
		Int64("estimate", estimate).
		Int64("source_size", probe.SizeBytes).
		Float64("duration", probe.DurationSeconds).
		Stringer("route", route).
		Msg("size check")

	switch route {
	case RouteReject:
		o.show(ctx, req.ChatID, statusID, messages.TooLarge(estimate, limit), nil)
		if err := o.states.ClearState(req.UserID); err != nil {
			log.Warn().Err(err).Msg("cannot clear conversation state")
		}
		o.logAction(ctx, types.LogLevelInfo, fmt.Sprintf("user %d: rejected, estimated %d bytes", req.UserID, estimate))
	case RouteConfirm:
		if err := o.users.SetSetting(req.UserID, types.SettingPendingURL, url); err != nil {
			log.Warn().Err(err).Msg("cannot store pending url")
		}
		st := types.AwaitingConfirmation{
			URL:             url,
			EstimatedBytes:  estimate,
			DurationSeconds: probe.DurationSeconds,
			StatusMessageID: statusID,
		}
		if err := o.saveState(ctx, req.UserID, st); err != nil {
			o.deletePendingURL(ctx, req.UserID)
			o.show(ctx, req.ChatID, statusID, messages.ErrorStorage(), nil)
			return
		}
		kb := utils.BuildInlineKeyboardRows(formats.ConfirmButtons(), 2)
		o.show(ctx, req.ChatID, statusID, messages.ConfirmLarge(estimate, limit), kb)
	default:
		o.runSession(ctx, req.UserID, req.ChatID, url, statusID)
	}
}

func (o *Orchestrator) onConfirm(ctx context.Context, req Request, state types.State, yes bool) {
	st, ok := state.(types.AwaitingConfirmation)
	if !ok {
		o.rejectInvalidState(ctx, req, state)
		return
	}
	url := st.URL
	if url == "" {
		if v, found, err := o.users.GetSetting(req.UserID, types.SettingPendingURL); err == nil && found {
			url = v
		}
	}
	statusID := st.StatusMessageID
	if req.MessageID != 0 {
		statusID = req.MessageID
	}

	if !yes || url == "" {
		o.abortConfirmation(ctx, req.UserID, req.ChatID, st)
		o.show(ctx, req.ChatID, statusID, messages.ConfirmationAborted(), menuKeyboard())
		return
	}
	o.deletePendingURL(ctx, req.UserID)
	o.runSession(ctx, req.UserID, req.ChatID, url, statusID)
}

func (o *Orchestrator) abortConfirmation(ctx context.Context, userID, chatID int64, st types.AwaitingConfirmation) {
	o.deletePendingURL(ctx, userID)
	if err := o.states.ClearState(userID); err != nil {
		logx.FromCtx(ctx).Warn().Err(err).Msg("cannot clear conversation state")
	}
	o.edit(ctx, chatID, st.StatusMessageID, messages.Cancelled(), nil)
}

// runSession downloads url and either delivers it, offers compression, or
// reports the failure. The working directory outlives the call only when the
// user is left choosing a quality.
func (o *Orchestrator) runSession(ctx context.Context, userID, chatID int64, url string, statusID int) {
	s := &session{
		id:       uuid.NewString(),
		userID:   userID,
		chatID:   chatID,
		url:      url,
		statusID: statusID,
	}
	ctx = contextkeys.WithSessionID(ctx, s.id)
	log := logx.FromCtx(ctx)
	log.Info().Str("url", url).Msg("session started")

	keep := false
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("session panicked")
			o.fail(ctx, s, messages.ErrorUnexpected(nil))
			keep = false
		}
		if !keep {
			o.finish(ctx, s)
		}
	}()
	keep = o.download(ctx, s)
}

func (o *Orchestrator) download(ctx context.Context, s *session) bool {
	log := logx.FromCtx(ctx)

	dir, err := os.MkdirTemp(o.cfg.DownloadDir, fmt.Sprintf("%s%d_", WorkDirPrefix, s.userID))
	if err != nil {
		log.Error().Err(err).Msg("cannot create working directory")
		o.fail(ctx, s, messages.ErrorUnexpected(err))
		return false
	}
	s.workDir = dir
	o.registry.trackWorkDir(s.userID, dir)

	_ = o.saveState(ctx, s.userID, types.Downloading{
		SessionID:       s.id,
		URL:             s.url,
		WorkDir:         dir,
		StatusMessageID: s.statusID,
	})
	s.statusID = o.show(ctx, s.chatID, s.statusID, messages.Downloading(), nil)

	res, err := o.extractor.Fetch(ctx, s.url, o.cfg.Selectors, dir, o.cfg.DownloadTimeout, o.progressReporter(ctx, s))
	if err != nil {
		log.Warn().Err(err).Msg("download failed")
		o.fail(ctx, s, messages.ErrorFetch(err))
		return false
	}
	path, err := ResolveInWorkDir(dir, res.Path)
	if err != nil {
		log.Error().Err(err).Str("reported", res.Path).Msg("downloaded file rejected")
		o.fail(ctx, s, messages.ErrorFetch(err))
		return false
	}
	fi, err := os.Stat(path)
	if err != nil {
		o.fail(ctx, s, messages.ErrorFetch(err))
		return false
	}
	s.filePath = path
	s.fileSize = fi.Size()
	s.duration = res.DurationSeconds
	if d, err := o.converter.Duration(ctx, path); err != nil {
		log.Debug().Err(err).Msg("cannot measure duration, using extractor value")
	} else if d > 0 {
		s.duration = d
	}
	log.Info().Int64("size", s.fileSize).Float64("duration", s.duration).Msg("downloaded")

	limit := o.cfg.MaxFileSize
	if s.fileSize <= limit {
		if err := o.upload(ctx, s, path); err != nil {
			o.fail(ctx, s, messages.ErrorUpload(err))
			return false
		}
		o.markDelivered(ctx, s)

		var opts []types.QualityOption
		if s.duration > 0 {
			opts = QualityOptions(s.duration, min(limit, s.fileSize-1))
		}
		if len(opts) == 0 {
			o.edit(ctx, s.chatID, s.statusID, messages.Done(), nil)
			return false
		}
		return o.offerQuality(ctx, s, opts, true)
	}

	opts := QualityOptions(s.duration, limit)
	if len(opts) == 0 {
		o.fail(ctx, s, messages.ErrorTooLargeEvenCompressed(s.fileSize, limit))
		return false
	}
	return o.offerQuality(ctx, s, opts, false)
}

func (o *Orchestrator) progressReporter(ctx context.Context, s *session) func(extractor.Progress) {
	var last time.Time
	return func(p extractor.Progress) {
		now := o.now()
		if !last.IsZero() && now.Sub(last) < o.cfg.ProgressInterval {
			return
		}
		last = now
		o.edit(ctx, s.chatID, s.statusID, messages.DownloadProgress(p.Percent, p.Speed, p.ETA), nil)
	}
}

// offerQuality parks the session in awaiting_quality_choice. It reports
// whether the working directory must be kept.
func (o *Orchestrator) offerQuality(ctx context.Context, s *session, opts []types.QualityOption, allowSkip bool) bool {
	text := messages.ChooseQuality(s.fileSize, o.cfg.MaxFileSize, s.delivered)
	kb := utils.BuildInlineKeyboard(formats.QualityButtons(opts, allowSkip))
	if s.delivered {
		// Keep the choice below the video that was just sent.
		o.deleteMessage(ctx, s.chatID, s.statusID)
		s.statusID = o.send(ctx, s.chatID, text, kb)
	} else {
		s.statusID = o.show(ctx, s.chatID, s.statusID, text, kb)
	}

	st := types.AwaitingQualityChoice{
		SessionID:       s.id,
		URL:             s.url,
		WorkDir:         s.workDir,
		FilePath:        s.filePath,
		FileSize:        s.fileSize,
		DurationSeconds: s.duration,
		Delivered:       s.delivered,
		Options:         opts,
		StatusMessageID: s.statusID,
	}
	if err := o.saveState(ctx, s.userID, st); err != nil {
		if s.delivered {
			o.edit(ctx, s.chatID, s.statusID, messages.Done(), nil)
			return false
		}
		o.fail(ctx, s, messages.ErrorStorage())
		return false
	}
	// Parked directories age out through the janitor if never picked up.
	o.registry.untrackWorkDir(s.workDir)
	return true
}

func (o *Orchestrator) resume(ctx context.Context, req Request, st types.AwaitingQualityChoice) (context.Context, *session) {
	s := &session{
		id:        st.SessionID,
		userID:    req.UserID,
		chatID:    req.ChatID,
		url:       st.URL,
		workDir:   st.WorkDir,
		statusID:  st.StatusMessageID,
		filePath:  st.FilePath,
		fileSize:  st.FileSize,
		duration:  st.DurationSeconds,
		delivered: st.Delivered,
	}
	if s.id == "" {
		s.id = uuid.NewString()
	}
	if req.MessageID != 0 {
		s.statusID = req.MessageID
	}
	o.registry.trackWorkDir(s.userID, s.workDir)
	return contextkeys.WithSessionID(ctx, s.id), s
}

func (o *Orchestrator) onChooseQuality(ctx context.Context, req Request, state types.State, height int) {
	st, ok := state.(types.AwaitingQualityChoice)
	if !ok {
		o.rejectInvalidState(ctx, req, state)
		return
	}
	opt, ok := st.Option(height)
	if !ok {
		o.rejectInvalidState(ctx, req, state)
		return
	}
	ctx, s := o.resume(ctx, req, st)
	defer func() {
		if r := recover(); r != nil {
			logx.FromCtx(ctx).Error().Interface("panic", r).Msg("session panicked")
			o.fail(ctx, s, messages.ErrorUnexpected(nil))
		}
		o.finish(ctx, s)
	}()
	o.encodeAndSend(ctx, s, opt)
}

func (o *Orchestrator) encodeAndSend(ctx context.Context, s *session, opt types.QualityOption) {
	log := logx.FromCtx(ctx)
	if _, err := os.Stat(s.filePath); err != nil || !o.ownsWorkDir(s.workDir) {
		log.Warn().Err(err).Msg("source file is gone")
		o.fail(ctx, s, messages.ErrorExpired())
		return
	}

	label := formats.ResolutionLabel(opt.Height)
	out := converter.OutputPath(s.filePath, opt.Height)
	_ = o.saveState(ctx, s.userID, types.Encoding{
		SessionID:       s.id,
		WorkDir:         s.workDir,
		FilePath:        s.filePath,
		Height:          opt.Height,
		StatusMessageID: s.statusID,
	})
	s.statusID = o.show(ctx, s.chatID, s.statusID, messages.Encoding(label), nil)

	preset := o.presetFor(ctx, s.userID)
	size, err := o.converter.Encode(ctx, converter.Request{
		Input:     s.filePath,
		Output:    out,
		Preset:    preset,
		RF:        o.cfg.QualityRF,
		MaxHeight: opt.Height,
	}, o.cfg.EncodeTimeout)
	if err != nil {
		log.Warn().Err(err).Str("preset", preset).Int("height", opt.Height).Msg("encode failed")
		o.failCopy(ctx, s, messages.ErrorEncode(err), err)
		return
	}
	log.Info().Int64("size", size).Int64("estimate", opt.EstimatedBytes).Int("height", opt.Height).Msg("encoded")
	if size > o.cfg.MaxFileSize {
		_ = os.Remove(out)
		o.failCopy(ctx, s, messages.EncodedTooLarge(size, o.cfg.MaxFileSize), nil)
		return
	}

	s.filePath = out
	if err := o.upload(ctx, s, out); err != nil {
		o.failCopy(ctx, s, messages.ErrorUpload(err), err)
		return
	}
	o.markDelivered(ctx, s)
	o.edit(ctx, s.chatID, s.statusID, messages.Done(), nil)
}

func (o *Orchestrator) onSkipQuality(ctx context.Context, req Request, state types.State) {
	st, ok := state.(types.AwaitingQualityChoice)
	if !ok {
		o.rejectInvalidState(ctx, req, state)
		return
	}
	if !st.Delivered && st.FileSize > o.cfg.MaxFileSize {
		o.rejectInvalidState(ctx, req, state)
		return
	}
	ctx, s := o.resume(ctx, req, st)
	defer func() {
		if r := recover(); r != nil {
			logx.FromCtx(ctx).Error().Interface("panic", r).Msg("session panicked")
			o.fail(ctx, s, messages.ErrorUnexpected(nil))
		}
		o.finish(ctx, s)
	}()

	if s.delivered {
		o.show(ctx, s.chatID, s.statusID, messages.Done(), nil)
		return
	}
	if _, err := os.Stat(s.filePath); err != nil || !o.ownsWorkDir(s.workDir) {
		o.fail(ctx, s, messages.ErrorExpired())
		return
	}
	if err := o.upload(ctx, s, s.filePath); err != nil {
		o.fail(ctx, s, messages.ErrorUpload(err))
		return
	}
	o.markDelivered(ctx, s)
	o.edit(ctx, s.chatID, s.statusID, messages.Done(), nil)
}

// upload sends path as a video, retrying transient failures. Each attempt
// has its own timeout.
func (o *Orchestrator) upload(ctx context.Context, s *session, path string) error {
	log := logx.FromCtx(ctx)
	slot := o.registry.acquire(s.userID)
	defer o.registry.release(s.userID)
	if err := slot.lockUpload(ctx); err != nil {
		return err
	}
	defer slot.unlockUpload()

	_ = o.saveState(ctx, s.userID, types.Uploading{
		SessionID:       s.id,
		WorkDir:         s.workDir,
		FilePath:        path,
		StatusMessageID: s.statusID,
	})
	o.edit(ctx, s.chatID, s.statusID, messages.Uploading(), nil)

	caption := messages.Caption(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
	duration := int(math.Round(s.duration))
	policy := retry.Policy{
		MaxAttempts:  o.cfg.UploadAttempts,
		InitialDelay: o.cfg.UploadInitialDelay,
		MaxDelay:     o.cfg.UploadMaxDelay,
		Classify:     func(err error) bool { return retry.Classify(err, true) },
		OnRetry: func(attempt int, err error, delay time.Duration) {
			log.Warn().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("upload failed, retrying")
		},
	}
	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		actx, cancel := context.WithTimeout(ctx, o.cfg.UploadTimeout)
		defer cancel()
		return o.transport.SendVideo(actx, s.chatID, path, caption, duration)
	})
	if err != nil {
		log.Error().Err(err).Msg("upload failed")
	}
	return err
}

func (o *Orchestrator) markDelivered(ctx context.Context, s *session) {
	s.delivered = true
	logx.FromCtx(ctx).Info().Str("file", filepath.Base(s.filePath)).Msg("delivered")
	o.logAction(ctx, types.LogLevelInfo, fmt.Sprintf("user %d: delivered %s", s.userID, filepath.Base(s.filePath)))
}

// fail tells the user the session failed. A session that already delivered
// a video only gets its status updated.
func (o *Orchestrator) fail(ctx context.Context, s *session, text string) {
	if s.notified {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if !s.delivered {
		s.notified = true
		o.logAction(ctx, types.LogLevelError, fmt.Sprintf("user %d: session %s failed", s.userID, s.id))
	}
	s.statusID = o.show(ctx, s.chatID, s.statusID, text, nil)
}

func (o *Orchestrator) failCopy(ctx context.Context, s *session, text string, err error) {
	if s.delivered {
		text = messages.CompressionFailed(err)
	}
	o.fail(ctx, s, text)
}

// finish ends the session: working directory removed, state and pending
// URL cleared. Safe to call more than once.
func (o *Orchestrator) finish(ctx context.Context, s *session) {
	ctx = context.WithoutCancel(ctx)
	o.removeWorkDir(ctx, s.workDir)
	if err := o.states.ClearState(s.userID); err != nil {
		logx.FromCtx(ctx).Warn().Err(err).Msg("cannot clear conversation state")
	}
	o.deletePendingURL(ctx, s.userID)
	logx.FromCtx(ctx).Info().Bool("delivered", s.delivered).Bool("notified", s.notified).Msg("session finished")
}

// cleanupState drops whatever the stored state still owns.
func (o *Orchestrator) cleanupState(ctx context.Context, userID int64, state types.State) {
	ctx = context.WithoutCancel(ctx)
	o.removeWorkDir(ctx, types.WorkDirOf(state))
	if state.Kind() != types.StateIdle {
		if err := o.states.ClearState(userID); err != nil {
			logx.FromCtx(ctx).Warn().Err(err).Msg("cannot clear conversation state")
		}
	}
	o.deletePendingURL(ctx, userID)
}

func (o *Orchestrator) removeWorkDir(ctx context.Context, dir string) {
	if dir == "" {
		return
	}
	defer o.registry.untrackWorkDir(dir)
	if !o.ownsWorkDir(dir) {
		logx.FromCtx(ctx).Warn().Str("dir", dir).Msg("refusing to remove directory outside the download dir")
		return
	}
	if err := os.RemoveAll(dir); err != nil && !errors.Is(err, os.ErrNotExist) {
		logx.FromCtx(ctx).Warn().Err(err).Str("dir", dir).Msg("cannot remove working directory, queued for the janitor")
		if o.janitor != nil {
			o.janitor.Enqueue(dir)
		}
	}
}

// ownsWorkDir reports whether dir is a session directory directly under
// the download dir.
func (o *Orchestrator) ownsWorkDir(dir string) bool {
	root, err := filepath.Abs(o.cfg.DownloadDir)
	if err != nil {
		return false
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	return filepath.Dir(abs) == root && strings.HasPrefix(filepath.Base(abs), WorkDirPrefix)
}

func (o *Orchestrator) deletePendingURL(ctx context.Context, userID int64) {
	if err := o.users.DeleteSetting(userID, types.SettingPendingURL); err != nil {
		logx.FromCtx(ctx).Debug().Err(err).Msg("cannot delete pending url")
	}
}
