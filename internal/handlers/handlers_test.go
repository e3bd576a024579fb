package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/require"

	"github.com/BatmanBruc/bat-bot-video/internal/contextkeys"
	"github.com/BatmanBruc/bat-bot-video/internal/formats"
	"github.com/BatmanBruc/bat-bot-video/internal/messages"
	"github.com/BatmanBruc/bat-bot-video/internal/orchestrator"
	"github.com/BatmanBruc/bat-bot-video/types"
)

type fakeFlow struct {
	reqs []orchestrator.Request
}

func (f *fakeFlow) Dispatch(_ context.Context, req orchestrator.Request) {
	f.reqs = append(f.reqs, req)
}

type message struct {
	ID       int
	Text     string
	Keyboard *models.InlineKeyboardMarkup
}

type fakeTransport struct {
	sent    []message
	edited  []message
	answers []string
	editErr error
}

func (f *fakeTransport) SendText(_ context.Context, _ int64, text string, kb *models.InlineKeyboardMarkup) (int, error) {
	f.sent = append(f.sent, message{ID: len(f.sent) + 1, Text: text, Keyboard: kb})
	return len(f.sent), nil
}

func (f *fakeTransport) EditText(_ context.Context, _ int64, id int, text string, kb *models.InlineKeyboardMarkup) error {
	if f.editErr != nil {
		return f.editErr
	}
	f.edited = append(f.edited, message{ID: id, Text: text, Keyboard: kb})
	return nil
}

func (f *fakeTransport) DeleteMessage(context.Context, int64, int) error { return nil }

func (f *fakeTransport) SendVideo(context.Context, int64, string, string, int) error { return nil }

func (f *fakeTransport) AnswerCallback(_ context.Context, _ string, text string, _ bool) error {
	f.answers = append(f.answers, text)
	return nil
}

type fakeUsers struct {
	settings map[string]string
}

func (f *fakeUsers) AddUser(int64, bool) error             { return nil }
func (f *fakeUsers) IsWhitelisted(int64) (bool, error)     { return true, nil }
func (f *fakeUsers) LogAction(string, string) error        { return nil }
func (f *fakeUsers) PurgeLogs(time.Time) (int64, error)    { return 0, nil }
func (f *fakeUsers) Ping() error                           { return nil }
func (f *fakeUsers) DeleteSetting(_ int64, k string) error { delete(f.settings, k); return nil }

func (f *fakeUsers) GetSetting(_ int64, k string) (string, bool, error) {
	v, ok := f.settings[k]
	return v, ok, nil
}

func (f *fakeUsers) SetSetting(_ int64, k, v string) error {
	f.settings[k] = v
	return nil
}

type fixture struct {
	h     *Handlers
	tr    *fakeTransport
	users *fakeUsers
	flow  *fakeFlow
}

func newFixture() *fixture {
	f := &fixture{
		tr:    &fakeTransport{},
		users: &fakeUsers{settings: map[string]string{}},
		flow:  &fakeFlow{},
	}
	f.h = NewHandlers(context.Background(), f.tr, f.users, f.flow, Config{
		MaxFileSizeMB: 50,
		DefaultPreset: formats.DefaultPreset,
	})
	return f
}

func textUpdate(text string) *models.Update {
	return &models.Update{Message: &models.Message{
		ID:   3,
		From: &models.User{ID: 42},
		Chat: models.Chat{ID: 42},
		Text: text,
	}}
}

func callbackUpdate(data string) *models.Update {
	return &models.Update{CallbackQuery: &models.CallbackQuery{
		ID:   "cb",
		From: models.User{ID: 42},
		Data: data,
		Message: models.MaybeInaccessibleMessage{
			Message: &models.Message{ID: 17, Chat: models.Chat{ID: 42}},
		},
	}}
}

func withType(t contextkeys.MessageType) context.Context {
	return contextkeys.WithMessageType(context.Background(), t)
}

func TestCommands(t *testing.T) {
	f := newFixture()

	f.h.MainHandler(withType(contextkeys.MessageTypeCommand), nil, textUpdate("/start"))
	require.Equal(t, messages.StartWelcome(), f.tr.sent[0].Text)
	require.Len(t, f.tr.sent[0].Keyboard.InlineKeyboard, 3)

	f.h.MainHandler(withType(contextkeys.MessageTypeCommand), nil, textUpdate("/help@video_bot"))
	require.Contains(t, f.tr.sent[1].Text, "50 MB")

	f.h.MainHandler(withType(contextkeys.MessageTypeCommand), nil, textUpdate("/nope"))
	require.Equal(t, messages.ErrorUnknownCommand(), f.tr.sent[2].Text)

	f.h.MainHandler(withType(contextkeys.MessageTypeCommand), nil, textUpdate("/cancel"))
	require.Len(t, f.flow.reqs, 1)
	require.Equal(t, orchestrator.Cancel{}, f.flow.reqs[0].Event)
}

func TestSettingsCommand_ShowsCurrentPreset(t *testing.T) {
	f := newFixture()
	f.users.settings[types.SettingEncodingPreset] = "Fast 1080p30"

	f.h.MainHandler(withType(contextkeys.MessageTypeCommand), nil, textUpdate("/settings"))

	require.Contains(t, f.tr.sent[0].Text, "Fast 1080p30")
	rows := f.tr.sent[0].Keyboard.InlineKeyboard
	require.Len(t, rows, len(formats.Presets)+1)
	require.Contains(t, rows[4][0].Text, "✅")
}

func TestText_IsDispatchedAsURL(t *testing.T) {
	f := newFixture()

	f.h.MainHandler(withType(contextkeys.MessageTypeText), nil, textUpdate("  https://x.com/v/1 "))

	require.Len(t, f.flow.reqs, 1)
	req := f.flow.reqs[0]
	require.Equal(t, int64(42), req.UserID)
	require.Equal(t, int64(42), req.ChatID)
	require.Equal(t, orchestrator.SubmitURL{Text: "https://x.com/v/1"}, req.Event)
}

func TestUnsupportedMessage(t *testing.T) {
	f := newFixture()

	f.h.MainHandler(withType(contextkeys.MessageTypeMedia), nil, textUpdate(""))

	require.Equal(t, messages.ErrorUnsupportedMessageType(), f.tr.sent[0].Text)
	require.Empty(t, f.flow.reqs)
}

func TestCallbacks_DispatchEvents(t *testing.T) {
	tests := []struct {
		data string
		want orchestrator.Event
	}{
		{formats.CallbackDownload, orchestrator.StartDownload{}},
		{formats.CallbackBack, orchestrator.Cancel{}},
		{formats.CallbackConfirmYes, orchestrator.Confirm{Yes: true}},
		{formats.CallbackConfirmNo, orchestrator.Confirm{Yes: false}},
		{"quality:720", orchestrator.ChooseQuality{Height: 720}},
		{formats.CallbackQualitySkip, orchestrator.SkipQuality{}},
	}
	for _, tt := range tests {
		t.Run(tt.data, func(t *testing.T) {
			f := newFixture()
			ctx := contextkeys.WithCallbackData(withType(contextkeys.MessageTypeClickButton), tt.data)

			f.h.MainHandler(ctx, nil, callbackUpdate(tt.data))

			require.Len(t, f.tr.answers, 1)
			require.Len(t, f.flow.reqs, 1)
			require.Equal(t, tt.want, f.flow.reqs[0].Event)
			require.Equal(t, 17, f.flow.reqs[0].MessageID)
		})
	}
}

func TestCallbacks_HelpEditsInPlace(t *testing.T) {
	f := newFixture()
	ctx := withType(contextkeys.MessageTypeClickButton)

	f.h.MainHandler(ctx, nil, callbackUpdate(formats.CallbackHelp))

	require.Len(t, f.tr.edited, 1)
	require.Equal(t, 17, f.tr.edited[0].ID)
	require.Contains(t, f.tr.edited[0].Text, "How to use")
	require.Empty(t, f.tr.sent)
}

func TestCallbacks_HelpFallsBackToNewMessage(t *testing.T) {
	f := newFixture()
	f.tr.editErr = context.DeadlineExceeded

	f.h.MainHandler(withType(contextkeys.MessageTypeClickButton), nil, callbackUpdate(formats.CallbackHelp))

	require.Len(t, f.tr.sent, 1)
}

func TestCallbacks_PresetIsSaved(t *testing.T) {
	f := newFixture()

	f.h.MainHandler(withType(contextkeys.MessageTypeClickButton), nil, callbackUpdate("preset:0"))

	require.Equal(t, formats.Presets[0].Name, f.users.settings[types.SettingEncodingPreset])
	require.Equal(t, []string{messages.PresetSaved(formats.Presets[0].Name)}, f.tr.answers)
	require.Len(t, f.tr.edited, 1)
	require.Contains(t, f.tr.edited[0].Text, formats.Presets[0].Name)
	require.Empty(t, f.flow.reqs)
}

func TestCallbacks_UnknownData(t *testing.T) {
	f := newFixture()

	f.h.MainHandler(withType(contextkeys.MessageTypeClickButton), nil, callbackUpdate("preset:99"))

	require.Len(t, f.tr.answers, 1)
	require.Equal(t, messages.ErrorInvalidState(), f.tr.sent[0].Text)
	require.Empty(t, f.users.settings)
}
