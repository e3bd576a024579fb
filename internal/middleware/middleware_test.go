package middleware

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/require"

	"github.com/BatmanBruc/bat-bot-video/internal/contextkeys"
	"github.com/BatmanBruc/bat-bot-video/internal/messages"
)

type fakeUsers struct {
	allowed map[int64]bool
	err     error
	logs    []string
	added   map[int64]bool
}

func (f *fakeUsers) AddUser(id int64, whitelisted bool) error {
	if f.added == nil {
		f.added = map[int64]bool{}
	}
	f.added[id] = whitelisted
	return nil
}

func (f *fakeUsers) IsWhitelisted(id int64) (bool, error) {
	return f.allowed[id], f.err
}
func (f *fakeUsers) GetSetting(int64, string) (string, bool, error) { return "", false, nil }
func (f *fakeUsers) SetSetting(int64, string, string) error         { return nil }
func (f *fakeUsers) DeleteSetting(int64, string) error              { return nil }
func (f *fakeUsers) LogAction(level, message string) error {
	f.logs = append(f.logs, level+" "+message)
	return nil
}
func (f *fakeUsers) PurgeLogs(time.Time) (int64, error) { return 0, nil }
func (f *fakeUsers) Ping() error                        { return nil }

type fakeTransport struct {
	texts    []string
	answers  []string
	alerts   []bool
	answerID []string
}

func (f *fakeTransport) SendText(_ context.Context, _ int64, text string, _ *models.InlineKeyboardMarkup) (int, error) {
	f.texts = append(f.texts, text)
	return len(f.texts), nil
}
func (f *fakeTransport) EditText(context.Context, int64, int, string, *models.InlineKeyboardMarkup) error {
	return nil
}
func (f *fakeTransport) DeleteMessage(context.Context, int64, int) error { return nil }
func (f *fakeTransport) SendVideo(context.Context, int64, string, string, int) error {
	return nil
}
func (f *fakeTransport) AnswerCallback(_ context.Context, id, text string, alert bool) error {
	f.answerID = append(f.answerID, id)
	f.answers = append(f.answers, text)
	f.alerts = append(f.alerts, alert)
	return nil
}

func textUpdate(userID int64, text string) *models.Update {
	return &models.Update{Message: &models.Message{
		ID:   1,
		From: &models.User{ID: userID},
		Chat: models.Chat{ID: userID},
		Text: text,
	}}
}

func callbackUpdate(userID int64, data string) *models.Update {
	return &models.Update{CallbackQuery: &models.CallbackQuery{
		ID:   "cb-1",
		From: models.User{ID: userID},
		Data: data,
		Message: models.MaybeInaccessibleMessage{
			Message: &models.Message{ID: 5, Chat: models.Chat{ID: userID}},
		},
	}}
}

type recorder struct {
	calls int
	ctx   context.Context
}

func (r *recorder) handler(ctx context.Context, _ *bot.Bot, _ *models.Update) {
	r.calls++
	r.ctx = ctx
}

func TestAuthMiddleware_AllowsWhitelisted(t *testing.T) {
	users := &fakeUsers{allowed: map[int64]bool{42: true}}
	tr := &fakeTransport{}
	rec := &recorder{}
	m := New(users, tr)

	m.AuthMiddleware(rec.handler)(context.Background(), nil, textUpdate(42, "hi"))

	require.Equal(t, 1, rec.calls)
	require.Empty(t, users.added)
	uid, ok := contextkeys.GetUserID(rec.ctx)
	require.True(t, ok)
	require.Equal(t, int64(42), uid)
	cid, _ := contextkeys.GetChatID(rec.ctx)
	require.Equal(t, int64(42), cid)
	require.Empty(t, tr.texts)
}

func TestAuthMiddleware_RejectsUnknownUser(t *testing.T) {
	users := &fakeUsers{allowed: map[int64]bool{42: true}}
	tr := &fakeTransport{}
	rec := &recorder{}
	m := New(users, tr)

	m.AuthMiddleware(rec.handler)(context.Background(), nil, textUpdate(7, "https://x.com/v"))

	require.Equal(t, 0, rec.calls)
	require.Equal(t, []string{messages.ErrorUnauthorized()}, tr.texts)
	require.Len(t, users.logs, 1)
	require.Contains(t, users.logs[0], "WARNING unauthorized access from user 7")
	require.Equal(t, map[int64]bool{7: false}, users.added)
}

func TestAuthMiddleware_RejectsButtonPressWithAlert(t *testing.T) {
	users := &fakeUsers{}
	tr := &fakeTransport{}
	rec := &recorder{}
	m := New(users, tr)

	m.AuthMiddleware(rec.handler)(context.Background(), nil, callbackUpdate(7, "menu:download"))

	require.Equal(t, 0, rec.calls)
	require.Empty(t, tr.texts)
	require.Equal(t, []string{"cb-1"}, tr.answerID)
	require.Equal(t, []bool{true}, tr.alerts)
}

func TestAuthMiddleware_StoreError(t *testing.T) {
	users := &fakeUsers{err: errors.New("conn refused")}
	tr := &fakeTransport{}
	rec := &recorder{}
	m := New(users, tr)

	m.AuthMiddleware(rec.handler)(context.Background(), nil, textUpdate(42, "hi"))

	require.Equal(t, 0, rec.calls)
	require.Equal(t, []string{messages.ErrorStorage()}, tr.texts)
}

func TestAuthMiddleware_IgnoresUpdatesWithoutSender(t *testing.T) {
	rec := &recorder{}
	m := New(&fakeUsers{}, &fakeTransport{})

	m.AuthMiddleware(rec.handler)(context.Background(), nil, &models.Update{})
	require.Equal(t, 0, rec.calls)
}

func TestAnalyzeMessageMiddleware(t *testing.T) {
	tests := []struct {
		name   string
		update *models.Update
		want   contextkeys.MessageType
	}{
		{"command", textUpdate(1, "/start"), contextkeys.MessageTypeCommand},
		{"text", textUpdate(1, "https://x.com/v"), contextkeys.MessageTypeText},
		{"button", callbackUpdate(1, "menu:help"), contextkeys.MessageTypeClickButton},
		{"video", &models.Update{Message: &models.Message{Video: &models.Video{}}}, contextkeys.MessageTypeMedia},
		{"empty", &models.Update{Message: &models.Message{}}, contextkeys.MessageTypeUnknown},
	}
	m := New(&fakeUsers{}, &fakeTransport{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			m.AnalyzeMessageMiddleware(rec.handler)(context.Background(), nil, tt.update)
			require.Equal(t, 1, rec.calls)
			got, ok := contextkeys.GetMessageType(rec.ctx)
			require.True(t, ok)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestAnalyzeMessageMiddleware_CallbackFields(t *testing.T) {
	rec := &recorder{}
	m := New(&fakeUsers{}, &fakeTransport{})

	m.AnalyzeMessageMiddleware(rec.handler)(context.Background(), nil, callbackUpdate(1, "quality:720"))

	data, _ := contextkeys.GetCallbackData(rec.ctx)
	id, _ := contextkeys.GetCallbackID(rec.ctx)
	require.Equal(t, "quality:720", data)
	require.Equal(t, "cb-1", id)
}

func TestSender(t *testing.T) {
	uid, cid := Sender(callbackUpdate(9, "x"))
	require.Equal(t, int64(9), uid)
	require.Equal(t, int64(9), cid)

	uid, cid = Sender(nil)
	require.Zero(t, uid)
	require.Zero(t, cid)
}
